package wsproxy

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	activeConnections = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "gateway",
			Subsystem: "wsproxy",
			Name:      "active_connections",
			Help:      "Live WebSocket connections.",
		},
	)

	upgradesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "gateway",
			Subsystem: "wsproxy",
			Name:      "upgrades_total",
			Help:      "Upgrade attempts by outcome.",
		},
		[]string{"result"},
	)

	evictedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "gateway",
			Subsystem: "wsproxy",
			Name:      "evicted_total",
			Help:      "Connections closed by the idle reaper.",
		},
	)

	messagesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "gateway",
			Subsystem: "wsproxy",
			Name:      "messages_total",
			Help:      "Messages relayed by direction.",
		},
		[]string{"direction"},
	)
)

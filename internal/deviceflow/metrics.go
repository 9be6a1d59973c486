package deviceflow

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	initiationsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "gateway",
			Subsystem: "deviceflow",
			Name:      "initiations_total",
			Help:      "Device authorization requests started.",
		},
	)

	pollsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "gateway",
			Subsystem: "deviceflow",
			Name:      "polls_total",
			Help:      "Token endpoint polls by outcome.",
		},
		[]string{"result"},
	)

	decisionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "gateway",
			Subsystem: "deviceflow",
			Name:      "decisions_total",
			Help:      "User decisions by kind.",
		},
		[]string{"decision"},
	)

	tokensIssuedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "gateway",
			Subsystem: "deviceflow",
			Name:      "tokens_issued_total",
			Help:      "Access tokens issued through the device grant.",
		},
	)
)

package ratelimit

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	decisionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "gateway",
			Subsystem: "ratelimit",
			Name:      "decisions_total",
			Help:      "Admission decisions by class and outcome.",
		},
		[]string{"class", "result"},
	)

	fallbackTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "gateway",
			Subsystem: "ratelimit",
			Name:      "fallback_total",
			Help:      "Decisions answered by the local fallback while the shared store was unavailable.",
		},
		[]string{"class"},
	)

	breakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "gateway",
			Subsystem: "ratelimit",
			Name:      "breaker_open",
			Help:      "1 while the store circuit breaker is open.",
		},
		[]string{"class"},
	)
)

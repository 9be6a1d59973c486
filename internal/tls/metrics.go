package tls

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	certificateExpirySeconds = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "gateway",
			Subsystem: "tls",
			Name:      "certificate_expiry_seconds",
			Help:      "Seconds until the active certificate expires.",
		},
		[]string{"source"},
	)

	certificateReloads = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "gateway",
			Subsystem: "tls",
			Name:      "certificate_reloads_total",
			Help:      "Certificate reload attempts by outcome.",
		},
		[]string{"source", "result"},
	)
)

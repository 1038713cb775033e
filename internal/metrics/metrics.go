package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	ReportsGenerated = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "reportbot_reports_generated_total",
			Help: "Total number of rendered report documents",
		},
	)

	// Deliveries is labelled by source: cache, generated or failed.
	Deliveries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "reportbot_deliveries_total",
			Help: "Total number of report delivery attempts",
		},
		[]string{"source"},
	)

	Payments = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "reportbot_payments_total",
			Help: "Observed payment statuses",
		},
		[]string{"status"},
	)

	GenerationSeconds = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "reportbot_generation_seconds",
			Help:    "Histogram of report generation times",
			Buckets: prometheus.DefBuckets,
		},
	)
)

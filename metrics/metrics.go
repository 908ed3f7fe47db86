// Package metrics exposes Prometheus counters for the batch lifecycle.
// Scraped from /metrics on the API server.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	BatchesCreated = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "payrun",
		Name:      "batches_created_total",
		Help:      "Batches created, by kind.",
	}, []string{"kind"})

	BatchesApproved = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "payrun",
		Name:      "batches_approved_total",
		Help:      "Batches approved (funding account debited).",
	})

	BatchesRejected = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "payrun",
		Name:      "batches_rejected_total",
		Help:      "Batches rejected, by cause (reviewer or insufficient_funds).",
	}, []string{"cause"})

	BatchesCompleted = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "payrun",
		Name:      "batches_completed_total",
		Help:      "Batches fully settled.",
	})

	LinesPaid = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "payrun",
		Name:      "lines_paid_total",
		Help:      "Batch lines settled with a payment record.",
	})

	ExecutionRuns = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "payrun",
		Name:      "execution_duration_seconds",
		Help:      "Wall time of Execute runs.",
		Buckets:   prometheus.DefBuckets,
	})
)

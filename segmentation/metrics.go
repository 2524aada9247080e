package segmentation

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	recomputationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "segment_recomputations_total",
			Help: "Total number of segment recomputations by outcome",
		},
		[]string{"status"},
	)

	recomputeDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "segment_recompute_duration_seconds",
			Help:    "Duration of segment recomputations in seconds",
			Buckets: []float64{0.05, 0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 300},
		},
	)

	evaluatorBatchesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "segment_evaluator_batches_total",
			Help: "Total number of evaluated candidate batches by filter group",
		},
		[]string{"priority"},
	)

	actionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "segment_actions_total",
			Help: "Total number of dispatched segment actions by type and outcome",
		},
		[]string{"type", "status"},
	)
)

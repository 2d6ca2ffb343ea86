// Package metrics provides Prometheus metrics for the matching service.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// MatchDecisionsTotal counts list item outcomes by resulting status and reason
	MatchDecisionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "fern",
			Subsystem: "decision",
			Name:      "items_total",
			Help:      "Total number of list items decided by resulting status",
		},
		[]string{"status", "reason"},
	)

	// FacilitiesCreatedTotal counts facilities created from unmatched list items
	FacilitiesCreatedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "fern",
			Subsystem: "decision",
			Name:      "facilities_created_total",
			Help:      "Total number of facilities created from unmatched list items",
		},
	)

	// ModelLoadsTotal counts gazetteer loads by trigger and result
	ModelLoadsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "fern",
			Subsystem: "gazetteer",
			Name:      "loads_total",
			Help:      "Total number of gazetteer model loads",
		},
		[]string{"trigger", "result"},
	)

	// ModelLoadDuration tracks how long loading and indexing a model takes
	ModelLoadDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "fern",
			Subsystem: "gazetteer",
			Name:      "load_duration_seconds",
			Help:      "Duration of gazetteer model loads in seconds",
			Buckets:   []float64{0.1, 0.5, 1, 5, 15, 30, 60, 120, 300, 600},
		},
	)

	// GazetteerOperationsTotal counts index, unindex and search calls by result
	GazetteerOperationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "fern",
			Subsystem: "gazetteer",
			Name:      "operations_total",
			Help:      "Total number of gazetteer operations",
		},
		[]string{"operation", "result"},
	)

	// SearchDuration tracks gazetteer search duration
	SearchDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "fern",
			Subsystem: "gazetteer",
			Name:      "search_duration_seconds",
			Help:      "Duration of gazetteer searches in seconds",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 2.5, 5, 10, 30},
		},
	)

	// StaleCandidatesTotal counts search candidates dropped because their facility no longer exists
	StaleCandidatesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "fern",
			Subsystem: "orchestrator",
			Name:      "stale_candidates_total",
			Help:      "Total number of candidates dropped because the facility no longer exists",
		},
	)

	// MatchOutcomesTotal counts orchestrator runs by search outcome
	MatchOutcomesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "fern",
			Subsystem: "orchestrator",
			Name:      "outcomes_total",
			Help:      "Total number of match runs by search outcome",
		},
		[]string{"outcome"},
	)

	ListJobsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "fern",
			Subsystem: "consumer",
			Name:      "list_jobs_total",
			Help:      "Total number of list jobs consumed by outcome",
		},
		[]string{"outcome"},
	)

	ListJobDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "fern",
			Subsystem: "consumer",
			Name:      "list_job_duration_seconds",
			Help:      "Time spent processing one list job",
			Buckets:   prometheus.ExponentialBuckets(0.05, 2, 12),
		},
	)
)

// Result converts an error into a metric label value.
func Result(err error) string {
	if err != nil {
		return "error"
	}
	return "success"
}

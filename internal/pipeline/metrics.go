package pipeline

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// UnitsProcessed counts units leaving a stage.
	// Labels: stage (embed, assemble), result (ok, placeholder, error)
	UnitsProcessed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "ragdoc",
			Subsystem: "pipeline",
			Name:      "units_processed_total",
			Help:      "Total number of units processed by stage and result",
		},
		[]string{"stage", "result"},
	)

	// PlaceholderFragments counts placeholder fragments by reason.
	PlaceholderFragments = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "ragdoc",
			Subsystem: "pipeline",
			Name:      "placeholder_fragments_total",
			Help:      "Total number of placeholder fragments recorded",
		},
		[]string{"reason"},
	)

	// JobsTotal counts finished jobs.
	// Labels: status (completed, failed), reason (empty on success)
	JobsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "ragdoc",
			Subsystem: "pipeline",
			Name:      "jobs_total",
			Help:      "Total number of finished jobs by status",
		},
		[]string{"status", "reason"},
	)

	// JobsInProgress is the number of jobs currently running.
	JobsInProgress = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "ragdoc",
			Subsystem: "pipeline",
			Name:      "jobs_in_progress",
			Help:      "Number of jobs currently being processed",
		},
	)

	// StageDuration tracks how long each stage takes.
	StageDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "ragdoc",
			Subsystem: "pipeline",
			Name:      "stage_duration_seconds",
			Help:      "Duration of pipeline stages in seconds",
			Buckets:   prometheus.ExponentialBuckets(0.01, 4, 8),
		},
		[]string{"stage"},
	)
)

package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// JobRuns tracks every batch job execution by outcome
	// Labels: job (aging, scoring, generation, monitor), status (success/error/skipped)
	JobRuns = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "dialler_job_runs_total",
		Help: "Total number of batch job executions",
	}, []string{"job", "status"})

	// JobDuration measures how long each batch job takes
	JobDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "dialler_job_duration_seconds",
		Help:    "Duration of batch job executions in seconds",
		Buckets: []float64{0.1, 0.5, 1, 5, 15, 30, 60, 120, 300},
	}, []string{"job"})

	// UsersAged counts score increments applied by the daily aging run
	UsersAged = promauto.NewCounter(prometheus.CounterOpts{
		Name: "dialler_users_aged_total",
		Help: "Total number of score records incremented by aging",
	})

	// ScoreConversions counts records that crossed the frozen threshold
	ScoreConversions = promauto.NewCounter(prometheus.CounterOpts{
		Name: "dialler_score_conversions_total",
		Help: "Total number of score records that reached the frozen threshold",
	})

	// LeadsDiscovered tracks candidates seen by lead scoring
	// kind: new (score record created) or existing (already scored)
	LeadsDiscovered = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "dialler_leads_discovered_total",
		Help: "Candidates returned by the eligibility predicates",
	}, []string{"queue_type", "kind"})

	// ScoringBatchErrors counts replica/store pages that failed and were skipped
	ScoringBatchErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "dialler_scoring_batch_errors_total",
		Help: "Lead scoring batches skipped because of a data source error",
	}, []string{"queue_type"})

	// SnapshotSize is the number of rows inserted by the last generation per queue type
	SnapshotSize = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "dialler_snapshot_size",
		Help: "Rows inserted by the most recent queue generation",
	}, []string{"queue_type"})

	// SnapshotInsertErrors counts snapshot rows that could not be inserted
	SnapshotInsertErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "dialler_snapshot_insert_errors_total",
		Help: "Snapshot rows skipped during generation because the insert failed",
	}, []string{"queue_type"})

	// Regenerations counts out-of-cycle regenerations triggered by the level monitor
	// result: triggered, throttled, failed
	Regenerations = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "dialler_monitor_regenerations_total",
		Help: "Level monitor regeneration decisions",
	}, []string{"queue_type", "result"})
)

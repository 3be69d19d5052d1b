package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// DequeueDuration tracks the end-to-end latency of one GetNextValidUser call,
	// including every replica revalidation round-trip
	DequeueDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "dialler_dequeue_duration_seconds",
		Help:    "Time taken to hand an agent the next valid user",
		Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2, 5},
	}, []string{"queue_type", "outcome"}) // outcome: callback, assigned, preview, exhausted, error

	// Rejections counts candidates discarded by revalidation
	Rejections = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "dialler_revalidation_rejections_total",
		Help: "Snapshot entries discarded because the user no longer met the queue predicate",
	}, []string{"queue_type"})

	// AssignmentConflicts counts conditional assignment updates that lost a race
	AssignmentConflicts = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "dialler_assignment_conflicts_total",
		Help: "Assignments retried because another agent took the entry first",
	}, []string{"queue_type"})

	// QueueDepth is the number of pending rows in each snapshot table
	QueueDepth = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "dialler_queue_depth",
		Help: "Pending entries per snapshot table",
	}, []string{"queue_type"})

	// HealthStatus provides a binary 0/1 signal for the broker link
	HealthStatus = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "dialler_broker_healthy",
		Help: "Current health status of the RabbitMQ link (1 for healthy, 0 for unhealthy)",
	})

	// EventsPublished tracks queue events sent to the broker
	EventsPublished = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "dialler_events_published_total",
		Help: "Queue events published to RabbitMQ",
	}, []string{"kind", "status"})
)

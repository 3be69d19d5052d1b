package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/Guizzs26/go-lead-dialler/internal/models"
	"github.com/Guizzs26/go-lead-dialler/pkg/metrics"
)

const (
	DefaultLowWaterMark     = 20
	DefaultMinRegenInterval = 15 * time.Minute
)

// StatsReader exposes the snapshot depth of one queue type
type StatsReader interface {
	QueueType() models.QueueType
	Stats(ctx context.Context) (models.QueueStats, error)
}

// Regenerator rebuilds the snapshot of one queue type
type Regenerator interface {
	QueueType() models.QueueType
	PopulateQueue(ctx context.Context) (PopulateResult, error)
}

type MonitorConfig struct {
	LowWaterMark int
	MinInterval  time.Duration
}

// Monitor actions reported per queue type
const (
	ActionOK          = "ok"
	ActionRegenerated = "regenerated"
	ActionThrottled   = "throttled"
	ActionFailed      = "failed"
)

type QueueCheck struct {
	QueueType models.QueueType `json:"queue_type"`
	Pending   int              `json:"pending"`
	Action    string           `json:"action"`
	Populated int              `json:"populated,omitempty"`
	Error     string           `json:"error,omitempty"`
}

type MonitorReport struct {
	CheckedAt time.Time    `json:"checked_at"`
	Queues    []QueueCheck `json:"queues"`
}

// Regenerated returns the queue types rebuilt by this check
func (r MonitorReport) Regenerated() []models.QueueType {
	var out []models.QueueType
	for _, q := range r.Queues {
		if q.Action == ActionRegenerated {
			out = append(out, q.QueueType)
		}
	}
	return out
}

type monitoredQueue struct {
	stats StatsReader
	gen   Regenerator
}

// LevelMonitor regenerates a snapshot out of cycle when it drains below the low-water mark.
// Last regeneration times live in memory; a restart costs at most one extra rebuild
type LevelMonitor struct {
	queues map[models.QueueType]monitoredQueue
	cfg    MonitorConfig
	logger *slog.Logger
	now    Clock

	mu        sync.Mutex
	lastRegen map[models.QueueType]time.Time
}

// NewLevelMonitor pairs every generator with the stats reader of the same queue type.
// A generator without a matching reader is an error
func NewLevelMonitor(readers []StatsReader, gens []Regenerator, cfg MonitorConfig, logger *slog.Logger) (*LevelMonitor, error) {
	if cfg.LowWaterMark < 0 {
		cfg.LowWaterMark = DefaultLowWaterMark
	}
	if cfg.MinInterval <= 0 {
		cfg.MinInterval = DefaultMinRegenInterval
	}

	byType := make(map[models.QueueType]StatsReader, len(readers))
	for _, r := range readers {
		byType[r.QueueType()] = r
	}

	queues := make(map[models.QueueType]monitoredQueue, len(gens))
	for _, g := range gens {
		r, ok := byType[g.QueueType()]
		if !ok {
			return nil, fmt.Errorf("no stats reader for queue type %s", g.QueueType())
		}
		queues[g.QueueType()] = monitoredQueue{stats: r, gen: g}
	}

	return &LevelMonitor{
		queues:    queues,
		cfg:       cfg,
		logger:    logger.With("job", "monitor"),
		now:       defaultClock,
		lastRegen: make(map[models.QueueType]time.Time),
	}, nil
}

func (m *LevelMonitor) WithClock(c Clock) *LevelMonitor {
	m.now = c
	return m
}

// CheckAndRegenerateQueues inspects every queue type in routing order.
// Queue types are independent: one failing does not stop the others, and the
// returned error joins every failure
func (m *LevelMonitor) CheckAndRegenerateQueues(ctx context.Context) (MonitorReport, error) {
	report := MonitorReport{CheckedAt: m.now()}
	var errs []error

	for _, q := range models.RoutingOrder {
		mq, ok := m.queues[q]
		if !ok {
			continue
		}
		check, err := m.checkQueue(ctx, mq)
		report.Queues = append(report.Queues, check)
		if err != nil {
			errs = append(errs, err)
		}
	}

	status := "success"
	if len(errs) > 0 {
		status = "error"
	}
	metrics.JobRuns.WithLabelValues("monitor", status).Inc()

	return report, errors.Join(errs...)
}

func (m *LevelMonitor) checkQueue(ctx context.Context, mq monitoredQueue) (QueueCheck, error) {
	q := mq.gen.QueueType()
	check := QueueCheck{QueueType: q, Action: ActionOK}
	l := m.logger.With("queue_type", q)

	stats, err := mq.stats.Stats(ctx)
	if err != nil {
		check.Action = ActionFailed
		check.Error = err.Error()
		l.Error("Could not read queue depth", "error", err)
		return check, fmt.Errorf("%s depth: %w", q, err)
	}
	check.Pending = stats.Pending

	if stats.Pending >= m.cfg.LowWaterMark {
		l.Debug("Queue level healthy", "pending", stats.Pending, "low_water_mark", m.cfg.LowWaterMark)
		return check, nil
	}

	if !m.claim(q) {
		check.Action = ActionThrottled
		metrics.Regenerations.WithLabelValues(string(q), "throttled").Inc()
		l.Info("Queue below low-water mark but regenerated recently",
			"pending", stats.Pending,
			"min_interval", m.cfg.MinInterval,
		)
		return check, nil
	}

	l.Info("Queue below low-water mark, regenerating",
		"pending", stats.Pending,
		"low_water_mark", m.cfg.LowWaterMark,
	)

	res, err := mq.gen.PopulateQueue(ctx)
	if err != nil {
		check.Action = ActionFailed
		check.Error = err.Error()
		metrics.Regenerations.WithLabelValues(string(q), "failed").Inc()
		l.Error("Out-of-cycle regeneration failed", "error", err)
		return check, fmt.Errorf("%s regeneration: %w", q, err)
	}

	check.Action = ActionRegenerated
	check.Populated = res.QueuePopulated
	metrics.Regenerations.WithLabelValues(string(q), "triggered").Inc()
	return check, nil
}

// claim records a regeneration for q unless one happened within the minimum interval.
// A failed attempt still counts, so a broken generator is not hammered every check
func (m *LevelMonitor) claim(q models.QueueType) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	if last, ok := m.lastRegen[q]; ok && now.Sub(last) < m.cfg.MinInterval {
		return false
	}
	m.lastRegen[q] = now
	return true
}

// HandleRegenerate serves regeneration commands from the broker under the same throttle
// as the periodic check. Throttled commands are dropped
func (m *LevelMonitor) HandleRegenerate(ctx context.Context, cmd models.RegenerateCommand) error {
	mq, ok := m.queues[cmd.QueueType]
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownQueueType, cmd.QueueType)
	}
	l := m.logger.With("queue_type", cmd.QueueType, "requested_by", cmd.RequestedBy)

	if !m.claim(cmd.QueueType) {
		metrics.Regenerations.WithLabelValues(string(cmd.QueueType), "throttled").Inc()
		l.Info("Regeneration command throttled")
		return nil
	}

	res, err := mq.gen.PopulateQueue(ctx)
	if err != nil {
		metrics.Regenerations.WithLabelValues(string(cmd.QueueType), "failed").Inc()
		return err
	}
	metrics.Regenerations.WithLabelValues(string(cmd.QueueType), "triggered").Inc()
	l.Info("Regenerated on command", "populated", res.QueuePopulated)
	return nil
}

package service

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/Guizzs26/go-lead-dialler/internal/models"
	"github.com/Guizzs26/go-lead-dialler/pkg/metrics"
)

const DefaultCoolingPeriod = 2 * time.Hour

// SelectionStore reads the score store and rewrites one snapshot table
type SelectionStore interface {
	ListQueueCandidates(ctx context.Context, f models.SelectionFilter) (models.Selection, error)
	ClearSnapshot(ctx context.Context, q models.QueueType) (int64, error)
	InsertSnapshotEntry(ctx context.Context, e models.QueueEntry) (int64, error)
}

// DetailSource provides the queue-type specific columns of a snapshot row
type DetailSource interface {
	CandidateDetails(ctx context.Context, q models.QueueType, userIDs []int64) (map[int64]models.ScoredCandidate, error)
}

type GeneratorConfig struct {
	WindowSize    int
	CoolingPeriod time.Duration
}

type PopulateResult struct {
	QueueType      models.QueueType `json:"queue_type"`
	TotalEligible  int              `json:"total_eligible"`
	QueuePopulated int              `json:"queue_populated"`
	Removed        int64            `json:"removed"`
	Errors         int              `json:"errors"`
	Duration       time.Duration    `json:"duration"`
}

// QueueGenerator materializes the ranked snapshot of one queue type
type QueueGenerator struct {
	queueType models.QueueType
	store     SelectionStore
	details   DetailSource
	events    EventPublisher
	cfg       GeneratorConfig
	logger    *slog.Logger
	now       Clock

	mu sync.Mutex
}

// NewQueueGenerator builds the generator of queueType. details and events may be nil
func NewQueueGenerator(queueType models.QueueType, store SelectionStore, details DetailSource, events EventPublisher, cfg GeneratorConfig, logger *slog.Logger) *QueueGenerator {
	if cfg.WindowSize <= 0 {
		cfg.WindowSize = 100
	}
	if cfg.CoolingPeriod < 0 {
		cfg.CoolingPeriod = 0
	}
	return &QueueGenerator{
		queueType: queueType,
		store:     store,
		details:   details,
		events:    events,
		cfg:       cfg,
		logger:    logger.With("job", "generation", "queue_type", queueType),
		now:       defaultClock,
	}
}

func (g *QueueGenerator) WithClock(c Clock) *QueueGenerator {
	g.now = c
	return g
}

func (g *QueueGenerator) QueueType() models.QueueType { return g.queueType }

// PopulateQueue replaces the snapshot table with the current best window of score records.
// Rows that fail to insert are counted and skipped; the next run corrects them
func (g *QueueGenerator) PopulateQueue(ctx context.Context) (PopulateResult, error) {
	// The hourly trigger and the level monitor may overlap; one rebuild at a time
	g.mu.Lock()
	defer g.mu.Unlock()

	start := g.now()
	result := PopulateResult{QueueType: g.queueType}

	defer func() {
		result.Duration = g.now().Sub(start)
		metrics.JobDuration.WithLabelValues("generation").Observe(result.Duration.Seconds())
	}()

	filter := models.SelectionFilter{
		QueueType:     g.queueType,
		Now:           start,
		CoolingCutoff: start.Add(-g.cfg.CoolingPeriod),
		Limit:         g.cfg.WindowSize,
	}

	sel, err := g.store.ListQueueCandidates(ctx, filter)
	if err != nil {
		metrics.JobRuns.WithLabelValues("generation", "error").Inc()
		return result, fmt.Errorf("failed to select %s candidates: %w", g.queueType, err)
	}

	// The store's count covers records beyond the window; RankWindow only sees the rows it was given
	window, ranked := RankWindow(sel.Records, filter, g.cfg.CoolingPeriod)
	result.TotalEligible = max(sel.Eligible, ranked)

	entries := g.buildEntries(ctx, window, start)

	removed, err := g.store.ClearSnapshot(ctx, g.queueType)
	if err != nil {
		metrics.JobRuns.WithLabelValues("generation", "error").Inc()
		return result, fmt.Errorf("failed to clear %s snapshot: %w", g.queueType, err)
	}
	result.Removed = removed

	for _, e := range entries {
		if _, err := g.store.InsertSnapshotEntry(ctx, e); err != nil {
			result.Errors++
			metrics.SnapshotInsertErrors.WithLabelValues(string(g.queueType)).Inc()
			g.logger.Error("Snapshot row insert failed, skipping",
				"user_id", e.UserID,
				"position", e.QueuePosition,
				"error", err,
			)
			continue
		}
		result.QueuePopulated++
	}

	metrics.SnapshotSize.WithLabelValues(string(g.queueType)).Set(float64(result.QueuePopulated))
	metrics.JobRuns.WithLabelValues("generation", "success").Inc()

	g.logger.Info("Queue snapshot regenerated",
		"eligible", result.TotalEligible,
		"populated", result.QueuePopulated,
		"removed", result.Removed,
		"errors", result.Errors,
		"duration_ms", g.now().Sub(start).Milliseconds(),
	)

	announce(ctx, g.events, g.logger, models.QueueEvent{
		Kind:      models.EventQueueRegenerated,
		QueueType: g.queueType,
		Timestamp: start,
		Data: map[string]any{
			"populated": result.QueuePopulated,
			"removed":   result.Removed,
			"errors":    result.Errors,
		},
	})

	return result, nil
}

// buildEntries ranks the window into pending rows and fills the queue-type specific
// columns from the replica. Enrichment is best effort; dequeue revalidates anyway
func (g *QueueGenerator) buildEntries(ctx context.Context, window []models.ScoreRecord, now time.Time) []models.QueueEntry {
	entries := make([]models.QueueEntry, len(window))
	ids := make([]int64, len(window))

	for i, rec := range window {
		availableFrom := now
		if rec.NextCallAfter != nil && rec.NextCallAfter.After(now) {
			availableFrom = *rec.NextCallAfter
		}
		entries[i] = models.QueueEntry{
			QueueType:     g.queueType,
			UserID:        rec.UserID,
			PriorityScore: rec.CurrentScore,
			QueuePosition: i + 1,
			Status:        models.StatusPending,
			QueueReason:   models.ScoreReason(rec.CurrentScore),
			AvailableFrom: availableFrom,
			CreatedAt:     now,
			Source:        models.SourceSnapshot,
		}
		ids[i] = rec.UserID
	}

	if g.details == nil || len(ids) == 0 {
		return entries
	}

	details, err := g.details.CandidateDetails(ctx, g.queueType, ids)
	if err != nil {
		g.logger.Warn("Replica enrichment failed, snapshot rows keep empty detail columns", "error", err)
		return entries
	}
	for i := range entries {
		if c, ok := details[entries[i].UserID]; ok {
			c.Decorate(&entries[i])
		}
	}
	return entries
}

// RankWindow applies the selection rules to score records: matching queue type, active,
// cooldown elapsed and cooling period served (score 0 exempt), ordered by score ascending
// then newest first, truncated to the window. It returns the window and the eligible count
func RankWindow(records []models.ScoreRecord, f models.SelectionFilter, coolingPeriod time.Duration) ([]models.ScoreRecord, int) {
	eligible := make([]models.ScoreRecord, 0, len(records))
	for _, r := range records {
		if r.CurrentQueueType == nil || *r.CurrentQueueType != f.QueueType {
			continue
		}
		if !r.IsActive || !r.Callable(f.Now) || !r.Cooled(f.Now, coolingPeriod) {
			continue
		}
		eligible = append(eligible, r)
	}

	sort.SliceStable(eligible, func(i, j int) bool {
		a, b := eligible[i], eligible[j]
		if a.CurrentScore != b.CurrentScore {
			return a.CurrentScore < b.CurrentScore
		}
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.After(b.CreatedAt)
		}
		return a.UserID < b.UserID
	})

	total := len(eligible)
	if f.Limit > 0 && len(eligible) > f.Limit {
		eligible = eligible[:f.Limit]
	}
	return eligible, total
}

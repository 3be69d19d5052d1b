package service

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/Guizzs26/go-lead-dialler/internal/models"
	"github.com/Guizzs26/go-lead-dialler/pkg/metrics"
	"github.com/google/uuid"
)

const DefaultScoringBatchSize = 50

// CandidateSource pages through the eligibility predicate of a queue type on the replica
type CandidateSource interface {
	ListCandidates(ctx context.Context, q models.QueueType, afterUserID int64, limit int) ([]models.ScoredCandidate, error)
}

// LeadStore persists discovered candidates into the score store
type LeadStore interface {
	UpsertLeads(ctx context.Context, leads []models.LeadUpsert, now time.Time) (models.UpsertOutcome, error)
}

type ScoringConfig struct {
	BatchSize int
	Budget    time.Duration
}

type QueueScoring struct {
	Eligible int   `json:"eligible"`
	New      int   `json:"new"`
	Existing int   `json:"existing"`
	Errors   int   `json:"errors"`
	Resumed  int64 `json:"resumed_after_user_id,omitempty"`
	Finished bool  `json:"finished"`
}

type ScoringReport struct {
	RunID              string                            `json:"run_id"`
	TotalEligible      int                               `json:"total_eligible"`
	TotalNewLeads      int                               `json:"total_new_leads"`
	TotalExistingLeads int                               `json:"total_existing_leads"`
	Errors             int                               `json:"errors"`
	TimeoutHit         bool                              `json:"timeout_hit"`
	Queues             map[models.QueueType]*QueueScoring `json:"queues"`
	Duration           time.Duration                     `json:"duration"`
}

// ScoringService discovers eligible users on the replica and seeds their score records
type ScoringService struct {
	source CandidateSource
	store  LeadStore
	cfg    ScoringConfig
	logger *slog.Logger
	now    Clock

	mu      sync.Mutex
	cursors map[models.QueueType]int64
	// first is the RoutingOrder index the next run starts at. A run cut short by the budget
	// hands the start to the queue type it never reached
	first int
}

func NewScoringService(source CandidateSource, store LeadStore, cfg ScoringConfig, logger *slog.Logger) *ScoringService {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultScoringBatchSize
	}
	return &ScoringService{
		source:  source,
		store:   store,
		cfg:     cfg,
		logger:  logger.With("job", "lead_scoring"),
		now:     defaultClock,
		cursors: make(map[models.QueueType]int64),
	}
}

func (s *ScoringService) WithClock(c Clock) *ScoringService {
	s.now = c
	return s
}

// RunLeadScoring walks both eligibility predicates in batches. New users get a score-0 record,
// known users only get their updated_at touched. When the wall-clock budget runs out the
// position is remembered and the next run resumes from it
func (s *ScoringService) RunLeadScoring(ctx context.Context) (ScoringReport, error) {
	if !s.mu.TryLock() {
		return ScoringReport{}, ErrAlreadyRunning
	}
	defer s.mu.Unlock()

	start := s.now()
	report := ScoringReport{
		RunID:  uuid.NewString(),
		Queues: make(map[models.QueueType]*QueueScoring, len(models.RoutingOrder)),
	}
	l := s.logger.With("run_id", report.RunID)

	var prog progress

	defer func() {
		report.Duration = s.now().Sub(start)
		metrics.JobDuration.WithLabelValues("scoring").Observe(report.Duration.Seconds())
		l.Info("Lead scoring cycle telemetry",
			"eligible", report.TotalEligible,
			"new", report.TotalNewLeads,
			"existing", report.TotalExistingLeads,
			"errors", report.Errors,
			"timeout_hit", report.TimeoutHit,
			"duration_ms", report.Duration.Milliseconds(),
		)
	}()

	order := len(models.RoutingOrder)
	first := s.first % order
	s.first = 0

queues:
	for n := range order {
		idx := (first + n) % order
		q := models.RoutingOrder[idx]
		stats := &QueueScoring{Resumed: s.cursors[q]}
		report.Queues[q] = stats
		ql := l.With("queue_type", q)

		for {
			if s.cfg.Budget > 0 && s.now().Sub(start) >= s.cfg.Budget {
				report.TimeoutHit = true
				s.first = idx + 1
				ql.Warn("Lead scoring budget exhausted, remaining backlog deferred to next run",
					"resume_after_user_id", s.cursors[q],
					"next_run_starts_with", models.RoutingOrder[s.first%order])
				break queues
			}
			if err := ctx.Err(); err != nil {
				report.TimeoutHit = true
				metrics.JobRuns.WithLabelValues("scoring", "error").Inc()
				return report, err
			}

			page, err := s.source.ListCandidates(ctx, q, s.cursors[q], s.cfg.BatchSize)
			if err != nil {
				// The page position is unknown, so the rest of this queue type waits for the next run
				prog.lastErr = err
				stats.Errors++
				report.Errors++
				metrics.ScoringBatchErrors.WithLabelValues(string(q)).Inc()
				ql.Error("Replica batch failed, skipping queue type for this run", "after_user_id", s.cursors[q], "error", err)
				continue queues
			}

			prog.sourceOK = true

			if len(page) > 0 {
				s.applyPage(ctx, q, page, stats, &report, ql, &prog)
				s.cursors[q] = page[len(page)-1].Base().UserID
			}

			if len(page) < s.cfg.BatchSize {
				stats.Finished = true
				s.cursors[q] = 0
				break
			}
		}
	}

	if prog.fatal() {
		metrics.JobRuns.WithLabelValues("scoring", "error").Inc()
		return report, fmt.Errorf("lead scoring made no progress: %w", prog.lastErr)
	}

	metrics.JobRuns.WithLabelValues("scoring", "success").Inc()
	return report, nil
}

func (s *ScoringService) applyPage(
	ctx context.Context,
	q models.QueueType,
	page []models.ScoredCandidate,
	stats *QueueScoring,
	report *ScoringReport,
	l *slog.Logger,
	prog *progress,
) {
	leads := make([]models.LeadUpsert, 0, len(page))
	seen := make(map[int64]struct{}, len(page))
	for _, c := range page {
		id := c.Base().UserID
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		leads = append(leads, models.LeadUpsert{UserID: id, QueueType: c.QueueType()})
	}

	stats.Eligible += len(leads)
	report.TotalEligible += len(leads)

	prog.storeTried = true
	outcome, err := s.store.UpsertLeads(ctx, leads, s.now())
	if err != nil {
		prog.lastErr = err
		stats.Errors++
		report.Errors++
		metrics.ScoringBatchErrors.WithLabelValues(string(q)).Inc()
		l.Error("Score store batch failed, skipping page",
			"first_user_id", leads[0].UserID,
			"count", len(leads),
			"error", err,
		)
		return
	}

	prog.storeOK = true
	stats.New += outcome.Inserted
	stats.Existing += outcome.Existing
	report.TotalNewLeads += outcome.Inserted
	report.TotalExistingLeads += outcome.Existing

	metrics.LeadsDiscovered.WithLabelValues(string(q), "new").Add(float64(outcome.Inserted))
	metrics.LeadsDiscovered.WithLabelValues(string(q), "existing").Add(float64(outcome.Existing))
}

// progress tells a data source that is down from one that failed a few batches.
// Only the former is reported as a failed run
type progress struct {
	sourceOK   bool
	storeOK    bool
	storeTried bool
	lastErr    error
}

func (p progress) fatal() bool {
	if p.lastErr == nil {
		return false
	}
	return !p.sourceOK || (p.storeTried && !p.storeOK)
}

package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/Guizzs26/go-lead-dialler/internal/models"
	"github.com/Guizzs26/go-lead-dialler/pkg/infra"
	"github.com/Guizzs26/go-lead-dialler/pkg/metrics"
)

const DefaultMaxAttempts = 10

// DequeueStore is everything the agent-facing path reads and writes in Postgres
type DequeueStore interface {
	NextDueCallback(ctx context.Context, now time.Time, agentID string) (*models.Callback, error)
	ConsumeCallback(ctx context.Context, id int64, now time.Time) (bool, error)
	NextPendingEntry(ctx context.Context, q models.QueueType) (*models.QueueEntry, error)
	AssignEntry(ctx context.Context, q models.QueueType, entryID int64, agentID string, at time.Time) (bool, error)
	MarkEntryInactive(ctx context.Context, q models.QueueType, entryID int64, now time.Time) error
	FinishEntry(ctx context.Context, q models.QueueType, entryID int64, status models.EntryStatus, now time.Time) (int64, bool, error)
	SnapshotStats(ctx context.Context, q models.QueueType) (models.QueueStats, error)
	DeactivateUser(ctx context.Context, userID int64, reason string, now time.Time) error
	SetCooldown(ctx context.Context, userID int64, until time.Time, outcome string, now time.Time) error
}

// Validator re-evaluates a queue predicate against the replica at hand-off time
type Validator interface {
	LookupCandidate(ctx context.Context, q models.QueueType, userID int64) (models.ScoredCandidate, error)
	UserState(ctx context.Context, userID int64) (models.UserState, error)
}

type DequeueConfig struct {
	MaxAttempts      int
	RetryBackoff     time.Duration
	SkipCooldown     time.Duration
	CompleteCooldown time.Duration
}

// DequeueService hands agents the next valid entry of one queue type.
//
// Each attempt walks CHECK_CALLBACK -> CHECK_SNAPSHOT -> VALIDATE and ends in ASSIGN
// (returned), REJECT_AND_RETRY (next attempt) or EXHAUSTED (nil). Rejected entries are
// retired on the spot, so stale snapshot rows heal lazily without a sweep job
type DequeueService struct {
	queueType models.QueueType
	store     DequeueStore
	validator Validator
	events    EventPublisher
	cfg       DequeueConfig
	logger    *slog.Logger
	now       Clock
	sleep     func(ctx context.Context, d time.Duration)
}

func NewDequeueService(queueType models.QueueType, store DequeueStore, validator Validator, events EventPublisher, cfg DequeueConfig, logger *slog.Logger) *DequeueService {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = DefaultMaxAttempts
	}
	return &DequeueService{
		queueType: queueType,
		store:     store,
		validator: validator,
		events:    events,
		cfg:       cfg,
		logger:    logger.With("component", "dequeue", "queue_type", queueType),
		now:       defaultClock,
		sleep:     sleepCtx,
	}
}

func (s *DequeueService) WithClock(c Clock) *DequeueService {
	s.now = c
	return s
}

func (s *DequeueService) QueueType() models.QueueType { return s.queueType }

// GetNextValidUser returns the next entry for agentID, or nil when nothing valid is available.
// An empty agentID previews the head of the queue without assigning or consuming anything.
// Errors are reserved for infrastructure failures
func (s *DequeueService) GetNextValidUser(ctx context.Context, agentID string) (entry *models.QueueEntry, err error) {
	start := time.Now()
	outcome := "exhausted"
	defer func() {
		if err != nil {
			outcome = "error"
		}
		metrics.DequeueDuration.WithLabelValues(string(s.queueType), outcome).Observe(time.Since(start).Seconds())
	}()

	l := s.logger.With("agent_id", agentID)
	backoff := infra.NewFixedBackoff(s.cfg.RetryBackoff)

	for attempt := 1; attempt <= s.cfg.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		now := s.now()

		// CHECK_CALLBACK
		cb, err := s.store.NextDueCallback(ctx, now, agentID)
		if err != nil {
			return nil, fmt.Errorf("callback lookup failed: %w", err)
		}
		if cb != nil {
			e, taken, err := s.serveCallback(ctx, *cb, agentID, now)
			if err != nil {
				return nil, err
			}
			if !taken {
				continue
			}
			outcome = "callback"
			l.Info("Serving due callback", "user_id", e.UserID, "callback_id", cb.ID, "attempt", attempt)
			return e, nil
		}

		// CHECK_SNAPSHOT
		candidate, err := s.store.NextPendingEntry(ctx, s.queueType)
		if err != nil {
			return nil, fmt.Errorf("snapshot fetch failed: %w", err)
		}
		if candidate == nil {
			l.Debug("Snapshot drained", "attempt", attempt)
			return nil, nil
		}

		// VALIDATE
		fresh, err := s.validator.LookupCandidate(ctx, s.queueType, candidate.UserID)
		if err != nil {
			return nil, fmt.Errorf("revalidation of user %d failed: %w", candidate.UserID, err)
		}
		if fresh == nil {
			if err := s.reject(ctx, candidate, now); err != nil {
				return nil, err
			}
			if wait := backoff.Next(); wait > 0 {
				s.sleep(ctx, wait)
			}
			continue
		}
		fresh.Decorate(candidate)
		// The claim the replica just matched wins over the one cached at generation time
		if claim := fresh.Base().ClaimID; claim != nil {
			candidate.ClaimID = claim
		}

		if agentID == "" {
			outcome = "preview"
			return candidate, nil
		}

		// ASSIGN
		ok, err := s.store.AssignEntry(ctx, s.queueType, candidate.ID, agentID, now)
		if err != nil {
			return nil, err
		}
		if !ok {
			metrics.AssignmentConflicts.WithLabelValues(string(s.queueType)).Inc()
			l.Debug("Entry taken by another agent, retrying", "entry_id", candidate.ID)
			continue
		}

		candidate.Status = models.StatusAssigned
		candidate.AssignedToAgent = &agentID
		candidate.AssignedAt = &now
		outcome = "assigned"

		l.Info("Entry assigned",
			"entry_id", candidate.ID,
			"user_id", candidate.UserID,
			"position", candidate.QueuePosition,
			"attempt", attempt,
		)
		announce(ctx, s.events, s.logger, models.QueueEvent{
			Kind:      models.EventLeadAssigned,
			QueueType: s.queueType,
			UserID:    candidate.UserID,
			ClaimID:   candidate.ClaimID,
			AgentID:   agentID,
			Reason:    candidate.QueueReason,
			Timestamp: now,
		})
		return candidate, nil
	}

	l.Warn("Dequeue retry cap reached without a valid user", "max_attempts", s.cfg.MaxAttempts)
	return nil, nil
}

// serveCallback turns a due callback into the synthesized entry. Callbacks skip revalidation.
// taken is false when another agent consumed the callback first
func (s *DequeueService) serveCallback(ctx context.Context, cb models.Callback, agentID string, now time.Time) (*models.QueueEntry, bool, error) {
	e := cb.AsEntry(s.queueType)
	if agentID == "" {
		return &e, true, nil
	}

	ok, err := s.store.ConsumeCallback(ctx, cb.ID, now)
	if err != nil {
		return nil, false, err
	}
	if !ok {
		metrics.AssignmentConflicts.WithLabelValues(string(s.queueType)).Inc()
		return nil, false, nil
	}

	e.AssignedToAgent = &agentID
	e.AssignedAt = &now

	announce(ctx, s.events, s.logger, models.QueueEvent{
		Kind:      models.EventLeadAssigned,
		QueueType: s.queueType,
		UserID:    cb.UserID,
		AgentID:   agentID,
		Reason:    e.QueueReason,
		Timestamp: now,
		Data:      map[string]any{"callback_id": cb.ID, "original_call_session_id": cb.OriginalCallSessionID},
	})
	return &e, true, nil
}

// reject retires an entry whose user no longer satisfies the predicate.
// Only a failure to retire the snapshot row is returned; it would otherwise be fetched again
func (s *DequeueService) reject(ctx context.Context, e *models.QueueEntry, now time.Time) error {
	reason := "no longer eligible for " + string(s.queueType)
	if state, err := s.validator.UserState(ctx, e.UserID); err != nil {
		s.logger.Warn("Could not explain rejection", "user_id", e.UserID, "error", err)
	} else {
		reason = state.IneligibilityReason(s.queueType)
	}

	if err := s.store.MarkEntryInactive(ctx, s.queueType, e.ID, now); err != nil {
		return err
	}
	if err := s.store.DeactivateUser(ctx, e.UserID, reason, now); err != nil {
		s.logger.Warn("Score record not deactivated", "user_id", e.UserID, "error", err)
	}

	metrics.Rejections.WithLabelValues(string(s.queueType)).Inc()
	s.logger.Info("Stale entry rejected", "entry_id", e.ID, "user_id", e.UserID, "reason", reason)

	announce(ctx, s.events, s.logger, models.QueueEvent{
		Kind:      models.EventLeadDeactivated,
		QueueType: s.queueType,
		UserID:    e.UserID,
		ClaimID:   e.ClaimID,
		Reason:    reason,
		Timestamp: now,
	})
	return nil
}

// MarkUserSkipped closes an assigned entry as skipped and cools the user down
func (s *DequeueService) MarkUserSkipped(ctx context.Context, entryID int64) error {
	return s.finish(ctx, entryID, models.StatusSkipped, s.cfg.SkipCooldown, "skipped by agent")
}

// MarkUserCompleted closes an assigned entry as completed and cools the user down
func (s *DequeueService) MarkUserCompleted(ctx context.Context, entryID int64) error {
	return s.finish(ctx, entryID, models.StatusCompleted, s.cfg.CompleteCooldown, "call completed")
}

func (s *DequeueService) finish(ctx context.Context, entryID int64, status models.EntryStatus, cooldown time.Duration, outcome string) error {
	now := s.now()

	userID, ok, err := s.store.FinishEntry(ctx, s.queueType, entryID, status, now)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: %s entry %d", ErrEntryNotAssigned, s.queueType, entryID)
	}

	if cooldown > 0 {
		if err := s.store.SetCooldown(ctx, userID, now.Add(cooldown), outcome, now); err != nil {
			s.logger.Warn("Cooldown not recorded", "user_id", userID, "error", err)
		}
	}

	s.logger.Info("Entry closed", "entry_id", entryID, "user_id", userID, "status", status)
	return nil
}

// Stats reads the per-status row counts of this queue's snapshot table
func (s *DequeueService) Stats(ctx context.Context) (models.QueueStats, error) {
	stats, err := s.store.SnapshotStats(ctx, s.queueType)
	if err != nil {
		return stats, err
	}
	metrics.QueueDepth.WithLabelValues(string(s.queueType)).Set(float64(stats.Pending))
	return stats, nil
}

func sleepCtx(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}

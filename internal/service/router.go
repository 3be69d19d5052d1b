package service

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/Guizzs26/go-lead-dialler/internal/models"
)

// Dequeuer is the agent-facing surface of one queue type
type Dequeuer interface {
	QueueType() models.QueueType
	GetNextValidUser(ctx context.Context, agentID string) (*models.QueueEntry, error)
	MarkUserSkipped(ctx context.Context, entryID int64) error
	MarkUserCompleted(ctx context.Context, entryID int64) error
}

// QueueRouter fans an agent request out over the dequeue services
type QueueRouter struct {
	phase    models.MigrationPhase
	services map[models.QueueType]Dequeuer
	logger   *slog.Logger
}

func NewQueueRouter(phase models.MigrationPhase, logger *slog.Logger, services ...Dequeuer) *QueueRouter {
	m := make(map[models.QueueType]Dequeuer, len(services))
	for _, s := range services {
		m[s.QueueType()] = s
	}
	return &QueueRouter{
		phase:    phase,
		services: m,
		logger:   logger.With("component", "router"),
	}
}

// GetNextUserForCall returns the next assignment for agentID, or nil when every queue is empty.
// With a nil queueType, unsigned users are tried before outstanding requests. A queue type that
// fails is logged and the next one is tried; the first error is returned only if nothing was found
func (r *QueueRouter) GetNextUserForCall(ctx context.Context, agentID string, queueType *models.QueueType) (*models.CallAssignment, error) {
	if !r.phase.ServesAgents() {
		return nil, ErrDequeueDisabled
	}

	if queueType != nil {
		svc, ok := r.services[*queueType]
		if !ok {
			return nil, fmt.Errorf("%w: %q", ErrUnknownQueueType, *queueType)
		}
		return r.next(ctx, svc, agentID)
	}

	var firstErr error
	for _, q := range models.RoutingOrder {
		svc, ok := r.services[q]
		if !ok {
			continue
		}
		a, err := r.next(ctx, svc, agentID)
		if err != nil {
			if ctx.Err() != nil {
				return nil, err
			}
			r.logger.Error("Queue type unavailable, falling through", "queue_type", q, "error", err)
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		if a != nil {
			return a, nil
		}
	}

	if firstErr == nil {
		r.logger.Debug("No users available right now", "agent_id", agentID)
	}
	return nil, firstErr
}

func (r *QueueRouter) next(ctx context.Context, svc Dequeuer, agentID string) (*models.CallAssignment, error) {
	e, err := svc.GetNextValidUser(ctx, agentID)
	if err != nil || e == nil {
		return nil, err
	}
	a := e.ToAssignment()
	return &a, nil
}

func (r *QueueRouter) MarkUserSkipped(ctx context.Context, q models.QueueType, entryID int64) error {
	svc, ok := r.services[q]
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownQueueType, q)
	}
	return svc.MarkUserSkipped(ctx, entryID)
}

func (r *QueueRouter) MarkUserCompleted(ctx context.Context, q models.QueueType, entryID int64) error {
	svc, ok := r.services[q]
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownQueueType, q)
	}
	return svc.MarkUserCompleted(ctx, entryID)
}

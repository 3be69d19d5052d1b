package service

import (
	"context"
	"log/slog"
	"time"

	"github.com/Guizzs26/go-lead-dialler/internal/models"
	"github.com/google/uuid"
)

const publishTimeout = 2 * time.Second

// EventPublisher defines the contract for announcing queue changes to the broker
type EventPublisher interface {
	Publish(ctx context.Context, routingKey string, event models.QueueEvent) error
}

// Clock returns the current instant; services take one so tests can pin time
type Clock func() time.Time

func defaultClock() time.Time { return time.Now() }

// announce publishes a queue event without ever failing the caller.
// A nil publisher disables events
func announce(ctx context.Context, pub EventPublisher, logger *slog.Logger, event models.QueueEvent) {
	if pub == nil {
		return
	}

	event.EventID = uuid.NewString()
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	pubCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), publishTimeout)
	defer cancel()

	if err := pub.Publish(pubCtx, models.EventRoutingKey(event.QueueType, event.Kind), event); err != nil {
		logger.Warn("Queue event not published",
			"kind", event.Kind,
			"queue_type", event.QueueType,
			"user_id", event.UserID,
			"error", err,
		)
	}
}

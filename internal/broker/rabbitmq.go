package broker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Guizzs26/go-lead-dialler/internal/models"
	"github.com/Guizzs26/go-lead-dialler/pkg/metrics"

	amqp "github.com/rabbitmq/amqp091-go"
)

const (
	// ExchangeDialler carries queue events and regeneration commands
	ExchangeDialler = "dialler.topic"

	confirmTimeout = 10 * time.Second
)

var ErrBrokerUnavailable = errors.New("broker connection is closed")

// RabbitMQClient publishes queue events with publisher confirms.
// It does not reconnect: once the link drops every Publish fails fast until the process restarts
type RabbitMQClient struct {
	conn      *amqp.Connection
	channel   *amqp.Channel
	logger    *slog.Logger
	closeOnce sync.Once
	healthy   atomic.Bool
	mu        sync.Mutex // amqp channels are not safe for concurrent publishing
	done      chan struct{}
}

// NewRabbitMQClient dials the broker, declares the dialler exchange and switches the channel to confirm mode
func NewRabbitMQClient(url string, l *slog.Logger) (*RabbitMQClient, error) {
	conn, ch, err := openConfirmChannel(url)
	if err != nil {
		return nil, err
	}

	client := &RabbitMQClient{
		conn:    conn,
		channel: ch,
		logger:  l.With("exchange", ExchangeDialler),
		done:    make(chan struct{}),
	}
	client.healthy.Store(true)
	metrics.HealthStatus.Set(1)

	go client.watch(conn.NotifyClose(make(chan *amqp.Error, 1)), ch.NotifyClose(make(chan *amqp.Error, 1)))

	client.logger.Info("Connected to RabbitMQ, publisher confirms enabled")
	return client, nil
}

func openConfirmChannel(url string) (*amqp.Connection, *amqp.Channel, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, nil, fmt.Errorf("failed to open RabbitMQ channel: %w", err)
	}

	setup := func() error {
		if err := ch.ExchangeDeclare(ExchangeDialler, "topic", true, false, false, false, nil); err != nil {
			return fmt.Errorf("failed to declare topic exchange: %w", err)
		}
		if err := ch.Confirm(false); err != nil {
			return fmt.Errorf("failed to activate Publisher Confirms: %w", err)
		}
		return nil
	}
	if err := setup(); err != nil {
		ch.Close()
		conn.Close()
		return nil, nil, err
	}
	return conn, ch, nil
}

// watch flips the health flag on the first close notification
func (r *RabbitMQClient) watch(connClosed, chanClosed <-chan *amqp.Error) {
	select {
	case err := <-connClosed:
		r.markUnhealthy("connection", err)
	case err := <-chanClosed:
		r.markUnhealthy("channel", err)
	case <-r.done:
	}
}

func (r *RabbitMQClient) markUnhealthy(what string, err *amqp.Error) {
	r.healthy.Store(false)
	metrics.HealthStatus.Set(0)
	if err == nil {
		r.logger.Warn("RabbitMQ " + what + " closed")
		return
	}
	r.logger.Warn("RabbitMQ "+what+" closed", "code", err.Code, "reason", err.Reason)
}

// Publish sends a queue event to the dialler exchange and blocks until the broker confirms it
func (r *RabbitMQClient) Publish(ctx context.Context, routingKey string, event models.QueueEvent) error {
	if !r.IsHealthy() {
		metrics.EventsPublished.WithLabelValues(event.Kind, "unhealthy").Inc()
		return ErrBrokerUnavailable
	}

	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to serialize event: %w", err)
	}

	r.mu.Lock()
	deferred, err := r.channel.PublishWithDeferredConfirmWithContext(ctx, ExchangeDialler, routingKey, false, false,
		amqp.Publishing{
			Headers:      amqp.Table{"queue_type": string(event.QueueType)},
			MessageId:    event.EventID,
			Type:         event.Kind,
			Timestamp:    event.Timestamp,
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			Body:         body,
		})
	r.mu.Unlock()
	if err != nil {
		metrics.EventsPublished.WithLabelValues(event.Kind, "error").Inc()
		return fmt.Errorf("publish %s: %w", routingKey, err)
	}

	timer := time.NewTimer(confirmTimeout)
	defer timer.Stop()

	outcome := "sent"
	select {
	case <-ctx.Done():
		err, outcome = ctx.Err(), "canceled"
	case <-deferred.Done():
		if !deferred.Acked() {
			err, outcome = fmt.Errorf("RabbitMQ NACK for event %s", event.EventID), "nack"
		}
	case <-timer.C:
		err, outcome = fmt.Errorf("publisher confirm timeout for event %s", event.EventID), "timeout"
	}
	metrics.EventsPublished.WithLabelValues(event.Kind, outcome).Inc()
	return err
}

// Close stops the health watcher and tears down the channel and connection
func (r *RabbitMQClient) Close() error {
	var err error
	r.closeOnce.Do(func() {
		r.logger.Info("Terminating RabbitMQ client")
		close(r.done)
		r.healthy.Store(false)
		err = errors.Join(ignoreClosed(r.channel.Close()), ignoreClosed(r.conn.Close()))
	})
	return err
}

// ignoreClosed drops the error amqp returns for resources the broker already closed
func ignoreClosed(err error) error {
	if errors.Is(err, amqp.ErrClosed) {
		return nil
	}
	return err
}

// IsHealthy returns true while the connection and channel are open
func (r *RabbitMQClient) IsHealthy() bool {
	return r.healthy.Load()
}

package broker

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/Guizzs26/go-lead-dialler/internal/models"
	amqp "github.com/rabbitmq/amqp091-go"
)

const (
	RegenerateQueue      = "dialler.regenerate"
	RegenerateRoutingKey = "dialler.command.regenerate.#"
)

// RegenerateHandler receives out-of-cycle regeneration requests
type RegenerateHandler interface {
	HandleRegenerate(ctx context.Context, cmd models.RegenerateCommand) error
}

// RabbitMQConsumer listens for regeneration commands published by the agent-facing application
type RabbitMQConsumer struct {
	conn    *amqp.Connection
	channel *amqp.Channel
	handler RegenerateHandler
	logger  *slog.Logger
}

func NewRabbitMQConsumer(url string, handler RegenerateHandler, logger *slog.Logger) (*RabbitMQConsumer, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to open a channel: %w", err)
	}

	// Prefetch 1: regenerations are heavy, run them one at a time
	if err := ch.Qos(1, 0, false); err != nil {
		ch.Close()
		conn.Close()
		return nil, fmt.Errorf("failed to set QoS: %w", err)
	}

	return &RabbitMQConsumer{
		conn:    conn,
		channel: ch,
		handler: handler,
		logger:  logger,
	}, nil
}

// Listen declares the command queue, binds it and blocks consuming until ctx is canceled
func (c *RabbitMQConsumer) Listen(ctx context.Context) error {
	if err := c.channel.ExchangeDeclare(ExchangeDialler, "topic", true, false, false, false, nil); err != nil {
		return fmt.Errorf("failed to declare exchange: %w", err)
	}

	q, err := c.channel.QueueDeclare(RegenerateQueue, true, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("failed to declare queue: %w", err)
	}

	if err := c.channel.QueueBind(q.Name, RegenerateRoutingKey, ExchangeDialler, false, nil); err != nil {
		return fmt.Errorf("failed to bind queue: %w", err)
	}

	msgs, err := c.channel.Consume(q.Name, "", false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("failed to register consumer: %w", err)
	}

	c.logger.Info("Regeneration consumer is online", "queue", q.Name, "routing_key", RegenerateRoutingKey)

	for {
		select {
		case <-ctx.Done():
			return nil
		case d, ok := <-msgs:
			if !ok {
				return fmt.Errorf("message channel closed")
			}
			c.handle(ctx, d)
		}
	}
}

func (c *RabbitMQConsumer) handle(ctx context.Context, d amqp.Delivery) {
	var cmd models.RegenerateCommand
	if err := json.Unmarshal(d.Body, &cmd); err != nil || !cmd.QueueType.Valid() {
		c.logger.Error("Dropping malformed regeneration command", "error", err, "body", string(d.Body))
		_ = d.Nack(false, false)
		return
	}

	if err := c.handler.HandleRegenerate(ctx, cmd); err != nil {
		// The hourly generation picks it up; never requeue
		c.logger.Error("Regeneration command failed", "queue_type", cmd.QueueType, "error", err)
		_ = d.Nack(false, false)
		return
	}

	if err := d.Ack(false); err != nil {
		c.logger.Error("Failed to Ack command", "queue_type", cmd.QueueType, "error", err)
	}
}

// Close gracefully terminates RabbitMQ resources
func (c *RabbitMQConsumer) Close() {
	c.logger.Info("Shutting down RabbitMQ consumer")
	c.channel.Close()
	c.conn.Close()
}

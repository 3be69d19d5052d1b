// Package app assembles the dialler core from configuration. Both binaries build
// their components through it so the scheduler and dialctl never drift apart
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/Guizzs26/go-lead-dialler/internal/broker"
	"github.com/Guizzs26/go-lead-dialler/internal/config"
	"github.com/Guizzs26/go-lead-dialler/internal/db"
	"github.com/Guizzs26/go-lead-dialler/internal/models"
	"github.com/Guizzs26/go-lead-dialler/internal/scheduler"
	"github.com/Guizzs26/go-lead-dialler/internal/service"
)

type App struct {
	Config  *config.Config
	Store   *db.PostgresRepository
	Replica *db.ReplicaRepository
	Broker  *broker.RabbitMQClient

	Aging      *service.AgingService
	Scoring    *service.ScoringService
	Generators map[models.QueueType]*service.QueueGenerator
	Dequeuers  map[models.QueueType]*service.DequeueService
	Monitor    *service.LevelMonitor
	Router     *service.QueueRouter

	logger *slog.Logger
}

// Options toggles the optional infrastructure
type Options struct {
	// Broker connects to RabbitMQ for queue events; a failed connection is logged and events are disabled
	Broker bool
}

// New connects to the score store and the replica and builds every service
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger, opts Options) (*App, error) {
	store, err := db.NewPostgresRepository(ctx, cfg.DatabaseURL, logger)
	if err != nil {
		return nil, fmt.Errorf("postgres: %w", err)
	}

	replica, err := db.NewReplicaRepository(cfg.ReplicaDriver, cfg.ReplicaURL, logger)
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("replica: %w", err)
	}

	a := &App{
		Config:  cfg,
		Store:   store,
		Replica: replica,
		logger:  logger,
	}

	var events service.EventPublisher
	if opts.Broker && cfg.RabbitMQURL != "" {
		client, err := broker.NewRabbitMQClient(cfg.RabbitMQURL, logger)
		if err != nil {
			logger.Warn("RabbitMQ unavailable, queue events disabled", "error", err)
		} else {
			a.Broker = client
			events = client
		}
	}

	if err := a.build(events); err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

func (a *App) build(events service.EventPublisher) error {
	cfg := a.Config

	a.Aging = service.NewAgingService(a.Store, service.AgingConfig{
		RestDay:  cfg.RestDay,
		Location: cfg.Location,
		Ceiling:  cfg.ScoreCeiling,
	}, a.logger)

	a.Scoring = service.NewScoringService(a.Replica, a.Store, service.ScoringConfig{
		BatchSize: cfg.ScoringBatchSize,
		Budget:    cfg.ScoringBudget,
	}, a.logger)

	a.Generators = make(map[models.QueueType]*service.QueueGenerator, len(models.RoutingOrder))
	a.Dequeuers = make(map[models.QueueType]*service.DequeueService, len(models.RoutingOrder))

	var (
		readers []service.StatsReader
		gens    []service.Regenerator
		deqs    []service.Dequeuer
	)
	for _, q := range models.RoutingOrder {
		gen := service.NewQueueGenerator(q, a.Store, a.Replica, events, service.GeneratorConfig{
			WindowSize:    cfg.WindowSize(q),
			CoolingPeriod: cfg.CoolingPeriod,
		}, a.logger)
		deq := service.NewDequeueService(q, a.Store, a.Replica, events, service.DequeueConfig{
			MaxAttempts:      cfg.DequeueMaxAttempts,
			RetryBackoff:     cfg.DequeueRetryBackoff,
			SkipCooldown:     cfg.SkipCooldown,
			CompleteCooldown: cfg.CompleteCooldown,
		}, a.logger)

		a.Generators[q] = gen
		a.Dequeuers[q] = deq
		readers = append(readers, deq)
		gens = append(gens, gen)
		deqs = append(deqs, deq)
	}

	monitor, err := service.NewLevelMonitor(readers, gens, service.MonitorConfig{
		LowWaterMark: cfg.LowWaterMark,
		MinInterval:  cfg.MinRegenInterval,
	}, a.logger)
	if err != nil {
		return err
	}
	a.Monitor = monitor
	a.Router = service.NewQueueRouter(cfg.Phase, a.logger, deqs...)
	return nil
}

// Generator returns the generator of q or ErrUnknownQueueType
func (a *App) Generator(q models.QueueType) (*service.QueueGenerator, error) {
	g, ok := a.Generators[q]
	if !ok {
		return nil, fmt.Errorf("%w: %q", service.ErrUnknownQueueType, q)
	}
	return g, nil
}

// Dequeuer returns the dequeue service of q or ErrUnknownQueueType
func (a *App) Dequeuer(q models.QueueType) (*service.DequeueService, error) {
	d, ok := a.Dequeuers[q]
	if !ok {
		return nil, fmt.Errorf("%w: %q", service.ErrUnknownQueueType, q)
	}
	return d, nil
}

// Schedule registers the timer triggers enabled by the migration phase
func (a *App) Schedule(s *scheduler.Scheduler) {
	cfg := a.Config

	s.Daily("aging", cfg.AgingHour, cfg.Location, func(ctx context.Context) error {
		_, err := a.Aging.RunDailyAging(ctx)
		return ignoreOverlap(err)
	})
	s.Every("scoring", cfg.ScoringInterval, true, func(ctx context.Context) error {
		ctx, cancel := context.WithTimeout(ctx, cfg.ScoringInterval)
		defer cancel()
		_, err := a.Scoring.RunLeadScoring(ctx)
		return ignoreOverlap(err)
	})

	if !cfg.Phase.GeneratesQueues() {
		a.logger.Info("Queue generation disabled by migration phase", "phase", cfg.Phase)
		return
	}

	for _, q := range models.RoutingOrder {
		gen := a.Generators[q]
		s.Every("generation."+string(q), cfg.GenerationInterval, true, func(ctx context.Context) error {
			_, err := gen.PopulateQueue(ctx)
			return err
		})
	}
	s.Every("monitor", cfg.MonitorInterval, false, func(ctx context.Context) error {
		_, err := a.Monitor.CheckAndRegenerateQueues(ctx)
		return err
	})
}

func ignoreOverlap(err error) error {
	if errors.Is(err, service.ErrAlreadyRunning) {
		return nil
	}
	return err
}

// Close releases every connection the app opened
func (a *App) Close() {
	if a.Broker != nil {
		if err := a.Broker.Close(); err != nil {
			a.logger.Warn("Broker close failed", "error", err)
		}
	}
	if a.Replica != nil {
		if err := a.Replica.Close(); err != nil {
			a.logger.Warn("Replica close failed", "error", err)
		}
	}
	if a.Store != nil {
		a.Store.Close()
	}
}

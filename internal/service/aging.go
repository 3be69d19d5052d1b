package service

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/Guizzs26/go-lead-dialler/internal/models"
	"github.com/Guizzs26/go-lead-dialler/pkg/metrics"
)

// AgingStore defines the single bulk update the aging run depends on
type AgingStore interface {
	AgeScores(ctx context.Context, ceiling int, now time.Time) (aged, crossed int64, err error)
}

type AgingConfig struct {
	RestDay  time.Weekday
	Location *time.Location
	Ceiling  int
}

// AgingReport summarizes one daily aging run.
// SkippedSunday is true when today is the configured rest day (Sunday by default)
type AgingReport struct {
	Date                string        `json:"date"`
	UsersAged           int64         `json:"users_aged"`
	ConversionsDetected int64         `json:"conversions_detected"`
	SkippedSunday       bool          `json:"skipped_sunday"`
	AlreadyRan          bool          `json:"already_ran"`
	Duration            time.Duration `json:"duration"`
}

// AgingService raises every active score by one per calendar day
type AgingService struct {
	store  AgingStore
	cfg    AgingConfig
	logger *slog.Logger
	now    Clock

	mu      sync.Mutex
	lastRun string
}

func NewAgingService(store AgingStore, cfg AgingConfig, logger *slog.Logger) *AgingService {
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	if cfg.Ceiling <= 0 {
		cfg.Ceiling = models.DefaultScoreCeiling
	}
	return &AgingService{
		store:  store,
		cfg:    cfg,
		logger: logger.With("job", "aging"),
		now:    defaultClock,
	}
}

// WithClock replaces the time source
func (s *AgingService) WithClock(c Clock) *AgingService {
	s.now = c
	return s
}

// RunDailyAging increments every active score below the ceiling by exactly one.
// On the rest day, or when today's run already succeeded, nothing is written
func (s *AgingService) RunDailyAging(ctx context.Context) (AgingReport, error) {
	if !s.mu.TryLock() {
		return AgingReport{}, ErrAlreadyRunning
	}
	defer s.mu.Unlock()

	start := s.now()
	local := start.In(s.cfg.Location)
	report := AgingReport{Date: local.Format(time.DateOnly)}

	if local.Weekday() == s.cfg.RestDay {
		report.SkippedSunday = true
		metrics.JobRuns.WithLabelValues("aging", "skipped").Inc()
		s.logger.Info("Rest day, aging skipped", "date", report.Date, "rest_day", s.cfg.RestDay)
		return report, nil
	}

	if s.lastRun == report.Date {
		report.AlreadyRan = true
		metrics.JobRuns.WithLabelValues("aging", "skipped").Inc()
		s.logger.Info("Aging already applied today", "date", report.Date)
		return report, nil
	}

	aged, crossed, err := s.store.AgeScores(ctx, s.cfg.Ceiling, start)
	report.Duration = s.now().Sub(start)
	metrics.JobDuration.WithLabelValues("aging").Observe(report.Duration.Seconds())
	if err != nil {
		metrics.JobRuns.WithLabelValues("aging", "error").Inc()
		return report, fmt.Errorf("daily aging failed: %w", err)
	}

	s.lastRun = report.Date
	report.UsersAged = aged
	report.ConversionsDetected = crossed

	metrics.JobRuns.WithLabelValues("aging", "success").Inc()
	metrics.UsersAged.Add(float64(aged))
	metrics.ScoreConversions.Add(float64(crossed))

	s.logger.Info("Daily aging complete",
		"date", report.Date,
		"users_aged", aged,
		"conversions_detected", crossed,
		"duration_ms", report.Duration.Milliseconds(),
	)
	return report, nil
}

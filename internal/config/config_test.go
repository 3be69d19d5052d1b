package config

import (
	"testing"
	"time"

	"github.com/Guizzs26/go-lead-dialler/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg := Load()

	assert.Equal(t, models.PhaseLive, cfg.Phase)
	assert.Equal(t, time.Sunday, cfg.RestDay)
	assert.Equal(t, 2, cfg.AgingHour)
	assert.Equal(t, models.DefaultScoreCeiling, cfg.ScoreCeiling)
	assert.Equal(t, 200, cfg.WindowSize(models.QueueUnsignedUsers))
	assert.Equal(t, 100, cfg.WindowSize(models.QueueOutstandingRequests))
	assert.Equal(t, 2*time.Hour, cfg.CoolingPeriod)
	assert.Equal(t, 20, cfg.LowWaterMark)
	assert.Equal(t, 15*time.Minute, cfg.MinRegenInterval)
	assert.Equal(t, 10, cfg.DequeueMaxAttempts)
	assert.Equal(t, "firebirdsql", cfg.ReplicaDriver)
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("MIGRATION_PHASE", "generation")
	t.Setenv("AGING_REST_DAY", "sat")
	t.Setenv("TIMEZONE", "Europe/London")
	t.Setenv("UNSIGNED_WINDOW_SIZE", "50")
	t.Setenv("COOLING_PERIOD_MIN", "30")
	t.Setenv("SKIP_COOLDOWN_HOURS", "6")

	cfg := Load()

	assert.Equal(t, models.PhaseGeneration, cfg.Phase)
	assert.Equal(t, time.Saturday, cfg.RestDay)
	assert.Equal(t, "Europe/London", cfg.Location.String())
	assert.Equal(t, 50, cfg.WindowSize(models.QueueUnsignedUsers))
	assert.Equal(t, 30*time.Minute, cfg.CoolingPeriod)
	assert.Equal(t, 6*time.Hour, cfg.SkipCooldown)
}

func TestLoadFallsBackOnInvalidValues(t *testing.T) {
	t.Setenv("MIGRATION_PHASE", "legacy")
	t.Setenv("TIMEZONE", "Mars/Olympus")
	t.Setenv("AGING_REST_DAY", "someday")
	t.Setenv("LOW_WATER_MARK", "twenty")

	cfg := Load()

	assert.Equal(t, models.PhaseLive, cfg.Phase)
	assert.Equal(t, time.UTC, cfg.Location)
	assert.Equal(t, time.Sunday, cfg.RestDay)
	assert.Equal(t, 20, cfg.LowWaterMark)
}

func TestLoadClamps(t *testing.T) {
	t.Setenv("SCORING_BATCH_SIZE", "50000")
	t.Setenv("OUTSTANDING_WINDOW_SIZE", "0")
	t.Setenv("DEQUEUE_MAX_ATTEMPTS", "-3")
	t.Setenv("AGING_HOUR", "30")

	cfg := Load()

	assert.Equal(t, MaxBatchSize, cfg.ScoringBatchSize)
	assert.Equal(t, MinWindowSize, cfg.WindowSize(models.QueueOutstandingRequests))
	assert.Equal(t, 1, cfg.DequeueMaxAttempts)
	assert.Equal(t, 23, cfg.AgingHour)
}

func TestValidate(t *testing.T) {
	t.Run("defaults are valid", func(t *testing.T) {
		warnings, err := Load().Validate()
		require.NoError(t, err)
		assert.Empty(t, warnings)
	})

	t.Run("conflicting settings fail", func(t *testing.T) {
		cfg := Load()
		cfg.ReplicaDriver = "mysql"
		cfg.DatabaseURL = ""
		cfg.MinRegenInterval = 0

		_, err := cfg.Validate()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "REPLICA_DRIVER")
		assert.Contains(t, err.Error(), "DATABASE_URL")
		assert.Contains(t, err.Error(), "MIN_REGEN_INTERVAL_MIN")
	})

	t.Run("suspicious settings warn", func(t *testing.T) {
		cfg := Load()
		cfg.LowWaterMark = 150
		cfg.CoolingPeriod = -time.Minute
		cfg.Phase = models.PhaseScoring

		warnings, err := cfg.Validate()
		require.NoError(t, err)
		assert.Len(t, warnings, 3)
		assert.Zero(t, cfg.CoolingPeriod)
	})
}

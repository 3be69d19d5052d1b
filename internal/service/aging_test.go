package service

import (
	"context"
	"testing"
	"time"

	"github.com/Guizzs26/go-lead-dialler/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	monday = time.Date(2026, 10, 19, 10, 0, 0, 0, time.UTC)
	sunday = time.Date(2026, 10, 18, 10, 0, 0, 0, time.UTC)
)

func seedAgingStore() *memStore {
	s := newMemStore()
	s.putScore(models.ScoreRecord{UserID: 1, CurrentScore: 0, IsActive: true})
	s.putScore(models.ScoreRecord{UserID: 2, CurrentScore: 199, IsActive: true})
	s.putScore(models.ScoreRecord{UserID: 3, CurrentScore: 200, IsActive: true})
	s.putScore(models.ScoreRecord{UserID: 4, CurrentScore: 5, IsActive: false})
	return s
}

func newTestAging(store AgingStore, clock *testClock) *AgingService {
	return NewAgingService(store, AgingConfig{RestDay: time.Sunday, Location: time.UTC}, discardLogger()).
		WithClock(clock.Now)
}

func TestRunDailyAging(t *testing.T) {
	t.Run("increments active scores below the ceiling by exactly one", func(t *testing.T) {
		store := seedAgingStore()
		svc := newTestAging(store, newTestClock(monday))

		report, err := svc.RunDailyAging(context.Background())
		require.NoError(t, err)

		assert.Equal(t, int64(2), report.UsersAged)
		assert.Equal(t, int64(1), report.ConversionsDetected)
		assert.False(t, report.SkippedSunday)
		assert.Equal(t, "2026-10-19", report.Date)

		assert.Equal(t, 1, store.score(1).CurrentScore)
		assert.Equal(t, 200, store.score(2).CurrentScore)
		assert.Equal(t, 200, store.score(3).CurrentScore, "frozen records are not aged")
		assert.Equal(t, 5, store.score(4).CurrentScore, "inactive records are not aged")
	})

	t.Run("rest day changes nothing", func(t *testing.T) {
		store := seedAgingStore()
		svc := newTestAging(store, newTestClock(sunday))

		report, err := svc.RunDailyAging(context.Background())
		require.NoError(t, err)

		assert.True(t, report.SkippedSunday)
		assert.Zero(t, report.UsersAged)
		assert.Zero(t, store.ageCalls)
		assert.Equal(t, 0, store.score(1).CurrentScore)
	})

	t.Run("rest day is evaluated in the configured location", func(t *testing.T) {
		store := seedAgingStore()
		// Sunday 23:30 UTC is already Monday in UTC+2
		loc := time.FixedZone("UTC+2", 2*60*60)
		svc := NewAgingService(store, AgingConfig{RestDay: time.Sunday, Location: loc}, discardLogger()).
			WithClock(newTestClock(time.Date(2026, 10, 18, 23, 30, 0, 0, time.UTC)).Now)

		report, err := svc.RunDailyAging(context.Background())
		require.NoError(t, err)
		assert.False(t, report.SkippedSunday)
		assert.Equal(t, "2026-10-19", report.Date)
	})

	t.Run("runs at most once per calendar day", func(t *testing.T) {
		store := seedAgingStore()
		clock := newTestClock(monday)
		svc := newTestAging(store, clock)

		_, err := svc.RunDailyAging(context.Background())
		require.NoError(t, err)

		clock.Advance(3 * time.Hour)
		report, err := svc.RunDailyAging(context.Background())
		require.NoError(t, err)
		assert.True(t, report.AlreadyRan)
		assert.Equal(t, 1, store.ageCalls)
		assert.Equal(t, 1, store.score(1).CurrentScore)

		clock.Advance(24 * time.Hour)
		_, err = svc.RunDailyAging(context.Background())
		require.NoError(t, err)
		assert.Equal(t, 2, store.score(1).CurrentScore)
	})

	t.Run("failure is reported and the day stays open for a retry", func(t *testing.T) {
		store := seedAgingStore()
		store.ageErr = errBoom
		svc := newTestAging(store, newTestClock(monday))

		_, err := svc.RunDailyAging(context.Background())
		require.ErrorIs(t, err, errBoom)

		store.ageErr = nil
		report, err := svc.RunDailyAging(context.Background())
		require.NoError(t, err)
		assert.False(t, report.AlreadyRan)
		assert.Equal(t, int64(2), report.UsersAged)
	})

	t.Run("overlapping run is refused", func(t *testing.T) {
		svc := newTestAging(seedAgingStore(), newTestClock(monday))
		svc.mu.Lock()
		defer svc.mu.Unlock()

		_, err := svc.RunDailyAging(context.Background())
		assert.ErrorIs(t, err, ErrAlreadyRunning)
	})
}

package scheduler

import (
	"context"
	"io"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestNextDaily(t *testing.T) {
	berlin := time.FixedZone("CET", 60*60)

	tests := map[string]struct {
		now  time.Time
		hour int
		loc  *time.Location
		want time.Time
	}{
		"later today": {
			now:  time.Date(2026, 10, 19, 1, 30, 0, 0, time.UTC),
			hour: 2,
			loc:  time.UTC,
			want: time.Date(2026, 10, 19, 2, 0, 0, 0, time.UTC),
		},
		"already passed rolls to tomorrow": {
			now:  time.Date(2026, 10, 19, 2, 0, 0, 0, time.UTC),
			hour: 2,
			loc:  time.UTC,
			want: time.Date(2026, 10, 20, 2, 0, 0, 0, time.UTC),
		},
		"evaluated in the configured zone": {
			now:  time.Date(2026, 10, 19, 0, 30, 0, 0, time.UTC), // 01:30 CET
			hour: 2,
			loc:  berlin,
			want: time.Date(2026, 10, 19, 2, 0, 0, 0, berlin),
		},
		"month boundary": {
			now:  time.Date(2026, 10, 31, 23, 0, 0, 0, time.UTC),
			hour: 0,
			loc:  time.UTC,
			want: time.Date(2026, 11, 1, 0, 0, 0, 0, time.UTC),
		},
		"nil location means UTC": {
			now:  time.Date(2026, 10, 19, 5, 0, 0, 0, time.UTC),
			hour: 6,
			want: time.Date(2026, 10, 19, 6, 0, 0, 0, time.UTC),
		},
	}

	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			got := NextDaily(tt.now, tt.hour, tt.loc)
			assert.True(t, tt.want.Equal(got), "want %s, got %s", tt.want, got)
		})
	}
}

func TestSchedulerRunsJobsUntilCanceled(t *testing.T) {
	var fast, slow atomic.Int32

	s := New(discardLogger()).
		Every("fast", 5*time.Millisecond, true, func(context.Context) error {
			fast.Add(1)
			return nil
		}).
		Every("slow", time.Hour, false, func(context.Context) error {
			slow.Add(1)
			return nil
		})

	assert.Equal(t, []string{"fast", "slow"}, s.Jobs())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	require.Eventually(t, func() bool { return fast.Load() >= 3 }, 2*time.Second, 5*time.Millisecond)
	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("scheduler did not stop")
	}
	assert.Zero(t, slow.Load(), "jobs without runOnStart wait for their first tick")
}

func TestSchedulerSurvivesFailingJobs(t *testing.T) {
	var calls atomic.Int32

	s := New(discardLogger()).Every("flaky", 5*time.Millisecond, true, func(context.Context) error {
		if calls.Add(1)%2 == 1 {
			panic("replica exploded")
		}
		return assert.AnError
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	require.Eventually(t, func() bool { return calls.Load() >= 4 }, 2*time.Second, 5*time.Millisecond)
	cancel()
	require.NoError(t, <-done)
}

func TestSchedulerWithoutJobs(t *testing.T) {
	err := New(discardLogger()).Run(context.Background())
	assert.Error(t, err)
}

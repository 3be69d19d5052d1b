package service

import (
	"context"
	"testing"
	"time"

	"github.com/Guizzs26/go-lead-dialler/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func unsignedRecord(userID int64, score int, createdAt time.Time) models.ScoreRecord {
	return models.ScoreRecord{
		UserID:           userID,
		CurrentScore:     score,
		CurrentQueueType: qt(models.QueueUnsignedUsers),
		IsActive:         true,
		CreatedAt:        createdAt,
	}
}

func newTestGenerator(store *memStore, details DetailSource, events EventPublisher, window int, clock *testClock) *QueueGenerator {
	return NewQueueGenerator(models.QueueUnsignedUsers, store, details, events, GeneratorConfig{
		WindowSize:    window,
		CoolingPeriod: DefaultCoolingPeriod,
	}, discardLogger()).WithClock(clock.Now)
}

func snapshotUserIDs(entries []models.QueueEntry) []int64 {
	ids := make([]int64, len(entries))
	for i, e := range entries {
		ids[i] = e.UserID
	}
	return ids
}

func TestPopulateQueue_Ordering(t *testing.T) {
	store := newMemStore()
	old := monday.Add(-72 * time.Hour)

	created := map[int64]time.Time{
		1: old.Add(1 * time.Hour),
		2: old.Add(5 * time.Hour),
		3: old,
		4: old.Add(2 * time.Hour),
		5: old.Add(3 * time.Hour),
		6: monday,
	}
	store.putScore(unsignedRecord(1, 4, created[1]))
	store.putScore(unsignedRecord(2, 4, created[2]))
	store.putScore(unsignedRecord(3, 1, created[3]))
	store.putScore(unsignedRecord(4, 30, created[4]))
	store.putScore(unsignedRecord(5, 4, created[5]))
	store.putScore(unsignedRecord(6, 0, created[6]))

	gen := newTestGenerator(store, nil, nil, 100, newTestClock(monday))

	res, err := gen.PopulateQueue(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 6, res.QueuePopulated)
	assert.Equal(t, 6, res.TotalEligible)
	assert.Zero(t, res.Errors)

	entries := store.entries(models.QueueUnsignedUsers)
	assert.Equal(t, []int64{6, 3, 2, 5, 1, 4}, snapshotUserIDs(entries))

	for i, e := range entries {
		assert.Equal(t, i+1, e.QueuePosition)
		assert.Equal(t, models.StatusPending, e.Status)
		if i == 0 {
			continue
		}
		prev := entries[i-1]
		assert.LessOrEqual(t, prev.PriorityScore, e.PriorityScore)
		if prev.PriorityScore == e.PriorityScore {
			assert.True(t, created[prev.UserID].After(created[e.UserID]), "ties go to the newest lead")
		}
	}

	assert.Equal(t, "New lead", entries[0].QueueReason)
	assert.Equal(t, "High priority", entries[1].QueueReason)
	assert.Equal(t, "Medium priority", entries[5].QueueReason)
}

func TestPopulateQueue_CoolingPeriod(t *testing.T) {
	store := newMemStore()
	store.putScore(unsignedRecord(1, 0, monday))
	store.putScore(unsignedRecord(2, 5, monday.Add(-1*time.Hour)))

	clock := newTestClock(monday)
	gen := newTestGenerator(store, nil, nil, 100, clock)

	_, err := gen.PopulateQueue(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []int64{1}, snapshotUserIDs(store.entries(models.QueueUnsignedUsers)),
		"score-0 lead is exempt, the score-5 lead is still cooling")

	clock.Advance(time.Hour)
	_, err = gen.PopulateQueue(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []int64{1, 2}, snapshotUserIDs(store.entries(models.QueueUnsignedUsers)))
}

func TestPopulateQueue_Filters(t *testing.T) {
	store := newMemStore()
	old := monday.Add(-72 * time.Hour)
	future := monday.Add(time.Hour)
	past := monday.Add(-time.Hour)

	store.putScore(unsignedRecord(1, 2, old))

	inactive := unsignedRecord(2, 1, old)
	inactive.IsActive = false
	store.putScore(inactive)

	other := unsignedRecord(3, 1, old)
	other.CurrentQueueType = qt(models.QueueOutstandingRequests)
	store.putScore(other)

	unclassified := unsignedRecord(4, 1, old)
	unclassified.CurrentQueueType = nil
	store.putScore(unclassified)

	coolingDown := unsignedRecord(5, 1, old)
	coolingDown.NextCallAfter = &future
	store.putScore(coolingDown)

	cooled := unsignedRecord(6, 3, old)
	cooled.NextCallAfter = &past
	store.putScore(cooled)

	gen := newTestGenerator(store, nil, nil, 100, newTestClock(monday))

	res, err := gen.PopulateQueue(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, res.TotalEligible)

	entries := store.entries(models.QueueUnsignedUsers)
	assert.Equal(t, []int64{1, 6}, snapshotUserIDs(entries))
	assert.Equal(t, monday, entries[1].AvailableFrom, "expired cooldown makes the row available now")
}

func TestPopulateQueue_IdempotentRegeneration(t *testing.T) {
	store := newMemStore()
	old := monday.Add(-72 * time.Hour)
	for i := int64(1); i <= 30; i++ {
		store.putScore(unsignedRecord(i, int(i%4), old.Add(time.Duration(i%3)*time.Hour)))
	}

	gen := newTestGenerator(store, nil, nil, 20, newTestClock(monday))

	first, err := gen.PopulateQueue(context.Background())
	require.NoError(t, err)
	firstIDs := snapshotUserIDs(store.entries(models.QueueUnsignedUsers))

	second, err := gen.PopulateQueue(context.Background())
	require.NoError(t, err)
	secondIDs := snapshotUserIDs(store.entries(models.QueueUnsignedUsers))

	assert.Equal(t, firstIDs, secondIDs)
	assert.Equal(t, int64(first.QueuePopulated), second.Removed)
	assert.Len(t, secondIDs, 20)
}

func TestPopulateQueue_BoundedWindow(t *testing.T) {
	store := newMemStore()
	for i := int64(1); i <= 250; i++ {
		store.putScore(unsignedRecord(i, 0, monday))
	}

	gen := newTestGenerator(store, nil, nil, 200, newTestClock(monday))

	res, err := gen.PopulateQueue(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 250, res.TotalEligible)
	assert.Equal(t, 200, res.QueuePopulated)
	assert.Len(t, store.entries(models.QueueUnsignedUsers), 200)
}

func TestPopulateQueue_EligibleCountBeyondWindow(t *testing.T) {
	store := newMemStore()
	store.putScore(unsignedRecord(1, 0, monday))
	store.putScore(unsignedRecord(2, 0, monday))
	// the database counts the whole population while only returning the window
	store.eligibleCount = 480

	gen := newTestGenerator(store, nil, nil, 2, newTestClock(monday))

	res, err := gen.PopulateQueue(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 480, res.TotalEligible)
	assert.Equal(t, 2, res.QueuePopulated)
}

func TestPopulateQueue_RowFailuresAreSkipped(t *testing.T) {
	store := newMemStore()
	store.putScore(unsignedRecord(1, 0, monday))
	store.putScore(unsignedRecord(2, 0, monday))
	store.putScore(unsignedRecord(3, 0, monday))
	store.failInserts[2] = true

	gen := newTestGenerator(store, nil, nil, 100, newTestClock(monday))

	res, err := gen.PopulateQueue(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, res.Errors)
	assert.Equal(t, 2, res.QueuePopulated)
	assert.Equal(t, []int64{1, 3}, snapshotUserIDs(store.entries(models.QueueUnsignedUsers)))
}

func TestPopulateQueue_SelectionFailureKeepsSnapshot(t *testing.T) {
	store := newMemStore()
	store.putEntries(models.QueueUnsignedUsers, 10, 11)
	store.listErr = errBoom

	gen := newTestGenerator(store, nil, nil, 100, newTestClock(monday))

	_, err := gen.PopulateQueue(context.Background())
	require.ErrorIs(t, err, errBoom)
	assert.Zero(t, store.clearCalls)
	assert.Len(t, store.entries(models.QueueUnsignedUsers), 2)
}

func TestPopulateQueue_ClearFailure(t *testing.T) {
	store := newMemStore()
	store.putScore(unsignedRecord(1, 0, monday))
	store.clearErr = errBoom

	gen := newTestGenerator(store, nil, nil, 100, newTestClock(monday))

	_, err := gen.PopulateQueue(context.Background())
	require.ErrorIs(t, err, errBoom)
	assert.Empty(t, store.entries(models.QueueUnsignedUsers))
}

func TestPopulateQueue_Enrichment(t *testing.T) {
	store := newMemStore()
	rec := models.ScoreRecord{
		UserID:           7,
		CurrentQueueType: qt(models.QueueOutstandingRequests),
		IsActive:         true,
		CreatedAt:        monday,
	}
	store.putScore(rec)

	replica := newFakeReplica()
	replica.candidates[models.QueueOutstandingRequests] = []models.ScoredCandidate{
		models.OutstandingCandidate{
			CandidateBase:       models.CandidateBase{UserID: 7, ClaimID: i64(70)},
			RequirementTypes:    []string{"bank_statement", "payslip"},
			TotalRequirements:   3,
			PendingRequirements: 2,
		},
	}
	pub := &recordingPublisher{}

	gen := NewQueueGenerator(models.QueueOutstandingRequests, store, replica, pub, GeneratorConfig{WindowSize: 100}, discardLogger()).
		WithClock(newTestClock(monday).Now)

	_, err := gen.PopulateQueue(context.Background())
	require.NoError(t, err)

	entries := store.entries(models.QueueOutstandingRequests)
	require.Len(t, entries, 1)
	e := entries[0]
	require.NotNil(t, e.ClaimID)
	assert.Equal(t, int64(70), *e.ClaimID)
	assert.Equal(t, []string{"bank_statement", "payslip"}, e.RequirementTypes)
	require.NotNil(t, e.PendingRequirements)
	assert.Equal(t, 2, *e.PendingRequirements)

	require.Len(t, pub.events, 1)
	assert.Equal(t, models.EventQueueRegenerated, pub.events[0].Kind)
	assert.Equal(t, "dialler.event.outstanding_requests.regenerated", pub.keys[0])
	assert.NotEmpty(t, pub.events[0].EventID)
}

func TestPopulateQueue_EnrichmentFailureIsTolerated(t *testing.T) {
	store := newMemStore()
	store.putScore(unsignedRecord(1, 0, monday))

	replica := newFakeReplica()
	replica.detailsErr = errBoom
	pub := &recordingPublisher{err: errBoom}

	gen := newTestGenerator(store, replica, pub, 100, newTestClock(monday))

	res, err := gen.PopulateQueue(context.Background())
	require.NoError(t, err, "neither enrichment nor event failures fail the rebuild")
	assert.Equal(t, 1, res.QueuePopulated)
	assert.Nil(t, store.entries(models.QueueUnsignedUsers)[0].ClaimID)
}

func TestRankWindow(t *testing.T) {
	now := monday
	f := models.SelectionFilter{QueueType: models.QueueUnsignedUsers, Now: now, Limit: 2}

	records := []models.ScoreRecord{
		unsignedRecord(1, 5, now.Add(-3*time.Hour)),
		unsignedRecord(2, 5, now.Add(-1*time.Hour)),
		unsignedRecord(3, 0, now),
		unsignedRecord(4, 5, now.Add(-3*time.Hour)),
	}

	window, eligible := RankWindow(records, f, 2*time.Hour)
	assert.Equal(t, 3, eligible, "user 2 is still cooling")
	require.Len(t, window, 2)
	assert.Equal(t, int64(3), window[0].UserID)
	assert.Equal(t, int64(1), window[1].UserID, "equal score and age fall back to user id")

	window, _ = RankWindow(records, models.SelectionFilter{QueueType: models.QueueUnsignedUsers, Now: now}, 0)
	assert.Len(t, window, 4, "no limit and no cooling period keeps everything")
}

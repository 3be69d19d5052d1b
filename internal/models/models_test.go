package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var now = time.Date(2026, 10, 19, 10, 0, 0, 0, time.UTC)

func TestScoreReason(t *testing.T) {
	tests := map[int]string{
		0:   "New lead",
		1:   "High priority",
		7:   "High priority",
		8:   "Medium priority",
		30:  "Medium priority",
		31:  "Aged lead",
		199: "Aged lead",
		200: "Frozen lead",
		250: "Frozen lead",
	}
	for score, want := range tests {
		assert.Equal(t, want, ScoreReason(score), "score %d", score)
	}
}

func TestScoreRecordCooled(t *testing.T) {
	cooling := 2 * time.Hour

	fresh := ScoreRecord{CurrentScore: 0, CreatedAt: now}
	assert.True(t, fresh.Cooled(now, cooling), "score-0 leads skip the cooling period")

	young := ScoreRecord{CurrentScore: 5, CreatedAt: now.Add(-time.Hour)}
	assert.False(t, young.Cooled(now, cooling))

	exact := ScoreRecord{CurrentScore: 5, CreatedAt: now.Add(-cooling)}
	assert.True(t, exact.Cooled(now, cooling))
}

func TestScoreRecordCallable(t *testing.T) {
	later := now.Add(time.Minute)
	assert.True(t, ScoreRecord{}.Callable(now))
	assert.True(t, ScoreRecord{NextCallAfter: &now}.Callable(now))
	assert.False(t, ScoreRecord{NextCallAfter: &later}.Callable(now))
}

func TestCallbackAsEntry(t *testing.T) {
	agent := "agent-2"
	cb := Callback{
		ID:               9,
		UserID:           3,
		ScheduledFor:     now.Add(-time.Minute),
		CallbackReason:   "wants a call after work",
		PreferredAgentID: &agent,
		Status:           CallbackPending,
	}

	e := cb.AsEntry(QueueOutstandingRequests)
	assert.Equal(t, CallbackPriority, e.PriorityScore)
	assert.Equal(t, SourceCallback, e.Source)
	assert.Equal(t, QueueOutstandingRequests, e.QueueType)
	require.NotNil(t, e.CallbackID)
	assert.Equal(t, int64(9), *e.CallbackID)
	assert.Equal(t, "Scheduled callback: wants a call after work", e.QueueReason)

	a := e.ToAssignment()
	assert.Equal(t, SourceCallback, a.Source)
	assert.Equal(t, int64(3), a.UserID)
}

func TestIneligibilityReason(t *testing.T) {
	tests := map[string]struct {
		state UserState
		queue QueueType
		want  string
	}{
		"missing user":           {UserState{}, QueueUnsignedUsers, "user not found in replica"},
		"disabled":               {UserState{Found: true}, QueueOutstandingRequests, "user disabled"},
		"signed since":           {UserState{Found: true, Enabled: true, HasSignature: true, OpenClaims: 1}, QueueUnsignedUsers, "no longer missing signature"},
		"claims closed":          {UserState{Found: true, Enabled: true}, QueueUnsignedUsers, "no open claims"},
		"signature removed":      {UserState{Found: true, Enabled: true, PendingReqs: 2}, QueueOutstandingRequests, "signature missing"},
		"requirements fulfilled": {UserState{Found: true, Enabled: true, HasSignature: true}, QueueOutstandingRequests, "no outstanding requirements"},
		"still eligible":         {UserState{Found: true, Enabled: true, OpenClaims: 1}, QueueUnsignedUsers, "no longer eligible for unsigned_users"},
	}
	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.state.IneligibilityReason(tt.queue))
		})
	}
}

func TestCandidateDecorate(t *testing.T) {
	claim := int64(44)
	existing := int64(1)

	e := QueueEntry{}
	OutstandingCandidate{
		CandidateBase:       CandidateBase{UserID: 1, ClaimID: &claim},
		RequirementTypes:    []string{"payslip"},
		TotalRequirements:   2,
		PendingRequirements: 1,
	}.Decorate(&e)
	require.NotNil(t, e.ClaimID)
	assert.Equal(t, claim, *e.ClaimID)
	assert.Equal(t, []string{"payslip"}, e.RequirementTypes)
	assert.Equal(t, 2, *e.TotalRequirements)

	kept := QueueEntry{ClaimID: &existing}
	UnsignedCandidate{CandidateBase: CandidateBase{UserID: 1, ClaimID: &claim}, SignatureMissingSince: now}.Decorate(&kept)
	assert.Equal(t, existing, *kept.ClaimID, "a claim already on the entry is kept")
	require.NotNil(t, kept.SignatureMissingSince)
	assert.Equal(t, now, *kept.SignatureMissingSince)
}

func TestQueueTypes(t *testing.T) {
	q, err := ParseQueueType(" Unsigned ")
	require.NoError(t, err)
	assert.Equal(t, QueueUnsignedUsers, q)

	q, err = ParseQueueType("outstanding_requests")
	require.NoError(t, err)
	assert.Equal(t, QueueOutstandingRequests, q)

	_, err = ParseQueueType("vip")
	assert.Error(t, err)

	table, err := QueueOutstandingRequests.SnapshotTable()
	require.NoError(t, err)
	assert.Equal(t, "outstanding_requests_queue", table)

	_, err = QueueType("users; DROP TABLE x").SnapshotTable()
	assert.Error(t, err)

	assert.Equal(t, []QueueType{QueueUnsignedUsers, QueueOutstandingRequests}, RoutingOrder)
}

func TestMigrationPhase(t *testing.T) {
	p, err := ParseMigrationPhase("")
	require.NoError(t, err)
	assert.Equal(t, PhaseLive, p)

	p, err = ParseMigrationPhase("Generation")
	require.NoError(t, err)
	assert.True(t, p.GeneratesQueues())
	assert.False(t, p.ServesAgents())

	p, err = ParseMigrationPhase("scoring")
	require.NoError(t, err)
	assert.False(t, p.GeneratesQueues())

	assert.True(t, PhaseLive.ServesAgents())

	_, err = ParseMigrationPhase("legacy")
	assert.Error(t, err)
}

func TestEventRoutingKeys(t *testing.T) {
	assert.Equal(t, "dialler.event.unsigned_users.assigned", EventRoutingKey(QueueUnsignedUsers, EventLeadAssigned))
	assert.Equal(t, "dialler.command.regenerate.outstanding_requests", RegenerateRoutingKey(QueueOutstandingRequests))
}

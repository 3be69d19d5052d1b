package db

import (
	"math"
	"strings"
	"testing"
	"time"

	"github.com/Guizzs26/go-lead-dialler/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// squash collapses whitespace so assertions do not depend on query indentation
func squash(q string) string {
	return strings.Join(strings.Fields(q), " ")
}

func TestAgeScoresQuery(t *testing.T) {
	q := squash(ageScoresQuery)

	assert.Contains(t, q, "SET current_score = current_score + 1")
	assert.Contains(t, q, "WHERE is_active AND current_score < $1", "frozen and inactive records are not aged")
	assert.Contains(t, q, "COUNT(*) FILTER (WHERE current_score >= $1)")
	assert.NotContains(t, q, "$3")
}

func TestSelectCandidatesQuery(t *testing.T) {
	q := squash(selectCandidatesQuery)

	tests := map[string]string{
		"queue type":          "current_queue_type = $1",
		"active only":         "AND is_active",
		"cooldown elapsed":    "(next_call_after IS NULL OR next_call_after <= $2)",
		"cooling period":      "(current_score = 0 OR created_at <= $3)",
		"ranking":             "ORDER BY current_score ASC, created_at DESC, user_id ASC",
		"window":              "LIMIT $4",
		"pre-limit eligibles": "COUNT(*) OVER ()",
	}
	for name, clause := range tests {
		t.Run(name, func(t *testing.T) {
			assert.Contains(t, q, clause)
		})
	}

	assert.Less(t, strings.Index(q, "COUNT(*) OVER ()"), strings.Index(q, "FROM user_call_scores"),
		"the eligible count is the last scanned column")
}

func TestSelectionArgs(t *testing.T) {
	now := time.Date(2026, 10, 19, 10, 0, 0, 0, time.UTC)
	f := models.SelectionFilter{
		QueueType:     models.QueueOutstandingRequests,
		Now:           now,
		CoolingCutoff: now.Add(-2 * time.Hour),
		Limit:         100,
	}

	args := selectionArgs(f)
	require.Len(t, args, 4)
	assert.Equal(t, "outstanding_requests", args[0])
	assert.Equal(t, now, args[1])
	assert.Equal(t, now.Add(-2*time.Hour), args[2])
	assert.Equal(t, 100, args[3])

	f.Limit = 0
	assert.Equal(t, math.MaxInt32, selectionArgs(f)[3], "no limit selects everything")
}

func TestNextDueCallbackQuery(t *testing.T) {
	q := squash(nextDueCallbackQuery)

	assert.Contains(t, q, "WHERE status = 'pending'")
	assert.Contains(t, q, "scheduled_for <= $1")
	assert.Contains(t, q, "$2::text = '' OR preferred_agent_id IS NULL OR preferred_agent_id = '' OR preferred_agent_id = $2",
		"previews see every callback, agents see their own and unreserved ones")
	assert.Contains(t, q, "ORDER BY scheduled_for ASC, id ASC LIMIT 1")
}

func TestSchemaCoversQueueRegistry(t *testing.T) {
	for q, table := range models.QueueRegistry {
		assert.Contains(t, schemaSQL, table, "snapshot table of %s", q)
	}
	assert.Contains(t, schemaSQL, "user_call_scores")
	assert.Contains(t, schemaSQL, "scheduled_callbacks")
}

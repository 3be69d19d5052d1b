package models

import "time"

const (
	// NewLeadScore is the score of a freshly discovered lead (top priority)
	NewLeadScore = 0
	// DefaultScoreCeiling marks a lead as fully aged ("frozen")
	DefaultScoreCeiling = 200
)

// ScoreRecord represents a row in the user_call_scores table, one per user
type ScoreRecord struct {
	UserID           int64      `db:"user_id"`
	CurrentScore     int        `db:"current_score"`
	CurrentQueueType *QueueType `db:"current_queue_type"` // nil: not eligible for any queue
	IsActive         bool       `db:"is_active"`
	NextCallAfter    *time.Time `db:"next_call_after"`
	LastOutcome      string     `db:"last_outcome"`
	CreatedAt        time.Time  `db:"created_at"`
	UpdatedAt        time.Time  `db:"updated_at"`
}

// Callable reports whether the record's cooldown has passed at now
func (r ScoreRecord) Callable(now time.Time) bool {
	return r.NextCallAfter == nil || !r.NextCallAfter.After(now)
}

// Cooled reports whether the record is old enough to enter a snapshot.
// Score-0 leads are exempt from the cooling period
func (r ScoreRecord) Cooled(now time.Time, coolingPeriod time.Duration) bool {
	if r.CurrentScore == NewLeadScore {
		return true
	}
	return !r.CreatedAt.After(now.Add(-coolingPeriod))
}

// ScoreReason maps a score band to the human readable queue reason
func ScoreReason(score int) string {
	switch {
	case score <= NewLeadScore:
		return "New lead"
	case score <= 7:
		return "High priority"
	case score <= 30:
		return "Medium priority"
	case score < DefaultScoreCeiling:
		return "Aged lead"
	default:
		return "Frozen lead"
	}
}

// LeadUpsert is the minimal payload the scoring engine writes for a discovered candidate
type LeadUpsert struct {
	UserID    int64
	QueueType QueueType
}

// UpsertOutcome reports how a batch of discovered candidates landed in the score store
type UpsertOutcome struct {
	Inserted int
	Existing int
}

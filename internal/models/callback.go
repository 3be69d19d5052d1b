package models

import "time"

type CallbackStatus string

const (
	CallbackPending  CallbackStatus = "pending"
	CallbackConsumed CallbackStatus = "consumed"
)

// Callback represents a row in the scheduled_callbacks table.
// Rows are written by the agent-facing application; the dialler only reads and consumes them
type Callback struct {
	ID                    int64          `db:"id"`
	UserID                int64          `db:"user_id"`
	ScheduledFor          time.Time      `db:"scheduled_for"`
	CallbackReason        string         `db:"callback_reason"`
	PreferredAgentID      *string        `db:"preferred_agent_id"`
	OriginalCallSessionID string         `db:"original_call_session_id"`
	Status                CallbackStatus `db:"status"`
}

// AsEntry synthesizes the pseudo snapshot entry that carries a callback to the agent
func (c Callback) AsEntry(queueType QueueType) QueueEntry {
	id := c.ID
	reason := "Scheduled callback"
	if c.CallbackReason != "" {
		reason = "Scheduled callback: " + c.CallbackReason
	}
	return QueueEntry{
		QueueType:     queueType,
		UserID:        c.UserID,
		PriorityScore: CallbackPriority,
		QueuePosition: 0,
		Status:        StatusAssigned,
		QueueReason:   reason,
		AvailableFrom: c.ScheduledFor,
		CreatedAt:     c.ScheduledFor,
		Source:        SourceCallback,
		CallbackID:    &id,
	}
}

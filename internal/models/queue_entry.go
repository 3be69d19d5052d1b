package models

import (
	"math"
	"time"
)

type EntryStatus string

const (
	StatusPending   EntryStatus = "pending"
	StatusAssigned  EntryStatus = "assigned"
	StatusCompleted EntryStatus = "completed"
	StatusSkipped   EntryStatus = "skipped"
	StatusInactive  EntryStatus = "inactive"
)

// EntrySource tells whether a dequeued entry came from a snapshot table or a callback
type EntrySource string

const (
	SourceSnapshot EntrySource = "snapshot"
	SourceCallback EntrySource = "callback"
)

// CallbackPriority is the priority of a synthesized callback entry; it outranks every score
const CallbackPriority = math.MinInt32

// QueueEntry represents a row in one of the snapshot tables.
// Queue-type specific columns are nil for the other queue type
type QueueEntry struct {
	ID              int64       `db:"id"`
	QueueType       QueueType   `db:"-"`
	UserID          int64       `db:"user_id"`
	ClaimID         *int64      `db:"claim_id"`
	PriorityScore   int         `db:"priority_score"`
	QueuePosition   int         `db:"queue_position"`
	Status          EntryStatus `db:"status"`
	QueueReason     string      `db:"queue_reason"`
	AssignedToAgent *string     `db:"assigned_to_agent"`
	AssignedAt      *time.Time  `db:"assigned_at"`
	AvailableFrom   time.Time   `db:"available_from"`
	CreatedAt       time.Time   `db:"created_at"`
	UpdatedAt       time.Time   `db:"updated_at"`

	// unsigned_users
	SignatureMissingSince *time.Time `db:"signature_missing_since"`

	// outstanding_requests
	RequirementTypes    []string `db:"requirement_types"`
	TotalRequirements   *int     `db:"total_requirements"`
	PendingRequirements *int     `db:"pending_requirements"`

	// Set only on entries synthesized from a callback
	Source     EntrySource `db:"-"`
	CallbackID *int64      `db:"-"`
}

// QueueStats holds per-status row counts of one snapshot table
type QueueStats struct {
	QueueType QueueType `json:"queue_type"`
	Pending   int       `json:"pending"`
	Assigned  int       `json:"assigned"`
	Completed int       `json:"completed"`
	Skipped   int       `json:"skipped"`
	Inactive  int       `json:"inactive"`
}

func (s QueueStats) Total() int {
	return s.Pending + s.Assigned + s.Completed + s.Skipped + s.Inactive
}

// CallAssignment is the response handed to the agent-facing application
type CallAssignment struct {
	UserID        int64       `json:"user_id"`
	ClaimID       *int64      `json:"claim_id,omitempty"`
	QueuePosition int         `json:"queue_position"`
	QueueEntryID  int64       `json:"queue_entry_id"`
	QueueType     QueueType   `json:"queue_type"`
	Source        EntrySource `json:"source"`
	CallbackID    *int64      `json:"callback_id,omitempty"`
	Reason        string      `json:"reason"`
}

// ToAssignment projects a dequeued entry into the agent response shape
func (e QueueEntry) ToAssignment() CallAssignment {
	source := e.Source
	if source == "" {
		source = SourceSnapshot
	}
	return CallAssignment{
		UserID:        e.UserID,
		ClaimID:       e.ClaimID,
		QueuePosition: e.QueuePosition,
		QueueEntryID:  e.ID,
		QueueType:     e.QueueType,
		Source:        source,
		CallbackID:    e.CallbackID,
		Reason:        e.QueueReason,
	}
}

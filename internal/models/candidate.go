package models

import "time"

// Requirement types that never make a user an outstanding-requests lead
var ExcludedRequirementTypes = []string{"signature", "vehicle_registration", "letter_of_authority"}

const (
	IDDocumentRequirement = "id_document"
	// BaseRequirementReason marks the generic id_document requirement created with every claim
	BaseRequirementReason = "base requirement for claim"
)

// ScoredCandidate is a user returned by a queue type's eligibility predicate
type ScoredCandidate interface {
	Base() CandidateBase
	QueueType() QueueType
	// Decorate copies the queue-type specific fields onto a snapshot entry
	Decorate(entry *QueueEntry)
}

// CandidateBase holds the fields shared by every candidate variant
type CandidateBase struct {
	UserID  int64
	ClaimID *int64
}

// UnsignedCandidate is an enabled user with an open claim and no signature on file
type UnsignedCandidate struct {
	CandidateBase
	SignatureMissingSince time.Time
}

func (c UnsignedCandidate) Base() CandidateBase  { return c.CandidateBase }
func (c UnsignedCandidate) QueueType() QueueType { return QueueUnsignedUsers }

func (c UnsignedCandidate) Decorate(entry *QueueEntry) {
	if entry.ClaimID == nil {
		entry.ClaimID = c.ClaimID
	}
	if !c.SignatureMissingSince.IsZero() {
		since := c.SignatureMissingSince
		entry.SignatureMissingSince = &since
	}
}

// OutstandingCandidate is a signed user with at least one pending, relevant claim requirement
type OutstandingCandidate struct {
	CandidateBase
	RequirementTypes    []string
	TotalRequirements   int
	PendingRequirements int
}

func (c OutstandingCandidate) Base() CandidateBase  { return c.CandidateBase }
func (c OutstandingCandidate) QueueType() QueueType { return QueueOutstandingRequests }

func (c OutstandingCandidate) Decorate(entry *QueueEntry) {
	if entry.ClaimID == nil {
		entry.ClaimID = c.ClaimID
	}
	entry.RequirementTypes = append([]string(nil), c.RequirementTypes...)
	total, pending := c.TotalRequirements, c.PendingRequirements
	entry.TotalRequirements = &total
	entry.PendingRequirements = &pending
}

// UserState is the live replica view used to explain why a user left a queue
type UserState struct {
	UserID       int64
	Found        bool
	Enabled      bool
	HasSignature bool
	OpenClaims   int
	PendingReqs  int
}

// IneligibilityReason describes why the user no longer belongs to queueType
func (s UserState) IneligibilityReason(queueType QueueType) string {
	switch {
	case !s.Found:
		return "user not found in replica"
	case !s.Enabled:
		return "user disabled"
	}

	switch queueType {
	case QueueUnsignedUsers:
		if s.HasSignature {
			return "no longer missing signature"
		}
		if s.OpenClaims == 0 {
			return "no open claims"
		}
	case QueueOutstandingRequests:
		if !s.HasSignature {
			return "signature missing"
		}
		if s.PendingReqs == 0 {
			return "no outstanding requirements"
		}
	}
	return "no longer eligible for " + string(queueType)
}

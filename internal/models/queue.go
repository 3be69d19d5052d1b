package models

import (
	"fmt"
	"strings"
)

// QueueType classifies why a user needs a call
type QueueType string

const (
	QueueUnsignedUsers       QueueType = "unsigned_users"
	QueueOutstandingRequests QueueType = "outstanding_requests"
)

// QueueRegistry maps each queue type to its snapshot table.
// Table names are never taken from input; only entries in this registry reach SQL
var QueueRegistry = map[QueueType]string{
	QueueUnsignedUsers:       "unsigned_users_queue",
	QueueOutstandingRequests: "outstanding_requests_queue",
}

// RoutingOrder is the fixed order the router tries queue types in when none is requested
var RoutingOrder = []QueueType{QueueUnsignedUsers, QueueOutstandingRequests}

// ParseQueueType accepts the canonical names and a few operator-friendly aliases
func ParseQueueType(s string) (QueueType, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "unsigned_users", "unsigned":
		return QueueUnsignedUsers, nil
	case "outstanding_requests", "outstanding":
		return QueueOutstandingRequests, nil
	default:
		return "", fmt.Errorf("unknown queue type %q", s)
	}
}

func (q QueueType) Valid() bool {
	_, ok := QueueRegistry[q]
	return ok
}

// SnapshotTable returns the whitelisted snapshot table for the queue type
func (q QueueType) SnapshotTable() (string, error) {
	table, ok := QueueRegistry[q]
	if !ok {
		return "", fmt.Errorf("queue type %q has no snapshot table", q)
	}
	return table, nil
}

func (q QueueType) String() string { return string(q) }

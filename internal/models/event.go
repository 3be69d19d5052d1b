package models

import (
	"fmt"
	"time"
)

// Event kinds published to the broker
const (
	EventQueueRegenerated = "regenerated"
	EventLeadAssigned     = "assigned"
	EventLeadDeactivated  = "deactivated"
)

// QueueEvent is the JSON message the dialler publishes for downstream consumers
// (notification sender, reporting). It is informational; nothing in the core waits on it
type QueueEvent struct {
	EventID   string         `json:"event_id"`
	Kind      string         `json:"kind"`
	QueueType QueueType      `json:"queue_type"`
	UserID    int64          `json:"user_id,omitempty"`
	ClaimID   *int64         `json:"claim_id,omitempty"`
	AgentID   string         `json:"agent_id,omitempty"`
	Reason    string         `json:"reason,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
	Data      map[string]any `json:"data,omitempty"`
}

// RegenerateCommand asks the dialler to rebuild one snapshot out of cycle
type RegenerateCommand struct {
	QueueType   QueueType `json:"queue_type"`
	RequestedBy string    `json:"requested_by"`
}

// EventRoutingKey builds "dialler.event.<queue_type>.<kind>"
func EventRoutingKey(q QueueType, kind string) string {
	return fmt.Sprintf("dialler.event.%s.%s", q, kind)
}

// RegenerateRoutingKey builds the command key consumed by the level monitor
func RegenerateRoutingKey(q QueueType) string {
	return "dialler.command.regenerate." + string(q)
}

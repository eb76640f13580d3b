// Events emitted for external audit consumers.
package contracts

import "time"

// EventType names a state transition.
type EventType string

const (
	EventSubmitted          EventType = "submitted"
	EventQueued             EventType = "queued"
	EventConfirmed          EventType = "confirmed"
	EventRevoked            EventType = "revoked"
	EventExecuted           EventType = "executed"
	EventExecutionFailed    EventType = "execution_failed"
	EventCancelled          EventType = "cancelled"
	EventExpired            EventType = "expired"
	EventOwnerAdded         EventType = "owner_added"
	EventOwnerRemoved       EventType = "owner_removed"
	EventAdminAdded         EventType = "admin_added"
	EventAdminRemoved       EventType = "admin_removed"
	EventQuorumChanged      EventType = "quorum_changed"
	EventTiersChanged       EventType = "tiers_changed"
	EventSafeModeChanged    EventType = "safe_mode_changed"
	EventEmergencyProposed  EventType = "emergency_proposed"
	EventEmergencyExecuted  EventType = "emergency_executed"
	EventEmergencyCancelled EventType = "emergency_cancelled"
)

// Event is a single observable state transition.
//
//nolint:govet // fieldalignment: struct layout is human-readable
type Event struct {
	ID       string         `json:"id"`
	Type     EventType      `json:"type"`
	Lane     Lane           `json:"lane,omitempty"`
	ActionID uint64         `json:"action_id,omitempty"`
	Actor    string         `json:"actor"`
	At       time.Time      `json:"at"`
	Data     map[string]any `json:"data,omitempty"`
}

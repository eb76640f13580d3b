package contracts

import (
	"time"

	"github.com/Mindburn-Labs/vault/pkg/canonicalize"
)

// State is the lifecycle state of an action.
//
// Only Pending, Executed and Cancelled are ever stored. Ready and Expired are
// derived from the clock, the confirmation count and the current tier policy.
type State string

const (
	StatePending   State = "PENDING"
	StateReady     State = "READY"
	StateExecuted  State = "EXECUTED"
	StateCancelled State = "CANCELLED"
	StateExpired   State = "EXPIRED"
)

// Lane separates owner-confirmed actions from the emergency path.
// Each lane has its own id sequence.
type Lane string

const (
	LaneStandard  Lane = "standard"
	LaneEmergency Lane = "emergency"
)

// Valid reports whether l is a known lane.
func (l Lane) Valid() bool {
	return l == LaneStandard || l == LaneEmergency
}

// Action is the unit of work authorized by the owners.
//
// Emergency actions share this shape; they live in LaneEmergency, carry a
// fixed delay and grace period, and record the owner who queued them in
// Proposer.
//
//nolint:govet // fieldalignment: struct layout is human-readable
type Action struct {
	ID            uint64        `json:"id"`
	Lane          Lane          `json:"lane"`
	Target        string        `json:"target"`
	Value         uint64        `json:"value"`
	Payload       []byte        `json:"payload,omitempty"`
	State         State         `json:"state"`
	Confirmations int           `json:"confirmations"`
	Proposer      string        `json:"proposer"`
	CreatedAt     time.Time     `json:"created_at"`
	ETA           time.Time     `json:"eta,omitempty"`
	GracePeriod   time.Duration `json:"grace_period,omitempty"`
	ExecutedAt    time.Time     `json:"executed_at,omitempty"`
	CancelledAt   time.Time     `json:"cancelled_at,omitempty"`

	// Version increases on every stored mutation; stores use it for
	// compare-and-swap updates.
	Version uint64 `json:"version"`
}

// Timelocked reports whether the action was queued with an ETA.
func (a *Action) Timelocked() bool {
	return !a.ETA.IsZero()
}

// Expiry returns eta + grace period, or the zero time for actions without a timelock.
func (a *Action) Expiry() time.Time {
	if !a.Timelocked() {
		return time.Time{}
	}
	return a.ETA.Add(a.GracePeriod)
}

// Terminal reports whether the stored state can no longer change.
func (a *Action) Terminal() bool {
	return a.State == StateExecuted || a.State == StateCancelled
}

// ExpiredAt reports whether a non-terminal timelocked action is past its expiry at now.
func (a *Action) ExpiredAt(now time.Time) bool {
	if a.Terminal() || !a.Timelocked() {
		return false
	}
	return now.After(a.Expiry())
}

// StatusAt derives the observable state at now, given the number of
// confirmations currently required for the action's value.
func (a *Action) StatusAt(now time.Time, required int) State {
	if a.Terminal() {
		return a.State
	}
	if a.ExpiredAt(now) {
		return StateExpired
	}
	if a.Timelocked() && now.Before(a.ETA) {
		return StatePending
	}
	if a.Lane == LaneStandard && a.Confirmations < required {
		return StatePending
	}
	return StateReady
}

// Clone returns a deep copy.
func (a Action) Clone() Action {
	if a.Payload != nil {
		p := make([]byte, len(a.Payload))
		copy(p, a.Payload)
		a.Payload = p
	}
	return a
}

// Digest identifies the action content the owners are authorizing: a
// Keccak-256 over the canonical encoding of lane, id, target, value and payload.
func (a *Action) Digest() string {
	d, err := canonicalize.Keccak256(struct {
		Lane    Lane   `json:"lane"`
		ID      uint64 `json:"id"`
		Target  string `json:"target"`
		Value   uint64 `json:"value"`
		Payload []byte `json:"payload"`
	}{a.Lane, a.ID, a.Target, a.Value, a.Payload})
	if err != nil {
		return ""
	}
	return d
}

// ActionView is an action as observed at a point in time.
type ActionView struct {
	Action
	Status                State     `json:"status"`
	RequiredConfirmations int       `json:"required_confirmations"`
	ConfirmedBy           []string  `json:"confirmed_by,omitempty"`
	Expiry                time.Time `json:"expiry,omitempty"`
	Digest                string    `json:"digest"`
}

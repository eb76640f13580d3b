package contracts

import (
	"encoding/json"
	"fmt"
)

// RegistryTarget is the reserved action target for owner-registry and tier
// changes routed through the confirmation pipeline. Actions with this target
// are applied by the engine itself, never by the external executor.
const RegistryTarget = "vault:registry"

// RegistryOp names a privileged configuration change.
type RegistryOp string

const (
	OpAddOwner    RegistryOp = "add_owner"
	OpRemoveOwner RegistryOp = "remove_owner"
	OpSetQuorum   RegistryOp = "set_quorum"
	OpAddAdmin    RegistryOp = "add_admin"
	OpRemoveAdmin RegistryOp = "remove_admin"
	OpSetTiers    RegistryOp = "set_tiers"
)

// RegistryChange is the payload of a RegistryTarget action.
type RegistryChange struct {
	Op     RegistryOp `json:"op"`
	Member string     `json:"member,omitempty"`
	Quorum int        `json:"quorum,omitempty"`
	Tiers  []Tier     `json:"tiers,omitempty"`
}

// Validate checks that the fields required by Op are present. It does not
// check the change against the current registry.
func (c RegistryChange) Validate() error {
	switch c.Op {
	case OpAddOwner, OpRemoveOwner:
		if c.Member == "" {
			return fmt.Errorf("%w: %s requires a member", ErrInvalidOwner, c.Op)
		}
		if c.Quorum < 1 {
			return fmt.Errorf("%w: %s requires the resulting quorum", ErrQuorumViolation, c.Op)
		}
	case OpAddAdmin, OpRemoveAdmin:
		if c.Member == "" {
			return fmt.Errorf("%w: %s requires a member", ErrInvalidOwner, c.Op)
		}
	case OpSetQuorum:
		if c.Quorum < 1 {
			return fmt.Errorf("%w: quorum must be at least 1", ErrQuorumViolation)
		}
	case OpSetTiers:
		return ValidateTiers(c.Tiers)
	default:
		return fmt.Errorf("%w: unknown registry op %q", ErrInvalidTarget, c.Op)
	}
	return nil
}

// Encode returns the JSON payload for a RegistryTarget action.
func (c RegistryChange) Encode() ([]byte, error) {
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return json.Marshal(c)
}

// DecodeRegistryChange parses and validates a RegistryTarget payload.
func DecodeRegistryChange(payload []byte) (RegistryChange, error) {
	var c RegistryChange
	if err := json.Unmarshal(payload, &c); err != nil {
		return RegistryChange{}, fmt.Errorf("%w: malformed registry change: %v", ErrInvalidTarget, err)
	}
	if err := c.Validate(); err != nil {
		return RegistryChange{}, err
	}
	return c, nil
}

// Package registry holds the owner set, the admin set and the base quorum.
//
// A Registry is a plain value: it is loaded from and saved to the action
// ledger inside the same transaction as the operation that mutates it, so the
// ledger's serialization is what makes mutations atomic.
package registry

import (
	"fmt"
	"slices"
	"strings"

	"golang.org/x/text/unicode/norm"

	"github.com/Mindburn-Labs/vault/pkg/contracts"
)

// Registry is the set of principals entitled to confirm actions.
//
// Admins may additionally trigger execution and cancellation of timelocked
// actions; they never count towards confirmations.
type Registry struct {
	Owners []string `json:"owners"`
	Admins []string `json:"admins,omitempty"`
	Quorum int      `json:"quorum"`
}

// Normalize canonicalizes a principal identifier (trimmed, NFC).
func Normalize(id string) string {
	return norm.NFC.String(strings.TrimSpace(id))
}

// New builds a registry, enforcing every invariant.
func New(owners []string, quorum int) (*Registry, error) {
	r := &Registry{Quorum: quorum}
	for _, o := range owners {
		id := Normalize(o)
		if id == "" {
			return nil, fmt.Errorf("%w: empty owner id", contracts.ErrInvalidOwner)
		}
		if slices.Contains(r.Owners, id) {
			return nil, fmt.Errorf("%w: duplicate owner %q", contracts.ErrInvalidOwner, id)
		}
		r.Owners = append(r.Owners, id)
	}
	if err := r.Validate(); err != nil {
		return nil, err
	}
	return r, nil
}

// Validate checks the registry invariants.
func (r *Registry) Validate() error {
	if len(r.Owners) == 0 {
		return fmt.Errorf("%w: owner set is empty", contracts.ErrQuorumViolation)
	}
	seen := make(map[string]struct{}, len(r.Owners))
	for _, o := range r.Owners {
		if o == "" {
			return fmt.Errorf("%w: empty owner id", contracts.ErrInvalidOwner)
		}
		if _, dup := seen[o]; dup {
			return fmt.Errorf("%w: duplicate owner %q", contracts.ErrInvalidOwner, o)
		}
		seen[o] = struct{}{}
	}
	return checkQuorum(r.Quorum, len(r.Owners))
}

func checkQuorum(quorum, owners int) error {
	if quorum < 1 || quorum > owners {
		return fmt.Errorf("%w: quorum %d outside [1, %d]", contracts.ErrQuorumViolation, quorum, owners)
	}
	return nil
}

// IsOwner reports whether id is a registered owner.
func (r *Registry) IsOwner(id string) bool {
	return slices.Contains(r.Owners, Normalize(id))
}

// IsAdmin reports whether id holds the admin role.
func (r *Registry) IsAdmin(id string) bool {
	return slices.Contains(r.Admins, Normalize(id))
}

// Clone returns a deep copy.
func (r *Registry) Clone() *Registry {
	return &Registry{
		Owners: slices.Clone(r.Owners),
		Admins: slices.Clone(r.Admins),
		Quorum: r.Quorum,
	}
}

func (r *Registry) authorize(caller string) error {
	if !r.IsOwner(caller) {
		return fmt.Errorf("%w: %q", contracts.ErrNotOwner, caller)
	}
	return nil
}

// addOwner adds id and sets the quorum to newQuorum. The registry is left
// untouched if any check fails.
func (r *Registry) addOwner(id string, newQuorum int) error {
	id = Normalize(id)
	if id == "" {
		return fmt.Errorf("%w: empty owner id", contracts.ErrInvalidOwner)
	}
	if slices.Contains(r.Owners, id) {
		return fmt.Errorf("%w: %q is already an owner", contracts.ErrInvalidOwner, id)
	}
	if err := checkQuorum(newQuorum, len(r.Owners)+1); err != nil {
		return err
	}
	r.Owners = append(r.Owners, id)
	r.Quorum = newQuorum
	return nil
}

// removeOwner removes id and sets the quorum to newQuorum. Removing the last
// owner is always rejected.
func (r *Registry) removeOwner(id string, newQuorum int) error {
	id = Normalize(id)
	idx := slices.Index(r.Owners, id)
	if id == "" || idx < 0 {
		return fmt.Errorf("%w: %q is not an owner", contracts.ErrInvalidOwner, id)
	}
	if len(r.Owners) == 1 {
		return fmt.Errorf("%w: cannot remove the last owner", contracts.ErrQuorumViolation)
	}
	if err := checkQuorum(newQuorum, len(r.Owners)-1); err != nil {
		return err
	}
	r.Owners = slices.Delete(r.Owners, idx, idx+1)
	r.Quorum = newQuorum
	return nil
}

func (r *Registry) setQuorum(newQuorum int) error {
	if err := checkQuorum(newQuorum, len(r.Owners)); err != nil {
		return err
	}
	r.Quorum = newQuorum
	return nil
}

func (r *Registry) addAdmin(id string) error {
	id = Normalize(id)
	if id == "" {
		return fmt.Errorf("%w: empty admin id", contracts.ErrInvalidOwner)
	}
	if slices.Contains(r.Admins, id) {
		return fmt.Errorf("%w: %q is already an admin", contracts.ErrInvalidOwner, id)
	}
	r.Admins = append(r.Admins, id)
	return nil
}

func (r *Registry) removeAdmin(id string) error {
	idx := slices.Index(r.Admins, Normalize(id))
	if idx < 0 {
		return fmt.Errorf("%w: %q is not an admin", contracts.ErrInvalidOwner, id)
	}
	r.Admins = slices.Delete(r.Admins, idx, idx+1)
	return nil
}

// Apply performs a registry change on behalf of caller. Tier changes are not
// registry changes and are rejected here.
func (r *Registry) Apply(caller string, c contracts.RegistryChange) error {
	if err := r.authorize(caller); err != nil {
		return err
	}
	return r.Commit(c)
}

// Commit performs a registry change that was already authorized, typically
// by an executed action with enough owner confirmations.
func (r *Registry) Commit(c contracts.RegistryChange) error {
	switch c.Op {
	case contracts.OpAddOwner:
		return r.addOwner(c.Member, c.Quorum)
	case contracts.OpRemoveOwner:
		return r.removeOwner(c.Member, c.Quorum)
	case contracts.OpSetQuorum:
		return r.setQuorum(c.Quorum)
	case contracts.OpAddAdmin:
		return r.addAdmin(c.Member)
	case contracts.OpRemoveAdmin:
		return r.removeAdmin(c.Member)
	default:
		return fmt.Errorf("%w: %q is not a registry op", contracts.ErrInvalidTarget, c.Op)
	}
}

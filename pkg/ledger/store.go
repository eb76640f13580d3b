// Package ledger is the durable record of actions, their confirmations and
// the engine settings (owner registry, tier table, safe mode).
//
// Every mutation runs inside Store.InTx, which is serialized against all other
// mutations on the same store. Action rows additionally carry a version used
// for compare-and-swap updates, so a writer that read stale state fails with
// contracts.ErrConflict instead of overwriting a concurrent transition.
package ledger

import (
	"context"
	"time"

	"github.com/Mindburn-Labs/vault/pkg/contracts"
	"github.com/Mindburn-Labs/vault/pkg/registry"
)

// Settings is the engine configuration that changes at runtime and must be
// mutated atomically with the actions that change it.
type Settings struct {
	Registry registry.Registry `json:"registry"`
	Tiers    []contracts.Tier  `json:"tiers"`
	SafeMode bool              `json:"safe_mode"`
}

// Clone returns a deep copy.
func (s Settings) Clone() Settings {
	return Settings{
		Registry: *s.Registry.Clone(),
		Tiers:    contracts.CloneTiers(s.Tiers),
		SafeMode: s.SafeMode,
	}
}

// Filter narrows List results. Zero fields match everything.
type Filter struct {
	Lane  contracts.Lane
	State contracts.State
}

// Tx is the view of the ledger inside a transaction.
type Tx interface {
	// NextID allocates the next id of lane. Ids start at 1.
	NextID(ctx context.Context, lane contracts.Lane) (uint64, error)
	// Insert stores a new action at version 1.
	Insert(ctx context.Context, a *contracts.Action) error
	// Get returns the action, or contracts.ErrNotFound.
	Get(ctx context.Context, lane contracts.Lane, id uint64) (contracts.Action, error)
	// Update writes a if the stored version equals a.Version, then bumps
	// a.Version. A stale version yields contracts.ErrConflict.
	Update(ctx context.Context, a *contracts.Action) error
	// List returns matching actions, standard lane first, ascending by id.
	List(ctx context.Context, f Filter) ([]contracts.Action, error)

	// AddConfirmation records (id, owner) or fails with contracts.ErrAlreadyConfirmed.
	AddConfirmation(ctx context.Context, id uint64, owner string, at time.Time) error
	// RemoveConfirmation deletes (id, owner) or fails with contracts.ErrNotConfirmed.
	RemoveConfirmation(ctx context.Context, id uint64, owner string) error
	// Confirmers returns the owners who confirmed id, sorted.
	Confirmers(ctx context.Context, id uint64) ([]string, error)
	// ConfirmedBy returns the ids owner has confirmed, ascending.
	ConfirmedBy(ctx context.Context, owner string) ([]uint64, error)

	// Settings returns the stored settings; ok is false before the first save.
	Settings(ctx context.Context) (s Settings, ok bool, err error)
	SaveSettings(ctx context.Context, s Settings) error
}

// Store runs transactions against the ledger.
type Store interface {
	// InTx runs fn in a serializable read-write transaction. Any error from
	// fn rolls back every write fn made.
	InTx(ctx context.Context, fn func(Tx) error) error
	// View runs fn against a consistent read-only view.
	View(ctx context.Context, fn func(Tx) error) error
	Close() error
}

// Package tiers maps an action's value to the confirmations it needs and,
// optionally, to the delay range its timelock may use.
package tiers

import (
	"sync"

	"github.com/Mindburn-Labs/vault/pkg/contracts"
)

// Default is the reference table: below 10 needs 2, below 100 needs 3,
// anything else needs 4. Delay bounds fall back to the timelock policy.
func Default() []contracts.Tier {
	return []contracts.Tier{
		{Below: 10, RequiredConfirmations: 2},
		{Below: 100, RequiredConfirmations: 3},
		{RequiredConfirmations: 4},
	}
}

// Engine owns the current tier table. Lookups are pure functions of the
// table and the value; Replace swaps the whole table atomically.
type Engine struct {
	mu    sync.RWMutex
	bands []contracts.Tier
}

// New creates an engine over a validated copy of bands.
func New(bands []contracts.Tier) (*Engine, error) {
	if err := contracts.ValidateTiers(bands); err != nil {
		return nil, err
	}
	return &Engine{bands: contracts.CloneTiers(bands)}, nil
}

// band returns the first band whose upper bound exceeds value, else the top band.
func band(bands []contracts.Tier, value uint64) contracts.Tier {
	for _, b := range bands {
		if b.Below == 0 || value < b.Below {
			return b
		}
	}
	return bands[len(bands)-1]
}

// RequiredConfirmations returns the confirmation count required for value.
func (e *Engine) RequiredConfirmations(value uint64) int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return band(e.bands, value).RequiredConfirmations
}

// DelayBounds returns the band-specific delay range for value. ok is false
// when the band leaves delays to the global timelock policy.
func (e *Engine) DelayBounds(value uint64) (bounds contracts.DelayBounds, ok bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	b := band(e.bands, value)
	return b.Delay, !b.Delay.IsZero()
}

// Snapshot returns a copy of the current table.
func (e *Engine) Snapshot() []contracts.Tier {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return contracts.CloneTiers(e.bands)
}

// Replace validates and installs a new table.
func (e *Engine) Replace(bands []contracts.Tier) error {
	if err := contracts.ValidateTiers(bands); err != nil {
		return err
	}
	e.mu.Lock()
	e.bands = contracts.CloneTiers(bands)
	e.mu.Unlock()
	return nil
}

// MaxRequired returns the largest requirement in the table.
func (e *Engine) MaxRequired() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.bands[len(e.bands)-1].RequiredConfirmations
}

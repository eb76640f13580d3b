package ledger

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/Mindburn-Labs/vault/pkg/contracts"
)

var errReadOnly = errors.New("ledger: write in read-only view")

type actionKey struct {
	lane contracts.Lane
	id   uint64
}

// MemoryStore is an in-process Store. Transactions hold an exclusive lock for
// their whole duration and keep an undo journal that is replayed on error.
type MemoryStore struct {
	mu       sync.RWMutex
	seq      map[contracts.Lane]uint64
	actions  map[actionKey]contracts.Action
	confirms map[uint64]map[string]time.Time
	settings *Settings
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		seq:      make(map[contracts.Lane]uint64),
		actions:  make(map[actionKey]contracts.Action),
		confirms: make(map[uint64]map[string]time.Time),
	}
}

func (m *MemoryStore) InTx(ctx context.Context, fn func(Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	tx := &memTx{m: m}
	if err := fn(tx); err != nil {
		for i := len(tx.undo) - 1; i >= 0; i-- {
			tx.undo[i]()
		}
		return err
	}
	return nil
}

func (m *MemoryStore) View(ctx context.Context, fn func(Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return fn(&memTx{m: m, readOnly: true})
}

func (m *MemoryStore) Close() error { return nil }

type memTx struct {
	m        *MemoryStore
	readOnly bool
	undo     []func()
}

func (t *memTx) write() error {
	if t.readOnly {
		return errReadOnly
	}
	return nil
}

func (t *memTx) NextID(_ context.Context, lane contracts.Lane) (uint64, error) {
	if err := t.write(); err != nil {
		return 0, err
	}
	prev := t.m.seq[lane]
	t.m.seq[lane] = prev + 1
	t.undo = append(t.undo, func() { t.m.seq[lane] = prev })
	return prev + 1, nil
}

func (t *memTx) Insert(_ context.Context, a *contracts.Action) error {
	if err := t.write(); err != nil {
		return err
	}
	k := actionKey{a.Lane, a.ID}
	if _, exists := t.m.actions[k]; exists {
		return fmt.Errorf("%w: action %s/%d already exists", contracts.ErrConflict, a.Lane, a.ID)
	}
	a.Version = 1
	t.m.actions[k] = a.Clone()
	t.undo = append(t.undo, func() { delete(t.m.actions, k) })
	return nil
}

func (t *memTx) Get(_ context.Context, lane contracts.Lane, id uint64) (contracts.Action, error) {
	a, ok := t.m.actions[actionKey{lane, id}]
	if !ok {
		return contracts.Action{}, fmt.Errorf("%w: action %s/%d", contracts.ErrNotFound, lane, id)
	}
	return a.Clone(), nil
}

func (t *memTx) Update(_ context.Context, a *contracts.Action) error {
	if err := t.write(); err != nil {
		return err
	}
	k := actionKey{a.Lane, a.ID}
	prev, ok := t.m.actions[k]
	if !ok {
		return fmt.Errorf("%w: action %s/%d", contracts.ErrNotFound, a.Lane, a.ID)
	}
	if prev.Version != a.Version {
		return fmt.Errorf("%w: action %s/%d at version %d, have %d", contracts.ErrConflict, a.Lane, a.ID, prev.Version, a.Version)
	}
	a.Version++
	t.m.actions[k] = a.Clone()
	t.undo = append(t.undo, func() { t.m.actions[k] = prev })
	return nil
}

func (t *memTx) List(_ context.Context, f Filter) ([]contracts.Action, error) {
	out := make([]contracts.Action, 0)
	for k, a := range t.m.actions {
		if f.Lane != "" && k.lane != f.Lane {
			continue
		}
		if f.State != "" && a.State != f.State {
			continue
		}
		out = append(out, a.Clone())
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Lane != out[j].Lane {
			return out[i].Lane > out[j].Lane
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (t *memTx) AddConfirmation(_ context.Context, id uint64, owner string, at time.Time) error {
	if err := t.write(); err != nil {
		return err
	}
	set, ok := t.m.confirms[id]
	if !ok {
		set = make(map[string]time.Time)
		t.m.confirms[id] = set
	}
	if _, dup := set[owner]; dup {
		return fmt.Errorf("%w: %q on action %d", contracts.ErrAlreadyConfirmed, owner, id)
	}
	set[owner] = at
	t.undo = append(t.undo, func() { delete(set, owner) })
	return nil
}

func (t *memTx) RemoveConfirmation(_ context.Context, id uint64, owner string) error {
	if err := t.write(); err != nil {
		return err
	}
	set := t.m.confirms[id]
	at, ok := set[owner]
	if !ok {
		return fmt.Errorf("%w: %q on action %d", contracts.ErrNotConfirmed, owner, id)
	}
	delete(set, owner)
	t.undo = append(t.undo, func() { set[owner] = at })
	return nil
}

func (t *memTx) Confirmers(_ context.Context, id uint64) ([]string, error) {
	out := make([]string, 0, len(t.m.confirms[id]))
	for owner := range t.m.confirms[id] {
		out = append(out, owner)
	}
	slices.Sort(out)
	return out, nil
}

func (t *memTx) ConfirmedBy(_ context.Context, owner string) ([]uint64, error) {
	out := make([]uint64, 0)
	for id, set := range t.m.confirms {
		if _, ok := set[owner]; ok {
			out = append(out, id)
		}
	}
	slices.Sort(out)
	return out, nil
}

func (t *memTx) Settings(_ context.Context) (Settings, bool, error) {
	if t.m.settings == nil {
		return Settings{}, false, nil
	}
	return t.m.settings.Clone(), true, nil
}

func (t *memTx) SaveSettings(_ context.Context, s Settings) error {
	if err := t.write(); err != nil {
		return err
	}
	prev := t.m.settings
	c := s.Clone()
	t.m.settings = &c
	t.undo = append(t.undo, func() { t.m.settings = prev })
	return nil
}

package engine

import (
	"context"

	"github.com/Mindburn-Labs/vault/pkg/contracts"
	"github.com/Mindburn-Labs/vault/pkg/ledger"
	"github.com/Mindburn-Labs/vault/pkg/registry"
	"github.com/Mindburn-Labs/vault/pkg/timelock"
)

// DelayConfig describes the timelock policies in force.
type DelayConfig struct {
	Timelocked bool             `json:"timelocked"`
	Standard   *timelock.Policy `json:"standard,omitempty"`
	Emergency  timelock.Policy  `json:"emergency"`
}

// Policy is a snapshot of the engine configuration.
type Policy struct {
	Registry     registry.Registry `json:"registry"`
	Tiers        []contracts.Tier  `json:"tiers"`
	Delays       DelayConfig       `json:"delays"`
	SafeMode     bool              `json:"safe_mode"`
	RegistryMode RegistryMode      `json:"registry_mode"`
}

func (t *txn) view(ctx context.Context, a contracts.Action) (contracts.ActionView, error) {
	required := 0
	if a.Lane == contracts.LaneStandard {
		required = t.required(a.Value)
	}
	v := contracts.ActionView{
		Action:                a,
		Status:                a.StatusAt(t.now, required),
		RequiredConfirmations: required,
		Expiry:                a.Expiry(),
		Digest:                a.Digest(),
	}
	if v.Status == contracts.StateExpired {
		t.observeExpired(a)
	}
	if a.Lane == contracts.LaneStandard {
		by, err := t.Confirmers(ctx, a.ID)
		if err != nil {
			return contracts.ActionView{}, err
		}
		v.ConfirmedBy = by
	}
	return v, nil
}

func (e *Engine) lookup(ctx context.Context, lane contracts.Lane, id uint64) (v contracts.ActionView, err error) {
	err = e.read(ctx, func(t *txn) error {
		a, err := t.Get(ctx, lane, id)
		if err != nil {
			return err
		}
		v, err = t.view(ctx, a)
		return err
	})
	return v, err
}

// Action returns standard-lane action id with its derived status.
func (e *Engine) Action(ctx context.Context, id uint64) (contracts.ActionView, error) {
	return e.lookup(ctx, contracts.LaneStandard, id)
}

// EmergencyAction returns emergency-lane action id with its derived status.
func (e *Engine) EmergencyAction(ctx context.Context, id uint64) (contracts.ActionView, error) {
	return e.lookup(ctx, contracts.LaneEmergency, id)
}

// IsReady reports whether action id could execute now.
func (e *Engine) IsReady(ctx context.Context, id uint64) (ready bool, err error) {
	err = e.read(ctx, func(t *txn) error {
		a, err := t.Get(ctx, contracts.LaneStandard, id)
		if err != nil {
			return err
		}
		s := e.scheduler(a.Lane)
		if s.IsExpired(&a, t.now) {
			t.observeExpired(a)
			return nil
		}
		ready = s.IsReady(&a, t.now, t.required(a.Value))
		return nil
	})
	return ready, err
}

// IsExpired reports whether action id is past its grace period.
func (e *Engine) IsExpired(ctx context.Context, id uint64) (expired bool, err error) {
	err = e.read(ctx, func(t *txn) error {
		a, err := t.Get(ctx, contracts.LaneStandard, id)
		if err != nil {
			return err
		}
		if expired = e.scheduler(a.Lane).IsExpired(&a, t.now); expired {
			t.observeExpired(a)
		}
		return nil
	})
	return expired, err
}

// PendingIDs lists standard-lane actions that are neither terminal nor expired.
func (e *Engine) PendingIDs(ctx context.Context) (ids []uint64, err error) {
	err = e.read(ctx, func(t *txn) error {
		actions, err := t.List(ctx, ledger.Filter{Lane: contracts.LaneStandard, State: contracts.StatePending})
		if err != nil {
			return err
		}
		for _, a := range actions {
			if e.timelock.IsExpired(&a, t.now) {
				t.observeExpired(a)
				continue
			}
			ids = append(ids, a.ID)
		}
		return nil
	})
	return ids, err
}

// ExecutedIDs lists executed standard-lane actions.
func (e *Engine) ExecutedIDs(ctx context.Context) ([]uint64, error) {
	return e.idsIn(ctx, contracts.LaneStandard, contracts.StateExecuted)
}

// EmergencyIDs lists emergency-lane actions in state, or all when state is empty.
func (e *Engine) EmergencyIDs(ctx context.Context, state contracts.State) ([]uint64, error) {
	return e.idsIn(ctx, contracts.LaneEmergency, state)
}

func (e *Engine) idsIn(ctx context.Context, lane contracts.Lane, state contracts.State) (ids []uint64, err error) {
	err = e.read(ctx, func(t *txn) error {
		actions, err := t.List(ctx, ledger.Filter{Lane: lane, State: state})
		if err != nil {
			return err
		}
		for _, a := range actions {
			ids = append(ids, a.ID)
		}
		return nil
	})
	return ids, err
}

// ConfirmationsBy lists the actions owner currently confirms.
func (e *Engine) ConfirmationsBy(ctx context.Context, owner string) (ids []uint64, err error) {
	err = e.read(ctx, func(t *txn) error {
		ids, err = t.ConfirmedBy(ctx, registry.Normalize(owner))
		return err
	})
	return ids, err
}

// Confirmations lists the owners confirming action id.
func (e *Engine) Confirmations(ctx context.Context, id uint64) (owners []string, err error) {
	err = e.read(ctx, func(t *txn) error {
		if _, err := t.Get(ctx, contracts.LaneStandard, id); err != nil {
			return err
		}
		owners, err = t.Confirmers(ctx, id)
		return err
	})
	return owners, err
}

// Tiers returns the current tier table.
func (e *Engine) Tiers(ctx context.Context) ([]contracts.Tier, error) {
	p, err := e.Policy(ctx)
	return p.Tiers, err
}

// DelayConfig returns the timelock policies.
func (e *Engine) DelayConfig() DelayConfig {
	d := DelayConfig{Timelocked: e.timelock != nil, Emergency: e.emergency.Policy()}
	if e.timelock != nil {
		p := e.timelock.Policy()
		d.Standard = &p
	}
	return d
}

// Registry returns the owner registry.
func (e *Engine) Registry(ctx context.Context) (registry.Registry, error) {
	p, err := e.Policy(ctx)
	return p.Registry, err
}

// Owners returns the registered owners.
func (e *Engine) Owners(ctx context.Context) ([]string, error) {
	r, err := e.Registry(ctx)
	return r.Owners, err
}

// SafeMode reports whether the emergency lane is open.
func (e *Engine) SafeMode(ctx context.Context) (bool, error) {
	p, err := e.Policy(ctx)
	return p.SafeMode, err
}

// Policy returns a snapshot of the configuration in force.
func (e *Engine) Policy(ctx context.Context) (p Policy, err error) {
	err = e.read(ctx, func(t *txn) error {
		s := t.settings.Clone()
		p = Policy{
			Registry:     s.Registry,
			Tiers:        s.Tiers,
			Delays:       e.DelayConfig(),
			SafeMode:     s.SafeMode,
			RegistryMode: e.mode,
		}
		return nil
	})
	return p, err
}

package engine

import (
	"context"

	"github.com/Mindburn-Labs/vault/pkg/contracts"
	"github.com/Mindburn-Labs/vault/pkg/registry"
)

// applyRegistryAction applies the change carried by an executed registry
// action inside the execution transaction.
func (e *Engine) applyRegistryAction(ctx context.Context, t *txn, a contracts.Action, actor string) error {
	c, err := contracts.DecodeRegistryChange(a.Payload)
	if err != nil {
		return err
	}
	return e.commitChange(ctx, t, c, actor, &a)
}

// commitChange applies c to the settings of t and saves them. via is the
// action that authorized the change; nil marks a direct call, which the
// registry checks against actor.
func (e *Engine) commitChange(ctx context.Context, t *txn, c contracts.RegistryChange, actor string, via *contracts.Action) error {
	var data map[string]any
	var typ contracts.EventType

	if c.Op == contracts.OpSetTiers {
		if err := t.tiers.Replace(c.Tiers); err != nil {
			return err
		}
		t.settings.Tiers = t.tiers.Snapshot()
		typ, data = contracts.EventTiersChanged, map[string]any{"tiers": t.settings.Tiers}
	} else {
		prev := t.settings.Registry.Quorum
		reg := t.settings.Registry.Clone()
		apply := reg.Commit
		if via == nil {
			apply = func(c contracts.RegistryChange) error { return reg.Apply(actor, c) }
		}
		if err := apply(c); err != nil {
			return err
		}
		t.settings.Registry = *reg
		member := registry.Normalize(c.Member)
		switch c.Op {
		case contracts.OpAddOwner:
			typ, data = contracts.EventOwnerAdded, map[string]any{"member": member, "quorum": reg.Quorum}
		case contracts.OpRemoveOwner:
			typ, data = contracts.EventOwnerRemoved, map[string]any{"member": member, "quorum": reg.Quorum}
			var skip uint64
			if via != nil {
				skip = via.ID
			}
			if err := purgeConfirmations(ctx, t, member, skip); err != nil {
				return err
			}
		case contracts.OpSetQuorum:
			typ, data = contracts.EventQuorumChanged, map[string]any{"quorum": reg.Quorum, "previous": prev}
		case contracts.OpAddAdmin:
			typ, data = contracts.EventAdminAdded, map[string]any{"member": member}
		case contracts.OpRemoveAdmin:
			typ, data = contracts.EventAdminRemoved, map[string]any{"member": member}
		}
	}
	if err := t.saveSettings(ctx); err != nil {
		return err
	}
	t.emit(typ, via, actor, data)
	return nil
}

// purgeConfirmations withdraws a removed owner's confirmations from every
// open action, keeping each count equal to its confirmer set.
func purgeConfirmations(ctx context.Context, t *txn, owner string, skip uint64) error {
	ids, err := t.ConfirmedBy(ctx, owner)
	if err != nil {
		return err
	}
	for _, id := range ids {
		if id == skip {
			continue
		}
		a, err := t.Get(ctx, contracts.LaneStandard, id)
		if err != nil {
			return err
		}
		if a.Terminal() {
			continue
		}
		if err := t.RemoveConfirmation(ctx, id, owner); err != nil {
			return err
		}
		a.Confirmations--
		if err := t.Update(ctx, &a); err != nil {
			return err
		}
		t.emit(contracts.EventRevoked, &a, owner, map[string]any{
			"confirmations": a.Confirmations,
			"reason":        "owner_removed",
		})
	}
	return nil
}

// direct applies c on behalf of a single owner. It is only available in
// RegistryDirect mode.
func (e *Engine) direct(ctx context.Context, caller string, c contracts.RegistryChange) (err error) {
	ctx, end := e.track(ctx, "vault.registry."+string(c.Op), contracts.LaneStandard, 0)
	defer func() { end(err) }()

	if e.mode != RegistryDirect {
		return contracts.ErrRegistryGoverned
	}
	if err := c.Validate(); err != nil {
		return err
	}
	return e.mutate(ctx, func(t *txn) error {
		// Registry ops are authorized by the registry itself; the tier table
		// lives outside it.
		if c.Op == contracts.OpSetTiers {
			if _, err := t.owner(caller); err != nil {
				return err
			}
		}
		return e.commitChange(ctx, t, c, registry.Normalize(caller), nil)
	})
}

// AddOwner adds id with the resulting quorum newQuorum.
func (e *Engine) AddOwner(ctx context.Context, caller, id string, newQuorum int) error {
	return e.direct(ctx, caller, contracts.RegistryChange{Op: contracts.OpAddOwner, Member: id, Quorum: newQuorum})
}

// RemoveOwner removes id with the resulting quorum newQuorum.
func (e *Engine) RemoveOwner(ctx context.Context, caller, id string, newQuorum int) error {
	return e.direct(ctx, caller, contracts.RegistryChange{Op: contracts.OpRemoveOwner, Member: id, Quorum: newQuorum})
}

// SetQuorum changes the base quorum.
func (e *Engine) SetQuorum(ctx context.Context, caller string, newQuorum int) error {
	return e.direct(ctx, caller, contracts.RegistryChange{Op: contracts.OpSetQuorum, Quorum: newQuorum})
}

// AddAdmin grants the admin role.
func (e *Engine) AddAdmin(ctx context.Context, caller, id string) error {
	return e.direct(ctx, caller, contracts.RegistryChange{Op: contracts.OpAddAdmin, Member: id})
}

// RemoveAdmin revokes the admin role.
func (e *Engine) RemoveAdmin(ctx context.Context, caller, id string) error {
	return e.direct(ctx, caller, contracts.RegistryChange{Op: contracts.OpRemoveAdmin, Member: id})
}

// SetTiers replaces the tier table.
func (e *Engine) SetTiers(ctx context.Context, caller string, bands []contracts.Tier) error {
	return e.direct(ctx, caller, contracts.RegistryChange{Op: contracts.OpSetTiers, Tiers: contracts.CloneTiers(bands)})
}

// ProposeChange submits c as a governed registry action.
func (e *Engine) ProposeChange(ctx context.Context, caller string, c contracts.RegistryChange) (uint64, error) {
	payload, err := c.Encode()
	if err != nil {
		return 0, err
	}
	req := SubmitRequest{Target: contracts.RegistryTarget, Payload: payload}
	if e.timelock != nil {
		req.Delay = e.timelock.Policy().MinDelay
		if bounds, ok := e.cache.Load().tiers.DelayBounds(0); ok {
			req.Delay = bounds.Min
		}
	}
	return e.Submit(ctx, caller, req)
}


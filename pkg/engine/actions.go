package engine

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/Mindburn-Labs/vault/pkg/contracts"
	"github.com/Mindburn-Labs/vault/pkg/registry"
)

// SubmitRequest describes a new standard-lane action.
type SubmitRequest struct {
	Target  string        `json:"target"`
	Value   uint64        `json:"value"`
	Payload []byte        `json:"payload,omitempty"`
	Delay   time.Duration `json:"delay,omitempty"`
}

const reservedPrefix = "vault:"

// checkTarget validates a submitted target. The reserved namespace only
// admits the registry target, and only where registry changes are governed.
func (e *Engine) checkTarget(target string, value uint64, payload []byte, lane contracts.Lane) error {
	if target == "" {
		return fmt.Errorf("%w: empty target", contracts.ErrInvalidTarget)
	}
	if !strings.HasPrefix(target, reservedPrefix) {
		return nil
	}
	if target != contracts.RegistryTarget || lane != contracts.LaneStandard {
		return fmt.Errorf("%w: %q is reserved", contracts.ErrInvalidTarget, target)
	}
	if e.mode != RegistryGoverned {
		return fmt.Errorf("%w: registry changes are applied directly in %s mode", contracts.ErrInvalidTarget, e.mode)
	}
	if value != 0 {
		return fmt.Errorf("%w: registry changes carry no value", contracts.ErrInvalidTarget)
	}
	_, err := contracts.DecodeRegistryChange(payload)
	return err
}

// Submit records a pending action and returns its id. With a timelock the
// action is queued with req.Delay, bounded by the tier of its value or by
// the policy's global range.
func (e *Engine) Submit(ctx context.Context, caller string, req SubmitRequest) (id uint64, err error) {
	ctx, end := e.track(ctx, "vault.submit", contracts.LaneStandard, 0)
	defer func() { end(err) }()

	a := contracts.Action{
		Lane:     contracts.LaneStandard,
		Target:   strings.TrimSpace(req.Target),
		Value:    req.Value,
		State:    contracts.StatePending,
		Proposer: registry.Normalize(caller),
	}
	if len(req.Payload) > 0 {
		a.Payload = append([]byte(nil), req.Payload...)
	}
	if err := e.checkTarget(a.Target, a.Value, a.Payload, a.Lane); err != nil {
		return 0, err
	}
	err = e.mutate(ctx, func(t *txn) error {
		if _, err := t.owner(caller); err != nil {
			return err
		}
		if err := e.guard.Check(a, t.now); err != nil {
			return err
		}
		a.CreatedAt = t.now
		if e.timelock == nil {
			if req.Delay != 0 {
				return fmt.Errorf("%w: no timelock configured, delay must be zero", contracts.ErrDelayOutOfRange)
			}
		} else {
			bounds, _ := t.tiers.DelayBounds(a.Value)
			if _, err := e.timelock.Queue(&a, t.now, req.Delay, bounds); err != nil {
				return err
			}
		}
		var err error
		if a.ID, err = t.NextID(ctx, a.Lane); err != nil {
			return err
		}
		if err := t.Insert(ctx, &a); err != nil {
			return err
		}
		t.emit(contracts.EventSubmitted, &a, a.Proposer, map[string]any{
			"target":   a.Target,
			"value":    a.Value,
			"digest":   a.Digest(),
			"required": t.required(a.Value),
		})
		if a.Timelocked() {
			t.emit(contracts.EventQueued, &a, a.Proposer, map[string]any{
				"eta":    a.ETA,
				"expiry": a.Expiry(),
			})
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return a.ID, nil
}

// Confirm records caller's approval of action id.
func (e *Engine) Confirm(ctx context.Context, caller string, id uint64) (err error) {
	ctx, end := e.track(ctx, "vault.confirm", contracts.LaneStandard, id)
	defer func() { end(err) }()

	return e.mutate(ctx, func(t *txn) error {
		owner, err := t.owner(caller)
		if err != nil {
			return err
		}
		a, err := t.Get(ctx, contracts.LaneStandard, id)
		if err != nil {
			return err
		}
		if err := openErr(t, a); err != nil {
			return err
		}
		if err := t.AddConfirmation(ctx, id, owner, t.now); err != nil {
			return err
		}
		a.Confirmations++
		if err := t.Update(ctx, &a); err != nil {
			return err
		}
		t.emit(contracts.EventConfirmed, &a, owner, map[string]any{
			"confirmations": a.Confirmations,
			"required":      t.required(a.Value),
		})
		return nil
	})
}

// Revoke withdraws caller's earlier confirmation of action id.
func (e *Engine) Revoke(ctx context.Context, caller string, id uint64) (err error) {
	ctx, end := e.track(ctx, "vault.revoke", contracts.LaneStandard, id)
	defer func() { end(err) }()

	return e.mutate(ctx, func(t *txn) error {
		owner, err := t.owner(caller)
		if err != nil {
			return err
		}
		a, err := t.Get(ctx, contracts.LaneStandard, id)
		if err != nil {
			return err
		}
		if err := openErr(t, a); err != nil {
			return err
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
			"required":      t.required(a.Value),
		})
		return nil
	})
}

// Cancel retires action id. Owners may cancel; admins may too when the
// standard lane is timelocked. Expired actions can still be cancelled.
func (e *Engine) Cancel(ctx context.Context, caller string, id uint64) (err error) {
	ctx, end := e.track(ctx, "vault.cancel", contracts.LaneStandard, id)
	defer func() { end(err) }()

	return e.cancel(ctx, caller, contracts.LaneStandard, id)
}

func (e *Engine) cancel(ctx context.Context, caller string, lane contracts.Lane, id uint64) error {
	return e.mutate(ctx, func(t *txn) error {
		actor, err := t.operator(caller, lane == contracts.LaneStandard && e.timelock != nil)
		if err != nil {
			return err
		}
		a, err := t.Get(ctx, lane, id)
		if err != nil {
			return err
		}
		if err := terminalErr(a); err != nil {
			return err
		}
		expired := e.scheduler(lane).IsExpired(&a, t.now)
		a.State = contracts.StateCancelled
		a.CancelledAt = t.now
		if err := t.Update(ctx, &a); err != nil {
			return err
		}
		typ := contracts.EventCancelled
		if lane == contracts.LaneEmergency {
			typ = contracts.EventEmergencyCancelled
		}
		t.emit(typ, &a, actor, map[string]any{"expired": expired})
		return nil
	})
}

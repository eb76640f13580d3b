package engine

import (
	"context"
	"strings"

	"github.com/Mindburn-Labs/vault/pkg/contracts"
	"github.com/Mindburn-Labs/vault/pkg/registry"
)

// EmergencyRequest describes an emergency-lane action. Its delay is fixed
// by the emergency policy.
type EmergencyRequest struct {
	Target  string `json:"target"`
	Value   uint64 `json:"value"`
	Payload []byte `json:"payload,omitempty"`
}

// SetSafeMode opens or closes the emergency lane. Setting the current mode
// again is a no-op.
func (e *Engine) SetSafeMode(ctx context.Context, caller string, on bool) (err error) {
	ctx, end := e.track(ctx, "vault.safe_mode", contracts.LaneEmergency, 0)
	defer func() { end(err) }()

	return e.mutate(ctx, func(t *txn) error {
		owner, err := t.owner(caller)
		if err != nil {
			return err
		}
		if t.settings.SafeMode == on {
			return nil
		}
		t.settings.SafeMode = on
		if err := t.saveSettings(ctx); err != nil {
			return err
		}
		t.emit(contracts.EventSafeModeChanged, nil, owner, map[string]any{"enabled": on})
		return nil
	})
}

// ProposeEmergency queues an emergency action with the emergency policy's
// delay. It does not need safe mode; executing it does.
func (e *Engine) ProposeEmergency(ctx context.Context, caller string, req EmergencyRequest) (id uint64, err error) {
	ctx, end := e.track(ctx, "vault.emergency.propose", contracts.LaneEmergency, 0)
	defer func() { end(err) }()

	a := contracts.Action{
		Lane:     contracts.LaneEmergency,
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
		if _, err := e.emergency.Queue(&a, t.now, e.emergency.Policy().MinDelay, contracts.DelayBounds{}); err != nil {
			return err
		}
		var err error
		if a.ID, err = t.NextID(ctx, a.Lane); err != nil {
			return err
		}
		if err := t.Insert(ctx, &a); err != nil {
			return err
		}
		t.emit(contracts.EventEmergencyProposed, &a, a.Proposer, map[string]any{
			"target": a.Target,
			"value":  a.Value,
			"digest": a.Digest(),
			"eta":    a.ETA,
			"expiry": a.Expiry(),
		})
		return nil
	})
	if err != nil {
		return 0, err
	}
	return a.ID, nil
}

// ExecuteEmergency performs emergency action id. The caller must be an owner,
// safe mode must be on and the fixed delay must have elapsed; no
// confirmations are required.
func (e *Engine) ExecuteEmergency(ctx context.Context, caller string, id uint64) (err error) {
	ctx, end := e.track(ctx, "vault.emergency.execute", contracts.LaneEmergency, id)
	defer func() { end(err) }()

	return e.execute(ctx, caller, contracts.LaneEmergency, id)
}

// CancelEmergency retires emergency action id. Owners only.
func (e *Engine) CancelEmergency(ctx context.Context, caller string, id uint64) (err error) {
	ctx, end := e.track(ctx, "vault.emergency.cancel", contracts.LaneEmergency, id)
	defer func() { end(err) }()

	return e.cancel(ctx, caller, contracts.LaneEmergency, id)
}

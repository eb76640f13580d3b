package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/Mindburn-Labs/vault/pkg/contracts"
)

// Execute performs action id once it is ready. The action is marked executed
// before the executor runs; an executor failure restores it to pending and
// is returned wrapped in contracts.ErrExecutionFailed.
func (e *Engine) Execute(ctx context.Context, caller string, id uint64) (err error) {
	ctx, end := e.track(ctx, "vault.execute", contracts.LaneStandard, id)
	defer func() { end(err) }()

	return e.execute(ctx, caller, contracts.LaneStandard, id)
}

// authorizeExecution checks the role caller needs to trigger execution on lane.
func (e *Engine) authorizeExecution(t *txn, caller string, lane contracts.Lane) (string, error) {
	if lane == contracts.LaneEmergency {
		actor, err := t.owner(caller)
		if err != nil {
			return "", err
		}
		if !t.settings.SafeMode {
			return "", contracts.ErrSafeModeOff
		}
		return actor, nil
	}
	return t.operator(caller, e.timelock != nil)
}

func (e *Engine) execute(ctx context.Context, caller string, lane contracts.Lane, id uint64) error {
	var (
		done     contracts.Action
		actor    string
		external bool
	)
	err := e.mutate(ctx, func(t *txn) error {
		var err error
		if actor, err = e.authorizeExecution(t, caller, lane); err != nil {
			return err
		}
		a, err := t.Get(ctx, lane, id)
		if err != nil {
			return err
		}
		if err := terminalErr(a); err != nil {
			return err
		}
		if err := e.scheduler(lane).Gate(&a, t.now); err != nil {
			if errors.Is(err, contracts.ErrExpired) {
				t.observeExpired(a)
			}
			return fmt.Errorf("action %s/%d: %w", lane, id, err)
		}
		if lane == contracts.LaneStandard {
			if required := t.required(a.Value); a.Confirmations < required {
				return fmt.Errorf("action %d: %w: %d of %d", id, contracts.ErrInsufficientConfirmations, a.Confirmations, required)
			}
		}

		external = a.Target != contracts.RegistryTarget
		if !external {
			if err := e.applyRegistryAction(ctx, t, a, actor); err != nil {
				return err
			}
		}

		a.State = contracts.StateExecuted
		a.ExecutedAt = t.now
		if err := t.Update(ctx, &a); err != nil {
			return err
		}
		if !external {
			t.emit(contracts.EventExecuted, &a, actor, nil)
		}
		done = a
		return nil
	})
	if err != nil || !external {
		return err
	}

	if perr := e.executor.Perform(ctx, done.Clone()); perr != nil {
		e.logger.WarnContext(ctx, "executor failed, rolling back",
			"lane", lane,
			"action_id", id,
			"target", done.Target,
			"error", perr,
		)
		if rerr := e.rollback(context.WithoutCancel(ctx), done, actor, perr); rerr != nil {
			e.logger.ErrorContext(ctx, "rollback failed", "lane", lane, "action_id", id, "error", rerr)
			return fmt.Errorf("%w: %w", contracts.ErrExecutionFailed, errors.Join(perr, rerr))
		}
		return fmt.Errorf("%w: %w", contracts.ErrExecutionFailed, perr)
	}

	typ := contracts.EventExecuted
	if lane == contracts.LaneEmergency {
		typ = contracts.EventEmergencyExecuted
	}
	e.publish(ctx, []contracts.Event{{
		ID:       uuid.NewString(),
		Type:     typ,
		Lane:     lane,
		ActionID: id,
		Actor:    actor,
		At:       done.ExecutedAt,
		Data:     map[string]any{"target": done.Target, "value": done.Value},
	}})
	return nil
}

// rollback restores an action whose executor failed to pending, provided
// nothing touched it since it was marked executed.
func (e *Engine) rollback(ctx context.Context, done contracts.Action, actor string, cause error) error {
	return e.mutate(ctx, func(t *txn) error {
		a, err := t.Get(ctx, done.Lane, done.ID)
		if err != nil {
			return err
		}
		if a.State != contracts.StateExecuted || a.Version != done.Version {
			return fmt.Errorf("action %s/%d: %w", done.Lane, done.ID, contracts.ErrConflict)
		}
		a.State = contracts.StatePending
		a.ExecutedAt = time.Time{}
		if err := t.Update(ctx, &a); err != nil {
			return err
		}
		t.emit(contracts.EventExecutionFailed, &a, actor, map[string]any{"error": cause.Error()})
		return nil
	})
}

// BatchStatus is the outcome of one item of BatchExecute.
type BatchStatus string

const (
	BatchExecuted BatchStatus = "executed"
	BatchSkipped  BatchStatus = "skipped"
	BatchFailed   BatchStatus = "failed"
)

// BatchResult reports what happened to one id.
type BatchResult struct {
	ID     uint64      `json:"id"`
	Status BatchStatus `json:"status"`
	Err    error       `json:"-"`
}

// BatchExecute executes each ready action in ids independently. Actions
// that are missing, terminal, not yet ready, expired or short of
// confirmations are skipped; executor failures are rolled back and reported
// per item. Only an authorization failure or a cancelled ctx aborts the batch.
func (e *Engine) BatchExecute(ctx context.Context, caller string, ids []uint64) (results []BatchResult, err error) {
	ctx, end := e.track(ctx, "vault.batch_execute", contracts.LaneStandard, 0)
	defer func() { end(err) }()

	err = e.read(ctx, func(t *txn) error {
		_, err := t.operator(caller, e.timelock != nil)
		return err
	})
	if err != nil {
		return nil, err
	}

	results = make([]BatchResult, 0, len(ids))
	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return results, err
		}
		xerr := e.execute(ctx, caller, contracts.LaneStandard, id)
		r := BatchResult{ID: id, Status: BatchExecuted, Err: xerr}
		switch {
		case xerr == nil:
		case errors.Is(xerr, contracts.ErrExecutionFailed):
			r.Status = BatchFailed
		case errors.Is(xerr, contracts.ErrNotAuthorized):
			return results, xerr
		case skippable(xerr):
			r.Status = BatchSkipped
		default:
			r.Status = BatchFailed
		}
		results = append(results, r)
	}
	return results, nil
}

func skippable(err error) bool {
	for _, kind := range []error{
		contracts.ErrNotFound,
		contracts.ErrInvalidState,
		contracts.ErrNotReady,
		contracts.ErrExpired,
		contracts.ErrInsufficientConfirmations,
	} {
		if errors.Is(err, kind) {
			return true
		}
	}
	return false
}

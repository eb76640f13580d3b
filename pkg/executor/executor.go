// Package executor performs the side effect of an authorized action.
//
// The engine calls Perform exactly once per successful execute, after the
// action has been marked executed. A returned error makes the engine roll the
// action back to pending, so implementations must either fully apply the
// effect or report failure.
package executor

import (
	"context"
	"log/slog"

	"github.com/Mindburn-Labs/vault/pkg/contracts"
)

// Executor performs (target, value, payload) for an authorized action.
type Executor interface {
	Perform(ctx context.Context, a contracts.Action) error
}

// Func adapts a function to Executor.
type Func func(ctx context.Context, a contracts.Action) error

func (f Func) Perform(ctx context.Context, a contracts.Action) error { return f(ctx, a) }

// Noop logs the action and reports success.
type Noop struct {
	Logger *slog.Logger
}

func (n Noop) Perform(ctx context.Context, a contracts.Action) error {
	logger := n.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.InfoContext(ctx, "noop executor",
		"lane", a.Lane,
		"action_id", a.ID,
		"target", a.Target,
		"value", a.Value,
		"payload_bytes", len(a.Payload),
	)
	return nil
}

// Request is the wire form of an action handed to remote executors.
type Request struct {
	ActionID uint64         `json:"action_id"`
	Lane     contracts.Lane `json:"lane"`
	Target   string         `json:"target"`
	Value    uint64         `json:"value"`
	Payload  []byte         `json:"payload,omitempty"`
	Digest   string         `json:"digest"`
}

// NewRequest builds the wire form of a.
func NewRequest(a contracts.Action) Request {
	return Request{
		ActionID: a.ID,
		Lane:     a.Lane,
		Target:   a.Target,
		Value:    a.Value,
		Payload:  a.Payload,
		Digest:   a.Digest(),
	}
}

// Package guard screens submitted actions with CEL rules.
//
// Rules see two variables: action (a map with target, value, payload_size,
// lane and proposer) and now (unix seconds). Every rule must evaluate to
// true; an error or a non-bool result rejects the action.
package guard

import (
	"fmt"
	"time"

	"github.com/google/cel-go/cel"

	"github.com/Mindburn-Labs/vault/pkg/contracts"
)

type rule struct {
	expr string
	prg  cel.Program
}

// Guard is an immutable, compiled rule set. Safe for concurrent use.
type Guard struct {
	rules []rule
}

// New compiles rules. A compile error names the offending rule.
func New(rules []string) (*Guard, error) {
	env, err := cel.NewEnv(
		cel.Variable("action", cel.MapType(cel.StringType, cel.DynType)),
		cel.Variable("now", cel.IntType),
		cel.CrossTypeNumericComparisons(true),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL environment: %w", err)
	}

	g := &Guard{}
	for i, expr := range rules {
		ast, issues := env.Compile(expr)
		if issues != nil && issues.Err() != nil {
			return nil, fmt.Errorf("guard rule %d: compile: %w", i, issues.Err())
		}
		if out := ast.OutputType(); !out.IsExactType(cel.BoolType) && !out.IsExactType(cel.DynType) {
			return nil, fmt.Errorf("guard rule %d: must evaluate to bool, got %s", i, ast.OutputType())
		}
		prg, err := env.Program(ast,
			cel.InterruptCheckFrequency(100),
			cel.CostLimit(10000),
		)
		if err != nil {
			return nil, fmt.Errorf("guard rule %d: program: %w", i, err)
		}
		g.rules = append(g.rules, rule{expr: expr, prg: prg})
	}
	return g, nil
}

// Len returns the number of rules.
func (g *Guard) Len() int {
	if g == nil {
		return 0
	}
	return len(g.rules)
}

// Check evaluates every rule against a. A nil Guard admits everything.
func (g *Guard) Check(a contracts.Action, now time.Time) error {
	if g == nil {
		return nil
	}
	input := map[string]any{
		"action": map[string]any{
			"target":       a.Target,
			"value":        a.Value,
			"payload_size": int64(len(a.Payload)),
			"lane":         string(a.Lane),
			"proposer":     a.Proposer,
		},
		"now": now.Unix(),
	}
	for i, r := range g.rules {
		out, _, err := r.prg.Eval(input)
		if err != nil {
			return fmt.Errorf("%w: rule %d (%s): %v", contracts.ErrGuardRejected, i, r.expr, err)
		}
		ok, isBool := out.Value().(bool)
		if !isBool {
			return fmt.Errorf("%w: rule %d (%s) did not return a bool", contracts.ErrGuardRejected, i, r.expr)
		}
		if !ok {
			return fmt.Errorf("%w: rule %d (%s)", contracts.ErrGuardRejected, i, r.expr)
		}
	}
	return nil
}

package guard

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Mindburn-Labs/vault/pkg/contracts"
)

func TestCheck(t *testing.T) {
	g, err := New([]string{
		`action.value <= 1000`,
		`action.payload_size < 64`,
		`!action.target.startsWith("blocked:")`,
	})
	require.NoError(t, err)
	assert.Equal(t, 3, g.Len())
	now := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

	tests := map[string]struct {
		action contracts.Action
		reject bool
	}{
		"allowed":       {action: contracts.Action{Target: "treasury", Value: 50}},
		"value too big": {action: contracts.Action{Target: "treasury", Value: 5000}, reject: true},
		"payload":       {action: contracts.Action{Target: "treasury", Payload: make([]byte, 128)}, reject: true},
		"target":        {action: contracts.Action{Target: "blocked:mixer"}, reject: true},
	}
	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			err := g.Check(tc.action, now)
			if tc.reject {
				assert.ErrorIs(t, err, contracts.ErrGuardRejected)
				assert.ErrorIs(t, err, contracts.ErrNotAuthorized)
				return
			}
			assert.NoError(t, err)
		})
	}
}

func TestNew_RejectsBadRules(t *testing.T) {
	_, err := New([]string{`action.value <`})
	assert.Error(t, err)

	_, err = New([]string{`1 + 2`})
	assert.Error(t, err, "non-bool rule")
}

func TestCheck_EvalErrorFailsClosed(t *testing.T) {
	g, err := New([]string{`action.missing == "x"`})
	require.NoError(t, err)
	assert.ErrorIs(t, g.Check(contracts.Action{Target: "t"}, time.Now()), contracts.ErrGuardRejected)
}

func TestNilGuard(t *testing.T) {
	var g *Guard
	assert.NoError(t, g.Check(contracts.Action{}, time.Now()))
	assert.Equal(t, 0, g.Len())
}

func TestCheck_Now(t *testing.T) {
	g, err := New([]string{`now >= 1767225600`})
	require.NoError(t, err)
	assert.NoError(t, g.Check(contracts.Action{}, time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)))
	assert.Error(t, g.Check(contracts.Action{}, time.Date(2025, 12, 31, 0, 0, 0, 0, time.UTC)))
}

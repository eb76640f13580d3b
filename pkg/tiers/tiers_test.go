package tiers_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Mindburn-Labs/vault/pkg/contracts"
	"github.com/Mindburn-Labs/vault/pkg/tiers"
)

func TestRequiredConfirmations(t *testing.T) {
	e, err := tiers.New(tiers.Default())
	require.NoError(t, err)

	tests := []struct {
		value    uint64
		expected int
	}{
		{0, 2},
		{5, 2},
		{9, 2},
		{10, 3},
		{50, 3},
		{99, 3},
		{100, 4},
		{200, 4},
		{^uint64(0), 4},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.expected, e.RequiredConfirmations(tt.value), "value=%d", tt.value)
	}
}

func TestRequiredConfirmations_SameValueAgrees(t *testing.T) {
	e, err := tiers.New(tiers.Default())
	require.NoError(t, err)
	for i := 0; i < 10; i++ {
		assert.Equal(t, e.RequiredConfirmations(42), e.RequiredConfirmations(42))
	}
}

func TestDelayBounds(t *testing.T) {
	e, err := tiers.New([]contracts.Tier{
		{Below: 1000, RequiredConfirmations: 1},
		{RequiredConfirmations: 2, Delay: contracts.DelayBounds{Min: 48 * time.Hour, Max: 14 * 24 * time.Hour}},
	})
	require.NoError(t, err)

	_, ok := e.DelayBounds(10)
	assert.False(t, ok, "low band defers to the global policy")

	b, ok := e.DelayBounds(5000)
	require.True(t, ok)
	assert.Equal(t, 48*time.Hour, b.Min)
}

func TestReplace(t *testing.T) {
	e, err := tiers.New(tiers.Default())
	require.NoError(t, err)

	err = e.Replace([]contracts.Tier{{Below: 5, RequiredConfirmations: 1}})
	assert.ErrorIs(t, err, contracts.ErrInvalidTiers)
	assert.Equal(t, tiers.Default(), e.Snapshot(), "invalid table must not be installed")

	require.NoError(t, e.Replace([]contracts.Tier{{RequiredConfirmations: 1}}))
	assert.Equal(t, 1, e.RequiredConfirmations(1_000_000))
	assert.Equal(t, 1, e.MaxRequired())
}

func TestSnapshotIsACopy(t *testing.T) {
	e, err := tiers.New(tiers.Default())
	require.NoError(t, err)
	s := e.Snapshot()
	s[0].RequiredConfirmations = 99
	assert.Equal(t, 2, e.RequiredConfirmations(1))
}

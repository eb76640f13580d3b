package timelock

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Mindburn-Labs/vault/pkg/contracts"
)

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func newScheduler(t *testing.T, p Policy) *Scheduler {
	t.Helper()
	s, err := NewScheduler(p)
	require.NoError(t, err)
	return s
}

func TestPolicies(t *testing.T) {
	require.NoError(t, Standard().Validate())
	require.NoError(t, Emergency().Validate())
	assert.True(t, Emergency().Fixed())
	assert.False(t, Standard().Fixed())

	assert.Error(t, Policy{MinDelay: time.Hour, MaxDelay: time.Minute, GracePeriod: time.Hour}.Validate())
	assert.Error(t, Policy{MinDelay: time.Hour, MaxDelay: time.Hour}.Validate())
}

func TestQueue_DelayRange(t *testing.T) {
	s := newScheduler(t, Standard())

	tests := map[string]struct {
		delay time.Duration
		err   error
	}{
		"too short": {delay: 23 * time.Hour, err: contracts.ErrDelayTooShort},
		"minimum":   {delay: 24 * time.Hour},
		"maximum":   {delay: 30 * 24 * time.Hour},
		"too long":  {delay: 30*24*time.Hour + time.Second, err: contracts.ErrDelayTooLong},
	}
	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			var a contracts.Action
			eta, err := s.Queue(&a, t0, tc.delay, contracts.DelayBounds{})
			if tc.err != nil {
				require.ErrorIs(t, err, tc.err)
				assert.ErrorIs(t, err, contracts.ErrDelayOutOfRange)
				assert.True(t, a.ETA.IsZero())
				return
			}
			require.NoError(t, err)
			assert.Equal(t, t0.Add(tc.delay), eta)
			assert.Equal(t, Standard().GracePeriod, a.GracePeriod)
		})
	}
}

func TestQueue_Override(t *testing.T) {
	s := newScheduler(t, Standard())
	var a contracts.Action
	_, err := s.Queue(&a, t0, time.Hour, contracts.DelayBounds{Min: time.Minute, Max: 2 * time.Hour})
	require.NoError(t, err)
}

func TestWindow(t *testing.T) {
	s := newScheduler(t, Standard())
	a := contracts.Action{Lane: contracts.LaneStandard, State: contracts.StatePending, Confirmations: 3}
	_, err := s.Queue(&a, t0, 24*time.Hour, contracts.DelayBounds{})
	require.NoError(t, err)

	assert.ErrorIs(t, s.Gate(&a, t0), contracts.ErrNotReady)
	assert.False(t, s.IsReady(&a, t0, 3))

	now := a.ETA
	assert.NoError(t, s.Gate(&a, now))
	assert.True(t, s.IsReady(&a, now, 3))
	assert.False(t, s.IsReady(&a, now, 4))

	now = a.ETA.Add(7 * 24 * time.Hour)
	assert.NoError(t, s.Gate(&a, now), "last instant of the grace period")
	assert.False(t, s.IsExpired(&a, now))

	now = now.Add(time.Second)
	assert.ErrorIs(t, s.Gate(&a, now), contracts.ErrExpired)
	assert.True(t, s.IsExpired(&a, now))
	assert.False(t, s.IsReady(&a, now, 3))
}

// TestQueue_UsesCallerInstant checks eta derives from the instant passed in,
// so an action's CreatedAt and ETA come from the same reading.
func TestQueue_UsesCallerInstant(t *testing.T) {
	s := newScheduler(t, Emergency())
	created := t0.Add(17 * time.Minute)
	a := contracts.Action{Lane: contracts.LaneEmergency, State: contracts.StatePending, CreatedAt: created}
	eta, err := s.Queue(&a, created, 2*time.Hour, contracts.DelayBounds{})
	require.NoError(t, err)
	assert.Equal(t, 2*time.Hour, eta.Sub(a.CreatedAt))
}

func TestNilScheduler(t *testing.T) {
	var s *Scheduler
	a := contracts.Action{Lane: contracts.LaneStandard, State: contracts.StatePending, Confirmations: 2}
	far := t0.Add(100 * 365 * 24 * time.Hour)
	assert.NoError(t, s.Gate(&a, far))
	assert.False(t, s.IsExpired(&a, far))
	assert.True(t, s.IsReady(&a, far, 2))
	assert.False(t, s.IsReady(&a, far, 3))
}

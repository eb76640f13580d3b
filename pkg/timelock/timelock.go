// Package timelock computes and enforces the execution window of queued actions.
//
// An action queued with delay d at time t becomes executable at eta = t + d
// and stays executable up to and including eta + grace period. After that it
// is expired and can never execute.
package timelock

import (
	"fmt"
	"time"

	"github.com/Mindburn-Labs/vault/pkg/contracts"
)

// Policy bounds the delay of queued actions and fixes their grace period.
type Policy struct {
	MinDelay    time.Duration `json:"min_delay" yaml:"min_delay"`
	MaxDelay    time.Duration `json:"max_delay" yaml:"max_delay"`
	GracePeriod time.Duration `json:"grace_period" yaml:"grace_period"`
}

// Standard returns the reference policy for owner-confirmed actions.
func Standard() Policy {
	return Policy{
		MinDelay:    24 * time.Hour,
		MaxDelay:    30 * 24 * time.Hour,
		GracePeriod: 7 * 24 * time.Hour,
	}
}

// Emergency returns the reference policy for the emergency lane: a fixed
// two hour delay and a one day grace period.
func Emergency() Policy {
	return Policy{
		MinDelay:    2 * time.Hour,
		MaxDelay:    2 * time.Hour,
		GracePeriod: 24 * time.Hour,
	}
}

// Validate checks the policy is internally consistent.
func (p Policy) Validate() error {
	if err := p.Bounds().Validate(); err != nil {
		return fmt.Errorf("timelock policy: %w", err)
	}
	if p.GracePeriod <= 0 {
		return fmt.Errorf("timelock policy: grace period must be positive, got %s", p.GracePeriod)
	}
	return nil
}

// Bounds returns the global delay range.
func (p Policy) Bounds() contracts.DelayBounds {
	return contracts.DelayBounds{Min: p.MinDelay, Max: p.MaxDelay}
}

// Fixed reports whether the policy admits exactly one delay.
func (p Policy) Fixed() bool {
	return p.MinDelay == p.MaxDelay
}

// CheckDelay validates delay against bounds.
func CheckDelay(delay time.Duration, bounds contracts.DelayBounds) error {
	if delay < bounds.Min {
		return fmt.Errorf("%w: %s < minimum %s", contracts.ErrDelayTooShort, delay, bounds.Min)
	}
	if delay > bounds.Max {
		return fmt.Errorf("%w: %s > maximum %s", contracts.ErrDelayTooLong, delay, bounds.Max)
	}
	return nil
}

// Scheduler applies a Policy to actions. It holds no clock: callers pass the
// instant of the transaction they are running in, so one operation sees one
// time. A nil *Scheduler stands for "no timelock" and only answers queries.
type Scheduler struct {
	policy Policy
}

func NewScheduler(policy Policy) (*Scheduler, error) {
	if err := policy.Validate(); err != nil {
		return nil, err
	}
	return &Scheduler{policy: policy}, nil
}

// Policy returns the scheduler's policy.
func (s *Scheduler) Policy() Policy {
	return s.policy
}

// Queue stamps a with eta = now + delay and the policy's grace period. A
// non-zero override replaces the policy's delay range, which is how tier
// bands with their own bounds are honoured.
func (s *Scheduler) Queue(a *contracts.Action, now time.Time, delay time.Duration, override contracts.DelayBounds) (time.Time, error) {
	bounds := s.policy.Bounds()
	if !override.IsZero() {
		bounds = override
	}
	if err := CheckDelay(delay, bounds); err != nil {
		return time.Time{}, err
	}
	a.ETA = now.Add(delay)
	a.GracePeriod = s.policy.GracePeriod
	return a.ETA, nil
}

// IsExpired reports now > eta + grace period.
func (s *Scheduler) IsExpired(a *contracts.Action, now time.Time) bool {
	return a.ExpiredAt(now)
}

// IsReady reports whether a is Pending, inside its execution window, and has
// at least required confirmations.
func (s *Scheduler) IsReady(a *contracts.Action, now time.Time, required int) bool {
	return a.StatusAt(now, required) == contracts.StateReady
}

// Gate returns ErrNotReady before eta and ErrExpired after the grace period.
// Actions without an eta always pass.
func (s *Scheduler) Gate(a *contracts.Action, now time.Time) error {
	if !a.Timelocked() {
		return nil
	}
	if now.Before(a.ETA) {
		return fmt.Errorf("%w: eta %s, now %s", contracts.ErrNotReady, a.ETA.Format(time.RFC3339), now.Format(time.RFC3339))
	}
	if now.After(a.Expiry()) {
		return fmt.Errorf("%w: grace period ended %s", contracts.ErrExpired, a.Expiry().Format(time.RFC3339))
	}
	return nil
}

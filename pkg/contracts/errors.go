package contracts

import (
	"errors"
	"fmt"
)

// Error kinds surfaced by the authorization engine. Callers match them with
// errors.Is; refined kinds wrap their parent so that matching on the parent
// also succeeds.
var (
	ErrNotAuthorized             = errors.New("not authorized")
	ErrNotFound                  = errors.New("not found")
	ErrInvalidState              = errors.New("invalid state")
	ErrAlreadyConfirmed          = errors.New("already confirmed")
	ErrNotConfirmed              = errors.New("not confirmed")
	ErrQuorumViolation           = errors.New("quorum violation")
	ErrDelayOutOfRange           = errors.New("delay out of range")
	ErrNotReady                  = errors.New("not ready")
	ErrExpired                   = errors.New("expired")
	ErrInsufficientConfirmations = errors.New("insufficient confirmations")
	ErrExecutionFailed           = errors.New("execution failed")
	ErrInvalidTarget             = errors.New("invalid target")
	ErrInvalidOwner              = errors.New("invalid owner")
	ErrInvalidTiers              = errors.New("invalid tier configuration")
)

// Refined kinds.
var (
	ErrNotOwner         = fmt.Errorf("%w: caller is not an owner", ErrNotAuthorized)
	ErrSafeModeOff      = fmt.Errorf("%w: safe mode is off", ErrNotAuthorized)
	ErrRegistryGoverned = fmt.Errorf("%w: registry changes must be submitted as actions", ErrNotAuthorized)
	ErrGuardRejected    = fmt.Errorf("%w: rejected by submission guard", ErrNotAuthorized)

	ErrAlreadyExecuted = fmt.Errorf("%w: already executed", ErrInvalidState)
	ErrCancelled       = fmt.Errorf("%w: cancelled", ErrInvalidState)
	ErrExpiredState    = fmt.Errorf("%w: expired", ErrInvalidState)
	ErrConflict        = fmt.Errorf("%w: concurrent modification", ErrInvalidState)

	ErrDelayTooShort = fmt.Errorf("%w: delay too short", ErrDelayOutOfRange)
	ErrDelayTooLong  = fmt.Errorf("%w: delay too long", ErrDelayOutOfRange)
)

var kinds = []struct {
	err  error
	name string
}{
	{ErrNotAuthorized, "not_authorized"},
	{ErrNotFound, "not_found"},
	{ErrInvalidState, "invalid_state"},
	{ErrAlreadyConfirmed, "already_confirmed"},
	{ErrNotConfirmed, "not_confirmed"},
	{ErrQuorumViolation, "quorum_violation"},
	{ErrDelayOutOfRange, "delay_out_of_range"},
	{ErrNotReady, "not_ready"},
	{ErrExpired, "expired"},
	{ErrInsufficientConfirmations, "insufficient_confirmations"},
	{ErrExecutionFailed, "execution_failed"},
	{ErrInvalidTarget, "invalid_target"},
	{ErrInvalidOwner, "invalid_owner"},
	{ErrInvalidTiers, "invalid_tiers"},
}

// Kind names the error kind err belongs to, or "internal" when it matches
// none. Execution failures are checked first since they wrap the executor's
// own error.
func Kind(err error) string {
	if err == nil {
		return ""
	}
	if errors.Is(err, ErrExecutionFailed) {
		return "execution_failed"
	}
	for _, k := range kinds {
		if errors.Is(err, k.err) {
			return k.name
		}
	}
	return "internal"
}

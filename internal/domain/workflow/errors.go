package workflow

import "errors"

var (
	// ErrInvalidTransition is returned when a trigger is not configured from the current state
	ErrInvalidTransition = errors.New("invalid state transition")

	// ErrInvalidState is returned when a state is not part of the machine's state set
	ErrInvalidState = errors.New("invalid state")

	// ErrGuardFailed is returned when every guarded alternative of a trigger rejected it
	ErrGuardFailed = errors.New("guard condition failed")

	// ErrUnknownTrigger is returned when a trigger is not defined anywhere in the machine
	ErrUnknownTrigger = errors.New("unknown trigger")

	// ErrChainTooDeep is returned when chained transitions keep firing past the limit
	ErrChainTooDeep = errors.New("chained transitions exceeded maximum depth")
)

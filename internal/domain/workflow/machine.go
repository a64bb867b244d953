package workflow

import "context"

// Transition describes one state change performed by a state machine
type Transition struct {
	Trigger Trigger
	Source  State
	Target  State

	// Automatic is set when the transition was chained from another
	// transition rather than requested by the caller.
	Automatic bool
}

// TransitionListener is notified after every transition a machine performs
type TransitionListener interface {
	OnTransition(ctx context.Context, t Transition) error
}

// ListenerFunc adapts a function to TransitionListener
type ListenerFunc func(ctx context.Context, t Transition) error

// OnTransition calls f(ctx, t)
func (f ListenerFunc) OnTransition(ctx context.Context, t Transition) error {
	return f(ctx, t)
}

// StateMachine represents a state machine that tracks current state and validates transitions
type StateMachine interface {
	// State returns the current state
	State() State

	// States returns the state set the machine was built over
	States() StateSet

	// Fire executes the trigger, following any chained transitions
	Fire(ctx context.Context, trigger Trigger) error

	// PermittedTriggers returns all triggers configured from the current state
	PermittedTriggers() []Trigger

	// ValidTriggers returns every trigger the machine defines, independent of state
	ValidTriggers() []Trigger

	// SourceStates returns the states from which trigger is configured
	SourceStates(trigger Trigger) []State

	// History returns the transitions performed by this instance, in order
	History() []Transition
}

package workflow

import (
	"context"
	"fmt"
	"sort"
)

// maxChainDepth bounds how many chained transitions a single Fire may follow
const maxChainDepth = 16

// GuardFunc evaluates whether a transition alternative should be taken.
// An error aborts the whole Fire call.
type GuardFunc func(ctx context.Context) (bool, error)

// ActionFunc runs while a transition alternative is taken, before the state changes
type ActionFunc func(ctx context.Context) error

// StateMachineBuilder builds a configured state machine
type StateMachineBuilder interface {
	// Configure returns a state configuration for the given state
	Configure(state State) StateConfiguration

	// Build creates a new state machine instance positioned at currentState
	Build(currentState State, opts ...MachineOption) (StateMachine, error)
}

// StateConfiguration configures transitions for a specific state
type StateConfiguration interface {
	// Permit allows a trigger to transition to the target state
	Permit(trigger Trigger, toState State, opts ...TransitionOption) StateConfiguration

	// PermitIf allows a trigger to transition to the target state if the guard condition passes.
	// Alternatives for the same trigger are tried in the order they were configured.
	PermitIf(trigger Trigger, toState State, guard GuardFunc, opts ...TransitionOption) StateConfiguration
}

// TransitionOption customizes a single transition alternative
type TransitionOption func(*transition)

// Do runs action when the alternative is taken
func Do(action ActionFunc) TransitionOption {
	return func(t *transition) {
		t.action = action
	}
}

// Then fires trigger automatically once the alternative has completed
func Then(trigger Trigger) TransitionOption {
	return func(t *transition) {
		t.then = trigger
	}
}

// MachineOption configures a built state machine
type MachineOption func(*stateMachine)

// WithListener registers a listener notified after every transition
func WithListener(l TransitionListener) MachineOption {
	return func(m *stateMachine) {
		if l != nil {
			m.listeners = append(m.listeners, l)
		}
	}
}

// transition represents a state transition with optional guard, action and chained trigger
type transition struct {
	toState State
	guard   GuardFunc
	action  ActionFunc
	then    Trigger
}

// stateConfig implements StateConfiguration
type stateConfig struct {
	builder     *stateMachineBuilder
	fromState   State
	transitions map[Trigger][]transition
}

// stateMachineBuilder implements StateMachineBuilder
type stateMachineBuilder struct {
	states         StateSet
	configurations map[State]*stateConfig
}

// stateMachine implements StateMachine
type stateMachine struct {
	states         StateSet
	currentState   State
	configurations map[State]*stateConfig
	triggers       map[Trigger]bool
	listeners      []TransitionListener
	history        []Transition
}

// NewBuilder creates a new state machine builder over the given state set
func NewBuilder(states StateSet) StateMachineBuilder {
	return &stateMachineBuilder{
		states:         states,
		configurations: make(map[State]*stateConfig),
	}
}

// Configure returns a state configuration for the given state
func (b *stateMachineBuilder) Configure(state State) StateConfiguration {
	if !b.states.Contains(state) {
		panic(fmt.Sprintf("invalid state: %s", state))
	}

	config, exists := b.configurations[state]
	if !exists {
		config = &stateConfig{
			builder:     b,
			fromState:   state,
			transitions: make(map[Trigger][]transition),
		}
		b.configurations[state] = config
	}

	return config
}

// Build creates a new state machine instance positioned at currentState
func (b *stateMachineBuilder) Build(currentState State, opts ...MachineOption) (StateMachine, error) {
	if !b.states.Contains(currentState) {
		return nil, fmt.Errorf("%w: %s", ErrInvalidState, currentState)
	}

	// Deep copy configurations so later Configure calls do not leak into built machines
	configsCopy := make(map[State]*stateConfig, len(b.configurations))
	triggers := make(map[Trigger]bool)
	for state, config := range b.configurations {
		transitionsCopy := make(map[Trigger][]transition, len(config.transitions))
		for trigger, transitions := range config.transitions {
			transitionsCopy[trigger] = append([]transition{}, transitions...)
			triggers[trigger] = true
		}
		configsCopy[state] = &stateConfig{
			fromState:   state,
			transitions: transitionsCopy,
		}
	}

	m := &stateMachine{
		states:         b.states,
		currentState:   currentState,
		configurations: configsCopy,
		triggers:       triggers,
	}

	for _, opt := range opts {
		opt(m)
	}

	return m, nil
}

// Permit allows a trigger to transition to the target state
func (c *stateConfig) Permit(trigger Trigger, toState State, opts ...TransitionOption) StateConfiguration {
	return c.PermitIf(trigger, toState, nil, opts...)
}

// PermitIf allows a trigger to transition to the target state if the guard condition passes
func (c *stateConfig) PermitIf(trigger Trigger, toState State, guard GuardFunc, opts ...TransitionOption) StateConfiguration {
	if !c.builder.states.Contains(toState) {
		panic(fmt.Sprintf("invalid target state: %s", toState))
	}

	t := transition{
		toState: toState,
		guard:   guard,
	}
	for _, opt := range opts {
		opt(&t)
	}

	c.transitions[trigger] = append(c.transitions[trigger], t)

	return c
}

// State returns the current state
func (m *stateMachine) State() State {
	return m.currentState
}

// States returns the state set the machine was built over
func (m *stateMachine) States() StateSet {
	return m.states
}

// Fire executes the trigger, following any chained transitions
func (m *stateMachine) Fire(ctx context.Context, trigger Trigger) error {
	return m.fire(ctx, trigger, false, 0)
}

func (m *stateMachine) fire(ctx context.Context, trigger Trigger, automatic bool, depth int) error {
	if depth > maxChainDepth {
		return fmt.Errorf("%w: stopped at trigger %s", ErrChainTooDeep, trigger)
	}

	if !m.triggers[trigger] {
		return fmt.Errorf("%w: %s", ErrUnknownTrigger, trigger)
	}

	config, exists := m.configurations[m.currentState]
	if !exists || len(config.transitions[trigger]) == 0 {
		return fmt.Errorf("%w: cannot fire trigger %s from state %s", ErrInvalidTransition, trigger, m.currentState)
	}

	// Try each alternative in order until one is taken
	for _, t := range config.transitions[trigger] {
		if t.guard != nil {
			ok, err := t.guard(ctx)
			if err != nil {
				return err
			}
			if !ok {
				continue
			}
		}

		if t.action != nil {
			if err := t.action(ctx); err != nil {
				return err
			}
		}

		taken := Transition{
			Trigger:   trigger,
			Source:    m.currentState,
			Target:    t.toState,
			Automatic: automatic,
		}
		m.currentState = t.toState
		m.history = append(m.history, taken)

		for _, l := range m.listeners {
			if err := l.OnTransition(ctx, taken); err != nil {
				return err
			}
		}

		if t.then != "" {
			return m.fire(ctx, t.then, true, depth+1)
		}
		return nil
	}

	// All guards failed
	return fmt.Errorf("%w: trigger %s from state %s", ErrGuardFailed, trigger, m.currentState)
}

// PermittedTriggers returns all triggers configured from the current state
func (m *stateMachine) PermittedTriggers() []Trigger {
	config, exists := m.configurations[m.currentState]
	if !exists {
		return []Trigger{}
	}

	triggers := make([]Trigger, 0, len(config.transitions))
	for trigger := range config.transitions {
		triggers = append(triggers, trigger)
	}

	return sortTriggers(triggers)
}

// ValidTriggers returns every trigger the machine defines
func (m *stateMachine) ValidTriggers() []Trigger {
	triggers := make([]Trigger, 0, len(m.triggers))
	for trigger := range m.triggers {
		triggers = append(triggers, trigger)
	}

	return sortTriggers(triggers)
}

// SourceStates returns the states from which trigger is configured
func (m *stateMachine) SourceStates(trigger Trigger) []State {
	var states []State
	for state, config := range m.configurations {
		if len(config.transitions[trigger]) > 0 {
			states = append(states, state)
		}
	}

	sort.Slice(states, func(i, j int) bool { return states[i] < states[j] })
	return states
}

// History returns the transitions performed by this instance
func (m *stateMachine) History() []Transition {
	return append([]Transition(nil), m.history...)
}

func sortTriggers(triggers []Trigger) []Trigger {
	sort.Slice(triggers, func(i, j int) bool { return triggers[i] < triggers[j] })
	return triggers
}

package workflow

import (
	"context"
	"fmt"
	"sort"

	"github.com/garyjia/grants-workflow/internal/domain/entity"
	domainwf "github.com/garyjia/grants-workflow/internal/domain/workflow"
)

// ApprovalConfig describes the sign-off required while a workflow sits in a pending state
type ApprovalConfig struct {
	ApprovalType             entity.ApprovalType
	MinimumApprovalsRequired int
	RequiredPrivileges       []entity.Privilege
}

// Behaviors supplies the guards and actions a workflow definition binds to its transitions.
// Implementations are scoped to the event being processed.
type Behaviors interface {
	// ResponseIs passes when the event's approval response type equals response
	ResponseIs(response entity.ApprovalResponseType) domainwf.GuardFunc

	// RecordApproval stores the acting user's response for the approval configured at state
	RecordApproval(state domainwf.State, response entity.ApprovalResponseType) domainwf.ActionFunc

	// HasEnoughApprovals passes when the approval configured at state has met its minimum
	HasEnoughApprovals(state domainwf.State) domainwf.GuardFunc

	// RequestNotification asks for a notification to be sent once the event commits
	RequestNotification(reason string) domainwf.ActionFunc
}

// DefinitionFunc builds the transition table of a workflow type
type DefinitionFunc func(b Behaviors) domainwf.StateMachineBuilder

// WorkflowConfig is the static configuration of one workflow type
type WorkflowConfig struct {
	WorkflowType    entity.WorkflowType
	States          domainwf.StateSet
	EntityTypes     []entity.WorkflowEntityType
	ApprovalMapping map[domainwf.State]ApprovalConfig
	Define          DefinitionFunc
}

// SupportsEntityType reports whether workflows of this type may be bound to t
func (c *WorkflowConfig) SupportsEntityType(t entity.WorkflowEntityType) bool {
	for _, et := range c.EntityTypes {
		if et == t {
			return true
		}
	}
	return false
}

// ApprovalConfigFor returns the approval policy of a pending state
func (c *WorkflowConfig) ApprovalConfigFor(state domainwf.State) (ApprovalConfig, bool) {
	cfg, ok := c.ApprovalMapping[state]
	return cfg, ok
}

// NewStateMachine builds a machine positioned at state whose guards and actions use b
func (c *WorkflowConfig) NewStateMachine(state domainwf.State, b Behaviors, opts ...domainwf.MachineOption) (domainwf.StateMachine, error) {
	return c.Define(b).Build(state, opts...)
}

// Describe builds a machine for inspecting triggers and states. Firing it fails.
func (c *WorkflowConfig) Describe(state domainwf.State) (domainwf.StateMachine, error) {
	return c.NewStateMachine(state, inertBehaviors{})
}

// Registry maps workflow types to their configuration
type Registry struct {
	configs map[entity.WorkflowType]*WorkflowConfig
}

// NewRegistry creates a registry holding configs. It panics on duplicate types.
func NewRegistry(configs ...*WorkflowConfig) *Registry {
	r := &Registry{configs: make(map[entity.WorkflowType]*WorkflowConfig, len(configs))}
	for _, cfg := range configs {
		if _, exists := r.configs[cfg.WorkflowType]; exists {
			panic(fmt.Sprintf("workflow type registered twice: %s", cfg.WorkflowType))
		}
		r.configs[cfg.WorkflowType] = cfg
	}
	return r
}

// DefaultRegistry returns a registry with every built-in workflow type
func DefaultRegistry() *Registry {
	return NewRegistry(BasicTestWorkflowConfig(), InitialPrototypeConfig())
}

// Get returns the configuration for a workflow type
func (r *Registry) Get(workflowType entity.WorkflowType) (*WorkflowConfig, error) {
	cfg, ok := r.configs[workflowType]
	if !ok {
		return nil, newError(ErrInvalidWorkflowType, "Workflow event does not map to an actual state machine")
	}
	return cfg, nil
}

// Types returns the registered workflow types, sorted
func (r *Registry) Types() []entity.WorkflowType {
	types := make([]entity.WorkflowType, 0, len(r.configs))
	for t := range r.configs {
		types = append(types, t)
	}
	sort.Slice(types, func(i, j int) bool { return types[i] < types[j] })
	return types
}

// inertBehaviors backs machines that are only inspected
type inertBehaviors struct{}

func (inertBehaviors) ResponseIs(entity.ApprovalResponseType) domainwf.GuardFunc {
	return func(context.Context) (bool, error) { return false, errInert }
}

func (inertBehaviors) RecordApproval(domainwf.State, entity.ApprovalResponseType) domainwf.ActionFunc {
	return func(context.Context) error { return errInert }
}

func (inertBehaviors) HasEnoughApprovals(domainwf.State) domainwf.GuardFunc {
	return func(context.Context) (bool, error) { return false, errInert }
}

func (inertBehaviors) RequestNotification(string) domainwf.ActionFunc {
	return func(context.Context) error { return errInert }
}

var errInert = newError(ErrImplementationMissing, "State machine was built for inspection only")

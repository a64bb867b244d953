package workflow

import (
	"context"
	"errors"

	"github.com/garyjia/grants-workflow/internal/application/dispatcher"
	"github.com/garyjia/grants-workflow/internal/application/port"
	"github.com/garyjia/grants-workflow/internal/domain/entity"
	"github.com/garyjia/grants-workflow/internal/domain/event"
	domainwf "github.com/garyjia/grants-workflow/internal/domain/workflow"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Repositories bundles the persistence ports the engine reads and writes
type Repositories struct {
	Workflows     port.WorkflowRepository
	Histories     port.EventHistoryRepository
	Approvals     port.ApprovalRepository
	Audits        port.AuditRepository
	Users         port.UserRepository
	Opportunities port.OpportunityRepository
	Applications  port.ApplicationRepository
}

// Result describes a successfully processed workflow event
type Result struct {
	EventID     uuid.UUID
	Workflow    *entity.Workflow
	Machine     domainwf.StateMachine
	Transitions []domainwf.Transition

	// Created is set when the event started a new workflow
	Created bool
}

// EventHandler validates workflow events and drives their state machines.
// Each event is handled inside a single database transaction.
type EventHandler struct {
	registry     *Registry
	repos        Repositories
	txManager    port.TransactionManager
	processor    *ApprovalProcessor
	resolver     *EntityResolver
	dispatcher   dispatcher.Dispatcher
	systemUserID uuid.UUID
	logger       *zap.Logger
}

// HandlerOption configures an EventHandler
type HandlerOption func(*EventHandler)

// WithDispatcher publishes domain events to d after each commit
func WithDispatcher(d dispatcher.Dispatcher) HandlerOption {
	return func(h *EventHandler) {
		h.dispatcher = d
	}
}

// WithSystemUser attributes chained transitions to userID in the audit log
func WithSystemUser(userID uuid.UUID) HandlerOption {
	return func(h *EventHandler) {
		h.systemUserID = userID
	}
}

// NewEventHandler creates a new event handler
func NewEventHandler(registry *Registry, repos Repositories, txManager port.TransactionManager, logger *zap.Logger, opts ...HandlerOption) *EventHandler {
	h := &EventHandler{
		registry:  registry,
		repos:     repos,
		txManager: txManager,
		processor: NewApprovalProcessor(repos.Approvals, repos.Users, repos.Opportunities, repos.Applications, logger),
		resolver:  NewEntityResolver(repos.Opportunities, repos.Applications, logger),
		logger:    logger,
	}

	for _, opt := range opts {
		opt(h)
	}

	return h
}

// Processor returns the approval processor used by the handler
func (h *EventHandler) Processor() *ApprovalProcessor {
	return h.processor
}

// Process handles a start or process event. Any failure rolls back every
// write made for the event; domain events are only published after commit.
func (h *EventHandler) Process(ctx context.Context, evt *event.WorkflowEvent) (*Result, error) {
	if err := checkEventContext(evt); err != nil {
		h.logger.Warn("Workflow event rejected", zap.Error(err))
		return nil, err
	}
	if evt.EventID == uuid.Nil {
		evt.EventID = uuid.New()
	}

	var (
		result  *Result
		pending []*event.Event
	)
	err := h.txManager.WithTransaction(ctx, func(ctx context.Context) error {
		var err error
		result, pending, err = h.process(ctx, evt)
		return err
	})
	if err != nil {
		h.logRejected(evt, err)
		return nil, err
	}

	h.logger.Info("Workflow event processed",
		append(eventFields(evt),
			zap.String("workflow_id", result.Workflow.WorkflowID.String()),
			zap.String("current_state", result.Workflow.CurrentWorkflowState),
			zap.Bool("is_active", result.Workflow.IsActive),
			zap.Int("transitions", len(result.Transitions)))...)

	h.publish(ctx, pending)
	return result, nil
}

func (h *EventHandler) process(ctx context.Context, evt *event.WorkflowEvent) (*Result, []*event.Event, error) {
	user, err := h.repos.Users.GetByID(ctx, evt.ActingUserID)
	if err != nil {
		return nil, nil, err
	}
	if user == nil {
		return nil, nil, newError(ErrUserDoesNotExist, "User does not exist, cannot process event.")
	}

	if err := h.ensureHistory(ctx, evt); err != nil {
		return nil, nil, err
	}

	var (
		wf      *entity.Workflow
		config  *WorkflowConfig
		trigger domainwf.Trigger
		created bool
	)
	switch evt.EventType {
	case event.StartWorkflow:
		wf, config, err = h.startWorkflow(ctx, evt)
		trigger = TriggerStartWorkflow
		created = true
	default:
		wf, config, err = h.loadWorkflow(ctx, evt)
		trigger = domainwf.Trigger(evt.ProcessWorkflowContext.EventToSend)
	}
	if err != nil {
		return nil, nil, err
	}

	behaviors := &eventBehaviors{
		processor: h.processor,
		workflow:  wf,
		config:    config,
		event:     evt,
	}
	listener := NewAuditListener(h.repos.Audits, wf, evt, h.systemUserID, h.logger)

	machine, err := config.NewStateMachine(domainwf.State(wf.CurrentWorkflowState), behaviors, domainwf.WithListener(listener))
	if err != nil {
		return nil, nil, wrapError(ErrUnexpectedState, "Workflow record has an unexpected state", err)
	}
	if !hasTrigger(machine.ValidTriggers(), trigger) {
		return nil, nil, newError(ErrInvalidEvent, "Event is not valid for workflow")
	}

	if err := machine.Fire(ctx, trigger); err != nil {
		return nil, nil, fireError(err)
	}

	wf.CurrentWorkflowState = machine.State().String()
	wf.IsActive = config.States.IsActive(machine.State())
	if err := h.repos.Workflows.UpdateState(ctx, wf); err != nil {
		if errors.Is(err, port.ErrConcurrentModification) {
			return nil, nil, wrapError(ErrConcurrentModification, "Workflow was modified while the event was processed", err)
		}
		return nil, nil, err
	}

	if err := h.repos.Histories.AttachWorkflow(ctx, evt.EventID, wf.WorkflowID); err != nil {
		return nil, nil, err
	}
	if err := h.repos.Histories.MarkProcessed(ctx, evt.EventID, ""); err != nil {
		// Another transaction handled the event after it was read above
		if errors.Is(err, port.ErrEventAlreadyProcessed) {
			return nil, nil, wrapError(ErrInvalidEvent, "Workflow event has already been processed", err)
		}
		return nil, nil, err
	}

	result := &Result{
		EventID:     evt.EventID,
		Workflow:    wf,
		Machine:     machine,
		Transitions: machine.History(),
		Created:     created,
	}
	return result, domainEvents(evt, result, behaviors.notifications), nil
}

// ensureHistory writes the event history row unless ingest already did
func (h *EventHandler) ensureHistory(ctx context.Context, evt *event.WorkflowEvent) error {
	existing, err := h.repos.Histories.GetByID(ctx, evt.EventID)
	if err != nil {
		return err
	}
	if existing != nil {
		if existing.IsProcessed {
			return newError(ErrInvalidEvent, "Workflow event has already been processed")
		}
		return nil
	}

	data, err := evt.Marshal()
	if err != nil {
		return err
	}
	return h.repos.Histories.Create(ctx, &entity.WorkflowEventHistory{
		EventID:   evt.EventID,
		EventData: data,
	})
}

func (h *EventHandler) startWorkflow(ctx context.Context, evt *event.WorkflowEvent) (*entity.Workflow, *WorkflowConfig, error) {
	startCtx := evt.StartWorkflowContext

	config, err := h.registry.Get(startCtx.WorkflowType)
	if err != nil {
		return nil, nil, err
	}

	entities, err := h.resolver.GetWorkflowEntities(ctx, startCtx.Entities, config)
	if err != nil {
		return nil, nil, err
	}

	wf := &entity.Workflow{
		WorkflowType:         config.WorkflowType,
		CurrentWorkflowState: config.States.Initial().String(),
		IsActive:             true,
	}
	if err := entities.Bind(wf); err != nil {
		return nil, nil, err
	}

	if err := h.repos.Workflows.Create(ctx, wf); err != nil {
		return nil, nil, err
	}

	h.logger.Info("Workflow created",
		zap.String("workflow_id", wf.WorkflowID.String()),
		zap.String("workflow_type", string(wf.WorkflowType)),
		zap.String("event_id", evt.EventID.String()))
	return wf, config, nil
}

func (h *EventHandler) loadWorkflow(ctx context.Context, evt *event.WorkflowEvent) (*entity.Workflow, *WorkflowConfig, error) {
	wf, err := h.repos.Workflows.GetByIDForUpdate(ctx, evt.ProcessWorkflowContext.WorkflowID)
	if err != nil {
		return nil, nil, err
	}
	if wf == nil {
		return nil, nil, newError(ErrWorkflowDoesNotExist, "Workflow does not exist, cannot process events against it")
	}

	config, err := h.registry.Get(wf.WorkflowType)
	if err != nil {
		return nil, nil, err
	}

	if !config.States.Contains(domainwf.State(wf.CurrentWorkflowState)) {
		h.logger.Error("Workflow record has an unexpected state",
			zap.String("workflow_id", wf.WorkflowID.String()),
			zap.String("current_state", wf.CurrentWorkflowState))
		return nil, nil, newError(ErrUnexpectedState, "Workflow record has an unexpected state")
	}

	if !wf.IsActive {
		return nil, nil, newError(ErrInactiveWorkflow, "Workflow is not active - cannot receive events")
	}

	return wf, config, nil
}

// publish dispatches domain events. The transaction has already committed,
// so handler failures are logged rather than returned.
func (h *EventHandler) publish(ctx context.Context, events []*event.Event) {
	if h.dispatcher == nil || len(events) == 0 {
		return
	}

	// Notifications call out to external services and must not hold up the caller
	var inline []*event.Event
	for _, evt := range events {
		if evt.Type == event.TypeNotificationRequested {
			h.dispatcher.DispatchAsync(context.WithoutCancel(ctx), evt)
			continue
		}
		inline = append(inline, evt)
	}
	if err := h.dispatcher.DispatchAll(ctx, inline); err != nil {
		h.logger.Error("Failed to dispatch workflow events", zap.Error(err))
	}
}

func (h *EventHandler) logRejected(evt *event.WorkflowEvent, err error) {
	fields := append(eventFields(evt), zap.String("error_type", ErrorType(err)), zap.Error(err))

	var wfErr *Error
	if errors.As(err, &wfErr) {
		h.logger.Warn("Workflow event rejected", fields...)
		return
	}
	h.logger.Error("Workflow event failed", fields...)
}

// checkEventContext rejects events missing the context their type requires
func checkEventContext(evt *event.WorkflowEvent) error {
	if evt == nil {
		return newError(ErrInvalidEvent, "Workflow event is required")
	}

	switch evt.EventType {
	case event.StartWorkflow:
		if evt.StartWorkflowContext == nil {
			return newError(ErrInvalidEvent, "Start workflow event cannot have null context")
		}
	case event.ProcessWorkflow:
		if evt.ProcessWorkflowContext == nil {
			return newError(ErrInvalidEvent, "Process workflow event has a null process workflow context")
		}
	default:
		return newError(ErrInvalidEvent, "Workflow event type is not valid")
	}
	return nil
}

// fireError maps state machine failures onto the workflow error taxonomy
func fireError(err error) error {
	switch {
	case errors.Is(err, domainwf.ErrUnknownTrigger):
		return wrapError(ErrInvalidEvent, "Event is not valid for workflow", err)
	case errors.Is(err, domainwf.ErrInvalidTransition), errors.Is(err, domainwf.ErrGuardFailed):
		return wrapError(ErrInvalidEvent, "Event is not valid for current state of workflow", err)
	case errors.Is(err, domainwf.ErrChainTooDeep):
		return wrapError(ErrImplementationMissing, "Workflow definition chains too many transitions", err)
	default:
		return err
	}
}

func hasTrigger(triggers []domainwf.Trigger, trigger domainwf.Trigger) bool {
	for _, t := range triggers {
		if t == trigger {
			return true
		}
	}
	return false
}

func eventFields(evt *event.WorkflowEvent) []zap.Field {
	attrs := evt.LogFields()
	fields := make([]zap.Field, 0, len(attrs))
	for k, v := range attrs {
		fields = append(fields, zap.String(k, v))
	}
	return fields
}

// domainEvents builds the events published once the transaction commits
func domainEvents(evt *event.WorkflowEvent, result *Result, notifications []string) []*event.Event {
	wf := result.Workflow
	correlationID := evt.EventID.String()
	var events []*event.Event

	if result.Created {
		entityType, entityID, _ := wf.EntityType()
		events = append(events, event.NewEventWithCorrelation(event.TypeWorkflowStarted, wf.WorkflowID, map[string]interface{}{
			"workflow_type":  string(wf.WorkflowType),
			"entity_type":    string(entityType),
			"entity_id":      entityID.String(),
			"acting_user_id": evt.ActingUserID.String(),
		}, correlationID))
	}

	for _, t := range result.Transitions {
		events = append(events, event.NewEventWithCorrelation(event.TypeStateChanged, wf.WorkflowID, map[string]interface{}{
			"workflow_type": string(wf.WorkflowType),
			"trigger":       t.Trigger.String(),
			"source_state":  t.Source.String(),
			"target_state":  t.Target.String(),
			"automatic":     t.Automatic,
		}, correlationID))
	}

	for _, reason := range notifications {
		events = append(events, event.NewEventWithCorrelation(event.TypeNotificationRequested, wf.WorkflowID, map[string]interface{}{
			"workflow_type": string(wf.WorkflowType),
			"state":         wf.CurrentWorkflowState,
			"reason":        reason,
		}, correlationID))
	}

	if !wf.IsActive {
		events = append(events, event.NewEventWithCorrelation(event.TypeWorkflowCompleted, wf.WorkflowID, map[string]interface{}{
			"workflow_type": string(wf.WorkflowType),
			"final_state":   wf.CurrentWorkflowState,
		}, correlationID))
	}

	return events
}

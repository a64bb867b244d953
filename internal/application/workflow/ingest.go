package workflow

import (
	"context"

	"github.com/garyjia/grants-workflow/internal/domain/entity"
	"github.com/garyjia/grants-workflow/internal/domain/event"
	domainwf "github.com/garyjia/grants-workflow/internal/domain/workflow"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// IngestService accepts workflow events and queues them in the event history
// for the workflow manager to process
type IngestService struct {
	registry *Registry
	repos    Repositories
	resolver *EntityResolver
	logger   *zap.Logger
}

// NewIngestService creates a new ingest service
func NewIngestService(registry *Registry, repos Repositories, logger *zap.Logger) *IngestService {
	return &IngestService{
		registry: registry,
		repos:    repos,
		resolver: NewEntityResolver(repos.Opportunities, repos.Applications, logger),
		logger:   logger,
	}
}

// Ingest validates evt and writes its history row. Nothing is written when
// validation fails. The returned ID is the event's, assigned here if unset.
func (s *IngestService) Ingest(ctx context.Context, evt *event.WorkflowEvent) (uuid.UUID, error) {
	if evt == nil {
		return uuid.Nil, newError(ErrInvalidEvent, "Workflow event is required")
	}
	if err := evt.Validate(); err != nil {
		s.logger.Warn("Workflow event failed validation", zap.Error(err))
		return uuid.Nil, wrapError(ErrInvalidEvent, "Workflow event is not valid: "+err.Error(), err)
	}

	if err := s.precheck(ctx, evt); err != nil {
		s.logger.Warn("Workflow event rejected at ingest",
			append(eventFields(evt), zap.String("error_type", ErrorType(err)), zap.Error(err))...)
		return uuid.Nil, err
	}

	if evt.EventID == uuid.Nil {
		evt.EventID = uuid.New()
	}

	data, err := evt.Marshal()
	if err != nil {
		return uuid.Nil, err
	}

	history := &entity.WorkflowEventHistory{
		EventID:   evt.EventID,
		EventData: data,
	}
	if err := s.repos.Histories.Create(ctx, history); err != nil {
		return uuid.Nil, err
	}

	s.logger.Info("Workflow event queued", eventFields(evt)...)
	return evt.EventID, nil
}

// precheck rejects events that reference rows which do not exist. The event
// handler repeats these checks when the event is processed.
func (s *IngestService) precheck(ctx context.Context, evt *event.WorkflowEvent) error {
	user, err := s.repos.Users.GetByID(ctx, evt.ActingUserID)
	if err != nil {
		return err
	}
	if user == nil {
		return newError(ErrUserDoesNotExist, "User does not exist, cannot process event.")
	}

	if evt.EventType == event.StartWorkflow {
		config, err := s.registry.Get(evt.StartWorkflowContext.WorkflowType)
		if err != nil {
			return err
		}
		_, err = s.resolver.GetWorkflowEntities(ctx, evt.StartWorkflowContext.Entities, config)
		return err
	}

	wf, err := s.repos.Workflows.GetByID(ctx, evt.ProcessWorkflowContext.WorkflowID)
	if err != nil {
		return err
	}
	if wf == nil {
		return newError(ErrWorkflowDoesNotExist, "Workflow does not exist, cannot process events against it")
	}
	if !wf.IsActive {
		return newError(ErrInactiveWorkflow, "Workflow is not active - cannot receive events")
	}

	config, err := s.registry.Get(wf.WorkflowType)
	if err != nil {
		return err
	}
	machine, err := config.Describe(config.States.Initial())
	if err != nil {
		return err
	}
	if !hasTrigger(machine.ValidTriggers(), domainwf.Trigger(evt.ProcessWorkflowContext.EventToSend)) {
		return newError(ErrInvalidEvent, "Event is not valid for workflow")
	}

	return nil
}

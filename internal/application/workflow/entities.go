package workflow

import (
	"context"

	"github.com/garyjia/grants-workflow/internal/application/port"
	"github.com/garyjia/grants-workflow/internal/domain/entity"
	"github.com/garyjia/grants-workflow/internal/domain/event"
	"go.uber.org/zap"
)

// WorkflowEntities groups the domain rows referenced by a start event
type WorkflowEntities struct {
	Opportunities          []*entity.Opportunity
	Applications           []*entity.Application
	ApplicationSubmissions []*entity.ApplicationSubmission
}

// Count returns the number of resolved entities
func (w *WorkflowEntities) Count() int {
	return len(w.Opportunities) + len(w.Applications) + len(w.ApplicationSubmissions)
}

// Bind sets the entity foreign key on wf. Workflows store a single entity,
// so anything other than exactly one resolved entity is rejected.
func (w *WorkflowEntities) Bind(wf *entity.Workflow) error {
	if w.Count() != 1 {
		return newError(ErrInvalidEntityForWorkflow, "Workflow can only be bound to a single entity")
	}

	switch {
	case len(w.Opportunities) == 1:
		id := w.Opportunities[0].OpportunityID
		wf.OpportunityID = &id
	case len(w.Applications) == 1:
		id := w.Applications[0].ApplicationID
		wf.ApplicationID = &id
	default:
		id := w.ApplicationSubmissions[0].ApplicationSubmissionID
		wf.ApplicationSubmissionID = &id
	}
	return nil
}

// EntityResolver fetches the domain rows a workflow is started against
type EntityResolver struct {
	opportunities port.OpportunityRepository
	applications  port.ApplicationRepository
	logger        *zap.Logger
}

// NewEntityResolver creates a new entity resolver
func NewEntityResolver(opportunities port.OpportunityRepository, applications port.ApplicationRepository, logger *zap.Logger) *EntityResolver {
	return &EntityResolver{
		opportunities: opportunities,
		applications:  applications,
		logger:        logger,
	}
}

// GetWorkflowEntities validates refs against the config's entity types and loads each row
func (r *EntityResolver) GetWorkflowEntities(ctx context.Context, refs []event.WorkflowEntity, config *WorkflowConfig) (*WorkflowEntities, error) {
	if len(refs) == 0 {
		return nil, newError(ErrInvalidEntityForWorkflow, "Entity type is not supported for workflow")
	}

	for _, ref := range refs {
		if !config.SupportsEntityType(ref.EntityType) {
			r.logger.Warn("Entity type is not supported for workflow",
				zap.String("workflow_type", string(config.WorkflowType)),
				zap.String("entity_type", string(ref.EntityType)))
			return nil, newError(ErrInvalidEntityForWorkflow, "Entity type is not supported for workflow")
		}
	}

	result := &WorkflowEntities{}
	for _, ref := range refs {
		switch ref.EntityType {
		case entity.EntityTypeOpportunity:
			opp, err := r.opportunities.GetByID(ctx, ref.EntityID)
			if err != nil {
				return nil, err
			}
			if opp == nil {
				return nil, r.notFound("Opportunity not found", ref)
			}
			result.Opportunities = append(result.Opportunities, opp)

		case entity.EntityTypeApplication:
			app, err := r.applications.GetByID(ctx, ref.EntityID)
			if err != nil {
				return nil, err
			}
			if app == nil {
				return nil, r.notFound("Application not found", ref)
			}
			result.Applications = append(result.Applications, app)

		case entity.EntityTypeApplicationSubmission:
			sub, err := r.applications.GetSubmissionByID(ctx, ref.EntityID)
			if err != nil {
				return nil, err
			}
			if sub == nil {
				return nil, r.notFound("Application submission not found", ref)
			}
			result.ApplicationSubmissions = append(result.ApplicationSubmissions, sub)

		default:
			return nil, newError(ErrInvalidEntityForWorkflow, "Entity type is not supported for workflow")
		}
	}

	return result, nil
}

func (r *EntityResolver) notFound(message string, ref event.WorkflowEntity) error {
	r.logger.Warn(message,
		zap.String("entity_type", string(ref.EntityType)),
		zap.String("entity_id", ref.EntityID.String()))
	return newError(ErrEntityNotFound, message)
}

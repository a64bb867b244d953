package port

import (
	"context"
	"errors"

	"github.com/garyjia/grants-workflow/internal/domain/entity"
	"github.com/google/uuid"
)

// Lookups return (nil, nil) when the row does not exist.

// ErrConcurrentModification is returned by WorkflowRepository.UpdateState when
// the stored version no longer matches the one that was loaded
var ErrConcurrentModification = errors.New("workflow was modified concurrently")

// ErrEventAlreadyProcessed is returned by EventHistoryRepository.MarkProcessed
// when the event is missing or another transaction already marked it
var ErrEventAlreadyProcessed = errors.New("workflow event already processed")

// WorkflowRepository defines persistence operations for Workflow
type WorkflowRepository interface {
	Create(ctx context.Context, wf *entity.Workflow) error
	GetByID(ctx context.Context, workflowID uuid.UUID) (*entity.Workflow, error)

	// GetByIDForUpdate loads the workflow and locks its row for the rest of the
	// transaction where the database supports row locks.
	GetByIDForUpdate(ctx context.Context, workflowID uuid.UUID) (*entity.Workflow, error)

	// UpdateState persists CurrentWorkflowState and IsActive, provided the row
	// still carries wf.Version. On success wf.Version is incremented.
	UpdateState(ctx context.Context, wf *entity.Workflow) error

	List(ctx context.Context, filter WorkflowFilter) ([]*entity.Workflow, error)
}

// WorkflowFilter narrows List results
type WorkflowFilter struct {
	WorkflowType entity.WorkflowType
	ActiveOnly   bool
	Limit        int
	Offset       int
}

// EventHistoryRepository defines persistence operations for WorkflowEventHistory
type EventHistoryRepository interface {
	Create(ctx context.Context, history *entity.WorkflowEventHistory) error
	GetByID(ctx context.Context, eventID uuid.UUID) (*entity.WorkflowEventHistory, error)
	AttachWorkflow(ctx context.Context, eventID, workflowID uuid.UUID) error
	ListUnprocessed(ctx context.Context, limit int) ([]*entity.WorkflowEventHistory, error)

	// MarkProcessed flags the event as handled. errorMessage is stored when
	// processing failed permanently and left empty on success. Only the first
	// mark succeeds; later ones return ErrEventAlreadyProcessed.
	MarkProcessed(ctx context.Context, eventID uuid.UUID, errorMessage string) error
}

// ApprovalRepository defines persistence operations for WorkflowApproval
type ApprovalRepository interface {
	Create(ctx context.Context, approval *entity.WorkflowApproval) error
	ListByWorkflowID(ctx context.Context, workflowID uuid.UUID) ([]*entity.WorkflowApproval, error)
	HasValidApproval(ctx context.Context, workflowID, userID uuid.UUID, approvalType entity.ApprovalType) (bool, error)
	CountValid(ctx context.Context, workflowID uuid.UUID, approvalType entity.ApprovalType, responseType entity.ApprovalResponseType) (int, error)

	// InvalidateAll marks every approval of the workflow as no longer valid
	// and returns the number of rows touched.
	InvalidateAll(ctx context.Context, workflowID uuid.UUID) (int64, error)
}

// AuditRepository defines persistence operations for WorkflowAudit
type AuditRepository interface {
	Create(ctx context.Context, audit *entity.WorkflowAudit) error
	ListByWorkflowID(ctx context.Context, workflowID uuid.UUID) ([]*entity.WorkflowAudit, error)
}

// UserRepository resolves users and their agency privileges
type UserRepository interface {
	GetByID(ctx context.Context, userID uuid.UUID) (*entity.User, error)
	GetAgencyPrivileges(ctx context.Context, userID, agencyID uuid.UUID) ([]entity.Privilege, error)
}

// OpportunityRepository resolves opportunities
type OpportunityRepository interface {
	GetByID(ctx context.Context, opportunityID uuid.UUID) (*entity.Opportunity, error)
}

// ApplicationRepository resolves applications and their submissions
type ApplicationRepository interface {
	GetByID(ctx context.Context, applicationID uuid.UUID) (*entity.Application, error)
	GetSubmissionByID(ctx context.Context, submissionID uuid.UUID) (*entity.ApplicationSubmission, error)
}

// TransactionManager handles database transactions
type TransactionManager interface {
	WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error
}

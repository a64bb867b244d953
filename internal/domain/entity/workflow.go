package entity

import (
	"time"

	"github.com/google/uuid"
)

// Workflow is one running instance of an approval state machine bound to a domain entity
type Workflow struct {
	WorkflowID           uuid.UUID    `json:"workflow_id"`
	WorkflowType         WorkflowType `json:"workflow_type"`
	CurrentWorkflowState string       `json:"current_workflow_state"`
	IsActive             bool         `json:"is_active"`

	// Exactly one of these is set
	OpportunityID           *uuid.UUID `json:"opportunity_id,omitempty"`
	ApplicationID           *uuid.UUID `json:"application_id,omitempty"`
	ApplicationSubmissionID *uuid.UUID `json:"application_submission_id,omitempty"`

	// Version is bumped on every state update and guards against lost updates
	Version   int64     `json:"version"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// EntityType reports which kind of entity the workflow is bound to
func (w *Workflow) EntityType() (WorkflowEntityType, uuid.UUID, bool) {
	switch {
	case w.OpportunityID != nil:
		return EntityTypeOpportunity, *w.OpportunityID, true
	case w.ApplicationID != nil:
		return EntityTypeApplication, *w.ApplicationID, true
	case w.ApplicationSubmissionID != nil:
		return EntityTypeApplicationSubmission, *w.ApplicationSubmissionID, true
	default:
		return "", uuid.Nil, false
	}
}

// WorkflowApproval is one approval decision made by a user against a workflow
type WorkflowApproval struct {
	WorkflowApprovalID   uuid.UUID            `json:"workflow_approval_id"`
	WorkflowID           uuid.UUID            `json:"workflow_id"`
	ApprovingUserID      uuid.UUID            `json:"approving_user_id"`
	ApprovalType         ApprovalType         `json:"approval_type"`
	EventID              uuid.UUID            `json:"event_id"`
	IsStillValid         bool                 `json:"is_still_valid"`
	ApprovalResponseType ApprovalResponseType `json:"approval_response_type"`
	Comment              *string              `json:"comment,omitempty"`
	CreatedAt            time.Time            `json:"created_at"`
}

package workflow

import (
	"context"

	"github.com/garyjia/grants-workflow/internal/domain/entity"
	"github.com/garyjia/grants-workflow/internal/domain/event"
	domainwf "github.com/garyjia/grants-workflow/internal/domain/workflow"
)

// eventBehaviors binds guards and actions to the workflow event being processed
type eventBehaviors struct {
	processor *ApprovalProcessor
	workflow  *entity.Workflow
	config    *WorkflowConfig
	event     *event.WorkflowEvent

	// notifications are only dispatched once the transaction commits
	notifications []string
}

func (b *eventBehaviors) ResponseIs(response entity.ApprovalResponseType) domainwf.GuardFunc {
	return func(ctx context.Context) (bool, error) {
		got, err := approvalResponseType(b.event)
		if err != nil {
			return false, err
		}
		return got == response, nil
	}
}

func (b *eventBehaviors) RecordApproval(state domainwf.State, response entity.ApprovalResponseType) domainwf.ActionFunc {
	return func(ctx context.Context) error {
		req := ApprovalRequest{
			Workflow: b.workflow,
			Config:   b.config,
			State:    state,
			UserID:   b.event.ActingUserID,
			EventID:  b.event.EventID,
		}
		if comment, ok := b.event.MetadataString(entity.MetadataComment); ok {
			req.Comment = &comment
		}
		return b.processor.HandleResponse(ctx, req, response)
	}
}

func (b *eventBehaviors) HasEnoughApprovals(state domainwf.State) domainwf.GuardFunc {
	return func(ctx context.Context) (bool, error) {
		return b.processor.HasEnoughApprovals(ctx, b.workflow, b.config, state)
	}
}

func (b *eventBehaviors) RequestNotification(reason string) domainwf.ActionFunc {
	return func(ctx context.Context) error {
		b.notifications = append(b.notifications, reason)
		return nil
	}
}

// approvalResponseType reads and validates the response carried in event metadata
func approvalResponseType(evt *event.WorkflowEvent) (entity.ApprovalResponseType, error) {
	raw, ok := evt.MetadataString(entity.MetadataApprovalResponseType)
	if !ok {
		return "", newError(ErrInvalidWorkflowResponseType, "Approval response type not found for state machine event")
	}

	response := entity.ApprovalResponseType(raw)
	if !response.IsValid() {
		return "", newError(ErrInvalidWorkflowResponseType, "Approval response type is not a valid value")
	}
	return response, nil
}

var _ Behaviors = (*eventBehaviors)(nil)

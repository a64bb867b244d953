package workflow

import (
	"context"
	"fmt"

	"github.com/garyjia/grants-workflow/internal/application/port"
	"github.com/garyjia/grants-workflow/internal/domain/entity"
	domainwf "github.com/garyjia/grants-workflow/internal/domain/workflow"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// ApprovalRequest is one user's response to an approval gate
type ApprovalRequest struct {
	Workflow *entity.Workflow
	Config   *WorkflowConfig

	// State is the pending state whose approval policy applies
	State   domainwf.State
	UserID  uuid.UUID
	EventID uuid.UUID
	Comment *string
}

// ApprovalProcessor authorizes approvers and keeps the approval records of a workflow.
// It holds no state of its own.
type ApprovalProcessor struct {
	approvals     port.ApprovalRepository
	users         port.UserRepository
	opportunities port.OpportunityRepository
	applications  port.ApplicationRepository
	logger        *zap.Logger
}

// NewApprovalProcessor creates a new approval processor
func NewApprovalProcessor(
	approvals port.ApprovalRepository,
	users port.UserRepository,
	opportunities port.OpportunityRepository,
	applications port.ApplicationRepository,
	logger *zap.Logger,
) *ApprovalProcessor {
	return &ApprovalProcessor{
		approvals:     approvals,
		users:         users,
		opportunities: opportunities,
		applications:  applications,
		logger:        logger,
	}
}

// HandleAgencyApprovalAccepted records an approval
func (p *ApprovalProcessor) HandleAgencyApprovalAccepted(ctx context.Context, req ApprovalRequest) error {
	_, err := p.record(ctx, req, entity.ResponseApproved)
	return err
}

// HandleAgencyApprovalDeclined records a decline
func (p *ApprovalProcessor) HandleAgencyApprovalDeclined(ctx context.Context, req ApprovalRequest) error {
	_, err := p.record(ctx, req, entity.ResponseDeclined)
	return err
}

// HandleAgencyApprovalRequiresModification records the response and then
// invalidates every approval of the workflow, the new one included
func (p *ApprovalProcessor) HandleAgencyApprovalRequiresModification(ctx context.Context, req ApprovalRequest) error {
	if _, err := p.record(ctx, req, entity.ResponseRequiresModification); err != nil {
		return err
	}

	invalidated, err := p.approvals.InvalidateAll(ctx, req.Workflow.WorkflowID)
	if err != nil {
		return err
	}

	p.logger.Info("Approvals invalidated after modification request",
		zap.String("workflow_id", req.Workflow.WorkflowID.String()),
		zap.Int64("invalidated", invalidated))
	return nil
}

// HandleResponse dispatches to the handler matching response
func (p *ApprovalProcessor) HandleResponse(ctx context.Context, req ApprovalRequest, response entity.ApprovalResponseType) error {
	switch response {
	case entity.ResponseApproved:
		return p.HandleAgencyApprovalAccepted(ctx, req)
	case entity.ResponseDeclined:
		return p.HandleAgencyApprovalDeclined(ctx, req)
	case entity.ResponseRequiresModification:
		return p.HandleAgencyApprovalRequiresModification(ctx, req)
	default:
		return newError(ErrInvalidWorkflowResponseType, "Approval response type is not a valid value")
	}
}

func (p *ApprovalProcessor) record(ctx context.Context, req ApprovalRequest, response entity.ApprovalResponseType) (*entity.WorkflowApproval, error) {
	approvalCfg, err := p.approvalConfig(req.Config, req.State)
	if err != nil {
		return nil, err
	}

	exists, err := p.approvals.HasValidApproval(ctx, req.Workflow.WorkflowID, req.UserID, approvalCfg.ApprovalType)
	if err != nil {
		return nil, err
	}
	if exists {
		p.logger.Warn("User already has an active approval",
			zap.String("workflow_id", req.Workflow.WorkflowID.String()),
			zap.String("user_id", req.UserID.String()),
			zap.String("approval_type", string(approvalCfg.ApprovalType)))
		return nil, newError(ErrDuplicateApproval, "User already has an active approval")
	}

	approval := &entity.WorkflowApproval{
		WorkflowID:           req.Workflow.WorkflowID,
		ApprovingUserID:      req.UserID,
		ApprovalType:         approvalCfg.ApprovalType,
		EventID:              req.EventID,
		IsStillValid:         true,
		ApprovalResponseType: response,
		Comment:              req.Comment,
	}
	if err := p.approvals.Create(ctx, approval); err != nil {
		return nil, err
	}

	p.logger.Info("Approval recorded",
		zap.String("workflow_id", req.Workflow.WorkflowID.String()),
		zap.String("user_id", req.UserID.String()),
		zap.String("approval_type", string(approvalCfg.ApprovalType)),
		zap.String("response", string(response)))
	return approval, nil
}

// HasEnoughApprovals reports whether the valid approvals for the gate at state meet its minimum
func (p *ApprovalProcessor) HasEnoughApprovals(ctx context.Context, wf *entity.Workflow, config *WorkflowConfig, state domainwf.State) (bool, error) {
	approvalCfg, err := p.approvalConfig(config, state)
	if err != nil {
		return false, err
	}

	count, err := p.approvals.CountValid(ctx, wf.WorkflowID, approvalCfg.ApprovalType, entity.ResponseApproved)
	if err != nil {
		return false, err
	}

	return count >= approvalCfg.MinimumApprovalsRequired, nil
}

func (p *ApprovalProcessor) approvalConfig(config *WorkflowConfig, state domainwf.State) (ApprovalConfig, error) {
	approvalCfg, ok := config.ApprovalConfigFor(state)
	if !ok {
		p.logger.Error("No approval config for state",
			zap.String("workflow_type", string(config.WorkflowType)),
			zap.String("state", state.String()))
		return ApprovalConfig{}, newError(ErrImplementationMissing,
			fmt.Sprintf("No approval config exists for state %s", state))
	}
	return approvalCfg, nil
}

// CanUserDoAgencyApproval reports whether the user holds the privileges the
// approval gate behind eventToSend requires, within the agency that owns the
// workflow's entity. Users of other agencies get false, not an error.
func (p *ApprovalProcessor) CanUserDoAgencyApproval(ctx context.Context, userID uuid.UUID, wf *entity.Workflow, config *WorkflowConfig, eventToSend string) (bool, error) {
	machine, err := config.Describe(config.States.Initial())
	if err != nil {
		return false, err
	}

	var gates []ApprovalConfig
	for _, state := range machine.SourceStates(domainwf.Trigger(eventToSend)) {
		if approvalCfg, ok := config.ApprovalConfigFor(state); ok {
			gates = append(gates, approvalCfg)
		}
	}
	if len(gates) == 0 {
		return false, nil
	}

	agencyID, err := p.ResolveAgency(ctx, wf)
	if err != nil {
		return false, err
	}
	if agencyID == nil {
		p.logger.Debug("Workflow entity has no owning agency",
			zap.String("workflow_id", wf.WorkflowID.String()))
		return false, nil
	}

	privileges, err := p.users.GetAgencyPrivileges(ctx, userID, *agencyID)
	if err != nil {
		return false, err
	}

	held := make(map[entity.Privilege]bool, len(privileges))
	for _, privilege := range privileges {
		held[privilege] = true
	}

	for _, gate := range gates {
		if holdsAll(held, gate.RequiredPrivileges) {
			return true, nil
		}
	}
	return false, nil
}

func holdsAll(held map[entity.Privilege]bool, required []entity.Privilege) bool {
	for _, privilege := range required {
		if !held[privilege] {
			return false
		}
	}
	return true
}

// ResolveAgency walks from the workflow's entity to the agency that owns it.
// It returns nil when no agency can be resolved.
func (p *ApprovalProcessor) ResolveAgency(ctx context.Context, wf *entity.Workflow) (*uuid.UUID, error) {
	entityType, entityID, ok := wf.EntityType()
	if !ok {
		return nil, nil
	}

	switch entityType {
	case entity.EntityTypeApplicationSubmission:
		sub, err := p.applications.GetSubmissionByID(ctx, entityID)
		if err != nil || sub == nil {
			return nil, err
		}
		entityID = sub.ApplicationID
		fallthrough

	case entity.EntityTypeApplication:
		app, err := p.applications.GetByID(ctx, entityID)
		if err != nil || app == nil {
			return nil, err
		}
		entityID = app.OpportunityID
		fallthrough

	case entity.EntityTypeOpportunity:
		opp, err := p.opportunities.GetByID(ctx, entityID)
		if err != nil || opp == nil {
			return nil, err
		}
		return opp.AgencyID, nil
	}

	return nil, nil
}

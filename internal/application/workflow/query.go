package workflow

import (
	"context"
	"errors"

	"github.com/garyjia/grants-workflow/internal/application/port"
	"github.com/garyjia/grants-workflow/internal/domain/entity"
	domainwf "github.com/garyjia/grants-workflow/internal/domain/workflow"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// QueryService answers read-only questions about workflows
type QueryService struct {
	registry  *Registry
	repos     Repositories
	processor *ApprovalProcessor
	reports   port.ReportWriter
	logger    *zap.Logger
}

// NewQueryService creates a new query service. reports may be nil when
// audit export is not needed.
func NewQueryService(registry *Registry, repos Repositories, reports port.ReportWriter, logger *zap.Logger) *QueryService {
	return &QueryService{
		registry:  registry,
		repos:     repos,
		processor: NewApprovalProcessor(repos.Approvals, repos.Users, repos.Opportunities, repos.Applications, logger),
		reports:   reports,
		logger:    logger,
	}
}

// GetWorkflow returns the workflow or a WorkflowDoesNotExist error
func (s *QueryService) GetWorkflow(ctx context.Context, workflowID uuid.UUID) (*entity.Workflow, error) {
	wf, err := s.repos.Workflows.GetByID(ctx, workflowID)
	if err != nil {
		return nil, err
	}
	if wf == nil {
		return nil, newError(ErrWorkflowDoesNotExist, "Workflow does not exist")
	}
	return wf, nil
}

// ListWorkflows returns workflows matching filter, newest first
func (s *QueryService) ListWorkflows(ctx context.Context, filter port.WorkflowFilter) ([]*entity.Workflow, error) {
	return s.repos.Workflows.List(ctx, filter)
}

// ListApprovals returns every approval recorded against the workflow, valid or not
func (s *QueryService) ListApprovals(ctx context.Context, workflowID uuid.UUID) ([]*entity.WorkflowApproval, error) {
	if _, err := s.GetWorkflow(ctx, workflowID); err != nil {
		return nil, err
	}
	return s.repos.Approvals.ListByWorkflowID(ctx, workflowID)
}

// ListAudits returns the transition log of the workflow in order
func (s *QueryService) ListAudits(ctx context.Context, workflowID uuid.UUID) ([]*entity.WorkflowAudit, error) {
	if _, err := s.GetWorkflow(ctx, workflowID); err != nil {
		return nil, err
	}
	return s.repos.Audits.ListByWorkflowID(ctx, workflowID)
}

// AllowedEvents lists the events userID may send to the workflow from its
// current state. Events guarded by an approval gate need the gate's privileges.
func (s *QueryService) AllowedEvents(ctx context.Context, workflowID, userID uuid.UUID) ([]string, error) {
	wf, err := s.GetWorkflow(ctx, workflowID)
	if err != nil {
		return nil, err
	}

	allowed := []string{}
	if !wf.IsActive {
		return allowed, nil
	}

	config, err := s.registry.Get(wf.WorkflowType)
	if err != nil {
		return nil, err
	}

	machine, err := config.Describe(domainwf.State(wf.CurrentWorkflowState))
	if err != nil {
		return nil, wrapError(ErrUnexpectedState, "Workflow record has an unexpected state", err)
	}

	for _, trigger := range machine.PermittedTriggers() {
		if _, gated := config.ApprovalConfigFor(machine.State()); !gated {
			allowed = append(allowed, trigger.String())
			continue
		}

		ok, err := s.processor.CanUserDoAgencyApproval(ctx, userID, wf, config, trigger.String())
		if err != nil {
			return nil, err
		}
		if ok {
			allowed = append(allowed, trigger.String())
		}
	}

	return allowed, nil
}

// BuildAuditReport gathers the data exported for a workflow
func (s *QueryService) BuildAuditReport(ctx context.Context, workflowID uuid.UUID) (*port.AuditReport, error) {
	wf, err := s.GetWorkflow(ctx, workflowID)
	if err != nil {
		return nil, err
	}

	audits, err := s.repos.Audits.ListByWorkflowID(ctx, workflowID)
	if err != nil {
		return nil, err
	}

	approvals, err := s.repos.Approvals.ListByWorkflowID(ctx, workflowID)
	if err != nil {
		return nil, err
	}

	return &port.AuditReport{
		Workflow:  wf,
		Audits:    audits,
		Approvals: approvals,
	}, nil
}

// ExportAuditReport writes the workflow's audit report to path
func (s *QueryService) ExportAuditReport(ctx context.Context, workflowID uuid.UUID, path string) error {
	if s.reports == nil {
		return errors.New("no report writer configured")
	}

	report, err := s.BuildAuditReport(ctx, workflowID)
	if err != nil {
		return err
	}

	if err := s.reports.WriteAuditReport(report, path); err != nil {
		return err
	}

	s.logger.Info("Audit report exported",
		zap.String("workflow_id", workflowID.String()),
		zap.String("path", path),
		zap.Int("audits", len(report.Audits)),
		zap.Int("approvals", len(report.Approvals)))
	return nil
}

package port

import (
	"context"

	"github.com/garyjia/grants-workflow/internal/domain/entity"
)

// WorkflowNotification is the message sent when a workflow requests a notification
type WorkflowNotification struct {
	Workflow *entity.Workflow
	Title    string
	Body     string
}

// Notifier delivers workflow notifications to people outside the engine
type Notifier interface {
	Notify(ctx context.Context, n WorkflowNotification) error
}

// AuditReport is the data exported for a single workflow
type AuditReport struct {
	Workflow  *entity.Workflow
	Audits    []*entity.WorkflowAudit
	Approvals []*entity.WorkflowApproval
}

// ReportWriter renders an AuditReport to a file
type ReportWriter interface {
	WriteAuditReport(report *AuditReport, path string) error
}

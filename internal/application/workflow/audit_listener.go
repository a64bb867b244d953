package workflow

import (
	"context"

	"github.com/garyjia/grants-workflow/internal/application/port"
	"github.com/garyjia/grants-workflow/internal/domain/entity"
	"github.com/garyjia/grants-workflow/internal/domain/event"
	domainwf "github.com/garyjia/grants-workflow/internal/domain/workflow"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// AuditListener writes one workflow_audit row for every transition a machine performs.
// Chained transitions are attributed to the system user when one is configured.
type AuditListener struct {
	audits       port.AuditRepository
	workflow     *entity.Workflow
	event        *event.WorkflowEvent
	systemUserID uuid.UUID
	logger       *zap.Logger
}

// NewAuditListener creates a listener bound to one workflow event
func NewAuditListener(audits port.AuditRepository, wf *entity.Workflow, evt *event.WorkflowEvent, systemUserID uuid.UUID, logger *zap.Logger) *AuditListener {
	return &AuditListener{
		audits:       audits,
		workflow:     wf,
		event:        evt,
		systemUserID: systemUserID,
		logger:       logger,
	}
}

// OnTransition implements domainwf.TransitionListener
func (l *AuditListener) OnTransition(ctx context.Context, t domainwf.Transition) error {
	actor := l.event.ActingUserID
	if t.Automatic && l.systemUserID != uuid.Nil {
		actor = l.systemUserID
	}

	audit := &entity.WorkflowAudit{
		WorkflowID:      l.workflow.WorkflowID,
		ActingUserID:    actor,
		TransitionEvent: t.Trigger.String(),
		SourceState:     t.Source.String(),
		TargetState:     t.Target.String(),
		EventID:         l.event.EventID,
		AuditMetadata:   l.event.Metadata,
	}
	if err := l.audits.Create(ctx, audit); err != nil {
		return err
	}

	l.logger.Debug("Workflow transition audited",
		zap.String("workflow_id", l.workflow.WorkflowID.String()),
		zap.String("transition_event", audit.TransitionEvent),
		zap.String("source_state", audit.SourceState),
		zap.String("target_state", audit.TargetState),
		zap.Bool("automatic", t.Automatic))
	return nil
}

var _ domainwf.TransitionListener = (*AuditListener)(nil)

package service

import (
	"context"
	"fmt"

	"github.com/garyjia/grants-workflow/internal/application/dispatcher"
	"github.com/garyjia/grants-workflow/internal/application/port"
	"github.com/garyjia/grants-workflow/internal/domain/event"
	"go.uber.org/zap"
)

// NotificationService turns notification requests raised by workflow
// transitions into messages delivered by a port.Notifier
type NotificationService struct {
	workflows port.WorkflowRepository
	notifier  port.Notifier
	logger    *zap.Logger
}

// NewNotificationService creates a new NotificationService
func NewNotificationService(workflows port.WorkflowRepository, notifier port.Notifier, logger *zap.Logger) *NotificationService {
	return &NotificationService{
		workflows: workflows,
		notifier:  notifier,
		logger:    logger,
	}
}

// SubscriptionName names the service's handler on the dispatcher
const SubscriptionName = "workflow-notifications"

// Register subscribes the service to notification requests
func (s *NotificationService) Register(d dispatcher.Dispatcher) {
	d.SubscribeNamed(event.TypeNotificationRequested, SubscriptionName, s.HandleNotificationRequested)
}

// Unregister stops delivery of new notification requests. Deliveries already
// running are not interrupted.
func (s *NotificationService) Unregister(d dispatcher.Dispatcher) {
	d.Unsubscribe(event.TypeNotificationRequested, SubscriptionName)
}

// HandleNotificationRequested sends the notification described by evt
func (s *NotificationService) HandleNotificationRequested(ctx context.Context, evt *event.Event) error {
	wf, err := s.workflows.GetByID(ctx, evt.WorkflowID)
	if err != nil {
		return fmt.Errorf("get workflow: %w", err)
	}
	if wf == nil {
		return fmt.Errorf("workflow %s not found for notification", evt.WorkflowID)
	}

	reason := evt.GetPayloadString("reason")
	notification := port.WorkflowNotification{
		Workflow: wf,
		Title:    fmt.Sprintf("%s workflow update", wf.WorkflowType),
		Body:     buildNotificationBody(wf.WorkflowID.String(), evt.GetPayloadString("state"), reason),
	}

	if err := s.notifier.Notify(ctx, notification); err != nil {
		s.logger.Error("Failed to send workflow notification",
			zap.String("workflow_id", wf.WorkflowID.String()),
			zap.String("reason", reason),
			zap.Error(err))
		return fmt.Errorf("send notification: %w", err)
	}

	s.logger.Info("Workflow notification sent",
		zap.String("workflow_id", wf.WorkflowID.String()),
		zap.String("correlation_id", evt.CorrelationID),
		zap.String("reason", reason))

	return nil
}

func buildNotificationBody(workflowID, state, reason string) string {
	body := fmt.Sprintf("Workflow %s", workflowID)
	if state != "" {
		body += fmt.Sprintf(" is now in state %s", state)
	}
	if reason != "" {
		body += fmt.Sprintf(": %s", reason)
	}
	return body
}

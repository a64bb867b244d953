package lark

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/garyjia/grants-workflow/internal/application/port"
	"go.uber.org/zap"
)

// Notifier posts workflow notifications as text messages to a Lark chat
type Notifier struct {
	sender MessageSender
	chatID string
	logger *zap.Logger
}

// NewNotifier creates a notifier posting to chatID
func NewNotifier(sender MessageSender, chatID string, logger *zap.Logger) *Notifier {
	return &Notifier{
		sender: sender,
		chatID: chatID,
		logger: logger,
	}
}

// Notify implements port.Notifier
func (n *Notifier) Notify(ctx context.Context, notification port.WorkflowNotification) error {
	content, err := textContent(notification)
	if err != nil {
		return err
	}

	messageID, err := n.sender.SendMessage(ctx, ReceiveIDTypeChatID, n.chatID, MsgTypeText, content)
	if err != nil {
		return fmt.Errorf("failed to notify chat %s: %w", n.chatID, err)
	}

	n.logger.Info("Workflow notification posted to Lark",
		zap.String("chat_id", n.chatID),
		zap.String("message_id", messageID))
	return nil
}

// textContent renders the IM content of a text message
func textContent(notification port.WorkflowNotification) (string, error) {
	text := notification.Body
	if notification.Title != "" {
		text = notification.Title + "\n" + notification.Body
	}

	data, err := json.Marshal(map[string]string{"text": text})
	if err != nil {
		return "", fmt.Errorf("failed to marshal message content: %w", err)
	}
	return string(data), nil
}

// LogNotifier only logs notifications. It is used when Lark is not configured.
type LogNotifier struct {
	logger *zap.Logger
}

// NewLogNotifier creates a notifier that writes to logger
func NewLogNotifier(logger *zap.Logger) *LogNotifier {
	return &LogNotifier{logger: logger}
}

// Notify implements port.Notifier
func (n *LogNotifier) Notify(ctx context.Context, notification port.WorkflowNotification) error {
	fields := []zap.Field{
		zap.String("title", notification.Title),
		zap.String("body", notification.Body),
	}
	if notification.Workflow != nil {
		fields = append(fields, zap.String("workflow_id", notification.Workflow.WorkflowID.String()))
	}
	n.logger.Info("Workflow notification", fields...)
	return nil
}

package entity

import (
	"time"

	"github.com/google/uuid"
)

// WorkflowEventHistory is the append-only record of every received workflow event.
// WorkflowID stays nil until the event has been resolved against a workflow.
type WorkflowEventHistory struct {
	EventID      uuid.UUID  `json:"event_id"`
	EventData    []byte     `json:"event_data"`
	WorkflowID   *uuid.UUID `json:"workflow_id,omitempty"`
	IsProcessed  bool       `json:"is_processed"`
	ProcessedAt  *time.Time `json:"processed_at,omitempty"`
	ErrorMessage *string    `json:"error_message,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
}

// WorkflowAudit records a single state machine transition
type WorkflowAudit struct {
	WorkflowAuditID uuid.UUID      `json:"workflow_audit_id"`
	WorkflowID      uuid.UUID      `json:"workflow_id"`
	ActingUserID    uuid.UUID      `json:"acting_user_id"`
	TransitionEvent string         `json:"transition_event"`
	SourceState     string         `json:"source_state"`
	TargetState     string         `json:"target_state"`
	EventID         uuid.UUID      `json:"event_id"`
	AuditMetadata   map[string]any `json:"audit_metadata,omitempty"`
	CreatedAt       time.Time      `json:"created_at"`
}

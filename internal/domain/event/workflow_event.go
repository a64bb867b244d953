package event

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/garyjia/grants-workflow/internal/domain/entity"
	"github.com/google/uuid"
)

const (
	minStartEntities = 1
	maxStartEntities = 5
)

// WorkflowEntity references a domain object a new workflow should be bound to
type WorkflowEntity struct {
	EntityType entity.WorkflowEntityType `json:"entity_type"`
	EntityID   uuid.UUID                 `json:"entity_id"`
}

// StartWorkflowContext carries what is needed to create a new workflow
type StartWorkflowContext struct {
	WorkflowType entity.WorkflowType `json:"workflow_type"`
	Entities     []WorkflowEntity    `json:"entities"`
}

// ProcessWorkflowContext carries what is needed to advance an existing workflow
type ProcessWorkflowContext struct {
	WorkflowID  uuid.UUID `json:"workflow_id"`
	EventToSend string    `json:"event_to_send"`
}

// WorkflowEvent is an incoming request to start or advance a workflow.
// Exactly one of the two contexts is expected, matching EventType.
type WorkflowEvent struct {
	EventID                uuid.UUID               `json:"event_id"`
	EventType              WorkflowEventType       `json:"event_type"`
	ActingUserID           uuid.UUID               `json:"acting_user_id"`
	StartWorkflowContext   *StartWorkflowContext   `json:"start_workflow_context,omitempty"`
	ProcessWorkflowContext *ProcessWorkflowContext `json:"process_workflow_context,omitempty"`
	Metadata               map[string]any          `json:"metadata,omitempty"`
}

// NewStartWorkflowEvent builds a START_WORKFLOW event with a fresh event ID
func NewStartWorkflowEvent(userID uuid.UUID, workflowType entity.WorkflowType, entities []WorkflowEntity, metadata map[string]any) *WorkflowEvent {
	return &WorkflowEvent{
		EventID:      uuid.New(),
		EventType:    StartWorkflow,
		ActingUserID: userID,
		StartWorkflowContext: &StartWorkflowContext{
			WorkflowType: workflowType,
			Entities:     entities,
		},
		Metadata: metadata,
	}
}

// NewProcessWorkflowEvent builds a PROCESS_WORKFLOW event with a fresh event ID
func NewProcessWorkflowEvent(userID, workflowID uuid.UUID, eventToSend string, metadata map[string]any) *WorkflowEvent {
	return &WorkflowEvent{
		EventID:      uuid.New(),
		EventType:    ProcessWorkflow,
		ActingUserID: userID,
		ProcessWorkflowContext: &ProcessWorkflowContext{
			WorkflowID:  workflowID,
			EventToSend: eventToSend,
		},
		Metadata: metadata,
	}
}

// Validate checks the shape of the event. It does not touch the database,
// so it cannot tell whether referenced users, workflows or entities exist.
func (e *WorkflowEvent) Validate() error {
	if e.ActingUserID == uuid.Nil {
		return errors.New("acting_user_id is required")
	}

	switch e.EventType {
	case StartWorkflow:
		if e.ProcessWorkflowContext != nil {
			return errors.New("process_workflow_context cannot be set on a start workflow event")
		}
		if e.StartWorkflowContext == nil {
			return errors.New("start_workflow_context is required for a start workflow event")
		}
		return e.StartWorkflowContext.validate()

	case ProcessWorkflow:
		if e.StartWorkflowContext != nil {
			return errors.New("start_workflow_context cannot be set on a process workflow event")
		}
		if e.ProcessWorkflowContext == nil {
			return errors.New("process_workflow_context is required for a process workflow event")
		}
		return e.ProcessWorkflowContext.validate()

	default:
		return fmt.Errorf("event_type %q is not valid", e.EventType)
	}
}

func (c *StartWorkflowContext) validate() error {
	if c.WorkflowType == "" {
		return errors.New("workflow_type is required")
	}

	if len(c.Entities) < minStartEntities || len(c.Entities) > maxStartEntities {
		return fmt.Errorf("entities must contain between %d and %d items", minStartEntities, maxStartEntities)
	}

	for i, ent := range c.Entities {
		if !ent.EntityType.IsValid() {
			return fmt.Errorf("entities[%d].entity_type %q is not valid", i, ent.EntityType)
		}
		if ent.EntityID == uuid.Nil {
			return fmt.Errorf("entities[%d].entity_id is required", i)
		}
	}

	return nil
}

func (c *ProcessWorkflowContext) validate() error {
	if c.WorkflowID == uuid.Nil {
		return errors.New("workflow_id is required")
	}
	if c.EventToSend == "" {
		return errors.New("event_to_send is required")
	}
	return nil
}

// MetadataString returns a string metadata value and whether it was present
func (e *WorkflowEvent) MetadataString(key string) (string, bool) {
	val, ok := e.Metadata[key]
	if !ok || val == nil {
		return "", false
	}
	str, ok := val.(string)
	if !ok {
		return fmt.Sprint(val), true
	}
	return str, true
}

// LogFields returns identifying attributes of the event for structured logging
func (e *WorkflowEvent) LogFields() map[string]string {
	fields := map[string]string{
		"event_id":       e.EventID.String(),
		"event_type":     string(e.EventType),
		"acting_user_id": e.ActingUserID.String(),
	}
	if e.StartWorkflowContext != nil {
		fields["workflow_type"] = string(e.StartWorkflowContext.WorkflowType)
	}
	if e.ProcessWorkflowContext != nil {
		fields["workflow_id"] = e.ProcessWorkflowContext.WorkflowID.String()
		fields["event_to_send"] = e.ProcessWorkflowContext.EventToSend
	}
	return fields
}

// Marshal serializes the event for storage in the event history
func (e *WorkflowEvent) Marshal() ([]byte, error) {
	data, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal workflow event: %w", err)
	}
	return data, nil
}

// UnmarshalWorkflowEvent decodes an event previously stored with Marshal
func UnmarshalWorkflowEvent(data []byte) (*WorkflowEvent, error) {
	var evt WorkflowEvent
	if err := json.Unmarshal(data, &evt); err != nil {
		return nil, fmt.Errorf("failed to unmarshal workflow event: %w", err)
	}
	return &evt, nil
}

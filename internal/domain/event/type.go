package event

// Type identifies the type of domain event
type Type string

const (
	TypeWorkflowStarted       Type = "workflow.started"
	TypeStateChanged          Type = "workflow.state_changed"
	TypeWorkflowCompleted     Type = "workflow.completed"
	TypeNotificationRequested Type = "workflow.notification_requested"
)

// Types lists every domain event type
func Types() []Type {
	return []Type{TypeWorkflowStarted, TypeStateChanged, TypeWorkflowCompleted, TypeNotificationRequested}
}

// String returns the string representation of the event type
func (t Type) String() string {
	return string(t)
}

// IsValid checks if the event type is one of the defined constants
func (t Type) IsValid() bool {
	switch t {
	case TypeWorkflowStarted,
		TypeStateChanged,
		TypeWorkflowCompleted,
		TypeNotificationRequested:
		return true
	default:
		return false
	}
}

// WorkflowEventType discriminates the two kinds of incoming workflow event
type WorkflowEventType string

const (
	StartWorkflow   WorkflowEventType = "START_WORKFLOW"
	ProcessWorkflow WorkflowEventType = "PROCESS_WORKFLOW"
)

// IsValid returns true for START_WORKFLOW and PROCESS_WORKFLOW
func (t WorkflowEventType) IsValid() bool {
	return t == StartWorkflow || t == ProcessWorkflow
}

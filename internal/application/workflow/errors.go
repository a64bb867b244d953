package workflow

import (
	"errors"
)

// Error kinds. Concrete errors returned by this package carry a descriptive
// message and match one of these through errors.Is.
var (
	ErrUserDoesNotExist            = errors.New("user does not exist")
	ErrInvalidEvent                = errors.New("invalid event")
	ErrInvalidWorkflowType         = errors.New("invalid workflow type")
	ErrWorkflowDoesNotExist        = errors.New("workflow does not exist")
	ErrEntityNotFound              = errors.New("entity not found")
	ErrInvalidEntityForWorkflow    = errors.New("invalid entity for workflow")
	ErrUnexpectedState             = errors.New("unexpected workflow state")
	ErrInactiveWorkflow            = errors.New("inactive workflow")
	ErrDuplicateApproval           = errors.New("duplicate approval")
	ErrImplementationMissing       = errors.New("implementation missing")
	ErrInvalidWorkflowResponseType = errors.New("invalid workflow response type")
	ErrConcurrentModification      = errors.New("concurrent modification")
)

// Error is a workflow processing failure
type Error struct {
	Kind    error
	Message string
	Err     error
}

func newError(kind error, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

func wrapError(kind error, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, Err: cause}
}

// Error returns the descriptive message
func (e *Error) Error() string {
	return e.Message
}

// Unwrap exposes both the kind and the underlying cause
func (e *Error) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

// Is makes an unsupported entity also count as an invalid event
func (e *Error) Is(target error) bool {
	return e.Kind == ErrInvalidEntityForWorkflow && target == ErrInvalidEvent
}

// errorTypes is ordered so that the most specific kind wins
var errorTypes = []struct {
	kind error
	name string
}{
	{ErrInvalidEntityForWorkflow, "InvalidEntityForWorkflow"},
	{ErrUserDoesNotExist, "UserDoesNotExist"},
	{ErrInvalidEvent, "InvalidEventError"},
	{ErrInvalidWorkflowType, "InvalidWorkflowTypeError"},
	{ErrWorkflowDoesNotExist, "WorkflowDoesNotExistError"},
	{ErrEntityNotFound, "EntityNotFound"},
	{ErrUnexpectedState, "UnexpectedStateError"},
	{ErrInactiveWorkflow, "InactiveWorkflowError"},
	{ErrDuplicateApproval, "DuplicateApprovalError"},
	{ErrImplementationMissing, "ImplementationMissingError"},
	{ErrInvalidWorkflowResponseType, "InvalidWorkflowResponseTypeError"},
	{ErrConcurrentModification, "ConcurrentModificationError"},
}

// ErrorType returns the name of the error kind, or "InternalError" for
// failures that did not originate in workflow validation
func ErrorType(err error) string {
	for _, t := range errorTypes {
		if errors.Is(err, t.kind) {
			return t.name
		}
	}
	return "InternalError"
}

// IsRetryable reports whether processing the same event again could succeed.
// Validation failures are permanent; lost races and infrastructure errors are not.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrConcurrentModification) {
		return true
	}

	var wfErr *Error
	return !errors.As(err, &wfErr)
}

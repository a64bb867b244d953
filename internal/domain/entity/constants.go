package entity

// WorkflowType identifies which state machine and approval configuration apply to a workflow
type WorkflowType string

const (
	WorkflowTypeBasicTest        WorkflowType = "BASIC_TEST_WORKFLOW"
	WorkflowTypeInitialPrototype WorkflowType = "INITIAL_PROTOTYPE"
)

// WorkflowEntityType is the kind of domain object a workflow can be attached to
type WorkflowEntityType string

const (
	EntityTypeOpportunity           WorkflowEntityType = "OPPORTUNITY"
	EntityTypeApplication           WorkflowEntityType = "APPLICATION"
	EntityTypeApplicationSubmission WorkflowEntityType = "APPLICATION_SUBMISSION"
)

// IsValid returns true for the entity types this engine understands
func (t WorkflowEntityType) IsValid() bool {
	switch t {
	case EntityTypeOpportunity, EntityTypeApplication, EntityTypeApplicationSubmission:
		return true
	default:
		return false
	}
}

// ApprovalType is the category of sign-off an approval counts towards
type ApprovalType string

const (
	ApprovalTypeProgramOfficer ApprovalType = "PROGRAM_OFFICER_APPROVAL"
	ApprovalTypeBudgetOfficer  ApprovalType = "BUDGET_OFFICER_APPROVAL"
)

// Privilege is an agency-scoped permission held by an agency user
type Privilege string

const (
	PrivilegeProgramOfficerApproval Privilege = "PROGRAM_OFFICER_APPROVAL"
	PrivilegeBudgetOfficerApproval  Privilege = "BUDGET_OFFICER_APPROVAL"
)

// ApprovalResponseType is the decision an approver made
type ApprovalResponseType string

const (
	ResponseApproved             ApprovalResponseType = "APPROVED"
	ResponseDeclined             ApprovalResponseType = "DECLINED"
	ResponseRequiresModification ApprovalResponseType = "REQUIRES_MODIFICATION"
)

// IsValid returns true if the response type is one of the defined constants
func (r ApprovalResponseType) IsValid() bool {
	switch r {
	case ResponseApproved, ResponseDeclined, ResponseRequiresModification:
		return true
	default:
		return false
	}
}

// Metadata keys read from workflow events
const (
	MetadataApprovalResponseType = "approval_response_type"
	MetadataComment              = "comment"
)

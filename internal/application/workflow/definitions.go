package workflow

import (
	"github.com/garyjia/grants-workflow/internal/domain/entity"
	domainwf "github.com/garyjia/grants-workflow/internal/domain/workflow"
)

// TriggerStartWorkflow is sent to every new workflow
const TriggerStartWorkflow domainwf.Trigger = "start_workflow"

// BASIC_TEST_WORKFLOW states
const (
	BasicStateStart                         domainwf.State = "start"
	BasicStateMiddle                        domainwf.State = "middle"
	BasicStatePendingProgramOfficerApproval domainwf.State = "pending_program_officer_approval"
	BasicStatePendingBudgetOfficerApproval  domainwf.State = "pending_budget_officer_approval"
	BasicStateDeclined                      domainwf.State = "declined"
	BasicStateEnd                           domainwf.State = "end"
)

// BASIC_TEST_WORKFLOW triggers
const (
	TriggerMiddleToEnd                    domainwf.Trigger = "middle_to_end"
	TriggerMiddleToProgramOfficerApproval domainwf.Trigger = "middle_to_program_officer_approval"
	TriggerMiddleToBudgetOfficerApproval  domainwf.Trigger = "middle_to_budget_officer_approval"
	TriggerReceiveProgramOfficerApproval  domainwf.Trigger = "receive_program_officer_approval"
	TriggerCheckProgramOfficerApproval    domainwf.Trigger = "check_program_officer_approval"
	TriggerReceiveBudgetOfficerApproval   domainwf.Trigger = "receive_budget_officer_approval"
	TriggerCheckBudgetOfficerApproval     domainwf.Trigger = "check_budget_officer_approval"
)

// INITIAL_PROTOTYPE states
const (
	PrototypeStateStart            domainwf.State = "start"
	PrototypeStatePendingApproval  domainwf.State = "pending_approval"
	PrototypeStateSendNotification domainwf.State = "send_notification"
	PrototypeStateDeclined         domainwf.State = "declined"
	PrototypeStateEnd              domainwf.State = "end"
)

// INITIAL_PROTOTYPE triggers
const (
	TriggerReceiveApproval          domainwf.Trigger = "receive_approval"
	TriggerCheckApprovals           domainwf.Trigger = "check_approvals"
	TriggerSendNotificationComplete domainwf.Trigger = "send_notification_complete"
)

// BasicTestWorkflowConfig is a small workflow exercising every engine feature.
// It is used by tests and smoke checks rather than real business processes.
func BasicTestWorkflowConfig() *WorkflowConfig {
	states := domainwf.NewStateSet(
		BasicStateStart,
		[]domainwf.State{BasicStateEnd, BasicStateDeclined},
		BasicStateStart,
		BasicStateMiddle,
		BasicStatePendingProgramOfficerApproval,
		BasicStatePendingBudgetOfficerApproval,
		BasicStateDeclined,
		BasicStateEnd,
	)

	return &WorkflowConfig{
		WorkflowType: entity.WorkflowTypeBasicTest,
		States:       states,
		EntityTypes:  []entity.WorkflowEntityType{entity.EntityTypeOpportunity},
		ApprovalMapping: map[domainwf.State]ApprovalConfig{
			BasicStatePendingProgramOfficerApproval: {
				ApprovalType:             entity.ApprovalTypeProgramOfficer,
				MinimumApprovalsRequired: 3,
				RequiredPrivileges:       []entity.Privilege{entity.PrivilegeProgramOfficerApproval},
			},
			BasicStatePendingBudgetOfficerApproval: {
				ApprovalType:             entity.ApprovalTypeBudgetOfficer,
				MinimumApprovalsRequired: 1,
				RequiredPrivileges:       []entity.Privilege{entity.PrivilegeBudgetOfficerApproval},
			},
		},
		Define: func(b Behaviors) domainwf.StateMachineBuilder {
			builder := domainwf.NewBuilder(states)

			builder.Configure(BasicStateStart).
				Permit(TriggerStartWorkflow, BasicStateMiddle)

			// The approval branches have to stay reachable from start
			builder.Configure(BasicStateMiddle).
				Permit(TriggerMiddleToEnd, BasicStateEnd).
				Permit(TriggerMiddleToProgramOfficerApproval, BasicStatePendingProgramOfficerApproval).
				Permit(TriggerMiddleToBudgetOfficerApproval, BasicStatePendingBudgetOfficerApproval)

			configureApprovalStep(builder, b, approvalStep{
				pending:  BasicStatePendingProgramOfficerApproval,
				receive:  TriggerReceiveProgramOfficerApproval,
				check:    TriggerCheckProgramOfficerApproval,
				approved: BasicStateEnd,
				declined: BasicStateDeclined,
				restart:  BasicStateStart,
			})

			configureApprovalStep(builder, b, approvalStep{
				pending:  BasicStatePendingBudgetOfficerApproval,
				receive:  TriggerReceiveBudgetOfficerApproval,
				check:    TriggerCheckBudgetOfficerApproval,
				approved: BasicStateEnd,
				declined: BasicStateDeclined,
				restart:  BasicStateStart,
			})

			return builder
		},
	}
}

// InitialPrototypeConfig is the first workflow built for agency sign-off.
// Two program officers approve, then a notification goes out.
func InitialPrototypeConfig() *WorkflowConfig {
	states := domainwf.NewStateSet(
		PrototypeStateStart,
		[]domainwf.State{PrototypeStateEnd, PrototypeStateDeclined},
		PrototypeStateStart,
		PrototypeStatePendingApproval,
		PrototypeStateSendNotification,
		PrototypeStateDeclined,
		PrototypeStateEnd,
	)

	return &WorkflowConfig{
		WorkflowType: entity.WorkflowTypeInitialPrototype,
		States:       states,
		EntityTypes:  []entity.WorkflowEntityType{entity.EntityTypeOpportunity, entity.EntityTypeApplication},
		ApprovalMapping: map[domainwf.State]ApprovalConfig{
			PrototypeStatePendingApproval: {
				ApprovalType:             entity.ApprovalTypeProgramOfficer,
				MinimumApprovalsRequired: 2,
				RequiredPrivileges:       []entity.Privilege{entity.PrivilegeProgramOfficerApproval},
			},
		},
		Define: func(b Behaviors) domainwf.StateMachineBuilder {
			builder := domainwf.NewBuilder(states)

			builder.Configure(PrototypeStateStart).
				Permit(TriggerStartWorkflow, PrototypeStatePendingApproval)

			configureApprovalStep(builder, b, approvalStep{
				pending:      PrototypeStatePendingApproval,
				receive:      TriggerReceiveApproval,
				check:        TriggerCheckApprovals,
				approved:     PrototypeStateSendNotification,
				approvedThen: TriggerSendNotificationComplete,
				declined:     PrototypeStateDeclined,
				restart:      PrototypeStateStart,
			})

			builder.Configure(PrototypeStateSendNotification).
				Permit(TriggerSendNotificationComplete, PrototypeStateEnd,
					domainwf.Do(b.RequestNotification("approvals complete")))

			return builder
		},
	}
}

// approvalStep names the states and triggers of one receive/check approval gate
type approvalStep struct {
	pending      domainwf.State
	receive      domainwf.Trigger
	check        domainwf.Trigger
	approved     domainwf.State
	approvedThen domainwf.Trigger
	declined     domainwf.State
	restart      domainwf.State
}

// configureApprovalStep wires the receive and check triggers of an approval gate.
//
// receive records the response: an approval stays put and chains check, a
// decline ends the workflow and a modification request sends it back to restart.
// check moves on once enough approvals are held, otherwise it stays.
func configureApprovalStep(builder domainwf.StateMachineBuilder, b Behaviors, step approvalStep) {
	var approvedOpts []domainwf.TransitionOption
	if step.approvedThen != "" {
		approvedOpts = append(approvedOpts, domainwf.Then(step.approvedThen))
	}

	builder.Configure(step.pending).
		PermitIf(step.receive, step.pending,
			b.ResponseIs(entity.ResponseApproved),
			domainwf.Do(b.RecordApproval(step.pending, entity.ResponseApproved)),
			domainwf.Then(step.check)).
		PermitIf(step.receive, step.declined,
			b.ResponseIs(entity.ResponseDeclined),
			domainwf.Do(b.RecordApproval(step.pending, entity.ResponseDeclined))).
		PermitIf(step.receive, step.restart,
			b.ResponseIs(entity.ResponseRequiresModification),
			domainwf.Do(b.RecordApproval(step.pending, entity.ResponseRequiresModification))).
		PermitIf(step.check, step.approved, b.HasEnoughApprovals(step.pending), approvedOpts...).
		Permit(step.check, step.pending)
}

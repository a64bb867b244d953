package workflow

import (
	"context"
	"testing"

	"github.com/garyjia/grants-workflow/internal/domain/entity"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newProcessor(store *memStore) *ApprovalProcessor {
	repos := store.repositories()
	return NewApprovalProcessor(repos.Approvals, repos.Users, repos.Opportunities, repos.Applications, zap.NewNop())
}

func TestCanUserDoAgencyApproval(t *testing.T) {
	store := newMemStore()
	agencyID := uuid.New()
	otherAgencyID := uuid.New()
	oppID := store.addOpportunity(&agencyID)
	orphanOppID := store.addOpportunity(nil)

	programOfficer := store.addUser(map[uuid.UUID][]entity.Privilege{agencyID: {entity.PrivilegeProgramOfficerApproval}})
	budgetOfficer := store.addUser(map[uuid.UUID][]entity.Privilege{agencyID: {entity.PrivilegeBudgetOfficerApproval}})
	outsider := store.addUser(map[uuid.UUID][]entity.Privilege{otherAgencyID: {entity.PrivilegeProgramOfficerApproval}})

	config := BasicTestWorkflowConfig()
	wf := &entity.Workflow{WorkflowID: uuid.New(), WorkflowType: config.WorkflowType, OpportunityID: &oppID}
	orphan := &entity.Workflow{WorkflowID: uuid.New(), WorkflowType: config.WorkflowType, OpportunityID: &orphanOppID}

	tests := []struct {
		name    string
		userID  uuid.UUID
		wf      *entity.Workflow
		trigger string
		want    bool
	}{
		{"program officer on program gate", programOfficer, wf, TriggerReceiveProgramOfficerApproval.String(), true},
		{"budget officer on program gate", budgetOfficer, wf, TriggerReceiveProgramOfficerApproval.String(), false},
		{"budget officer on budget gate", budgetOfficer, wf, TriggerReceiveBudgetOfficerApproval.String(), true},
		{"other agency", outsider, wf, TriggerReceiveProgramOfficerApproval.String(), false},
		{"ungated event", programOfficer, wf, TriggerMiddleToEnd.String(), false},
		{"unknown event", programOfficer, wf, "no_such_event", false},
		{"entity without agency", programOfficer, orphan, TriggerReceiveProgramOfficerApproval.String(), false},
	}

	processor := newProcessor(store)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := processor.CanUserDoAgencyApproval(context.Background(), tt.userID, tt.wf, config, tt.trigger)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestCanUserDoAgencyApproval_OutsiderNeverApproves(t *testing.T) {
	store := newMemStore()
	agencyID := uuid.New()
	oppID := store.addOpportunity(&agencyID)
	appID := store.addApplication(oppID)

	allPrivileges := []entity.Privilege{entity.PrivilegeProgramOfficerApproval, entity.PrivilegeBudgetOfficerApproval}
	insider := store.addUser(map[uuid.UUID][]entity.Privilege{agencyID: allPrivileges})
	outsider := store.addUser(map[uuid.UUID][]entity.Privilege{uuid.New(): allPrivileges})

	basic := BasicTestWorkflowConfig()
	prototype := InitialPrototypeConfig()

	tests := []struct {
		name   string
		config *WorkflowConfig
		wf     *entity.Workflow
	}{
		{"opportunity bound", basic, &entity.Workflow{WorkflowID: uuid.New(), WorkflowType: basic.WorkflowType, OpportunityID: &oppID}},
		{"application bound", prototype, &entity.Workflow{WorkflowID: uuid.New(), WorkflowType: prototype.WorkflowType, ApplicationID: &appID}},
	}

	processor := newProcessor(store)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			machine, err := tt.config.Describe(tt.config.States.Initial())
			require.NoError(t, err)

			gated := 0
			for _, trigger := range machine.ValidTriggers() {
				got, err := processor.CanUserDoAgencyApproval(context.Background(), outsider, tt.wf, tt.config, trigger.String())
				require.NoError(t, err)
				assert.False(t, got, "outsider approved %s", trigger)

				allowed, err := processor.CanUserDoAgencyApproval(context.Background(), insider, tt.wf, tt.config, trigger.String())
				require.NoError(t, err)
				if allowed {
					gated++
				}
			}
			assert.Positive(t, gated, "the insider should pass at least one gate")
		})
	}
}

func TestResolveAgency(t *testing.T) {
	store := newMemStore()
	agencyID := uuid.New()
	oppID := store.addOpportunity(&agencyID)
	appID := store.addApplication(oppID)
	subID := store.addSubmission(appID)
	missing := uuid.New()

	tests := []struct {
		name string
		wf   *entity.Workflow
		want *uuid.UUID
	}{
		{"opportunity", &entity.Workflow{OpportunityID: &oppID}, &agencyID},
		{"application", &entity.Workflow{ApplicationID: &appID}, &agencyID},
		{"application submission", &entity.Workflow{ApplicationSubmissionID: &subID}, &agencyID},
		{"missing application", &entity.Workflow{ApplicationID: &missing}, nil},
		{"no entity", &entity.Workflow{}, nil},
	}

	processor := newProcessor(store)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := processor.ResolveAgency(context.Background(), tt.wf)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestHasEnoughApprovals(t *testing.T) {
	store := newMemStore()
	processor := newProcessor(store)
	config := BasicTestWorkflowConfig()
	wf := &entity.Workflow{WorkflowID: uuid.New()}

	add := func(approvalType entity.ApprovalType, response entity.ApprovalResponseType, valid bool) {
		store.approvals = append(store.approvals, &entity.WorkflowApproval{
			WorkflowApprovalID:   uuid.New(),
			WorkflowID:           wf.WorkflowID,
			ApprovingUserID:      uuid.New(),
			ApprovalType:         approvalType,
			ApprovalResponseType: response,
			IsStillValid:         valid,
		})
	}

	add(entity.ApprovalTypeProgramOfficer, entity.ResponseApproved, true)
	add(entity.ApprovalTypeProgramOfficer, entity.ResponseApproved, true)
	add(entity.ApprovalTypeProgramOfficer, entity.ResponseApproved, false)
	add(entity.ApprovalTypeProgramOfficer, entity.ResponseDeclined, true)
	add(entity.ApprovalTypeBudgetOfficer, entity.ResponseApproved, true)

	enough, err := processor.HasEnoughApprovals(context.Background(), wf, config, BasicStatePendingProgramOfficerApproval)
	require.NoError(t, err)
	assert.False(t, enough, "only two valid approvals of the program officer type")

	add(entity.ApprovalTypeProgramOfficer, entity.ResponseApproved, true)
	enough, err = processor.HasEnoughApprovals(context.Background(), wf, config, BasicStatePendingProgramOfficerApproval)
	require.NoError(t, err)
	assert.True(t, enough)

	enough, err = processor.HasEnoughApprovals(context.Background(), wf, config, BasicStatePendingBudgetOfficerApproval)
	require.NoError(t, err)
	assert.True(t, enough)

	_, err = processor.HasEnoughApprovals(context.Background(), wf, config, BasicStateMiddle)
	assert.ErrorIs(t, err, ErrImplementationMissing)
}

func TestHandleResponse_NoApprovalConfig(t *testing.T) {
	store := newMemStore()
	processor := newProcessor(store)

	req := ApprovalRequest{
		Workflow: &entity.Workflow{WorkflowID: uuid.New()},
		Config:   BasicTestWorkflowConfig(),
		State:    BasicStateMiddle,
		UserID:   uuid.New(),
		EventID:  uuid.New(),
	}

	err := processor.HandleAgencyApprovalAccepted(context.Background(), req)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrImplementationMissing)
	assert.Empty(t, store.approvals)
}

func TestRequiresModification_Idempotent(t *testing.T) {
	store := newMemStore()
	processor := newProcessor(store)
	wf := &entity.Workflow{WorkflowID: uuid.New()}

	req := func() ApprovalRequest {
		return ApprovalRequest{
			Workflow: wf,
			Config:   BasicTestWorkflowConfig(),
			State:    BasicStatePendingProgramOfficerApproval,
			UserID:   uuid.New(),
			EventID:  uuid.New(),
		}
	}

	require.NoError(t, processor.HandleAgencyApprovalAccepted(context.Background(), req()))
	require.NoError(t, processor.HandleAgencyApprovalRequiresModification(context.Background(), req()))
	require.NoError(t, processor.HandleAgencyApprovalRequiresModification(context.Background(), req()))

	require.Len(t, store.approvals, 3)
	for _, a := range store.approvals {
		assert.False(t, a.IsStillValid)
	}
}

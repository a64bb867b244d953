package workflow

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/garyjia/grants-workflow/internal/application/dispatcher"
	"github.com/garyjia/grants-workflow/internal/application/port"
	"github.com/garyjia/grants-workflow/internal/domain/entity"
	"github.com/garyjia/grants-workflow/internal/domain/event"
	domainwf "github.com/garyjia/grants-workflow/internal/domain/workflow"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fixture struct {
	store        *memStore
	handler      *EventHandler
	txManager    *mockTxManager
	agencyID     uuid.UUID
	systemUserID uuid.UUID
	owner        uuid.UUID

	mu        sync.Mutex
	published []*event.Event
	notified  chan *event.Event
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	f := &fixture{
		store:        newMemStore(),
		txManager:    &mockTxManager{},
		agencyID:     uuid.New(),
		systemUserID: uuid.New(),
		notified:     make(chan *event.Event, 8),
	}
	f.store.users[f.systemUserID] = &entity.User{UserID: f.systemUserID}
	f.owner = f.store.addUser(nil)

	d := dispatcher.NewDispatcher()
	record := func(ctx context.Context, evt *event.Event) error {
		f.mu.Lock()
		defer f.mu.Unlock()
		f.published = append(f.published, evt)
		return nil
	}
	for _, typ := range []event.Type{event.TypeWorkflowStarted, event.TypeStateChanged, event.TypeWorkflowCompleted} {
		d.Subscribe(typ, record)
	}
	d.Subscribe(event.TypeNotificationRequested, func(ctx context.Context, evt *event.Event) error {
		f.notified <- evt
		return nil
	})
	t.Cleanup(func() { _ = d.Close() })

	f.handler = NewEventHandler(DefaultRegistry(), f.store.repositories(), f.txManager, zap.NewNop(),
		WithDispatcher(d),
		WithSystemUser(f.systemUserID))
	return f
}

func (f *fixture) officer(privileges ...entity.Privilege) uuid.UUID {
	return f.store.addUser(map[uuid.UUID][]entity.Privilege{f.agencyID: privileges})
}

func (f *fixture) start(t *testing.T, workflowType entity.WorkflowType, entityType entity.WorkflowEntityType, entityID uuid.UUID) *Result {
	t.Helper()
	evt := event.NewStartWorkflowEvent(f.owner, workflowType, []event.WorkflowEntity{{EntityType: entityType, EntityID: entityID}}, nil)
	result, err := f.handler.Process(context.Background(), evt)
	require.NoError(t, err)
	return result
}

func (f *fixture) send(userID, workflowID uuid.UUID, trigger domainwf.Trigger, metadata map[string]any) (*Result, error) {
	evt := event.NewProcessWorkflowEvent(userID, workflowID, trigger.String(), metadata)
	return f.handler.Process(context.Background(), evt)
}

func (f *fixture) respond(userID, workflowID uuid.UUID, trigger domainwf.Trigger, response entity.ApprovalResponseType) (*Result, error) {
	return f.send(userID, workflowID, trigger, map[string]any{entity.MetadataApprovalResponseType: string(response)})
}

func (f *fixture) publishedTypes() []event.Type {
	f.mu.Lock()
	defer f.mu.Unlock()
	types := make([]event.Type, len(f.published))
	for i, evt := range f.published {
		types[i] = evt.Type
	}
	return types
}

func (f *fixture) waitNotification(t *testing.T) *event.Event {
	t.Helper()
	select {
	case evt := <-f.notified:
		return evt
	case <-time.After(time.Second):
		t.Fatal("notification was not delivered")
		return nil
	}
}

func (f *fixture) resetPublished() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.published = nil
}

func TestProcess_StartWorkflow(t *testing.T) {
	f := newFixture(t)
	oppID := f.store.addOpportunity(&f.agencyID)

	evt := event.NewStartWorkflowEvent(f.owner, entity.WorkflowTypeBasicTest,
		[]event.WorkflowEntity{{EntityType: entity.EntityTypeOpportunity, EntityID: oppID}},
		map[string]any{"source": "unit-test"})

	result, err := f.handler.Process(context.Background(), evt)
	require.NoError(t, err)

	wf := result.Workflow
	assert.True(t, result.Created)
	assert.Equal(t, evt.EventID, result.EventID)
	assert.Equal(t, BasicStateMiddle.String(), wf.CurrentWorkflowState)
	assert.True(t, wf.IsActive)
	require.NotNil(t, wf.OpportunityID)
	assert.Equal(t, oppID, *wf.OpportunityID)
	assert.Equal(t, int64(2), wf.Version, "create then one state update")
	assert.Equal(t, 1, f.txManager.calls)

	stored := f.store.workflows[wf.WorkflowID]
	assert.Equal(t, BasicStateMiddle.String(), stored.CurrentWorkflowState)

	history := f.store.histories[evt.EventID]
	require.NotNil(t, history, "handler should create the missing history row")
	require.NotNil(t, history.WorkflowID)
	assert.Equal(t, wf.WorkflowID, *history.WorkflowID)

	audits := f.store.auditsFor(wf.WorkflowID)
	require.Len(t, audits, 1)
	assert.Equal(t, "start_workflow", audits[0].TransitionEvent)
	assert.Equal(t, "start", audits[0].SourceState)
	assert.Equal(t, "middle", audits[0].TargetState)
	assert.Equal(t, f.owner, audits[0].ActingUserID)
	assert.Equal(t, evt.EventID, audits[0].EventID)
	assert.Equal(t, "unit-test", audits[0].AuditMetadata["source"])

	assert.Equal(t, []event.Type{event.TypeWorkflowStarted, event.TypeStateChanged}, f.publishedTypes())
}

func TestProcess_MiddleToEnd(t *testing.T) {
	f := newFixture(t)
	started := f.start(t, entity.WorkflowTypeBasicTest, entity.EntityTypeOpportunity, f.store.addOpportunity(&f.agencyID))
	f.resetPublished()

	result, err := f.send(f.owner, started.Workflow.WorkflowID, TriggerMiddleToEnd, nil)
	require.NoError(t, err)

	assert.Equal(t, BasicStateEnd.String(), result.Workflow.CurrentWorkflowState)
	assert.False(t, result.Workflow.IsActive)
	assert.False(t, result.Created)
	assert.Equal(t, []event.Type{event.TypeStateChanged, event.TypeWorkflowCompleted}, f.publishedTypes())

	_, err = f.send(f.owner, started.Workflow.WorkflowID, TriggerMiddleToEnd, nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInactiveWorkflow)
	assert.Equal(t, "Workflow is not active - cannot receive events", err.Error())
}

func TestProcess_ProgramOfficerApprovals(t *testing.T) {
	f := newFixture(t)
	started := f.start(t, entity.WorkflowTypeBasicTest, entity.EntityTypeOpportunity, f.store.addOpportunity(&f.agencyID))
	wfID := started.Workflow.WorkflowID

	_, err := f.send(f.owner, wfID, TriggerMiddleToProgramOfficerApproval, nil)
	require.NoError(t, err)

	officers := []uuid.UUID{
		f.officer(entity.PrivilegeProgramOfficerApproval),
		f.officer(entity.PrivilegeProgramOfficerApproval),
		f.officer(entity.PrivilegeProgramOfficerApproval),
	}

	for i, officer := range officers[:2] {
		result, err := f.respond(officer, wfID, TriggerReceiveProgramOfficerApproval, entity.ResponseApproved)
		require.NoError(t, err, "approval %d", i+1)
		assert.Equal(t, BasicStatePendingProgramOfficerApproval.String(), result.Workflow.CurrentWorkflowState)
		require.Len(t, result.Transitions, 2, "receive then chained check")
		assert.True(t, result.Transitions[1].Automatic)
	}

	result, err := f.respond(officers[2], wfID, TriggerReceiveProgramOfficerApproval, entity.ResponseApproved)
	require.NoError(t, err)
	assert.Equal(t, BasicStateEnd.String(), result.Workflow.CurrentWorkflowState)
	assert.False(t, result.Workflow.IsActive)

	audits := f.store.auditsFor(wfID)
	last := audits[len(audits)-1]
	assert.Equal(t, "check_program_officer_approval", last.TransitionEvent)
	assert.Equal(t, "end", last.TargetState)
	assert.Equal(t, f.systemUserID, last.ActingUserID, "chained transitions are attributed to the system user")

	receive := audits[len(audits)-2]
	assert.Equal(t, officers[2], receive.ActingUserID)

	count, err := f.store.repositories().Approvals.CountValid(context.Background(), wfID, entity.ApprovalTypeProgramOfficer, entity.ResponseApproved)
	require.NoError(t, err)
	assert.Equal(t, 3, count)
}

func TestProcess_BudgetOfficerDecline(t *testing.T) {
	f := newFixture(t)
	started := f.start(t, entity.WorkflowTypeBasicTest, entity.EntityTypeOpportunity, f.store.addOpportunity(&f.agencyID))
	wfID := started.Workflow.WorkflowID

	_, err := f.send(f.owner, wfID, TriggerMiddleToBudgetOfficerApproval, nil)
	require.NoError(t, err)

	officer := f.officer(entity.PrivilegeBudgetOfficerApproval)
	result, err := f.send(officer, wfID, TriggerReceiveBudgetOfficerApproval, map[string]any{
		entity.MetadataApprovalResponseType: "DECLINED",
		entity.MetadataComment:              "budget exceeds ceiling",
	})
	require.NoError(t, err)

	assert.Equal(t, BasicStateDeclined.String(), result.Workflow.CurrentWorkflowState)
	assert.False(t, result.Workflow.IsActive)

	require.Len(t, f.store.approvals, 1)
	approval := f.store.approvals[0]
	assert.Equal(t, entity.ResponseDeclined, approval.ApprovalResponseType)
	assert.Equal(t, entity.ApprovalTypeBudgetOfficer, approval.ApprovalType)
	require.NotNil(t, approval.Comment)
	assert.Equal(t, "budget exceeds ceiling", *approval.Comment)
	assert.Equal(t, result.EventID, approval.EventID)
}

func TestProcess_RequiresModificationRestarts(t *testing.T) {
	f := newFixture(t)
	started := f.start(t, entity.WorkflowTypeBasicTest, entity.EntityTypeOpportunity, f.store.addOpportunity(&f.agencyID))
	wfID := started.Workflow.WorkflowID

	_, err := f.send(f.owner, wfID, TriggerMiddleToProgramOfficerApproval, nil)
	require.NoError(t, err)

	first := f.officer(entity.PrivilegeProgramOfficerApproval)
	second := f.officer(entity.PrivilegeProgramOfficerApproval)

	_, err = f.respond(first, wfID, TriggerReceiveProgramOfficerApproval, entity.ResponseApproved)
	require.NoError(t, err)

	result, err := f.respond(second, wfID, TriggerReceiveProgramOfficerApproval, entity.ResponseRequiresModification)
	require.NoError(t, err)
	assert.Equal(t, BasicStateStart.String(), result.Workflow.CurrentWorkflowState)
	assert.True(t, result.Workflow.IsActive)

	require.Len(t, f.store.approvals, 2)
	for _, a := range f.store.approvals {
		assert.False(t, a.IsStillValid, "every approval is invalidated, the new one included")
	}

	// The workflow can run again from the start
	_, err = f.send(f.owner, wfID, TriggerStartWorkflow, nil)
	require.NoError(t, err)
}

func TestProcess_DuplicateApproval(t *testing.T) {
	f := newFixture(t)
	started := f.start(t, entity.WorkflowTypeBasicTest, entity.EntityTypeOpportunity, f.store.addOpportunity(&f.agencyID))
	wfID := started.Workflow.WorkflowID

	_, err := f.send(f.owner, wfID, TriggerMiddleToProgramOfficerApproval, nil)
	require.NoError(t, err)

	officer := f.officer(entity.PrivilegeProgramOfficerApproval)
	_, err = f.respond(officer, wfID, TriggerReceiveProgramOfficerApproval, entity.ResponseApproved)
	require.NoError(t, err)

	_, err = f.respond(officer, wfID, TriggerReceiveProgramOfficerApproval, entity.ResponseApproved)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrDuplicateApproval)
	assert.Equal(t, "DuplicateApprovalError", ErrorType(err))
	assert.False(t, IsRetryable(err))
}

func TestProcess_ResponseTypeValidation(t *testing.T) {
	tests := []struct {
		name     string
		metadata map[string]any
		wantMsg  string
	}{
		{
			name:     "missing response type",
			metadata: nil,
			wantMsg:  "Approval response type not found for state machine event",
		},
		{
			name:     "unknown response type",
			metadata: map[string]any{entity.MetadataApprovalResponseType: "MAYBE"},
			wantMsg:  "Approval response type is not a valid value",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			started := f.start(t, entity.WorkflowTypeBasicTest, entity.EntityTypeOpportunity, f.store.addOpportunity(&f.agencyID))
			wfID := started.Workflow.WorkflowID

			_, err := f.send(f.owner, wfID, TriggerMiddleToProgramOfficerApproval, nil)
			require.NoError(t, err)

			_, err = f.send(f.owner, wfID, TriggerReceiveProgramOfficerApproval, tt.metadata)
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrInvalidWorkflowResponseType)
			assert.Equal(t, tt.wantMsg, err.Error())
			assert.Empty(t, f.store.approvals)
		})
	}
}

func TestProcess_InitialPrototypeNotifies(t *testing.T) {
	f := newFixture(t)
	oppID := f.store.addOpportunity(&f.agencyID)
	appID := f.store.addApplication(oppID)

	started := f.start(t, entity.WorkflowTypeInitialPrototype, entity.EntityTypeApplication, appID)
	wfID := started.Workflow.WorkflowID
	assert.Equal(t, PrototypeStatePendingApproval.String(), started.Workflow.CurrentWorkflowState)
	require.NotNil(t, started.Workflow.ApplicationID)

	_, err := f.respond(f.officer(entity.PrivilegeProgramOfficerApproval), wfID, TriggerReceiveApproval, entity.ResponseApproved)
	require.NoError(t, err)
	f.resetPublished()

	result, err := f.respond(f.officer(entity.PrivilegeProgramOfficerApproval), wfID, TriggerReceiveApproval, entity.ResponseApproved)
	require.NoError(t, err)

	assert.Equal(t, PrototypeStateEnd.String(), result.Workflow.CurrentWorkflowState)
	assert.False(t, result.Workflow.IsActive)

	var targets []string
	for _, tr := range result.Transitions {
		targets = append(targets, tr.Target.String())
	}
	assert.Equal(t, []string{"pending_approval", "send_notification", "end"}, targets)

	assert.Equal(t, []event.Type{
		event.TypeStateChanged,
		event.TypeStateChanged,
		event.TypeStateChanged,
		event.TypeWorkflowCompleted,
	}, f.publishedTypes())

	notification := f.waitNotification(t)
	assert.Equal(t, wfID, notification.WorkflowID)
	assert.Equal(t, "approvals complete", notification.GetPayloadString("reason"))
}

func TestProcess_NotificationsDoNotBlock(t *testing.T) {
	store := newMemStore()
	owner := store.addUser(nil)
	agencyID := uuid.New()
	appID := store.addApplication(store.addOpportunity(&agencyID))
	officers := []uuid.UUID{
		store.addUser(map[uuid.UUID][]entity.Privilege{agencyID: {entity.PrivilegeProgramOfficerApproval}}),
		store.addUser(map[uuid.UUID][]entity.Privilege{agencyID: {entity.PrivilegeProgramOfficerApproval}}),
	}

	release := make(chan struct{})
	delivered := make(chan struct{})
	var deliveryErr error
	d := dispatcher.NewDispatcher()
	d.Subscribe(event.TypeNotificationRequested, func(ctx context.Context, evt *event.Event) error {
		<-release
		deliveryErr = ctx.Err()
		close(delivered)
		return nil
	})

	handler := NewEventHandler(DefaultRegistry(), store.repositories(), &mockTxManager{}, zap.NewNop(), WithDispatcher(d))
	ctx, cancel := context.WithCancel(context.Background())

	started, err := handler.Process(ctx, event.NewStartWorkflowEvent(owner, entity.WorkflowTypeInitialPrototype,
		[]event.WorkflowEntity{{EntityType: entity.EntityTypeApplication, EntityID: appID}}, nil))
	require.NoError(t, err)
	var result *Result
	for _, officer := range officers {
		result, err = handler.Process(ctx, event.NewProcessWorkflowEvent(officer, started.Workflow.WorkflowID, TriggerReceiveApproval.String(),
			map[string]any{entity.MetadataApprovalResponseType: string(entity.ResponseApproved)}))
		require.NoError(t, err)
	}
	assert.Equal(t, PrototypeStateEnd.String(), result.Workflow.CurrentWorkflowState)

	// The caller is gone by the time the notification goes out
	cancel()
	select {
	case <-delivered:
		t.Fatal("notification delivered before it was released")
	default:
	}
	close(release)
	require.NoError(t, d.Close())

	select {
	case <-delivered:
	default:
		t.Fatal("close should wait for the pending notification")
	}
	assert.NoError(t, deliveryErr, "delivery outlives the caller's context")
}

func TestProcess_Errors(t *testing.T) {
	f := newFixture(t)
	oppID := f.store.addOpportunity(&f.agencyID)
	appID := f.store.addApplication(oppID)
	active := f.start(t, entity.WorkflowTypeBasicTest, entity.EntityTypeOpportunity, oppID).Workflow

	corrupted := f.start(t, entity.WorkflowTypeBasicTest, entity.EntityTypeOpportunity, oppID).Workflow
	f.store.workflows[corrupted.WorkflowID].CurrentWorkflowState = "archived"

	opp := func(id uuid.UUID) event.WorkflowEntity {
		return event.WorkflowEntity{EntityType: entity.EntityTypeOpportunity, EntityID: id}
	}

	tests := []struct {
		name     string
		event    *event.WorkflowEvent
		wantKind error
		wantMsg  string
	}{
		{
			name:     "start without context",
			event:    &event.WorkflowEvent{EventType: event.StartWorkflow, ActingUserID: f.owner},
			wantKind: ErrInvalidEvent,
			wantMsg:  "Start workflow event cannot have null context",
		},
		{
			name:     "process without context",
			event:    &event.WorkflowEvent{EventType: event.ProcessWorkflow, ActingUserID: f.owner},
			wantKind: ErrInvalidEvent,
			wantMsg:  "Process workflow event has a null process workflow context",
		},
		{
			name:     "unknown user on start",
			event:    event.NewStartWorkflowEvent(uuid.New(), entity.WorkflowTypeBasicTest, []event.WorkflowEntity{opp(oppID)}, nil),
			wantKind: ErrUserDoesNotExist,
			wantMsg:  "User does not exist, cannot process event.",
		},
		{
			name:     "unknown user on process",
			event:    event.NewProcessWorkflowEvent(uuid.New(), active.WorkflowID, TriggerMiddleToEnd.String(), nil),
			wantKind: ErrUserDoesNotExist,
			wantMsg:  "User does not exist, cannot process event.",
		},
		{
			name:     "unknown workflow type",
			event:    event.NewStartWorkflowEvent(f.owner, entity.WorkflowType("NOT_A_WORKFLOW"), []event.WorkflowEntity{opp(oppID)}, nil),
			wantKind: ErrInvalidWorkflowType,
			wantMsg:  "Workflow event does not map to an actual state machine",
		},
		{
			name: "entity type not supported",
			event: event.NewStartWorkflowEvent(f.owner, entity.WorkflowTypeBasicTest,
				[]event.WorkflowEntity{{EntityType: entity.EntityTypeApplication, EntityID: appID}}, nil),
			wantKind: ErrInvalidEntityForWorkflow,
			wantMsg:  "Entity type is not supported for workflow",
		},
		{
			name:     "opportunity not found",
			event:    event.NewStartWorkflowEvent(f.owner, entity.WorkflowTypeBasicTest, []event.WorkflowEntity{opp(uuid.New())}, nil),
			wantKind: ErrEntityNotFound,
			wantMsg:  "Opportunity not found",
		},
		{
			name: "more than one entity",
			event: event.NewStartWorkflowEvent(f.owner, entity.WorkflowTypeBasicTest,
				[]event.WorkflowEntity{opp(oppID), opp(oppID)}, nil),
			wantKind: ErrInvalidEntityForWorkflow,
			wantMsg:  "Workflow can only be bound to a single entity",
		},
		{
			name:     "workflow does not exist",
			event:    event.NewProcessWorkflowEvent(f.owner, uuid.New(), TriggerMiddleToEnd.String(), nil),
			wantKind: ErrWorkflowDoesNotExist,
			wantMsg:  "Workflow does not exist, cannot process events against it",
		},
		{
			name:     "unexpected state",
			event:    event.NewProcessWorkflowEvent(f.owner, corrupted.WorkflowID, TriggerMiddleToEnd.String(), nil),
			wantKind: ErrUnexpectedState,
			wantMsg:  "Workflow record has an unexpected state",
		},
		{
			name:     "event unknown to workflow",
			event:    event.NewProcessWorkflowEvent(f.owner, active.WorkflowID, "publish_opportunity", nil),
			wantKind: ErrInvalidEvent,
			wantMsg:  "Event is not valid for workflow",
		},
		{
			name:     "event not valid from current state",
			event:    event.NewProcessWorkflowEvent(f.owner, active.WorkflowID, TriggerReceiveBudgetOfficerApproval.String(), nil),
			wantKind: ErrInvalidEvent,
			wantMsg:  "Event is not valid for current state of workflow",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := f.handler.Process(context.Background(), tt.event)
			require.Error(t, err)
			assert.Nil(t, result)
			assert.ErrorIs(t, err, tt.wantKind)
			assert.Equal(t, tt.wantMsg, err.Error())
			assert.False(t, IsRetryable(err))
		})
	}

	// Unsupported entities are also invalid events
	_, err := f.handler.Process(context.Background(), event.NewStartWorkflowEvent(f.owner, entity.WorkflowTypeBasicTest,
		[]event.WorkflowEntity{{EntityType: entity.EntityTypeApplication, EntityID: appID}}, nil))
	assert.ErrorIs(t, err, ErrInvalidEvent)
	assert.Equal(t, "InvalidEntityForWorkflow", ErrorType(err))
}

func TestProcess_ConcurrentModification(t *testing.T) {
	f := newFixture(t)
	started := f.start(t, entity.WorkflowTypeBasicTest, entity.EntityTypeOpportunity, f.store.addOpportunity(&f.agencyID))

	f.store.updateErr = port.ErrConcurrentModification
	_, err := f.send(f.owner, started.Workflow.WorkflowID, TriggerMiddleToEnd, nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrConcurrentModification)
	assert.ErrorIs(t, err, port.ErrConcurrentModification)
	assert.True(t, IsRetryable(err))
	assert.Equal(t, "ConcurrentModificationError", ErrorType(err))
}

func TestProcess_InfrastructureErrorsAreRetryable(t *testing.T) {
	f := newFixture(t)
	started := f.start(t, entity.WorkflowTypeBasicTest, entity.EntityTypeOpportunity, f.store.addOpportunity(&f.agencyID))

	f.store.auditErr = errors.New("disk full")
	_, err := f.send(f.owner, started.Workflow.WorkflowID, TriggerMiddleToEnd, nil)
	require.Error(t, err)
	assert.True(t, IsRetryable(err))
	assert.Equal(t, "InternalError", ErrorType(err))
}

func TestProcess_WithoutSystemUserKeepsActor(t *testing.T) {
	store := newMemStore()
	owner := store.addUser(nil)
	agencyID := uuid.New()
	oppID := store.addOpportunity(&agencyID)
	officer := store.addUser(map[uuid.UUID][]entity.Privilege{agencyID: {entity.PrivilegeBudgetOfficerApproval}})

	handler := NewEventHandler(DefaultRegistry(), store.repositories(), &mockTxManager{}, zap.NewNop())

	started, err := handler.Process(context.Background(), event.NewStartWorkflowEvent(owner, entity.WorkflowTypeBasicTest,
		[]event.WorkflowEntity{{EntityType: entity.EntityTypeOpportunity, EntityID: oppID}}, nil))
	require.NoError(t, err)
	wfID := started.Workflow.WorkflowID

	_, err = handler.Process(context.Background(), event.NewProcessWorkflowEvent(owner, wfID, TriggerMiddleToBudgetOfficerApproval.String(), nil))
	require.NoError(t, err)

	result, err := handler.Process(context.Background(), event.NewProcessWorkflowEvent(officer, wfID, TriggerReceiveBudgetOfficerApproval.String(),
		map[string]any{entity.MetadataApprovalResponseType: "APPROVED"}))
	require.NoError(t, err)
	assert.Equal(t, BasicStateEnd.String(), result.Workflow.CurrentWorkflowState)

	audits := store.auditsFor(wfID)
	assert.Equal(t, officer, audits[len(audits)-1].ActingUserID)
}

func TestProcess_EventMarkedByAnotherTransaction(t *testing.T) {
	store := newMemStore()
	owner := store.addUser(nil)
	agencyID := uuid.New()
	oppID := store.addOpportunity(&agencyID)

	repos := store.repositories()
	first := NewEventHandler(DefaultRegistry(), repos, &rollbackTxManager{store}, zap.NewNop())

	// The second handler reads history before the first one committed
	staleRepos := store.repositories()
	staleRepos.Histories = staleHistoryRepo{&mockHistoryRepo{store}}
	second := NewEventHandler(DefaultRegistry(), staleRepos, &rollbackTxManager{store}, zap.NewNop())

	evt := event.NewStartWorkflowEvent(owner, entity.WorkflowTypeBasicTest,
		[]event.WorkflowEntity{{EntityType: entity.EntityTypeOpportunity, EntityID: oppID}}, nil)
	started, err := first.Process(context.Background(), evt)
	require.NoError(t, err)

	result, err := second.Process(context.Background(), evt)
	require.Error(t, err)
	assert.Nil(t, result)
	assert.ErrorIs(t, err, ErrInvalidEvent)
	assert.ErrorIs(t, err, port.ErrEventAlreadyProcessed)
	assert.Equal(t, "Workflow event has already been processed", err.Error())
	assert.False(t, IsRetryable(err))

	require.Len(t, store.workflows, 1, "the losing transaction must not leave a workflow behind")
	assert.Contains(t, store.workflows, started.Workflow.WorkflowID)
	assert.Len(t, store.auditsFor(started.Workflow.WorkflowID), 1)

	history := store.histories[evt.EventID]
	require.NotNil(t, history.WorkflowID)
	assert.Equal(t, started.Workflow.WorkflowID, *history.WorkflowID)
}

func TestProcess_TriggersNotPermittedLeaveWorkflowUntouched(t *testing.T) {
	f := newFixture(t)
	started := f.start(t, entity.WorkflowTypeBasicTest, entity.EntityTypeOpportunity, f.store.addOpportunity(&f.agencyID))
	wfID := started.Workflow.WorkflowID
	before := *f.store.workflows[wfID]
	require.Equal(t, BasicStateMiddle.String(), before.CurrentWorkflowState)

	config := BasicTestWorkflowConfig()
	machine, err := config.Describe(BasicStateMiddle)
	require.NoError(t, err)
	permitted := machine.PermittedTriggers()

	var rejected []domainwf.Trigger
	for _, trigger := range machine.ValidTriggers() {
		if hasTrigger(permitted, trigger) {
			continue
		}
		rejected = append(rejected, trigger)
	}
	require.NotEmpty(t, rejected)
	require.Contains(t, rejected, TriggerStartWorkflow)

	auditCount := len(f.store.auditsFor(wfID))
	for _, trigger := range rejected {
		t.Run(trigger.String(), func(t *testing.T) {
			result, err := f.respond(f.officer(entity.PrivilegeProgramOfficerApproval, entity.PrivilegeBudgetOfficerApproval),
				wfID, trigger, entity.ResponseApproved)
			require.Error(t, err)
			assert.Nil(t, result)
			assert.ErrorIs(t, err, ErrInvalidEvent)
			assert.Equal(t, "Event is not valid for current state of workflow", err.Error())

			stored := f.store.workflows[wfID]
			assert.Equal(t, before.CurrentWorkflowState, stored.CurrentWorkflowState)
			assert.Equal(t, before.Version, stored.Version)
			assert.True(t, stored.IsActive)
			assert.Len(t, f.store.auditsFor(wfID), auditCount)
		})
	}
}

package service

import (
	"context"
	"errors"
	"testing"

	"github.com/garyjia/grants-workflow/internal/application/dispatcher"
	"github.com/garyjia/grants-workflow/internal/application/port"
	"github.com/garyjia/grants-workflow/internal/domain/entity"
	"github.com/garyjia/grants-workflow/internal/domain/event"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type mockWorkflowRepo struct {
	getByIDFunc func(ctx context.Context, workflowID uuid.UUID) (*entity.Workflow, error)
}

func (m *mockWorkflowRepo) Create(ctx context.Context, wf *entity.Workflow) error {
	return nil
}

func (m *mockWorkflowRepo) GetByID(ctx context.Context, workflowID uuid.UUID) (*entity.Workflow, error) {
	if m.getByIDFunc != nil {
		return m.getByIDFunc(ctx, workflowID)
	}
	return nil, nil
}

func (m *mockWorkflowRepo) GetByIDForUpdate(ctx context.Context, workflowID uuid.UUID) (*entity.Workflow, error) {
	return m.GetByID(ctx, workflowID)
}

func (m *mockWorkflowRepo) UpdateState(ctx context.Context, wf *entity.Workflow) error {
	return nil
}

func (m *mockWorkflowRepo) List(ctx context.Context, filter port.WorkflowFilter) ([]*entity.Workflow, error) {
	return nil, nil
}

type mockNotifier struct {
	notifyFunc func(ctx context.Context, n port.WorkflowNotification) error
	sent       []port.WorkflowNotification
}

func (m *mockNotifier) Notify(ctx context.Context, n port.WorkflowNotification) error {
	if m.notifyFunc != nil {
		if err := m.notifyFunc(ctx, n); err != nil {
			return err
		}
	}
	m.sent = append(m.sent, n)
	return nil
}

func notificationEvent(workflowID uuid.UUID) *event.Event {
	return event.NewEventWithCorrelation(event.TypeNotificationRequested, workflowID, map[string]interface{}{
		"workflow_type": string(entity.WorkflowTypeInitialPrototype),
		"state":         "end",
		"reason":        "approvals complete",
	}, uuid.NewString())
}

func TestNotificationService_HandleNotificationRequested(t *testing.T) {
	wf := &entity.Workflow{WorkflowID: uuid.New(), WorkflowType: entity.WorkflowTypeInitialPrototype}
	repo := &mockWorkflowRepo{getByIDFunc: func(ctx context.Context, id uuid.UUID) (*entity.Workflow, error) {
		if id == wf.WorkflowID {
			return wf, nil
		}
		return nil, nil
	}}

	t.Run("sends notification", func(t *testing.T) {
		notifier := &mockNotifier{}
		svc := NewNotificationService(repo, notifier, zap.NewNop())

		require.NoError(t, svc.HandleNotificationRequested(context.Background(), notificationEvent(wf.WorkflowID)))
		require.Len(t, notifier.sent, 1)
		assert.Same(t, wf, notifier.sent[0].Workflow)
		assert.Equal(t, "INITIAL_PROTOTYPE workflow update", notifier.sent[0].Title)
		assert.Equal(t, "Workflow "+wf.WorkflowID.String()+" is now in state end: approvals complete", notifier.sent[0].Body)
	})

	t.Run("unknown workflow", func(t *testing.T) {
		notifier := &mockNotifier{}
		svc := NewNotificationService(repo, notifier, zap.NewNop())

		err := svc.HandleNotificationRequested(context.Background(), notificationEvent(uuid.New()))
		require.Error(t, err)
		assert.Contains(t, err.Error(), "not found")
		assert.Empty(t, notifier.sent)
	})

	t.Run("notifier failure", func(t *testing.T) {
		notifier := &mockNotifier{notifyFunc: func(ctx context.Context, n port.WorkflowNotification) error {
			return errors.New("lark unavailable")
		}}
		svc := NewNotificationService(repo, notifier, zap.NewNop())

		err := svc.HandleNotificationRequested(context.Background(), notificationEvent(wf.WorkflowID))
		require.Error(t, err)
		assert.Contains(t, err.Error(), "lark unavailable")
	})
}

func TestNotificationService_Register(t *testing.T) {
	wf := &entity.Workflow{WorkflowID: uuid.New(), WorkflowType: entity.WorkflowTypeInitialPrototype}
	repo := &mockWorkflowRepo{getByIDFunc: func(ctx context.Context, id uuid.UUID) (*entity.Workflow, error) {
		return wf, nil
	}}
	notifier := &mockNotifier{}

	d := dispatcher.NewDispatcher()
	defer d.Close()
	svc := NewNotificationService(repo, notifier, zap.NewNop())
	svc.Register(d)

	handlers := d.ListHandlers(event.TypeNotificationRequested)
	require.Len(t, handlers, 1)
	assert.Equal(t, SubscriptionName, handlers[0].Name)

	require.NoError(t, d.Dispatch(context.Background(), event.NewEvent(event.TypeStateChanged, wf.WorkflowID, nil)))
	assert.Empty(t, notifier.sent, "only notification requests are delivered")

	require.NoError(t, d.Dispatch(context.Background(), notificationEvent(wf.WorkflowID)))
	assert.Len(t, notifier.sent, 1)

	svc.Unregister(d)
	assert.Empty(t, d.ListHandlers(event.TypeNotificationRequested))
	require.NoError(t, d.Dispatch(context.Background(), notificationEvent(wf.WorkflowID)))
	assert.Len(t, notifier.sent, 1, "unregistered services receive nothing")
}

func TestBuildNotificationBody(t *testing.T) {
	tests := []struct {
		name   string
		state  string
		reason string
		want   string
	}{
		{"state and reason", "end", "done", "Workflow wf-1 is now in state end: done"},
		{"state only", "end", "", "Workflow wf-1 is now in state end"},
		{"reason only", "", "done", "Workflow wf-1: done"},
		{"neither", "", "", "Workflow wf-1"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, buildNotificationBody("wf-1", tt.state, tt.reason))
		})
	}
}

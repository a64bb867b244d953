package workflow

import (
	"context"
	"errors"
	"sort"

	"github.com/garyjia/grants-workflow/internal/application/port"
	"github.com/garyjia/grants-workflow/internal/domain/entity"
	"github.com/google/uuid"
)

// In-memory store backing the mock repositories

type memStore struct {
	users         map[uuid.UUID]*entity.User
	privileges    map[[2]uuid.UUID][]entity.Privilege
	opportunities map[uuid.UUID]*entity.Opportunity
	applications  map[uuid.UUID]*entity.Application
	submissions   map[uuid.UUID]*entity.ApplicationSubmission
	workflows     map[uuid.UUID]*entity.Workflow
	histories     map[uuid.UUID]*entity.WorkflowEventHistory
	approvals     []*entity.WorkflowApproval
	audits        []*entity.WorkflowAudit

	updateErr error
	auditErr  error
}

func newMemStore() *memStore {
	return &memStore{
		users:         make(map[uuid.UUID]*entity.User),
		privileges:    make(map[[2]uuid.UUID][]entity.Privilege),
		opportunities: make(map[uuid.UUID]*entity.Opportunity),
		applications:  make(map[uuid.UUID]*entity.Application),
		submissions:   make(map[uuid.UUID]*entity.ApplicationSubmission),
		workflows:     make(map[uuid.UUID]*entity.Workflow),
		histories:     make(map[uuid.UUID]*entity.WorkflowEventHistory),
	}
}

func (s *memStore) repositories() Repositories {
	return Repositories{
		Workflows:     &mockWorkflowRepo{s},
		Histories:     &mockHistoryRepo{s},
		Approvals:     &mockApprovalRepo{s},
		Audits:        &mockAuditRepo{s},
		Users:         &mockUserRepo{s},
		Opportunities: &mockOpportunityRepo{s},
		Applications:  &mockApplicationRepo{s},
	}
}

func (s *memStore) addUser(privileges map[uuid.UUID][]entity.Privilege) uuid.UUID {
	id := uuid.New()
	s.users[id] = &entity.User{UserID: id}
	for agencyID, privs := range privileges {
		s.privileges[[2]uuid.UUID{id, agencyID}] = privs
	}
	return id
}

func (s *memStore) addOpportunity(agencyID *uuid.UUID) uuid.UUID {
	id := uuid.New()
	s.opportunities[id] = &entity.Opportunity{OpportunityID: id, AgencyID: agencyID, OpportunityTitle: "Research grant"}
	return id
}

func (s *memStore) addApplication(opportunityID uuid.UUID) uuid.UUID {
	id := uuid.New()
	s.applications[id] = &entity.Application{ApplicationID: id, OpportunityID: opportunityID}
	return id
}

func (s *memStore) addSubmission(applicationID uuid.UUID) uuid.UUID {
	id := uuid.New()
	s.submissions[id] = &entity.ApplicationSubmission{ApplicationSubmissionID: id, ApplicationID: applicationID}
	return id
}

func (s *memStore) auditsFor(workflowID uuid.UUID) []*entity.WorkflowAudit {
	var result []*entity.WorkflowAudit
	for _, a := range s.audits {
		if a.WorkflowID == workflowID {
			result = append(result, a)
		}
	}
	return result
}

type mockWorkflowRepo struct{ s *memStore }

func (m *mockWorkflowRepo) Create(ctx context.Context, wf *entity.Workflow) error {
	if wf.WorkflowID == uuid.Nil {
		wf.WorkflowID = uuid.New()
	}
	wf.Version = 1
	stored := *wf
	m.s.workflows[wf.WorkflowID] = &stored
	return nil
}

func (m *mockWorkflowRepo) GetByID(ctx context.Context, workflowID uuid.UUID) (*entity.Workflow, error) {
	wf, ok := m.s.workflows[workflowID]
	if !ok {
		return nil, nil
	}
	loaded := *wf
	return &loaded, nil
}

func (m *mockWorkflowRepo) GetByIDForUpdate(ctx context.Context, workflowID uuid.UUID) (*entity.Workflow, error) {
	return m.GetByID(ctx, workflowID)
}

func (m *mockWorkflowRepo) UpdateState(ctx context.Context, wf *entity.Workflow) error {
	if m.s.updateErr != nil {
		return m.s.updateErr
	}
	stored, ok := m.s.workflows[wf.WorkflowID]
	if !ok || stored.Version != wf.Version {
		return port.ErrConcurrentModification
	}
	wf.Version++
	updated := *wf
	m.s.workflows[wf.WorkflowID] = &updated
	return nil
}

func (m *mockWorkflowRepo) List(ctx context.Context, filter port.WorkflowFilter) ([]*entity.Workflow, error) {
	var result []*entity.Workflow
	for _, wf := range m.s.workflows {
		if filter.WorkflowType != "" && wf.WorkflowType != filter.WorkflowType {
			continue
		}
		if filter.ActiveOnly && !wf.IsActive {
			continue
		}
		result = append(result, wf)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].CreatedAt.After(result[j].CreatedAt) })
	return result, nil
}

type mockHistoryRepo struct{ s *memStore }

func (m *mockHistoryRepo) Create(ctx context.Context, history *entity.WorkflowEventHistory) error {
	if _, exists := m.s.histories[history.EventID]; exists {
		return errors.New("duplicate event id")
	}
	m.s.histories[history.EventID] = history
	return nil
}

func (m *mockHistoryRepo) GetByID(ctx context.Context, eventID uuid.UUID) (*entity.WorkflowEventHistory, error) {
	return m.s.histories[eventID], nil
}

func (m *mockHistoryRepo) AttachWorkflow(ctx context.Context, eventID, workflowID uuid.UUID) error {
	h, ok := m.s.histories[eventID]
	if !ok {
		return errors.New("event not found")
	}
	h.WorkflowID = &workflowID
	return nil
}

func (m *mockHistoryRepo) ListUnprocessed(ctx context.Context, limit int) ([]*entity.WorkflowEventHistory, error) {
	var result []*entity.WorkflowEventHistory
	for _, h := range m.s.histories {
		if !h.IsProcessed {
			result = append(result, h)
		}
	}
	if len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

func (m *mockHistoryRepo) MarkProcessed(ctx context.Context, eventID uuid.UUID, errorMessage string) error {
	h, ok := m.s.histories[eventID]
	if !ok {
		return errors.New("event not found")
	}
	if h.IsProcessed {
		return port.ErrEventAlreadyProcessed
	}
	h.IsProcessed = true
	if errorMessage != "" {
		h.ErrorMessage = &errorMessage
	}
	return nil
}

type mockApprovalRepo struct{ s *memStore }

func (m *mockApprovalRepo) Create(ctx context.Context, approval *entity.WorkflowApproval) error {
	if approval.WorkflowApprovalID == uuid.Nil {
		approval.WorkflowApprovalID = uuid.New()
	}
	m.s.approvals = append(m.s.approvals, approval)
	return nil
}

func (m *mockApprovalRepo) ListByWorkflowID(ctx context.Context, workflowID uuid.UUID) ([]*entity.WorkflowApproval, error) {
	var result []*entity.WorkflowApproval
	for _, a := range m.s.approvals {
		if a.WorkflowID == workflowID {
			result = append(result, a)
		}
	}
	return result, nil
}

func (m *mockApprovalRepo) HasValidApproval(ctx context.Context, workflowID, userID uuid.UUID, approvalType entity.ApprovalType) (bool, error) {
	for _, a := range m.s.approvals {
		if a.WorkflowID == workflowID && a.ApprovingUserID == userID && a.ApprovalType == approvalType && a.IsStillValid {
			return true, nil
		}
	}
	return false, nil
}

func (m *mockApprovalRepo) CountValid(ctx context.Context, workflowID uuid.UUID, approvalType entity.ApprovalType, responseType entity.ApprovalResponseType) (int, error) {
	count := 0
	for _, a := range m.s.approvals {
		if a.WorkflowID == workflowID && a.ApprovalType == approvalType && a.ApprovalResponseType == responseType && a.IsStillValid {
			count++
		}
	}
	return count, nil
}

func (m *mockApprovalRepo) InvalidateAll(ctx context.Context, workflowID uuid.UUID) (int64, error) {
	var n int64
	for _, a := range m.s.approvals {
		if a.WorkflowID == workflowID && a.IsStillValid {
			a.IsStillValid = false
			n++
		}
	}
	return n, nil
}

type mockAuditRepo struct{ s *memStore }

func (m *mockAuditRepo) Create(ctx context.Context, audit *entity.WorkflowAudit) error {
	if m.s.auditErr != nil {
		return m.s.auditErr
	}
	if audit.WorkflowAuditID == uuid.Nil {
		audit.WorkflowAuditID = uuid.New()
	}
	m.s.audits = append(m.s.audits, audit)
	return nil
}

func (m *mockAuditRepo) ListByWorkflowID(ctx context.Context, workflowID uuid.UUID) ([]*entity.WorkflowAudit, error) {
	return m.s.auditsFor(workflowID), nil
}

type mockUserRepo struct{ s *memStore }

func (m *mockUserRepo) GetByID(ctx context.Context, userID uuid.UUID) (*entity.User, error) {
	return m.s.users[userID], nil
}

func (m *mockUserRepo) GetAgencyPrivileges(ctx context.Context, userID, agencyID uuid.UUID) ([]entity.Privilege, error) {
	return m.s.privileges[[2]uuid.UUID{userID, agencyID}], nil
}

type mockOpportunityRepo struct{ s *memStore }

func (m *mockOpportunityRepo) GetByID(ctx context.Context, opportunityID uuid.UUID) (*entity.Opportunity, error) {
	return m.s.opportunities[opportunityID], nil
}

type mockApplicationRepo struct{ s *memStore }

func (m *mockApplicationRepo) GetByID(ctx context.Context, applicationID uuid.UUID) (*entity.Application, error) {
	return m.s.applications[applicationID], nil
}

func (m *mockApplicationRepo) GetSubmissionByID(ctx context.Context, submissionID uuid.UUID) (*entity.ApplicationSubmission, error) {
	return m.s.submissions[submissionID], nil
}

type mockTxManager struct {
	calls int
}

func (m *mockTxManager) WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	m.calls++
	return fn(ctx)
}

type mockReportWriter struct {
	reports []*port.AuditReport
	paths   []string
}

func (m *mockReportWriter) WriteAuditReport(report *port.AuditReport, path string) error {
	m.reports = append(m.reports, report)
	m.paths = append(m.paths, path)
	return nil
}

// rollbackTxManager discards workflow, history and audit writes when fn fails
type rollbackTxManager struct{ s *memStore }

func (m *rollbackTxManager) WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	workflows := make(map[uuid.UUID]*entity.Workflow, len(m.s.workflows))
	for id, wf := range m.s.workflows {
		saved := *wf
		workflows[id] = &saved
	}
	histories := make(map[uuid.UUID]*entity.WorkflowEventHistory, len(m.s.histories))
	for id, h := range m.s.histories {
		saved := *h
		histories[id] = &saved
	}
	audits := append([]*entity.WorkflowAudit(nil), m.s.audits...)

	if err := fn(ctx); err != nil {
		m.s.workflows = workflows
		m.s.histories = histories
		m.s.audits = audits
		return err
	}
	return nil
}

// staleHistoryRepo reads history rows as they were before any event was marked processed
type staleHistoryRepo struct{ *mockHistoryRepo }

func (r staleHistoryRepo) GetByID(ctx context.Context, eventID uuid.UUID) (*entity.WorkflowEventHistory, error) {
	h, err := r.mockHistoryRepo.GetByID(ctx, eventID)
	if h == nil || err != nil {
		return h, err
	}
	snapshot := *h
	snapshot.IsProcessed = false
	snapshot.WorkflowID = nil
	return &snapshot, nil
}

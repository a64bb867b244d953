package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/garyjia/grants-workflow/internal/application/port"
	"github.com/garyjia/grants-workflow/internal/domain/entity"
	"github.com/garyjia/grants-workflow/internal/infrastructure/persistence/sqldb"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const workflowColumns = `workflow_id, workflow_type, current_workflow_state, is_active,
	opportunity_id, application_id, application_submission_id,
	version, created_at, updated_at`

// WorkflowRepository implements port.WorkflowRepository
type WorkflowRepository struct {
	db     *sqldb.DB
	logger *zap.Logger
}

// NewWorkflowRepository creates a new workflow repository
func NewWorkflowRepository(db *sqldb.DB, logger *zap.Logger) port.WorkflowRepository {
	return &WorkflowRepository{
		db:     db,
		logger: logger,
	}
}

// Create inserts a new workflow at version 1
func (r *WorkflowRepository) Create(ctx context.Context, wf *entity.Workflow) error {
	query := `
		INSERT INTO workflow (
			workflow_id, workflow_type, current_workflow_state, is_active,
			opportunity_id, application_id, application_submission_id,
			version, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	if wf.WorkflowID == uuid.Nil {
		wf.WorkflowID = uuid.New()
	}
	now := time.Now().UTC()
	wf.Version = 1
	wf.CreatedAt = now
	wf.UpdatedAt = now

	_, err := r.db.Executor(ctx).ExecContext(ctx, query,
		wf.WorkflowID,
		string(wf.WorkflowType),
		wf.CurrentWorkflowState,
		wf.IsActive,
		nullUUID(wf.OpportunityID),
		nullUUID(wf.ApplicationID),
		nullUUID(wf.ApplicationSubmissionID),
		wf.Version,
		wf.CreatedAt,
		wf.UpdatedAt,
	)
	if err != nil {
		r.logger.Error("Failed to create workflow", zap.String("workflow_id", wf.WorkflowID.String()), zap.Error(err))
		return fmt.Errorf("failed to create workflow: %w", err)
	}

	return nil
}

// GetByID retrieves a workflow by ID
func (r *WorkflowRepository) GetByID(ctx context.Context, workflowID uuid.UUID) (*entity.Workflow, error) {
	query := `SELECT ` + workflowColumns + ` FROM workflow WHERE workflow_id = ?`
	return r.get(ctx, query, workflowID)
}

// GetByIDForUpdate retrieves a workflow by ID and locks the row until the transaction ends
func (r *WorkflowRepository) GetByIDForUpdate(ctx context.Context, workflowID uuid.UUID) (*entity.Workflow, error) {
	query := `SELECT ` + workflowColumns + ` FROM workflow WHERE workflow_id = ?` + r.db.Dialect().ForUpdate()
	return r.get(ctx, query, workflowID)
}

func (r *WorkflowRepository) get(ctx context.Context, query string, workflowID uuid.UUID) (*entity.Workflow, error) {
	wf, err := scanWorkflow(r.db.Executor(ctx).QueryRowContext(ctx, query, workflowID))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		r.logger.Error("Failed to get workflow by ID", zap.String("workflow_id", workflowID.String()), zap.Error(err))
		return nil, fmt.Errorf("failed to get workflow: %w", err)
	}
	return wf, nil
}

// UpdateState persists the state and active flag if the version still matches
func (r *WorkflowRepository) UpdateState(ctx context.Context, wf *entity.Workflow) error {
	query := `
		UPDATE workflow
		SET current_workflow_state = ?, is_active = ?, version = version + 1, updated_at = ?
		WHERE workflow_id = ? AND version = ?
	`

	now := time.Now().UTC()
	result, err := r.db.Executor(ctx).ExecContext(ctx, query,
		wf.CurrentWorkflowState,
		wf.IsActive,
		now,
		wf.WorkflowID,
		wf.Version,
	)
	if err != nil {
		r.logger.Error("Failed to update workflow state",
			zap.String("workflow_id", wf.WorkflowID.String()),
			zap.Error(err))
		return fmt.Errorf("failed to update workflow state: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		r.logger.Warn("Workflow version mismatch on update",
			zap.String("workflow_id", wf.WorkflowID.String()),
			zap.Int64("version", wf.Version))
		return fmt.Errorf("%w: workflow %s at version %d", port.ErrConcurrentModification, wf.WorkflowID, wf.Version)
	}

	wf.Version++
	wf.UpdatedAt = now
	return nil
}

// List retrieves workflows matching the filter, newest first
func (r *WorkflowRepository) List(ctx context.Context, filter port.WorkflowFilter) ([]*entity.Workflow, error) {
	var (
		conditions []string
		args       []interface{}
	)
	if filter.WorkflowType != "" {
		conditions = append(conditions, "workflow_type = ?")
		args = append(args, string(filter.WorkflowType))
	}
	if filter.ActiveOnly {
		conditions = append(conditions, "is_active = ?")
		args = append(args, true)
	}

	query := `SELECT ` + workflowColumns + ` FROM workflow`
	if len(conditions) > 0 {
		query += ` WHERE ` + strings.Join(conditions, " AND ")
	}
	query += ` ORDER BY created_at DESC`

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	query += ` LIMIT ? OFFSET ?`
	args = append(args, limit, filter.Offset)

	rows, err := r.db.Executor(ctx).QueryContext(ctx, query, args...)
	if err != nil {
		r.logger.Error("Failed to list workflows", zap.Error(err))
		return nil, fmt.Errorf("failed to list workflows: %w", err)
	}
	defer rows.Close()

	var workflows []*entity.Workflow
	for rows.Next() {
		wf, err := scanWorkflow(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan workflow: %w", err)
		}
		workflows = append(workflows, wf)
	}

	return workflows, rows.Err()
}

// rowScanner covers both *sql.Row and *sql.Rows
type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanWorkflow(row rowScanner) (*entity.Workflow, error) {
	var (
		wf                                         entity.Workflow
		workflowType                               string
		opportunityID, applicationID, submissionID uuid.NullUUID
	)

	err := row.Scan(
		&wf.WorkflowID,
		&workflowType,
		&wf.CurrentWorkflowState,
		&wf.IsActive,
		&opportunityID,
		&applicationID,
		&submissionID,
		&wf.Version,
		&wf.CreatedAt,
		&wf.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	wf.WorkflowType = entity.WorkflowType(workflowType)
	wf.OpportunityID = uuidPtr(opportunityID)
	wf.ApplicationID = uuidPtr(applicationID)
	wf.ApplicationSubmissionID = uuidPtr(submissionID)
	return &wf, nil
}

func nullUUID(id *uuid.UUID) uuid.NullUUID {
	if id == nil {
		return uuid.NullUUID{}
	}
	return uuid.NullUUID{UUID: *id, Valid: true}
}

func uuidPtr(id uuid.NullUUID) *uuid.UUID {
	if !id.Valid {
		return nil
	}
	v := id.UUID
	return &v
}

// Verify interface compliance
var _ port.WorkflowRepository = (*WorkflowRepository)(nil)

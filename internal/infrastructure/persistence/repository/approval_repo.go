package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/garyjia/grants-workflow/internal/application/port"
	"github.com/garyjia/grants-workflow/internal/domain/entity"
	"github.com/garyjia/grants-workflow/internal/infrastructure/persistence/sqldb"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// ApprovalRepository implements port.ApprovalRepository
type ApprovalRepository struct {
	db     *sqldb.DB
	logger *zap.Logger
}

// NewApprovalRepository creates a new approval repository
func NewApprovalRepository(db *sqldb.DB, logger *zap.Logger) port.ApprovalRepository {
	return &ApprovalRepository{
		db:     db,
		logger: logger,
	}
}

// Create records an approval decision
func (r *ApprovalRepository) Create(ctx context.Context, approval *entity.WorkflowApproval) error {
	query := `
		INSERT INTO workflow_approval (
			workflow_approval_id, workflow_id, approving_user_id, approval_type,
			event_id, is_still_valid, approval_response_type, comment, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	if approval.WorkflowApprovalID == uuid.Nil {
		approval.WorkflowApprovalID = uuid.New()
	}
	if approval.CreatedAt.IsZero() {
		approval.CreatedAt = time.Now().UTC()
	}

	var comment sql.NullString
	if approval.Comment != nil {
		comment = sql.NullString{String: *approval.Comment, Valid: true}
	}

	_, err := r.db.Executor(ctx).ExecContext(ctx, query,
		approval.WorkflowApprovalID,
		approval.WorkflowID,
		approval.ApprovingUserID,
		string(approval.ApprovalType),
		approval.EventID,
		approval.IsStillValid,
		string(approval.ApprovalResponseType),
		comment,
		approval.CreatedAt,
	)
	if err != nil {
		r.logger.Error("Failed to create approval",
			zap.String("workflow_id", approval.WorkflowID.String()),
			zap.String("user_id", approval.ApprovingUserID.String()),
			zap.Error(err))
		return fmt.Errorf("failed to create approval: %w", err)
	}

	return nil
}

// ListByWorkflowID retrieves every approval recorded for a workflow, oldest first
func (r *ApprovalRepository) ListByWorkflowID(ctx context.Context, workflowID uuid.UUID) ([]*entity.WorkflowApproval, error) {
	query := `
		SELECT workflow_approval_id, workflow_id, approving_user_id, approval_type,
			event_id, is_still_valid, approval_response_type, comment, created_at
		FROM workflow_approval
		WHERE workflow_id = ?
		ORDER BY created_at ASC
	`

	rows, err := r.db.Executor(ctx).QueryContext(ctx, query, workflowID)
	if err != nil {
		r.logger.Error("Failed to list approvals", zap.String("workflow_id", workflowID.String()), zap.Error(err))
		return nil, fmt.Errorf("failed to list approvals: %w", err)
	}
	defer rows.Close()

	var approvals []*entity.WorkflowApproval
	for rows.Next() {
		var (
			approval     entity.WorkflowApproval
			approvalType string
			responseType string
			comment      sql.NullString
		)
		err := rows.Scan(
			&approval.WorkflowApprovalID,
			&approval.WorkflowID,
			&approval.ApprovingUserID,
			&approvalType,
			&approval.EventID,
			&approval.IsStillValid,
			&responseType,
			&comment,
			&approval.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan approval: %w", err)
		}

		approval.ApprovalType = entity.ApprovalType(approvalType)
		approval.ApprovalResponseType = entity.ApprovalResponseType(responseType)
		if comment.Valid {
			approval.Comment = &comment.String
		}
		approvals = append(approvals, &approval)
	}

	return approvals, rows.Err()
}

// HasValidApproval reports whether the user already holds a valid approval of the type
func (r *ApprovalRepository) HasValidApproval(ctx context.Context, workflowID, userID uuid.UUID, approvalType entity.ApprovalType) (bool, error) {
	query := `
		SELECT COUNT(*) FROM workflow_approval
		WHERE workflow_id = ? AND approving_user_id = ? AND approval_type = ? AND is_still_valid = ?
	`

	var count int
	err := r.db.Executor(ctx).QueryRowContext(ctx, query, workflowID, userID, string(approvalType), true).Scan(&count)
	if err != nil {
		r.logger.Error("Failed to check existing approval",
			zap.String("workflow_id", workflowID.String()),
			zap.String("user_id", userID.String()),
			zap.Error(err))
		return false, fmt.Errorf("failed to check existing approval: %w", err)
	}

	return count > 0, nil
}

// CountValid counts valid approvals of the type carrying the given response
func (r *ApprovalRepository) CountValid(ctx context.Context, workflowID uuid.UUID, approvalType entity.ApprovalType, responseType entity.ApprovalResponseType) (int, error) {
	query := `
		SELECT COUNT(*) FROM workflow_approval
		WHERE workflow_id = ? AND approval_type = ? AND approval_response_type = ? AND is_still_valid = ?
	`

	var count int
	err := r.db.Executor(ctx).QueryRowContext(ctx, query,
		workflowID, string(approvalType), string(responseType), true).Scan(&count)
	if err != nil {
		r.logger.Error("Failed to count approvals", zap.String("workflow_id", workflowID.String()), zap.Error(err))
		return 0, fmt.Errorf("failed to count approvals: %w", err)
	}

	return count, nil
}

// InvalidateAll marks every still valid approval of the workflow as invalid
func (r *ApprovalRepository) InvalidateAll(ctx context.Context, workflowID uuid.UUID) (int64, error) {
	query := `UPDATE workflow_approval SET is_still_valid = ? WHERE workflow_id = ? AND is_still_valid = ?`

	result, err := r.db.Executor(ctx).ExecContext(ctx, query, false, workflowID, true)
	if err != nil {
		r.logger.Error("Failed to invalidate approvals", zap.String("workflow_id", workflowID.String()), zap.Error(err))
		return 0, fmt.Errorf("failed to invalidate approvals: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return rows, nil
}

// Verify interface compliance
var _ port.ApprovalRepository = (*ApprovalRepository)(nil)

package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/garyjia/grants-workflow/internal/application/port"
	"github.com/garyjia/grants-workflow/internal/domain/entity"
	"github.com/garyjia/grants-workflow/internal/infrastructure/persistence/sqldb"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// AuditRepository implements port.AuditRepository
type AuditRepository struct {
	db     *sqldb.DB
	logger *zap.Logger
}

// NewAuditRepository creates a new audit repository
func NewAuditRepository(db *sqldb.DB, logger *zap.Logger) port.AuditRepository {
	return &AuditRepository{
		db:     db,
		logger: logger,
	}
}

// Create appends an audit row for a transition
func (r *AuditRepository) Create(ctx context.Context, audit *entity.WorkflowAudit) error {
	query := `
		INSERT INTO workflow_audit (
			workflow_audit_id, workflow_id, acting_user_id, transition_event,
			source_state, target_state, event_id, audit_metadata, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	if audit.WorkflowAuditID == uuid.Nil {
		audit.WorkflowAuditID = uuid.New()
	}
	if audit.CreatedAt.IsZero() {
		audit.CreatedAt = time.Now().UTC()
	}

	var metadata sql.NullString
	if len(audit.AuditMetadata) > 0 {
		data, err := json.Marshal(audit.AuditMetadata)
		if err != nil {
			return fmt.Errorf("failed to marshal audit metadata: %w", err)
		}
		metadata = sql.NullString{String: string(data), Valid: true}
	}

	_, err := r.db.Executor(ctx).ExecContext(ctx, query,
		audit.WorkflowAuditID,
		audit.WorkflowID,
		audit.ActingUserID,
		audit.TransitionEvent,
		audit.SourceState,
		audit.TargetState,
		audit.EventID,
		metadata,
		audit.CreatedAt,
	)
	if err != nil {
		r.logger.Error("Failed to create audit",
			zap.String("workflow_id", audit.WorkflowID.String()),
			zap.String("transition_event", audit.TransitionEvent),
			zap.Error(err))
		return fmt.Errorf("failed to create audit: %w", err)
	}

	return nil
}

// ListByWorkflowID retrieves the audit trail of a workflow in transition order
func (r *AuditRepository) ListByWorkflowID(ctx context.Context, workflowID uuid.UUID) ([]*entity.WorkflowAudit, error) {
	query := `
		SELECT workflow_audit_id, workflow_id, acting_user_id, transition_event,
			source_state, target_state, event_id, audit_metadata, created_at
		FROM workflow_audit
		WHERE workflow_id = ?
		ORDER BY created_at ASC
	`

	rows, err := r.db.Executor(ctx).QueryContext(ctx, query, workflowID)
	if err != nil {
		r.logger.Error("Failed to list audits", zap.String("workflow_id", workflowID.String()), zap.Error(err))
		return nil, fmt.Errorf("failed to list audits: %w", err)
	}
	defer rows.Close()

	var audits []*entity.WorkflowAudit
	for rows.Next() {
		var (
			audit    entity.WorkflowAudit
			metadata sql.NullString
		)
		err := rows.Scan(
			&audit.WorkflowAuditID,
			&audit.WorkflowID,
			&audit.ActingUserID,
			&audit.TransitionEvent,
			&audit.SourceState,
			&audit.TargetState,
			&audit.EventID,
			&metadata,
			&audit.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan audit: %w", err)
		}

		if metadata.Valid && metadata.String != "" {
			if err := json.Unmarshal([]byte(metadata.String), &audit.AuditMetadata); err != nil {
				return nil, fmt.Errorf("failed to unmarshal audit metadata: %w", err)
			}
		}
		audits = append(audits, &audit)
	}

	return audits, rows.Err()
}

// Verify interface compliance
var _ port.AuditRepository = (*AuditRepository)(nil)

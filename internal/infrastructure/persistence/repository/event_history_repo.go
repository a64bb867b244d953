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

const historyColumns = `event_id, event_data, workflow_id, is_processed, processed_at, error_message, created_at`

// EventHistoryRepository implements port.EventHistoryRepository
type EventHistoryRepository struct {
	db     *sqldb.DB
	logger *zap.Logger
}

// NewEventHistoryRepository creates a new event history repository
func NewEventHistoryRepository(db *sqldb.DB, logger *zap.Logger) port.EventHistoryRepository {
	return &EventHistoryRepository{
		db:     db,
		logger: logger,
	}
}

// Create appends a received workflow event
func (r *EventHistoryRepository) Create(ctx context.Context, history *entity.WorkflowEventHistory) error {
	query := `
		INSERT INTO workflow_event_history (
			event_id, event_data, workflow_id, is_processed, created_at
		) VALUES (?, ?, ?, ?, ?)
	`

	if history.CreatedAt.IsZero() {
		history.CreatedAt = time.Now().UTC()
	}

	_, err := r.db.Executor(ctx).ExecContext(ctx, query,
		history.EventID,
		string(history.EventData),
		nullUUID(history.WorkflowID),
		history.IsProcessed,
		history.CreatedAt,
	)
	if err != nil {
		r.logger.Error("Failed to create event history",
			zap.String("event_id", history.EventID.String()),
			zap.Error(err))
		return fmt.Errorf("failed to create event history: %w", err)
	}

	return nil
}

// GetByID retrieves an event history row
func (r *EventHistoryRepository) GetByID(ctx context.Context, eventID uuid.UUID) (*entity.WorkflowEventHistory, error) {
	query := `SELECT ` + historyColumns + ` FROM workflow_event_history WHERE event_id = ?`

	history, err := scanHistory(r.db.Executor(ctx).QueryRowContext(ctx, query, eventID))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		r.logger.Error("Failed to get event history", zap.String("event_id", eventID.String()), zap.Error(err))
		return nil, fmt.Errorf("failed to get event history: %w", err)
	}

	return history, nil
}

// AttachWorkflow links a history row to the workflow it was resolved against
func (r *EventHistoryRepository) AttachWorkflow(ctx context.Context, eventID, workflowID uuid.UUID) error {
	query := `UPDATE workflow_event_history SET workflow_id = ? WHERE event_id = ?`

	result, err := r.db.Executor(ctx).ExecContext(ctx, query, workflowID, eventID)
	if err != nil {
		r.logger.Error("Failed to attach workflow to event",
			zap.String("event_id", eventID.String()),
			zap.String("workflow_id", workflowID.String()),
			zap.Error(err))
		return fmt.Errorf("failed to attach workflow to event: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("event history not found: %s", eventID)
	}

	return nil
}

// ListUnprocessed returns the oldest events not yet processed
func (r *EventHistoryRepository) ListUnprocessed(ctx context.Context, limit int) ([]*entity.WorkflowEventHistory, error) {
	query := `
		SELECT ` + historyColumns + `
		FROM workflow_event_history
		WHERE is_processed = ?
		ORDER BY created_at ASC, event_id ASC
		LIMIT ?
	`

	rows, err := r.db.Executor(ctx).QueryContext(ctx, query, false, limit)
	if err != nil {
		r.logger.Error("Failed to list unprocessed events", zap.Error(err))
		return nil, fmt.Errorf("failed to list unprocessed events: %w", err)
	}
	defer rows.Close()

	var events []*entity.WorkflowEventHistory
	for rows.Next() {
		history, err := scanHistory(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan event history: %w", err)
		}
		events = append(events, history)
	}

	return events, rows.Err()
}

// MarkProcessed flags an event as handled, storing errorMessage when it is not empty.
// An event that is already processed keeps its original outcome and
// port.ErrEventAlreadyProcessed is returned.
func (r *EventHistoryRepository) MarkProcessed(ctx context.Context, eventID uuid.UUID, errorMessage string) error {
	query := `
		UPDATE workflow_event_history
		SET is_processed = ?, processed_at = ?, error_message = ?
		WHERE event_id = ? AND is_processed = ?
	`

	var errMsg sql.NullString
	if errorMessage != "" {
		errMsg = sql.NullString{String: errorMessage, Valid: true}
	}

	result, err := r.db.Executor(ctx).ExecContext(ctx, query, true, time.Now().UTC(), errMsg, eventID, false)
	if err != nil {
		r.logger.Error("Failed to mark event processed", zap.String("event_id", eventID.String()), zap.Error(err))
		return fmt.Errorf("failed to mark event processed: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		r.logger.Warn("Workflow event was already processed", zap.String("event_id", eventID.String()))
		return fmt.Errorf("%w: event %s", port.ErrEventAlreadyProcessed, eventID)
	}

	return nil
}

func scanHistory(row rowScanner) (*entity.WorkflowEventHistory, error) {
	var (
		history     entity.WorkflowEventHistory
		eventData   string
		workflowID  uuid.NullUUID
		processedAt sql.NullTime
		errMsg      sql.NullString
	)

	err := row.Scan(
		&history.EventID,
		&eventData,
		&workflowID,
		&history.IsProcessed,
		&processedAt,
		&errMsg,
		&history.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	history.EventData = []byte(eventData)
	history.WorkflowID = uuidPtr(workflowID)
	if processedAt.Valid {
		history.ProcessedAt = &processedAt.Time
	}
	if errMsg.Valid {
		history.ErrorMessage = &errMsg.String
	}
	return &history, nil
}

// Verify interface compliance
var _ port.EventHistoryRepository = (*EventHistoryRepository)(nil)

package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/garyjia/grants-workflow/internal/application/port"
	"github.com/garyjia/grants-workflow/internal/domain/entity"
	"github.com/garyjia/grants-workflow/internal/infrastructure/persistence/sqldb"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// OpportunityRepository implements port.OpportunityRepository
type OpportunityRepository struct {
	db     *sqldb.DB
	logger *zap.Logger
}

// NewOpportunityRepository creates a new opportunity repository
func NewOpportunityRepository(db *sqldb.DB, logger *zap.Logger) port.OpportunityRepository {
	return &OpportunityRepository{
		db:     db,
		logger: logger,
	}
}

// GetByID retrieves an opportunity by ID
func (r *OpportunityRepository) GetByID(ctx context.Context, opportunityID uuid.UUID) (*entity.Opportunity, error) {
	query := `SELECT opportunity_id, agency_id, opportunity_title FROM opportunity WHERE opportunity_id = ?`

	var (
		opp      entity.Opportunity
		agencyID uuid.NullUUID
	)
	err := r.db.Executor(ctx).QueryRowContext(ctx, query, opportunityID).Scan(
		&opp.OpportunityID,
		&agencyID,
		&opp.OpportunityTitle,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		r.logger.Error("Failed to get opportunity", zap.String("opportunity_id", opportunityID.String()), zap.Error(err))
		return nil, fmt.Errorf("failed to get opportunity: %w", err)
	}

	opp.AgencyID = uuidPtr(agencyID)
	return &opp, nil
}

// ApplicationRepository implements port.ApplicationRepository
type ApplicationRepository struct {
	db     *sqldb.DB
	logger *zap.Logger
}

// NewApplicationRepository creates a new application repository
func NewApplicationRepository(db *sqldb.DB, logger *zap.Logger) port.ApplicationRepository {
	return &ApplicationRepository{
		db:     db,
		logger: logger,
	}
}

// GetByID retrieves an application by ID
func (r *ApplicationRepository) GetByID(ctx context.Context, applicationID uuid.UUID) (*entity.Application, error) {
	query := `SELECT application_id, opportunity_id FROM application WHERE application_id = ?`

	var app entity.Application
	err := r.db.Executor(ctx).QueryRowContext(ctx, query, applicationID).Scan(&app.ApplicationID, &app.OpportunityID)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		r.logger.Error("Failed to get application", zap.String("application_id", applicationID.String()), zap.Error(err))
		return nil, fmt.Errorf("failed to get application: %w", err)
	}

	return &app, nil
}

// GetSubmissionByID retrieves an application submission by ID
func (r *ApplicationRepository) GetSubmissionByID(ctx context.Context, submissionID uuid.UUID) (*entity.ApplicationSubmission, error) {
	query := `
		SELECT application_submission_id, application_id
		FROM application_submission
		WHERE application_submission_id = ?
	`

	var sub entity.ApplicationSubmission
	err := r.db.Executor(ctx).QueryRowContext(ctx, query, submissionID).Scan(&sub.ApplicationSubmissionID, &sub.ApplicationID)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		r.logger.Error("Failed to get application submission",
			zap.String("application_submission_id", submissionID.String()),
			zap.Error(err))
		return nil, fmt.Errorf("failed to get application submission: %w", err)
	}

	return &sub, nil
}

// Verify interface compliance
var (
	_ port.OpportunityRepository = (*OpportunityRepository)(nil)
	_ port.ApplicationRepository = (*ApplicationRepository)(nil)
)

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

// UserRepository implements port.UserRepository over app_user and the agency tables
type UserRepository struct {
	db     *sqldb.DB
	logger *zap.Logger
}

// NewUserRepository creates a new user repository
func NewUserRepository(db *sqldb.DB, logger *zap.Logger) port.UserRepository {
	return &UserRepository{
		db:     db,
		logger: logger,
	}
}

// GetByID retrieves a user by ID
func (r *UserRepository) GetByID(ctx context.Context, userID uuid.UUID) (*entity.User, error) {
	query := `SELECT user_id, email FROM app_user WHERE user_id = ?`

	var (
		user  entity.User
		email sql.NullString
	)
	err := r.db.Executor(ctx).QueryRowContext(ctx, query, userID).Scan(&user.UserID, &email)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		r.logger.Error("Failed to get user by ID", zap.String("user_id", userID.String()), zap.Error(err))
		return nil, fmt.Errorf("failed to get user: %w", err)
	}

	user.Email = email.String
	return &user, nil
}

// GetAgencyPrivileges returns the privileges the user holds within the agency
func (r *UserRepository) GetAgencyPrivileges(ctx context.Context, userID, agencyID uuid.UUID) ([]entity.Privilege, error) {
	query := `
		SELECT p.privilege
		FROM agency_user au
		JOIN agency_user_privilege p ON p.agency_user_id = au.agency_user_id
		WHERE au.user_id = ? AND au.agency_id = ?
		ORDER BY p.privilege
	`

	rows, err := r.db.Executor(ctx).QueryContext(ctx, query, userID, agencyID)
	if err != nil {
		r.logger.Error("Failed to get agency privileges",
			zap.String("user_id", userID.String()),
			zap.String("agency_id", agencyID.String()),
			zap.Error(err))
		return nil, fmt.Errorf("failed to get agency privileges: %w", err)
	}
	defer rows.Close()

	var privileges []entity.Privilege
	for rows.Next() {
		var privilege string
		if err := rows.Scan(&privilege); err != nil {
			return nil, fmt.Errorf("failed to scan privilege: %w", err)
		}
		privileges = append(privileges, entity.Privilege(privilege))
	}

	return privileges, rows.Err()
}

// Verify interface compliance
var _ port.UserRepository = (*UserRepository)(nil)

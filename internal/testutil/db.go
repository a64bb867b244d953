// Package testutil provides migrated SQLite databases and seed helpers for tests.
package testutil

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/garyjia/grants-workflow/internal/domain/entity"
	"github.com/garyjia/grants-workflow/internal/infrastructure/persistence/sqldb"
	"github.com/garyjia/grants-workflow/internal/migrations"
	"github.com/garyjia/grants-workflow/pkg/database"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// SystemUserID is the user seeded by the migrations for chained transitions
var SystemUserID = uuid.MustParse("00000000-0000-0000-0000-000000000001")

// NewDB opens a SQLite database under t.TempDir() with every migration applied.
// The connection is closed when the test ends.
func NewDB(t *testing.T) *sqldb.DB {
	t.Helper()

	logger := zap.NewNop()
	db, err := database.New(database.Config{
		Driver: database.DriverSQLite,
		Path:   filepath.Join(t.TempDir(), "workflow.db"),
	}, logger)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	require.NoError(t, database.NewMigrator(db, migrations.FS, logger).Up())

	return sqldb.NewDB(db.DB, sqldb.DialectSQLite, logger)
}

// Seeder inserts the reference rows workflows are bound to
type Seeder struct {
	t  *testing.T
	db *sqldb.DB
}

// NewSeeder creates a seeder writing to db
func NewSeeder(t *testing.T, db *sqldb.DB) *Seeder {
	return &Seeder{t: t, db: db}
}

func (s *Seeder) exec(query string, args ...any) {
	s.t.Helper()
	_, err := s.db.Executor(context.Background()).ExecContext(context.Background(), query, args...)
	require.NoError(s.t, err)
}

// User inserts a user
func (s *Seeder) User() uuid.UUID {
	s.t.Helper()
	id := uuid.New()
	s.exec(`INSERT INTO app_user (user_id, email) VALUES (?, ?)`, id, id.String()+"@example.com")
	return id
}

// Agency inserts an agency
func (s *Seeder) Agency(code string) uuid.UUID {
	s.t.Helper()
	id := uuid.New()
	s.exec(`INSERT INTO agency (agency_id, agency_code, agency_name) VALUES (?, ?, ?)`, id, code, code+" agency")
	return id
}

// Grant makes userID a member of agencyID holding privileges
func (s *Seeder) Grant(userID, agencyID uuid.UUID, privileges ...entity.Privilege) {
	s.t.Helper()
	agencyUserID := uuid.New()
	s.exec(`INSERT INTO agency_user (agency_user_id, agency_id, user_id) VALUES (?, ?, ?)`, agencyUserID, agencyID, userID)
	for _, privilege := range privileges {
		s.exec(`INSERT INTO agency_user_privilege (agency_user_id, privilege) VALUES (?, ?)`, agencyUserID, string(privilege))
	}
}

// Opportunity inserts an opportunity owned by agencyID, which may be nil
func (s *Seeder) Opportunity(agencyID *uuid.UUID) uuid.UUID {
	s.t.Helper()
	id := uuid.New()
	s.exec(`INSERT INTO opportunity (opportunity_id, agency_id, opportunity_title) VALUES (?, ?, ?)`,
		id, uuid.NullUUID{UUID: derefUUID(agencyID), Valid: agencyID != nil}, "Research grant")
	return id
}

// Application inserts an application to opportunityID
func (s *Seeder) Application(opportunityID uuid.UUID) uuid.UUID {
	s.t.Helper()
	id := uuid.New()
	s.exec(`INSERT INTO application (application_id, opportunity_id) VALUES (?, ?)`, id, opportunityID)
	return id
}

// Submission inserts a submission of applicationID
func (s *Seeder) Submission(applicationID uuid.UUID) uuid.UUID {
	s.t.Helper()
	id := uuid.New()
	s.exec(`INSERT INTO application_submission (application_submission_id, application_id) VALUES (?, ?)`, id, applicationID)
	return id
}

func derefUUID(id *uuid.UUID) uuid.UUID {
	if id == nil {
		return uuid.Nil
	}
	return *id
}

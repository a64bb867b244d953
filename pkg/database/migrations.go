package database

import (
	"errors"
	"fmt"
	"io/fs"

	"github.com/golang-migrate/migrate/v4"
	migratedb "github.com/golang-migrate/migrate/v4/database"
	migratemysql "github.com/golang-migrate/migrate/v4/database/mysql"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"go.uber.org/zap"
)

// Migrator applies the embedded schema migrations for the connected driver.
// The source filesystem holds one directory per driver name.
type Migrator struct {
	db     *DB
	source fs.FS
	logger *zap.Logger
}

// NewMigrator creates a new migrator
func NewMigrator(db *DB, source fs.FS, logger *zap.Logger) *Migrator {
	return &Migrator{
		db:     db,
		source: source,
		logger: logger,
	}
}

// Up applies all pending migrations
func (m *Migrator) Up() error {
	m.logger.Info("Starting database migrations", zap.String("driver", m.db.driver))

	mg, err := m.newMigrate()
	if err != nil {
		return err
	}

	if err := mg.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to apply migrations: %w", err)
	}

	version, dirty, err := mg.Version()
	if err != nil && !errors.Is(err, migrate.ErrNilVersion) {
		return fmt.Errorf("failed to read schema version: %w", err)
	}
	m.logger.Info("Database migrations completed successfully",
		zap.Uint("version", version),
		zap.Bool("dirty", dirty))
	return nil
}

// Down rolls back the given number of migrations
func (m *Migrator) Down(steps int) error {
	if steps <= 0 {
		return fmt.Errorf("steps must be positive")
	}

	mg, err := m.newMigrate()
	if err != nil {
		return err
	}

	m.logger.Info("Rolling back migrations", zap.Int("steps", steps))
	if err := mg.Steps(-steps); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to roll back migrations: %w", err)
	}
	return nil
}

// Version returns the currently applied schema version
func (m *Migrator) Version() (uint, bool, error) {
	mg, err := m.newMigrate()
	if err != nil {
		return 0, false, err
	}

	version, dirty, err := mg.Version()
	if errors.Is(err, migrate.ErrNilVersion) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("failed to read schema version: %w", err)
	}
	return version, dirty, nil
}

// newMigrate builds a migrate instance over the shared connection pool.
// The instance is not closed since that would close the pool as well.
func (m *Migrator) newMigrate() (*migrate.Migrate, error) {
	sub, err := fs.Sub(m.source, m.db.driver)
	if err != nil {
		return nil, fmt.Errorf("failed to open migrations for %s: %w", m.db.driver, err)
	}

	src, err := iofs.New(sub, ".")
	if err != nil {
		return nil, fmt.Errorf("failed to load migrations: %w", err)
	}

	var driver migratedb.Driver
	switch m.db.driver {
	case DriverSQLite:
		driver, err = sqlite3.WithInstance(m.db.DB, &sqlite3.Config{})
	case DriverPostgres:
		driver, err = postgres.WithInstance(m.db.DB, &postgres.Config{})
	case DriverMySQL:
		driver, err = migratemysql.WithInstance(m.db.DB, &migratemysql.Config{})
	default:
		err = fmt.Errorf("unsupported database driver: %s", m.db.driver)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create migration driver: %w", err)
	}

	mg, err := migrate.NewWithInstance("iofs", src, m.db.driver, driver)
	if err != nil {
		return nil, fmt.Errorf("failed to create migrator: %w", err)
	}
	return mg, nil
}

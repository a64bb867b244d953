package database

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"
)

// Supported driver names
const (
	DriverSQLite   = "sqlite3"
	DriverPostgres = "postgres"
	DriverMySQL    = "mysql"
)

// Config holds database configuration
type Config struct {
	Driver string

	// DSN is used for postgres and mysql
	DSN string

	// Path is the SQLite database file
	Path string

	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// DB wraps sql.DB with additional functionality
type DB struct {
	*sql.DB
	driver string
	logger *zap.Logger
}

// New creates a new database connection
func New(cfg Config, logger *zap.Logger) (*DB, error) {
	driver, dsn, err := resolveDSN(cfg)
	if err != nil {
		return nil, err
	}

	sqlDB, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Configure connection pool
	if cfg.MaxOpenConns > 0 {
		sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		sqlDB.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := sqlDB.PingContext(ctx); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	logger.Info("Database connection established",
		zap.String("driver", driver),
		zap.String("path", cfg.Path))

	return &DB{
		DB:     sqlDB,
		driver: driver,
		logger: logger,
	}, nil
}

// Driver returns the database/sql driver name in use
func (db *DB) Driver() string {
	return db.driver
}

// Close closes the database connection
func (db *DB) Close() error {
	db.logger.Info("Closing database connection")
	return db.DB.Close()
}

func resolveDSN(cfg Config) (string, string, error) {
	switch strings.ToLower(cfg.Driver) {
	case "", "sqlite", DriverSQLite:
		if cfg.Path == "" {
			return "", "", fmt.Errorf("database path is required for sqlite")
		}
		// WAL for concurrent readers; BEGIN IMMEDIATE so writers serialize on the workflow row
		dsn := fmt.Sprintf("file:%s?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on&_txlock=immediate", cfg.Path)
		return DriverSQLite, dsn, nil

	case DriverPostgres, "postgresql":
		if cfg.DSN == "" {
			return "", "", fmt.Errorf("database dsn is required for postgres")
		}
		return DriverPostgres, cfg.DSN, nil

	case DriverMySQL:
		if cfg.DSN == "" {
			return "", "", fmt.Errorf("database dsn is required for mysql")
		}
		mcfg, err := mysql.ParseDSN(strings.TrimPrefix(cfg.DSN, "mysql://"))
		if err != nil {
			return "", "", fmt.Errorf("invalid mysql dsn: %w", err)
		}
		mcfg.ParseTime = true
		mcfg.MultiStatements = true
		mcfg.Loc = time.UTC
		return DriverMySQL, mcfg.FormatDSN(), nil

	default:
		return "", "", fmt.Errorf("unsupported database driver: %s", cfg.Driver)
	}
}

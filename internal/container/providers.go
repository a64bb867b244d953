package container

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/garyjia/grants-workflow/internal/application/dispatcher"
	"github.com/garyjia/grants-workflow/internal/application/port"
	"github.com/garyjia/grants-workflow/internal/application/service"
	"github.com/garyjia/grants-workflow/internal/application/workflow"
	"github.com/garyjia/grants-workflow/internal/config"
	infraLark "github.com/garyjia/grants-workflow/internal/infrastructure/external/lark"
	"github.com/garyjia/grants-workflow/internal/infrastructure/persistence/repository"
	"github.com/garyjia/grants-workflow/internal/infrastructure/persistence/sqldb"
	"github.com/garyjia/grants-workflow/internal/infrastructure/report"
	"github.com/garyjia/grants-workflow/internal/infrastructure/worker"
	"github.com/garyjia/grants-workflow/internal/metrics"
	"github.com/garyjia/grants-workflow/internal/migrations"
	"github.com/garyjia/grants-workflow/pkg/database"
)

// DatabaseBundle holds database-related components.
type DatabaseBundle struct {
	Conn *database.DB
	DB   *sqldb.DB
}

// EngineBundle holds the workflow engine entry points.
type EngineBundle struct {
	Handler *workflow.EventHandler
	Ingest  *workflow.IngestService
	Queries *workflow.QueryService
}

// WorkerBundle holds the background workers.
type WorkerBundle struct {
	Manager         *worker.Manager
	WorkflowManager *worker.WorkflowManager
}

// ProvideDatabase opens the configured database and applies pending
// migrations when auto_migrate is set.
func ProvideDatabase(cfg config.DatabaseConfig, logger *zap.Logger) (*DatabaseBundle, error) {
	if logger == nil {
		return nil, fmt.Errorf("logger is required")
	}

	dialect, err := sqldb.ParseDialect(cfg.Driver)
	if err != nil {
		return nil, err
	}

	conn, err := database.New(database.Config{
		Driver:          cfg.Driver,
		DSN:             cfg.DSN,
		Path:            cfg.Path,
		MaxOpenConns:    cfg.MaxOpenConns,
		MaxIdleConns:    cfg.MaxIdleConns,
		ConnMaxLifetime: cfg.ConnMaxLifetime,
	}, logger)
	if err != nil {
		return nil, err
	}

	if cfg.AutoMigrate {
		if err := NewMigrator(conn, logger).Up(); err != nil {
			_ = conn.Close()
			return nil, err
		}
	}

	return &DatabaseBundle{
		Conn: conn,
		DB:   sqldb.NewDB(conn.DB, dialect, logger),
	}, nil
}

// NewMigrator returns a migrator over the embedded schema migrations.
func NewMigrator(conn *database.DB, logger *zap.Logger) *database.Migrator {
	return database.NewMigrator(conn, migrations.FS, logger)
}

// ProvideRepositories creates the SQL repositories used by the engine.
func ProvideRepositories(db *sqldb.DB, logger *zap.Logger) (workflow.Repositories, error) {
	if db == nil {
		return workflow.Repositories{}, fmt.Errorf("database connection is required")
	}

	return workflow.Repositories{
		Workflows:     repository.NewWorkflowRepository(db, logger),
		Histories:     repository.NewEventHistoryRepository(db, logger),
		Approvals:     repository.NewApprovalRepository(db, logger),
		Audits:        repository.NewAuditRepository(db, logger),
		Users:         repository.NewUserRepository(db, logger),
		Opportunities: repository.NewOpportunityRepository(db, logger),
		Applications:  repository.NewApplicationRepository(db, logger),
	}, nil
}

// ProvideDispatcher creates the domain event dispatcher and subscribes the
// metrics collectors to it.
func ProvideDispatcher(logger *zap.Logger) dispatcher.Dispatcher {
	d := dispatcher.NewDispatcher(dispatcher.WithLogger(logger))
	metrics.Subscribe(d)
	return d
}

// ProvideEngine wires the event handler, ingest and query services.
func ProvideEngine(cfg config.WorkflowConfig, repos workflow.Repositories, db *sqldb.DB, d dispatcher.Dispatcher, logger *zap.Logger) (*EngineBundle, error) {
	systemUser, err := cfg.SystemUser()
	if err != nil {
		return nil, fmt.Errorf("invalid system user: %w", err)
	}

	registry := workflow.DefaultRegistry()
	return &EngineBundle{
		Handler: workflow.NewEventHandler(registry, repos, db, logger,
			workflow.WithDispatcher(d),
			workflow.WithSystemUser(systemUser)),
		Ingest:  workflow.NewIngestService(registry, repos, logger),
		Queries: workflow.NewQueryService(registry, repos, report.NewExcelWriter(logger), logger),
	}, nil
}

// ProvideNotifier returns a Lark notifier when Lark is configured, or one
// that only logs otherwise.
func ProvideNotifier(cfg config.LarkConfig, logger *zap.Logger) port.Notifier {
	if !cfg.Enabled() {
		logger.Info("Lark notifications disabled, workflow notifications will be logged")
		return infraLark.NewLogNotifier(logger)
	}

	client := infraLark.NewClient(infraLark.Config{
		AppID:      cfg.AppID,
		AppSecret:  cfg.AppSecret,
		APITimeout: cfg.APITimeout,
	}, logger)
	return infraLark.NewNotifier(infraLark.NewMessenger(client, logger), cfg.NotifyChatID, logger)
}

// ProvideNotificationService subscribes workflow notifications to d.
func ProvideNotificationService(repos workflow.Repositories, notifier port.Notifier, d dispatcher.Dispatcher, logger *zap.Logger) *service.NotificationService {
	svc := service.NewNotificationService(repos.Workflows, notifier, logger)
	svc.Register(d)
	return svc
}

// ProvideWorkers creates the worker manager with the workflow manager registered.
func ProvideWorkers(cfg config.WorkflowConfig, repos workflow.Repositories, processor worker.EventProcessor, logger *zap.Logger) *WorkerBundle {
	wm := worker.NewWorkflowManager(worker.WorkflowManagerConfig{
		CycleDuration:     cfg.CycleDuration,
		BatchSize:         cfg.BatchSize,
		MaximumBatchCount: cfg.MaximumBatchCount,
	}, repos.Histories, processor, logger)

	manager := worker.NewManager(logger)
	manager.Register(wm)

	return &WorkerBundle{Manager: manager, WorkflowManager: wm}
}

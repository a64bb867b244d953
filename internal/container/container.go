// Package container provides dependency injection and lifecycle management
// for the workflow engine.
package container

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/garyjia/grants-workflow/internal/application/dispatcher"
	"github.com/garyjia/grants-workflow/internal/application/service"
	"github.com/garyjia/grants-workflow/internal/application/workflow"
	"github.com/garyjia/grants-workflow/internal/config"
	"github.com/garyjia/grants-workflow/internal/domain/event"
	"github.com/garyjia/grants-workflow/internal/infrastructure/persistence/sqldb"
	"github.com/garyjia/grants-workflow/internal/infrastructure/worker"
	"github.com/garyjia/grants-workflow/pkg/database"
)

// Container manages all application dependencies and lifecycle.
// Components are initialized in dependency order and torn down in reverse.
type Container struct {
	config *config.Config
	logger *zap.Logger

	// Infrastructure
	conn         *database.DB
	db           *sqldb.DB
	repositories workflow.Repositories

	// Application
	dispatcher    dispatcher.Dispatcher
	engine        *EngineBundle
	notifications *service.NotificationService

	// Workers
	workers *WorkerBundle

	// Lifecycle
	mu             sync.Mutex
	workersStarted bool
	ready          atomic.Bool
	closed         atomic.Bool
}

// HealthStatus represents the health of all components.
type HealthStatus struct {
	Overall    bool                       `json:"overall"`
	Components map[string]ComponentHealth `json:"components"`
}

// ComponentHealth represents health of a single component.
type ComponentHealth struct {
	Healthy bool   `json:"healthy"`
	Message string `json:"message,omitempty"`
}

// NewContainer creates a new container from configuration.
// It does not initialize components - call Start() to initialize.
func NewContainer(cfg *config.Config, logger *zap.Logger) (*Container, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required")
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &Container{
		config: cfg,
		logger: logger,
	}, nil
}

// Start initializes all components. Background workers are created but not
// started; call StartWorkers for that.
// 1. Database and repositories
// 2. Dispatcher with metrics and notifications subscribed
// 3. Workflow engine
// 4. Workers
func (c *Container) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed.Load() {
		return fmt.Errorf("container has been closed")
	}
	if c.ready.Load() {
		return fmt.Errorf("container already started")
	}

	c.logger.Info("Starting container initialization")

	if err := c.initDatabase(); err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	c.logger.Info("Database initialized", zap.String("driver", c.conn.Driver()))

	c.dispatcher = ProvideDispatcher(c.logger)
	c.notifications = ProvideNotificationService(c.repositories, ProvideNotifier(c.config.Lark, c.logger), c.dispatcher, c.logger)
	c.logger.Info("Dispatcher initialized")

	engine, err := ProvideEngine(c.config.Workflow, c.repositories, c.db, c.dispatcher, c.logger)
	if err != nil {
		c.closeDatabase()
		return fmt.Errorf("failed to initialize workflow engine: %w", err)
	}
	c.engine = engine
	c.logger.Info("Workflow engine initialized")

	c.workers = ProvideWorkers(c.config.Workflow, c.repositories, c.engine.Handler, c.logger)

	c.ready.Store(true)
	c.logger.Info("Container started successfully")
	return nil
}

// StartWorkers starts the background workers. ctx bounds their lifetime.
func (c *Container) StartWorkers(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.ready.Load() {
		return fmt.Errorf("container not started")
	}
	if err := c.workers.Manager.StartAll(ctx); err != nil {
		return fmt.Errorf("failed to start workers: %w", err)
	}
	c.workersStarted = true
	return nil
}

// Close gracefully shuts down all components in reverse order.
// In-flight batches finish before the database is closed.
func (c *Container) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed.Load() {
		return fmt.Errorf("container already closed")
	}

	c.logger.Info("Closing container")

	var errs []error

	if c.workers != nil && c.workersStarted {
		if err := c.workers.Manager.StopAll(); err != nil {
			errs = append(errs, fmt.Errorf("stop workers: %w", err))
		}
	}

	if c.dispatcher != nil {
		if c.notifications != nil {
			c.notifications.Unregister(c.dispatcher)
		}
		if err := c.dispatcher.Close(); err != nil {
			c.logger.Error("Failed to close dispatcher", zap.Error(err))
			errs = append(errs, fmt.Errorf("close dispatcher: %w", err))
		} else {
			c.logger.Info("Dispatcher closed")
		}
	}

	if err := c.closeDatabase(); err != nil {
		errs = append(errs, err)
	}

	c.closed.Store(true)
	c.ready.Store(false)

	if len(errs) > 0 {
		c.logger.Error("Container closed with errors", zap.Int("error_count", len(errs)))
		return fmt.Errorf("container closed with %d errors: %w", len(errs), errors.Join(errs...))
	}

	c.logger.Info("Container closed successfully")
	return nil
}

// Ready returns true when all components are initialized.
func (c *Container) Ready() bool {
	return c.ready.Load()
}

// Health returns health status of all components.
func (c *Container) Health(ctx context.Context) *HealthStatus {
	status := &HealthStatus{
		Overall:    true,
		Components: make(map[string]ComponentHealth),
	}

	if c.db != nil {
		if err := c.db.PingContext(ctx); err != nil {
			status.set("database", false, fmt.Sprintf("ping failed: %v", err))
		} else {
			status.set("database", true, "")
		}
	} else {
		status.set("database", false, "not initialized")
	}

	switch {
	case c.workers == nil:
		status.set("workers", false, "not initialized")
	case !c.workersStarted:
		// Workers are optional for one-shot commands
		status.set("workers", true, "not started")
	default:
		status.set("workers", c.workers.Manager.IsRunning(),
			fmt.Sprintf("worker count: %d", c.workers.Manager.WorkerCount()))
	}

	if c.dispatcher != nil {
		status.set("dispatcher", true, fmt.Sprintf("notification handlers: %d",
			len(c.dispatcher.ListHandlers(event.TypeNotificationRequested))))
	} else {
		status.set("dispatcher", false, "not initialized")
	}

	return status
}

func (s *HealthStatus) set(component string, healthy bool, message string) {
	s.Components[component] = ComponentHealth{Healthy: healthy, Message: message}
	if !healthy {
		s.Overall = false
	}
}

func (c *Container) initDatabase() error {
	bundle, err := ProvideDatabase(c.config.Database, c.logger)
	if err != nil {
		return err
	}
	c.conn = bundle.Conn
	c.db = bundle.DB

	repos, err := ProvideRepositories(c.db, c.logger)
	if err != nil {
		c.closeDatabase()
		return err
	}
	c.repositories = repos
	return nil
}

func (c *Container) closeDatabase() error {
	if c.conn == nil {
		return nil
	}
	err := c.conn.Close()
	c.conn = nil
	if err != nil {
		c.logger.Error("Failed to close database", zap.Error(err))
		return fmt.Errorf("close database: %w", err)
	}
	return nil
}

// Getters for accessing container components

// Config returns the loaded configuration.
func (c *Container) Config() *config.Config {
	return c.config
}

// DB returns the transaction manager.
func (c *Container) DB() *sqldb.DB {
	return c.db
}

// Connection returns the raw database connection.
func (c *Container) Connection() *database.DB {
	return c.conn
}

// Repositories returns all repositories.
func (c *Container) Repositories() workflow.Repositories {
	return c.repositories
}

// Dispatcher returns the event dispatcher.
func (c *Container) Dispatcher() dispatcher.Dispatcher {
	return c.dispatcher
}

// EventHandler returns the synchronous workflow event handler.
func (c *Container) EventHandler() *workflow.EventHandler {
	return c.engine.Handler
}

// Ingest returns the event ingest service.
func (c *Container) Ingest() *workflow.IngestService {
	return c.engine.Ingest
}

// Queries returns the workflow query service.
func (c *Container) Queries() *workflow.QueryService {
	return c.engine.Queries
}

// Workers returns the worker manager.
func (c *Container) Workers() *worker.Manager {
	return c.workers.Manager
}

// WorkflowManager returns the event history poller.
func (c *Container) WorkflowManager() *worker.WorkflowManager {
	return c.workers.WorkflowManager
}

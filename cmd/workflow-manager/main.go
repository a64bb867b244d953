// workflow-manager polls the event history for queued workflow events and
// processes them in batches. It also serves the operational HTTP API.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/pflag"
	"go.uber.org/zap"

	"github.com/garyjia/grants-workflow/internal/config"
	"github.com/garyjia/grants-workflow/internal/container"
	httpapi "github.com/garyjia/grants-workflow/internal/interfaces/http"
	"github.com/garyjia/grants-workflow/pkg/utils"
)

func main() {
	if err := run(); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			os.Exit(0)
		}
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	var (
		configPath   string
		batchCount   int
		noHTTP       bool
		cycleSeconds float64
	)

	flagSet := pflag.NewFlagSet("workflow-manager", pflag.ContinueOnError)
	flagSet.StringVar(&configPath, "config", "", "path to a YAML config file")
	flagSet.IntVar(&batchCount, "maximum-batch-count", -1, "exit after this many batches (overrides config)")
	flagSet.Float64Var(&cycleSeconds, "cycle-seconds", 0, "seconds between batches (overrides config)")
	flagSet.BoolVar(&noHTTP, "no-http", false, "do not start the HTTP server")
	if err := flagSet.Parse(os.Args[1:]); err != nil {
		return err
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if batchCount >= 0 {
		cfg.Workflow.MaximumBatchCount = batchCount
	}
	if cycleSeconds > 0 {
		cfg.Workflow.CycleDuration = time.Duration(cycleSeconds * float64(time.Second))
	}

	logger, err := utils.NewLogger(utils.LoggerConfig{
		Level:      cfg.Logger.Level,
		OutputPath: cfg.Logger.OutputPath,
		Format:     cfg.Logger.Format,
		Service:    "workflow-manager",
	})
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	logger.Info("Starting workflow manager",
		zap.String("database_driver", cfg.Database.Driver),
		zap.Duration("cycle_duration", cfg.Workflow.CycleDuration),
		zap.Int("batch_size", cfg.Workflow.BatchSize),
		zap.Int("maximum_batch_count", cfg.Workflow.MaximumBatchCount))

	c, err := container.NewContainer(cfg, logger)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := c.Start(ctx); err != nil {
		return err
	}
	defer func() {
		if err := c.Close(); err != nil {
			logger.Error("Shutdown finished with errors", zap.Error(err))
		}
	}()

	serverErr := make(chan error, 1)
	if !noHTTP {
		server := httpapi.NewServer(httpapi.ServerConfig{
			Addr:         cfg.Server.Addr(),
			ReadTimeout:  cfg.Server.ReadTimeout,
			WriteTimeout: cfg.Server.WriteTimeout,
		}, httpapi.Dependencies{
			Queries:   c.Queries(),
			Ingest:    c.Ingest(),
			Processor: c.EventHandler(),
			DB:        c.DB(),
			Workers:   c.Workers(),
			Events:    c.Dispatcher(),
			ReportDir: cfg.Report.OutputDir,
		}, logger)

		go func() { serverErr <- server.Start(ctx) }()
	}

	// Workers get their own context so a signal lets the current batch finish
	if err := c.StartWorkers(context.Background()); err != nil {
		return err
	}

	serverRunning := !noHTTP
	select {
	case <-ctx.Done():
		logger.Info("Shutdown signal received, finishing current batch")
	case <-c.WorkflowManager().Done():
		logger.Info("Workflow manager reached its batch limit")
	case err := <-serverErr:
		serverRunning = false
		if err != nil {
			logger.Error("HTTP server failed", zap.Error(err))
			stop()
			return fmt.Errorf("http server: %w", err)
		}
	}

	// Stop the HTTP server before the container closes the database
	stop()
	if serverRunning {
		if err := <-serverErr; err != nil {
			logger.Error("HTTP server shutdown failed", zap.Error(err))
		}
	}
	return nil
}

package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/garyjia/grants-workflow/internal/application/port"
	"github.com/garyjia/grants-workflow/internal/application/workflow"
	"github.com/garyjia/grants-workflow/internal/domain/entity"
	"github.com/garyjia/grants-workflow/internal/domain/event"
	"github.com/garyjia/grants-workflow/internal/metrics"
	"go.uber.org/zap"
)

// EventProcessor handles a single decoded workflow event
type EventProcessor interface {
	Process(ctx context.Context, evt *event.WorkflowEvent) (*workflow.Result, error)
}

// WorkflowManagerConfig holds configuration for the workflow manager
type WorkflowManagerConfig struct {
	// CycleDuration is the minimum time between the start of two batches
	CycleDuration time.Duration
	BatchSize     int

	// MaximumBatchCount stops the manager after that many batches; zero runs until stopped
	MaximumBatchCount int
}

// DefaultWorkflowManagerConfig returns default configuration
func DefaultWorkflowManagerConfig() WorkflowManagerConfig {
	return WorkflowManagerConfig{
		CycleDuration: 10 * time.Second,
		BatchSize:     25,
	}
}

// Status is a snapshot of the manager's runtime statistics
type Status struct {
	Running          bool      `json:"running"`
	BatchesProcessed int       `json:"batches_processed"`
	EventsProcessed  int       `json:"events_processed"`
	EventsFailed     int       `json:"events_failed"`
	EventsRetried    int       `json:"events_retried"`
	LastBatchAt      time.Time `json:"last_batch_at,omitempty"`
	LastError        string    `json:"last_error,omitempty"`
}

// BatchResult counts the outcomes of one batch
type BatchResult struct {
	Fetched   int
	Processed int
	Failed    int
	Retried   int
}

// WorkflowManager drains queued workflow events from the event history.
// Events are handled one at a time in creation order.
type WorkflowManager struct {
	config    WorkflowManagerConfig
	histories port.EventHistoryRepository
	processor EventProcessor
	logger    *zap.Logger

	mu        sync.RWMutex
	isRunning bool
	stop      chan struct{}
	stopOnce  *sync.Once
	done      chan struct{}
	status    Status
}

// NewWorkflowManager creates a new workflow manager
func NewWorkflowManager(
	config WorkflowManagerConfig,
	histories port.EventHistoryRepository,
	processor EventProcessor,
	logger *zap.Logger,
) *WorkflowManager {
	if config.BatchSize <= 0 {
		config.BatchSize = DefaultWorkflowManagerConfig().BatchSize
	}
	return &WorkflowManager{
		config:    config,
		histories: histories,
		processor: processor,
		logger:    logger,
		done:      closedChannel(),
	}
}

// Start begins the batch loop in the background
func (w *WorkflowManager) Start(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.isRunning {
		return fmt.Errorf("workflow manager already running")
	}

	w.isRunning = true
	w.status.Running = true
	w.stop = make(chan struct{})
	w.stopOnce = &sync.Once{}
	w.done = make(chan struct{})

	w.logger.Info("Processing workflow events",
		zap.Duration("cycle_duration", w.config.CycleDuration),
		zap.Int("batch_size", w.config.BatchSize),
		zap.Int("maximum_batch_count", w.config.MaximumBatchCount))

	go w.run(ctx, w.stop, w.done)
	return nil
}

// Stop asks the loop to exit and waits for the current batch to finish
func (w *WorkflowManager) Stop() error {
	w.mu.RLock()
	stop, once, done := w.stop, w.stopOnce, w.done
	w.mu.RUnlock()

	if once != nil {
		once.Do(func() { close(stop) })
	}
	<-done
	return nil
}

// Done is closed once the loop has exited
func (w *WorkflowManager) Done() <-chan struct{} {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.done
}

// Name returns the worker name for identification
func (w *WorkflowManager) Name() string {
	return "WorkflowManager"
}

// Status returns a snapshot of the runtime statistics
func (w *WorkflowManager) Status() Status {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.status
}

func (w *WorkflowManager) run(ctx context.Context, stop <-chan struct{}, done chan<- struct{}) {
	defer func() {
		w.mu.Lock()
		w.isRunning = false
		w.status.Running = false
		w.mu.Unlock()
		close(done)
		w.logger.Info("Finished processing workflow events")
	}()

	batchCount := 0
	for {
		select {
		case <-stop:
			w.logger.Info("Exiting after stop was requested")
			return
		default:
		}

		start := time.Now()
		if _, err := w.ProcessBatch(ctx); err != nil {
			w.logger.Error("Failed to process workflow batch", zap.Error(err))
		}
		batchCount++

		if w.config.MaximumBatchCount > 0 && batchCount >= w.config.MaximumBatchCount {
			w.logger.Info("Exiting after batch limit reached", zap.Int("batch_count", batchCount))
			return
		}

		sleep := w.config.CycleDuration - time.Since(start)
		if sleep < 0 {
			sleep = 0
		}
		timer := time.NewTimer(sleep)
		select {
		case <-stop:
			timer.Stop()
			w.logger.Info("Exiting after stop was requested")
			return
		case <-ctx.Done():
			timer.Stop()
			w.logger.Info("Exiting after context cancellation")
			return
		case <-timer.C:
		}
	}
}

// ProcessBatch handles one batch of the oldest unprocessed events.
// The batch always runs to completion, even if ctx is cancelled meanwhile.
func (w *WorkflowManager) ProcessBatch(ctx context.Context) (BatchResult, error) {
	start := time.Now()

	histories, err := w.histories.ListUnprocessed(ctx, w.config.BatchSize)
	if err != nil {
		w.recordError(err)
		return BatchResult{}, fmt.Errorf("failed to fetch unprocessed events: %w", err)
	}

	eventCtx := context.WithoutCancel(ctx)
	result := BatchResult{Fetched: len(histories)}
	for _, history := range histories {
		switch w.processEvent(eventCtx, history) {
		case metrics.ResultProcessed:
			result.Processed++
		case metrics.ResultFailed:
			result.Failed++
		default:
			result.Retried++
		}
	}

	metrics.RecordBatch()

	w.mu.Lock()
	w.status.BatchesProcessed++
	w.status.EventsProcessed += result.Processed
	w.status.EventsFailed += result.Failed
	w.status.EventsRetried += result.Retried
	w.status.LastBatchAt = time.Now()
	w.mu.Unlock()

	w.logger.Info("Finished running workflow batch",
		zap.Int("fetched", result.Fetched),
		zap.Int("processed", result.Processed),
		zap.Int("failed", result.Failed),
		zap.Int("retried", result.Retried),
		zap.Duration("batch_duration", time.Since(start)))

	return result, nil
}

// processEvent returns the metrics result recorded for the event
func (w *WorkflowManager) processEvent(ctx context.Context, history *entity.WorkflowEventHistory) string {
	start := time.Now()
	logger := w.logger.With(zap.String("event_id", history.EventID.String()))

	evt, err := event.UnmarshalWorkflowEvent(history.EventData)
	if err != nil {
		logger.Warn("Encountered undecodable workflow event", zap.Error(err))
		result := w.markFailed(ctx, history, err.Error(), logger)
		metrics.RecordEvent(result, "unknown", time.Since(start).Seconds())
		return result
	}
	// The history row is authoritative for the event id
	evt.EventID = history.EventID

	var result string
	_, err = w.processor.Process(ctx, evt)
	switch {
	case err == nil:
		result = metrics.ResultProcessed
	case workflow.IsRetryable(err):
		logger.Warn("Encountered retryable workflow error", zap.Error(err))
		w.recordError(err)
		result = metrics.ResultRetry
	default:
		logger.Warn("Encountered non-retryable workflow error",
			zap.String("error_type", workflow.ErrorType(err)),
			zap.Error(err))
		result = w.markFailed(ctx, history, fmt.Sprintf("%s: %s", workflow.ErrorType(err), err.Error()), logger)
	}

	metrics.RecordEvent(result, string(evt.EventType), time.Since(start).Seconds())
	return result
}

func (w *WorkflowManager) markFailed(ctx context.Context, history *entity.WorkflowEventHistory, message string, logger *zap.Logger) string {
	if err := w.histories.MarkProcessed(ctx, history.EventID, message); err != nil {
		if errors.Is(err, port.ErrEventAlreadyProcessed) {
			logger.Info("Workflow event was already processed elsewhere")
			return metrics.ResultFailed
		}
		logger.Error("Failed to mark workflow event as failed", zap.Error(err))
		w.recordError(err)
		return metrics.ResultRetry
	}
	return metrics.ResultFailed
}

func (w *WorkflowManager) recordError(err error) {
	w.mu.Lock()
	w.status.LastError = err.Error()
	w.mu.Unlock()
}

func closedChannel() chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}

package http

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/garyjia/grants-workflow/internal/application/dispatcher"
	"github.com/garyjia/grants-workflow/internal/application/port"
	"github.com/garyjia/grants-workflow/internal/application/workflow"
	"github.com/garyjia/grants-workflow/internal/domain/entity"
	"github.com/garyjia/grants-workflow/internal/domain/event"
	"github.com/garyjia/grants-workflow/internal/infrastructure/worker"
	"github.com/garyjia/grants-workflow/pkg/utils"
)

// WorkflowQueries answers read-only questions about workflows
type WorkflowQueries interface {
	GetWorkflow(ctx context.Context, workflowID uuid.UUID) (*entity.Workflow, error)
	ListWorkflows(ctx context.Context, filter port.WorkflowFilter) ([]*entity.Workflow, error)
	ListApprovals(ctx context.Context, workflowID uuid.UUID) ([]*entity.WorkflowApproval, error)
	ListAudits(ctx context.Context, workflowID uuid.UUID) ([]*entity.WorkflowAudit, error)
	AllowedEvents(ctx context.Context, workflowID, userID uuid.UUID) ([]string, error)
	ExportAuditReport(ctx context.Context, workflowID uuid.UUID, path string) error
}

// EventIngester queues workflow events
type EventIngester interface {
	Ingest(ctx context.Context, evt *event.WorkflowEvent) (uuid.UUID, error)
}

// EventProcessor handles workflow events synchronously
type EventProcessor interface {
	Process(ctx context.Context, evt *event.WorkflowEvent) (*workflow.Result, error)
}

// Pinger reports database reachability
type Pinger interface {
	PingContext(ctx context.Context) error
}

// WorkerStatuses reports background worker statistics
type WorkerStatuses interface {
	Statuses() map[string]worker.Status
}

// Subscriptions lists the handlers registered on the event dispatcher
type Subscriptions interface {
	ListHandlers(eventType event.Type) []dispatcher.HandlerInfo
}

// Dependencies are the application components exposed over HTTP.
// Processor, Workers and Events are optional.
type Dependencies struct {
	Queries   WorkflowQueries
	Ingest    EventIngester
	Processor EventProcessor
	DB        Pinger
	Workers   WorkerStatuses
	Events    Subscriptions

	// ReportDir holds audit reports while they are streamed to the client
	ReportDir string
}

// Handlers contains all HTTP request handlers
type Handlers struct {
	deps   Dependencies
	logger *zap.Logger
}

// NewHandlers creates a new Handlers instance
func NewHandlers(deps Dependencies, logger *zap.Logger) *Handlers {
	return &Handlers{deps: deps, logger: logger}
}

// Response represents a standard JSON response
type Response struct {
	Success   bool        `json:"success"`
	Data      interface{} `json:"data,omitempty"`
	Error     string      `json:"error,omitempty"`
	ErrorType string      `json:"error_type,omitempty"`
}

// HealthResponse represents the health check response
type HealthResponse struct {
	Status    string                   `json:"status"`
	Timestamp string                   `json:"timestamp"`
	Database  string                   `json:"database"`
	Workers   map[string]worker.Status `json:"workers,omitempty"`

	// Subscriptions maps event types to the names of their handlers
	Subscriptions map[string][]string `json:"subscriptions,omitempty"`
}

// SubmitEventResponse is returned for POST /api/v1/workflow-events
type SubmitEventResponse struct {
	EventID    uuid.UUID        `json:"event_id"`
	Processed  bool             `json:"processed"`
	Workflow   *entity.Workflow `json:"workflow,omitempty"`
	Transition []string         `json:"transitions,omitempty"`
}

// ListWorkflowsRequest represents query parameters for listing workflows
type ListWorkflowsRequest struct {
	WorkflowType string `form:"workflow_type"`
	ActiveOnly   bool   `form:"active"`
	Limit        int    `form:"limit"`
	Offset       int    `form:"offset"`
}

// HealthCheck handles GET /health
func (h *Handlers) HealthCheck(c *gin.Context) {
	response := HealthResponse{
		Status:    "healthy",
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Database:  "ok",
	}
	if h.deps.Workers != nil {
		response.Workers = h.deps.Workers.Statuses()
	}
	if h.deps.Events != nil {
		response.Subscriptions = make(map[string][]string)
		for _, typ := range event.Types() {
			for _, info := range h.deps.Events.ListHandlers(typ) {
				response.Subscriptions[typ.String()] = append(response.Subscriptions[typ.String()], info.Name)
			}
		}
	}

	status := http.StatusOK
	if h.deps.DB != nil {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()
		if err := h.deps.DB.PingContext(ctx); err != nil {
			h.logger.Warn("Health check database ping failed", zap.Error(err))
			response.Status = "unhealthy"
			response.Database = err.Error()
			status = http.StatusServiceUnavailable
		}
	}

	c.JSON(status, Response{Success: status == http.StatusOK, Data: response})
}

// ListWorkflows handles GET /api/v1/workflows
func (h *Handlers) ListWorkflows(c *gin.Context) {
	var req ListWorkflowsRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		h.badRequest(c, "invalid query parameters")
		return
	}
	req.Limit, req.Offset = utils.NormalizePage(req.Limit, req.Offset)

	workflows, err := h.deps.Queries.ListWorkflows(c.Request.Context(), port.WorkflowFilter{
		WorkflowType: entity.WorkflowType(req.WorkflowType),
		ActiveOnly:   req.ActiveOnly,
		Limit:        req.Limit,
		Offset:       req.Offset,
	})
	if err != nil {
		h.fail(c, err)
		return
	}

	c.JSON(http.StatusOK, Response{Success: true, Data: gin.H{
		"workflows": workflows,
		"limit":     req.Limit,
		"offset":    req.Offset,
	}})
}

// GetWorkflow handles GET /api/v1/workflows/:id
func (h *Handlers) GetWorkflow(c *gin.Context) {
	workflowID, ok := h.workflowID(c)
	if !ok {
		return
	}

	wf, err := h.deps.Queries.GetWorkflow(c.Request.Context(), workflowID)
	if err != nil {
		h.fail(c, err)
		return
	}

	c.JSON(http.StatusOK, Response{Success: true, Data: wf})
}

// ListApprovals handles GET /api/v1/workflows/:id/approvals
func (h *Handlers) ListApprovals(c *gin.Context) {
	workflowID, ok := h.workflowID(c)
	if !ok {
		return
	}

	approvals, err := h.deps.Queries.ListApprovals(c.Request.Context(), workflowID)
	if err != nil {
		h.fail(c, err)
		return
	}

	c.JSON(http.StatusOK, Response{Success: true, Data: approvals})
}

// ListAudits handles GET /api/v1/workflows/:id/audits
func (h *Handlers) ListAudits(c *gin.Context) {
	workflowID, ok := h.workflowID(c)
	if !ok {
		return
	}

	audits, err := h.deps.Queries.ListAudits(c.Request.Context(), workflowID)
	if err != nil {
		h.fail(c, err)
		return
	}

	c.JSON(http.StatusOK, Response{Success: true, Data: audits})
}

// AllowedEvents handles GET /api/v1/workflows/:id/allowed-events?user_id=
func (h *Handlers) AllowedEvents(c *gin.Context) {
	workflowID, ok := h.workflowID(c)
	if !ok {
		return
	}
	userID, err := utils.ParseUUID("user_id", c.Query("user_id"))
	if err != nil {
		h.badRequest(c, err.Error())
		return
	}

	allowed, err := h.deps.Queries.AllowedEvents(c.Request.Context(), workflowID, userID)
	if err != nil {
		h.fail(c, err)
		return
	}

	c.JSON(http.StatusOK, Response{Success: true, Data: gin.H{
		"workflow_id":    workflowID,
		"user_id":        userID,
		"allowed_events": allowed,
	}})
}

// AuditReport handles GET /api/v1/workflows/:id/audit-report
func (h *Handlers) AuditReport(c *gin.Context) {
	workflowID, ok := h.workflowID(c)
	if !ok {
		return
	}

	dir := h.deps.ReportDir
	if dir == "" {
		dir = os.TempDir()
	}
	fileName := fmt.Sprintf("workflow-%s-audit.xlsx", workflowID)
	path := filepath.Join(dir, fmt.Sprintf("%s-%s", uuid.NewString(), fileName))
	defer os.Remove(path)

	if err := h.deps.Queries.ExportAuditReport(c.Request.Context(), workflowID, path); err != nil {
		h.fail(c, err)
		return
	}

	c.FileAttachment(path, fileName)
}

// SubmitEvent handles POST /api/v1/workflow-events. The event is queued for
// the workflow manager, or processed immediately with ?sync=true.
func (h *Handlers) SubmitEvent(c *gin.Context) {
	var evt event.WorkflowEvent
	if err := c.ShouldBindJSON(&evt); err != nil {
		h.badRequest(c, fmt.Sprintf("invalid workflow event: %v", err))
		return
	}

	eventID, err := h.deps.Ingest.Ingest(c.Request.Context(), &evt)
	if err != nil {
		h.fail(c, err)
		return
	}

	if c.Query("sync") != "true" || h.deps.Processor == nil {
		c.JSON(http.StatusAccepted, Response{Success: true, Data: SubmitEventResponse{EventID: eventID}})
		return
	}

	result, err := h.deps.Processor.Process(c.Request.Context(), &evt)
	if err != nil {
		h.fail(c, err)
		return
	}

	transitions := make([]string, len(result.Transitions))
	for i, t := range result.Transitions {
		transitions[i] = t.Trigger.String()
	}

	c.JSON(http.StatusOK, Response{Success: true, Data: SubmitEventResponse{
		EventID:    result.EventID,
		Processed:  true,
		Workflow:   result.Workflow,
		Transition: transitions,
	}})
}

func (h *Handlers) workflowID(c *gin.Context) (uuid.UUID, bool) {
	id, err := utils.ParseUUID("workflow id", c.Param("id"))
	if err != nil {
		h.badRequest(c, err.Error())
		return uuid.Nil, false
	}
	return id, true
}

func (h *Handlers) badRequest(c *gin.Context, message string) {
	c.JSON(http.StatusBadRequest, Response{Success: false, Error: message, ErrorType: "BadRequest"})
}

func (h *Handlers) fail(c *gin.Context, err error) {
	status := statusForError(err)
	if status >= http.StatusInternalServerError {
		h.logger.Error("Request failed", zap.String("path", c.Request.URL.Path), zap.Error(err))
	}

	message := err.Error()
	var wfErr *workflow.Error
	if status >= http.StatusInternalServerError && !errors.As(err, &wfErr) {
		message = "internal error"
	}
	c.JSON(status, Response{Success: false, Error: message, ErrorType: workflow.ErrorType(err)})
}

// statusForError maps workflow error kinds to HTTP status codes
func statusForError(err error) int {
	switch {
	case errors.Is(err, workflow.ErrWorkflowDoesNotExist),
		errors.Is(err, workflow.ErrEntityNotFound),
		errors.Is(err, workflow.ErrUserDoesNotExist):
		return http.StatusNotFound
	case errors.Is(err, workflow.ErrDuplicateApproval),
		errors.Is(err, workflow.ErrInactiveWorkflow),
		errors.Is(err, workflow.ErrConcurrentModification):
		return http.StatusConflict
	case errors.Is(err, workflow.ErrInvalidEvent),
		errors.Is(err, workflow.ErrInvalidWorkflowType),
		errors.Is(err, workflow.ErrInvalidWorkflowResponseType):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

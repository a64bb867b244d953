package main

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/spf13/pflag"
	"go.uber.org/zap"

	"github.com/garyjia/grants-workflow/internal/container"
	"github.com/garyjia/grants-workflow/internal/domain/entity"
	"github.com/garyjia/grants-workflow/internal/domain/event"
	"github.com/garyjia/grants-workflow/pkg/utils"
)

// eventOutput is printed after an event is submitted
type eventOutput struct {
	EventID     uuid.UUID        `json:"event_id"`
	Processed   bool             `json:"processed"`
	Workflow    *entity.Workflow `json:"workflow,omitempty"`
	Transitions []string         `json:"transitions,omitempty"`
}

func runStart(ctx context.Context, a *app, args []string) error {
	var (
		userID       string
		workflowType string
		entities     []string
		metadata     []string
		async        bool
	)

	flagSet := pflag.NewFlagSet("start", pflag.ContinueOnError)
	flagSet.StringVar(&userID, "user", "", "acting user ID")
	flagSet.StringVar(&workflowType, "type", "", "workflow type, e.g. INITIAL_PROTOTYPE")
	flagSet.StringArrayVar(&entities, "entity", nil, "entity as TYPE:ID, repeatable")
	flagSet.StringArrayVar(&metadata, "metadata", nil, "event metadata as key=value, repeatable")
	flagSet.BoolVar(&async, "async", false, "only queue the event for the workflow manager")
	if err := flagSet.Parse(args); err != nil {
		return err
	}

	user, err := utils.ParseUUID("--user", userID)
	if err != nil {
		return err
	}
	if workflowType == "" {
		return fmt.Errorf("--type is required")
	}
	workflowEntities, err := parseEntities(entities)
	if err != nil {
		return err
	}
	meta, err := parseMetadata(metadata)
	if err != nil {
		return err
	}

	evt := event.NewStartWorkflowEvent(user, entity.WorkflowType(strings.ToUpper(workflowType)), workflowEntities, meta)
	return submit(ctx, a, evt, async)
}

func runProcess(ctx context.Context, a *app, args []string) error {
	var (
		userID     string
		workflowID string
		eventName  string
		metadata   []string
		async      bool
	)

	flagSet := pflag.NewFlagSet("process", pflag.ContinueOnError)
	flagSet.StringVar(&userID, "user", "", "acting user ID")
	flagSet.StringVar(&workflowID, "workflow", "", "workflow ID")
	flagSet.StringVar(&eventName, "event", "", "event to send, e.g. receive_approval")
	flagSet.StringArrayVar(&metadata, "metadata", nil, "event metadata as key=value, repeatable")
	flagSet.BoolVar(&async, "async", false, "only queue the event for the workflow manager")
	if err := flagSet.Parse(args); err != nil {
		return err
	}

	user, err := utils.ParseUUID("--user", userID)
	if err != nil {
		return err
	}
	wfID, err := utils.ParseUUID("--workflow", workflowID)
	if err != nil {
		return err
	}
	if eventName == "" {
		return fmt.Errorf("--event is required")
	}
	meta, err := parseMetadata(metadata)
	if err != nil {
		return err
	}

	return submit(ctx, a, event.NewProcessWorkflowEvent(user, wfID, eventName, meta), async)
}

// submit queues evt and, unless async is set, processes it right away
func submit(ctx context.Context, a *app, evt *event.WorkflowEvent, async bool) error {
	c, err := a.container(ctx)
	if err != nil {
		return err
	}
	defer c.Close()

	eventID, err := c.Ingest().Ingest(ctx, evt)
	if err != nil {
		return err
	}
	if async {
		return printJSON(eventOutput{EventID: eventID})
	}

	result, err := c.EventHandler().Process(ctx, evt)
	if err != nil {
		return err
	}

	out := eventOutput{EventID: result.EventID, Processed: true, Workflow: result.Workflow}
	for _, t := range result.Transitions {
		out.Transitions = append(out.Transitions, t.Trigger.String())
	}
	return printJSON(out)
}

func runAllowedEvents(ctx context.Context, a *app, args []string) error {
	var userID, workflowID string

	flagSet := pflag.NewFlagSet("allowed-events", pflag.ContinueOnError)
	flagSet.StringVar(&userID, "user", "", "user ID")
	flagSet.StringVar(&workflowID, "workflow", "", "workflow ID")
	if err := flagSet.Parse(args); err != nil {
		return err
	}

	user, err := utils.ParseUUID("--user", userID)
	if err != nil {
		return err
	}
	wfID, err := utils.ParseUUID("--workflow", workflowID)
	if err != nil {
		return err
	}

	c, err := a.container(ctx)
	if err != nil {
		return err
	}
	defer c.Close()

	allowed, err := c.Queries().AllowedEvents(ctx, wfID, user)
	if err != nil {
		return err
	}
	return printJSON(map[string]interface{}{
		"workflow_id":    wfID,
		"user_id":        user,
		"allowed_events": allowed,
	})
}

func runExportAudit(ctx context.Context, a *app, args []string) error {
	var workflowID, output string

	flagSet := pflag.NewFlagSet("export-audit", pflag.ContinueOnError)
	flagSet.StringVar(&workflowID, "workflow", "", "workflow ID")
	flagSet.StringVarP(&output, "output", "o", "", "xlsx file to write (default: <report.output_dir>/workflow-<id>-audit.xlsx)")
	if err := flagSet.Parse(args); err != nil {
		return err
	}

	wfID, err := utils.ParseUUID("--workflow", workflowID)
	if err != nil {
		return err
	}
	if output == "" {
		output = filepath.Join(a.cfg.Report.OutputDir, fmt.Sprintf("workflow-%s-audit.xlsx", wfID))
	}

	c, err := a.container(ctx)
	if err != nil {
		return err
	}
	defer c.Close()

	if err := c.Queries().ExportAuditReport(ctx, wfID, output); err != nil {
		return err
	}
	return printJSON(map[string]string{"workflow_id": wfID.String(), "path": output})
}

func runMigrate(ctx context.Context, a *app, args []string) error {
	var down int
	var showVersion bool

	flagSet := pflag.NewFlagSet("migrate", pflag.ContinueOnError)
	flagSet.IntVar(&down, "down", 0, "roll back this many migrations instead of applying")
	flagSet.BoolVar(&showVersion, "version", false, "print the current schema version and exit")
	if err := flagSet.Parse(args); err != nil {
		return err
	}

	dbCfg := a.cfg.Database
	dbCfg.AutoMigrate = false
	bundle, err := container.ProvideDatabase(dbCfg, a.logger)
	if err != nil {
		return err
	}
	defer bundle.Conn.Close()

	migrator := container.NewMigrator(bundle.Conn, a.logger)
	switch {
	case showVersion:
	case down > 0:
		if err := migrator.Down(down); err != nil {
			return err
		}
	default:
		if err := migrator.Up(); err != nil {
			return err
		}
	}

	version, dirty, err := migrator.Version()
	if err != nil {
		return err
	}
	a.logger.Info("Schema version", zap.Uint("version", version), zap.Bool("dirty", dirty))
	return printJSON(map[string]interface{}{"version": version, "dirty": dirty})
}

// parseEntities parses TYPE:ID pairs
func parseEntities(values []string) ([]event.WorkflowEntity, error) {
	entities := make([]event.WorkflowEntity, 0, len(values))
	for _, value := range values {
		kind, id, ok := strings.Cut(value, ":")
		if !ok {
			return nil, fmt.Errorf("--entity %q must be TYPE:ID", value)
		}
		entityType := entity.WorkflowEntityType(strings.ToUpper(strings.TrimSpace(kind)))
		if !entityType.IsValid() {
			return nil, fmt.Errorf("--entity %q has unknown type %s", value, kind)
		}
		entityID, err := utils.ParseUUID("--entity", strings.TrimSpace(id))
		if err != nil {
			return nil, err
		}
		entities = append(entities, event.WorkflowEntity{EntityType: entityType, EntityID: entityID})
	}
	return entities, nil
}

// parseMetadata parses key=value pairs. Later keys win.
func parseMetadata(values []string) (map[string]any, error) {
	if len(values) == 0 {
		return nil, nil
	}
	metadata := make(map[string]any, len(values))
	for _, value := range values {
		key, val, ok := strings.Cut(value, "=")
		key = strings.TrimSpace(key)
		if !ok || key == "" {
			return nil, fmt.Errorf("--metadata %q must be key=value", value)
		}
		metadata[key] = val
	}
	return metadata, nil
}

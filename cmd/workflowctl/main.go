// workflowctl submits workflow events and inspects workflows from the command line.
//
// Usage:
//
//	workflowctl [--config path] <command> [flags]
//
// Commands:
//
//	start           start a workflow for one or more entities
//	process         send an event to an existing workflow
//	allowed-events  list the events a user may send to a workflow
//	export-audit    write a workflow's audit trail to an xlsx file
//	migrate         apply or roll back schema migrations
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/pflag"
	"go.uber.org/zap"

	"github.com/garyjia/grants-workflow/internal/application/workflow"
	"github.com/garyjia/grants-workflow/internal/config"
	"github.com/garyjia/grants-workflow/internal/container"
	"github.com/garyjia/grants-workflow/pkg/utils"
)

type command struct {
	name    string
	summary string
	run     func(ctx context.Context, app *app, args []string) error
}

var commands = []command{
	{"start", "start a workflow for one or more entities", runStart},
	{"process", "send an event to an existing workflow", runProcess},
	{"allowed-events", "list the events a user may send to a workflow", runAllowedEvents},
	{"export-audit", "write a workflow's audit trail to an xlsx file", runExportAudit},
	{"migrate", "apply or roll back schema migrations", runMigrate},
}

// app holds the state shared by every command
type app struct {
	configPath string
	cfg        *config.Config
	logger     *zap.Logger
}

func main() {
	if err := run(os.Args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			os.Exit(0)
		}
		fmt.Fprintf(os.Stderr, "error: %s: %v\n", workflow.ErrorType(err), err)
		os.Exit(1)
	}
}

func run(args []string) error {
	a := &app{}

	flagSet := pflag.NewFlagSet("workflowctl", pflag.ContinueOnError)
	flagSet.SetInterspersed(false)
	flagSet.StringVar(&a.configPath, "config", "", "path to a YAML config file")
	flagSet.Usage = func() { printUsage(flagSet) }

	if err := flagSet.Parse(args); err != nil {
		return err
	}
	if flagSet.NArg() == 0 {
		printUsage(flagSet)
		return fmt.Errorf("a command is required")
	}

	name := flagSet.Arg(0)
	for _, cmd := range commands {
		if cmd.name != name {
			continue
		}
		if err := a.init(); err != nil {
			return err
		}
		defer func() { _ = a.logger.Sync() }()
		return cmd.run(context.Background(), a, flagSet.Args()[1:])
	}

	printUsage(flagSet)
	return fmt.Errorf("unknown command %q", name)
}

func (a *app) init() error {
	cfg, err := config.Load(a.configPath)
	if err != nil {
		return err
	}

	// stdout carries command output
	output := cfg.Logger.OutputPath
	if output == "" || output == "stdout" {
		output = "stderr"
	}
	logger, err := utils.NewLogger(utils.LoggerConfig{
		Level:      cfg.Logger.Level,
		OutputPath: output,
		Format:     cfg.Logger.Format,
		Service:    "workflowctl",
	})
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}

	a.cfg = cfg
	a.logger = logger
	return nil
}

// container starts the application components without background workers.
// The caller closes it.
func (a *app) container(ctx context.Context) (*container.Container, error) {
	c, err := container.NewContainer(a.cfg, a.logger)
	if err != nil {
		return nil, err
	}
	if err := c.Start(ctx); err != nil {
		return nil, err
	}
	return c, nil
}

func printJSON(v interface{}) error {
	encoder := json.NewEncoder(os.Stdout)
	encoder.SetIndent("", "  ")
	return encoder.Encode(v)
}

func printUsage(flagSet *pflag.FlagSet) {
	fmt.Fprintf(os.Stderr, "Usage: workflowctl [--config path] <command> [flags]\n\nCommands:\n")
	for _, cmd := range commands {
		fmt.Fprintf(os.Stderr, "  %-16s %s\n", cmd.name, cmd.summary)
	}
	fmt.Fprintf(os.Stderr, "\nGlobal flags:\n%s", flagSet.FlagUsages())
}

package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/alecthomas/kong"

	"github.com/Notoriousjayy/CIFlowDocs/internal/config"
	"github.com/Notoriousjayy/CIFlowDocs/internal/daemon"
	derrors "github.com/Notoriousjayy/CIFlowDocs/internal/errors"
	"github.com/Notoriousjayy/CIFlowDocs/internal/logfields"
	"github.com/Notoriousjayy/CIFlowDocs/internal/stagegraph"
)

var CLI struct {
	Config  string `short:"c" help:"Configuration file path" default:"ciflow.yaml"`
	Server  string `short:"s" help:"Daemon base URL for client commands" default:"http://localhost:8080"`
	Verbose bool   `short:"v" help:"Enable verbose logging"`

	Daemon struct {
	} `cmd:"" help:"Run the build orchestrator daemon"`

	Trigger struct {
		Pipeline string   `arg:"" help:"Pipeline to build"`
		Ref      string   `help:"Branch or ref to build (defaults to the pipeline's tracked ref)"`
		Hash     string   `help:"Exact revision hash to build (defaults to the ref head)"`
		Stages   []string `help:"Restrict the build to these stages and their dependencies"`
		Wait     bool     `short:"w" help:"Wait for the build to finish and exit with its outcome"`
	} `cmd:"" help:"Trigger a build through a running daemon"`

	Status struct {
		BuildID string `arg:"" name:"build-id" help:"Build ID or fingerprint to inspect"`
	} `cmd:"" help:"Show the status of a build"`

	Rollback struct {
		Pipeline string `arg:"" help:"Pipeline whose active artifact to repoint"`
		Label    string `arg:"" help:"Previously published label to activate"`
	} `cmd:"" help:"Roll the active artifact back to an earlier label"`

	Diff struct {
		Pipeline string `arg:"" help:"Pipeline the labels belong to"`
		From     string `arg:"" help:"Older published label"`
		To       string `arg:"" help:"Newer published label"`
	} `cmd:"" help:"Show the changeset between two published labels"`

	PromoteHistory struct {
		Pipeline string `arg:"" help:"Pipeline to list promotions for"`
	} `cmd:"" name:"promote-history" help:"List published artifacts and promoted builds"`

	Validate struct {
	} `cmd:"" help:"Validate the configuration and resolve every stage graph"`
}

func main() {
	kctx := kong.Parse(&CLI)

	logLevel := slog.LevelInfo
	if CLI.Verbose {
		logLevel = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: logLevel,
	})))

	adapter := derrors.NewCLIErrorAdapter(CLI.Verbose, slog.Default())

	var err error
	switch kctx.Command() {
	case "daemon":
		err = runDaemon(CLI.Config)
	case "trigger <pipeline>":
		err = runTrigger()
	case "status <build-id>":
		err = runStatus(CLI.Status.BuildID)
	case "rollback <pipeline> <label>":
		err = runRollback(CLI.Rollback.Pipeline, CLI.Rollback.Label)
	case "diff <pipeline> <from> <to>":
		err = runDiff(CLI.Diff.Pipeline, CLI.Diff.From, CLI.Diff.To)
	case "promote-history <pipeline>":
		err = runPromoteHistory(CLI.PromoteHistory.Pipeline)
	case "validate":
		err = runValidate(CLI.Config)
	}
	if err != nil {
		adapter.HandleError(err)
	}
}

// runDaemon loads configuration and runs the orchestrator until a signal
// arrives.
func runDaemon(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return derrors.ValidationFailed("config", err.Error())
	}

	d, err := daemon.New(cfg, daemon.Options{ConfigPath: configPath})
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := d.Start(ctx); err != nil {
		return err
	}

	<-ctx.Done()
	slog.Info("Shutdown signal received")

	stopCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	return d.Stop(stopCtx)
}

// runValidate loads the configuration and resolves every pipeline's stage
// graph so cycles and unknown dependencies surface before any daemon start.
func runValidate(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return derrors.ValidationFailed("config", err.Error())
	}

	defaultTimeout := config.ParseDurationOr(cfg.Executor.StageTimeout, 30*time.Minute)
	for i := range cfg.Pipelines {
		p := &cfg.Pipelines[i]
		stages := stagegraph.FromConfig(p, defaultTimeout)
		batches, err := stagegraph.Resolve(p.Name, stages, nil)
		if err != nil {
			return err
		}
		slog.Info("Pipeline resolves",
			logfields.Pipeline(p.Name),
			slog.Int("stages", len(stages)),
			slog.Int("batches", len(batches)))
	}

	slog.Info("Configuration valid",
		slog.Int("pipelines", len(cfg.Pipelines)),
		slog.Int("channels", len(cfg.Channels)))
	return nil
}

package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/withObsrvr/obsrvr-sol-pipeline/internal/audit"
	"github.com/withObsrvr/obsrvr-sol-pipeline/internal/config"
	"github.com/withObsrvr/obsrvr-sol-pipeline/internal/dispatch"
	"github.com/withObsrvr/obsrvr-sol-pipeline/internal/logging"
	"github.com/withObsrvr/obsrvr-sol-pipeline/internal/metrics"
	"github.com/withObsrvr/obsrvr-sol-pipeline/internal/stages"
	"github.com/withObsrvr/obsrvr-sol-pipeline/internal/watermark"
)

// Set at build time with -ldflags.
var (
	Version = "dev"
	GitSHA  = "unknown"
)

var (
	configPath  string
	interactive bool
)

var rootCmd = &cobra.Command{
	Use:   "sol-pipeline",
	Short: "Statute of limitations pipeline for collection accounts",
	Long: `sol-pipeline retrieves daily account exports, computes the statute of
limitations date for each account, generates the downstream input files,
runs the external processor and records the processed date.

A controller (Gemini function calling or a YAML playbook) decides which
operation runs next; this program executes the requested operations.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Config file (default: $SOL_CONFIG or sol-pipeline.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&interactive, "interactive", "i", false, "Prompt on stdin when a processing window must be entered")

	rootCmd.AddCommand(runCmd, dispatchCmd, operationsCmd, historyCmd, auditCmd)
}

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Graceful shutdown handler
	go func() {
		ch := make(chan os.Signal, 1)
		signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
		sig := <-ch
		slog.Info("received signal", "component", "main", "signal", sig.String())
		cancel()
	}()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

// app is the wiring shared by the subcommands.
type app struct {
	cfg        config.Config
	store      watermark.Store
	metrics    *metrics.Metrics
	dispatcher *dispatch.Dispatcher
}

func newApp(ctx context.Context) (*app, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}

	logging.Setup(cfg.Logging)
	stages.Version = Version

	store, err := watermark.NewStore(ctx, cfg.Watermark)
	if err != nil {
		return nil, fmt.Errorf("open watermark store: %w", err)
	}

	var m *metrics.Metrics
	if cfg.Metrics.Enabled {
		m = metrics.Init("")
	}

	emitter, err := audit.New(cfg.Audit)
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("audit: %w", err)
	}

	deps := stages.Deps{Store: store, Audit: emitter}
	if interactive {
		deps.Prompter = newStdinPrompter(os.Stdin, os.Stderr)
	}

	registry, err := dispatch.NewRegistry(stages.Catalog(deps)...)
	if err != nil {
		store.Close()
		return nil, err
	}
	d, err := dispatch.New(registry, cfg.Stages, m)
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("stages config: %w", err)
	}

	a := &app{cfg: cfg, store: store, metrics: m, dispatcher: d}
	a.refreshWatermarkGauge(ctx)
	return a, nil
}

func (a *app) refreshWatermarkGauge(ctx context.Context) {
	if a.metrics == nil {
		return
	}
	last, ok, err := a.store.LastProcessedDate(ctx)
	if err != nil {
		slog.Warn("failed to read watermark", "component", "main", "error", err)
		return
	}
	if ok {
		a.metrics.SetLastProcessedDate(float64(last.Unix()))
	}
}

func (a *app) Close() error {
	return a.store.Close()
}

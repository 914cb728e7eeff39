package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/withObsrvr/obsrvr-sol-pipeline/internal/controller/gemini"
	"github.com/withObsrvr/obsrvr-sol-pipeline/internal/controller/script"
	"github.com/withObsrvr/obsrvr-sol-pipeline/internal/metrics"
	"github.com/withObsrvr/obsrvr-sol-pipeline/internal/protocol"
	"github.com/withObsrvr/obsrvr-sol-pipeline/internal/runloop"
	"github.com/withObsrvr/obsrvr-sol-pipeline/internal/stages"
)

var (
	runMessage  string
	runPlaybook string
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the pipeline under the configured controller",
	Long: `Starts a controller run with the initial message and executes every
operation it requests until the run completes, fails or times out.

With --playbook the YAML playbook controller is used regardless of the
configured controller type.`,
	RunE: runPipeline,
}

func init() {
	runCmd.Flags().StringVarP(&runMessage, "message", "m", "", "Initial message (overrides run.initial_message)")
	runCmd.Flags().StringVar(&runPlaybook, "playbook", "", "Run this YAML playbook instead of the configured controller")
}

func runPipeline(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	log := slog.With("component", "main")
	log.Info("starting sol-pipeline", "version", Version, "git_sha", GitSHA)

	a.serveMetrics()

	message := a.cfg.Run.InitialMessage
	if runMessage != "" {
		message = runMessage
	}

	runErr := a.runOnce(ctx, message)
	switch {
	case runErr == nil:
		return nil
	case errors.Is(runErr, runloop.ErrTimedOut):
		return fmt.Errorf("run timed out: %w", runErr)
	case ctx.Err() != nil:
		log.Info("shutdown complete")
		return nil
	default:
		return runErr
	}
}

// runOnce drives one controller run and prints its outcome.
func (a *app) runOnce(ctx context.Context, message string) error {
	ctrl, err := a.controller(ctx)
	if err != nil {
		return err
	}

	runner := runloop.New(ctrl, a.dispatcher, runloop.Config{
		PollInterval: a.cfg.Run.PollInterval,
		Timeout:      a.cfg.Run.Timeout,
	}, runloop.WithMetrics(a.metrics))

	out, runErr := runner.Run(ctx, message)
	a.refreshWatermarkGauge(context.WithoutCancel(ctx))

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(out); err != nil {
		return err
	}
	return runErr
}

func (a *app) serveMetrics() {
	if !a.cfg.Metrics.Enabled {
		return
	}
	log := slog.With("component", "main")
	go func() {
		log.Info("metrics server listening", "address", a.cfg.Metrics.Address)
		if err := metrics.StartServer(a.cfg.Metrics.Address); err != nil {
			log.Error("metrics server stopped", "error", err)
		}
	}()
}

func (a *app) controller(ctx context.Context) (protocol.Controller, error) {
	ops := a.dispatcher.Registry().Operations()

	kind, playbook := a.cfg.Controller.Type, a.cfg.Controller.Playbook
	if runPlaybook != "" {
		kind, playbook = "script", runPlaybook
	}

	switch kind {
	case "script":
		pb, err := script.LoadPlaybook(playbook)
		if err != nil {
			return nil, err
		}
		return script.New(pb, operationNames(ops))
	case "gemini":
		return gemini.New(ctx, a.cfg.Controller.Gemini, ops, a.cfg.Stages)
	default:
		return nil, fmt.Errorf("unknown controller type: %s", kind)
	}
}

func operationNames(ops []stages.Operation) []string {
	names := make([]string, len(ops))
	for i, op := range ops {
		names[i] = op.Name()
	}
	return names
}

package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/withObsrvr/obsrvr-sol-pipeline/internal/stages"
	"github.com/withObsrvr/obsrvr-sol-pipeline/internal/watcher"
)

var (
	watchDir     string
	watchPattern string
	watchSettle  time.Duration
)

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Start a run whenever new export files arrive",
	Long: `Watches the export directory and starts a controller run once newly
written files have been quiet for the settle period. A failed run is logged
and the watch continues.

The directory defaults to the source_directory configured for
retrieve_new_input_files.`,
	RunE: watchExports,
}

func init() {
	watchCmd.Flags().StringVar(&watchDir, "dir", "", "Directory to watch")
	watchCmd.Flags().StringVar(&watchPattern, "pattern", "NCR*.xlsx", "Glob for export file names")
	watchCmd.Flags().DurationVar(&watchSettle, "settle", 30*time.Second, "Quiet period before a run starts")
	rootCmd.AddCommand(watchCmd)
}

func watchExports(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()
	a.serveMetrics()

	dir := watchDir
	if dir == "" {
		dir, _ = a.cfg.Stages[stages.OpRetrieveInputs]["source_directory"].(string)
	}
	if dir == "" {
		return fmt.Errorf("--dir is required when retrieve_new_input_files.source_directory is not configured")
	}

	log := slog.With("component", "main")
	w, err := watcher.New(watcher.Config{Dir: dir, Pattern: watchPattern, Settle: watchSettle},
		func(ctx context.Context, files []string) error {
			names := make([]string, len(files))
			for i, f := range files {
				names[i] = filepath.Base(f)
			}
			log.Info("starting run for new files", "files", names)

			if err := a.runOnce(ctx, a.cfg.Run.InitialMessage); err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				log.Error("run failed", "error", err)
			}
			return nil
		})
	if err != nil {
		return err
	}

	if err := w.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	log.Info("shutdown complete")
	return nil
}

// Package watcher triggers pipeline runs when new export files land in
// the source directory.
package watcher

import (
	"context"
	"fmt"
	"path/filepath"
	"sort"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/withObsrvr/obsrvr-sol-pipeline/internal/logging"
)

// TriggerFunc handles one settled group of new files.
type TriggerFunc func(ctx context.Context, files []string) error

// Config configures a Watcher.
type Config struct {
	Dir     string
	Pattern string        // glob on the base name, e.g. "NCR*.xlsx"
	Settle  time.Duration // quiet period after the last event before triggering
}

// Watcher collects create/write events for matching files and fires the
// trigger once the directory has been quiet for Settle.
type Watcher struct {
	cfg     Config
	trigger TriggerFunc
	watcher *fsnotify.Watcher
}

// New starts watching cfg.Dir.
func New(cfg Config, trigger TriggerFunc) (*Watcher, error) {
	if cfg.Pattern == "" {
		cfg.Pattern = "*"
	}
	if _, err := filepath.Match(cfg.Pattern, ""); err != nil {
		return nil, fmt.Errorf("bad pattern %q: %w", cfg.Pattern, err)
	}
	if cfg.Settle <= 0 {
		cfg.Settle = 30 * time.Second
	}

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := fw.Add(cfg.Dir); err != nil {
		fw.Close()
		return nil, fmt.Errorf("watch %s: %w", cfg.Dir, err)
	}

	return &Watcher{cfg: cfg, trigger: trigger, watcher: fw}, nil
}

// Run blocks until ctx is cancelled or the trigger fails.
func (w *Watcher) Run(ctx context.Context) error {
	defer w.watcher.Close()
	log := logging.Component("watcher")
	log.Info("watching for new files", "dir", w.cfg.Dir, "pattern", w.cfg.Pattern, "settle", w.cfg.Settle)

	pending := map[string]struct{}{}
	settle := time.NewTimer(w.cfg.Settle)
	settle.Stop()
	defer settle.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case event, ok := <-w.watcher.Events:
			if !ok {
				return nil
			}
			if !w.matches(event) {
				continue
			}
			log.Debug("file event", "file", event.Name, "op", event.Op.String())
			pending[event.Name] = struct{}{}
			settle.Reset(w.cfg.Settle)

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return nil
			}
			log.Error("watch error", "error", err)

		case <-settle.C:
			if len(pending) == 0 {
				continue
			}
			files := make([]string, 0, len(pending))
			for f := range pending {
				files = append(files, f)
			}
			sort.Strings(files)
			pending = map[string]struct{}{}

			log.Info("new files settled", "count", len(files))
			if err := w.trigger(ctx, files); err != nil {
				return err
			}
		}
	}
}

func (w *Watcher) matches(event fsnotify.Event) bool {
	if !event.Has(fsnotify.Create) && !event.Has(fsnotify.Write) {
		return false
	}
	ok, _ := filepath.Match(w.cfg.Pattern, filepath.Base(event.Name))
	return ok
}

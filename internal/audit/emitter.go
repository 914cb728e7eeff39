package audit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/withObsrvr/obsrvr-sol-pipeline/internal/logging"
)

// Config selects where audit events go.
type Config struct {
	Enabled   bool   `yaml:"enabled"`
	Directory string `yaml:"directory"` // event files and chain heads
	Endpoint  string `yaml:"endpoint"`  // optional HTTP collector
}

// Emitter records distribution events.
type Emitter interface {
	Emit(ctx context.Context, evt *Event) error
	Close() error
}

// New creates an emitter for cfg. A disabled config yields a nil Emitter.
func New(cfg Config) (Emitter, error) {
	if !cfg.Enabled {
		return nil, nil
	}
	if cfg.Directory == "" {
		return nil, fmt.Errorf("audit directory is required")
	}
	if cfg.Endpoint != "" {
		e, err := NewHTTPEmitter(cfg)
		if err != nil {
			return nil, err
		}
		return e, nil
	}
	e, err := NewFileEmitter(cfg.Directory)
	if err != nil {
		return nil, err
	}
	return e, nil
}

// FileEmitter writes chained events to local files.
type FileEmitter struct {
	chain *ChainTracker
	dir   string
}

// NewFileEmitter creates an emitter writing under dir.
func NewFileEmitter(dir string) (*FileEmitter, error) {
	chain, err := NewChainTracker(dir)
	if err != nil {
		return nil, fmt.Errorf("create chain tracker: %w", err)
	}
	eventsDir := filepath.Join(dir, "events")
	if err := os.MkdirAll(eventsDir, 0755); err != nil {
		return nil, fmt.Errorf("create events dir: %w", err)
	}
	return &FileEmitter{chain: chain, dir: eventsDir}, nil
}

// Emit seals evt against the current chain head, saves it and advances
// the head.
func (e *FileEmitter) Emit(ctx context.Context, evt *Event) error {
	if err := e.seal(evt); err != nil {
		return err
	}
	if err := e.save(evt); err != nil {
		return err
	}
	return e.chain.SetHead(evt.ChainKey(), evt.Chain.EventHash)
}

func (e *FileEmitter) seal(evt *Event) error {
	prevHash, err := e.chain.GetHead(evt.ChainKey())
	if err != nil && !errors.Is(err, ErrNoChainHead) {
		return fmt.Errorf("get chain head: %w", err)
	}

	evt.Version = EventVersion
	evt.EventType = EventTypeDistribution
	evt.EventID = GenerateEventID()
	if evt.Timestamp.IsZero() {
		evt.Timestamp = time.Now().UTC()
	}
	evt.SetChainHashes(prevHash)

	logging.Component("audit").Info("sealed distribution event",
		"event_id", evt.EventID,
		"destination", evt.Batch.Destination,
		"prev_hash", prevHash,
		"event_hash", evt.Chain.EventHash,
	)
	return nil
}

func (e *FileEmitter) save(evt *Event) error {
	name := evt.Timestamp.UTC().Format("20060102T150405.000000000Z") + "_" + evt.EventID + ".json"

	data, err := json.MarshalIndent(evt, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	if err := os.WriteFile(filepath.Join(e.dir, name), data, 0644); err != nil {
		return fmt.Errorf("write event: %w", err)
	}
	return nil
}

// Close releases resources.
func (e *FileEmitter) Close() error {
	return nil
}

// ReadEvents loads every saved event under dir, ordered by timestamp.
func ReadEvents(dir string) ([]*Event, error) {
	eventsDir := filepath.Join(dir, "events")
	entries, err := os.ReadDir(eventsDir)
	if err != nil {
		return nil, fmt.Errorf("read events: %w", err)
	}

	var names []string
	for _, entry := range entries {
		if entry.Type().IsRegular() && strings.HasSuffix(entry.Name(), ".json") {
			names = append(names, entry.Name())
		}
	}
	sort.Strings(names)

	events := make([]*Event, 0, len(names))
	for _, name := range names {
		data, err := os.ReadFile(filepath.Join(eventsDir, name))
		if err != nil {
			return nil, fmt.Errorf("read event %s: %w", name, err)
		}
		var evt Event
		if err := json.Unmarshal(data, &evt); err != nil {
			return nil, fmt.Errorf("decode event %s: %w", name, err)
		}
		events = append(events, &evt)
	}
	return events, nil
}

// VerifyDir checks every chain recorded under dir.
func VerifyDir(dir string) (int, error) {
	events, err := ReadEvents(dir)
	if err != nil {
		return 0, err
	}

	chains := map[string][]*Event{}
	var keys []string
	for _, evt := range events {
		key := evt.ChainKey()
		if _, ok := chains[key]; !ok {
			keys = append(keys, key)
		}
		chains[key] = append(chains[key], evt)
	}
	for _, key := range keys {
		if err := VerifyChain(chains[key]); err != nil {
			return 0, fmt.Errorf("chain %s: %w", key, err)
		}
	}
	return len(events), nil
}

// Package watermark persists the processing history and derives the
// "last successfully processed date" cursor from it.
package watermark

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/withObsrvr/obsrvr-sol-pipeline/internal/errkind"
)

// DateLayout is the storage and wire format for processing dates.
const DateLayout = "2006-01-02"

var (
	// ErrAlreadyRecorded is returned when a history row already exists for
	// the processing date.
	ErrAlreadyRecorded = errors.New("processing date already recorded")

	// ErrInvalidRecord is returned for records that fail validation before
	// reaching storage.
	ErrInvalidRecord = errors.New("invalid history record")
)

// Record is one completed run. Records are append-only.
type Record struct {
	ProcessingDate   time.Time `json:"processing_date"`
	FilesProcessed   int       `json:"files_processed"`
	RecordsProcessed int       `json:"records_processed"`
	Summary          string    `json:"summary"`
	RecordedAt       time.Time `json:"recorded_at"`
}

// Validate checks the record invariants.
func (r Record) Validate() error {
	if r.ProcessingDate.IsZero() {
		return fmt.Errorf("%w: processing date is required", ErrInvalidRecord)
	}
	if r.FilesProcessed < 0 {
		return fmt.Errorf("%w: files_processed must be >= 0, got %d", ErrInvalidRecord, r.FilesProcessed)
	}
	if r.RecordsProcessed < 0 {
		return fmt.Errorf("%w: records_processed must be >= 0, got %d", ErrInvalidRecord, r.RecordsProcessed)
	}
	return nil
}

// Store is the durable watermark.
type Store interface {
	// LastProcessedDate returns max(processing_date) over all records.
	// ok is false when no run has been recorded yet.
	LastProcessedDate(ctx context.Context) (date time.Time, ok bool, err error)

	// AppendHistory durably appends one record, or fails without leaving a
	// partial row.
	AppendHistory(ctx context.Context, rec Record) error

	// History returns up to limit records, newest processing date first.
	// A limit <= 0 returns everything.
	History(ctx context.Context, limit int) ([]Record, error)

	Close() error
}

// StorageError wraps any failure of the backing store.
type StorageError struct {
	Op      string
	Backend string
	Err     error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("watermark %s (%s): %v", e.Op, e.Backend, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

func (e *StorageError) Kind() errkind.Kind {
	if errors.Is(e.Err, ErrInvalidRecord) {
		return errkind.Validation
	}
	return errkind.Resource
}

// Config selects and configures the backend.
type Config struct {
	Backend string `yaml:"backend"` // "sqlite" | "postgres" | "file"
	Path    string `yaml:"path"`    // sqlite database file or JSON history file
	DSN     string `yaml:"dsn"`     // postgres connection string
}

// NewStore opens the configured backend.
func NewStore(ctx context.Context, cfg Config) (Store, error) {
	switch cfg.Backend {
	case "", "sqlite":
		if cfg.Path == "" {
			return nil, fmt.Errorf("watermark path required for sqlite backend")
		}
		return OpenSQLite(ctx, cfg.Path)
	case "postgres":
		if cfg.DSN == "" {
			return nil, fmt.Errorf("watermark DSN required for postgres backend")
		}
		return OpenPostgres(ctx, cfg.DSN)
	case "file":
		if cfg.Path == "" {
			return nil, fmt.Errorf("watermark path required for file backend")
		}
		return OpenFile(cfg.Path)
	default:
		return nil, fmt.Errorf("unknown watermark backend: %s", cfg.Backend)
	}
}

func truncateDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

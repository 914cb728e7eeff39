package watermark

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"
)

// historyDocument is the on-disk layout of the file backend.
type historyDocument struct {
	Version int          `json:"version"`
	Runs    []fileRecord `json:"runs"`
}

type fileRecord struct {
	ProcessingDate   string    `json:"processing_date"`
	FilesProcessed   int       `json:"files_processed"`
	RecordsProcessed int       `json:"records_processed"`
	Summary          string    `json:"summary"`
	RecordedAt       time.Time `json:"recorded_at"`
}

// FileStore persists the history as a single JSON document. Every append
// rewrites the document through a temp file and rename, so a crash leaves
// either the old or the new document.
type FileStore struct {
	mu   sync.Mutex
	path string
}

// OpenFile returns a file-backed store at path, creating its directory.
func OpenFile(path string) (*FileStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, &StorageError{Op: "open", Backend: "file", Err: fmt.Errorf("create directory: %w", err)}
	}
	return &FileStore{path: path}, nil
}

func (s *FileStore) load() (*historyDocument, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return &historyDocument{Version: 1}, nil
		}
		return nil, fmt.Errorf("read history file: %w", err)
	}

	var doc historyDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse history file: %w", err)
	}
	return &doc, nil
}

func (s *FileStore) save(doc *historyDocument) error {
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal history: %w", err)
	}

	tempPath := s.path + ".tmp"
	if err := os.WriteFile(tempPath, data, 0644); err != nil {
		return fmt.Errorf("write history temp file: %w", err)
	}

	if err := os.Rename(tempPath, s.path); err != nil {
		os.Remove(tempPath)
		return fmt.Errorf("rename history file: %w", err)
	}
	return nil
}

// LastProcessedDate implements Store.
func (s *FileStore) LastProcessedDate(ctx context.Context) (time.Time, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, err := s.load()
	if err != nil {
		return time.Time{}, false, &StorageError{Op: "read watermark", Backend: "file", Err: err}
	}

	var max string
	for _, r := range doc.Runs {
		if r.ProcessingDate > max {
			max = r.ProcessingDate
		}
	}
	if max == "" {
		return time.Time{}, false, nil
	}

	date, err := time.Parse(DateLayout, max)
	if err != nil {
		return time.Time{}, false, &StorageError{Op: "read watermark", Backend: "file", Err: err}
	}
	return date, true, nil
}

// AppendHistory implements Store.
func (s *FileStore) AppendHistory(ctx context.Context, rec Record) error {
	if err := rec.Validate(); err != nil {
		return &StorageError{Op: "append", Backend: "file", Err: err}
	}
	if rec.RecordedAt.IsZero() {
		rec.RecordedAt = time.Now().UTC()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	doc, err := s.load()
	if err != nil {
		return &StorageError{Op: "append", Backend: "file", Err: err}
	}

	date := truncateDay(rec.ProcessingDate).Format(DateLayout)
	for _, r := range doc.Runs {
		if r.ProcessingDate == date {
			return &StorageError{Op: "append", Backend: "file", Err: fmt.Errorf("%w: %s", ErrAlreadyRecorded, date)}
		}
	}

	doc.Runs = append(doc.Runs, fileRecord{
		ProcessingDate:   date,
		FilesProcessed:   rec.FilesProcessed,
		RecordsProcessed: rec.RecordsProcessed,
		Summary:          rec.Summary,
		RecordedAt:       rec.RecordedAt.UTC(),
	})

	if err := s.save(doc); err != nil {
		return &StorageError{Op: "append", Backend: "file", Err: err}
	}
	return nil
}

// History implements Store.
func (s *FileStore) History(ctx context.Context, limit int) ([]Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, err := s.load()
	if err != nil {
		return nil, &StorageError{Op: "history", Backend: "file", Err: err}
	}

	out := make([]Record, 0, len(doc.Runs))
	for _, r := range doc.Runs {
		date, err := time.Parse(DateLayout, r.ProcessingDate)
		if err != nil {
			return nil, &StorageError{Op: "history", Backend: "file", Err: err}
		}
		out = append(out, Record{
			ProcessingDate:   date,
			FilesProcessed:   r.FilesProcessed,
			RecordsProcessed: r.RecordsProcessed,
			Summary:          r.Summary,
			RecordedAt:       r.RecordedAt,
		})
	}

	sort.Slice(out, func(i, j int) bool {
		return out[i].ProcessingDate.After(out[j].ProcessingDate)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// Close is a no-op for the file backend.
func (s *FileStore) Close() error {
	return nil
}

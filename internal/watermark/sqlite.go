package watermark

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS processing_history (
	processing_date   TEXT PRIMARY KEY,
	files_processed   INTEGER NOT NULL CHECK (files_processed >= 0),
	records_processed INTEGER NOT NULL CHECK (records_processed >= 0),
	summary           TEXT NOT NULL DEFAULT '',
	recorded_at       TEXT NOT NULL
);
`

// SQLiteStore keeps the history table in a local SQLite database.
type SQLiteStore struct {
	db   *sql.DB
	path string
}

// OpenSQLite opens (creating if needed) the history database at path.
func OpenSQLite(ctx context.Context, path string) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, &StorageError{Op: "open", Backend: "sqlite", Err: fmt.Errorf("create directory: %w", err)}
	}

	db, err := sql.Open("sqlite", path+"?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)")
	if err != nil {
		return nil, &StorageError{Op: "open", Backend: "sqlite", Err: err}
	}
	// Single writer; a second connection only adds lock contention.
	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(ctx, sqliteSchema); err != nil {
		db.Close()
		return nil, &StorageError{Op: "init schema", Backend: "sqlite", Err: err}
	}

	return &SQLiteStore{db: db, path: path}, nil
}

// LastProcessedDate implements Store.
func (s *SQLiteStore) LastProcessedDate(ctx context.Context) (time.Time, bool, error) {
	var last sql.NullString
	if err := s.db.QueryRowContext(ctx, `SELECT MAX(processing_date) FROM processing_history`).Scan(&last); err != nil {
		return time.Time{}, false, &StorageError{Op: "read watermark", Backend: "sqlite", Err: err}
	}
	if !last.Valid || last.String == "" {
		return time.Time{}, false, nil
	}

	date, err := time.Parse(DateLayout, last.String)
	if err != nil {
		return time.Time{}, false, &StorageError{Op: "read watermark", Backend: "sqlite",
			Err: fmt.Errorf("stored date %q: %w", last.String, err)}
	}
	return date, true, nil
}

// AppendHistory implements Store. The insert runs in a transaction so a
// failure leaves no row behind.
func (s *SQLiteStore) AppendHistory(ctx context.Context, rec Record) error {
	if err := rec.Validate(); err != nil {
		return &StorageError{Op: "append", Backend: "sqlite", Err: err}
	}
	if rec.RecordedAt.IsZero() {
		rec.RecordedAt = time.Now().UTC()
	}
	date := truncateDay(rec.ProcessingDate).Format(DateLayout)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return &StorageError{Op: "append", Backend: "sqlite", Err: err}
	}
	defer tx.Rollback()

	var exists bool
	if err := tx.QueryRowContext(ctx,
		`SELECT EXISTS(SELECT 1 FROM processing_history WHERE processing_date = ?)`, date,
	).Scan(&exists); err != nil {
		return &StorageError{Op: "append", Backend: "sqlite", Err: err}
	}
	if exists {
		return &StorageError{Op: "append", Backend: "sqlite", Err: fmt.Errorf("%w: %s", ErrAlreadyRecorded, date)}
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO processing_history (processing_date, files_processed, records_processed, summary, recorded_at)
		VALUES (?, ?, ?, ?, ?)`,
		date, rec.FilesProcessed, rec.RecordsProcessed, rec.Summary, rec.RecordedAt.UTC().Format(time.RFC3339),
	); err != nil {
		return &StorageError{Op: "append", Backend: "sqlite", Err: err}
	}

	if err := tx.Commit(); err != nil {
		return &StorageError{Op: "commit", Backend: "sqlite", Err: err}
	}
	return nil
}

// History implements Store.
func (s *SQLiteStore) History(ctx context.Context, limit int) ([]Record, error) {
	query := `SELECT processing_date, files_processed, records_processed, summary, recorded_at
		FROM processing_history ORDER BY processing_date DESC`
	args := []any{}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, &StorageError{Op: "history", Backend: "sqlite", Err: err}
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		var date, recordedAt string
		var rec Record
		if err := rows.Scan(&date, &rec.FilesProcessed, &rec.RecordsProcessed, &rec.Summary, &recordedAt); err != nil {
			return nil, &StorageError{Op: "history", Backend: "sqlite", Err: err}
		}
		if rec.ProcessingDate, err = time.Parse(DateLayout, date); err != nil {
			return nil, &StorageError{Op: "history", Backend: "sqlite", Err: err}
		}
		rec.RecordedAt, _ = time.Parse(time.RFC3339, recordedAt)
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, &StorageError{Op: "history", Backend: "sqlite", Err: err}
	}
	return out, nil
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

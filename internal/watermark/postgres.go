package watermark

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const postgresSchema = `
CREATE TABLE IF NOT EXISTS processing_history (
	processing_date   DATE PRIMARY KEY,
	files_processed   INTEGER NOT NULL CHECK (files_processed >= 0),
	records_processed INTEGER NOT NULL CHECK (records_processed >= 0),
	summary           TEXT NOT NULL DEFAULT '',
	recorded_at       TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
`

// PostgresStore keeps the history table in PostgreSQL.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// OpenPostgres connects to the database and ensures the history table.
func OpenPostgres(ctx context.Context, dsn string) (*PostgresStore, error) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	poolCfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, &StorageError{Op: "open", Backend: "postgres", Err: fmt.Errorf("parse DSN: %w", err)}
	}

	poolCfg.MaxConns = 2
	poolCfg.MinConns = 1
	poolCfg.MaxConnLifetime = 30 * time.Minute
	poolCfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, &StorageError{Op: "open", Backend: "postgres", Err: fmt.Errorf("create pool: %w", err)}
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, &StorageError{Op: "open", Backend: "postgres", Err: fmt.Errorf("ping database: %w", err)}
	}

	if _, err := pool.Exec(ctx, postgresSchema); err != nil {
		pool.Close()
		return nil, &StorageError{Op: "init schema", Backend: "postgres", Err: err}
	}

	slog.Info("connected to PostgreSQL watermark store", "component", "watermark")
	return &PostgresStore{pool: pool}, nil
}

// LastProcessedDate implements Store.
func (s *PostgresStore) LastProcessedDate(ctx context.Context) (time.Time, bool, error) {
	var last *time.Time
	if err := s.pool.QueryRow(ctx, `SELECT MAX(processing_date) FROM processing_history`).Scan(&last); err != nil {
		return time.Time{}, false, &StorageError{Op: "read watermark", Backend: "postgres", Err: err}
	}
	if last == nil {
		return time.Time{}, false, nil
	}
	return truncateDay(*last), true, nil
}

// AppendHistory implements Store.
func (s *PostgresStore) AppendHistory(ctx context.Context, rec Record) error {
	if err := rec.Validate(); err != nil {
		return &StorageError{Op: "append", Backend: "postgres", Err: err}
	}
	if rec.RecordedAt.IsZero() {
		rec.RecordedAt = time.Now().UTC()
	}
	date := truncateDay(rec.ProcessingDate)

	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.Serializable})
	if err != nil {
		return &StorageError{Op: "append", Backend: "postgres", Err: err}
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx, `
		INSERT INTO processing_history (processing_date, files_processed, records_processed, summary, recorded_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (processing_date) DO NOTHING`,
		date, rec.FilesProcessed, rec.RecordsProcessed, rec.Summary, rec.RecordedAt,
	)
	if err != nil {
		return &StorageError{Op: "append", Backend: "postgres", Err: err}
	}
	if tag.RowsAffected() == 0 {
		return &StorageError{Op: "append", Backend: "postgres",
			Err: fmt.Errorf("%w: %s", ErrAlreadyRecorded, date.Format(DateLayout))}
	}

	if err := tx.Commit(ctx); err != nil {
		return &StorageError{Op: "commit", Backend: "postgres", Err: err}
	}
	return nil
}

// History implements Store.
func (s *PostgresStore) History(ctx context.Context, limit int) ([]Record, error) {
	query := `SELECT processing_date, files_processed, records_processed, summary, recorded_at
		FROM processing_history ORDER BY processing_date DESC`
	var args []any
	if limit > 0 {
		query += ` LIMIT $1`
		args = append(args, limit)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, &StorageError{Op: "history", Backend: "postgres", Err: err}
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		var rec Record
		if err := rows.Scan(&rec.ProcessingDate, &rec.FilesProcessed, &rec.RecordsProcessed, &rec.Summary, &rec.RecordedAt); err != nil {
			return nil, &StorageError{Op: "history", Backend: "postgres", Err: err}
		}
		rec.ProcessingDate = truncateDay(rec.ProcessingDate)
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil && !errors.Is(err, pgx.ErrNoRows) {
		return nil, &StorageError{Op: "history", Backend: "postgres", Err: err}
	}
	return out, nil
}

// Close releases the pool.
func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

/*
Package store executes set-based persistence against the destination
Postgres database. Writes retry indefinitely with a fixed delay: the sync
job runs unattended and a slow run beats partially persisted state.
*/
package store

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
)

// DB is the subset of pgxpool.Pool the persistence layer works through.
// The contributor resolver shares it for single-row lookups. Tests
// substitute a fake.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Store provides bulk insert/update and projection queries for the sync pipeline.
type Store struct {
	db         DB
	logger     zerolog.Logger
	retryDelay time.Duration
}

// New creates a store backed by a pgx connection pool.
func New(pool *pgxpool.Pool, logger zerolog.Logger) *Store {
	return &Store{db: pool, logger: logger, retryDelay: 5 * time.Second}
}

// NewWithDB creates a store over any DB implementation.
func NewWithDB(db DB, logger zerolog.Logger) *Store {
	return &Store{db: db, logger: logger, retryDelay: 5 * time.Second}
}

// BulkInsert inserts all rows into table in one set-based statement and
// returns the generated values of idColumn, in insertion order, so callers
// can enrich dependent records with the new parent ids. With uniqueColumns
// set the insert is idempotent: rows whose natural key already exists are
// skipped by the database rather than duplicated, which makes a restarted
// run safe.
//
// Transient write failures are retried until the write succeeds or the
// context is cancelled.
func (s *Store) BulkInsert(ctx context.Context, table, idColumn string, rows []map[string]any, uniqueColumns []string) ([]int64, error) {
	if len(rows) == 0 {
		return nil, nil
	}

	columns := rowColumns(rows[0])
	sql := buildInsert(table, columns, len(rows), uniqueColumns, idColumn)
	args := make([]any, 0, len(rows)*len(columns))
	for _, row := range rows {
		args = append(args, rowArgs(row, columns)...)
	}

	var ids []int64
	err := s.retryWrite(ctx, "insert", table, func() error {
		ids = ids[:0]
		queryRows, err := s.db.Query(ctx, sql, args...)
		if err != nil {
			return err
		}
		defer queryRows.Close()
		for queryRows.Next() {
			var id int64
			if err := queryRows.Scan(&id); err != nil {
				return err
			}
			ids = append(ids, id)
		}
		return queryRows.Err()
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info().Str("table", table).Int("rows", len(rows)).Int("inserted", len(ids)).
		Msg("Bulk insert completed")
	return ids, nil
}

// BulkUpdate overwrites the designated update columns of every row matched
// by its unique-column values. Rows must carry values for both column sets.
// Retries like BulkInsert.
func (s *Store) BulkUpdate(ctx context.Context, table string, rows []map[string]any, uniqueColumns, updateColumns []string) error {
	if len(rows) == 0 {
		return nil
	}

	sql := buildUpdate(table, updateColumns, uniqueColumns)

	err := s.retryWrite(ctx, "update", table, func() error {
		for _, row := range rows {
			args := make([]any, 0, len(updateColumns)+len(uniqueColumns))
			for _, col := range updateColumns {
				args = append(args, row[col])
			}
			for _, col := range uniqueColumns {
				args = append(args, row[col])
			}
			if _, err := s.db.Exec(ctx, sql, args...); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	s.logger.Info().Str("table", table).Int("rows", len(rows)).Msg("Bulk update completed")
	return nil
}

// retryWrite runs op until it succeeds, waiting a fixed delay between
// attempts. Only context cancellation breaks the loop with an error.
func (s *Store) retryWrite(ctx context.Context, op, table string, fn func() error) error {
	for attempt := 1; ; attempt++ {
		err := fn()
		if err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}

		s.logger.Warn().Str("op", op).Str("table", table).Int("attempt", attempt).Err(err).
			Msg("Write failed, retrying after delay")

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(s.retryDelay):
		}
	}
}

// TableValues returns a projection of selected columns, one map per row,
// used as the deduplication snapshot for the classifier. The optional where
// clause is appended verbatim with positional args.
func (s *Store) TableValues(ctx context.Context, table string, columns []string, where string, args ...any) ([]map[string]any, error) {
	sql := buildSelect(table, columns, where)

	queryRows, err := s.db.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("query %s: %w", table, err)
	}
	defer queryRows.Close()

	var out []map[string]any
	for queryRows.Next() {
		values, err := queryRows.Values()
		if err != nil {
			return nil, fmt.Errorf("read %s row: %w", table, err)
		}
		row := make(map[string]any, len(columns))
		for i, col := range columns {
			row[col] = values[i]
		}
		out = append(out, row)
	}
	return out, queryRows.Err()
}

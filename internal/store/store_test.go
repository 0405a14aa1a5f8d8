package store

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

type execCall struct {
	sql  string
	args []any
}

type fakeDB struct {
	execCalls  []execCall
	queryCalls []execCall

	execErrs  []error // consumed per Exec call, nil means success
	queryErrs []error

	queryResult [][]any
}

func (f *fakeDB) Exec(_ context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	f.execCalls = append(f.execCalls, execCall{sql: sql, args: args})
	if len(f.execErrs) > 0 {
		err := f.execErrs[0]
		f.execErrs = f.execErrs[1:]
		if err != nil {
			return pgconn.CommandTag{}, err
		}
	}
	return pgconn.CommandTag{}, nil
}

func (f *fakeDB) Query(_ context.Context, sql string, args ...any) (pgx.Rows, error) {
	f.queryCalls = append(f.queryCalls, execCall{sql: sql, args: args})
	if len(f.queryErrs) > 0 {
		err := f.queryErrs[0]
		f.queryErrs = f.queryErrs[1:]
		if err != nil {
			return nil, err
		}
	}
	return &fakeRows{rows: f.queryResult}, nil
}

func (f *fakeDB) QueryRow(_ context.Context, sql string, args ...any) pgx.Row {
	f.queryCalls = append(f.queryCalls, execCall{sql: sql, args: args})
	return fakeRow{}
}

// fakeRow satisfies pgx.Row for the unused single-row path.
type fakeRow struct{}

func (fakeRow) Scan(...any) error { return nil }

type fakeRows struct {
	rows [][]any
	idx  int
}

func (r *fakeRows) Close()                                       {}
func (r *fakeRows) Err() error                                   { return nil }
func (r *fakeRows) CommandTag() pgconn.CommandTag                { return pgconn.CommandTag{} }
func (r *fakeRows) FieldDescriptions() []pgconn.FieldDescription { return nil }
func (r *fakeRows) RawValues() [][]byte                          { return nil }
func (r *fakeRows) Conn() *pgx.Conn                              { return nil }

func (r *fakeRows) Next() bool {
	if r.idx >= len(r.rows) {
		return false
	}
	r.idx++
	return true
}

func (r *fakeRows) Scan(dest ...any) error {
	row := r.rows[r.idx-1]
	for i, d := range dest {
		switch out := d.(type) {
		case *int64:
			v, ok := row[i].(int64)
			if !ok {
				return fmt.Errorf("cannot scan %T into *int64", row[i])
			}
			*out = v
		case *any:
			*out = row[i]
		default:
			return fmt.Errorf("unsupported scan target %T", d)
		}
	}
	return nil
}

func (r *fakeRows) Values() ([]any, error) {
	return r.rows[r.idx-1], nil
}

func newTestStore(db *fakeDB) *Store {
	s := NewWithDB(db, zerolog.Nop())
	s.retryDelay = time.Millisecond
	return s
}

func TestBuildInsert(t *testing.T) {
	t.Parallel()

	sql := buildInsert("pull_requests", []string{"pr_src_id", "pr_url"}, 2, []string{"pr_src_id"}, "pull_request_id")
	require.Equal(t,
		"INSERT INTO pull_requests (pr_src_id, pr_url) VALUES ($1, $2), ($3, $4) "+
			"ON CONFLICT (pr_src_id) DO NOTHING RETURNING pull_request_id",
		sql)
}

func TestBuildInsertWithoutConflictClause(t *testing.T) {
	t.Parallel()

	sql := buildInsert("pull_request_labels", []string{"pr_src_id"}, 1, nil, "")
	require.Equal(t, "INSERT INTO pull_request_labels (pr_src_id) VALUES ($1)", sql)
}

func TestBuildUpdate(t *testing.T) {
	t.Parallel()

	sql := buildUpdate("pull_requests", []string{"pr_src_state", "pr_closed_at"}, []string{"pr_src_id"})
	require.Equal(t,
		"UPDATE pull_requests SET pr_src_state = $1, pr_closed_at = $2 WHERE pr_src_id = $3",
		sql)
}

func TestBuildSelect(t *testing.T) {
	t.Parallel()

	sql := buildSelect("pull_requests", []string{"pr_src_id", "pr_src_state"}, "repo_id = $1")
	require.Equal(t, "SELECT pr_src_id, pr_src_state FROM pull_requests WHERE repo_id = $1", sql)
}

func TestBulkInsertReturnsGeneratedIDs(t *testing.T) {
	t.Parallel()

	db := &fakeDB{queryResult: [][]any{{int64(11)}, {int64(12)}}}
	s := newTestStore(db)

	rows := []map[string]any{
		{"pr_src_id": int64(1), "pr_url": "u1"},
		{"pr_src_id": int64(2), "pr_url": "u2"},
	}

	ids, err := s.BulkInsert(context.Background(), "pull_requests", "pull_request_id", rows, []string{"pr_src_id"})
	require.NoError(t, err)
	require.Equal(t, []int64{11, 12}, ids)

	require.Len(t, db.queryCalls, 1)
	// Column order is sorted, so args follow pr_src_id, pr_url per row.
	require.Equal(t, []any{int64(1), "u1", int64(2), "u2"}, db.queryCalls[0].args)
}

func TestBulkInsertEmptyBatchIsNoop(t *testing.T) {
	t.Parallel()

	db := &fakeDB{}
	s := newTestStore(db)

	ids, err := s.BulkInsert(context.Background(), "pull_requests", "pull_request_id", nil, nil)
	require.NoError(t, err)
	require.Empty(t, ids)
	require.Empty(t, db.queryCalls)
}

func TestBulkInsertRetriesTransientFailures(t *testing.T) {
	t.Parallel()

	db := &fakeDB{
		queryErrs:   []error{errors.New("connection reset"), errors.New("connection reset"), nil},
		queryResult: [][]any{{int64(5)}},
	}
	s := newTestStore(db)

	ids, err := s.BulkInsert(context.Background(), "message", "msg_id",
		[]map[string]any{{"platform_msg_id": int64(9)}}, []string{"platform_msg_id"})

	require.NoError(t, err)
	require.Equal(t, []int64{5}, ids)
	require.Len(t, db.queryCalls, 3, "the write loop keeps retrying until the store accepts it")
}

func TestBulkInsertStopsOnContextCancel(t *testing.T) {
	t.Parallel()

	db := &fakeDB{queryErrs: []error{errors.New("down"), errors.New("down"), errors.New("down"), errors.New("down")}}
	s := newTestStore(db)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	_, err := s.BulkInsert(ctx, "message", "msg_id",
		[]map[string]any{{"platform_msg_id": int64(9)}}, nil)

	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestBulkUpdateArgOrdering(t *testing.T) {
	t.Parallel()

	db := &fakeDB{}
	s := newTestStore(db)

	rows := []map[string]any{
		{"pr_src_id": int64(1), "pr_src_state": "closed", "pr_closed_at": "2024-01-02"},
	}

	err := s.BulkUpdate(context.Background(), "pull_requests", rows,
		[]string{"pr_src_id"}, []string{"pr_src_state", "pr_closed_at"})
	require.NoError(t, err)

	require.Len(t, db.execCalls, 1)
	require.Equal(t,
		"UPDATE pull_requests SET pr_src_state = $1, pr_closed_at = $2 WHERE pr_src_id = $3",
		db.execCalls[0].sql)
	require.Equal(t, []any{"closed", "2024-01-02", int64(1)}, db.execCalls[0].args)
}

func TestTableValuesProjectsRows(t *testing.T) {
	t.Parallel()

	db := &fakeDB{queryResult: [][]any{
		{int64(1), "open"},
		{int64(2), "closed"},
	}}
	s := newTestStore(db)

	rows, err := s.TableValues(context.Background(), "pull_requests",
		[]string{"pr_src_id", "pr_src_state"}, "repo_id = $1", int64(42))
	require.NoError(t, err)

	require.Len(t, rows, 2)
	require.Equal(t, int64(1), rows[0]["pr_src_id"])
	require.Equal(t, "closed", rows[1]["pr_src_state"])
	require.Equal(t, []any{int64(42)}, db.queryCalls[0].args)
}

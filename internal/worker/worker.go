/*
Package worker drives one repository's pull-request synchronization: the
top-level pull request pipeline followed by the dependent sub-model
pipelines (comments, events, reviews and review comments, nested structural
data, commits, changed files), each independently paginated, classified and
persisted.

A sub-model failure is logged and never blocks its siblings; the only fatal
conditions are bad credentials and context cancellation.
*/
package worker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/prsync/internal/github"
	"github.com/prsync/internal/ingest"
)

const (
	toolSource  = "GitHub Pull Request Worker"
	toolVersion = "1.0.0"
	dataSource  = "GitHub API"

	// GitHub's platform identifier in the destination schema.
	platformID = 25150
)

// Persister is the destination-store contract the pipelines write through.
// Satisfied by *store.Store.
type Persister interface {
	BulkInsert(ctx context.Context, table, idColumn string, rows []map[string]any, uniqueColumns []string) ([]int64, error)
	BulkUpdate(ctx context.Context, table string, rows []map[string]any, uniqueColumns, updateColumns []string) error
	TableValues(ctx context.Context, table string, columns []string, where string, args ...any) ([]map[string]any, error)
}

// Fetcher is the paged-fetcher contract. Satisfied by *github.Client.
type Fetcher interface {
	PaginateEndpoint(ctx context.Context, urlTemplate string, acc *ingest.Accumulator) error
	FetchAll(ctx context.Context, urlTemplate string) ([]ingest.Record, error)
	GraphQLPaginate(ctx context.Context, query string, subject github.Subject) ([]ingest.Record, error)
	MultiFetch(ctx context.Context, urls []github.TaggedURL, workers int) []ingest.Record
	APIBase() string
}

// Config tunes one worker's pagination and concurrency behavior.
type Config struct {
	PerPage      int // records requested per REST page
	StaggerEvery int // incremental insertion interval during pagination
	FetchWorkers int // bounded pool size for per-record detail fetches
}

// DefaultConfig returns the worker defaults.
func DefaultConfig() Config {
	return Config{PerPage: 100, StaggerEvery: 500, FetchWorkers: 4}
}

// Task identifies one repository to synchronize.
type Task struct {
	RepoID int64
	Owner  string
	Repo   string
}

// PullRequestWorker synchronizes pull-request data for one repository per
// Sync invocation.
type PullRequestWorker struct {
	fetcher  Fetcher
	db       Persister
	resolver ingest.ContributorResolver
	cfg      Config
	prov     ingest.Provenance
	logger   zerolog.Logger
}

// New creates a pull-request worker.
func New(fetcher Fetcher, db Persister, resolver ingest.ContributorResolver, cfg Config, logger zerolog.Logger) *PullRequestWorker {
	if cfg.PerPage <= 0 {
		cfg.PerPage = 100
	}
	if cfg.FetchWorkers <= 0 {
		cfg.FetchWorkers = 4
	}
	return &PullRequestWorker{
		fetcher:  fetcher,
		db:       db,
		resolver: resolver,
		cfg:      cfg,
		prov:     ingest.Provenance{ToolSource: toolSource, ToolVersion: toolVersion, DataSource: dataSource},
		logger:   logger,
	}
}

// run carries one synchronization pass. Accumulated state (the enriched
// top-level records) lives here, not on the worker, so concurrent syncs of
// different repositories stay independent.
type run struct {
	w      *PullRequestWorker
	task   Task
	logger zerolog.Logger

	// pkSource holds every surviving top-level record with its internal
	// pull_request_id attached; sub-models join against it.
	pkSource []ingest.Record
}

type stage struct {
	name string
	fn   func(context.Context) error
}

// Sync runs the full pipeline for one repository. The returned error is
// non-nil only for fatal conditions (credentials, cancellation); sub-model
// failures degrade to logged partial results.
func (w *PullRequestWorker) Sync(ctx context.Context, task Task) error {
	logger := w.logger.With().
		Str("owner", task.Owner).Str("repo", task.Repo).Int64("repo_id", task.RepoID).
		Logger()

	logger.Info().Msg("Beginning collection of pull requests")

	r := &run{w: w, task: task, logger: logger}

	if err := r.syncPullRequests(ctx); err != nil {
		if errors.Is(err, github.ErrBadCredentials) || ctx.Err() != nil {
			return err
		}
		logger.Warn().Err(err).Msg("Pull request model failed")
	}

	if len(r.pkSource) > 0 {
		// Each dependent pipeline runs regardless of its predecessors'
		// failures; there is no rollback of completed stages.
		stages := []stage{
			{"pull_request_comments", r.syncComments},
			{"pull_request_events", r.syncEvents},
			{"pull_request_reviews", r.syncReviews},
			{"pull_request_nested_data", r.syncNestedData},
			{"pull_request_commits", r.syncCommits},
			{"pull_request_files", r.syncFiles},
		}
		runStages(ctx, logger, stages, func(name string) {
			r.recordTaskCompletion(ctx, name)
		})
	} else {
		logger.Info().Msg("There are no pull requests for this repository")
	}

	r.recordTaskCompletion(ctx, "pull_requests")
	logger.Info().Int("pull_requests", len(r.pkSource)).Msg("Synchronization finished")
	return nil
}

// runStages executes each stage inside its own failure boundary. A failed
// stage is logged with full context and its completion is not recorded, but
// every sibling still runs.
func runStages(ctx context.Context, logger zerolog.Logger, stages []stage, complete func(name string)) {
	for _, st := range stages {
		if ctx.Err() != nil {
			logger.Warn().Str("model", st.name).Msg("Cancelled before stage")
			return
		}
		if err := st.fn(ctx); err != nil {
			logger.Warn().Str("model", st.name).Err(err).Msg("Sub-model failed, continuing with siblings")
			continue
		}
		complete(st.name)
	}
}

// recordTaskCompletion reports one finished sub-model to the worker history
// table so the surrounding scheduler can mark the work done.
func (r *run) recordTaskCompletion(ctx context.Context, model string) {
	row := map[string]any{
		"repo_id":     r.task.RepoID,
		"worker":      toolSource,
		"model":       model,
		"status":      "Success",
		"recorded_at": time.Now().UTC(),
	}
	if _, err := r.w.db.BulkInsert(ctx, "worker_history", "", []map[string]any{row}, nil); err != nil {
		r.logger.Warn().Str("model", model).Err(err).Msg("Failed to record task completion")
	}
}

func (r *run) restURL(format string, args ...any) string {
	return r.w.fetcher.APIBase() + fmt.Sprintf(format, args...)
}

// asRows converts records to the plain map form the join helpers expect on
// their parent side.
func asRows(records []ingest.Record) []map[string]any {
	rows := make([]map[string]any, len(records))
	for i, rec := range records {
		rows[i] = map[string]any(rec)
	}
	return rows
}

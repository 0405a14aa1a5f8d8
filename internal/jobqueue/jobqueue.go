/*
Package jobqueue provides a River-based job queue for repository
synchronization runs.

For configuration options, retry policies, and tuning parameters, see
queue_config.go.
*/
package jobqueue

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/riverqueue/river"
	"github.com/riverqueue/river/riverdriver/riverpgxv5"
	"github.com/rs/zerolog"

	"github.com/prsync/internal/worker"
)

// SyncJobArgs identifies one repository synchronization job.
type SyncJobArgs struct {
	RepoID int64  `json:"repo_id"`
	Owner  string `json:"owner"`
	Repo   string `json:"repo"`
}

// Kind returns the job kind for River.
func (SyncJobArgs) Kind() string {
	return "pr_sync"
}

// SyncWorker runs queued synchronization jobs.
type SyncWorker struct {
	river.WorkerDefaults[SyncJobArgs]
	prWorker *worker.PullRequestWorker
	logger   zerolog.Logger
}

// Work executes one synchronization run. A returned error hands the job back
// to River for its retry schedule.
func (w *SyncWorker) Work(ctx context.Context, job *river.Job[SyncJobArgs]) error {
	w.logger.Info().Int64("job_id", job.ID).Int64("repo_id", job.Args.RepoID).
		Str("owner", job.Args.Owner).Str("repo", job.Args.Repo).
		Msg("Starting queued synchronization job")

	return w.prWorker.Sync(ctx, worker.Task{
		RepoID: job.Args.RepoID,
		Owner:  job.Args.Owner,
		Repo:   job.Args.Repo,
	})
}

// JobQueue manages the River job queue.
type JobQueue struct {
	client *river.Client[pgx.Tx]
	config *QueueConfig
}

// NewJobQueue creates a job queue over an existing connection pool, with
// jobs executed by the given worker.
func NewJobQueue(pool *pgxpool.Pool, prWorker *worker.PullRequestWorker, logger zerolog.Logger) (*JobQueue, error) {
	config := DefaultQueueConfig()

	workers := river.NewWorkers()
	river.AddWorker(workers, &SyncWorker{prWorker: prWorker, logger: logger})

	client, err := river.NewClient(riverpgxv5.New(pool), &river.Config{
		Queues:  config.RiverQueueConfig(),
		Workers: workers,
	})
	if err != nil {
		return nil, fmt.Errorf("create river client: %w", err)
	}

	return &JobQueue{client: client, config: config}, nil
}

// Start starts the job queue workers.
func (jq *JobQueue) Start(ctx context.Context) error {
	return jq.client.Start(ctx)
}

// Stop stops the job queue workers.
func (jq *JobQueue) Stop(ctx context.Context) error {
	return jq.client.Stop(ctx)
}

// QueueSyncJob queues a synchronization job for one repository.
func (jq *JobQueue) QueueSyncJob(ctx context.Context, repoID int64, owner, repo string) error {
	args := SyncJobArgs{RepoID: repoID, Owner: owner, Repo: repo}

	_, err := jq.client.Insert(ctx, args, &river.InsertOpts{MaxAttempts: jq.config.MaxAttempts})
	if err != nil {
		return fmt.Errorf("queue sync job: %w", err)
	}
	return nil
}

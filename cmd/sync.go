package cmd

import (
	"fmt"

	"github.com/urfave/cli/v2"

	"github.com/prsync/internal/jobqueue"
	"github.com/prsync/internal/worker"
)

// SyncCommand returns the sync command
func SyncCommand() *cli.Command {
	return &cli.Command{
		Name:  "sync",
		Usage: "Synchronize pull request data for a repository",
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:    "verbose",
				Aliases: []string{"v"},
				Usage:   "Enable verbose output for this command",
			},
		},
		ArgsUsage: "OWNER/REPO",
		Action:    runSync,
	}
}

func runSync(c *cli.Context) error {
	owner, repo, err := splitRepoArg(c)
	if err != nil {
		return err
	}

	a, err := newApp(c)
	if err != nil {
		return err
	}
	defer a.close()

	repoID, err := a.ensureRepo(c.Context, owner, repo)
	if err != nil {
		return err
	}

	if err := a.worker.Sync(c.Context, worker.Task{RepoID: repoID, Owner: owner, Repo: repo}); err != nil {
		return fmt.Errorf("synchronization failed: %w", err)
	}
	return nil
}

// EnqueueCommand returns the enqueue command
func EnqueueCommand() *cli.Command {
	return &cli.Command{
		Name:      "enqueue",
		Usage:     "Queue a synchronization job for background processing",
		ArgsUsage: "OWNER/REPO",
		Action:    runEnqueue,
	}
}

func runEnqueue(c *cli.Context) error {
	owner, repo, err := splitRepoArg(c)
	if err != nil {
		return err
	}

	a, err := newApp(c)
	if err != nil {
		return err
	}
	defer a.close()

	repoID, err := a.ensureRepo(c.Context, owner, repo)
	if err != nil {
		return err
	}

	queue, err := jobqueue.NewJobQueue(a.pool, a.worker, a.logger)
	if err != nil {
		return err
	}

	if err := queue.QueueSyncJob(c.Context, repoID, owner, repo); err != nil {
		return err
	}

	fmt.Printf("Queued synchronization of %s/%s (repo_id %d)\n", owner, repo, repoID)
	return nil
}

package cmd

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
	"github.com/urfave/cli/v2"

	"github.com/prsync/internal/config"
	"github.com/prsync/internal/contributors"
	"github.com/prsync/internal/github"
	"github.com/prsync/internal/ingest"
	"github.com/prsync/internal/store"
	"github.com/prsync/internal/worker"
)

// app bundles the wired components shared by the CLI commands.
type app struct {
	cfg    *config.Config
	pool   *pgxpool.Pool
	store  *store.Store
	worker *worker.PullRequestWorker
	logger zerolog.Logger
}

func newLogger(verbose bool) zerolog.Logger {
	level := zerolog.InfoLevel
	if verbose {
		level = zerolog.DebugLevel
	}
	writer := zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}
	return zerolog.New(writer).Level(level).With().Timestamp().Logger()
}

// newApp loads configuration and wires the fetch, identity, and persistence
// layers onto one connection pool.
func newApp(c *cli.Context) (*app, error) {
	logger := newLogger(c.Bool("verbose"))

	cfg, err := config.LoadConfig(c.String("config"))
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if err := config.Validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	pool, err := pgxpool.New(c.Context, cfg.Database.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	st := store.New(pool, logger)
	prov := ingest.Provenance{
		ToolSource:  "GitHub Pull Request Worker",
		ToolVersion: "1.0.0",
		DataSource:  "GitHub API",
	}
	resolver := contributors.NewResolver(pool, prov, logger)

	client := github.NewClient(cfg.GitHub.APIBase, cfg.GitHub.GraphQLURL, cfg.GitHub.Token,
		cfg.Sync.RequestsPerSec, logger)

	w := worker.New(client, st, resolver, worker.Config{
		PerPage:      cfg.Sync.PerPage,
		StaggerEvery: cfg.Sync.StaggerEvery,
		FetchWorkers: cfg.Sync.FetchWorkers,
	}, logger)

	return &app{cfg: cfg, pool: pool, store: st, worker: w, logger: logger}, nil
}

func (a *app) close() {
	a.pool.Close()
}

// ensureRepo returns the internal id of the repository, registering it on
// first sight.
func (a *app) ensureRepo(ctx context.Context, owner, repo string) (int64, error) {
	repoGit := fmt.Sprintf("https://github.com/%s/%s", owner, repo)

	rows, err := a.store.TableValues(ctx, "repo", []string{"repo_id"}, "repo_git = $1", repoGit)
	if err != nil {
		return 0, fmt.Errorf("look up repository: %w", err)
	}
	if len(rows) > 0 {
		if id, ok := rows[0]["repo_id"].(int64); ok {
			return id, nil
		}
	}

	ids, err := a.store.BulkInsert(ctx, "repo", "repo_id", []map[string]any{{
		"repo_git":   repoGit,
		"repo_name":  repo,
		"repo_group": owner,
		"added_at":   time.Now().UTC(),
	}}, []string{"repo_git"})
	if err != nil {
		return 0, fmt.Errorf("register repository: %w", err)
	}
	if len(ids) == 0 {
		return 0, fmt.Errorf("repository %s was not registered", repoGit)
	}

	a.logger.Info().Str("repo_git", repoGit).Int64("repo_id", ids[0]).Msg("Registered repository")
	return ids[0], nil
}

// splitRepoArg parses an "owner/repo" argument.
func splitRepoArg(c *cli.Context) (string, string, error) {
	arg := c.Args().First()
	if arg == "" {
		return "", "", fmt.Errorf("missing OWNER/REPO argument")
	}
	for i := 0; i < len(arg); i++ {
		if arg[i] == '/' {
			owner, repo := arg[:i], arg[i+1:]
			if owner == "" || repo == "" {
				break
			}
			return owner, repo, nil
		}
	}
	return "", "", fmt.Errorf("invalid repository %q, expected OWNER/REPO", arg)
}

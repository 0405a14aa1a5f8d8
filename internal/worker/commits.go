package worker

import (
	"context"
	"fmt"

	"github.com/prsync/internal/github"
	"github.com/prsync/internal/ingest"
)

// syncCommits collects the commit list of every pull request through a
// bounded fetch pool and persists the (pull request, sha) pairs.
func (r *run) syncCommits(ctx context.Context) error {
	urls := make([]github.TaggedURL, 0, len(r.pkSource))
	for _, pr := range r.pkSource {
		prURL, ok := pr.Str("url")
		if !ok {
			continue
		}
		urls = append(urls, github.TaggedURL{
			URL: fmt.Sprintf("%s/commits?per_page=%d&page=%s", prURL, r.w.cfg.PerPage, github.PageToken),
			Tag: map[string]any{"pull_request_id": val(pr, "pull_request_id")},
		})
	}

	commits := r.w.fetcher.MultiFetch(ctx, urls, r.w.cfg.FetchWorkers)
	if len(commits) == 0 {
		r.logger.Info().Msg("No pull request commits to collect")
		return nil
	}

	existing, err := r.w.db.TableValues(ctx, "pull_request_commits",
		[]string{"pull_request_id", "pr_cmt_sha"},
		"repo_id = $1", r.task.RepoID)
	if err != nil {
		return fmt.Errorf("read existing commits: %w", err)
	}

	part := ingest.Organize(commits, existing, commitMap)

	rows := make([]map[string]any, 0, len(part.Insert))
	for _, rec := range part.Insert {
		rows = append(rows, r.commitRow(rec))
	}
	if _, err := r.w.db.BulkInsert(ctx, "pull_request_commits", "pr_cmt_id", rows,
		[]string{"pull_request_id", "pr_cmt_sha"}); err != nil {
		return fmt.Errorf("insert commits: %w", err)
	}

	r.logger.Info().Int("collected", len(commits)).Int("inserted", len(rows)).
		Msg("Pull request commits persisted")
	return nil
}

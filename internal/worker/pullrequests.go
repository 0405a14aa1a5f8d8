package worker

import (
	"context"
	"fmt"

	"github.com/prsync/internal/github"
	"github.com/prsync/internal/ingest"
)

// syncPullRequests collects the repository's pull requests oldest-first,
// persisting batches mid-pagination so a long run lands data incrementally.
// After pagination every surviving record is re-read with its internal id
// attached and staged for the dependent sub-models.
func (r *run) syncPullRequests(ctx context.Context) error {
	url := r.restURL("/repos/%s/%s/pulls?state=all&direction=asc&per_page=%d&page=%s",
		r.task.Owner, r.task.Repo, r.w.cfg.PerPage, github.PageToken)

	acc := ingest.NewAccumulator(r.w.cfg.StaggerEvery, func(batch []ingest.Record) error {
		return r.persistPullRequests(ctx, batch)
	})

	if err := r.w.fetcher.PaginateEndpoint(ctx, url, acc); err != nil {
		return err
	}
	if err := acc.Drain(); err != nil {
		return err
	}

	r.logger.Info().Int("collected", acc.Len()).Msg("Pull request pagination complete")
	return nil
}

// persistPullRequests classifies one batch against current table state,
// writes inserts and updates, then joins the whole batch back against the
// table to pick up internal ids for sub-model enrichment.
func (r *run) persistPullRequests(ctx context.Context, batch []ingest.Record) error {
	if len(batch) == 0 {
		return nil
	}

	existing, err := r.w.db.TableValues(ctx, "pull_requests",
		[]string{"pull_request_id", "pr_src_id", "pr_src_state"},
		"repo_id = $1", r.task.RepoID)
	if err != nil {
		return fmt.Errorf("read existing pull requests: %w", err)
	}

	part := ingest.Organize(batch, existing, pullRequestMap)
	r.logger.Info().
		Int("insert", len(part.Insert)).Int("update", len(part.Update)).Int("unchanged", len(part.Unchanged)).
		Msg("Classified pull request batch")

	ingest.EnrichContributorID(ctx, part.Insert, "user", r.w.resolver, r.logger)

	insertRows := make([]map[string]any, 0, len(part.Insert))
	for _, rec := range part.Insert {
		insertRows = append(insertRows, r.pullRequestRow(rec))
	}
	if _, err := r.w.db.BulkInsert(ctx, "pull_requests", "pull_request_id", insertRows, []string{"pr_src_id"}); err != nil {
		return fmt.Errorf("insert pull requests: %w", err)
	}

	updateRows := make([]map[string]any, 0, len(part.Update))
	for _, rec := range part.Update {
		updateRows = append(updateRows, pullRequestUpdateRow(rec))
	}
	if err := r.w.db.BulkUpdate(ctx, "pull_requests", updateRows, []string{"pr_src_id"}, pullRequestUpdateColumns); err != nil {
		return fmt.Errorf("update pull requests: %w", err)
	}

	refreshed, err := r.w.db.TableValues(ctx, "pull_requests",
		[]string{"pull_request_id", "pr_src_id"},
		"repo_id = $1", r.task.RepoID)
	if err != nil {
		return fmt.Errorf("re-read pull requests for enrichment: %w", err)
	}

	enriched := ingest.EnrichPrimaryKeys(part.All(), refreshed, "id", "pr_src_id", "pull_request_id")
	r.pkSource = append(r.pkSource, enriched...)
	return nil
}

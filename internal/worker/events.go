package worker

import (
	"context"
	"fmt"

	"github.com/prsync/internal/github"
	"github.com/prsync/internal/ingest"
)

// syncEvents collects issue events for the repository and keeps the ones
// belonging to known pull requests. GitHub serves PR events through the
// issues endpoint, so the join against collected pull requests doubles as
// the filter for plain-issue events.
func (r *run) syncEvents(ctx context.Context) error {
	url := r.restURL("/repos/%s/%s/issues/events?per_page=%d&page=%s",
		r.task.Owner, r.task.Repo, r.w.cfg.PerPage, github.PageToken)

	events, err := r.w.fetcher.FetchAll(ctx, url)
	if err != nil {
		return err
	}
	if len(events) == 0 {
		r.logger.Info().Msg("No pull request events to collect")
		return nil
	}

	prEvents := ingest.EnrichPrimaryKeys(events, asRows(r.pkSource), "issue.url", "issue_url", "pull_request_id")

	existing, err := r.w.db.TableValues(ctx, "pull_request_events",
		[]string{"pr_platform_event_id"},
		"repo_id = $1", r.task.RepoID)
	if err != nil {
		return fmt.Errorf("read existing events: %w", err)
	}

	part := ingest.Organize(prEvents, existing, eventMap)

	// Events without an actor (for example, commit-triggered closes from
	// deleted accounts) carry no identity worth resolving.
	withActor := make([]ingest.Record, 0, len(part.Insert))
	for _, rec := range part.Insert {
		if v, ok := rec.Path("actor"); ok && v != nil {
			withActor = append(withActor, rec)
		}
	}
	ingest.EnrichContributorID(ctx, withActor, "actor", r.w.resolver, r.logger)

	rows := make([]map[string]any, 0, len(withActor))
	for _, rec := range withActor {
		rows = append(rows, r.eventRow(rec))
	}
	if _, err := r.w.db.BulkInsert(ctx, "pull_request_events", "pr_event_id", rows,
		[]string{"pr_platform_event_id"}); err != nil {
		return fmt.Errorf("insert events: %w", err)
	}

	r.logger.Info().
		Int("collected", len(events)).Int("pr_events", len(prEvents)).Int("inserted", len(rows)).
		Msg("Pull request events persisted")
	return nil
}

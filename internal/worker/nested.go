package worker

import (
	"context"
	"fmt"

	"github.com/prsync/internal/ingest"
)

// syncNestedData persists the structural arrays carried inline on each pull
// request record: labels, requested reviewers, assignees, and the head/base
// metadata pair. No extra fetches happen here; everything needed arrived
// with the top-level records.
func (r *run) syncNestedData(ctx context.Context) error {
	var labels, reviewers, assignees, meta []ingest.Record

	for _, pr := range r.pkSource {
		prID := val(pr, "pull_request_id")

		for _, raw := range sliceOf(pr, "labels") {
			labels = append(labels, childRecord(raw, prID))
		}
		for _, raw := range sliceOf(pr, "requested_reviewers") {
			reviewers = append(reviewers, childRecord(raw, prID))
		}
		for _, raw := range sliceOf(pr, "assignees") {
			assignees = append(assignees, childRecord(raw, prID))
		}
		for _, side := range []string{"head", "base"} {
			if v, ok := pr.Path(side); ok {
				if m, isMap := v.(map[string]any); isMap {
					rec := childRecord(m, prID)
					rec["pr_head_or_base"] = side
					meta = append(meta, rec)
				}
			}
		}
	}

	if err := r.persistLabels(ctx, labels); err != nil {
		return err
	}
	if err := r.persistRequested(ctx, "pull_request_reviewers", "pr_reviewer_map_id",
		reviewers, reviewerMap, r.reviewerRow); err != nil {
		return err
	}
	if err := r.persistRequested(ctx, "pull_request_assignees", "pr_assignee_map_id",
		assignees, assigneeMap, r.assigneeRow); err != nil {
		return err
	}
	return r.persistMeta(ctx, meta)
}

// sliceOf returns the object elements of an array field, skipping entries
// of any other shape.
func sliceOf(rec ingest.Record, path string) []map[string]any {
	items, ok := rec.Slice(path)
	if !ok {
		return nil
	}
	out := make([]map[string]any, 0, len(items))
	for _, item := range items {
		if m, isMap := item.(map[string]any); isMap {
			out = append(out, m)
		}
	}
	return out
}

// childRecord copies a nested object into its own record keyed to the
// parent pull request. The copy keeps enrichment writes off the parent's
// shared maps.
func childRecord(raw map[string]any, prID any) ingest.Record {
	rec := make(ingest.Record, len(raw)+1)
	for k, v := range raw {
		rec[k] = v
	}
	rec["pull_request_id"] = prID
	return rec
}

func (r *run) persistLabels(ctx context.Context, labels []ingest.Record) error {
	existing, err := r.w.db.TableValues(ctx, "pull_request_labels",
		[]string{"pull_request_id", "pr_src_id"},
		"repo_id = $1", r.task.RepoID)
	if err != nil {
		return fmt.Errorf("read existing labels: %w", err)
	}

	part := ingest.Organize(labels, existing, labelMap)
	rows := make([]map[string]any, 0, len(part.Insert))
	for _, rec := range part.Insert {
		rows = append(rows, r.labelRow(rec))
	}
	if _, err := r.w.db.BulkInsert(ctx, "pull_request_labels", "pr_label_id", rows,
		[]string{"pull_request_id", "pr_src_id"}); err != nil {
		return fmt.Errorf("insert labels: %w", err)
	}
	return nil
}

// persistRequested handles the two actor-list tables, which differ only in
// table, key column, and row shape.
func (r *run) persistRequested(ctx context.Context, table, idColumn string,
	records []ingest.Record, am ingest.ActionMap, rowFn func(ingest.Record) map[string]any) error {

	existing, err := r.w.db.TableValues(ctx, table,
		[]string{"pull_request_id", am.Insert.Dest[1]},
		"repo_id = $1", r.task.RepoID)
	if err != nil {
		return fmt.Errorf("read existing %s: %w", table, err)
	}

	part := ingest.Organize(records, existing, am)
	ingest.EnrichContributorID(ctx, part.Insert, "", r.w.resolver, r.logger)

	rows := make([]map[string]any, 0, len(part.Insert))
	for _, rec := range part.Insert {
		rows = append(rows, rowFn(rec))
	}
	if _, err := r.w.db.BulkInsert(ctx, table, idColumn, rows, am.Insert.Dest); err != nil {
		return fmt.Errorf("insert %s: %w", table, err)
	}
	return nil
}

func (r *run) persistMeta(ctx context.Context, meta []ingest.Record) error {
	existing, err := r.w.db.TableValues(ctx, "pull_request_meta",
		[]string{"pull_request_id", "pr_head_or_base", "pr_sha"},
		"repo_id = $1", r.task.RepoID)
	if err != nil {
		return fmt.Errorf("read existing meta: %w", err)
	}

	part := ingest.Organize(meta, existing, metaMap)
	ingest.EnrichContributorID(ctx, part.Insert, "user", r.w.resolver, r.logger)

	rows := make([]map[string]any, 0, len(part.Insert))
	for _, rec := range part.Insert {
		rows = append(rows, r.metaRow(rec))
	}
	if _, err := r.w.db.BulkInsert(ctx, "pull_request_meta", "pr_repo_meta_id", rows,
		[]string{"pull_request_id", "pr_head_or_base", "pr_sha"}); err != nil {
		return fmt.Errorf("insert meta: %w", err)
	}
	if err := r.persistMetaRepos(ctx, meta); err != nil {
		return err
	}

	r.logger.Info().Int("meta", len(rows)).Msg("Nested pull request data persisted")
	return nil
}

// persistMetaRepos records the source repository each head/base ref points
// at. Repositories are shared across refs and across pull requests, so rows
// dedupe on the source repository id alone and the table is read back whole
// rather than per destination repo.
func (r *run) persistMetaRepos(ctx context.Context, meta []ingest.Record) error {
	metaRows, err := r.w.db.TableValues(ctx, "pull_request_meta",
		[]string{"pr_repo_meta_id", "pull_request_id", "pr_head_or_base", "pr_sha"},
		"repo_id = $1", r.task.RepoID)
	if err != nil {
		return fmt.Errorf("read meta ids: %w", err)
	}
	metaID := make(map[string]any, len(metaRows))
	for _, m := range metaRows {
		metaID[metaKey(m["pull_request_id"], m["pr_head_or_base"], m["pr_sha"])] = m["pr_repo_meta_id"]
	}

	var repos []ingest.Record
	for _, m := range meta {
		raw, ok := m.Path("repo")
		if !ok {
			continue
		}
		obj, isMap := raw.(map[string]any)
		if !isMap {
			continue
		}
		rec := make(ingest.Record, len(obj)+2)
		for k, v := range obj {
			rec[k] = v
		}
		rec["pr_head_or_base"] = m["pr_head_or_base"]
		rec["pr_repo_meta_id"] = metaID[metaKey(m["pull_request_id"], m["pr_head_or_base"], m["sha"])]
		repos = append(repos, rec)
	}

	existing, err := r.w.db.TableValues(ctx, "pull_request_repo",
		[]string{"pr_src_repo_id"}, "")
	if err != nil {
		return fmt.Errorf("read existing meta repos: %w", err)
	}

	part := ingest.Organize(repos, existing, prRepoMap)
	ingest.EnrichContributorID(ctx, part.Insert, "owner", r.w.resolver, r.logger)

	rows := make([]map[string]any, 0, len(part.Insert))
	for _, rec := range part.Insert {
		rows = append(rows, r.prRepoRow(rec))
	}
	if _, err := r.w.db.BulkInsert(ctx, "pull_request_repo", "pr_repo_id", rows,
		[]string{"pr_src_repo_id"}); err != nil {
		return fmt.Errorf("insert meta repos: %w", err)
	}
	return nil
}

// metaKey identifies one head/base meta row within a repository.
func metaKey(prID, side, sha any) string {
	return fmt.Sprintf("%v\x1f%v\x1f%v", prID, side, sha)
}

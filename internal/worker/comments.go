package worker

import (
	"context"
	"fmt"

	"github.com/prsync/internal/github"
	"github.com/prsync/internal/ingest"
)

// syncComments collects review-thread comments for the whole repository.
// Each comment lands twice: once in the shared message table and once as a
// cross-reference row tying the message to its pull request.
func (r *run) syncComments(ctx context.Context) error {
	url := r.restURL("/repos/%s/%s/pulls/comments?per_page=%d&page=%s",
		r.task.Owner, r.task.Repo, r.w.cfg.PerPage, github.PageToken)

	comments, err := r.w.fetcher.FetchAll(ctx, url)
	if err != nil {
		return err
	}
	if len(comments) == 0 {
		r.logger.Info().Msg("No pull request comments to collect")
		return nil
	}

	existing, err := r.w.db.TableValues(ctx, "message",
		[]string{"msg_id", "platform_msg_id"},
		"repo_id = $1 AND pltfrm_id = $2", r.task.RepoID, platformID)
	if err != nil {
		return fmt.Errorf("read existing messages: %w", err)
	}

	part := ingest.Organize(comments, existing, commentMap)
	ingest.EnrichContributorID(ctx, part.Insert, "user", r.w.resolver, r.logger)

	rows := make([]map[string]any, 0, len(part.Insert))
	for _, rec := range part.Insert {
		rows = append(rows, r.messageRow(rec))
	}
	if _, err := r.w.db.BulkInsert(ctx, "message", "msg_id", rows, []string{"platform_msg_id"}); err != nil {
		return fmt.Errorf("insert messages: %w", err)
	}

	return r.persistMessageRefs(ctx, part.Insert)
}

// persistMessageRefs joins newly inserted comments to their message ids and
// their pull requests, then writes the cross-reference rows. Comments whose
// pull request never made it into the table are dropped.
func (r *run) persistMessageRefs(ctx context.Context, inserted []ingest.Record) error {
	if len(inserted) == 0 {
		return nil
	}

	messages, err := r.w.db.TableValues(ctx, "message",
		[]string{"msg_id", "platform_msg_id"},
		"repo_id = $1 AND pltfrm_id = $2", r.task.RepoID, platformID)
	if err != nil {
		return fmt.Errorf("re-read messages: %w", err)
	}
	withMsg := ingest.EnrichPrimaryKeys(inserted, messages, "id", "platform_msg_id", "msg_id")

	joined := ingest.EnrichPrimaryKeys(withMsg, asRows(r.pkSource), "pull_request_url", "url", "pull_request_id")

	rows := make([]map[string]any, 0, len(joined))
	for _, rec := range joined {
		row := map[string]any{
			"pull_request_id":               val(rec, "pull_request_id"),
			"msg_id":                        val(rec, "msg_id"),
			"pr_message_ref_src_comment_id": val(rec, "id"),
			"pr_message_ref_src_node_id":    val(rec, "node_id"),
			"repo_id":                       r.task.RepoID,
		}
		r.w.prov.Stamp(row)
		rows = append(rows, row)
	}
	if _, err := r.w.db.BulkInsert(ctx, "pull_request_message_ref", "pr_msg_ref_id", rows,
		[]string{"pr_message_ref_src_comment_id"}); err != nil {
		return fmt.Errorf("insert message refs: %w", err)
	}

	r.logger.Info().Int("comments", len(inserted)).Int("refs", len(rows)).
		Msg("Pull request comments persisted")
	return nil
}

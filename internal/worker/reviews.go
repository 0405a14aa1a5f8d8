package worker

import (
	"context"
	"fmt"

	"github.com/prsync/internal/github"
	"github.com/prsync/internal/ingest"
)

// syncReviews collects review submissions per pull request with a bounded
// fetch pool, then attaches the review-thread comments to their reviews.
func (r *run) syncReviews(ctx context.Context) error {
	urls := make([]github.TaggedURL, 0, len(r.pkSource))
	for _, pr := range r.pkSource {
		number, ok := pr.Int("number")
		if !ok {
			continue
		}
		urls = append(urls, github.TaggedURL{
			URL: r.restURL("/repos/%s/%s/pulls/%d/reviews?per_page=%d&page=%s",
				r.task.Owner, r.task.Repo, number, r.w.cfg.PerPage, github.PageToken),
			Tag: map[string]any{"pull_request_id": val(pr, "pull_request_id")},
		})
	}

	reviews := r.w.fetcher.MultiFetch(ctx, urls, r.w.cfg.FetchWorkers)
	if len(reviews) == 0 {
		r.logger.Info().Msg("No pull request reviews to collect")
		return nil
	}

	existing, err := r.w.db.TableValues(ctx, "pull_request_reviews",
		[]string{"pr_review_id", "pr_review_src_id", "pr_review_state"},
		"repo_id = $1", r.task.RepoID)
	if err != nil {
		return fmt.Errorf("read existing reviews: %w", err)
	}

	part := ingest.Organize(reviews, existing, reviewMap)
	ingest.EnrichContributorID(ctx, part.Insert, "user", r.w.resolver, r.logger)

	// A review whose author is gone entirely has no login to key on and is
	// skipped rather than stored anonymous.
	rows := make([]map[string]any, 0, len(part.Insert))
	for _, rec := range part.Insert {
		if login, ok := rec.Str("user.login"); !ok || login == "" {
			continue
		}
		rows = append(rows, r.reviewRow(rec))
	}
	if _, err := r.w.db.BulkInsert(ctx, "pull_request_reviews", "pr_review_id", rows,
		[]string{"pr_review_src_id"}); err != nil {
		return fmt.Errorf("insert reviews: %w", err)
	}

	updateRows := make([]map[string]any, 0, len(part.Update))
	for _, rec := range part.Update {
		updateRows = append(updateRows, map[string]any{
			"pr_review_src_id": val(rec, "id"),
			"pr_review_state":  val(rec, "state"),
		})
	}
	if err := r.w.db.BulkUpdate(ctx, "pull_request_reviews", updateRows,
		[]string{"pr_review_src_id"}, []string{"pr_review_state"}); err != nil {
		return fmt.Errorf("update reviews: %w", err)
	}

	r.logger.Info().Int("collected", len(reviews)).Int("inserted", len(rows)).Int("updated", len(updateRows)).
		Msg("Pull request reviews persisted")

	return r.syncReviewComments(ctx)
}

// syncReviewComments stores each review-thread comment in the message table
// and cross-references it to its parent review. Comments on reviews that
// were never collected (or whose review was skipped) are dropped by the
// joins.
func (r *run) syncReviewComments(ctx context.Context) error {
	url := r.restURL("/repos/%s/%s/pulls/comments?per_page=%d&page=%s",
		r.task.Owner, r.task.Repo, r.w.cfg.PerPage, github.PageToken)

	comments, err := r.w.fetcher.FetchAll(ctx, url)
	if err != nil {
		return err
	}

	inReview := make([]ingest.Record, 0, len(comments))
	for _, rec := range comments {
		if v, ok := rec.Path("pull_request_review_id"); ok && v != nil {
			inReview = append(inReview, rec)
		}
	}
	if len(inReview) == 0 {
		return nil
	}

	existing, err := r.w.db.TableValues(ctx, "message",
		[]string{"msg_id", "platform_msg_id"},
		"repo_id = $1 AND pltfrm_id = $2", r.task.RepoID, platformID)
	if err != nil {
		return fmt.Errorf("read existing messages: %w", err)
	}

	part := ingest.Organize(inReview, existing, commentMap)
	ingest.EnrichContributorID(ctx, part.Insert, "user", r.w.resolver, r.logger)

	rows := make([]map[string]any, 0, len(part.Insert))
	for _, rec := range part.Insert {
		rows = append(rows, r.messageRow(rec))
	}
	if _, err := r.w.db.BulkInsert(ctx, "message", "msg_id", rows, []string{"platform_msg_id"}); err != nil {
		return fmt.Errorf("insert review messages: %w", err)
	}

	if len(part.Insert) == 0 {
		return nil
	}

	messages, err := r.w.db.TableValues(ctx, "message",
		[]string{"msg_id", "platform_msg_id"},
		"repo_id = $1 AND pltfrm_id = $2", r.task.RepoID, platformID)
	if err != nil {
		return fmt.Errorf("re-read messages: %w", err)
	}
	withMsg := ingest.EnrichPrimaryKeys(part.Insert, messages, "id", "platform_msg_id", "msg_id")

	reviewRows, err := r.w.db.TableValues(ctx, "pull_request_reviews",
		[]string{"pr_review_id", "pr_review_src_id"},
		"repo_id = $1", r.task.RepoID)
	if err != nil {
		return fmt.Errorf("re-read reviews: %w", err)
	}
	joined := ingest.EnrichPrimaryKeys(withMsg, reviewRows, "pull_request_review_id", "pr_review_src_id", "pr_review_id")

	refRows := make([]map[string]any, 0, len(joined))
	for _, rec := range joined {
		row := map[string]any{
			"pr_review_id":            val(rec, "pr_review_id"),
			"msg_id":                  val(rec, "msg_id"),
			"pr_review_msg_url":       val(rec, "url"),
			"pr_review_src_id":        val(rec, "pull_request_review_id"),
			"pr_review_msg_src_id":    val(rec, "id"),
			"pr_review_msg_node_id":   val(rec, "node_id"),
			"pr_review_msg_diff_hunk": val(rec, "diff_hunk"),
			"pr_review_msg_path":      val(rec, "path"),
			"pr_review_msg_position":  val(rec, "position"),
			"repo_id":                 r.task.RepoID,
		}
		r.w.prov.Stamp(row)
		refRows = append(refRows, row)
	}
	if _, err := r.w.db.BulkInsert(ctx, "pull_request_review_message_ref", "pr_review_msg_ref_id", refRows,
		[]string{"pr_review_msg_src_id"}); err != nil {
		return fmt.Errorf("insert review message refs: %w", err)
	}

	r.logger.Info().Int("comments", len(inReview)).Int("refs", len(refRows)).
		Msg("Review comments persisted")
	return nil
}

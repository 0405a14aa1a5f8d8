package worker

import (
	"context"
	"errors"
	"fmt"

	"github.com/prsync/internal/github"
	"github.com/prsync/internal/ingest"
)

// The file list of a pull request is only reliably complete on the GraphQL
// API; the REST files endpoint caps out at 3000 entries. Paged backwards
// from the last page so newly pushed files overlap instead of shifting the
// window.
const prFilesQuery = `query {
  repository(owner: %q, name: %q) {
    pullRequest(number: %d) {
      files(last: 100%s) {
        pageInfo {
          hasPreviousPage
          startCursor
        }
        edges {
          node {
            additions
            deletions
            path
          }
        }
      }
    }
  }
}`

// syncFiles collects the changed-file list of every pull request via GraphQL
// and reconciles it against the files table, updating shifted addition and
// deletion counts in place.
func (r *run) syncFiles(ctx context.Context) error {
	var files []ingest.Record

	for _, pr := range r.pkSource {
		number, ok := pr.Int("number")
		if !ok {
			continue
		}
		query := fmt.Sprintf(prFilesQuery, r.task.Owner, r.task.Repo, number, "{files}")

		edges, err := r.w.fetcher.GraphQLPaginate(ctx, query, github.Subject{Name: "files"})
		if err != nil {
			if errors.Is(err, github.ErrBadCredentials) || ctx.Err() != nil {
				return err
			}
			r.logger.Warn().Int64("number", number).Err(err).
				Msg("File collection failed for pull request, skipping it")
			continue
		}

		prID := val(pr, "pull_request_id")
		for _, edge := range edges {
			node, ok := edge.Nested("node")
			if !ok {
				continue
			}
			files = append(files, childRecord(node, prID))
		}
	}

	if len(files) == 0 {
		r.logger.Info().Msg("No pull request files to collect")
		return nil
	}

	existing, err := r.w.db.TableValues(ctx, "pull_request_files",
		[]string{"pull_request_id", "pr_file_path", "pr_file_additions", "pr_file_deletions"},
		"repo_id = $1", r.task.RepoID)
	if err != nil {
		return fmt.Errorf("read existing files: %w", err)
	}

	part := ingest.Organize(files, existing, fileMap)

	rows := make([]map[string]any, 0, len(part.Insert))
	for _, rec := range part.Insert {
		rows = append(rows, r.fileRow(rec))
	}
	if _, err := r.w.db.BulkInsert(ctx, "pull_request_files", "pr_file_id", rows,
		[]string{"pull_request_id", "pr_file_path"}); err != nil {
		return fmt.Errorf("insert files: %w", err)
	}

	updateRows := make([]map[string]any, 0, len(part.Update))
	for _, rec := range part.Update {
		updateRows = append(updateRows, r.fileRow(rec))
	}
	if err := r.w.db.BulkUpdate(ctx, "pull_request_files", updateRows,
		[]string{"pull_request_id", "pr_file_path"},
		[]string{"pr_file_additions", "pr_file_deletions"}); err != nil {
		return fmt.Errorf("update files: %w", err)
	}

	r.logger.Info().Int("collected", len(files)).Int("inserted", len(rows)).Int("updated", len(updateRows)).
		Msg("Pull request files persisted")
	return nil
}

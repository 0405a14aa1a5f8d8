package worker

import (
	"github.com/prsync/internal/ingest"
)

// Natural keys and comparison fields per entity. Insert maps pick the source
// fields forming the natural key and the destination columns they land in;
// update maps (where present) name the fields whose drift marks an existing
// row stale.

var pullRequestMap = ingest.ActionMap{
	Insert: ingest.FieldMap{Source: []string{"id"}, Dest: []string{"pr_src_id"}},
	Update: ingest.FieldMap{Source: []string{"state"}, Dest: []string{"pr_src_state"}},
}

var commentMap = ingest.ActionMap{
	Insert: ingest.FieldMap{Source: []string{"id"}, Dest: []string{"platform_msg_id"}},
}

var eventMap = ingest.ActionMap{
	Insert: ingest.FieldMap{Source: []string{"id"}, Dest: []string{"pr_platform_event_id"}},
}

var reviewMap = ingest.ActionMap{
	Insert: ingest.FieldMap{Source: []string{"id"}, Dest: []string{"pr_review_src_id"}},
	Update: ingest.FieldMap{Source: []string{"state"}, Dest: []string{"pr_review_state"}},
}

var labelMap = ingest.ActionMap{
	Insert: ingest.FieldMap{
		Source: []string{"pull_request_id", "id"},
		Dest:   []string{"pull_request_id", "pr_src_id"},
	},
}

var reviewerMap = ingest.ActionMap{
	Insert: ingest.FieldMap{
		Source: []string{"pull_request_id", "id"},
		Dest:   []string{"pull_request_id", "pr_reviewer_src_id"},
	},
}

var assigneeMap = ingest.ActionMap{
	Insert: ingest.FieldMap{
		Source: []string{"pull_request_id", "id"},
		Dest:   []string{"pull_request_id", "pr_assignee_src_id"},
	},
}

var metaMap = ingest.ActionMap{
	Insert: ingest.FieldMap{
		Source: []string{"pull_request_id", "pr_head_or_base", "sha"},
		Dest:   []string{"pull_request_id", "pr_head_or_base", "pr_sha"},
	},
}

var prRepoMap = ingest.ActionMap{
	Insert: ingest.FieldMap{Source: []string{"id"}, Dest: []string{"pr_src_repo_id"}},
}

var commitMap = ingest.ActionMap{
	Insert: ingest.FieldMap{
		Source: []string{"pull_request_id", "sha"},
		Dest:   []string{"pull_request_id", "pr_cmt_sha"},
	},
}

var fileMap = ingest.ActionMap{
	Insert: ingest.FieldMap{
		Source: []string{"pull_request_id", "path"},
		Dest:   []string{"pull_request_id", "pr_file_path"},
	},
	Update: ingest.FieldMap{
		Source: []string{"additions", "deletions"},
		Dest:   []string{"pr_file_additions", "pr_file_deletions"},
	},
}

func val(rec ingest.Record, path string) any {
	v, ok := rec.Path(path)
	if !ok {
		return nil
	}
	return v
}

func (r *run) pullRequestRow(rec ingest.Record) map[string]any {
	row := map[string]any{
		"repo_id":                   r.task.RepoID,
		"pr_url":                    val(rec, "url"),
		"pr_src_id":                 val(rec, "id"),
		"pr_src_node_id":            val(rec, "node_id"),
		"pr_html_url":               val(rec, "html_url"),
		"pr_diff_url":               val(rec, "diff_url"),
		"pr_patch_url":              val(rec, "patch_url"),
		"pr_issue_url":              val(rec, "issue_url"),
		"pr_src_number":             val(rec, "number"),
		"pr_src_state":              val(rec, "state"),
		"pr_src_locked":             val(rec, "locked"),
		"pr_src_title":              val(rec, "title"),
		"cntrb_id":                  val(rec, ingest.ContributorIDField),
		"pr_body":                   val(rec, "body"),
		"pr_created_at":             val(rec, "created_at"),
		"pr_updated_at":             val(rec, "updated_at"),
		"pr_closed_at":              val(rec, "closed_at"),
		"pr_merged_at":              val(rec, "merged_at"),
		"pr_merge_commit_sha":       val(rec, "merge_commit_sha"),
		"pr_teams":                  nil,
		"pr_milestone":              val(rec, "milestone.title"),
		"pr_commits_url":            val(rec, "commits_url"),
		"pr_review_comments_url":    val(rec, "review_comments_url"),
		"pr_review_comment_url":     val(rec, "review_comment_url"),
		"pr_comments_url":           val(rec, "comments_url"),
		"pr_statuses_url":           val(rec, "statuses_url"),
		"pr_src_author_association": val(rec, "author_association"),
	}
	r.w.prov.Stamp(row)
	return row
}

var pullRequestUpdateColumns = []string{"pr_src_state", "pr_updated_at", "pr_closed_at", "pr_merged_at"}

func pullRequestUpdateRow(rec ingest.Record) map[string]any {
	return map[string]any{
		"pr_src_id":     val(rec, "id"),
		"pr_src_state":  val(rec, "state"),
		"pr_updated_at": val(rec, "updated_at"),
		"pr_closed_at":  val(rec, "closed_at"),
		"pr_merged_at":  val(rec, "merged_at"),
	}
}

func (r *run) messageRow(rec ingest.Record) map[string]any {
	row := map[string]any{
		"pltfrm_id":        platformID,
		"repo_id":          r.task.RepoID,
		"platform_msg_id":  val(rec, "id"),
		"platform_node_id": val(rec, "node_id"),
		"msg_text":         val(rec, "body"),
		"msg_timestamp":    val(rec, "created_at"),
		"cntrb_id":         val(rec, ingest.ContributorIDField),
	}
	r.w.prov.Stamp(row)
	return row
}

func (r *run) eventRow(rec ingest.Record) map[string]any {
	row := map[string]any{
		"pull_request_id":      val(rec, "pull_request_id"),
		"cntrb_id":             val(rec, ingest.ContributorIDField),
		"action":               val(rec, "event"),
		"action_commit_hash":   val(rec, "commit_id"),
		"created_at":           val(rec, "created_at"),
		"issue_event_src_id":   val(rec, "id"),
		"node_id":              val(rec, "node_id"),
		"node_url":             val(rec, "url"),
		"platform_id":          platformID,
		"pr_platform_event_id": val(rec, "id"),
		"repo_id":              r.task.RepoID,
	}
	r.w.prov.Stamp(row)
	return row
}

func (r *run) reviewRow(rec ingest.Record) map[string]any {
	row := map[string]any{
		"pull_request_id":              val(rec, "pull_request_id"),
		"cntrb_id":                     val(rec, ingest.ContributorIDField),
		"pr_review_author_association": val(rec, "author_association"),
		"pr_review_state":              val(rec, "state"),
		"pr_review_body":               val(rec, "body"),
		"pr_review_submitted_at":       val(rec, "submitted_at"),
		"pr_review_src_id":             val(rec, "id"),
		"pr_review_node_id":            val(rec, "node_id"),
		"pr_review_html_url":           val(rec, "html_url"),
		"pr_review_commit_id":          val(rec, "commit_id"),
		"platform_id":                  platformID,
		"repo_id":                      r.task.RepoID,
	}
	r.w.prov.Stamp(row)
	return row
}

func (r *run) labelRow(rec ingest.Record) map[string]any {
	row := map[string]any{
		"pull_request_id":     val(rec, "pull_request_id"),
		"pr_src_id":           val(rec, "id"),
		"pr_src_node_id":      val(rec, "node_id"),
		"pr_src_url":          val(rec, "url"),
		"pr_src_description":  val(rec, "name"),
		"pr_src_color":        val(rec, "color"),
		"pr_src_default_bool": val(rec, "default"),
		"repo_id":             r.task.RepoID,
	}
	r.w.prov.Stamp(row)
	return row
}

func (r *run) reviewerRow(rec ingest.Record) map[string]any {
	row := map[string]any{
		"pull_request_id":      val(rec, "pull_request_id"),
		"cntrb_id":             val(rec, ingest.ContributorIDField),
		"pr_reviewer_src_id":   val(rec, "id"),
		"pr_reviewer_src_node": val(rec, "node_id"),
		"repo_id":              r.task.RepoID,
	}
	r.w.prov.Stamp(row)
	return row
}

func (r *run) assigneeRow(rec ingest.Record) map[string]any {
	row := map[string]any{
		"pull_request_id":      val(rec, "pull_request_id"),
		"contrib_id":           val(rec, ingest.ContributorIDField),
		"pr_assignee_src_id":   val(rec, "id"),
		"pr_assignee_src_node": val(rec, "node_id"),
		"repo_id":              r.task.RepoID,
	}
	r.w.prov.Stamp(row)
	return row
}

func (r *run) metaRow(rec ingest.Record) map[string]any {
	row := map[string]any{
		"pull_request_id":   val(rec, "pull_request_id"),
		"pr_head_or_base":   val(rec, "pr_head_or_base"),
		"pr_src_meta_label": val(rec, "label"),
		"pr_src_meta_ref":   val(rec, "ref"),
		"pr_sha":            val(rec, "sha"),
		"cntrb_id":          val(rec, ingest.ContributorIDField),
		"repo_id":           r.task.RepoID,
	}
	r.w.prov.Stamp(row)
	return row
}

func (r *run) prRepoRow(rec ingest.Record) map[string]any {
	row := map[string]any{
		"pr_repo_meta_id":      val(rec, "pr_repo_meta_id"),
		"pr_repo_head_or_base": val(rec, "pr_head_or_base"),
		"pr_src_repo_id":       val(rec, "id"),
		"pr_src_node_id":       val(rec, "node_id"),
		"pr_repo_name":         val(rec, "name"),
		"pr_repo_full_name":    val(rec, "full_name"),
		"pr_repo_private_bool": val(rec, "private"),
		"pr_cntrb_id":          val(rec, ingest.ContributorIDField),
	}
	r.w.prov.Stamp(row)
	return row
}

func (r *run) commitRow(rec ingest.Record) map[string]any {
	row := map[string]any{
		"pull_request_id": val(rec, "pull_request_id"),
		"pr_cmt_sha":      val(rec, "sha"),
		"pr_cmt_node_id":  val(rec, "node_id"),
		"pr_cmt_message":  val(rec, "commit.message"),
		"repo_id":         r.task.RepoID,
	}
	r.w.prov.Stamp(row)
	return row
}

func (r *run) fileRow(rec ingest.Record) map[string]any {
	row := map[string]any{
		"pull_request_id":   val(rec, "pull_request_id"),
		"pr_file_path":      val(rec, "path"),
		"pr_file_additions": val(rec, "additions"),
		"pr_file_deletions": val(rec, "deletions"),
		"repo_id":           r.task.RepoID,
	}
	r.w.prov.Stamp(row)
	return row
}

package github

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"
)

func gqlFilesPage(cursor string, hasPrev bool, paths ...string) map[string]any {
	edges := make([]any, len(paths))
	for i, p := range paths {
		edges[i] = map[string]any{
			"node": map[string]any{"path": p, "additions": 1, "deletions": 0},
		}
	}
	return map[string]any{
		"data": map[string]any{
			"repository": map[string]any{
				"pullRequest": map[string]any{
					"files": map[string]any{
						"pageInfo": map[string]any{
							"hasPreviousPage": hasPrev,
							"startCursor":     cursor,
						},
						"edges": edges,
					},
				},
			},
		},
	}
}

func TestGraphQLPaginateHaltsWhenNoPreviousPage(t *testing.T) {
	t.Parallel()

	var requests int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt32(&requests, 1)
		switch n {
		case 1:
			json.NewEncoder(w).Encode(gqlFilesPage("c1", true, "c.go", "d.go"))
		case 2:
			json.NewEncoder(w).Encode(gqlFilesPage("c2", true, "b.go"))
		default:
			json.NewEncoder(w).Encode(gqlFilesPage("c3", false, "a.go"))
		}
	}))
	defer server.Close()

	c := newTestClient(t, server.URL)

	query := `{ repository(owner:"o", name:"r") { pullRequest(number: 1) { files(last: 100{files}) { pageInfo { hasPreviousPage startCursor } edges { node { path additions deletions } } } } } }`
	records, err := c.GraphQLPaginate(context.Background(), query, Subject{Name: "files"})

	require.NoError(t, err)
	require.EqualValues(t, 3, atomic.LoadInt32(&requests), "pagination halts on the page reporting hasPreviousPage=false")
	require.Len(t, records, 4)
}

func TestGraphQLPaginateThreadsCursorBackward(t *testing.T) {
	t.Parallel()

	var sawCursor atomic.Bool
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var payload struct {
			Query string `json:"query"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&payload))

		if strings.Contains(payload.Query, `before: "cursor-1"`) {
			sawCursor.Store(true)
			json.NewEncoder(w).Encode(gqlFilesPage("cursor-0", false, "a.go"))
			return
		}
		json.NewEncoder(w).Encode(gqlFilesPage("cursor-1", true, "b.go"))
	}))
	defer server.Close()

	c := newTestClient(t, server.URL)

	query := `{ files(last: 100{files}) { pageInfo { hasPreviousPage startCursor } edges { node { path } } } }`
	records, err := c.GraphQLPaginate(context.Background(), query, Subject{Name: "files"})

	require.NoError(t, err)
	require.True(t, sawCursor.Load(), "second request must carry the startCursor from the first page")
	require.Len(t, records, 2)
}

func TestGraphQLPaginateNotFoundReturnsPartial(t *testing.T) {
	t.Parallel()

	var requests int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&requests, 1) == 1 {
			json.NewEncoder(w).Encode(gqlFilesPage("c1", true, "a.go"))
			return
		}
		json.NewEncoder(w).Encode(map[string]any{
			"errors": []map[string]any{{"type": "NOT_FOUND", "message": "repo gone"}},
		})
	}))
	defer server.Close()

	c := newTestClient(t, server.URL)
	records, err := c.GraphQLPaginate(context.Background(), `{ files(last: 100{files}) {} }`, Subject{Name: "files"})

	require.NoError(t, err)
	require.Len(t, records, 1)
}

func TestGraphQLPaginateRateLimitedRetries(t *testing.T) {
	t.Parallel()

	var requests int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&requests, 1) == 1 {
			json.NewEncoder(w).Encode(map[string]any{
				"errors": []map[string]any{{"type": "RATE_LIMITED", "message": "slow down"}},
			})
			return
		}
		json.NewEncoder(w).Encode(gqlFilesPage("c1", false, "a.go"))
	}))
	defer server.Close()

	c := newTestClient(t, server.URL)
	records, err := c.GraphQLPaginate(context.Background(), `{ files(last: 100{files}) {} }`, Subject{Name: "files"})

	require.NoError(t, err)
	require.Len(t, records, 1)
	require.EqualValues(t, 2, atomic.LoadInt32(&requests))
}

func TestGraphQLPaginateBadCredentials(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"message": "Bad credentials"})
	}))
	defer server.Close()

	c := newTestClient(t, server.URL)
	_, err := c.GraphQLPaginate(context.Background(), `{ files(last: 100{files}) {} }`, Subject{Name: "files"})

	require.ErrorIs(t, err, ErrBadCredentials)
}

func TestGraphQLPaginateNestedSubjects(t *testing.T) {
	t.Parallel()

	commitsPage := func(hasPrev bool, shas ...string) map[string]any {
		edges := make([]any, len(shas))
		for i, sha := range shas {
			edges[i] = map[string]any{"node": map[string]any{"oid": sha}}
		}
		return map[string]any{
			"data": map[string]any{
				"repository": map[string]any{
					"pullRequest": map[string]any{
						"commits": map[string]any{
							"pageInfo": map[string]any{"hasPreviousPage": hasPrev, "startCursor": "cc"},
							"edges":    edges,
						},
					},
				},
			},
		}
	}

	var requests int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var payload struct {
			Query string `json:"query"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&payload))
		atomic.AddInt32(&requests, 1)

		// The outer subject exhausts first, then the nested one is paged.
		if atomic.LoadInt32(&requests) == 1 {
			json.NewEncoder(w).Encode(gqlFilesPage("fc", false, "a.go"))
			return
		}
		// The nested request must still carry the outer subject's cursor.
		require.Contains(t, payload.Query, `before: "fc"`)
		json.NewEncoder(w).Encode(commitsPage(false, "deadbeef"))
	}))
	defer server.Close()

	c := newTestClient(t, server.URL)

	query := `{ files(last: 100{files}) {} commits(last: 100{commits}) {} }`
	subject := Subject{Name: "files", Nested: &Subject{Name: "commits"}}

	records, err := c.GraphQLPaginate(context.Background(), query, subject)

	require.NoError(t, err)
	require.EqualValues(t, 2, atomic.LoadInt32(&requests))
	require.Len(t, records, 2)
}

func TestFindSubjectRoot(t *testing.T) {
	t.Parallel()

	data := map[string]any{
		"repository": map[string]any{
			"pullRequest": map[string]any{
				"files": map[string]any{"edges": []any{}},
			},
		},
	}

	root, ok := findSubjectRoot(data, "files")
	require.True(t, ok)
	require.Contains(t, root, "edges")

	_, ok = findSubjectRoot(data, "missing")
	require.False(t, ok)
}

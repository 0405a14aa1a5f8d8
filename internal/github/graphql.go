package github

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/prsync/internal/ingest"
)

// Subject names one paginated field inside a GraphQL query, with an optional
// nested paginated field to descend into once the outer field is exhausted.
type Subject struct {
	Name   string
	Nested *Subject
}

type gqlPageInfo struct {
	HasPreviousPage bool   `json:"hasPreviousPage"`
	StartCursor     string `json:"startCursor"`
}

type gqlError struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

type gqlResponse struct {
	Data    map[string]any `json:"data"`
	Errors  []gqlError     `json:"errors"`
	Message string         `json:"message"`
}

// cursorState carries the accumulated before-cursor clause per subject across
// pages and across the recursion into nested subjects. It is threaded
// explicitly through the call chain; the client itself holds no pagination
// state.
type cursorState map[string]string

func (cs cursorState) apply(query string) string {
	out := query
	for name, clause := range cs {
		out = strings.ReplaceAll(out, "{"+name+"}", clause)
	}
	return out
}

// GraphQLPaginate pages a GraphQL query backwards through one or more
// paginated subjects. The query text carries a placeholder per subject name
// (e.g. "{files}") where the before-cursor clause is substituted; pagination
// of a subject ends when its pageInfo reports no previous page.
//
// A NOT_FOUND error ends pagination with the edges collected so far. Rate
// limiting and abuse detection back off without consuming the per-page
// attempt budget. Bad credentials are fatal.
func (c *Client) GraphQLPaginate(ctx context.Context, query string, subject Subject) ([]ingest.Record, error) {
	cursors := cursorState{}
	for s := &subject; s != nil; s = s.Nested {
		cursors[s.Name] = ""
	}
	return c.graphqlPaginate(ctx, query, subject, cursors)
}

func (c *Client) graphqlPaginate(ctx context.Context, query string, subject Subject, cursors cursorState) ([]ingest.Record, error) {
	var collected []ingest.Record

	hasPreviousPage := true
	pageCount := 0
	for hasPreviousPage {
		pageCount++

		root, err := c.graphqlFetchSubject(ctx, cursors.apply(query), subject.Name)
		if err != nil {
			if err == ErrBadCredentials {
				return collected, err
			}
			// NOT_FOUND or an exhausted attempt budget: partial results stand.
			c.logger.Warn().Str("subject", subject.Name).Int("pages", pageCount).Err(err).
				Msg("GraphQL pagination ended early")
			break
		}

		var pageInfo gqlPageInfo
		if rawInfo, ok := root["pageInfo"].(map[string]any); ok {
			if b, ok := rawInfo["hasPreviousPage"].(bool); ok {
				pageInfo.HasPreviousPage = b
			}
			if s, ok := rawInfo["startCursor"].(string); ok {
				pageInfo.StartCursor = s
			}
		}

		edges, _ := root["edges"].([]any)
		for _, edge := range edges {
			if m, ok := edge.(map[string]any); ok {
				collected = append(collected, ingest.Record(m))
			}
		}

		cursors[subject.Name] = fmt.Sprintf(", before: %q", pageInfo.StartCursor)
		hasPreviousPage = pageInfo.HasPreviousPage
	}

	c.logger.Debug().Str("subject", subject.Name).Int("pages", pageCount).
		Int("records", len(collected)).Msg("Paged through GraphQL subject")

	if subject.Nested == nil {
		return collected, nil
	}

	// Descend into the nested paginated field, carrying forward the cursor
	// state accumulated so far for every subject.
	nested, err := c.graphqlPaginate(ctx, query, *subject.Nested, cursors)
	return append(collected, nested...), err
}

// errGraphQLNotFound reports a NOT_FOUND GraphQL error envelope.
type errGraphQLNotFound struct{}

func (errGraphQLNotFound) Error() string { return "github: graphql resource not found" }

// graphqlFetchSubject issues one GraphQL POST and digs the named subject's
// root (the object carrying pageInfo and edges) out of the response.
func (c *Client) graphqlFetchSubject(ctx context.Context, query, subjectName string) (map[string]any, error) {
	attempts := c.retryCfg.MaxRetries + 1
	var lastErr error

	for attempt := 0; attempt < attempts; attempt++ {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, err
		}

		payload, err := json.Marshal(map[string]string{"query": query})
		if err != nil {
			return nil, fmt.Errorf("marshal query: %w", err)
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.graphqlURL, bytes.NewReader(payload))
		if err != nil {
			return nil, fmt.Errorf("build request: %w", err)
		}
		c.setHeaders(req)
		req.Header.Set("Content-Type", "application/json")

		resp, err := c.httpClient.Do(req)
		if err != nil {
			lastErr = err
			c.logger.Warn().Int("attempt", attempt+1).Err(err).Msg("GraphQL request failed")
			c.backoff(attempt)
			continue
		}

		raw, readErr := io.ReadAll(resp.Body)
		resp.Body.Close()
		if readErr != nil {
			lastErr = readErr
			c.backoff(attempt)
			continue
		}

		if resp.StatusCode == http.StatusUnauthorized {
			return nil, ErrBadCredentials
		}

		var envelope gqlResponse
		if err := json.Unmarshal(raw, &envelope); err != nil {
			lastErr = fmt.Errorf("decode response: %w", err)
			c.backoff(attempt)
			continue
		}

		if len(envelope.Errors) > 0 {
			first := envelope.Errors[0]
			switch first.Type {
			case "NOT_FOUND":
				c.logger.Warn().Str("subject", subjectName).
					Msg("Repository not found or gone on GraphQL endpoint")
				return nil, errGraphQLNotFound{}
			case "RATE_LIMITED":
				wait := c.rateLimitWait(resp)
				c.logger.Info().Dur("wait", wait).Msg("GraphQL rate limited, backing off")
				c.sleep(wait)
				attempt--
				continue
			}
			lastErr = fmt.Errorf("graphql error: %s: %s", first.Type, first.Message)
			c.backoff(attempt)
			continue
		}

		if envelope.Data == nil {
			// Non-data envelope: the REST-style message field carries the reason.
			switch envelope.Message {
			case "Not Found":
				return nil, errGraphQLNotFound{}
			case "Bad credentials":
				return nil, ErrBadCredentials
			case abuseDetectionMessage:
				c.logger.Info().Msg("Abuse detection triggered, temporarily disabling requests")
				c.sleep(c.rateLimitWait(resp) + 30*time.Second)
				attempt--
				continue
			}
			lastErr = fmt.Errorf("non-data response: %s", strings.TrimSpace(string(raw)))
			c.backoff(attempt)
			continue
		}

		root, found := findSubjectRoot(envelope.Data, subjectName)
		if !found {
			lastErr = fmt.Errorf("subject %q not present in response", subjectName)
			c.backoff(attempt)
			continue
		}
		return root, nil
	}

	return nil, fmt.Errorf("graphql page abandoned after %d attempts: %w", attempts, lastErr)
}

// findSubjectRoot walks the nested response objects looking for the named
// field and returns its value, the object carrying pageInfo and edges.
func findSubjectRoot(data map[string]any, subjectName string) (map[string]any, bool) {
	for key, value := range data {
		nested, ok := value.(map[string]any)
		if !ok {
			continue
		}
		if key == subjectName {
			return nested, true
		}
		if found, ok := findSubjectRoot(nested, subjectName); ok {
			return found, true
		}
	}
	return nil, false
}

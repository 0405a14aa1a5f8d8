/*
Package github is the paged fetcher for the GitHub REST and GraphQL APIs.

It owns pagination (offset pages for REST, backward cursors for GraphQL),
rate-limit back-off fed from response headers, and the error taxonomy the
sync pipeline depends on: transient failures consume a bounded per-page
attempt budget, a deleted repository terminates pagination with partial
results, and bad credentials surface as a fatal sentinel the caller must not
retry.
*/
package github

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/prsync/internal/ingest"
	"github.com/prsync/internal/retry"
)

// ErrBadCredentials is returned when the API rejects the token. It is fatal:
// retrying cannot help, the caller has to rotate credentials.
var ErrBadCredentials = errors.New("github: bad credentials")

// errNotFound terminates a pagination loop from inside a page fetch. It never
// escapes the client; callers see partial results and a nil error.
var errNotFound = errors.New("github: resource not found")

const abuseDetectionMessage = "You have triggered an abuse detection mechanism. " +
	"Please wait a few minutes before you try again."

// Client issues authenticated, rate-limited requests against the GitHub API.
type Client struct {
	apiBase    string
	graphqlURL string
	token      string
	httpClient *http.Client
	limiter    *rate.Limiter
	retryCfg   retry.Config
	logger     zerolog.Logger

	// sleep is swappable so tests do not wait out real rate-limit resets.
	sleep func(time.Duration)
}

// NewClient creates a GitHub API client.
func NewClient(apiBase, graphqlURL, token string, requestsPerSec int, logger zerolog.Logger) *Client {
	if requestsPerSec <= 0 {
		requestsPerSec = 10
	}
	return &Client{
		apiBase:    strings.TrimSuffix(apiBase, "/"),
		graphqlURL: graphqlURL,
		token:      token,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		limiter:    rate.NewLimiter(rate.Limit(requestsPerSec), requestsPerSec),
		retryCfg:   retry.PageFetchConfig(),
		logger:     logger,
		sleep:      time.Sleep,
	}
}

// APIBase returns the REST origin the client was configured with.
func (c *Client) APIBase() string {
	return c.apiBase
}

func (c *Client) setHeaders(req *http.Request) {
	if c.token != "" {
		req.Header.Set("Authorization", "token "+c.token)
	}
	req.Header.Set("Accept", "application/vnd.github.v3+json")
}

// rateLimitWait reads the rate-limit side channel from response headers and
// returns how long to wait before the next attempt. Zero means no throttle
// signal was present.
func (c *Client) rateLimitWait(resp *http.Response) time.Duration {
	remaining := resp.Header.Get("X-RateLimit-Remaining")
	if remaining != "" && remaining != "0" {
		return 0
	}
	resetHeader := resp.Header.Get("X-RateLimit-Reset")
	if resetHeader == "" {
		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode == http.StatusForbidden {
			return 30 * time.Second
		}
		return 0
	}
	resetUnix, err := strconv.ParseInt(resetHeader, 10, 64)
	if err != nil {
		return 30 * time.Second
	}
	wait := time.Until(time.Unix(resetUnix, 0))
	if wait < 0 {
		wait = 0
	}
	// Reset clocks can skew; never stall a worker for more than an hour.
	if wait > time.Hour {
		wait = time.Hour
	}
	return wait
}

// throttled reports whether a response is a genuine rate-limit signal: a 429
// status, an exhausted quota in the rate-limit headers, or an explicit
// Retry-After. A 403 without any of these is a real authorization failure,
// not throttling.
func throttled(resp *http.Response) bool {
	if resp.StatusCode == http.StatusTooManyRequests {
		return true
	}
	if resp.Header.Get("X-RateLimit-Remaining") == "0" {
		return true
	}
	return resp.Header.Get("Retry-After") != ""
}

// backoff sleeps out the exponential delay before the next transient attempt.
// No delay after the final attempt; the page is abandoned at that point.
func (c *Client) backoff(attempt int) {
	if attempt < c.retryCfg.MaxRetries {
		c.sleep(retry.Delay(c.retryCfg, attempt))
	}
}

// fetchJSON issues one GET and decodes the body into dst. Rate-limit
// responses are waited out and retried without consuming the transient
// attempt budget; every other failure consumes it, with exponential backoff
// between attempts. A 404 maps to errNotFound, a 401 to ErrBadCredentials.
func (c *Client) fetchJSON(ctx context.Context, url string, dst any) error {
	attempts := c.retryCfg.MaxRetries + 1
	var lastErr error

	for attempt := 0; attempt < attempts; attempt++ {
		if err := c.limiter.Wait(ctx); err != nil {
			return err
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return fmt.Errorf("build request: %w", err)
		}
		c.setHeaders(req)

		resp, err := c.httpClient.Do(req)
		if err != nil {
			lastErr = err
			c.logger.Warn().Str("url", url).Int("attempt", attempt+1).Err(err).
				Msg("Request failed")
			c.backoff(attempt)
			continue
		}

		body, readErr := io.ReadAll(resp.Body)
		resp.Body.Close()

		switch resp.StatusCode {
		case http.StatusUnauthorized:
			return ErrBadCredentials
		case http.StatusNotFound, http.StatusGone:
			return errNotFound
		case http.StatusForbidden, http.StatusTooManyRequests:
			if throttled(resp) {
				wait := c.rateLimitWait(resp)
				c.logger.Info().Str("url", url).Dur("wait", wait).
					Msg("Rate limited, backing off until reset")
				c.sleep(wait)
				// Throttling is not a genuine failure; keep the attempt budget.
				attempt--
				continue
			}
			// A plain 403 with quota to spare: access denied, not throttling.
			lastErr = fmt.Errorf("forbidden: %s", strings.TrimSpace(string(body)))
			c.logger.Warn().Str("url", url).Int("attempt", attempt+1).
				Msg("Access forbidden outside of rate limiting")
			c.backoff(attempt)
			continue
		}

		if resp.StatusCode < 200 || resp.StatusCode > 299 {
			lastErr = fmt.Errorf("unexpected status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
			c.logger.Warn().Str("url", url).Int("status", resp.StatusCode).Int("attempt", attempt+1).
				Msg("Non-success response")
			c.backoff(attempt)
			continue
		}

		if readErr != nil {
			lastErr = readErr
			c.backoff(attempt)
			continue
		}

		if err := json.Unmarshal(body, dst); err != nil {
			lastErr = fmt.Errorf("decode response: %w", err)
			c.logger.Warn().Str("url", url).Int("attempt", attempt+1).Err(err).
				Msg("Malformed response body")
			c.backoff(attempt)
			continue
		}
		return nil
	}

	return fmt.Errorf("page fetch abandoned after %d attempts: %w", attempts, lastErr)
}

// PageToken is the placeholder substituted with the page number in REST
// endpoint templates.
const PageToken = "{page}"

// PaginateEndpoint walks a REST offset-paginated endpoint until it returns an
// empty page, feeding each page into the accumulator in source order.
//
// A vanished resource (404) ends pagination early with whatever has been
// accumulated; an exhausted attempt budget abandons the remaining pages the
// same way. Both are logged, not returned: partial results are valid results.
// Only bad credentials and context cancellation propagate as errors.
func (c *Client) PaginateEndpoint(ctx context.Context, urlTemplate string, acc *ingest.Accumulator) error {
	for pageNum := 1; ; pageNum++ {
		url := strings.ReplaceAll(urlTemplate, PageToken, strconv.Itoa(pageNum))

		var page []map[string]any
		err := c.fetchJSON(ctx, url, &page)
		if err != nil {
			if errors.Is(err, ErrBadCredentials) || ctx.Err() != nil {
				return err
			}
			if errors.Is(err, errNotFound) {
				c.logger.Warn().Str("url", url).
					Msg("Resource not found or gone, ending pagination with partial results")
				return nil
			}
			c.logger.Warn().Str("url", url).Int("page", pageNum).Err(err).
				Msg("Abandoning page after exhausted attempts")
			return nil
		}

		if len(page) == 0 {
			return nil
		}

		records := make([]ingest.Record, len(page))
		for i, raw := range page {
			records[i] = ingest.Record(raw)
		}
		if err := acc.Add(records); err != nil {
			c.logger.Warn().Int("page", pageNum).Err(err).
				Msg("Incremental insertion callback failed, continuing accumulation")
		}

		c.logger.Debug().Str("url", url).Int("page", pageNum).Int("records", len(page)).
			Msg("Fetched page")
	}
}

// FetchAll is PaginateEndpoint without staggering: it returns the full
// accumulated sequence.
func (c *Client) FetchAll(ctx context.Context, urlTemplate string) ([]ingest.Record, error) {
	acc := ingest.NewAccumulator(0, nil)
	if err := c.PaginateEndpoint(ctx, urlTemplate, acc); err != nil {
		return nil, err
	}
	return acc.Records(), nil
}

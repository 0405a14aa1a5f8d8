package github

import (
	"context"
	"strings"
	"sync"

	"github.com/prsync/internal/ingest"
)

// TaggedURL is one endpoint to fetch plus fields to merge into every record
// it yields, typically the parent row's primary key.
type TaggedURL struct {
	URL string
	Tag map[string]any
}

// MultiFetch fetches a set of endpoints through a bounded worker pool and
// returns all records in the order of the originating URLs, so downstream
// processing sees results grouped by the parent record even though fetches
// complete out of order. Per-URL failures are logged and yield no records;
// they never fail the batch.
func (c *Client) MultiFetch(ctx context.Context, urls []TaggedURL, workers int) []ingest.Record {
	if workers <= 0 {
		workers = 4
	}
	if workers > len(urls) {
		workers = len(urls)
	}

	results := make([][]ingest.Record, len(urls))
	jobs := make(chan int)

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range jobs {
				results[i] = c.fetchTagged(ctx, urls[i])
			}
		}()
	}

	for i := range urls {
		jobs <- i
	}
	close(jobs)
	wg.Wait()

	var merged []ingest.Record
	for _, recs := range results {
		merged = append(merged, recs...)
	}
	return merged
}

func (c *Client) fetchTagged(ctx context.Context, tu TaggedURL) []ingest.Record {
	var records []ingest.Record
	if strings.Contains(tu.URL, PageToken) {
		all, err := c.FetchAll(ctx, tu.URL)
		if err != nil {
			c.logger.Warn().Str("url", tu.URL).Err(err).Msg("Fetch failed for tagged url")
			return nil
		}
		records = all
	} else {
		var page []map[string]any
		if err := c.fetchJSON(ctx, tu.URL, &page); err != nil {
			c.logger.Warn().Str("url", tu.URL).Err(err).Msg("Fetch failed for tagged url")
			return nil
		}
		records = make([]ingest.Record, len(page))
		for i, raw := range page {
			records[i] = ingest.Record(raw)
		}
	}

	for _, rec := range records {
		for k, v := range tu.Tag {
			rec[k] = v
		}
	}
	return records
}

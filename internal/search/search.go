// Package search queries an external solution index during the research
// phase. Results enrich agent prompts; a failed search degrades to an empty
// result set rather than failing the phase.
package search

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"github.com/tidwall/gjson"
)

// Result is one hit from the solution index.
type Result struct {
	Title   string  `json:"title"`
	URL     string  `json:"url"`
	Snippet string  `json:"snippet"`
	Score   float64 `json:"score"`
}

// Client queries the solution index with bounded retries on transient
// failures.
type Client struct {
	endpoint string
	http     *retryablehttp.Client
	logger   *slog.Logger
}

// New creates a search client for the given endpoint. Timeout bounds each
// attempt; transient HTTP failures are retried up to three times with
// backoff.
func New(endpoint string, timeout time.Duration, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}

	rc := retryablehttp.NewClient()
	rc.RetryMax = 3
	rc.RetryWaitMin = 200 * time.Millisecond
	rc.RetryWaitMax = 2 * time.Second
	rc.HTTPClient.Timeout = timeout
	rc.Logger = nil

	return &Client{
		endpoint: endpoint,
		http:     rc,
		logger:   logger,
	}
}

// Search queries the index and returns up to limit results ordered by
// relevance. Non-2xx responses and malformed payloads are errors; callers
// decide whether to degrade.
func (c *Client) Search(ctx context.Context, query string, limit int) ([]Result, error) {
	if c.endpoint == "" {
		return nil, nil
	}
	if limit <= 0 {
		limit = 5
	}

	u, err := url.Parse(c.endpoint)
	if err != nil {
		return nil, fmt.Errorf("parse search endpoint: %w", err)
	}
	q := u.Query()
	q.Set("q", query)
	q.Set("limit", fmt.Sprintf("%d", limit))
	u.RawQuery = q.Encode()

	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("build search request: %w", err)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("search request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("search returned status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("read search response: %w", err)
	}

	return parseResults(body, limit)
}

// parseResults extracts results from the index's response. The index wraps
// hits in a "results" array.
func parseResults(body []byte, limit int) ([]Result, error) {
	if !gjson.ValidBytes(body) {
		return nil, fmt.Errorf("search response is not valid JSON")
	}

	hits := gjson.GetBytes(body, "results")
	if !hits.IsArray() {
		return nil, fmt.Errorf("search response missing results array")
	}

	var results []Result
	hits.ForEach(func(_, hit gjson.Result) bool {
		var r Result
		if err := json.Unmarshal([]byte(hit.Raw), &r); err != nil {
			return true
		}
		results = append(results, r)
		return len(results) < limit
	})
	return results, nil
}

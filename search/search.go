// Package search provides a minimal Tavily web search client used by the
// gather phase of the research pipeline.
package search

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

const defaultBaseURL = "https://api.tavily.com"

// Options configure the search client.
type Options struct {
	// BaseURL overrides the API endpoint, mainly for tests.
	BaseURL string
	// MaxResults caps the number of results per query.
	MaxResults int
	// HTTPClient overrides the underlying transport.
	HTTPClient *http.Client
}

// Result is one search hit.
type Result struct {
	Title   string  `json:"title"`
	URL     string  `json:"url"`
	Content string  `json:"content"`
	Score   float64 `json:"score"`
}

// Client calls the Tavily search API. Safe for concurrent use.
type Client struct {
	apiKey     string
	baseURL    string
	maxResults int
	http       *http.Client
}

// New creates a search client authenticating with the given API key.
func New(apiKey string, optFns ...func(o *Options)) *Client {
	opts := Options{
		BaseURL:    defaultBaseURL,
		MaxResults: 5,
		HTTPClient: &http.Client{Timeout: 60 * time.Second},
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	return &Client{apiKey: apiKey, baseURL: opts.BaseURL, maxResults: opts.MaxResults, http: opts.HTTPClient}
}

// Search runs one query and returns the ranked results.
func (c *Client) Search(ctx context.Context, query string) ([]Result, error) {
	payload := map[string]any{
		"query":       query,
		"max_results": c.maxResults,
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("search: encode payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/search", bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("search: build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")

	res, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("search: %w", err)
	}
	defer res.Body.Close()

	body, _ := io.ReadAll(res.Body)
	if res.StatusCode >= 300 {
		return nil, fmt.Errorf("search: status=%d body=%s", res.StatusCode, string(body))
	}

	var parsed struct {
		Results []Result `json:"results"`
	}
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, fmt.Errorf("search: decode response: %w", err)
	}
	return parsed.Results, nil
}

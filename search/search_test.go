package search

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSearch(t *testing.T) {
	var gotPath, gotAuth string
	var gotPayload map[string]any

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotAuth = r.Header.Get("Authorization")
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotPayload))

		require.NoError(t, json.NewEncoder(w).Encode(map[string]any{
			"results": []map[string]any{
				{"title": "Zig", "url": "https://ziglang.org", "content": "A language.", "score": 0.9},
				{"title": "Docs", "url": "https://ziglang.org/docs", "content": "The docs.", "score": 0.7},
			},
		}))
	}))
	defer srv.Close()

	client := New("tvly-test", func(o *Options) {
		o.BaseURL = srv.URL
		o.MaxResults = 2
	})

	results, err := client.Search(context.Background(), "what is zig")
	require.NoError(t, err)

	assert.Equal(t, "/search", gotPath)
	assert.Equal(t, "Bearer tvly-test", gotAuth)
	assert.Equal(t, "what is zig", gotPayload["query"])
	assert.Equal(t, float64(2), gotPayload["max_results"])

	require.Len(t, results, 2)
	assert.Equal(t, "Zig", results[0].Title)
	assert.Equal(t, "https://ziglang.org", results[0].URL)
	assert.InDelta(t, 0.9, results[0].Score, 0.001)
}

func TestSearchHTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, `{"detail":"invalid api key"}`, http.StatusUnauthorized)
	}))
	defer srv.Close()

	client := New("bad-key", func(o *Options) { o.BaseURL = srv.URL })

	_, err := client.Search(context.Background(), "q")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "401")
}

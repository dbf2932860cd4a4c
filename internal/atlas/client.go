// Package atlas is the client for the Atlas knowledge base, the agent's
// primary research tool. A query is a single free-text string; the
// backend returns the top matching records and a count.
package atlas

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/dealsense/dealsense/internal/httpkit"
)

// Record is a single knowledge-base match.
type Record struct {
	Title   string  `json:"title,omitempty"`
	Content string  `json:"content"`
	Source  string  `json:"source,omitempty"`
	Score   float64 `json:"score,omitempty"`
}

// QueryResult holds the records returned for one query.
type QueryResult struct {
	Results []Record `json:"results"`
	Count   int      `json:"count"`
}

// Client queries the Atlas knowledge base over HTTP.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewClient creates an Atlas client.
func NewClient(baseURL, apiKey string, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		baseURL:    baseURL,
		apiKey:     apiKey,
		httpClient: httpkit.NewClient(),
		logger:     logger.With("component", "atlas"),
	}
}

// Query runs a free-text query and returns the top matching records.
func (c *Client) Query(ctx context.Context, query string) (*QueryResult, error) {
	payload, err := json.Marshal(map[string]string{"query": query})
	if err != nil {
		return nil, fmt.Errorf("marshal query: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/query", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("atlas query failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		errBody := httpkit.ReadErrorBody(resp.Body, 4096)
		return nil, fmt.Errorf("atlas returned %d: %s", resp.StatusCode, errBody)
	}

	var result QueryResult
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	if result.Count == 0 {
		result.Count = len(result.Results)
	}

	c.logger.Debug("atlas query", "query", query, "count", result.Count)
	return &result, nil
}

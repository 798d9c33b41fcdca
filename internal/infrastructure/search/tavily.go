package search

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"TrendWatcher/internal/config"
	"TrendWatcher/internal/domain"
	"TrendWatcher/internal/ports"
)

// TavilyClient implements ports.SearchProvider on top of the Tavily search API.
type TavilyClient struct {
	endpoint   string
	apiKey     string
	maxResults int
	topic      string
	httpClient *http.Client
}

var _ ports.SearchProvider = (*TavilyClient)(nil)

// NewTavilyClient builds a client from configuration.
func NewTavilyClient(cfg config.SearchConfig) *TavilyClient {
	return &TavilyClient{
		endpoint:   cfg.Endpoint,
		apiKey:     cfg.APIKey,
		maxResults: cfg.MaxResults,
		topic:      cfg.Topic,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

type tavilyRequest struct {
	Query      string `json:"query"`
	MaxResults int    `json:"max_results,omitempty"`
	Topic      string `json:"topic,omitempty"`
}

type tavilyResponse struct {
	Results []struct {
		Title   string  `json:"title"`
		URL     string  `json:"url"`
		Content string  `json:"content"`
		Score   float64 `json:"score"`
	} `json:"results"`
}

// Search runs one query. An empty result list is not an error.
func (c *TavilyClient) Search(ctx context.Context, query string) ([]domain.SearchDocument, error) {
	if c.apiKey == "" || c.endpoint == "" {
		return nil, fmt.Errorf("tavily client misconfigured")
	}

	body, err := json.Marshal(tavilyRequest{Query: query, MaxResults: c.maxResults, Topic: c.topic})
	if err != nil {
		return nil, fmt.Errorf("marshal search request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("new request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("search: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		payload, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, fmt.Errorf("tavily error %s: %s", resp.Status, strings.TrimSpace(string(payload)))
	}

	var decoded tavilyResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, fmt.Errorf("decode search response: %w", err)
	}

	docs := make([]domain.SearchDocument, 0, len(decoded.Results))
	for _, r := range decoded.Results {
		docs = append(docs, domain.SearchDocument{
			Title:   r.Title,
			URL:     r.URL,
			Content: r.Content,
			Score:   r.Score,
		})
	}
	return docs, nil
}

//
// Copyright (C) 2026 Kestrel Authors. All rights reserved.
//
// kestrel is licensed under the Apache License Version 2.0.
//

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
)

const (
	tavilyDefaultBaseURL = "https://api.tavily.com"
	tavilyDefaultTimeout = 30 * time.Second
)

// TavilyOption configures the Tavily provider.
type TavilyOption func(*Tavily)

// WithTavilyBaseURL overrides the API endpoint.
func WithTavilyBaseURL(baseURL string) TavilyOption {
	return func(t *Tavily) {
		t.baseURL = strings.TrimSuffix(baseURL, "/")
	}
}

// WithTavilyHTTPClient overrides the HTTP client.
func WithTavilyHTTPClient(client *http.Client) TavilyOption {
	return func(t *Tavily) {
		t.httpClient = client
	}
}

// Tavily queries the Tavily search API.
type Tavily struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client
}

var _ Provider = (*Tavily)(nil)

// NewTavily creates a Tavily provider.
func NewTavily(apiKey string, opts ...TavilyOption) *Tavily {
	t := &Tavily{
		apiKey:     apiKey,
		baseURL:    tavilyDefaultBaseURL,
		httpClient: &http.Client{Timeout: tavilyDefaultTimeout},
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Name implements Provider.
func (t *Tavily) Name() string { return "tavily" }

type tavilyRequest struct {
	APIKey     string `json:"api_key"`
	Query      string `json:"query"`
	MaxResults int    `json:"max_results"`
}

type tavilyResponse struct {
	Results []struct {
		Title   string  `json:"title"`
		URL     string  `json:"url"`
		Content string  `json:"content"`
		Score   float64 `json:"score"`
	} `json:"results"`
}

// Search implements Provider.
func (t *Tavily) Search(ctx context.Context, query string, maxResults int) ([]Result, error) {
	if strings.TrimSpace(query) == "" {
		return nil, fmt.Errorf("query cannot be empty")
	}
	if maxResults <= 0 {
		maxResults = 5
	}

	payload, err := json.Marshal(tavilyRequest{APIKey: t.apiKey, Query: query, MaxResults: maxResults})
	if err != nil {
		return nil, fmt.Errorf("marshal tavily request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.baseURL+"/search", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("create tavily request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.httpClient.Do(req)
	if err != nil {
		return nil, Retryable(fmt.Errorf("tavily request: %w", err))
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= http.StatusInternalServerError {
		return nil, Retryable(fmt.Errorf("tavily returned status %d", resp.StatusCode))
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("tavily returned status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read tavily response: %w", err)
	}
	var parsed tavilyResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, fmt.Errorf("parse tavily response: %w", err)
	}

	results := make([]Result, 0, len(parsed.Results))
	for _, r := range parsed.Results {
		results = append(results, Result{
			URL:            r.URL,
			Title:          r.Title,
			Snippet:        r.Content,
			RelevanceScore: r.Score,
			SourceTag:      t.Name(),
		})
	}
	return results, nil
}

//
// Copyright (C) 2026 Kestrel Authors. All rights reserved.
//
// kestrel is licensed under the Apache License Version 2.0.
//

package search

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const (
	ddgDefaultBaseURL   = "https://api.duckduckgo.com"
	ddgDefaultUserAgent = "kestrel-research/1.0"
	ddgDefaultTimeout   = 30 * time.Second
)

// DuckDuckGoOption configures the DuckDuckGo provider.
type DuckDuckGoOption func(*DuckDuckGo)

// WithDuckDuckGoBaseURL overrides the API endpoint.
func WithDuckDuckGoBaseURL(baseURL string) DuckDuckGoOption {
	return func(d *DuckDuckGo) {
		d.baseURL = strings.TrimSuffix(baseURL, "/")
	}
}

// WithDuckDuckGoHTTPClient overrides the HTTP client.
func WithDuckDuckGoHTTPClient(client *http.Client) DuckDuckGoOption {
	return func(d *DuckDuckGo) {
		d.httpClient = client
	}
}

// DuckDuckGo queries the DuckDuckGo Instant Answer API. It needs no API
// key, which makes it the fallback of last resort.
type DuckDuckGo struct {
	baseURL    string
	userAgent  string
	httpClient *http.Client
}

var _ Provider = (*DuckDuckGo)(nil)

// NewDuckDuckGo creates a DuckDuckGo provider.
func NewDuckDuckGo(opts ...DuckDuckGoOption) *DuckDuckGo {
	d := &DuckDuckGo{
		baseURL:    ddgDefaultBaseURL,
		userAgent:  ddgDefaultUserAgent,
		httpClient: &http.Client{Timeout: ddgDefaultTimeout},
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Name implements Provider.
func (d *DuckDuckGo) Name() string { return "duckduckgo" }

type ddgResponse struct {
	Heading       string `json:"Heading"`
	AbstractText  string `json:"AbstractText"`
	AbstractURL   string `json:"AbstractURL"`
	RelatedTopics []struct {
		Text     string `json:"Text"`
		FirstURL string `json:"FirstURL"`
	} `json:"RelatedTopics"`
}

// Search implements Provider. The instant answer abstract ranks first,
// then related topics.
func (d *DuckDuckGo) Search(ctx context.Context, query string, maxResults int) ([]Result, error) {
	if strings.TrimSpace(query) == "" {
		return nil, fmt.Errorf("query cannot be empty")
	}
	if maxResults <= 0 {
		maxResults = 5
	}

	reqURL := fmt.Sprintf("%s/?q=%s&format=json&no_html=1&skip_disambig=1",
		d.baseURL, url.QueryEscape(query))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, fmt.Errorf("create duckduckgo request: %w", err)
	}
	req.Header.Set("User-Agent", d.userAgent)
	req.Header.Set("Accept", "application/json")

	resp, err := d.httpClient.Do(req)
	if err != nil {
		return nil, Retryable(fmt.Errorf("duckduckgo request: %w", err))
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= http.StatusInternalServerError {
		return nil, Retryable(fmt.Errorf("duckduckgo returned status %d", resp.StatusCode))
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("duckduckgo returned status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read duckduckgo response: %w", err)
	}
	var parsed ddgResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, fmt.Errorf("parse duckduckgo response: %w", err)
	}

	var results []Result
	if parsed.AbstractURL != "" && parsed.AbstractText != "" {
		results = append(results, Result{
			URL:       parsed.AbstractURL,
			Title:     parsed.Heading,
			Snippet:   parsed.AbstractText,
			SourceTag: d.Name(),
		})
	}
	for _, topic := range parsed.RelatedTopics {
		if len(results) >= maxResults {
			break
		}
		if topic.FirstURL == "" || topic.Text == "" {
			continue
		}
		results = append(results, Result{
			URL:       topic.FirstURL,
			Title:     topicTitle(topic.Text),
			Snippet:   topic.Text,
			SourceTag: d.Name(),
		})
	}
	if len(results) > maxResults {
		results = results[:maxResults]
	}
	return results, nil
}

// topicTitle takes the leading clause of a related-topic text as the title.
func topicTitle(text string) string {
	if idx := strings.Index(text, " - "); idx > 0 {
		return text[:idx]
	}
	const maxTitle = 80
	if len(text) > maxTitle {
		return text[:maxTitle]
	}
	return text
}

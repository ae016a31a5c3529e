//
// Copyright (C) 2026 Kestrel Authors. All rights reserved.
//
// kestrel is licensed under the Apache License Version 2.0.
//

// Package search defines the information-retrieval capability: providers
// returning ranked results for a query, each wrapped in a circuit breaker,
// with an ordered fallback chain tried until one returns results.
package search

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/kestrel-research/kestrel/breaker"
	"github.com/kestrel-research/kestrel/log"
)

// Result is one search hit.
type Result struct {
	URL            string  `json:"url"`
	Title          string  `json:"title"`
	Snippet        string  `json:"snippet"`
	RelevanceScore float64 `json:"relevance_score,omitempty"`
	SourceTag      string  `json:"source_tag"`
}

// Provider returns ranked results for a query.
type Provider interface {
	Name() string
	Search(ctx context.Context, query string, maxResults int) ([]Result, error)
}

// ErrAllProvidersFailed reports that every provider in the chain either
// failed or returned nothing.
var ErrAllProvidersFailed = errors.New("all search providers failed")

// retryableError marks a transient failure (HTTP 429/5xx) that the caller
// may retry with backoff.
type retryableError struct {
	err error
}

func (e *retryableError) Error() string { return e.err.Error() }
func (e *retryableError) Unwrap() error { return e.err }

// Retryable wraps a transient error so withRetry attempts it again.
func Retryable(err error) error {
	return &retryableError{err: err}
}

// IsRetryable reports whether the error was marked transient.
func IsRetryable(err error) bool {
	var re *retryableError
	return errors.As(err, &re)
}

// RetryPolicy is the backoff applied to transient provider failures.
type RetryPolicy struct {
	MaxAttempts     int
	InitialInterval time.Duration
	BackoffFactor   float64
	MaxInterval     time.Duration
}

// DefaultRetryPolicy retries twice after the first attempt.
var DefaultRetryPolicy = RetryPolicy{
	MaxAttempts:     3,
	InitialInterval: 500 * time.Millisecond,
	BackoffFactor:   2.0,
	MaxInterval:     5 * time.Second,
}

// NextDelay returns the backoff delay after the given attempt, counted
// from 1.
func (p RetryPolicy) NextDelay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	factor := p.BackoffFactor
	if factor <= 0 {
		factor = 1.0
	}
	delay := float64(p.InitialInterval) * math.Pow(factor, float64(attempt-1))
	if p.MaxInterval > 0 {
		delay = math.Min(delay, float64(p.MaxInterval))
	}
	return time.Duration(delay)
}

func withRetry(ctx context.Context, policy RetryPolicy, fn func() ([]Result, error)) ([]Result, error) {
	attempts := policy.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}
	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		results, err := fn()
		if err == nil {
			return results, nil
		}
		lastErr = err
		if !IsRetryable(err) || attempt == attempts {
			break
		}
		select {
		case <-time.After(policy.NextDelay(attempt)):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return nil, lastErr
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithRetryPolicy overrides the transient-failure backoff.
func WithRetryPolicy(policy RetryPolicy) ClientOption {
	return func(c *Client) {
		c.retry = policy
	}
}

// WithBreakerRegistry shares a breaker registry with other components.
func WithBreakerRegistry(reg *breaker.Registry) ClientOption {
	return func(c *Client) {
		c.breakers = reg
	}
}

// Client tries providers in order until one returns a non-empty result set.
// Each provider gets its own circuit breaker so a dead provider fails fast
// without poisoning the others.
type Client struct {
	providers []Provider
	breakers  *breaker.Registry
	retry     RetryPolicy
}

// NewClient creates a fallback chain over the providers, tried in the
// order given.
func NewClient(providers []Provider, opts ...ClientOption) *Client {
	c := &Client{
		providers: providers,
		breakers:  breaker.NewRegistry(5, 30*time.Second),
		retry:     DefaultRetryPolicy,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Search queries providers in order. Transient failures are retried with
// backoff before counting against the provider's breaker. Empty result
// sets fall through to the next provider.
func (c *Client) Search(ctx context.Context, query string, maxResults int) ([]Result, error) {
	var lastErr error
	for _, p := range c.providers {
		br := c.breakers.Get(p.Name())
		var results []Result
		err := br.Do(ctx, func(ctx context.Context) error {
			var innerErr error
			results, innerErr = withRetry(ctx, c.retry, func() ([]Result, error) {
				return p.Search(ctx, query, maxResults)
			})
			return innerErr
		})
		if err != nil {
			if errors.Is(err, breaker.ErrOpen) {
				log.Debugw("search provider skipped, breaker open", "provider", p.Name())
			} else {
				log.Warnw("search provider failed", "provider", p.Name(), "error", err)
			}
			lastErr = err
			continue
		}
		if len(results) > 0 {
			return results, nil
		}
		log.Debugw("search provider returned no results", "provider", p.Name(), "query", query)
	}
	if lastErr != nil {
		return nil, fmt.Errorf("%w: %v", ErrAllProvidersFailed, lastErr)
	}
	return nil, nil
}

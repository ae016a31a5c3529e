//
// Copyright (C) 2026 Kestrel Authors. All rights reserved.
//
// kestrel is licensed under the Apache License Version 2.0.
//

// Package breaker provides a circuit breaker for unreliable external calls.
//
// A breaker passes calls through while closed, counting consecutive
// failures. Once the failure count reaches the configured threshold the
// breaker opens and rejects calls immediately until the cooldown elapses,
// after which exactly one trial call is admitted: success closes the breaker,
// failure reopens it and restarts the cooldown. Breaker instances are keyed
// per external dependency, never shared globally.
package breaker

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrOpen is returned when a call is rejected because the breaker is open
// or a half-open trial is already in flight.
var ErrOpen = errors.New("circuit breaker is open")

// State is the breaker state.
type State int

// Breaker states.
const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// Breaker is a mutex-guarded circuit breaker. Safe for concurrent use.
type Breaker struct {
	threshold int
	cooldown  time.Duration
	now       func() time.Time

	mu          sync.Mutex
	state       State
	failures    int
	lastFailure time.Time
	probing     bool
}

// Option configures a Breaker.
type Option func(*Breaker)

// WithClock overrides the breaker's time source. Intended for tests.
func WithClock(now func() time.Time) Option {
	return func(b *Breaker) {
		b.now = now
	}
}

// New creates a breaker that opens after threshold consecutive failures and
// probes recovery after cooldown.
func New(threshold int, cooldown time.Duration, opts ...Option) *Breaker {
	b := &Breaker{
		threshold: threshold,
		cooldown:  cooldown,
		now:       time.Now,
		state:     StateClosed,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Do runs fn under the breaker. If the breaker is open the call is rejected
// with ErrOpen without invoking fn; otherwise fn's error feeds the breaker's
// failure accounting and is returned as-is.
func (b *Breaker) Do(ctx context.Context, fn func(context.Context) error) error {
	if err := b.allow(); err != nil {
		return err
	}
	err := fn(ctx)
	b.record(err == nil)
	return err
}

// State returns the current state, accounting for an elapsed cooldown.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state == StateOpen && b.cooldownElapsed() {
		return StateHalfOpen
	}
	return b.state
}

// Failures returns the consecutive failure count.
func (b *Breaker) Failures() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.failures
}

func (b *Breaker) allow() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	switch b.state {
	case StateClosed:
		return nil
	case StateOpen:
		if !b.cooldownElapsed() {
			return ErrOpen
		}
		// Cooldown elapsed: admit a single trial call.
		b.state = StateHalfOpen
		b.probing = true
		return nil
	case StateHalfOpen:
		if b.probing {
			return ErrOpen
		}
		b.probing = true
		return nil
	}
	return nil
}

func (b *Breaker) record(success bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.probing = false
	if success {
		b.failures = 0
		b.state = StateClosed
		return
	}
	b.failures++
	b.lastFailure = b.now()
	if b.state == StateHalfOpen || b.failures >= b.threshold {
		b.state = StateOpen
	}
}

func (b *Breaker) cooldownElapsed() bool {
	return !b.lastFailure.IsZero() && b.now().Sub(b.lastFailure) >= b.cooldown
}

// Registry hands out one breaker per named dependency.
type Registry struct {
	threshold int
	cooldown  time.Duration

	mu       sync.Mutex
	breakers map[string]*Breaker
}

// NewRegistry creates a registry whose breakers share threshold and cooldown.
func NewRegistry(threshold int, cooldown time.Duration) *Registry {
	return &Registry{
		threshold: threshold,
		cooldown:  cooldown,
		breakers:  make(map[string]*Breaker),
	}
}

// Get returns the breaker for name, creating it on first use.
func (r *Registry) Get(name string) *Breaker {
	r.mu.Lock()
	defer r.mu.Unlock()
	b, ok := r.breakers[name]
	if !ok {
		b = New(r.threshold, r.cooldown)
		r.breakers[name] = b
	}
	return b
}

// Package ratelimit spaces out calls to the extraction service.
package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/time/rate"

	"github.com/JakeFAU/llm-docs-crawler/internal/metrics"
)

// Governor enforces a strict minimum interval between successive calls. A
// limiter with a burst of one never lets two calls through closer together
// than the interval, however long the caller has been idle.
type Governor struct {
	limiter  *rate.Limiter
	interval time.Duration
	label    string
}

// NewGovernor builds a Governor allowing at most rpm calls per minute
// (interval = 60s / rpm). label tags the delay metric.
func NewGovernor(rpm int, label string) (*Governor, error) {
	if rpm <= 0 {
		return nil, errors.New("requests per minute must be > 0")
	}
	interval := time.Minute / time.Duration(rpm)
	return NewGovernorWithInterval(interval, label), nil
}

// NewGovernorWithInterval builds a Governor from an explicit spacing.
func NewGovernorWithInterval(interval time.Duration, label string) *Governor {
	if label == "" {
		label = "extraction"
	}
	limit := rate.Inf
	if interval > 0 {
		limit = rate.Every(interval)
	}
	return &Governor{
		limiter:  rate.NewLimiter(limit, 1),
		interval: interval,
		label:    label,
	}
}

// Interval returns the enforced minimum spacing.
func (g *Governor) Interval() time.Duration {
	return g.interval
}

// Wait blocks until the next call may proceed and returns how long it waited.
func (g *Governor) Wait(ctx context.Context) (time.Duration, error) {
	start := time.Now()
	if err := g.limiter.Wait(ctx); err != nil {
		return time.Since(start), fmt.Errorf("rate limit wait: %w", err)
	}
	waited := time.Since(start)
	if waited > time.Millisecond {
		metrics.ObserveRateLimitDelay(g.label, waited)
	}
	return waited, nil
}

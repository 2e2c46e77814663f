// Package session owns the lifetime of the render backend and recreates it
// after a session-fatal failure.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/llm-docs-crawler/internal/crawler"
	"github.com/JakeFAU/llm-docs-crawler/internal/metrics"
)

// Options tune a Supervisor.
type Options struct {
	ResetDelay time.Duration
	Pause      crawler.PauseFunc
	Logger     *zap.Logger
}

// Supervisor hands out the current render session, creating it on demand.
type Supervisor struct {
	factory    crawler.RendererFactory
	resetDelay time.Duration
	pause      crawler.PauseFunc
	logger     *zap.Logger

	mu      sync.Mutex
	current crawler.Renderer
	resets  int
}

// New builds a Supervisor around factory.
func New(factory crawler.RendererFactory, opts Options) (*Supervisor, error) {
	if factory == nil {
		return nil, errors.New("renderer factory is required")
	}
	if opts.Pause == nil {
		opts.Pause = crawler.Pause
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return &Supervisor{
		factory:    factory,
		resetDelay: opts.ResetDelay,
		pause:      opts.Pause,
		logger:     opts.Logger,
	}, nil
}

// Acquire returns the live session, starting one if needed.
func (s *Supervisor) Acquire(ctx context.Context) (crawler.Renderer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current != nil {
		return s.current, nil
	}
	renderer, err := s.factory(ctx)
	if err != nil {
		return nil, fmt.Errorf("start render session: %w", err)
	}
	s.current = renderer
	return renderer, nil
}

// Reset discards the current session after cause, waits out the reset delay,
// and leaves the next Acquire to start a new one. Close errors are logged,
// not returned.
func (s *Supervisor) Reset(ctx context.Context, cause error) error {
	s.mu.Lock()
	old := s.current
	s.current = nil
	s.resets++
	count := s.resets
	s.mu.Unlock()

	if old != nil {
		if err := old.Close(); err != nil {
			s.logger.Debug("closing failed render session", zap.Error(err))
		}
	}
	metrics.ObserveSessionReset()
	s.logger.Warn("render session reset",
		zap.Int("resets", count),
		zap.Duration("delay", s.resetDelay),
		zap.NamedError("cause", cause),
	)

	if err := s.pause(ctx, s.resetDelay); err != nil {
		return fmt.Errorf("session reset: %w", err)
	}
	return nil
}

// Resets reports how many times the session has been reset.
func (s *Supervisor) Resets() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.resets
}

// Close shuts down the current session if one is running.
func (s *Supervisor) Close() error {
	s.mu.Lock()
	old := s.current
	s.current = nil
	s.mu.Unlock()
	if old == nil {
		return nil
	}
	if err := old.Close(); err != nil {
		return fmt.Errorf("close render session: %w", err)
	}
	return nil
}

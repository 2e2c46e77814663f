// Package auto renders pages over plain HTTP and promotes the ones that look
// client-rendered to a browser session.
package auto

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/JakeFAU/llm-docs-crawler/internal/crawler"
	"github.com/JakeFAU/llm-docs-crawler/internal/logging"
)

// Detector decides whether an HTTP-rendered page needs a browser.
type Detector interface {
	ShouldPromote(page crawler.Page) bool
}

// Renderer implements crawler.Renderer. The browser session is started on the
// first promotion, so a fully static site never launches one.
type Renderer struct {
	http     crawler.Renderer
	browser  crawler.RendererFactory
	detector Detector
	logger   *zap.Logger

	session crawler.Renderer
}

// New wires an HTTP renderer, a browser factory and a detector together.
func New(http crawler.Renderer, browser crawler.RendererFactory, detector Detector, logger *zap.Logger) (*Renderer, error) {
	switch {
	case http == nil:
		return nil, errors.New("http renderer is required")
	case browser == nil:
		return nil, errors.New("browser factory is required")
	case detector == nil:
		return nil, errors.New("detector is required")
	}
	logger = logging.OrNop(logger)
	return &Renderer{http: http, browser: browser, detector: detector, logger: logger}, nil
}

// Factory returns a crawler.RendererFactory that builds a fresh Renderer per
// session. httpFactory and browser are invoked for every session.
func Factory(httpFactory, browser crawler.RendererFactory, detector Detector, logger *zap.Logger) crawler.RendererFactory {
	return func(ctx context.Context) (crawler.Renderer, error) {
		h, err := httpFactory(ctx)
		if err != nil {
			return nil, fmt.Errorf("create http renderer: %w", err)
		}
		r, err := New(h, browser, detector, logger)
		if err != nil {
			_ = h.Close()
			return nil, err
		}
		return r, nil
	}
}

// Render fetches url over HTTP and re-renders it in the browser when the
// detector asks for it. Errors raised by the HTTP fetch are returned as-is.
func (r *Renderer) Render(ctx context.Context, url string) (crawler.Page, error) {
	page, err := r.http.Render(ctx, url)
	if err != nil {
		return crawler.Page{}, err
	}
	if !r.detector.ShouldPromote(page) {
		return page, nil
	}

	r.logger.Debug("promoting page to browser", zap.String("url", url), zap.Int("status", page.StatusCode))
	if r.session == nil {
		session, err := r.browser(ctx)
		if err != nil {
			return crawler.Page{}, crawler.NewFetchError(crawler.KindSessionFatal, url, fmt.Errorf("start browser: %w", err))
		}
		r.session = session
	}
	return r.session.Render(ctx, url)
}

// Close releases the HTTP renderer and any browser session.
func (r *Renderer) Close() error {
	var errs []error
	if err := r.http.Close(); err != nil {
		errs = append(errs, err)
	}
	if r.session != nil {
		if err := r.session.Close(); err != nil {
			errs = append(errs, err)
		}
		r.session = nil
	}
	return errors.Join(errs...)
}

// Package collyfetcher renders pages over plain HTTP with gocolly. It is the
// browserless backend for static documentation sites.
package collyfetcher

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gocolly/colly/v2"
	"go.uber.org/zap"

	"github.com/JakeFAU/llm-docs-crawler/internal/crawler"
	"github.com/JakeFAU/llm-docs-crawler/internal/fetcher"
	"github.com/JakeFAU/llm-docs-crawler/internal/logging"
)

// Config controls collector behavior.
type Config struct {
	UserAgent     string
	RespectRobots bool
	Timeout       time.Duration
	MinWordCount  int
}

// Renderer implements crawler.Renderer using a Colly collector.
type Renderer struct {
	cfg           Config
	baseCollector *colly.Collector
}

type collectorHooks interface {
	OnResponse(colly.ResponseCallback)
	OnError(colly.ErrorCallback)
}

type visitResult struct {
	status int
	body   []byte
	err    error
}

// New builds a Renderer.
func New(cfg Config, logger *zap.Logger) *Renderer {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	logger = logging.OrNop(logger)
	c := colly.NewCollector(colly.Async(false))
	c.AllowURLRevisit = true
	c.ParseHTTPErrorResponse = true
	c.IgnoreRobotsTxt = !cfg.RespectRobots
	if cfg.UserAgent != "" {
		c.UserAgent = cfg.UserAgent
	}
	c.SetRequestTimeout(cfg.Timeout)
	c.WithTransport(&robotsAwareTransport{base: newHTTPTransport(), logger: logger})

	return &Renderer{cfg: cfg, baseCollector: c}
}

// Factory returns a crawler.RendererFactory. Every session shares the
// underlying transport.
func Factory(cfg Config, logger *zap.Logger) crawler.RendererFactory {
	r := New(cfg, logger)
	return func(context.Context) (crawler.Renderer, error) {
		return r, nil
	}
}

// Close is a no-op; the collector holds no per-session resources.
func (r *Renderer) Close() error {
	return nil
}

// Render executes a single GET and converts the body into a Page.
func (r *Renderer) Render(ctx context.Context, url string) (crawler.Page, error) {
	collector := r.baseCollector.Clone()
	var result visitResult
	configureCollectorHooks(collector, &result)

	if err := runCollector(ctx, collector, url, &result); err != nil {
		return crawler.Page{}, err
	}
	return fetcher.BuildPage(url, result.status, string(result.body), r.cfg.MinWordCount), nil
}

func configureCollectorHooks(hooks collectorHooks, result *visitResult) {
	hooks.OnResponse(func(resp *colly.Response) {
		result.status = resp.StatusCode
		result.body = append([]byte(nil), resp.Body...)
	})
	hooks.OnError(func(resp *colly.Response, err error) {
		if resp != nil && resp.StatusCode != 0 {
			result.status = resp.StatusCode
			result.body = append([]byte(nil), resp.Body...)
		}
		result.err = err
	})
}

func runCollector(ctx context.Context, collector *colly.Collector, url string, result *visitResult) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("colly fetch canceled: %w", err)
	}
	done := make(chan error, 1)
	go func() {
		done <- collector.Visit(url)
	}()

	select {
	case <-ctx.Done():
		return fmt.Errorf("colly fetch canceled: %w", ctx.Err())
	case err := <-done:
		if err != nil {
			return classify(url, err)
		}
		if result.err != nil && result.status == 0 {
			return classify(url, result.err)
		}
		return nil
	}
}

// classify marks request-level failures. Robots and URL rejections never
// change on retry; everything else is treated as transient.
func classify(url string, err error) error {
	switch {
	case errors.Is(err, colly.ErrRobotsTxtBlocked),
		errors.Is(err, colly.ErrForbiddenURL),
		errors.Is(err, colly.ErrForbiddenDomain),
		errors.Is(err, colly.ErrMissingURL):
		return crawler.NewFetchError(crawler.KindDeterministic, url, err)
	default:
		return crawler.NewFetchError(crawler.KindTransient, url, err)
	}
}

func newHTTPTransport() *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   15 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
	}
}

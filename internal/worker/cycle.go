package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/JakeFAU/llm-docs-crawler/internal/crawler"
	"github.com/JakeFAU/llm-docs-crawler/internal/extract"
	"github.com/JakeFAU/llm-docs-crawler/internal/htmlx"
	"github.com/JakeFAU/llm-docs-crawler/internal/metrics"
	"github.com/JakeFAU/llm-docs-crawler/internal/telemetry"
)

var errInvalidJSON = errors.New("extraction reply is not valid JSON")

// Extraction outcomes recorded in metrics.
const (
	extractionSuccess  = "success"
	extractionError    = "error"
	extractionDegraded = "degraded"
)

func (w *Worker) process(ctx context.Context, renderer crawler.Renderer, claim crawler.Claim) error {
	ctx, span := telemetry.Tracer().Start(ctx, "crawl.url", trace.WithAttributes(
		attribute.String("url.full", claim.URL),
		attribute.Int("crawl.depth", claim.Depth),
	))
	defer span.End()

	logger := w.logger.With(zap.String("url", claim.URL), zap.Int("depth", claim.Depth))
	logger.Info("crawling", zap.String("status", string(crawler.StatusProcessing)))

	page, err := w.fetch(ctx, logger, renderer, claim.URL)
	if err != nil {
		if ctx.Err() != nil || crawler.IsSessionFatal(err) {
			return err
		}
		return w.fail(ctx, logger, claim, fmt.Sprintf("render: %v", err))
	}
	if !page.Success {
		return w.fail(ctx, logger, claim, page.Error)
	}

	content, degraded, err := w.extract(ctx, logger, claim.URL, page)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		return w.fail(ctx, logger, claim, fmt.Sprintf("extract: %v", err))
	}

	w.persist(ctx, logger, claim, content, page.Markdown, degraded)
	w.discover(ctx, logger, claim, page.HTML)

	if err := w.deps.Frontier.SetStatus(ctx, claim.URL, crawler.StatusCompleted); err != nil {
		return fmt.Errorf("mark %s completed: %w", claim.URL, err)
	}
	w.processed++
	span.SetAttributes(attribute.String("crawl.status", string(crawler.StatusCompleted)))
	metrics.ObservePage(claim.URL, string(crawler.StatusCompleted))
	logger.Info("successfully crawled and extracted",
		zap.String("status", string(crawler.StatusCompleted)),
		zap.Bool("degraded", degraded),
		zap.Int("processed", w.processed),
	)

	if w.deps.Checkpoint != nil && w.cfg.CheckpointEvery > 0 && w.processed%w.cfg.CheckpointEvery == 0 {
		w.deps.Checkpoint.PushAsync(ctx)
	}
	return nil
}

// fetch renders url with at most one retry. Only transient failures are
// retried; session-fatal and deterministic ones return immediately.
func (w *Worker) fetch(ctx context.Context, logger *zap.Logger, renderer crawler.Renderer, url string) (crawler.Page, error) {
	const attempts = 2
	for attempt := 1; ; attempt++ {
		page, err := renderer.Render(ctx, url)
		if err == nil {
			return page, nil
		}
		if ctx.Err() != nil || crawler.KindOf(err) != crawler.KindTransient || attempt == attempts {
			return crawler.Page{}, err
		}
		logger.Warn("render failed, retrying",
			zap.Int("attempt", attempt),
			zap.Duration("backoff", w.cfg.FetchRetryBackoff),
			zap.Error(err),
		)
		if perr := w.pause(ctx, w.cfg.FetchRetryBackoff); perr != nil {
			return crawler.Page{}, perr
		}
	}
}

// extract asks the model for structured JSON. With the markdown fallback
// enabled a failed extraction degrades to {"raw_markdown": ...}.
func (w *Worker) extract(ctx context.Context, logger *zap.Logger, url string, page crawler.Page) (string, bool, error) {
	html := page.HTML
	if w.cfg.PruneHTML {
		pruned, err := htmlx.Prune(html)
		if err != nil {
			logger.Warn("html pruning failed, sending full page", zap.Error(err))
		} else {
			html = pruned
		}
	}

	if _, err := w.deps.Governor.Wait(ctx); err != nil {
		return "", false, err
	}

	start := w.deps.Clock.Now()
	reply, err := w.deps.Extractor.Extract(ctx, extract.BuildPrompt(url, html, w.cfg.MaxHTMLChars))
	if err == nil {
		reply = extract.CleanResponse(reply)
		if !json.Valid([]byte(reply)) {
			err = errInvalidJSON
		}
	}
	elapsed := w.deps.Clock.Now().Sub(start)
	if err == nil {
		metrics.ObserveExtraction(extractionSuccess, elapsed)
		return reply, false, nil
	}
	if ctx.Err() != nil || !w.cfg.MarkdownFallback || page.Markdown == "" {
		metrics.ObserveExtraction(extractionError, elapsed)
		return "", false, err
	}

	metrics.ObserveExtraction(extractionDegraded, elapsed)
	logger.Warn("extraction failed, keeping raw markdown", zap.Error(err))
	fallback, merr := json.Marshal(map[string]string{"raw_markdown": page.Markdown})
	if merr != nil {
		return "", false, fmt.Errorf("encode markdown fallback: %w", merr)
	}
	return string(fallback), true, nil
}

func (w *Worker) fail(ctx context.Context, logger *zap.Logger, claim crawler.Claim, reason string) error {
	if err := w.deps.Frontier.SetStatus(ctx, claim.URL, crawler.StatusFailed); err != nil {
		return fmt.Errorf("mark %s failed: %w", claim.URL, err)
	}
	metrics.ObservePage(claim.URL, string(crawler.StatusFailed))
	trace.SpanFromContext(ctx).SetAttributes(
		attribute.String("crawl.status", string(crawler.StatusFailed)),
		attribute.String("crawl.reason", reason),
	)
	logger.Warn("url failed", zap.String("status", string(crawler.StatusFailed)), zap.String("reason", reason))
	return nil
}

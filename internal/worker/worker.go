// Package worker drives the crawl: one claim -> fetch -> extract -> persist ->
// discover pass at a time, with session recovery around it.
package worker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/llm-docs-crawler/internal/crawler"
	"github.com/JakeFAU/llm-docs-crawler/internal/logging"
	"github.com/JakeFAU/llm-docs-crawler/internal/metrics"
)

// StepResult tells the driver what a Step did.
type StepResult int

const (
	// StepProcessed means one URL was claimed and advanced.
	StepProcessed StepResult = iota
	// StepIdle means nothing was pending.
	StepIdle
)

func (r StepResult) String() string {
	switch r {
	case StepProcessed:
		return "processed"
	case StepIdle:
		return "idle"
	default:
		return fmt.Sprintf("step(%d)", int(r))
	}
}

// maxAcquireFailures bounds how many times in a row Run retries a render
// session that cannot be started.
const maxAcquireFailures = 3

// ErrSessionUnavailable marks a Step that could not obtain a render session.
var ErrSessionUnavailable = errors.New("render session unavailable")

// Sessions hands out the current render session.
type Sessions interface {
	Acquire(ctx context.Context) (crawler.Renderer, error)
	Reset(ctx context.Context, cause error) error
}

// Governor spaces extraction calls.
type Governor interface {
	Wait(ctx context.Context) (time.Duration, error)
}

// Filter resolves discovered links and re-checks claimed URLs.
type Filter interface {
	Resolve(rawHref, base string) (string, bool)
	Admit(url string) (reason string, ok bool)
}

// Checkpointer mirrors the frontier remotely.
type Checkpointer interface {
	PushAsync(ctx context.Context) bool
	Flush(ctx context.Context) error
}

// Config controls Worker behavior.
type Config struct {
	SeedURL           string
	RunID             string
	PoliteDelay       time.Duration
	FetchRetryBackoff time.Duration
	CheckpointEvery   int
	FlushTimeout      time.Duration
	OutputDir         string
	ArtifactPrefix    string
	MaxHTMLChars      int
	PruneHTML         bool
	MarkdownFallback  bool
	PresignTTL        time.Duration
	Topic             string
}

// Deps are the collaborators a Worker needs. Presigner, Index, Publisher and
// Checkpoint are optional.
type Deps struct {
	Frontier   crawler.Frontier
	Filter     Filter
	Sessions   Sessions
	Governor   Governor
	Extractor  crawler.Extractor
	Store      crawler.ObjectStore
	Presigner  crawler.Presigner
	Index      crawler.ArtifactIndex
	Publisher  crawler.Publisher
	Hasher     crawler.Hasher
	IDs        crawler.IDGenerator
	Clock      crawler.Clock
	Checkpoint Checkpointer
	Pause      crawler.PauseFunc
	Logger     *zap.Logger
}

// Worker runs the crawl loop. It is not safe for concurrent use; the crawl
// is strictly sequential.
type Worker struct {
	deps      Deps
	cfg       Config
	logger    *zap.Logger
	pause     crawler.PauseFunc
	processed int
}

// New validates deps and constructs a Worker.
func New(deps Deps, cfg Config) (*Worker, error) {
	switch {
	case deps.Frontier == nil:
		return nil, errors.New("frontier is required")
	case deps.Filter == nil:
		return nil, errors.New("filter is required")
	case deps.Sessions == nil:
		return nil, errors.New("render sessions are required")
	case deps.Governor == nil:
		return nil, errors.New("rate governor is required")
	case deps.Extractor == nil:
		return nil, errors.New("extractor is required")
	case deps.Store == nil:
		return nil, errors.New("object store is required")
	case deps.Hasher == nil || deps.IDs == nil || deps.Clock == nil:
		return nil, errors.New("hasher, id generator and clock are required")
	}
	logger := logging.OrNop(deps.Logger)
	pause := deps.Pause
	if pause == nil {
		pause = crawler.Pause
	}
	if cfg.FlushTimeout <= 0 {
		cfg.FlushTimeout = 2 * time.Minute
	}
	if cfg.OutputDir == "" {
		cfg.OutputDir = "extracted_data"
	}
	return &Worker{deps: deps, cfg: cfg, logger: logger, pause: pause}, nil
}

// Processed returns how many URLs reached completed during this run.
func (w *Worker) Processed() int {
	return w.processed
}

// Run seeds the frontier and calls Step until the frontier drains or ctx is
// done. Session-fatal failures reset the render session and the loop goes
// on, unless the session cannot be started maxAcquireFailures times in a
// row. The checkpoint is flushed on every return path.
func (w *Worker) Run(ctx context.Context) error {
	defer w.flush(ctx)

	if w.cfg.SeedURL != "" {
		seed := w.canonicalSeed()
		created, err := w.deps.Frontier.Insert(ctx, seed, 0)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return ctxErr
			}
			return fmt.Errorf("insert seed: %w", err)
		}
		w.logger.Info("seed ready", zap.String("url", seed), zap.Bool("inserted", created))
	}

	acquireFailures := 0
	for {
		result, err := w.Step(ctx)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				w.logger.Info("crawl interrupted", zap.Int("processed", w.processed))
				return ctxErr
			}
			if !crawler.IsSessionFatal(err) {
				return err
			}
			if errors.Is(err, ErrSessionUnavailable) {
				acquireFailures++
				if acquireFailures >= maxAcquireFailures {
					return fmt.Errorf("giving up after %d attempts: %w", acquireFailures, err)
				}
			} else {
				acquireFailures = 0
			}
			w.logger.Error("render session failed", zap.Error(err), zap.Int("acquire_failures", acquireFailures))
			if rerr := w.deps.Sessions.Reset(ctx, err); rerr != nil {
				return rerr
			}
			continue
		}
		acquireFailures = 0
		if result == StepIdle {
			w.logger.Info("no more pending urls, crawl complete", zap.Int("processed", w.processed))
			return nil
		}
		if err := w.pause(ctx, w.cfg.PoliteDelay); err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return ctxErr
			}
			return err
		}
	}
}

// canonicalSeed puts the configured seed in the same form discovered links
// take, so a later link back to the home page dedups against it. A seed the
// filter would reject is inserted as configured.
func (w *Worker) canonicalSeed() string {
	seed, ok := w.deps.Filter.Resolve(w.cfg.SeedURL, w.cfg.SeedURL)
	if !ok {
		w.logger.Warn("seed url is outside the crawl scope", zap.String("url", w.cfg.SeedURL))
		return w.cfg.SeedURL
	}
	return seed
}

// Step performs exactly one claim and drives the claimed URL to a terminal
// status. Errors returned are session-fatal render failures, cancellation, or
// frontier failures; every per-URL problem is recorded as failed instead.
func (w *Worker) Step(ctx context.Context) (StepResult, error) {
	renderer, err := w.deps.Sessions.Acquire(ctx)
	if err != nil {
		return StepProcessed, crawler.NewFetchError(crawler.KindSessionFatal, "", fmt.Errorf("%w: %w", ErrSessionUnavailable, err))
	}

	claim, ok, err := w.deps.Frontier.ClaimNext(ctx, w.deps.Filter.Admit)
	if err != nil {
		return StepProcessed, fmt.Errorf("claim next url: %w", err)
	}
	for _, skip := range claim.Skipped {
		w.logger.Info("url skipped",
			zap.String("url", skip.URL),
			zap.Int("depth", skip.Depth),
			zap.String("status", string(crawler.StatusSkipped)),
			zap.String("reason", skip.Reason),
		)
		metrics.ObservePage(skip.URL, string(crawler.StatusSkipped))
	}
	if !ok {
		return StepIdle, nil
	}
	return StepProcessed, w.process(ctx, renderer, claim)
}

func (w *Worker) flush(ctx context.Context) {
	if w.deps.Checkpoint == nil {
		return
	}
	flushCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), w.cfg.FlushTimeout)
	defer cancel()
	if err := w.deps.Checkpoint.Flush(flushCtx); err != nil {
		w.logger.Error("final checkpoint push failed", zap.Error(err))
		return
	}
	w.logger.Info("final checkpoint pushed")
}

package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/llm-docs-crawler/internal/api"
	"github.com/JakeFAU/llm-docs-crawler/internal/checkpoint"
	"github.com/JakeFAU/llm-docs-crawler/internal/clock/system"
	"github.com/JakeFAU/llm-docs-crawler/internal/config"
	"github.com/JakeFAU/llm-docs-crawler/internal/crawler"
	"github.com/JakeFAU/llm-docs-crawler/internal/extract"
	"github.com/JakeFAU/llm-docs-crawler/internal/fetcher/auto"
	collyfetcher "github.com/JakeFAU/llm-docs-crawler/internal/fetcher/colly"
	"github.com/JakeFAU/llm-docs-crawler/internal/fetcher/headless"
	"github.com/JakeFAU/llm-docs-crawler/internal/frontier"
	"github.com/JakeFAU/llm-docs-crawler/internal/hash/sha256"
	"github.com/JakeFAU/llm-docs-crawler/internal/headless/detector"
	"github.com/JakeFAU/llm-docs-crawler/internal/id/uuid"
	"github.com/JakeFAU/llm-docs-crawler/internal/metrics"
	"github.com/JakeFAU/llm-docs-crawler/internal/policy/ratelimit"
	"github.com/JakeFAU/llm-docs-crawler/internal/publisher/pubsub"
	"github.com/JakeFAU/llm-docs-crawler/internal/session"
	"github.com/JakeFAU/llm-docs-crawler/internal/storage"
	"github.com/JakeFAU/llm-docs-crawler/internal/storage/postgres"
	"github.com/JakeFAU/llm-docs-crawler/internal/telemetry"
	"github.com/JakeFAU/llm-docs-crawler/internal/urlfilter"
	"github.com/JakeFAU/llm-docs-crawler/internal/worker"
)

const serviceName = "llm-docs-crawler"

// version is stamped at build time with -ldflags "-X ...cmd.version=...".
var version = "dev"

func newCrawlCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "crawl",
		Short: "Runs the crawl until the frontier drains or the process is interrupted",
		Long: `Pulls the remote frontier checkpoint, reconciles entries an earlier run left
in processing, seeds the frontier and then fetches, extracts and discovers
one URL at a time. The frontier is pushed back to remote storage every
crawl.checkpoint_every completions and once more on exit.`,
		Args: cobra.NoArgs,
		RunE: runCrawlCommand,
	}
}

func runCrawlCommand(cmd *cobra.Command, _ []string) error {
	e, err := resolveEnv(cmd.Context())
	if err != nil {
		return err
	}
	if err := e.cfg.ValidateCrawl(); err != nil {
		return fmt.Errorf("invalid crawl config: %w", err)
	}
	if err := e.cfg.ValidateStorage(); err != nil {
		return fmt.Errorf("invalid storage config: %w", err)
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	err = runCrawl(ctx, e.cfg, e.logger)
	if errors.Is(err, context.Canceled) {
		e.logger.Info("crawl interrupted")
		return nil
	}
	return err
}

//nolint:gocyclo // linear start-up wiring
func runCrawl(ctx context.Context, cfg config.Config, logger *zap.Logger) error {
	metrics.Init()

	tp, err := telemetry.InitTracerProvider(ctx, serviceName, version)
	if err != nil {
		return fmt.Errorf("init tracing: %w", err)
	}
	defer func() {
		if err := tp.Shutdown(context.WithoutCancel(ctx)); err != nil {
			logger.Warn("Failed to shut down tracer provider", zap.Error(err))
		}
	}()

	store, err := storage.New(ctx, cfg.Storage)
	if err != nil {
		return err
	}
	defer func() {
		if err := store.Close(); err != nil {
			logger.Warn("Failed to close object store", zap.Error(err))
		}
	}()

	ckpt, err := checkpoint.New(store, cfg.Frontier.Path, cfg.Frontier.ResolvedRemoteKey(), logger)
	if err != nil {
		return fmt.Errorf("init checkpoint sync: %w", err)
	}
	restored, err := ckpt.Pull(ctx)
	if err != nil {
		return fmt.Errorf("pull frontier checkpoint: %w", err)
	}
	logger.Info("frontier checkpoint pulled", zap.Bool("restored", restored))

	clock := system.New()
	front, err := frontier.Open(ctx, cfg.Frontier.Path, clock)
	if err != nil {
		return err
	}
	defer func() {
		if err := front.Close(); err != nil {
			logger.Warn("Failed to close frontier", zap.Error(err))
		}
	}()

	logger.Info("frontier opened", zap.String("path", front.Path()))

	policy := frontier.ReconcilePolicy(cfg.Crawl.ReconcileProcessing)
	reconciled, err := front.Reconcile(ctx, policy)
	if err != nil {
		return fmt.Errorf("reconcile frontier: %w", err)
	}
	if reconciled > 0 {
		logger.Info("reconciled in-flight entries", zap.Int64("count", reconciled), zap.String("policy", string(policy)))
	}
	ckpt.Attach(front)

	filter := urlfilter.New(urlfilter.Config{
		AllowedDomains:     cfg.Crawl.AllowedDomains,
		ExcludedExtensions: cfg.Crawl.ExcludedExtensions,
		BlacklistPatterns:  cfg.Crawl.BlacklistPatterns,
	})

	governor, err := ratelimit.NewGovernor(cfg.Extraction.RequestsPerMinute, metrics.SanitizeSite(cfg.Extraction.BaseURL))
	if err != nil {
		return fmt.Errorf("init rate governor: %w", err)
	}

	extractor, err := extract.New(extract.Config{
		BaseURL:     cfg.Extraction.BaseURL,
		APIKey:      cfg.Extraction.APIKey,
		Model:       cfg.Extraction.Model,
		Temperature: cfg.Extraction.Temperature,
		Timeout:     cfg.Extraction.Timeout,
	})
	if err != nil {
		return fmt.Errorf("init extraction client: %w", err)
	}

	sessions, err := session.New(buildRendererFactory(cfg.Render, logger), session.Options{
		ResetDelay: cfg.Crawl.SessionResetDelay,
		Logger:     logger,
	})
	if err != nil {
		return fmt.Errorf("init session supervisor: %w", err)
	}
	defer func() {
		if err := sessions.Close(); err != nil {
			logger.Debug("render session close", zap.Error(err))
		}
	}()

	deps := worker.Deps{
		Frontier:   front,
		Filter:     filter,
		Sessions:   sessions,
		Governor:   governor,
		Extractor:  extractor,
		Store:      store,
		Hasher:     sha256.New(),
		IDs:        uuid.New(),
		Clock:      clock,
		Checkpoint: ckpt,
		Logger:     logger,
	}
	if presigner, ok := store.Presigner(); ok {
		deps.Presigner = presigner
	}

	if cfg.Index.DSN != "" {
		index, err := postgres.New(ctx, postgres.Config{DSN: cfg.Index.DSN, Table: cfg.Index.Table})
		if err != nil {
			return fmt.Errorf("init artifact index: %w", err)
		}
		defer index.Close()
		if err := index.EnsureSchema(ctx); err != nil {
			return fmt.Errorf("ensure artifact index schema: %w", err)
		}
		deps.Index = index
	}

	if cfg.PubSub.Enabled() {
		pub, err := pubsub.New(ctx, cfg.PubSub.ProjectID)
		if err != nil {
			return fmt.Errorf("init pubsub publisher: %w", err)
		}
		defer func() {
			if err := pub.Close(); err != nil {
				logger.Warn("Failed to close pubsub publisher", zap.Error(err))
			}
		}()
		deps.Publisher = pub
	}

	runID, err := uuid.New().NewID()
	if err != nil {
		return fmt.Errorf("generate run id: %w", err)
	}

	if cfg.Server.Port > 0 {
		srv := api.NewServer(front, logger)
		addr := ":" + strconv.Itoa(cfg.Server.Port)
		go func() {
			if err := srv.ListenAndServe(ctx, addr); err != nil {
				logger.Error("status server stopped", zap.Error(err))
			}
		}()
	}

	w, err := worker.New(deps, worker.Config{
		SeedURL:           cfg.Crawl.SeedURL,
		RunID:             runID,
		PoliteDelay:       cfg.Crawl.PoliteDelay,
		FetchRetryBackoff: cfg.Crawl.FetchRetryBackoff,
		CheckpointEvery:   cfg.Crawl.CheckpointEvery,
		FlushTimeout:      2 * time.Minute,
		OutputDir:         cfg.Crawl.OutputDir,
		ArtifactPrefix:    cfg.Crawl.ArtifactPrefix,
		MaxHTMLChars:      cfg.Extraction.MaxHTMLChars,
		PruneHTML:         cfg.Extraction.PruneHTML,
		MarkdownFallback:  cfg.Extraction.MarkdownFallback,
		PresignTTL:        cfg.Storage.S3.PresignTTL,
		Topic:             cfg.PubSub.Topic,
	})
	if err != nil {
		return fmt.Errorf("init worker: %w", err)
	}

	logger.Info("crawl starting",
		zap.String("run_id", runID),
		zap.String("seed", cfg.Crawl.SeedURL),
		zap.String("render_mode", cfg.Render.Mode),
		zap.String("storage", cfg.Storage.Backend),
		zap.Duration("extraction_interval", governor.Interval()),
	)
	err = w.Run(ctx)
	logger.Info("crawl finished",
		zap.String("run_id", runID),
		zap.Int("completed", w.Processed()),
		zap.Int("session_resets", sessions.Resets()),
		zap.NamedError("checkpoint_error", ckpt.LastError()),
		zap.Error(err),
	)
	return err
}

func buildRendererFactory(cfg config.RenderConfig, logger *zap.Logger) crawler.RendererFactory {
	httpFactory := collyfetcher.Factory(collyfetcher.Config{
		UserAgent:     cfg.UserAgent,
		RespectRobots: cfg.RespectRobots,
		Timeout:       cfg.Timeout,
		MinWordCount:  cfg.MinWordCount,
	}, logger)
	browserFactory := headless.Factory(headless.Config{
		UserAgent:    cfg.UserAgent,
		Timeout:      cfg.Timeout,
		MinWordCount: cfg.MinWordCount,
		Headless:     cfg.Headless,
	}, logger)

	switch cfg.Mode {
	case config.RenderModeHTTP:
		return httpFactory
	case config.RenderModeAuto:
		return auto.Factory(httpFactory, browserFactory, detector.NewHeuristic(0), logger)
	default:
		return browserFactory
	}
}

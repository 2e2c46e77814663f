// Package cmd defines and implements the CLI commands for the crawler executable.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"io/fs"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/llm-docs-crawler/internal/config"
	"github.com/JakeFAU/llm-docs-crawler/internal/logging"
)

var (
	cfgFile string
	dbPath  string
)

type envKeyType string

const envKey envKeyType = "env"

// env carries what every subcommand needs: the validated configuration and
// the process logger.
type env struct {
	cfg    config.Config
	logger *zap.Logger
}

// loadEnv builds the env for a command. It is a variable so tests can
// substitute configuration without touching the filesystem.
var loadEnv = func(_ context.Context) (*env, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if dbPath != "" {
		cfg.Frontier.Path = dbPath
	}
	logger, err := logging.New(logging.Options{
		Development: cfg.Logging.Development,
		Level:       cfg.Logging.Level,
	})
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}
	zap.ReplaceGlobals(logger)
	return &env{cfg: cfg, logger: logger}, nil
}

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "llm-docs-crawler",
		Short: "Crawls a documentation site and extracts each page through a language model.",
		Long: `llm-docs-crawler walks a documentation site breadth-first from a seed URL,
renders every in-scope page, asks an OpenAI-compatible model to turn it into
structured JSON, and stores the results in object storage. Progress lives in
a SQLite frontier that is checkpointed remotely, so an interrupted crawl
resumes where it stopped.`,
		SilenceUsage: true,

		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			e, err := loadEnv(cmd.Context())
			if err != nil {
				return err
			}
			cmd.SetContext(context.WithValue(cmd.Context(), envKey, e))
			return nil
		},

		PersistentPostRun: func(cmd *cobra.Command, _ []string) {
			if e, ok := cmd.Context().Value(envKey).(*env); ok && e != nil {
				_ = e.logger.Sync()
			}
		},
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (YAML or TOML)")
	cmd.PersistentFlags().StringVar(&dbPath, "db", "", "frontier database path (overrides frontier.path)")

	cmd.AddCommand(newCrawlCmd())
	cmd.AddCommand(newStatsCmd())
	cmd.AddCommand(newStatusCmd())
	cmd.AddCommand(newRemoteCmd())

	return cmd
}

func resolveEnv(ctx context.Context) (*env, error) {
	e, ok := ctx.Value(envKey).(*env)
	if !ok || e == nil {
		return nil, errors.New("command environment not initialized")
	}
	return e, nil
}

// Execute is the main entry point.
func Execute() {
	if err := newRootCmd().ExecuteContext(context.Background()); err != nil {
		zap.L().Fatal("Command execution failed", zap.Error(err))
	}
}

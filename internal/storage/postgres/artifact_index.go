// Package postgres records completed crawl artifacts in Postgres so they can
// be queried without listing the bucket.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JakeFAU/llm-docs-crawler/internal/crawler"
)

const defaultTable = "crawl_artifacts"

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// Config controls the Postgres connection pool used for artifact rows.
type Config struct {
	DSN             string
	Table           string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

type execCloser interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	Close()
}

// ArtifactIndex implements crawler.ArtifactIndex.
type ArtifactIndex struct {
	pool  execCloser
	table string
}

// New connects to Postgres using cfg.
func New(ctx context.Context, cfg Config) (*ArtifactIndex, error) {
	if cfg.DSN == "" {
		return nil, errors.New("index.dsn is required")
	}
	table, err := tableName(cfg.Table)
	if err != nil {
		return nil, err
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return &ArtifactIndex{pool: pool, table: table}, nil
}

// NewWithPool builds an index from an existing pool (primarily for testing).
func NewWithPool(pool execCloser, table string) (*ArtifactIndex, error) {
	if pool == nil {
		return nil, errors.New("pool is required")
	}
	name, err := tableName(table)
	if err != nil {
		return nil, err
	}
	return &ArtifactIndex{pool: pool, table: name}, nil
}

func tableName(table string) (string, error) {
	if table == "" {
		return defaultTable, nil
	}
	if !validTableName.MatchString(table) {
		return "", fmt.Errorf("invalid table name %q", table)
	}
	return table, nil
}

// Close releases the underlying pool resources.
func (s *ArtifactIndex) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// EnsureSchema creates the artifact table if it does not exist.
func (s *ArtifactIndex) EnsureSchema(ctx context.Context) error {
	query := fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %s (
	id UUID PRIMARY KEY,
	run_id TEXT NOT NULL,
	url TEXT NOT NULL,
	depth INTEGER NOT NULL,
	json_key TEXT NOT NULL,
	markdown_key TEXT NOT NULL,
	content_sha256 TEXT NOT NULL,
	degraded BOOLEAN NOT NULL DEFAULT FALSE,
	completed_at TIMESTAMPTZ NOT NULL
)`, s.table)
	if _, err := s.pool.Exec(ctx, query); err != nil {
		return fmt.Errorf("create %s: %w", s.table, err)
	}
	return nil
}

// Record inserts one artifact row.
func (s *ArtifactIndex) Record(ctx context.Context, artifact crawler.Artifact) error {
	if s == nil || s.pool == nil {
		return errors.New("artifact index is not configured")
	}
	if artifact.ID == "" {
		return errors.New("artifact id is required")
	}
	query := fmt.Sprintf(`
INSERT INTO %s (
	id,
	run_id,
	url,
	depth,
	json_key,
	markdown_key,
	content_sha256,
	degraded,
	completed_at
) VALUES (
	$1,$2,$3,$4,$5,$6,$7,$8,$9
)`, s.table)

	args := []any{
		artifact.ID,
		artifact.RunID,
		artifact.URL,
		artifact.Depth,
		artifact.JSONKey,
		artifact.MarkdownKey,
		artifact.ContentSHA256,
		artifact.Degraded,
		artifact.CompletedAt,
	}
	if _, err := s.pool.Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("insert artifact: %w", err)
	}
	return nil
}

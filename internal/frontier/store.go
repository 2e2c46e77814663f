// Package frontier provides the durable SQLite-backed URL table that drives
// the crawl. Every mutation is committed before the call returns, so the
// database file is always a crash-consistent record of the traversal.
package frontier

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	_ "modernc.org/sqlite" // registers the "sqlite" driver

	"github.com/JakeFAU/llm-docs-crawler/internal/clock/system"
	"github.com/JakeFAU/llm-docs-crawler/internal/crawler"
)

const schema = `
CREATE TABLE IF NOT EXISTS urls (
	url TEXT PRIMARY KEY,
	status TEXT NOT NULL DEFAULT 'pending'
		CHECK (status IN ('pending', 'processing', 'completed', 'failed', 'skipped')),
	depth INTEGER NOT NULL DEFAULT 0 CHECK (depth >= 0),
	last_updated TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);
CREATE INDEX IF NOT EXISTS idx_urls_status ON urls(status);
`

// ReconcilePolicy decides what happens at start-up to entries a previous run
// left in processing.
type ReconcilePolicy string

// Supported reconciliation policies.
const (
	ReconcileRequeue ReconcilePolicy = "requeue"
	ReconcileFail    ReconcilePolicy = "fail"
	ReconcileKeep    ReconcilePolicy = "keep"
)

// Valid reports whether p is a known policy.
func (p ReconcilePolicy) Valid() bool {
	switch p {
	case ReconcileRequeue, ReconcileFail, ReconcileKeep:
		return true
	default:
		return false
	}
}

// Store is the SQLite frontier. It is intended for a single writer.
type Store struct {
	db    *sql.DB
	path  string
	clock crawler.Clock
}

// Open opens (creating if needed) the frontier database at path. A nil clock
// falls back to the system clock.
func Open(ctx context.Context, path string, clock crawler.Clock) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("frontier path is required")
	}
	if clock == nil {
		clock = system.New()
	}
	dsn := path + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(DELETE)&_pragma=synchronous(FULL)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open frontier db: %w", err)
	}
	// One connection serialises every statement and keeps the pragmas in force.
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping frontier db: %w", err)
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrate frontier schema: %w", err)
	}
	return &Store{db: db, path: path, clock: clock}, nil
}

// Path returns the database file location.
func (s *Store) Path() string {
	return s.path
}

// Close releases the database handle.
func (s *Store) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("close frontier db: %w", err)
	}
	return nil
}

func (s *Store) now() time.Time {
	return s.clock.Now().UTC()
}

// Insert adds url as pending at depth unless it is already known. It reports
// whether a new row was created; re-inserting is not an error.
func (s *Store) Insert(ctx context.Context, url string, depth int) (bool, error) {
	if url == "" {
		return false, errors.New("url is required")
	}
	if depth < 0 {
		return false, fmt.Errorf("depth must be >= 0, got %d", depth)
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO urls (url, status, depth, last_updated) VALUES (?, ?, ?, ?)
		 ON CONFLICT(url) DO NOTHING`,
		url, string(crawler.StatusPending), depth, s.now(),
	)
	if err != nil {
		return false, fmt.Errorf("insert url: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("insert url rows affected: %w", err)
	}
	return n == 1, nil
}

// ClaimNext moves the oldest pending entry (insertion order) to processing
// and returns it. Entries rejected by admit on the way are moved to skipped
// and reported in Claim.Skipped. ok is false once no pending entry remains.
// The whole walk commits as one transaction.
func (s *Store) ClaimNext(ctx context.Context, admit crawler.AdmitFunc) (crawler.Claim, bool, error) {
	var claim crawler.Claim
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return claim, false, fmt.Errorf("begin claim: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	for {
		var (
			url   string
			depth int
		)
		err := tx.QueryRowContext(ctx,
			`SELECT url, depth FROM urls WHERE status = ? ORDER BY rowid LIMIT 1`,
			string(crawler.StatusPending),
		).Scan(&url, &depth)
		if errors.Is(err, sql.ErrNoRows) {
			if err := tx.Commit(); err != nil {
				return claim, false, fmt.Errorf("commit claim: %w", err)
			}
			return claim, false, nil
		}
		if err != nil {
			return claim, false, fmt.Errorf("select pending: %w", err)
		}

		next := crawler.StatusProcessing
		reason := ""
		if admit != nil {
			if r, ok := admit(url); !ok {
				next, reason = crawler.StatusSkipped, r
			}
		}
		if _, err := tx.ExecContext(ctx,
			`UPDATE urls SET status = ?, last_updated = ? WHERE url = ?`,
			string(next), s.now(), url,
		); err != nil {
			return claim, false, fmt.Errorf("mark %s: %w", next, err)
		}
		if next == crawler.StatusSkipped {
			claim.Skipped = append(claim.Skipped, crawler.Skip{URL: url, Depth: depth, Reason: reason})
			continue
		}

		if err := tx.Commit(); err != nil {
			return crawler.Claim{}, false, fmt.Errorf("commit claim: %w", err)
		}
		claim.URL = url
		claim.Depth = depth
		return claim, true, nil
	}
}

// SetStatus moves url to status and refreshes last_updated. Transitions
// outside pending -> processing -> {completed, failed} and pending -> skipped
// return crawler.ErrInvalidTransition.
func (s *Store) SetStatus(ctx context.Context, url string, status crawler.Status) error {
	if !status.Valid() {
		return fmt.Errorf("unknown status %q", status)
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin set status: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var current string
	err = tx.QueryRowContext(ctx, `SELECT status FROM urls WHERE url = ?`, url).Scan(&current)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%w: %s", crawler.ErrNotFound, url)
	}
	if err != nil {
		return fmt.Errorf("select status: %w", err)
	}
	from := crawler.Status(current)
	if !crawler.CanTransition(from, status) {
		return fmt.Errorf("%w: %s -> %s for %s", crawler.ErrInvalidTransition, from, status, url)
	}
	if _, err := tx.ExecContext(ctx,
		`UPDATE urls SET status = ?, last_updated = ? WHERE url = ?`,
		string(status), s.now(), url,
	); err != nil {
		return fmt.Errorf("update status: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit set status: %w", err)
	}
	return nil
}

// Reconcile applies policy to entries left in processing by an earlier run
// and returns how many rows changed.
func (s *Store) Reconcile(ctx context.Context, policy ReconcilePolicy) (int64, error) {
	var target crawler.Status
	switch policy {
	case ReconcileKeep:
		return 0, nil
	case ReconcileRequeue:
		target = crawler.StatusPending
	case ReconcileFail:
		target = crawler.StatusFailed
	default:
		return 0, fmt.Errorf("unknown reconcile policy %q", policy)
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE urls SET status = ?, last_updated = ? WHERE status = ?`,
		string(target), s.now(), string(crawler.StatusProcessing),
	)
	if err != nil {
		return 0, fmt.Errorf("reconcile processing: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("reconcile rows affected: %w", err)
	}
	return n, nil
}

// Snapshot writes a consistent copy of the database to dest, replacing any
// existing file there.
func (s *Store) Snapshot(ctx context.Context, dest string) error {
	if err := os.Remove(dest); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove stale snapshot: %w", err)
	}
	stmt := "VACUUM INTO '" + strings.ReplaceAll(dest, "'", "''") + "'"
	if _, err := s.db.ExecContext(ctx, stmt); err != nil {
		return fmt.Errorf("snapshot frontier: %w", err)
	}
	return nil
}

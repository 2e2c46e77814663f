package frontier

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/JakeFAU/llm-docs-crawler/internal/crawler"
)

// Get returns the entry for url or crawler.ErrNotFound.
func (s *Store) Get(ctx context.Context, url string) (crawler.Entry, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT url, status, depth, last_updated FROM urls WHERE url = ?`, url)
	entry, err := scanEntry(row)
	if errors.Is(err, sql.ErrNoRows) {
		return crawler.Entry{}, fmt.Errorf("%w: %s", crawler.ErrNotFound, url)
	}
	if err != nil {
		return crawler.Entry{}, fmt.Errorf("get url: %w", err)
	}
	return entry, nil
}

// Search returns up to limit entries whose URL starts with prefix, in
// insertion order.
func (s *Store) Search(ctx context.Context, prefix string, limit int) ([]crawler.Entry, error) {
	if limit <= 0 {
		limit = 5
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT url, status, depth, last_updated FROM urls
		 WHERE url LIKE ? ESCAPE '\' ORDER BY rowid LIMIT ?`,
		likePrefix(prefix), limit,
	)
	if err != nil {
		return nil, fmt.Errorf("search urls: %w", err)
	}
	return collectEntries(rows)
}

// Recent returns the most recently touched entries that have left pending.
func (s *Store) Recent(ctx context.Context, limit int) ([]crawler.Entry, error) {
	if limit <= 0 {
		limit = 10
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT url, status, depth, last_updated FROM urls
		 WHERE status != ? ORDER BY last_updated DESC, rowid DESC LIMIT ?`,
		string(crawler.StatusPending), limit,
	)
	if err != nil {
		return nil, fmt.Errorf("recent urls: %w", err)
	}
	return collectEntries(rows)
}

// Counts returns the number of entries per status, including zero counts,
// in crawler.Statuses order.
func (s *Store) Counts(ctx context.Context) ([]crawler.StatusCount, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT status, COUNT(*) FROM urls GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("count statuses: %w", err)
	}
	defer func() { _ = rows.Close() }()

	byStatus := make(map[crawler.Status]int64, len(crawler.Statuses))
	for rows.Next() {
		var (
			status string
			n      int64
		)
		if err := rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("scan status count: %w", err)
		}
		byStatus[crawler.Status(status)] = n
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate status counts: %w", err)
	}
	counts := make([]crawler.StatusCount, 0, len(crawler.Statuses))
	for _, status := range crawler.Statuses {
		counts = append(counts, crawler.StatusCount{Status: status, Count: byStatus[status]})
	}
	return counts, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEntry(row rowScanner) (crawler.Entry, error) {
	var (
		entry   crawler.Entry
		status  string
		updated sql.NullTime
	)
	if err := row.Scan(&entry.URL, &status, &entry.Depth, &updated); err != nil {
		return crawler.Entry{}, err //nolint:wrapcheck // callers wrap with context
	}
	entry.Status = crawler.Status(status)
	if updated.Valid {
		entry.LastUpdated = updated.Time.UTC()
	}
	return entry, nil
}

func collectEntries(rows *sql.Rows) ([]crawler.Entry, error) {
	defer func() { _ = rows.Close() }()
	var entries []crawler.Entry
	for rows.Next() {
		entry, err := scanEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("scan entry: %w", err)
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate entries: %w", err)
	}
	return entries, nil
}

func likePrefix(prefix string) string {
	escaped := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(prefix)
	return escaped + "%"
}

// LastActivity returns the newest last_updated across all entries, or the
// zero time for an empty table.
func (s *Store) LastActivity(ctx context.Context) (time.Time, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT last_updated FROM urls`)
	if err != nil {
		return time.Time{}, fmt.Errorf("select last_updated: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var latest time.Time
	for rows.Next() {
		var updated sql.NullTime
		if err := rows.Scan(&updated); err != nil {
			return time.Time{}, fmt.Errorf("scan last_updated: %w", err)
		}
		if updated.Valid && updated.Time.After(latest) {
			latest = updated.Time.UTC()
		}
	}
	if err := rows.Err(); err != nil {
		return time.Time{}, fmt.Errorf("iterate last_updated: %w", err)
	}
	return latest, nil
}

// LastActivity opens the database file at path and reports its newest
// last_updated.
func LastActivity(ctx context.Context, path string) (time.Time, error) {
	store, err := Open(ctx, path, nil)
	if err != nil {
		return time.Time{}, err
	}
	defer func() { _ = store.Close() }()
	return store.LastActivity(ctx)
}

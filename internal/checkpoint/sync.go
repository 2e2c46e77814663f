// Package checkpoint mirrors the frontier database to the object store so a
// crawl can resume on another machine.
package checkpoint

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/JakeFAU/llm-docs-crawler/internal/crawler"
	"github.com/JakeFAU/llm-docs-crawler/internal/frontier"
	"github.com/JakeFAU/llm-docs-crawler/internal/logging"
	"github.com/JakeFAU/llm-docs-crawler/internal/metrics"
)

// Push results recorded in metrics.
const (
	ResultSuccess   = "success"
	ResultError     = "error"
	ResultCoalesced = "coalesced"
)

// Snapshotter writes a consistent copy of the live database to dest.
type Snapshotter interface {
	Snapshot(ctx context.Context, dest string) error
}

// Sync pulls the frontier before a run and pushes snapshots of it during and
// after one. At most one push runs at a time.
type Sync struct {
	store     crawler.ObjectStore
	localPath string
	remoteKey string
	logger    *zap.Logger

	mu      sync.Mutex
	snap    Snapshotter
	group   *errgroup.Group
	lastErr error

	// freshness reports the newest activity recorded in a database file.
	freshness func(ctx context.Context, path string) (time.Time, error)
}

// New builds a Sync for the database at localPath stored remotely as remoteKey.
func New(store crawler.ObjectStore, localPath, remoteKey string, logger *zap.Logger) (*Sync, error) {
	if store == nil {
		return nil, errors.New("object store is required")
	}
	if localPath == "" || remoteKey == "" {
		return nil, errors.New("local path and remote key are required")
	}
	logger = logging.OrNop(logger)
	group := &errgroup.Group{}
	group.SetLimit(1)
	return &Sync{
		store:     store,
		localPath: localPath,
		remoteKey: remoteKey,
		logger:    logger,
		group:     group,
		freshness: frontier.LastActivity,
	}, nil
}

// Pull restores the frontier from the remote checkpoint. With no local
// database the checkpoint is downloaded in place. When a local database
// already exists the checkpoint is fetched beside it and replaces it only if
// its newest last_updated is strictly later, so completions that never
// reached the remote copy are kept. Pull reports whether the remote copy is
// now the local database. A missing checkpoint is a fresh start; any other
// failure is returned so the run can refuse to start on unknown state.
func (s *Sync) Pull(ctx context.Context) (bool, error) {
	if _, err := os.Stat(s.localPath); errors.Is(err, os.ErrNotExist) {
		return s.pullInPlace(ctx)
	} else if err != nil {
		return false, fmt.Errorf("stat local frontier: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(s.localPath), filepath.Base(s.localPath)+".remote-*")
	if err != nil {
		return false, fmt.Errorf("create checkpoint download file: %w", err)
	}
	tmpPath := tmp.Name()
	_ = tmp.Close()
	defer func() { _ = os.Remove(tmpPath) }()

	found, err := s.store.Get(ctx, s.remoteKey, tmpPath)
	if err != nil {
		return false, fmt.Errorf("pull checkpoint %s: %w", s.remoteKey, err)
	}
	if !found {
		s.logger.Info("no remote checkpoint, keeping local frontier", zap.String("path", s.localPath))
		return false, nil
	}

	localAt, err := s.freshness(ctx, s.localPath)
	if err != nil {
		return false, fmt.Errorf("read local frontier: %w", err)
	}
	remoteAt, err := s.freshness(ctx, tmpPath)
	if err != nil {
		return false, fmt.Errorf("read remote checkpoint: %w", err)
	}
	if !remoteAt.After(localAt) {
		s.logger.Info("local frontier is at least as recent as the remote checkpoint, keeping it",
			zap.String("path", s.localPath),
			zap.Time("local_last_updated", localAt),
			zap.Time("remote_last_updated", remoteAt),
		)
		return false, nil
	}
	if err := os.Rename(tmpPath, s.localPath); err != nil {
		return false, fmt.Errorf("replace local frontier: %w", err)
	}
	s.logger.Info("remote checkpoint is newer, restored it over the local frontier",
		zap.String("key", s.remoteKey),
		zap.Time("local_last_updated", localAt),
		zap.Time("remote_last_updated", remoteAt),
	)
	return true, nil
}

func (s *Sync) pullInPlace(ctx context.Context) (bool, error) {
	found, err := s.store.Get(ctx, s.remoteKey, s.localPath)
	if err != nil {
		return false, fmt.Errorf("pull checkpoint %s: %w", s.remoteKey, err)
	}
	if !found {
		s.logger.Info("no remote checkpoint, starting fresh", zap.String("key", s.remoteKey))
		return false, nil
	}
	s.logger.Info("restored frontier from remote checkpoint", zap.String("key", s.remoteKey), zap.String("path", s.localPath))
	return true, nil
}

// Attach sets the database pushes are taken from. It must be called once the
// frontier is open and before any push.
func (s *Sync) Attach(snap Snapshotter) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snap = snap
}

// PushAsync starts a background push. If one is already running the request
// is coalesced into it and PushAsync reports false.
func (s *Sync) PushAsync(ctx context.Context) bool {
	started := s.group.TryGo(func() error {
		if err := s.push(ctx); err != nil {
			s.logger.Warn("checkpoint push failed", zap.Error(err))
			s.setLastErr(err)
		}
		return nil
	})
	if !started {
		metrics.ObserveCheckpointPush(ResultCoalesced)
		s.logger.Debug("checkpoint push already in flight")
	}
	return started
}

// Flush waits for any background push and then pushes the final state.
func (s *Sync) Flush(ctx context.Context) error {
	_ = s.group.Wait()
	if err := s.push(ctx); err != nil {
		s.setLastErr(err)
		return err
	}
	return nil
}

// LastError returns the most recent push failure, if any.
func (s *Sync) LastError() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastErr
}

func (s *Sync) setLastErr(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastErr = err
}

func (s *Sync) push(ctx context.Context) error {
	s.mu.Lock()
	snap := s.snap
	s.mu.Unlock()
	if snap == nil {
		return errors.New("checkpoint has no database attached")
	}

	tmp, err := os.CreateTemp(filepath.Dir(s.localPath), filepath.Base(s.localPath)+".snapshot-*")
	if err != nil {
		metrics.ObserveCheckpointPush(ResultError)
		return fmt.Errorf("create snapshot file: %w", err)
	}
	tmpPath := tmp.Name()
	_ = tmp.Close()
	defer func() { _ = os.Remove(tmpPath) }()

	if err := snap.Snapshot(ctx, tmpPath); err != nil {
		metrics.ObserveCheckpointPush(ResultError)
		return fmt.Errorf("snapshot frontier: %w", err)
	}
	if err := s.store.Put(ctx, tmpPath, s.remoteKey); err != nil {
		metrics.ObserveCheckpointPush(ResultError)
		return fmt.Errorf("upload checkpoint %s: %w", s.remoteKey, err)
	}
	metrics.ObserveCheckpointPush(ResultSuccess)
	s.logger.Debug("checkpoint pushed", zap.String("key", s.remoteKey))
	return nil
}

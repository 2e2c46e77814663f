// Package local implements an object store on the local filesystem, useful
// for offline runs and tests.
package local

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/JakeFAU/llm-docs-crawler/internal/crawler"
	"github.com/JakeFAU/llm-docs-crawler/internal/storage/fsutil"
)

// Config captures the parameters for the local filesystem store.
type Config struct {
	// BaseDir is the root directory where objects are kept.
	BaseDir string `mapstructure:"base_dir"`
}

// BlobStore mirrors object keys to files under a base directory.
type BlobStore struct {
	baseDir string
}

// New creates a local filesystem-backed store, creating BaseDir if needed.
func New(cfg Config) (*BlobStore, error) {
	if strings.TrimSpace(cfg.BaseDir) == "" {
		return nil, fmt.Errorf("base directory is required")
	}

	info, err := os.Stat(cfg.BaseDir)
	switch {
	case errors.Is(err, os.ErrNotExist):
		if mkErr := os.MkdirAll(cfg.BaseDir, 0o750); mkErr != nil {
			return nil, fmt.Errorf("failed to create base directory: %w", mkErr)
		}
	case err != nil:
		return nil, fmt.Errorf("failed to stat base directory: %w", err)
	case !info.IsDir():
		return nil, fmt.Errorf("base directory path is not a directory")
	}

	testFile := filepath.Join(cfg.BaseDir, ".writable_test")
	if err := os.WriteFile(testFile, []byte("test"), 0o600); err != nil {
		return nil, fmt.Errorf("base directory is not writable: %w", err)
	}
	if err := os.Remove(testFile); err != nil {
		return nil, fmt.Errorf("failed to clean up test file: %w", err)
	}

	return &BlobStore{baseDir: filepath.Clean(cfg.BaseDir)}, nil
}

func (s *BlobStore) resolve(key string) (string, error) {
	if strings.TrimSpace(key) == "" {
		return "", fmt.Errorf("key is required")
	}
	fullPath := filepath.Clean(filepath.Join(s.baseDir, filepath.FromSlash(key)))
	if !strings.HasPrefix(fullPath, s.baseDir+string(filepath.Separator)) {
		return "", fmt.Errorf("path traversal detected")
	}
	return fullPath, nil
}

// Put copies the file at localPath to key.
func (s *BlobStore) Put(_ context.Context, localPath, key string) error {
	dest, err := s.resolve(key)
	if err != nil {
		return err
	}
	src, err := os.Open(localPath) //nolint:gosec // caller-controlled local path
	if err != nil {
		return fmt.Errorf("open source file: %w", err)
	}
	defer func() { _ = src.Close() }()
	if err := fsutil.WriteFileAtomic(dest, src); err != nil {
		return fmt.Errorf("store %s: %w", key, err)
	}
	return nil
}

// Get copies key to localPath. It reports false when key does not exist.
func (s *BlobStore) Get(_ context.Context, key, localPath string) (bool, error) {
	srcPath, err := s.resolve(key)
	if err != nil {
		return false, err
	}
	src, err := os.Open(srcPath) //nolint:gosec // confined to baseDir above
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("open object: %w", err)
	}
	defer func() { _ = src.Close() }()
	if err := fsutil.WriteFileAtomic(localPath, src); err != nil {
		return false, fmt.Errorf("fetch %s: %w", key, err)
	}
	return true, nil
}

// List returns objects whose key starts with prefix, newest first.
func (s *BlobStore) List(_ context.Context, prefix string) ([]crawler.ObjectInfo, error) {
	var objects []crawler.ObjectInfo
	err := filepath.WalkDir(s.baseDir, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if d.IsDir() || strings.HasSuffix(d.Name(), ".tmp") {
			return nil
		}
		rel, err := filepath.Rel(s.baseDir, path)
		if err != nil {
			return err //nolint:wrapcheck // wrapped below
		}
		key := filepath.ToSlash(rel)
		if !strings.HasPrefix(key, prefix) {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err //nolint:wrapcheck // wrapped below
		}
		objects = append(objects, crawler.ObjectInfo{
			Key:          key,
			Size:         info.Size(),
			LastModified: info.ModTime().UTC(),
		})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list objects: %w", err)
	}
	sort.SliceStable(objects, func(i, j int) bool {
		return objects[i].LastModified.After(objects[j].LastModified)
	})
	return objects, nil
}

// Package storage selects and builds the object store used for artifacts and
// frontier checkpoints. Backends live in the s3, gcs, local and memory
// subpackages; all of them satisfy crawler.ObjectStore.
package storage

import (
	"context"
	"fmt"

	gcsstorage "cloud.google.com/go/storage"

	"github.com/JakeFAU/llm-docs-crawler/internal/config"
	"github.com/JakeFAU/llm-docs-crawler/internal/crawler"
	"github.com/JakeFAU/llm-docs-crawler/internal/storage/gcs"
	"github.com/JakeFAU/llm-docs-crawler/internal/storage/local"
	"github.com/JakeFAU/llm-docs-crawler/internal/storage/memory"
	"github.com/JakeFAU/llm-docs-crawler/internal/storage/s3"
)

// Store is an object store plus an optional release hook.
type Store struct {
	crawler.ObjectStore
	closeFn func() error
}

// Close releases backend clients.
func (s *Store) Close() error {
	if s == nil || s.closeFn == nil {
		return nil
	}
	return s.closeFn()
}

// New builds the backend named by cfg.Backend.
func New(ctx context.Context, cfg config.StorageConfig) (*Store, error) {
	switch cfg.Backend {
	case config.StorageBackendS3:
		store, err := s3.New(ctx, s3.Config{
			Endpoint:     cfg.S3.Endpoint,
			Region:       cfg.S3.Region,
			AccessKey:    cfg.S3.AccessKey,
			SecretKey:    cfg.S3.SecretKey,
			Bucket:       cfg.S3.Bucket,
			UsePathStyle: cfg.S3.UsePathStyle,
		})
		if err != nil {
			return nil, fmt.Errorf("init s3 store: %w", err)
		}
		return &Store{ObjectStore: store}, nil
	case config.StorageBackendGCS:
		client, err := gcsstorage.NewClient(ctx)
		if err != nil {
			return nil, fmt.Errorf("init gcs client: %w", err)
		}
		store, err := gcs.New(client, gcs.Config{Bucket: cfg.GCS.Bucket})
		if err != nil {
			_ = client.Close()
			return nil, fmt.Errorf("init gcs store: %w", err)
		}
		return &Store{ObjectStore: store, closeFn: client.Close}, nil
	case config.StorageBackendLocal:
		store, err := local.New(local.Config{BaseDir: cfg.Local.BaseDir})
		if err != nil {
			return nil, fmt.Errorf("init local store: %w", err)
		}
		return &Store{ObjectStore: store}, nil
	case config.StorageBackendMemory:
		return &Store{ObjectStore: memory.NewBlobStore()}, nil
	default:
		return nil, fmt.Errorf("unknown storage backend %q", cfg.Backend)
	}
}

// Presigner returns the store's presigning capability, if it has one.
func (s *Store) Presigner() (crawler.Presigner, bool) {
	p, ok := s.ObjectStore.(crawler.Presigner)
	return p, ok
}

// Package memory keeps objects in process memory for development and tests.
package memory

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/JakeFAU/llm-docs-crawler/internal/crawler"
	"github.com/JakeFAU/llm-docs-crawler/internal/storage/fsutil"
)

type object struct {
	data     []byte
	modified time.Time
}

// BlobStore stores objects in-memory.
type BlobStore struct {
	mu      sync.RWMutex
	objects map[string]object
	putErr  error
	puts    int
}

// NewBlobStore creates a new in-memory store.
func NewBlobStore() *BlobStore {
	return &BlobStore{objects: make(map[string]object)}
}

// SetPutError makes every subsequent Put fail with err (nil restores normal behavior).
func (s *BlobStore) SetPutError(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.putErr = err
}

// Put reads localPath and stores its content under key.
func (s *BlobStore) Put(_ context.Context, localPath, key string) error {
	data, err := os.ReadFile(localPath) //nolint:gosec // caller-controlled local path
	if err != nil {
		return fmt.Errorf("read source file: %w", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.puts++
	if s.putErr != nil {
		return s.putErr
	}
	s.objects[key] = object{data: data, modified: time.Now().UTC()}
	return nil
}

// Get writes the object under key to localPath, reporting false if absent.
func (s *BlobStore) Get(_ context.Context, key, localPath string) (bool, error) {
	s.mu.RLock()
	obj, ok := s.objects[key]
	s.mu.RUnlock()
	if !ok {
		return false, nil
	}
	if err := fsutil.WriteFileAtomic(localPath, bytes.NewReader(obj.data)); err != nil {
		return false, fmt.Errorf("write local copy: %w", err)
	}
	return true, nil
}

// List returns objects under prefix, newest first.
func (s *BlobStore) List(_ context.Context, prefix string) ([]crawler.ObjectInfo, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []crawler.ObjectInfo
	for key, obj := range s.objects {
		if strings.HasPrefix(key, prefix) {
			out = append(out, crawler.ObjectInfo{Key: key, Size: int64(len(obj.data)), LastModified: obj.modified})
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].LastModified.Equal(out[j].LastModified) {
			return out[i].Key < out[j].Key
		}
		return out[i].LastModified.After(out[j].LastModified)
	})
	return out, nil
}

// Object returns a copy of the stored bytes for key.
func (s *BlobStore) Object(key string) ([]byte, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	obj, ok := s.objects[key]
	if !ok {
		return nil, false
	}
	return append([]byte(nil), obj.data...), true
}

// Keys returns every stored key in sorted order.
func (s *BlobStore) Keys() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	keys := make([]string, 0, len(s.objects))
	for k := range s.objects {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// PutCount reports how many Put calls were attempted.
func (s *BlobStore) PutCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.puts
}

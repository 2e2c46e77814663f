package gcs

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"cloud.google.com/go/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/option"
)

func newTestStore(t *testing.T, handler http.Handler) *BlobStore {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	client, err := storage.NewClient(context.Background(), option.WithEndpoint(server.URL), option.WithoutAuthentication())
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	store, err := New(client, Config{Bucket: "crawlai"})
	require.NoError(t, err)
	return store
}

func TestPutUploadsFile(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Contains(t, r.URL.Path, "/upload/storage/v1/b/crawlai/o")
		assert.Equal(t, "crawl_state.db", r.URL.Query().Get("name"))
		assert.Equal(t, "multipart", r.URL.Query().Get("uploadType"))

		body, err := io.ReadAll(r.Body)
		assert.NoError(t, err)
		assert.Contains(t, string(body), "sqlite-bytes")

		fmt.Fprintln(w, `{ "name": "crawl_state.db", "bucket": "crawlai" }`)
	})
	store := newTestStore(t, handler)

	src := filepath.Join(t.TempDir(), "crawl_state.db")
	require.NoError(t, os.WriteFile(src, []byte("sqlite-bytes"), 0o600))
	require.NoError(t, store.Put(context.Background(), src, "crawl_state.db"))
}

func TestPutServerError(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	})
	store := newTestStore(t, handler)

	src := filepath.Join(t.TempDir(), "a.json")
	require.NoError(t, os.WriteFile(src, []byte("{}"), 0o600))
	err := store.Put(context.Background(), src, "extracted_data/a.json")
	require.Error(t, err)
}

func TestGetMissingObject(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.True(t, strings.Contains(r.URL.Path, "crawl_state.db"), r.URL.Path)
		w.WriteHeader(http.StatusNotFound)
	})
	store := newTestStore(t, handler)

	found, err := store.Get(context.Background(), "crawl_state.db", filepath.Join(t.TempDir(), "x.db"))
	require.NoError(t, err)
	assert.False(t, found)
}

func TestNewValidation(t *testing.T) {
	_, err := New(nil, Config{Bucket: "crawlai"})
	require.Error(t, err)
}

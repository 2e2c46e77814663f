package crawler

import (
	"context"
	"time"
)

// Frontier is the durable URL table driving the crawl.
type Frontier interface {
	Insert(ctx context.Context, url string, depth int) (bool, error)
	ClaimNext(ctx context.Context, admit AdmitFunc) (Claim, bool, error)
	SetStatus(ctx context.Context, url string, status Status) error
}

// AdmitFunc decides whether a pending URL may be fetched. A false result
// carries a reason and moves the entry to skipped.
type AdmitFunc func(url string) (reason string, ok bool)

// Renderer fetches and renders a single page within one browser session.
type Renderer interface {
	Render(ctx context.Context, url string) (Page, error)
	Close() error
}

// RendererFactory creates a fresh render session.
type RendererFactory func(ctx context.Context) (Renderer, error)

// Extractor sends a prompt to the language model and returns its raw reply.
type Extractor interface {
	Extract(ctx context.Context, prompt string) (string, error)
}

// ObjectStore moves files to and from durable remote storage. Get reports
// false without an error when the key does not exist.
type ObjectStore interface {
	Put(ctx context.Context, localPath, key string) error
	Get(ctx context.Context, key, localPath string) (bool, error)
	List(ctx context.Context, prefix string) ([]ObjectInfo, error)
}

// Presigner is implemented by object stores that can mint temporary read URLs.
type Presigner interface {
	Presign(ctx context.Context, key string, ttl time.Duration) (string, error)
}

// Publisher pushes completion events to Pub/Sub (or similar).
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// ArtifactIndex records completed artifacts in a queryable store.
type ArtifactIndex interface {
	Record(ctx context.Context, artifact Artifact) error
}

// Hasher computes digests for deduplication/integrity.
type Hasher interface {
	Hash(data []byte) (string, error)
}

// Clock abstracts time for deterministic tests.
type Clock interface {
	Now() time.Time
}

// IDGenerator produces unique identifiers.
type IDGenerator interface {
	NewID() (string, error)
}

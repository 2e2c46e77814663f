package worker

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/llm-docs-crawler/internal/crawler"
	"github.com/JakeFAU/llm-docs-crawler/internal/fetcher"
	"github.com/JakeFAU/llm-docs-crawler/internal/frontier"
	"github.com/JakeFAU/llm-docs-crawler/internal/hash/sha256"
	"github.com/JakeFAU/llm-docs-crawler/internal/id/uuid"
	"github.com/JakeFAU/llm-docs-crawler/internal/publisher/memory"
	blobmemory "github.com/JakeFAU/llm-docs-crawler/internal/storage/memory"
	"github.com/JakeFAU/llm-docs-crawler/internal/urlfilter"
)

const (
	// configuredSeed is the seed as written in config; seedURL is its
	// canonical frontier form.
	configuredSeed = "https://rclone.org/"
	seedURL        = "https://rclone.org"
	driveURL       = "https://rclone.org/drive"
	forumURL       = "https://forum.rclone.org/t/1"
)

const seedHTML = `<html><body><nav><a href="/">Home</a> <a href="https://rclone.org/">Logo</a></nav>
<h1>Rclone</h1><p>Rclone is a command line program to manage files on cloud storage.</p>
<a href="/drive/">Drive</a>
<a href="https://forum.rclone.org/t/1?page=2">Forum</a>
<a href="mailto:team@rclone.org">Mail</a>
<a href="https://github.com/rclone/rclone">GitHub</a>
</body></html>`

const leafHTML = `<html><body><h1>Leaf</h1><p>This page documents a single backend in enough words.</p></body></html>`

const extractedJSON = "```json\n{\"title\":\"Rclone\",\"content\":\"# Rclone\",\"code_snippets\":[]}\n```"

type renderResult struct {
	page crawler.Page
	err  error
}

type fakeRenderer struct {
	results map[string][]renderResult
	calls   map[string]int
}

func newFakeRenderer() *fakeRenderer {
	return &fakeRenderer{results: map[string][]renderResult{}, calls: map[string]int{}}
}

func (f *fakeRenderer) page(url, html string) {
	f.results[url] = append(f.results[url], renderResult{page: fetcher.BuildPage(url, http.StatusOK, html, 5)})
}

func (f *fakeRenderer) fail(url string, err error) {
	f.results[url] = append(f.results[url], renderResult{err: err})
}

func (f *fakeRenderer) Render(_ context.Context, url string) (crawler.Page, error) {
	n := f.calls[url]
	f.calls[url]++
	results := f.results[url]
	if len(results) == 0 {
		return crawler.Page{URL: url, StatusCode: http.StatusNotFound, Error: "http status 404"}, nil
	}
	if n >= len(results) {
		n = len(results) - 1
	}
	return results[n].page, results[n].err
}

func (f *fakeRenderer) Close() error { return nil }

type fakeSessions struct {
	renderer     *fakeRenderer
	acquireErr   error
	failAcquires int // the next n Acquire calls fail
	acquires     int
	resets       []error
}

func (s *fakeSessions) Acquire(context.Context) (crawler.Renderer, error) {
	s.acquires++
	if s.acquireErr != nil {
		return nil, s.acquireErr
	}
	if s.failAcquires > 0 {
		s.failAcquires--
		return nil, errors.New("chrome exited before devtools came up")
	}
	return s.renderer, nil
}

func (s *fakeSessions) Reset(_ context.Context, cause error) error {
	s.resets = append(s.resets, cause)
	return nil
}

type fakeExtractor struct {
	reply   string
	err     error
	prompts []string
}

func (f *fakeExtractor) Extract(_ context.Context, prompt string) (string, error) {
	f.prompts = append(f.prompts, prompt)
	return f.reply, f.err
}

type fakeGovernor struct{ waits int }

func (g *fakeGovernor) Wait(context.Context) (time.Duration, error) {
	g.waits++
	return 0, nil
}

type fakeCheckpoint struct {
	pushes  int
	flushes int
}

func (c *fakeCheckpoint) PushAsync(context.Context) bool {
	c.pushes++
	return true
}

func (c *fakeCheckpoint) Flush(context.Context) error {
	c.flushes++
	return nil
}

type fixedClock struct{ now time.Time }

func (c fixedClock) Now() time.Time { return c.now }

type harness struct {
	worker     *Worker
	frontier   *frontier.Store
	renderer   *fakeRenderer
	sessions   *fakeSessions
	extractor  *fakeExtractor
	governor   *fakeGovernor
	checkpoint *fakeCheckpoint
	blobs      *blobmemory.BlobStore
	publisher  *memory.Publisher
	pauses     []time.Duration
	cfg        Config
}

func newHarness(t *testing.T, mutate func(*Config)) *harness {
	t.Helper()
	ctx := context.Background()
	store, err := frontier.Open(ctx, filepath.Join(t.TempDir(), "crawl_state.db"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	h := &harness{
		frontier:   store,
		renderer:   newFakeRenderer(),
		extractor:  &fakeExtractor{reply: extractedJSON},
		governor:   &fakeGovernor{},
		checkpoint: &fakeCheckpoint{},
		blobs:      blobmemory.NewBlobStore(),
		publisher:  memory.New(),
		cfg: Config{
			SeedURL:           configuredSeed,
			RunID:             "run-1",
			PoliteDelay:       time.Second,
			FetchRetryBackoff: 2 * time.Second,
			CheckpointEvery:   1,
			OutputDir:         t.TempDir(),
			ArtifactPrefix:    "extracted_data",
			MaxHTMLChars:      12000,
			PruneHTML:         true,
			Topic:             "crawl-completions",
		},
	}
	h.sessions = &fakeSessions{renderer: h.renderer}
	if mutate != nil {
		mutate(&h.cfg)
	}

	filter := urlfilter.New(urlfilter.Config{
		AllowedDomains:     []string{"rclone.org", "forum.rclone.org"},
		ExcludedExtensions: []string{".zip"},
		BlacklistPatterns:  []string{"/fix-"},
	})
	w, err := New(Deps{
		Frontier:   store,
		Filter:     filter,
		Sessions:   h.sessions,
		Governor:   h.governor,
		Extractor:  h.extractor,
		Store:      h.blobs,
		Publisher:  h.publisher,
		Hasher:     sha256.New(),
		IDs:        uuid.New(),
		Clock:      fixedClock{now: time.Date(2026, 10, 16, 12, 0, 0, 0, time.UTC)},
		Checkpoint: h.checkpoint,
		Pause: func(_ context.Context, d time.Duration) error {
			h.pauses = append(h.pauses, d)
			return nil
		},
	}, h.cfg)
	require.NoError(t, err)
	h.worker = w
	return h
}

func (h *harness) status(t *testing.T, url string) crawler.Entry {
	t.Helper()
	entry, err := h.frontier.Get(context.Background(), url)
	require.NoError(t, err)
	return entry
}

func TestStepCompletesSeedAndDiscoversLinks(t *testing.T) {
	t.Parallel()

	h := newHarness(t, nil)
	h.renderer.page(seedURL, seedHTML)
	ctx := context.Background()
	_, err := h.frontier.Insert(ctx, seedURL, 0)
	require.NoError(t, err)

	result, err := h.worker.Step(ctx)
	require.NoError(t, err)
	assert.Equal(t, StepProcessed, result)

	assert.Equal(t, crawler.StatusCompleted, h.status(t, seedURL).Status)
	drive := h.status(t, driveURL)
	assert.Equal(t, crawler.StatusPending, drive.Status)
	assert.Equal(t, 1, drive.Depth)
	forum := h.status(t, forumURL)
	assert.Equal(t, crawler.StatusPending, forum.Status)
	assert.Equal(t, 1, forum.Depth)

	counts, err := h.frontier.Counts(ctx)
	require.NoError(t, err)
	total := int64(0)
	for _, c := range counts {
		total += c.Count
	}
	assert.Equal(t, int64(3), total, "mailto and off-domain links must not be inserted")

	raw, ok := h.blobs.Object("extracted_data/rclone_org.json")
	require.True(t, ok)
	var doc map[string]any
	require.NoError(t, json.Unmarshal(raw, &doc))
	assert.Equal(t, "Rclone", doc["title"])
	md, ok := h.blobs.Object("extracted_data/rclone_org.md")
	require.True(t, ok)
	assert.Contains(t, string(md), "# Rclone")
	assert.NoFileExists(t, filepath.Join(h.cfg.OutputDir, "rclone_org.json"))

	require.Len(t, h.extractor.prompts, 1)
	assert.True(t, strings.HasPrefix(h.extractor.prompts[0], "Extract technical documentation from "+seedURL))
	assert.NotContains(t, h.extractor.prompts[0], "<nav>", "pruned html is sent to the model")
	assert.Equal(t, 1, h.governor.waits)
	assert.Equal(t, 1, h.checkpoint.pushes)
	assert.Equal(t, 1, h.worker.Processed())

	msgs := h.publisher.Messages("crawl-completions")
	require.Len(t, msgs, 1)
	artifact, ok := msgs[0].Payload.(crawler.Artifact)
	require.True(t, ok)
	assert.Equal(t, seedURL, artifact.URL)
	assert.Equal(t, "extracted_data/rclone_org.json", artifact.JSONKey)
	assert.Len(t, artifact.ContentSHA256, 64)
	assert.Equal(t, "run-1", artifact.RunID)
}

func TestRunDrainsFrontier(t *testing.T) {
	t.Parallel()

	h := newHarness(t, func(c *Config) { c.CheckpointEvery = 2 })
	h.renderer.page(seedURL, seedHTML)
	h.renderer.page(driveURL, leafHTML)
	h.renderer.page(forumURL, leafHTML)

	require.NoError(t, h.worker.Run(context.Background()))

	for _, url := range []string{seedURL, driveURL, forumURL} {
		assert.Equal(t, crawler.StatusCompleted, h.status(t, url).Status, url)
	}
	assert.Equal(t, 3, h.worker.Processed())
	assert.Equal(t, 1, h.checkpoint.pushes)
	assert.Equal(t, 1, h.checkpoint.flushes)
	assert.Equal(t, []time.Duration{time.Second, time.Second, time.Second}, h.pauses)
}

func TestRunSeedDedupsAgainstHomeLink(t *testing.T) {
	t.Parallel()

	h := newHarness(t, nil)
	h.renderer.page(seedURL, seedHTML)
	h.renderer.page(driveURL, leafHTML)
	h.renderer.page(forumURL, leafHTML)
	ctx := context.Background()

	require.NoError(t, h.worker.Run(ctx))
	assert.Equal(t, 1, h.renderer.calls[seedURL])
	assert.Zero(t, h.renderer.calls[configuredSeed], "the home link is the seed, not a new page")
	_, err := h.frontier.Get(ctx, configuredSeed)
	require.ErrorIs(t, err, crawler.ErrNotFound)

	counts, err := h.frontier.Counts(ctx)
	require.NoError(t, err)
	total := int64(0)
	for _, c := range counts {
		total += c.Count
	}
	assert.Equal(t, int64(3), total)
}

func TestRunIsResumable(t *testing.T) {
	t.Parallel()

	h := newHarness(t, nil)
	h.renderer.page(seedURL, seedHTML)
	h.renderer.page(driveURL, leafHTML)
	h.renderer.page(forumURL, leafHTML)
	ctx := context.Background()

	_, err := h.frontier.Insert(ctx, seedURL, 0)
	require.NoError(t, err)
	_, err = h.worker.Step(ctx)
	require.NoError(t, err)

	require.NoError(t, h.worker.Run(ctx))
	assert.Equal(t, 1, h.renderer.calls[seedURL], "completed seed is not fetched again")
	assert.Equal(t, crawler.StatusCompleted, h.status(t, driveURL).Status)
}

func TestTransientRenderFailureIsRetriedOnce(t *testing.T) {
	t.Parallel()

	h := newHarness(t, nil)
	h.renderer.fail(seedURL, crawler.NewFetchError(crawler.KindTransient, seedURL, context.DeadlineExceeded))
	h.renderer.page(seedURL, leafHTML)
	ctx := context.Background()
	_, err := h.frontier.Insert(ctx, seedURL, 0)
	require.NoError(t, err)

	_, err = h.worker.Step(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, h.renderer.calls[seedURL])
	assert.Equal(t, []time.Duration{2 * time.Second}, h.pauses)
	assert.Equal(t, crawler.StatusCompleted, h.status(t, seedURL).Status)
}

func TestTransientRenderFailureTwiceFails(t *testing.T) {
	t.Parallel()

	h := newHarness(t, nil)
	h.renderer.fail(seedURL, crawler.NewFetchError(crawler.KindTransient, seedURL, errors.New("net::ERR_CONNECTION_RESET")))
	ctx := context.Background()
	_, err := h.frontier.Insert(ctx, seedURL, 0)
	require.NoError(t, err)

	_, err = h.worker.Step(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, h.renderer.calls[seedURL])
	assert.Equal(t, crawler.StatusFailed, h.status(t, seedURL).Status)
	assert.Empty(t, h.extractor.prompts)
}

func TestDeterministicPageFailureIsNotRetried(t *testing.T) {
	t.Parallel()

	h := newHarness(t, nil)
	ctx := context.Background()
	_, err := h.frontier.Insert(ctx, "https://rclone.org/missing", 0)
	require.NoError(t, err)

	_, err = h.worker.Step(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, h.renderer.calls["https://rclone.org/missing"])
	assert.Equal(t, crawler.StatusFailed, h.status(t, "https://rclone.org/missing").Status)
	assert.Empty(t, h.pauses)
	assert.Empty(t, h.blobs.Keys())
}

func TestSessionFatalLeavesURLProcessing(t *testing.T) {
	t.Parallel()

	h := newHarness(t, nil)
	h.renderer.fail(seedURL, crawler.NewFetchError(crawler.KindSessionFatal, seedURL, errors.New("websocket: close 1006")))
	ctx := context.Background()
	_, err := h.frontier.Insert(ctx, seedURL, 0)
	require.NoError(t, err)

	_, err = h.worker.Step(ctx)
	require.Error(t, err)
	assert.True(t, crawler.IsSessionFatal(err))
	assert.Equal(t, 1, h.renderer.calls[seedURL])
	assert.Equal(t, crawler.StatusProcessing, h.status(t, seedURL).Status)
}

func TestRunResetsSessionAfterFatalError(t *testing.T) {
	t.Parallel()

	h := newHarness(t, nil)
	h.renderer.fail(seedURL, crawler.NewFetchError(crawler.KindSessionFatal, seedURL, errors.New("target closed")))

	require.NoError(t, h.worker.Run(context.Background()))
	require.Len(t, h.sessions.resets, 1)
	assert.True(t, crawler.IsSessionFatal(h.sessions.resets[0]))
	assert.Equal(t, crawler.StatusProcessing, h.status(t, seedURL).Status)
	assert.Equal(t, 1, h.checkpoint.flushes)
}

func TestAcquireFailureDoesNotClaim(t *testing.T) {
	t.Parallel()

	h := newHarness(t, nil)
	h.sessions.acquireErr = errors.New("chrome failed to start")
	ctx := context.Background()
	_, err := h.frontier.Insert(ctx, seedURL, 0)
	require.NoError(t, err)

	_, err = h.worker.Step(ctx)
	require.Error(t, err)
	assert.True(t, crawler.IsSessionFatal(err))
	require.ErrorIs(t, err, ErrSessionUnavailable)
	assert.Equal(t, crawler.StatusPending, h.status(t, seedURL).Status)
}

func TestRunGivesUpWhenSessionCannotStart(t *testing.T) {
	t.Parallel()

	h := newHarness(t, nil)
	h.sessions.acquireErr = errors.New("chrome failed to start")

	err := h.worker.Run(context.Background())
	require.ErrorIs(t, err, ErrSessionUnavailable)
	assert.Equal(t, maxAcquireFailures, h.sessions.acquires)
	assert.Len(t, h.sessions.resets, maxAcquireFailures-1)
	assert.Equal(t, crawler.StatusPending, h.status(t, seedURL).Status)
	assert.Equal(t, 1, h.checkpoint.flushes)
}

func TestRunRetriesSessionStartBelowLimit(t *testing.T) {
	t.Parallel()

	h := newHarness(t, nil)
	h.sessions.failAcquires = maxAcquireFailures - 1
	h.renderer.page(seedURL, leafHTML)

	require.NoError(t, h.worker.Run(context.Background()))
	assert.Len(t, h.sessions.resets, maxAcquireFailures-1)
	assert.Equal(t, crawler.StatusCompleted, h.status(t, seedURL).Status)
}

func TestInvalidExtractionFailsURL(t *testing.T) {
	t.Parallel()

	h := newHarness(t, nil)
	h.renderer.page(seedURL, seedHTML)
	h.extractor.reply = "Sorry, I cannot help with that."
	ctx := context.Background()
	_, err := h.frontier.Insert(ctx, seedURL, 0)
	require.NoError(t, err)

	_, err = h.worker.Step(ctx)
	require.NoError(t, err)
	assert.Equal(t, crawler.StatusFailed, h.status(t, seedURL).Status)
	assert.Empty(t, h.blobs.Keys(), "artifacts are not written for failed extractions")
	_, err = h.frontier.Get(ctx, driveURL)
	require.ErrorIs(t, err, crawler.ErrNotFound, "links are not discovered from failed pages")
}

func TestExtractionErrorWithMarkdownFallback(t *testing.T) {
	t.Parallel()

	h := newHarness(t, func(c *Config) { c.MarkdownFallback = true })
	h.renderer.page(seedURL, seedHTML)
	h.extractor.err = errors.New("429 too many requests")
	ctx := context.Background()
	_, err := h.frontier.Insert(ctx, seedURL, 0)
	require.NoError(t, err)

	_, err = h.worker.Step(ctx)
	require.NoError(t, err)
	assert.Equal(t, crawler.StatusCompleted, h.status(t, seedURL).Status)

	raw, ok := h.blobs.Object("extracted_data/rclone_org.json")
	require.True(t, ok)
	var doc map[string]string
	require.NoError(t, json.Unmarshal(raw, &doc))
	assert.Contains(t, doc["raw_markdown"], "# Rclone")
}

func TestClaimSkipsExcludedURLs(t *testing.T) {
	t.Parallel()

	h := newHarness(t, nil)
	h.renderer.page(driveURL, leafHTML)
	ctx := context.Background()
	_, err := h.frontier.Insert(ctx, "https://rclone.org/downloads/rclone.zip", 1)
	require.NoError(t, err)
	_, err = h.frontier.Insert(ctx, "https://rclone.org/fix-1234", 1)
	require.NoError(t, err)
	_, err = h.frontier.Insert(ctx, driveURL, 1)
	require.NoError(t, err)

	_, err = h.worker.Step(ctx)
	require.NoError(t, err)
	assert.Equal(t, crawler.StatusSkipped, h.status(t, "https://rclone.org/downloads/rclone.zip").Status)
	assert.Equal(t, crawler.StatusSkipped, h.status(t, "https://rclone.org/fix-1234").Status)
	assert.Equal(t, crawler.StatusCompleted, h.status(t, driveURL).Status)
	assert.Zero(t, h.renderer.calls["https://rclone.org/downloads/rclone.zip"])
}

func TestRunCanceledStillFlushes(t *testing.T) {
	t.Parallel()

	h := newHarness(t, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := h.worker.Run(ctx)
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, h.checkpoint.flushes)
}

func TestUploadFailureDoesNotFailURL(t *testing.T) {
	t.Parallel()

	h := newHarness(t, nil)
	h.renderer.page(seedURL, leafHTML)
	h.blobs.SetPutError(errors.New("bucket unavailable"))
	ctx := context.Background()
	_, err := h.frontier.Insert(ctx, seedURL, 0)
	require.NoError(t, err)

	_, err = h.worker.Step(ctx)
	require.NoError(t, err)
	assert.Equal(t, crawler.StatusCompleted, h.status(t, seedURL).Status)
	assert.FileExists(t, filepath.Join(h.cfg.OutputDir, "rclone_org.json"), "local copy is kept when upload fails")
	assert.Empty(t, h.publisher.Messages("crawl-completions"))
}

func TestNewValidatesDeps(t *testing.T) {
	t.Parallel()

	_, err := New(Deps{}, Config{})
	require.Error(t, err)
}

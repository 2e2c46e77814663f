package frontier

import (
	"context"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/llm-docs-crawler/internal/crawler"
)

type stepClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *stepClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(time.Second)
	return c.now
}

func openTestStore(t *testing.T) (*Store, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "crawl_state.db")
	store, err := Open(context.Background(), path, &stepClock{now: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)})
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store, path
}

func TestInsertIsIdempotent(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store, _ := openTestStore(t)

	created, err := store.Insert(ctx, "https://rclone.org/docs", 1)
	require.NoError(t, err)
	assert.True(t, created)

	created, err = store.Insert(ctx, "https://rclone.org/docs", 4)
	require.NoError(t, err)
	assert.False(t, created)

	entry, err := store.Get(ctx, "https://rclone.org/docs")
	require.NoError(t, err)
	assert.Equal(t, 1, entry.Depth)
	assert.Equal(t, crawler.StatusPending, entry.Status)
	assert.False(t, entry.LastUpdated.IsZero())

	_, err = store.Insert(ctx, "https://rclone.org/neg", -1)
	require.Error(t, err)
	_, err = store.Insert(ctx, "", 0)
	require.Error(t, err)
}

func TestClaimNextIsFIFOAndExclusive(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store, _ := openTestStore(t)

	for i, u := range []string{"https://rclone.org/", "https://rclone.org/a", "https://rclone.org/b"} {
		_, err := store.Insert(ctx, u, i)
		require.NoError(t, err)
	}

	first, ok, err := store.ClaimNext(ctx, nil)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "https://rclone.org/", first.URL)
	assert.Equal(t, 0, first.Depth)

	entry, err := store.Get(ctx, first.URL)
	require.NoError(t, err)
	assert.Equal(t, crawler.StatusProcessing, entry.Status)

	second, ok, err := store.ClaimNext(ctx, nil)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "https://rclone.org/a", second.URL)

	third, ok, err := store.ClaimNext(ctx, nil)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "https://rclone.org/b", third.URL)

	_, ok, err = store.ClaimNext(ctx, nil)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestClaimNextSkipsRejectedEntries(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store, _ := openTestStore(t)

	for _, u := range []string{"https://rclone.org/file.zip", "https://rclone.org/v1.50/", "https://rclone.org/docs"} {
		_, err := store.Insert(ctx, u, 1)
		require.NoError(t, err)
	}
	admit := func(url string) (string, bool) {
		if strings.HasSuffix(url, ".zip") {
			return "excluded extension .zip", false
		}
		if strings.Contains(url, "/v1.") {
			return "blacklisted pattern /v1.", false
		}
		return "", true
	}

	claim, ok, err := store.ClaimNext(ctx, admit)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "https://rclone.org/docs", claim.URL)
	require.Len(t, claim.Skipped, 2)
	assert.Equal(t, "excluded extension .zip", claim.Skipped[0].Reason)
	assert.Equal(t, "https://rclone.org/v1.50/", claim.Skipped[1].URL)

	entry, err := store.Get(ctx, "https://rclone.org/file.zip")
	require.NoError(t, err)
	assert.Equal(t, crawler.StatusSkipped, entry.Status)
}

func TestClaimNextReportsSkipsWhenDrained(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store, _ := openTestStore(t)

	_, err := store.Insert(ctx, "https://rclone.org/a.pdf", 0)
	require.NoError(t, err)

	claim, ok, err := store.ClaimNext(ctx, func(string) (string, bool) { return "excluded extension .pdf", false })
	require.NoError(t, err)
	assert.False(t, ok)
	require.Len(t, claim.Skipped, 1)

	entry, err := store.Get(ctx, "https://rclone.org/a.pdf")
	require.NoError(t, err)
	assert.Equal(t, crawler.StatusSkipped, entry.Status)
}

func TestSetStatusTransitions(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store, _ := openTestStore(t)

	_, err := store.Insert(ctx, "https://rclone.org/", 0)
	require.NoError(t, err)

	err = store.SetStatus(ctx, "https://rclone.org/", crawler.StatusCompleted)
	require.ErrorIs(t, err, crawler.ErrInvalidTransition)

	before, err := store.Get(ctx, "https://rclone.org/")
	require.NoError(t, err)

	require.NoError(t, store.SetStatus(ctx, "https://rclone.org/", crawler.StatusProcessing))
	require.NoError(t, store.SetStatus(ctx, "https://rclone.org/", crawler.StatusCompleted))

	after, err := store.Get(ctx, "https://rclone.org/")
	require.NoError(t, err)
	assert.Equal(t, crawler.StatusCompleted, after.Status)
	assert.True(t, after.LastUpdated.After(before.LastUpdated))

	err = store.SetStatus(ctx, "https://rclone.org/", crawler.StatusPending)
	require.ErrorIs(t, err, crawler.ErrInvalidTransition)

	err = store.SetStatus(ctx, "https://rclone.org/missing", crawler.StatusProcessing)
	require.ErrorIs(t, err, crawler.ErrNotFound)

	err = store.SetStatus(ctx, "https://rclone.org/", crawler.Status("queued"))
	require.Error(t, err)
}

func TestReconcile(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	for _, tc := range []struct {
		policy ReconcilePolicy
		want   crawler.Status
		n      int64
	}{
		{ReconcileRequeue, crawler.StatusPending, 1},
		{ReconcileFail, crawler.StatusFailed, 1},
		{ReconcileKeep, crawler.StatusProcessing, 0},
	} {
		t.Run(string(tc.policy), func(t *testing.T) {
			t.Parallel()
			store, _ := openTestStore(t)
			_, err := store.Insert(ctx, "https://rclone.org/", 0)
			require.NoError(t, err)
			_, ok, err := store.ClaimNext(ctx, nil)
			require.NoError(t, err)
			require.True(t, ok)

			n, err := store.Reconcile(ctx, tc.policy)
			require.NoError(t, err)
			assert.Equal(t, tc.n, n)

			entry, err := store.Get(ctx, "https://rclone.org/")
			require.NoError(t, err)
			assert.Equal(t, tc.want, entry.Status)
		})
	}

	store, _ := openTestStore(t)
	_, err := store.Reconcile(ctx, ReconcilePolicy("drop"))
	require.Error(t, err)
	assert.False(t, ReconcilePolicy("drop").Valid())
}

func TestCrashResumeKeepsTerminalStates(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "crawl_state.db")

	store, err := Open(ctx, path, nil)
	require.NoError(t, err)
	for _, u := range []string{"https://rclone.org/", "https://rclone.org/a", "https://rclone.org/b", "https://rclone.org/c"} {
		_, err := store.Insert(ctx, u, 0)
		require.NoError(t, err)
	}
	claim, _, err := store.ClaimNext(ctx, nil)
	require.NoError(t, err)
	require.NoError(t, store.SetStatus(ctx, claim.URL, crawler.StatusCompleted))
	claim, _, err = store.ClaimNext(ctx, nil)
	require.NoError(t, err)
	require.NoError(t, store.SetStatus(ctx, claim.URL, crawler.StatusFailed))
	inFlight, _, err := store.ClaimNext(ctx, nil)
	require.NoError(t, err)
	// Simulate a crash: the handle goes away without any further writes.
	require.NoError(t, store.Close())

	reopened, err := Open(ctx, path, nil)
	require.NoError(t, err)
	defer func() { _ = reopened.Close() }()

	n, err := reopened.Reconcile(ctx, ReconcileRequeue)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	var claimed []string
	for {
		c, ok, err := reopened.ClaimNext(ctx, nil)
		require.NoError(t, err)
		if !ok {
			break
		}
		claimed = append(claimed, c.URL)
	}
	assert.Equal(t, []string{inFlight.URL, "https://rclone.org/c"}, claimed)
}

func TestInspectionQueries(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store, _ := openTestStore(t)

	for _, u := range []string{
		"https://rclone.org/docs", "https://rclone.org/docs/drive", "https://rclone.org/docs_x",
		"https://rclone.org/s3", "https://forum.rclone.org/t/1",
	} {
		_, err := store.Insert(ctx, u, 0)
		require.NoError(t, err)
	}
	for i := 0; i < 2; i++ {
		c, ok, err := store.ClaimNext(ctx, nil)
		require.NoError(t, err)
		require.True(t, ok)
		require.NoError(t, store.SetStatus(ctx, c.URL, crawler.StatusCompleted))
	}

	counts, err := store.Counts(ctx)
	require.NoError(t, err)
	require.Len(t, counts, len(crawler.Statuses))
	assert.Equal(t, crawler.StatusCount{Status: crawler.StatusPending, Count: 3}, counts[0])
	assert.Equal(t, crawler.StatusCount{Status: crawler.StatusCompleted, Count: 2}, counts[2])
	assert.Equal(t, int64(0), counts[4].Count)

	recent, err := store.Recent(ctx, 10)
	require.NoError(t, err)
	require.Len(t, recent, 2)
	assert.Equal(t, "https://rclone.org/docs/drive", recent[0].URL)

	matches, err := store.Search(ctx, "https://rclone.org/docs", 5)
	require.NoError(t, err)
	assert.Len(t, matches, 3)

	// '_' must be matched literally, not as a LIKE wildcard.
	matches, err = store.Search(ctx, "https://rclone.org/docs_", 5)
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.Equal(t, "https://rclone.org/docs_x", matches[0].URL)

	_, err = store.Get(ctx, "https://rclone.org/none")
	require.ErrorIs(t, err, crawler.ErrNotFound)
}

func TestSnapshotIsOpenable(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store, _ := openTestStore(t)

	_, err := store.Insert(ctx, "https://rclone.org/", 0)
	require.NoError(t, err)

	dest := filepath.Join(t.TempDir(), "snap.db")
	require.NoError(t, store.Snapshot(ctx, dest))
	// A second snapshot replaces the first.
	_, err = store.Insert(ctx, "https://rclone.org/b", 1)
	require.NoError(t, err)
	require.NoError(t, store.Snapshot(ctx, dest))

	copyStore, err := Open(ctx, dest, nil)
	require.NoError(t, err)
	defer func() { _ = copyStore.Close() }()

	entry, err := copyStore.Get(ctx, "https://rclone.org/b")
	require.NoError(t, err)
	assert.Equal(t, 1, entry.Depth)
}

func TestLastActivityTracksNewestUpdate(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store, path := openTestStore(t)

	empty, err := store.LastActivity(ctx)
	require.NoError(t, err)
	assert.True(t, empty.IsZero())

	_, err = store.Insert(ctx, "https://rclone.org", 0)
	require.NoError(t, err)
	_, err = store.Insert(ctx, "https://rclone.org/drive", 1)
	require.NoError(t, err)
	claim, ok, err := store.ClaimNext(ctx, nil)
	require.NoError(t, err)
	require.True(t, ok)
	require.NoError(t, store.SetStatus(ctx, claim.URL, crawler.StatusCompleted))

	// Insert at +1s, +2s, claim at +3s, completion at +4s.
	want := time.Date(2025, 1, 1, 0, 0, 4, 0, time.UTC)
	got, err := store.LastActivity(ctx)
	require.NoError(t, err)
	assert.True(t, want.Equal(got), "got %s", got)

	fromFile, err := LastActivity(ctx, path)
	require.NoError(t, err)
	assert.True(t, want.Equal(fromFile), "got %s", fromFile)
}

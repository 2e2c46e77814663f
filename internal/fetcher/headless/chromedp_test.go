package headless

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/llm-docs-crawler/internal/crawler"
)

func TestResponseMetaKeepsFirstDocument(t *testing.T) {
	t.Parallel()

	meta := &responseMeta{}
	meta.captureEvent(&network.EventResponseReceived{
		Type:     network.ResourceTypeScript,
		Response: &network.Response{Status: 500},
	})
	assert.Zero(t, meta.statusCode())

	meta.captureEvent(&network.EventResponseReceived{
		Type:     network.ResourceTypeDocument,
		Response: &network.Response{Status: 404, URL: "https://rclone.org/missing"},
	})
	meta.captureEvent(&network.EventResponseReceived{
		Type:     network.ResourceTypeDocument,
		Response: &network.Response{Status: 200, URL: "https://ads.example/frame"},
	})
	assert.Equal(t, 404, meta.statusCode())

	meta.captureEvent("not an event")
	assert.Equal(t, 404, meta.statusCode())
}

func TestForwardCancel(t *testing.T) {
	t.Parallel()

	parent, cancelParent := context.WithCancel(context.Background())
	child, cancelChild := context.WithCancel(context.Background())
	defer cancelChild()

	stop := forwardCancel(parent, cancelChild)
	defer stop()
	cancelParent()

	select {
	case <-child.Done():
	case <-time.After(time.Second):
		t.Fatal("child context was not canceled")
	}
}

func TestForwardCancelStop(t *testing.T) {
	t.Parallel()

	parent, cancelParent := context.WithCancel(context.Background())
	child, cancelChild := context.WithCancel(context.Background())
	defer cancelChild()

	stop := forwardCancel(parent, cancelChild)
	stop()
	cancelParent()
	time.Sleep(20 * time.Millisecond)
	assert.NoError(t, child.Err())
}

func TestIsSessionFatal(t *testing.T) {
	t.Parallel()

	live := context.Background()
	dead, cancel := context.WithCancel(context.Background())
	cancel()

	assert.True(t, isSessionFatal(dead, errors.New("anything")))
	assert.True(t, isSessionFatal(live, chromedp.ErrChannelClosed))
	assert.True(t, isSessionFatal(live, chromedp.ErrInvalidContext))
	assert.True(t, isSessionFatal(live, errors.New("chromedp run: websocket: close 1006")))
	assert.False(t, isSessionFatal(live, errors.New("page load error net::ERR_NAME_NOT_RESOLVED")))
	assert.False(t, isSessionFatal(live, context.DeadlineExceeded))
}

func TestClassify(t *testing.T) {
	t.Parallel()

	s := &Session{browserCtx: context.Background(), logger: zap.NewNop()}

	err := s.classify(context.Background(), "https://rclone.org/", context.DeadlineExceeded)
	assert.Equal(t, crawler.KindTransient, crawler.KindOf(err))

	err = s.classify(context.Background(), "https://rclone.org/", chromedp.ErrChannelClosed)
	assert.True(t, crawler.IsSessionFatal(err))

	canceled, cancel := context.WithCancel(context.Background())
	cancel()
	err = s.classify(canceled, "https://rclone.org/", errors.New("boom"))
	require.ErrorIs(t, err, context.Canceled)
	var fe *crawler.FetchError
	assert.False(t, errors.As(err, &fe))
}

func TestRenderOnClosedSession(t *testing.T) {
	t.Parallel()

	browserCtx, cancel := context.WithCancel(context.Background())
	cancel()
	s := &Session{browserCtx: browserCtx, logger: zap.NewNop()}

	_, err := s.Render(context.Background(), "https://rclone.org/")
	require.Error(t, err)
	assert.True(t, crawler.IsSessionFatal(err))
	assert.ErrorIs(t, err, ErrSessionClosed)
}

package crawler

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCanTransition(t *testing.T) {
	t.Parallel()

	cases := []struct {
		from, to Status
		want     bool
	}{
		{StatusPending, StatusProcessing, true},
		{StatusPending, StatusSkipped, true},
		{StatusProcessing, StatusCompleted, true},
		{StatusProcessing, StatusFailed, true},
		{StatusPending, StatusCompleted, false},
		{StatusProcessing, StatusSkipped, false},
		{StatusCompleted, StatusPending, false},
		{StatusFailed, StatusProcessing, false},
		{StatusSkipped, StatusPending, false},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, CanTransition(tc.from, tc.to), "%s -> %s", tc.from, tc.to)
	}
}

func TestStatusValidAndTerminal(t *testing.T) {
	t.Parallel()

	for _, s := range Statuses {
		assert.True(t, s.Valid(), s)
	}
	assert.False(t, Status("queued").Valid())
	assert.True(t, StatusCompleted.Terminal())
	assert.True(t, StatusSkipped.Terminal())
	assert.False(t, StatusProcessing.Terminal())
}

func TestKindOf(t *testing.T) {
	t.Parallel()

	fatal := NewFetchError(KindSessionFatal, "https://rclone.org/", errors.New("channel closed"))
	wrapped := fmt.Errorf("render: %w", fatal)

	assert.Equal(t, KindSessionFatal, KindOf(wrapped))
	assert.True(t, IsSessionFatal(wrapped))
	assert.Equal(t, KindTransient, KindOf(errors.New("plain")))
	assert.False(t, IsSessionFatal(nil))
	assert.Contains(t, fatal.Error(), "session_fatal render failure for https://rclone.org/")
	require.ErrorContains(t, errors.Unwrap(fatal), "channel closed")
}

func TestPause(t *testing.T) {
	t.Parallel()

	require.NoError(t, Pause(context.Background(), 0))

	start := time.Now()
	require.NoError(t, Pause(context.Background(), 20*time.Millisecond))
	assert.GreaterOrEqual(t, time.Since(start), 20*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := Pause(ctx, time.Hour)
	require.ErrorIs(t, err, context.Canceled)
}

package notify_test

import (
	"context"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gate4ai/chatstream/client/notify"
	"github.com/gate4ai/chatstream/server/transport"
	"github.com/gate4ai/chatstream/shared/stream"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func TestWatcher_ReceivesNotifications(t *testing.T) {
	logger := zaptest.NewLogger(t)
	notifier := transport.NewSSENotifier(logger)
	srv := httptest.NewServer(notifier)
	defer srv.Close()
	defer notifier.Close()

	// httptest serves every path, so point the watcher at the server root.
	w, err := notify.NewWatcher(srv.URL, notify.WithLogger(logger))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	received := make(chan stream.Notification, 16)
	done := make(chan error, 1)
	go func() {
		done <- w.Watch(ctx, func(n stream.Notification) { received <- n })
	}()

	var got stream.Notification
	require.Eventually(t, func() bool {
		notifier.Notify(stream.Notification{ChatID: "c1", State: "done", Tokens: 3, At: time.Now()})
		select {
		case got = <-received:
			return true
		default:
			return false
		}
	}, 5*time.Second, 20*time.Millisecond)
	assert.Equal(t, "c1", got.ChatID)
	assert.Equal(t, "done", got.State)
	assert.Equal(t, 3, got.Tokens)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("watcher did not stop")
	}
}

func TestWatcher_GivesUp(t *testing.T) {
	srv := httptest.NewServer(nil)
	url := srv.URL
	srv.Close()

	w, err := notify.NewWatcher(url, notify.WithMaxElapsedTime(300*time.Millisecond), notify.WithLogger(zaptest.NewLogger(t)))
	require.NoError(t, err)

	var calls atomic.Int32
	err = w.Watch(context.Background(), func(stream.Notification) { calls.Add(1) })
	assert.Error(t, err)
	assert.Zero(t, calls.Load())
}

func TestNewWatcher_RequiresBaseURL(t *testing.T) {
	_, err := notify.NewWatcher("")
	assert.Error(t, err)
}

// Package notify follows the server's notification stream of finished chats.
package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gate4ai/chatstream/shared/stream"
	"github.com/r3labs/sse/v2"
	"go.uber.org/zap"
	"gopkg.in/cenkalti/backoff.v1"
)

const notificationEvent = "notification"

// Watcher subscribes to a server's /events stream and reconnects with
// exponential backoff until its context ends.
type Watcher struct {
	url            string
	httpClient     *http.Client
	headers        map[string]string
	logger         *zap.Logger
	maxElapsedTime time.Duration
}

type WatcherOption func(*Watcher)

func WithLogger(logger *zap.Logger) WatcherOption {
	return func(w *Watcher) {
		if logger != nil {
			w.logger = logger.Named("notify").With(zap.String("url", w.url))
		}
	}
}

func WithHTTPClient(httpClient *http.Client) WatcherOption {
	return func(w *Watcher) {
		if httpClient != nil {
			w.httpClient = httpClient
		}
	}
}

func WithHeaders(headers map[string]string) WatcherOption {
	return func(w *Watcher) {
		for key, value := range headers {
			w.headers[key] = value
		}
	}
}

// WithMaxElapsedTime bounds how long a failing connection is retried.
// Zero retries until the context ends.
func WithMaxElapsedTime(d time.Duration) WatcherOption {
	return func(w *Watcher) { w.maxElapsedTime = d }
}

// NewWatcher creates a watcher for the server at baseURL.
func NewWatcher(baseURL string, options ...WatcherOption) (*Watcher, error) {
	if baseURL == "" {
		return nil, errors.New("baseURL cannot be empty")
	}
	w := &Watcher{
		url:        strings.TrimSuffix(baseURL, "/") + "/events",
		httpClient: http.DefaultClient,
		headers: map[string]string{
			"Accept":        "text/event-stream",
			"Cache-Control": "no-cache",
			"Connection":    "keep-alive",
		},
		logger: zap.NewNop(),
	}
	for _, option := range options {
		option(w)
	}
	return w, nil
}

// Watch calls fn for every notification until ctx is cancelled, which is
// reported as a nil error. It fails once reconnecting gives up.
func (w *Watcher) Watch(ctx context.Context, fn func(stream.Notification)) error {
	handler := func(msg *sse.Event) {
		if len(msg.Data) == 0 {
			return
		}
		if len(msg.Event) > 0 && string(msg.Event) != notificationEvent {
			return
		}
		var n stream.Notification
		if err := json.Unmarshal(msg.Data, &n); err != nil {
			w.logger.Warn("Failed to decode notification", zap.ByteString("data", msg.Data), zap.Error(err))
			return
		}
		fn(n)
	}

	for {
		client := sse.NewClient(w.url)
		client.Connection = w.httpClient
		client.Headers = w.headers
		expBackoff := backoff.NewExponentialBackOff()
		expBackoff.MaxElapsedTime = w.maxElapsedTime
		client.ReconnectStrategy = backoff.WithContext(expBackoff, ctx)
		client.ReconnectNotify = func(err error, t time.Duration) {
			w.logger.Warn("Notification stream connection error", zap.Error(err), zap.Duration("delay", t))
		}

		w.logger.Debug("Subscribing to notifications")
		err := client.SubscribeWithContext(ctx, "", handler)
		if ctx.Err() != nil {
			return nil
		}
		if err != nil {
			return fmt.Errorf("notification stream: %w", err)
		}

		// The server ended the stream cleanly, usually on shutdown.
		w.logger.Info("Notification stream closed by server, resubscribing")
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(expBackoff.InitialInterval):
		}
	}
}

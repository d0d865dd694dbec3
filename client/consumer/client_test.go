package consumer_test

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gate4ai/chatstream/client/consumer"
	"github.com/gate4ai/chatstream/server/producer"
	"github.com/gate4ai/chatstream/shared/stream"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

// streamServer answers /chat with body, written in pieces of chunkSize bytes (0 = at once).
func streamServer(t *testing.T, body []byte, chunkSize int) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		w.WriteHeader(http.StatusOK)
		flusher := w.(http.Flusher)
		if chunkSize <= 0 {
			chunkSize = len(body)
		}
		for start := 0; start < len(body); start += chunkSize {
			end := min(start+chunkSize, len(body))
			_, _ = w.Write(body[start:end])
			flusher.Flush()
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func newClient(t *testing.T, url string, options ...consumer.ClientOption) *consumer.Client {
	t.Helper()
	options = append([]consumer.ClientOption{consumer.WithLogger(zaptest.NewLogger(t))}, options...)
	c, err := consumer.New(url, options...)
	require.NoError(t, err)
	return c
}

func collect(t *testing.T, c *consumer.Client) ([]stream.Event, error) {
	t.Helper()
	var events []stream.Event
	err := c.Stream(context.Background(), stream.ChatRequest{Message: "hi"}, func(e stream.Event) {
		events = append(events, e)
	})
	return events, err
}

func TestPump_SingleChunk(t *testing.T) {
	body := stream.EncodeAll(stream.Token("Hel"), stream.Token("lo"), stream.Done())
	srv := streamServer(t, body, 0)

	events, err := collect(t, newClient(t, srv.URL))
	require.NoError(t, err)
	assert.Equal(t, []stream.Event{stream.Token("Hel"), stream.Token("lo"), stream.Done()}, events)
}

func TestPump_ChunkBoundaries(t *testing.T) {
	want := []stream.Event{
		stream.Connected(),
		stream.Token("multi\nline ✓"),
		stream.ToolStart("math", map[string]string{"expr": "2+2"}),
		stream.ToolEnd("math", map[string]string{"result": "4"}),
		stream.Done(),
	}
	body := stream.EncodeAll(want...)

	for _, size := range []int{1, 2, 7, 64} {
		srv := streamServer(t, body, size)
		events, err := collect(t, newClient(t, srv.URL))
		require.NoError(t, err, "chunk size %d", size)
		assert.Equal(t, want, events, "chunk size %d", size)
	}
}

func TestPump_SilentDisconnect(t *testing.T) {
	srv := streamServer(t, append(stream.Encode(stream.Token("partial")), []byte(`data: {"type":"tok`)...), 0)

	events, err := collect(t, newClient(t, srv.URL))
	assert.ErrorIs(t, err, consumer.ErrStreamIncomplete)
	require.Len(t, events, 2)
	assert.Equal(t, stream.Token("partial"), events[0])
	assert.Equal(t, stream.TypeError, events[1].Type)
	assert.Equal(t, consumer.ErrStreamIncomplete.Error(), events[1].Error)
}

func TestPump_MalformedFrameThenDone(t *testing.T) {
	srv := streamServer(t, []byte("data: {not json\n\ndata: {\"type\":\"done\"}\n\n"), 0)

	events, err := collect(t, newClient(t, srv.URL))
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, stream.TypeError, events[0].Type)
	assert.Equal(t, stream.Done(), events[1])
}

func TestPump_DeliversFramesAfterTerminal(t *testing.T) {
	srv := streamServer(t, stream.EncodeAll(stream.Done(), stream.Token("late")), 0)

	events, err := collect(t, newClient(t, srv.URL))
	require.NoError(t, err)
	assert.Equal(t, []stream.Event{stream.Done(), stream.Token("late")}, events)
}

func TestPump_WithProducerWriter(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sw := producer.NewWriter(w)
		defer sw.Close()
		_ = sw.WriteEvent(stream.Connected())
		_ = sw.WriteComment("keepalive")
		_ = sw.WriteEvent(stream.Token("ok"))
		_ = sw.WriteEvent(stream.Done())
	}))
	defer srv.Close()

	events, err := collect(t, newClient(t, srv.URL))
	require.NoError(t, err)
	assert.Equal(t, []stream.Event{stream.Connected(), stream.Token("ok"), stream.Done()}, events)
}

func TestOpen_Non2xx(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = io.WriteString(w, `{"error":"rate limit exceeded"}`)
	}))
	defer srv.Close()

	events, err := collect(t, newClient(t, srv.URL))
	var connErr *consumer.ConnectionError
	require.True(t, errors.As(err, &connErr))
	assert.Equal(t, http.StatusTooManyRequests, connErr.Status)
	assert.Contains(t, connErr.Error(), "rate limit exceeded")
	require.Len(t, events, 1, "open failures go through the same event path")
	assert.Equal(t, stream.TypeError, events[0].Type)
}

func TestOpen_WrongContentType(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		_, _ = io.WriteString(w, "hello")
	}))
	defer srv.Close()

	_, err := newClient(t, srv.URL).Open(context.Background(), stream.ChatRequest{Message: "hi"})
	var connErr *consumer.ConnectionError
	require.ErrorAs(t, err, &connErr)
	assert.Contains(t, connErr.Error(), "text/event-stream")
}

func TestOpen_NetworkFailure(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	_, err := newClient(t, url).Open(context.Background(), stream.ChatRequest{Message: "hi"})
	var connErr *consumer.ConnectionError
	require.ErrorAs(t, err, &connErr)
	assert.Zero(t, connErr.Status)
	assert.NotNil(t, errors.Unwrap(connErr))
}

func TestOpen_SendsRequest(t *testing.T) {
	var gotHeader, gotPath string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotHeader = r.Header.Get("X-Api-Key")
		gotPath = r.URL.Path
		w.Header().Set("Content-Type", "text/event-stream")
		_, _ = w.Write(stream.Encode(stream.Done()))
	}))
	defer srv.Close()

	c := newClient(t, srv.URL+"/", consumer.WithHeaders(map[string]string{"X-Api-Key": "secret"}))
	_, err := collect(t, c)
	require.NoError(t, err)
	assert.Equal(t, "secret", gotHeader)
	assert.Equal(t, "/chat", gotPath)
}

func TestHandle_CloseStopsPump(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sw := producer.NewWriter(w)
		_ = sw.WriteEvent(stream.Token("first"))
		select {
		case <-r.Context().Done():
		case <-release:
		}
	}))
	defer srv.Close()
	defer close(release)

	h, err := newClient(t, srv.URL).Open(context.Background(), stream.ChatRequest{Message: "hi"})
	require.NoError(t, err)

	var events []stream.Event
	err = consumer.Pump(h, func(e stream.Event) {
		events = append(events, e)
		if e.Type == stream.TypeToken {
			require.NoError(t, h.Close())
		}
	})
	assert.Error(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, stream.TypeError, events[1].Type)
	assert.NoError(t, h.Close(), "second close is a no-op")
}

func TestNew_RequiresBaseURL(t *testing.T) {
	_, err := consumer.New("")
	assert.Error(t, err)
}

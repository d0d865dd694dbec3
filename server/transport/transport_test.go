package transport_test

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gate4ai/chatstream/server/model"
	"github.com/gate4ai/chatstream/server/producer"
	"github.com/gate4ai/chatstream/server/storage"
	"github.com/gate4ai/chatstream/server/transport"
	"github.com/gate4ai/chatstream/shared/config"
	"github.com/gate4ai/chatstream/shared/stream"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type testServer struct {
	*httptest.Server
	invoker  *model.ScriptedInvoker
	store    *storage.MemoryStore
	notifier *transport.SSENotifier
	producer *producer.Producer
}

func newTestServer(t *testing.T, cfg *config.InternalConfig, chunks ...model.Chunk) *testServer {
	t.Helper()
	logger := zaptest.NewLogger(t)
	if cfg == nil {
		cfg = config.NewInternalConfig()
		cfg.SetRateLimits(0, 0)
	}
	ts := &testServer{
		invoker:  model.NewScripted(chunks...),
		store:    storage.NewMemoryStore(),
		notifier: transport.NewSSENotifier(logger),
	}
	p, err := producer.New(ts.invoker,
		producer.WithLogger(logger),
		producer.WithStore(ts.store),
		producer.WithNotifier(ts.notifier),
	)
	require.NoError(t, err)
	ts.producer = p

	tr, err := transport.New(p, cfg, logger, transport.WithStore(ts.store), transport.WithNotifier(ts.notifier))
	require.NoError(t, err)
	mux := http.NewServeMux()
	tr.RegisterHandlers(mux)
	ts.Server = httptest.NewServer(mux)
	t.Cleanup(func() {
		ts.notifier.Close()
		ts.Server.Close()
	})
	return ts
}

func (ts *testServer) postChat(t *testing.T, body string) *http.Response {
	t.Helper()
	resp, err := http.Post(ts.URL+transport.CHAT_PATH, "application/json", strings.NewReader(body))
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func readError(t *testing.T, resp *http.Response) string {
	t.Helper()
	var body struct {
		Error string `json:"error"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	return body.Error
}

func TestChat_StreamsFrames(t *testing.T) {
	ts := newTestServer(t, nil, model.TextChunk{Text: "Hel"}, model.TextChunk{Text: "lo"})

	resp := ts.postChat(t, `{"chatId":"c1","message":"hi"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))
	assert.Equal(t, "no-cache", resp.Header.Get("Cache-Control"))

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t,
		"data: {\"type\":\"connected\"}\n\n"+
			"data: {\"type\":\"token\",\"token\":\"Hel\"}\n\n"+
			"data: {\"type\":\"token\",\"token\":\"lo\"}\n\n"+
			"data: {\"type\":\"done\"}\n\n",
		string(body))

	ts.producer.Wait()
	history, _ := ts.store.History(context.Background(), "c1")
	assert.Equal(t, []model.Message{
		{Role: model.RoleUser, Content: "hi"},
		{Role: model.RoleAssistant, Content: "Hello"},
	}, history)
}

func TestChat_PassesMessagesAndAttachment(t *testing.T) {
	ts := newTestServer(t, nil, model.TextChunk{Text: "ok"})

	resp := ts.postChat(t, `{"messages":[{"role":"user","content":"a"},{"role":"assistant","content":"b"}],`+
		`"message":"read this","attachment":{"name":"doc.txt","type":"text/plain","text":"contents"}}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	_, _ = io.ReadAll(resp.Body)

	calls := ts.invoker.Calls()
	require.Len(t, calls, 1)
	assert.Equal(t, []model.Message{
		{Role: model.RoleUser, Content: "a"},
		{Role: model.RoleAssistant, Content: "b"},
		{Role: model.RoleUser, Content: "read this\n\n[File: doc.txt]\ncontents"},
	}, calls[0])
}

func TestChat_LoadsStoredHistory(t *testing.T) {
	ts := newTestServer(t, nil, model.TextChunk{Text: "ok"})
	require.NoError(t, ts.store.Store(context.Background(), "c7", model.RoleUser, "earlier"))

	resp := ts.postChat(t, `{"chatId":"c7","message":"again"}`)
	_, _ = io.ReadAll(resp.Body)

	calls := ts.invoker.Calls()
	require.Len(t, calls, 1)
	require.Len(t, calls[0], 2)
	assert.Equal(t, "earlier", calls[0][0].Content)
	assert.Equal(t, "again", calls[0][1].Content)
}

func TestChat_RejectsBadRequests(t *testing.T) {
	cfg := config.NewInternalConfig()
	cfg.SetRateLimits(0, 0)
	cfg.MaxRequestBytesValue = 64
	ts := newTestServer(t, cfg)

	tests := []struct {
		name   string
		body   string
		status int
		errMsg string
	}{
		{"EmptyMessage", `{"message":"   "}`, http.StatusBadRequest, transport.ErrEmptyMessage.Error()},
		{"InvalidJSON", `{"message":`, http.StatusBadRequest, "invalid request body"},
		{"UnknownRole", `{"messages":[{"role":"robot","content":"x"}],"message":"hi"}`, http.StatusBadRequest, "unsupported role"},
		{"TooLarge", `{"message":"` + strings.Repeat("x", 128) + `"}`, http.StatusRequestEntityTooLarge, "exceeds"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := ts.postChat(t, tt.body)
			assert.Equal(t, tt.status, resp.StatusCode)
			assert.Contains(t, readError(t, resp), tt.errMsg)
		})
	}
	assert.Empty(t, ts.invoker.Calls())
}

func TestChat_Methods(t *testing.T) {
	ts := newTestServer(t, nil)

	req, _ := http.NewRequest(http.MethodOptions, ts.URL+transport.CHAT_PATH, nil)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	assert.Equal(t, "POST, OPTIONS", resp.Header.Get("Allow"))

	resp, err = http.Get(ts.URL + transport.CHAT_PATH)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
	assert.Equal(t, "POST, OPTIONS", resp.Header.Get("Allow"))
}

func TestChat_Throttled(t *testing.T) {
	cfg := config.NewInternalConfig()
	cfg.SetRateLimits(1, 0)
	ts := newTestServer(t, cfg, model.TextChunk{Text: "x"})

	first := ts.postChat(t, `{"message":"one"}`)
	_, _ = io.ReadAll(first.Body)
	assert.Equal(t, http.StatusOK, first.StatusCode)

	second := ts.postChat(t, `{"message":"two"}`)
	assert.Equal(t, http.StatusTooManyRequests, second.StatusCode)
	assert.Equal(t, transport.ErrRPSExceeded.Error(), readError(t, second))
}

func TestStatus(t *testing.T) {
	ts := newTestServer(t, nil)
	resp, err := http.Get(ts.URL + transport.STATUS_PATH)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var status transport.StatusResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&status))
	assert.Equal(t, config.DefaultServerName, status.Name)
	assert.Equal(t, "ok", status.Config)
	assert.Equal(t, "ok", status.Storage)
	assert.Equal(t, config.ProviderLorem, status.Model)
}

func TestEvents_PublishesNotifications(t *testing.T) {
	ts := newTestServer(t, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, ts.URL+transport.EVENTS_PATH, nil)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, resp.Header.Get("Content-Type"), "text/event-stream")

	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(resp.Body)
		for scanner.Scan() {
			if strings.HasPrefix(scanner.Text(), "data:") {
				lines <- strings.TrimSpace(strings.TrimPrefix(scanner.Text(), "data:"))
				return
			}
		}
	}()

	// The subscription is registered asynchronously, so publish until it is seen.
	ticker := time.NewTicker(20 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case line, ok := <-lines:
			require.True(t, ok, "stream closed before a notification arrived")
			var n stream.Notification
			require.NoError(t, json.Unmarshal([]byte(line), &n))
			assert.Equal(t, "c1", n.ChatID)
			assert.Equal(t, "done", n.State)
			return
		case <-ticker.C:
			ts.notifier.Notify(stream.Notification{ChatID: "c1", State: "done", At: time.Now()})
		case <-ctx.Done():
			t.Fatal("timed out waiting for notification")
		}
	}
}

func TestThrottle(t *testing.T) {
	rps := transport.NewThrottle(1, 0)
	assert.NoError(t, rps.Allow("a"))
	assert.ErrorIs(t, rps.Allow("a"), transport.ErrRPSExceeded)
	assert.NoError(t, rps.Allow("b"), "limits are per key")

	rpm := transport.NewThrottle(0, 2)
	assert.NoError(t, rpm.Allow("a"))
	assert.NoError(t, rpm.Allow("a"))
	assert.ErrorIs(t, rpm.Allow("a"), transport.ErrRPMExceeded)

	off := transport.NewThrottle(0, 0)
	for i := 0; i < 100; i++ {
		require.NoError(t, off.Allow("a"))
	}
}

func TestNew_Validates(t *testing.T) {
	_, err := transport.New(nil, config.NewInternalConfig(), nil)
	assert.Error(t, err)

	p, err := producer.New(model.NewScripted())
	require.NoError(t, err)
	_, err = transport.New(p, nil, nil)
	assert.Error(t, err)
	_, err = transport.New(p, config.NewInternalConfig(), nil, transport.WithNotifier(nil))
	assert.Error(t, err)
}

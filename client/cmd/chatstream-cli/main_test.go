package main

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gate4ai/chatstream/client/consumer"
	"github.com/gate4ai/chatstream/client/conversation"
	"github.com/gate4ai/chatstream/shared/stream"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func newTestChat(t *testing.T, url string) (*chat, *bytes.Buffer, *bytes.Buffer) {
	t.Helper()
	logger := zaptest.NewLogger(t)
	client, err := consumer.New(url, consumer.WithLogger(logger))
	require.NoError(t, err)
	c := newChat(client, "", logger)
	var out, errOut bytes.Buffer
	c.out, c.errOut = &out, &errOut
	return c, &out, &errOut
}

func TestSend_PrintsTokens(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		_, _ = w.Write(stream.EncodeAll(stream.Token("Hel"), stream.Token("lo"), stream.Done()))
	}))
	defer srv.Close()

	c, out, errOut := newTestChat(t, srv.URL)
	require.NoError(t, c.send(context.Background(), "hi", nil))
	assert.Equal(t, "Hello\n", out.String())
	assert.Empty(t, errOut.String())
}

func TestSend_ReportsSubmitFailure(t *testing.T) {
	c, _, errOut := newTestChat(t, "http://127.0.0.1:1")
	_, err := c.conv.Submit("still streaming", nil)
	require.NoError(t, err)

	err = c.send(context.Background(), "next", nil)
	assert.ErrorIs(t, err, conversation.ErrRequestInFlight)
	assert.Contains(t, errOut.String(), conversation.ErrRequestInFlight.Error())
}

func TestSend_ReportsConnectionFailure(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	c, _, errOut := newTestChat(t, url)
	err := c.send(context.Background(), "hi", nil)
	require.Error(t, err)
	assert.Contains(t, errOut.String(), "error: open chat stream")
	assert.Equal(t, 1, strings.Count(errOut.String(), "error:"), "the failure is reported once")
	assert.Empty(t, c.conv.ErrorBanner(), "the banner is shown once and dismissed")
}

package consumer

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"

	"github.com/gate4ai/chatstream/shared/stream"
	"go.uber.org/zap"
)

const readChunkSize = 4096

// Client opens chat streams against one server.
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     *zap.Logger
	headers    map[string]string
}

// New creates a client for the server at baseURL.
// The chat endpoint is baseURL + "/chat".
func New(baseURL string, options ...ClientOption) (*Client, error) {
	if baseURL == "" {
		return nil, fmt.Errorf("baseURL cannot be empty")
	}
	client := &Client{
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		httpClient: http.DefaultClient,
		headers:    make(map[string]string),
		logger:     zap.NewNop(),
	}
	for _, option := range options {
		option(client)
	}
	return client, nil
}

// Handle owns the body of one open chat stream.
type Handle struct {
	body      io.ReadCloser
	logger    *zap.Logger
	closeOnce sync.Once
	closeErr  error
}

// Open posts req and returns the streaming response. Any failure to obtain
// a 2xx event stream is returned as a *ConnectionError.
func (c *Client) Open(ctx context.Context, req stream.ChatRequest) (*Handle, error) {
	reqBytes, err := json.Marshal(req)
	if err != nil {
		return nil, &ConnectionError{Err: fmt.Errorf("marshal chat request: %w", err)}
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat", bytes.NewReader(reqBytes))
	if err != nil {
		return nil, &ConnectionError{Err: fmt.Errorf("create chat request: %w", err)}
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "text/event-stream")
	for key, value := range c.headers {
		httpReq.Header.Set(key, value)
	}

	logger := c.logger.With(zap.String("chatId", req.ChatID))
	logger.Debug("Opening chat stream", zap.Int("headerCount", len(c.headers)))
	httpResp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, &ConnectionError{Err: err}
	}
	if httpResp.StatusCode < 200 || httpResp.StatusCode >= 300 {
		bodyBytes, _ := io.ReadAll(io.LimitReader(httpResp.Body, bodyExcerptLimit+1))
		httpResp.Body.Close()
		return nil, &ConnectionError{Status: httpResp.StatusCode, Body: excerpt(bodyBytes)}
	}
	contentType := httpResp.Header.Get("Content-Type")
	if !strings.HasPrefix(contentType, "text/event-stream") {
		httpResp.Body.Close()
		return nil, &ConnectionError{
			Status: httpResp.StatusCode,
			Err:    fmt.Errorf("expected Content-Type 'text/event-stream', got '%s'", contentType),
		}
	}
	return &Handle{body: httpResp.Body, logger: logger}, nil
}

// Close releases the response body. It is safe to call more than once and
// from another goroutine while Pump is reading.
func (h *Handle) Close() error {
	h.closeOnce.Do(func() {
		h.closeErr = h.body.Close()
	})
	return h.closeErr
}

// Pump reads the stream until the body ends and calls onEvent for every
// decoded frame in arrival order. Frames after a terminal one are still
// delivered. If the body ends or fails before any terminal frame, an error
// event is synthesized and the cause is returned. A partial trailing frame
// is discarded.
func Pump(h *Handle, onEvent func(stream.Event)) error {
	var (
		decoder  stream.Decoder
		terminal bool
		buf      = make([]byte, readChunkSize)
	)
	for {
		n, readErr := h.body.Read(buf)
		if n > 0 {
			for _, event := range decoder.Feed(buf[:n]) {
				if event.IsTerminal() {
					terminal = true
				}
				onEvent(event)
			}
		}
		if readErr == nil {
			continue
		}

		if pending := decoder.Pending(); pending != "" {
			h.logger.Debug("Discarding partial frame", zap.Int("bytes", len(pending)))
			decoder.Reset()
		}
		switch {
		case terminal:
			if !errors.Is(readErr, io.EOF) {
				h.logger.Debug("Read error after terminal frame", zap.Error(readErr))
			}
			return nil
		case errors.Is(readErr, io.EOF):
			h.logger.Warn("Chat stream ended without a terminal frame")
			onEvent(stream.Failure(ErrStreamIncomplete.Error()))
			return ErrStreamIncomplete
		default:
			err := fmt.Errorf("read chat stream: %w", readErr)
			h.logger.Warn("Chat stream read failed", zap.Error(readErr))
			onEvent(stream.Failure(err.Error()))
			return err
		}
	}
}

// Stream opens req, pumps every event into onEvent and closes the handle.
// A connection failure is also delivered to onEvent as an error event, so
// callers handle every failure in one place.
func (c *Client) Stream(ctx context.Context, req stream.ChatRequest, onEvent func(stream.Event)) error {
	h, err := c.Open(ctx, req)
	if err != nil {
		onEvent(stream.Failure(err.Error()))
		return err
	}
	defer h.Close()
	return Pump(h, onEvent)
}

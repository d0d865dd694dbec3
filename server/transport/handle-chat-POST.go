package transport

import (
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"

	"github.com/gate4ai/chatstream/server/model"
	"github.com/gate4ai/chatstream/server/producer"
	"github.com/gate4ai/chatstream/shared/stream"
	"go.uber.org/zap"
)

var ErrEmptyMessage = errors.New("message is empty")

const allowedChatMethods = "POST, OPTIONS"

// handleChat accepts one chat turn and streams the reply as SSE frames.
func (t *Transport) handleChat(w http.ResponseWriter, r *http.Request) {
	logger := t.logger.With(zap.String("method", r.Method), zap.String("remote", r.RemoteAddr))

	switch r.Method {
	case http.MethodOptions:
		w.Header().Set("Allow", allowedChatMethods)
		w.WriteHeader(http.StatusNoContent)
		return
	case http.MethodPost:
	default:
		w.Header().Set("Allow", allowedChatMethods)
		sendError(w, http.StatusMethodNotAllowed, "method not allowed", logger)
		return
	}

	if err := t.throttle.Allow(clientKey(r)); err != nil {
		logger.Warn("Request throttled", zap.Error(err))
		sendError(w, http.StatusTooManyRequests, err.Error(), logger)
		return
	}

	chatReq, status, err := t.decodeChatRequest(w, r)
	if err != nil {
		logger.Debug("Rejected chat request", zap.Int("status", status), zap.Error(err))
		sendError(w, status, err.Error(), logger)
		return
	}

	req, err := t.producerRequest(r, chatReq)
	if err != nil {
		sendError(w, http.StatusBadRequest, err.Error(), logger)
		return
	}

	logger.Debug("Starting stream", zap.String("chatId", req.ChatID), zap.Int("history", len(req.History)))
	state, err := t.producer.Run(r.Context(), producer.NewWriter(w), req)
	if err != nil {
		logger.Debug("Stream ended with error", zap.Stringer("state", state), zap.Error(err))
	}
}

func (t *Transport) decodeChatRequest(w http.ResponseWriter, r *http.Request) (*stream.ChatRequest, int, error) {
	maxBytes, err := t.config.MaxRequestBytes()
	if err != nil {
		return nil, http.StatusInternalServerError, fmt.Errorf("read request limit: %w", err)
	}
	if maxBytes > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, maxBytes)
	}

	var chatReq stream.ChatRequest
	if err := json.NewDecoder(r.Body).Decode(&chatReq); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return nil, http.StatusRequestEntityTooLarge, fmt.Errorf("request body exceeds %d bytes", tooLarge.Limit)
		}
		return nil, http.StatusBadRequest, fmt.Errorf("invalid request body: %w", err)
	}
	if strings.TrimSpace(chatReq.Message) == "" {
		return nil, http.StatusBadRequest, ErrEmptyMessage
	}
	return &chatReq, http.StatusOK, nil
}

// producerRequest converts the wire request. Without explicit messages the stored history is used.
func (t *Transport) producerRequest(r *http.Request, chatReq *stream.ChatRequest) (producer.Request, error) {
	req := producer.Request{ChatID: chatReq.ChatID, Message: chatReq.Message}

	for i, m := range chatReq.Messages {
		switch m.Role {
		case model.RoleUser, model.RoleAssistant, model.RoleSystem:
		default:
			return req, fmt.Errorf("messages[%d]: unsupported role %q", i, m.Role)
		}
		req.History = append(req.History, model.Message{Role: m.Role, Content: m.Content})
	}

	if len(req.History) == 0 && req.ChatID != "" && t.store != nil {
		history, err := t.store.History(r.Context(), req.ChatID)
		if err != nil {
			t.logger.Warn("Failed to load history, continuing without it", zap.String("chatId", req.ChatID), zap.Error(err))
		} else {
			req.History = history
		}
	}

	if a := chatReq.Attachment; a != nil {
		req.Attachment = &producer.Attachment{Name: a.Name, Type: a.Type, Text: a.Text}
	}
	return req, nil
}

// clientKey identifies the caller for throttling.
func clientKey(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

package transport

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/gate4ai/chatstream/server/producer"
	"github.com/gate4ai/chatstream/server/storage"
	"github.com/gate4ai/chatstream/shared/config"
	"go.uber.org/zap"
)

const (
	CHAT_PATH   = "/chat"
	STATUS_PATH = "/status"
	EVENTS_PATH = "/events"

	contentTypeJSON = "application/json"
)

// Transport serves the chat endpoints over HTTP.
type Transport struct {
	producer *producer.Producer
	store    storage.MessageStore
	notifier *SSENotifier
	config   config.IConfig
	logger   *zap.Logger
	throttle *Throttle
}

// TransportOption defines a function type for configuring the Transport.
type TransportOption func(*Transport) error

// WithStore lets /chat load history for requests that carry only a chat id.
func WithStore(store storage.MessageStore) TransportOption {
	return func(t *Transport) error {
		t.store = store
		return nil
	}
}

// WithNotifier exposes notifier on EVENTS_PATH.
func WithNotifier(notifier *SSENotifier) TransportOption {
	return func(t *Transport) error {
		if notifier == nil {
			return errors.New("notifier cannot be nil")
		}
		t.notifier = notifier
		return nil
	}
}

// WithThrottle replaces the limiter built from config.
func WithThrottle(throttle *Throttle) TransportOption {
	return func(t *Transport) error {
		t.throttle = throttle
		return nil
	}
}

func New(p *producer.Producer, cfg config.IConfig, logger *zap.Logger, options ...TransportOption) (*Transport, error) {
	if p == nil {
		return nil, errors.New("producer cannot be nil")
	}
	if cfg == nil {
		return nil, errors.New("config cannot be nil")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	t := &Transport{
		producer: p,
		config:   cfg,
		logger:   logger.Named("transport"),
	}
	for _, option := range options {
		if err := option(t); err != nil {
			return nil, err
		}
	}
	if t.throttle == nil {
		rps, err := cfg.RateLimitRPS()
		if err != nil {
			return nil, err
		}
		rpm, err := cfg.RateLimitRPM()
		if err != nil {
			return nil, err
		}
		t.throttle = NewThrottle(rps, rpm)
	}
	return t, nil
}

// RegisterHandlers mounts every endpoint on mux.
func (t *Transport) RegisterHandlers(mux *http.ServeMux) {
	mux.HandleFunc(CHAT_PATH, t.handleChat)
	mux.Handle(STATUS_PATH, StatusHandler(t.config, t.store, t.logger))
	if t.notifier != nil {
		mux.Handle(EVENTS_PATH, t.notifier)
	}
	t.logger.Info("Registered handlers",
		zap.String("chat", CHAT_PATH),
		zap.String("status", STATUS_PATH),
		zap.Bool("events", t.notifier != nil))
}

type errorResponse struct {
	Error string `json:"error"`
}

// sendError writes a JSON error. It must only be used before streaming starts.
func sendError(w http.ResponseWriter, status int, msg string, logger *zap.Logger) {
	w.Header().Set("Content-Type", contentTypeJSON)
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(errorResponse{Error: msg}); err != nil {
		logger.Debug("Failed to write error response", zap.Error(err))
	}
}

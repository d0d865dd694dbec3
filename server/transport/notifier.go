package transport

import (
	"encoding/json"
	"net/http"

	"github.com/gate4ai/chatstream/server/producer"
	"github.com/gate4ai/chatstream/shared/stream"
	"github.com/r3labs/sse/v2"
	"go.uber.org/zap"
)

const (
	NotificationsStream = "notifications"
	notificationEvent   = "notification"
)

var _ producer.Notifier = (*SSENotifier)(nil)

// SSENotifier broadcasts finished-stream notifications to every subscriber of EVENTS_PATH.
type SSENotifier struct {
	server *sse.Server
	logger *zap.Logger
}

func NewSSENotifier(logger *zap.Logger) *SSENotifier {
	if logger == nil {
		logger = zap.NewNop()
	}
	server := sse.New()
	server.AutoReplay = false
	server.CreateStream(NotificationsStream)
	return &SSENotifier{server: server, logger: logger.Named("notifier")}
}

// Notify publishes n. Subscribers that are not connected miss it.
func (n *SSENotifier) Notify(note stream.Notification) {
	data, err := json.Marshal(note)
	if err != nil {
		n.logger.Error("Failed to marshal notification", zap.Error(err))
		return
	}
	n.server.Publish(NotificationsStream, &sse.Event{Event: []byte(notificationEvent), Data: data})
	n.logger.Debug("Published notification", zap.String("chatId", note.ChatID), zap.String("state", note.State))
}

// ServeHTTP subscribes the caller. The stream query parameter defaults to NotificationsStream.
func (n *SSENotifier) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", http.MethodGet)
		sendError(w, http.StatusMethodNotAllowed, "method not allowed", n.logger)
		return
	}
	q := r.URL.Query()
	if q.Get("stream") == "" {
		q.Set("stream", NotificationsStream)
		r = r.Clone(r.Context())
		r.URL.RawQuery = q.Encode()
	}
	n.server.ServeHTTP(w, r)
}

// Close disconnects all subscribers.
func (n *SSENotifier) Close() {
	n.server.Close()
}

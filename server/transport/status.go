package transport

import (
	"encoding/json"
	"net/http"

	"github.com/gate4ai/chatstream/server/storage"
	"github.com/gate4ai/chatstream/shared/config"
	"go.uber.org/zap"
)

// StatusResponse represents the response structure for the status endpoint
type StatusResponse struct {
	Name    string `json:"name"`
	Version string `json:"version"`
	Model   string `json:"model"`
	Config  string `json:"config"`
	Storage string `json:"storage"`
}

// StatusHandler reports config and storage health. It always answers 200.
func StatusHandler(cfg config.IConfig, store storage.MessageStore, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		handlerLogger := logger.With(zap.String("handler", "StatusHandler"))

		response := StatusResponse{Config: "ok", Storage: "none"}
		response.Name, _ = cfg.ServerName()
		response.Version, _ = cfg.ServerVersion()
		response.Model, _ = cfg.ModelProvider()

		if err := cfg.Status(r.Context()); err != nil {
			handlerLogger.Error("Failed to get config status", zap.Error(err))
			response.Config = "error"
		}

		if store != nil {
			if err := store.Status(r.Context()); err != nil {
				handlerLogger.Error("Storage is unhealthy", zap.Error(err))
				response.Storage = "error"
			} else {
				response.Storage = "ok"
			}
		}

		w.Header().Set("Content-Type", contentTypeJSON)
		w.WriteHeader(http.StatusOK)
		json.NewEncoder(w).Encode(response)
	}
}

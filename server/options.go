package server

import (
	"errors"
	"net/http"

	"github.com/gate4ai/chatstream/server/model"
	"github.com/gate4ai/chatstream/server/storage"
	"go.uber.org/zap"
)

// WithListenAddr overrides the listen address from the config.
func WithListenAddr(addr string) ServerOption {
	return func(b *ServerBuilder) error {
		// Allow empty addr to mean "use config default"
		if addr != "" {
			b.listenAddr = addr
			b.logger.Info("Overriding listen address", zap.String("newAddress", addr))
		}
		return nil
	}
}

// WithInvoker replaces the configured model provider.
func WithInvoker(invoker model.Invoker) ServerOption {
	return func(b *ServerBuilder) error {
		if invoker == nil {
			return errors.New("invoker cannot be nil")
		}
		b.invoker = invoker
		return nil
	}
}

// WithStore replaces the configured message store.
func WithStore(store storage.MessageStore) ServerOption {
	return func(b *ServerBuilder) error {
		if store == nil {
			return errors.New("store cannot be nil")
		}
		b.store = store
		return nil
	}
}

// WithHandler mounts an extra handler next to the chat endpoints.
func WithHandler(pattern string, handler http.Handler) ServerOption {
	return func(b *ServerBuilder) error {
		b.mux.Handle(pattern, handler)
		return nil
	}
}

package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gate4ai/chatstream/server/producer"
	"github.com/gate4ai/chatstream/server/transport"
	"github.com/gate4ai/chatstream/shared/config"
	"go.uber.org/zap"
)

// Start builds the chat server from cfg and starts listening.
// The returned channel reports a listener failure and is closed once the server has stopped.
// Cancelling ctx shuts the server down gracefully.
func Start(ctx context.Context, logger *zap.Logger, cfg config.IConfig, options ...ServerOption) (<-chan error, error) {
	if logger == nil {
		return nil, errors.New("logger cannot be nil")
	}
	if cfg == nil {
		return nil, errors.New("config cannot be nil")
	}

	listenAddr, err := cfg.ListenAddr()
	if err != nil {
		return nil, fmt.Errorf("failed to get listen address: %w", err)
	}

	builder := &ServerBuilder{
		ctx:        ctx,
		logger:     logger,
		cfg:        cfg,
		listenAddr: listenAddr,
		mux:        http.NewServeMux(),
	}

	logger.Info("Applying server configuration options...")
	for _, option := range options {
		if err := option(builder); err != nil {
			return nil, fmt.Errorf("failed to apply server option: %w", err)
		}
	}
	if err := builder.ensureInvoker(); err != nil {
		return nil, fmt.Errorf("failed to create model invoker: %w", err)
	}
	if err := builder.ensureStore(); err != nil {
		return nil, fmt.Errorf("failed to open message store: %w", err)
	}

	keepAlive, err := cfg.StreamKeepAlive()
	if err != nil {
		return nil, err
	}
	connectedEvent, err := cfg.StreamConnectedEvent()
	if err != nil {
		return nil, err
	}

	notifier := transport.NewSSENotifier(logger)
	chatProducer, err := producer.New(builder.invoker,
		producer.WithLogger(logger),
		producer.WithStore(builder.store),
		producer.WithNotifier(notifier),
		producer.WithKeepAlive(keepAlive),
		producer.WithConnectedEvent(connectedEvent),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create producer: %w", err)
	}

	transportInstance, err := transport.New(chatProducer, cfg, logger,
		transport.WithStore(builder.store),
		transport.WithNotifier(notifier),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create transport: %w", err)
	}
	transportInstance.RegisterHandlers(builder.mux)

	serverInstance, listenerErrChan, err := transport.StartHTTPServer(ctx, logger, cfg, builder.mux, builder.listenAddr)
	if err != nil {
		return nil, fmt.Errorf("failed to start HTTP server: %w", err)
	}

	done := make(chan error, 1)
	go func() {
		defer close(done)
		defer func() {
			chatProducer.Wait()
			if err := builder.store.Close(); err != nil {
				logger.Warn("Failed to close message store", zap.Error(err))
			}
		}()

		select {
		case err, ok := <-listenerErrChan:
			if ok && err != nil {
				logger.Error("Server listener failed", zap.Error(err))
				done <- err
			}
			notifier.Close()
			logger.Info("Server listener stopped.")
		case <-ctx.Done():
			logger.Info("Shutdown signal received, stopping server...")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
			defer cancel()
			// Subscribers of the notification stream never finish on their own.
			notifier.Close()
			transport.ShutdownHTTPServer(shutdownCtx, logger, serverInstance)
			<-listenerErrChan
			logger.Info("Server stopped.")
		}
	}()

	return done, nil
}

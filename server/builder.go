package server

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gate4ai/chatstream/server/model"
	"github.com/gate4ai/chatstream/server/storage"
	"github.com/gate4ai/chatstream/shared/config"
	"go.uber.org/zap"
)

type ServerBuilder struct {
	ctx        context.Context
	logger     *zap.Logger
	cfg        config.IConfig
	listenAddr string
	mux        *http.ServeMux

	invoker model.Invoker
	store   storage.MessageStore
}

// ServerOption defines a function type for configuring the ServerBuilder.
type ServerOption func(*ServerBuilder) error

// ensureInvoker builds the model invoker named by the config unless an option supplied one.
func (b *ServerBuilder) ensureInvoker() error {
	if b.invoker != nil {
		return nil
	}
	provider, err := b.cfg.ModelProvider()
	if err != nil {
		return fmt.Errorf("failed to get model provider: %w", err)
	}
	b.invoker, err = NewInvoker(b.cfg, provider)
	if err != nil {
		return err
	}
	b.logger.Info("Using model provider", zap.String("provider", provider))
	return nil
}

// NewInvoker creates the invoker for provider from cfg.
func NewInvoker(cfg config.IConfig, provider string) (model.Invoker, error) {
	switch strings.ToLower(provider) {
	case config.ProviderAnthropic:
		apiKey, err := cfg.ModelAPIKey()
		if err != nil {
			return nil, err
		}
		name, err := cfg.ModelName()
		if err != nil {
			return nil, err
		}
		maxTokens, err := cfg.ModelMaxTokens()
		if err != nil {
			return nil, err
		}
		systemPrompt, err := cfg.SystemPrompt()
		if err != nil {
			return nil, err
		}
		return model.NewAnthropic(apiKey, name, maxTokens, systemPrompt)
	case config.ProviderLorem, "":
		return model.NewLorem(0, 30*time.Millisecond), nil
	case config.ProviderFake:
		return model.NewScripted(
			model.TextChunk{Text: "This is "},
			model.TextChunk{Text: "a fake "},
			model.TextChunk{Text: "response."},
		), nil
	default:
		return nil, fmt.Errorf("unknown model provider %q", provider)
	}
}

// ensureStore opens the configured message store unless an option supplied one.
func (b *ServerBuilder) ensureStore() error {
	if b.store != nil {
		return nil
	}
	dsn, err := b.cfg.StorageDSN()
	if err != nil {
		return fmt.Errorf("failed to get storage dsn: %w", err)
	}
	if dsn == "" {
		b.logger.Info("No storage DSN configured, keeping messages in memory")
		b.store = storage.NewMemoryStore()
		return nil
	}

	pg, err := storage.NewPostgresStore(dsn, b.logger)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(b.ctx, 10*time.Second)
	defer cancel()
	if err := pg.EnsureSchema(ctx); err != nil {
		pg.Close()
		return err
	}
	b.store = pg
	return nil
}

package config

import (
	"context"
	"errors"
	"time"
)

var ErrNotFound = errors.New("not found")

// Model providers understood by the server.
const (
	ProviderAnthropic = "anthropic"
	ProviderLorem     = "lorem"
	ProviderFake      = "fake"
)

type IConfig interface {
	// Core Server Settings
	ListenAddr() (string, error)
	ServerName() (string, error)
	ServerVersion() (string, error)
	LogLevel() (string, error)

	// Model Settings
	ModelProvider() (string, error) // "anthropic", "lorem" or "fake"
	ModelName() (string, error)
	ModelAPIKey() (string, error)
	ModelMaxTokens() (int, error)
	SystemPrompt() (string, error)

	// Stream Settings
	StreamKeepAlive() (time.Duration, error) // zero disables keepalive comments
	StreamConnectedEvent() (bool, error)
	RateLimitRPS() (int, error) // per remote address, zero disables
	RateLimitRPM() (int, error)
	MaxRequestBytes() (int64, error)

	// Storage Settings
	StorageDSN() (string, error) // empty keeps messages in memory

	// SSL Settings
	SSLEnabled() (bool, error)
	SSLMode() (string, error)          // Returns "manual" or "acme"
	SSLCertFile() (string, error)      // Path to certificate file (manual mode)
	SSLKeyFile() (string, error)       // Path to private key file (manual mode)
	SSLAcmeDomains() ([]string, error) // List of domains for ACME
	SSLAcmeEmail() (string, error)     // Contact email for ACME
	SSLAcmeCacheDir() (string, error)  // Directory to cache ACME certificates

	// Lifecycle & Status
	Status(ctx context.Context) error
	Close() error
}

// Defaults shared by every backend.
const (
	DefaultListenAddr      = ":8080"
	DefaultServerName      = "chatstream"
	DefaultServerVersion   = "0.1.0"
	DefaultLogLevel        = "info"
	DefaultModelProvider   = ProviderLorem
	DefaultModelName       = "claude-sonnet-4-5"
	DefaultModelMaxTokens  = 4096
	DefaultKeepAlive       = 15 * time.Second
	DefaultRateLimitRPS    = 2
	DefaultRateLimitRPM    = 60
	DefaultMaxRequestBytes = 1 << 20
	DefaultAcmeCacheDir    = "./.autocert-cache"
)

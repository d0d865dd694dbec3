package config

import (
	"context"
	"sync"
	"time"
)

var _ IConfig = (*InternalConfig)(nil)

// InternalConfig keeps every setting in memory. Tests set the exported fields directly.
type InternalConfig struct {
	mu                        sync.RWMutex
	ServerAddress             string
	ServerNameValue           string
	ServerVersionValue        string
	LogLevelValue             string
	ModelProviderValue        string
	ModelNameValue            string
	ModelAPIKeyValue          string
	ModelMaxTokensValue       int
	SystemPromptValue         string
	StreamKeepAliveValue      time.Duration
	StreamConnectedEventValue bool
	RateLimitRPSValue         int
	RateLimitRPMValue         int
	MaxRequestBytesValue      int64
	StorageDSNValue           string

	SSLEnabledValue      bool
	SSLModeValue         string
	SSLCertFileValue     string
	SSLKeyFileValue      string
	SSLAcmeDomainsValue  []string
	SSLAcmeEmailValue    string
	SSLAcmeCacheDirValue string
}

// NewInternalConfig creates a new in-memory configuration
func NewInternalConfig() *InternalConfig {
	return &InternalConfig{
		ServerAddress:             DefaultListenAddr,
		ServerNameValue:           DefaultServerName,
		ServerVersionValue:        DefaultServerVersion,
		LogLevelValue:             DefaultLogLevel,
		ModelProviderValue:        DefaultModelProvider,
		ModelNameValue:            DefaultModelName,
		ModelMaxTokensValue:       DefaultModelMaxTokens,
		StreamKeepAliveValue:      DefaultKeepAlive,
		StreamConnectedEventValue: true,
		RateLimitRPSValue:         DefaultRateLimitRPS,
		RateLimitRPMValue:         DefaultRateLimitRPM,
		MaxRequestBytesValue:      DefaultMaxRequestBytes,
		SSLModeValue:              "manual",
		SSLAcmeCacheDirValue:      DefaultAcmeCacheDir,
	}
}

func (c *InternalConfig) ListenAddr() (string, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.ServerAddress, nil
}

func (c *InternalConfig) SetListenAddr(addr string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ServerAddress = addr
}

func (c *InternalConfig) ServerName() (string, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.ServerNameValue, nil
}

func (c *InternalConfig) ServerVersion() (string, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.ServerVersionValue, nil
}

// LogLevel returns the configured log level
func (c *InternalConfig) LogLevel() (string, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.LogLevelValue, nil
}

func (c *InternalConfig) ModelProvider() (string, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.ModelProviderValue, nil
}

// SetModelProvider switches the provider used for new invokers.
func (c *InternalConfig) SetModelProvider(provider string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ModelProviderValue = provider
}

func (c *InternalConfig) ModelName() (string, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.ModelNameValue, nil
}

func (c *InternalConfig) ModelAPIKey() (string, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.ModelAPIKeyValue, nil
}

func (c *InternalConfig) ModelMaxTokens() (int, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.ModelMaxTokensValue, nil
}

func (c *InternalConfig) SystemPrompt() (string, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.SystemPromptValue, nil
}

func (c *InternalConfig) StreamKeepAlive() (time.Duration, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.StreamKeepAliveValue, nil
}

func (c *InternalConfig) StreamConnectedEvent() (bool, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.StreamConnectedEventValue, nil
}

func (c *InternalConfig) RateLimitRPS() (int, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.RateLimitRPSValue, nil
}

func (c *InternalConfig) RateLimitRPM() (int, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.RateLimitRPMValue, nil
}

// SetRateLimits replaces both throttling limits.
func (c *InternalConfig) SetRateLimits(rps, rpm int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.RateLimitRPSValue = rps
	c.RateLimitRPMValue = rpm
}

func (c *InternalConfig) MaxRequestBytes() (int64, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.MaxRequestBytesValue, nil
}

func (c *InternalConfig) StorageDSN() (string, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.StorageDSNValue, nil
}

func (c *InternalConfig) SSLEnabled() (bool, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.SSLEnabledValue, nil
}

func (c *InternalConfig) SSLMode() (string, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.SSLModeValue, nil
}

func (c *InternalConfig) SSLCertFile() (string, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.SSLCertFileValue, nil
}

func (c *InternalConfig) SSLKeyFile() (string, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.SSLKeyFileValue, nil
}

func (c *InternalConfig) SSLAcmeDomains() ([]string, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	domains := make([]string, len(c.SSLAcmeDomainsValue))
	copy(domains, c.SSLAcmeDomainsValue)
	return domains, nil
}

func (c *InternalConfig) SSLAcmeEmail() (string, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.SSLAcmeEmailValue, nil
}

func (c *InternalConfig) SSLAcmeCacheDir() (string, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.SSLAcmeCacheDirValue, nil
}

func (c *InternalConfig) Close() error {
	return nil
}

func (c *InternalConfig) Status(ctx context.Context) error {
	return nil
}

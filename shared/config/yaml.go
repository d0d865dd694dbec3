package config

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

var _ IConfig = (*YamlConfig)(nil)

// YamlConfig implements IConfig over a YAML file
type YamlConfig struct {
	mu         sync.RWMutex
	configPath string
	logger     *zap.Logger

	serverAddress string
	serverName    string
	serverVersion string
	logLevel      string

	modelProvider  string
	modelName      string
	modelAPIKey    string
	modelMaxTokens int
	systemPrompt   string

	keepAlive       time.Duration
	connectedEvent  bool
	rateLimitRPS    int
	rateLimitRPM    int
	maxRequestBytes int64
	storageDSN      string

	// SSL Fields
	sslEnabled      bool
	sslMode         string
	sslCertFile     string
	sslKeyFile      string
	sslAcmeDomains  []string
	sslAcmeEmail    string
	sslAcmeCacheDir string
}

// YAML configuration structure matching the required format
type yamlConfig struct {
	Server struct {
		Address  string `yaml:"address"`
		Name     string `yaml:"name"`
		Version  string `yaml:"version"`
		LogLevel string `yaml:"log_level"`
		SSL      struct {
			Enabled      bool     `yaml:"enabled"`
			Mode         string   `yaml:"mode"`
			CertFile     string   `yaml:"cert_file"`
			KeyFile      string   `yaml:"key_file"`
			AcmeDomains  []string `yaml:"acme_domains"`
			AcmeEmail    string   `yaml:"acme_email"`
			AcmeCacheDir string   `yaml:"acme_cache_dir"`
		} `yaml:"ssl"`
	} `yaml:"server"`

	Model struct {
		Provider     string `yaml:"provider"`
		Name         string `yaml:"name"`
		APIKey       string `yaml:"api_key"` // "$VAR" reads the key from the environment
		MaxTokens    int    `yaml:"max_tokens"`
		SystemPrompt string `yaml:"system_prompt"`
	} `yaml:"model"`

	Stream struct {
		KeepAlive       string `yaml:"keepalive"`
		ConnectedEvent  *bool  `yaml:"connected_event"`
		RateLimitRPS    *int   `yaml:"rate_limit_rps"`
		RateLimitRPM    *int   `yaml:"rate_limit_rpm"`
		MaxRequestBytes int64  `yaml:"max_request_bytes"`
	} `yaml:"stream"`

	Storage struct {
		DSN string `yaml:"dsn"`
	} `yaml:"storage"`
}

// NewYamlConfig loads configPath and returns the parsed configuration.
func NewYamlConfig(configPath string, logger *zap.Logger) (*YamlConfig, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	config := &YamlConfig{
		configPath: configPath,
		logger:     logger.Named("config"),
	}

	if err := config.Update(); err != nil {
		return nil, err
	}
	return config, nil
}

// Update reloads configuration from the YAML file
func (c *YamlConfig) Update() error {
	c.logger.Debug("Updating configuration from YAML file", zap.String("path", c.configPath))

	data, err := os.ReadFile(c.configPath)
	if err != nil {
		c.logger.Error("Failed to read config file", zap.Error(err))
		return err
	}

	var yamlCfg yamlConfig
	if err := yaml.Unmarshal(data, &yamlCfg); err != nil {
		c.logger.Error("Failed to parse YAML", zap.Error(err))
		return err
	}

	keepAlive := DefaultKeepAlive
	if v := strings.TrimSpace(yamlCfg.Stream.KeepAlive); v != "" {
		keepAlive, err = time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("invalid stream.keepalive %q: %w", v, err)
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	// --- Process Server Section ---
	c.serverAddress = orDefault(yamlCfg.Server.Address, DefaultListenAddr)
	c.serverName = orDefault(yamlCfg.Server.Name, DefaultServerName)
	c.serverVersion = orDefault(yamlCfg.Server.Version, DefaultServerVersion)
	c.logLevel = orDefault(yamlCfg.Server.LogLevel, DefaultLogLevel)

	// --- Process SSL Section ---
	c.sslEnabled = yamlCfg.Server.SSL.Enabled
	c.sslMode = strings.ToLower(yamlCfg.Server.SSL.Mode)
	if c.sslMode != "acme" {
		c.sslMode = "manual"
	}
	c.sslCertFile = yamlCfg.Server.SSL.CertFile
	c.sslKeyFile = yamlCfg.Server.SSL.KeyFile
	c.sslAcmeDomains = yamlCfg.Server.SSL.AcmeDomains
	c.sslAcmeEmail = yamlCfg.Server.SSL.AcmeEmail
	c.sslAcmeCacheDir = orDefault(yamlCfg.Server.SSL.AcmeCacheDir, DefaultAcmeCacheDir)

	// --- Process Model Section ---
	c.modelProvider = strings.ToLower(orDefault(yamlCfg.Model.Provider, DefaultModelProvider))
	c.modelName = orDefault(yamlCfg.Model.Name, DefaultModelName)
	c.modelAPIKey = yamlCfg.Model.APIKey
	if strings.HasPrefix(c.modelAPIKey, "$") {
		c.modelAPIKey = os.Getenv(strings.TrimPrefix(c.modelAPIKey, "$"))
	}
	c.modelMaxTokens = yamlCfg.Model.MaxTokens
	if c.modelMaxTokens <= 0 {
		c.modelMaxTokens = DefaultModelMaxTokens
	}
	c.systemPrompt = yamlCfg.Model.SystemPrompt

	// --- Process Stream Section ---
	c.keepAlive = keepAlive
	c.connectedEvent = true
	if yamlCfg.Stream.ConnectedEvent != nil {
		c.connectedEvent = *yamlCfg.Stream.ConnectedEvent
	}
	c.rateLimitRPS = DefaultRateLimitRPS
	if yamlCfg.Stream.RateLimitRPS != nil {
		c.rateLimitRPS = *yamlCfg.Stream.RateLimitRPS
	}
	c.rateLimitRPM = DefaultRateLimitRPM
	if yamlCfg.Stream.RateLimitRPM != nil {
		c.rateLimitRPM = *yamlCfg.Stream.RateLimitRPM
	}
	c.maxRequestBytes = yamlCfg.Stream.MaxRequestBytes
	if c.maxRequestBytes <= 0 {
		c.maxRequestBytes = DefaultMaxRequestBytes
	}

	c.storageDSN = yamlCfg.Storage.DSN
	return nil
}

// Watch reloads the file whenever it changes until ctx is done.
// The parent directory is watched so editors that replace the file are handled.
func (c *YamlConfig) Watch(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	if err := watcher.Add(filepath.Dir(c.configPath)); err != nil {
		watcher.Close()
		return fmt.Errorf("failed to watch config dir: %w", err)
	}
	target := filepath.Clean(c.configPath)

	go func() {
		defer watcher.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(event.Name) != target {
					continue
				}
				if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
					continue
				}
				if err := c.Update(); err != nil {
					c.logger.Warn("Keeping previous configuration", zap.Error(err))
					continue
				}
				c.logger.Info("Configuration reloaded", zap.String("path", c.configPath))
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				c.logger.Warn("Config watcher error", zap.Error(err))
			}
		}
	}()
	return nil
}

func orDefault(value, fallback string) string {
	if value == "" {
		return fallback
	}
	return value
}

func (c *YamlConfig) Close() error { return nil }
func (c *YamlConfig) ListenAddr() (string, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.serverAddress, nil
}
func (c *YamlConfig) ServerName() (string, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.serverName, nil
}
func (c *YamlConfig) ServerVersion() (string, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.serverVersion, nil
}
func (c *YamlConfig) LogLevel() (string, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.logLevel, nil
}

// --- Model Methods ---
func (c *YamlConfig) ModelProvider() (string, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.modelProvider, nil
}
func (c *YamlConfig) ModelName() (string, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.modelName, nil
}
func (c *YamlConfig) ModelAPIKey() (string, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.modelAPIKey, nil
}
func (c *YamlConfig) ModelMaxTokens() (int, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.modelMaxTokens, nil
}
func (c *YamlConfig) SystemPrompt() (string, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.systemPrompt, nil
}

// --- Stream Methods ---
func (c *YamlConfig) StreamKeepAlive() (time.Duration, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.keepAlive, nil
}
func (c *YamlConfig) StreamConnectedEvent() (bool, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.connectedEvent, nil
}
func (c *YamlConfig) RateLimitRPS() (int, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.rateLimitRPS, nil
}
func (c *YamlConfig) RateLimitRPM() (int, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.rateLimitRPM, nil
}
func (c *YamlConfig) MaxRequestBytes() (int64, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.maxRequestBytes, nil
}
func (c *YamlConfig) StorageDSN() (string, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.storageDSN, nil
}

func (c *YamlConfig) Status(ctx context.Context) error {
	if _, err := os.Stat(c.configPath); err != nil {
		c.logger.Error("YAML config file status check failed", zap.String("path", c.configPath), zap.Error(err))
		return fmt.Errorf("config file error: %w", err)
	}
	return nil
}

// --- SSL Methods ---
func (c *YamlConfig) SSLEnabled() (bool, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.sslEnabled, nil
}
func (c *YamlConfig) SSLMode() (string, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.sslMode, nil
}
func (c *YamlConfig) SSLCertFile() (string, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.sslCertFile, nil
}
func (c *YamlConfig) SSLKeyFile() (string, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.sslKeyFile, nil
}
func (c *YamlConfig) SSLAcmeDomains() ([]string, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	domainsCopy := make([]string, len(c.sslAcmeDomains))
	copy(domainsCopy, c.sslAcmeDomains)
	return domainsCopy, nil
}
func (c *YamlConfig) SSLAcmeEmail() (string, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.sslAcmeEmail, nil
}
func (c *YamlConfig) SSLAcmeCacheDir() (string, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.sslAcmeCacheDir, nil
}

package config

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "github.com/lib/pq"
	"go.uber.org/zap"
)

var _ IConfig = (*DatabaseConfig)(nil)

// DatabaseConfig reads settings from the "Settings" table of a PostgreSQL database.
// Values are stored as JSON; a missing key yields the default.
type DatabaseConfig struct {
	logger *zap.Logger
	db     *sql.DB
}

// NewDatabaseConfig opens a pool for dbConnectionString.
func NewDatabaseConfig(dbConnectionString string, logger *zap.Logger) (*DatabaseConfig, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	db, err := sql.Open("postgres", dbConnectionString)
	if err != nil {
		return nil, fmt.Errorf("db connect: %w", err)
	}
	return newDatabaseConfig(db, logger), nil
}

func newDatabaseConfig(db *sql.DB, logger *zap.Logger) *DatabaseConfig {
	return &DatabaseConfig{db: db, logger: logger.Named("config")}
}

// Close closes the connection pool
func (c *DatabaseConfig) Close() error {
	return c.db.Close()
}

// --- IConfig Implementation ---

func (c *DatabaseConfig) ListenAddr() (string, error) {
	return c.getSettingString("chatstream_listen_address", DefaultListenAddr)
}
func (c *DatabaseConfig) ServerName() (string, error) {
	return c.getSettingString("chatstream_server_name", DefaultServerName)
}
func (c *DatabaseConfig) ServerVersion() (string, error) {
	return c.getSettingString("chatstream_server_version", DefaultServerVersion)
}
func (c *DatabaseConfig) LogLevel() (string, error) {
	return c.getSettingString("chatstream_log_level", DefaultLogLevel)
}

func (c *DatabaseConfig) ModelProvider() (string, error) {
	return c.getSettingString("chatstream_model_provider", DefaultModelProvider)
}
func (c *DatabaseConfig) ModelName() (string, error) {
	return c.getSettingString("chatstream_model_name", DefaultModelName)
}
func (c *DatabaseConfig) ModelAPIKey() (string, error) {
	return c.getSettingString("chatstream_model_api_key", "")
}
func (c *DatabaseConfig) ModelMaxTokens() (int, error) {
	return c.getSettingInt("chatstream_model_max_tokens", DefaultModelMaxTokens)
}
func (c *DatabaseConfig) SystemPrompt() (string, error) {
	return c.getSettingString("chatstream_system_prompt", "")
}

// StreamKeepAlive accepts a duration string ("15s") or a number of seconds.
func (c *DatabaseConfig) StreamKeepAlive() (time.Duration, error) {
	value, err := c.getSettingJSON("chatstream_stream_keepalive")
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return DefaultKeepAlive, nil
		}
		return DefaultKeepAlive, err
	}
	switch v := value.(type) {
	case float64:
		return time.Duration(v * float64(time.Second)), nil
	case string:
		d, err := time.ParseDuration(v)
		if err != nil {
			return DefaultKeepAlive, fmt.Errorf("setting 'chatstream_stream_keepalive': %w", err)
		}
		return d, nil
	default:
		return DefaultKeepAlive, fmt.Errorf("setting 'chatstream_stream_keepalive' has unexpected type %T", value)
	}
}
func (c *DatabaseConfig) StreamConnectedEvent() (bool, error) {
	return c.getSettingBool("chatstream_stream_connected_event", true)
}
func (c *DatabaseConfig) RateLimitRPS() (int, error) {
	return c.getSettingInt("chatstream_rate_limit_rps", DefaultRateLimitRPS)
}
func (c *DatabaseConfig) RateLimitRPM() (int, error) {
	return c.getSettingInt("chatstream_rate_limit_rpm", DefaultRateLimitRPM)
}
func (c *DatabaseConfig) MaxRequestBytes() (int64, error) {
	n, err := c.getSettingInt("chatstream_max_request_bytes", DefaultMaxRequestBytes)
	return int64(n), err
}
func (c *DatabaseConfig) StorageDSN() (string, error) {
	return c.getSettingString("chatstream_storage_dsn", "")
}

func (c *DatabaseConfig) Status(ctx context.Context) error {
	if err := c.db.PingContext(ctx); err != nil {
		c.logger.Error("DB ping failed", zap.Error(err))
		return err
	}
	return nil
}
func (c *DatabaseConfig) SSLEnabled() (bool, error) {
	return c.getSettingBool("chatstream_ssl_enabled", false)
}
func (c *DatabaseConfig) SSLMode() (string, error) {
	return c.getSettingString("chatstream_ssl_mode", "manual")
}
func (c *DatabaseConfig) SSLCertFile() (string, error) {
	return c.getSettingString("chatstream_ssl_cert_file", "")
}
func (c *DatabaseConfig) SSLKeyFile() (string, error) {
	return c.getSettingString("chatstream_ssl_key_file", "")
}
func (c *DatabaseConfig) SSLAcmeEmail() (string, error) {
	return c.getSettingString("chatstream_ssl_acme_email", "")
}
func (c *DatabaseConfig) SSLAcmeCacheDir() (string, error) {
	return c.getSettingString("chatstream_ssl_acme_cache_dir", DefaultAcmeCacheDir)
}
func (c *DatabaseConfig) SSLAcmeDomains() ([]string, error) {
	return c.getSettingStringSlice("chatstream_ssl_acme_domains", []string{})
}

// --- Database Helper Functions ---
func (c *DatabaseConfig) getSettingRaw(key string) ([]byte, error) {
	var valueStr sql.NullString
	err := c.db.QueryRowContext(context.Background(), `SELECT value FROM "Settings" WHERE key = $1 LIMIT 1`, key).Scan(&valueStr)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("query setting '%s': %w", key, err)
	}
	if !valueStr.Valid {
		return nil, ErrNotFound
	}
	return []byte(valueStr.String), nil
}
func (c *DatabaseConfig) getSettingJSON(key string) (interface{}, error) {
	raw, err := c.getSettingRaw(key)
	if err != nil {
		return nil, err
	}
	var value interface{}
	if err := json.Unmarshal(raw, &value); err != nil {
		return nil, fmt.Errorf("unmarshal setting '%s': %w", key, err)
	}
	return value, nil
}
func (c *DatabaseConfig) getSettingString(key string, defaultValue string) (string, error) {
	value, err := c.getSettingJSON(key)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return defaultValue, nil
		}
		return defaultValue, err
	}
	switch v := value.(type) {
	case string:
		return v, nil
	case float64:
		return fmt.Sprintf("%v", int(v)), nil
	default:
		return defaultValue, fmt.Errorf("setting '%s' has unexpected type %T", key, value)
	}
}
func (c *DatabaseConfig) getSettingInt(key string, defaultValue int) (int, error) {
	value, err := c.getSettingJSON(key)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return defaultValue, nil
		}
		return defaultValue, err
	}
	switch v := value.(type) {
	case float64:
		return int(v), nil
	case string:
		var n int
		if _, scanErr := fmt.Sscanf(v, "%d", &n); scanErr != nil {
			return defaultValue, fmt.Errorf("setting '%s' is not a number: %q", key, v)
		}
		return n, nil
	default:
		return defaultValue, fmt.Errorf("setting '%s' has unexpected type %T", key, value)
	}
}
func (c *DatabaseConfig) getSettingBool(key string, defaultValue bool) (bool, error) {
	value, err := c.getSettingJSON(key)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return defaultValue, nil
		}
		return defaultValue, err
	}
	boolValue, ok := value.(bool)
	if !ok {
		return defaultValue, fmt.Errorf("setting '%s' is not a boolean (type: %T)", key, value)
	}
	return boolValue, nil
}
func (c *DatabaseConfig) getSettingStringSlice(key string, defaultValue []string) ([]string, error) {
	value, err := c.getSettingJSON(key)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return defaultValue, nil
		}
		return defaultValue, err
	}
	sliceInterface, ok := value.([]interface{})
	if !ok {
		return defaultValue, fmt.Errorf("setting '%s' is not a JSON array of strings (type: %T)", key, value)
	}
	strSlice := make([]string, 0, len(sliceInterface))
	for i, item := range sliceInterface {
		strVal, ok := item.(string)
		if !ok {
			return defaultValue, fmt.Errorf("non-string value at index %d in setting '%s'", i, key)
		}
		strSlice = append(strSlice, strVal)
	}
	return strSlice, nil
}

package config

import (
	"encoding/base64"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration structure for the TEG bridge.
// All configuration is loaded from YAML and can be overridden by environment variables.
type Config struct {
	Gateway  GatewayConfig  `yaml:"gateway"`
	Cache    CacheConfig    `yaml:"cache"`
	Control  ControlConfig  `yaml:"control"`
	API      APIConfig      `yaml:"api"`
	MQTT     MQTTConfig     `yaml:"mqtt"`
	InfluxDB InfluxDBConfig `yaml:"influxdb"`
	Database DatabaseConfig `yaml:"database"`
	Exporter ExporterConfig `yaml:"exporter"`
	Logging  LoggingConfig  `yaml:"logging"`
}

// GatewayConfig describes how to reach the battery gateway.
type GatewayConfig struct {
	Host     string        `yaml:"host"`
	Password string        `yaml:"password"`
	Timeout  int           `yaml:"timeout"` // seconds
	Queries  QueriesConfig `yaml:"queries"`
}

// QueriesConfig holds the signed GraphQL queries sent to the gateway.
type QueriesConfig struct {
	Status     QueryConfig `yaml:"status"`
	Components QueryConfig `yaml:"components"`
	Controller QueryConfig `yaml:"controller"`
	Battery    QueryConfig `yaml:"battery"`
}

// QueryConfig is one signed query. Signature is base64 encoded.
type QueryConfig struct {
	Text      string `yaml:"text"`
	Signature string `yaml:"signature"`
	Vars      string `yaml:"vars"`
}

// SignatureBytes decodes the query signature.
func (q QueryConfig) SignatureBytes() ([]byte, error) {
	if q.Signature == "" {
		return nil, nil
	}
	b, err := base64.StdEncoding.DecodeString(q.Signature)
	if err != nil {
		return nil, fmt.Errorf("decoding query signature: %w", err)
	}
	return b, nil
}

// CacheConfig contains document cache and rate governor settings.
type CacheConfig struct {
	StatusTTL int `yaml:"status_ttl"` // seconds
	ConfigTTL int `yaml:"config_ttl"` // seconds
	Cooldown  int `yaml:"cooldown"`   // seconds
}

// ControlConfig contains write endpoint settings. An empty secret disables
// writes.
type ControlConfig struct {
	Secret string `yaml:"secret"`
}

// APIConfig contains HTTP API server settings.
type APIConfig struct {
	Host     string           `yaml:"host"`
	Port     int              `yaml:"port"`
	NegSolar bool             `yaml:"neg_solar"`
	Timeouts APITimeoutConfig `yaml:"timeouts"`
	CORS     CORSConfig       `yaml:"cors"`
}

// APITimeoutConfig contains HTTP timeout settings.
type APITimeoutConfig struct {
	Read  int `yaml:"read"`
	Write int `yaml:"write"`
	Idle  int `yaml:"idle"`
}

// CORSConfig contains Cross-Origin Resource Sharing settings.
type CORSConfig struct {
	AllowedOrigins []string `yaml:"allowed_origins"`
}

// MQTTConfig contains MQTT broker connection settings.
type MQTTConfig struct {
	Enabled     bool                `yaml:"enabled"`
	Broker      MQTTBrokerConfig    `yaml:"broker"`
	Auth        MQTTAuthConfig      `yaml:"auth"`
	QoS         int                 `yaml:"qos"`
	TopicPrefix string              `yaml:"topic_prefix"`
	Reconnect   MQTTReconnectConfig `yaml:"reconnect"`
}

// MQTTBrokerConfig contains MQTT broker connection details.
type MQTTBrokerConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	TLS      bool   `yaml:"tls"`
	ClientID string `yaml:"client_id"`
}

// MQTTAuthConfig contains MQTT authentication credentials.
type MQTTAuthConfig struct {
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// MQTTReconnectConfig contains MQTT reconnection settings.
type MQTTReconnectConfig struct {
	InitialDelay int `yaml:"initial_delay"`
	MaxDelay     int `yaml:"max_delay"`
}

// InfluxDBConfig contains InfluxDB connection settings.
type InfluxDBConfig struct {
	Enabled       bool   `yaml:"enabled"`
	URL           string `yaml:"url"`
	Token         string `yaml:"token"`
	Org           string `yaml:"org"`
	Bucket        string `yaml:"bucket"`
	BatchSize     int    `yaml:"batch_size"`
	FlushInterval int    `yaml:"flush_interval"`
}

// DatabaseConfig contains settings for the SQLite document snapshot store.
type DatabaseConfig struct {
	Enabled     bool   `yaml:"enabled"`
	Path        string `yaml:"path"`
	WALMode     bool   `yaml:"wal_mode"`
	BusyTimeout int    `yaml:"busy_timeout"`
}

// ExporterConfig contains telemetry exporter settings.
type ExporterConfig struct {
	Enabled  bool `yaml:"enabled"`
	Interval int  `yaml:"interval"` // seconds
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// minStatusTTL is the shortest status TTL that does not risk tripping the
// gateway's rate limiter under steady polling.
const minStatusTTL = 5

// Load reads configuration from a YAML file and applies environment variable overrides.
//
// The configuration loading order is:
//  1. Default values (hardcoded)
//  2. YAML file values (override defaults), skipped when path is empty
//  3. Legacy PW_* environment variables
//  4. TEGBRIDGE_* environment variables
//
// Parameters:
//   - path: Path to the YAML configuration file, or "" for environment only
//
// Returns:
//   - *Config: Loaded and validated configuration
//   - error: If file cannot be read, parsed, or validation fails
func Load(path string) (*Config, error) {
	cfg := defaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// defaultConfig returns a Config with sensible defaults.
func defaultConfig() *Config {
	return &Config{
		Gateway: GatewayConfig{
			Host:    "192.168.91.1",
			Timeout: 5,
		},
		Cache: CacheConfig{
			StatusTTL: 5,
			ConfigTTL: 300,
			Cooldown:  300,
		},
		API: APIConfig{
			Host: "0.0.0.0",
			Port: 8675,
			Timeouts: APITimeoutConfig{
				Read:  30,
				Write: 30,
				Idle:  60,
			},
		},
		MQTT: MQTTConfig{
			Broker: MQTTBrokerConfig{
				Host:     "localhost",
				Port:     1883,
				ClientID: "tegbridge",
			},
			QoS:         1,
			TopicPrefix: "tegbridge",
			Reconnect: MQTTReconnectConfig{
				InitialDelay: 1,
				MaxDelay:     60,
			},
		},
		InfluxDB: InfluxDBConfig{
			Org:           "tegbridge",
			Bucket:        "powerwall",
			BatchSize:     100,
			FlushInterval: 10,
		},
		Database: DatabaseConfig{
			Path:        "./data/tegbridge.db",
			WALMode:     true,
			BusyTimeout: 5,
		},
		Exporter: ExporterConfig{
			Interval: 30,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
	}
}

// applyEnvOverrides applies environment variable overrides to the configuration.
// Legacy PW_* variables are applied first so TEGBRIDGE_SECTION_KEY wins.
func applyEnvOverrides(cfg *Config) {
	applyLegacyEnv(cfg)

	// Gateway
	if v := os.Getenv("TEGBRIDGE_GATEWAY_HOST"); v != "" {
		cfg.Gateway.Host = v
	}
	if v := os.Getenv("TEGBRIDGE_GATEWAY_PASSWORD"); v != "" {
		cfg.Gateway.Password = v
	}

	// Control
	if v := os.Getenv("TEGBRIDGE_CONTROL_SECRET"); v != "" {
		cfg.Control.Secret = v
	}

	// API
	if v := os.Getenv("TEGBRIDGE_API_HOST"); v != "" {
		cfg.API.Host = v
	}

	// MQTT
	if v := os.Getenv("TEGBRIDGE_MQTT_HOST"); v != "" {
		cfg.MQTT.Broker.Host = v
	}
	if v := os.Getenv("TEGBRIDGE_MQTT_USERNAME"); v != "" {
		cfg.MQTT.Auth.Username = v
	}
	if v := os.Getenv("TEGBRIDGE_MQTT_PASSWORD"); v != "" {
		cfg.MQTT.Auth.Password = v
	}

	// InfluxDB
	if v := os.Getenv("TEGBRIDGE_INFLUXDB_TOKEN"); v != "" {
		cfg.InfluxDB.Token = v
	}

	// Database
	if v := os.Getenv("TEGBRIDGE_DATABASE_PATH"); v != "" {
		cfg.Database.Path = v
	}

	// Logging
	if v := os.Getenv("TEGBRIDGE_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
}

// applyLegacyEnv maps the PW_* variables used by existing proxy container
// deployments.
func applyLegacyEnv(cfg *Config) {
	if v := os.Getenv("PW_HOST"); v != "" {
		cfg.Gateway.Host = v
	}
	if v := os.Getenv("PW_GW_PWD"); v != "" {
		cfg.Gateway.Password = v
	}
	if n, ok := envInt("PW_CACHE_EXPIRE"); ok {
		cfg.Cache.StatusTTL = n
	}
	if n, ok := envInt("PW_TIMEOUT"); ok {
		cfg.Gateway.Timeout = n
	}
	if v := os.Getenv("PW_CONTROL_SECRET"); v != "" {
		cfg.Control.Secret = v
	}
	if n, ok := envInt("PW_PORT"); ok {
		cfg.API.Port = n
	}
	if v := os.Getenv("PW_BIND_ADDRESS"); v != "" {
		cfg.API.Host = v
	}
	if envBool("PW_DEBUG") {
		cfg.Logging.Level = "debug"
	}
	if v := os.Getenv("PW_NEG_SOLAR"); v != "" {
		cfg.API.NegSolar = envBool("PW_NEG_SOLAR")
	}
}

func envInt(key string) (int, bool) {
	v := os.Getenv(key)
	if v == "" {
		return 0, false
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, false
	}
	return n, true
}

func envBool(key string) bool {
	switch strings.ToLower(os.Getenv(key)) {
	case "yes", "true", "1", "on":
		return true
	default:
		return false
	}
}

// Validate checks the configuration for errors.
//
// Returns:
//   - error: Description of validation failure, or nil if valid
func (c *Config) Validate() error {
	var errs []string

	// Gateway validation
	if c.Gateway.Host == "" {
		errs = append(errs, "gateway.host is required")
	}
	if c.Gateway.Password == "" {
		errs = append(errs, "gateway.password is required (set TEGBRIDGE_GATEWAY_PASSWORD or PW_GW_PWD)")
	}
	if c.Gateway.Timeout < 1 {
		errs = append(errs, "gateway.timeout must be at least 1 second")
	}
	queries := []struct {
		name string
		q    QueryConfig
	}{
		{"status", c.Gateway.Queries.Status},
		{"components", c.Gateway.Queries.Components},
		{"controller", c.Gateway.Queries.Controller},
		{"battery", c.Gateway.Queries.Battery},
	}
	for _, q := range queries {
		if _, err := q.q.SignatureBytes(); err != nil {
			errs = append(errs, fmt.Sprintf("gateway.queries.%s.signature must be base64", q.name))
		}
	}

	// Cache validation
	if c.Cache.StatusTTL < 0 || c.Cache.ConfigTTL < 0 {
		errs = append(errs, "cache TTLs must not be negative")
	}
	if c.Cache.Cooldown < 1 {
		errs = append(errs, "cache.cooldown must be at least 1 second")
	}

	// API validation
	if c.API.Port < 1 || c.API.Port > 65535 {
		errs = append(errs, "api.port must be between 1 and 65535")
	}

	// MQTT validation
	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		errs = append(errs, "mqtt.qos must be 0, 1, or 2")
	}
	if c.MQTT.Enabled && c.MQTT.TopicPrefix == "" {
		errs = append(errs, "mqtt.topic_prefix is required when mqtt is enabled")
	}

	// InfluxDB validation
	if c.InfluxDB.Enabled && (c.InfluxDB.URL == "" || c.InfluxDB.Bucket == "") {
		errs = append(errs, "influxdb.url and influxdb.bucket are required when influxdb is enabled")
	}

	// Database validation
	if c.Database.Enabled && c.Database.Path == "" {
		errs = append(errs, "database.path is required when the snapshot store is enabled")
	}

	// Exporter validation
	if c.Exporter.Enabled {
		if c.Exporter.Interval < 1 {
			errs = append(errs, "exporter.interval must be at least 1 second")
		}
		if !c.MQTT.Enabled && !c.InfluxDB.Enabled {
			errs = append(errs, "exporter requires mqtt or influxdb to be enabled")
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

// Warnings returns non-fatal configuration concerns to log at startup.
func (c *Config) Warnings() []string {
	var warns []string
	if c.Cache.StatusTTL < minStatusTTL {
		warns = append(warns, fmt.Sprintf("cache.status_ttl %ds is below %ds and may trigger gateway rate limiting", c.Cache.StatusTTL, minStatusTTL))
	}
	if c.Control.Secret == "" {
		warns = append(warns, "control.secret not set, write endpoints are disabled")
	}
	return warns
}

// GatewayTimeout returns the per-request gateway timeout as a Duration.
func (c *Config) GatewayTimeout() time.Duration {
	return time.Duration(c.Gateway.Timeout) * time.Second
}

// StatusTTL returns the TTL for live status documents.
func (c *Config) StatusTTL() time.Duration {
	return time.Duration(c.Cache.StatusTTL) * time.Second
}

// ConfigTTL returns the TTL for the site config document.
func (c *Config) ConfigTTL() time.Duration {
	return time.Duration(c.Cache.ConfigTTL) * time.Second
}

// Cooldown returns the rate governor cooldown.
func (c *Config) Cooldown() time.Duration {
	return time.Duration(c.Cache.Cooldown) * time.Second
}

// ExporterInterval returns the telemetry export period.
func (c *Config) ExporterInterval() time.Duration {
	return time.Duration(c.Exporter.Interval) * time.Second
}

// ListenAddr returns the host:port the API server binds to.
func (c *Config) ListenAddr() string {
	return fmt.Sprintf("%s:%d", c.API.Host, c.API.Port)
}

// GetReadTimeout returns the API read timeout as a Duration.
func (c *Config) GetReadTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Read) * time.Second
}

// GetWriteTimeout returns the API write timeout as a Duration.
func (c *Config) GetWriteTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Write) * time.Second
}

// GetIdleTimeout returns the API idle timeout as a Duration.
func (c *Config) GetIdleTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Idle) * time.Second
}

package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration structure for targetd.
// All configuration is loaded from YAML and can be overridden by environment variables.
type Config struct {
	Service   ServiceConfig     `yaml:"service"`
	Database  DatabaseConfig    `yaml:"database"`
	MQTT      MQTTConfig        `yaml:"mqtt"`
	API       APIConfig         `yaml:"api"`
	WebSocket WebSocketConfig   `yaml:"websocket"`
	InfluxDB  InfluxDBConfig    `yaml:"influxdb"`
	Logging   LoggingConfig     `yaml:"logging"`
	Security  SecurityConfig    `yaml:"security"`
	Discovery DiscoveryConfig   `yaml:"discovery"`
	Selection SelectionConfig   `yaml:"selection"`
	RunConfig []RunConfigConfig `yaml:"run_configs"`

	// ActiveRunConfig is the run configuration selected at startup.
	// Defaults to the first entry of RunConfig.
	ActiveRunConfig string `yaml:"active_run_config"`
}

// ServiceConfig identifies this instance.
type ServiceConfig struct {
	ID   string `yaml:"id"`
	Name string `yaml:"name"`
}

// DatabaseConfig contains SQLite database settings.
type DatabaseConfig struct {
	Path        string `yaml:"path"`
	WALMode     bool   `yaml:"wal_mode"`
	BusyTimeout int    `yaml:"busy_timeout"`
}

// MQTTConfig contains MQTT broker connection settings.
type MQTTConfig struct {
	Enabled   bool                `yaml:"enabled"`
	Broker    MQTTBrokerConfig    `yaml:"broker"`
	Auth      MQTTAuthConfig      `yaml:"auth"`
	QoS       int                 `yaml:"qos"`
	Reconnect MQTTReconnectConfig `yaml:"reconnect"`
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
	MaxAttempts  int `yaml:"max_attempts"`
}

// APIConfig contains HTTP API server settings.
type APIConfig struct {
	Host     string           `yaml:"host"`
	Port     int              `yaml:"port"`
	TLS      TLSConfig        `yaml:"tls"`
	Timeouts APITimeoutConfig `yaml:"timeouts"`
	CORS     CORSConfig       `yaml:"cors"`
}

// TLSConfig contains TLS certificate settings.
type TLSConfig struct {
	Enabled  bool   `yaml:"enabled"`
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`
}

// APITimeoutConfig contains HTTP timeout settings in seconds.
type APITimeoutConfig struct {
	Read  int `yaml:"read"`
	Write int `yaml:"write"`
	Idle  int `yaml:"idle"`
}

// CORSConfig contains Cross-Origin Resource Sharing settings.
type CORSConfig struct {
	AllowedOrigins []string `yaml:"allowed_origins"`
}

// WebSocketConfig contains WebSocket server settings.
type WebSocketConfig struct {
	Path           string `yaml:"path"`
	MaxMessageSize int    `yaml:"max_message_size"`
	PingInterval   int    `yaml:"ping_interval"`
	PongTimeout    int    `yaml:"pong_timeout"`
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

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// SecurityConfig contains security settings.
type SecurityConfig struct {
	JWT JWTConfig `yaml:"jwt"`
}

// JWTConfig contains JWT token settings. Authentication is disabled when
// Secret is empty.
type JWTConfig struct {
	Secret         string `yaml:"secret"`
	AccessTokenTTL int    `yaml:"access_token_ttl"`
}

// DiscoveryConfig controls where devices come from.
type DiscoveryConfig struct {
	// CompatTimeout bounds one compatibility evaluation, in seconds.
	CompatTimeout int `yaml:"compat_timeout"`

	// MQTTProvisioning subscribes to handle and template announcements on the broker.
	MQTTProvisioning bool `yaml:"mqtt_provisioning"`

	Emulator EmulatorConfig `yaml:"emulator"`
}

// EmulatorConfig describes locally launched virtual device templates.
type EmulatorConfig struct {
	// Binary is the emulator executable.
	Binary string `yaml:"binary"`

	// StopTimeout is how long to wait after SIGTERM before SIGKILL, in seconds.
	StopTimeout int `yaml:"stop_timeout"`

	Templates []TemplateConfig `yaml:"templates"`
}

// TemplateConfig is one locally launchable virtual device.
type TemplateConfig struct {
	ID         string            `yaml:"id"`
	Name       string            `yaml:"name"`
	Args       []string          `yaml:"args"`
	Properties map[string]string `yaml:"properties"`
	Snapshots  []SnapshotConfig  `yaml:"snapshots"`
}

// SnapshotConfig names a saved emulator snapshot.
type SnapshotConfig struct {
	ID   string `yaml:"id"`
	Name string `yaml:"name"`
}

// SelectionConfig controls selection persistence.
type SelectionConfig struct {
	// PersistTimeout bounds one state write, in seconds.
	PersistTimeout int `yaml:"persist_timeout"`
}

// RunConfigConfig is a named build/launch profile with its device requirements.
type RunConfigConfig struct {
	Name        string `yaml:"name"`
	MinAPILevel int    `yaml:"min_api_level"`
	RequiredABI string `yaml:"required_abi"`
}

// Load reads configuration from a YAML file and applies environment variable overrides.
//
// The configuration loading order is:
//  1. Default values (hardcoded)
//  2. YAML file values (override defaults)
//  3. Environment variables (override file values)
//
// Environment variables follow the pattern: TARGETD_SECTION_KEY
// For example: TARGETD_DATABASE_PATH, TARGETD_API_PORT
func Load(path string) (*Config, error) {
	cfg := defaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	applyEnvOverrides(cfg)

	if cfg.ActiveRunConfig == "" && len(cfg.RunConfig) > 0 {
		cfg.ActiveRunConfig = cfg.RunConfig[0].Name
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// defaultConfig returns a Config with sensible defaults.
func defaultConfig() *Config {
	return &Config{
		Service: ServiceConfig{
			ID:   "targetd",
			Name: "targetd",
		},
		Database: DatabaseConfig{
			Path:        "./data/targetd.db",
			WALMode:     true,
			BusyTimeout: 5,
		},
		MQTT: MQTTConfig{
			Broker: MQTTBrokerConfig{
				Host:     "localhost",
				Port:     1883,
				ClientID: "targetd",
			},
			QoS: 1,
			Reconnect: MQTTReconnectConfig{
				InitialDelay: 1,
				MaxDelay:     60,
			},
		},
		API: APIConfig{
			Host: "127.0.0.1",
			Port: 8470,
			Timeouts: APITimeoutConfig{
				Read:  30,
				Write: 30,
				Idle:  60,
			},
		},
		WebSocket: WebSocketConfig{
			Path:           "/ws",
			MaxMessageSize: 8192,
			PingInterval:   30,
			PongTimeout:    10,
		},
		InfluxDB: InfluxDBConfig{
			BatchSize:     100,
			FlushInterval: 10,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
		Security: SecurityConfig{
			JWT: JWTConfig{
				AccessTokenTTL: 60,
			},
		},
		Discovery: DiscoveryConfig{
			CompatTimeout: 5,
			Emulator: EmulatorConfig{
				Binary:      "emulator",
				StopTimeout: 10,
			},
		},
		Selection: SelectionConfig{
			PersistTimeout: 5,
		},
	}
}

// applyEnvOverrides applies environment variable overrides to the configuration.
// Environment variables follow the pattern: TARGETD_SECTION_KEY
func applyEnvOverrides(cfg *Config) {
	// Database
	if v := os.Getenv("TARGETD_DATABASE_PATH"); v != "" {
		cfg.Database.Path = v
	}

	// MQTT
	if v := os.Getenv("TARGETD_MQTT_HOST"); v != "" {
		cfg.MQTT.Broker.Host = v
	}
	if v := os.Getenv("TARGETD_MQTT_USERNAME"); v != "" {
		cfg.MQTT.Auth.Username = v
	}
	if v := os.Getenv("TARGETD_MQTT_PASSWORD"); v != "" {
		cfg.MQTT.Auth.Password = v
	}

	// API
	if v := os.Getenv("TARGETD_API_HOST"); v != "" {
		cfg.API.Host = v
	}
	if v := os.Getenv("TARGETD_API_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.API.Port = port
		}
	}

	// InfluxDB
	if v := os.Getenv("TARGETD_INFLUXDB_TOKEN"); v != "" {
		cfg.InfluxDB.Token = v
	}

	// Security
	if v := os.Getenv("TARGETD_JWT_SECRET"); v != "" {
		cfg.Security.JWT.Secret = v
	}

	// Run configuration
	if v := os.Getenv("TARGETD_ACTIVE_RUN_CONFIG"); v != "" {
		cfg.ActiveRunConfig = v
	}
}

// Validate checks the configuration for errors and security issues.
func (c *Config) Validate() error {
	var errs []string

	if c.Service.ID == "" {
		errs = append(errs, "service.id is required")
	}

	if c.Database.Path == "" {
		errs = append(errs, "database.path is required")
	}

	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		errs = append(errs, "mqtt.qos must be 0, 1, or 2")
	}
	if c.Discovery.MQTTProvisioning && !c.MQTT.Enabled {
		errs = append(errs, "discovery.mqtt_provisioning requires mqtt.enabled")
	}

	if c.API.Port < 1 || c.API.Port > 65535 {
		errs = append(errs, "api.port must be between 1 and 65535")
	}

	// Authentication is optional for a loopback-only developer service, but a
	// configured secret must be strong enough to resist forgery.
	const minJWTSecretLength = 32
	if s := c.Security.JWT.Secret; s != "" && len(s) < minJWTSecretLength {
		errs = append(errs, "security.jwt.secret must be at least 32 characters for adequate security")
	}

	if c.InfluxDB.Enabled && (c.InfluxDB.URL == "" || c.InfluxDB.Bucket == "") {
		errs = append(errs, "influxdb.url and influxdb.bucket are required when influxdb is enabled")
	}

	if c.Discovery.CompatTimeout < 1 {
		errs = append(errs, "discovery.compat_timeout must be at least 1 second")
	}

	templates := make(map[string]bool, len(c.Discovery.Emulator.Templates))
	for i, t := range c.Discovery.Emulator.Templates {
		if t.ID == "" {
			errs = append(errs, fmt.Sprintf("discovery.emulator.templates[%d].id is required", i))
			continue
		}
		if templates[t.ID] {
			errs = append(errs, fmt.Sprintf("discovery.emulator.templates: duplicate id %q", t.ID))
		}
		templates[t.ID] = true
	}
	if len(templates) > 0 && c.Discovery.Emulator.Binary == "" {
		errs = append(errs, "discovery.emulator.binary is required when templates are configured")
	}

	names := make(map[string]bool, len(c.RunConfig))
	for i, rc := range c.RunConfig {
		if rc.Name == "" {
			errs = append(errs, fmt.Sprintf("run_configs[%d].name is required", i))
			continue
		}
		if names[rc.Name] {
			errs = append(errs, fmt.Sprintf("run_configs: duplicate name %q", rc.Name))
		}
		names[rc.Name] = true
		if rc.MinAPILevel < 0 {
			errs = append(errs, fmt.Sprintf("run_configs[%d].min_api_level must not be negative", i))
		}
	}
	if c.ActiveRunConfig != "" && !names[c.ActiveRunConfig] {
		errs = append(errs, fmt.Sprintf("active_run_config %q is not a configured run configuration", c.ActiveRunConfig))
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

// GetReadTimeout returns the API read timeout as a Duration.
func (c APIConfig) GetReadTimeout() time.Duration {
	return time.Duration(c.Timeouts.Read) * time.Second
}

// GetWriteTimeout returns the API write timeout as a Duration.
func (c APIConfig) GetWriteTimeout() time.Duration {
	return time.Duration(c.Timeouts.Write) * time.Second
}

// GetIdleTimeout returns the API idle timeout as a Duration.
func (c APIConfig) GetIdleTimeout() time.Duration {
	return time.Duration(c.Timeouts.Idle) * time.Second
}

// GetCompatTimeout returns the compatibility evaluation timeout as a Duration.
func (c *Config) GetCompatTimeout() time.Duration {
	return time.Duration(c.Discovery.CompatTimeout) * time.Second
}

// GetPersistTimeout returns the selection persistence timeout as a Duration.
func (c *Config) GetPersistTimeout() time.Duration {
	return time.Duration(c.Selection.PersistTimeout) * time.Second
}

// GetAccessTokenTTL returns the access token lifetime as a Duration.
func (c *Config) GetAccessTokenTTL() time.Duration {
	return time.Duration(c.Security.JWT.AccessTokenTTL) * time.Minute
}

package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}
	return path
}

func TestLoad_ValidConfig(t *testing.T) {
	path := writeConfig(t, `
service:
  id: "dev-laptop"
database:
  path: "/tmp/test.db"
mqtt:
  enabled: true
  broker:
    host: "localhost"
    port: 1883
discovery:
  mqtt_provisioning: true
  emulator:
    binary: "/opt/android/emulator/emulator"
    templates:
      - id: "Pixel_9_API_35"
        name: "Pixel 9"
        args: ["-avd", "Pixel_9_API_35"]
        properties:
          api_level: "35"
          abi: "arm64-v8a"
        snapshots:
          - id: "clean"
run_configs:
  - name: "app"
    min_api_level: 26
  - name: "wear"
    required_abi: "arm64-v8a"
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Service.ID != "dev-laptop" {
		t.Errorf("Service.ID = %q, want %q", cfg.Service.ID, "dev-laptop")
	}
	if cfg.Database.Path != "/tmp/test.db" {
		t.Errorf("Database.Path = %q, want %q", cfg.Database.Path, "/tmp/test.db")
	}
	if len(cfg.Discovery.Emulator.Templates) != 1 || cfg.Discovery.Emulator.Templates[0].Properties["api_level"] != "35" {
		t.Errorf("Templates = %+v", cfg.Discovery.Emulator.Templates)
	}
	if cfg.ActiveRunConfig != "app" {
		t.Errorf("ActiveRunConfig = %q, want first run configuration", cfg.ActiveRunConfig)
	}
	if cfg.RunConfig[0].MinAPILevel != 26 {
		t.Errorf("RunConfig[0].MinAPILevel = %d, want 26", cfg.RunConfig[0].MinAPILevel)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load("/nonexistent/path/config.yaml")
	if err == nil {
		t.Error("Load() expected error for missing file, got nil")
	}
}

func TestLoad_InvalidYAML(t *testing.T) {
	_, err := Load(writeConfig(t, "invalid: [yaml: content"))
	if err == nil {
		t.Error("Load() expected error for invalid YAML, got nil")
	}
}

func TestLoad_ValidationFailure(t *testing.T) {
	_, err := Load(writeConfig(t, `
service:
  id: ""
run_configs:
  - name: "app"
active_run_config: "missing"
`))
	if err == nil {
		t.Fatal("Load() expected validation error, got nil")
	}
	for _, want := range []string{"service.id", "active_run_config"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error %q does not mention %s", err, want)
		}
	}
}

func TestConfig_Validate(t *testing.T) {
	valid := func() *Config { return defaultConfig() }

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"defaults", func(*Config) {}, false},
		{"missing service id", func(c *Config) { c.Service.ID = "" }, true},
		{"missing database path", func(c *Config) { c.Database.Path = "" }, true},
		{"invalid QoS", func(c *Config) { c.MQTT.QoS = 3 }, true},
		{"invalid port low", func(c *Config) { c.API.Port = 0 }, true},
		{"invalid port high", func(c *Config) { c.API.Port = 70000 }, true},
		{"no JWT secret", func(c *Config) { c.Security.JWT.Secret = "" }, false},
		{"JWT secret too short", func(c *Config) { c.Security.JWT.Secret = "short" }, true},
		{"provisioning without mqtt", func(c *Config) { c.Discovery.MQTTProvisioning = true }, true},
		{"influx without url", func(c *Config) { c.InfluxDB.Enabled = true }, true},
		{"duplicate template", func(c *Config) {
			c.Discovery.Emulator.Templates = []TemplateConfig{{ID: "pixel"}, {ID: "pixel"}}
		}, true},
		{"duplicate run config", func(c *Config) {
			c.RunConfig = []RunConfigConfig{{Name: "app"}, {Name: "app"}}
		}, true},
		{"unknown active run config", func(c *Config) {
			c.RunConfig = []RunConfigConfig{{Name: "app"}}
			c.ActiveRunConfig = "wear"
		}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestConfig_GetTimeouts(t *testing.T) {
	cfg := &Config{
		API: APIConfig{
			Timeouts: APITimeoutConfig{Read: 30, Write: 45, Idle: 60},
		},
		Discovery: DiscoveryConfig{CompatTimeout: 3},
		Selection: SelectionConfig{PersistTimeout: 2},
		Security:  SecurityConfig{JWT: JWTConfig{AccessTokenTTL: 15}},
	}

	if got := cfg.API.GetReadTimeout().Seconds(); got != 30 {
		t.Errorf("GetReadTimeout() = %v, want 30", got)
	}
	if got := cfg.API.GetWriteTimeout().Seconds(); got != 45 {
		t.Errorf("GetWriteTimeout() = %v, want 45", got)
	}
	if got := cfg.API.GetIdleTimeout().Seconds(); got != 60 {
		t.Errorf("GetIdleTimeout() = %v, want 60", got)
	}
	if got := cfg.GetCompatTimeout().Seconds(); got != 3 {
		t.Errorf("GetCompatTimeout() = %v, want 3", got)
	}
	if got := cfg.GetPersistTimeout().Seconds(); got != 2 {
		t.Errorf("GetPersistTimeout() = %v, want 2", got)
	}
	if got := cfg.GetAccessTokenTTL().Minutes(); got != 15 {
		t.Errorf("GetAccessTokenTTL() = %v, want 15", got)
	}
}

func TestApplyEnvOverrides(t *testing.T) {
	cfg := defaultConfig()

	t.Setenv("TARGETD_DATABASE_PATH", "/custom/path.db")
	t.Setenv("TARGETD_MQTT_HOST", "mqtt.example.com")
	t.Setenv("TARGETD_MQTT_USERNAME", "testuser")
	t.Setenv("TARGETD_MQTT_PASSWORD", "testpass")
	t.Setenv("TARGETD_API_HOST", "192.168.1.1")
	t.Setenv("TARGETD_API_PORT", "9090")
	t.Setenv("TARGETD_INFLUXDB_TOKEN", "secret-token")
	t.Setenv("TARGETD_JWT_SECRET", "jwt-secret")
	t.Setenv("TARGETD_ACTIVE_RUN_CONFIG", "wear")

	applyEnvOverrides(cfg)

	checks := []struct {
		name      string
		got, want string
	}{
		{"Database.Path", cfg.Database.Path, "/custom/path.db"},
		{"MQTT.Broker.Host", cfg.MQTT.Broker.Host, "mqtt.example.com"},
		{"MQTT.Auth.Username", cfg.MQTT.Auth.Username, "testuser"},
		{"MQTT.Auth.Password", cfg.MQTT.Auth.Password, "testpass"},
		{"API.Host", cfg.API.Host, "192.168.1.1"},
		{"InfluxDB.Token", cfg.InfluxDB.Token, "secret-token"},
		{"Security.JWT.Secret", cfg.Security.JWT.Secret, "jwt-secret"},
		{"ActiveRunConfig", cfg.ActiveRunConfig, "wear"},
	}
	for _, c := range checks {
		if c.got != c.want {
			t.Errorf("%s = %q, want %q", c.name, c.got, c.want)
		}
	}
	if cfg.API.Port != 9090 {
		t.Errorf("API.Port = %d, want 9090", cfg.API.Port)
	}
}

func TestDefaultConfig(t *testing.T) {
	cfg := defaultConfig()

	if cfg.Service.ID == "" {
		t.Error("defaultConfig should have non-empty Service.ID")
	}
	if cfg.Database.Path == "" {
		t.Error("defaultConfig should have non-empty Database.Path")
	}
	if cfg.MQTT.Broker.Port != 1883 {
		t.Errorf("defaultConfig MQTT.Broker.Port = %d, want 1883", cfg.MQTT.Broker.Port)
	}
	if cfg.API.Host != "127.0.0.1" {
		t.Errorf("defaultConfig API.Host = %q, want loopback", cfg.API.Host)
	}
}

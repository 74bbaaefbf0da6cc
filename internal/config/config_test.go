package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoad(t *testing.T) {
	yaml := `
instance:
  id: adapter-1
venue:
  name: legacy
  transport: grpc
  stream_url: gateway.example.com:443
  rest_url: https://api.example.com
connection:
  reconnect_base_delay: 500ms
  reconnect_max_delay: 16s
  max_attempts: 12
database:
  host: localhost
  port: 5433
  name: tradelink
  user: testuser
  password: testpass
`
	path := writeTempFile(t, yaml)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Instance.ID != "adapter-1" {
		t.Errorf("Instance.ID = %q, want %q", cfg.Instance.ID, "adapter-1")
	}
	if cfg.Venue.Name != "legacy" || cfg.Venue.Transport != "grpc" {
		t.Errorf("Venue = %+v", cfg.Venue)
	}
	if cfg.Connection.ReconnectBaseDelay != 500*time.Millisecond {
		t.Errorf("Connection.ReconnectBaseDelay = %v, want 500ms", cfg.Connection.ReconnectBaseDelay)
	}
	if cfg.Connection.ReconnectMaxDelay != 16*time.Second {
		t.Errorf("Connection.ReconnectMaxDelay = %v, want 16s", cfg.Connection.ReconnectMaxDelay)
	}
	if cfg.Connection.MaxAttempts != 12 {
		t.Errorf("Connection.MaxAttempts = %d, want 12", cfg.Connection.MaxAttempts)
	}
	if cfg.Database.Port != 5433 {
		t.Errorf("Database.Port = %d, want 5433", cfg.Database.Port)
	}
}

func TestLoadWithEnvSubstitution(t *testing.T) {
	t.Setenv("TEST_DB_PASSWORD", "secret123")
	t.Setenv("TEST_API_KEY", "key-abc")

	yaml := `
instance:
  id: adapter-1
venue:
  stream_url: wss://stream.example.com/v1/stream
  api_key: ${TEST_API_KEY}
database:
  host: localhost
  name: tradelink
  user: testuser
  password: ${TEST_DB_PASSWORD}
`
	path := writeTempFile(t, yaml)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Database.Password != "secret123" {
		t.Errorf("Database.Password = %q, want %q", cfg.Database.Password, "secret123")
	}
	if cfg.Venue.APIKey != "key-abc" {
		t.Errorf("Venue.APIKey = %q, want %q", cfg.Venue.APIKey, "key-abc")
	}
}

func TestLoadWithDefaults(t *testing.T) {
	yaml := `
instance:
  id: adapter-1
venue:
  stream_url: wss://stream.example.com/v1/stream
database:
  host: localhost
  name: tradelink
  user: testuser
  password: testpass
`
	path := writeTempFile(t, yaml)

	cfg, err := LoadWithDefaults(path)
	if err != nil {
		t.Fatalf("LoadWithDefaults failed: %v", err)
	}

	if cfg.Venue.Name != DefaultVenue {
		t.Errorf("Venue.Name = %q, want default %q", cfg.Venue.Name, DefaultVenue)
	}
	if cfg.Venue.Transport != DefaultTransport {
		t.Errorf("Venue.Transport = %q, want default %q", cfg.Venue.Transport, DefaultTransport)
	}
	if cfg.Connection.ReconnectMaxDelay != DefaultReconnectMaxDelay {
		t.Errorf("Connection.ReconnectMaxDelay = %v, want default %v", cfg.Connection.ReconnectMaxDelay, DefaultReconnectMaxDelay)
	}
	if cfg.Database.Port != DefaultDBPort {
		t.Errorf("Database.Port = %d, want default %d", cfg.Database.Port, DefaultDBPort)
	}
	if cfg.Database.MaxConns != DefaultMaxConns {
		t.Errorf("Database.MaxConns = %d, want default %d", cfg.Database.MaxConns, DefaultMaxConns)
	}
	if cfg.Metrics.Port != DefaultMetricsPort {
		t.Errorf("Metrics.Port = %d, want default %d", cfg.Metrics.Port, DefaultMetricsPort)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate() after defaults = %v", err)
	}
}

func TestLoadWithDefaults_NoDatabase(t *testing.T) {
	path := writeTempFile(t, "instance:\n  id: a\nvenue:\n  stream_url: x\n")

	cfg, err := LoadWithDefaults(path)
	if err != nil {
		t.Fatalf("LoadWithDefaults failed: %v", err)
	}
	if cfg.Database.Enabled() {
		t.Error("Database.Enabled() = true without a host")
	}
	if cfg.Database.Port != 0 {
		t.Errorf("Database.Port = %d, want 0 when disabled", cfg.Database.Port)
	}
}

func TestLoad_Errors(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("Load() of a missing file should fail")
	}

	path := writeTempFile(t, "instance: [unclosed")
	if _, err := Load(path); err == nil || !strings.Contains(err.Error(), "parse config yaml") {
		t.Errorf("Load() error = %v, want parse error", err)
	}

	path = writeTempFile(t, "venue:\n  stream_url: x\n")
	if _, err := LoadAndValidate(path); err == nil || !strings.Contains(err.Error(), "instance.id is required") {
		t.Errorf("LoadAndValidate() error = %v, want instance.id error", err)
	}
}

func validConfig() Config {
	cfg := Config{
		Instance: InstanceConfig{ID: "test"},
		Venue:    VenueConfig{StreamURL: "wss://stream.example.com"},
	}
	cfg.applyDefaults()
	return cfg
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			name:    "missing instance id",
			mutate:  func(c *Config) { c.Instance.ID = "" },
			wantErr: "instance.id is required",
		},
		{
			name:    "unknown venue",
			mutate:  func(c *Config) { c.Venue.Name = "fix" },
			wantErr: `venue.name must be streaming or legacy, got "fix"`,
		},
		{
			name:    "unknown transport",
			mutate:  func(c *Config) { c.Venue.Transport = "tcp" },
			wantErr: `venue.transport must be websocket or grpc, got "tcp"`,
		},
		{
			name:    "missing stream url",
			mutate:  func(c *Config) { c.Venue.StreamURL = "" },
			wantErr: "venue.stream_url is required",
		},
		{
			name:    "half configured credentials",
			mutate:  func(c *Config) { c.Venue.APIKey = "k" },
			wantErr: "venue.api_key and venue.private_key_path must be set together",
		},
		{
			name:    "max delay below base",
			mutate:  func(c *Config) { c.Connection.ReconnectMaxDelay = 100 * time.Millisecond },
			wantErr: "connection.reconnect_max_delay (100ms) cannot be below reconnect_base_delay (1s)",
		},
		{
			name:    "negative attempts",
			mutate:  func(c *Config) { c.Connection.MaxAttempts = -1 },
			wantErr: "connection.max_attempts must be >= 0",
		},
		{
			name:    "event buffer max below initial",
			mutate:  func(c *Config) { c.Events.BufferMax = 10 },
			wantErr: "events.buffer_max (10) cannot be below buffer_initial (1000)",
		},
		{
			name: "missing database password",
			mutate: func(c *Config) {
				c.Database = DBConfig{Host: "localhost", Name: "db", User: "user", MaxConns: 5}
			},
			wantErr: "database.password is required",
		},
		{
			name: "min_conns exceeds max_conns",
			mutate: func(c *Config) {
				c.Database = DBConfig{Host: "localhost", Name: "db", User: "user", Password: "pass", MaxConns: 5, MinConns: 10}
			},
			wantErr: "database.min_conns (10) cannot exceed max_conns (5)",
		},
		{
			name:    "metrics port out of range",
			mutate:  func(c *Config) { c.Metrics.Port = 70000 },
			wantErr: "metrics.port must be between 1 and 65535, got 70000",
		},
		{
			name:    "sample ratio above one",
			mutate:  func(c *Config) { c.Telemetry.SampleRatio = 1.5 },
			wantErr: "telemetry.sample_ratio must be between 0 and 1, got 1.5",
		},
		{
			name:    "valid config",
			mutate:  func(c *Config) {},
			wantErr: "",
		},
		{
			name: "valid config with database and credentials",
			mutate: func(c *Config) {
				c.Venue.APIKey = "k"
				c.Venue.PrivateKeyPath = "/keys/k.pem"
				c.Database = DBConfig{Host: "localhost", Name: "db", User: "user", Password: "pass", MaxConns: 10, MinConns: 2}
			},
			wantErr: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(&cfg)

			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("Validate() unexpected error: %v", err)
				}
			} else {
				if err == nil {
					t.Errorf("Validate() expected error containing %q, got nil", tt.wantErr)
				} else if err.Error() != tt.wantErr {
					t.Errorf("Validate() error = %q, want %q", err.Error(), tt.wantErr)
				}
			}
		})
	}
}

func writeTempFile(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("write temp file: %v", err)
	}
	return path
}

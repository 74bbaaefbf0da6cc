package config

import "time"

// Config is the root configuration for an adapter instance.
type Config struct {
	Instance   InstanceConfig   `yaml:"instance"`
	Venue      VenueConfig      `yaml:"venue"`
	Connection ConnectionConfig `yaml:"connection"`
	Events     EventsConfig     `yaml:"events"`
	Database   DBConfig         `yaml:"database"`
	Journal    JournalConfig    `yaml:"journal"`
	Ledger     LedgerConfig     `yaml:"ledger"`
	Orders     OrdersConfig     `yaml:"orders"`
	Poller     PollerConfig     `yaml:"poller"`
	Metrics    MetricsConfig    `yaml:"metrics"`
	Telemetry  TelemetryConfig  `yaml:"telemetry"`
}

// InstanceConfig identifies this adapter.
type InstanceConfig struct {
	ID string `yaml:"id"`
}

// VenueConfig selects the venue and how to reach it.
type VenueConfig struct {
	Name           string        `yaml:"name"`      // Status mapper: streaming or legacy
	Transport      string        `yaml:"transport"` // websocket or grpc
	StreamURL      string        `yaml:"stream_url"`
	RestURL        string        `yaml:"rest_url"`         // Empty serves lookups over the stream
	APIKey         string        `yaml:"api_key"`          // Key id for the TRADELINK-ACCESS-KEY header
	PrivateKeyPath string        `yaml:"private_key_path"` // RSA private key PEM file
	Insecure       bool          `yaml:"insecure"`         // gRPC without TLS
	Timeout        time.Duration `yaml:"timeout"`
	MaxRetries     int           `yaml:"max_retries"`
}

// Authenticated reports whether credentials are configured.
func (v VenueConfig) Authenticated() bool {
	return v.APIKey != "" || v.PrivateKeyPath != ""
}

// ConnectionConfig holds Connection Manager and stream settings.
type ConnectionConfig struct {
	ConnectTimeout     time.Duration `yaml:"connect_timeout"`
	ReconnectBaseDelay time.Duration `yaml:"reconnect_base_delay"`
	ReconnectMaxDelay  time.Duration `yaml:"reconnect_max_delay"`
	MaxAttempts        int           `yaml:"max_attempts"` // 0 retries forever
	PingInterval       time.Duration `yaml:"ping_interval"`
	PingTimeout        time.Duration `yaml:"ping_timeout"`
	StaleAfter         time.Duration `yaml:"stale_after"`
}

// EventsConfig sizes the per-observer event buffers.
type EventsConfig struct {
	BufferInitial int `yaml:"buffer_initial"`
	BufferMax     int `yaml:"buffer_max"`
}

// DBConfig holds a single database connection. An empty host disables the
// execution journal.
type DBConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Name     string `yaml:"name"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	SSLMode  string `yaml:"ssl_mode"`
	MaxConns int    `yaml:"max_conns"`
	MinConns int    `yaml:"min_conns"`
}

// Enabled reports whether a database is configured.
func (db DBConfig) Enabled() bool {
	return db.Host != ""
}

// JournalConfig holds execution journal batching settings.
type JournalConfig struct {
	BatchSize     int           `yaml:"batch_size"`
	FlushInterval time.Duration `yaml:"flush_interval"`
}

// LedgerConfig locates the order ledger. An empty path disables it.
type LedgerConfig struct {
	Path string `yaml:"path"`
}

// OrdersConfig holds order record settings. A negative retention keeps
// terminal orders until Reset.
type OrdersConfig struct {
	TerminalRetention time.Duration `yaml:"terminal_retention"`
}

// PollerConfig holds open-order reconciliation settings. A negative
// interval disables the poller.
type PollerConfig struct {
	Interval   time.Duration `yaml:"interval"`
	Portfolios []string      `yaml:"portfolios"`
}

// MetricsConfig holds Prometheus metrics settings.
type MetricsConfig struct {
	Port int    `yaml:"port"`
	Path string `yaml:"path"`
}

// TelemetryConfig holds tracing settings. An empty endpoint keeps spans
// in-process.
type TelemetryConfig struct {
	OTLPEndpoint string  `yaml:"otlp_endpoint"`
	Environment  string  `yaml:"environment"`
	SampleRatio  float64 `yaml:"sample_ratio"`
}

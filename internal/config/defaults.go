package config

import "time"

// Default values for optional configuration fields.
const (
	DefaultVenue              = "streaming"
	DefaultTransport          = "websocket"
	DefaultAPITimeout         = 30 * time.Second
	DefaultMaxRetries         = 3
	DefaultConnectTimeout     = 10 * time.Second
	DefaultReconnectBaseDelay = 1 * time.Second
	DefaultReconnectMaxDelay  = 32 * time.Second
	DefaultPingInterval       = 15 * time.Second
	DefaultPingTimeout        = 30 * time.Second
	DefaultStaleAfter         = 60 * time.Second
	DefaultEventBufferInitial = 1000
	DefaultEventBufferMax     = 100000
	DefaultDBPort             = 5432
	DefaultDBSSLMode          = "prefer"
	DefaultMaxConns           = 10
	DefaultMinConns           = 2
	DefaultBatchSize          = 1000
	DefaultFlushInterval      = 1 * time.Second
	DefaultPollInterval       = 5 * time.Minute
	DefaultTerminalRetention  = 15 * time.Minute
	DefaultMetricsPort        = 9090
	DefaultMetricsPath        = "/metrics"
	DefaultEnvironment        = "development"
	DefaultSampleRatio        = 1.0
)

func (c *Config) applyDefaults() {
	// Venue defaults
	if c.Venue.Name == "" {
		c.Venue.Name = DefaultVenue
	}
	if c.Venue.Transport == "" {
		c.Venue.Transport = DefaultTransport
	}
	if c.Venue.Timeout == 0 {
		c.Venue.Timeout = DefaultAPITimeout
	}
	if c.Venue.MaxRetries == 0 {
		c.Venue.MaxRetries = DefaultMaxRetries
	}

	// Connection defaults
	if c.Connection.ConnectTimeout == 0 {
		c.Connection.ConnectTimeout = DefaultConnectTimeout
	}
	if c.Connection.ReconnectBaseDelay == 0 {
		c.Connection.ReconnectBaseDelay = DefaultReconnectBaseDelay
	}
	if c.Connection.ReconnectMaxDelay == 0 {
		c.Connection.ReconnectMaxDelay = DefaultReconnectMaxDelay
	}
	if c.Connection.PingInterval == 0 {
		c.Connection.PingInterval = DefaultPingInterval
	}
	if c.Connection.PingTimeout == 0 {
		c.Connection.PingTimeout = DefaultPingTimeout
	}
	if c.Connection.StaleAfter == 0 {
		c.Connection.StaleAfter = DefaultStaleAfter
	}

	// Events defaults
	if c.Events.BufferInitial == 0 {
		c.Events.BufferInitial = DefaultEventBufferInitial
	}
	if c.Events.BufferMax == 0 {
		c.Events.BufferMax = DefaultEventBufferMax
	}

	// Database defaults
	if c.Database.Enabled() {
		applyDBDefaults(&c.Database)
	}

	// Journal defaults
	if c.Journal.BatchSize == 0 {
		c.Journal.BatchSize = DefaultBatchSize
	}
	if c.Journal.FlushInterval == 0 {
		c.Journal.FlushInterval = DefaultFlushInterval
	}

	// Orders defaults
	if c.Orders.TerminalRetention == 0 {
		c.Orders.TerminalRetention = DefaultTerminalRetention
	}

	// Poller defaults
	if c.Poller.Interval == 0 {
		c.Poller.Interval = DefaultPollInterval
	}

	// Metrics defaults
	if c.Metrics.Port == 0 {
		c.Metrics.Port = DefaultMetricsPort
	}
	if c.Metrics.Path == "" {
		c.Metrics.Path = DefaultMetricsPath
	}

	// Telemetry defaults
	if c.Telemetry.Environment == "" {
		c.Telemetry.Environment = DefaultEnvironment
	}
	if c.Telemetry.SampleRatio == 0 {
		c.Telemetry.SampleRatio = DefaultSampleRatio
	}
}

func applyDBDefaults(db *DBConfig) {
	if db.Port == 0 {
		db.Port = DefaultDBPort
	}
	if db.SSLMode == "" {
		db.SSLMode = DefaultDBSSLMode
	}
	if db.MaxConns == 0 {
		db.MaxConns = DefaultMaxConns
	}
	if db.MinConns == 0 {
		db.MinConns = DefaultMinConns
	}
}

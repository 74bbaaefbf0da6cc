package config

import (
	"errors"
	"fmt"
)

// Validate checks that all required fields are set and values are valid.
func (c *Config) Validate() error {
	if c.Instance.ID == "" {
		return errors.New("instance.id is required")
	}

	if err := c.Venue.validate("venue"); err != nil {
		return err
	}
	if err := c.Connection.validate("connection"); err != nil {
		return err
	}

	if c.Events.BufferInitial < 1 {
		return errors.New("events.buffer_initial must be >= 1")
	}
	if c.Events.BufferMax < c.Events.BufferInitial {
		return fmt.Errorf("events.buffer_max (%d) cannot be below buffer_initial (%d)", c.Events.BufferMax, c.Events.BufferInitial)
	}

	if c.Database.Enabled() {
		if err := c.Database.validate("database"); err != nil {
			return err
		}
		if c.Journal.BatchSize < 1 {
			return errors.New("journal.batch_size must be >= 1")
		}
	}

	if c.Metrics.Port < 1 || c.Metrics.Port > 65535 {
		return fmt.Errorf("metrics.port must be between 1 and 65535, got %d", c.Metrics.Port)
	}

	if c.Telemetry.SampleRatio < 0 || c.Telemetry.SampleRatio > 1 {
		return fmt.Errorf("telemetry.sample_ratio must be between 0 and 1, got %g", c.Telemetry.SampleRatio)
	}

	return nil
}

func (v *VenueConfig) validate(prefix string) error {
	switch v.Name {
	case "streaming", "legacy":
	default:
		return fmt.Errorf("%s.name must be streaming or legacy, got %q", prefix, v.Name)
	}
	switch v.Transport {
	case "websocket", "grpc":
	default:
		return fmt.Errorf("%s.transport must be websocket or grpc, got %q", prefix, v.Transport)
	}
	if v.StreamURL == "" {
		return fmt.Errorf("%s.stream_url is required", prefix)
	}
	if v.Authenticated() && (v.APIKey == "" || v.PrivateKeyPath == "") {
		return fmt.Errorf("%s.api_key and %s.private_key_path must be set together", prefix, prefix)
	}
	if v.MaxRetries < 0 {
		return fmt.Errorf("%s.max_retries must be >= 0", prefix)
	}
	return nil
}

func (c *ConnectionConfig) validate(prefix string) error {
	if c.ConnectTimeout <= 0 {
		return fmt.Errorf("%s.connect_timeout must be > 0", prefix)
	}
	if c.ReconnectBaseDelay <= 0 {
		return fmt.Errorf("%s.reconnect_base_delay must be > 0", prefix)
	}
	if c.ReconnectMaxDelay < c.ReconnectBaseDelay {
		return fmt.Errorf("%s.reconnect_max_delay (%v) cannot be below reconnect_base_delay (%v)", prefix, c.ReconnectMaxDelay, c.ReconnectBaseDelay)
	}
	if c.MaxAttempts < 0 {
		return fmt.Errorf("%s.max_attempts must be >= 0", prefix)
	}
	return nil
}

func (db *DBConfig) validate(prefix string) error {
	if db.Host == "" {
		return fmt.Errorf("%s.host is required", prefix)
	}
	if db.Name == "" {
		return fmt.Errorf("%s.name is required", prefix)
	}
	if db.User == "" {
		return fmt.Errorf("%s.user is required", prefix)
	}
	if db.Password == "" {
		return fmt.Errorf("%s.password is required", prefix)
	}
	if db.MaxConns < 1 {
		return fmt.Errorf("%s.max_conns must be >= 1", prefix)
	}
	if db.MinConns < 0 {
		return fmt.Errorf("%s.min_conns must be >= 0", prefix)
	}
	if db.MinConns > db.MaxConns {
		return fmt.Errorf("%s.min_conns (%d) cannot exceed max_conns (%d)", prefix, db.MinConns, db.MaxConns)
	}
	return nil
}

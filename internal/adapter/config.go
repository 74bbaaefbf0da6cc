package adapter

import (
	"log/slog"

	"github.com/rickgao/tradelink/internal/config"
	"github.com/rickgao/tradelink/internal/connection"
	"github.com/rickgao/tradelink/internal/transport"
)

// FromConfig derives the adapter configuration from a loaded config file.
func FromConfig(cfg *config.Config) Config {
	ac := DefaultConfig()
	ac.Connection = connection.Config{
		Addr:               cfg.Venue.StreamURL,
		ConnectTimeout:     cfg.Connection.ConnectTimeout,
		ReconnectBaseDelay: cfg.Connection.ReconnectBaseDelay,
		ReconnectMaxDelay:  cfg.Connection.ReconnectMaxDelay,
		MaxAttempts:        cfg.Connection.MaxAttempts,
	}
	ac.Dispatcher.StaleAfter = cfg.Connection.StaleAfter
	ac.EventBufferInitial = cfg.Events.BufferInitial
	ac.EventBufferMax = cfg.Events.BufferMax
	ac.LookupTimeout = cfg.Venue.Timeout
	ac.TerminalRetention = cfg.Orders.TerminalRetention
	return ac
}

// NewDialer returns the transport named by cfg.Venue.Transport.
func NewDialer(cfg *config.Config, logger *slog.Logger) transport.Dialer {
	if cfg.Venue.Transport == "grpc" {
		gc := transport.DefaultGRPCConfig()
		gc.Insecure = cfg.Venue.Insecure
		return transport.NewGRPCDialer(gc, logger)
	}
	wc := transport.DefaultWebSocketConfig()
	wc.PingInterval = cfg.Connection.PingInterval
	wc.PingTimeout = cfg.Connection.PingTimeout
	return transport.NewWebSocketDialer(wc, logger)
}

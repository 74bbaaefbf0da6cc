package adapter

import (
	"testing"
	"time"

	"github.com/rickgao/tradelink/internal/config"
	"github.com/rickgao/tradelink/internal/transport"
)

func TestFromConfig(t *testing.T) {
	cfg := &config.Config{
		Venue: config.VenueConfig{StreamURL: "wss://stream.example.com/v1/stream", Timeout: 12 * time.Second},
		Connection: config.ConnectionConfig{
			ConnectTimeout:     3 * time.Second,
			ReconnectBaseDelay: 500 * time.Millisecond,
			ReconnectMaxDelay:  8 * time.Second,
			MaxAttempts:        6,
			StaleAfter:         45 * time.Second,
		},
		Events: config.EventsConfig{BufferInitial: 10, BufferMax: 20},
	}

	ac := FromConfig(cfg)

	if ac.Connection.Addr != cfg.Venue.StreamURL {
		t.Errorf("Connection.Addr = %q, want %q", ac.Connection.Addr, cfg.Venue.StreamURL)
	}
	if ac.Connection.ReconnectBaseDelay != 500*time.Millisecond || ac.Connection.ReconnectMaxDelay != 8*time.Second {
		t.Errorf("reconnect delays = %v/%v", ac.Connection.ReconnectBaseDelay, ac.Connection.ReconnectMaxDelay)
	}
	if ac.Connection.MaxAttempts != 6 {
		t.Errorf("MaxAttempts = %d, want 6", ac.Connection.MaxAttempts)
	}
	if ac.Dispatcher.StaleAfter != 45*time.Second {
		t.Errorf("StaleAfter = %v, want 45s", ac.Dispatcher.StaleAfter)
	}
	if ac.EventBufferInitial != 10 || ac.EventBufferMax != 20 {
		t.Errorf("event buffers = %d/%d, want 10/20", ac.EventBufferInitial, ac.EventBufferMax)
	}
	if ac.LookupTimeout != 12*time.Second {
		t.Errorf("LookupTimeout = %v, want 12s", ac.LookupTimeout)
	}
}

func TestNewDialer(t *testing.T) {
	cfg := &config.Config{Venue: config.VenueConfig{Transport: "grpc"}}
	if _, ok := NewDialer(cfg, nil).(*transport.GRPCDialer); !ok {
		t.Error("grpc transport did not yield a GRPCDialer")
	}
	cfg.Venue.Transport = "websocket"
	if _, ok := NewDialer(cfg, nil).(*transport.WebSocketDialer); !ok {
		t.Error("websocket transport did not yield a WebSocketDialer")
	}
}

package transport

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/connectivity"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/keepalive"
	"google.golang.org/grpc/metadata"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

// StreamMethod is the bidirectional method frames travel on.
const StreamMethod = "/tradelink.v1.Gateway/Stream"

var streamDesc = &grpc.StreamDesc{
	StreamName:    "Stream",
	ServerStreams: true,
	ClientStreams: true,
}

// GRPCConfig configures gRPC streams.
type GRPCConfig struct {
	Insecure         bool
	KeepaliveTime    time.Duration
	KeepaliveTimeout time.Duration
	BufferSize       int

	// Options are appended to the dial options, e.g. a custom dialer.
	Options []grpc.DialOption
}

// DefaultGRPCConfig returns sensible defaults.
func DefaultGRPCConfig() GRPCConfig {
	return GRPCConfig{
		KeepaliveTime:    30 * time.Second,
		KeepaliveTimeout: 10 * time.Second,
		BufferSize:       1024,
	}
}

// GRPCDialer opens gRPC streams.
type GRPCDialer struct {
	cfg    GRPCConfig
	logger *slog.Logger
}

// NewGRPCDialer creates a GRPCDialer.
func NewGRPCDialer(cfg GRPCConfig, logger *slog.Logger) *GRPCDialer {
	if logger == nil {
		logger = slog.Default()
	}
	return &GRPCDialer{cfg: cfg, logger: logger.With("transport", "grpc")}
}

// Dial connects to addr and opens the frame stream. Header values are sent
// as request metadata.
func (d *GRPCDialer) Dial(ctx context.Context, addr string, header http.Header) (Stream, error) {
	var creds credentials.TransportCredentials
	if d.cfg.Insecure {
		creds = insecure.NewCredentials()
	} else {
		creds = credentials.NewTLS(nil)
	}

	opts := []grpc.DialOption{grpc.WithTransportCredentials(creds)}
	if d.cfg.KeepaliveTime > 0 {
		opts = append(opts, grpc.WithKeepaliveParams(keepalive.ClientParameters{
			Time:                d.cfg.KeepaliveTime,
			Timeout:             d.cfg.KeepaliveTimeout,
			PermitWithoutStream: true,
		}))
	}
	opts = append(opts, d.cfg.Options...)

	conn, err := grpc.NewClient(addr, opts...)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", addr, err)
	}

	if err := waitReady(ctx, conn); err != nil {
		conn.Close()
		return nil, fmt.Errorf("dial %s: %w", addr, err)
	}

	md := metadata.MD{}
	for k, vs := range header {
		md.Append(strings.ToLower(k), vs...)
	}

	// The stream outlives the dial context; Close cancels it.
	streamCtx, cancel := context.WithCancel(metadata.NewOutgoingContext(context.Background(), md))
	cs, err := conn.NewStream(streamCtx, streamDesc, StreamMethod)
	if err != nil {
		cancel()
		conn.Close()
		return nil, fmt.Errorf("open stream: %w", err)
	}

	s := &grpcStream{
		conn:   conn,
		cs:     cs,
		cancel: cancel,
		pump:   newPump(d.cfg.BufferSize),
	}
	go s.readLoop()

	d.logger.Debug("grpc stream opened", "addr", addr)
	return s, nil
}

// waitReady blocks until conn is ready, fails or ctx is done.
func waitReady(ctx context.Context, conn *grpc.ClientConn) error {
	conn.Connect()
	for {
		state := conn.GetState()
		switch state {
		case connectivity.Ready:
			return nil
		case connectivity.TransientFailure, connectivity.Shutdown:
			return fmt.Errorf("connection %s", state)
		}
		if !conn.WaitForStateChange(ctx, state) {
			return ctx.Err()
		}
	}
}

// grpcStream is one bidirectional gRPC stream.
type grpcStream struct {
	conn   *grpc.ClientConn
	cs     grpc.ClientStream
	cancel context.CancelFunc
	*pump

	writeMu sync.Mutex

	mu     sync.Mutex
	closed bool
}

// Send writes one frame.
func (s *grpcStream) Send(ctx context.Context, data []byte) error {
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return ErrClosed
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.cs.SendMsg(wrapperspb.Bytes(data))
}

// Receive returns the next frame.
func (s *grpcStream) Receive(ctx context.Context) ([]byte, error) {
	return s.receive(ctx)
}

// Close half-closes the stream and tears down the connection.
func (s *grpcStream) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	close(s.done)

	s.writeMu.Lock()
	s.cs.CloseSend()
	s.writeMu.Unlock()

	s.cancel()
	return s.conn.Close()
}

func (s *grpcStream) readLoop() {
	for {
		msg := new(wrapperspb.BytesValue)
		if err := s.cs.RecvMsg(msg); err != nil {
			select {
			case <-s.done:
			default:
				if errors.Is(err, context.Canceled) {
					err = ErrClosed
				}
				s.fail(err)
			}
			return
		}
		if !s.deliver(msg.GetValue()) {
			return
		}
	}
}

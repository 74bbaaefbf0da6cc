// Package transport provides the byte streams the dispatcher runs on.
//
// Two stream kinds are supported:
//   - WebSocket text frames (gorilla/websocket), with ping/pong keepalive
//   - gRPC bidirectional streams carrying BytesValue messages
//
// Both deliver whole frames; framing and decoding belong to the wire package.
package transport

import (
	"context"
	"errors"
	"net/http"
)

var (
	ErrClosed          = errors.New("stream closed")
	ErrStaleConnection = errors.New("connection stale: no keepalive response")
)

// Stream is one established venue connection.
type Stream interface {
	// Send writes one frame.
	Send(ctx context.Context, data []byte) error

	// Receive blocks until the next frame, a stream error or ctx is done.
	Receive(ctx context.Context) ([]byte, error)

	// Close releases the connection. Pending Receive calls return ErrClosed.
	Close() error
}

// Dialer opens streams.
type Dialer interface {
	Dial(ctx context.Context, addr string, header http.Header) (Stream, error)
}

// DialerFunc adapts a function to Dialer.
type DialerFunc func(ctx context.Context, addr string, header http.Header) (Stream, error)

// Dial calls f.
func (f DialerFunc) Dial(ctx context.Context, addr string, header http.Header) (Stream, error) {
	return f(ctx, addr, header)
}

// pump moves frames from a blocking reader goroutine to Receive callers.
type pump struct {
	frames chan []byte
	errs   chan error
	done   chan struct{}
}

func newPump(size int) *pump {
	if size <= 0 {
		size = 1
	}
	return &pump{
		frames: make(chan []byte, size),
		errs:   make(chan error, 1),
		done:   make(chan struct{}),
	}
}

// deliver hands a frame to the reader. Returns false once closed.
func (p *pump) deliver(data []byte) bool {
	select {
	case p.frames <- data:
		return true
	case <-p.done:
		return false
	}
}

// fail records the first stream error.
func (p *pump) fail(err error) {
	select {
	case p.errs <- err:
	default:
	}
}

func (p *pump) receive(ctx context.Context) ([]byte, error) {
	// Frames already read are delivered before a pending error.
	select {
	case data := <-p.frames:
		return data, nil
	default:
	}

	select {
	case data := <-p.frames:
		return data, nil
	case err := <-p.errs:
		p.fail(err)
		return nil, err
	case <-p.done:
		return nil, ErrClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Package transporttest provides in-memory streams for tests.
package transporttest

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/rickgao/tradelink/internal/transport"
)

// Pipe returns a connected client stream and the venue-side peer.
func Pipe() (transport.Stream, *Peer) {
	p := &Peer{
		toClient:   make(chan []byte, 256),
		fromClient: make(chan []byte, 256),
		errs:       make(chan error, 1),
		done:       make(chan struct{}),
	}
	return &clientEnd{p: p}, p
}

// Peer is the venue end of a pipe.
type Peer struct {
	toClient   chan []byte
	fromClient chan []byte
	errs       chan error
	done       chan struct{}

	Header http.Header

	mu      sync.Mutex
	closed  bool
	sendErr error
}

// Send delivers a frame to the client.
func (p *Peer) Send(data []byte) {
	select {
	case p.toClient <- data:
	case <-p.done:
	}
}

// SendString delivers a frame to the client.
func (p *Peer) SendString(s string) { p.Send([]byte(s)) }

// Next returns the next frame the client sent, or nil after timeout.
func (p *Peer) Next(timeout time.Duration) []byte {
	select {
	case data := <-p.fromClient:
		return data
	case <-time.After(timeout):
		return nil
	}
}

// Fail makes the client's Receive return err.
func (p *Peer) Fail(err error) {
	select {
	case p.errs <- err:
	default:
	}
}

// FailSends makes every following client Send return err.
func (p *Peer) FailSends(err error) {
	p.mu.Lock()
	p.sendErr = err
	p.mu.Unlock()
}

// Closed reports whether the client closed the stream.
func (p *Peer) Closed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

type clientEnd struct {
	p *Peer
}

func (c *clientEnd) Send(ctx context.Context, data []byte) error {
	c.p.mu.Lock()
	closed, err := c.p.closed, c.p.sendErr
	c.p.mu.Unlock()
	if closed {
		return transport.ErrClosed
	}
	if err != nil {
		return err
	}

	buf := make([]byte, len(data))
	copy(buf, data)
	select {
	case c.p.fromClient <- buf:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *clientEnd) Receive(ctx context.Context) ([]byte, error) {
	select {
	case data := <-c.p.toClient:
		return data, nil
	default:
	}
	select {
	case data := <-c.p.toClient:
		return data, nil
	case err := <-c.p.errs:
		c.p.Fail(err)
		return nil, err
	case <-c.p.done:
		return nil, transport.ErrClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (c *clientEnd) Close() error {
	c.p.mu.Lock()
	defer c.p.mu.Unlock()
	if !c.p.closed {
		c.p.closed = true
		close(c.p.done)
	}
	return nil
}

// Dialer hands out a new pipe per Dial and publishes the peer on Peers.
// Err, when set, is consulted first with the 1-based attempt number.
type Dialer struct {
	Peers chan *Peer
	Err   func(attempt int) error

	mu       sync.Mutex
	attempts int
}

// NewDialer creates a Dialer.
func NewDialer() *Dialer {
	return &Dialer{Peers: make(chan *Peer, 16)}
}

// Dial implements transport.Dialer.
func (d *Dialer) Dial(ctx context.Context, _ string, header http.Header) (transport.Stream, error) {
	d.mu.Lock()
	d.attempts++
	n := d.attempts
	fail := d.Err
	d.mu.Unlock()

	if fail != nil {
		if err := fail(n); err != nil {
			return nil, err
		}
	}

	s, p := Pipe()
	p.Header = header
	select {
	case d.Peers <- p:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	return s, nil
}

// Attempts returns the number of Dial calls.
func (d *Dialer) Attempts() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.attempts
}

// SetErr replaces the failure hook.
func (d *Dialer) SetErr(fn func(attempt int) error) {
	d.mu.Lock()
	d.Err = fn
	d.mu.Unlock()
}

package connection

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rickgao/tradelink/internal/correlator"
	"github.com/rickgao/tradelink/internal/dispatcher"
	"github.com/rickgao/tradelink/internal/events"
	"github.com/rickgao/tradelink/internal/model"
	"github.com/rickgao/tradelink/internal/subscription"
	"github.com/rickgao/tradelink/internal/transport"
	"github.com/rickgao/tradelink/internal/wire"
)

// Errors
var (
	ErrReconnecting      = errors.New("reconnect in progress")
	ErrAttemptsExhausted = errors.New("reconnect attempts exhausted")
)

// Config configures the Connection Manager. It is fixed for the manager's
// lifetime.
type Config struct {
	Addr               string        // Venue stream address
	ConnectTimeout     time.Duration // Bound on dial plus auth handshake
	ReconnectBaseDelay time.Duration // First reconnect delay
	ReconnectMaxDelay  time.Duration // Reconnect delay cap
	MaxAttempts        int           // Reconnect attempts before Failed (0 = unlimited)
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		ConnectTimeout:     10 * time.Second,
		ReconnectBaseDelay: 1 * time.Second,
		ReconnectMaxDelay:  32 * time.Second,
	}
}

// Signer produces the stream handshake. A nil Signer skips authentication.
type Signer interface {
	SignHandshake() (wire.AuthParams, error)
	SignStream() (map[string]string, error)
}

// SubscriptionReplayer is the Subscription Registry as seen by the manager.
type SubscriptionReplayer interface {
	AbandonInFlight() int
	Replay(ctx context.Context) subscription.ReplayResult
	Reset()
}

// OrderRefresher is the Order Translator as seen by the manager.
type OrderRefresher interface {
	AbandonInFlight() int
	RefreshOpenOrders(ctx context.Context) (model.TransactionID, error)
	Reset()
}

// Stats contains connection statistics.
type Stats struct {
	State             model.ConnectionState
	Attempt           int
	Connects          int64
	Reconnects        int64
	ReconnectAttempts int64
	StreamFailures    int64
	LastError         string
	ConnectedAt       time.Time
}

// Manager owns the venue session.
type Manager struct {
	cfg    Config
	logger *slog.Logger

	dialer transport.Dialer
	signer Signer
	disp   *dispatcher.Dispatcher
	corr   *correlator.Correlator
	subs   SubscriptionReplayer
	orders OrderRefresher
	pub    events.Publisher

	// opMu serializes Connect, Disconnect and Reset.
	opMu sync.Mutex

	mu          sync.Mutex
	state       model.ConnectionState
	attempt     int
	lastErr     error
	connectedAt time.Time
	session     context.Context
	cancel      context.CancelFunc
	wg          sync.WaitGroup

	connects          atomic.Int64
	reconnects        atomic.Int64
	reconnectAttempts atomic.Int64
	streamFailures    atomic.Int64
}

// NewManager creates a Connection Manager and registers it for dispatcher
// failures.
func NewManager(
	cfg Config,
	dialer transport.Dialer,
	signer Signer,
	disp *dispatcher.Dispatcher,
	corr *correlator.Correlator,
	subs SubscriptionReplayer,
	orders OrderRefresher,
	pub events.Publisher,
	logger *slog.Logger,
) *Manager {
	if logger == nil {
		logger = slog.Default()
	}

	m := &Manager{
		cfg:    cfg,
		logger: logger.With("component", "connection"),
		dialer: dialer,
		signer: signer,
		disp:   disp,
		corr:   corr,
		subs:   subs,
		orders: orders,
		pub:    pub,
	}
	disp.OnFailure(m.handleFailure)
	return m
}

// Connect opens a session. Dial and handshake are bounded by timeout (the
// configured ConnectTimeout if zero). The session lives until Disconnect,
// Reset or cancellation of ctx. Connecting while connected is a no-op.
func (m *Manager) Connect(ctx context.Context, timeout time.Duration) error {
	m.opMu.Lock()
	defer m.opMu.Unlock()

	m.mu.Lock()
	switch m.state {
	case model.ConnectionConnected:
		m.mu.Unlock()
		return nil
	case model.ConnectionReconnecting:
		m.mu.Unlock()
		return &model.StateError{Op: "connect", Ref: m.cfg.Addr, Err: ErrReconnecting}
	}
	m.mu.Unlock()

	// Drop a session left in Failed.
	m.teardown(ctx)

	if timeout <= 0 {
		timeout = m.cfg.ConnectTimeout
	}

	session, cancel := context.WithCancel(ctx)

	m.mu.Lock()
	m.session, m.cancel = session, cancel
	m.attempt = 0
	m.setStateLocked(model.ConnectionConnecting, nil)
	m.wg.Add(1)
	m.mu.Unlock()

	go m.watch(session)

	if err := m.establish(session, timeout); err != nil {
		cancel()
		m.wg.Wait()

		m.mu.Lock()
		m.session, m.cancel = nil, nil
		m.lastErr = err
		if model.IsProtocol(err) {
			m.setStateLocked(model.ConnectionFailed, err)
		}
		m.mu.Unlock()

		m.logger.Warn("connect failed", "addr", m.cfg.Addr, "error", err)
		m.pub.Publish(model.ConnectMessage{Error: err})
		return fmt.Errorf("connect %s: %w", m.cfg.Addr, err)
	}
	return nil
}

// Disconnect ends the session and waits for its goroutines, bounded by ctx.
func (m *Manager) Disconnect(ctx context.Context) error {
	m.opMu.Lock()
	defer m.opMu.Unlock()

	return m.teardown(ctx)
}

// Reset ends any session and clears the correlator, the subscription
// registry and the order translator. It succeeds from every state.
func (m *Manager) Reset() {
	m.opMu.Lock()
	defer m.opMu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := m.teardown(ctx); err != nil {
		m.logger.Warn("reset: teardown incomplete", "error", err)
	}

	m.subs.Reset()
	m.orders.Reset()
	m.corr.Reset()

	m.mu.Lock()
	m.attempt = 0
	m.lastErr = nil
	m.setStateLocked(model.ConnectionDisconnected, nil)
	m.mu.Unlock()

	m.logger.Info("adapter state reset")
	m.pub.Publish(model.ResetMessage{})
}

// State returns the current connection state.
func (m *Manager) State() model.ConnectionState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Stats returns current statistics.
func (m *Manager) Stats() Stats {
	m.mu.Lock()
	s := Stats{
		State:       m.state,
		Attempt:     m.attempt,
		ConnectedAt: m.connectedAt,
	}
	if m.lastErr != nil {
		s.LastError = m.lastErr.Error()
	}
	m.mu.Unlock()

	s.Connects = m.connects.Load()
	s.Reconnects = m.reconnects.Load()
	s.ReconnectAttempts = m.reconnectAttempts.Load()
	s.StreamFailures = m.streamFailures.Load()
	return s
}

// teardown cancels the session, if any, and waits for it to wind down.
func (m *Manager) teardown(ctx context.Context) error {
	m.mu.Lock()
	cancel := m.cancel
	m.session, m.cancel = nil, nil
	if cancel == nil {
		if m.state == model.ConnectionFailed {
			m.setStateLocked(model.ConnectionDisconnected, nil)
		}
		m.mu.Unlock()
		return nil
	}
	m.mu.Unlock()

	cancel()

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		m.logger.Warn("disconnect timed out")
		return ctx.Err()
	}
}

// watch ends the session once its context is cancelled.
func (m *Manager) watch(session context.Context) {
	defer m.wg.Done()

	<-session.Done()

	// Any establish holding the lock has either started the dispatcher or
	// will observe the cancellation.
	m.mu.Lock()
	m.mu.Unlock()

	m.disp.Stop()

	m.mu.Lock()
	prev := m.state
	m.setStateLocked(model.ConnectionDisconnected, nil)
	m.mu.Unlock()

	if prev == model.ConnectionConnected || prev == model.ConnectionReconnecting {
		m.logger.Info("disconnected", "addr", m.cfg.Addr)
		m.pub.Publish(model.DisconnectMessage{})
	}
}

// establish dials, authenticates and brings the session up.
func (m *Manager) establish(session context.Context, timeout time.Duration) error {
	hctx, cancel := context.WithTimeout(session, timeout)
	defer cancel()

	header, err := m.headers()
	if err != nil {
		return err
	}

	s, err := m.dialer.Dial(hctx, m.cfg.Addr, header)
	if err != nil {
		if session.Err() != nil {
			return session.Err()
		}
		return &model.TransportError{Op: "dial", Err: err}
	}

	if err := m.handshake(hctx, s); err != nil {
		s.Close()
		if session.Err() != nil {
			return session.Err()
		}
		return err
	}

	// Requests still waiting on the previous stream will never be answered.
	// Close them before the new stream can accept writes.
	history := m.subs.AbandonInFlight()
	commands := m.orders.AbandonInFlight()
	if history+commands > 0 {
		m.logger.Info("in-flight requests abandoned", "history", history, "order_commands", commands)
	}

	m.mu.Lock()
	if err := session.Err(); err != nil {
		m.mu.Unlock()
		s.Close()
		return err
	}
	m.disp.Start(session, s)
	m.attempt = 0
	m.lastErr = nil
	m.connectedAt = time.Now()
	m.setStateLocked(model.ConnectionConnected, nil)
	m.mu.Unlock()

	m.connects.Add(1)
	m.logger.Info("connected", "addr", m.cfg.Addr)
	m.pub.Publish(model.ConnectMessage{})

	res := m.subs.Replay(session)
	if res.Replayed+res.Failed+res.Finalized > 0 {
		m.logger.Info("subscriptions replayed",
			"replayed", res.Replayed,
			"failed", res.Failed,
			"finalized", res.Finalized,
		)
	}
	if _, err := m.orders.RefreshOpenOrders(session); err != nil {
		m.logger.Warn("open order refresh failed", "error", err)
	}
	return nil
}

// headers signs the dial request.
func (m *Manager) headers() (http.Header, error) {
	h := http.Header{}
	if m.signer == nil {
		return h, nil
	}
	signed, err := m.signer.SignStream()
	if err != nil {
		return nil, fmt.Errorf("sign stream: %w", err)
	}
	for k, v := range signed {
		h.Set(k, v)
	}
	return h, nil
}

// handshake sends the auth frame and waits for the verdict. Frames other
// than auth_ok/auth_error are skipped.
func (m *Manager) handshake(ctx context.Context, s transport.Stream) error {
	if m.signer == nil {
		return nil
	}

	params, err := m.signer.SignHandshake()
	if err != nil {
		return fmt.Errorf("sign handshake: %w", err)
	}
	cmd := wire.Command{ID: int64(m.corr.NewTransactionID()), Cmd: wire.CmdAuth, Params: params}
	data, err := wire.Encode(cmd)
	if err != nil {
		return err
	}
	if err := s.Send(ctx, data); err != nil {
		return &model.TransportError{Op: "handshake", Err: err}
	}

	for {
		frame, err := s.Receive(ctx)
		if err != nil {
			return &model.TransportError{Op: "handshake", Err: err}
		}
		env, err := wire.Decode(frame)
		if err != nil {
			m.logger.Warn("undecodable frame during handshake", "error", err)
			continue
		}
		switch env.Type {
		case wire.TypeAuthOK:
			m.logger.Debug("authenticated", "key_id", params.KeyID)
			return nil
		case wire.TypeAuthError:
			return wire.ProtocolError(env)
		default:
			m.logger.Debug("frame before auth verdict skipped", "type", env.Type)
		}
	}
}

// handleFailure runs when the dispatcher loses the stream, on its read
// goroutine or on the goroutine whose write failed. An established session
// moves to Reconnecting.
func (m *Manager) handleFailure(err error) {
	m.streamFailures.Add(1)

	m.mu.Lock()
	defer m.mu.Unlock()

	session := m.session
	if session == nil || session.Err() != nil || m.state != model.ConnectionConnected {
		return
	}

	var terr *model.TransportError
	if !errors.As(err, &terr) {
		terr = &model.TransportError{Op: "read", Err: err}
	}
	m.lastErr = terr
	m.logger.Warn("stream failed, reconnecting", "error", err)
	m.setStateLocked(model.ConnectionReconnecting, terr)

	m.wg.Add(1)
	go m.supervise(session)
}

// supervise reconnects with exponential backoff until the session is up,
// cancelled, rejected by the venue or out of attempts.
func (m *Manager) supervise(session context.Context) {
	defer m.wg.Done()

	b := NewBackoff(m.cfg.ReconnectBaseDelay, m.cfg.ReconnectMaxDelay)

	for attempt := 1; ; attempt++ {
		delay := b.NextBackOff()

		m.mu.Lock()
		m.attempt = attempt
		m.mu.Unlock()

		m.logger.Info("attempting reconnection", "attempt", attempt, "delay", delay)

		timer := time.NewTimer(delay)
		select {
		case <-session.Done():
			timer.Stop()
			return
		case <-timer.C:
		}

		m.reconnectAttempts.Add(1)
		err := m.establish(session, m.cfg.ConnectTimeout)
		if err == nil {
			m.reconnects.Add(1)
			m.logger.Info("reconnected", "attempt", attempt)
			return
		}
		if session.Err() != nil {
			return
		}

		m.logger.Warn("reconnection failed", "attempt", attempt, "error", err)

		m.mu.Lock()
		m.lastErr = err
		m.mu.Unlock()

		if model.IsProtocol(err) {
			m.fail(session, err)
			return
		}
		if m.cfg.MaxAttempts > 0 && attempt >= m.cfg.MaxAttempts {
			m.fail(session, fmt.Errorf("%w after %d attempts: %w", ErrAttemptsExhausted, attempt, err))
			return
		}
	}
}

// fail moves to Failed. The session stays allocated until Disconnect,
// Reset or Connect.
func (m *Manager) fail(session context.Context, err error) {
	m.mu.Lock()
	if session.Err() != nil {
		m.mu.Unlock()
		return
	}
	m.lastErr = err
	m.setStateLocked(model.ConnectionFailed, err)
	m.mu.Unlock()

	m.logger.Error("connection failed", "error", err)
	m.pub.Publish(model.DisconnectMessage{Error: err})
}

// setStateLocked records and publishes a transition. Caller holds m.mu.
func (m *Manager) setStateLocked(next model.ConnectionState, err error) {
	prev := m.state
	if prev == next {
		return
	}
	m.state = next

	m.logger.Info("connection state changed", "from", prev, "to", next, "attempt", m.attempt)
	m.pub.Publish(model.ConnectionStateMessage{Old: prev, New: next, Attempt: m.attempt, Error: err})
}

package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rickgao/tradelink/internal/events"
	"github.com/rickgao/tradelink/internal/model"
	"github.com/rickgao/tradelink/internal/transport"
	"github.com/rickgao/tradelink/internal/wire"
)

// ErrStreamStale is reported when no frame arrives within Config.StaleAfter.
var ErrStreamStale = errors.New("no frames received within stale window")

// SubscriptionHandler receives subscription control frames.
type SubscriptionHandler interface {
	HandleAck(ctx context.Context, tx model.TransactionID, sid string) bool
	HandleUnsubscribed(tx model.TransactionID) bool
	HandleHistoryDone(tx model.TransactionID) bool
	HandleError(tx model.TransactionID, err error) bool
	ResolveSID(sid string) (model.TransactionID, bool)
}

// OrderHandler receives order frames.
type OrderHandler interface {
	Changed(ev wire.OrderEvent)
	HandleError(tx model.TransactionID, err error) bool
	HandleStatusDone(tx model.TransactionID) bool
}

// Config configures the dispatcher.
type Config struct {
	// StaleAfter fails the stream when nothing, heartbeats included, is
	// received for this long. Zero disables the check.
	StaleAfter time.Duration
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{StaleAfter: 60 * time.Second}
}

// Stats contains runtime statistics.
type Stats struct {
	FramesReceived int64
	FramesRouted   int64
	FramesSent     int64
	ParseErrors    int64
	UnknownFrames  int64
	OrphanFrames   int64
	Heartbeats     int64
	Panics         int64
	Running        bool
}

// Dispatcher reads and writes the active venue stream.
type Dispatcher struct {
	cfg    Config
	logger *slog.Logger
	pub    events.Publisher

	subs   SubscriptionHandler
	orders OrderHandler

	onFailure func(error)

	writeMu sync.Mutex

	mu     sync.Mutex
	stream transport.Stream
	cancel context.CancelFunc
	wg     sync.WaitGroup

	received    atomic.Int64
	routed      atomic.Int64
	sent        atomic.Int64
	parseErrors atomic.Int64
	unknown     atomic.Int64
	orphans     atomic.Int64
	heartbeats  atomic.Int64
	panics      atomic.Int64
}

// New creates a Dispatcher. Route must be called before Start.
func New(cfg Config, pub events.Publisher, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{
		cfg:       cfg,
		logger:    logger.With("component", "dispatcher"),
		pub:       pub,
		onFailure: func(error) {},
	}
}

// Route sets the handlers frames are demultiplexed to.
func (d *Dispatcher) Route(subs SubscriptionHandler, orders OrderHandler) {
	d.subs = subs
	d.orders = orders
}

// OnFailure sets the callback invoked once per stream when a read or a send
// fails for any reason other than Stop. It runs on the read goroutine or on
// the failed writer's goroutine and must not call Stop.
func (d *Dispatcher) OnFailure(fn func(error)) {
	d.onFailure = fn
}

// Start begins reading s. A previously running stream is stopped first.
func (d *Dispatcher) Start(ctx context.Context, s transport.Stream) {
	d.Stop()

	ctx, cancel := context.WithCancel(ctx)

	d.mu.Lock()
	d.stream = s
	d.cancel = cancel
	d.mu.Unlock()

	d.wg.Add(1)
	go d.readLoop(ctx, s)

	d.logger.Info("dispatcher started", "stale_after", d.cfg.StaleAfter)
}

// Stop ends the read loop, closes the stream and waits for the loop to exit.
func (d *Dispatcher) Stop() {
	d.mu.Lock()
	s, cancel := d.stream, d.cancel
	d.stream, d.cancel = nil, nil
	d.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	if s != nil {
		s.Close()
	}
	d.wg.Wait()

	d.logger.Info("dispatcher stopped")
}

// Write encodes cmd and sends it on the active stream. Writers are
// serialized. Without a stream the error wraps model.ErrNotConnected; a send
// failure is a *model.TransportError and fails the stream as a read error
// would.
func (d *Dispatcher) Write(ctx context.Context, cmd wire.Command) error {
	data, err := wire.Encode(cmd)
	if err != nil {
		return err
	}

	s, err := d.send(ctx, cmd.Cmd, data)
	if err == nil {
		return nil
	}
	// A send cut short by the caller's context leaves the stream usable.
	if s == nil || ctx.Err() != nil {
		return err
	}
	if d.detach(s) {
		d.logger.Warn("stream write failed", "cmd", cmd.Cmd, "error", err)
		d.onFailure(err)
	}
	return err
}

// send writes one frame under writeMu. It returns the stream it used, if
// any, so the caller can fail it outside the lock.
func (d *Dispatcher) send(ctx context.Context, name string, data []byte) (transport.Stream, error) {
	d.writeMu.Lock()
	defer d.writeMu.Unlock()

	d.mu.Lock()
	s := d.stream
	d.mu.Unlock()
	if s == nil {
		return nil, fmt.Errorf("write %s: %w", name, model.ErrNotConnected)
	}

	if err := s.Send(ctx, data); err != nil {
		return s, &model.TransportError{Op: "write " + name, Err: err}
	}
	d.sent.Add(1)
	return s, nil
}

// Stats returns current statistics.
func (d *Dispatcher) Stats() Stats {
	d.mu.Lock()
	running := d.stream != nil
	d.mu.Unlock()

	return Stats{
		FramesReceived: d.received.Load(),
		FramesRouted:   d.routed.Load(),
		FramesSent:     d.sent.Load(),
		ParseErrors:    d.parseErrors.Load(),
		UnknownFrames:  d.unknown.Load(),
		OrphanFrames:   d.orphans.Load(),
		Heartbeats:     d.heartbeats.Load(),
		Panics:         d.panics.Load(),
		Running:        running,
	}
}

// readLoop is the single reader of s.
func (d *Dispatcher) readLoop(ctx context.Context, s transport.Stream) {
	defer d.wg.Done()

	for {
		data, err := d.receive(ctx, s)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			if d.detach(s) {
				d.logger.Warn("stream read failed", "error", err)
				d.onFailure(err)
			}
			return
		}
		d.dispatch(ctx, data)
	}
}

func (d *Dispatcher) receive(ctx context.Context, s transport.Stream) ([]byte, error) {
	if d.cfg.StaleAfter <= 0 {
		return s.Receive(ctx)
	}

	rctx, cancel := context.WithTimeout(ctx, d.cfg.StaleAfter)
	defer cancel()

	data, err := s.Receive(rctx)
	if err != nil && ctx.Err() == nil && errors.Is(err, context.DeadlineExceeded) {
		return nil, ErrStreamStale
	}
	return data, err
}

// detach forgets s after a failure so writes fail fast. It reports whether
// s was still the active stream; only that caller reports the failure.
func (d *Dispatcher) detach(s transport.Stream) bool {
	d.mu.Lock()
	var cancel context.CancelFunc
	if d.stream == s {
		cancel = d.cancel
		d.stream = nil
		d.cancel = nil
	}
	d.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	s.Close()
	return cancel != nil
}

// dispatch decodes and routes one frame. A panic in any handler is logged
// and counted; the loop continues with the next frame.
func (d *Dispatcher) dispatch(ctx context.Context, data []byte) {
	d.received.Add(1)

	defer func() {
		if r := recover(); r != nil {
			d.panics.Add(1)
			d.logger.Error("panic while dispatching frame", "panic", r, "frame", string(data))
		}
	}()

	env, err := wire.Decode(data)
	if err != nil {
		d.parseErrors.Add(1)
		d.logger.Warn("failed to decode frame", "error", err)
		return
	}

	if d.route(ctx, env) {
		d.routed.Add(1)
	}
}

// route handles one decoded frame. Returns true if the frame was consumed.
func (d *Dispatcher) route(ctx context.Context, env wire.Envelope) bool {
	tx := model.TransactionID(env.ID)

	switch env.Type {
	case wire.TypeSubscribed:
		if !d.subs.HandleAck(ctx, tx, env.SID) {
			d.orphan(env)
			return false
		}
		return true

	case wire.TypeUnsubscribed:
		if !d.subs.HandleUnsubscribed(tx) {
			d.orphan(env)
			return false
		}
		return true

	case wire.TypeHistoryDone:
		if !d.subs.HandleHistoryDone(tx) {
			d.orphan(env)
			return false
		}
		return true

	case wire.TypeError:
		return d.routeError(tx, env)

	case wire.TypeTrade:
		return publishData(d, env, func(b wire.TradeBody, origin model.TransactionID) model.Message {
			return model.TickMessage{
				OriginalTransactionID: origin,
				SecurityID:            b.SecurityID,
				TradeID:               b.TradeID,
				Price:                 b.Price,
				Volume:                b.Volume,
				Side:                  wire.ParseSide(b.Side),
				ServerTime:            wire.Time(b.TS),
			}
		})

	case wire.TypeCandle:
		return publishData(d, env, func(b wire.CandleBody, origin model.TransactionID) model.Message {
			return model.CandleMessage{
				OriginalTransactionID: origin,
				SecurityID:            b.SecurityID,
				Timeframe:             b.Timeframe,
				OpenTime:              wire.Time(b.OpenTS),
				Open:                  b.Open,
				High:                  b.High,
				Low:                   b.Low,
				Close:                 b.Close,
				Volume:                b.Volume,
				Final:                 b.Final,
			}
		})

	case wire.TypeQuote:
		return publishData(d, env, func(b wire.QuoteBody, origin model.TransactionID) model.Message {
			return model.QuoteMessage{
				OriginalTransactionID: origin,
				SecurityID:            b.SecurityID,
				Bids:                  wire.Levels(b.Bids),
				Asks:                  wire.Levels(b.Asks),
				ServerTime:            wire.Time(b.TS),
			}
		})

	case wire.TypeLevel1:
		return publishData(d, env, func(b wire.Level1Body, origin model.TransactionID) model.Message {
			return model.Level1Message{
				OriginalTransactionID: origin,
				SecurityID:            b.SecurityID,
				BestBid:               b.Bid,
				BestAsk:               b.Ask,
				LastPrice:             b.Last,
				ServerTime:            wire.Time(b.TS),
			}
		})

	case wire.TypeOrderUpdate:
		ev, err := wire.DecodeOrderEvent(env)
		if err != nil {
			d.parseError(env, err)
			return false
		}
		d.orders.Changed(ev)
		return true

	case wire.TypeSecurity:
		b, err := wire.DecodeBody[wire.SecurityBody](env)
		if err != nil {
			d.parseError(env, err)
			return false
		}
		d.pub.Publish(b.Message(tx))
		return true

	case wire.TypePortfolio:
		b, err := wire.DecodeBody[wire.PortfolioBody](env)
		if err != nil {
			d.parseError(env, err)
			return false
		}
		d.pub.Publish(b.Message(tx))
		return true

	case wire.TypeLookupDone:
		// Order status refreshes end with lookup_done as well.
		if d.orders.HandleStatusDone(tx) {
			return true
		}
		d.pub.Publish(model.LookupFinishedMessage{OriginalTransactionID: tx})
		return true

	case wire.TypeHeartbeat:
		d.heartbeats.Add(1)
		d.logger.Debug("heartbeat")
		return true

	case wire.TypeAuthOK, wire.TypeAuthError:
		d.logger.Warn("auth frame after handshake ignored", "type", env.Type)
		return false

	default:
		d.unknown.Add(1)
		d.logger.Debug("skipping unknown frame type", "type", env.Type, "id", env.ID)
		return false
	}
}

// routeError gives an error frame to whichever component owns its id.
// Errors nobody owns are surfaced as ErrorMessage.
func (d *Dispatcher) routeError(tx model.TransactionID, env wire.Envelope) bool {
	err := wire.ProtocolError(env)

	if tx != 0 {
		if d.subs.HandleError(tx, err) {
			return true
		}
		if d.orders.HandleError(tx, err) {
			return true
		}
	}

	d.logger.Warn("venue error", "tx", tx, "error", err)
	d.pub.Publish(model.ErrorMessage{OriginalTransactionID: tx, Error: err})
	return true
}

// publishData resolves the subscription a data frame belongs to and
// publishes its canonical form. Frames for unknown sids are dropped.
func publishData[T any](d *Dispatcher, env wire.Envelope, convert func(T, model.TransactionID) model.Message) bool {
	origin, ok := d.resolveOrigin(env)
	if !ok {
		d.orphan(env)
		return false
	}

	body, err := wire.DecodeBody[T](env)
	if err != nil {
		d.parseError(env, err)
		return false
	}

	d.pub.Publish(convert(body, origin))
	return true
}

// resolveOrigin maps a data frame to its subscription's transaction. Live
// data carries a sid; history data carries the request id.
func (d *Dispatcher) resolveOrigin(env wire.Envelope) (model.TransactionID, bool) {
	if env.SID != "" {
		return d.subs.ResolveSID(env.SID)
	}
	if env.ID != 0 {
		return model.TransactionID(env.ID), true
	}
	return 0, false
}

func (d *Dispatcher) orphan(env wire.Envelope) {
	d.orphans.Add(1)
	d.logger.Debug("frame for unknown transaction dropped",
		"type", env.Type,
		"id", env.ID,
		"sid", env.SID,
	)
}

func (d *Dispatcher) parseError(env wire.Envelope, err error) {
	d.parseErrors.Add(1)
	d.logger.Warn("failed to parse frame body", "type", env.Type, "error", err)
}

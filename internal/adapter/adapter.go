package adapter

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/rickgao/tradelink/internal/connection"
	"github.com/rickgao/tradelink/internal/correlator"
	"github.com/rickgao/tradelink/internal/dispatcher"
	"github.com/rickgao/tradelink/internal/events"
	"github.com/rickgao/tradelink/internal/model"
	"github.com/rickgao/tradelink/internal/order"
	"github.com/rickgao/tradelink/internal/subscription"
	"github.com/rickgao/tradelink/internal/transport"
	"github.com/rickgao/tradelink/internal/wire"
)

const tracerName = "github.com/rickgao/tradelink/internal/adapter"

// Lookup serves security and portfolio lookups outside the stream.
type Lookup interface {
	LookupSecurities(ctx context.Context, tx model.TransactionID, req model.SecurityLookupMessage) ([]model.SecurityMessage, error)
	LookupPortfolio(ctx context.Context, tx model.TransactionID, req model.PortfolioLookupMessage) ([]model.PortfolioMessage, error)
}

// Config configures the Adapter.
type Config struct {
	Connection connection.Config
	Dispatcher dispatcher.Config

	EventBufferInitial int           // Initial per-observer event buffer
	EventBufferMax     int           // Max per-observer event buffer
	LookupTimeout      time.Duration // Bound on one REST lookup
	TerminalRetention  time.Duration // How long Done/Failed orders stay queryable (<0 = until Reset)
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		Connection:         connection.DefaultConfig(),
		Dispatcher:         dispatcher.DefaultConfig(),
		EventBufferInitial: 1000,
		EventBufferMax:     100000,
		LookupTimeout:      30 * time.Second,
		TerminalRetention:  order.DefaultTerminalRetention,
	}
}

// Option configures an Adapter.
type Option func(*options)

type options struct {
	signer connection.Signer
	store  order.Store
	lookup Lookup
	tracer trace.Tracer
}

// WithSigner authenticates the stream handshake.
func WithSigner(s connection.Signer) Option {
	return func(o *options) { o.signer = s }
}

// WithStore persists order records.
func WithStore(s order.Store) Option {
	return func(o *options) { o.store = s }
}

// WithLookup serves lookups through l instead of the stream.
func WithLookup(l Lookup) Option {
	return func(o *options) { o.lookup = l }
}

// WithTracer overrides the global tracer.
func WithTracer(t trace.Tracer) Option {
	return func(o *options) { o.tracer = t }
}

// Stats aggregates component statistics.
type Stats struct {
	Connection    connection.Stats
	Correlator    correlator.Stats
	Dispatcher    dispatcher.Stats
	Subscriptions subscription.Stats
	Orders        order.Stats
	Events        events.BusStats
}

// Adapter is the venue adapter.
type Adapter struct {
	cfg    Config
	logger *slog.Logger
	tracer trace.Tracer
	lookup Lookup

	bus    *events.Bus
	corr   *correlator.Correlator
	disp   *dispatcher.Dispatcher
	subs   *subscription.Registry
	orders *order.Translator
	conn   *connection.Manager

	// Sessions and async lookups live under ctx, not under the caller's
	// request context.
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New builds an Adapter speaking to the venue through dialer and mapping
// broker statuses with mapper.
func New(cfg Config, dialer transport.Dialer, mapper order.BrokerStatusMapper, logger *slog.Logger, opts ...Option) *Adapter {
	if logger == nil {
		logger = slog.Default()
	}

	var o options
	for _, opt := range opts {
		opt(&o)
	}
	if o.tracer == nil {
		o.tracer = otel.Tracer(tracerName)
	}

	bus := events.NewBus(cfg.EventBufferInitial, cfg.EventBufferMax, logger.With("component", "events"))
	corr := correlator.New(logger)
	disp := dispatcher.New(cfg.Dispatcher, bus, logger)
	subs := subscription.NewRegistry(corr, disp, bus, logger)

	topts := []order.Option{order.WithTerminalRetention(cfg.TerminalRetention)}
	if o.store != nil {
		topts = append(topts, order.WithStore(o.store))
	}
	orders := order.NewTranslator(mapper, corr, disp, bus, logger, topts...)
	disp.Route(subs, orders)

	conn := connection.NewManager(cfg.Connection, dialer, o.signer, disp, corr, subs, orders, bus, logger)

	ctx, cancel := context.WithCancel(context.Background())
	a := &Adapter{
		cfg:    cfg,
		logger: logger.With("component", "adapter", "venue", mapper.Name()),
		tracer: o.tracer,
		lookup: o.lookup,
		bus:    bus,
		corr:   corr,
		disp:   disp,
		subs:   subs,
		orders: orders,
		conn:   conn,
		ctx:    ctx,
		cancel: cancel,
	}
	return a
}

// Handle executes one canonical command. The returned transaction id tags
// every event the command produces; session commands return zero.
func (a *Adapter) Handle(ctx context.Context, msg model.Message) (model.TransactionID, error) {
	ctx, span := a.tracer.Start(ctx, "adapter."+msg.Type().String(),
		trace.WithSpanKind(trace.SpanKindClient),
	)
	defer span.End()

	tx, err := a.handle(ctx, msg)
	if tx != 0 {
		span.SetAttributes(attribute.Int64("transaction_id", int64(tx)))
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		a.logger.Debug("command failed", "type", msg.Type(), "error", err)
		return tx, err
	}
	span.SetAttributes(attribute.String("result", "ok"))
	return tx, nil
}

// ConnectWithRetry opens the first session, retrying failed attempts on
// the reconnect schedule until ctx ends. A venue rejection ends it at once;
// so does exceeding Connection.MaxAttempts retries when that is set.
func (a *Adapter) ConnectWithRetry(ctx context.Context) error {
	cc := a.cfg.Connection
	opts := []backoff.RetryOption{
		backoff.WithBackOff(connection.NewBackoff(cc.ReconnectBaseDelay, cc.ReconnectMaxDelay)),
		backoff.WithMaxElapsedTime(0),
		backoff.WithNotify(func(err error, next time.Duration) {
			a.logger.Warn("connect failed, retrying", "error", err, "backoff", next)
		}),
	}
	if cc.MaxAttempts > 0 {
		opts = append(opts, backoff.WithMaxTries(uint(cc.MaxAttempts)+1))
	}

	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		_, err := a.Handle(ctx, model.ConnectMessage{})
		if model.IsProtocol(err) {
			return struct{}{}, backoff.Permanent(err)
		}
		return struct{}{}, err
	}, opts...)

	var perm *backoff.PermanentError
	if errors.As(err, &perm) {
		return perm.Err
	}
	return err
}

func (a *Adapter) handle(ctx context.Context, msg model.Message) (model.TransactionID, error) {
	switch m := msg.(type) {
	case model.ConnectMessage:
		return 0, a.conn.Connect(a.ctx, a.cfg.Connection.ConnectTimeout)

	case model.DisconnectMessage:
		return 0, a.conn.Disconnect(ctx)

	case model.ResetMessage:
		a.conn.Reset()
		return 0, nil

	case model.MarketDataMessage:
		span := trace.SpanFromContext(ctx)
		span.SetAttributes(
			attribute.String("security_id", m.SecurityID),
			attribute.String("data_kind", m.DataKind.String()),
			attribute.Bool("subscribe", m.IsSubscribe),
		)
		if m.IsSubscribe {
			return a.subs.Subscribe(ctx, m)
		}
		return a.subs.Unsubscribe(ctx, m.Key())

	case model.OrderRegisterMessage:
		trace.SpanFromContext(ctx).SetAttributes(
			attribute.String("security_id", m.SecurityID),
			attribute.String("side", m.Side.String()),
		)
		return a.orders.RegisterOrder(ctx, m)

	case model.OrderCancelMessage:
		return a.orders.CancelOrder(ctx, m)

	case model.OrderReplaceMessage:
		return a.orders.ReplaceOrder(ctx, m)

	case model.OrderStatusMessage:
		return a.orders.RefreshOpenOrders(ctx)

	case model.SecurityLookupMessage:
		return a.lookupSecurities(ctx, m)

	case model.PortfolioLookupMessage:
		return a.lookupPortfolio(ctx, m)

	default:
		return 0, &model.ValidationError{Field: "type", Reason: fmt.Sprintf("unsupported command %s", msg.Type())}
	}
}

func (a *Adapter) lookupSecurities(ctx context.Context, m model.SecurityLookupMessage) (model.TransactionID, error) {
	tx := a.corr.NewTransactionID()
	if a.lookup == nil {
		return tx, a.streamLookup(ctx, wire.SecurityLookup(tx, m))
	}

	trace.SpanFromContext(ctx).AddEvent("rest_lookup")
	a.async(tx, "security lookup", func(ctx context.Context) error {
		res, err := a.lookup.LookupSecurities(ctx, tx, m)
		for _, r := range res {
			a.bus.Publish(r)
		}
		return err
	})
	return tx, nil
}

func (a *Adapter) lookupPortfolio(ctx context.Context, m model.PortfolioLookupMessage) (model.TransactionID, error) {
	tx := a.corr.NewTransactionID()
	if a.lookup == nil {
		return tx, a.streamLookup(ctx, wire.PortfolioLookup(tx, m))
	}

	trace.SpanFromContext(ctx).AddEvent("rest_lookup")
	a.async(tx, "portfolio lookup", func(ctx context.Context) error {
		res, err := a.lookup.LookupPortfolio(ctx, tx, m)
		for _, r := range res {
			a.bus.Publish(r)
		}
		return err
	})
	return tx, nil
}

// streamLookup sends a lookup command. Results arrive through the
// dispatcher and end with lookup_done.
func (a *Adapter) streamLookup(ctx context.Context, cmd wire.Command) error {
	if err := a.disp.Write(ctx, cmd); err != nil {
		return fmt.Errorf("%s: %w", cmd.Cmd, err)
	}
	return nil
}

// async runs fn under the adapter lifetime and closes tx with a
// LookupFinishedMessage.
func (a *Adapter) async(tx model.TransactionID, what string, fn func(ctx context.Context) error) {
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()

		ctx, cancel := context.WithTimeout(a.ctx, a.cfg.LookupTimeout)
		defer cancel()

		err := fn(ctx)
		if err != nil {
			a.logger.Warn(what+" failed", "tx", tx, "error", err)
		}
		a.bus.Publish(model.LookupFinishedMessage{OriginalTransactionID: tx, Error: err})
	}()
}

// Subscribe registers an event observer.
func (a *Adapter) Subscribe(name string) *events.Subscription {
	return a.bus.Subscribe(name)
}

// Unsubscribe removes an event observer.
func (a *Adapter) Unsubscribe(s *events.Subscription) {
	a.bus.Unsubscribe(s)
}

// OnDrop registers a hook for events dropped by a full observer buffer.
func (a *Adapter) OnDrop(fn func(observer string, msg model.Message)) {
	a.bus.OnDrop(fn)
}

// Restore reloads persisted order records. Call before Connect.
func (a *Adapter) Restore(records []order.Record) int {
	n := a.orders.Restore(records)
	if n > 0 {
		a.logger.Info("orders restored", "count", n)
	}
	return n
}

// OpenOrders returns every non-terminal order.
func (a *Adapter) OpenOrders() []order.Record {
	return a.orders.Open()
}

// State returns the connection state.
func (a *Adapter) State() model.ConnectionState {
	return a.conn.State()
}

// Stats returns a snapshot of every component's statistics.
func (a *Adapter) Stats() Stats {
	return Stats{
		Connection:    a.conn.Stats(),
		Correlator:    a.corr.Stats(),
		Dispatcher:    a.disp.Stats(),
		Subscriptions: a.subs.Stats(),
		Orders:        a.orders.Stats(),
		Events:        a.bus.Stats(),
	}
}

// Close disconnects, waits for in-flight lookups and closes the event bus.
func (a *Adapter) Close(ctx context.Context) error {
	err := a.conn.Disconnect(ctx)
	a.cancel()

	done := make(chan struct{})
	go func() {
		a.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		a.logger.Warn("close timed out waiting for lookups")
		if err == nil {
			err = ctx.Err()
		}
	}

	a.bus.Close()
	a.logger.Info("adapter closed")
	return err
}

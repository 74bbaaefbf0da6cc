package poller

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rickgao/tradelink/internal/model"
)

// Handler executes adapter commands.
type Handler interface {
	Handle(ctx context.Context, msg model.Message) (model.TransactionID, error)
	State() model.ConnectionState
}

// Config holds poller configuration.
type Config struct {
	Interval   time.Duration // Poll interval (default: 5m)
	Timeout    time.Duration // Per-command timeout (default: 10s)
	Portfolios []string      // Portfolios looked up each cycle
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		Interval: 5 * time.Minute,
		Timeout:  10 * time.Second,
	}
}

// Stats holds poller statistics.
type Stats struct {
	Cycles  int64
	Skipped int64
	Errors  int64
}

// Poller periodically reconciles order state with the venue.
type Poller struct {
	cfg     Config
	handler Handler
	logger  *slog.Logger

	cycles  atomic.Int64
	skipped atomic.Int64
	errors  atomic.Int64

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a new Poller.
func New(cfg Config, handler Handler, logger *slog.Logger) *Poller {
	if logger == nil {
		logger = slog.Default()
	}
	return &Poller{
		cfg:     cfg,
		handler: handler,
		logger:  logger.With("component", "poller"),
	}
}

// Start begins the polling loop.
func (p *Poller) Start(ctx context.Context) error {
	p.ctx, p.cancel = context.WithCancel(ctx)

	p.wg.Add(1)
	go p.run()

	p.logger.Info("order reconciler started",
		"interval", p.cfg.Interval,
		"portfolios", len(p.cfg.Portfolios),
	)

	return nil
}

// Stop gracefully shuts down the poller.
func (p *Poller) Stop(ctx context.Context) error {
	if p.cancel != nil {
		p.cancel()
	}

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		p.logger.Info("order reconciler stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stats returns poller statistics.
func (p *Poller) Stats() Stats {
	return Stats{
		Cycles:  p.cycles.Load(),
		Skipped: p.skipped.Load(),
		Errors:  p.errors.Load(),
	}
}

// run is the main polling loop. The connect handshake already refreshes
// orders, so the first cycle waits a full interval.
func (p *Poller) run() {
	defer p.wg.Done()

	ticker := time.NewTicker(p.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-p.ctx.Done():
			return
		case <-ticker.C:
			p.poll()
		}
	}
}

// poll runs one reconciliation cycle.
func (p *Poller) poll() {
	if state := p.handler.State(); state != model.ConnectionConnected {
		p.skipped.Add(1)
		p.logger.Debug("skipping poll cycle", "state", state)
		return
	}
	p.cycles.Add(1)
	start := time.Now()

	var failed int
	if err := p.send(model.OrderStatusMessage{}); err != nil {
		p.logger.Warn("order status refresh failed", "error", err)
		failed++
	}
	for _, name := range p.cfg.Portfolios {
		if err := p.send(model.PortfolioLookupMessage{PortfolioName: name}); err != nil {
			p.logger.Warn("portfolio refresh failed", "portfolio", name, "error", err)
			failed++
		}
	}
	p.errors.Add(int64(failed))

	p.logger.Debug("poll cycle complete",
		"portfolios", len(p.cfg.Portfolios),
		"errors", failed,
		"duration", time.Since(start),
	)
}

func (p *Poller) send(msg model.Message) error {
	ctx, cancel := context.WithTimeout(p.ctx, p.cfg.Timeout)
	defer cancel()

	_, err := p.handler.Handle(ctx, msg)
	return err
}

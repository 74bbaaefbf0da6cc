package journal

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/rickgao/tradelink/internal/model"
)

// Schema creates the executions table.
const Schema = `
CREATE TABLE IF NOT EXISTS executions (
	event_id                uuid PRIMARY KEY,
	transaction_id          bigint NOT NULL,
	original_transaction_id bigint NOT NULL,
	order_id                text NOT NULL,
	security_id             text NOT NULL,
	side                    text NOT NULL,
	order_state             text NOT NULL,
	balance                 numeric NOT NULL,
	trade_id                text,
	trade_price             numeric,
	trade_volume            numeric,
	error                   text,
	server_time             timestamptz,
	recorded_at             timestamptz NOT NULL DEFAULT now()
)`

const insertExecution = `
	INSERT INTO executions (
		event_id, transaction_id, original_transaction_id, order_id, security_id,
		side, order_state, balance, trade_id, trade_price, trade_volume, error, server_time
	)
	VALUES ($1::uuid, $2, $3, $4, $5, $6, $7, $8::numeric, $9, $10::numeric, $11::numeric, $12, $13)
	ON CONFLICT (event_id) DO NOTHING`

// DB is the subset of pgxpool.Pool used by the journal.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults
}

// Source yields events without blocking. *events.Subscription satisfies it.
type Source interface {
	TryReceive() (model.Message, bool)
}

// Config configures batching.
type Config struct {
	BatchSize     int           // Rows per insert batch
	FlushInterval time.Duration // Max time a row waits in the batch
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		BatchSize:     1000,
		FlushInterval: time.Second,
	}
}

// Stats contains journal counters.
type Stats struct {
	Inserts   int64
	Conflicts int64
	Flushes   int64
	Errors    int64
	Skipped   int64
}

// executionRow is one executions row. Decimals travel as text.
type executionRow struct {
	EventID               string
	TransactionID         int64
	OriginalTransactionID int64
	OrderID               string
	SecurityID            string
	Side                  string
	OrderState            string
	Balance               string
	TradeID               *string
	TradePrice            *string
	TradeVolume           *string
	Error                 *string
	ServerTime            *time.Time
}

// Journal writes execution events to Postgres.
type Journal struct {
	cfg    Config
	logger *slog.Logger

	input Source
	db    DB

	batch       []executionRow
	batchMu     sync.Mutex
	flushTicker *time.Ticker

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	stats Stats
}

// New creates a Journal reading from input.
func New(cfg Config, input Source, db DB, logger *slog.Logger) *Journal {
	if logger == nil {
		logger = slog.Default()
	}
	return &Journal{
		cfg:    cfg,
		input:  input,
		db:     db,
		logger: logger.With("component", "journal"),
		batch:  make([]executionRow, 0, cfg.BatchSize),
	}
}

// EnsureSchema creates the executions table if missing.
func (j *Journal) EnsureSchema(ctx context.Context) error {
	_, err := j.db.Exec(ctx, Schema)
	return err
}

// Start begins consuming events and writing to the database.
func (j *Journal) Start(ctx context.Context) error {
	j.ctx, j.cancel = context.WithCancel(ctx)
	j.flushTicker = time.NewTicker(j.cfg.FlushInterval)

	j.wg.Add(1)
	go j.consumeLoop()

	j.wg.Add(1)
	go j.flushLoop()

	j.logger.Info("journal started",
		"batch_size", j.cfg.BatchSize,
		"flush_interval", j.cfg.FlushInterval,
	)
	return nil
}

// Stop drains buffered events, flushes and shuts down.
func (j *Journal) Stop(ctx context.Context) error {
	j.logger.Info("stopping journal")

	if j.cancel != nil {
		j.cancel()
	}
	if j.flushTicker != nil {
		j.flushTicker.Stop()
	}

	done := make(chan struct{})
	go func() {
		j.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		j.logger.Warn("journal stop timed out")
		return ctx.Err()
	}

	for {
		msg, ok := j.input.TryReceive()
		if !ok {
			break
		}
		j.handleMessage(ctx, msg)
	}
	j.flush(ctx)

	j.logger.Info("journal stopped")
	return nil
}

// Stats returns current counters.
func (j *Journal) Stats() Stats {
	j.batchMu.Lock()
	defer j.batchMu.Unlock()
	return j.stats
}

// consumeLoop polls the input and accumulates batches.
func (j *Journal) consumeLoop() {
	defer j.wg.Done()

	for {
		msg, ok := j.input.TryReceive()
		if !ok {
			select {
			case <-j.ctx.Done():
				return
			case <-time.After(10 * time.Millisecond):
				continue
			}
		}
		j.handleMessage(j.ctx, msg)
	}
}

// flushLoop periodically flushes the batch.
func (j *Journal) flushLoop() {
	defer j.wg.Done()

	for {
		select {
		case <-j.ctx.Done():
			return
		case <-j.flushTicker.C:
			j.flush(j.ctx)
		}
	}
}

func (j *Journal) handleMessage(ctx context.Context, msg model.Message) {
	exec, ok := msg.(model.ExecutionMessage)
	if !ok {
		j.batchMu.Lock()
		j.stats.Skipped++
		j.batchMu.Unlock()
		return
	}

	row := transform(exec)

	j.batchMu.Lock()
	j.batch = append(j.batch, row)
	shouldFlush := len(j.batch) >= j.cfg.BatchSize
	j.batchMu.Unlock()

	if shouldFlush {
		j.flush(ctx)
	}
}

func transform(m model.ExecutionMessage) executionRow {
	row := executionRow{
		EventID:               m.EventID.String(),
		TransactionID:         int64(m.TransactionID),
		OriginalTransactionID: int64(m.OriginalTransactionID),
		OrderID:               m.OrderID,
		SecurityID:            m.SecurityID,
		Side:                  m.Side.String(),
		OrderState:            m.OrderState.String(),
		Balance:               m.Balance.String(),
	}
	if m.HasTrade() {
		id := m.TradeID
		row.TradeID = &id
	}
	if m.TradePrice != nil {
		s := m.TradePrice.String()
		row.TradePrice = &s
	}
	if m.TradeVolume != nil {
		s := m.TradeVolume.String()
		row.TradeVolume = &s
	}
	if m.Error != nil {
		s := m.Error.Error()
		row.Error = &s
	}
	if !m.ServerTime.IsZero() {
		ts := m.ServerTime.UTC()
		row.ServerTime = &ts
	}
	return row
}

// flush writes the current batch. A failed batch is dropped and counted.
func (j *Journal) flush(ctx context.Context) {
	j.batchMu.Lock()
	if len(j.batch) == 0 {
		j.batchMu.Unlock()
		return
	}

	batch := j.batch
	j.batch = make([]executionRow, 0, j.cfg.BatchSize)
	j.batchMu.Unlock()

	start := time.Now()

	conflicts, err := j.batchInsert(ctx, batch)
	if err != nil {
		j.logger.Error("batch insert failed", "error", err, "count", len(batch))
		j.batchMu.Lock()
		j.stats.Errors++
		j.batchMu.Unlock()
		return
	}

	j.batchMu.Lock()
	j.stats.Inserts += int64(len(batch) - conflicts)
	j.stats.Conflicts += int64(conflicts)
	j.stats.Flushes++
	j.batchMu.Unlock()

	j.logger.Debug("flushed executions",
		"count", len(batch),
		"conflicts", conflicts,
		"duration", time.Since(start),
	)
}

// batchInsert inserts rows with ON CONFLICT DO NOTHING and counts conflicts.
func (j *Journal) batchInsert(ctx context.Context, rows []executionRow) (conflicts int, err error) {
	batch := &pgx.Batch{}
	for _, r := range rows {
		batch.Queue(insertExecution,
			r.EventID, r.TransactionID, r.OriginalTransactionID, r.OrderID, r.SecurityID,
			r.Side, r.OrderState, r.Balance, r.TradeID, r.TradePrice, r.TradeVolume, r.Error, r.ServerTime,
		)
	}

	results := j.db.SendBatch(ctx, batch)
	defer results.Close()

	for range rows {
		ct, err := results.Exec()
		if err != nil {
			return 0, err
		}
		if ct.RowsAffected() == 0 {
			conflicts++
		}
	}

	return conflicts, nil
}

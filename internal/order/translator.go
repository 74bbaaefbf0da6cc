package order

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/rickgao/tradelink/internal/correlator"
	"github.com/rickgao/tradelink/internal/events"
	"github.com/rickgao/tradelink/internal/model"
	"github.com/rickgao/tradelink/internal/wire"
)

var errNotAcknowledged = errors.New("order has no venue id yet")

// DefaultTerminalRetention is how long a Done or Failed order stays
// queryable before it is evicted.
const DefaultTerminalRetention = 15 * time.Minute

// ErrUnknownAtVenue fails an order whose submission outcome was unknown and
// which a later status refresh did not report.
var ErrUnknownAtVenue = errors.New("order not reported by venue after reconnect")

// Record is a snapshot of one order.
type Record struct {
	TransactionID   model.TransactionID
	OrderID         string
	ClientOrderID   string
	SecurityID      string
	PortfolioName   string
	Side            model.Side
	OrderType       model.OrderType
	Price           decimal.Decimal
	RequestedVolume decimal.Decimal
	FilledVolume    decimal.Decimal
	State           model.OrderState
	VenueStatus     string
	Unconfirmed     bool
	UpdatedAt       time.Time
	TradeIDs        []string
}

// Balance returns the unfilled volume.
func (r Record) Balance() decimal.Decimal {
	b := r.RequestedVolume.Sub(r.FilledVolume)
	if b.IsNegative() {
		return decimal.Zero
	}
	return b
}

// Store persists order records. Save is called after every accepted change
// of an open order; Delete once the order is terminal.
type Store interface {
	Save(rec Record) error
	Delete(rec Record) error
}

// Stats contains translator counters.
type Stats struct {
	Open            int
	Terminal        int
	Fills           int64
	DroppedEvents   int64
	UnknownStatuses int64
	Adopted         int64
	Evicted         int64
	Abandoned       int64
}

// Option configures a Translator.
type Option func(*Translator)

// WithStore persists records to s.
func WithStore(s Store) Option {
	return func(t *Translator) { t.store = s }
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(t *Translator) { t.now = now }
}

// WithTerminalRetention sets how long terminal orders are kept. Zero or
// negative keeps them until Reset.
func WithTerminalRetention(d time.Duration) Option {
	return func(t *Translator) { t.retention = d }
}

type aliasKind uint8

const (
	aliasCancel aliasKind = iota + 1
	aliasReplace
)

func (k aliasKind) String() string {
	if k == aliasReplace {
		return "replace"
	}
	return "cancel"
}

// alias ties a cancel/replace transaction to the order it acts on.
type alias struct {
	kind      aliasKind
	orderTx   model.TransactionID
	newPrice  decimal.Decimal
	newVolume decimal.Decimal
}

type entry struct {
	Record
	trades map[string]struct{}
}

func (e *entry) snapshot() Record {
	r := e.Record
	r.TradeIDs = make([]string, 0, len(e.trades))
	for id := range e.trades {
		r.TradeIDs = append(r.TradeIDs, id)
	}
	slices.Sort(r.TradeIDs)
	return r
}

// Translator owns the order records.
type Translator struct {
	logger *slog.Logger
	mapper BrokerStatusMapper
	ids    ClientIDIssuer
	corr   *correlator.Correlator
	out    wire.Writer
	pub    events.Publisher
	store     Store
	now       func() time.Time
	retention time.Duration

	mu         sync.Mutex
	orders     map[model.TransactionID]*entry
	byClient   map[string]model.TransactionID
	aliases    map[model.TransactionID]alias
	statusReqs map[model.TransactionID]map[model.TransactionID]struct{}
	retired    []model.TransactionID // terminal orders, oldest first

	fills           atomic.Int64
	dropped         atomic.Int64
	unknownStatuses atomic.Int64
	adopted         atomic.Int64
	evicted         atomic.Int64
	abandoned       atomic.Int64
}

// NewTranslator creates a Translator for the venue described by mapper.
func NewTranslator(mapper BrokerStatusMapper, corr *correlator.Correlator, out wire.Writer, pub events.Publisher, logger *slog.Logger, opts ...Option) *Translator {
	if logger == nil {
		logger = slog.Default()
	}

	t := &Translator{
		logger:     logger.With("venue", mapper.Name()),
		mapper:     mapper,
		corr:       corr,
		out:        out,
		pub:        pub,
		now:        time.Now,
		retention:  DefaultTerminalRetention,
		orders:     make(map[model.TransactionID]*entry),
		byClient:   make(map[string]model.TransactionID),
		aliases:    make(map[model.TransactionID]alias),
		statusReqs: make(map[model.TransactionID]map[model.TransactionID]struct{}),
	}
	if ids, ok := mapper.(ClientIDIssuer); ok {
		t.ids = ids
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// RegisterOrder validates msg, creates a Pending record and sends the order.
// If the stream is down nothing is created and the error wraps
// model.ErrNotConnected. If the write fails midway the outcome is unknown:
// the record stays Pending and is reconciled by the next status refresh.
func (t *Translator) RegisterOrder(ctx context.Context, msg model.OrderRegisterMessage) (model.TransactionID, error) {
	if err := validateRegister(msg); err != nil {
		return 0, err
	}

	tx := t.corr.NewTransactionID()
	msg.TransactionID = tx

	var clientID string
	if t.ids != nil {
		clientID = t.ids.NewClientOrderID()
	}

	e := &entry{
		Record: Record{
			TransactionID:   tx,
			ClientOrderID:   clientID,
			SecurityID:      msg.SecurityID,
			PortfolioName:   msg.PortfolioName,
			Side:            msg.Side,
			OrderType:       msg.OrderType,
			Price:           msg.Price,
			RequestedVolume: msg.Volume,
			State:           model.OrderStatePending,
			UpdatedAt:       t.now(),
		},
		trades: make(map[string]struct{}),
	}

	t.mu.Lock()
	t.evictLocked()
	t.orders[tx] = e
	if clientID != "" {
		t.byClient[clientID] = tx
	}
	t.mu.Unlock()

	if err := t.out.Write(ctx, wire.OrderNew(tx, clientID, msg)); err != nil {
		if model.IsTransport(err) {
			t.mu.Lock()
			e.Unconfirmed = true
			t.mu.Unlock()
			t.logger.Warn("order submission outcome unknown", "tx", tx, "error", err)
			return tx, nil
		}
		t.mu.Lock()
		t.dropLocked(e)
		t.mu.Unlock()
		return 0, fmt.Errorf("register order: %w", err)
	}

	t.logger.Debug("order sent",
		"tx", tx,
		"security", msg.SecurityID,
		"side", msg.Side,
		"price", msg.Price,
		"volume", msg.Volume,
	)
	t.mu.Lock()
	snap := e.snapshot()
	t.mu.Unlock()
	t.save(snap)
	return tx, nil
}

// CancelOrder sends a cancel for an existing order under a new transaction
// id aliased to that order. The resulting acknowledgment updates the same
// record.
func (t *Translator) CancelOrder(ctx context.Context, msg model.OrderCancelMessage) (model.TransactionID, error) {
	t.mu.Lock()
	e, err := t.lookupLocked("cancel", msg.OrderTransactionID, msg.OrderID)
	if err != nil {
		t.mu.Unlock()
		return 0, err
	}
	ref := e.OrderID
	if ref == "" {
		ref = e.ClientOrderID
	}
	if ref == "" {
		t.mu.Unlock()
		return 0, &model.StateError{Op: "cancel", Ref: fmt.Sprint(e.TransactionID), Err: errNotAcknowledged}
	}

	tx := t.corr.NewTransactionID()
	t.aliases[tx] = alias{kind: aliasCancel, orderTx: e.TransactionID}
	orderTx := e.TransactionID
	t.mu.Unlock()

	if err := t.out.Write(ctx, wire.OrderCancel(tx, ref)); err != nil {
		return t.commandWriteFailed("cancel", tx, err)
	}

	t.logger.Debug("cancel sent", "tx", tx, "order_tx", orderTx, "order_id", ref)
	return tx, nil
}

// ReplaceOrder sends a price/volume amendment for an existing order under a
// new transaction id aliased to that order.
func (t *Translator) ReplaceOrder(ctx context.Context, msg model.OrderReplaceMessage) (model.TransactionID, error) {
	if !msg.NewVolume.IsPositive() {
		return 0, &model.ValidationError{Field: "new_volume", Reason: "must be positive"}
	}
	if msg.NewPrice.IsNegative() {
		return 0, &model.ValidationError{Field: "new_price", Reason: "negative"}
	}

	t.mu.Lock()
	e, err := t.lookupLocked("replace", msg.OrderTransactionID, msg.OrderID)
	if err != nil {
		t.mu.Unlock()
		return 0, err
	}
	if e.OrderID == "" {
		t.mu.Unlock()
		return 0, &model.StateError{Op: "replace", Ref: fmt.Sprint(e.TransactionID), Err: errNotAcknowledged}
	}

	tx := t.corr.NewTransactionID()
	msg.TransactionID = tx
	t.aliases[tx] = alias{
		kind:      aliasReplace,
		orderTx:   e.TransactionID,
		newPrice:  msg.NewPrice,
		newVolume: msg.NewVolume,
	}
	orderID := e.OrderID
	var clientID string
	if t.ids != nil {
		clientID = t.ids.NewClientOrderID()
	}
	t.mu.Unlock()

	if err := t.out.Write(ctx, wire.OrderReplace(tx, orderID, clientID, msg)); err != nil {
		return t.commandWriteFailed("replace", tx, err)
	}

	t.logger.Debug("replace sent", "tx", tx, "order_id", orderID, "price", msg.NewPrice, "volume", msg.NewVolume)
	return tx, nil
}

// RefreshOpenOrders asks the venue for a snapshot of open orders. Snapshot
// events for orders unknown locally are adopted under fresh ids.
func (t *Translator) RefreshOpenOrders(ctx context.Context) (model.TransactionID, error) {
	tx := t.corr.NewTransactionID()

	t.mu.Lock()
	t.evictLocked()
	t.statusReqs[tx] = make(map[model.TransactionID]struct{})
	t.mu.Unlock()

	if err := t.out.Write(ctx, wire.OrderStatus(tx)); err != nil {
		t.mu.Lock()
		delete(t.statusReqs, tx)
		t.mu.Unlock()
		return 0, fmt.Errorf("refresh open orders: %w", err)
	}

	t.logger.Debug("order status refresh sent", "tx", tx)
	return tx, nil
}

// Changed applies one venue order event.
func (t *Translator) Changed(ev wire.OrderEvent) {
	state, known := t.mapper.Map(ev.Status)
	if !known {
		t.unknownStatuses.Add(1)
		t.logger.Warn("unknown order status, ignoring",
			"status", ev.Status,
			"order_id", ev.OrderID,
			"tx", ev.RequestID,
		)
		return
	}
	if state == model.OrderStateNone && ev.TradeID == "" {
		t.logger.Debug("order status carries no transition",
			"status", ev.Status,
			"order_id", ev.OrderID,
		)
		return
	}

	t.mu.Lock()
	e, cause, al := t.resolveLocked(ev)
	if e == nil {
		if ev.Snapshot && state != model.OrderStateNone {
			msg, snap := t.adoptLocked(ev, state)
			t.mu.Unlock()
			t.persist(snap)
			t.pub.Publish(msg)
			return
		}
		t.mu.Unlock()
		t.dropped.Add(1)
		t.logger.Warn("order event for unknown order",
			"order_id", ev.OrderID,
			"client_order_id", ev.ClientOrderID,
			"tx", ev.RequestID,
			"status", ev.Status,
		)
		return
	}

	if seen, ok := t.statusReqs[model.TransactionID(ev.RequestID)]; ok && ev.Snapshot {
		seen[e.TransactionID] = struct{}{}
		e.Unconfirmed = false
	}

	if e.State.IsTerminal() {
		t.mu.Unlock()
		t.dropped.Add(1)
		t.logger.Debug("event for terminal order dropped",
			"tx", e.TransactionID,
			"state", e.State,
			"status", ev.Status,
		)
		return
	}

	// A rejected cancel/replace leaves the order untouched.
	if al != nil && state == model.OrderStateFailed {
		delete(t.aliases, cause)
		t.mu.Unlock()
		t.logger.Warn("order command rejected", "tx", cause, "order_tx", e.TransactionID, "reason", ev.Reason)
		t.pub.Publish(model.ErrorMessage{
			OriginalTransactionID: cause,
			Error:                 &model.ProtocolError{Code: ev.Status, Reason: ev.Reason},
		})
		return
	}

	changed := false
	if al != nil {
		delete(t.aliases, cause)
		if al.kind == aliasReplace {
			e.Price = al.newPrice
			e.RequestedVolume = al.newVolume
			changed = true
		}
	}

	if ev.OrderID != "" && ev.OrderID != e.OrderID {
		if e.OrderID != "" {
			t.logger.Info("order rebound to new venue id", "tx", e.TransactionID, "old_id", e.OrderID, "new_id", ev.OrderID)
		}
		e.OrderID = ev.OrderID
		t.corr.Bind(e.TransactionID, correlator.OrderID(ev.OrderID))
		changed = true
	}
	e.Unconfirmed = false

	var tradeID string
	var tradePrice, tradeVolume *decimal.Decimal
	if ev.TradeID != "" {
		if _, dup := e.trades[ev.TradeID]; dup {
			t.logger.Debug("duplicate fill dropped", "tx", e.TransactionID, "trade_id", ev.TradeID)
		} else {
			e.trades[ev.TradeID] = struct{}{}
			tradeID = ev.TradeID
			tradePrice = ev.TradePrice
			tradeVolume = ev.TradeVolume
			if ev.TradeVolume != nil {
				e.FilledVolume = e.FilledVolume.Add(*ev.TradeVolume)
			}
			t.fills.Add(1)
			changed = true
		}
	}
	if ev.Filled.GreaterThan(e.FilledVolume) {
		e.FilledVolume = ev.Filled
		changed = true
	}

	var execErr error
	if state != model.OrderStateNone && state != e.State {
		if e.State.CanTransition(state) {
			e.State = state
			changed = true
			if state == model.OrderStateFailed {
				execErr = &model.ProtocolError{Code: ev.Status, Reason: ev.Reason}
			}
			if state.IsTerminal() {
				t.retired = append(t.retired, e.TransactionID)
			}
		} else {
			t.logger.Warn("backward order transition dropped",
				"tx", e.TransactionID,
				"from", e.State,
				"to", state,
				"status", ev.Status,
			)
		}
	}

	if !changed {
		t.mu.Unlock()
		t.dropped.Add(1)
		t.logger.Debug("duplicate order event dropped", "tx", e.TransactionID, "status", ev.Status)
		return
	}

	e.VenueStatus = ev.Status
	e.UpdatedAt = t.now()

	balance := e.Balance()
	if ev.Balance != nil {
		balance = *ev.Balance
	}

	msg := model.ExecutionMessage{
		EventID:               uuid.New(),
		TransactionID:         cause,
		OriginalTransactionID: e.TransactionID,
		OrderID:               e.OrderID,
		SecurityID:            e.SecurityID,
		Side:                  e.Side,
		OrderState:            e.State,
		Balance:               balance,
		Volume:                e.RequestedVolume,
		Price:                 e.Price,
		TradeID:               tradeID,
		TradePrice:            tradePrice,
		TradeVolume:           tradeVolume,
		Error:                 execErr,
		ServerTime:            wire.Time(ev.TS),
	}
	snap := e.snapshot()
	t.mu.Unlock()

	t.persist(snap)
	t.pub.Publish(msg)
}

// HandleError applies a venue rejection of an order command. A rejected
// registration fails the order; a rejected cancel or replace is reported
// with an ErrorMessage and leaves the order unchanged. Returns false if tx
// is not an order command.
func (t *Translator) HandleError(tx model.TransactionID, err error) bool {
	t.mu.Lock()

	if e, ok := t.orders[tx]; ok {
		if e.State.IsTerminal() {
			t.mu.Unlock()
			t.logger.Debug("rejection for terminal order dropped", "tx", tx, "error", err)
			return true
		}
		e.State = model.OrderStateFailed
		e.Unconfirmed = false
		e.UpdatedAt = t.now()
		t.retired = append(t.retired, tx)
		msg := model.ExecutionMessage{
			EventID:               uuid.New(),
			TransactionID:         tx,
			OriginalTransactionID: tx,
			OrderID:               e.OrderID,
			SecurityID:            e.SecurityID,
			Side:                  e.Side,
			OrderState:            model.OrderStateFailed,
			Balance:               e.Balance(),
			Volume:                e.RequestedVolume,
			Price:                 e.Price,
			Error:                 err,
			ServerTime:            e.UpdatedAt,
		}
		snap := e.snapshot()
		t.mu.Unlock()

		t.logger.Warn("order rejected", "tx", tx, "error", err)
		t.persist(snap)
		t.pub.Publish(msg)
		return true
	}

	if al, ok := t.aliases[tx]; ok {
		delete(t.aliases, tx)
		t.mu.Unlock()
		t.logger.Warn("order command rejected", "tx", tx, "order_tx", al.orderTx, "error", err)
		t.pub.Publish(model.ErrorMessage{OriginalTransactionID: tx, Error: err})
		return true
	}

	if _, ok := t.statusReqs[tx]; ok {
		delete(t.statusReqs, tx)
		t.mu.Unlock()
		t.logger.Warn("order status refresh rejected", "tx", tx, "error", err)
		t.pub.Publish(model.ErrorMessage{OriginalTransactionID: tx, Error: err})
		return true
	}

	t.mu.Unlock()
	return false
}

// HandleStatusDone closes a status refresh. Orders whose submission outcome
// was unknown and that the snapshot did not mention are failed. Returns
// false if tx is not an outstanding refresh.
func (t *Translator) HandleStatusDone(tx model.TransactionID) bool {
	t.mu.Lock()
	seen, ok := t.statusReqs[tx]
	if !ok {
		t.mu.Unlock()
		return false
	}
	delete(t.statusReqs, tx)

	var msgs []model.ExecutionMessage
	var snaps []Record
	for _, e := range t.orders {
		if !e.Unconfirmed || e.State.IsTerminal() {
			continue
		}
		if _, ok := seen[e.TransactionID]; ok {
			e.Unconfirmed = false
			continue
		}
		e.State = model.OrderStateFailed
		e.Unconfirmed = false
		e.UpdatedAt = t.now()
		t.retired = append(t.retired, e.TransactionID)
		msgs = append(msgs, model.ExecutionMessage{
			EventID:               uuid.New(),
			TransactionID:         e.TransactionID,
			OriginalTransactionID: e.TransactionID,
			SecurityID:            e.SecurityID,
			Side:                  e.Side,
			OrderState:            model.OrderStateFailed,
			Balance:               e.Balance(),
			Volume:                e.RequestedVolume,
			Price:                 e.Price,
			Error:                 ErrUnknownAtVenue,
			ServerTime:            e.UpdatedAt,
		})
		snaps = append(snaps, e.snapshot())
	}
	t.mu.Unlock()

	for i := range msgs {
		t.logger.Warn("unconfirmed order failed after refresh", "tx", msgs[i].OriginalTransactionID)
		t.persist(snaps[i])
		t.pub.Publish(msgs[i])
	}
	t.logger.Debug("order status refresh complete", "tx", tx, "reported", len(seen))
	return true
}

// Get returns a snapshot of the order created by tx.
func (t *Translator) Get(tx model.TransactionID) (Record, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	e, ok := t.orders[tx]
	if !ok {
		return Record{}, false
	}
	return e.snapshot(), true
}

// Open returns snapshots of every non-terminal order in transaction order.
func (t *Translator) Open() []Record {
	t.mu.Lock()
	out := make([]Record, 0, len(t.orders))
	for _, e := range t.orders {
		if !e.State.IsTerminal() {
			out = append(out, e.snapshot())
		}
	}
	t.mu.Unlock()

	slices.SortFunc(out, func(a, b Record) int { return cmp.Compare(a.TransactionID, b.TransactionID) })
	return out
}

// Restore loads open orders persisted by a previous process. Each gets a
// fresh transaction id, since ids are only unique within one process.
func (t *Translator) Restore(records []Record) int {
	t.mu.Lock()
	defer t.mu.Unlock()

	n := 0
	for _, r := range records {
		if r.State.IsTerminal() || (r.OrderID == "" && r.ClientOrderID == "") {
			continue
		}
		r.TransactionID = t.corr.NewTransactionID()
		e := &entry{Record: r, trades: make(map[string]struct{}, len(r.TradeIDs))}
		for _, id := range r.TradeIDs {
			e.trades[id] = struct{}{}
		}
		e.TradeIDs = nil
		t.orders[r.TransactionID] = e
		if r.OrderID != "" {
			t.corr.Bind(r.TransactionID, correlator.OrderID(r.OrderID))
		}
		if r.ClientOrderID != "" {
			t.byClient[r.ClientOrderID] = r.TransactionID
		}
		n++
	}

	t.logger.Info("orders restored", "count", n)
	return n
}

// Reset drops every record, alias and outstanding refresh.
func (t *Translator) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()

	for tx := range t.orders {
		t.corr.Release(tx)
	}
	t.orders = make(map[model.TransactionID]*entry)
	t.byClient = make(map[string]model.TransactionID)
	t.aliases = make(map[model.TransactionID]alias)
	t.statusReqs = make(map[model.TransactionID]map[model.TransactionID]struct{})
	t.retired = nil
}

// AbandonInFlight forgets the cancel, replace and status requests sent on
// a stream that is gone. Each is reported with an ErrorMessage wrapping
// model.ErrSessionLost; the orders themselves are left for the next status
// refresh to reconcile. Returns the number of requests dropped.
func (t *Translator) AbandonInFlight() int {
	t.mu.Lock()
	aliases, reqs := t.aliases, t.statusReqs
	t.aliases = make(map[model.TransactionID]alias)
	t.statusReqs = make(map[model.TransactionID]map[model.TransactionID]struct{})
	t.mu.Unlock()

	txs := make([]model.TransactionID, 0, len(aliases)+len(reqs))
	for tx := range aliases {
		txs = append(txs, tx)
	}
	for tx := range reqs {
		txs = append(txs, tx)
	}
	slices.Sort(txs)

	for _, tx := range txs {
		op := "order status"
		if al, ok := aliases[tx]; ok {
			op = al.kind.String()
		}
		t.logger.Warn("order request abandoned", "op", op, "tx", tx)
		t.pub.Publish(model.ErrorMessage{
			OriginalTransactionID: tx,
			Error:                 &model.TransportError{Op: op, Err: model.ErrSessionLost},
		})
	}
	t.abandoned.Add(int64(len(txs)))
	return len(txs)
}

// Stats returns translator counters.
func (t *Translator) Stats() Stats {
	t.mu.Lock()
	s := Stats{}
	for _, e := range t.orders {
		if e.State.IsTerminal() {
			s.Terminal++
		} else {
			s.Open++
		}
	}
	t.mu.Unlock()

	s.Fills = t.fills.Load()
	s.DroppedEvents = t.dropped.Load()
	s.UnknownStatuses = t.unknownStatuses.Load()
	s.Adopted = t.adopted.Load()
	s.Evicted = t.evicted.Load()
	s.Abandoned = t.abandoned.Load()
	return s
}

// resolveLocked finds the order an event refers to: by venue order id,
// then client order id, then the echoed request id. It returns the order,
// the transaction that caused the event and, if that transaction was a
// cancel/replace, its alias.
func (t *Translator) resolveLocked(ev wire.OrderEvent) (*entry, model.TransactionID, *alias) {
	var cause model.TransactionID
	var al *alias

	if ev.RequestID != 0 {
		reqTx := model.TransactionID(ev.RequestID)
		if a, ok := t.aliases[reqTx]; ok {
			cause = reqTx
			al = &a
		}
	}

	var e *entry
	if ev.OrderID != "" {
		if tx, ok := t.corr.Resolve(correlator.OrderID(ev.OrderID)); ok {
			e = t.orders[tx]
		}
	}
	if e == nil && ev.ClientOrderID != "" {
		if tx, ok := t.byClient[ev.ClientOrderID]; ok {
			e = t.orders[tx]
		}
	}
	if e == nil && ev.RequestID != 0 {
		reqTx := model.TransactionID(ev.RequestID)
		if o, ok := t.orders[reqTx]; ok {
			e = o
		} else if al != nil {
			e = t.orders[al.orderTx]
		}
	}
	if e == nil {
		return nil, 0, nil
	}
	if al != nil && al.orderTx != e.TransactionID {
		al = nil
		cause = 0
	}
	if cause == 0 {
		cause = e.TransactionID
	}
	return e, cause, al
}

// adoptLocked creates a record for an order the venue reports but this
// adapter does not know, e.g. one placed before a restart.
func (t *Translator) adoptLocked(ev wire.OrderEvent, state model.OrderState) (model.ExecutionMessage, Record) {
	tx := t.corr.NewTransactionID()
	e := &entry{
		Record: Record{
			TransactionID:   tx,
			OrderID:         ev.OrderID,
			ClientOrderID:   ev.ClientOrderID,
			SecurityID:      ev.SecurityID,
			Side:            wire.ParseSide(ev.Side),
			Price:           ev.Price,
			RequestedVolume: ev.Volume,
			FilledVolume:    ev.Filled,
			State:           state,
			VenueStatus:     ev.Status,
			UpdatedAt:       t.now(),
		},
		trades: make(map[string]struct{}),
	}
	t.orders[tx] = e
	if ev.OrderID != "" {
		t.corr.Bind(tx, correlator.OrderID(ev.OrderID))
	}
	if ev.ClientOrderID != "" {
		t.byClient[ev.ClientOrderID] = tx
	}
	if state.IsTerminal() {
		t.retired = append(t.retired, tx)
	}
	if seen, ok := t.statusReqs[model.TransactionID(ev.RequestID)]; ok {
		seen[tx] = struct{}{}
	}
	t.adopted.Add(1)

	t.logger.Info("adopted unknown order", "tx", tx, "order_id", ev.OrderID, "state", state)

	balance := e.Balance()
	if ev.Balance != nil {
		balance = *ev.Balance
	}
	return model.ExecutionMessage{
		EventID:               uuid.New(),
		TransactionID:         tx,
		OriginalTransactionID: tx,
		OrderID:               ev.OrderID,
		SecurityID:            ev.SecurityID,
		Side:                  e.Side,
		OrderState:            state,
		Balance:               balance,
		Volume:                ev.Volume,
		Price:                 ev.Price,
		ServerTime:            wire.Time(ev.TS),
	}, e.snapshot()
}

// lookupLocked finds the order a cancel/replace targets.
func (t *Translator) lookupLocked(op string, tx model.TransactionID, orderID string) (*entry, error) {
	var e *entry
	if tx != 0 {
		e = t.orders[tx]
	}
	if e == nil && orderID != "" {
		if otx, ok := t.corr.Resolve(correlator.OrderID(orderID)); ok {
			e = t.orders[otx]
		}
	}
	ref := orderID
	if ref == "" {
		ref = fmt.Sprint(tx)
	}
	if e == nil {
		return nil, &model.StateError{Op: op, Ref: ref, Err: model.ErrOrderNotFound}
	}
	if e.State.IsTerminal() {
		return nil, &model.StateError{Op: op, Ref: ref, Err: model.ErrOrderTerminal}
	}
	return e, nil
}

// commandWriteFailed handles a cancel/replace write error. If nothing was
// sent the alias is dropped and the error returned; a midway transport
// failure leaves the outcome unknown, so the alias is kept.
func (t *Translator) commandWriteFailed(op string, tx model.TransactionID, err error) (model.TransactionID, error) {
	if model.IsTransport(err) {
		t.logger.Warn("order command outcome unknown", "op", op, "tx", tx, "error", err)
		return tx, nil
	}
	t.mu.Lock()
	delete(t.aliases, tx)
	t.mu.Unlock()
	return 0, fmt.Errorf("%s order: %w", op, err)
}

// evictLocked forgets terminal orders older than the retention window,
// together with their venue id binding and any alias still aimed at them.
func (t *Translator) evictLocked() {
	if t.retention <= 0 || len(t.retired) == 0 {
		return
	}
	cutoff := t.now().Add(-t.retention)

	n := 0
	for _, tx := range t.retired {
		e, ok := t.orders[tx]
		if ok && e.UpdatedAt.After(cutoff) {
			break
		}
		n++
		if !ok {
			continue
		}
		t.dropLocked(e)
		t.evicted.Add(1)
	}
	if n == 0 {
		return
	}
	t.retired = slices.Delete(t.retired, 0, n)

	for tx, al := range t.aliases {
		if _, ok := t.orders[al.orderTx]; !ok {
			delete(t.aliases, tx)
		}
	}
	t.logger.Debug("terminal orders evicted", "count", n)
}

// dropLocked removes an order from every index and releases its id.
func (t *Translator) dropLocked(e *entry) {
	delete(t.orders, e.TransactionID)
	if e.ClientOrderID != "" {
		delete(t.byClient, e.ClientOrderID)
	}
	t.corr.Release(e.TransactionID)
}

// persist writes or removes the stored copy of an order.
func (t *Translator) persist(r Record) {
	if t.store == nil {
		return
	}
	if r.State.IsTerminal() {
		if err := t.store.Delete(r); err != nil {
			t.logger.Warn("failed to delete stored order", "tx", r.TransactionID, "error", err)
		}
		return
	}
	t.save(r)
}

func (t *Translator) save(r Record) {
	if t.store == nil {
		return
	}
	if err := t.store.Save(r); err != nil {
		t.logger.Warn("failed to store order", "tx", r.TransactionID, "error", err)
	}
}

func validateRegister(msg model.OrderRegisterMessage) error {
	if msg.SecurityID == "" {
		return &model.ValidationError{Field: "security_id", Reason: "empty"}
	}
	if msg.Side != model.SideBuy && msg.Side != model.SideSell {
		return &model.ValidationError{Field: "side", Reason: "must be buy or sell"}
	}
	if !msg.Volume.IsPositive() {
		return &model.ValidationError{Field: "volume", Reason: "must be positive"}
	}
	if msg.OrderType == model.OrderTypeLimit && !msg.Price.IsPositive() {
		return &model.ValidationError{Field: "price", Reason: "must be positive for limit orders"}
	}
	return nil
}

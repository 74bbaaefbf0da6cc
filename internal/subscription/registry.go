package subscription

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"maps"
	"slices"
	"sync"

	"github.com/rickgao/tradelink/internal/correlator"
	"github.com/rickgao/tradelink/internal/events"
	"github.com/rickgao/tradelink/internal/model"
	"github.com/rickgao/tradelink/internal/wire"
)

// State is the lifecycle of one subscription record.
type State uint8

const (
	StatePending State = iota + 1
	StateLive
	StateUnsubscribing
	StateFailed
)

func (s State) String() string {
	switch s {
	case StatePending:
		return "pending"
	case StateLive:
		return "live"
	case StateUnsubscribing:
		return "unsubscribing"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Record is one retained subscription. Request is kept verbatim apart from
// its TransactionID, which follows the record's current transaction.
type Record struct {
	Key           model.SubscriptionKey
	TransactionID model.TransactionID
	NativeID      string
	Request       model.MarketDataMessage
	State         State
	Err           error
}

// ReplayResult summarizes one Replay pass.
type ReplayResult struct {
	Replayed  int
	Failed    int
	Finalized int
}

// Stats contains registry counters.
type Stats struct {
	Live          int
	Pending       int
	Failed        int
	Unsubscribing int
	History       int
	Replays       int64
}

// Registry owns the subscription records.
type Registry struct {
	logger *slog.Logger
	corr   *correlator.Correlator
	out    wire.Writer
	pub    events.Publisher

	mu      sync.Mutex
	byKey   map[model.SubscriptionKey]*Record
	byTx    map[model.TransactionID]*Record
	unsubTx map[model.TransactionID]*Record
	history map[model.TransactionID]model.MarketDataMessage
	replays int64
}

// NewRegistry creates an empty Registry. out is the stream writer, pub
// receives SubscriptionResponse, SubscriptionFinished and Error events.
func NewRegistry(corr *correlator.Correlator, out wire.Writer, pub events.Publisher, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}

	return &Registry{
		logger:  logger,
		corr:    corr,
		out:     out,
		pub:     pub,
		byKey:   make(map[model.SubscriptionKey]*Record),
		byTx:    make(map[model.TransactionID]*Record),
		unsubTx: make(map[model.TransactionID]*Record),
		history: make(map[model.TransactionID]model.MarketDataMessage),
	}
}

// Subscribe registers req under its key and sends it. A second call for a
// key that is already pending or live returns the existing transaction id
// and sends nothing. If the stream is down the record is kept for replay.
func (r *Registry) Subscribe(ctx context.Context, req model.MarketDataMessage) (model.TransactionID, error) {
	if err := validate(req); err != nil {
		return 0, err
	}
	if req.IsHistory() {
		return r.requestHistory(ctx, req)
	}

	key := req.Key()

	r.mu.Lock()
	if rec, ok := r.byKey[key]; ok {
		switch rec.State {
		case StatePending, StateLive:
			tx := rec.TransactionID
			r.mu.Unlock()
			r.logger.Debug("subscription already registered", "key", key, "tx", tx)
			return tx, nil
		case StateFailed:
			delete(r.byTx, rec.TransactionID)
			r.corr.Release(rec.TransactionID)
		}
	}

	tx := r.corr.NewTransactionID()
	req.TransactionID = tx
	req.IsSubscribe = true
	rec := &Record{Key: key, TransactionID: tx, Request: req, State: StatePending}
	r.byKey[key] = rec
	r.byTx[tx] = rec
	r.mu.Unlock()

	if err := r.out.Write(ctx, wire.Subscribe(tx, req)); err != nil {
		if deferrable(err) {
			r.logger.Info("subscription deferred until connected", "key", key, "tx", tx, "error", err)
			return tx, nil
		}
		r.remove(rec)
		return 0, fmt.Errorf("subscribe %s: %w", key, err)
	}

	r.logger.Debug("subscribe sent", "key", key, "tx", tx)
	return tx, nil
}

// requestHistory sends a one-shot bounded request. It is tracked only until
// the venue finishes or rejects it.
func (r *Registry) requestHistory(ctx context.Context, req model.MarketDataMessage) (model.TransactionID, error) {
	tx := r.corr.NewTransactionID()
	req.TransactionID = tx

	r.mu.Lock()
	r.history[tx] = req
	r.mu.Unlock()

	if err := r.out.Write(ctx, wire.Subscribe(tx, req)); err != nil {
		r.mu.Lock()
		delete(r.history, tx)
		r.mu.Unlock()
		return 0, fmt.Errorf("history %s: %w", req.Key(), err)
	}
	return tx, nil
}

// Unsubscribe closes the stream for key. Unknown keys return a StateError
// wrapping model.ErrNotSubscribed and perform no wire action.
func (r *Registry) Unsubscribe(ctx context.Context, key model.SubscriptionKey) (model.TransactionID, error) {
	r.mu.Lock()
	rec, ok := r.byKey[key]
	if !ok || rec.State == StateUnsubscribing {
		r.mu.Unlock()
		return 0, &model.StateError{Op: "unsubscribe", Ref: key.String(), Err: model.ErrNotSubscribed}
	}

	tx := r.corr.NewTransactionID()

	// Never acknowledged: nothing to close on the venue side.
	if rec.NativeID == "" {
		r.dropLocked(rec)
		r.mu.Unlock()
		r.logger.Debug("dropped unacknowledged subscription", "key", key, "tx", rec.TransactionID)
		r.pub.Publish(model.SubscriptionResponseMessage{OriginalTransactionID: tx})
		return tx, nil
	}

	rec.State = StateUnsubscribing
	r.unsubTx[tx] = rec
	sid := rec.NativeID
	r.mu.Unlock()

	if err := r.out.Write(ctx, wire.Unsubscribe(tx, sid)); err != nil {
		if deferrable(err) {
			// The session is gone; the next replay finalizes the record.
			r.logger.Info("unsubscribe deferred until connected", "key", key, "tx", tx, "error", err)
			return tx, nil
		}
		r.mu.Lock()
		delete(r.unsubTx, tx)
		rec.State = StateLive
		r.mu.Unlock()
		return 0, fmt.Errorf("unsubscribe %s: %w", key, err)
	}

	r.logger.Debug("unsubscribe sent", "key", key, "tx", tx, "sid", sid)
	return tx, nil
}

// ReplayAll returns a lazy, finite sequence of the retained records in
// transaction order. Each iteration takes a fresh snapshot.
func (r *Registry) ReplayAll() iter.Seq[Record] {
	return func(yield func(Record) bool) {
		for _, rec := range r.snapshot() {
			if !yield(rec) {
				return
			}
		}
	}
}

// Replay re-sends every retained request under a fresh transaction id. It
// is called once per successful (re)connect. A record that fails to send is
// marked failed and reported with an ErrorMessage; the rest continue.
// Records that were unsubscribing are finalized, since the old session and
// its venue subscriptions no longer exist. History requests are never
// resent; see AbandonInFlight.
func (r *Registry) Replay(ctx context.Context) ReplayResult {
	var res ReplayResult

	r.mu.Lock()
	r.replays++
	r.mu.Unlock()

	for snap := range r.ReplayAll() {
		if ctx.Err() != nil {
			break
		}

		r.mu.Lock()
		rec, ok := r.byKey[snap.Key]
		if !ok || rec.TransactionID != snap.TransactionID {
			r.mu.Unlock()
			continue
		}

		if rec.State == StateUnsubscribing {
			var unsub model.TransactionID
			for tx, u := range r.unsubTx {
				if u == rec {
					unsub = tx
					delete(r.unsubTx, tx)
				}
			}
			r.dropLocked(rec)
			r.mu.Unlock()
			res.Finalized++
			if unsub != 0 {
				r.pub.Publish(model.SubscriptionResponseMessage{OriginalTransactionID: unsub})
			}
			continue
		}

		old := rec.TransactionID
		tx := r.corr.NewTransactionID()
		delete(r.byTx, old)
		r.corr.Release(old)
		rec.TransactionID = tx
		rec.Request.TransactionID = tx
		rec.NativeID = ""
		rec.State = StatePending
		rec.Err = nil
		r.byTx[tx] = rec
		req := rec.Request
		r.mu.Unlock()

		if err := r.out.Write(ctx, wire.Subscribe(tx, req)); err != nil {
			r.mu.Lock()
			rec.State = StateFailed
			rec.Err = err
			r.mu.Unlock()

			res.Failed++
			r.logger.Warn("subscription replay failed",
				"key", snap.Key,
				"old_tx", old,
				"tx", tx,
				"error", err,
			)
			r.pub.Publish(model.ErrorMessage{
				OriginalTransactionID: tx,
				Error:                 fmt.Errorf("replay %s: %w", snap.Key, err),
			})
			continue
		}

		res.Replayed++
		r.logger.Debug("subscription replayed", "key", snap.Key, "old_tx", old, "tx", tx)
	}

	r.logger.Info("subscriptions replayed",
		"replayed", res.Replayed,
		"failed", res.Failed,
		"finalized", res.Finalized,
	)
	return res
}

// AbandonInFlight closes every outstanding history request with an
// ErrorMessage wrapping model.ErrSessionLost. It is called when a new
// session is about to start: the venue streams of those requests ended with
// the old one. Returns the number of requests closed.
func (r *Registry) AbandonInFlight() int {
	r.mu.Lock()
	dead := r.history
	r.history = make(map[model.TransactionID]model.MarketDataMessage)
	for tx := range dead {
		r.corr.Release(tx)
	}
	r.mu.Unlock()

	txs := slices.Sorted(maps.Keys(dead))
	for _, tx := range txs {
		req := dead[tx]
		r.logger.Warn("history request abandoned", "key", req.Key(), "tx", tx)
		r.pub.Publish(model.ErrorMessage{
			OriginalTransactionID: tx,
			Error:                 &model.TransportError{Op: "history " + req.Key().String(), Err: model.ErrSessionLost},
		})
	}
	return len(txs)
}

// HandleAck binds the venue sid to the subscription created by tx and
// emits SubscriptionResponseMessage. Returns false if tx is not a
// subscription command.
func (r *Registry) HandleAck(ctx context.Context, tx model.TransactionID, sid string) bool {
	r.mu.Lock()
	if _, ok := r.history[tx]; ok {
		if sid != "" {
			r.corr.Bind(tx, correlator.SubscriptionID(sid))
		}
		r.mu.Unlock()
		r.pub.Publish(model.SubscriptionResponseMessage{OriginalTransactionID: tx})
		return true
	}

	rec, ok := r.byTx[tx]
	if !ok {
		r.mu.Unlock()
		if sid != "" && r.isStale(tx) {
			r.closeOrphan(ctx, sid)
			return true
		}
		return false
	}

	if rec.State == StateLive && rec.NativeID == sid {
		r.mu.Unlock()
		r.logger.Debug("duplicate subscription ack", "key", rec.Key, "tx", tx)
		return true
	}

	rec.NativeID = sid
	rec.State = StateLive
	rec.Err = nil
	if sid != "" {
		r.corr.Bind(tx, correlator.SubscriptionID(sid))
	}
	key := rec.Key
	r.mu.Unlock()

	r.logger.Debug("subscription live", "key", key, "tx", tx, "sid", sid)
	r.pub.Publish(model.SubscriptionResponseMessage{OriginalTransactionID: tx})
	return true
}

// HandleUnsubscribed finalizes the record whose unsubscribe was sent under
// tx. Returns false if tx is not an unsubscribe command.
func (r *Registry) HandleUnsubscribed(tx model.TransactionID) bool {
	r.mu.Lock()
	rec, ok := r.unsubTx[tx]
	if !ok {
		r.mu.Unlock()
		return false
	}
	delete(r.unsubTx, tx)
	r.dropLocked(rec)
	r.mu.Unlock()

	r.logger.Debug("subscription closed", "key", rec.Key, "tx", tx)
	r.pub.Publish(model.SubscriptionResponseMessage{OriginalTransactionID: tx})
	return true
}

// HandleHistoryDone closes a one-shot request. Returns false if tx is not
// an outstanding history request.
func (r *Registry) HandleHistoryDone(tx model.TransactionID) bool {
	r.mu.Lock()
	_, ok := r.history[tx]
	if ok {
		delete(r.history, tx)
		r.corr.Release(tx)
	}
	r.mu.Unlock()

	if ok {
		r.pub.Publish(model.SubscriptionFinishedMessage{OriginalTransactionID: tx})
	}
	return ok
}

// HandleError applies a venue rejection of a subscription command. The
// rejected record is removed and a SubscriptionResponseMessage carrying the
// error is emitted. A rejected unsubscribe leaves the record live. Returns
// false if tx is not a subscription command.
func (r *Registry) HandleError(tx model.TransactionID, err error) bool {
	r.mu.Lock()

	if rec, ok := r.byTx[tx]; ok {
		r.dropLocked(rec)
		r.mu.Unlock()
		r.logger.Warn("subscription rejected", "key", rec.Key, "tx", tx, "error", err)
		r.pub.Publish(model.SubscriptionResponseMessage{OriginalTransactionID: tx, Error: err})
		return true
	}

	if rec, ok := r.unsubTx[tx]; ok {
		delete(r.unsubTx, tx)
		rec.State = StateLive
		r.mu.Unlock()
		r.logger.Warn("unsubscribe rejected", "key", rec.Key, "tx", tx, "error", err)
		r.pub.Publish(model.SubscriptionResponseMessage{OriginalTransactionID: tx, Error: err})
		return true
	}

	if req, ok := r.history[tx]; ok {
		delete(r.history, tx)
		r.corr.Release(tx)
		r.mu.Unlock()
		r.logger.Warn("history request rejected", "key", req.Key(), "tx", tx, "error", err)
		r.pub.Publish(model.SubscriptionResponseMessage{OriginalTransactionID: tx, Error: err})
		return true
	}

	r.mu.Unlock()
	return false
}

// ResolveSID maps a venue sid from a data frame to its transaction id.
func (r *Registry) ResolveSID(sid string) (model.TransactionID, bool) {
	return r.corr.Resolve(correlator.SubscriptionID(sid))
}

// Get returns a copy of the record for key.
func (r *Registry) Get(key model.SubscriptionKey) (Record, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.byKey[key]
	if !ok {
		return Record{}, false
	}
	return *rec, true
}

// Len returns the number of retained records.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.byKey)
}

// Reset drops every record and outstanding request.
func (r *Registry) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()

	for tx := range r.byTx {
		r.corr.Release(tx)
	}
	for tx := range r.history {
		r.corr.Release(tx)
	}
	r.byKey = make(map[model.SubscriptionKey]*Record)
	r.byTx = make(map[model.TransactionID]*Record)
	r.unsubTx = make(map[model.TransactionID]*Record)
	r.history = make(map[model.TransactionID]model.MarketDataMessage)
}

// Stats returns registry counters.
func (r *Registry) Stats() Stats {
	r.mu.Lock()
	defer r.mu.Unlock()

	s := Stats{History: len(r.history), Replays: r.replays}
	for _, rec := range r.byKey {
		switch rec.State {
		case StateLive:
			s.Live++
		case StatePending:
			s.Pending++
		case StateFailed:
			s.Failed++
		case StateUnsubscribing:
			s.Unsubscribing++
		}
	}
	return s
}

// snapshot copies the records in transaction order.
func (r *Registry) snapshot() []Record {
	r.mu.Lock()
	out := make([]Record, 0, len(r.byKey))
	for _, rec := range r.byKey {
		out = append(out, *rec)
	}
	r.mu.Unlock()

	slices.SortFunc(out, func(a, b Record) int {
		return cmp.Compare(a.TransactionID, b.TransactionID)
	})
	return out
}

// remove drops rec if it is still the record for its key.
func (r *Registry) remove(rec *Record) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.dropLocked(rec)
}

// dropLocked removes rec from every index. Must be called with mu held.
func (r *Registry) dropLocked(rec *Record) {
	if cur, ok := r.byKey[rec.Key]; ok && cur == rec {
		delete(r.byKey, rec.Key)
	}
	if cur, ok := r.byTx[rec.TransactionID]; ok && cur == rec {
		delete(r.byTx, rec.TransactionID)
	}
	r.corr.Release(rec.TransactionID)
}

// isStale reports whether tx was minted by this adapter but no longer
// belongs to a record, e.g. a subscribe superseded by replay.
func (r *Registry) isStale(tx model.TransactionID) bool {
	return tx > 0 && tx <= r.corr.LastTransactionID()
}

// closeOrphan unsubscribes a venue stream nobody owns any more.
func (r *Registry) closeOrphan(ctx context.Context, sid string) {
	tx := r.corr.NewTransactionID()
	r.logger.Info("closing orphaned venue subscription", "sid", sid, "tx", tx)
	if err := r.out.Write(ctx, wire.Unsubscribe(tx, sid)); err != nil {
		r.logger.Warn("failed to close orphaned subscription", "sid", sid, "error", err)
	}
}

func validate(req model.MarketDataMessage) error {
	if req.SecurityID == "" {
		return &model.ValidationError{Field: "security_id", Reason: "empty"}
	}
	if req.DataKind == model.DataKindUnknown {
		return &model.ValidationError{Field: "data_kind", Reason: "unknown"}
	}
	if req.Count < 0 {
		return &model.ValidationError{Field: "count", Reason: "negative"}
	}
	if !req.To.IsZero() && !req.From.IsZero() && req.To.Before(req.From) {
		return &model.ValidationError{Field: "to", Reason: "before from"}
	}
	return nil
}

// deferrable reports whether a write failure means "try again after
// reconnect" rather than a hard failure.
func deferrable(err error) bool {
	return errors.Is(err, model.ErrNotConnected) || model.IsTransport(err)
}

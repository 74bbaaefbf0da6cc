package correlator

import (
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/rickgao/tradelink/internal/model"
)

// Scope separates native id namespaces. Venues number orders and
// subscriptions independently, so "7" may be both an order and a sid.
type Scope uint8

const (
	ScopeOrder Scope = iota + 1
	ScopeSubscription
	ScopeRequest
)

func (s Scope) String() string {
	switch s {
	case ScopeOrder:
		return "order"
	case ScopeSubscription:
		return "subscription"
	case ScopeRequest:
		return "request"
	default:
		return "unknown"
	}
}

// NativeID is a venue-issued identifier.
type NativeID struct {
	Scope Scope
	Value string
}

// OrderID returns an order-scoped native id.
func OrderID(v string) NativeID { return NativeID{Scope: ScopeOrder, Value: v} }

// SubscriptionID returns a subscription-scoped native id.
func SubscriptionID(v string) NativeID { return NativeID{Scope: ScopeSubscription, Value: v} }

// RequestID returns a client-request-scoped native id, e.g. a client order uuid.
func RequestID(v string) NativeID { return NativeID{Scope: ScopeRequest, Value: v} }

// generator mints ids. A fresh one is installed on Reset, seeded from the
// last value of the previous one so ids keep increasing.
type generator struct {
	last atomic.Int64
}

func newGenerator(seed int64) *generator {
	g := &generator{}
	g.last.Store(seed)
	return g
}

// Correlator maps transaction ids to native ids and back.
// Safe for concurrent use.
type Correlator struct {
	logger *slog.Logger

	gen atomic.Pointer[generator]

	mu       sync.RWMutex
	byTx     map[model.TransactionID]NativeID
	byNative map[NativeID]model.TransactionID

	rebinds atomic.Int64
}

// New creates an empty Correlator whose first minted id is 1.
func New(logger *slog.Logger) *Correlator {
	if logger == nil {
		logger = slog.Default()
	}

	c := &Correlator{
		logger:   logger,
		byTx:     make(map[model.TransactionID]NativeID),
		byNative: make(map[NativeID]model.TransactionID),
	}
	c.gen.Store(newGenerator(0))
	return c
}

// NewTransactionID returns the next id. Wait-free.
func (c *Correlator) NewTransactionID() model.TransactionID {
	return model.TransactionID(c.gen.Load().last.Add(1))
}

// LastTransactionID returns the most recently minted id.
func (c *Correlator) LastTransactionID() model.TransactionID {
	return model.TransactionID(c.gen.Load().last.Load())
}

// Bind associates tx with native. Binding the same pair again is a no-op.
// If native is already bound to a different transaction, the old binding is
// dropped with a warning and the newer one wins. A transaction holds at most
// one native id; rebinding it releases the previous one.
func (c *Correlator) Bind(tx model.TransactionID, native NativeID) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if cur, ok := c.byNative[native]; ok {
		if cur == tx {
			return
		}
		c.logger.Warn("native id rebound to new transaction",
			"scope", native.Scope,
			"native_id", native.Value,
			"old_tx", cur,
			"new_tx", tx,
		)
		c.rebinds.Add(1)
		delete(c.byTx, cur)
	}

	if old, ok := c.byTx[tx]; ok {
		delete(c.byNative, old)
	}

	c.byTx[tx] = native
	c.byNative[native] = tx
}

// Resolve returns the transaction bound to native.
func (c *Correlator) Resolve(native NativeID) (model.TransactionID, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	tx, ok := c.byNative[native]
	return tx, ok
}

// NativeOf returns the native id bound to tx.
func (c *Correlator) NativeOf(tx model.TransactionID) (NativeID, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	n, ok := c.byTx[tx]
	return n, ok
}

// Release removes both directions of the binding for tx.
func (c *Correlator) Release(tx model.TransactionID) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if n, ok := c.byTx[tx]; ok {
		delete(c.byNative, n)
		delete(c.byTx, tx)
	}
}

// Reset drops every binding and installs a fresh generator. Ids minted
// after Reset continue past the last id minted before it.
func (c *Correlator) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.byTx = make(map[model.TransactionID]NativeID)
	c.byNative = make(map[NativeID]model.TransactionID)

	// Callers that loaded the old generator before the swap may still mint
	// from it; the gap keeps their ids clear of the new range.
	seed := c.gen.Load().last.Load() + resetGap
	c.gen.Store(newGenerator(seed))

	c.logger.Info("correlator reset", "next_tx", seed+1)
}

// resetGap bounds how many ids in-flight callers may still draw from a
// retired generator.
const resetGap = 1 << 10

// Len returns the number of live bindings.
func (c *Correlator) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.byTx)
}

// Stats returns binding counters.
func (c *Correlator) Stats() Stats {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return Stats{
		Bindings: len(c.byTx),
		Rebinds:  c.rebinds.Load(),
		LastTx:   model.TransactionID(c.gen.Load().last.Load()),
	}
}

// Stats contains correlator counters.
type Stats struct {
	Bindings int
	Rebinds  int64
	LastTx   model.TransactionID
}

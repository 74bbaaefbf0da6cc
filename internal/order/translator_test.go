package order

import (
	"context"
	"errors"
	"math/rand/v2"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/rickgao/tradelink/internal/correlator"
	"github.com/rickgao/tradelink/internal/model"
	"github.com/rickgao/tradelink/internal/wire"
)

// fakeWriter records commands and optionally fails them.
type fakeWriter struct {
	mu   sync.Mutex
	cmds []wire.Command
	err  error
}

func (w *fakeWriter) Write(_ context.Context, cmd wire.Command) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.err != nil {
		return w.err
	}
	w.cmds = append(w.cmds, cmd)
	return nil
}

func (w *fakeWriter) count(name string) int {
	w.mu.Lock()
	defer w.mu.Unlock()
	n := 0
	for _, c := range w.cmds {
		if c.Cmd == name {
			n++
		}
	}
	return n
}

// recorder collects published events.
type recorder struct {
	mu   sync.Mutex
	msgs []model.Message
}

func (r *recorder) Publish(msg model.Message) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.msgs = append(r.msgs, msg)
}

func (r *recorder) executions() []model.ExecutionMessage {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []model.ExecutionMessage
	for _, m := range r.msgs {
		if e, ok := m.(model.ExecutionMessage); ok {
			out = append(out, e)
		}
	}
	return out
}

func (r *recorder) errors() []model.ErrorMessage {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []model.ErrorMessage
	for _, m := range r.msgs {
		if e, ok := m.(model.ErrorMessage); ok {
			out = append(out, e)
		}
	}
	return out
}

// memStore is an in-memory Store.
type memStore struct {
	mu      sync.Mutex
	saved   map[string]Record
	deleted int
}

func (s *memStore) Save(r Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.saved == nil {
		s.saved = make(map[string]Record)
	}
	s.saved[strconv.FormatInt(int64(r.TransactionID), 10)] = r
	return nil
}

func (s *memStore) Delete(r Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.saved, strconv.FormatInt(int64(r.TransactionID), 10))
	s.deleted++
	return nil
}

func testTable() StatusTable {
	return StatusTable{
		Venue: "test",
		Table: map[string]model.OrderState{
			"Accepted":  model.OrderStatePending,
			"Working":   model.OrderStateActive,
			"Completed": model.OrderStateDone,
			"Cancelled": model.OrderStateDone,
			"Rejected":  model.OrderStateFailed,
			"Suspended": model.OrderStateNone,
		},
	}
}

// uuidTable adds client order id issuance to testTable.
type uuidTable struct{ StatusTable }

func (uuidTable) NewClientOrderID() string { return uuid.NewString() }

func newTestTranslator(opts ...Option) (*Translator, *fakeWriter, *recorder) {
	w := &fakeWriter{}
	rec := &recorder{}
	return NewTranslator(testTable(), correlator.New(nil), w, rec, nil, opts...), w, rec
}

func buy(vol string) model.OrderRegisterMessage {
	return model.OrderRegisterMessage{
		SecurityID: "ESZ6",
		Side:       model.SideBuy,
		OrderType:  model.OrderTypeLimit,
		Price:      decimal.RequireFromString("4500.25"),
		Volume:     decimal.RequireFromString(vol),
	}
}

func dec(s string) *decimal.Decimal {
	d := decimal.RequireFromString(s)
	return &d
}

func TestTranslator_RegisterOrder(t *testing.T) {
	tr, w, _ := newTestTranslator()

	tx, err := tr.RegisterOrder(context.Background(), buy("3"))
	if err != nil {
		t.Fatalf("RegisterOrder() error = %v", err)
	}

	rec, ok := tr.Get(tx)
	if !ok {
		t.Fatal("record not created")
	}
	if rec.State != model.OrderStatePending {
		t.Errorf("State = %v, want pending", rec.State)
	}
	if w.count(wire.CmdOrderNew) != 1 {
		t.Errorf("order_new commands = %d, want 1", w.count(wire.CmdOrderNew))
	}
}

func TestTranslator_RegisterValidation(t *testing.T) {
	tests := []struct {
		name  string
		msg   model.OrderRegisterMessage
		field string
	}{
		{"empty security", model.OrderRegisterMessage{Side: model.SideBuy, Volume: decimal.NewFromInt(1), Price: decimal.NewFromInt(1)}, "security_id"},
		{"zero volume", model.OrderRegisterMessage{SecurityID: "X", Side: model.SideBuy, Price: decimal.NewFromInt(1)}, "volume"},
		{"negative volume", model.OrderRegisterMessage{SecurityID: "X", Side: model.SideSell, Volume: decimal.NewFromInt(-1), Price: decimal.NewFromInt(1)}, "volume"},
		{"no side", model.OrderRegisterMessage{SecurityID: "X", Volume: decimal.NewFromInt(1), Price: decimal.NewFromInt(1)}, "side"},
		{"limit without price", model.OrderRegisterMessage{SecurityID: "X", Side: model.SideBuy, Volume: decimal.NewFromInt(1)}, "price"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tr, w, _ := newTestTranslator()
			_, err := tr.RegisterOrder(context.Background(), tt.msg)

			var verr *model.ValidationError
			if !errors.As(err, &verr) {
				t.Fatalf("RegisterOrder() error = %v, want ValidationError", err)
			}
			if verr.Field != tt.field {
				t.Errorf("Field = %q, want %q", verr.Field, tt.field)
			}
			if len(w.cmds) != 0 {
				t.Error("invalid order reached the wire")
			}
		})
	}
}

func TestTranslator_RegisterNotConnected(t *testing.T) {
	tr, w, _ := newTestTranslator()
	w.err = model.ErrNotConnected

	_, err := tr.RegisterOrder(context.Background(), buy("1"))
	if !errors.Is(err, model.ErrNotConnected) {
		t.Fatalf("RegisterOrder() error = %v, want ErrNotConnected", err)
	}
	if len(tr.Open()) != 0 {
		t.Error("record kept for an order that was never sent")
	}
}

func TestTranslator_Lifecycle(t *testing.T) {
	tr, _, events := newTestTranslator()
	tx, _ := tr.RegisterOrder(context.Background(), buy("3"))

	steps := []struct {
		ev        wire.OrderEvent
		wantState model.OrderState
		emitted   bool
	}{
		{wire.OrderEvent{RequestID: int64(tx), OrderID: "X1", Status: "Accepted"}, model.OrderStatePending, true},
		{wire.OrderEvent{OrderID: "X1", Status: "Accepted"}, model.OrderStatePending, false},
		{wire.OrderEvent{OrderID: "X1", Status: "Working"}, model.OrderStateActive, true},
		{wire.OrderEvent{OrderID: "X1", Status: "Working", TradeID: "T1", TradePrice: dec("4500.25"), TradeVolume: dec("1")}, model.OrderStateActive, true},
		{wire.OrderEvent{OrderID: "X1", Status: "Working", TradeID: "T1", TradePrice: dec("4500.25"), TradeVolume: dec("1")}, model.OrderStateActive, false},
		{wire.OrderEvent{OrderID: "X1", Status: "Working", TradeID: "T2", TradePrice: dec("4500"), TradeVolume: dec("2")}, model.OrderStateActive, true},
		{wire.OrderEvent{OrderID: "X1", Status: "Completed"}, model.OrderStateDone, true},
		{wire.OrderEvent{OrderID: "X1", Status: "Completed"}, model.OrderStateDone, false},
		{wire.OrderEvent{OrderID: "X1", Status: "Working", TradeID: "T3", TradeVolume: dec("1")}, model.OrderStateDone, false},
	}

	emitted := 0
	for i, s := range steps {
		tr.Changed(s.ev)
		rec, _ := tr.Get(tx)
		if rec.State != s.wantState {
			t.Errorf("step %d: State = %v, want %v", i, rec.State, s.wantState)
		}
		if s.emitted {
			emitted++
		}
		if got := len(events.executions()); got != emitted {
			t.Errorf("step %d: executions = %d, want %d", i, got, emitted)
		}
	}

	execs := events.executions()
	fills := 0
	for _, e := range execs {
		if e.HasTrade() {
			fills++
		}
		if e.OriginalTransactionID != tx {
			t.Errorf("OriginalTransactionID = %d, want %d", e.OriginalTransactionID, tx)
		}
	}
	if fills != 2 {
		t.Errorf("fills = %d, want 2", fills)
	}

	rec, _ := tr.Get(tx)
	if !rec.FilledVolume.Equal(decimal.NewFromInt(3)) {
		t.Errorf("FilledVolume = %s, want 3", rec.FilledVolume)
	}
	if last := execs[len(execs)-1]; !last.Balance.IsZero() || last.OrderID != "X1" {
		t.Errorf("final execution = %+v, want zero balance on X1", last)
	}
	if len(tr.Open()) != 0 {
		t.Error("done order still listed as open")
	}
}

func TestTranslator_PendingToFailed(t *testing.T) {
	tr, _, events := newTestTranslator()
	tx, _ := tr.RegisterOrder(context.Background(), buy("1"))

	tr.Changed(wire.OrderEvent{RequestID: int64(tx), Status: "Rejected", Reason: "insufficient funds"})

	rec, _ := tr.Get(tx)
	if rec.State != model.OrderStateFailed {
		t.Fatalf("State = %v, want failed", rec.State)
	}
	execs := events.executions()
	if len(execs) != 1 || !model.IsProtocol(execs[0].Error) {
		t.Errorf("executions = %+v, want one with protocol error", execs)
	}
}

func TestTranslator_HandleErrorFailsRegistration(t *testing.T) {
	tr, _, events := newTestTranslator()
	tx, _ := tr.RegisterOrder(context.Background(), buy("1"))

	perr := &model.ProtocolError{Code: "bad_price", Reason: "price outside band"}
	if !tr.HandleError(tx, perr) {
		t.Fatal("HandleError() = false, want true")
	}

	rec, _ := tr.Get(tx)
	if rec.State != model.OrderStateFailed {
		t.Errorf("State = %v, want failed", rec.State)
	}
	execs := events.executions()
	if len(execs) != 1 || !errors.Is(execs[0].Error, perr) {
		t.Errorf("executions = %+v", execs)
	}
	if tr.HandleError(12345, perr) {
		t.Error("HandleError() for unknown tx = true, want false")
	}
}

func TestTranslator_UnknownStatusIsNoop(t *testing.T) {
	tr, _, events := newTestTranslator()
	tx, _ := tr.RegisterOrder(context.Background(), buy("1"))
	tr.Changed(wire.OrderEvent{RequestID: int64(tx), OrderID: "X1", Status: "Working"})

	tr.Changed(wire.OrderEvent{OrderID: "X1", Status: "Expired"})
	tr.Changed(wire.OrderEvent{OrderID: "X1", Status: "Suspended"})

	rec, _ := tr.Get(tx)
	if rec.State != model.OrderStateActive {
		t.Errorf("State = %v, want active", rec.State)
	}
	if len(events.executions()) != 1 {
		t.Errorf("executions = %d, want 1", len(events.executions()))
	}
	if tr.Stats().UnknownStatuses != 1 {
		t.Errorf("UnknownStatuses = %d, want 1", tr.Stats().UnknownStatuses)
	}
}

func TestTranslator_CancelAliasesOrder(t *testing.T) {
	tr, w, events := newTestTranslator()
	ctx := context.Background()
	orderTx, _ := tr.RegisterOrder(ctx, buy("2"))
	tr.Changed(wire.OrderEvent{RequestID: int64(orderTx), OrderID: "X1", Status: "Working"})

	cancelTx, err := tr.CancelOrder(ctx, model.OrderCancelMessage{OrderTransactionID: orderTx})
	if err != nil {
		t.Fatalf("CancelOrder() error = %v", err)
	}
	if cancelTx == orderTx {
		t.Fatal("cancel reused the order transaction id")
	}
	if w.count(wire.CmdOrderCancel) != 1 {
		t.Errorf("order_cancel commands = %d, want 1", w.count(wire.CmdOrderCancel))
	}

	tr.Changed(wire.OrderEvent{RequestID: int64(cancelTx), OrderID: "X1", Status: "Cancelled"})

	rec, _ := tr.Get(orderTx)
	if rec.State != model.OrderStateDone {
		t.Errorf("State = %v, want done", rec.State)
	}
	if _, ok := tr.Get(cancelTx); ok {
		t.Error("cancel created a separate order record")
	}
	execs := events.executions()
	last := execs[len(execs)-1]
	if last.TransactionID != cancelTx || last.OriginalTransactionID != orderTx {
		t.Errorf("execution tx = %d/%d, want %d/%d", last.TransactionID, last.OriginalTransactionID, cancelTx, orderTx)
	}
}

func TestTranslator_CancelRejectedLeavesOrder(t *testing.T) {
	tr, _, events := newTestTranslator()
	ctx := context.Background()
	orderTx, _ := tr.RegisterOrder(ctx, buy("2"))
	tr.Changed(wire.OrderEvent{RequestID: int64(orderTx), OrderID: "X1", Status: "Working"})

	cancelTx, _ := tr.CancelOrder(ctx, model.OrderCancelMessage{OrderID: "X1"})
	if !tr.HandleError(cancelTx, &model.ProtocolError{Reason: "too late to cancel"}) {
		t.Fatal("HandleError() = false, want true")
	}

	rec, _ := tr.Get(orderTx)
	if rec.State != model.OrderStateActive {
		t.Errorf("State = %v, want active", rec.State)
	}
	errs := events.errors()
	if len(errs) != 1 || errs[0].OriginalTransactionID != cancelTx {
		t.Errorf("error events = %+v, want one for tx %d", errs, cancelTx)
	}

	// A rejection reported as an order status behaves the same way.
	cancel2, _ := tr.CancelOrder(ctx, model.OrderCancelMessage{OrderID: "X1"})
	tr.Changed(wire.OrderEvent{RequestID: int64(cancel2), OrderID: "X1", Status: "Rejected", Reason: "too late"})
	rec, _ = tr.Get(orderTx)
	if rec.State != model.OrderStateActive {
		t.Errorf("State after status rejection = %v, want active", rec.State)
	}
	if len(events.errors()) != 2 {
		t.Errorf("error events = %d, want 2", len(events.errors()))
	}
}

func TestTranslator_CancelStateErrors(t *testing.T) {
	tr, _, _ := newTestTranslator()
	ctx := context.Background()

	_, err := tr.CancelOrder(ctx, model.OrderCancelMessage{OrderID: "nope"})
	if !errors.Is(err, model.ErrOrderNotFound) {
		t.Errorf("CancelOrder(unknown) error = %v, want ErrOrderNotFound", err)
	}

	tx, _ := tr.RegisterOrder(ctx, buy("1"))
	tr.Changed(wire.OrderEvent{RequestID: int64(tx), OrderID: "X1", Status: "Completed"})

	_, err = tr.CancelOrder(ctx, model.OrderCancelMessage{OrderTransactionID: tx})
	if !errors.Is(err, model.ErrOrderTerminal) {
		t.Errorf("CancelOrder(done) error = %v, want ErrOrderTerminal", err)
	}
	var serr *model.StateError
	if !errors.As(err, &serr) {
		t.Errorf("CancelOrder(done) error = %T, want *model.StateError", err)
	}
}

func TestTranslator_ReplaceRebindsOrder(t *testing.T) {
	tr, w, _ := newTestTranslator()
	ctx := context.Background()
	orderTx, _ := tr.RegisterOrder(ctx, buy("2"))
	tr.Changed(wire.OrderEvent{RequestID: int64(orderTx), OrderID: "X1", Status: "Working"})

	replaceTx, err := tr.ReplaceOrder(ctx, model.OrderReplaceMessage{
		OrderTransactionID: orderTx,
		NewPrice:           decimal.RequireFromString("4499"),
		NewVolume:          decimal.RequireFromString("5"),
	})
	if err != nil {
		t.Fatalf("ReplaceOrder() error = %v", err)
	}
	if w.count(wire.CmdOrderReplace) != 1 {
		t.Errorf("order_replace commands = %d, want 1", w.count(wire.CmdOrderReplace))
	}

	tr.Changed(wire.OrderEvent{RequestID: int64(replaceTx), OrderID: "X2", Status: "Working"})

	rec, _ := tr.Get(orderTx)
	if rec.OrderID != "X2" {
		t.Errorf("OrderID = %q, want X2", rec.OrderID)
	}
	if !rec.RequestedVolume.Equal(decimal.NewFromInt(5)) || !rec.Price.Equal(decimal.NewFromInt(4499)) {
		t.Errorf("price/volume = %s/%s, want 4499/5", rec.Price, rec.RequestedVolume)
	}

	// Events on the new id reach the same record; the old id is gone.
	tr.Changed(wire.OrderEvent{OrderID: "X2", Status: "Completed"})
	if rec, _ := tr.Get(orderTx); rec.State != model.OrderStateDone {
		t.Errorf("State = %v, want done", rec.State)
	}
	before := tr.Stats().DroppedEvents
	tr.Changed(wire.OrderEvent{OrderID: "X1", Status: "Working"})
	if tr.Stats().DroppedEvents != before+1 {
		t.Error("event on the replaced id was not dropped")
	}
}

func TestTranslator_RefreshAdoptsUnknownOrders(t *testing.T) {
	tr, w, events := newTestTranslator()
	ctx := context.Background()

	statusTx, err := tr.RefreshOpenOrders(ctx)
	if err != nil {
		t.Fatalf("RefreshOpenOrders() error = %v", err)
	}
	if w.count(wire.CmdOrderStatus) != 1 {
		t.Errorf("order_status commands = %d, want 1", w.count(wire.CmdOrderStatus))
	}

	tr.Changed(wire.OrderEvent{
		RequestID:  int64(statusTx),
		OrderID:    "Z9",
		Status:     "Working",
		SecurityID: "NQZ6",
		Side:       "sell",
		Volume:     decimal.NewFromInt(4),
		Filled:     decimal.NewFromInt(1),
		Snapshot:   true,
	})
	if !tr.HandleStatusDone(statusTx) {
		t.Fatal("HandleStatusDone() = false, want true")
	}

	open := tr.Open()
	if len(open) != 1 {
		t.Fatalf("Open() = %d records, want 1", len(open))
	}
	if open[0].OrderID != "Z9" || open[0].TransactionID == statusTx {
		t.Errorf("adopted record = %+v", open[0])
	}
	execs := events.executions()
	if len(execs) != 1 || !execs[0].Balance.Equal(decimal.NewFromInt(3)) {
		t.Errorf("executions = %+v, want one with balance 3", execs)
	}
	if tr.Stats().Adopted != 1 {
		t.Errorf("Adopted = %d, want 1", tr.Stats().Adopted)
	}

	// Non-snapshot events for unknown orders are dropped, not adopted.
	tr.Changed(wire.OrderEvent{OrderID: "Q1", Status: "Working"})
	if len(tr.Open()) != 1 {
		t.Error("live event for unknown order was adopted")
	}
}

func TestTranslator_UnconfirmedOrderReconciled(t *testing.T) {
	tr, w, events := newTestTranslator()
	ctx := context.Background()

	w.err = &model.TransportError{Op: "write", Err: errors.New("connection reset")}
	lost, err := tr.RegisterOrder(ctx, buy("1"))
	if err != nil {
		t.Fatalf("RegisterOrder() error = %v, want outcome-unknown success", err)
	}
	w.err = nil
	kept, _ := tr.RegisterOrder(ctx, buy("2"))

	if rec, _ := tr.Get(lost); rec.State != model.OrderStatePending || !rec.Unconfirmed {
		t.Fatalf("record = %+v, want unconfirmed pending", rec)
	}

	statusTx, _ := tr.RefreshOpenOrders(ctx)
	tr.Changed(wire.OrderEvent{RequestID: int64(statusTx), OrderID: "K1", Status: "Working", Snapshot: true})
	tr.HandleStatusDone(statusTx)

	if rec, _ := tr.Get(lost); rec.State != model.OrderStateFailed {
		t.Errorf("lost order State = %v, want failed", rec.State)
	}
	found := false
	for _, e := range events.executions() {
		if e.OriginalTransactionID == lost && errors.Is(e.Error, ErrUnknownAtVenue) {
			found = true
		}
	}
	if !found {
		t.Error("no failure execution for the lost order")
	}
	if rec, _ := tr.Get(kept); rec.State != model.OrderStatePending {
		t.Errorf("confirmed order State = %v, want pending", rec.State)
	}
}

func TestTranslator_ClientOrderIDResolution(t *testing.T) {
	w := &fakeWriter{}
	events := &recorder{}
	tr := NewTranslator(uuidTable{testTable()}, correlator.New(nil), w, events, nil)

	tx, _ := tr.RegisterOrder(context.Background(), buy("1"))
	rec, _ := tr.Get(tx)
	if rec.ClientOrderID == "" {
		t.Fatal("ClientOrderID not assigned")
	}
	if p := w.cmds[0].Params.(wire.OrderNewParams); p.ClientOrderID != rec.ClientOrderID {
		t.Errorf("wire client_order_id = %q, want %q", p.ClientOrderID, rec.ClientOrderID)
	}

	tr.Changed(wire.OrderEvent{ClientOrderID: rec.ClientOrderID, OrderID: "EX-1", Status: "Working"})
	if rec, _ := tr.Get(tx); rec.State != model.OrderStateActive || rec.OrderID != "EX-1" {
		t.Errorf("record = %+v, want active EX-1", rec)
	}
}

func TestTranslator_StoreAndRestore(t *testing.T) {
	store := &memStore{}
	tr, _, _ := newTestTranslator(WithStore(store))
	ctx := context.Background()

	tx, _ := tr.RegisterOrder(ctx, buy("2"))
	tr.Changed(wire.OrderEvent{RequestID: int64(tx), OrderID: "X1", Status: "Working", TradeID: "T1", TradeVolume: dec("1")})

	store.mu.Lock()
	saved := make([]Record, 0, len(store.saved))
	for _, r := range store.saved {
		saved = append(saved, r)
	}
	store.mu.Unlock()
	if len(saved) != 1 {
		t.Fatalf("stored records = %d, want 1", len(saved))
	}

	// A new process restores the open order under a fresh id.
	restored, _, events := newTestTranslator()
	for i := 0; i < 5; i++ {
		restored.corr.NewTransactionID()
	}
	if n := restored.Restore(saved); n != 1 {
		t.Fatalf("Restore() = %d, want 1", n)
	}
	open := restored.Open()
	if len(open) != 1 || open[0].OrderID != "X1" || open[0].TransactionID <= 5 {
		t.Fatalf("restored = %+v", open)
	}

	// The restored fill is not re-emitted; the order keeps evolving.
	restored.Changed(wire.OrderEvent{OrderID: "X1", Status: "Working", TradeID: "T1", TradeVolume: dec("1")})
	if len(events.executions()) != 0 {
		t.Error("restored fill re-emitted")
	}
	restored.Changed(wire.OrderEvent{OrderID: "X1", Status: "Completed"})
	if len(events.executions()) != 1 {
		t.Error("completion after restore not emitted")
	}

	tr.Changed(wire.OrderEvent{OrderID: "X1", Status: "Completed"})
	if store.deleted != 1 {
		t.Errorf("store deletes = %d, want 1", store.deleted)
	}
}

func TestTranslator_MonotonicUnderRandomEvents(t *testing.T) {
	statuses := []string{"Accepted", "Working", "Completed", "Cancelled", "Rejected", "Suspended", "Bogus"}
	rng := rand.New(rand.NewPCG(1, 2))

	for run := 0; run < 200; run++ {
		tr, _, events := newTestTranslator()
		tx, _ := tr.RegisterOrder(context.Background(), buy("10"))
		tr.Changed(wire.OrderEvent{RequestID: int64(tx), OrderID: "X", Status: "Accepted"})

		var terminal model.OrderState
		emittedAtTerminal := -1
		prev := model.OrderStatePending
		for i := 0; i < 20; i++ {
			ev := wire.OrderEvent{OrderID: "X", Status: statuses[rng.IntN(len(statuses))]}
			if rng.IntN(3) == 0 {
				ev.TradeID = "T" + strconv.Itoa(rng.IntN(5))
				ev.TradeVolume = dec("1")
			}
			tr.Changed(ev)

			rec, _ := tr.Get(tx)
			if rec.State < prev {
				t.Fatalf("run %d: state went backward %v -> %v", run, prev, rec.State)
			}
			if terminal != model.OrderStateNone && rec.State != terminal {
				t.Fatalf("run %d: terminal state %v changed to %v", run, terminal, rec.State)
			}
			if terminal == model.OrderStateNone && rec.State.IsTerminal() {
				terminal = rec.State
				emittedAtTerminal = len(events.executions())
			}
			prev = rec.State
		}
		if emittedAtTerminal >= 0 && len(events.executions()) != emittedAtTerminal {
			t.Fatalf("run %d: events emitted after terminal state", run)
		}
	}
}

func TestTranslator_Reset(t *testing.T) {
	tr, _, _ := newTestTranslator()
	tx, _ := tr.RegisterOrder(context.Background(), buy("1"))
	tr.Changed(wire.OrderEvent{RequestID: int64(tx), OrderID: "X1", Status: "Working"})

	tr.Reset()

	if _, ok := tr.Get(tx); ok {
		t.Error("record survived Reset")
	}
	if _, ok := tr.corr.Resolve(correlator.OrderID("X1")); ok {
		t.Error("order id still bound after Reset")
	}
}

func TestTranslator_AbandonInFlight(t *testing.T) {
	tr, _, events := newTestTranslator()
	ctx := context.Background()
	orderTx, _ := tr.RegisterOrder(ctx, buy("2"))
	tr.Changed(wire.OrderEvent{RequestID: int64(orderTx), OrderID: "X1", Status: "Working"})

	cancelTx, _ := tr.CancelOrder(ctx, model.OrderCancelMessage{OrderTransactionID: orderTx})
	statusTx, _ := tr.RefreshOpenOrders(ctx)

	if n := tr.AbandonInFlight(); n != 2 {
		t.Fatalf("AbandonInFlight() = %d, want 2", n)
	}

	errs := events.errors()
	if len(errs) != 2 || errs[0].OriginalTransactionID != cancelTx || errs[1].OriginalTransactionID != statusTx {
		t.Fatalf("error events = %+v, want cancel %d then status %d", errs, cancelTx, statusTx)
	}
	for _, e := range errs {
		if !errors.Is(e.Error, model.ErrSessionLost) || !model.IsTransport(e.Error) {
			t.Errorf("error = %v, want transport error wrapping ErrSessionLost", e.Error)
		}
	}

	// The order survives; late answers to the dropped requests are inert.
	if rec, _ := tr.Get(orderTx); rec.State != model.OrderStateActive {
		t.Errorf("State = %v, want active", rec.State)
	}
	if tr.HandleStatusDone(statusTx) {
		t.Error("HandleStatusDone() for abandoned refresh = true, want false")
	}
	if tr.HandleError(cancelTx, errors.New("late")) {
		t.Error("HandleError() for abandoned cancel = true, want false")
	}
	if n := tr.AbandonInFlight(); n != 0 {
		t.Errorf("second AbandonInFlight() = %d, want 0", n)
	}
	if s := tr.Stats(); s.Abandoned != 2 {
		t.Errorf("Stats().Abandoned = %d, want 2", s.Abandoned)
	}
}

func TestTranslator_TerminalOrdersEvicted(t *testing.T) {
	now := time.Date(2026, 3, 2, 14, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }
	tr, _, _ := newTestTranslator(WithClock(clock), WithTerminalRetention(time.Minute))
	ctx := context.Background()

	doneTx, _ := tr.RegisterOrder(ctx, buy("1"))
	tr.Changed(wire.OrderEvent{RequestID: int64(doneTx), OrderID: "X1", Status: "Completed"})
	openTx, _ := tr.RegisterOrder(ctx, buy("1"))
	tr.Changed(wire.OrderEvent{RequestID: int64(openTx), OrderID: "X2", Status: "Working"})

	// Inside the window the terminal order stays queryable.
	now = now.Add(30 * time.Second)
	tr.RefreshOpenOrders(ctx)
	if _, ok := tr.Get(doneTx); !ok {
		t.Fatal("terminal order evicted inside the retention window")
	}

	now = now.Add(time.Minute)
	tr.RefreshOpenOrders(ctx)

	if _, ok := tr.Get(doneTx); ok {
		t.Error("terminal order kept past the retention window")
	}
	if _, ok := tr.corr.Resolve(correlator.OrderID("X1")); ok {
		t.Error("evicted order id still bound")
	}
	if rec, ok := tr.Get(openTx); !ok || rec.State != model.OrderStateActive {
		t.Errorf("open order = %+v, %v, want active", rec, ok)
	}
	s := tr.Stats()
	if s.Evicted != 1 || s.Terminal != 0 || s.Open != 1 {
		t.Errorf("Stats() = %+v, want 1 evicted, 0 terminal, 1 open", s)
	}

	// A late event for the evicted order is dropped, not adopted.
	tr.Changed(wire.OrderEvent{OrderID: "X1", Status: "Completed"})
	if _, ok := tr.corr.Resolve(correlator.OrderID("X1")); ok {
		t.Error("late event resurrected the evicted order")
	}
}

func TestTranslator_NoRetentionKeepsTerminalOrders(t *testing.T) {
	now := time.Date(2026, 3, 2, 14, 0, 0, 0, time.UTC)
	tr, _, _ := newTestTranslator(WithClock(func() time.Time { return now }), WithTerminalRetention(0))
	ctx := context.Background()

	tx, _ := tr.RegisterOrder(ctx, buy("1"))
	tr.HandleError(tx, &model.ProtocolError{Reason: "rejected"})

	now = now.Add(24 * time.Hour)
	tr.RegisterOrder(ctx, buy("1"))

	if rec, ok := tr.Get(tx); !ok || rec.State != model.OrderStateFailed {
		t.Errorf("Get() = %+v, %v, want failed record kept", rec, ok)
	}
}

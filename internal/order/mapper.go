package order

import "github.com/rickgao/tradelink/internal/model"

// BrokerStatusMapper maps one venue's order status vocabulary to canonical
// states. Map returns false for statuses it does not know; the Translator
// logs those and applies nothing. A known status mapped to OrderStateNone
// carries no transition (e.g. a suspended order) and is likewise a no-op.
type BrokerStatusMapper interface {
	Name() string
	Map(status string) (model.OrderState, bool)
}

// ClientIDIssuer is implemented by mappers whose venue requires the client
// to assign an order id (e.g. an idempotency uuid) on submission.
type ClientIDIssuer interface {
	NewClientOrderID() string
}

// StatusTable is a BrokerStatusMapper backed by a literal table.
type StatusTable struct {
	Venue string
	Table map[string]model.OrderState
}

// Name returns the venue name.
func (s StatusTable) Name() string { return s.Venue }

// Map looks status up in the table.
func (s StatusTable) Map(status string) (model.OrderState, bool) {
	st, ok := s.Table[status]
	return st, ok
}

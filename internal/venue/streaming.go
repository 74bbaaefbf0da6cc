package venue

import (
	"github.com/google/uuid"

	"github.com/rickgao/tradelink/internal/model"
	"github.com/rickgao/tradelink/internal/order"
)

// Execution report statuses of the streaming brokerage API.
const (
	StatusUnspecified   = "EXECUTION_REPORT_STATUS_UNSPECIFIED"
	StatusNew           = "EXECUTION_REPORT_STATUS_NEW"
	StatusPartiallyFill = "EXECUTION_REPORT_STATUS_PARTIALLYFILL"
	StatusFill          = "EXECUTION_REPORT_STATUS_FILL"
	StatusCancelled     = "EXECUTION_REPORT_STATUS_CANCELLED"
	StatusRejected      = "EXECUTION_REPORT_STATUS_REJECTED"
)

// Streaming maps the streaming brokerage vocabulary. Orders are submitted
// with a client-generated uuid that doubles as an idempotency key.
type Streaming struct {
	order.StatusTable
}

// NewStreaming returns the streaming brokerage mapper.
func NewStreaming() *Streaming {
	return &Streaming{StatusTable: order.StatusTable{
		Venue: NameStreaming,
		Table: map[string]model.OrderState{
			StatusUnspecified:   model.OrderStateNone,
			StatusNew:           model.OrderStateActive,
			StatusPartiallyFill: model.OrderStateActive,
			StatusFill:          model.OrderStateDone,
			StatusCancelled:     model.OrderStateDone,
			StatusRejected:      model.OrderStateFailed,
		},
	}}
}

// NewClientOrderID returns a fresh order uuid.
func (s *Streaming) NewClientOrderID() string {
	return uuid.NewString()
}

package venue

import (
	"github.com/rickgao/tradelink/internal/model"
	"github.com/rickgao/tradelink/internal/order"
)

// Order statuses of the legacy futures/equities gateway.
const (
	LegacyNone      = "None"
	LegacyUnknown   = "Unknown"
	LegacySent      = "Sent"
	LegacyHeld      = "Held"
	LegacyAccepted  = "Accepted"
	LegacyWorking   = "Working"
	LegacySuspended = "Suspended"
	LegacyCompleted = "Completed"
	LegacyCancelled = "Cancelled"
	LegacyRejected  = "Rejected"
)

// NewLegacy returns the legacy gateway mapper. The gateway assigns order ids
// itself and echoes the request id on the first status. Accepted, held and
// sent orders are still pending; suspension and the gateway's own
// none/unknown markers carry no transition.
func NewLegacy() order.StatusTable {
	return order.StatusTable{
		Venue: NameLegacy,
		Table: map[string]model.OrderState{
			LegacyNone:      model.OrderStateNone,
			LegacyUnknown:   model.OrderStateNone,
			LegacySuspended: model.OrderStateNone,
			LegacySent:      model.OrderStatePending,
			LegacyHeld:      model.OrderStatePending,
			LegacyAccepted:  model.OrderStatePending,
			LegacyWorking:   model.OrderStateActive,
			LegacyCompleted: model.OrderStateDone,
			LegacyCancelled: model.OrderStateDone,
			LegacyRejected:  model.OrderStateFailed,
		},
	}
}

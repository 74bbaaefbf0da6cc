package model

import "fmt"

// -----------------------------------------------------------------------------
// Identifiers
// -----------------------------------------------------------------------------

// TransactionID correlates an outbound command with its asynchronous responses.
type TransactionID int64

// DataKind selects a market-data stream.
type DataKind uint8

const (
	DataKindUnknown DataKind = iota
	DataKindTicks
	DataKindCandles
	DataKindQuotes
	DataKindLevel1
)

// String returns the wire name of the data kind.
func (k DataKind) String() string {
	switch k {
	case DataKindTicks:
		return "ticks"
	case DataKindCandles:
		return "candles"
	case DataKindQuotes:
		return "quotes"
	case DataKindLevel1:
		return "level1"
	default:
		return "unknown"
	}
}

// ParseDataKind converts a wire name back to a DataKind.
func ParseDataKind(s string) (DataKind, error) {
	switch s {
	case "ticks":
		return DataKindTicks, nil
	case "candles":
		return DataKindCandles, nil
	case "quotes":
		return DataKindQuotes, nil
	case "level1":
		return DataKindLevel1, nil
	}
	return DataKindUnknown, fmt.Errorf("unknown data kind %q", s)
}

// SubscriptionKey identifies one market-data stream. Param carries the
// kind-specific argument, e.g. the candle timeframe ("1m").
type SubscriptionKey struct {
	Kind       DataKind
	SecurityID string
	Param      string
}

func (k SubscriptionKey) String() string {
	if k.Param == "" {
		return fmt.Sprintf("%s:%s", k.Kind, k.SecurityID)
	}
	return fmt.Sprintf("%s:%s:%s", k.Kind, k.SecurityID, k.Param)
}

// -----------------------------------------------------------------------------
// Enums
// -----------------------------------------------------------------------------

// Side is the order direction.
type Side uint8

const (
	SideUnknown Side = iota
	SideBuy
	SideSell
)

func (s Side) String() string {
	switch s {
	case SideBuy:
		return "buy"
	case SideSell:
		return "sell"
	default:
		return "unknown"
	}
}

// OrderType is the pricing mode of an order.
type OrderType uint8

const (
	OrderTypeLimit OrderType = iota
	OrderTypeMarket
)

func (t OrderType) String() string {
	if t == OrderTypeMarket {
		return "market"
	}
	return "limit"
}

// OrderState is the canonical order lifecycle state.
//
//	Pending -> Active -> {Done, Failed}
//	Pending -> {Done, Failed}
//	Active  -> Active (partial fills)
type OrderState uint8

const (
	OrderStateNone OrderState = iota
	OrderStatePending
	OrderStateActive
	OrderStateDone
	OrderStateFailed
)

func (s OrderState) String() string {
	switch s {
	case OrderStatePending:
		return "pending"
	case OrderStateActive:
		return "active"
	case OrderStateDone:
		return "done"
	case OrderStateFailed:
		return "failed"
	default:
		return "none"
	}
}

// IsTerminal reports whether no further transitions are accepted.
func (s OrderState) IsTerminal() bool {
	return s == OrderStateDone || s == OrderStateFailed
}

// CanTransition reports whether moving from s to next is a forward step.
// Active -> Active is allowed so partial fills can be applied.
func (s OrderState) CanTransition(next OrderState) bool {
	switch s {
	case OrderStateNone:
		return next != OrderStateNone
	case OrderStatePending:
		return next == OrderStateActive || next == OrderStateDone || next == OrderStateFailed
	case OrderStateActive:
		return next == OrderStateActive || next == OrderStateDone || next == OrderStateFailed
	default:
		return false
	}
}

// ConnectionState is the adapter-wide transport state.
type ConnectionState uint8

const (
	ConnectionDisconnected ConnectionState = iota
	ConnectionConnecting
	ConnectionConnected
	ConnectionReconnecting
	ConnectionFailed
)

func (s ConnectionState) String() string {
	switch s {
	case ConnectionDisconnected:
		return "disconnected"
	case ConnectionConnecting:
		return "connecting"
	case ConnectionConnected:
		return "connected"
	case ConnectionReconnecting:
		return "reconnecting"
	case ConnectionFailed:
		return "failed"
	default:
		return "unknown"
	}
}

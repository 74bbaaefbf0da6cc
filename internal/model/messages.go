package model

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// MessageType discriminates canonical messages.
type MessageType uint8

const (
	MessageConnect MessageType = iota + 1
	MessageDisconnect
	MessageReset
	MessageConnectionState
	MessageOrderRegister
	MessageOrderCancel
	MessageOrderReplace
	MessageOrderStatus
	MessageMarketData
	MessageSecurityLookup
	MessagePortfolioLookup
	MessageSubscriptionResponse
	MessageSubscriptionFinished
	MessageExecution
	MessageError
	MessageTick
	MessageCandle
	MessageQuote
	MessageLevel1
	MessageSecurity
	MessagePortfolio
	MessageLookupFinished
)

var messageTypeNames = [...]string{
	MessageConnect:              "connect",
	MessageDisconnect:           "disconnect",
	MessageReset:                "reset",
	MessageConnectionState:      "connection_state",
	MessageOrderRegister:        "order_register",
	MessageOrderCancel:          "order_cancel",
	MessageOrderReplace:         "order_replace",
	MessageOrderStatus:          "order_status",
	MessageMarketData:           "market_data",
	MessageSecurityLookup:       "security_lookup",
	MessagePortfolioLookup:      "portfolio_lookup",
	MessageSubscriptionResponse: "subscription_response",
	MessageSubscriptionFinished: "subscription_finished",
	MessageExecution:            "execution",
	MessageError:                "error",
	MessageTick:                 "tick",
	MessageCandle:               "candle",
	MessageQuote:                "quote",
	MessageLevel1:               "level1",
	MessageSecurity:             "security",
	MessagePortfolio:            "portfolio",
	MessageLookupFinished:       "lookup_finished",
}

func (t MessageType) String() string {
	if int(t) < len(messageTypeNames) && messageTypeNames[t] != "" {
		return messageTypeNames[t]
	}
	return "unknown"
}

// Message is implemented by every canonical command and event.
type Message interface {
	Type() MessageType
}

// -----------------------------------------------------------------------------
// Session
// -----------------------------------------------------------------------------

// ConnectMessage requests a connection, or reports its outcome when emitted.
type ConnectMessage struct {
	Error error
}

// DisconnectMessage requests a disconnect, or reports one when emitted.
type DisconnectMessage struct {
	Error error
}

// ResetMessage clears all adapter-owned state.
type ResetMessage struct{}

// ConnectionStateMessage reports a Connection Manager transition.
type ConnectionStateMessage struct {
	Old     ConnectionState
	New     ConnectionState
	Attempt int
	Error   error
}

func (ConnectMessage) Type() MessageType         { return MessageConnect }
func (DisconnectMessage) Type() MessageType      { return MessageDisconnect }
func (ResetMessage) Type() MessageType           { return MessageReset }
func (ConnectionStateMessage) Type() MessageType { return MessageConnectionState }

// -----------------------------------------------------------------------------
// Order commands
// -----------------------------------------------------------------------------

// OrderRegisterMessage places a new order.
type OrderRegisterMessage struct {
	TransactionID TransactionID
	SecurityID    string
	PortfolioName string
	Side          Side
	OrderType     OrderType
	Price         decimal.Decimal
	Volume        decimal.Decimal
	Comment       string
}

// OrderCancelMessage cancels a working order. OrderTransactionID identifies
// the order locally; OrderID is the venue id when known.
type OrderCancelMessage struct {
	TransactionID      TransactionID
	OrderTransactionID TransactionID
	OrderID            string
}

// OrderReplaceMessage amends price and volume of a working order.
type OrderReplaceMessage struct {
	TransactionID      TransactionID
	OrderTransactionID TransactionID
	OrderID            string
	NewPrice           decimal.Decimal
	NewVolume          decimal.Decimal
}

// OrderStatusMessage requests a snapshot of open orders.
type OrderStatusMessage struct {
	TransactionID TransactionID
}

func (OrderRegisterMessage) Type() MessageType { return MessageOrderRegister }
func (OrderCancelMessage) Type() MessageType   { return MessageOrderCancel }
func (OrderReplaceMessage) Type() MessageType  { return MessageOrderReplace }
func (OrderStatusMessage) Type() MessageType   { return MessageOrderStatus }

// -----------------------------------------------------------------------------
// Market data and lookup commands
// -----------------------------------------------------------------------------

// MarketDataMessage subscribes or unsubscribes a stream. A non-zero To
// turns a subscribe into a one-shot history request.
type MarketDataMessage struct {
	TransactionID TransactionID
	SecurityID    string
	DataKind      DataKind
	Param         string
	IsSubscribe   bool
	From          time.Time
	To            time.Time
	Count         int64
}

// Key returns the subscription key addressed by the request.
func (m MarketDataMessage) Key() SubscriptionKey {
	return SubscriptionKey{Kind: m.DataKind, SecurityID: m.SecurityID, Param: m.Param}
}

// IsHistory reports whether the request is bounded in time.
func (m MarketDataMessage) IsHistory() bool {
	return !m.To.IsZero()
}

// SecurityLookupMessage searches instruments.
type SecurityLookupMessage struct {
	TransactionID TransactionID
	Code          string
	Board         string
}

// PortfolioLookupMessage requests account positions.
type PortfolioLookupMessage struct {
	TransactionID TransactionID
	PortfolioName string
}

func (MarketDataMessage) Type() MessageType      { return MessageMarketData }
func (SecurityLookupMessage) Type() MessageType  { return MessageSecurityLookup }
func (PortfolioLookupMessage) Type() MessageType { return MessagePortfolioLookup }

// -----------------------------------------------------------------------------
// Events
// -----------------------------------------------------------------------------

// SubscriptionResponseMessage acknowledges or rejects a subscription.
type SubscriptionResponseMessage struct {
	OriginalTransactionID TransactionID
	Error                 error
}

// SubscriptionFinishedMessage closes a one-shot history request.
type SubscriptionFinishedMessage struct {
	OriginalTransactionID TransactionID
}

// ExecutionMessage reports an order state change or a fill. EventID is
// unique per emitted event and used for idempotent persistence.
type ExecutionMessage struct {
	EventID               uuid.UUID
	TransactionID         TransactionID
	OriginalTransactionID TransactionID
	OrderID               string
	SecurityID            string
	Side                  Side
	OrderState            OrderState
	Balance               decimal.Decimal
	Volume                decimal.Decimal
	Price                 decimal.Decimal
	TradeID               string
	TradePrice            *decimal.Decimal
	TradeVolume           *decimal.Decimal
	Error                 error
	ServerTime            time.Time
}

// HasTrade reports whether the event carries a fill.
func (m ExecutionMessage) HasTrade() bool {
	return m.TradeID != ""
}

// ErrorMessage reports a failure tied to a transaction.
type ErrorMessage struct {
	OriginalTransactionID TransactionID
	Error                 error
}

func (SubscriptionResponseMessage) Type() MessageType { return MessageSubscriptionResponse }
func (SubscriptionFinishedMessage) Type() MessageType { return MessageSubscriptionFinished }
func (ExecutionMessage) Type() MessageType            { return MessageExecution }
func (ErrorMessage) Type() MessageType                { return MessageError }

// -----------------------------------------------------------------------------
// Market data events
// -----------------------------------------------------------------------------

// TickMessage is one public trade.
type TickMessage struct {
	OriginalTransactionID TransactionID
	SecurityID            string
	TradeID               string
	Price                 decimal.Decimal
	Volume                decimal.Decimal
	Side                  Side
	ServerTime            time.Time
}

// CandleMessage is one OHLCV bar.
type CandleMessage struct {
	OriginalTransactionID TransactionID
	SecurityID            string
	Timeframe             string
	OpenTime              time.Time
	Open                  decimal.Decimal
	High                  decimal.Decimal
	Low                   decimal.Decimal
	Close                 decimal.Decimal
	Volume                decimal.Decimal
	Final                 bool
}

// PriceLevel is one side entry of an order book.
type PriceLevel struct {
	Price  decimal.Decimal
	Volume decimal.Decimal
}

// QuoteMessage is an order book snapshot.
type QuoteMessage struct {
	OriginalTransactionID TransactionID
	SecurityID            string
	Bids                  []PriceLevel
	Asks                  []PriceLevel
	ServerTime            time.Time
}

// Level1Message carries best bid/ask and last price.
type Level1Message struct {
	OriginalTransactionID TransactionID
	SecurityID            string
	BestBid               decimal.Decimal
	BestAsk               decimal.Decimal
	LastPrice             decimal.Decimal
	ServerTime            time.Time
}

// SecurityMessage is one instrument returned by a lookup.
type SecurityMessage struct {
	OriginalTransactionID TransactionID
	SecurityID            string
	Code                  string
	Board                 string
	Name                  string
	PriceStep             decimal.Decimal
	LotSize               decimal.Decimal
	Currency              string
}

// PortfolioMessage is one position returned by a lookup.
type PortfolioMessage struct {
	OriginalTransactionID TransactionID
	PortfolioName         string
	SecurityID            string
	Position              decimal.Decimal
	AveragePrice          decimal.Decimal
	Currency              string
}

// LookupFinishedMessage closes a security or portfolio lookup.
type LookupFinishedMessage struct {
	OriginalTransactionID TransactionID
	Error                 error
}

func (TickMessage) Type() MessageType           { return MessageTick }
func (CandleMessage) Type() MessageType         { return MessageCandle }
func (QuoteMessage) Type() MessageType          { return MessageQuote }
func (Level1Message) Type() MessageType         { return MessageLevel1 }
func (SecurityMessage) Type() MessageType       { return MessageSecurity }
func (PortfolioMessage) Type() MessageType      { return MessagePortfolio }
func (LookupFinishedMessage) Type() MessageType { return MessageLookupFinished }

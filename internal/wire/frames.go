package wire

import (
	"github.com/goccy/go-json"
	"github.com/shopspring/decimal"
)

// Command names.
const (
	CmdAuth            = "auth"
	CmdSubscribe       = "subscribe"
	CmdUnsubscribe     = "unsubscribe"
	CmdOrderNew        = "order_new"
	CmdOrderCancel     = "order_cancel"
	CmdOrderReplace    = "order_replace"
	CmdOrderStatus     = "order_status"
	CmdSecurityLookup  = "security_lookup"
	CmdPortfolioLookup = "portfolio_lookup"
)

// Inbound frame types.
const (
	TypeAuthOK       = "auth_ok"
	TypeAuthError    = "auth_error"
	TypeSubscribed   = "subscribed"
	TypeUnsubscribed = "unsubscribed"
	TypeError        = "error"
	TypeTrade        = "trade"
	TypeCandle       = "candle"
	TypeQuote        = "quote"
	TypeLevel1       = "level1"
	TypeHistoryDone  = "history_done"
	TypeOrderUpdate  = "order_update"
	TypeSecurity     = "security"
	TypePortfolio    = "portfolio"
	TypeLookupDone   = "lookup_done"
	TypeHeartbeat    = "heartbeat"
)

// -----------------------------------------------------------------------------
// Outbound
// -----------------------------------------------------------------------------

// Command is an outbound frame.
type Command struct {
	ID     int64  `json:"id"`
	Cmd    string `json:"cmd"`
	Params any    `json:"params,omitempty"`
}

// AuthParams carries the signed handshake.
type AuthParams struct {
	KeyID     string `json:"key_id"`
	Timestamp string `json:"timestamp"`
	Signature string `json:"signature"`
}

// SubscribeParams opens a market-data stream. From/To/Count are set for
// history requests only; times are unix milliseconds.
type SubscribeParams struct {
	Channel    string `json:"channel"`
	SecurityID string `json:"security_id"`
	Param      string `json:"param,omitempty"`
	From       int64  `json:"from,omitempty"`
	To         int64  `json:"to,omitempty"`
	Count      int64  `json:"count,omitempty"`
}

// UnsubscribeParams closes streams by sid.
type UnsubscribeParams struct {
	SIDs []string `json:"sids"`
}

// OrderNewParams places an order.
type OrderNewParams struct {
	ClientOrderID string          `json:"client_order_id,omitempty"`
	SecurityID    string          `json:"security_id"`
	Portfolio     string          `json:"portfolio,omitempty"`
	Side          string          `json:"side"`
	OrderType     string          `json:"order_type"`
	Price         decimal.Decimal `json:"price"`
	Volume        decimal.Decimal `json:"volume"`
	Comment       string          `json:"comment,omitempty"`
}

// OrderCancelParams cancels an order.
type OrderCancelParams struct {
	OrderID string `json:"order_id"`
}

// OrderReplaceParams amends an order.
type OrderReplaceParams struct {
	OrderID       string          `json:"order_id"`
	ClientOrderID string          `json:"client_order_id,omitempty"`
	Price         decimal.Decimal `json:"price"`
	Volume        decimal.Decimal `json:"volume"`
}

// SecurityLookupParams searches instruments.
type SecurityLookupParams struct {
	Code  string `json:"code,omitempty"`
	Board string `json:"board,omitempty"`
}

// PortfolioLookupParams requests positions.
type PortfolioLookupParams struct {
	Portfolio string `json:"portfolio,omitempty"`
}

// -----------------------------------------------------------------------------
// Inbound
// -----------------------------------------------------------------------------

// Envelope is the common header of every inbound frame.
type Envelope struct {
	Type string          `json:"type"`
	ID   int64           `json:"id,omitempty"`
	SID  string          `json:"sid,omitempty"`
	Seq  int64           `json:"seq,omitempty"`
	Msg  json.RawMessage `json:"msg,omitempty"`
}

// ErrorBody is the payload of error and auth_error frames.
type ErrorBody struct {
	Code   string `json:"code"`
	Reason string `json:"reason"`
}

// TradeBody is a public trade.
type TradeBody struct {
	SecurityID string          `json:"security_id"`
	TradeID    string          `json:"trade_id"`
	Price      decimal.Decimal `json:"price"`
	Volume     decimal.Decimal `json:"volume"`
	Side       string          `json:"side"`
	TS         int64           `json:"ts"`
}

// CandleBody is one bar.
type CandleBody struct {
	SecurityID string          `json:"security_id"`
	Timeframe  string          `json:"timeframe"`
	OpenTS     int64           `json:"open_ts"`
	Open       decimal.Decimal `json:"open"`
	High       decimal.Decimal `json:"high"`
	Low        decimal.Decimal `json:"low"`
	Close      decimal.Decimal `json:"close"`
	Volume     decimal.Decimal `json:"volume"`
	Final      bool            `json:"final"`
}

// Level is one book entry: [price, volume].
type Level [2]decimal.Decimal

// QuoteBody is a book snapshot.
type QuoteBody struct {
	SecurityID string  `json:"security_id"`
	Bids       []Level `json:"bids"`
	Asks       []Level `json:"asks"`
	TS         int64   `json:"ts"`
}

// Level1Body is best bid/ask and last.
type Level1Body struct {
	SecurityID string          `json:"security_id"`
	Bid        decimal.Decimal `json:"bid"`
	Ask        decimal.Decimal `json:"ask"`
	Last       decimal.Decimal `json:"last"`
	TS         int64           `json:"ts"`
}

// OrderEvent is a venue order status or fill report. Status is the venue's
// own vocabulary; mapping it to a canonical state is venue-specific.
type OrderEvent struct {
	OrderID       string           `json:"order_id"`
	ClientOrderID string           `json:"client_order_id,omitempty"`
	Status        string           `json:"status"`
	SecurityID    string           `json:"security_id"`
	Side          string           `json:"side"`
	Price         decimal.Decimal  `json:"price"`
	Volume        decimal.Decimal  `json:"volume"`
	Filled        decimal.Decimal  `json:"filled"`
	Balance       *decimal.Decimal `json:"balance,omitempty"`
	TradeID       string           `json:"trade_id,omitempty"`
	TradePrice    *decimal.Decimal `json:"trade_price,omitempty"`
	TradeVolume   *decimal.Decimal `json:"trade_volume,omitempty"`
	Reason        string           `json:"reason,omitempty"`
	Snapshot      bool             `json:"snapshot,omitempty"`
	TS            int64            `json:"ts"`

	// RequestID is the envelope id, set by the decoder.
	RequestID int64 `json:"-"`
}

// SecurityBody is one lookup result.
type SecurityBody struct {
	SecurityID string          `json:"security_id"`
	Code       string          `json:"code"`
	Board      string          `json:"board"`
	Name       string          `json:"name"`
	PriceStep  decimal.Decimal `json:"price_step"`
	LotSize    decimal.Decimal `json:"lot_size"`
	Currency   string          `json:"currency"`
}

// PortfolioBody is one position.
type PortfolioBody struct {
	Portfolio    string          `json:"portfolio"`
	SecurityID   string          `json:"security_id"`
	Position     decimal.Decimal `json:"position"`
	AveragePrice decimal.Decimal `json:"average_price"`
	Currency     string          `json:"currency"`
}

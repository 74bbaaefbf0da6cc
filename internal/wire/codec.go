package wire

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/goccy/go-json"

	"github.com/rickgao/tradelink/internal/model"
)

var ErrEmptyFrame = errors.New("empty frame")

// Writer sends commands over the venue stream. Implementations serialize
// concurrent callers and return model.ErrNotConnected when no stream is up.
type Writer interface {
	Write(ctx context.Context, cmd Command) error
}

// Encode serializes an outbound command.
func Encode(cmd Command) ([]byte, error) {
	data, err := json.Marshal(cmd)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", cmd.Cmd, err)
	}
	return data, nil
}

// Decode parses the envelope of an inbound frame. The body stays raw.
func Decode(data []byte) (Envelope, error) {
	if len(data) == 0 {
		return Envelope{}, ErrEmptyFrame
	}

	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return Envelope{}, fmt.Errorf("decode envelope: %w", err)
	}
	if env.Type == "" {
		return Envelope{}, fmt.Errorf("decode envelope: missing type")
	}
	return env, nil
}

// DecodeBody parses the msg payload of env into T.
func DecodeBody[T any](env Envelope) (T, error) {
	var body T
	if len(env.Msg) == 0 {
		return body, fmt.Errorf("decode %s: missing msg", env.Type)
	}
	if err := json.Unmarshal(env.Msg, &body); err != nil {
		return body, fmt.Errorf("decode %s: %w", env.Type, err)
	}
	return body, nil
}

// DecodeOrderEvent parses an order_update frame and stamps the request id.
func DecodeOrderEvent(env Envelope) (OrderEvent, error) {
	ev, err := DecodeBody[OrderEvent](env)
	if err != nil {
		return ev, err
	}
	ev.RequestID = env.ID
	return ev, nil
}

// ProtocolError converts an error or auth_error frame into a model error.
func ProtocolError(env Envelope) error {
	body, err := DecodeBody[ErrorBody](env)
	if err != nil {
		return &model.ProtocolError{Reason: "unreadable error frame"}
	}
	return &model.ProtocolError{Code: body.Code, Reason: body.Reason}
}

// -----------------------------------------------------------------------------
// Command builders
// -----------------------------------------------------------------------------

// Subscribe builds a subscribe command for req under tx.
func Subscribe(tx model.TransactionID, req model.MarketDataMessage) Command {
	p := SubscribeParams{
		Channel:    req.DataKind.String(),
		SecurityID: req.SecurityID,
		Param:      req.Param,
		Count:      req.Count,
	}
	if !req.From.IsZero() {
		p.From = req.From.UnixMilli()
	}
	if !req.To.IsZero() {
		p.To = req.To.UnixMilli()
	}
	return Command{ID: int64(tx), Cmd: CmdSubscribe, Params: p}
}

// Unsubscribe builds an unsubscribe command for sid under tx.
func Unsubscribe(tx model.TransactionID, sid string) Command {
	return Command{ID: int64(tx), Cmd: CmdUnsubscribe, Params: UnsubscribeParams{SIDs: []string{sid}}}
}

// OrderNew builds an order_new command.
func OrderNew(tx model.TransactionID, clientOrderID string, m model.OrderRegisterMessage) Command {
	return Command{ID: int64(tx), Cmd: CmdOrderNew, Params: OrderNewParams{
		ClientOrderID: clientOrderID,
		SecurityID:    m.SecurityID,
		Portfolio:     m.PortfolioName,
		Side:          m.Side.String(),
		OrderType:     m.OrderType.String(),
		Price:         m.Price,
		Volume:        m.Volume,
		Comment:       m.Comment,
	}}
}

// OrderCancel builds an order_cancel command.
func OrderCancel(tx model.TransactionID, orderID string) Command {
	return Command{ID: int64(tx), Cmd: CmdOrderCancel, Params: OrderCancelParams{OrderID: orderID}}
}

// OrderReplace builds an order_replace command.
func OrderReplace(tx model.TransactionID, orderID, clientOrderID string, m model.OrderReplaceMessage) Command {
	return Command{ID: int64(tx), Cmd: CmdOrderReplace, Params: OrderReplaceParams{
		OrderID:       orderID,
		ClientOrderID: clientOrderID,
		Price:         m.NewPrice,
		Volume:        m.NewVolume,
	}}
}

// OrderStatus builds an open-order snapshot request.
func OrderStatus(tx model.TransactionID) Command {
	return Command{ID: int64(tx), Cmd: CmdOrderStatus}
}

// SecurityLookup builds a security_lookup command.
func SecurityLookup(tx model.TransactionID, m model.SecurityLookupMessage) Command {
	return Command{ID: int64(tx), Cmd: CmdSecurityLookup, Params: SecurityLookupParams{Code: m.Code, Board: m.Board}}
}

// PortfolioLookup builds a portfolio_lookup command.
func PortfolioLookup(tx model.TransactionID, m model.PortfolioLookupMessage) Command {
	return Command{ID: int64(tx), Cmd: CmdPortfolioLookup, Params: PortfolioLookupParams{Portfolio: m.PortfolioName}}
}

// -----------------------------------------------------------------------------
// Conversions
// -----------------------------------------------------------------------------

// Time converts a unix millisecond timestamp; zero stays zero.
func Time(ms int64) time.Time {
	if ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms).UTC()
}

// ParseSide converts a wire side.
func ParseSide(s string) model.Side {
	switch s {
	case "buy", "BUY", "Buy":
		return model.SideBuy
	case "sell", "SELL", "Sell":
		return model.SideSell
	default:
		return model.SideUnknown
	}
}

// Levels converts wire book levels.
func Levels(in []Level) []model.PriceLevel {
	out := make([]model.PriceLevel, len(in))
	for i, l := range in {
		out[i] = model.PriceLevel{Price: l[0], Volume: l[1]}
	}
	return out
}

// Message converts a lookup result tagged with the originating request.
func (b SecurityBody) Message(tx model.TransactionID) model.SecurityMessage {
	return model.SecurityMessage{
		OriginalTransactionID: tx,
		SecurityID:            b.SecurityID,
		Code:                  b.Code,
		Board:                 b.Board,
		Name:                  b.Name,
		PriceStep:             b.PriceStep,
		LotSize:               b.LotSize,
		Currency:              b.Currency,
	}
}

// Message converts a position tagged with the originating request.
func (b PortfolioBody) Message(tx model.TransactionID) model.PortfolioMessage {
	return model.PortfolioMessage{
		OriginalTransactionID: tx,
		PortfolioName:         b.Portfolio,
		SecurityID:            b.SecurityID,
		Position:              b.Position,
		AveragePrice:          b.AveragePrice,
		Currency:              b.Currency,
	}
}

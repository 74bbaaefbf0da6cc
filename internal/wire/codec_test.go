package wire

import (
	"strings"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/shopspring/decimal"

	"github.com/rickgao/tradelink/internal/model"
)

func TestEncode_Subscribe(t *testing.T) {
	req := model.MarketDataMessage{
		SecurityID:  "BTC/USD",
		DataKind:    model.DataKindCandles,
		Param:       "1m",
		IsSubscribe: true,
	}

	data, err := Encode(Subscribe(7, req))
	if err != nil {
		t.Fatalf("Encode() error = %v", err)
	}

	var got struct {
		ID     int64           `json:"id"`
		Cmd    string          `json:"cmd"`
		Params SubscribeParams `json:"params"`
	}
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}
	if got.ID != 7 {
		t.Errorf("ID = %d, want 7", got.ID)
	}
	if got.Cmd != CmdSubscribe {
		t.Errorf("Cmd = %q, want %q", got.Cmd, CmdSubscribe)
	}
	if got.Params.Channel != "candles" || got.Params.SecurityID != "BTC/USD" || got.Params.Param != "1m" {
		t.Errorf("Params = %+v", got.Params)
	}
	if strings.Contains(string(data), `"from"`) {
		t.Errorf("live subscription should omit from: %s", data)
	}
}

func TestEncode_SubscribeHistory(t *testing.T) {
	from := time.Date(2026, 1, 2, 0, 0, 0, 0, time.UTC)
	to := from.Add(time.Hour)
	req := model.MarketDataMessage{
		SecurityID: "BTC/USD",
		DataKind:   model.DataKindTicks,
		From:       from,
		To:         to,
		Count:      100,
	}

	cmd := Subscribe(3, req)
	p := cmd.Params.(SubscribeParams)
	if p.From != from.UnixMilli() || p.To != to.UnixMilli() {
		t.Errorf("From/To = %d/%d, want %d/%d", p.From, p.To, from.UnixMilli(), to.UnixMilli())
	}
	if p.Count != 100 {
		t.Errorf("Count = %d, want 100", p.Count)
	}
}

func TestDecode(t *testing.T) {
	tests := []struct {
		name    string
		data    string
		want    Envelope
		wantErr bool
	}{
		{
			name: "subscribed",
			data: `{"type":"subscribed","id":1,"sid":"17"}`,
			want: Envelope{Type: TypeSubscribed, ID: 1, SID: "17"},
		},
		{
			name: "heartbeat",
			data: `{"type":"heartbeat"}`,
			want: Envelope{Type: TypeHeartbeat},
		},
		{
			name:    "missing type",
			data:    `{"id":1}`,
			wantErr: true,
		},
		{
			name:    "garbage",
			data:    `{not json`,
			wantErr: true,
		},
		{
			name:    "empty",
			data:    ``,
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Decode([]byte(tt.data))
			if (err != nil) != tt.wantErr {
				t.Fatalf("Decode() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr {
				return
			}
			if got.Type != tt.want.Type || got.ID != tt.want.ID || got.SID != tt.want.SID {
				t.Errorf("Decode() = %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestDecodeOrderEvent(t *testing.T) {
	data := `{"type":"order_update","id":5,"msg":{"order_id":"X1","status":"Working","security_id":"ESZ6","side":"buy","price":"4500.25","volume":"3","filled":"1","trade_id":"T9","trade_price":"4500.25","trade_volume":"1","ts":1700000000000}}`

	env, err := Decode([]byte(data))
	if err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	ev, err := DecodeOrderEvent(env)
	if err != nil {
		t.Fatalf("DecodeOrderEvent() error = %v", err)
	}

	if ev.RequestID != 5 {
		t.Errorf("RequestID = %d, want 5", ev.RequestID)
	}
	if ev.OrderID != "X1" || ev.Status != "Working" {
		t.Errorf("OrderID/Status = %q/%q", ev.OrderID, ev.Status)
	}
	if !ev.Price.Equal(decimal.RequireFromString("4500.25")) {
		t.Errorf("Price = %s, want 4500.25", ev.Price)
	}
	if ev.TradePrice == nil || !ev.TradePrice.Equal(decimal.RequireFromString("4500.25")) {
		t.Errorf("TradePrice = %v, want 4500.25", ev.TradePrice)
	}
	if ev.Balance != nil {
		t.Errorf("Balance = %v, want nil", ev.Balance)
	}
}

func TestProtocolError(t *testing.T) {
	env, err := Decode([]byte(`{"type":"error","id":4,"msg":{"code":"unknown_instrument","reason":"no such symbol"}}`))
	if err != nil {
		t.Fatalf("Decode() error = %v", err)
	}

	perr := ProtocolError(env)
	if !model.IsProtocol(perr) {
		t.Fatalf("ProtocolError() = %T, want *model.ProtocolError", perr)
	}
	if !strings.Contains(perr.Error(), "no such symbol") {
		t.Errorf("Error() = %q, want reason included", perr.Error())
	}
}

func TestQuoteLevels(t *testing.T) {
	env, err := Decode([]byte(`{"type":"quote","sid":"2","msg":{"security_id":"BTC/USD","bids":[["100.5","2"]],"asks":[["101","1.25"]]}}`))
	if err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	body, err := DecodeBody[QuoteBody](env)
	if err != nil {
		t.Fatalf("DecodeBody() error = %v", err)
	}

	bids := Levels(body.Bids)
	if len(bids) != 1 || !bids[0].Price.Equal(decimal.RequireFromString("100.5")) {
		t.Errorf("bids = %+v", bids)
	}
	asks := Levels(body.Asks)
	if len(asks) != 1 || !asks[0].Volume.Equal(decimal.RequireFromString("1.25")) {
		t.Errorf("asks = %+v", asks)
	}
}

func TestParseSide(t *testing.T) {
	if ParseSide("buy") != model.SideBuy || ParseSide("SELL") != model.SideSell {
		t.Error("ParseSide() mismatched known side")
	}
	if ParseSide("hold") != model.SideUnknown {
		t.Error("ParseSide(hold) should be unknown")
	}
}

package model

import (
	"errors"
	"fmt"
	"testing"
	"time"
)

func TestOrderState_CanTransition(t *testing.T) {
	tests := []struct {
		from OrderState
		to   OrderState
		want bool
	}{
		{OrderStateNone, OrderStatePending, true},
		{OrderStatePending, OrderStateActive, true},
		{OrderStatePending, OrderStateFailed, true},
		{OrderStatePending, OrderStateDone, true},
		{OrderStatePending, OrderStatePending, false},
		{OrderStateActive, OrderStateActive, true},
		{OrderStateActive, OrderStateDone, true},
		{OrderStateActive, OrderStatePending, false},
		{OrderStateDone, OrderStateActive, false},
		{OrderStateDone, OrderStateDone, false},
		{OrderStateFailed, OrderStateActive, false},
		{OrderStateFailed, OrderStateDone, false},
	}

	for _, tt := range tests {
		t.Run(fmt.Sprintf("%s_to_%s", tt.from, tt.to), func(t *testing.T) {
			if got := tt.from.CanTransition(tt.to); got != tt.want {
				t.Errorf("CanTransition() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestOrderState_IsTerminal(t *testing.T) {
	if OrderStatePending.IsTerminal() || OrderStateActive.IsTerminal() {
		t.Error("non-terminal state reported terminal")
	}
	if !OrderStateDone.IsTerminal() || !OrderStateFailed.IsTerminal() {
		t.Error("terminal state not reported terminal")
	}
}

func TestSubscriptionKey_Equality(t *testing.T) {
	a := SubscriptionKey{Kind: DataKindCandles, SecurityID: "BTC/USD", Param: "1m"}
	b := SubscriptionKey{Kind: DataKindCandles, SecurityID: "BTC/USD", Param: "1m"}
	c := SubscriptionKey{Kind: DataKindCandles, SecurityID: "BTC/USD", Param: "5m"}

	m := map[SubscriptionKey]int{a: 1}
	if m[b] != 1 {
		t.Error("equal keys should hash the same")
	}
	if _, ok := m[c]; ok {
		t.Error("keys with different params should differ")
	}
	if got := a.String(); got != "candles:BTC/USD:1m" {
		t.Errorf("String() = %q, want %q", got, "candles:BTC/USD:1m")
	}
}

func TestParseDataKind(t *testing.T) {
	for _, k := range []DataKind{DataKindTicks, DataKindCandles, DataKindQuotes, DataKindLevel1} {
		got, err := ParseDataKind(k.String())
		if err != nil {
			t.Fatalf("ParseDataKind(%q) error = %v", k, err)
		}
		if got != k {
			t.Errorf("ParseDataKind(%q) = %v, want %v", k, got, k)
		}
	}
	if _, err := ParseDataKind("bogus"); err == nil {
		t.Error("ParseDataKind(bogus) should fail")
	}
}

func TestMarketDataMessage_IsHistory(t *testing.T) {
	live := MarketDataMessage{DataKind: DataKindTicks, SecurityID: "BTC/USD", IsSubscribe: true}
	if live.IsHistory() {
		t.Error("live subscription reported as history")
	}
	hist := live
	hist.To = time.Now()
	if !hist.IsHistory() {
		t.Error("bounded request not reported as history")
	}
}

func TestErrorTaxonomy(t *testing.T) {
	terr := fmt.Errorf("send subscribe: %w", &TransportError{Op: "write", Err: errors.New("broken pipe")})
	if !IsTransport(terr) {
		t.Error("wrapped TransportError not detected")
	}
	if IsProtocol(terr) {
		t.Error("TransportError reported as protocol error")
	}

	perr := &ProtocolError{Code: "insufficient_funds", Reason: "balance too low"}
	if !IsProtocol(perr) {
		t.Error("ProtocolError not detected")
	}

	serr := &StateError{Op: "unsubscribe", Ref: "ticks:BTC/USD", Err: ErrNotSubscribed}
	if !errors.Is(serr, ErrNotSubscribed) {
		t.Error("StateError should unwrap to ErrNotSubscribed")
	}
}

func TestMessageType_String(t *testing.T) {
	tests := []struct {
		msg  Message
		want string
	}{
		{ConnectMessage{}, "connect"},
		{MarketDataMessage{}, "market_data"},
		{ExecutionMessage{}, "execution"},
		{LookupFinishedMessage{}, "lookup_finished"},
	}
	for _, tt := range tests {
		if got := tt.msg.Type().String(); got != tt.want {
			t.Errorf("%T.Type().String() = %q, want %q", tt.msg, got, tt.want)
		}
	}
	if got := MessageType(200).String(); got != "unknown" {
		t.Errorf("MessageType(200).String() = %q, want unknown", got)
	}
}

package venue

import (
	"testing"

	"github.com/google/uuid"

	"github.com/rickgao/tradelink/internal/model"
	"github.com/rickgao/tradelink/internal/order"
)

func TestStreaming_Map(t *testing.T) {
	m := NewStreaming()

	tests := []struct {
		status    string
		want      model.OrderState
		wantKnown bool
	}{
		{StatusNew, model.OrderStateActive, true},
		{StatusPartiallyFill, model.OrderStateActive, true},
		{StatusFill, model.OrderStateDone, true},
		{StatusCancelled, model.OrderStateDone, true},
		{StatusRejected, model.OrderStateFailed, true},
		{StatusUnspecified, model.OrderStateNone, true},
		{"EXECUTION_REPORT_STATUS_FUTURE", model.OrderStateNone, false},
	}

	for _, tt := range tests {
		t.Run(tt.status, func(t *testing.T) {
			got, known := m.Map(tt.status)
			if got != tt.want || known != tt.wantKnown {
				t.Errorf("Map(%q) = %v, %v, want %v, %v", tt.status, got, known, tt.want, tt.wantKnown)
			}
		})
	}
}

func TestStreaming_IssuesClientIDs(t *testing.T) {
	var mapper order.BrokerStatusMapper = NewStreaming()
	issuer, ok := mapper.(order.ClientIDIssuer)
	if !ok {
		t.Fatal("streaming mapper should issue client order ids")
	}

	a, b := issuer.NewClientOrderID(), issuer.NewClientOrderID()
	if a == b {
		t.Error("client order ids should be unique")
	}
	if _, err := uuid.Parse(a); err != nil {
		t.Errorf("client order id %q is not a uuid: %v", a, err)
	}
}

func TestLegacy_Map(t *testing.T) {
	m := NewLegacy()

	tests := []struct {
		status    string
		want      model.OrderState
		wantKnown bool
	}{
		{LegacyAccepted, model.OrderStatePending, true},
		{LegacyHeld, model.OrderStatePending, true},
		{LegacySent, model.OrderStatePending, true},
		{LegacyWorking, model.OrderStateActive, true},
		{LegacyCompleted, model.OrderStateDone, true},
		{LegacyCancelled, model.OrderStateDone, true},
		{LegacyRejected, model.OrderStateFailed, true},
		{LegacySuspended, model.OrderStateNone, true},
		{LegacyNone, model.OrderStateNone, true},
		{LegacyUnknown, model.OrderStateNone, true},
		{"Expired", model.OrderStateNone, false},
	}

	for _, tt := range tests {
		t.Run(tt.status, func(t *testing.T) {
			got, known := m.Map(tt.status)
			if got != tt.want || known != tt.wantKnown {
				t.Errorf("Map(%q) = %v, %v, want %v, %v", tt.status, got, known, tt.want, tt.wantKnown)
			}
		})
	}

	if _, ok := any(m).(order.ClientIDIssuer); ok {
		t.Error("legacy mapper should not issue client order ids")
	}
}

func TestForName(t *testing.T) {
	for _, name := range []string{NameStreaming, NameLegacy} {
		m, err := ForName(name)
		if err != nil {
			t.Fatalf("ForName(%q) error = %v", name, err)
		}
		if m.Name() != name {
			t.Errorf("Name() = %q, want %q", m.Name(), name)
		}
	}
	if _, err := ForName("bogus"); err == nil {
		t.Error("ForName(bogus) should fail")
	}
}

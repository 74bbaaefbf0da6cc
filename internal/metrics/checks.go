package metrics

import (
	"context"

	"github.com/rickgao/tradelink/internal/model"
)

// Pinger is satisfied by *pgxpool.Pool.
type Pinger interface {
	Ping(ctx context.Context) error
}

// ConnectionCheck reports the venue session. A session being re-established
// is degraded; a closed or failed one is unhealthy.
func ConnectionCheck(src StatsSource) Check {
	return func(context.Context) CheckResult {
		s := src.Stats()
		detail := map[string]any{
			"state":       s.Connection.State.String(),
			"reconnects":  s.Connection.Reconnects,
			"live_subs":   s.Subscriptions.Live,
			"open_orders": s.Orders.Open,
		}
		if s.Connection.LastError != "" {
			detail["last_error"] = s.Connection.LastError
		}

		switch s.Connection.State {
		case model.ConnectionConnected:
			return CheckResult{Status: StatusHealthy, Detail: detail}
		case model.ConnectionConnecting, model.ConnectionReconnecting:
			return CheckResult{Status: StatusDegraded, Detail: detail}
		default:
			return CheckResult{Status: StatusUnhealthy, Detail: detail}
		}
	}
}

// PingCheck reports whether p answers a ping.
func PingCheck(p Pinger) Check {
	return func(ctx context.Context) CheckResult {
		if err := p.Ping(ctx); err != nil {
			return CheckResult{Status: StatusUnhealthy, Detail: err.Error()}
		}
		return CheckResult{Status: StatusHealthy, Detail: "connected"}
	}
}

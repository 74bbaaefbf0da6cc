// Package venue holds the per-venue BrokerStatusMapper implementations.
package venue

import (
	"fmt"

	"github.com/rickgao/tradelink/internal/order"
)

// Venue names accepted by ForName.
const (
	NameStreaming = "streaming"
	NameLegacy    = "legacy"
)

// ForName returns the mapper for a configured venue.
func ForName(name string) (order.BrokerStatusMapper, error) {
	switch name {
	case NameStreaming:
		return NewStreaming(), nil
	case NameLegacy:
		return NewLegacy(), nil
	default:
		return nil, fmt.Errorf("unknown venue %q", name)
	}
}

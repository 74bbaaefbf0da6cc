// Package model defines the canonical trading types shared by every venue adapter.
//
// Conventions:
//   - Prices and volumes: decimal.Decimal, never float64
//   - Timestamps: time.Time in UTC
//   - Transaction ids: locally minted int64, unique for the adapter lifetime
//   - Native ids: strings, meaningful only to the venue that issued them
//
// Commands flow into the adapter core; events flow out. Both implement Message.
package model

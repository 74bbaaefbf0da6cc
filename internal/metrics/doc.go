// Package metrics exposes adapter statistics to Prometheus.
//
// Key metrics:
//   - Connection state, connects and reconnect attempts
//   - Dispatcher frame counts, parse errors and orphans
//   - Subscription and order record counts by status
//   - Event bus observers, published and dropped events
//   - Execution journal inserts and conflicts
//
// The Server also answers /health with a JSON summary of registered checks.
package metrics

// Package poller implements the Order Reconciler component.
//
// The Order Reconciler:
//   - Requests an open-order status refresh on a fixed interval
//   - Optionally refreshes configured portfolios in the same cycle
//   - Skips cycles while the venue session is not connected
//   - Corrects order state missed by the stream
package poller

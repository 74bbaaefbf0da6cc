// Package connection implements the Connection Manager component.
//
// The Connection Manager:
//   - Dials the venue transport and performs the signed auth handshake
//   - Tracks the adapter-wide connection state and publishes every change
//   - Hands the live stream to the Streaming Dispatcher
//   - Replays live subscriptions and refreshes open orders on every connect
//   - Reconnects with exponential backoff after a stream failure
//   - Resets all adapter-owned state on request, from any state
package connection

// Package dispatcher implements the Streaming Dispatcher component.
//
// The Streaming Dispatcher:
//   - Owns the single read loop over the active venue stream
//   - Serializes every outbound command behind one writer
//   - Routes subscription acks and errors to the Subscription Registry
//   - Routes order events and order command errors to the Order Translator
//   - Publishes market data and lookup results directly as canonical events
//   - Reports read failures to the Connection Manager
package dispatcher

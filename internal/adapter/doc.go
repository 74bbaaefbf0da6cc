// Package adapter implements the command facade over the venue adapter core.
//
// The Adapter:
//   - Builds the correlator, dispatcher, subscription registry, order
//     translator and connection manager and wires them together
//   - Accepts canonical commands through Handle and returns the transaction
//     id the results will carry
//   - Publishes every canonical event on a bounded event bus
//   - Serves lookups over REST when a Lookup is configured, over the stream
//     otherwise
//   - Wraps each command in an OpenTelemetry span
package adapter

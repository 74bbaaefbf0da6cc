// Package subscription implements the Subscription Registry component.
//
// The Registry:
//   - Tracks live market-data subscriptions keyed by (kind, security, param)
//   - Deduplicates repeat subscribe calls for the same key
//   - Binds venue subscription ids once the venue acknowledges
//   - Replays every retained request under a fresh transaction id after reconnect
//
// A request that cannot be written because the stream is down is kept and
// sent by the next replay. History requests (bounded by To) are one-shot and
// never replayed.
package subscription

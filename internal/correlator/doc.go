// Package correlator implements the Transaction Correlator component.
//
// The Correlator:
//   - Mints process-local transaction ids (monotonic, never reused)
//   - Binds each transaction id to at most one venue-native id
//   - Resolves native ids from inbound frames back to transaction ids
//   - Keeps both directions of the mapping exact inverses of each other
package correlator

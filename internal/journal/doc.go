// Package journal implements the execution journal.
//
// The journal:
//   - Consumes ExecutionMessage events from an event bus observer
//   - Accumulates rows and flushes on batch size or interval
//   - Inserts with pgx.Batch and ON CONFLICT (event_id) DO NOTHING, so a
//     replayed event is written once
//
// Other event types are counted and skipped.
package journal

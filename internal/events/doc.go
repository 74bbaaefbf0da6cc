// Package events fans canonical messages out to observers.
//
// Each observer owns a bounded buffer. Publish never blocks: when an
// observer's buffer is full the message is dropped for that observer only
// and counted, so a slow consumer cannot stall the stream read loop.
package events

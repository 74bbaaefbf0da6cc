// Package rest implements the venue REST client used for instrument and
// position lookups.
//
// Endpoints:
//   - GET /v1/securities (paginated by cursor)
//   - GET /v1/portfolio/positions (paginated by cursor)
//
// Requests are signed with the same credentials as the stream handshake
// and retried with jittered exponential backoff on 5xx and 429.
package rest

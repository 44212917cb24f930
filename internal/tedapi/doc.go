// Package tedapi implements a client for the battery gateway's local
// device protocol (TEDAPI).
//
// The gateway exposes a single HTTPS endpoint that accepts and returns
// protobuf-framed envelopes. Each envelope carries either a configuration
// file request, a signed query, or a firmware request, and the reply carries
// a JSON document embedded at a fixed field path. This package owns the
// session handshake, the envelope codec, a per-document TTL cache, the
// cooldown governor, and the pure derivation functions that turn raw
// documents into values such as battery percentage or grid state.
//
// # Architecture
//
//	caller ──► Client.Status(ctx) ──► cache hit? ──► value
//	                 │ miss
//	                 ▼
//	        governor allows? ──► envelope ──► POST /tedapi/v1 ──► gateway
//	                 │                                  │
//	                 ▼ no                               ▼
//	         cached value / nil            decode ──► cache.Put ──► value
//
// # Documents
//
//   - config: site configuration (config.json)
//   - status: live device status
//   - components: generation-3 component signals
//   - controller: combined status and component query used for vitals
//   - firmware: gateway firmware and hardware identity
//
// # Failure Policy
//
// Read operations never return errors to callers of the document accessors.
// A failed fetch yields the last cached document (even if stale) or nil, and
// a malformed reply yields an empty document. A 429 reply from the gateway
// suspends all outbound requests for the cooldown window.
//
// # Thread Safety
//
// Client is safe for concurrent use. Concurrent misses for the same document
// share one device request.
package tedapi

// Package legacy emulates the gateway's legacy JSON API on top of the
// TEDAPI document cache.
//
// A Dispatcher owns an immutable table mapping legacy endpoint names (for
// example "/api/system_status/soe") to handlers. Read handlers either derive
// a legacy-shaped value from one or more cached documents or return a raw
// document unchanged. Write handlers accept a payload, delegate to an
// Operator, and invalidate every cached document when they produce a result.
//
// # Results
//
// Poll and Post return a Result. A nil Value means the data is currently
// unavailable (gateway unreachable, cooldown active, or the endpoint has no
// local equivalent). Structured errors (unknown endpoint, control disabled,
// bad token) are reported through Result.Err and encode as
// {"ERROR": "..."}.
//
// # Usage
//
//	d := legacy.NewDispatcher(client, legacy.Config{ControlSecret: secret})
//	res := d.Poll(ctx, "/api/meters/aggregates", legacy.Options{})
//	if res.Err != nil {
//	    // unknown endpoint
//	}
package legacy

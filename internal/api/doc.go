// Package api implements the HTTP front door of the bridge.
//
// It serves the legacy local JSON API by handing each request to the
// dispatcher, plus a handful of convenience shapes long used by dashboards
// (/aggregates, /soe, /csv, /freq, /pod, /version, /temps/pw, /alerts/pw),
// request statistics (/stats), control writes (/control/{action}) with an
// optional audit trail (/control/audit), health (/health) and Prometheus
// metrics (/metrics).
//
// # Result mapping
//
// A dispatch value is written as 200 JSON. A structured dispatch error is
// written as {"ERROR": message} with a status derived from its code. A nil
// result means the gateway produced nothing in time: the response is 504
// {"error":"timeout"} and is counted as a timeout in /stats.
//
// # Negative solar
//
// Unless api.neg_solar is set, negative solar power in /aggregates,
// /api/meters/aggregates and /csv is clamped to zero and the difference is
// added to the load, matching what dashboards expect from a solar meter.
//
// The server follows the same lifecycle as the infrastructure clients:
//
//	server, err := api.New(deps)
//	server.Start(ctx)
//	defer server.Close()
package api

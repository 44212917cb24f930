// Package exporter periodically pushes bridge telemetry to MQTT and InfluxDB.
//
// Each cycle reads the same legacy endpoints a dashboard would poll
// (aggregates, state of energy and grid status) through the dispatcher, so
// exported values always match what the HTTP API serves. MQTT state topics
// are retained; InfluxDB receives one point per meter location plus battery
// and grid points.
//
// The package also provides the handler for the MQTT refresh command, which
// drops cached gateway documents so the next cycle reads fresh data.
package exporter

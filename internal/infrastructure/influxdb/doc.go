// Package influxdb writes bridge telemetry to InfluxDB v2.
//
// It wraps the official influxdb-client-go v2 library with connection
// management, health checks and typed writers for the three series the
// exporter produces:
//
//	power,location=<site|battery|load|solar> instant_power=<W>
//	battery percentage=<0..100>
//	grid connected=<bool>
//
// # Usage
//
//	client, err := influxdb.Connect(cfg.InfluxDB)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//	client.WriteBattery(74.1, time.Now())
//
// # Error Handling
//
// Writes are non-blocking and batched; batch failures are delivered to the
// SetOnError callback. Connection and health check errors are returned
// directly.
package influxdb

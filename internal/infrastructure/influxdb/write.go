package influxdb

import (
	"strings"
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// Measurement names written by the bridge.
const (
	MeasurementPower   = "power"
	MeasurementBattery = "battery"
	MeasurementGrid    = "grid"
)

// WritePower records the instantaneous power at one meter location
// (site, battery, load, solar). Location tags are lower-cased.
func (c *Client) WritePower(location string, watts float64, ts time.Time) {
	c.WritePoint(MeasurementPower,
		map[string]string{"location": strings.ToLower(location)},
		map[string]any{"instant_power": watts},
		ts,
	)
}

// WriteBattery records the state of energy in percent.
func (c *Client) WriteBattery(percentage float64, ts time.Time) {
	c.WritePoint(MeasurementBattery, nil, map[string]any{"percentage": percentage}, ts)
}

// WriteGrid records whether the site is connected to the grid.
func (c *Client) WriteGrid(connected bool, ts time.Time) {
	c.WritePoint(MeasurementGrid, nil, map[string]any{"connected": connected}, ts)
}

// WritePoint queues a point with explicit tags, fields and timestamp.
// Points written while disconnected are dropped.
func (c *Client) WritePoint(measurement string, tags map[string]string, fields map[string]any, ts time.Time) {
	if !c.IsConnected() {
		return
	}
	c.writeAPI.WritePoint(write.NewPoint(measurement, tags, fields, ts))
}

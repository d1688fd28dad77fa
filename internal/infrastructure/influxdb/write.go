package influxdb

import (
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// Measurement is the measurement every parameter point is written to.
const Measurement = "odin_parameters"

// WriteParameters records one point for an adapter. Fields are keyed by
// parameter path; values must be numbers, booleans or strings.
func (c *Client) WriteParameters(adapterName string, fields map[string]any, ts time.Time) {
	if len(fields) == 0 {
		return
	}
	c.WritePoint(Measurement, map[string]string{"adapter": adapterName}, fields, ts)
}

// WritePoint writes a point with arbitrary tags and fields.
func (c *Client) WritePoint(measurement string, tags map[string]string, fields map[string]any, ts time.Time) {
	if !c.IsConnected() {
		return
	}
	if ts.IsZero() {
		ts = time.Now()
	}
	c.writer.WritePoint(write.NewPoint(measurement, tags, fields, ts))
}

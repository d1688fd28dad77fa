// Package influxdb records parameter telemetry in InfluxDB v2.
//
// It wraps influxdb-client-go with connection checks, non-blocking batched
// writes and an asynchronous error callback.
//
//	client, err := influxdb.Connect(cfg.InfluxDB)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	client.WriteParameters("detector", map[string]any{"exposure": 2.5}, time.Now())
//
// Writes are batched according to batch_size and flush_interval; a client
// that is not connected drops points silently.
package influxdb

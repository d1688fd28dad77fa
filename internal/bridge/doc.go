// Package bridge exposes the adapter registry over MQTT.
//
// Snapshots are published retained to {prefix}/state/{adapter} after every
// periodic update and every write. Messages on
// {prefix}/command/{adapter}/{path...} are decoded as JSON and applied as a
// PUT through the same Dispatcher the HTTP API uses; the outcome is
// published to {prefix}/response/{adapter}.
package bridge

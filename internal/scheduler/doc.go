// Package scheduler runs the background update loops of loaded adapters.
//
// Updates go through adapter.Handle, so a tick never interleaves with a
// request to the same adapter. After each successful tick the rendered
// snapshot is handed to the registered hooks (WebSocket hub, MQTT bridge,
// InfluxDB recorder).
//
//	sched := scheduler.New(registry)
//	sched.OnUpdate(hub.PublishUpdate)
//	sched.Start(ctx)
//	defer sched.Stop()
package scheduler

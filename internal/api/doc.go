// Package api implements the HTTP and WebSocket surface of odin-control.
//
// This package provides:
//   - The adapter route /api/{version}/{adapter}/{path...}, dispatched
//     through adapter.Dispatcher with a per-request timeout
//   - A read-only discovery view under /api/{version}/adapters
//   - JSON and YAML bodies selected by Accept and Content-Type
//   - A WebSocket hub broadcasting adapter updates and writes
//   - Prometheus metrics on /metrics and a /health summary
//   - Middleware for request IDs, logging, recovery, CORS and body limits
//
// # Status mapping
//
// Errors from the parameter tree and the adapter layer map to HTTP status
// in classify. Every error body has the same shape:
//
//	{"status": 404, "code": "PathNotFound", "message": "..."}
//
// A request whose adapter has not answered within the dispatch timeout
// gets 504. The adapter keeps the lock until its operation completes, and
// a write still takes effect. A client that disconnects early does not
// cancel the operation either.
//
// # Writes to branches
//
// A PUT to a branch applies every valid child and answers 200 with the
// applied and failed parameters listed. A PUT to a single leaf either
// succeeds or fails as a whole with the tree error's status.
package api

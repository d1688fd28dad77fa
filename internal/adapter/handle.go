package adapter

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"
)

// Handle is a registered adapter together with its exclusion lock.
//
// Every call that touches the adapter goes through the Handle and holds
// its mutex for the duration, so requests and periodic updates against one
// adapter are totally ordered while different adapters proceed in
// parallel. A caller arriving while the adapter is busy waits its turn.
type Handle struct {
	name     string
	kind     string
	adapter  Adapter
	info     Info
	interval time.Duration
	logger   Logger

	mu sync.Mutex
}

// Name returns the registered name.
func (h *Handle) Name() string { return h.name }

// Kind returns the factory kind the adapter was built from.
func (h *Handle) Kind() string { return h.kind }

// Info returns the adapter's static description.
func (h *Handle) Info() Info { return h.info }

// Interval returns the configured periodic update interval.
func (h *Handle) Interval() time.Duration { return h.interval }

// Adapter returns the wrapped adapter. Callers must not invoke it
// directly while the server is running.
func (h *Handle) Adapter() Adapter { return h.adapter }

// Updates reports whether the scheduler should tick this adapter.
func (h *Handle) Updates() bool {
	_, ok := h.adapter.(Updater)
	return ok && h.interval > 0
}

// Dispatch runs req against the adapter under its lock.
func (h *Handle) Dispatch(ctx context.Context, req Request) (resp Response, err error) {
	if !h.info.Allows(req.Method) {
		return Response{}, fmt.Errorf("%w: %s on %s", ErrMethodNotAllowed, req.Method, h.name)
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	defer h.recoverInto(&err, "dispatch")

	return h.adapter.Dispatch(ctx, req)
}

// Update runs one periodic update and returns a snapshot of the whole
// tree taken under the same lock. Adapters without an Updater return a
// nil snapshot.
func (h *Handle) Update(ctx context.Context) (snapshot any, err error) {
	u, ok := h.adapter.(Updater)
	if !ok {
		return nil, nil
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	defer h.recoverInto(&err, "periodic update")

	if err := u.PeriodicUpdate(ctx); err != nil {
		return nil, err
	}
	return h.snapshotLocked(ctx)
}

// Snapshot renders the adapter's whole tree.
func (h *Handle) Snapshot(ctx context.Context) (snapshot any, err error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	defer h.recoverInto(&err, "snapshot")

	return h.snapshotLocked(ctx)
}

func (h *Handle) snapshotLocked(ctx context.Context) (any, error) {
	resp, err := h.adapter.Dispatch(ctx, Request{Method: http.MethodGet, Source: "internal"})
	if err != nil {
		return nil, err
	}
	return resp.Data, nil
}

func (h *Handle) link(l Linker, peers []*Handle) (err error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	defer h.recoverInto(&err, "link")

	l.Link(peers)
	return nil
}

// Cleanup runs the adapter's Cleanup hook, if any.
func (h *Handle) Cleanup(ctx context.Context) (err error) {
	c, ok := h.adapter.(Cleaner)
	if !ok {
		return nil
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	defer h.recoverInto(&err, "cleanup")

	return c.Cleanup(ctx)
}

// recoverInto converts a panic in an adapter hook into ErrPanic.
func (h *Handle) recoverInto(err *error, op string) {
	if r := recover(); r != nil {
		h.logger.Error("adapter panic recovered",
			"adapter", h.name,
			"operation", op,
			"panic", r,
		)
		*err = fmt.Errorf("%w: %s %s: %v", ErrPanic, h.name, op, r)
	}
}

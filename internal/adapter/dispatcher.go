package adapter

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"
)

// WriteEvent describes a completed PUT or POST, whether or not its caller
// was still waiting for it.
type WriteEvent struct {
	Adapter  string
	Request  Request
	Response Response
	Err      error
	Elapsed  time.Duration
}

// WriteHook is called after every write dispatched through a Dispatcher.
// Hooks run on the operation's goroutine after the adapter lock is
// released and the caller has been answered.
type WriteHook func(ctx context.Context, ev WriteEvent)

// Dispatcher resolves adapter names and runs requests with a bounded wait.
//
// The operation runs on its own goroutine with a context that ignores the
// caller's cancellation: once accepted it always completes, even if the
// client disconnects or the wait times out.
type Dispatcher struct {
	registry *Registry
	timeout  time.Duration

	hooksMu sync.RWMutex
	hooks   []WriteHook

	logger Logger
}

// NewDispatcher creates a dispatcher over reg. A timeout of zero waits
// indefinitely.
func NewDispatcher(reg *Registry, timeout time.Duration) *Dispatcher {
	return &Dispatcher{
		registry: reg,
		timeout:  timeout,
		logger:   noopLogger{},
	}
}

// SetLogger sets the logger.
func (d *Dispatcher) SetLogger(logger Logger) {
	d.logger = logger
}

// Registry returns the registry requests are resolved against.
func (d *Dispatcher) Registry() *Registry {
	return d.registry
}

// Timeout returns the configured wait bound.
func (d *Dispatcher) Timeout() time.Duration {
	return d.timeout
}

// OnWrite adds a hook run after every write.
func (d *Dispatcher) OnWrite(hook WriteHook) {
	d.hooksMu.Lock()
	d.hooks = append(d.hooks, hook)
	d.hooksMu.Unlock()
}

type dispatchResult struct {
	resp Response
	err  error
}

// Dispatch sends req to the adapter registered as name.
//
// It returns ErrAdapterNotFound for an unknown name, ErrTimeout when the
// adapter does not answer in time, and ctx.Err() when the caller gives up
// first. In the last two cases the operation carries on in the background.
func (d *Dispatcher) Dispatch(ctx context.Context, name string, req Request) (Response, error) {
	h, err := d.registry.Lookup(name)
	if err != nil {
		return Response{}, err
	}

	done := make(chan dispatchResult, 1)
	opCtx := context.WithoutCancel(ctx)
	start := time.Now()

	go func() {
		resp, err := h.Dispatch(opCtx, req)
		done <- dispatchResult{resp: resp, err: err}

		if isWrite(req.Method) {
			d.notify(opCtx, WriteEvent{
				Adapter:  name,
				Request:  req,
				Response: resp,
				Err:      err,
				Elapsed:  time.Since(start),
			})
		}
	}()

	var expired <-chan time.Time
	if d.timeout > 0 {
		timer := time.NewTimer(d.timeout)
		defer timer.Stop()
		expired = timer.C
	}

	select {
	case r := <-done:
		return r.resp, r.err
	case <-expired:
		d.logger.Warn("dispatch timed out, operation continues in background",
			"adapter", name,
			"method", req.Method,
			"path", req.Path.String(),
			"timeout", d.timeout,
			"request_id", req.RequestID,
		)
		return Response{}, fmt.Errorf("%w: %s did not answer within %s", ErrTimeout, name, d.timeout)
	case <-ctx.Done():
		return Response{}, ctx.Err()
	}
}

func (d *Dispatcher) notify(ctx context.Context, ev WriteEvent) {
	d.hooksMu.RLock()
	hooks := d.hooks
	d.hooksMu.RUnlock()

	for _, hook := range hooks {
		hook(ctx, ev)
	}
}

func isWrite(method string) bool {
	return method == http.MethodPut || method == http.MethodPost
}

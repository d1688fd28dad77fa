package adapter

import (
	"context"
	"net/http"
	"slices"

	"github.com/odin-detector/odin-control/internal/paramtree"
)

// Logger defines the logging interface used by adapters and the registry.
// This allows different logging implementations to be used.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// noopLogger is a logger that does nothing.
type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Adapter is a named unit of control exposing one parameter tree.
//
// Implementations are never called concurrently: the registry's Handle
// serialises Dispatch, PeriodicUpdate and Cleanup for each adapter.
type Adapter interface {
	// Initialize performs one-time setup. An error excludes the adapter
	// from the registry; the rest of the server continues.
	Initialize(ctx context.Context, opts Options) error

	// Dispatch handles one request. Tree errors are returned as errors
	// and mapped to a status by the caller.
	Dispatch(ctx context.Context, req Request) (Response, error)

	// Info describes the adapter for discovery.
	Info() Info
}

// Updater is implemented by adapters that refresh their tree on a timer.
type Updater interface {
	PeriodicUpdate(ctx context.Context) error
}

// Cleaner is implemented by adapters that release resources at shutdown.
type Cleaner interface {
	Cleanup(ctx context.Context) error
}

// Linker is implemented by adapters that call other adapters. After the
// registry is sealed, Build calls Link once with every other loaded
// adapter that is not itself a Linker, in registration order.
//
// A call through a peer Handle takes the peer's lock while the caller's
// own lock is held. Peers never include Linkers, so those calls never nest
// and two adapters can never wait on each other's locks.
type Linker interface {
	Link(peers []*Handle)
}

// Info is the static description of an adapter.
type Info struct {
	Version     string
	Description string

	// Methods lists the HTTP methods the adapter accepts. Empty means
	// DefaultMethods.
	Methods []string
}

// DefaultMethods is the method set used when Info.Methods is empty.
var DefaultMethods = []string{http.MethodGet, http.MethodPut, http.MethodPost, http.MethodDelete}

// Allows reports whether method is in the declared set.
func (i Info) Allows(method string) bool {
	methods := i.Methods
	if len(methods) == 0 {
		methods = DefaultMethods
	}
	return slices.Contains(methods, method)
}

// Request is one operation against an adapter.
type Request struct {
	Method string
	Path   paramtree.Path
	Body   any

	// WithMetadata asks for leaves rendered with type and metadata.
	WithMetadata bool

	// RequestID correlates logs and audit entries.
	RequestID string

	// Source names the transport the request arrived on ("http", "mqtt").
	Source string
}

// Response is the result of a successful Dispatch.
type Response struct {
	Status int
	Data   any
}

// OK wraps data in a 200 response.
func OK(data any) Response {
	return Response{Status: http.StatusOK, Data: data}
}

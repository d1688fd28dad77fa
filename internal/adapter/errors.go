package adapter

import "errors"

// Domain-specific errors for adapter and registry operations.
var (
	// ErrAdapterNotFound is returned when no adapter is registered under a name.
	ErrAdapterNotFound = errors.New("adapter: not found")

	// ErrDuplicateAdapter is returned when a name is registered twice.
	// The first registration is kept.
	ErrDuplicateAdapter = errors.New("adapter: duplicate name")

	// ErrReservedName is returned when registering under a name the API
	// uses for itself.
	ErrReservedName = errors.New("adapter: reserved name")

	// ErrRegistrySealed is returned when registering after startup.
	ErrRegistrySealed = errors.New("adapter: registry is sealed")

	// ErrUnknownKind is returned when no factory exists for a configured kind.
	ErrUnknownKind = errors.New("adapter: unknown kind")

	// ErrUnsupported is returned for operations an adapter does not implement,
	// such as DELETE on a schema-fixed tree.
	ErrUnsupported = errors.New("adapter: operation not supported")

	// ErrMethodNotAllowed is returned when a request uses a method outside
	// the adapter's declared set.
	ErrMethodNotAllowed = errors.New("adapter: method not allowed")

	// ErrInvalidOption is returned when a configuration option has the
	// wrong type or an unusable value.
	ErrInvalidOption = errors.New("adapter: invalid option")

	// ErrTimeout is returned by Dispatcher when an adapter does not answer
	// in time. The operation is not cancelled.
	ErrTimeout = errors.New("adapter: dispatch timed out")

	// ErrPanic is returned when an adapter hook panics. The panic is
	// contained to the one call.
	ErrPanic = errors.New("adapter: panic in adapter")
)

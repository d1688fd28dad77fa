package adapter

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// ReservedName is the path segment the API uses for discovery. No adapter
// may be registered under it.
const ReservedName = "adapters"

// Descriptor is the discovery view of one registered adapter.
type Descriptor struct {
	Name           string   `json:"name" yaml:"name"`
	Kind           string   `json:"kind" yaml:"kind"`
	Version        string   `json:"version" yaml:"version"`
	Description    string   `json:"description" yaml:"description"`
	Methods        []string `json:"methods" yaml:"methods"`
	UpdateInterval string   `json:"update_interval,omitempty" yaml:"update_interval,omitempty"`
}

// Registry maps adapter names to handles in registration order.
//
// It is mutated only while the server starts. Seal freezes it; lookups
// after that need no coordination with writers beyond the read lock.
type Registry struct {
	mu     sync.RWMutex
	order  []*Handle
	byName map[string]*Handle
	sealed bool
	logger Logger
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		byName: make(map[string]*Handle),
		logger: noopLogger{},
	}
}

// SetLogger sets the logger for the registry and the handles it creates.
func (r *Registry) SetLogger(logger Logger) {
	r.logger = logger
}

// Register adds an initialised adapter under name.
//
// Returns ErrDuplicateAdapter if the name is taken (the existing adapter is
// kept), ErrReservedName for the discovery name, and ErrRegistrySealed
// after Seal.
func (r *Registry) Register(name, kind string, a Adapter, interval time.Duration) (*Handle, error) {
	if name == "" {
		return nil, fmt.Errorf("%w: empty name", ErrInvalidOption)
	}
	if name == ReservedName {
		return nil, fmt.Errorf("%w: %q", ErrReservedName, name)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.sealed {
		return nil, fmt.Errorf("%w: cannot register %q", ErrRegistrySealed, name)
	}
	if _, exists := r.byName[name]; exists {
		return nil, fmt.Errorf("%w: %q", ErrDuplicateAdapter, name)
	}

	h := &Handle{
		name:     name,
		kind:     kind,
		adapter:  a,
		info:     a.Info(),
		interval: interval,
		logger:   r.logger,
	}
	r.order = append(r.order, h)
	r.byName[name] = h

	r.logger.Info("adapter registered", "adapter", name, "kind", kind)
	return h, nil
}

// Has reports whether name is registered.
func (r *Registry) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.byName[name]
	return ok
}

// Seal prevents further registration.
func (r *Registry) Seal() {
	r.mu.Lock()
	r.sealed = true
	r.mu.Unlock()
}

// Sealed reports whether Seal has been called.
func (r *Registry) Sealed() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.sealed
}

// Lookup returns the handle registered under name.
func (r *Registry) Lookup(name string) (*Handle, error) {
	r.mu.RLock()
	h, ok := r.byName[name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrAdapterNotFound, name)
	}
	return h, nil
}

// Handles returns all handles in registration order.
func (r *Registry) Handles() []*Handle {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]*Handle(nil), r.order...)
}

// Len returns the number of registered adapters.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.order)
}

// List describes every adapter in registration order.
func (r *Registry) List() []Descriptor {
	handles := r.Handles()
	out := make([]Descriptor, 0, len(handles))
	for _, h := range handles {
		d := Descriptor{
			Name:        h.name,
			Kind:        h.kind,
			Version:     h.info.Version,
			Description: h.info.Description,
			Methods:     h.info.Methods,
		}
		if len(d.Methods) == 0 {
			d.Methods = DefaultMethods
		}
		if h.Updates() {
			d.UpdateInterval = h.interval.String()
		}
		out = append(out, d)
	}
	return out
}

// Cleanup runs every adapter's cleanup hook in reverse registration order.
// Errors are logged and do not stop the remaining adapters.
func (r *Registry) Cleanup(ctx context.Context) {
	handles := r.Handles()
	for i := len(handles) - 1; i >= 0; i-- {
		h := handles[i]
		if err := h.Cleanup(ctx); err != nil {
			r.logger.Error("adapter cleanup failed", "adapter", h.name, "error", err)
			continue
		}
		r.logger.Debug("adapter cleaned up", "adapter", h.name)
	}
}

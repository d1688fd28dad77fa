package adapter

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"
)

// Factory creates an uninitialised adapter of one kind.
type Factory func() Adapter

var (
	kindsMu sync.RWMutex
	kinds   = make(map[string]Factory)
)

// RegisterKind makes an adapter kind available to Build. It is meant to be
// called from an adapter package's init function and panics on a duplicate
// kind or nil factory.
func RegisterKind(kind string, f Factory) {
	kindsMu.Lock()
	defer kindsMu.Unlock()

	if f == nil {
		panic("adapter: nil factory for kind " + kind)
	}
	if _, dup := kinds[kind]; dup {
		panic("adapter: kind registered twice: " + kind)
	}
	kinds[kind] = f
}

// Kinds returns the registered kind names, sorted.
func Kinds() []string {
	kindsMu.RLock()
	defer kindsMu.RUnlock()

	out := make([]string, 0, len(kinds))
	for k := range kinds {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func lookupKind(kind string) (Factory, bool) {
	kindsMu.RLock()
	defer kindsMu.RUnlock()
	f, ok := kinds[kind]
	return f, ok
}

// Spec configures one adapter instance.
type Spec struct {
	Name           string
	Kind           string
	UpdateInterval time.Duration
	Options        map[string]any
}

// BuildOptions tunes Build.
type BuildOptions struct {
	// Logger receives registry events. Nil discards them.
	Logger Logger

	// Scope returns the logger handed to the named adapter. Nil hands
	// every adapter Logger.
	Scope func(name string) Logger

	// Deps is handed to every adapter's Initialize.
	Deps Dependencies
}

// Build creates, initialises and registers the adapters in specs, in
// order, and seals the resulting registry.
//
// An adapter whose kind is unknown, whose name is already taken, or whose
// Initialize fails is left out and its error collected; the others are
// still registered. The returned registry is never nil.
func Build(ctx context.Context, specs []Spec, opts BuildOptions) (*Registry, []error) {
	logger := opts.Logger
	if logger == nil {
		logger = noopLogger{}
	}

	reg := NewRegistry()
	reg.SetLogger(logger)

	var errs []error
	for _, spec := range specs {
		if err := buildOne(ctx, reg, spec, opts, logger); err != nil {
			logger.Error("adapter not loaded", "adapter", spec.Name, "kind", spec.Kind, "error", err)
			errs = append(errs, err)
		}
	}

	reg.Seal()
	link(reg, logger)
	logger.Info("adapters loaded", "loaded", reg.Len(), "failed", len(errs))
	return reg, errs
}

// link hands each Linker its peers: every other adapter that does not
// link itself.
func link(reg *Registry, logger Logger) {
	handles := reg.Handles()
	for _, h := range handles {
		l, ok := h.adapter.(Linker)
		if !ok {
			continue
		}
		peers := make([]*Handle, 0, len(handles)-1)
		for _, p := range handles {
			if _, linker := p.adapter.(Linker); !linker {
				peers = append(peers, p)
			}
		}
		if err := h.link(l, peers); err != nil {
			logger.Error("adapter link failed", "adapter", h.name, "error", err)
			continue
		}
		logger.Debug("adapter linked", "adapter", h.name, "peers", len(peers))
	}
}

func buildOne(ctx context.Context, reg *Registry, spec Spec, opts BuildOptions, logger Logger) (err error) {
	if spec.Name == ReservedName {
		return fmt.Errorf("%w: %q", ErrReservedName, spec.Name)
	}
	factory, ok := lookupKind(spec.Kind)
	if !ok {
		return fmt.Errorf("%w: %q for adapter %q", ErrUnknownKind, spec.Kind, spec.Name)
	}
	// Checked before Initialize so a duplicate never acquires resources.
	if reg.Has(spec.Name) {
		return fmt.Errorf("%w: %q", ErrDuplicateAdapter, spec.Name)
	}

	adapterLogger := logger
	if opts.Scope != nil {
		adapterLogger = opts.Scope(spec.Name)
	}

	a := factory()
	if err := initialize(ctx, a, Options{Name: spec.Name, Values: spec.Options, Logger: adapterLogger, Deps: opts.Deps}); err != nil {
		return fmt.Errorf("initialising adapter %q: %w", spec.Name, err)
	}

	if _, err := reg.Register(spec.Name, spec.Kind, a, spec.UpdateInterval); err != nil {
		// Release whatever Initialize acquired.
		if c, ok := a.(Cleaner); ok {
			err = errors.Join(err, c.Cleanup(ctx))
		}
		return err
	}
	return nil
}

func initialize(ctx context.Context, a Adapter, opts Options) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: initialize: %v", ErrPanic, r)
		}
	}()
	return a.Initialize(ctx, opts)
}

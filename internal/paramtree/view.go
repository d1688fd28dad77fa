package paramtree

import (
	"fmt"
	"sync"
)

// Source renders a subtree by path. *Tree implements it.
type Source interface {
	Get(path Path) (any, error)
}

// View is a read-only composition of named sources. The first path
// segment selects a source and the rest of the path is passed to it, so
// each source keeps its own locking and ownership.
type View struct {
	mu      sync.RWMutex
	names   []string
	sources map[string]Source
}

// NewView creates an empty view.
func NewView() *View {
	return &View{sources: make(map[string]Source)}
}

// Mount adds src under name. Mounting an existing name replaces the source
// but keeps its position.
func (v *View) Mount(name string, src Source) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if _, exists := v.sources[name]; !exists {
		v.names = append(v.names, name)
	}
	v.sources[name] = src
}

// Names returns the mounted names in mount order.
func (v *View) Names() []string {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return append([]string(nil), v.names...)
}

// Get renders path across the composed sources. The empty path renders
// every source; a wildcard first segment fans out like Tree.Get.
func (v *View) Get(path Path) (any, error) {
	v.mu.RLock()
	names := append([]string(nil), v.names...)
	sources := make(map[string]Source, len(v.sources))
	for k, s := range v.sources {
		sources[k] = s
	}
	v.mu.RUnlock()

	if len(path) == 0 || path[0] == Wildcard {
		rest := Path(nil)
		if len(path) > 0 {
			rest = path[1:]
		}
		out := make(Object, 0, len(names))
		for _, name := range names {
			r, err := sources[name].Get(rest)
			if err != nil {
				return nil, fmt.Errorf("%s: %w", name, err)
			}
			out = append(out, Pair{Key: name, Value: r})
		}
		return out, nil
	}

	src, ok := sources[path[0]]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrPathNotFound, path[0])
	}
	r, err := src.Get(path[1:])
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path[0], err)
	}
	if len(path) == 1 {
		return Object{{Key: path[0], Value: r}}, nil
	}
	return r, nil
}

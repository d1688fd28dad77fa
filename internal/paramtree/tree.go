package paramtree

import (
	"fmt"
	"sort"
	"strconv"
	"sync"
)

// Tree owns a root node and serialises access to it.
//
// Thread Safety:
//   - Get and Describe take a read lock; Set and Update take the write lock.
//   - Accessor functions run while the lock is held and must not call
//     back into the same Tree.
type Tree struct {
	mu   sync.RWMutex
	root Node
}

// New creates a tree rooted at root. It panics if root is nil.
func New(root Node) *Tree {
	if root == nil {
		panic("paramtree: nil root")
	}
	return &Tree{root: root}
}

// SetReport lists per-parameter outcomes of a Set. Paths are relative to
// the tree root.
type SetReport struct {
	Applied []string
	Failed  []Failure

	// Leaf is true when the path addressed a single leaf.
	Leaf bool
}

// Failure is a single parameter that could not be written.
type Failure struct {
	Path string
	Err  error
}

// OK reports whether every attempted write succeeded.
func (r *SetReport) OK() bool {
	return len(r.Failed) == 0
}

// Get renders the node at path as a deep copy.
//
// The empty path renders the whole tree. A path with a wildcard returns the
// fan-out result directly; any other path is wrapped as {last: value} so
// the response mirrors the shape a client would PUT back.
func (t *Tree) Get(path Path) (any, error) {
	return t.get(path, false)
}

// Describe is Get with each leaf rendered together with its type,
// writability and metadata.
func (t *Tree) Describe(path Path) (any, error) {
	return t.get(path, true)
}

func (t *Tree) get(path Path, withMeta bool) (any, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	result, err := getNode(t.root, path, nil, withMeta)
	if err != nil {
		return nil, err
	}
	if len(path) == 0 || path.HasWildcard() {
		return result, nil
	}
	return Object{{Key: path.Last(), Value: result}}, nil
}

func getNode(n Node, path, prefix Path, withMeta bool) (any, error) {
	if len(path) == 0 {
		return render(n, withMeta)
	}
	seg, rest := path[0], path[1:]
	here := prefix.Join(seg)

	switch node := n.(type) {
	case *Leaf:
		return nil, fmt.Errorf("%w: %s", ErrNotTraversable, here)

	case *Mapping:
		if seg == Wildcard {
			out := make(Object, 0, len(node.keys))
			for _, k := range node.keys {
				v, err := getNode(node.children[k], rest, prefix.Join(k), withMeta)
				if err != nil {
					return nil, err
				}
				out = append(out, Pair{Key: k, Value: v})
			}
			return out, nil
		}
		child, ok := node.children[seg]
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrPathNotFound, here)
		}
		return getNode(child, rest, here, withMeta)

	case *Sequence:
		if seg == Wildcard {
			out := make([]any, len(node.items))
			for i, item := range node.items {
				v, err := getNode(item, rest, prefix.Join(strconv.Itoa(i)), withMeta)
				if err != nil {
					return nil, err
				}
				out[i] = v
			}
			return out, nil
		}
		item, err := node.index(seg, here)
		if err != nil {
			return nil, err
		}
		return getNode(item, rest, here, withMeta)

	default:
		return nil, fmt.Errorf("paramtree: unknown node type %T", n)
	}
}

func (s *Sequence) index(seg string, here Path) (Node, error) {
	i, err := strconv.Atoi(seg)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %q is not a sequence index", ErrPathNotFound, here, seg)
	}
	item, ok := s.Item(i)
	if !ok {
		return nil, fmt.Errorf("%w: %s: index %d out of range", ErrPathNotFound, here, i)
	}
	return item, nil
}

// render produces the snapshot of n.
func render(n Node, withMeta bool) (any, error) {
	switch node := n.(type) {
	case *Leaf:
		v, err := node.Current()
		if err != nil {
			return nil, err
		}
		if !withMeta {
			return wireValue(v), nil
		}
		return describeLeaf(node, v), nil

	case *Mapping:
		out := make(Object, 0, len(node.keys))
		for _, k := range node.keys {
			v, err := render(node.children[k], withMeta)
			if err != nil {
				return nil, fmt.Errorf("%s: %w", k, err)
			}
			out = append(out, Pair{Key: k, Value: v})
		}
		return out, nil

	case *Sequence:
		out := make([]any, len(node.items))
		for i, item := range node.items {
			v, err := render(item, withMeta)
			if err != nil {
				return nil, fmt.Errorf("%d: %w", i, err)
			}
			out[i] = v
		}
		return out, nil

	default:
		return nil, fmt.Errorf("paramtree: unknown node type %T", n)
	}
}

func describeLeaf(l *Leaf, v any) Object {
	out := Object{
		{Key: "value", Value: wireValue(v)},
		{Key: "type", Value: l.typ.String()},
		{Key: "writeable", Value: l.writable},
	}
	m := l.meta
	if m.Name != "" {
		out = append(out, Pair{Key: "name", Value: m.Name})
	}
	if m.Description != "" {
		out = append(out, Pair{Key: "description", Value: m.Description})
	}
	if m.Units != "" {
		out = append(out, Pair{Key: "units", Value: m.Units})
	}
	if m.DisplayPrecision != nil {
		out = append(out, Pair{Key: "display_precision", Value: *m.DisplayPrecision})
	}
	if m.Min != nil {
		out = append(out, Pair{Key: "min", Value: *m.Min})
	}
	if m.Max != nil {
		out = append(out, Pair{Key: "max", Value: *m.Max})
	}
	if len(m.AllowedValues) > 0 {
		allowed := make([]any, len(m.AllowedValues))
		for i, av := range m.AllowedValues {
			allowed[i] = wireValue(av)
		}
		out = append(out, Pair{Key: "allowed_values", Value: allowed})
	}
	return out
}

// Set writes value at path.
//
// A leaf target is written atomically and any failure is returned as the
// error. A branch target takes a mapping (or, for sequences, a list)
// payload and is written best-effort: every key is attempted and the
// outcome of each is recorded in the report. The returned error is then
// only set when the payload shape itself does not fit the branch.
//
// When the payload is a single-key mapping whose key equals the last path
// segment, it is unwrapped first, so the body of a GET can be PUT back
// unchanged.
func (t *Tree) Set(path Path, value any) (*SetReport, error) {
	return t.set(path, value, false)
}

// Update is Set for the tree's owner: it also writes read-only leaves.
// Adapters use it to publish state they sampled themselves.
func (t *Tree) Update(path Path, value any) (*SetReport, error) {
	return t.set(path, value, true)
}

func (t *Tree) set(path Path, value any, force bool) (*SetReport, error) {
	if path.HasWildcard() {
		return nil, fmt.Errorf("%w: %s: wildcard not allowed in a write", ErrPathNotFound, path)
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	target, err := resolve(t.root, path)
	if err != nil {
		return nil, err
	}
	value = unwrap(target, path, value)

	report := &SetReport{}
	if leaf, ok := target.(*Leaf); ok {
		if err := writeLeaf(leaf, value, force); err != nil {
			return nil, fmt.Errorf("%s: %w", displayPath(path), err)
		}
		report.Applied = append(report.Applied, path.String())
		report.Leaf = true
		return report, nil
	}
	if err := setBranch(target, path, value, force, report); err != nil {
		return nil, err
	}
	return report, nil
}

func writeLeaf(l *Leaf, v any, force bool) error {
	if force {
		return l.store(v)
	}
	return l.write(v)
}

// resolve walks path without wildcards and returns the addressed node.
func resolve(n Node, path Path) (Node, error) {
	var here Path
	for _, seg := range path {
		here = here.Join(seg)
		switch node := n.(type) {
		case *Leaf:
			return nil, fmt.Errorf("%w: %s", ErrNotTraversable, here)
		case *Mapping:
			child, ok := node.children[seg]
			if !ok {
				return nil, fmt.Errorf("%w: %s", ErrPathNotFound, here)
			}
			n = child
		case *Sequence:
			item, err := node.index(seg, here)
			if err != nil {
				return nil, err
			}
			n = item
		default:
			return nil, fmt.Errorf("paramtree: unknown node type %T", n)
		}
	}
	return n, nil
}

// unwrap strips a {last: value} envelope. A branch that has its own child
// named like itself keeps the payload as-is.
func unwrap(target Node, path Path, value any) any {
	if len(path) == 0 {
		return value
	}
	m, ok := value.(map[string]any)
	if !ok || len(m) != 1 {
		return value
	}
	inner, ok := m[path.Last()]
	if !ok {
		return value
	}
	if mapping, isMapping := target.(*Mapping); isMapping {
		if _, shadowed := mapping.children[path.Last()]; shadowed {
			return value
		}
	}
	return inner
}

func setBranch(n Node, prefix Path, value any, force bool, report *SetReport) error {
	switch node := n.(type) {
	case *Mapping:
		payload, ok := value.(map[string]any)
		if !ok {
			return fmt.Errorf("%w: %s: expected an object, got %s", ErrTypeMismatch, displayPath(prefix), describe(value))
		}
		for _, k := range node.keys {
			v, present := payload[k]
			if !present {
				continue
			}
			setChild(node.children[k], prefix.Join(k), v, force, report)
		}
		var unknown []string
		for k := range payload {
			if _, known := node.children[k]; !known {
				unknown = append(unknown, k)
			}
		}
		sort.Strings(unknown)
		for _, k := range unknown {
			p := prefix.Join(k)
			report.Failed = append(report.Failed, Failure{
				Path: p.String(),
				Err:  fmt.Errorf("%w: %s", ErrPathNotFound, p),
			})
		}
		return nil

	case *Sequence:
		switch payload := value.(type) {
		case []any:
			for i, v := range payload {
				p := prefix.Join(strconv.Itoa(i))
				item, ok := node.Item(i)
				if !ok {
					report.Failed = append(report.Failed, Failure{
						Path: p.String(),
						Err:  fmt.Errorf("%w: %s: index %d out of range", ErrPathNotFound, p, i),
					})
					continue
				}
				setChild(item, p, v, force, report)
			}
			return nil
		case map[string]any:
			keys := make([]string, 0, len(payload))
			for k := range payload {
				keys = append(keys, k)
			}
			sort.Strings(keys)
			for _, k := range keys {
				p := prefix.Join(k)
				item, err := node.index(k, p)
				if err != nil {
					report.Failed = append(report.Failed, Failure{Path: p.String(), Err: err})
					continue
				}
				setChild(item, p, payload[k], force, report)
			}
			return nil
		default:
			return fmt.Errorf("%w: %s: expected a list, got %s", ErrTypeMismatch, displayPath(prefix), describe(value))
		}

	default:
		return fmt.Errorf("paramtree: unknown branch type %T", n)
	}
}

func setChild(n Node, p Path, v any, force bool, report *SetReport) {
	if leaf, ok := n.(*Leaf); ok {
		if err := writeLeaf(leaf, v, force); err != nil {
			report.Failed = append(report.Failed, Failure{Path: p.String(), Err: err})
			return
		}
		report.Applied = append(report.Applied, p.String())
		return
	}
	if err := setBranch(n, p, v, force, report); err != nil {
		report.Failed = append(report.Failed, Failure{Path: p.String(), Err: err})
	}
}

func displayPath(p Path) string {
	if len(p) == 0 {
		return "/"
	}
	return p.String()
}

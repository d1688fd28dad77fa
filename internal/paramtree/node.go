package paramtree

import (
	"fmt"
	"strings"
)

// Node is one of *Leaf, *Mapping or *Sequence. The set is closed:
// traversal code switches over exactly these three.
type Node interface {
	node()
}

// Getter returns the current value of a bound leaf.
type Getter func() (any, error)

// Setter applies a new value to a bound leaf. The value passed in has
// already been converted to the leaf's canonical type and validated.
// A returned error surfaces as ErrAdapterRejected.
type Setter func(v any) error

// Metadata describes a leaf for clients that request it.
// All fields are optional.
type Metadata struct {
	Name             string
	Description      string
	Units            string
	DisplayPrecision *int
	Min              *float64
	Max              *float64
	AllowedValues    []any
}

// Leaf is a terminal node holding, or proxying, one typed value.
// Its type and writability never change after construction.
type Leaf struct {
	typ      Type
	writable bool
	value    any
	getter   Getter
	setter   Setter
	meta     Metadata
	readOnly bool
}

// LeafOption customises a leaf at construction time.
type LeafOption func(*Leaf)

// ReadOnly marks a stored-value leaf as not writable by clients.
// Bound leaves are read-only whenever they have no setter.
func ReadOnly() LeafOption {
	return func(l *Leaf) { l.readOnly = true }
}

// WithName sets the display name.
func WithName(name string) LeafOption {
	return func(l *Leaf) { l.meta.Name = name }
}

// WithDescription sets the description.
func WithDescription(desc string) LeafOption {
	return func(l *Leaf) { l.meta.Description = desc }
}

// WithUnits sets the units string.
func WithUnits(units string) LeafOption {
	return func(l *Leaf) { l.meta.Units = units }
}

// WithDisplayPrecision sets the number of decimal places for display.
func WithDisplayPrecision(n int) LeafOption {
	return func(l *Leaf) { l.meta.DisplayPrecision = &n }
}

// WithMin sets an inclusive lower bound for numeric leaves.
func WithMin(v float64) LeafOption {
	return func(l *Leaf) { l.meta.Min = &v }
}

// WithMax sets an inclusive upper bound for numeric leaves.
func WithMax(v float64) LeafOption {
	return func(l *Leaf) { l.meta.Max = &v }
}

// WithAllowedValues restricts writes to the listed values.
func WithAllowedValues(values ...any) LeafOption {
	return func(l *Leaf) { l.meta.AllowedValues = values }
}

// Value creates a leaf that stores its own value.
//
// It panics if t is invalid or initial does not conform to t. Schemas are
// built once at startup, so a bad schema is a programming error.
func Value(t Type, initial any, opts ...LeafOption) *Leaf {
	l := newLeaf(t, opts)
	v, err := coerce(t, initial)
	if err != nil {
		panic(fmt.Sprintf("paramtree: initial value for %s leaf: %v", t, err))
	}
	l.value = v
	l.writable = !l.readOnly
	return l
}

// Bound creates a leaf whose reads and writes are forwarded to accessor
// functions. A nil setter makes the leaf read-only.
//
// It panics if t is invalid or get is nil.
func Bound(t Type, get Getter, set Setter, opts ...LeafOption) *Leaf {
	if get == nil {
		panic("paramtree: bound leaf requires a getter")
	}
	l := newLeaf(t, opts)
	l.getter = get
	l.setter = set
	l.writable = set != nil && !l.readOnly
	return l
}

func newLeaf(t Type, opts []LeafOption) *Leaf {
	if !t.valid() {
		panic(fmt.Sprintf("paramtree: invalid leaf type %v", t))
	}
	l := &Leaf{typ: t}
	for _, opt := range opts {
		opt(l)
	}
	for i, av := range l.meta.AllowedValues {
		v, err := coerceScalar(t.Kind, av)
		if err != nil {
			panic(fmt.Sprintf("paramtree: allowed value %d for %s leaf: %v", i, t, err))
		}
		l.meta.AllowedValues[i] = v
	}
	return l
}

// Type returns the declared type.
func (l *Leaf) Type() Type { return l.typ }

// Writable reports whether clients may write this leaf.
func (l *Leaf) Writable() bool { return l.writable }

// Metadata returns a copy of the leaf metadata.
func (l *Leaf) Metadata() Metadata {
	m := l.meta
	m.AllowedValues = append([]any(nil), l.meta.AllowedValues...)
	return m
}

// Current returns a copy of the canonical value, calling the getter for
// bound leaves.
func (l *Leaf) Current() (any, error) {
	if l.getter == nil {
		return cloneValue(l.value), nil
	}
	raw, err := l.getter()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrAdapterRejected, err)
	}
	v, err := coerce(l.typ, raw)
	if err != nil {
		return nil, fmt.Errorf("%w: getter returned %s: %w", ErrAdapterRejected, describe(raw), err)
	}
	return v, nil
}

// write converts, validates and stores v. Nothing is modified unless every
// check passes.
func (l *Leaf) write(v any) error {
	if !l.writable {
		return ErrNotWritable
	}
	return l.store(v)
}

// store bypasses the writable flag. It is used by adapters updating
// read-only state from their own code.
func (l *Leaf) store(v any) error {
	canonical, err := coerce(l.typ, v)
	if err != nil {
		return err
	}
	if err := l.validate(canonical); err != nil {
		return err
	}
	if l.setter != nil {
		if err := l.setter(cloneValue(canonical)); err != nil {
			return fmt.Errorf("%w: %w", ErrAdapterRejected, err)
		}
		return nil
	}
	if l.getter != nil {
		return ErrNotWritable
	}
	l.value = canonical
	return nil
}

// validate applies min/max and allowed values to every element.
func (l *Leaf) validate(v any) error {
	for _, e := range elements(v) {
		if len(l.meta.AllowedValues) > 0 && !l.allowed(e) {
			return fmt.Errorf("%w: %v is not one of the allowed values %v", ErrInvalidValue, wireValue(e), l.meta.AllowedValues)
		}
		f, numeric := toFloat64(e)
		if !numeric {
			continue
		}
		if l.meta.Min != nil && f < *l.meta.Min {
			return fmt.Errorf("%w: %v is below minimum %v", ErrInvalidValue, e, *l.meta.Min)
		}
		if l.meta.Max != nil && f > *l.meta.Max {
			return fmt.Errorf("%w: %v is above maximum %v", ErrInvalidValue, e, *l.meta.Max)
		}
	}
	return nil
}

func (l *Leaf) allowed(e any) bool {
	for _, av := range l.meta.AllowedValues {
		if equalValues(av, e) {
			return true
		}
	}
	return false
}

func (*Leaf) node() {}

// Entry is one key/child pair of a Mapping.
type Entry struct {
	Key  string
	Node Node
}

// Field is shorthand for constructing an Entry.
func Field(key string, n Node) Entry {
	return Entry{Key: key, Node: n}
}

// Mapping is an ordered set of named children. Keys keep their
// construction order in every rendering.
type Mapping struct {
	keys     []string
	children map[string]Node
}

// Map creates a mapping branch.
//
// It panics on an empty, duplicate or reserved key ("*" or containing "/"),
// or on a nil child.
func Map(entries ...Entry) *Mapping {
	m := &Mapping{
		keys:     make([]string, 0, len(entries)),
		children: make(map[string]Node, len(entries)),
	}
	for _, e := range entries {
		switch {
		case e.Key == "" || e.Key == Wildcard || strings.Contains(e.Key, "/"):
			panic(fmt.Sprintf("paramtree: invalid mapping key %q", e.Key))
		case e.Node == nil:
			panic(fmt.Sprintf("paramtree: nil child for key %q", e.Key))
		}
		if _, dup := m.children[e.Key]; dup {
			panic(fmt.Sprintf("paramtree: duplicate mapping key %q", e.Key))
		}
		m.keys = append(m.keys, e.Key)
		m.children[e.Key] = e.Node
	}
	return m
}

// Keys returns the child keys in order.
func (m *Mapping) Keys() []string {
	return append([]string(nil), m.keys...)
}

// Child returns the named child.
func (m *Mapping) Child(key string) (Node, bool) {
	n, ok := m.children[key]
	return n, ok
}

func (*Mapping) node() {}

// Sequence is an ordered list of children addressed by index.
type Sequence struct {
	items []Node
}

// Seq creates a sequence branch. It panics on a nil child.
func Seq(items ...Node) *Sequence {
	for i, n := range items {
		if n == nil {
			panic(fmt.Sprintf("paramtree: nil sequence item %d", i))
		}
	}
	return &Sequence{items: append([]Node(nil), items...)}
}

// Len returns the number of items.
func (s *Sequence) Len() int { return len(s.items) }

// Item returns the item at index i.
func (s *Sequence) Item(i int) (Node, bool) {
	if i < 0 || i >= len(s.items) {
		return nil, false
	}
	return s.items[i], true
}

func (*Sequence) node() {}

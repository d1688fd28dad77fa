package paramtree

import "fmt"

// Kind is the element type of a leaf value.
type Kind int

// Supported leaf kinds.
const (
	KindBool Kind = iota + 1
	KindInt
	KindFloat
	KindString
	KindBytes
)

// String returns the wire name of the kind, as reported in metadata.
func (k Kind) String() string {
	switch k {
	case KindBool:
		return "bool"
	case KindInt:
		return "int"
	case KindFloat:
		return "float"
	case KindString:
		return "str"
	case KindBytes:
		return "bytes"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Type is the declared type of a leaf. A zero Len means a scalar;
// Len > 0 means a fixed-length array of Kind.
type Type struct {
	Kind Kind
	Len  int
}

// Common scalar types.
var (
	Bool   = Type{Kind: KindBool}
	Int    = Type{Kind: KindInt}
	Float  = Type{Kind: KindFloat}
	String = Type{Kind: KindString}
	Bytes  = Type{Kind: KindBytes}
)

// ArrayOf returns a fixed-length array type of n elements of kind k.
func ArrayOf(k Kind, n int) Type {
	return Type{Kind: k, Len: n}
}

// IsArray reports whether t is a fixed-length array type.
func (t Type) IsArray() bool {
	return t.Len > 0
}

// String returns "int" for scalars and "int[3]" for arrays.
func (t Type) String() string {
	if t.IsArray() {
		return fmt.Sprintf("%s[%d]", t.Kind, t.Len)
	}
	return t.Kind.String()
}

// valid reports whether t names a known kind and a non-negative length.
func (t Type) valid() bool {
	return t.Kind >= KindBool && t.Kind <= KindBytes && t.Len >= 0
}

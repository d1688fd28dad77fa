package paramtree

import "errors"

// Domain-specific errors for parameter tree operations.
// Use errors.Is() to check for these errors in calling code.
var (
	// ErrPathNotFound is returned when a path segment does not name a child.
	ErrPathNotFound = errors.New("paramtree: path not found")

	// ErrNotTraversable is returned when a path continues past a leaf.
	ErrNotTraversable = errors.New("paramtree: path continues past a leaf")

	// ErrNotWritable is returned when writing to a read-only leaf.
	ErrNotWritable = errors.New("paramtree: parameter is read-only")

	// ErrTypeMismatch is returned when a value does not conform to the
	// declared type of the leaf. The leaf is never modified.
	ErrTypeMismatch = errors.New("paramtree: type mismatch")

	// ErrInvalidValue is returned when a correctly typed value falls outside
	// the leaf's min/max range or allowed values.
	ErrInvalidValue = errors.New("paramtree: invalid value")

	// ErrAdapterRejected is returned when a bound setter or getter fails.
	// The wrapped message is the accessor's own.
	ErrAdapterRejected = errors.New("paramtree: rejected by adapter")
)

// ErrorCode returns the machine-readable name of a tree error, or "" if
// err is not one.
func ErrorCode(err error) string {
	switch {
	case errors.Is(err, ErrPathNotFound):
		return "PathNotFound"
	case errors.Is(err, ErrNotTraversable):
		return "NotTraversable"
	case errors.Is(err, ErrNotWritable):
		return "NotWritable"
	case errors.Is(err, ErrTypeMismatch):
		return "TypeMismatch"
	case errors.Is(err, ErrInvalidValue):
		return "InvalidValue"
	case errors.Is(err, ErrAdapterRejected):
		return "AdapterRejected"
	default:
		return ""
	}
}

package adapter

import (
	"fmt"
	"strings"
	"time"
)

// Options carries an adapter's configuration into Initialize.
type Options struct {
	// Name is the name the adapter is registered under.
	Name string

	// Values holds the adapter's "options" block from the config file.
	Values map[string]any

	// Logger is scoped to the adapter. Never nil when passed by Build.
	Logger Logger

	// Deps carries shared services from the process.
	Deps Dependencies
}

// Dependencies are process-wide services an adapter may use. Any field
// may be nil when the service is disabled.
type Dependencies struct {
	// AuditLog is an audit.Reader. It is typed any so that this package
	// does not depend on the storage layer.
	AuditLog any
}

// Log returns the configured logger, or a no-op logger.
func (o Options) Log() Logger {
	if o.Logger == nil {
		return noopLogger{}
	}
	return o.Logger
}

// String returns a string option or def when absent.
func (o Options) String(key, def string) (string, error) {
	v, ok := o.Values[key]
	if !ok || v == nil {
		return def, nil
	}
	s, ok := v.(string)
	if !ok {
		return "", fmt.Errorf("%w: %s must be a string, got %T", ErrInvalidOption, key, v)
	}
	return s, nil
}

// Int returns an integer option or def when absent.
func (o Options) Int(key string, def int) (int, error) {
	v, ok := o.Values[key]
	if !ok || v == nil {
		return def, nil
	}
	switch n := v.(type) {
	case int:
		return n, nil
	case int64:
		return int(n), nil
	case float64:
		if n == float64(int(n)) {
			return int(n), nil
		}
	}
	return 0, fmt.Errorf("%w: %s must be an integer, got %v", ErrInvalidOption, key, v)
}

// Float returns a numeric option or def when absent.
func (o Options) Float(key string, def float64) (float64, error) {
	v, ok := o.Values[key]
	if !ok || v == nil {
		return def, nil
	}
	switch n := v.(type) {
	case float64:
		return n, nil
	case int:
		return float64(n), nil
	case int64:
		return float64(n), nil
	}
	return 0, fmt.Errorf("%w: %s must be a number, got %T", ErrInvalidOption, key, v)
}

// Bool returns a boolean option or def when absent.
func (o Options) Bool(key string, def bool) (bool, error) {
	v, ok := o.Values[key]
	if !ok || v == nil {
		return def, nil
	}
	b, ok := v.(bool)
	if !ok {
		return false, fmt.Errorf("%w: %s must be a boolean, got %T", ErrInvalidOption, key, v)
	}
	return b, nil
}

// Duration returns a duration option or def when absent. Strings are
// parsed with time.ParseDuration; bare numbers are seconds.
func (o Options) Duration(key string, def time.Duration) (time.Duration, error) {
	v, ok := o.Values[key]
	if !ok || v == nil {
		return def, nil
	}
	switch d := v.(type) {
	case string:
		parsed, err := time.ParseDuration(d)
		if err != nil {
			return 0, fmt.Errorf("%w: %s: %w", ErrInvalidOption, key, err)
		}
		return parsed, nil
	case int:
		return time.Duration(d) * time.Second, nil
	case float64:
		return time.Duration(d * float64(time.Second)), nil
	}
	return 0, fmt.Errorf("%w: %s must be a duration, got %T", ErrInvalidOption, key, v)
}

// Strings returns a list option. A YAML sequence of strings and a single
// comma-separated string are both accepted; blank entries are dropped.
func (o Options) Strings(key string) ([]string, error) {
	v, ok := o.Values[key]
	if !ok || v == nil {
		return nil, nil
	}
	var raw []string
	switch l := v.(type) {
	case string:
		raw = strings.Split(l, ",")
	case []string:
		raw = l
	case []any:
		for _, e := range l {
			s, ok := e.(string)
			if !ok {
				return nil, fmt.Errorf("%w: %s must be a list of strings, got element %T", ErrInvalidOption, key, e)
			}
			raw = append(raw, s)
		}
	default:
		return nil, fmt.Errorf("%w: %s must be a list of strings, got %T", ErrInvalidOption, key, v)
	}
	out := make([]string, 0, len(raw))
	for _, s := range raw {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out, nil
}

// Map returns a nested mapping option, or nil when absent.
func (o Options) Map(key string) (map[string]any, error) {
	v, ok := o.Values[key]
	if !ok || v == nil {
		return nil, nil
	}
	m, ok := v.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("%w: %s must be a mapping, got %T", ErrInvalidOption, key, v)
	}
	return m, nil
}

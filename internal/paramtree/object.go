package paramtree

import (
	"bytes"
	"encoding/json"
	"fmt"

	"gopkg.in/yaml.v3"
)

// Pair is one key/value of an Object.
type Pair struct {
	Key   string
	Value any
}

// Object is an ordered mapping produced by rendering a tree. It marshals
// to JSON and YAML with its keys in tree order.
type Object []Pair

// Get returns the value stored under key.
func (o Object) Get(key string) (any, bool) {
	for _, p := range o {
		if p.Key == key {
			return p.Value, true
		}
	}
	return nil, false
}

// Keys returns the keys in order.
func (o Object) Keys() []string {
	keys := make([]string, len(o))
	for i, p := range o {
		keys[i] = p.Key
	}
	return keys
}

// ToMap converts o, and any nested Objects, to plain maps.
// Key order is lost.
func (o Object) ToMap() map[string]any {
	m := make(map[string]any, len(o))
	for _, p := range o {
		m[p.Key] = plain(p.Value)
	}
	return m
}

func plain(v any) any {
	switch t := v.(type) {
	case Object:
		return t.ToMap()
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = plain(e)
		}
		return out
	default:
		return v
	}
}

// MarshalJSON writes the pairs in order.
func (o Object) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, p := range o {
		if i > 0 {
			buf.WriteByte(',')
		}
		k, err := json.Marshal(p.Key)
		if err != nil {
			return nil, err
		}
		buf.Write(k)
		buf.WriteByte(':')
		v, err := json.Marshal(p.Value)
		if err != nil {
			return nil, fmt.Errorf("marshalling %q: %w", p.Key, err)
		}
		buf.Write(v)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// MarshalYAML builds a mapping node with the pairs in order.
func (o Object) MarshalYAML() (any, error) {
	n := &yaml.Node{Kind: yaml.MappingNode, Tag: "!!map"}
	for _, p := range o {
		key := &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: p.Key}
		val := &yaml.Node{}
		if err := val.Encode(p.Value); err != nil {
			return nil, fmt.Errorf("encoding %q: %w", p.Key, err)
		}
		n.Content = append(n.Content, key, val)
	}
	return n, nil
}

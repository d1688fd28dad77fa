package paramtree

import (
	"bytes"
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

// newTestTree builds the tree used by most tests:
//
//	x:      {y: 5}
//	gain:   2.5 (min 0, max 10)
//	mode:   "auto" (one of auto/manual)
//	serial: "ABC123" (read-only)
//	coeffs: [1, 2, 3]
//	blob:   "\x00\x01"
//	chans:  [{enable: false}, {enable: true}]
func newTestTree() *Tree {
	return New(Map(
		Field("x", Map(
			Field("y", Value(Int, 5)),
		)),
		Field("gain", Value(Float, 2.5, WithMin(0), WithMax(10), WithUnits("dB"))),
		Field("mode", Value(String, "auto", WithAllowedValues("auto", "manual"))),
		Field("serial", Value(String, "ABC123", ReadOnly())),
		Field("coeffs", Value(ArrayOf(KindInt, 3), []int{1, 2, 3})),
		Field("blob", Value(Bytes, []byte{0, 1})),
		Field("chans", Seq(
			Map(Field("enable", Value(Bool, false))),
			Map(Field("enable", Value(Bool, true))),
		)),
	))
}

func decodeJSON(t *testing.T, s string) any {
	t.Helper()
	dec := json.NewDecoder(bytes.NewBufferString(s))
	dec.UseNumber()
	var v any
	require.NoError(t, dec.Decode(&v))
	return v
}

func TestTreeGet(t *testing.T) {
	tree := newTestTree()

	tests := []struct {
		name string
		path string
		want any
	}{
		{"leaf is wrapped in last segment", "x/y", Object{{Key: "y", Value: int64(5)}}},
		{"branch is wrapped", "x", Object{{Key: "x", Value: Object{{Key: "y", Value: int64(5)}}}}},
		{"sequence index", "chans/1/enable", Object{{Key: "enable", Value: true}}},
		{"array copy", "coeffs", Object{{Key: "coeffs", Value: []int64{1, 2, 3}}}},
		{"bytes as base64", "blob", Object{{Key: "blob", Value: "AAE="}}},
		{"mapping wildcard is unwrapped", "x/*", Object{{Key: "y", Value: int64(5)}}},
		{"sequence wildcard", "chans/*/enable", []any{false, true}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := tree.Get(ParsePath(tt.path))
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestTreeGetWholeTreeKeepsOrder(t *testing.T) {
	got, err := newTestTree().Get(nil)
	require.NoError(t, err)

	obj, ok := got.(Object)
	require.True(t, ok)
	assert.Equal(t, []string{"x", "gain", "mode", "serial", "coeffs", "blob", "chans"}, obj.Keys())

	data, err := json.Marshal(got)
	require.NoError(t, err)
	assert.Equal(t,
		`{"x":{"y":5},"gain":2.5,"mode":"auto","serial":"ABC123","coeffs":[1,2,3],"blob":"AAE=","chans":[{"enable":false},{"enable":true}]}`,
		string(data))
}

func TestTreeGetErrors(t *testing.T) {
	tree := newTestTree()

	tests := []struct {
		name string
		path string
		want error
	}{
		{"unknown key", "x/z", ErrPathNotFound},
		{"unknown root key", "nope", ErrPathNotFound},
		{"past a leaf", "x/y/z", ErrNotTraversable},
		{"index out of range", "chans/2", ErrPathNotFound},
		{"negative index", "chans/-1", ErrPathNotFound},
		{"non-numeric index", "chans/first", ErrPathNotFound},
		{"wildcard past leaves", "x/*/z", ErrNotTraversable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := tree.Get(ParsePath(tt.path))
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestTreeGetReturnsCopy(t *testing.T) {
	tree := newTestTree()

	got, err := tree.Get(ParsePath("coeffs"))
	require.NoError(t, err)
	coeffs := got.(Object)[0].Value.([]int64)
	coeffs[0] = 99

	again, err := tree.Get(ParsePath("coeffs"))
	require.NoError(t, err)
	assert.Equal(t, []int64{1, 2, 3}, again.(Object)[0].Value)
}

func TestTreeSetLeaf(t *testing.T) {
	tests := []struct {
		name  string
		path  string
		value any
		want  any
	}{
		{"int", "x/y", 7, int64(7)},
		{"json integer", "x/y", json.Number("8"), int64(8)},
		{"wrapped body", "x/y", map[string]any{"y": json.Number("9")}, int64(9)},
		{"int widens to float", "gain", 4, 4.0},
		{"float", "gain", json.Number("3.75"), 3.75},
		{"allowed string", "mode", "manual", "manual"},
		{"array", "coeffs", []any{json.Number("4"), json.Number("5"), json.Number("6")}, []int64{4, 5, 6}},
		{"bytes from base64", "blob", "AgM=", "AgM="},
		{"sequence item", "chans/0/enable", true, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tree := newTestTree()
			report, err := tree.Set(ParsePath(tt.path), tt.value)
			require.NoError(t, err)
			assert.Equal(t, []string{tt.path}, report.Applied)
			assert.True(t, report.OK())

			got, err := tree.Get(ParsePath(tt.path))
			require.NoError(t, err)
			assert.Equal(t, tt.want, got.(Object)[0].Value)
		})
	}
}

func TestTreeSetLeafRejectsWithoutMutation(t *testing.T) {
	tests := []struct {
		name  string
		path  string
		value any
		want  error
	}{
		{"string on int", "x/y", "bad", ErrTypeMismatch},
		{"wrapped string on int", "x/y", map[string]any{"y": "bad"}, ErrTypeMismatch},
		{"float on int", "x/y", json.Number("7.5"), ErrTypeMismatch},
		{"float64 on int", "x/y", 7.0, ErrTypeMismatch},
		{"null", "x/y", nil, ErrTypeMismatch},
		{"bool on float", "gain", true, ErrTypeMismatch},
		{"above max", "gain", 11, ErrInvalidValue},
		{"below min", "gain", -1, ErrInvalidValue},
		{"not allowed", "mode", "turbo", ErrInvalidValue},
		{"read-only", "serial", "XYZ", ErrNotWritable},
		{"short array", "coeffs", []any{1, 2}, ErrTypeMismatch},
		{"bad element", "coeffs", []any{1, "two", 3}, ErrTypeMismatch},
		{"invalid base64", "blob", "%%%", ErrTypeMismatch},
		{"unknown path", "x/z", 1, ErrPathNotFound},
		{"past a leaf", "x/y/z", 1, ErrNotTraversable},
		{"wildcard", "x/*", 1, ErrPathNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tree := newTestTree()
			before, err := tree.Get(nil)
			require.NoError(t, err)

			_, err = tree.Set(ParsePath(tt.path), tt.value)
			assert.ErrorIs(t, err, tt.want)

			after, err := tree.Get(nil)
			require.NoError(t, err)
			assert.Equal(t, before, after)
		})
	}
}

func TestTreeSetBranchBestEffort(t *testing.T) {
	tree := newTestTree()

	body := decodeJSON(t, `{"gain": 6, "mode": "turbo", "serial": "X", "bogus": 1, "x": {"y": 11}, "chans": [{"enable": true}, {"enable": "no"}, {"enable": true}]}`)
	report, err := tree.Set(nil, body)
	require.NoError(t, err)

	assert.Equal(t, []string{"x/y", "gain", "chans/0/enable"}, report.Applied)

	failed := make(map[string]error, len(report.Failed))
	for _, f := range report.Failed {
		failed[f.Path] = f.Err
	}
	require.Len(t, failed, 5)
	assert.ErrorIs(t, failed["mode"], ErrInvalidValue)
	assert.ErrorIs(t, failed["serial"], ErrNotWritable)
	assert.ErrorIs(t, failed["bogus"], ErrPathNotFound)
	assert.ErrorIs(t, failed["chans/1/enable"], ErrTypeMismatch)
	assert.ErrorIs(t, failed["chans/2"], ErrPathNotFound)

	got, err := tree.Get(ParsePath("gain"))
	require.NoError(t, err)
	assert.Equal(t, 6.0, got.(Object)[0].Value)

	got, err = tree.Get(ParsePath("mode"))
	require.NoError(t, err)
	assert.Equal(t, "auto", got.(Object)[0].Value)
}

func TestTreeSetBranchWrongShape(t *testing.T) {
	tree := newTestTree()

	_, err := tree.Set(ParsePath("x"), 5)
	assert.ErrorIs(t, err, ErrTypeMismatch)

	_, err = tree.Set(ParsePath("chans"), "all")
	assert.ErrorIs(t, err, ErrTypeMismatch)
}

func TestTreeSetSequenceByIndexKeys(t *testing.T) {
	tree := newTestTree()

	report, err := tree.Set(ParsePath("chans"), map[string]any{"1": map[string]any{"enable": false}, "x": 1})
	require.NoError(t, err)
	assert.Equal(t, []string{"chans/1/enable"}, report.Applied)
	require.Len(t, report.Failed, 1)
	assert.ErrorIs(t, report.Failed[0].Err, ErrPathNotFound)
}

func TestTreeRoundTrip(t *testing.T) {
	paths := []string{"", "x", "x/y", "gain", "mode", "coeffs", "blob", "chans", "chans/1", "chans/0/enable"}
	for _, p := range paths {
		t.Run("path="+p, func(t *testing.T) {
			tree := New(Map(
				Field("x", Map(Field("y", Value(Int, 5)))),
				Field("gain", Value(Float, 2.5)),
				Field("mode", Value(String, "auto", WithAllowedValues("auto", "manual"))),
				Field("coeffs", Value(ArrayOf(KindInt, 3), []int{1, 2, 3})),
				Field("blob", Value(Bytes, []byte{0, 1})),
				Field("chans", Seq(
					Map(Field("enable", Value(Bool, false))),
					Map(Field("enable", Value(Bool, true))),
				)),
			))
			path := ParsePath(p)

			before, err := tree.Get(path)
			require.NoError(t, err)
			data, err := json.Marshal(before)
			require.NoError(t, err)

			report, err := tree.Set(path, decodeJSON(t, string(data)))
			require.NoError(t, err)
			assert.True(t, report.OK(), "failures: %v", report.Failed)

			after, err := tree.Get(path)
			require.NoError(t, err)
			assert.Equal(t, before, after)
		})
	}
}

func TestBoundLeaf(t *testing.T) {
	var stored int64 = 3
	var setCalls int
	hardwareErr := errors.New("hardware refused")

	tree := New(Map(
		Field("rw", Bound(Int,
			func() (any, error) { return stored, nil },
			func(v any) error {
				setCalls++
				if v.(int64) == 13 {
					return hardwareErr
				}
				stored = v.(int64)
				return nil
			},
		)),
		Field("ro", Bound(Float, func() (any, error) { return 1, nil }, nil)),
		Field("broken", Bound(String, func() (any, error) { return 42, nil }, nil)),
	))

	_, err := tree.Set(ParsePath("rw"), 8)
	require.NoError(t, err)
	assert.Equal(t, int64(8), stored)

	_, err = tree.Set(ParsePath("rw"), 13)
	assert.ErrorIs(t, err, ErrAdapterRejected)
	assert.ErrorContains(t, err, "hardware refused")
	assert.Equal(t, int64(8), stored)

	_, err = tree.Set(ParsePath("rw"), "x")
	assert.ErrorIs(t, err, ErrTypeMismatch)
	assert.Equal(t, 2, setCalls, "setter must not run for a type mismatch")

	_, err = tree.Set(ParsePath("ro"), 2.0)
	assert.ErrorIs(t, err, ErrNotWritable)

	got, err := tree.Get(ParsePath("ro"))
	require.NoError(t, err)
	assert.Equal(t, 1.0, got.(Object)[0].Value)

	_, err = tree.Get(ParsePath("broken"))
	assert.ErrorIs(t, err, ErrAdapterRejected)
}

func TestTreeUpdateWritesReadOnly(t *testing.T) {
	tree := newTestTree()

	_, err := tree.Update(ParsePath("serial"), "NEW")
	require.NoError(t, err)

	got, err := tree.Get(ParsePath("serial"))
	require.NoError(t, err)
	assert.Equal(t, "NEW", got.(Object)[0].Value)

	_, err = tree.Update(ParsePath("serial"), 1)
	assert.ErrorIs(t, err, ErrTypeMismatch)
}

func TestTreeDescribe(t *testing.T) {
	tree := newTestTree()

	got, err := tree.Describe(ParsePath("gain"))
	require.NoError(t, err)
	data, err := json.Marshal(got)
	require.NoError(t, err)
	assert.JSONEq(t, `{"gain": {"value": 2.5, "type": "float", "writeable": true, "units": "dB", "min": 0, "max": 10}}`, string(data))

	got, err = tree.Describe(ParsePath("serial"))
	require.NoError(t, err)
	data, err = json.Marshal(got)
	require.NoError(t, err)
	assert.JSONEq(t, `{"serial": {"value": "ABC123", "type": "str", "writeable": false}}`, string(data))

	got, err = tree.Describe(ParsePath("coeffs"))
	require.NoError(t, err)
	data, err = json.Marshal(got)
	require.NoError(t, err)
	assert.JSONEq(t, `{"coeffs": {"value": [1, 2, 3], "type": "int[3]", "writeable": true}}`, string(data))
}

func TestObjectMarshalYAMLKeepsOrder(t *testing.T) {
	got, err := newTestTree().Get(ParsePath("x"))
	require.NoError(t, err)

	obj := Object{{Key: "zeta", Value: 1}, {Key: "alpha", Value: got}}
	out, err := yaml.Marshal(obj)
	require.NoError(t, err)
	assert.Equal(t, "zeta: 1\nalpha:\n    x:\n        y: 5\n", string(out))
}

func TestConstructorsPanicOnBadSchema(t *testing.T) {
	assert.Panics(t, func() { Value(Int, "five") })
	assert.Panics(t, func() { Value(Type{Kind: 0}, 1) })
	assert.Panics(t, func() { Bound(Int, nil, nil) })
	assert.Panics(t, func() { Map(Field("a", Value(Int, 1)), Field("a", Value(Int, 2))) })
	assert.Panics(t, func() { Map(Field("*", Value(Int, 1))) })
	assert.Panics(t, func() { Map(Field("a/b", Value(Int, 1))) })
	assert.Panics(t, func() { Value(Int, 1, WithAllowedValues("one")) })
}

func TestTreeConcurrentUpdatesNeverTear(t *testing.T) {
	tree := New(Map(Field("frame", Value(ArrayOf(KindInt, 4), []int{0, 0, 0, 0}))))
	path := ParsePath("frame")

	var writer, readers sync.WaitGroup
	stop := make(chan struct{})

	writer.Add(1)
	go func() {
		defer writer.Done()
		for i := 1; ; i++ {
			select {
			case <-stop:
				return
			default:
			}
			_, err := tree.Update(path, []int{i, i, i, i})
			assert.NoError(t, err)
		}
	}()

	for r := 0; r < 4; r++ {
		readers.Add(1)
		go func() {
			defer readers.Done()
			for n := 0; n < 500; n++ {
				got, err := tree.Get(path)
				if !assert.NoError(t, err) {
					return
				}
				frame := got.(Object)[0].Value.([]int64)
				for _, v := range frame[1:] {
					assert.Equal(t, frame[0], v, "torn read: %v", frame)
				}
			}
		}()
	}

	readers.Wait()
	close(stop)
	writer.Wait()
}

// Package telemetry records adapter snapshots as time-series points.
//
// Every numeric and boolean leaf of a snapshot becomes one field, keyed by
// its slash-separated parameter path. Numbers are written as floats so a
// field keeps one type across writes. Strings and bytes are skipped.
package telemetry

import (
	"context"
	"encoding/json"
	"reflect"
	"strconv"
	"time"

	"github.com/odin-detector/odin-control/internal/paramtree"
)

// Writer receives flattened points. *influxdb.Client implements it.
type Writer interface {
	WriteParameters(adapterName string, fields map[string]any, ts time.Time)
}

// Recorder turns update snapshots into points.
type Recorder struct {
	writer Writer
	now    func() time.Time
}

// NewRecorder creates a recorder writing to w.
func NewRecorder(w Writer) *Recorder {
	return &Recorder{writer: w, now: time.Now}
}

// RecordUpdate writes one point for snapshot. Its signature matches
// scheduler.UpdateHook.
func (r *Recorder) RecordUpdate(_ context.Context, adapterName string, snapshot any) {
	fields := Flatten(snapshot)
	if len(fields) == 0 {
		return
	}
	r.writer.WriteParameters(adapterName, fields, r.now())
}

// Flatten returns the numeric and boolean leaves of v keyed by path.
func Flatten(v any) map[string]any {
	fields := make(map[string]any)
	flatten(fields, "", v)
	return fields
}

func flatten(fields map[string]any, prefix string, v any) {
	switch val := v.(type) {
	case nil, string, []byte:
		return
	case bool:
		fields[prefix] = val
		return
	case json.Number:
		if f, err := val.Float64(); err == nil {
			fields[prefix] = f
		}
		return
	case paramtree.Object:
		for _, p := range val {
			flatten(fields, join(prefix, p.Key), p.Value)
		}
		return
	case map[string]any:
		for k, child := range val {
			flatten(fields, join(prefix, k), child)
		}
		return
	}

	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		fields[prefix] = float64(rv.Int())
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		fields[prefix] = float64(rv.Uint())
	case reflect.Float32, reflect.Float64:
		fields[prefix] = rv.Float()
	case reflect.Slice, reflect.Array:
		for i := 0; i < rv.Len(); i++ {
			flatten(fields, join(prefix, strconv.Itoa(i)), rv.Index(i).Interface())
		}
	}
}

func join(prefix, key string) string {
	if prefix == "" {
		return key
	}
	return prefix + "/" + key
}

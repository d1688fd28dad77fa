package telemetry

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/odin-detector/odin-control/internal/paramtree"
)

type point struct {
	adapter string
	fields  map[string]any
	ts      time.Time
}

type fakeWriter struct {
	points []point
}

func (w *fakeWriter) WriteParameters(adapterName string, fields map[string]any, ts time.Time) {
	w.points = append(w.points, point{adapter: adapterName, fields: fields, ts: ts})
}

func TestFlatten(t *testing.T) {
	snapshot := paramtree.Object{
		{Key: "name", Value: "det"},
		{Key: "enabled", Value: true},
		{Key: "exposure", Value: 2.5},
		{Key: "frames", Value: int64(10)},
		{Key: "roi", Value: []int64{0, 0, 256, 256}},
		{Key: "raw", Value: []byte{1, 2}},
		{Key: "gains", Value: []any{1.5, "x"}},
		{Key: "nested", Value: paramtree.Object{
			{Key: "count", Value: uint8(3)},
			{Key: "ratio", Value: json.Number("0.25")},
			{Key: "extra", Value: map[string]any{"v": float32(1)}},
		}},
		{Key: "empty", Value: nil},
	}

	got := Flatten(snapshot)

	assert.Equal(t, map[string]any{
		"enabled":        true,
		"exposure":       2.5,
		"frames":         float64(10),
		"roi/0":          float64(0),
		"roi/1":          float64(0),
		"roi/2":          float64(256),
		"roi/3":          float64(256),
		"gains/0":        1.5,
		"nested/count":   float64(3),
		"nested/ratio":   0.25,
		"nested/extra/v": float64(1),
	}, got)
}

func TestFlattenScalarAndNil(t *testing.T) {
	assert.Empty(t, Flatten(nil))
	assert.Empty(t, Flatten("text"))
	assert.Equal(t, map[string]any{"": 4.0}, Flatten(4))
}

func TestRecordUpdate(t *testing.T) {
	w := &fakeWriter{}
	r := NewRecorder(w)
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	r.now = func() time.Time { return now }

	r.RecordUpdate(context.Background(), "sysstatus", paramtree.Object{{Key: "goroutines", Value: 12}})

	require.Len(t, w.points, 1)
	assert.Equal(t, "sysstatus", w.points[0].adapter)
	assert.Equal(t, map[string]any{"goroutines": float64(12)}, w.points[0].fields)
	assert.Equal(t, now, w.points[0].ts)
}

func TestRecordUpdateSkipsEmpty(t *testing.T) {
	w := &fakeWriter{}
	r := NewRecorder(w)

	r.RecordUpdate(context.Background(), "dummy", paramtree.Object{{Key: "name", Value: "det"}})
	r.RecordUpdate(context.Background(), "dummy", nil)

	assert.Empty(t, w.points)
}

package sysinfo

import (
	"context"
	"net/http"
	"runtime"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/odin-detector/odin-control/internal/adapter"
	"github.com/odin-detector/odin-control/internal/paramtree"
)

func TestTree(t *testing.T) {
	a := New()
	require.NoError(t, a.Initialize(context.Background(), adapter.Options{Name: "system_info"}))

	data, err := a.Tree().Get(nil)
	require.NoError(t, err)
	root := data.(paramtree.Object)

	assert.Equal(t, []string{"odin_version", "go_version", "module", "platform", "pid", "server_uptime"}, root.Keys())

	goVersion, _ := root.Get("go_version")
	assert.Equal(t, runtime.Version(), goVersion)

	platform, _ := root.Get("platform")
	system, _ := platform.(paramtree.Object).Get("system")
	assert.Equal(t, runtime.GOOS, system)
}

func TestUptime(t *testing.T) {
	a := New()
	clock := a.started
	a.now = func() time.Time { return clock }
	require.NoError(t, a.Initialize(context.Background(), adapter.Options{}))

	clock = clock.Add(1500 * time.Millisecond)
	data, err := a.Tree().Get(paramtree.ParsePath("server_uptime"))
	require.NoError(t, err)
	v, _ := data.(paramtree.Object).Get("server_uptime")
	assert.InDelta(t, 1.5, v, 1e-9)

	meta, err := a.Tree().Describe(paramtree.ParsePath("server_uptime"))
	require.NoError(t, err)
	leaf, _ := meta.(paramtree.Object).Get("server_uptime")
	units, _ := leaf.(paramtree.Object).Get("units")
	assert.Equal(t, "s", units)
}

func TestReadOnly(t *testing.T) {
	a := New()
	require.NoError(t, a.Initialize(context.Background(), adapter.Options{}))

	assert.False(t, a.Info().Allows(http.MethodPut))

	_, err := a.Tree().Set(paramtree.ParsePath("pid"), 1)
	assert.ErrorIs(t, err, paramtree.ErrNotWritable)
}

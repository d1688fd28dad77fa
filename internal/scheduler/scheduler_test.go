package scheduler

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/odin-detector/odin-control/internal/adapter"
	"github.com/odin-detector/odin-control/internal/paramtree"
)

type counterAdapter struct {
	adapter.TreeAdapter
	count   atomic.Int64
	failing bool
	panics  bool
}

func newCounter() *counterAdapter {
	c := &counterAdapter{}
	c.SetTree(paramtree.New(paramtree.Map(
		paramtree.Field("count", paramtree.Bound(paramtree.Int,
			func() (any, error) { return c.count.Load(), nil }, nil)),
	)))
	return c
}

func (c *counterAdapter) Initialize(context.Context, adapter.Options) error { return nil }
func (c *counterAdapter) Info() adapter.Info                                { return adapter.Info{Version: "test"} }

func (c *counterAdapter) PeriodicUpdate(context.Context) error {
	if c.panics {
		panic("tick")
	}
	c.count.Add(1)
	if c.failing {
		return errors.New("sensor offline")
	}
	return nil
}

// staticAdapter never updates.
type staticAdapter struct{ adapter.TreeAdapter }

func (staticAdapter) Initialize(context.Context, adapter.Options) error { return nil }
func (staticAdapter) Info() adapter.Info                                { return adapter.Info{} }

type recordingObserver struct {
	mu     sync.Mutex
	ok     map[string]int
	failed map[string]int
}

func (o *recordingObserver) ObserveUpdate(name string, _ time.Duration, err error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if err != nil {
		o.failed[name]++
		return
	}
	o.ok[name]++
}

func (o *recordingObserver) counts(name string) (int, int) {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.ok[name], o.failed[name]
}

func TestSchedulerTicksAndRunsHooks(t *testing.T) {
	reg := adapter.NewRegistry()
	fast := newCounter()
	_, err := reg.Register("fast", "counter", fast, 5*time.Millisecond)
	require.NoError(t, err)
	_, err = reg.Register("idle", "counter", newCounter(), 0)
	require.NoError(t, err)
	_, err = reg.Register("static", "static", &staticAdapter{}, time.Millisecond)
	require.NoError(t, err)

	s := New(reg)
	snapshots := make(chan any, 100)
	s.OnUpdate(func(_ context.Context, name string, snapshot any) {
		assert.Equal(t, "fast", name)
		select {
		case snapshots <- snapshot:
		default:
		}
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	assert.Equal(t, 1, s.Start(ctx))
	assert.Equal(t, 0, s.Start(ctx))

	select {
	case snap := <-snapshots:
		obj, ok := snap.(paramtree.Object)
		require.True(t, ok)
		count, _ := obj.Get("count")
		assert.GreaterOrEqual(t, count.(int64), int64(1))
	case <-time.After(2 * time.Second):
		t.Fatal("no update delivered")
	}

	s.Stop()
	s.Stop()

	stopped := fast.count.Load()
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, stopped, fast.count.Load(), "ticks after Stop")
}

func TestSchedulerContainsFailures(t *testing.T) {
	reg := adapter.NewRegistry()
	failing := newCounter()
	failing.failing = true
	panicking := newCounter()
	panicking.panics = true
	healthy := newCounter()

	for name, a := range map[string]*counterAdapter{"failing": failing, "panicking": panicking, "healthy": healthy} {
		_, err := reg.Register(name, "counter", a, 2*time.Millisecond)
		require.NoError(t, err)
	}

	obs := &recordingObserver{ok: map[string]int{}, failed: map[string]int{}}
	var hookCalls atomic.Int64
	s := New(reg)
	s.SetObserver(obs)
	s.OnUpdate(func(_ context.Context, name string, _ any) {
		if name != "healthy" {
			t.Errorf("hook called for %s", name)
		}
		hookCalls.Add(1)
	})

	s.Start(context.Background())
	require.Eventually(t, func() bool {
		_, failedTicks := obs.counts("failing")
		_, panicTicks := obs.counts("panicking")
		okTicks, _ := obs.counts("healthy")
		return failedTicks >= 2 && panicTicks >= 2 && okTicks >= 2
	}, 2*time.Second, 5*time.Millisecond)
	s.Stop()

	assert.GreaterOrEqual(t, hookCalls.Load(), int64(2))
}

func TestSchedulerStopsWithContext(t *testing.T) {
	reg := adapter.NewRegistry()
	c := newCounter()
	_, err := reg.Register("c", "counter", c, time.Millisecond)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	s := New(reg)
	s.Start(ctx)
	require.Eventually(t, func() bool { return c.count.Load() > 0 }, time.Second, time.Millisecond)

	cancel()
	done := make(chan struct{})
	go func() {
		s.Stop()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Stop did not return after context cancel")
	}
}

// Package dummy implements a hardware-free adapter used for demonstration
// and for testing the server end to end.
package dummy

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/odin-detector/odin-control/internal/adapter"
	"github.com/odin-detector/odin-control/internal/paramtree"
)

// Kind is the name this adapter registers under.
const Kind = "dummy"

// Default option values.
const (
	defaultTaskInterval = time.Second
	minTaskInterval     = 10 * time.Millisecond
	defaultChannels     = 4
)

func init() {
	adapter.RegisterKind(Kind, func() adapter.Adapter { return New() })
}

// Adapter is a self-contained demonstration adapter. It needs no hardware,
// which makes it the standard fixture for exercising the server.
//
// Options:
//
//	background_task_enable   bool      start the counter task at startup (false)
//	background_task_interval duration  counter period (1s)
//	channels                 int       length of the gains sequence (4)
type Adapter struct {
	adapter.TreeAdapter

	logger adapter.Logger

	// counter is read by a bound leaf and written by the task goroutine.
	counter atomic.Int64

	taskMu       sync.Mutex
	taskInterval time.Duration
	taskDone     chan struct{}
	taskWG       sync.WaitGroup
}

// New creates an uninitialised dummy adapter.
func New() *Adapter {
	return &Adapter{taskInterval: defaultTaskInterval}
}

// Initialize builds the tree and optionally starts the background task.
func (a *Adapter) Initialize(_ context.Context, opts adapter.Options) error {
	a.logger = opts.Log()

	enable, err := opts.Bool("background_task_enable", false)
	if err != nil {
		return err
	}
	interval, err := opts.Duration("background_task_interval", defaultTaskInterval)
	if err != nil {
		return err
	}
	if interval < minTaskInterval {
		return fmt.Errorf("%w: background_task_interval must be at least %s", adapter.ErrInvalidOption, minTaskInterval)
	}
	channels, err := opts.Int("channels", defaultChannels)
	if err != nil {
		return err
	}
	if channels < 1 {
		return fmt.Errorf("%w: channels must be positive", adapter.ErrInvalidOption)
	}
	a.taskInterval = interval

	gains := make([]paramtree.Node, channels)
	for i := range gains {
		gains[i] = paramtree.Value(paramtree.Int, 1,
			paramtree.WithAllowedValues(1, 2, 4, 8),
			paramtree.WithDescription(fmt.Sprintf("gain of channel %d", i)),
		)
	}

	a.SetTree(paramtree.New(paramtree.Map(
		paramtree.Field("name", paramtree.Value(paramtree.String, opts.Name,
			paramtree.ReadOnly(),
			paramtree.WithDescription("name this adapter is registered under"),
		)),
		paramtree.Field("enabled", paramtree.Value(paramtree.Bool, false,
			paramtree.WithDescription("acquisition enable"),
		)),
		paramtree.Field("exposure", paramtree.Value(paramtree.Float, 1.0,
			paramtree.WithUnits("s"),
			paramtree.WithMin(0.001),
			paramtree.WithMax(60),
			paramtree.WithDisplayPrecision(3),
		)),
		paramtree.Field("mode", paramtree.Value(paramtree.String, "normal",
			paramtree.WithAllowedValues("normal", "fast", "low_noise"),
		)),
		paramtree.Field("roi", paramtree.Value(paramtree.ArrayOf(paramtree.KindInt, 4), []int{0, 0, 256, 256},
			paramtree.WithMin(0),
			paramtree.WithDescription("region of interest as x, y, width, height"),
		)),
		paramtree.Field("gains", paramtree.Seq(gains...)),
		paramtree.Field("background_task", paramtree.Map(
			paramtree.Field("enable", paramtree.Bound(paramtree.Bool,
				func() (any, error) { return a.taskRunning(), nil },
				func(v any) error { a.setTaskEnabled(v.(bool)); return nil },
			)),
			paramtree.Field("interval", paramtree.Bound(paramtree.Float,
				func() (any, error) { return a.interval().Seconds(), nil },
				func(v any) error { return a.setInterval(v.(float64)) },
				paramtree.WithUnits("s"),
				paramtree.WithMin(minTaskInterval.Seconds()),
			)),
			paramtree.Field("count", paramtree.Bound(paramtree.Int,
				func() (any, error) { return a.counter.Load(), nil },
				nil,
				paramtree.WithDescription("ticks of the background task since the last cleanup"),
			)),
		)),
	)))

	if enable {
		a.setTaskEnabled(true)
	}
	a.logger.Debug("dummy adapter loaded", "background_task", enable, "interval", interval)
	return nil
}

// Info describes the adapter.
func (a *Adapter) Info() adapter.Info {
	return adapter.Info{
		Version:     "1.0.0",
		Description: "dummy adapter with writable parameters and a background counter",
	}
}

// Cleanup stops the background task and resets the counter.
func (a *Adapter) Cleanup(context.Context) error {
	a.setTaskEnabled(false)
	a.counter.Store(0)
	a.logger.Debug("dummy adapter cleanup: background counter reset")
	return nil
}

// Count returns the background task counter.
func (a *Adapter) Count() int64 {
	return a.counter.Load()
}

func (a *Adapter) taskRunning() bool {
	a.taskMu.Lock()
	defer a.taskMu.Unlock()
	return a.taskDone != nil
}

func (a *Adapter) interval() time.Duration {
	a.taskMu.Lock()
	defer a.taskMu.Unlock()
	return a.taskInterval
}

// setInterval changes the task period. A running task is restarted.
func (a *Adapter) setInterval(seconds float64) error {
	d := time.Duration(seconds * float64(time.Second))
	if d < minTaskInterval {
		return fmt.Errorf("interval must be at least %s", minTaskInterval)
	}

	a.taskMu.Lock()
	a.taskInterval = d
	running := a.taskDone != nil
	a.taskMu.Unlock()

	if running {
		a.setTaskEnabled(false)
		a.setTaskEnabled(true)
	}
	return nil
}

// setTaskEnabled starts or stops the counter goroutine. It is idempotent.
func (a *Adapter) setTaskEnabled(enable bool) {
	a.taskMu.Lock()
	if enable == (a.taskDone != nil) {
		a.taskMu.Unlock()
		return
	}
	if !enable {
		close(a.taskDone)
		a.taskDone = nil
		a.taskMu.Unlock()
		a.taskWG.Wait()
		return
	}

	done := make(chan struct{})
	a.taskDone = done
	interval := a.taskInterval
	a.taskWG.Add(1)
	a.taskMu.Unlock()

	go a.runTask(done, interval)
}

func (a *Adapter) runTask(done <-chan struct{}, interval time.Duration) {
	defer a.taskWG.Done()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			a.counter.Add(1)
		}
	}
}

package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/odin-detector/odin-control/internal/adapter"
)

// Logger defines the logging interface used by the scheduler.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// UpdateHook receives the snapshot an adapter rendered after a successful
// periodic update. Hooks run on the adapter's ticker goroutine after its
// lock has been released and must not block for long.
type UpdateHook func(ctx context.Context, adapterName string, snapshot any)

// Observer records the outcome of every tick.
type Observer interface {
	ObserveUpdate(adapterName string, elapsed time.Duration, err error)
}

// Scheduler drives the periodic updates of every registered adapter.
//
// Each adapter that implements adapter.Updater and has a nonzero interval
// gets its own goroutine and ticker. A slow update delays only its own
// adapter; ticks that fall due while it runs are dropped by the ticker.
type Scheduler struct {
	registry *adapter.Registry

	hooksMu  sync.RWMutex
	hooks    []UpdateHook
	observer Observer

	done      chan struct{}
	wg        sync.WaitGroup
	startOnce sync.Once
	stopOnce  sync.Once

	logger   Logger
	loggerMu sync.RWMutex
}

// New creates a scheduler for reg. Call Start to begin ticking.
func New(reg *adapter.Registry) *Scheduler {
	return &Scheduler{
		registry: reg,
		done:     make(chan struct{}),
		logger:   noopLogger{},
	}
}

// SetLogger sets the logger.
func (s *Scheduler) SetLogger(logger Logger) {
	s.loggerMu.Lock()
	s.logger = logger
	s.loggerMu.Unlock()
}

// SetObserver sets the tick observer. Must be called before Start.
func (s *Scheduler) SetObserver(o Observer) {
	s.observer = o
}

// OnUpdate adds a hook run after every successful update.
func (s *Scheduler) OnUpdate(hook UpdateHook) {
	s.hooksMu.Lock()
	s.hooks = append(s.hooks, hook)
	s.hooksMu.Unlock()
}

// Start launches one loop per updating adapter and returns the number
// started. Subsequent calls do nothing.
func (s *Scheduler) Start(ctx context.Context) int {
	started := 0
	s.startOnce.Do(func() {
		for _, h := range s.registry.Handles() {
			if !h.Updates() {
				continue
			}
			s.wg.Add(1)
			go s.loop(ctx, h)
			started++
			s.log().Debug("update loop started", "adapter", h.Name(), "interval", h.Interval())
		}
		s.log().Info("scheduler started", "loops", started)
	})
	return started
}

// Stop ends every loop and waits for in-flight updates to finish.
// Safe to call multiple times.
func (s *Scheduler) Stop() {
	s.stopOnce.Do(func() {
		close(s.done)
		s.wg.Wait()
		s.log().Info("scheduler stopped")
	})
}

func (s *Scheduler) loop(ctx context.Context, h *adapter.Handle) {
	defer s.wg.Done()

	ticker := time.NewTicker(h.Interval())
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.done:
			return
		case <-ticker.C:
			s.tick(ctx, h)
		}
	}
}

// tick runs one update. Handle.Update already converts panics into errors.
func (s *Scheduler) tick(ctx context.Context, h *adapter.Handle) {
	start := time.Now()
	snapshot, err := h.Update(ctx)
	elapsed := time.Since(start)

	if s.observer != nil {
		s.observer.ObserveUpdate(h.Name(), elapsed, err)
	}
	if err != nil {
		s.log().Error("periodic update failed", "adapter", h.Name(), "error", err)
		return
	}

	s.hooksMu.RLock()
	hooks := s.hooks
	s.hooksMu.RUnlock()
	for _, hook := range hooks {
		hook(ctx, h.Name(), snapshot)
	}
}

func (s *Scheduler) log() Logger {
	s.loggerMu.RLock()
	defer s.loggerMu.RUnlock()
	return s.logger
}

// Package sysstatus provides an adapter reporting runtime, process and
// network statistics, sampled on every periodic update.
//
// Options:
//
//	interfaces  list of network interfaces to report (none)
//
// Process and network figures come from procfs and are only available on
// Linux. On other systems those samples fail, the error leaf says why,
// and the runtime figures are still refreshed.
package sysstatus

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"runtime"
	"slices"
	"time"

	"github.com/prometheus/procfs"

	"github.com/odin-detector/odin-control/internal/adapter"
	"github.com/odin-detector/odin-control/internal/paramtree"
)

// Kind is the name this adapter registers under.
const Kind = "sysstatus"

func init() {
	adapter.RegisterKind(Kind, func() adapter.Adapter { return New() })
}

// ProcessStats is one sample of the server process.
type ProcessStats struct {
	CPUSeconds     float64
	ResidentMemory int64
	VirtualMemory  int64
	Threads        int64
	OpenFDs        int64
}

// InterfaceStats is one sample of a network interface.
type InterfaceStats struct {
	BytesSent   uint64
	BytesRecv   uint64
	PacketsSent uint64
	PacketsRecv uint64
	ErrIn       uint64
	ErrOut      uint64
	DropIn      uint64
	DropOut     uint64
}

// Sampler reads the statistics that are not available from the Go runtime.
type Sampler interface {
	Process() (ProcessStats, error)
	Interfaces() (map[string]InterfaceStats, error)
}

// Adapter serves the latest sample. Every leaf is read-only.
type Adapter struct {
	adapter.TreeAdapter

	sampler    Sampler
	interfaces []string
	logger     adapter.Logger
	now        func() time.Time
	updates    int64
}

// New creates a sysstatus adapter reading from /proc.
func New() *Adapter {
	return &Adapter{sampler: procSampler{}, now: time.Now}
}

// NewWithSampler creates a sysstatus adapter with a custom sampler.
func NewWithSampler(s Sampler) *Adapter {
	a := New()
	a.sampler = s
	return a
}

// Initialize builds the tree for the configured interfaces.
func (a *Adapter) Initialize(_ context.Context, opts adapter.Options) error {
	a.logger = opts.Log()

	ifaces, err := opts.Strings("interfaces")
	if err != nil {
		return err
	}
	slices.Sort(ifaces)
	a.interfaces = slices.Compact(ifaces)

	network := make([]paramtree.Entry, 0, len(a.interfaces))
	for _, name := range a.interfaces {
		network = append(network, paramtree.Field(name, interfaceNode()))
	}

	a.SetTree(paramtree.New(paramtree.Map(
		paramtree.Field("runtime", paramtree.Map(
			paramtree.Field("goroutines", gauge(paramtree.Int, 0, "")),
			paramtree.Field("heap_alloc", gauge(paramtree.Int, 0, "B")),
			paramtree.Field("heap_sys", gauge(paramtree.Int, 0, "B")),
			paramtree.Field("gc_cycles", gauge(paramtree.Int, 0, "")),
			paramtree.Field("gc_pause_total", gauge(paramtree.Float, 0.0, "s")),
		)),
		paramtree.Field("process", paramtree.Map(
			paramtree.Field("cpu_seconds", gauge(paramtree.Float, 0.0, "s")),
			paramtree.Field("resident_memory", gauge(paramtree.Int, 0, "B")),
			paramtree.Field("virtual_memory", gauge(paramtree.Int, 0, "B")),
			paramtree.Field("threads", gauge(paramtree.Int, 0, "")),
			paramtree.Field("open_fds", gauge(paramtree.Int, 0, "")),
		)),
		paramtree.Field("network", paramtree.Map(network...)),
		paramtree.Field("update_count", gauge(paramtree.Int, 0, "")),
		paramtree.Field("last_update", gauge(paramtree.String, "never", "")),
		paramtree.Field("error", gauge(paramtree.String, "", "")),
	)))

	a.logger.Debug("sysstatus adapter loaded", "interfaces", a.interfaces)
	return nil
}

// Info describes the adapter. Only GET is served.
func (a *Adapter) Info() adapter.Info {
	return adapter.Info{
		Version:     "1.0.0",
		Description: "runtime, process and network statistics of this server",
		Methods:     []string{http.MethodGet},
	}
}

// PeriodicUpdate takes a new sample and stores it in the tree.
//
// A failed procfs read leaves the previous figures in place and is
// reported in the error leaf; the error is also returned so the scheduler
// counts it.
func (a *Adapter) PeriodicUpdate(context.Context) error {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)

	a.updates++
	payload := map[string]any{
		"runtime": map[string]any{
			"goroutines":     runtime.NumGoroutine(),
			"heap_alloc":     ms.HeapAlloc,
			"heap_sys":       ms.HeapSys,
			"gc_cycles":      ms.NumGC,
			"gc_pause_total": time.Duration(ms.PauseTotalNs).Seconds(),
		},
		"update_count": a.updates,
		"last_update":  a.now().UTC().Format(time.RFC3339),
	}

	var errs []error
	if p, err := a.sampler.Process(); err != nil {
		errs = append(errs, fmt.Errorf("process: %w", err))
	} else {
		payload["process"] = map[string]any{
			"cpu_seconds":     p.CPUSeconds,
			"resident_memory": p.ResidentMemory,
			"virtual_memory":  p.VirtualMemory,
			"threads":         p.Threads,
			"open_fds":        p.OpenFDs,
		}
	}

	if len(a.interfaces) > 0 {
		stats, err := a.sampler.Interfaces()
		if err != nil {
			errs = append(errs, fmt.Errorf("network: %w", err))
		} else {
			network := make(map[string]any, len(a.interfaces))
			for _, name := range a.interfaces {
				s, ok := stats[name]
				if !ok {
					errs = append(errs, fmt.Errorf("network: interface %q not found", name))
					continue
				}
				network[name] = map[string]any{
					"bytes_sent":   s.BytesSent,
					"bytes_recv":   s.BytesRecv,
					"packets_sent": s.PacketsSent,
					"packets_recv": s.PacketsRecv,
					"errin":        s.ErrIn,
					"errout":       s.ErrOut,
					"dropin":       s.DropIn,
					"dropout":      s.DropOut,
				}
			}
			payload["network"] = network
		}
	}

	sampleErr := errors.Join(errs...)
	payload["error"] = ""
	if sampleErr != nil {
		payload["error"] = sampleErr.Error()
	}

	report, err := a.Tree().Update(nil, payload)
	if err != nil {
		return fmt.Errorf("storing sample: %w", err)
	}
	for _, f := range report.Failed {
		sampleErr = errors.Join(sampleErr, fmt.Errorf("storing %s: %w", f.Path, f.Err))
	}
	return sampleErr
}

func gauge(t paramtree.Type, initial any, units string) *paramtree.Leaf {
	opts := []paramtree.LeafOption{paramtree.ReadOnly()}
	if units != "" {
		opts = append(opts, paramtree.WithUnits(units))
	}
	return paramtree.Value(t, initial, opts...)
}

func interfaceNode() *paramtree.Mapping {
	fields := []string{"bytes_sent", "bytes_recv", "packets_sent", "packets_recv", "errin", "errout", "dropin", "dropout"}
	entries := make([]paramtree.Entry, len(fields))
	for i, f := range fields {
		entries[i] = paramtree.Field(f, gauge(paramtree.Int, 0, ""))
	}
	return paramtree.Map(entries...)
}

// procSampler reads /proc through procfs.
type procSampler struct{}

func (procSampler) Process() (ProcessStats, error) {
	p, err := procfs.Self()
	if err != nil {
		return ProcessStats{}, err
	}
	stat, err := p.Stat()
	if err != nil {
		return ProcessStats{}, err
	}
	fds, err := p.FileDescriptorsLen()
	if err != nil {
		return ProcessStats{}, err
	}
	return ProcessStats{
		CPUSeconds:     stat.CPUTime(),
		ResidentMemory: int64(stat.ResidentMemory()),
		VirtualMemory:  int64(stat.VirtualMemory()),
		Threads:        int64(stat.NumThreads),
		OpenFDs:        int64(fds),
	}, nil
}

func (procSampler) Interfaces() (map[string]InterfaceStats, error) {
	fs, err := procfs.NewDefaultFS()
	if err != nil {
		return nil, err
	}
	dev, err := fs.NetDev()
	if err != nil {
		return nil, err
	}
	out := make(map[string]InterfaceStats, len(dev))
	for name, line := range dev {
		out[name] = InterfaceStats{
			BytesSent:   line.TxBytes,
			BytesRecv:   line.RxBytes,
			PacketsSent: line.TxPackets,
			PacketsRecv: line.RxPackets,
			ErrIn:       line.RxErrors,
			ErrOut:      line.TxErrors,
			DropIn:      line.RxDropped,
			DropOut:     line.TxDropped,
		}
	}
	return out, nil
}

// Package sysinfo provides a read-only adapter describing the running
// server and its host.
package sysinfo

import (
	"context"
	"net/http"
	"os"
	"runtime"
	"runtime/debug"
	"time"

	"github.com/odin-detector/odin-control/internal/adapter"
	"github.com/odin-detector/odin-control/internal/paramtree"
)

// Kind is the name this adapter registers under.
const Kind = "sysinfo"

// Version is reported as odin_version. It is set by main from the build.
var Version = "dev"

func init() {
	adapter.RegisterKind(Kind, func() adapter.Adapter { return New() })
}

// Adapter serves static facts about the process plus its uptime.
type Adapter struct {
	adapter.TreeAdapter

	started time.Time
	now     func() time.Time
}

// New creates a sysinfo adapter. The uptime clock starts here.
func New() *Adapter {
	return &Adapter{started: time.Now(), now: time.Now}
}

// Initialize builds the tree. It accepts no options.
func (a *Adapter) Initialize(context.Context, adapter.Options) error {
	host, err := os.Hostname()
	if err != nil {
		host = "unknown"
	}

	const precision = 2
	a.SetTree(paramtree.New(paramtree.Map(
		paramtree.Field("odin_version", constant(Version, "odin version", "odin-control server version")),
		paramtree.Field("go_version", constant(runtime.Version(), "go version", "Go runtime the server was built with")),
		paramtree.Field("module", constant(modulePath(), "module", "main module path")),
		paramtree.Field("platform", paramtree.Map(
			paramtree.Field("system", constant(runtime.GOOS, "system", "operating system name")),
			paramtree.Field("node", constant(host, "node", "node (host) name")),
			paramtree.Field("processor", constant(runtime.GOARCH, "processor", "processor architecture")),
			paramtree.Field("cpus", paramtree.Bound(paramtree.Int,
				func() (any, error) { return runtime.NumCPU(), nil }, nil,
				paramtree.WithName("cpus"),
				paramtree.WithDescription("logical CPUs usable by the process"),
			)),
		)),
		paramtree.Field("pid", paramtree.Bound(paramtree.Int,
			func() (any, error) { return os.Getpid(), nil }, nil,
			paramtree.WithName("pid"),
		)),
		paramtree.Field("server_uptime", paramtree.Bound(paramtree.Float,
			func() (any, error) { return a.now().Sub(a.started).Seconds(), nil }, nil,
			paramtree.WithName("server uptime"),
			paramtree.WithDescription("time since the odin server started"),
			paramtree.WithUnits("s"),
			paramtree.WithDisplayPrecision(precision),
		)),
	)))
	return nil
}

// Info describes the adapter. Only GET is served.
func (a *Adapter) Info() adapter.Info {
	return adapter.Info{
		Version:     Version,
		Description: "information about the system hosting this server",
		Methods:     []string{http.MethodGet},
	}
}

func constant(v, name, description string) *paramtree.Leaf {
	return paramtree.Bound(paramtree.String,
		func() (any, error) { return v, nil }, nil,
		paramtree.WithName(name),
		paramtree.WithDescription(description),
	)
}

func modulePath() string {
	if bi, ok := debug.ReadBuildInfo(); ok {
		return bi.Main.Path
	}
	return "unknown"
}

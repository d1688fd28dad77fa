// Package proxy provides an adapter that forwards requests to adapters on
// remote odin-control servers and caches what they return.
//
// Options:
//
//	targets          name=url pairs, as a mapping or a comma-separated string
//	request_timeout  per-request timeout (5s)
//	max_parallel     remote requests in flight during fan-out (8)
//
// A target url names a remote adapter, e.g.
// http://detector-1:8888/api/0.1/camera. The adapter tree is
//
//	{target}/...               cached copy of the remote adapter's tree
//	status/{target}/url
//	status/{target}/status_code
//	status/{target}/error
//	status/{target}/last_update
//
// Requests to the root fan out to every target. Requests below a target
// name go to that target only. Remote failures never fail a fan-out; they
// are recorded in the status subtree.
package proxy

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"slices"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/odin-detector/odin-control/internal/adapter"
	"github.com/odin-detector/odin-control/internal/paramtree"
)

// Kind is the name this adapter registers under.
const Kind = "proxy"

const (
	statusKey             = "status"
	defaultRequestTimeout = 5 * time.Second
	defaultMaxParallel    = 8
)

func init() {
	adapter.RegisterKind(Kind, func() adapter.Adapter { return New() })
}

// Adapter proxies its tree to one or more remote adapters.
type Adapter struct {
	targets     []*target
	byName      map[string]*target
	status      *paramtree.Tree
	maxParallel int
	client      *http.Client
	logger      adapter.Logger
}

// New creates a proxy adapter with a default HTTP client.
func New() *Adapter {
	return &Adapter{client: &http.Client{}}
}

// NewWithClient creates a proxy adapter that sends requests with c.
func NewWithClient(c *http.Client) *Adapter {
	return &Adapter{client: c}
}

// Initialize resolves the targets and performs an initial fetch of each.
// An unreachable target does not fail initialisation.
func (a *Adapter) Initialize(ctx context.Context, opts adapter.Options) error {
	a.logger = opts.Log()

	timeout, err := opts.Duration("request_timeout", defaultRequestTimeout)
	if err != nil {
		return err
	}
	if timeout <= 0 {
		return fmt.Errorf("%w: request_timeout must be positive", adapter.ErrInvalidOption)
	}
	if a.maxParallel, err = opts.Int("max_parallel", defaultMaxParallel); err != nil {
		return err
	}
	if a.maxParallel < 1 {
		return fmt.Errorf("%w: max_parallel must be at least 1", adapter.ErrInvalidOption)
	}

	pairs, err := parseTargets(opts)
	if err != nil {
		return err
	}

	client := *a.client
	client.Timeout = timeout

	a.byName = make(map[string]*target, len(pairs))
	statusEntries := make([]paramtree.Entry, 0, len(pairs))
	for _, p := range pairs {
		t := newTarget(p[0], p[1], &client)
		a.targets = append(a.targets, t)
		a.byName[t.name] = t
		statusEntries = append(statusEntries, paramtree.Field(t.name, t.statusNode()))
		a.logger.Debug("proxy target configured", "target", t.name, "url", t.url)
	}
	a.status = paramtree.New(paramtree.Map(
		paramtree.Field(statusKey, paramtree.Map(statusEntries...)),
	))

	if err := a.fanOut(func(t *target) error { return t.get(ctx, nil, false) }); err != nil {
		a.logger.Warn("initial proxy fetch incomplete", "error", err)
	}
	if err := a.fanOut(func(t *target) error { return t.get(ctx, nil, true) }); err != nil {
		a.logger.Debug("initial proxy metadata fetch incomplete", "error", err)
	}
	return nil
}

// Info describes the adapter. DELETE is not proxied.
func (a *Adapter) Info() adapter.Info {
	return adapter.Info{
		Version:     "1.0.0",
		Description: "proxy for adapters on remote odin-control servers",
		Methods:     []string{http.MethodGet, http.MethodPut, http.MethodPost},
	}
}

// Dispatch forwards req to the targets it addresses.
//
// Internal requests, such as the snapshot taken after a periodic update,
// are served from the cache without contacting the targets.
func (a *Adapter) Dispatch(ctx context.Context, req adapter.Request) (adapter.Response, error) {
	if req.Path.HasWildcard() {
		return adapter.Response{}, fmt.Errorf("%w: wildcards are not proxied: %s", paramtree.ErrPathNotFound, req.Path)
	}

	var head string
	var rest paramtree.Path
	if len(req.Path) > 0 {
		head, rest = req.Path[0], req.Path[1:]
	}

	switch {
	case head == statusKey:
		if req.Method != http.MethodGet {
			return adapter.Response{}, fmt.Errorf("%w: %s", paramtree.ErrNotWritable, req.Path)
		}
		data, err := adapter.Read(a.status, req.Path, req.WithMetadata)
		if err != nil {
			return adapter.Response{}, err
		}
		return adapter.OK(data), nil

	case head == "":
		if req.Source != "internal" {
			//nolint:errcheck // failures are recorded in the status subtree
			a.fanOut(a.operation(ctx, req, nil))
		}
		return a.renderAll(req.WithMetadata)

	default:
		t, ok := a.byName[head]
		if !ok {
			return adapter.Response{}, fmt.Errorf("%w: %s", paramtree.ErrPathNotFound, head)
		}
		var opErr error
		if req.Source != "internal" {
			opErr = a.operation(ctx, req, rest)(t)
		}
		return a.renderTarget(t, req.Path, rest, req.WithMetadata, opErr)
	}
}

// PeriodicUpdate refreshes every target's cached tree.
func (a *Adapter) PeriodicUpdate(ctx context.Context) error {
	return a.fanOut(func(t *target) error { return t.get(ctx, nil, false) })
}

// Targets returns the configured target names in order.
func (a *Adapter) Targets() []string {
	names := make([]string, len(a.targets))
	for i, t := range a.targets {
		names[i] = t.name
	}
	return names
}

// operation returns the per-target call for req, addressed at rest.
func (a *Adapter) operation(ctx context.Context, req adapter.Request, rest paramtree.Path) func(*target) error {
	switch req.Method {
	case http.MethodPut, http.MethodPost:
		return func(t *target) error { return t.set(ctx, rest, req.Body) }
	default:
		return func(t *target) error { return t.get(ctx, rest, req.WithMetadata) }
	}
}

// fanOut runs fn against every target, at most maxParallel at a time, and
// joins the failures.
func (a *Adapter) fanOut(fn func(*target) error) error {
	errs := make([]error, len(a.targets))

	var g errgroup.Group
	g.SetLimit(a.maxParallel)
	for i, t := range a.targets {
		i, t := i, t
		g.Go(func() error {
			errs[i] = fn(t)
			return nil
		})
	}
	//nolint:errcheck // workers never return an error
	g.Wait()

	err := errors.Join(errs...)
	if err != nil {
		a.logger.Debug("proxy fan-out had failures", "error", err)
	}
	return err
}

func (a *Adapter) renderAll(withMeta bool) (adapter.Response, error) {
	out := make(paramtree.Object, 0, len(a.targets)+1)
	for _, t := range a.targets {
		v, err := t.snapshot(nil, withMeta)
		if err != nil {
			return adapter.Response{}, err
		}
		out = append(out, paramtree.Pair{Key: t.name, Value: v})
	}
	status, err := adapter.Read(a.status, nil, withMeta)
	if err != nil {
		return adapter.Response{}, err
	}
	out = append(out, status.(paramtree.Object)...)
	return adapter.OK(out), nil
}

// renderTarget renders rest from t's cache. When the remote call failed
// and nothing is cached at rest, the response carries the remote status.
func (a *Adapter) renderTarget(t *target, full, rest paramtree.Path, withMeta bool, opErr error) (adapter.Response, error) {
	v, err := t.snapshot(rest, withMeta)
	if err != nil {
		if opErr == nil {
			return adapter.Response{}, err
		}
		t.mu.Lock()
		code, msg := t.statusCode, t.errString
		t.mu.Unlock()
		return adapter.Response{
			Status: int(code),
			Data:   paramtree.Object{{Key: "error", Value: msg}},
		}, nil
	}
	return adapter.OK(paramtree.Object{{Key: full.Last(), Value: v}}), nil
}

// parseTargets reads the targets option, preserving order for the string
// form and sorting names for the mapping form.
func parseTargets(opts adapter.Options) ([][2]string, error) {
	var pairs [][2]string

	switch v := opts.Values["targets"].(type) {
	case nil:
	case string:
		for _, entry := range strings.Split(v, ",") {
			entry = strings.TrimSpace(entry)
			if entry == "" {
				continue
			}
			name, url, ok := strings.Cut(entry, "=")
			if !ok {
				return nil, fmt.Errorf("%w: target %q must be name=url", adapter.ErrInvalidOption, entry)
			}
			pairs = append(pairs, [2]string{strings.TrimSpace(name), strings.TrimSpace(url)})
		}
	case map[string]any:
		names := make([]string, 0, len(v))
		for name := range v {
			names = append(names, name)
		}
		slices.Sort(names)
		for _, name := range names {
			url, ok := v[name].(string)
			if !ok {
				return nil, fmt.Errorf("%w: url of target %s must be a string", adapter.ErrInvalidOption, name)
			}
			pairs = append(pairs, [2]string{name, url})
		}
	default:
		return nil, fmt.Errorf("%w: targets must be a mapping or a string, got %T", adapter.ErrInvalidOption, v)
	}

	if len(pairs) == 0 {
		return nil, fmt.Errorf("%w: no proxy targets configured", adapter.ErrInvalidOption)
	}
	seen := make(map[string]bool, len(pairs))
	for _, p := range pairs {
		switch {
		case p[0] == "" || p[1] == "":
			return nil, fmt.Errorf("%w: target %q=%q is incomplete", adapter.ErrInvalidOption, p[0], p[1])
		case p[0] == statusKey:
			return nil, fmt.Errorf("%w: target name %q is reserved", adapter.ErrInvalidOption, statusKey)
		case seen[p[0]]:
			return nil, fmt.Errorf("%w: duplicate target %s", adapter.ErrInvalidOption, p[0])
		}
		seen[p[0]] = true
	}
	return pairs, nil
}

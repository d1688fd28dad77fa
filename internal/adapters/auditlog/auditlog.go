// Package auditlog provides a read-only adapter over the write audit
// trail, so recent writes can be inspected through the same API they
// were made with.
//
// Options:
//
//	limit    number of recent entries served (20)
//	adapter  only show writes to this adapter (all)
//
// The tree is rebuilt from the database on every GET:
//
//	total      entries matching the filter
//	failed     of those, entries with a status of 400 or above
//	entries/N  id, request_id, adapter, path, method, source, status,
//	           error, duration, created_at (most recent first)
package auditlog

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/odin-detector/odin-control/internal/adapter"
	"github.com/odin-detector/odin-control/internal/audit"
	"github.com/odin-detector/odin-control/internal/paramtree"
)

// Kind is the name this adapter registers under.
const Kind = "auditlog"

const (
	defaultLimit = 20
	maxLimit     = 500
)

func init() {
	adapter.RegisterKind(Kind, func() adapter.Adapter { return &Adapter{} })
}

// Adapter serves the audit trail. It needs the audit reader from
// adapter.Dependencies and fails to initialise without one.
type Adapter struct {
	adapter.TreeAdapter

	reader audit.Reader
	filter audit.Filter
	logger adapter.Logger
}

// New creates an auditlog adapter reading from r. Build uses the reader
// in Options.Deps instead.
func New(r audit.Reader) *Adapter {
	return &Adapter{reader: r}
}

// Initialize reads the options and renders the current trail once.
func (a *Adapter) Initialize(ctx context.Context, opts adapter.Options) error {
	a.logger = opts.Log()

	if a.reader == nil {
		r, ok := opts.Deps.AuditLog.(audit.Reader)
		if !ok || r == nil {
			return fmt.Errorf("%w: auditlog needs the database to be enabled", adapter.ErrInvalidOption)
		}
		a.reader = r
	}

	limit, err := opts.Int("limit", defaultLimit)
	if err != nil {
		return err
	}
	if limit < 1 || limit > maxLimit {
		return fmt.Errorf("%w: limit must be between 1 and %d", adapter.ErrInvalidOption, maxLimit)
	}
	name, err := opts.String("adapter", "")
	if err != nil {
		return err
	}
	a.filter = audit.Filter{Adapter: name, Limit: limit}

	a.logger.Debug("auditlog adapter loaded", "limit", limit, "adapter_filter", name)
	return a.refresh(ctx)
}

// Info describes the adapter. Only GET is served.
func (a *Adapter) Info() adapter.Info {
	return adapter.Info{
		Version:     "1.0.0",
		Description: "recent writes to adapters on this server",
		Methods:     []string{http.MethodGet},
	}
}

// Dispatch reloads the trail and serves req from it.
func (a *Adapter) Dispatch(ctx context.Context, req adapter.Request) (adapter.Response, error) {
	if err := a.refresh(ctx); err != nil {
		return adapter.Response{}, err
	}
	return a.TreeAdapter.Dispatch(ctx, req)
}

func (a *Adapter) refresh(ctx context.Context) error {
	page, err := a.reader.List(ctx, a.filter)
	if err != nil {
		return fmt.Errorf("reading audit log: %w", err)
	}
	failedFilter := a.filter
	failedFilter.FailedOnly = true
	failedFilter.Limit = 1
	failed, err := a.reader.List(ctx, failedFilter)
	if err != nil {
		return fmt.Errorf("reading audit log: %w", err)
	}

	items := make([]paramtree.Node, len(page.Entries))
	for i, e := range page.Entries {
		items[i] = entryNode(e)
	}

	a.SetTree(paramtree.New(paramtree.Map(
		paramtree.Field("total", field(paramtree.Int, page.Total)),
		paramtree.Field("failed", field(paramtree.Int, failed.Total)),
		paramtree.Field("entries", paramtree.Seq(items...)),
	)))
	return nil
}

func entryNode(e audit.Entry) *paramtree.Mapping {
	return paramtree.Map(
		paramtree.Field("id", field(paramtree.String, e.ID)),
		paramtree.Field("request_id", field(paramtree.String, e.RequestID)),
		paramtree.Field("adapter", field(paramtree.String, e.Adapter)),
		paramtree.Field("path", field(paramtree.String, e.Path)),
		paramtree.Field("method", field(paramtree.String, e.Method)),
		paramtree.Field("source", field(paramtree.String, e.Source)),
		paramtree.Field("status", field(paramtree.Int, e.Status)),
		paramtree.Field("error", field(paramtree.String, e.Error)),
		paramtree.Field("duration", paramtree.Value(paramtree.Float, e.Duration.Seconds(),
			paramtree.ReadOnly(), paramtree.WithUnits("s"), paramtree.WithDisplayPrecision(3))),
		paramtree.Field("created_at", field(paramtree.String, e.CreatedAt.Format(time.RFC3339Nano))),
	)
}

func field(t paramtree.Type, v any) *paramtree.Leaf {
	return paramtree.Value(t, v, paramtree.ReadOnly())
}

// Package iac provides an adapter that talks to the other adapters loaded
// in the same server.
//
// Options:
//
//	peers  names of the adapters to expose (every peer)
//
// GET on the root renders every exposed peer's tree keyed by name. Any
// other path names a peer first and is passed on to it, so
// GET /api/1.0/iac/dummy/exposure is answered by the dummy adapter. PUT
// is forwarded the same way; the root itself is not writable.
//
// Other adapters that call peers are never exposed.
package iac

import (
	"context"
	"fmt"
	"net/http"
	"slices"

	"github.com/odin-detector/odin-control/internal/adapter"
	"github.com/odin-detector/odin-control/internal/paramtree"
)

// Kind is the name this adapter registers under.
const Kind = "iac"

func init() {
	adapter.RegisterKind(Kind, func() adapter.Adapter { return New() })
}

// Adapter aggregates and forwards to its linked peers.
type Adapter struct {
	want   []string
	names  []string
	peers  map[string]*adapter.Handle
	logger adapter.Logger
}

// New creates an unlinked iac adapter.
func New() *Adapter {
	return &Adapter{peers: map[string]*adapter.Handle{}}
}

// Initialize reads the peer filter.
func (a *Adapter) Initialize(_ context.Context, opts adapter.Options) error {
	a.logger = opts.Log()

	want, err := opts.Strings("peers")
	if err != nil {
		return err
	}
	a.want = want
	return nil
}

// Link mounts the peers that pass the filter. Names in the filter that
// are not loaded are logged and skipped.
func (a *Adapter) Link(peers []*adapter.Handle) {
	for _, h := range peers {
		if len(a.want) > 0 && !slices.Contains(a.want, h.Name()) {
			continue
		}
		a.peers[h.Name()] = h
		a.names = append(a.names, h.Name())
	}
	for _, name := range a.want {
		if _, ok := a.peers[name]; !ok {
			a.logger.Warn("iac peer not available", "peer", name)
		}
	}
	a.logger.Debug("iac linked", "peers", a.names)
}

// Peers returns the exposed peer names in registration order.
func (a *Adapter) Peers() []string {
	return append([]string(nil), a.names...)
}

// Info describes the adapter.
func (a *Adapter) Info() adapter.Info {
	return adapter.Info{
		Version:     "1.0.0",
		Description: "inter-adapter communication over the other loaded adapters",
		Methods:     []string{http.MethodGet, http.MethodPut},
	}
}

// Dispatch serves the aggregate or forwards to the named peer.
func (a *Adapter) Dispatch(ctx context.Context, req adapter.Request) (adapter.Response, error) {
	switch req.Method {
	case http.MethodGet:
		return a.get(ctx, req)

	case http.MethodPut:
		if len(req.Path) == 0 {
			return adapter.Response{}, fmt.Errorf("%w: write to a peer path instead", paramtree.ErrNotWritable)
		}
		h, err := a.peer(req.Path[0])
		if err != nil {
			return adapter.Response{}, err
		}
		fwd := req
		fwd.Path = req.Path[1:]
		return h.Dispatch(ctx, fwd)
	}
	return adapter.Response{}, fmt.Errorf("%w: %s", adapter.ErrMethodNotAllowed, req.Method)
}

// get renders the aggregate at the root. Below it the peer answers and a
// path naming only the peer is wrapped in that name, as a branch would be.
func (a *Adapter) get(ctx context.Context, req adapter.Request) (adapter.Response, error) {
	if len(req.Path) > 0 {
		h, err := a.peer(req.Path[0])
		if err != nil {
			return adapter.Response{}, err
		}
		fwd := req
		fwd.Path = req.Path[1:]
		resp, err := h.Dispatch(ctx, fwd)
		if err != nil || len(req.Path) > 1 {
			return resp, err
		}
		return adapter.OK(paramtree.Object{{Key: h.Name(), Value: resp.Data}}), nil
	}

	out := make(paramtree.Object, 0, len(a.names))
	for _, name := range a.names {
		fwd := req
		fwd.Path = nil
		resp, err := a.peers[name].Dispatch(ctx, fwd)
		if err != nil {
			return adapter.Response{}, fmt.Errorf("%s: %w", name, err)
		}
		out = append(out, paramtree.Pair{Key: name, Value: resp.Data})
	}
	return adapter.OK(out), nil
}

func (a *Adapter) peer(name string) (*adapter.Handle, error) {
	h, ok := a.peers[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", paramtree.ErrPathNotFound, name)
	}
	return h, nil
}

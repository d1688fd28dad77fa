package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/odin-detector/odin-control/internal/adapter"
	"github.com/odin-detector/odin-control/internal/paramtree"
)

// statusClientClosed is recorded (never sent) when the client goes away
// before the adapter answers.
const statusClientClosed = 499

// versionParam returns the {version} URL segment.
func versionParam(r *http.Request) string {
	return chi.URLParam(r, "version")
}

// handleAPIVersion reports the API version served.
func (s *Server) handleAPIVersion(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"api_version": s.cfg.Version})
}

// handleDiscovery serves the read-only adapters view.
//
//	GET /api/{v}/adapters                -> {"adapters": [descriptor...]}
//	GET /api/{v}/adapters/{name}/{path}  -> the adapter's tree at path
func (s *Server) handleDiscovery(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, ErrCodeMethodNotAllowed,
			fmt.Sprintf("%s not allowed on %s", r.Method, adapter.ReservedName))
		return
	}

	rep, err := negotiate(r.Header.Get("Accept"))
	if err != nil {
		writeErr(w, err)
		return
	}

	path := paramtree.ParsePath(chi.URLParam(r, "*"))
	if len(path) == 0 {
		if err := render(w, http.StatusOK, rep, map[string]any{"adapters": s.registry.List()}); err != nil {
			writeInternalError(w, err.Error())
		}
		return
	}

	if path[0] != paramtree.Wildcard && !s.registry.Has(path[0]) {
		writeErr(w, fmt.Errorf("%w: %q", adapter.ErrAdapterNotFound, path[0]))
		return
	}

	data, err := s.view.Get(path)
	if err != nil {
		writeErr(w, err)
		return
	}
	if err := render(w, http.StatusOK, rep, data); err != nil {
		writeInternalError(w, err.Error())
	}
}

// handleAdapter routes one request to an adapter through the dispatcher.
func (s *Server) handleAdapter(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	name := chi.URLParam(r, "adapter")
	status := s.serveAdapter(w, r, name)

	label := name
	if !s.registry.Has(name) {
		label = "unknown"
	}
	s.metrics.ObserveRequest(label, r.Method, status, time.Since(start))
}

// serveAdapter writes the response and returns the status it used.
func (s *Server) serveAdapter(w http.ResponseWriter, r *http.Request, name string) int {
	fail := func(err error) int {
		status, _ := classify(err)
		writeErr(w, err)
		return status
	}

	if !s.registry.Has(name) {
		return fail(fmt.Errorf("%w: %q", adapter.ErrAdapterNotFound, name))
	}

	rep, err := negotiate(r.Header.Get("Accept"))
	if err != nil {
		return fail(err)
	}

	req := adapter.Request{
		Method:       r.Method,
		Path:         paramtree.ParsePath(chi.URLParam(r, "*")),
		WithMetadata: rep.metadata,
		RequestID:    requestIDFrom(r.Context()),
		Source:       "http",
	}
	if r.Method == http.MethodPut || r.Method == http.MethodPost {
		if req.Body, err = decodeBody(r); err != nil {
			return fail(err)
		}
	}

	resp, err := s.dispatcher.Dispatch(r.Context(), name, req)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			s.logger.Debug("client went away before adapter answered",
				"adapter", name,
				"method", r.Method,
				"request_id", req.RequestID,
			)
			return statusClientClosed
		}
		return fail(err)
	}

	status := resp.Status
	if status == 0 {
		status = http.StatusOK
	}
	if err := render(w, status, rep, resp.Data); err != nil {
		s.logger.Error("rendering adapter response", "adapter", name, "error", err)
		writeInternalError(w, "failed to encode response")
		return http.StatusInternalServerError
	}
	return status
}

package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/odin-detector/odin-control/internal/adapter"
	"github.com/odin-detector/odin-control/internal/infrastructure/config"
	"github.com/odin-detector/odin-control/internal/infrastructure/logging"
	"github.com/odin-detector/odin-control/internal/paramtree"
)

// gracefulShutdownTimeout is the maximum time to wait for in-flight requests
// to complete during shutdown.
const gracefulShutdownTimeout = 10 * time.Second

// HealthCheck reports whether one dependency is usable.
type HealthCheck func(ctx context.Context) error

// Deps holds the dependencies required by the API server.
type Deps struct {
	Config     config.APIConfig
	WS         config.WebSocketConfig
	Logger     *logging.Logger
	Dispatcher *adapter.Dispatcher

	// Metrics is created by New when nil.
	Metrics *Metrics

	// HealthChecks are reported by /health under their names.
	HealthChecks map[string]HealthCheck

	// Static serves every path no other route claims. Nil leaves them 404.
	Static http.Handler

	Version string
}

// Server is the HTTP API server for odin-control.
//
// It manages the HTTP listener, routes, middleware, and WebSocket hub.
// The server is created with New() and started with Start().
type Server struct {
	cfg        config.APIConfig
	wsCfg      config.WebSocketConfig
	logger     *logging.Logger
	dispatcher *adapter.Dispatcher
	registry   *adapter.Registry
	view       *paramtree.View
	metrics    *Metrics
	checks     map[string]HealthCheck
	static     http.Handler
	version    string
	startTime  time.Time
	server     *http.Server
	hub        *Hub
	cancel     context.CancelFunc // cancels background goroutines on Close()
}

// New creates a new API server with the given dependencies.
//
// The server is not started until Start() is called. The registry behind
// the dispatcher is expected to be sealed: the discovery view is built
// from it here.
func New(deps Deps) (*Server, error) {
	if deps.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if deps.Dispatcher == nil {
		return nil, fmt.Errorf("dispatcher is required")
	}
	if deps.Config.Version == "" {
		return nil, fmt.Errorf("api version is required")
	}

	s := &Server{
		cfg:        deps.Config,
		wsCfg:      deps.WS,
		logger:     deps.Logger,
		dispatcher: deps.Dispatcher,
		registry:   deps.Dispatcher.Registry(),
		metrics:    deps.Metrics,
		checks:     deps.HealthChecks,
		static:     deps.Static,
		version:    deps.Version,
		startTime:  time.Now(),
	}
	if s.metrics == nil {
		s.metrics = NewMetrics()
	}
	if s.wsCfg.Path == "" {
		s.wsCfg.Path = "/ws"
	}
	if s.wsCfg.PingInterval <= 0 {
		s.wsCfg.PingInterval = 30
	}
	if s.wsCfg.PongTimeout <= 0 {
		s.wsCfg.PongTimeout = 10
	}
	if s.wsCfg.MaxMessageSize <= 0 {
		s.wsCfg.MaxMessageSize = 8192
	}

	s.hub = NewHub(s.wsCfg, s.logger.With("component", "websocket"))
	s.hub.onCount = s.metrics.SetWSClients
	s.hub.dispatcher = s.dispatcher

	s.view = paramtree.NewView()
	for _, h := range s.registry.Handles() {
		s.view.Mount(h.Name(), dispatchSource{dispatcher: s.dispatcher, name: h.Name()})
	}

	return s, nil
}

// Hub returns the WebSocket hub so that update and write hooks can be
// wired to it.
func (s *Server) Hub() *Hub {
	return s.hub
}

// Metrics returns the server's collectors.
func (s *Server) Metrics() *Metrics {
	return s.metrics
}

// Handler returns the fully wired HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.buildRouter()
}

// Start begins listening for HTTP connections.
//
// It starts the WebSocket hub and launches the HTTP listener in a
// background goroutine. The server can be stopped with Close().
func (s *Server) Start(ctx context.Context) error {
	// Internal context so Close() can stop background goroutines
	// independently of the parent context.
	var srvCtx context.Context
	srvCtx, s.cancel = context.WithCancel(ctx)

	go s.hub.Run(srvCtx)

	s.server = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port),
		Handler:           s.buildRouter(),
		ReadTimeout:       time.Duration(s.cfg.Timeouts.Read) * time.Second,
		ReadHeaderTimeout: time.Duration(s.cfg.Timeouts.Read) * time.Second,
		WriteTimeout:      time.Duration(s.cfg.Timeouts.Write) * time.Second,
		IdleTimeout:       time.Duration(s.cfg.Timeouts.Idle) * time.Second,
	}

	go func() {
		var err error
		if s.cfg.TLS.Enabled {
			s.logger.Info("API server starting with TLS",
				"address", s.server.Addr,
				"cert", s.cfg.TLS.CertFile,
			)
			err = s.server.ListenAndServeTLS(s.cfg.TLS.CertFile, s.cfg.TLS.KeyFile)
		} else {
			s.logger.Info("API server starting", "address", s.server.Addr, "api_version", s.cfg.Version)
			err = s.server.ListenAndServe()
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("API server error", "error", err)
		}
	}()

	return nil
}

// Close gracefully shuts down the API server.
//
// It waits up to 10 seconds for in-flight requests to complete,
// then forcefully closes remaining connections.
func (s *Server) Close() error {
	if s.server == nil {
		return nil
	}

	if s.cancel != nil {
		s.cancel()
	}

	ctx, cancel := context.WithTimeout(context.Background(), gracefulShutdownTimeout)
	defer cancel()

	s.logger.Info("API server shutting down")
	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutting down API server: %w", err)
	}
	return nil
}

// HealthCheck verifies the API server is running.
func (s *Server) HealthCheck(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return fmt.Errorf("api health check: %w", ctx.Err())
	default:
	}

	if s.server == nil {
		return fmt.Errorf("api server not started")
	}

	return nil
}

// dispatchSource mounts an adapter in the discovery view. Reads go
// through the dispatcher so they honour the adapter lock and timeout.
type dispatchSource struct {
	dispatcher *adapter.Dispatcher
	name       string
}

func (d dispatchSource) Get(path paramtree.Path) (any, error) {
	resp, err := d.dispatcher.Dispatch(context.Background(), d.name, adapter.Request{
		Method: http.MethodGet,
		Path:   path,
		Source: "http",
	})
	if err != nil {
		return nil, err
	}
	return resp.Data, nil
}

package audit

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/odin-detector/odin-control/internal/adapter"
)

const (
	writeTimeout = 5 * time.Second

	// maxBodyBytes caps the stored request body. Larger bodies are kept
	// as a truncated string.
	maxBodyBytes = 4096
)

// Logger is the logging interface used by the recorder.
type Logger interface {
	Warn(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Warn(string, ...any) {}

// StatusFunc maps a dispatch error to the HTTP status its caller saw.
type StatusFunc func(err error) int

// Recorder turns dispatcher write events into audit entries.
type Recorder struct {
	repo   Repository
	status StatusFunc
	logger Logger
}

// NewRecorder creates a recorder writing to repo. status maps failed
// writes to a status code; nil records them as 500.
func NewRecorder(repo Repository, status StatusFunc) *Recorder {
	if status == nil {
		status = func(error) int { return http.StatusInternalServerError }
	}
	return &Recorder{repo: repo, status: status, logger: noopLogger{}}
}

// SetLogger sets the logger.
func (r *Recorder) SetLogger(logger Logger) {
	r.logger = logger
}

// Hook is an adapter.WriteHook. A failed insert is logged and dropped.
func (r *Recorder) Hook(ctx context.Context, ev adapter.WriteEvent) {
	e := Entry{
		RequestID: ev.Request.RequestID,
		Adapter:   ev.Adapter,
		Path:      ev.Request.Path.String(),
		Method:    ev.Request.Method,
		Source:    ev.Request.Source,
		Status:    ev.Response.Status,
		Body:      storedBody(ev.Request.Body),
		Duration:  ev.Elapsed,
	}
	if e.Source == "" {
		e.Source = "internal"
	}
	if ev.Err != nil {
		e.Status = r.status(ev.Err)
		e.Error = ev.Err.Error()
	} else if e.Status == 0 {
		e.Status = http.StatusOK
	}

	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	if err := r.repo.Create(ctx, &e); err != nil {
		r.logger.Warn("audit entry not recorded",
			"adapter", ev.Adapter,
			"path", e.Path,
			"request_id", e.RequestID,
			"error", err,
		)
	}
}

func storedBody(body any) any {
	if body == nil {
		return nil
	}
	b, err := json.Marshal(body)
	if err != nil {
		return nil
	}
	if len(b) > maxBodyBytes {
		return string(b[:maxBodyBytes])
	}
	return body
}

package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/odin-detector/odin-control/internal/adapter"
	"github.com/odin-detector/odin-control/internal/paramtree"
)

// Domain-specific errors raised by the router itself.
var (
	// ErrVersionNotSupported is returned when the path names an API version
	// other than the one served.
	ErrVersionNotSupported = errors.New("api: version not supported")

	// ErrNotAcceptable is returned when no representation in the Accept
	// header can be produced.
	ErrNotAcceptable = errors.New("api: not acceptable")

	// ErrUnsupportedMediaType is returned for request bodies in a type the
	// server cannot decode.
	ErrUnsupportedMediaType = errors.New("api: unsupported media type")

	// ErrBadRequest is returned for request bodies that cannot be decoded.
	ErrBadRequest = errors.New("api: bad request")
)

// Error represents a structured error response.
type Error struct {
	Status  int    `json:"status"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Error codes. Tree error codes come from paramtree.ErrorCode.
const (
	ErrCodeBadRequest           = "BadRequest"
	ErrCodeVersionNotSupported  = "VersionNotSupported"
	ErrCodeAdapterNotFound      = "AdapterNotFound"
	ErrCodeNotAcceptable        = "NotAcceptable"
	ErrCodeUnsupportedMediaType = "UnsupportedMediaType"
	ErrCodeUnsupported          = "Unsupported"
	ErrCodeMethodNotAllowed     = "MethodNotAllowed"
	ErrCodeGatewayTimeout       = "GatewayTimeout"
	ErrCodeNotFound             = "NotFound"
	ErrCodeInternal             = "InternalError"
)

// treeStatus maps paramtree error codes to HTTP status.
var treeStatus = map[string]int{
	"PathNotFound":    http.StatusNotFound,
	"NotTraversable":  http.StatusBadRequest,
	"NotWritable":     http.StatusBadRequest,
	"TypeMismatch":    http.StatusBadRequest,
	"InvalidValue":    http.StatusBadRequest,
	"AdapterRejected": http.StatusConflict,
}

// classify maps an error from any layer to a status code and error code.
func classify(err error) (int, string) {
	if code := paramtree.ErrorCode(err); code != "" {
		return treeStatus[code], code
	}

	switch {
	case errors.Is(err, ErrVersionNotSupported):
		return http.StatusBadRequest, ErrCodeVersionNotSupported
	case errors.Is(err, ErrBadRequest), errors.Is(err, adapter.ErrInvalidOption):
		return http.StatusBadRequest, ErrCodeBadRequest
	case errors.Is(err, adapter.ErrAdapterNotFound):
		return http.StatusNotFound, ErrCodeAdapterNotFound
	case errors.Is(err, ErrNotAcceptable):
		return http.StatusNotAcceptable, ErrCodeNotAcceptable
	case errors.Is(err, ErrUnsupportedMediaType):
		return http.StatusUnsupportedMediaType, ErrCodeUnsupportedMediaType
	case errors.Is(err, adapter.ErrUnsupported):
		return http.StatusMethodNotAllowed, ErrCodeUnsupported
	case errors.Is(err, adapter.ErrMethodNotAllowed):
		return http.StatusMethodNotAllowed, ErrCodeMethodNotAllowed
	case errors.Is(err, adapter.ErrTimeout), errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, ErrCodeGatewayTimeout
	default:
		return http.StatusInternalServerError, ErrCodeInternal
	}
}

// StatusCode returns the HTTP status err is reported with.
func StatusCode(err error) int {
	status, _ := classify(err)
	return status
}

// writeJSON writes a JSON response with the given status code and payload.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", mediaJSON)
	w.WriteHeader(status)
	if v != nil {
		//nolint:errcheck // Best-effort write to response; connection may be closed
		json.NewEncoder(w).Encode(v)
	}
}

// writeError writes a structured error response.
func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, Error{
		Status:  status,
		Code:    code,
		Message: message,
	})
}

// writeErr classifies err and writes it.
func writeErr(w http.ResponseWriter, err error) {
	status, code := classify(err)
	writeError(w, status, code, err.Error())
}

// writeInternalError writes a 500 error response.
func writeInternalError(w http.ResponseWriter, message string) {
	writeError(w, http.StatusInternalServerError, ErrCodeInternal, message)
}

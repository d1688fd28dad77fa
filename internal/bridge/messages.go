package bridge

import "time"

// SourceMQTT marks requests that arrived on a command topic.
const SourceMQTT = "mqtt"

// ResponseMessage reports the outcome of one command.
// Topic: {prefix}/response/{adapter}
type ResponseMessage struct {
	// RequestID correlates the response with logs and audit entries.
	RequestID string `json:"request_id"`

	Adapter string `json:"adapter"`
	Path    string `json:"path"`

	// Status is the HTTP status the same request would have produced.
	Status int `json:"status"`

	Data  any    `json:"data,omitempty"`
	Error string `json:"error,omitempty"`

	Timestamp time.Time `json:"timestamp"`
}

// StateMessage carries an adapter snapshot.
// Topic: {prefix}/state/{adapter}
type StateMessage struct {
	Adapter   string    `json:"adapter"`
	Data      any       `json:"data"`
	Timestamp time.Time `json:"timestamp"`
}

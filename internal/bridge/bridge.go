package bridge

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/odin-detector/odin-control/internal/adapter"
	"github.com/odin-detector/odin-control/internal/infrastructure/mqtt"
	"github.com/odin-detector/odin-control/internal/paramtree"
)

// snapshotTimeout bounds the snapshot taken after a write.
const snapshotTimeout = 5 * time.Second

// errEmptyCommand is returned for a command without a payload.
var errEmptyCommand = errors.New("bridge: command payload is required")

// Logger defines the logging interface used by the bridge.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// MQTTClient is the part of *mqtt.Client the bridge uses.
type MQTTClient interface {
	Publish(topic string, payload []byte, qos byte, retained bool) error
	PublishRetained(topic string, payload []byte) error
	Subscribe(topic string, qos byte, handler mqtt.MessageHandler) error
	Unsubscribe(topic string) error
	Topics() mqtt.Topics
	QoS() byte
}

// StatusFunc maps a dispatch error to an HTTP status code.
type StatusFunc func(err error) int

// Bridge connects one MQTT client to a Dispatcher.
type Bridge struct {
	client     MQTTClient
	dispatcher *adapter.Dispatcher
	status     StatusFunc
	now        func() time.Time

	ctx       context.Context
	ctxCancel context.CancelFunc
	started   bool
	stopOnce  sync.Once

	// inflight counts commands still being dispatched.
	inflight sync.WaitGroup

	logger   Logger
	loggerMu sync.RWMutex
}

// New creates a bridge. A nil status maps every error to 500.
func New(client MQTTClient, d *adapter.Dispatcher, status StatusFunc) *Bridge {
	if status == nil {
		status = func(error) int { return http.StatusInternalServerError }
	}
	return &Bridge{
		client:     client,
		dispatcher: d,
		status:     status,
		now:        time.Now,
		logger:     noopLogger{},
	}
}

// SetLogger sets the logger.
func (b *Bridge) SetLogger(logger Logger) {
	b.loggerMu.Lock()
	b.logger = logger
	b.loggerMu.Unlock()
}

func (b *Bridge) log() Logger {
	b.loggerMu.RLock()
	defer b.loggerMu.RUnlock()
	return b.logger
}

// Start subscribes to every command topic. Commands are dispatched with a
// context derived from ctx, so cancelling it abandons queued commands.
func (b *Bridge) Start(ctx context.Context) error {
	b.ctx, b.ctxCancel = context.WithCancel(ctx)

	topic := b.client.Topics().AllCommands()
	if err := b.client.Subscribe(topic, b.client.QoS(), b.handleCommand); err != nil {
		b.ctxCancel()
		return fmt.Errorf("subscribe to commands: %w", err)
	}
	b.started = true
	b.log().Info("mqtt bridge started", "topic", topic)
	return nil
}

// Stop unsubscribes from command topics and waits for commands already
// being dispatched. Safe to call multiple times.
func (b *Bridge) Stop() {
	b.stopOnce.Do(func() {
		if !b.started {
			return
		}
		b.ctxCancel()
		if err := b.client.Unsubscribe(b.client.Topics().AllCommands()); err != nil {
			b.log().Warn("unsubscribe from commands failed", "error", err)
		}
		b.inflight.Wait()
		b.log().Info("mqtt bridge stopped")
	})
}

// PublishUpdate publishes a post-update snapshot. Its signature matches
// scheduler.UpdateHook.
func (b *Bridge) PublishUpdate(_ context.Context, adapterName string, snapshot any) {
	b.publishState(adapterName, snapshot)
}

// PublishWrite publishes a fresh snapshot after a successful write. Its
// signature matches adapter.WriteHook.
func (b *Bridge) PublishWrite(ctx context.Context, ev adapter.WriteEvent) {
	if ev.Err != nil {
		return
	}
	h, err := b.dispatcher.Registry().Lookup(ev.Adapter)
	if err != nil {
		return
	}

	snapCtx, cancel := context.WithTimeout(ctx, snapshotTimeout)
	defer cancel()

	snapshot, err := h.Snapshot(snapCtx)
	if err != nil {
		b.log().Warn("snapshot after write failed", "adapter", ev.Adapter, "error", err)
		return
	}
	b.publishState(ev.Adapter, snapshot)
}

func (b *Bridge) publishState(adapterName string, snapshot any) {
	payload, err := json.Marshal(StateMessage{
		Adapter:   adapterName,
		Data:      snapshot,
		Timestamp: b.now().UTC(),
	})
	if err != nil {
		b.log().Error("encoding state failed", "adapter", adapterName, "error", err)
		return
	}
	topic := b.client.Topics().State(adapterName)
	if err := b.client.PublishRetained(topic, payload); err != nil {
		b.log().Warn("publishing state failed", "adapter", adapterName, "error", err)
	}
}

// handleCommand accepts one command message. Malformed topics are
// dropped; anything else is applied on its own goroutine and answered on
// the response topic, so the client's delivery path never waits on an
// adapter.
func (b *Bridge) handleCommand(topic string, payload []byte) error {
	adapterName, rawPath, ok := b.client.Topics().ParseCommand(topic)
	if !ok {
		return fmt.Errorf("bridge: not a command topic: %q", topic)
	}

	b.inflight.Add(1)
	go func() {
		defer b.inflight.Done()
		b.execute(adapterName, rawPath, payload)
	}()
	return nil
}

func (b *Bridge) execute(adapterName, rawPath string, payload []byte) {
	req := adapter.Request{
		Method:    http.MethodPut,
		Path:      paramtree.ParsePath(rawPath),
		RequestID: uuid.NewString(),
		Source:    SourceMQTT,
	}

	msg := ResponseMessage{
		RequestID: req.RequestID,
		Adapter:   adapterName,
		Path:      req.Path.String(),
	}

	body, err := decodePayload(payload)
	if err != nil {
		msg.Status = http.StatusBadRequest
		msg.Error = err.Error()
		b.respond(msg)
		return
	}
	req.Body = body

	ctx := b.ctx
	if ctx == nil {
		ctx = context.Background()
	}

	b.log().Debug("mqtt command received", "adapter", adapterName, "path", msg.Path, "request_id", req.RequestID)

	resp, err := b.dispatcher.Dispatch(ctx, adapterName, req)
	if err != nil {
		msg.Status = b.status(err)
		msg.Error = err.Error()
		b.log().Warn("mqtt command failed",
			"adapter", adapterName,
			"path", msg.Path,
			"request_id", req.RequestID,
			"error", err,
		)
	} else {
		msg.Status = resp.Status
		if msg.Status == 0 {
			msg.Status = http.StatusOK
		}
		msg.Data = resp.Data
	}
	b.respond(msg)
}

func (b *Bridge) respond(msg ResponseMessage) {
	msg.Timestamp = b.now().UTC()
	payload, err := json.Marshal(msg)
	if err != nil {
		b.log().Error("encoding response failed", "adapter", msg.Adapter, "error", err)
		return
	}
	if err := b.client.Publish(b.client.Topics().Response(msg.Adapter), payload, b.client.QoS(), false); err != nil {
		b.log().Warn("publishing response failed", "adapter", msg.Adapter, "error", err)
	}
}

// decodePayload reads a JSON command body, keeping numbers as json.Number
// as the HTTP API does.
func decodePayload(payload []byte) (any, error) {
	if len(bytes.TrimSpace(payload)) == 0 {
		return nil, errEmptyCommand
	}
	dec := json.NewDecoder(bytes.NewReader(payload))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, fmt.Errorf("bridge: invalid JSON: %w", err)
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return nil, errors.New("bridge: trailing data after JSON value")
	}
	return v, nil
}

package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/odin-detector/odin-control/internal/adapter"
	"github.com/odin-detector/odin-control/internal/infrastructure/mqtt"
	"github.com/odin-detector/odin-control/internal/paramtree"
)

type published struct {
	topic    string
	payload  []byte
	retained bool
}

type fakeClient struct {
	mu         sync.Mutex
	messages   []published
	handlers   map[string]mqtt.MessageHandler
	subErr     error
	unsubCalls int

	// settle waits for dispatched commands to be answered.
	settle func()
}

func newFakeClient() *fakeClient {
	return &fakeClient{handlers: map[string]mqtt.MessageHandler{}}
}

func (c *fakeClient) Publish(topic string, payload []byte, _ byte, retained bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.messages = append(c.messages, published{topic: topic, payload: payload, retained: retained})
	return nil
}

func (c *fakeClient) PublishRetained(topic string, payload []byte) error {
	return c.Publish(topic, payload, c.QoS(), true)
}

func (c *fakeClient) Subscribe(topic string, _ byte, handler mqtt.MessageHandler) error {
	if c.subErr != nil {
		return c.subErr
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handlers[topic] = handler
	return nil
}

func (c *fakeClient) Unsubscribe(topic string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.handlers, topic)
	c.unsubCalls++
	return nil
}

func (c *fakeClient) Topics() mqtt.Topics { return mqtt.Topics{Prefix: "odin"} }
func (c *fakeClient) QoS() byte           { return 1 }

func (c *fakeClient) on(topic string) []published {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []published
	for _, m := range c.messages {
		if m.topic == topic {
			out = append(out, m)
		}
	}
	return out
}

// send delivers a message to the handler subscribed on the command wildcard.
func (c *fakeClient) send(t *testing.T, topic string, payload string) {
	t.Helper()
	c.mu.Lock()
	h := c.handlers["odin/command/#"]
	c.mu.Unlock()
	require.NotNil(t, h, "no command subscription")
	require.NoError(t, h(topic, []byte(payload)))
	if c.settle != nil {
		c.settle()
	}
}

type detector struct {
	adapter.TreeAdapter
}

func (a *detector) Initialize(context.Context, adapter.Options) error {
	a.SetTree(paramtree.New(paramtree.Map(
		paramtree.Field("x", paramtree.Map(
			paramtree.Field("y", paramtree.Value(paramtree.Int, 5)),
		)),
		paramtree.Field("label", paramtree.Value(paramtree.String, "det", paramtree.ReadOnly())),
	)))
	return nil
}

func (a *detector) Info() adapter.Info { return adapter.Info{Version: "1.0.0"} }

func newDispatcher(t *testing.T) *adapter.Dispatcher {
	t.Helper()
	a := &detector{}
	require.NoError(t, a.Initialize(context.Background(), adapter.Options{}))

	reg := adapter.NewRegistry()
	_, err := reg.Register("det", "test", a, 0)
	require.NoError(t, err)
	reg.Seal()
	return adapter.NewDispatcher(reg, time.Second)
}

func statusOf(err error) int {
	switch {
	case errors.Is(err, adapter.ErrAdapterNotFound), errors.Is(err, paramtree.ErrPathNotFound):
		return http.StatusNotFound
	case errors.Is(err, paramtree.ErrNotWritable), errors.Is(err, paramtree.ErrTypeMismatch):
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}

func startBridge(t *testing.T) (*Bridge, *fakeClient, *adapter.Dispatcher) {
	t.Helper()
	d := newDispatcher(t)
	client := newFakeClient()
	b := New(client, d, statusOf)
	b.now = func() time.Time { return time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC) }
	client.settle = b.inflight.Wait
	require.NoError(t, b.Start(context.Background()))
	t.Cleanup(b.Stop)
	return b, client, d
}

func lastResponse(t *testing.T, client *fakeClient) ResponseMessage {
	t.Helper()
	msgs := client.on("odin/response/det")
	require.NotEmpty(t, msgs)
	last := msgs[len(msgs)-1]
	assert.False(t, last.retained, "responses must not be retained")

	var resp ResponseMessage
	require.NoError(t, json.Unmarshal(last.payload, &resp))
	return resp
}

func TestCommandAppliesWrite(t *testing.T) {
	_, client, d := startBridge(t)

	client.send(t, "odin/command/det/x/y", "7")

	resp := lastResponse(t, client)
	assert.Equal(t, http.StatusOK, resp.Status)
	assert.Equal(t, "x/y", resp.Path)
	assert.Equal(t, map[string]any{"y": float64(7)}, resp.Data)
	assert.NotEmpty(t, resp.RequestID)
	assert.Empty(t, resp.Error)

	h, err := d.Registry().Lookup("det")
	require.NoError(t, err)
	got, err := h.Dispatch(context.Background(), adapter.Request{Method: http.MethodGet, Path: paramtree.ParsePath("x/y")})
	require.NoError(t, err)
	assert.Equal(t, paramtree.Object{{Key: "y", Value: int64(7)}}, got.Data)
}

func TestCommandCarriesMQTTSource(t *testing.T) {
	_, client, d := startBridge(t)

	events := make(chan adapter.WriteEvent, 1)
	d.OnWrite(func(_ context.Context, ev adapter.WriteEvent) { events <- ev })

	client.send(t, "odin/command/det/x", `{"y": 9}`)

	select {
	case ev := <-events:
		assert.Equal(t, SourceMQTT, ev.Request.Source)
		assert.Equal(t, http.MethodPut, ev.Request.Method)
		assert.Equal(t, lastResponse(t, client).RequestID, ev.Request.RequestID)
	case <-time.After(time.Second):
		t.Fatal("write hook not called")
	}
}

func TestCommandErrors(t *testing.T) {
	tests := []struct {
		name    string
		topic   string
		payload string
		status  int
	}{
		{"type mismatch", "odin/command/det/x/y", `"seven"`, http.StatusBadRequest},
		{"read only", "odin/command/det/label", `"other"`, http.StatusBadRequest},
		{"unknown path", "odin/command/det/nope", `1`, http.StatusNotFound},
		{"empty payload", "odin/command/det/x/y", ``, http.StatusBadRequest},
		{"invalid json", "odin/command/det/x/y", `{`, http.StatusBadRequest},
		{"trailing data", "odin/command/det/x/y", `1 2`, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, client, _ := startBridge(t)

			client.send(t, tt.topic, tt.payload)

			resp := lastResponse(t, client)
			assert.Equal(t, tt.status, resp.Status)
			assert.NotEmpty(t, resp.Error)
			assert.Nil(t, resp.Data)
		})
	}
}

func TestCommandUnknownAdapter(t *testing.T) {
	_, client, _ := startBridge(t)

	client.send(t, "odin/command/ghost/x", `1`)

	msgs := client.on("odin/response/ghost")
	require.Len(t, msgs, 1)
	var resp ResponseMessage
	require.NoError(t, json.Unmarshal(msgs[0].payload, &resp))
	assert.Equal(t, http.StatusNotFound, resp.Status)
}

func TestCommandMalformedTopic(t *testing.T) {
	b, client, _ := startBridge(t)

	assert.Error(t, b.handleCommand("odin/state/det", []byte("1")))
	assert.Empty(t, client.messages)
}

func TestPublishUpdateIsRetained(t *testing.T) {
	b, client, _ := startBridge(t)

	b.PublishUpdate(context.Background(), "det", paramtree.Object{{Key: "x", Value: 1}})

	msgs := client.on("odin/state/det")
	require.Len(t, msgs, 1)
	assert.True(t, msgs[0].retained)

	var state StateMessage
	require.NoError(t, json.Unmarshal(msgs[0].payload, &state))
	assert.Equal(t, "det", state.Adapter)
	assert.Equal(t, map[string]any{"x": float64(1)}, state.Data)
	assert.True(t, state.Timestamp.Equal(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)))
}

func TestPublishWrite(t *testing.T) {
	b, client, _ := startBridge(t)

	b.PublishWrite(context.Background(), adapter.WriteEvent{Adapter: "det"})

	msgs := client.on("odin/state/det")
	require.Len(t, msgs, 1)
	var state StateMessage
	require.NoError(t, json.Unmarshal(msgs[0].payload, &state))
	assert.Equal(t, map[string]any{
		"x":     map[string]any{"y": float64(5)},
		"label": "det",
	}, state.Data)
}

func TestPublishWriteSkipsFailures(t *testing.T) {
	b, client, _ := startBridge(t)

	b.PublishWrite(context.Background(), adapter.WriteEvent{Adapter: "det", Err: paramtree.ErrNotWritable})
	b.PublishWrite(context.Background(), adapter.WriteEvent{Adapter: "ghost"})

	assert.Empty(t, client.on("odin/state/det"))
	assert.Empty(t, client.on("odin/state/ghost"))
}

func TestStartSubscribeFailure(t *testing.T) {
	client := newFakeClient()
	client.subErr = errors.New("broker down")
	b := New(client, newDispatcher(t), nil)

	err := b.Start(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "broker down")

	b.Stop()
	assert.Zero(t, client.unsubCalls)
}

func TestStopUnsubscribesOnce(t *testing.T) {
	b, client, _ := startBridge(t)

	b.Stop()
	b.Stop()

	assert.Equal(t, 1, client.unsubCalls)
	assert.Empty(t, client.handlers)
}

func TestNilStatusFunc(t *testing.T) {
	client := newFakeClient()
	b := New(client, newDispatcher(t), nil)
	client.settle = b.inflight.Wait
	require.NoError(t, b.Start(context.Background()))
	defer b.Stop()

	client.send(t, "odin/command/det/nope", `1`)

	assert.Equal(t, http.StatusInternalServerError, lastResponse(t, client).Status)
}

// slowDetector holds its adapter lock until release is closed.
type slowDetector struct {
	detector
	release chan struct{}
}

func (a *slowDetector) Dispatch(ctx context.Context, req adapter.Request) (adapter.Response, error) {
	<-a.release
	return a.detector.Dispatch(ctx, req)
}

func TestSlowAdapterDoesNotBlockOthers(t *testing.T) {
	ctx := context.Background()
	det := &detector{}
	require.NoError(t, det.Initialize(ctx, adapter.Options{}))
	slow := &slowDetector{release: make(chan struct{})}
	require.NoError(t, slow.Initialize(ctx, adapter.Options{}))

	reg := adapter.NewRegistry()
	_, err := reg.Register("det", "test", det, 0)
	require.NoError(t, err)
	_, err = reg.Register("slow", "test", slow, 0)
	require.NoError(t, err)
	reg.Seal()

	client := newFakeClient()
	b := New(client, adapter.NewDispatcher(reg, 5*time.Second), statusOf)
	require.NoError(t, b.Start(ctx))
	t.Cleanup(b.Stop)
	defer close(slow.release)

	client.mu.Lock()
	h := client.handlers["odin/command/#"]
	client.mu.Unlock()
	require.NotNil(t, h)

	returned := make(chan error, 1)
	go func() { returned <- h("odin/command/slow/x/y", []byte("1")) }()
	select {
	case err := <-returned:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("handler blocked on a slow adapter")
	}

	require.NoError(t, h("odin/command/det/x/y", []byte("8")))
	require.Eventually(t, func() bool {
		return len(client.on("odin/response/det")) == 1
	}, 2*time.Second, 10*time.Millisecond)
	assert.Empty(t, client.on("odin/response/slow"))
}

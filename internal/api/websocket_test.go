package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/odin-detector/odin-control/internal/adapter"
	"github.com/odin-detector/odin-control/internal/infrastructure/config"
	"github.com/odin-detector/odin-control/internal/paramtree"
)

func testHub(t *testing.T) *Hub {
	t.Helper()

	hub := NewHub(config.WebSocketConfig{MaxMessageSize: 8192, PingInterval: 30, PongTimeout: 10}, testLogger())
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go hub.Run(ctx)
	return hub
}

func mockClient(hub *Hub, channels ...string) *WSClient {
	subs := make(map[string]adapterFilter, len(channels))
	for _, ch := range channels {
		subs[ch] = nil
	}
	client := &WSClient{
		hub:           hub,
		send:          make(chan []byte, wsSendBufferSize),
		subscriptions: subs,
	}
	hub.Register(client)
	return client
}

func receive(t *testing.T, client *WSClient) WSMessage {
	t.Helper()

	select {
	case msg := <-client.send:
		var wsMsg WSMessage
		if err := json.Unmarshal(msg, &wsMsg); err != nil {
			t.Fatalf("unmarshal: %v", err)
		}
		return wsMsg
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for broadcast message")
	}
	return WSMessage{}
}

func TestHub_BroadcastToSubscribed(t *testing.T) {
	hub := testHub(t)
	client := mockClient(hub, ChannelAdapterUpdated)

	hub.Broadcast(ChannelAdapterUpdated, "a", map[string]any{"adapter": "a"})

	if msg := receive(t, client); msg.EventType != ChannelAdapterUpdated {
		t.Errorf("event_type = %q, want %q", msg.EventType, ChannelAdapterUpdated)
	}
}

func TestHub_NoMessageForUnsubscribed(t *testing.T) {
	hub := testHub(t)
	client := mockClient(hub, ChannelAdapterWritten)

	hub.Broadcast(ChannelAdapterUpdated, "a", map[string]any{"adapter": "a"})

	select {
	case <-client.send:
		t.Error("unsubscribed client should not receive message")
	case <-time.After(100 * time.Millisecond):
	}
}

func TestHub_AdapterFilter(t *testing.T) {
	hub := testHub(t)
	client := mockClient(hub)
	client.subscriptions[ChannelAdapterUpdated] = newAdapterFilter([]string{"dummy"})

	hub.Broadcast(ChannelAdapterUpdated, "sysstatus", map[string]any{})
	hub.Broadcast(ChannelAdapterUpdated, "dummy", map[string]any{"n": 1})

	msg := receive(t, client)
	payload, _ := msg.Payload.(map[string]any)
	if payload["n"] != float64(1) {
		t.Errorf("payload = %v, want the dummy event only", payload)
	}
	select {
	case <-client.send:
		t.Error("filtered client received a second message")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestHub_ClientCount(t *testing.T) {
	hub := testHub(t)

	var counts []int
	hub.onCount = func(n int) { counts = append(counts, n) }

	client := mockClient(hub)
	if hub.ClientCount() != 1 {
		t.Errorf("after register count = %d, want 1", hub.ClientCount())
	}
	hub.Unregister(client)
	if hub.ClientCount() != 0 {
		t.Errorf("after unregister count = %d, want 0", hub.ClientCount())
	}
	if len(counts) != 2 || counts[0] != 1 || counts[1] != 0 {
		t.Errorf("onCount calls = %v, want [1 0]", counts)
	}
}

func TestHub_PublishUpdate(t *testing.T) {
	hub := testHub(t)
	client := mockClient(hub, ChannelAdapterUpdated)

	hub.PublishUpdate(context.Background(), "sysstatus", paramtree.Object{{Key: "goroutines", Value: 12}})

	msg := receive(t, client)
	payload, ok := msg.Payload.(map[string]any)
	if !ok {
		t.Fatalf("payload = %T", msg.Payload)
	}
	if payload["adapter"] != "sysstatus" {
		t.Errorf("adapter = %v, want sysstatus", payload["adapter"])
	}
	data, _ := payload["data"].(map[string]any)
	if data["goroutines"] != float64(12) {
		t.Errorf("data = %v", payload["data"])
	}
}

func TestHub_PublishWrite(t *testing.T) {
	hub := testHub(t)
	client := mockClient(hub, ChannelAdapterWritten)

	hub.PublishWrite(context.Background(), adapter.WriteEvent{
		Adapter: "a",
		Request: adapter.Request{Method: http.MethodPut, Path: paramtree.ParsePath("x/y"), Source: "mqtt"},
		Err:     errors.New("x/y: not writable"),
	})

	msg := receive(t, client)
	payload, _ := msg.Payload.(map[string]any)
	if payload["path"] != "x/y" || payload["source"] != "mqtt" {
		t.Errorf("payload = %v", payload)
	}
	if payload["ok"] != false || payload["error"] != "x/y: not writable" {
		t.Errorf("payload = %v, want failed write", payload)
	}
}

func TestWebSocket_WriteEventsReachSubscribers(t *testing.T) {
	srv, d := testServer(t)
	d.OnWrite(srv.Hub().PublishWrite)

	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	ws, resp, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(ts.URL, "http")+"/ws", nil)
	if err != nil {
		t.Fatalf("websocket dial failed: %v (resp: %v)", err, resp)
	}
	defer ws.Close()

	if err := ws.WriteJSON(WSMessage{
		Type:    WSTypeSubscribe,
		ID:      "sub-1",
		Payload: WSSubscribePayload{Channels: []string{ChannelAdapterWritten}},
	}); err != nil {
		t.Fatalf("write subscribe: %v", err)
	}

	//nolint:errcheck // test deadline
	ws.SetReadDeadline(time.Now().Add(2 * time.Second))
	var ack WSMessage
	if err := ws.ReadJSON(&ack); err != nil {
		t.Fatalf("read subscribe response: %v", err)
	}
	if ack.Type != WSTypeResponse || ack.ID != "sub-1" {
		t.Fatalf("ack = %+v", ack)
	}

	req, _ := http.NewRequest(http.MethodPut, ts.URL+"/api/1.0/a/x/y", strings.NewReader("12"))
	req.Header.Set("Content-Type", mediaJSON)
	putResp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("PUT: %v", err)
	}
	putResp.Body.Close()

	var event WSMessage
	if err := ws.ReadJSON(&event); err != nil {
		t.Fatalf("read event: %v", err)
	}
	if event.Type != WSTypeEvent || event.EventType != ChannelAdapterWritten {
		t.Fatalf("event = %+v", event)
	}
	payload, _ := event.Payload.(map[string]any)
	if payload["adapter"] != "a" || payload["ok"] != true {
		t.Errorf("payload = %v", payload)
	}
}

func TestWebSocket_Ping(t *testing.T) {
	srv, _ := testServer(t)
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	ws, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(ts.URL, "http")+"/ws", nil)
	if err != nil {
		t.Fatalf("websocket dial failed: %v", err)
	}
	defer ws.Close()

	if err := ws.WriteJSON(WSMessage{Type: WSTypePing, ID: "p1"}); err != nil {
		t.Fatalf("write ping: %v", err)
	}
	//nolint:errcheck // test deadline
	ws.SetReadDeadline(time.Now().Add(2 * time.Second))
	var resp WSMessage
	if err := ws.ReadJSON(&resp); err != nil {
		t.Fatalf("read pong: %v", err)
	}
	if resp.Type != WSTypePong || resp.ID != "p1" {
		t.Errorf("resp = %+v, want pong p1", resp)
	}

	if err := ws.WriteMessage(websocket.TextMessage, []byte("not json")); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := ws.ReadJSON(&resp); err != nil {
		t.Fatalf("read error: %v", err)
	}
	if resp.Type != WSTypeError {
		t.Errorf("type = %q, want error", resp.Type)
	}
}

func dialWS(t *testing.T, ts *httptest.Server) *websocket.Conn {
	t.Helper()

	ws, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(ts.URL, "http")+"/ws", nil)
	if err != nil {
		t.Fatalf("websocket dial failed: %v", err)
	}
	//nolint:errcheck // test deadline
	ws.SetReadDeadline(time.Now().Add(2 * time.Second))
	return ws
}

func TestWebSocket_Get(t *testing.T) {
	srv, _ := testServer(t)
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	ws := dialWS(t, ts)
	defer ws.Close()

	if err := ws.WriteJSON(WSMessage{
		Type:    WSTypeGet,
		ID:      "g1",
		Payload: WSGetPayload{Adapter: "a", Path: "x/y"},
	}); err != nil {
		t.Fatalf("write get: %v", err)
	}
	var resp WSMessage
	if err := ws.ReadJSON(&resp); err != nil {
		t.Fatalf("read response: %v", err)
	}
	if resp.Type != WSTypeResponse || resp.ID != "g1" {
		t.Fatalf("resp = %+v", resp)
	}
	payload, _ := resp.Payload.(map[string]any)
	if payload["y"] != float64(5) {
		t.Errorf("payload = %v, want {y: 5}", resp.Payload)
	}

	tests := []struct {
		name    string
		payload WSGetPayload
		status  float64
	}{
		{"unknown adapter", WSGetPayload{Adapter: "ghost"}, http.StatusNotFound},
		{"unknown path", WSGetPayload{Adapter: "a", Path: "x/z"}, http.StatusNotFound},
	}
	for _, tt := range tests {
		if err := ws.WriteJSON(WSMessage{Type: WSTypeGet, ID: tt.name, Payload: tt.payload}); err != nil {
			t.Fatalf("write get: %v", err)
		}
		var errResp WSMessage
		if err := ws.ReadJSON(&errResp); err != nil {
			t.Fatalf("%s: read: %v", tt.name, err)
		}
		body, _ := errResp.Payload.(map[string]any)
		if errResp.Type != WSTypeError || body["status"] != tt.status {
			t.Errorf("%s: resp = %+v", tt.name, errResp)
		}
	}

	if err := ws.WriteJSON(WSMessage{Type: WSTypeGet, ID: "g2", Payload: map[string]any{}}); err != nil {
		t.Fatalf("write get: %v", err)
	}
	if err := ws.ReadJSON(&resp); err != nil {
		t.Fatalf("read: %v", err)
	}
	if resp.Type != WSTypeError {
		t.Errorf("get without adapter: type = %q, want error", resp.Type)
	}
}

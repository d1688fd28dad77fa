package proxy

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/odin-detector/odin-control/internal/paramtree"
)

// Status codes recorded for failures that never produced a response.
const (
	statusTimeout        = http.StatusRequestTimeout
	statusUnreachable    = http.StatusBadGateway
	statusUndecodable    = http.StatusUnsupportedMediaType
	maxRemoteBodyBytes   = 8 << 20
	lastUpdateTimeFormat = http.TimeFormat
)

// target is one remote server and the cached copy of its tree.
//
// The adapter lock serialises requests, but fan-out calls several targets
// at once and status getters may run concurrently with a refresh, so the
// fields below mu are guarded by it.
type target struct {
	name   string
	url    string
	client *http.Client
	now    func() time.Time

	mu         sync.Mutex
	statusCode int64
	errString  string
	lastUpdate string
	data       map[string]any
	meta       map[string]any
}

func newTarget(name, url string, client *http.Client) *target {
	return &target{
		name:       name,
		url:        strings.TrimRight(url, "/"),
		client:     client,
		now:        time.Now,
		errString:  "OK",
		lastUpdate: "unknown",
		data:       map[string]any{},
		meta:       map[string]any{},
	}
}

// statusNode exposes the target's last request outcome as read-only leaves.
func (t *target) statusNode() *paramtree.Mapping {
	return paramtree.Map(
		paramtree.Field("url", paramtree.Bound(paramtree.String,
			func() (any, error) { return t.url, nil }, nil)),
		paramtree.Field("status_code", paramtree.Bound(paramtree.Int,
			func() (any, error) { t.mu.Lock(); defer t.mu.Unlock(); return t.statusCode, nil }, nil)),
		paramtree.Field("error", paramtree.Bound(paramtree.String,
			func() (any, error) { t.mu.Lock(); defer t.mu.Unlock(); return t.errString, nil }, nil)),
		paramtree.Field("last_update", paramtree.Bound(paramtree.String,
			func() (any, error) { t.mu.Lock(); defer t.mu.Unlock(); return t.lastUpdate, nil }, nil)),
	)
}

// get fetches path from the remote and merges the answer into the cache.
func (t *target) get(ctx context.Context, path paramtree.Path, withMeta bool) error {
	accept := "application/json"
	if withMeta {
		accept += ";metadata=true"
	}
	body, err := t.send(ctx, http.MethodGet, path, accept, nil)
	if err != nil {
		return err
	}
	return t.store(path, body, withMeta)
}

// set writes value at path on the remote, then re-reads path so the cache
// holds what the remote actually applied.
func (t *target) set(ctx context.Context, path paramtree.Path, value any) error {
	payload, err := json.Marshal(value)
	if err != nil {
		return t.fail(statusUndecodable, fmt.Errorf("encoding request body: %w", err))
	}
	if _, err := t.send(ctx, http.MethodPut, path, "application/json", payload); err != nil {
		return err
	}
	return t.get(ctx, path, false)
}

func (t *target) send(ctx context.Context, method string, path paramtree.Path, accept string, payload []byte) ([]byte, error) {
	url := t.url
	if len(path) > 0 {
		url += "/" + path.String()
	}

	var reader io.Reader
	if payload != nil {
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return nil, t.fail(statusUnreachable, err)
	}
	req.Header.Set("Accept", accept)
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := t.client.Do(req)
	if err != nil {
		return nil, t.fail(transportStatus(err), err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxRemoteBodyBytes))
	if err != nil {
		return nil, t.fail(transportStatus(err), fmt.Errorf("reading response: %w", err))
	}
	if resp.StatusCode >= http.StatusBadRequest {
		return nil, t.fail(int64(resp.StatusCode), errors.New(remoteMessage(resp.StatusCode, body)))
	}

	t.record(int64(resp.StatusCode), "OK")
	return body, nil
}

// store merges a remote response into the data or metadata cache. The
// remote wraps a non-root answer as {last: value}, so every key of the
// body replaces the matching child of the parent of path.
func (t *target) store(path paramtree.Path, body []byte, withMeta bool) error {
	var decoded map[string]any
	if err := json.Unmarshal(body, &decoded); err != nil {
		return t.fail(statusUndecodable, fmt.Errorf("failed to decode response body: %w", err))
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	cache := t.data
	if withMeta {
		cache = t.meta
	}
	var parent any = cache
	if len(path) > 0 {
		var err error
		if parent, err = descend(cache, path[:len(path)-1]); err != nil {
			return err
		}
	}
	for k, v := range decoded {
		if err := assign(parent, k, v); err != nil {
			return err
		}
	}
	return nil
}

// snapshot returns a deep-enough copy of the cache at path for rendering.
func (t *target) snapshot(path paramtree.Path, withMeta bool) (any, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	cache := t.data
	if withMeta {
		cache = t.meta
	}
	v, err := lookup(cache, path)
	if err != nil {
		return nil, err
	}
	return clone(v), nil
}

func (t *target) fail(status int64, err error) error {
	t.record(status, err.Error())
	return fmt.Errorf("%s: %w", t.name, err)
}

func (t *target) record(status int64, msg string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.statusCode = status
	t.errString = msg
	t.lastUpdate = t.now().UTC().Format(lastUpdateTimeFormat)
}

// transportStatus maps a failed round trip to the status recorded for it.
func transportStatus(err error) int64 {
	if errors.Is(err, context.DeadlineExceeded) {
		return statusTimeout
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return statusTimeout
	}
	return statusUnreachable
}

// remoteMessage extracts the message from an odin-control error body.
func remoteMessage(status int, body []byte) string {
	var e struct {
		Message string `json:"message"`
	}
	if json.Unmarshal(body, &e) == nil && e.Message != "" {
		return e.Message
	}
	return http.StatusText(status)
}

// descend walks path through nested maps and lists, creating missing maps.
func descend(root map[string]any, path paramtree.Path) (any, error) {
	var cur any = root
	for i, seg := range path {
		switch node := cur.(type) {
		case map[string]any:
			next, ok := node[seg]
			if !ok {
				next = map[string]any{}
				node[seg] = next
			}
			cur = next
		case []any:
			idx, err := strconv.Atoi(seg)
			if err != nil || idx < 0 || idx >= len(node) {
				return nil, fmt.Errorf("%w: %s", paramtree.ErrPathNotFound, path[:i+1])
			}
			cur = node[idx]
		default:
			return nil, fmt.Errorf("%w: %s", paramtree.ErrNotTraversable, path[:i+1])
		}
	}
	return cur, nil
}

func assign(parent any, key string, v any) error {
	switch node := parent.(type) {
	case map[string]any:
		node[key] = v
		return nil
	case []any:
		idx, err := strconv.Atoi(key)
		if err != nil || idx < 0 || idx >= len(node) {
			return fmt.Errorf("%w: %s", paramtree.ErrPathNotFound, key)
		}
		node[idx] = v
		return nil
	default:
		return fmt.Errorf("%w: %s", paramtree.ErrNotTraversable, key)
	}
}

// lookup reads path from cached data without creating anything.
func lookup(root map[string]any, path paramtree.Path) (any, error) {
	var cur any = root
	for i, seg := range path {
		switch node := cur.(type) {
		case map[string]any:
			next, ok := node[seg]
			if !ok {
				return nil, fmt.Errorf("%w: %s", paramtree.ErrPathNotFound, path[:i+1])
			}
			cur = next
		case []any:
			idx, err := strconv.Atoi(seg)
			if err != nil || idx < 0 || idx >= len(node) {
				return nil, fmt.Errorf("%w: %s", paramtree.ErrPathNotFound, path[:i+1])
			}
			cur = node[idx]
		default:
			return nil, fmt.Errorf("%w: %s", paramtree.ErrNotTraversable, path[:i+1])
		}
	}
	return cur, nil
}

func clone(v any) any {
	switch node := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(node))
		for k, e := range node {
			out[k] = clone(e)
		}
		return out
	case []any:
		out := make([]any, len(node))
		for i, e := range node {
			out[i] = clone(e)
		}
		return out
	default:
		return v
	}
}

package api

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sudosu4pp/multi-chain-zk-back/internal/dispatch"
	"github.com/sudosu4pp/multi-chain-zk-back/internal/events"
	"github.com/sudosu4pp/multi-chain-zk-back/internal/inspect"
	"github.com/sudosu4pp/multi-chain-zk-back/internal/op"
	"github.com/sudosu4pp/multi-chain-zk-back/internal/plugin"
	"github.com/sudosu4pp/multi-chain-zk-back/internal/protocol"
	"github.com/sudosu4pp/multi-chain-zk-back/internal/queue"
)

// mockEngine implements Engine for testing
type mockEngine struct {
	enqueueFunc  func(ctx context.Context, o op.Op) (*queue.Entry, error)
	replaceFunc  func(ctx context.Context, id op.ID, o op.Op, expected uint64) (*queue.Entry, error)
	getFunc      func(ctx context.Context, id op.ID) (*queue.Entry, error)
	childrenFunc func(ctx context.Context, id op.ID) ([]*queue.Entry, error)
	removeFunc   func(ctx context.Context, name string) (int, error)
	health       dispatch.Health
}

func (m *mockEngine) Enqueue(ctx context.Context, o op.Op) (*queue.Entry, error) {
	return m.enqueueFunc(ctx, o)
}

func (m *mockEngine) Replace(ctx context.Context, id op.ID, o op.Op, expected uint64) (*queue.Entry, error) {
	return m.replaceFunc(ctx, id, o, expected)
}

func (m *mockEngine) Get(ctx context.Context, id op.ID) (*queue.Entry, error) {
	return m.getFunc(ctx, id)
}

func (m *mockEngine) Children(ctx context.Context, id op.ID) ([]*queue.Entry, error) {
	if m.childrenFunc == nil {
		return nil, nil
	}
	return m.childrenFunc(ctx, id)
}

func (m *mockEngine) Depth(ctx context.Context) (map[queue.State]int, error) {
	return map[queue.State]int{queue.StateFresh: 2}, nil
}

func (m *mockEngine) Deregister(ctx context.Context, name string) (int, error) {
	return m.removeFunc(ctx, name)
}

func (m *mockEngine) Health() dispatch.Health { return m.health }

// mockRegistry implements PluginRegistry for testing
type mockRegistry struct {
	plugins []plugin.Plugin
}

func (m *mockRegistry) All() []plugin.Plugin { return m.plugins }

type stubPlugin struct {
	name string
	caps plugin.Capabilities
}

func (p stubPlugin) Name() string                      { return p.name }
func (p stubPlugin) Capabilities() plugin.Capabilities { return p.caps }
func (p stubPlugin) FilterOps(context.Context, []protocol.Item) (*protocol.Result, error) {
	return &protocol.Result{}, nil
}
func (p stubPlugin) ProcessOps(context.Context, []protocol.Item) (*protocol.Result, error) {
	return &protocol.Result{}, nil
}

func newTestServer(e *mockEngine, reg *mockRegistry) *Server {
	config := Config{
		Listen: "localhost:8080",
		APIKey: "test-key-123",
	}
	return New(config, e, reg, events.NewHub(16), slog.Default())
}

func do(t *testing.T, s *Server, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Authorization", "Bearer test-key-123")
	rr := httptest.NewRecorder()
	s.Handler().ServeHTTP(rr, req)
	return rr
}

func TestHandleHealthz(t *testing.T) {
	until := time.Now().Add(time.Minute).UTC()
	e := &mockEngine{health: dispatch.Health{
		Ticks:       9,
		Plugins:     2,
		Tags:        1,
		Quarantined: map[string]time.Time{"flaky": until},
	}}
	s := newTestServer(e, &mockRegistry{})

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rr := httptest.NewRecorder()
	s.Handler().ServeHTTP(rr, req)
	require.Equal(t, http.StatusOK, rr.Code)

	var resp HealthzResponse
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&resp))
	assert.Equal(t, "degraded", resp.Status)
	assert.Equal(t, uint64(9), resp.Ticks)
	assert.Equal(t, 2, resp.PluginsLoaded)
	assert.Equal(t, 1, resp.PluginsQuarantined)
	assert.Equal(t, 2, resp.QueueDepth[queue.StateFresh])
}

func TestHandleEnqueue(t *testing.T) {
	var got op.Op
	e := &mockEngine{enqueueFunc: func(_ context.Context, o op.Op) (*queue.Entry, error) {
		got = o
		return &queue.Entry{ID: "op-1", Revision: 1, State: queue.StateFresh, Op: o}, nil
	}}
	s := newTestServer(e, &mockRegistry{})

	o := op.Retry(op.LeafString("packet-42"), 2, op.Backoff{Base: time.Second})
	rr := do(t, s, http.MethodPost, "/ops", EnqueueRequest{Op: &o})
	require.Equal(t, http.StatusAccepted, rr.Code, rr.Body.String())

	var resp inspect.Node
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&resp))
	assert.Equal(t, op.ID("op-1"), resp.ID)
	assert.Equal(t, queue.StateFresh, resp.State)
	assert.True(t, got.Equal(o), "engine received %s", got)
}

func TestHandleEnqueueErrors(t *testing.T) {
	e := &mockEngine{enqueueFunc: func(context.Context, op.Op) (*queue.Entry, error) {
		return nil, fmt.Errorf("%w: seq needs children", dispatch.ErrInvalidOp)
	}}
	s := newTestServer(e, &mockRegistry{})

	tests := []struct {
		name string
		body string
		want int
	}{
		{"malformed json", `{"op":`, http.StatusBadRequest},
		{"missing op", `{}`, http.StatusBadRequest},
		{"unknown field", `{"operation":{}}`, http.StatusBadRequest},
		{"invalid op", `{"op":{"kind":"seq"}}`, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/ops", strings.NewReader(tt.body))
			req.Header.Set("Authorization", "Bearer test-key-123")
			rr := httptest.NewRecorder()
			s.Handler().ServeHTTP(rr, req)
			assert.Equal(t, tt.want, rr.Code, rr.Body.String())
		})
	}
}

func TestHandleGetOpWithChildren(t *testing.T) {
	parent := op.Seq(op.LeafString("a"), op.LeafString("b"))
	entries := map[op.ID]*queue.Entry{
		"root": {ID: "root", Op: parent, State: queue.StateWaiting, Revision: 3},
	}
	children := map[op.ID][]*queue.Entry{
		"root": {{ID: "c0", ParentID: "root", Op: op.LeafString("a"), State: queue.StateSucceeded}},
	}
	e := &mockEngine{
		getFunc: func(_ context.Context, id op.ID) (*queue.Entry, error) {
			if ent, ok := entries[id]; ok {
				return ent, nil
			}
			return nil, queue.ErrNotFound
		},
		childrenFunc: func(_ context.Context, id op.ID) ([]*queue.Entry, error) {
			return children[id], nil
		},
	}
	s := newTestServer(e, &mockRegistry{})

	rr := do(t, s, http.MethodGet, "/ops/root", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	var resp inspect.Node
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&resp))
	assert.Equal(t, queue.StateWaiting, resp.State)
	require.Len(t, resp.Children, 1)
	assert.Equal(t, op.ID("c0"), resp.Children[0].ID)
	assert.Equal(t, queue.StateSucceeded, resp.Children[0].State)

	rr = do(t, s, http.MethodGet, "/ops/missing", nil)
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestHandleReplace(t *testing.T) {
	e := &mockEngine{replaceFunc: func(_ context.Context, id op.ID, o op.Op, expected uint64) (*queue.Entry, error) {
		switch {
		case id == "busy":
			return nil, fmt.Errorf("%w: busy is executing", dispatch.ErrNotReplaceable)
		case expected != 4:
			return nil, fmt.Errorf("%w: at 4", op.ErrStaleRevision)
		}
		return &queue.Entry{ID: id, Op: o, Revision: 5, State: queue.StateFresh}, nil
	}}
	s := newTestServer(e, &mockRegistry{})
	o := op.LeafString("packet-43")

	rr := do(t, s, http.MethodPut, "/ops/op-1", ReplaceRequest{Op: &o, Revision: 4})
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	var resp inspect.Node
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&resp))
	assert.Equal(t, uint64(5), resp.Revision)

	rr = do(t, s, http.MethodPut, "/ops/op-1", ReplaceRequest{Op: &o, Revision: 3})
	assert.Equal(t, http.StatusConflict, rr.Code)

	rr = do(t, s, http.MethodPut, "/ops/busy", ReplaceRequest{Op: &o, Revision: 4})
	assert.Equal(t, http.StatusConflict, rr.Code)
}

func TestHandleListPlugins(t *testing.T) {
	until := time.Now().Add(time.Minute).UTC().Truncate(time.Second)
	e := &mockEngine{health: dispatch.Health{Quarantined: map[string]time.Time{"flaky": until}}}
	reg := &mockRegistry{plugins: []plugin.Plugin{
		stubPlugin{name: "packet-claimer", caps: plugin.Capabilities{Filter: true, Process: true}},
		stubPlugin{name: "flaky", caps: plugin.Capabilities{Filter: true}},
	}}
	s := newTestServer(e, reg)

	rr := do(t, s, http.MethodGet, "/plugins", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	var resp PluginListResponse
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&resp))
	require.Len(t, resp.Plugins, 2)
	assert.Equal(t, "packet-claimer", resp.Plugins[0].Name)
	assert.Nil(t, resp.Plugins[0].QuarantinedUntil)
	require.NotNil(t, resp.Plugins[1].QuarantinedUntil)
	assert.True(t, until.Equal(*resp.Plugins[1].QuarantinedUntil))
}

func TestHandleDeregister(t *testing.T) {
	e := &mockEngine{removeFunc: func(_ context.Context, name string) (int, error) {
		if name != "packet-claimer" {
			return 0, fmt.Errorf("%w: %s", dispatch.ErrUnknownPlugin, name)
		}
		return 3, nil
	}}
	s := newTestServer(e, &mockRegistry{})

	rr := do(t, s, http.MethodDelete, "/plugins/packet-claimer", nil)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	var resp DeregisterResponse
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&resp))
	assert.Equal(t, "packet-claimer", resp.Plugin)
	assert.Equal(t, 3, resp.Released)

	rr = do(t, s, http.MethodDelete, "/plugins/ghost", nil)
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestHandleEventsReplaysAndStreams(t *testing.T) {
	hub := events.NewHub(16)
	s := New(Config{APIKey: "test-key-123"}, &mockEngine{}, &mockRegistry{}, hub, slog.Default())
	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	first := hub.Publish(events.TypeOpEnqueued, map[string]string{"op_id": "a"})
	hub.Publish(events.TypeOpSucceeded, map[string]string{"op_id": "a"})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/events", nil)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer test-key-123")
	req.Header.Set("Last-Event-ID", fmt.Sprint(first.ID))

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	lines := make(chan string, 32)
	go func() {
		sc := bufio.NewScanner(resp.Body)
		for sc.Scan() {
			lines <- sc.Text()
		}
		close(lines)
	}()

	assert.Equal(t, "retry: 3000", <-lines)
	<-lines // blank

	// The replay skips the event at Last-Event-ID.
	assert.Equal(t, "id: 2", <-lines)
	assert.Equal(t, "event: "+events.TypeOpSucceeded, <-lines)
	<-lines // data
	<-lines // blank

	// Wait for the handler to subscribe before publishing live.
	require.Eventually(t, func() bool { return hub.Subscribers() == 1 }, 2*time.Second, 10*time.Millisecond)
	hub.Publish(events.TypePluginQuarantined, map[string]string{"plugin": "flaky"})
	assert.Equal(t, "id: 3", <-lines)
	assert.Equal(t, "event: "+events.TypePluginQuarantined, <-lines)
}

func TestHandleEventsFiltersByTypePrefix(t *testing.T) {
	hub := events.NewHub(16)
	s := New(Config{APIKey: "test-key-123"}, &mockEngine{}, &mockRegistry{}, hub, slog.Default())
	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	hub.Publish(events.TypeDispatchTick, nil)
	hub.Publish(events.TypeOpFailed, map[string]string{"op_id": "a"})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/events?types=op.,plugin.", nil)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer test-key-123")

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	lines := make(chan string, 32)
	go func() {
		sc := bufio.NewScanner(resp.Body)
		for sc.Scan() {
			if line := sc.Text(); strings.HasPrefix(line, "event: ") {
				lines <- line
			}
		}
		close(lines)
	}()

	assert.Equal(t, "event: "+events.TypeOpFailed, <-lines)

	require.Eventually(t, func() bool { return hub.Subscribers() == 1 }, 2*time.Second, 10*time.Millisecond)
	hub.Publish(events.TypeDispatchTick, nil)
	hub.Publish(events.TypePluginMisbehaving, map[string]string{"plugin": "flaky"})
	assert.Equal(t, "event: "+events.TypePluginMisbehaving, <-lines)
}

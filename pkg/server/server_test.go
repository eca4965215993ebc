package server

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/BetaCatPro/livelink/internal/errors"
	"github.com/BetaCatPro/livelink/internal/metrics"
	"github.com/BetaCatPro/livelink/pkg/types"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeManager struct {
	mu      sync.Mutex
	rooms   map[string]types.ConnectionStatus
	sinks   map[string]types.Sink
	addErr  error
	removed []string
}

func newFakeManager() *fakeManager {
	return &fakeManager{
		rooms: make(map[string]types.ConnectionStatus),
		sinks: make(map[string]types.Sink),
	}
}

func (m *fakeManager) AddConnection(ctx context.Context, roomID string, sink types.Sink) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.addErr != nil {
		return m.addErr
	}
	m.rooms[roomID] = types.ConnectionStatus{Exists: true, Active: true, ShouldReconnect: true}
	m.sinks[roomID] = sink
	return nil
}

func (m *fakeManager) RemoveConnection(roomID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.rooms, roomID)
	m.removed = append(m.removed, roomID)
}

func (m *fakeManager) GetConnectionStatus(roomID string) types.ConnectionStatus {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.rooms[roomID]
}

func (m *fakeManager) GetAllConnections() map[string]types.ConnectionStatus {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]types.ConnectionStatus, len(m.rooms))
	for k, v := range m.rooms {
		out[k] = v
	}
	return out
}

func newTestServer(t *testing.T, m *fakeManager) (*Server, *httptest.Server) {
	reg := prometheus.NewRegistry()
	s := NewServer("", m, Options{Gatherer: reg, Metrics: metrics.New(reg)})
	ts := httptest.NewServer(s.Handler())
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		s.Stop(ctx)
		ts.Close()
	})
	return s, ts
}

func do(t *testing.T, method, url string) (*http.Response, string) {
	t.Helper()
	req, err := http.NewRequest(method, url, nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, string(body)
}

func TestConnectionsAPI(t *testing.T) {
	m := newFakeManager()
	s, ts := newTestServer(t, m)

	resp, body := do(t, http.MethodGet, ts.URL+"/connections/12345")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Contains(t, body, "room not monitored")

	resp, body = do(t, http.MethodPost, ts.URL+"/connections/12345")
	require.Equal(t, http.StatusCreated, resp.StatusCode, body)
	var created statusResponse
	require.NoError(t, json.Unmarshal([]byte(body), &created))
	assert.Equal(t, "12345", created.RoomID)
	assert.True(t, created.Active)
	assert.Same(t, s, m.sinks["12345"].(*Server), "rooms added over http broadcast to viewers")

	resp, body = do(t, http.MethodGet, ts.URL+"/connections")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var all map[string]types.ConnectionStatus
	require.NoError(t, json.Unmarshal([]byte(body), &all))
	assert.Contains(t, all, "12345")

	resp, _ = do(t, http.MethodDelete, ts.URL+"/connections/12345")
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	assert.Equal(t, []string{"12345"}, m.removed)

	// 删除不存在的房间也是成功
	resp, _ = do(t, http.MethodDelete, ts.URL+"/connections/nope")
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
}

func TestAddConnectionErrors(t *testing.T) {
	tests := []struct {
		err  error
		code int
	}{
		{errors.NewRoomError("1", "status", errors.ErrRoomNotLive), http.StatusConflict},
		{errors.NewRoomError("1", "status", errors.ErrRoomNotFound), http.StatusNotFound},
		{errors.NewRoomError("1", "connect", errors.ErrHandshake), http.StatusBadGateway},
		{errors.NewRoomError("1", "status", fmt.Errorf("%w: %w", errors.ErrRateLimited, errors.ErrHandshake)), http.StatusTooManyRequests},
		{fmt.Errorf("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.err.Error(), func(t *testing.T) {
			m := newFakeManager()
			m.addErr = tt.err
			_, ts := newTestServer(t, m)

			resp, body := do(t, http.MethodPost, ts.URL+"/connections/1")
			assert.Equal(t, tt.code, resp.StatusCode)
			assert.Contains(t, body, tt.err.Error())
		})
	}
}

func TestMetricsEndpoint(t *testing.T) {
	_, ts := newTestServer(t, newFakeManager())
	resp, body := do(t, http.MethodGet, ts.URL+"/metrics")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, body, "livelink_viewers")
}

func dialViewer(t *testing.T, ts *httptest.Server, query string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws" + query
	ws, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { ws.Close() })
	return ws
}

func readMessage(t *testing.T, ws *websocket.Conn) types.Message {
	t.Helper()
	ws.SetReadDeadline(time.Now().Add(2 * time.Second))
	var msg types.Message
	require.NoError(t, ws.ReadJSON(&msg))
	return msg
}

func TestBroadcastToViewers(t *testing.T) {
	s, ts := newTestServer(t, newFakeManager())

	connected := make(chan string, 2)
	s.SetConnectHandler(func(id string) { connected <- id })

	all := dialViewer(t, ts, "")
	onlyB := dialViewer(t, ts, "?room=B")
	<-connected
	<-connected
	require.Equal(t, 2, s.GetClientCount())

	assert.True(t, s.Put(types.Message{Type: types.CategoryChat, RoomID: "A", Content: "for A"}))
	assert.Equal(t, 2, s.BroadcastMessage(types.Message{Type: types.CategoryGift, RoomID: "B", GiftName: "玫瑰"}))

	first := readMessage(t, all)
	assert.Equal(t, "for A", first.Content)
	second := readMessage(t, all)
	assert.Equal(t, "玫瑰", second.GiftName)

	got := readMessage(t, onlyB)
	assert.Equal(t, "B", got.RoomID)
	assert.Equal(t, types.CategoryGift, got.Type)
}

func TestViewerDisconnect(t *testing.T) {
	s, ts := newTestServer(t, newFakeManager())

	gone := make(chan string, 1)
	s.SetDisconnectHandler(func(id string, err error) { gone <- id })

	ws := dialViewer(t, ts, "")
	require.Eventually(t, func() bool { return s.GetClientCount() == 1 }, time.Second, 5*time.Millisecond)
	ws.Close()

	select {
	case id := <-gone:
		assert.NotEmpty(t, id)
	case <-time.After(2 * time.Second):
		t.Fatal("disconnect handler not called")
	}
	assert.Equal(t, 0, s.GetClientCount())
	assert.Equal(t, 0, s.BroadcastMessage(types.Message{Type: types.CategoryLike}))
}

func TestStopClosesViewers(t *testing.T) {
	s, ts := newTestServer(t, newFakeManager())
	ws := dialViewer(t, ts, "")
	require.Eventually(t, func() bool { return s.GetClientCount() == 1 }, time.Second, 5*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	s.Stop(ctx)
	assert.Equal(t, 0, s.GetClientCount())

	ws.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err := ws.ReadMessage()
	require.Error(t, err)
	assert.True(t, websocket.IsCloseError(err, websocket.CloseGoingAway) ||
		strings.Contains(err.Error(), "closed"), err.Error())
}

package conn

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/BetaCatPro/livelink/internal/compression"
	"github.com/BetaCatPro/livelink/internal/errors"
	"github.com/BetaCatPro/livelink/internal/protocol"
	"github.com/BetaCatPro/livelink/pkg/types"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// pushServer 模拟直播间推送服务
type pushServer struct {
	t        *testing.T
	frames   [][]byte
	received chan *protocol.PushFrame
	srv      *httptest.Server
	hold     chan struct{}
}

func newPushServer(t *testing.T, frames ...[]byte) *pushServer {
	ps := &pushServer{
		t:        t,
		frames:   frames,
		received: make(chan *protocol.PushFrame, 64),
		hold:     make(chan struct{}),
	}
	upgrader := websocket.Upgrader{}
	ps.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer ws.Close()

		go func() {
			for {
				_, data, err := ws.ReadMessage()
				if err != nil {
					return
				}
				if pf, err := protocol.UnmarshalPushFrame(data); err == nil {
					ps.received <- pf
				}
			}
		}()

		for _, f := range ps.frames {
			if err := ws.WriteMessage(websocket.BinaryMessage, f); err != nil {
				return
			}
		}
		<-ps.hold
	}))
	t.Cleanup(func() {
		close(ps.hold)
		ps.srv.Close()
	})
	return ps
}

func (ps *pushServer) dial(config types.Config) *Connection {
	url := "ws" + strings.TrimPrefix(ps.srv.URL, "http")
	ws, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(ps.t, err)
	return NewConnection(ws, "12345", config, errors.NewErrorCenter(), nil)
}

func gzipFrame(t *testing.T, logID uint64, resp *protocol.Response) []byte {
	packed, err := (&compression.GzipCompressor{}).Compress(resp.Marshal())
	require.NoError(t, err)
	return (&protocol.PushFrame{
		LogID:           logID,
		PayloadEncoding: "gzip",
		PayloadType:     protocol.PayloadTypeMessage,
		Payload:         packed,
	}).Marshal()
}

func chatSub(id uint64, content string) protocol.Message {
	body := (&protocol.ChatMessage{User: &protocol.User{ID: id, NickName: "u"}, Content: content}).Marshal()
	return protocol.Message{Method: protocol.MethodChat, Payload: body}
}

func endedSub() protocol.Message {
	return protocol.Message{
		Method:  protocol.MethodControl,
		Payload: (&protocol.ControlMessage{Status: protocol.ControlStatusEnded}).Marshal(),
	}
}

type collector struct {
	mu   sync.Mutex
	msgs []types.Message
}

func (c *collector) handle(msg types.Message) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.msgs = append(c.msgs, msg)
}

func (c *collector) all() []types.Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]types.Message(nil), c.msgs...)
}

func testConfig() types.Config {
	cfg := types.DouyinConfig()
	cfg.HeartbeatInterval = 0
	return cfg
}

func TestConnectionSkipsMalformedFrame(t *testing.T) {
	corruptOuter := []byte{0x42, 0xff, 0xff}
	corruptInner := (&protocol.PushFrame{LogID: 2, PayloadEncoding: "gzip", Payload: []byte("not gzip")}).Marshal()
	valid := gzipFrame(t, 3, &protocol.Response{
		Messages: []protocol.Message{
			{Method: protocol.MethodChat, Payload: []byte{0x12, 0x40}}, // 截断的子消息
			{Method: "WebcastRoomRankMessage", Payload: []byte{0x01}},  // 未知类型
			chatSub(7, "first"),
			chatSub(8, "second"),
		},
	})
	ended := gzipFrame(t, 4, &protocol.Response{Messages: []protocol.Message{endedSub()}})

	ps := newPushServer(t, corruptOuter, corruptInner, valid, ended)
	c := ps.dial(testConfig())

	var got collector
	err := c.Run(got.handle)
	assert.ErrorIs(t, err, errors.ErrRoomEnded)

	msgs := got.all()
	require.Len(t, msgs, 3)
	assert.Equal(t, "first", msgs[0].Content)
	assert.Equal(t, "second", msgs[1].Content)
	assert.Equal(t, types.CategoryControl, msgs[2].Type)

	stats := c.GetStats()
	assert.Equal(t, int64(3), stats.TotalMessages)
	assert.Equal(t, int64(3), stats.DecodeErrors)
	assert.False(t, c.isConnected.Load())
}

func TestConnectionSendsAck(t *testing.T) {
	frame := gzipFrame(t, 987654321, &protocol.Response{
		Messages:    []protocol.Message{chatSub(1, "hi")},
		InternalExt: "internal_src:dim|wss_push_room_id:1",
		NeedAck:     true,
	})
	ps := newPushServer(t, frame)
	c := ps.dial(testConfig())

	var got collector
	done := make(chan error, 1)
	go func() { done <- c.Run(got.handle) }()

	select {
	case pf := <-ps.received:
		assert.Equal(t, protocol.PayloadTypeAck, pf.PayloadType)
		assert.Equal(t, uint64(987654321), pf.LogID)
		assert.Equal(t, "internal_src:dim|wss_push_room_id:1", string(pf.Payload))
	case <-time.After(2 * time.Second):
		t.Fatal("no ack received")
	}

	require.Eventually(t, func() bool { return len(got.all()) == 1 }, time.Second, 5*time.Millisecond)

	require.NoError(t, c.Disconnect())
	require.NoError(t, c.Disconnect())
	select {
	case err := <-done:
		assert.ErrorIs(t, err, errors.ErrConnectionClosed)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after Disconnect")
	}
}

func TestConnectionHeartbeat(t *testing.T) {
	ps := newPushServer(t)
	cfg := testConfig()
	cfg.HeartbeatInterval = 10 * time.Millisecond
	c := ps.dial(cfg)

	go c.Run(nil)
	defer c.Disconnect()

	select {
	case pf := <-ps.received:
		assert.Equal(t, protocol.PayloadTypeHeartbeat, pf.PayloadType)
	case <-time.After(2 * time.Second):
		t.Fatal("no heartbeat received")
	}
}

func TestConnectionKeepaliveFailureIsFatal(t *testing.T) {
	ps := newPushServer(t)
	cfg := testConfig()
	cfg.HeartbeatInterval = 5 * time.Millisecond
	cfg.MaxHeartbeatFailures = 3
	c := ps.dial(cfg)

	// 直接关掉底层连接，只跑心跳协程
	c.conn.Close()
	go c.heartbeat()

	select {
	case <-c.done:
	case <-time.After(2 * time.Second):
		t.Fatal("heartbeat failures did not close the connection")
	}
	assert.ErrorIs(t, c.reason.Load(), errors.ErrKeepalive)
	assert.Equal(t, int32(3), c.heartbeatFailures.Load())
}

// pushPlatform 直接拨号到测试推送服务
type pushPlatform struct {
	url string
	ec  *errors.ErrorCenter
}

func (p *pushPlatform) Name() string { return "push" }

func (p *pushPlatform) RoomStatus(ctx context.Context, roomID string) (types.RoomStatus, error) {
	return types.RoomStatus{RoomID: roomID, Live: true}, nil
}

func (p *pushPlatform) Connect(ctx context.Context, roomID string) (Transport, error) {
	ws, _, err := websocket.DefaultDialer.DialContext(ctx, p.url, nil)
	if err != nil {
		return nil, err
	}
	return NewConnection(ws, roomID, testConfig(), p.ec, nil), nil
}

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func TestUnexpectedCloseReportedOnce(t *testing.T) {
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer ws.Close()
		ws.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseInternalServerErr, "boom"))
		ws.ReadMessage()
	}))
	t.Cleanup(srv.Close)

	ec := errors.NewErrorCenter()
	reports := make(chan error, 8)
	ec.AddErrorCallback(func(err error) { reports <- err })

	cm := newTestManager(t, &pushPlatform{url: wsURL(srv), ec: ec}, testConfig(), WithErrorCenter(ec))
	require.NoError(t, cm.AddConnection(context.Background(), "12345", types.NewChanSink(1)))
	waitInactive(t, cm, "12345")

	select {
	case err := <-reports:
		assert.ErrorIs(t, err, errors.ErrConnectionClosed)
	case <-time.After(2 * time.Second):
		t.Fatal("drop was not reported")
	}
	time.Sleep(50 * time.Millisecond)
	assert.Len(t, reports, 0, "drop reported more than once")
}

func TestManagerStatsIncludeDecodeErrors(t *testing.T) {
	ps := newPushServer(t,
		[]byte{0x42, 0xff, 0xff},
		(&protocol.PushFrame{LogID: 2, PayloadEncoding: "gzip", Payload: []byte("not gzip")}).Marshal(),
		gzipFrame(t, 3, &protocol.Response{Messages: []protocol.Message{chatSub(7, "ok")}}),
	)
	cm := newTestManager(t, &pushPlatform{url: wsURL(ps.srv)}, testConfig())
	sink := types.NewChanSink(4)
	require.NoError(t, cm.AddConnection(context.Background(), "12345", sink))

	select {
	case msg := <-sink.C():
		assert.Equal(t, "ok", msg.Content)
	case <-time.After(2 * time.Second):
		t.Fatal("message not delivered")
	}
	assert.Equal(t, int64(2), cm.GetStats().DecodeErrors)

	// 连接退出后计数仍然保留
	cm.RemoveConnection("12345")
	require.Eventually(t, func() bool {
		return cm.GetStats().DecodeErrors == 2 && cm.GetStats().ActiveConnections == 0
	}, 2*time.Second, 5*time.Millisecond)
	cm.workers.Wait()
	assert.Equal(t, int64(2), cm.GetStats().DecodeErrors)
}

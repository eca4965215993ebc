package conn

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/BetaCatPro/livelink/internal/compression"
	"github.com/BetaCatPro/livelink/internal/dispatch"
	"github.com/BetaCatPro/livelink/internal/errors"
	"github.com/BetaCatPro/livelink/internal/protocol"
	"github.com/BetaCatPro/livelink/internal/utils"
	"github.com/BetaCatPro/livelink/pkg/types"
	"github.com/gorilla/websocket"
	"go.uber.org/atomic"
)

const writeTimeout = 10 * time.Second

// Connection 与一个直播间的推送连接
type Connection struct {
	conn        *websocket.Conn      // 底层WebSocket连接
	roomID      string               // 直播间ID
	config      types.Config         // 配置信息
	errorCenter *errors.ErrorCenter  // 错误处理中心
	dispatcher  *dispatch.Dispatcher // 子消息分类
	logger      *slog.Logger

	sendMutex sync.Mutex // 发送锁，ack 和心跳共用

	isConnected       atomic.Bool  // 连接状态
	heartbeatFailures atomic.Int32 // 连续心跳失败次数
	reason            atomic.Error // 断开原因，只记录第一次
	done              chan struct{}
	closeOnce         sync.Once

	totalMessages atomic.Int64
	decodeErrors  atomic.Int64

	id string
}

// NewConnection 包装一个已完成握手的 websocket 连接
func NewConnection(wsConn *websocket.Conn, roomID string, config types.Config,
	errorCenter *errors.ErrorCenter, logger *slog.Logger) *Connection {
	if logger == nil {
		logger = slog.Default()
	}
	c := &Connection{
		conn:        wsConn,
		roomID:      roomID,
		config:      config,
		errorCenter: errorCenter,
		dispatcher:  dispatch.New(),
		done:        make(chan struct{}),
		id:          utils.GenerateConnectionID(),
	}
	c.logger = logger.With("room_id", roomID, "conn_id", c.id)
	c.isConnected.Store(true)
	return c
}

// Run 启动心跳并阻塞读取，直到连接断开。返回断开原因。
func (c *Connection) Run(handler func(types.Message)) error {
	if c.config.HeartbeatInterval > 0 {
		go c.heartbeat()
	}
	return c.readMessages(handler)
}

// readMessages 读取推送帧，逐帧处理，同一连接内严格按顺序
func (c *Connection) readMessages(handler func(types.Message)) error {
	for {
		select {
		case <-c.done:
			return c.reason.Load()
		default:
		}

		if c.config.ReadTimeout > 0 {
			c.conn.SetReadDeadline(time.Now().Add(c.config.ReadTimeout))
		}

		msgType, data, err := c.conn.ReadMessage()
		if err != nil {
			// 断开原因由上层统一上报
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.logger.Warn("unexpected close", "error", err)
			}
			c.closeWith(fmt.Errorf("%w: %v", errors.ErrConnectionClosed, err))
			return c.reason.Load()
		}
		if msgType != websocket.BinaryMessage {
			continue
		}

		if err := c.handleFrame(data, handler); err != nil {
			c.closeWith(err)
			return c.reason.Load()
		}
	}
}

// handleFrame 处理一帧。解码错误只记录不返回，只有传输层错误或直播结束才返回 error。
func (c *Connection) handleFrame(data []byte, handler func(types.Message)) (err error) {
	defer func() {
		if r := recover(); r != nil {
			c.decodeErrors.Inc()
			c.logger.Error("panic while handling frame", "panic", r)
			err = nil
		}
	}()

	frame, err := protocol.UnmarshalPushFrame(data)
	if err != nil {
		c.reportDecode("push frame", err)
		return nil
	}
	if frame.PayloadType != "" && frame.PayloadType != protocol.PayloadTypeMessage {
		return nil
	}

	payload, err := compression.GetCompressor(frame.PayloadEncoding).Decompress(frame.Payload)
	if err != nil {
		c.reportDecode("decompress", err)
		return nil
	}

	resp, err := protocol.UnmarshalResponse(payload)
	if err != nil {
		c.reportDecode("response", err)
		return nil
	}

	// ack 必须在处理下一帧之前发出
	if resp.NeedAck {
		if err := c.send(protocol.NewAck(frame.LogID, resp.InternalExt)); err != nil {
			return fmt.Errorf("%w: send ack: %v", errors.ErrConnectionClosed, err)
		}
	}

	ended := false
	for _, sub := range resp.Messages {
		msg, ok, err := c.dispatcher.Dispatch(c.roomID, sub)
		if err != nil {
			c.decodeErrors.Inc()
			c.logger.Warn("skip sub-message", "method", sub.Method, "error", err)
			continue
		}
		if !ok {
			continue
		}
		c.totalMessages.Inc()
		if handler != nil {
			handler(msg)
		}
		if msg.Type == types.CategoryControl && msg.Status == types.ControlEnded {
			ended = true
		}
	}

	if ended {
		c.logger.Info("live ended by control message")
		return errors.ErrRoomEnded
	}
	return nil
}

func (c *Connection) reportDecode(stage string, err error) {
	c.decodeErrors.Inc()
	c.logger.Warn("drop malformed frame", "stage", stage, "error", err)
}

// send 写一个二进制帧
func (c *Connection) send(data []byte) error {
	if !c.isConnected.Load() {
		return errors.ErrConnectionClosed
	}
	c.sendMutex.Lock()
	defer c.sendMutex.Unlock()

	c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	if err := c.conn.WriteMessage(websocket.BinaryMessage, data); err != nil {
		return fmt.Errorf("write message failed: %w", err)
	}
	return nil
}

// heartbeat 定时发送心跳帧，连续失败达到上限时断开连接
func (c *Connection) heartbeat() {
	ticker := time.NewTicker(c.config.HeartbeatInterval)
	defer ticker.Stop()

	maxFailures := int32(c.config.MaxHeartbeatFailures)
	if maxFailures < 1 {
		maxFailures = 1
	}

	for {
		select {
		case <-ticker.C:
			if err := c.send(protocol.NewHeartbeat()); err != nil {
				n := c.heartbeatFailures.Inc()
				c.errorCenter.ReportError(errors.NewRoomError(c.roomID, "heartbeat", err))
				if n >= maxFailures {
					c.closeWith(fmt.Errorf("%w: %d consecutive failures: %v", errors.ErrKeepalive, n, err))
					return
				}
				continue
			}
			c.heartbeatFailures.Store(0)
			c.logger.Debug("heartbeat sent")
		case <-c.done:
			return
		}
	}
}

// closeWith 关闭连接并记录原因，可重复调用
func (c *Connection) closeWith(reason error) {
	c.closeOnce.Do(func() {
		c.reason.Store(reason)
		c.isConnected.Store(false)
		close(c.done)
		c.sendMutex.Lock()
		c.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
		c.sendMutex.Unlock()
		c.conn.Close()
	})
}

// Disconnect 主动关闭连接，可重复调用
func (c *Connection) Disconnect() error {
	c.closeWith(errors.ErrConnectionClosed)
	return nil
}

// GetStats 获取连接统计信息
func (c *Connection) GetStats() types.ConnectionStats {
	return types.ConnectionStats{
		TotalMessages: c.totalMessages.Load(),
		DecodeErrors:  c.decodeErrors.Load(),
	}
}

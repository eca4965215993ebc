package client

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/BetaCatPro/livelink/internal/errors"
	"github.com/BetaCatPro/livelink/internal/utils"
	"github.com/BetaCatPro/livelink/pkg/types"
	"github.com/gorilla/websocket"
	"go.uber.org/atomic"
)

// Option 客户端选项
type Option func(*Client)

// WithLogger 设置日志
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithBackoff 设置重连退避：min(base^n * factor, maxDelay)
func WithBackoff(base float64, factor, maxDelay time.Duration) Option {
	return func(c *Client) {
		c.base = base
		c.factor = factor
		c.maxDelay = maxDelay
	}
}

// WithRoom 只订阅一个房间
func WithRoom(roomID string) Option {
	return func(c *Client) {
		c.room = roomID
	}
}

// Client 订阅广播端消息的 WebSocket 客户端
type Client struct {
	url     string
	room    string
	headers http.Header
	dialer  *websocket.Dialer
	logger  *slog.Logger
	mutex   sync.RWMutex
	conn    *websocket.Conn

	base     float64
	factor   time.Duration
	maxDelay time.Duration

	// 回调函数
	messageHandler    func(types.Message)
	connectHandler    func()
	disconnectHandler func(error)

	isConnected   atomic.Bool
	totalMessages atomic.Int64
	decodeErrors  atomic.Int64
	reconnects    atomic.Int64

	done      chan struct{}
	closeOnce sync.Once
}

// NewClient 创建客户端，serverURL 形如 ws://host:8080/ws
func NewClient(serverURL string, opts ...Option) *Client {
	c := &Client{
		url:     serverURL,
		headers: http.Header{},
		dialer: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: 10 * time.Second,
		},
		logger:   slog.Default(),
		base:     2,
		factor:   time.Second,
		maxDelay: 60 * time.Second,
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Client) endpoint() (string, error) {
	if !utils.IsValidURL(c.url) {
		return "", fmt.Errorf("invalid websocket url %q", c.url)
	}
	u, err := url.Parse(c.url)
	if err != nil {
		return "", err
	}
	if c.room != "" {
		q := u.Query()
		q.Set("room", c.room)
		u.RawQuery = q.Encode()
	}
	return u.String(), nil
}

// Connect 建立一次连接
func (c *Client) Connect(ctx context.Context) error {
	endpoint, err := c.endpoint()
	if err != nil {
		return err
	}

	c.mutex.RLock()
	header := c.headers.Clone()
	c.mutex.RUnlock()

	wsConn, _, err := c.dialer.DialContext(ctx, endpoint, header)
	if err != nil {
		return fmt.Errorf("dial %s: %w", endpoint, err)
	}

	c.mutex.Lock()
	c.conn = wsConn
	c.mutex.Unlock()
	c.isConnected.Store(true)
	c.logger.Info("connected", "url", endpoint)

	// 触发连接成功回调
	if c.connectHandler != nil {
		c.connectHandler()
	}
	return nil
}

// Run 连接并持续接收消息，断开后按退避时间重连，直到 ctx 结束或 Close
func (c *Client) Run(ctx context.Context) error {
	attempt := 0
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-c.done:
			return nil
		default:
		}

		err := c.Connect(ctx)
		if err == nil {
			attempt = 0
			err = c.readMessages()
		}

		select {
		case <-c.done:
			return nil
		default:
		}

		// 触发断开连接回调
		if c.disconnectHandler != nil {
			c.disconnectHandler(err)
		}

		delay := utils.CalculateBackoff(attempt, c.base, c.factor, c.maxDelay)
		attempt++
		c.reconnects.Inc()
		c.logger.Warn("connection lost, reconnecting", "error", err, "delay", delay, "attempt", attempt)

		timer := time.NewTimer(delay)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-c.done:
			timer.Stop()
			return nil
		}
	}
}

// readMessages 阻塞读取直到连接断开
func (c *Client) readMessages() error {
	c.mutex.RLock()
	wsConn := c.conn
	c.mutex.RUnlock()
	defer func() {
		c.isConnected.Store(false)
		wsConn.Close()
	}()

	for {
		_, data, err := wsConn.ReadMessage()
		if err != nil {
			return fmt.Errorf("%w: %v", errors.ErrConnectionClosed, err)
		}

		var msg types.Message
		if err := json.Unmarshal(data, &msg); err != nil {
			c.decodeErrors.Inc()
			c.logger.Warn("skip malformed message", "error", err)
			continue
		}
		c.totalMessages.Inc()

		c.mutex.RLock()
		handler := c.messageHandler
		c.mutex.RUnlock()
		if handler != nil {
			handler(msg)
		}
	}
}

// SetHeader 设置请求头
func (c *Client) SetHeader(key, value string) {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	c.headers.Set(key, value)
}

// SetMessageHandler 设置消息处理回调
func (c *Client) SetMessageHandler(handler func(types.Message)) {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	c.messageHandler = handler
}

// SetConnectHandler 设置连接成功回调
func (c *Client) SetConnectHandler(handler func()) {
	c.connectHandler = handler
}

// SetDisconnectHandler 设置断开连接回调
func (c *Client) SetDisconnectHandler(handler func(error)) {
	c.disconnectHandler = handler
}

// IsConnected 检查连接状态
func (c *Client) IsConnected() bool {
	return c.isConnected.Load()
}

// GetStats 获取统计信息
func (c *Client) GetStats() types.ConnectionStats {
	active := 0
	if c.isConnected.Load() {
		active = 1
	}
	return types.ConnectionStats{
		ActiveConnections: active,
		TotalMessages:     c.totalMessages.Load(),
		DecodeErrors:      c.decodeErrors.Load(),
		ReconnectAttempts: int(c.reconnects.Load()),
	}
}

// Close 关闭客户端，Run 随之返回
func (c *Client) Close() {
	c.closeOnce.Do(func() {
		close(c.done)
		c.mutex.RLock()
		wsConn := c.conn
		c.mutex.RUnlock()
		if wsConn != nil {
			wsConn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
			wsConn.Close()
		}
	})
}

package conn

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/BetaCatPro/livelink/internal/errors"
	"github.com/BetaCatPro/livelink/internal/metrics"
	"github.com/BetaCatPro/livelink/pkg/types"
	"go.uber.org/atomic"
)

// Transport 一个已完成握手的直播间连接
type Transport interface {
	// Run 阻塞接收消息并交给 handler，连接断开后返回原因
	Run(handler func(types.Message)) error
	// Disconnect 关闭连接，可重复调用
	Disconnect() error
}

// Platform 直播平台接入
type Platform interface {
	Name() string
	// RoomStatus 查询直播间是否在播
	RoomStatus(ctx context.Context, roomID string) (types.RoomStatus, error)
	// Connect 建立连接，握手失败返回 error
	Connect(ctx context.Context, roomID string) (Transport, error)
}

// statsProvider 能报告自身统计的 Transport
type statsProvider interface {
	GetStats() types.ConnectionStats
}

// Option 管理器选项
type Option func(*ConnectionManager)

// WithLogger 设置日志
func WithLogger(logger *slog.Logger) Option {
	return func(cm *ConnectionManager) {
		if logger != nil {
			cm.logger = logger
		}
	}
}

// WithMetrics 设置指标
func WithMetrics(c *metrics.Collector) Option {
	return func(cm *ConnectionManager) {
		cm.metrics = c
	}
}

// WithErrorCenter 与平台共用一个错误处理中心
func WithErrorCenter(ec *errors.ErrorCenter) Option {
	return func(cm *ConnectionManager) {
		if ec != nil {
			cm.errorCenter = ec
		}
	}
}

// WithClock 替换时钟，测试用
func WithClock(now func() time.Time) Option {
	return func(cm *ConnectionManager) {
		cm.now = now
	}
}

// ConnectionManager 直播间连接管理器
type ConnectionManager struct {
	platform    Platform
	config      types.Config
	policy      ReconnectPolicy
	logger      *slog.Logger
	metrics     *metrics.Collector
	errorCenter *errors.ErrorCenter
	now         func() time.Time

	mutex       sync.Mutex
	connections map[string]*record

	ctx        context.Context
	cancel     context.CancelFunc
	stopSignal chan struct{}
	startOnce  sync.Once
	stopOnce   sync.Once
	workers    sync.WaitGroup // 健康检查和各房间 worker
	reconnects sync.WaitGroup // 进行中的重连

	totalMessages     atomic.Int64
	droppedMessages   atomic.Int64
	reconnectAttempts atomic.Int64
	decodeErrors      int64 // 已退出连接的解码失败数，受 mutex 保护
}

// NewConnectionManager 创建连接管理器，调用 Start 后才会自动重连
func NewConnectionManager(platform Platform, config types.Config, opts ...Option) *ConnectionManager {
	ctx, cancel := context.WithCancel(context.Background())
	cm := &ConnectionManager{
		platform:    platform,
		config:      config,
		policy:      PolicyFromConfig(config),
		logger:      slog.Default(),
		errorCenter: errors.NewErrorCenter(),
		now:         time.Now,
		connections: make(map[string]*record),
		ctx:         ctx,
		cancel:      cancel,
		stopSignal:  make(chan struct{}),
	}
	for _, opt := range opts {
		opt(cm)
	}
	cm.logger = cm.logger.With("platform", platform.Name())
	cm.errorCenter.AddErrorCallback(cm.handleError)
	return cm
}

func (cm *ConnectionManager) handleError(err error) {
	cm.metrics.IncError()
	cm.logger.Warn("connection error", "error", err)
}

// AddConnection 开始监听一个直播间。
// 已有活跃连接时直接返回 nil；直播间不存在或未开播时同步返回错误且不留下记录。
func (cm *ConnectionManager) AddConnection(ctx context.Context, roomID string, sink types.Sink) error {
	cm.mutex.Lock()
	if rec, exists := cm.connections[roomID]; exists {
		if rec.active || rec.connecting {
			cm.mutex.Unlock()
			cm.logger.Info("room already connected", "room_id", roomID)
			return nil
		}
		// 不活跃的旧记录直接丢弃
		cm.logger.Info("replacing inactive connection", "room_id", roomID)
		rec.shouldReconnect = false
		delete(cm.connections, roomID)
	}
	rec := newRecord(roomID, sink, cm.now())
	rec.connecting = true
	cm.connections[roomID] = rec
	cm.refreshGauges()
	cm.mutex.Unlock()

	if err := cm.startConnection(ctx, rec); err != nil {
		cm.mutex.Lock()
		if cm.connections[roomID] == rec {
			delete(cm.connections, roomID)
			cm.refreshGauges()
		}
		cm.mutex.Unlock()
		cm.logger.Warn("add connection failed", "room_id", roomID, "error", err)
		return err
	}
	return nil
}

// startConnection 查询状态并握手，成功后启动 worker。调用时不能持有锁。
func (cm *ConnectionManager) startConnection(ctx context.Context, rec *record) error {
	roomID := rec.roomID

	status, err := cm.platform.RoomStatus(ctx, roomID)
	if err != nil {
		if !errors.Is(err, errors.ErrRoomNotFound) && !errors.Is(err, errors.ErrRoomNotLive) {
			err = fmt.Errorf("%w: %w", errors.ErrRoomNotFound, err)
		}
		return errors.NewRoomError(roomID, "status", err)
	}
	if !status.Live {
		return errors.NewRoomError(roomID, "status",
			fmt.Errorf("%w (room_status=%d)", errors.ErrRoomNotLive, status.StatusCode))
	}

	transport, err := cm.platform.Connect(ctx, roomID)
	if err != nil {
		if !errors.Is(err, errors.ErrHandshake) {
			err = fmt.Errorf("%w: %w", errors.ErrHandshake, err)
		}
		return errors.NewRoomError(roomID, "connect", err)
	}

	cm.mutex.Lock()
	if cm.connections[roomID] != rec || !rec.shouldReconnect {
		cm.mutex.Unlock()
		transport.Disconnect()
		return errors.NewRoomError(roomID, "connect", errors.ErrRemoved)
	}
	rec.generation++
	gen := rec.generation
	rec.transport = transport
	rec.connecting = false
	rec.lastError = nil
	cm.setActive(rec, true)
	cm.mutex.Unlock()

	cm.workers.Add(1)
	go cm.runTransport(rec, gen, transport)
	return nil
}

// runTransport 房间 worker：阻塞运行连接，退出时标记不活跃
func (cm *ConnectionManager) runTransport(rec *record, gen uint64, transport Transport) {
	defer cm.workers.Done()
	cm.logger.Info("room connected", "room_id", rec.roomID)

	err := transport.Run(func(msg types.Message) {
		cm.route(rec, msg)
	})

	cm.mutex.Lock()
	if sp, ok := transport.(statsProvider); ok {
		cm.decodeErrors += sp.GetStats().DecodeErrors
	}
	if rec.generation == gen {
		cm.setActive(rec, false)
		rec.lastError = err
		if cm.penalizeRateLimit(rec, err) {
			// 从断开时刻起算退避
			rec.lastReconnectTime = cm.now()
		}
	}
	wanted := rec.shouldReconnect
	cm.mutex.Unlock()

	cm.logger.Info("room disconnected", "room_id", rec.roomID, "reason", err, "will_reconnect", wanted)
	if err != nil && wanted {
		cm.errorCenter.ReportError(errors.NewRoomError(rec.roomID, "run", err))
	}
}

// route 把消息转给 sink，并刷新最后消息时间
func (cm *ConnectionManager) route(rec *record, msg types.Message) {
	accepted := rec.sink != nil && rec.sink.Put(msg)
	cm.metrics.ObserveMessage(msg, accepted)
	cm.totalMessages.Inc()
	if !accepted {
		cm.droppedMessages.Inc()
		cm.logger.Debug("sink refused message", "room_id", rec.roomID, "type", msg.Type)
	}
	cm.UpdateMessageTime(rec.roomID)
}

// penalizeRateLimit 被限流时额外增加重连计数，拉长下一次退避。需持有锁。
func (cm *ConnectionManager) penalizeRateLimit(rec *record, err error) bool {
	if cm.config.RateLimitPenalty <= 0 || !errors.Is(err, errors.ErrRateLimited) {
		return false
	}
	rec.reconnectCount += cm.config.RateLimitPenalty
	cm.logger.Warn("rate limited, backing off longer",
		"room_id", rec.roomID, "reconnect_count", rec.reconnectCount)
	return true
}

// setActive 修改活跃状态，false→true 时重置重连计数。需持有锁。
func (cm *ConnectionManager) setActive(rec *record, active bool) {
	if active && !rec.active {
		if rec.reconnectCount > 0 {
			cm.logger.Info("connection recovered", "room_id", rec.roomID, "attempts", rec.reconnectCount)
		}
		rec.reconnectCount = 0
	}
	rec.active = active
	cm.refreshGauges()
}

// refreshGauges 需持有锁
func (cm *ConnectionManager) refreshGauges() {
	if cm.metrics == nil {
		return
	}
	active := 0
	for _, rec := range cm.connections {
		if rec.active {
			active++
		}
	}
	cm.metrics.SetConnections(len(cm.connections), active)
}

// RemoveConnection 停止监听并删除记录，房间不存在时什么也不做
func (cm *ConnectionManager) RemoveConnection(roomID string) {
	cm.mutex.Lock()
	rec, exists := cm.connections[roomID]
	if !exists {
		cm.mutex.Unlock()
		cm.logger.Debug("remove: room not monitored", "room_id", roomID)
		return
	}
	rec.shouldReconnect = false
	delete(cm.connections, roomID)
	transport := rec.transport
	cm.refreshGauges()
	cm.mutex.Unlock()

	cm.metrics.ForgetRoom(roomID)
	if transport != nil {
		if err := transport.Disconnect(); err != nil {
			cm.logger.Warn("disconnect failed", "room_id", roomID, "error", err)
		}
	}
	cm.logger.Info("connection removed", "room_id", roomID)
}

// GetConnectionStatus 获取单个连接状态
func (cm *ConnectionManager) GetConnectionStatus(roomID string) types.ConnectionStatus {
	cm.mutex.Lock()
	defer cm.mutex.Unlock()
	if rec, exists := cm.connections[roomID]; exists {
		return rec.status()
	}
	return types.ConnectionStatus{}
}

// GetAllConnections 获取所有连接状态
func (cm *ConnectionManager) GetAllConnections() map[string]types.ConnectionStatus {
	cm.mutex.Lock()
	defer cm.mutex.Unlock()
	out := make(map[string]types.ConnectionStatus, len(cm.connections))
	for id, rec := range cm.connections {
		out[id] = rec.status()
	}
	return out
}

// GetStats 汇总所有房间的统计信息
func (cm *ConnectionManager) GetStats() types.ConnectionStats {
	cm.mutex.Lock()
	active := 0
	decodeErrors := cm.decodeErrors
	for _, rec := range cm.connections {
		if !rec.active {
			continue
		}
		active++
		if sp, ok := rec.transport.(statsProvider); ok {
			decodeErrors += sp.GetStats().DecodeErrors
		}
	}
	cm.mutex.Unlock()
	return types.ConnectionStats{
		ActiveConnections: active,
		TotalMessages:     cm.totalMessages.Load(),
		DroppedMessages:   cm.droppedMessages.Load(),
		DecodeErrors:      decodeErrors,
		ReconnectAttempts: int(cm.reconnectAttempts.Load()),
	}
}

// UpdateMessageTime 刷新最后消息时间，只用于静默检测
func (cm *ConnectionManager) UpdateMessageTime(roomID string) {
	cm.mutex.Lock()
	defer cm.mutex.Unlock()
	if rec, exists := cm.connections[roomID]; exists {
		rec.lastMessageTime = cm.now()
	}
}

// Close 停止健康检查并移除所有连接
func (cm *ConnectionManager) Close(ctx context.Context) error {
	cm.stopOnce.Do(func() {
		close(cm.stopSignal)
		cm.cancel()
	})

	cm.mutex.Lock()
	ids := make([]string, 0, len(cm.connections))
	for id := range cm.connections {
		ids = append(ids, id)
	}
	cm.mutex.Unlock()
	for _, id := range ids {
		cm.RemoveConnection(id)
	}

	done := make(chan struct{})
	go func() {
		cm.reconnects.Wait()
		cm.workers.Wait()
		close(done)
	}()

	select {
	case <-done:
		cm.logger.Info("connection manager stopped")
		return nil
	case <-ctx.Done():
		cm.logger.Warn("shutdown timeout, workers still running")
		return ctx.Err()
	}
}

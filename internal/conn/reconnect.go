package conn

import (
	"time"

	"github.com/BetaCatPro/livelink/internal/errors"
	"github.com/BetaCatPro/livelink/internal/utils"
	"github.com/BetaCatPro/livelink/pkg/types"
)

// ReconnectPolicy 重连退避策略
type ReconnectPolicy struct {
	Base        float64       // 退避底数
	BaseTime    time.Duration // 退避因子
	MaxDelay    time.Duration // 退避上限
	MaxAttempts int           // 最大重连次数，0 表示不限
}

// PolicyFromConfig 从配置生成重连策略
func PolicyFromConfig(config types.Config) ReconnectPolicy {
	return ReconnectPolicy{
		Base:        config.ReconnectBase,
		BaseTime:    config.ReconnectBaseTime,
		MaxDelay:    config.ReconnectMaxDelay,
		MaxAttempts: config.MaxReconnectTimes,
	}
}

// Delay 第 attempt 次重连前至少要等待的时间
func (p ReconnectPolicy) Delay(attempt int) time.Duration {
	return utils.CalculateBackoff(attempt, p.Base, p.BaseTime, p.MaxDelay)
}

// Exhausted 是否已用完重连次数
func (p ReconnectPolicy) Exhausted(count int) bool {
	return p.MaxAttempts > 0 && count >= p.MaxAttempts
}

// Start 启动健康检查协程
func (cm *ConnectionManager) Start() {
	cm.startOnce.Do(func() {
		cm.workers.Add(1)
		go cm.monitorConnections()
		cm.logger.Info("connection manager started", "interval", cm.config.HealthCheckInterval)
	})
}

// monitorConnections 定时检查所有连接
func (cm *ConnectionManager) monitorConnections() {
	defer cm.workers.Done()

	interval := cm.config.HealthCheckInterval
	if interval <= 0 {
		interval = 5 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			cm.checkConnections()
		case <-cm.stopSignal:
			return
		}
	}
}

// checkConnections 一轮健康检查。
// 不活跃的记录在退避时间到了之后重连，计数和时间在尝试之前更新；
// 活跃的记录只做静默告警。
func (cm *ConnectionManager) checkConnections() {
	now := cm.now()
	var (
		due       []*record
		exhausted []error
	)

	cm.mutex.Lock()
	for roomID, rec := range cm.connections {
		if !rec.shouldReconnect || rec.connecting {
			continue
		}

		if !rec.active {
			if cm.policy.Exhausted(rec.reconnectCount) {
				rec.shouldReconnect = false
				cm.logger.Error("giving up reconnecting",
					"room_id", roomID, "reconnect_count", rec.reconnectCount, "last_error", rec.lastError)
				exhausted = append(exhausted, errors.NewRoomError(roomID, "reconnect", errors.ErrMaxReconnect))
				continue
			}

			delay := cm.policy.Delay(rec.reconnectCount)
			if now.Sub(rec.lastReconnectTime) < delay {
				continue
			}

			rec.reconnectCount++
			rec.lastReconnectTime = now
			rec.connecting = true
			cm.logger.Warn("connection lost, reconnecting",
				"room_id", roomID, "reconnect_count", rec.reconnectCount, "delay", delay)
			due = append(due, rec)
			continue
		}

		if rec.reconnectCount > 0 {
			cm.logger.Info("connection recovered", "room_id", roomID)
			rec.reconnectCount = 0
		}
		if threshold := cm.config.SilenceThreshold; threshold > 0 {
			if silent := now.Sub(rec.lastMessageTime); silent > threshold {
				cm.logger.Warn("no messages received, connection may be stale",
					"room_id", roomID, "silent_for", silent.Round(time.Second))
			}
		}
	}
	cm.mutex.Unlock()

	for _, err := range exhausted {
		cm.errorCenter.ReportError(err)
	}
	for _, rec := range due {
		cm.reconnects.Add(1)
		go cm.reconnect(rec)
	}
}

// reconnect 重新建立一个房间的连接
func (cm *ConnectionManager) reconnect(rec *record) {
	defer cm.reconnects.Done()
	cm.metrics.IncReconnect(rec.roomID)
	cm.reconnectAttempts.Inc()

	if err := cm.startConnection(cm.ctx, rec); err != nil {
		cm.mutex.Lock()
		rec.connecting = false
		rec.lastError = err
		cm.penalizeRateLimit(rec, err)
		cm.mutex.Unlock()
		if !errors.Is(err, errors.ErrRemoved) {
			cm.errorCenter.ReportError(err)
		}
	}
}

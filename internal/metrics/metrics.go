// Package metrics 暴露连接管理器的 Prometheus 指标。所有方法对 nil 接收者安全。
package metrics

import (
	"github.com/BetaCatPro/livelink/pkg/types"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "livelink"

// Collector 连接管理器指标
type Collector struct {
	connections prometheus.Gauge
	active      prometheus.Gauge
	reconnects  *prometheus.CounterVec
	messages    *prometheus.CounterVec
	dropped     prometheus.Counter
	errors      prometheus.Counter
	viewers     prometheus.Gauge
}

// New 在 reg 上注册指标，reg 为 nil 时使用默认注册表
func New(reg prometheus.Registerer) *Collector {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &Collector{
		connections: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "connections_total",
			Help:      "Number of monitored rooms.",
		}),
		active: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "connections_active",
			Help:      "Number of rooms with a live transport.",
		}),
		reconnects: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reconnect_attempts_total",
			Help:      "Reconnect attempts started by the health loop.",
		}, []string{"room_id"}),
		messages: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_total",
			Help:      "Messages routed to sinks, by category.",
		}, []string{"category"}),
		dropped: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_dropped_total",
			Help:      "Messages refused by a full sink.",
		}),
		errors: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "errors_total",
			Help:      "Transport and reconnect errors reported.",
		}),
		viewers: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "viewers",
			Help:      "Websocket clients attached to the fan-out endpoint.",
		}),
	}
}

// SetConnections 更新连接数
func (c *Collector) SetConnections(total, active int) {
	if c == nil {
		return
	}
	c.connections.Set(float64(total))
	c.active.Set(float64(active))
}

// IncReconnect 记录一次重连尝试
func (c *Collector) IncReconnect(roomID string) {
	if c == nil {
		return
	}
	c.reconnects.WithLabelValues(roomID).Inc()
}

// ForgetRoom 删除已移除房间的标签
func (c *Collector) ForgetRoom(roomID string) {
	if c == nil {
		return
	}
	c.reconnects.DeleteLabelValues(roomID)
}

// ObserveMessage 记录一条转发的消息
func (c *Collector) ObserveMessage(msg types.Message, accepted bool) {
	if c == nil {
		return
	}
	c.messages.WithLabelValues(string(msg.Type)).Inc()
	if !accepted {
		c.dropped.Inc()
	}
}

// IncError 记录一次错误
func (c *Collector) IncError() {
	if c == nil {
		return
	}
	c.errors.Inc()
}

// SetViewers 更新广播端的观看客户端数
func (c *Collector) SetViewers(n int) {
	if c == nil {
		return
	}
	c.viewers.Set(float64(n))
}

package types

import (
	"time"
)

// Config 直播间连接配置
type Config struct {
	HeartbeatInterval    time.Duration // 心跳间隔
	MaxHeartbeatFailures int           // 连续心跳失败多少次视为连接已断
	ReadTimeout          time.Duration // 读超时，0 表示不设置
	HandshakeRetries     int           // 握手重试次数
	HandshakeRetryDelay  time.Duration // 握手重试间隔
	HealthCheckInterval  time.Duration // 健康检查间隔
	ReconnectBase        float64       // 退避底数
	ReconnectBaseTime    time.Duration // 退避因子
	ReconnectMaxDelay    time.Duration // 退避上限
	MaxReconnectTimes    int           // 最大重连次数，0 表示不限
	RateLimitPenalty     int           // 被限流时额外增加的重连计数
	SilenceThreshold     time.Duration // 静默告警阈值
	BufferSize           int           // 消息缓冲区大小
}

// DouyinConfig 抖音直播间的默认配置
func DouyinConfig() Config {
	return Config{
		HeartbeatInterval:    10 * time.Second,
		MaxHeartbeatFailures: 3,
		HandshakeRetries:     3,
		HandshakeRetryDelay:  2 * time.Second,
		HealthCheckInterval:  5 * time.Second,
		ReconnectBase:        2,
		ReconnectBaseTime:    1 * time.Second,
		ReconnectMaxDelay:    60 * time.Second,
		MaxReconnectTimes:    0,
		SilenceThreshold:     60 * time.Second,
		BufferSize:           1000,
	}
}

// BridgeConfig 子进程桥接平台（TikTok）的默认配置
func BridgeConfig() Config {
	cfg := DouyinConfig()
	cfg.ReconnectBaseTime = 5 * time.Second
	cfg.ReconnectMaxDelay = 300 * time.Second
	cfg.MaxReconnectTimes = 10
	cfg.RateLimitPenalty = 2
	cfg.SilenceThreshold = 120 * time.Second
	return cfg
}

// Category 消息类别
type Category string

const (
	CategoryChat     Category = "chat"
	CategoryGift     Category = "gift"
	CategoryLike     Category = "like"
	CategoryJoin     Category = "join"
	CategoryFollow   Category = "follow"
	CategoryShare    Category = "share"
	CategoryStats    Category = "stats"
	CategoryFansclub Category = "fansclub"
	CategoryControl  Category = "control"
)

// ControlEnded 直播结束
const ControlEnded = "ended"

// Message 分发给下游的直播间消息，按 Type 区分有效字段
type Message struct {
	ID     string   `json:"id"`
	Type   Category `json:"type"`
	RoomID string   `json:"room_id"`

	UserID     string `json:"user_id,omitempty"`
	UserName   string `json:"user_name,omitempty"`
	UserAvatar string `json:"user_avatar,omitempty"`
	Gender     string `json:"gender,omitempty"`

	Content   string `json:"content,omitempty"`    // chat, fansclub
	GiftName  string `json:"gift_name,omitempty"`  // gift
	GiftCount uint64 `json:"gift_count,omitempty"` // gift
	LikeCount uint64 `json:"count,omitempty"`      // like
	LikeTotal uint64 `json:"total,omitempty"`      // like

	CurrentViewers int64  `json:"current_viewers,omitempty"` // stats
	TotalViewers   string `json:"total_viewers,omitempty"`   // stats

	Status     string `json:"status,omitempty"`      // control
	StatusCode int32  `json:"status_code,omitempty"` // control

	Timestamp float64 `json:"timestamp"` // 秒
}

// Timestamp 返回当前时间的浮点秒
func Timestamp(t time.Time) float64 {
	return float64(t.UnixNano()) / float64(time.Second)
}

// RoomStatus 直播间状态查询结果
type RoomStatus struct {
	RoomID     string // 平台内部房间号
	Live       bool
	StatusCode int
	AnchorID   string
	AnchorName string
}

// ConnectionStatus 单个直播间连接的状态
type ConnectionStatus struct {
	Exists          bool      `json:"exists"`
	Active          bool      `json:"active"`
	Connecting      bool      `json:"connecting"`
	ShouldReconnect bool      `json:"should_reconnect"`
	ReconnectCount  int       `json:"reconnect_count"`
	LastMessageTime time.Time `json:"last_message_time"`
	LastError       string    `json:"last_error,omitempty"`
}

// ConnectionStats 连接统计信息
type ConnectionStats struct {
	ActiveConnections int   // 活跃连接数
	TotalMessages     int64 // 总消息数
	DroppedMessages   int64 // 丢弃消息数
	DecodeErrors      int64 // 解码失败数
	ReconnectAttempts int   // 重连尝试次数
}

package config

import (
	"log/slog"
	"strings"
	"time"
)

// Platform 名称
const (
	PlatformDouyin = "douyin"
	PlatformBridge = "bridge"
)

// Config livelink-server 的配置文件
type Config struct {
	Platform   string           `yaml:"platform"`
	Rooms      []string         `yaml:"rooms"`
	Server     ServerConfig     `yaml:"server"`
	Log        LogConfig        `yaml:"log"`
	Connection ConnectionConfig `yaml:"connection"`
	Douyin     DouyinConfig     `yaml:"douyin"`
	Bridge     BridgeConfig     `yaml:"bridge"`
}

// ServerConfig 状态接口和广播服务
type ServerConfig struct {
	Addr            string        `yaml:"addr"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// LogConfig 日志
type LogConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // text, json
}

// SlogLevel 转换成 slog 级别，无法识别时为 info
func (l LogConfig) SlogLevel() slog.Level {
	switch strings.ToLower(l.Level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// ConnectionConfig 覆盖平台预设的连接参数，零值表示沿用预设
type ConnectionConfig struct {
	HeartbeatInterval    time.Duration `yaml:"heartbeat_interval"`
	MaxHeartbeatFailures int           `yaml:"max_heartbeat_failures"`
	ReadTimeout          time.Duration `yaml:"read_timeout"`
	HandshakeRetries     int           `yaml:"handshake_retries"`
	HandshakeRetryDelay  time.Duration `yaml:"handshake_retry_delay"`
	HealthCheckInterval  time.Duration `yaml:"health_check_interval"`
	ReconnectBase        float64       `yaml:"reconnect_base"`
	ReconnectBaseTime    time.Duration `yaml:"reconnect_base_time"`
	ReconnectMaxDelay    time.Duration `yaml:"reconnect_max_delay"`
	MaxReconnectTimes    *int          `yaml:"max_reconnect_times"` // 0 表示不限
	RateLimitPenalty     *int          `yaml:"rate_limit_penalty"`
	SilenceThreshold     time.Duration `yaml:"silence_threshold"`
	BufferSize           int           `yaml:"buffer_size"`
}

// DouyinConfig 抖音接入
type DouyinConfig struct {
	LiveURL   string `yaml:"live_url"`
	PushURL   string `yaml:"push_url"`
	UserAgent string `yaml:"user_agent"`
	SignerURL string `yaml:"signer_url"` // 为空时不签名
}

// BridgeConfig 子进程桥接
type BridgeConfig struct {
	Name    string   `yaml:"name"`
	Command string   `yaml:"command"`
	Args    []string `yaml:"args"`
	Dir     string   `yaml:"dir"`
	Env     []string `yaml:"env"`
}

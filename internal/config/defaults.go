package config

import (
	"time"

	"github.com/BetaCatPro/livelink/pkg/types"
)

// 可选字段的默认值
const (
	DefaultPlatform        = PlatformDouyin
	DefaultServerAddr      = ":8080"
	DefaultShutdownTimeout = 10 * time.Second
	DefaultLogLevel        = "info"
	DefaultLogFormat       = "text"
	DefaultBridgeName      = "tiktok"
)

// Default 不读文件时使用的配置
func Default() *Config {
	cfg := &Config{}
	cfg.ApplyDefaults()
	return cfg
}

// ApplyDefaults 填充未设置的字段
func (c *Config) ApplyDefaults() {
	if c.Platform == "" {
		c.Platform = DefaultPlatform
	}
	if c.Server.Addr == "" {
		c.Server.Addr = DefaultServerAddr
	}
	if c.Server.ShutdownTimeout == 0 {
		c.Server.ShutdownTimeout = DefaultShutdownTimeout
	}
	if c.Log.Level == "" {
		c.Log.Level = DefaultLogLevel
	}
	if c.Log.Format == "" {
		c.Log.Format = DefaultLogFormat
	}
	if c.Bridge.Name == "" {
		c.Bridge.Name = DefaultBridgeName
	}
}

// Preset 平台的预设连接参数
func (c *Config) Preset() types.Config {
	if c.Platform == PlatformBridge {
		return types.BridgeConfig()
	}
	return types.DouyinConfig()
}

// ConnectionSettings 在平台预设上叠加配置文件里的覆盖项
func (c *Config) ConnectionSettings() types.Config {
	out := c.Preset()
	o := c.Connection

	if o.HeartbeatInterval > 0 {
		out.HeartbeatInterval = o.HeartbeatInterval
	}
	if o.MaxHeartbeatFailures > 0 {
		out.MaxHeartbeatFailures = o.MaxHeartbeatFailures
	}
	if o.ReadTimeout > 0 {
		out.ReadTimeout = o.ReadTimeout
	}
	if o.HandshakeRetries > 0 {
		out.HandshakeRetries = o.HandshakeRetries
	}
	if o.HandshakeRetryDelay > 0 {
		out.HandshakeRetryDelay = o.HandshakeRetryDelay
	}
	if o.HealthCheckInterval > 0 {
		out.HealthCheckInterval = o.HealthCheckInterval
	}
	if o.ReconnectBase > 0 {
		out.ReconnectBase = o.ReconnectBase
	}
	if o.ReconnectBaseTime > 0 {
		out.ReconnectBaseTime = o.ReconnectBaseTime
	}
	if o.ReconnectMaxDelay > 0 {
		out.ReconnectMaxDelay = o.ReconnectMaxDelay
	}
	if o.MaxReconnectTimes != nil {
		out.MaxReconnectTimes = *o.MaxReconnectTimes
	}
	if o.RateLimitPenalty != nil {
		out.RateLimitPenalty = *o.RateLimitPenalty
	}
	if o.SilenceThreshold > 0 {
		out.SilenceThreshold = o.SilenceThreshold
	}
	if o.BufferSize > 0 {
		out.BufferSize = o.BufferSize
	}
	return out
}

package config

import (
	"errors"
	"fmt"
	"strings"
)

// Validate 检查配置是否可用
func (c *Config) Validate() error {
	switch c.Platform {
	case PlatformDouyin:
	case PlatformBridge:
		if c.Bridge.Command == "" {
			return errors.New("bridge.command is required when platform is bridge")
		}
	default:
		return fmt.Errorf("platform must be %q or %q, got %q", PlatformDouyin, PlatformBridge, c.Platform)
	}

	seen := make(map[string]bool, len(c.Rooms))
	for i, room := range c.Rooms {
		if strings.TrimSpace(room) == "" {
			return fmt.Errorf("rooms[%d] is empty", i)
		}
		if seen[room] {
			return fmt.Errorf("rooms[%d]: duplicate room %q", i, room)
		}
		seen[room] = true
	}

	switch c.Log.Format {
	case "text", "json":
	default:
		return fmt.Errorf("log.format must be text or json, got %q", c.Log.Format)
	}

	conn := c.Connection
	if conn.ReconnectBase != 0 && conn.ReconnectBase < 1 {
		return fmt.Errorf("connection.reconnect_base must be >= 1, got %v", conn.ReconnectBase)
	}
	if conn.MaxReconnectTimes != nil && *conn.MaxReconnectTimes < 0 {
		return errors.New("connection.max_reconnect_times must be >= 0")
	}
	if conn.RateLimitPenalty != nil && *conn.RateLimitPenalty < 0 {
		return errors.New("connection.rate_limit_penalty must be >= 0")
	}
	if conn.ReconnectMaxDelay > 0 && conn.ReconnectBaseTime > conn.ReconnectMaxDelay {
		return fmt.Errorf("connection.reconnect_base_time (%s) cannot exceed reconnect_max_delay (%s)",
			conn.ReconnectBaseTime, conn.ReconnectMaxDelay)
	}
	if conn.BufferSize < 0 {
		return errors.New("connection.buffer_size must be >= 0")
	}
	return nil
}

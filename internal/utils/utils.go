package utils

import (
	"crypto/rand"
	"math"
	"math/big"
	"strings"
	"time"

	"github.com/google/uuid"
)

// GenerateMessageID 生成唯一消息ID
func GenerateMessageID() string {
	return "msg-" + uuid.NewString()
}

// GenerateConnectionID 生成唯一连接ID
func GenerateConnectionID() string {
	return "conn-" + uuid.NewString()
}

const tokenAlphabet = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789-_"

// GenerateRandomID 生成由字母、数字、-、_ 组成的随机串
func GenerateRandomID(length int) string {
	var sb strings.Builder
	sb.Grow(length)
	limit := big.NewInt(int64(len(tokenAlphabet)))
	for i := 0; i < length; i++ {
		n, err := rand.Int(rand.Reader, limit)
		if err != nil {
			sb.WriteByte(tokenAlphabet[i%len(tokenAlphabet)])
			continue
		}
		sb.WriteByte(tokenAlphabet[n.Int64()])
	}
	return sb.String()
}

// IsValidURL 检查URL是否是websocket地址
func IsValidURL(url string) bool {
	return strings.HasPrefix(url, "ws://") || strings.HasPrefix(url, "wss://")
}

// CalculateBackoff 计算退避时间：min(base^attempt * factor, maxDelay)，maxDelay 为 0 表示不设上限
func CalculateBackoff(attempt int, base float64, factor, maxDelay time.Duration) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	if base < 1 {
		base = 1
	}
	wait := math.Pow(base, float64(attempt)) * float64(factor)
	if maxDelay > 0 && wait >= float64(maxDelay) {
		return maxDelay
	}
	if wait >= math.MaxInt64 {
		return time.Duration(math.MaxInt64)
	}
	return time.Duration(wait)
}

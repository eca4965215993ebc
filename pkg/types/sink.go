package types

import (
	"sync"

	"go.uber.org/atomic"
)

// Sink 消息出口，Put 不能阻塞
type Sink interface {
	Put(Message) bool
}

// SinkFunc 函数适配器
type SinkFunc func(Message) bool

// Put 调用函数本身
func (f SinkFunc) Put(msg Message) bool {
	return f(msg)
}

// ChanSink 基于带缓冲 channel 的 Sink，缓冲满时丢弃消息
type ChanSink struct {
	ch      chan Message
	dropped atomic.Int64
	once    sync.Once
	closed  atomic.Bool
	mu      sync.RWMutex
}

// NewChanSink 创建指定缓冲大小的 ChanSink
func NewChanSink(size int) *ChanSink {
	if size <= 0 {
		size = 1
	}
	return &ChanSink{ch: make(chan Message, size)}
}

// Put 非阻塞写入
func (s *ChanSink) Put(msg Message) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed.Load() {
		s.dropped.Inc()
		return false
	}
	select {
	case s.ch <- msg:
		return true
	default:
		s.dropped.Inc()
		return false
	}
}

// C 返回消费端 channel
func (s *ChanSink) C() <-chan Message {
	return s.ch
}

// Dropped 返回被丢弃的消息数
func (s *ChanSink) Dropped() int64 {
	return s.dropped.Load()
}

// Close 关闭 channel，之后的 Put 全部丢弃
func (s *ChanSink) Close() {
	s.once.Do(func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		s.closed.Store(true)
		close(s.ch)
	})
}

// FanoutSink 把一条消息转发给多个 Sink
type FanoutSink []Sink

// Put 只要有一个下游接收就返回 true
func (f FanoutSink) Put(msg Message) bool {
	ok := false
	for _, s := range f {
		if s != nil && s.Put(msg) {
			ok = true
		}
	}
	return ok
}

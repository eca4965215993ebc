package errors

import (
	stderrors "errors"
	"fmt"
	"sync"
)

// 定义错误类型
var (
	ErrConnectionClosed = stderrors.New("connection closed")
	ErrMaxReconnect     = stderrors.New("max reconnect times reached")
	ErrInvalidFrame     = stderrors.New("invalid frame")
	ErrRoomNotFound     = stderrors.New("room not found")
	ErrRoomNotLive      = stderrors.New("room not live")
	ErrRoomEnded        = stderrors.New("live ended")
	ErrHandshake        = stderrors.New("handshake failed")
	ErrKeepalive        = stderrors.New("keepalive failed")
	ErrRemoved          = stderrors.New("connection removed")
	ErrRateLimited      = stderrors.New("rate limited")
)

// RoomError 直播间相关的错误，携带房间号和操作名
type RoomError struct {
	RoomID string
	Op     string
	Err    error
}

func (e *RoomError) Error() string {
	return fmt.Sprintf("room %s: %s: %v", e.RoomID, e.Op, e.Err)
}

func (e *RoomError) Unwrap() error {
	return e.Err
}

// NewRoomError 包装错误
func NewRoomError(roomID, op string, err error) *RoomError {
	return &RoomError{RoomID: roomID, Op: op, Err: err}
}

// Is 转发标准库，调用方无需再引入 errors 包
func Is(err, target error) bool {
	return stderrors.Is(err, target)
}

// As 转发标准库
func As(err error, target any) bool {
	return stderrors.As(err, target)
}

// ErrorCenter 错误处理中心
type ErrorCenter struct {
	mu             sync.RWMutex
	errorCallbacks []func(error) // 错误回调函数列表
}

// NewErrorCenter 创建新的错误处理中心
func NewErrorCenter() *ErrorCenter {
	return &ErrorCenter{
		errorCallbacks: make([]func(error), 0),
	}
}

// AddErrorCallback 添加错误回调函数
func (ec *ErrorCenter) AddErrorCallback(callback func(error)) {
	ec.mu.Lock()
	defer ec.mu.Unlock()
	ec.errorCallbacks = append(ec.errorCallbacks, callback)
}

// ReportError 报告错误
func (ec *ErrorCenter) ReportError(err error) {
	if ec == nil || err == nil {
		return
	}
	ec.mu.RLock()
	callbacks := ec.errorCallbacks
	ec.mu.RUnlock()
	for _, callback := range callbacks {
		callback(err)
	}
}

// ClearCallbacks 清空所有回调函数
func (ec *ErrorCenter) ClearCallbacks() {
	ec.mu.Lock()
	defer ec.mu.Unlock()
	ec.errorCallbacks = make([]func(error), 0)
}

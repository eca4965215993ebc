package conn

import (
	"time"

	"github.com/BetaCatPro/livelink/pkg/types"
)

// record 一个直播间的连接记录，所有字段都受 Manager.mutex 保护
type record struct {
	roomID string
	sink   types.Sink

	transport  Transport
	generation uint64 // 每次成功连接加一，旧 worker 退出时据此判断是否还能改状态

	active          bool
	connecting      bool
	shouldReconnect bool

	reconnectCount    int
	lastReconnectTime time.Time
	lastMessageTime   time.Time
	lastError         error
}

func newRecord(roomID string, sink types.Sink, now time.Time) *record {
	return &record{
		roomID:          roomID,
		sink:            sink,
		shouldReconnect: true,
		lastMessageTime: now,
	}
}

func (r *record) status() types.ConnectionStatus {
	st := types.ConnectionStatus{
		Exists:          true,
		Active:          r.active,
		Connecting:      r.connecting,
		ShouldReconnect: r.shouldReconnect,
		ReconnectCount:  r.reconnectCount,
		LastMessageTime: r.lastMessageTime,
	}
	if r.lastError != nil {
		st.LastError = r.lastError.Error()
	}
	return st
}

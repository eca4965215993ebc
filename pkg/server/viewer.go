package server

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	writeWait    = 10 * time.Second
	pingInterval = 30 * time.Second
	maxReadSize  = 512
)

// viewer 一个接入广播的 websocket 客户端
type viewer struct {
	id   string
	room string // 为空表示接收全部房间
	conn *websocket.Conn

	send      chan []byte
	done      chan struct{}
	closeOnce sync.Once
}

func newViewer(id string, conn *websocket.Conn, room string, buffer int) *viewer {
	return &viewer{
		id:   id,
		room: room,
		conn: conn,
		send: make(chan []byte, buffer),
		done: make(chan struct{}),
	}
}

// enqueue 非阻塞放入发送队列，队列满或已关闭时返回 false
func (v *viewer) enqueue(data []byte) bool {
	select {
	case <-v.done:
		return false
	default:
	}
	select {
	case v.send <- data:
		return true
	default:
		return false
	}
}

// writePump 唯一的写协程
func (v *viewer) writePump() {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case data := <-v.send:
			v.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := v.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				v.close()
				return
			}
		case <-ticker.C:
			if err := v.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				v.close()
				return
			}
		case <-v.done:
			return
		}
	}
}

// readPump 只用来发现断开，客户端发来的内容直接丢弃
func (v *viewer) readPump() error {
	v.conn.SetReadLimit(maxReadSize)
	for {
		if _, _, err := v.conn.ReadMessage(); err != nil {
			return err
		}
	}
}

// goodbye 发送关闭帧
func (v *viewer) goodbye() error {
	msg := websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down")
	return v.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait))
}

func (v *viewer) close() {
	v.closeOnce.Do(func() {
		close(v.done)
		v.conn.Close()
	})
}

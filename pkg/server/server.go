package server

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/BetaCatPro/livelink/internal/errors"
	"github.com/BetaCatPro/livelink/internal/metrics"
	"github.com/BetaCatPro/livelink/internal/utils"
	"github.com/BetaCatPro/livelink/pkg/types"
	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"github.com/hashicorp/go-multierror"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/puzpuzpuz/xsync/v3"
)

// RoomManager 服务端用到的连接管理器方法
type RoomManager interface {
	AddConnection(ctx context.Context, roomID string, sink types.Sink) error
	RemoveConnection(roomID string)
	GetConnectionStatus(roomID string) types.ConnectionStatus
	GetAllConnections() map[string]types.ConnectionStatus
}

// Options 服务选项
type Options struct {
	Gatherer     prometheus.Gatherer // 为 nil 时不暴露 /metrics
	Metrics      *metrics.Collector
	Logger       *slog.Logger
	Sink         types.Sink // 新增房间的消息出口，默认广播给观看端
	ViewerBuffer int
}

// Server 状态接口和消息广播服务
type Server struct {
	addr     string
	manager  RoomManager
	gatherer prometheus.Gatherer
	metrics  *metrics.Collector
	logger   *slog.Logger
	sink     types.Sink
	upgrader websocket.Upgrader
	server   *http.Server

	viewers      *xsync.MapOf[string, *viewer]
	viewerBuffer int

	// 回调函数
	connectHandler    func(string)
	disconnectHandler func(string, error)
}

// NewServer 创建服务
func NewServer(addr string, manager RoomManager, opts Options) *Server {
	s := &Server{
		addr:         addr,
		manager:      manager,
		gatherer:     opts.Gatherer,
		metrics:      opts.Metrics,
		logger:       opts.Logger,
		sink:         opts.Sink,
		viewers:      xsync.NewMapOf[string, *viewer](),
		viewerBuffer: opts.ViewerBuffer,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	if s.sink == nil {
		s.sink = s
	}
	if s.viewerBuffer <= 0 {
		s.viewerBuffer = 256
	}
	s.server = &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Handler 返回路由
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Get("/connections", s.handleList)
	r.Route("/connections/{room}", func(r chi.Router) {
		r.Get("/", s.handleGet)
		r.Post("/", s.handleAdd)
		r.Delete("/", s.handleRemove)
	})
	r.Get("/ws", s.handleWebSocket)
	if s.gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	}
	return r
}

// Start 启动 HTTP 服务，阻塞直到 Stop
func (s *Server) Start() error {
	s.logger.Info("starting server", "addr", s.addr)
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

type errorResponse struct {
	RoomID string `json:"room_id,omitempty"`
	Error  string `json:"error"`
}

type statusResponse struct {
	RoomID string `json:"room_id"`
	types.ConnectionStatus
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.manager.GetAllConnections())
}

func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	roomID := chi.URLParam(r, "room")
	st := s.manager.GetConnectionStatus(roomID)
	if !st.Exists {
		writeJSON(w, http.StatusNotFound, errorResponse{RoomID: roomID, Error: "room not monitored"})
		return
	}
	writeJSON(w, http.StatusOK, statusResponse{RoomID: roomID, ConnectionStatus: st})
}

// addStatusCode 把添加房间的错误映射成 HTTP 状态码
func addStatusCode(err error) int {
	switch {
	case errors.Is(err, errors.ErrRateLimited):
		return http.StatusTooManyRequests
	case errors.Is(err, errors.ErrRoomNotLive):
		return http.StatusConflict
	case errors.Is(err, errors.ErrRoomNotFound):
		return http.StatusNotFound
	case errors.Is(err, errors.ErrHandshake):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) handleAdd(w http.ResponseWriter, r *http.Request) {
	roomID := chi.URLParam(r, "room")
	if err := s.manager.AddConnection(r.Context(), roomID, s.sink); err != nil {
		writeJSON(w, addStatusCode(err), errorResponse{RoomID: roomID, Error: err.Error()})
		return
	}
	writeJSON(w, http.StatusCreated, statusResponse{RoomID: roomID, ConnectionStatus: s.manager.GetConnectionStatus(roomID)})
}

func (s *Server) handleRemove(w http.ResponseWriter, r *http.Request) {
	s.manager.RemoveConnection(chi.URLParam(r, "room"))
	w.WriteHeader(http.StatusNoContent)
}

// handleWebSocket 观看端接入，?room= 只接收指定房间
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	wsConn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("upgrade failed", "error", err)
		return
	}

	v := newViewer(utils.GenerateConnectionID(), wsConn, r.URL.Query().Get("room"), s.viewerBuffer)
	s.viewers.Store(v.id, v)
	s.metrics.SetViewers(s.viewers.Size())
	s.logger.Info("viewer connected", "viewer_id", v.id, "room_id", v.room)

	// 触发连接成功回调
	if s.connectHandler != nil {
		s.connectHandler(v.id)
	}

	go v.writePump()
	go func() {
		err := v.readPump()
		s.dropViewer(v, err)
	}()
}

func (s *Server) dropViewer(v *viewer, reason error) {
	if _, loaded := s.viewers.LoadAndDelete(v.id); !loaded {
		return
	}
	v.close()
	s.metrics.SetViewers(s.viewers.Size())
	s.logger.Info("viewer disconnected", "viewer_id", v.id, "reason", reason)

	// 触发断开连接回调
	if s.disconnectHandler != nil {
		s.disconnectHandler(v.id, reason)
	}
}

// Put 实现 types.Sink：把消息广播给所有观看端，不阻塞
func (s *Server) Put(msg types.Message) bool {
	s.BroadcastMessage(msg)
	return true
}

// BroadcastMessage 广播消息到所有观看端，返回实际投递的数量
func (s *Server) BroadcastMessage(msg types.Message) int {
	data, err := json.Marshal(msg)
	if err != nil {
		s.logger.Error("marshal message failed", "error", err)
		return 0
	}
	delivered := 0
	s.viewers.Range(func(id string, v *viewer) bool {
		if v.room != "" && v.room != msg.RoomID {
			return true
		}
		if v.enqueue(data) {
			delivered++
		} else {
			s.logger.Debug("viewer buffer full, message dropped", "viewer_id", id)
		}
		return true
	})
	return delivered
}

// SetConnectHandler 设置观看端连接回调
func (s *Server) SetConnectHandler(handler func(string)) {
	s.connectHandler = handler
}

// SetDisconnectHandler 设置观看端断开回调
func (s *Server) SetDisconnectHandler(handler func(string, error)) {
	s.disconnectHandler = handler
}

// GetClientCount 获取观看端数量
func (s *Server) GetClientCount() int {
	return s.viewers.Size()
}

// Stop 断开所有观看端并关闭 HTTP 服务
func (s *Server) Stop(ctx context.Context) error {
	var result *multierror.Error

	s.viewers.Range(func(id string, v *viewer) bool {
		if err := v.goodbye(); err != nil {
			result = multierror.Append(result, err)
		}
		s.dropViewer(v, errors.ErrConnectionClosed)
		return true
	})

	if err := s.server.Shutdown(ctx); err != nil {
		result = multierror.Append(result, err)
	}
	return result.ErrorOrNil()
}

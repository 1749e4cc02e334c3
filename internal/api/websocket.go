package api

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/puzpuzpuz/xsync/v4"
	"go.uber.org/zap"

	"github.com/churnwatch/churnwatch/internal/churn"
	"github.com/churnwatch/churnwatch/pkg/logger"
)

const (
	wsWriteWait    = 10 * time.Second
	wsPongWait     = 60 * time.Second
	wsPingInterval = 30 * time.Second
	wsSendBuffer   = 16
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	// CORS middleware already governs which origins reach the API
	CheckOrigin: func(r *http.Request) bool { return true },
}

// ServerMessage is every frame the API pushes to WebSocket clients.
type ServerMessage struct {
	Type    string    `json:"type"`
	Payload StateView `json:"payload"`
}

// MessageTypeState tags a state push
const MessageTypeState = "state"

type wsClient struct {
	id     uint64
	conn   *websocket.Conn
	send   chan []byte
	done   chan struct{}
	closer sync.Once
}

func (c *wsClient) close() {
	c.closer.Do(func() { close(c.done) })
}

// enqueue drops the oldest pending frame when the client lags.
func (c *wsClient) enqueue(frame []byte) {
	select {
	case c.send <- frame:
		return
	default:
	}
	select {
	case <-c.send:
	default:
	}
	select {
	case c.send <- frame:
	default:
	}
}

// Hub fans snapshots out to WebSocket clients.
type Hub struct {
	clients *xsync.Map[uint64, *wsClient]
	nextID  atomic.Uint64
	logger  *logger.Logger
}

// NewHub creates an empty hub
func NewHub(logger *logger.Logger) *Hub {
	return &Hub{
		clients: xsync.NewMap[uint64, *wsClient](),
		logger:  logger,
	}
}

// Clients returns the number of connected clients
func (h *Hub) Clients() int {
	return h.clients.Size()
}

// Broadcast pushes snap to every client
func (h *Hub) Broadcast(snap churn.Snapshot) {
	if h.clients.Size() == 0 {
		return
	}

	frame, err := encodeState(snap)
	if err != nil {
		h.logger.Error("failed to encode state", zap.Error(err))
		return
	}

	h.clients.Range(func(_ uint64, c *wsClient) bool {
		c.enqueue(frame)
		return true
	})
}

// Run broadcasts every snapshot from updates until ctx is done or the
// channel closes.
func (h *Hub) Run(ctx context.Context, updates <-chan churn.Snapshot) {
	for {
		select {
		case <-ctx.Done():
			return
		case snap, ok := <-updates:
			if !ok {
				return
			}
			h.Broadcast(snap)
		}
	}
}

// CloseAll disconnects every client
func (h *Hub) CloseAll() {
	h.clients.Range(func(id uint64, c *wsClient) bool {
		c.close()
		h.clients.Delete(id)
		return true
	})
}

func encodeState(snap churn.Snapshot) ([]byte, error) {
	return json.Marshal(ServerMessage{
		Type:    MessageTypeState,
		Payload: NewStateView(snap, time.Now()),
	})
}

// handleWebSocket streams state to the client: the current snapshot on
// connect, then one frame per change.
func (s *Server) handleWebSocket(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.logger.Debug("failed to upgrade WebSocket connection", zap.Error(err))
		return
	}

	client := &wsClient{
		id:   s.hub.nextID.Add(1),
		conn: conn,
		send: make(chan []byte, wsSendBuffer),
		done: make(chan struct{}),
	}

	if frame, err := encodeState(s.state.Snapshot()); err == nil {
		client.send <- frame
	}
	s.hub.clients.Store(client.id, client)

	s.logger.Debug("WebSocket client connected",
		zap.Uint64("client", client.id),
		zap.String("remote_addr", c.Request.RemoteAddr))

	go s.hub.readPump(client)
	s.hub.writePump(client)

	s.hub.clients.Delete(client.id)
	conn.Close()

	s.logger.Debug("WebSocket client disconnected", zap.Uint64("client", client.id))
}

// readPump discards client frames and notices disconnects
func (h *Hub) readPump(c *wsClient) {
	defer c.close()

	c.conn.SetReadLimit(4096)
	c.conn.SetReadDeadline(time.Now().Add(wsPongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(wsPongWait))
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (h *Hub) writePump(c *wsClient) {
	ticker := time.NewTicker(wsPingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			c.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, ""),
				time.Now().Add(wsWriteWait))
			return

		case frame := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				h.logger.Debug("WebSocket write failed", zap.Uint64("client", c.id), zap.Error(err))
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

package feed

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/churnwatch/churnwatch/pkg/logger"
)

type subscribeRequest struct {
	JSONRPC string   `json:"jsonrpc"`
	ID      int      `json:"id"`
	Method  string   `json:"method"`
	Params  []string `json:"params"`
}

// WebSocketDialer subscribes to NewBlock events on a Tendermint RPC websocket.
type WebSocketDialer struct {
	mu    sync.RWMutex
	url   string
	query string

	dialer *websocket.Dialer
	logger *logger.Logger
}

// NewWebSocketDialer creates a dialer for url subscribing with query.
func NewWebSocketDialer(url, query string, handshakeTimeout time.Duration, log *logger.Logger) *WebSocketDialer {
	return &WebSocketDialer{
		url:   url,
		query: query,
		dialer: &websocket.Dialer{
			Proxy:            websocket.DefaultDialer.Proxy,
			HandshakeTimeout: handshakeTimeout,
		},
		logger: log,
	}
}

// SetURL repoints future dials. Existing connections are not touched.
func (d *WebSocketDialer) SetURL(url string) {
	d.mu.Lock()
	d.url = url
	d.mu.Unlock()
}

// URL returns the current endpoint
func (d *WebSocketDialer) URL() string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.url
}

// Dial connects and sends the subscribe request.
func (d *WebSocketDialer) Dial(ctx context.Context) (Conn, error) {
	d.mu.RLock()
	url, query := d.url, d.query
	d.mu.RUnlock()

	ws, resp, err := d.dialer.DialContext(ctx, url, nil)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err != nil {
		return nil, fmt.Errorf("failed to dial %s: %w", url, err)
	}

	req := subscribeRequest{
		JSONRPC: "2.0",
		ID:      1,
		Method:  "subscribe",
		Params:  []string{query},
	}
	if err := ws.WriteJSON(req); err != nil {
		ws.Close()
		return nil, fmt.Errorf("failed to send subscribe request: %w", err)
	}

	d.logger.Debug("feed subscribed", zap.String("url", url), zap.String("query", query))

	return &wsConn{ws: ws}, nil
}

type wsConn struct {
	ws        *websocket.Conn
	closeOnce sync.Once
	closeErr  error
}

func (c *wsConn) Next() (Message, error) {
	for {
		kind, data, err := c.ws.ReadMessage()
		if err != nil {
			return Message{}, err
		}
		switch kind {
		case websocket.TextMessage:
			return Message{Kind: KindText, Data: data}, nil
		case websocket.BinaryMessage:
			return Message{Kind: KindBinary, Data: data}, nil
		}
		// gorilla handles control frames internally; nothing else reaches here
	}
}

func (c *wsConn) Close() error {
	c.closeOnce.Do(func() {
		c.ws.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, ""),
			time.Now().Add(time.Second))
		c.closeErr = c.ws.Close()
	})
	return c.closeErr
}

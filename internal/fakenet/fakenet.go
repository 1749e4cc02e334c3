// Package fakenet serves a minimal Midgard and Tendermint RPC websocket
// for tests that exercise the real HTTP and feed clients.
package fakenet

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

// Network is a fake THORChain endpoint set backed by httptest.
type Network struct {
	server *httptest.Server
	done   chan struct{}
	once   sync.Once

	mu       sync.Mutex
	interval int64
	next     int64

	height     atomic.Int64
	blockEvery time.Duration

	Subscribes   atomic.Int32
	MimirCalls   atomic.Int32
	NetworkCalls atomic.Int32
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// New starts a network that reports interval and next and emits a block
// every blockEvery starting above startHeight. It is closed on test cleanup.
func New(tb testing.TB, interval, next, startHeight int64, blockEvery time.Duration) *Network {
	tb.Helper()

	n := &Network{
		done:       make(chan struct{}),
		interval:   interval,
		next:       next,
		blockEvery: blockEvery,
	}
	n.height.Store(startHeight)

	mux := http.NewServeMux()
	mux.HandleFunc("/v2/thorchain/mimir", n.handleMimir)
	mux.HandleFunc("/v2/network", n.handleNetwork)
	mux.HandleFunc("/websocket", n.handleWebSocket)

	n.server = httptest.NewServer(mux)
	tb.Cleanup(n.Close)
	return n
}

// MimirURL returns the mimir endpoint
func (n *Network) MimirURL() string { return n.server.URL + "/v2/thorchain/mimir" }

// NetworkURL returns the network endpoint
func (n *Network) NetworkURL() string { return n.server.URL + "/v2/network" }

// WebSocketURL returns the RPC websocket endpoint
func (n *Network) WebSocketURL() string {
	return "ws" + strings.TrimPrefix(n.server.URL, "http") + "/websocket"
}

// Height returns the last emitted block height
func (n *Network) Height() int64 { return n.height.Load() }

// Set changes the values served by both Midgard endpoints
func (n *Network) Set(interval, next int64) {
	n.mu.Lock()
	n.interval, n.next = interval, next
	n.mu.Unlock()
}

// Close stops block emission and shuts the server down
func (n *Network) Close() {
	n.once.Do(func() {
		close(n.done)
		n.server.CloseClientConnections()
		n.server.Close()
	})
}

func (n *Network) handleMimir(w http.ResponseWriter, r *http.Request) {
	n.MimirCalls.Add(1)
	n.mu.Lock()
	interval := n.interval
	n.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]int64{
		"CHURNINTERVAL":     interval,
		"MINIMUMBONDINRUNE": 100000000000000,
	})
}

func (n *Network) handleNetwork(w http.ResponseWriter, r *http.Request) {
	n.NetworkCalls.Add(1)
	n.mu.Lock()
	next := n.next
	n.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{
		"nextChurnHeight":         fmt.Sprint(next),
		"poolActivationCountdown": "1000",
	})
}

func (n *Network) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	var req struct {
		ID     int      `json:"id"`
		Method string   `json:"method"`
		Params []string `json:"params"`
	}
	if err := conn.ReadJSON(&req); err != nil || req.Method != "subscribe" {
		return
	}
	n.Subscribes.Add(1)

	// subscription ack carries no height
	ack := fmt.Sprintf(`{"jsonrpc":"2.0","id":%d,"result":{}}`, req.ID)
	if err := conn.WriteMessage(websocket.TextMessage, []byte(ack)); err != nil {
		return
	}

	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(n.blockEvery)
	defer ticker.Stop()

	for {
		select {
		case <-n.done:
			return
		case <-closed:
			return
		case <-ticker.C:
			height := n.height.Add(1)
			if err := conn.WriteMessage(websocket.TextMessage, BlockFrame(height)); err != nil {
				return
			}
		}
	}
}

// BlockFrame renders a NewBlock event the way Tendermint sends it.
func BlockFrame(height int64) []byte {
	return []byte(fmt.Sprintf(
		`{"jsonrpc":"2.0","id":1,"result":{"query":"tm.event='NewBlock'","data":{"type":"tendermint/event/NewBlock","value":{"block":{"header":{"chain_id":"thorchain-1","height":"%d"}}}}}}`,
		height))
}

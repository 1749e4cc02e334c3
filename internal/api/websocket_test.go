package api

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/churnwatch/churnwatch/internal/churn"
)

func dialState(t *testing.T, ts *httptest.Server) *websocket.Conn {
	t.Helper()

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/api/v1/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readState(t *testing.T, conn *websocket.Conn) ServerMessage {
	t.Helper()

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)

	var msg ServerMessage
	require.NoError(t, json.Unmarshal(data, &msg))
	return msg
}

func TestWebSocket_InitialStateAndBroadcast(t *testing.T) {
	server, _ := setupTestServer(t, nil)
	ts := httptest.NewServer(server.Router())
	defer ts.Close()

	conn := dialState(t, ts)

	msg := readState(t, conn)
	assert.Equal(t, MessageTypeState, msg.Type)
	assert.Equal(t, int64(1000), msg.Payload.CurrentBlockHeight)
	assert.Equal(t, int64(100), msg.Payload.Countdown.BlocksRemaining)

	require.Eventually(t, func() bool { return server.Hub().Clients() == 1 }, 2*time.Second, 10*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	updates := make(chan churn.Snapshot, 1)
	done := make(chan struct{})
	go func() {
		server.RunHub(ctx, updates)
		close(done)
	}()

	next := testSnapshot()
	next.CurrentBlockHeight = 1001
	updates <- next

	msg = readState(t, conn)
	assert.Equal(t, int64(1001), msg.Payload.CurrentBlockHeight)
	assert.Equal(t, int64(99), msg.Payload.Countdown.BlocksRemaining)

	close(updates)
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("hub did not stop after updates closed")
	}
}

func TestWebSocket_ClientDisconnect(t *testing.T) {
	server, _ := setupTestServer(t, nil)
	ts := httptest.NewServer(server.Router())
	defer ts.Close()

	conn := dialState(t, ts)
	readState(t, conn)
	require.Eventually(t, func() bool { return server.Hub().Clients() == 1 }, 2*time.Second, 10*time.Millisecond)

	conn.Close()

	assert.Eventually(t, func() bool { return server.Hub().Clients() == 0 }, 2*time.Second, 10*time.Millisecond)
}

func TestWebSocket_CloseAll(t *testing.T) {
	server, _ := setupTestServer(t, nil)
	ts := httptest.NewServer(server.Router())
	defer ts.Close()

	conns := []*websocket.Conn{dialState(t, ts), dialState(t, ts)}
	for _, c := range conns {
		readState(t, c)
	}
	require.Eventually(t, func() bool { return server.Hub().Clients() == 2 }, 2*time.Second, 10*time.Millisecond)

	server.Hub().CloseAll()
	assert.Equal(t, 0, server.Hub().Clients())

	for _, c := range conns {
		require.NoError(t, c.SetReadDeadline(time.Now().Add(5*time.Second)))
		_, _, err := c.ReadMessage()
		require.Error(t, err)
		assert.True(t, websocket.IsCloseError(err, websocket.CloseGoingAway), "unexpected error: %v", err)
	}
}

func TestHub_BroadcastWithoutClients(t *testing.T) {
	server, _ := setupTestServer(t, nil)
	server.Hub().Broadcast(testSnapshot())
	assert.Equal(t, 0, server.Hub().Clients())
}

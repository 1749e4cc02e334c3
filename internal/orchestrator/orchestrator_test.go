package orchestrator

import (
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/churnwatch/churnwatch/internal/config"
	"github.com/churnwatch/churnwatch/internal/fakenet"
	"github.com/churnwatch/churnwatch/pkg/logger"
)

func freePort(t *testing.T) int {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()
	return ln.Addr().(*net.TCPAddr).Port
}

func testConfig(t *testing.T, network *fakenet.Network) *config.Config {
	t.Helper()

	cfg := config.DefaultConfig()
	cfg.Home = t.TempDir()
	cfg.Network.MimirURL = network.MimirURL()
	cfg.Network.NetworkURL = network.NetworkURL()
	cfg.Network.RPCWebSocketURL = network.WebSocketURL()
	cfg.Network.HTTPTimeout = 2 * time.Second
	cfg.Network.DialTimeout = 2 * time.Second
	cfg.Churn.LivenessWindow = 2 * time.Second
	cfg.Churn.MaxBackoff = 100 * time.Millisecond
	cfg.Store.Backend = config.StoreBackendMemory
	return cfg
}

type updateSource chan config.ConfigUpdate

func (s updateSource) Updates() <-chan config.ConfigUpdate { return s }

func TestOrchestrator_FollowsNetwork(t *testing.T) {
	network := fakenet.New(t, 720, 5000, 4000, 20*time.Millisecond)
	cfg := testConfig(t, network)

	o, err := New(context.Background(), cfg, logger.NewTestLogger(), Options{Resync: true})
	require.NoError(t, err)
	require.NoError(t, o.Start())
	defer o.Stop()

	assert.Nil(t, o.Server())
	assert.Nil(t, o.Exporter())

	require.Eventually(t, func() bool {
		snap := o.Client().Snapshot()
		return snap.Connected && snap.CurrentBlockHeight > 4000 &&
			snap.NextChurnHeight == 5000 && snap.ChurnIntervalBlocks == 720
	}, 5*time.Second, 10*time.Millisecond)

	assert.Equal(t, int32(1), network.Subscribes.Load())
	assert.Error(t, o.Start())
}

func TestOrchestrator_Serve(t *testing.T) {
	network := fakenet.New(t, 720, 5000, 4000, 20*time.Millisecond)
	cfg := testConfig(t, network)
	cfg.API.Enabled = true
	cfg.API.Port = freePort(t)
	cfg.Metrics.Enabled = true
	cfg.Metrics.Port = freePort(t)

	o, err := New(context.Background(), cfg, logger.NewTestLogger(), Options{Serve: true, Version: "test"})
	require.NoError(t, err)
	require.NotNil(t, o.Server())
	require.NotNil(t, o.Exporter())
	require.NoError(t, o.Start())
	defer o.Stop()

	require.Eventually(t, func() bool {
		return o.Client().Snapshot().CurrentBlockHeight > 4000
	}, 5*time.Second, 10*time.Millisecond)

	resp, err := http.Get("http://" + o.Server().Addr() + "/api/v1/state")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var state map[string]interface{}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&state))
	assert.Greater(t, state["currentBlockHeight"], float64(4000))

	require.Eventually(t, func() bool {
		resp, err := http.Get("http://" + o.Exporter().Addr() + "/metrics")
		if err != nil {
			return false
		}
		defer resp.Body.Close()
		body, _ := io.ReadAll(resp.Body)
		return strings.Contains(string(body), "churnwatch_next_churn_height 5000")
	}, 5*time.Second, 50*time.Millisecond)
}

func TestOrchestrator_MetricsUseOwnHost(t *testing.T) {
	network := fakenet.New(t, 720, 5000, 4000, 20*time.Millisecond)
	cfg := testConfig(t, network)
	// Not bindable here; only the API would use it
	cfg.API.Host = "203.0.113.7"
	cfg.Metrics.Enabled = true
	cfg.Metrics.Host = "127.0.0.1"
	cfg.Metrics.Port = freePort(t)

	o, err := New(context.Background(), cfg, logger.NewTestLogger(), Options{Serve: true})
	require.NoError(t, err)
	require.Nil(t, o.Server())
	require.NoError(t, o.Start())
	defer o.Stop()

	host, _, err := net.SplitHostPort(o.Exporter().Addr())
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1", host)

	resp, err := http.Get("http://" + o.Exporter().Addr() + "/health")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestOrchestrator_ApplyConfig(t *testing.T) {
	first := fakenet.New(t, 720, 5000, 4000, 20*time.Millisecond)
	second := fakenet.New(t, 43200, 9000, 8000, 20*time.Millisecond)
	cfg := testConfig(t, first)

	o, err := New(context.Background(), cfg, logger.NewTestLoggerWithT(t), Options{})
	require.NoError(t, err)
	require.NoError(t, o.Start())
	defer o.Stop()

	source := make(updateSource, 1)
	o.WatchConfig(source)

	require.Eventually(t, func() bool {
		return o.Client().Snapshot().NextChurnHeight == 5000
	}, 5*time.Second, 10*time.Millisecond)

	// A failed reload changes nothing
	source <- config.ConfigUpdate{Error: assert.AnError}

	// Midgard only: refresh, same feed
	midgardOnly := *cfg
	midgardOnly.Network.MimirURL = second.MimirURL()
	midgardOnly.Network.NetworkURL = second.NetworkURL()
	source <- config.ConfigUpdate{NewConfig: &midgardOnly}

	require.Eventually(t, func() bool {
		snap := o.Client().Snapshot()
		return snap.NextChurnHeight == 9000 && snap.ChurnIntervalBlocks == 43200
	}, 5*time.Second, 10*time.Millisecond)
	assert.Equal(t, int32(0), second.Subscribes.Load())

	// New feed: reconnect to the second network
	both := midgardOnly
	both.Network.RPCWebSocketURL = second.WebSocketURL()
	source <- config.ConfigUpdate{NewConfig: &both}

	require.Eventually(t, func() bool {
		return second.Subscribes.Load() == 1 && o.Client().Snapshot().CurrentBlockHeight > 8000
	}, 5*time.Second, 10*time.Millisecond)
	assert.Equal(t, uint64(2), o.Client().Snapshot().Generation)
}

func TestNew_StoreFailure(t *testing.T) {
	network := fakenet.New(t, 720, 5000, 4000, time.Second)
	cfg := testConfig(t, network)
	cfg.Store.Backend = config.StoreBackendRedis
	cfg.Store.RedisAddr = "127.0.0.1:1"

	_, err := New(context.Background(), cfg, logger.NewTestLogger(), Options{})
	require.Error(t, err)
}

func TestOrchestrator_StopWithoutStart(t *testing.T) {
	network := fakenet.New(t, 720, 5000, 4000, time.Second)
	cfg := testConfig(t, network)

	o, err := New(context.Background(), cfg, logger.NewTestLogger(), Options{Resync: true})
	require.NoError(t, err)

	o.Stop()
	o.Stop()
	assert.Error(t, o.Start())
}

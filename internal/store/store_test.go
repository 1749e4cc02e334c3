package store

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/churnwatch/churnwatch/internal/config"
	"github.com/churnwatch/churnwatch/pkg/logger"
)

func exerciseStore(t *testing.T, s Store) {
	t.Helper()
	ctx := context.Background()

	_, ok, err := s.GetInt(ctx, KeyNextChurnHeight)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, s.SetInt(ctx, KeyNextChurnHeight, 17_000_000))
	require.NoError(t, s.SetInt(ctx, KeyChurnInterval, 43200))
	require.NoError(t, s.SetInt(ctx, KeyNextChurnHeight, 17_043_200))

	v, ok, err := s.GetInt(ctx, KeyNextChurnHeight)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, int64(17_043_200), v)

	v, ok, err = s.GetInt(ctx, KeyChurnInterval)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, int64(43200), v)
}

func TestMemoryStore(t *testing.T) {
	s := NewMemoryStore()
	exerciseStore(t, s)

	require.NoError(t, s.Close())
	_, _, err := s.GetInt(context.Background(), KeyChurnInterval)
	assert.ErrorIs(t, err, ErrClosed)
	assert.ErrorIs(t, s.SetInt(context.Background(), KeyChurnInterval, 1), ErrClosed)
}

func TestFileStore(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "state.toml")

	s, err := NewFileStore(path)
	require.NoError(t, err)
	assert.Equal(t, path, s.Path())
	exerciseStore(t, s)
	require.NoError(t, s.Close())

	// Values survive reopening
	reopened, err := NewFileStore(path)
	require.NoError(t, err)
	v, ok, err := reopened.GetInt(context.Background(), KeyNextChurnHeight)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, int64(17_043_200), v)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "churnInterval = 43200")

	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	assert.Len(t, entries, 1, "temp files must not be left behind")
}

func TestFileStore_Errors(t *testing.T) {
	_, err := NewFileStore("")
	assert.Error(t, err)

	path := filepath.Join(t.TempDir(), "state.toml")
	require.NoError(t, os.WriteFile(path, []byte("this is not toml ==="), 0o644))
	_, err = NewFileStore(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to parse state file")

	s, err := NewFileStore(filepath.Join(t.TempDir(), "state.toml"))
	require.NoError(t, err)
	require.NoError(t, s.Close())
	assert.ErrorIs(t, s.SetInt(context.Background(), KeyChurnInterval, 1), ErrClosed)
}

func TestRedisStore_KeyPrefix(t *testing.T) {
	client := redis.NewClient(&redis.Options{Addr: "127.0.0.1:0"})
	defer client.Close()

	s := newRedisStore(client, "churnwatch:", logger.NewTestLogger())
	assert.Equal(t, "churnwatch:nextChurnHeight", s.key(KeyNextChurnHeight))
}

// TestRedisStore runs against a real server when CHURNWATCH_TEST_REDIS is set.
func TestRedisStore(t *testing.T) {
	addr := os.Getenv("CHURNWATCH_TEST_REDIS")
	if addr == "" {
		t.Skip("CHURNWATCH_TEST_REDIS not set")
	}

	ctx := context.Background()
	prefix := "churnwatch-test:" + t.Name() + ":"

	s, err := NewRedisStore(ctx, RedisOptions{Addr: addr, Prefix: prefix}, logger.NewTestLogger())
	require.NoError(t, err)
	defer s.Close()

	t.Cleanup(func() {
		s.client.Del(ctx, s.key(KeyNextChurnHeight), s.key(KeyChurnInterval))
	})

	exerciseStore(t, s)
}

func TestNewRedisStore_Unreachable(t *testing.T) {
	_, err := NewRedisStore(context.Background(), RedisOptions{Addr: "127.0.0.1:1"}, logger.NewTestLogger())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to connect to Redis")
}

func TestOpen(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Home = t.TempDir()

	s, err := Open(context.Background(), cfg, logger.NewTestLogger())
	require.NoError(t, err)
	assert.IsType(t, &FileStore{}, s)
	assert.Equal(t, cfg.StateFilePath(), s.(*FileStore).Path())

	cfg.Store.Backend = config.StoreBackendMemory
	s, err = Open(context.Background(), cfg, logger.NewTestLogger())
	require.NoError(t, err)
	assert.IsType(t, &MemoryStore{}, s)

	cfg.Store.Backend = "etcd"
	_, err = Open(context.Background(), cfg, logger.NewTestLogger())
	assert.Error(t, err)
}

package store

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rushteam/reviewrank/core"
)

func newTestRedisStore(t *testing.T) (*RedisStore, *miniredis.Miniredis) {
	t.Helper()

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("failed to start miniredis: %v", err)
	}
	t.Cleanup(mr.Close)

	s, err := NewRedisStore(mr.Addr(), 0)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s, mr
}

func TestRedisStore_GetSet(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestRedisStore(t)

	_, err := s.Get(ctx, "missing")
	assert.True(t, core.IsStoreNotFound(err))

	require.NoError(t, s.Set(ctx, "ckpt", []byte{0x00, 0x01, 0xff}))
	got, err := s.Get(ctx, "ckpt")
	require.NoError(t, err)
	assert.Equal(t, []byte{0x00, 0x01, 0xff}, got)

	require.NoError(t, s.Delete(ctx, "ckpt"))
	_, err = s.Get(ctx, "ckpt")
	assert.True(t, core.IsStoreNotFound(err))
}

func TestRedisStore_TTL(t *testing.T) {
	ctx := context.Background()
	s, mr := newTestRedisStore(t)

	require.NoError(t, s.Set(ctx, "tmp", []byte("x"), 5))
	mr.FastForward(6 * time.Second)

	_, err := s.Get(ctx, "tmp")
	assert.True(t, core.IsStoreNotFound(err))
}

func TestRedisStore_Batch(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestRedisStore(t)

	require.NoError(t, s.BatchSet(ctx, map[string][]byte{
		"a": []byte("1"),
		"b": []byte("2"),
	}))
	got, err := s.BatchGet(ctx, []string{"a", "b", "c"})
	require.NoError(t, err)
	assert.Equal(t, map[string][]byte{"a": []byte("1"), "b": []byte("2")}, got)

	empty, err := s.BatchGet(ctx, nil)
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestNewRedisStoreFromClient(t *testing.T) {
	mr := miniredis.RunT(t)
	s := NewRedisStoreFromClient(redis.NewClient(&redis.Options{Addr: mr.Addr()}))
	defer s.Close()

	assert.Equal(t, "redis", s.Name())
	require.NoError(t, s.Set(context.Background(), "k", []byte("v")))
	assert.True(t, mr.Exists("k"))
}

func TestOpenRedis(t *testing.T) {
	ctx := context.Background()
	mr := miniredis.RunT(t)

	byURL, err := OpenRedis("redis://"+mr.Addr()+"/2", 0)
	require.NoError(t, err)
	defer byURL.Close()
	require.NoError(t, byURL.BatchSet(ctx, map[string][]byte{"k": []byte("v")}))
	assert.True(t, mr.DB(2).Exists("k"))
	assert.False(t, mr.Exists("k"))

	byAddr, err := OpenRedis(mr.Addr(), 2)
	require.NoError(t, err)
	defer byAddr.Close()
	got, err := byAddr.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, []byte("v"), got)

	_, err = OpenRedis("redis://"+mr.Addr()+"/notadb", 0)
	assert.Error(t, err)
}

package store

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupRedisStore(t *testing.T, ttl time.Duration) (*RedisStore, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.NewMiniRedis()
	require.NoError(t, mr.Start())
	t.Cleanup(mr.Close)

	repo, err := NewRedis(&redis.Options{Addr: mr.Addr()}, "nexus", ttl)
	require.NoError(t, err)
	t.Cleanup(func() { _ = repo.Close() })
	return repo, mr
}

func TestNewRedisRequiresNamespace(t *testing.T) {
	t.Parallel()
	_, err := NewRedis(&redis.Options{Addr: "localhost:0"}, "", 0)
	assert.Error(t, err)
}

func TestRedisSaveAndGet(t *testing.T) {
	t.Parallel()
	repo, mr := setupRedisStore(t, time.Hour)
	ctx := context.Background()
	s := sampleSession("user:sess")

	require.NoError(t, repo.SaveSession(ctx, s))
	assert.True(t, mr.Exists("nexus:session:user:sess"))

	got, err := repo.GetSession(ctx, "user:sess")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, s.Selection, got.Selection)
	assert.Equal(t, "asistente_virtual", got.CurrentExpert())
	assert.Equal(t, 1, got.Ledger.Len())
	assert.Contains(t, got.Conversation.Documents, "a.pdf")
}

func TestRedisMissingAndDelete(t *testing.T) {
	t.Parallel()
	repo, _ := setupRedisStore(t, 0)
	ctx := context.Background()

	got, err := repo.GetSession(ctx, "missing")
	require.NoError(t, err)
	assert.Nil(t, got)

	require.NoError(t, repo.SaveSession(ctx, sampleSession("k")))
	require.NoError(t, repo.DeleteSession(ctx, "k"))
	got, err = repo.GetSession(ctx, "k")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestRedisTTLExpiry(t *testing.T) {
	t.Parallel()
	repo, mr := setupRedisStore(t, time.Minute)
	ctx := context.Background()
	require.NoError(t, repo.SaveSession(ctx, sampleSession("k")))

	mr.FastForward(2 * time.Minute)

	got, err := repo.GetSession(ctx, "k")
	require.NoError(t, err)
	assert.Nil(t, got)

	removed, err := repo.CleanupExpiredSessions(ctx, time.Minute)
	require.NoError(t, err)
	assert.Zero(t, removed)
	assert.NoError(t, repo.Ping(ctx))
}

package main

import (
	"context"
	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"testing"
	"time"
	"tuiter/reactions"
	"tuiter/storage"
	"tuiter/storage/cache"
	"tuiter/storage/lock"
	"tuiter/storage/memory"
	"tuiter/storage/models"
)

func TestCoordinateWithoutRedisStaysLocal(t *testing.T) {
	backend, _ := memory.NewBackend()
	users := backend.Users

	shared := coordinate(&backend, nil, 5*time.Second, time.Hour)
	assert.IsType(t, &lock.Local{}, shared.locker)
	assert.Nil(t, shared.statsCache)
	assert.Nil(t, shared.relay)
	assert.Equal(t, shared.broker, shared.publisher)
	assert.Len(t, shared.reconcilerOptions(), 2)
	assert.Equal(t, users, backend.Users)
}

func TestAuditSharesLocksAndCacheWithServers(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	ctx := context.Background()

	backend, _ := memory.NewBackend()
	post, err := backend.Posts.CreatePost(ctx, models.Post{Tuit: "hello", PostedBy: "u1", Stats: models.Stats{Likes: 5}})
	require.NoError(t, err)

	serverBackend, auditBackend := backend, backend
	serving := coordinate(&serverBackend, client, 5*time.Second, time.Hour)
	auditing := coordinate(&auditBackend, client, 5*time.Second, time.Hour)
	assert.IsType(t, &cache.UsersCache{}, serverBackend.Users)
	assert.Len(t, auditing.reconcilerOptions(), 3)

	unlock, err := serving.locker.Lock(ctx, lock.PostKey(post.Id))
	require.NoError(t, err)

	auditor := reactions.NewReconciler(auditBackend, auditing.reconcilerOptions()...)
	blocked, cancel := context.WithTimeout(ctx, 50*time.Millisecond)
	defer cancel()
	_, _, err = auditor.Resync(blocked, post.Id)
	assert.ErrorIs(t, err, storage.ErrUnavailable)

	unlock()
	stats, drifted, err := auditor.Resync(ctx, post.Id)
	require.NoError(t, err)
	assert.True(t, drifted)
	assert.Equal(t, int64(0), stats.Likes)

	cached, ok := serving.statsCache.Get(ctx, post.Id)
	require.True(t, ok)
	assert.Equal(t, stats, cached)
}

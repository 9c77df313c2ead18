package lock

import (
	"context"
	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"sync"
	"sync/atomic"
	"testing"
	"time"
	"tuiter/storage"
)

func exercisesMutualExclusion(t *testing.T, locker Locker) {
	t.Helper()
	var inside, maxInside int32
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock, err := locker.Lock(context.Background(), "t1")
			if !assert.NoError(t, err) {
				return
			}
			current := atomic.AddInt32(&inside, 1)
			for {
				seen := atomic.LoadInt32(&maxInside)
				if current <= seen || atomic.CompareAndSwapInt32(&maxInside, seen, current) {
					break
				}
			}
			time.Sleep(time.Millisecond)
			atomic.AddInt32(&inside, -1)
			unlock()
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), maxInside)
}

func TestLocalExcludes(t *testing.T) {
	local := NewLocal()
	exercisesMutualExclusion(t, local)
	assert.Empty(t, local.entries)
}

func TestLocalHonoursContext(t *testing.T) {
	local := NewLocal()
	unlock, err := local.Lock(context.Background(), "t1")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = local.Lock(ctx, "t1")
	assert.ErrorIs(t, err, storage.ErrUnavailable)

	other, err := local.Lock(context.Background(), "t2")
	require.NoError(t, err)
	other()

	unlock()
	unlock()
	again, err := local.Lock(context.Background(), "t1")
	require.NoError(t, err)
	again()
}

func newRedisLocker(t *testing.T, ttl time.Duration) (*Redis, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewRedis(client, ttl), mr
}

func TestRedisExcludes(t *testing.T) {
	locker, _ := newRedisLocker(t, time.Minute)
	exercisesMutualExclusion(t, locker)
}

func TestRedisExcludesSecondHolderUntilRelease(t *testing.T) {
	locker, mr := newRedisLocker(t, time.Minute)
	unlock, err := locker.Lock(context.Background(), "t1")
	require.NoError(t, err)
	assert.True(t, mr.Exists("tuit_lock__t1"))

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err = locker.Lock(ctx, "t1")
	assert.ErrorIs(t, err, storage.ErrUnavailable)

	unlock()
	assert.False(t, mr.Exists("tuit_lock__t1"))
}

func TestRedisLockExpiresAfterTTL(t *testing.T) {
	locker, mr := newRedisLocker(t, time.Second)
	_, err := locker.Lock(context.Background(), "t1")
	require.NoError(t, err)

	mr.FastForward(2 * time.Second)
	unlock, err := locker.Lock(context.Background(), "t1")
	require.NoError(t, err)
	unlock()
}

func TestRedisReleaseKeepsForeignHolder(t *testing.T) {
	locker, mr := newRedisLocker(t, time.Second)
	stale, err := locker.Lock(context.Background(), "t1")
	require.NoError(t, err)

	mr.FastForward(2 * time.Second)
	fresh, err := locker.Lock(context.Background(), "t1")
	require.NoError(t, err)

	stale()
	assert.True(t, mr.Exists("tuit_lock__t1"))
	fresh()
	assert.False(t, mr.Exists("tuit_lock__t1"))
}

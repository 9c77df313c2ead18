package lock

import (
	"context"
	"fmt"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"
	"sync"
	"time"
	"tuiter/storage"
)

const lockRedisKeyPrefix = "tuit_lock"

var releaseLockScript = redis.NewScript(`
if redis.call('get', KEYS[1]) == ARGV[1] then
  return redis.call('del', KEYS[1])
else
  return 0
end
`)

// Redis is a cross-process lock built on SET NX PX. The TTL bounds how long a
// crashed holder can keep a key.
type Redis struct {
	redisClient   *redis.Client
	ttl           time.Duration
	retryInterval time.Duration
}

func NewRedis(redisClient *redis.Client, ttl time.Duration) *Redis {
	return &Redis{
		redisClient:   redisClient,
		ttl:           ttl,
		retryInterval: 10 * time.Millisecond,
	}
}

func (r *Redis) Lock(ctx context.Context, key string) (func(), error) {
	redisKey := fmt.Sprintf("%s__%s", lockRedisKeyPrefix, key)
	token := uuid.NewString()

	ticker := time.NewTicker(r.retryInterval)
	defer ticker.Stop()
	for {
		ok, err := r.redisClient.SetNX(ctx, redisKey, token, r.ttl).Result()
		if err != nil {
			return nil, fmt.Errorf("lock %s: %v: %w", key, err, storage.ErrUnavailable)
		}
		if ok {
			break
		}

		select {
		case <-ticker.C:
		case <-ctx.Done():
			return nil, fmt.Errorf("lock %s: %v: %w", key, ctx.Err(), storage.ErrUnavailable)
		}
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			releaseCtx, cancel := context.WithTimeout(context.Background(), time.Second)
			defer cancel()
			if err := releaseLockScript.Run(releaseCtx, r.redisClient, []string{redisKey}, token).Err(); err != nil {
				log.Warnf("Could not release lock %s: %v", key, err)
			}
		})
	}, nil
}

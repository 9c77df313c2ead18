package cache

import (
	"context"
	"fmt"
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"
	"strconv"
	"time"
	"tuiter/storage/models"
)

const TuitStatsRedisKeyPrefix = "tuit_stats"

// fillStatsScript writes the hash only when the key is absent.
var fillStatsScript = redis.NewScript(`
if redis.call("EXISTS", KEYS[1]) == 1 then
	return 0
end
redis.call("HSET", KEYS[1], "replies", ARGV[1], "retuits", ARGV[2], "likes", ARGV[3], "dislikes", ARGV[4])
redis.call("PEXPIRE", KEYS[1], ARGV[5])
return 1
`)

// StatsCache keeps the last reconciled stat block of each tuit in a Redis hash.
type StatsCache struct {
	redisClient *redis.Client
	expiration  time.Duration
}

func NewStatsCache(redisConnection *redis.Client, expiration time.Duration) *StatsCache {
	return &StatsCache{
		redisClient: redisConnection,
		expiration:  expiration,
	}
}

func (c *StatsCache) Delete(ctx context.Context, postId string) {
	c.redisClient.Del(ctx, c.getRedisKey(postId))
}

func (c *StatsCache) Get(ctx context.Context, postId string) (models.Stats, bool) {
	values, err := c.redisClient.HGetAll(ctx, c.getRedisKey(postId)).Result()
	if err != nil || len(values) == 0 {
		return models.Stats{}, false
	}

	var stats models.Stats
	for field, target := range map[string]*int64{
		"replies":  &stats.Replies,
		"retuits":  &stats.Retuits,
		"likes":    &stats.Likes,
		"dislikes": &stats.Dislikes,
	} {
		value, err := strconv.ParseInt(values[field], 10, 64)
		if err != nil {
			log.Warnf("Discarding cached stats for tuit %s: bad %s field: %v", postId, field, err)
			return models.Stats{}, false
		}
		*target = value
	}
	return stats, true
}

func (c *StatsCache) Set(ctx context.Context, postId string, stats models.Stats) error {
	redisKey := c.getRedisKey(postId)
	_, err := c.redisClient.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, redisKey,
			"replies", stats.Replies,
			"retuits", stats.Retuits,
			"likes", stats.Likes,
			"dislikes", stats.Dislikes,
		)
		pipe.Expire(ctx, redisKey, c.expiration)
		return nil
	})
	return err
}

// Fill caches stats read outside of a reconciliation. It never replaces an
// entry, so it cannot overwrite what a concurrent reconciliation wrote.
func (c *StatsCache) Fill(ctx context.Context, postId string, stats models.Stats) error {
	return fillStatsScript.Run(
		ctx, c.redisClient,
		[]string{c.getRedisKey(postId)},
		stats.Replies, stats.Retuits, stats.Likes, stats.Dislikes, c.expiration.Milliseconds(),
	).Err()
}

func (c *StatsCache) getRedisKey(postId string) string {
	return fmt.Sprintf("%s__%s", TuitStatsRedisKeyPrefix, postId)
}

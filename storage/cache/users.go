package cache

import (
	"context"
	"errors"
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"
	"time"
	"tuiter/storage"
	"tuiter/storage/models"
)

const UserIdToUsernameRedisKey = "users_id_to_username"

// UsersCache is a read-through cache in front of a storage.UserLookup.
type UsersCache struct {
	redisClient *redis.Client
	expiration  time.Duration
	lookup      storage.UserLookup
}

func NewUsersCache(redisConnection *redis.Client, expiration time.Duration, lookup storage.UserLookup) *UsersCache {
	return &UsersCache{
		redisClient: redisConnection,
		expiration:  expiration,
		lookup:      lookup,
	}
}

func (c *UsersCache) FindUser(ctx context.Context, id string) (models.User, error) {
	username, err := c.redisClient.HGet(ctx, UserIdToUsernameRedisKey, id).Result()
	if err == nil {
		return models.User{Id: id, Username: username}, nil
	}
	if !errors.Is(err, redis.Nil) {
		log.Warnf("Could not read user %s from cache: %v", id, err)
	}

	user, err := c.lookup.FindUser(ctx, id)
	if err != nil {
		return models.User{}, err
	}
	c.hSetWithExpiration(ctx, UserIdToUsernameRedisKey, id, user.Username)
	return user, nil
}

func (c *UsersCache) hSetWithExpiration(ctx context.Context, redisKey, key, value string) {
	c.redisClient.HSet(ctx, redisKey, key, value)
	c.redisClient.HExpire(ctx, redisKey, c.expiration, key)
}

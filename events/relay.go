package events

import (
	"context"
	"encoding/json"
	"fmt"
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"
)

const StatsChannel = "tuit_stats_events"

// RedisRelay publishes stats events on a Redis channel and feeds every event
// received on it into a local Broker, so subscribers on any instance see
// changes made by all of them.
type RedisRelay struct {
	redisClient *redis.Client
	channel     string
	broker      *Broker
}

func NewRedisRelay(redisClient *redis.Client, broker *Broker) *RedisRelay {
	return &RedisRelay{
		redisClient: redisClient,
		channel:     StatsChannel,
		broker:      broker,
	}
}

func (r *RedisRelay) Publish(ctx context.Context, event StatsEvent) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal stats event: %w", err)
	}
	if err := r.redisClient.Publish(ctx, r.channel, payload).Err(); err != nil {
		return fmt.Errorf("publish stats event: %w", err)
	}
	return nil
}

// Run forwards channel messages to the broker until ctx is done.
func (r *RedisRelay) Run(ctx context.Context) error {
	sub := r.redisClient.Subscribe(ctx, r.channel)
	defer sub.Close()

	if _, err := sub.Receive(ctx); err != nil {
		return fmt.Errorf("subscribe to %s: %w", r.channel, err)
	}

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			var event StatsEvent
			if err := json.Unmarshal([]byte(msg.Payload), &event); err != nil {
				log.Errorf("Error unmarshalling stats event: %v", err)
				continue
			}
			r.broker.deliver(event)
		}
	}
}

package events

import (
	"context"
	"sync"
	"time"
	"tuiter/monitoring"
	"tuiter/storage/models"
)

const SubscriptionBufferSize = 16

// StatsEvent carries the stats of a tuit right after a reconciliation.
type StatsEvent struct {
	PostId  string       `json:"tid"`
	Stats   models.Stats `json:"stats"`
	Version int64        `json:"v,omitempty"`
	At      time.Time    `json:"at"`
}

type Publisher interface {
	Publish(ctx context.Context, event StatsEvent) error
}

type Subscription struct {
	C <-chan StatsEvent

	ch     chan StatsEvent
	postId string
	broker *Broker
	once   sync.Once
}

func (s *Subscription) Close() {
	s.once.Do(func() {
		s.broker.unsubscribe(s)
	})
}

// Broker fans stats events out to the subscribers of each tuit inside this
// process. Slow subscribers lose events rather than block publishers.
type Broker struct {
	mu          sync.RWMutex
	subscribers map[string]map[*Subscription]struct{}
}

func NewBroker() *Broker {
	return &Broker{subscribers: make(map[string]map[*Subscription]struct{})}
}

func (b *Broker) Subscribe(postId string) *Subscription {
	ch := make(chan StatsEvent, SubscriptionBufferSize)
	subscription := &Subscription{C: ch, ch: ch, postId: postId, broker: b}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.subscribers[postId] == nil {
		b.subscribers[postId] = make(map[*Subscription]struct{})
	}
	b.subscribers[postId][subscription] = struct{}{}
	monitoring.LiveSubscribers.Inc()
	return subscription
}

func (b *Broker) Publish(_ context.Context, event StatsEvent) error {
	b.deliver(event)
	return nil
}

func (b *Broker) deliver(event StatsEvent) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for subscription := range b.subscribers[event.PostId] {
		select {
		case subscription.ch <- event:
		default:
		}
	}
}

func (b *Broker) unsubscribe(subscription *Subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()

	subscribers := b.subscribers[subscription.postId]
	if _, ok := subscribers[subscription]; !ok {
		return
	}
	delete(subscribers, subscription)
	if len(subscribers) == 0 {
		delete(b.subscribers, subscription.postId)
	}
	close(subscription.ch)
	monitoring.LiveSubscribers.Dec()
}

package lock

import (
	"context"
	"fmt"
	"sync"
	"tuiter/storage"
)

// Locker grants exclusive access to a key until the returned unlock function
// is called. Lock gives up when ctx is done.
type Locker interface {
	Lock(ctx context.Context, key string) (unlock func(), err error)
}

type localEntry struct {
	slot    chan struct{}
	waiters int
}

// Local is an in-process keyed mutex. Entries are dropped once nobody holds
// or waits for them.
type Local struct {
	mu      sync.Mutex
	entries map[string]*localEntry
}

func NewLocal() *Local {
	return &Local{entries: make(map[string]*localEntry)}
}

func (l *Local) Lock(ctx context.Context, key string) (func(), error) {
	l.mu.Lock()
	entry, ok := l.entries[key]
	if !ok {
		entry = &localEntry{slot: make(chan struct{}, 1)}
		l.entries[key] = entry
	}
	entry.waiters++
	l.mu.Unlock()

	select {
	case entry.slot <- struct{}{}:
	case <-ctx.Done():
		l.release(key, entry)
		return nil, fmt.Errorf("lock %s: %v: %w", key, ctx.Err(), storage.ErrUnavailable)
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			<-entry.slot
			l.release(key, entry)
		})
	}, nil
}

func (l *Local) release(key string, entry *localEntry) {
	l.mu.Lock()
	defer l.mu.Unlock()

	entry.waiters--
	if entry.waiters == 0 {
		delete(l.entries, key)
	}
}

// PostKey is the lock key shared by every writer of a tuit document.
func PostKey(postId string) string {
	return "tuit:" + postId
}

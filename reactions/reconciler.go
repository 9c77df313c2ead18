package reactions

import (
	"context"
	"errors"
	"fmt"
	"github.com/prometheus/client_golang/prometheus"
	log "github.com/sirupsen/logrus"
	"time"
	"tuiter/events"
	"tuiter/monitoring"
	"tuiter/storage"
	"tuiter/storage/lock"
	"tuiter/storage/models"
)

type Outcome string

const (
	Added     Outcome = "added"
	Removed   Outcome = "removed"
	Switched  Outcome = "switched"
	Unchanged Outcome = "unchanged"
)

// Result describes the state of a (tuit, user) pair after a reconciliation.
type Result struct {
	PostId  string              `json:"tid"`
	UserId  string              `json:"uid"`
	Kind    models.ReactionKind `json:"kind"`
	Outcome Outcome             `json:"outcome"`
	Active  bool                `json:"active"`
	Stats   models.Stats        `json:"stats"`
}

type StatsCache interface {
	Set(ctx context.Context, postId string, stats models.Stats) error
	Delete(ctx context.Context, postId string)
}

type Option func(*Reconciler)

func WithLocker(locker lock.Locker) Option {
	return func(r *Reconciler) { r.locker = locker }
}

func WithStatsCache(statsCache StatsCache) Option {
	return func(r *Reconciler) { r.statsCache = statsCache }
}

func WithPublisher(publisher events.Publisher) Option {
	return func(r *Reconciler) { r.publisher = publisher }
}

// Reconciler owns the likes and dislikes counters of every tuit. Each
// operation runs under the tuit's lock and, when the backend supports it,
// inside a transaction. Counters are always rewritten from a recount of
// membership, never adjusted incrementally.
type Reconciler struct {
	backend    storage.Backend
	locker     lock.Locker
	statsCache StatsCache
	publisher  events.Publisher
}

func NewReconciler(backend storage.Backend, options ...Option) *Reconciler {
	r := &Reconciler{
		backend: backend,
		locker:  lock.NewLocal(),
	}
	for _, option := range options {
		option(r)
	}
	return r
}

func (r *Reconciler) ToggleLike(ctx context.Context, postId, userId string) (Result, error) {
	return r.Toggle(ctx, postId, userId, models.Like)
}

func (r *Reconciler) ToggleDislike(ctx context.Context, postId, userId string) (Result, error) {
	return r.Toggle(ctx, postId, userId, models.Dislike)
}

// Toggle removes the user's reaction of the given kind if it is held.
// Otherwise it drops any reaction of the opposite kind and records this one.
// Unknown tuits and users fail with storage.ErrNotFound before any write.
func (r *Reconciler) Toggle(ctx context.Context, postId, userId string, kind models.ReactionKind) (Result, error) {
	if !kind.Valid() {
		return Result{}, fmt.Errorf("reaction kind %q: %w", kind, storage.ErrInvalid)
	}
	timer := prometheus.NewTimer(monitoring.ReconcileDuration.WithLabelValues("toggle"))
	defer timer.ObserveDuration()

	var result Result
	stats, err := r.reconcile(ctx, postId, func(ctx context.Context, post models.Post) (models.Stats, bool, error) {
		result = Result{PostId: postId, UserId: userId, Kind: kind}

		if _, err := r.backend.Users.FindUser(ctx, userId); err != nil {
			return models.Stats{}, false, err
		}

		holds, err := r.backend.Reactions.Has(ctx, postId, userId, kind)
		if err != nil {
			return models.Stats{}, false, err
		}
		if holds {
			if err := r.backend.Reactions.Remove(ctx, postId, userId, kind); err != nil {
				return models.Stats{}, false, err
			}
			result.Outcome = Removed
		} else {
			holdsOpposite, err := r.backend.Reactions.Has(ctx, postId, userId, kind.Opposite())
			if err != nil {
				return models.Stats{}, false, err
			}
			result.Outcome = Added
			if holdsOpposite {
				if err := r.backend.Reactions.Remove(ctx, postId, userId, kind.Opposite()); err != nil {
					return models.Stats{}, false, err
				}
				result.Outcome = Switched
			}
			if err := r.backend.Reactions.Add(ctx, postId, userId, kind); err != nil {
				return models.Stats{}, false, err
			}
			result.Active = true
		}

		stats, err := r.recount(ctx, post)
		return stats, true, err
	})
	r.record(kind, result.Outcome, err)
	if err != nil {
		return Result{}, err
	}
	result.Stats = stats

	log.WithFields(log.Fields{
		"tuit":    postId,
		"user":    userId,
		"kind":    kind,
		"outcome": result.Outcome,
	}).Debug("Reaction toggled")
	return result, nil
}

// Remove deletes the user's reaction of the given kind, if any, and
// recounts the tuit. Removing a reaction that is not held only recounts.
func (r *Reconciler) Remove(ctx context.Context, postId, userId string, kind models.ReactionKind) (Result, error) {
	if !kind.Valid() {
		return Result{}, fmt.Errorf("reaction kind %q: %w", kind, storage.ErrInvalid)
	}
	timer := prometheus.NewTimer(monitoring.ReconcileDuration.WithLabelValues("remove"))
	defer timer.ObserveDuration()

	var result Result
	stats, err := r.reconcile(ctx, postId, func(ctx context.Context, post models.Post) (models.Stats, bool, error) {
		result = Result{PostId: postId, UserId: userId, Kind: kind, Outcome: Unchanged}

		holds, err := r.backend.Reactions.Has(ctx, postId, userId, kind)
		if err != nil {
			return models.Stats{}, false, err
		}
		if holds {
			if err := r.backend.Reactions.Remove(ctx, postId, userId, kind); err != nil {
				return models.Stats{}, false, err
			}
			result.Outcome = Removed
		}

		stats, err := r.recount(ctx, post)
		return stats, true, err
	})
	r.record(kind, result.Outcome, err)
	if err != nil {
		return Result{}, err
	}
	result.Stats = stats
	return result, nil
}

// Resync rewrites the counters of a tuit from membership. It reports whether
// the stored counters had drifted.
func (r *Reconciler) Resync(ctx context.Context, postId string) (models.Stats, bool, error) {
	timer := prometheus.NewTimer(monitoring.ReconcileDuration.WithLabelValues("resync"))
	defer timer.ObserveDuration()

	drifted := false
	stats, err := r.reconcile(ctx, postId, func(ctx context.Context, post models.Post) (models.Stats, bool, error) {
		likes, dislikes, err := r.count(ctx, postId)
		if err != nil {
			return models.Stats{}, false, err
		}
		stats := post.Stats
		drifted = stats.Likes != likes || stats.Dislikes != dislikes
		if !drifted {
			return stats, false, nil
		}

		stats.Likes, stats.Dislikes = likes, dislikes
		return stats, true, r.setStats(ctx, postId, stats)
	})
	if err != nil {
		return models.Stats{}, false, err
	}

	if drifted {
		monitoring.StatsDriftRepaired.Inc()
		log.WithFields(log.Fields{
			"tuit":     postId,
			"likes":    stats.Likes,
			"dislikes": stats.Dislikes,
		}).Warn("Repaired drifted tuit counters")
	}
	return stats, drifted, nil
}

// reconcile runs operation on the tuit under its lock. When operation reports
// a change, the cache refresh and the stats event happen before the lock is
// released, so readers observe stats in commit order.
func (r *Reconciler) reconcile(
	ctx context.Context,
	postId string,
	operation func(ctx context.Context, post models.Post) (models.Stats, bool, error),
) (models.Stats, error) {
	unlock, err := r.locker.Lock(ctx, lock.PostKey(postId))
	if err != nil {
		return models.Stats{}, err
	}
	defer unlock()

	var stats models.Stats
	var version int64
	changed, missing := false, false
	err = r.backend.Tx.WithinTransaction(ctx, func(ctx context.Context) error {
		post, err := r.backend.Posts.GetPost(ctx, postId)
		if err != nil {
			missing = errors.Is(err, storage.ErrNotFound)
			return err
		}
		version = post.Version
		stats, changed, err = operation(ctx, post)
		return err
	})
	if err != nil {
		if missing || errors.Is(err, storage.ErrConflict) {
			r.evict(ctx, postId)
		}
		return models.Stats{}, err
	}

	if changed {
		r.afterCommit(ctx, postId, version, stats)
	}
	return stats, nil
}

// recount derives likes and dislikes from membership, keeps the remaining
// counters of post and persists the result.
func (r *Reconciler) recount(ctx context.Context, post models.Post) (models.Stats, error) {
	likes, dislikes, err := r.count(ctx, post.Id)
	if err != nil {
		return models.Stats{}, err
	}
	stats := post.Stats
	stats.Likes, stats.Dislikes = likes, dislikes
	return stats, r.setStats(ctx, post.Id, stats)
}

func (r *Reconciler) count(ctx context.Context, postId string) (int64, int64, error) {
	likes, err := r.backend.Reactions.Count(ctx, postId, models.Like)
	if err != nil {
		return 0, 0, err
	}
	dislikes, err := r.backend.Reactions.Count(ctx, postId, models.Dislike)
	if err != nil {
		return 0, 0, err
	}
	return likes, dislikes, nil
}

func (r *Reconciler) setStats(ctx context.Context, postId string, stats models.Stats) error {
	err := r.backend.Posts.SetStats(ctx, postId, stats)
	if errors.Is(err, storage.ErrNotFound) {
		return fmt.Errorf("tuit %s disappeared while reconciling: %w", postId, storage.ErrConflict)
	}
	return err
}

func (r *Reconciler) afterCommit(ctx context.Context, postId string, version int64, stats models.Stats) {
	ctx = context.WithoutCancel(ctx)
	if r.statsCache != nil {
		if err := r.statsCache.Set(ctx, postId, stats); err != nil {
			log.Warnf("Could not cache stats of tuit %s: %v", postId, err)
		}
	}
	if r.publisher != nil {
		event := events.StatsEvent{PostId: postId, Stats: stats, Version: version, At: time.Now().UTC()}
		if err := r.publisher.Publish(ctx, event); err != nil {
			log.Warnf("Could not publish stats of tuit %s: %v", postId, err)
		}
	}
}

// evict drops cached stats of a tuit that could not be reconciled, so a
// vanished tuit stops serving its last counters.
func (r *Reconciler) evict(ctx context.Context, postId string) {
	if r.statsCache != nil {
		r.statsCache.Delete(context.WithoutCancel(ctx), postId)
	}
}

func (r *Reconciler) record(kind models.ReactionKind, outcome Outcome, err error) {
	label := string(outcome)
	switch {
	case err == nil:
	case errors.Is(err, storage.ErrNotFound):
		label = "not_found"
	case errors.Is(err, storage.ErrConflict):
		label = "conflict"
	case errors.Is(err, storage.ErrUnavailable):
		label = "unavailable"
	default:
		label = "error"
	}
	monitoring.ReactionToggles.WithLabelValues(string(kind), label).Inc()
}

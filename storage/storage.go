package storage

import (
	"context"
	"errors"
	"tuiter/storage/models"
)

var (
	ErrNotFound    = errors.New("not found")
	ErrConflict    = errors.New("conflict")
	ErrUnavailable = errors.New("store unavailable")
	ErrInvalid     = errors.New("invalid argument")
)

// ReactionStore persists reaction membership. Add and Remove only touch
// membership records, never the counters stored on posts.
type ReactionStore interface {
	Has(ctx context.Context, postId, userId string, kind models.ReactionKind) (bool, error)
	Count(ctx context.Context, postId string, kind models.ReactionKind) (int64, error)
	// Add records the reaction. A reaction of the opposite kind held by the
	// same user on the same post is replaced.
	Add(ctx context.Context, postId, userId string, kind models.ReactionKind) error
	// Remove deletes the reaction if it exists with the given kind.
	Remove(ctx context.Context, postId, userId string, kind models.ReactionKind) error
	ListByPost(ctx context.Context, postId string, kind models.ReactionKind) ([]models.Reaction, error)
	ListByUser(ctx context.Context, userId string, kind models.ReactionKind) ([]models.Reaction, error)
}

type PostRepository interface {
	CreatePost(ctx context.Context, post models.Post) (models.Post, error)
	GetPost(ctx context.Context, id string) (models.Post, error)
	// SetStats replaces the stats block in a single document update.
	SetStats(ctx context.Context, id string, stats models.Stats) error
	// SetText replaces the body, leaving the version untouched.
	SetText(ctx context.Context, id string, text string) error
	BumpVersion(ctx context.Context, id string) error
	// ListPostIds pages through post ids in ascending order, starting after
	// the given id ("" for the first page).
	ListPostIds(ctx context.Context, after string, limit int) ([]string, error)
}

type VersionStore interface {
	// Append stores the snapshot unless one already exists for the same
	// post and version, in which case the existing row is kept.
	Append(ctx context.Context, version models.PostVersion) error
	// List returns the snapshots of a post ordered by version ascending.
	List(ctx context.Context, postId string) ([]models.PostVersion, error)
}

type UserLookup interface {
	FindUser(ctx context.Context, id string) (models.User, error)
}

// Transactor runs fn as a single unit of work. Stores that cannot group
// writes run fn directly.
type Transactor interface {
	WithinTransaction(ctx context.Context, fn func(ctx context.Context) error) error
}

// Backend bundles the stores of one storage driver.
type Backend struct {
	Reactions ReactionStore
	Posts     PostRepository
	Versions  VersionStore
	Users     UserLookup
	Tx        Transactor

	Close func(ctx context.Context) error
}

// NoTransaction runs units of work without grouping them.
type NoTransaction struct{}

func (NoTransaction) WithinTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	return fn(ctx)
}

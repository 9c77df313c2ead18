package postgres

import (
	"context"
	"errors"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"os"
	"testing"
	"tuiter/storage"
	"tuiter/storage/models"
)

func TestWrapError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want error
	}{
		{"no rows", pgx.ErrNoRows, storage.ErrNotFound},
		{"unique violation", &pgconn.PgError{Code: "23505"}, storage.ErrConflict},
		{"serialization failure", &pgconn.PgError{Code: "40001"}, storage.ErrConflict},
		{"foreign key violation", &pgconn.PgError{Code: "23503"}, storage.ErrNotFound},
		{"check violation", &pgconn.PgError{Code: "23514"}, storage.ErrInvalid},
		{"already mapped", storage.ErrUnavailable, storage.ErrUnavailable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.ErrorIs(t, wrapError("op", tt.err), tt.want)
		})
	}

	other := errors.New("boom")
	assert.ErrorIs(t, wrapError("op", other), other)
	assert.NoError(t, wrapError("op", nil))
}

// Runs against a live server when TUITER_TEST_POSTGRES_DSN is set.
func TestBackendAgainstPostgres(t *testing.T) {
	dsn := os.Getenv("TUITER_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("TUITER_TEST_POSTGRES_DSN not set")
	}
	ctx := context.Background()
	manager, err := Connect(ctx, dsn)
	require.NoError(t, err)
	require.NoError(t, manager.Migrate(ctx))
	backend := manager.Backend()
	t.Cleanup(func() { _ = backend.Close(ctx) })

	post, err := backend.Posts.CreatePost(ctx, models.Post{Tuit: "hello", PostedBy: uuid.NewString()})
	require.NoError(t, err)
	user := uuid.NewString()

	err = backend.Tx.WithinTransaction(ctx, func(ctx context.Context) error {
		if err := backend.Reactions.Add(ctx, post.Id, user, models.Like); err != nil {
			return err
		}
		likes, err := backend.Reactions.Count(ctx, post.Id, models.Like)
		if err != nil {
			return err
		}
		return backend.Posts.SetStats(ctx, post.Id, models.Stats{Likes: likes})
	})
	require.NoError(t, err)

	got, err := backend.Posts.GetPost(ctx, post.Id)
	require.NoError(t, err)
	assert.Equal(t, int64(1), got.Stats.Likes)

	require.NoError(t, backend.Reactions.Add(ctx, post.Id, user, models.Dislike))
	liked, err := backend.Reactions.Has(ctx, post.Id, user, models.Like)
	require.NoError(t, err)
	assert.False(t, liked)

	require.NoError(t, backend.Versions.Append(ctx, models.PostVersion{PostId: post.Id, Tuit: "hello", Version: 1}))
	require.NoError(t, backend.Versions.Append(ctx, models.PostVersion{PostId: post.Id, Tuit: "dup", Version: 1}))
	versions, err := backend.Versions.List(ctx, post.Id)
	require.NoError(t, err)
	require.Len(t, versions, 1)
	assert.Equal(t, "hello", versions[0].Tuit)

	assert.ErrorIs(t, backend.Posts.BumpVersion(ctx, uuid.NewString()), storage.ErrNotFound)
}

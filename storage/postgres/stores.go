package postgres

import (
	"context"
	"fmt"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"time"
	"tuiter/storage"
	"tuiter/storage/models"
)

type ReactionStore struct {
	m *Manager
}

func (s *ReactionStore) Has(ctx context.Context, postId, userId string, kind models.ReactionKind) (bool, error) {
	var exists bool
	err := s.m.conn(ctx).QueryRow(
		ctx,
		`SELECT EXISTS (SELECT 1 FROM reactions WHERE tuit = $1 AND user_id = $2 AND kind = $3)`,
		postId, userId, string(kind),
	).Scan(&exists)
	return exists, wrapError("find reaction", err)
}

func (s *ReactionStore) Count(ctx context.Context, postId string, kind models.ReactionKind) (int64, error) {
	var count int64
	err := s.m.conn(ctx).QueryRow(
		ctx,
		`SELECT count(*) FROM reactions WHERE tuit = $1 AND kind = $2`,
		postId, string(kind),
	).Scan(&count)
	return count, wrapError("count reactions", err)
}

func (s *ReactionStore) Add(ctx context.Context, postId, userId string, kind models.ReactionKind) error {
	_, err := s.m.conn(ctx).Exec(
		ctx,
		`INSERT INTO reactions (tuit, user_id, kind, created_at) VALUES ($1, $2, $3, $4)
		ON CONFLICT (tuit, user_id) DO UPDATE SET
			kind = EXCLUDED.kind,
			created_at = CASE WHEN reactions.kind = EXCLUDED.kind
				THEN reactions.created_at ELSE EXCLUDED.created_at END`,
		postId, userId, string(kind), time.Now().UTC(),
	)
	return wrapError("upsert reaction", err)
}

func (s *ReactionStore) Remove(ctx context.Context, postId, userId string, kind models.ReactionKind) error {
	_, err := s.m.conn(ctx).Exec(
		ctx,
		`DELETE FROM reactions WHERE tuit = $1 AND user_id = $2 AND kind = $3`,
		postId, userId, string(kind),
	)
	return wrapError("delete reaction", err)
}

func (s *ReactionStore) ListByPost(ctx context.Context, postId string, kind models.ReactionKind) ([]models.Reaction, error) {
	return s.list(ctx, `WHERE tuit = $1 AND kind = $2`, postId, kind)
}

func (s *ReactionStore) ListByUser(ctx context.Context, userId string, kind models.ReactionKind) ([]models.Reaction, error) {
	return s.list(ctx, `WHERE user_id = $1 AND kind = $2`, userId, kind)
}

func (s *ReactionStore) list(ctx context.Context, where string, id string, kind models.ReactionKind) ([]models.Reaction, error) {
	rows, err := s.m.conn(ctx).Query(
		ctx,
		`SELECT tuit, user_id, kind, created_at FROM reactions `+where+` ORDER BY created_at, tuit, user_id`,
		id, string(kind),
	)
	if err != nil {
		return nil, wrapError("find reactions", err)
	}

	reactions, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (models.Reaction, error) {
		var reaction models.Reaction
		var rowKind string
		if err := row.Scan(&reaction.PostId, &reaction.UserId, &rowKind, &reaction.CreatedAt); err != nil {
			return models.Reaction{}, err
		}
		kind, err := models.ParseReactionKind(rowKind)
		reaction.Kind = kind
		return reaction, err
	})
	return reactions, wrapError("decode reactions", err)
}

type PostRepository struct {
	m *Manager
}

func (r *PostRepository) CreatePost(ctx context.Context, post models.Post) (models.Post, error) {
	if post.Id == "" {
		post.Id = uuid.NewString()
	}
	if post.Version == 0 {
		post.Version = 1
	}
	if post.PostedOn.IsZero() {
		post.PostedOn = time.Now().UTC()
	}

	_, err := r.m.conn(ctx).Exec(
		ctx,
		`INSERT INTO tuits (id, tuit, posted_by, posted_on, v, replies, retuits, likes, dislikes)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		post.Id, post.Tuit, post.PostedBy, post.PostedOn, post.Version,
		post.Stats.Replies, post.Stats.Retuits, post.Stats.Likes, post.Stats.Dislikes,
	)
	if err != nil {
		return models.Post{}, wrapError("insert tuit", err)
	}
	return post, nil
}

func (r *PostRepository) GetPost(ctx context.Context, id string) (models.Post, error) {
	var post models.Post
	err := r.m.conn(ctx).QueryRow(
		ctx,
		`SELECT id, tuit, posted_by, posted_on, v, replies, retuits, likes, dislikes
		FROM tuits WHERE id = $1`,
		id,
	).Scan(
		&post.Id, &post.Tuit, &post.PostedBy, &post.PostedOn, &post.Version,
		&post.Stats.Replies, &post.Stats.Retuits, &post.Stats.Likes, &post.Stats.Dislikes,
	)
	if err != nil {
		return models.Post{}, wrapError(fmt.Sprintf("find tuit %s", id), err)
	}
	return post, nil
}

func (r *PostRepository) SetStats(ctx context.Context, id string, stats models.Stats) error {
	return r.exec(
		ctx, id,
		`UPDATE tuits SET replies = $2, retuits = $3, likes = $4, dislikes = $5 WHERE id = $1`,
		stats.Replies, stats.Retuits, stats.Likes, stats.Dislikes,
	)
}

func (r *PostRepository) SetText(ctx context.Context, id string, text string) error {
	return r.exec(ctx, id, `UPDATE tuits SET tuit = $2 WHERE id = $1`, text)
}

func (r *PostRepository) BumpVersion(ctx context.Context, id string) error {
	return r.exec(ctx, id, `UPDATE tuits SET v = v + 1 WHERE id = $1`)
}

func (r *PostRepository) ListPostIds(ctx context.Context, after string, limit int) ([]string, error) {
	if limit <= 0 {
		limit = 1000
	}
	rows, err := r.m.conn(ctx).Query(
		ctx,
		`SELECT id FROM tuits WHERE id > $1 ORDER BY id LIMIT $2`,
		after, limit,
	)
	if err != nil {
		return nil, wrapError("list tuits", err)
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[string])
	return ids, wrapError("list tuits", err)
}

func (r *PostRepository) exec(ctx context.Context, id string, sql string, args ...any) error {
	tag, err := r.m.conn(ctx).Exec(ctx, sql, append([]any{id}, args...)...)
	if err != nil {
		return wrapError(fmt.Sprintf("update tuit %s", id), err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("tuit %s: %w", id, storage.ErrNotFound)
	}
	return nil
}

type VersionStore struct {
	m *Manager
}

func (s *VersionStore) Append(ctx context.Context, version models.PostVersion) error {
	_, err := s.m.conn(ctx).Exec(
		ctx,
		`INSERT INTO tuit_versions (ref, v, tuit, edited_on) VALUES ($1, $2, $3, $4)
		ON CONFLICT (ref, v) DO NOTHING`,
		version.PostId, version.Version, version.Tuit, version.EditedOn,
	)
	return wrapError("append tuit version", err)
}

func (s *VersionStore) List(ctx context.Context, postId string) ([]models.PostVersion, error) {
	rows, err := s.m.conn(ctx).Query(
		ctx,
		`SELECT ref, tuit, v, edited_on FROM tuit_versions WHERE ref = $1 ORDER BY v`,
		postId,
	)
	if err != nil {
		return nil, wrapError("find tuit versions", err)
	}
	versions, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (models.PostVersion, error) {
		var version models.PostVersion
		err := row.Scan(&version.PostId, &version.Tuit, &version.Version, &version.EditedOn)
		return version, err
	})
	return versions, wrapError("decode tuit versions", err)
}

type UserLookup struct {
	m *Manager
}

func (l *UserLookup) FindUser(ctx context.Context, id string) (models.User, error) {
	var user models.User
	err := l.m.conn(ctx).QueryRow(
		ctx,
		`SELECT id, username FROM users WHERE id = $1`,
		id,
	).Scan(&user.Id, &user.Username)
	if err != nil {
		return models.User{}, wrapError(fmt.Sprintf("find user %s", id), err)
	}
	return user, nil
}

package reactions

import (
	"context"
	"fmt"
	"tuiter/storage"
	"tuiter/storage/models"
)

// Status tells which reaction, if any, a user holds on a tuit.
type Status struct {
	PostId   string `json:"tid"`
	UserId   string `json:"uid"`
	Liked    bool   `json:"liked"`
	Disliked bool   `json:"disliked"`
}

func (r *Reconciler) Status(ctx context.Context, postId, userId string) (Status, error) {
	if _, err := r.backend.Posts.GetPost(ctx, postId); err != nil {
		return Status{}, err
	}
	liked, err := r.backend.Reactions.Has(ctx, postId, userId, models.Like)
	if err != nil {
		return Status{}, err
	}
	disliked, err := r.backend.Reactions.Has(ctx, postId, userId, models.Dislike)
	if err != nil {
		return Status{}, err
	}
	return Status{PostId: postId, UserId: userId, Liked: liked, Disliked: disliked}, nil
}

// ByPost lists the reactions of one kind on a tuit, oldest first.
func (r *Reconciler) ByPost(ctx context.Context, postId string, kind models.ReactionKind) ([]models.Reaction, error) {
	if !kind.Valid() {
		return nil, fmt.Errorf("reaction kind %q: %w", kind, storage.ErrInvalid)
	}
	if _, err := r.backend.Posts.GetPost(ctx, postId); err != nil {
		return nil, err
	}
	return r.backend.Reactions.ListByPost(ctx, postId, kind)
}

// ByUser lists the reactions of one kind a user holds, oldest first.
func (r *Reconciler) ByUser(ctx context.Context, userId string, kind models.ReactionKind) ([]models.Reaction, error) {
	if !kind.Valid() {
		return nil, fmt.Errorf("reaction kind %q: %w", kind, storage.ErrInvalid)
	}
	if _, err := r.backend.Users.FindUser(ctx, userId); err != nil {
		return nil, err
	}
	return r.backend.Reactions.ListByUser(ctx, userId, kind)
}

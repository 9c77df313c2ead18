package models

import (
	"fmt"
	"time"
)

type ReactionKind string

const (
	Like    ReactionKind = "like"
	Dislike ReactionKind = "dislike"
)

func ParseReactionKind(s string) (ReactionKind, error) {
	switch kind := ReactionKind(s); kind {
	case Like, Dislike:
		return kind, nil
	}
	return "", fmt.Errorf("unknown reaction kind %q", s)
}

func (k ReactionKind) Valid() bool {
	return k == Like || k == Dislike
}

// Opposite returns the kind that cannot coexist with k for the same user and post.
func (k ReactionKind) Opposite() ReactionKind {
	if k == Like {
		return Dislike
	}
	return Like
}

// Reaction is a user's like or dislike on a post. There is at most one per
// (PostId, UserId) pair.
type Reaction struct {
	PostId    string       `json:"tuit"`
	UserId    string       `json:"user"`
	Kind      ReactionKind `json:"kind"`
	CreatedAt time.Time    `json:"createdAt"`
}

package memory

import (
	"context"
	"fmt"
	"github.com/google/uuid"
	"sort"
	"sync"
	"time"
	"tuiter/storage"
	"tuiter/storage/models"
)

type reactionKey struct {
	postId string
	userId string
}

// Store keeps posts, reactions, versions and users in process memory. It is
// the backend for local runs and for tests of the layers above storage.
type Store struct {
	mu        sync.RWMutex
	posts     map[string]models.Post
	reactions map[reactionKey]models.Reaction
	versions  map[string][]models.PostVersion
	users     map[string]models.User
}

func NewStore() *Store {
	return &Store{
		posts:     make(map[string]models.Post),
		reactions: make(map[reactionKey]models.Reaction),
		versions:  make(map[string][]models.PostVersion),
		users:     make(map[string]models.User),
	}
}

func NewBackend() (storage.Backend, *Store) {
	s := NewStore()
	return storage.Backend{
		Reactions: s,
		Posts:     s,
		Versions:  s,
		Users:     s,
		Tx:        storage.NoTransaction{},
		Close:     func(context.Context) error { return nil },
	}, s
}

func (s *Store) AddUser(user models.User) models.User {
	s.mu.Lock()
	defer s.mu.Unlock()

	if user.Id == "" {
		user.Id = uuid.NewString()
	}
	s.users[user.Id] = user
	return user
}

func (s *Store) FindUser(_ context.Context, id string) (models.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	user, ok := s.users[id]
	if !ok {
		return models.User{}, fmt.Errorf("user %s: %w", id, storage.ErrNotFound)
	}
	return user, nil
}

func (s *Store) CreatePost(_ context.Context, post models.Post) (models.Post, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if post.Id == "" {
		post.Id = uuid.NewString()
	}
	if _, ok := s.posts[post.Id]; ok {
		return models.Post{}, fmt.Errorf("post %s: %w", post.Id, storage.ErrConflict)
	}
	if post.Version == 0 {
		post.Version = 1
	}
	if post.PostedOn.IsZero() {
		post.PostedOn = time.Now().UTC()
	}
	s.posts[post.Id] = post
	return post, nil
}

func (s *Store) GetPost(_ context.Context, id string) (models.Post, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	post, ok := s.posts[id]
	if !ok {
		return models.Post{}, fmt.Errorf("post %s: %w", id, storage.ErrNotFound)
	}
	return post, nil
}

func (s *Store) SetStats(_ context.Context, id string, stats models.Stats) error {
	return s.updatePost(id, func(post *models.Post) { post.Stats = stats })
}

func (s *Store) SetText(_ context.Context, id string, text string) error {
	return s.updatePost(id, func(post *models.Post) { post.Tuit = text })
}

func (s *Store) BumpVersion(_ context.Context, id string) error {
	return s.updatePost(id, func(post *models.Post) { post.Version++ })
}

func (s *Store) DeletePost(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.posts, id)
}

func (s *Store) ListPostIds(_ context.Context, after string, limit int) ([]string, error) {
	s.mu.RLock()
	ids := make([]string, 0, len(s.posts))
	for id := range s.posts {
		if id > after {
			ids = append(ids, id)
		}
	}
	s.mu.RUnlock()

	sort.Strings(ids)
	if limit > 0 && len(ids) > limit {
		ids = ids[:limit]
	}
	return ids, nil
}

func (s *Store) Has(_ context.Context, postId, userId string, kind models.ReactionKind) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	reaction, ok := s.reactions[reactionKey{postId, userId}]
	return ok && reaction.Kind == kind, nil
}

func (s *Store) Count(_ context.Context, postId string, kind models.ReactionKind) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var count int64
	for key, reaction := range s.reactions {
		if key.postId == postId && reaction.Kind == kind {
			count++
		}
	}
	return count, nil
}

func (s *Store) Add(_ context.Context, postId, userId string, kind models.ReactionKind) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := reactionKey{postId, userId}
	if existing, ok := s.reactions[key]; ok && existing.Kind == kind {
		return nil
	}
	s.reactions[key] = models.Reaction{
		PostId:    postId,
		UserId:    userId,
		Kind:      kind,
		CreatedAt: time.Now().UTC(),
	}
	return nil
}

func (s *Store) Remove(_ context.Context, postId, userId string, kind models.ReactionKind) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := reactionKey{postId, userId}
	if existing, ok := s.reactions[key]; ok && existing.Kind == kind {
		delete(s.reactions, key)
	}
	return nil
}

func (s *Store) ListByPost(_ context.Context, postId string, kind models.ReactionKind) ([]models.Reaction, error) {
	return s.listReactions(func(r models.Reaction) bool {
		return r.PostId == postId && r.Kind == kind
	}), nil
}

func (s *Store) ListByUser(_ context.Context, userId string, kind models.ReactionKind) ([]models.Reaction, error) {
	return s.listReactions(func(r models.Reaction) bool {
		return r.UserId == userId && r.Kind == kind
	}), nil
}

func (s *Store) Append(_ context.Context, version models.PostVersion) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.versions[version.PostId] {
		if existing.Version == version.Version {
			return nil
		}
	}
	s.versions[version.PostId] = append(s.versions[version.PostId], version)
	return nil
}

func (s *Store) List(_ context.Context, postId string) ([]models.PostVersion, error) {
	s.mu.RLock()
	versions := make([]models.PostVersion, len(s.versions[postId]))
	copy(versions, s.versions[postId])
	s.mu.RUnlock()

	sort.Slice(versions, func(i, j int) bool {
		return versions[i].Version < versions[j].Version
	})
	return versions, nil
}

func (s *Store) updatePost(id string, update func(post *models.Post)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	post, ok := s.posts[id]
	if !ok {
		return fmt.Errorf("post %s: %w", id, storage.ErrNotFound)
	}
	update(&post)
	s.posts[id] = post
	return nil
}

func (s *Store) listReactions(match func(models.Reaction) bool) []models.Reaction {
	s.mu.RLock()
	result := make([]models.Reaction, 0)
	for _, reaction := range s.reactions {
		if match(reaction) {
			result = append(result, reaction)
		}
	}
	s.mu.RUnlock()

	sort.Slice(result, func(i, j int) bool {
		a, b := result[i], result[j]
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.Before(b.CreatedAt)
		}
		if a.PostId != b.PostId {
			return a.PostId < b.PostId
		}
		return a.UserId < b.UserId
	})
	return result
}

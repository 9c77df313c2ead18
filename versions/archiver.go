package versions

import (
	"context"
	"errors"
	"fmt"
	log "github.com/sirupsen/logrus"
	"strings"
	"time"
	"tuiter/monitoring"
	"tuiter/storage"
	"tuiter/storage/lock"
	"tuiter/storage/models"
)

// Archiver edits tuits while keeping every replaced text as a PostVersion.
// A tuit at version v always has v-1 snapshots once an edit completes.
type Archiver struct {
	backend storage.Backend
	locker  lock.Locker
}

func NewArchiver(backend storage.Backend, locker lock.Locker) *Archiver {
	if locker == nil {
		locker = lock.NewLocal()
	}
	return &Archiver{
		backend: backend,
		locker:  locker,
	}
}

// Edit snapshots the current text and version of the tuit, then bumps the
// version and replaces the text. Every edit produces a new version, including
// one that resubmits the current text.
func (a *Archiver) Edit(ctx context.Context, postId, text string) (models.Post, error) {
	if strings.TrimSpace(text) == "" {
		monitoring.TuitEdits.WithLabelValues("invalid").Inc()
		return models.Post{}, fmt.Errorf("empty tuit: %w", storage.ErrInvalid)
	}

	unlock, err := a.locker.Lock(ctx, lock.PostKey(postId))
	if err != nil {
		monitoring.TuitEdits.WithLabelValues("unavailable").Inc()
		return models.Post{}, err
	}
	defer unlock()

	var edited models.Post
	err = a.backend.Tx.WithinTransaction(ctx, func(ctx context.Context) error {
		post, err := a.backend.Posts.GetPost(ctx, postId)
		if err != nil {
			return err
		}

		snapshot := models.PostVersion{
			PostId:   postId,
			Tuit:     post.Tuit,
			Version:  post.Version,
			EditedOn: time.Now().UTC(),
		}
		if err := a.backend.Versions.Append(ctx, snapshot); err != nil {
			return err
		}
		if err := a.update(ctx, postId, text); err != nil {
			log.WithFields(log.Fields{
				"tuit":    postId,
				"version": snapshot.Version,
			}).Warnf("Edit failed after snapshot, the next edit reuses it: %v", err)
			return err
		}

		post.Tuit = text
		post.Version++
		edited = post
		return nil
	})
	if err != nil {
		monitoring.TuitEdits.WithLabelValues(errorLabel(err)).Inc()
		return models.Post{}, err
	}

	monitoring.TuitEdits.WithLabelValues("edited").Inc()
	log.WithFields(log.Fields{"tuit": postId, "version": edited.Version}).Debug("Tuit edited")
	return edited, nil
}

// update bumps the version before replacing the text. A failure in between
// leaves the old text live at the new version, which the next edit snapshots
// under that version.
func (a *Archiver) update(ctx context.Context, postId, text string) error {
	if err := a.backend.Posts.BumpVersion(ctx, postId); err != nil {
		return vanished(postId, err)
	}
	return vanished(postId, a.backend.Posts.SetText(ctx, postId, text))
}

func vanished(postId string, err error) error {
	if errors.Is(err, storage.ErrNotFound) {
		return fmt.Errorf("tuit %s disappeared while editing: %w", postId, storage.ErrConflict)
	}
	return err
}

// History returns the previous texts of a tuit, oldest first.
func (a *Archiver) History(ctx context.Context, postId string) ([]models.PostVersion, error) {
	if _, err := a.backend.Posts.GetPost(ctx, postId); err != nil {
		return nil, err
	}
	versions, err := a.backend.Versions.List(ctx, postId)
	if err != nil {
		return nil, err
	}
	if versions == nil {
		versions = []models.PostVersion{}
	}
	return versions, nil
}

func errorLabel(err error) string {
	switch {
	case errors.Is(err, storage.ErrNotFound):
		return "not_found"
	case errors.Is(err, storage.ErrConflict):
		return "conflict"
	case errors.Is(err, storage.ErrUnavailable):
		return "unavailable"
	}
	return "error"
}

package tasks

import (
	"context"
	"fmt"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"testing"
	"time"
	"tuiter/monitoring"
	"tuiter/reactions"
	"tuiter/storage"
	"tuiter/storage/memory"
	"tuiter/storage/models"
)

func TestAuditRepairsDriftAcrossPages(t *testing.T) {
	backend, store := memory.NewBackend()
	ctx := context.Background()
	user := store.AddUser(models.User{Username: "alice"})
	reconciler := reactions.NewReconciler(backend)

	var ids []string
	for i := 0; i < 7; i++ {
		post, err := backend.Posts.CreatePost(ctx, models.Post{Id: fmt.Sprintf("t%02d", i), Tuit: "hello"})
		require.NoError(t, err)
		_, err = reconciler.ToggleLike(ctx, post.Id, user.Id)
		require.NoError(t, err)
		ids = append(ids, post.Id)
	}
	for _, id := range []string{ids[1], ids[5]} {
		require.NoError(t, backend.Posts.SetStats(ctx, id, models.Stats{Likes: 9, Dislikes: 2}))
	}

	before := testutil.ToFloat64(monitoring.StatsDriftRepaired)
	auditor := NewStatsAuditor(backend.Posts, reconciler, time.Hour)
	auditor.pageSize = 3

	report, err := auditor.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, AuditReport{Checked: 7, Repaired: 2}, report)
	assert.Equal(t, before+2, testutil.ToFloat64(monitoring.StatsDriftRepaired))

	for _, id := range ids {
		post, err := backend.Posts.GetPost(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, models.Stats{Likes: 1}, post.Stats)
	}

	report, err = auditor.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, report.Repaired)
}

type failingResyncer struct {
	failures map[string]error
}

func (r failingResyncer) Resync(_ context.Context, postId string) (models.Stats, bool, error) {
	return models.Stats{}, false, r.failures[postId]
}

func TestAuditSkipsVanishedAndCountsFailures(t *testing.T) {
	backend, _ := memory.NewBackend()
	ctx := context.Background()
	for _, id := range []string{"a", "b", "c"} {
		_, err := backend.Posts.CreatePost(ctx, models.Post{Id: id})
		require.NoError(t, err)
	}

	auditor := NewStatsAuditor(backend.Posts, failingResyncer{map[string]error{
		"a": storage.ErrNotFound,
		"b": storage.ErrUnavailable,
	}}, time.Hour)

	report, err := auditor.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, AuditReport{Checked: 1, Failed: 1}, report)
}

func TestAuditStopsWithContext(t *testing.T) {
	backend, _ := memory.NewBackend()
	_, err := backend.Posts.CreatePost(context.Background(), models.Post{Id: "a"})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	auditor := NewStatsAuditor(backend.Posts, failingResyncer{}, time.Millisecond)

	_, err = auditor.RunOnce(ctx)
	assert.ErrorIs(t, err, context.Canceled)

	done := make(chan struct{})
	go func() {
		auditor.Run(ctx)
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancellation")
	}
}

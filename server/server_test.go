package server

import (
	"bytes"
	"context"
	"encoding/json"
	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
	"tuiter/auth"
	"tuiter/events"
	"tuiter/reactions"
	"tuiter/storage"
	"tuiter/storage/cache"
	"tuiter/storage/lock"
	"tuiter/storage/memory"
	"tuiter/storage/models"
	"tuiter/versions"
)

var secret = []byte("server-test-secret")

type testServer struct {
	router     *gin.Engine
	statsCache *cache.StatsCache
	post       models.Post
	alice      models.User
	bob        models.User
}

func newTestServer(t *testing.T) testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	backend, store := memory.NewBackend()
	alice := store.AddUser(models.User{Username: "alice"})
	bob := store.AddUser(models.User{Username: "bob"})
	post, err := backend.Posts.CreatePost(context.Background(), models.Post{Tuit: "hello", PostedBy: alice.Id})
	require.NoError(t, err)

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	statsCache := cache.NewStatsCache(client, time.Hour)

	locker := lock.NewLocal()
	broker := events.NewBroker()
	s := NewServer(Config{
		JWTSecret: secret,
		Reconciler: reactions.NewReconciler(
			backend,
			reactions.WithLocker(locker),
			reactions.WithStatsCache(statsCache),
			reactions.WithPublisher(broker),
		),
		Archiver:   versions.NewArchiver(backend, locker),
		Posts:      backend.Posts,
		StatsCache: statsCache,
		Broker:     broker,
		Gatherer:   prometheus.NewRegistry(),
	})
	return testServer{router: s.Router(), statsCache: statsCache, post: post, alice: alice, bob: bob}
}

func (ts testServer) do(t *testing.T, method, path string, user *models.User, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(payload)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if user != nil {
		token, err := auth.IssueToken(user.Id, secret, time.Hour)
		require.NoError(t, err)
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	ts.router.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var value T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &value))
	return value
}

func TestToggleEndpoints(t *testing.T) {
	ts := newTestServer(t)

	w := ts.do(t, http.MethodPost, "/users/me/likes/"+ts.post.Id, &ts.bob, nil)
	require.Equal(t, http.StatusOK, w.Code)
	result := decode[reactions.Result](t, w)
	assert.Equal(t, reactions.Added, result.Outcome)
	assert.Equal(t, int64(1), result.Stats.Likes)

	w = ts.do(t, http.MethodPost, "/users/"+ts.bob.Id+"/dislikes/"+ts.post.Id, &ts.bob, nil)
	require.Equal(t, http.StatusOK, w.Code)
	result = decode[reactions.Result](t, w)
	assert.Equal(t, models.Stats{Dislikes: 1}, result.Stats)

	w = ts.do(t, http.MethodDelete, "/users/me/undislikes/"+ts.post.Id, &ts.bob, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, models.Stats{}, decode[reactions.Result](t, w).Stats)

	w = ts.do(t, http.MethodDelete, "/users/me/unlikes/"+ts.post.Id, &ts.bob, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, reactions.Unchanged, decode[reactions.Result](t, w).Outcome)
}

func TestToggleErrors(t *testing.T) {
	ts := newTestServer(t)

	tests := []struct {
		name   string
		path   string
		user   *models.User
		status int
	}{
		{"anonymous me", "/users/me/likes/" + ts.post.Id, nil, http.StatusUnauthorized},
		{"anonymous explicit", "/users/" + ts.bob.Id + "/likes/" + ts.post.Id, nil, http.StatusUnauthorized},
		{"other user", "/users/" + ts.alice.Id + "/likes/" + ts.post.Id, &ts.bob, http.StatusForbidden},
		{"unknown tuit", "/users/me/likes/missing", &ts.bob, http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := ts.do(t, http.MethodPost, tt.path, tt.user, nil)
			assert.Equal(t, tt.status, w.Code)
			assert.NotEmpty(t, decode[map[string]string](t, w)["error"])
		})
	}

	w := ts.do(t, http.MethodGet, "/tuits/"+ts.post.Id+"/likes", nil, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, decode[[]models.Reaction](t, w))
}

func TestListingEndpoints(t *testing.T) {
	ts := newTestServer(t)
	require.Equal(t, http.StatusOK, ts.do(t, http.MethodPost, "/users/me/likes/"+ts.post.Id, &ts.alice, nil).Code)
	require.Equal(t, http.StatusOK, ts.do(t, http.MethodPost, "/users/me/dislikes/"+ts.post.Id, &ts.bob, nil).Code)

	w := ts.do(t, http.MethodGet, "/users/me/likes", &ts.alice, nil)
	require.Equal(t, http.StatusOK, w.Code)
	liked := decode[[]models.Reaction](t, w)
	require.Len(t, liked, 1)
	assert.Equal(t, ts.post.Id, liked[0].PostId)

	w = ts.do(t, http.MethodGet, "/tuits/"+ts.post.Id+"/dislikes", nil, nil)
	require.Equal(t, http.StatusOK, w.Code)
	disliked := decode[[]models.Reaction](t, w)
	require.Len(t, disliked, 1)
	assert.Equal(t, ts.bob.Id, disliked[0].UserId)

	w = ts.do(t, http.MethodGet, "/users/"+ts.bob.Id+"/likes/"+ts.post.Id, nil, nil)
	require.Equal(t, http.StatusOK, w.Code)
	status := decode[reactions.Status](t, w)
	assert.False(t, status.Liked)
	assert.True(t, status.Disliked)

	assert.Equal(t, http.StatusUnauthorized, ts.do(t, http.MethodGet, "/users/me/dislikes", nil, nil).Code)
	assert.Equal(t, http.StatusNotFound, ts.do(t, http.MethodGet, "/users/ghost/likes", nil, nil).Code)
}

func TestEditAndVersions(t *testing.T) {
	ts := newTestServer(t)
	path := "/tuits/" + ts.post.Id + "/edit"

	w := ts.do(t, http.MethodPut, path, &ts.alice, map[string]string{"tuit": "world"})
	require.Equal(t, http.StatusOK, w.Code)
	edited := decode[models.Post](t, w)
	assert.Equal(t, "world", edited.Tuit)
	assert.Equal(t, int64(2), edited.Version)

	assert.Equal(t, http.StatusForbidden, ts.do(t, http.MethodPut, path, &ts.bob, map[string]string{"tuit": "x"}).Code)
	assert.Equal(t, http.StatusUnauthorized, ts.do(t, http.MethodPut, path, nil, map[string]string{"tuit": "x"}).Code)
	assert.Equal(t, http.StatusBadRequest, ts.do(t, http.MethodPut, path, &ts.alice, map[string]string{"tuit": ""}).Code)
	assert.Equal(t, http.StatusNotFound, ts.do(t, http.MethodPut, "/tuits/missing/edit", &ts.alice, map[string]string{"tuit": "x"}).Code)

	w = ts.do(t, http.MethodGet, "/tuits/"+ts.post.Id+"/versions", nil, nil)
	require.Equal(t, http.StatusOK, w.Code)
	history := decode[[]models.PostVersion](t, w)
	require.Len(t, history, 1)
	assert.Equal(t, "hello", history[0].Tuit)
	assert.Equal(t, int64(1), history[0].Version)

	w = ts.do(t, http.MethodGet, "/tuits/"+ts.post.Id, nil, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "world", decode[models.Post](t, w).Tuit)
}

func TestStatsEndpointPrefersCache(t *testing.T) {
	ts := newTestServer(t)
	path := "/tuits/" + ts.post.Id + "/stats"

	w := ts.do(t, http.MethodGet, path, nil, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, models.Stats{}, decode[models.Stats](t, w))

	require.Equal(t, http.StatusOK, ts.do(t, http.MethodPost, "/users/me/likes/"+ts.post.Id, &ts.bob, nil).Code)
	cached, ok := ts.statsCache.Get(context.Background(), ts.post.Id)
	require.True(t, ok)
	assert.Equal(t, int64(1), cached.Likes)

	w = ts.do(t, http.MethodGet, path, nil, nil)
	assert.Equal(t, int64(1), decode[models.Stats](t, w).Likes)

	assert.Equal(t, http.StatusNotFound, ts.do(t, http.MethodGet, "/tuits/missing/stats", nil, nil).Code)
}

func TestHealthAndMetrics(t *testing.T) {
	ts := newTestServer(t)
	assert.Equal(t, http.StatusOK, ts.do(t, http.MethodGet, "/healthz", nil, nil).Code)
	assert.Equal(t, http.StatusOK, ts.do(t, http.MethodGet, "/metrics", nil, nil).Code)
}

func TestLiveStats(t *testing.T) {
	ts := newTestServer(t)
	httpServer := httptest.NewServer(ts.router)
	defer httpServer.Close()

	url := "ws" + strings.TrimPrefix(httpServer.URL, "http") + "/tuits/" + ts.post.Id + "/stats/live"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	var event events.StatsEvent
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	require.NoError(t, conn.ReadJSON(&event))
	assert.Equal(t, models.Stats{}, event.Stats)

	require.Equal(t, http.StatusOK, ts.do(t, http.MethodPost, "/users/me/dislikes/"+ts.post.Id, &ts.bob, nil).Code)
	require.NoError(t, conn.ReadJSON(&event))
	assert.Equal(t, ts.post.Id, event.PostId)
	assert.Equal(t, int64(1), event.Stats.Dislikes)

	_, _, err = websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(httpServer.URL, "http")+"/tuits/missing/stats/live", nil)
	assert.Error(t, err)
}

// racingPosts publishes a stats change while the tuit is being read.
type racingPosts struct {
	storage.PostRepository
	broker *events.Broker
}

func (p racingPosts) GetPost(ctx context.Context, id string) (models.Post, error) {
	post, err := p.PostRepository.GetPost(ctx, id)
	_ = p.broker.Publish(ctx, events.StatsEvent{PostId: id, Stats: models.Stats{Likes: 9}, Version: post.Version})
	return post, err
}

func TestLiveStatsKeepsEventsCommittedDuringTheInitialRead(t *testing.T) {
	gin.SetMode(gin.TestMode)
	backend, _ := memory.NewBackend()
	post, err := backend.Posts.CreatePost(context.Background(), models.Post{Tuit: "hello", PostedBy: "u1"})
	require.NoError(t, err)

	broker := events.NewBroker()
	s := NewServer(Config{
		JWTSecret: secret,
		Posts:     racingPosts{PostRepository: backend.Posts, broker: broker},
		Broker:    broker,
		Gatherer:  prometheus.NewRegistry(),
	})
	httpServer := httptest.NewServer(s.Router())
	defer httpServer.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(httpServer.URL, "http")+"/tuits/"+post.Id+"/stats/live", nil)
	require.NoError(t, err)
	defer conn.Close()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))

	var event events.StatsEvent
	require.NoError(t, conn.ReadJSON(&event))
	assert.Equal(t, int64(0), event.Stats.Likes)
	require.NoError(t, conn.ReadJSON(&event))
	assert.Equal(t, int64(9), event.Stats.Likes)
}

package server

import (
	"context"
	"errors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"
	"net/http"
	"time"
	"tuiter/auth"
	"tuiter/events"
	"tuiter/monitoring/middleware"
	"tuiter/reactions"
	"tuiter/storage"
	"tuiter/storage/models"
	"tuiter/versions"
)

const shutdownTimeout = 10 * time.Second

type StatsCache interface {
	Get(ctx context.Context, postId string) (models.Stats, bool)
	Fill(ctx context.Context, postId string, stats models.Stats) error
}

type Config struct {
	ListenAddr string
	JWTSecret  []byte

	Reconciler *reactions.Reconciler
	Archiver   *versions.Archiver
	Posts      storage.PostRepository
	StatsCache StatsCache
	Broker     *events.Broker
	Gatherer   prometheus.Gatherer
}

type Server struct {
	listenAddr string
	jwtSecret  []byte

	reconciler *reactions.Reconciler
	archiver   *versions.Archiver
	posts      storage.PostRepository
	statsCache StatsCache
	broker     *events.Broker
	gatherer   prometheus.Gatherer
}

func NewServer(config Config) *Server {
	gatherer := config.Gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	return &Server{
		listenAddr: config.ListenAddr,
		jwtSecret:  config.JWTSecret,
		reconciler: config.Reconciler,
		archiver:   config.Archiver,
		posts:      config.Posts,
		statsCache: config.StatsCache,
		broker:     config.Broker,
		gatherer:   gatherer,
	}
}

func (s *Server) Router() *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery(), middleware.ServerMiddleware(), auth.Identity(s.jwtSecret))

	router.GET("/healthz", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "ok"}) })
	router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{})))

	users := router.Group("/users/:uid")
	users.POST("/likes/:tid", s.toggle(models.Like))
	users.POST("/dislikes/:tid", s.toggle(models.Dislike))
	users.DELETE("/unlikes/:tid", s.remove(models.Like))
	users.DELETE("/undislikes/:tid", s.remove(models.Dislike))
	users.GET("/likes", s.listByUser(models.Like))
	users.GET("/dislikes", s.listByUser(models.Dislike))
	users.GET("/likes/:tid", s.getReactionStatus)

	tuits := router.Group("/tuits/:tid")
	tuits.GET("", s.getTuit)
	tuits.PUT("/edit", s.editTuit)
	tuits.GET("/versions", s.getVersions)
	tuits.GET("/likes", s.listByPost(models.Like))
	tuits.GET("/dislikes", s.listByPost(models.Dislike))
	tuits.GET("/stats", s.getStats)
	tuits.GET("/stats/live", s.liveStats)

	return router
}

// Run serves until ctx is done, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	httpServer := &http.Server{
		Addr:              s.listenAddr,
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errs := make(chan error, 1)
	go func() {
		log.Infof("Listening on %s", s.listenAddr)
		errs <- httpServer.ListenAndServe()
	}()

	select {
	case err := <-errs:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errs; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	log.Info("Server closed")
	return nil
}

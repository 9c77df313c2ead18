package main

import (
	"context"
	"errors"
	"fmt"
	_ "github.com/joho/godotenv/autoload"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"
	"math"
	"os"
	"os/signal"
	"syscall"
	"time"
	"tuiter/auth"
	"tuiter/events"
	"tuiter/monitoring"
	"tuiter/reactions"
	"tuiter/server"
	"tuiter/storage"
	"tuiter/storage/cache"
	"tuiter/storage/lock"
	"tuiter/storage/memory"
	"tuiter/storage/mongo"
	"tuiter/storage/postgres"
	"tuiter/tasks"
	"tuiter/utils"
	"tuiter/versions"
)

func main() {
	app := cli.App{
		Name:   "tuiter",
		Usage:  "tuit reactions and edit history service",
		Before: configureLogging,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "storage",
				EnvVars: []string{"TUITER_STORAGE"},
				Value:   "mongo",
				Usage:   "mongo, postgres or memory",
			},
			&cli.StringFlag{
				Name:    "mongo-uri",
				EnvVars: []string{"TUITER_MONGO_URI"},
				Value:   "mongodb://localhost:27017",
			},
			&cli.StringFlag{
				Name:    "mongo-database",
				EnvVars: []string{"TUITER_MONGO_DATABASE"},
				Value:   "tuiter",
			},
			&cli.BoolFlag{
				Name:    "mongo-transactions",
				EnvVars: []string{"TUITER_MONGO_TRANSACTIONS"},
				Usage:   "group each reconciliation in a transaction (replica sets only)",
			},
			&cli.StringFlag{
				Name:    "postgres-dsn",
				EnvVars: []string{"TUITER_POSTGRES_DSN"},
			},
			&cli.StringFlag{
				Name:    "redis-addr",
				EnvVars: []string{"TUITER_REDIS_ADDR"},
				Usage:   "enables the stats cache, the shared lock and the cross-instance event relay",
			},
			&cli.StringFlag{
				Name:    "redis-password",
				EnvVars: []string{"TUITER_REDIS_PASSWORD"},
			},
			&cli.DurationFlag{
				Name:    "lock-ttl",
				EnvVars: []string{"TUITER_LOCK_TTL"},
				Value:   5 * time.Second,
			},
			&cli.DurationFlag{
				Name:    "cache-ttl",
				EnvVars: []string{"TUITER_CACHE_TTL"},
				Value:   time.Hour,
			},
			&cli.StringFlag{
				Name:    "jwt-secret",
				EnvVars: []string{"TUITER_JWT_SECRET"},
			},
			&cli.StringFlag{
				Name:    "log-level",
				EnvVars: []string{"TUITER_LOG_LEVEL"},
				Value:   "warn",
			},
		},
		Commands: []*cli.Command{
			{
				Name:   "serve",
				Usage:  "serve the HTTP API",
				Action: serve,
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:    "listen-addr",
						EnvVars: []string{"TUITER_LISTEN_ADDR"},
						Value:   ":3333",
					},
					&cli.DurationFlag{
						Name:    "audit-interval",
						EnvVars: []string{"TUITER_AUDIT_INTERVAL"},
						Value:   10 * time.Minute,
						Usage:   "0 disables the background stats audit",
					},
				},
			},
			{
				Name:   "token",
				Usage:  "issue an identity token for a user",
				Action: issueToken,
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:     "user",
						Required: true,
					},
					&cli.DurationFlag{
						Name:  "ttl",
						Value: 24 * time.Hour,
					},
				},
			},
			{
				Name:   "migrate",
				Usage:  "apply or revert postgres migrations",
				Action: migrate,
				Flags: []cli.Flag{
					&cli.IntFlag{
						Name:  "to",
						Value: -1,
						Usage: "number of migrations to keep applied, all by default",
					},
				},
			},
			{
				Name:   "audit",
				Usage:  "recount the likes and dislikes of every tuit once (set --redis-addr when servers are running)",
				Action: audit,
			},
		},
		ErrWriter: os.Stderr,
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

func configureLogging(cmd *cli.Context) error {
	level, err := log.ParseLevel(cmd.String("log-level"))
	if err != nil {
		return err
	}
	log.SetLevel(level)
	return nil
}

func openBackend(ctx context.Context, cmd *cli.Context) (storage.Backend, error) {
	switch cmd.String("storage") {
	case "mongo":
		manager, err := mongo.Connect(
			ctx,
			cmd.String("mongo-uri"),
			cmd.String("mongo-database"),
			cmd.Bool("mongo-transactions"),
		)
		if err != nil {
			return storage.Backend{}, err
		}
		if err := manager.EnsureIndexes(ctx); err != nil {
			return storage.Backend{}, err
		}
		return manager.Backend(), nil
	case "postgres":
		manager, err := postgres.Connect(ctx, cmd.String("postgres-dsn"))
		if err != nil {
			return storage.Backend{}, err
		}
		if err := manager.Migrate(ctx); err != nil {
			return storage.Backend{}, err
		}
		return manager.Backend(), nil
	case "memory":
		log.Warn("Using in-memory storage, nothing will be persisted")
		backend, _ := memory.NewBackend()
		return backend, nil
	}
	return storage.Backend{}, fmt.Errorf("unknown storage %q", cmd.String("storage"))
}

func openRedis(ctx context.Context, cmd *cli.Context) (*redis.Client, error) {
	if cmd.String("redis-addr") == "" {
		return nil, nil
	}
	redisClient := redis.NewClient(&redis.Options{
		Addr:     cmd.String("redis-addr"),
		Password: cmd.String("redis-password"),
		DB:       0,
	})
	if err := redisClient.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return redisClient, nil
}

// coordination is what every instance reconciling counters must share with
// the others: the per-tuit lock, the stats cache and the stats events.
type coordination struct {
	locker     lock.Locker
	broker     *events.Broker
	publisher  events.Publisher
	statsCache *cache.StatsCache
	relay      *events.RedisRelay
}

// coordinate falls back to process-local locking and events when redisClient
// is nil. With Redis it also puts the users cache in front of backend.Users.
func coordinate(backend *storage.Backend, redisClient *redis.Client, lockTTL, cacheTTL time.Duration) coordination {
	broker := events.NewBroker()
	shared := coordination{
		locker:    lock.NewLocal(),
		broker:    broker,
		publisher: broker,
	}
	if redisClient == nil {
		return shared
	}

	shared.locker = lock.NewRedis(redisClient, lockTTL)
	shared.statsCache = cache.NewStatsCache(redisClient, cacheTTL)
	shared.relay = events.NewRedisRelay(redisClient, broker)
	shared.publisher = shared.relay
	backend.Users = cache.NewUsersCache(redisClient, cacheTTL, backend.Users)
	return shared
}

func (c coordination) reconcilerOptions() []reactions.Option {
	options := []reactions.Option{
		reactions.WithLocker(c.locker),
		reactions.WithPublisher(c.publisher),
	}
	if c.statsCache != nil {
		options = append(options, reactions.WithStatsCache(c.statsCache))
	}
	return options
}

func serve(cmd *cli.Context) error {
	secret := cmd.String("jwt-secret")
	if secret == "" {
		return errors.New("--jwt-secret is required")
	}

	ctx, stop := signal.NotifyContext(cmd.Context, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	backend, err := openBackend(ctx, cmd)
	if err != nil {
		return err
	}
	defer backend.Close(context.Background())

	redisClient, err := openRedis(ctx, cmd)
	if err != nil {
		return err
	}

	if err := monitoring.Register(prometheus.DefaultRegisterer); err != nil {
		return err
	}

	shared := coordinate(&backend, redisClient, cmd.Duration("lock-ttl"), cmd.Duration("cache-ttl"))
	if redisClient != nil {
		defer redisClient.Close()
		go utils.Recoverer(math.MaxInt, "stats-relay", func() {
			if err := shared.relay.Run(ctx); err != nil {
				panic(err)
			}
		})
	}

	reconciler := reactions.NewReconciler(backend, shared.reconcilerOptions()...)
	config := server.Config{
		ListenAddr: cmd.String("listen-addr"),
		JWTSecret:  []byte(secret),
		Reconciler: reconciler,
		Archiver:   versions.NewArchiver(backend, shared.locker),
		Posts:      backend.Posts,
		Broker:     shared.broker,
	}
	if shared.statsCache != nil {
		config.StatsCache = shared.statsCache
	}

	if interval := cmd.Duration("audit-interval"); interval > 0 {
		auditor := tasks.NewStatsAuditor(backend.Posts, reconciler, interval)
		go utils.Recoverer(math.MaxInt, "stats-auditor", func() {
			auditor.Run(ctx)
		})
	}

	return server.NewServer(config).Run(ctx)
}

func issueToken(cmd *cli.Context) error {
	secret := cmd.String("jwt-secret")
	if secret == "" {
		return errors.New("--jwt-secret is required")
	}
	token, err := auth.IssueToken(cmd.String("user"), []byte(secret), cmd.Duration("ttl"))
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.App.Writer, token)
	return nil
}

func audit(cmd *cli.Context) error {
	ctx, stop := signal.NotifyContext(cmd.Context, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	backend, err := openBackend(ctx, cmd)
	if err != nil {
		return err
	}
	defer backend.Close(context.Background())

	redisClient, err := openRedis(ctx, cmd)
	if err != nil {
		return err
	}
	if redisClient == nil {
		log.Warn("Auditing without --redis-addr, toggles served by other instances are not excluded")
	} else {
		defer redisClient.Close()
	}

	shared := coordinate(&backend, redisClient, cmd.Duration("lock-ttl"), cmd.Duration("cache-ttl"))
	reconciler := reactions.NewReconciler(backend, shared.reconcilerOptions()...)
	report, err := tasks.NewStatsAuditor(backend.Posts, reconciler, 0).RunOnce(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.App.Writer, "checked %d tuits, repaired %d, failed %d\n", report.Checked, report.Repaired, report.Failed)
	return nil
}

func migrate(cmd *cli.Context) error {
	manager, err := postgres.Connect(cmd.Context, cmd.String("postgres-dsn"))
	if err != nil {
		return err
	}
	defer manager.Backend().Close(context.Background())

	if to := cmd.Int("to"); to >= 0 {
		return manager.MigrateTo(cmd.Context, to)
	}
	return manager.Migrate(cmd.Context)
}

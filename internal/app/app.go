// Package app assembles the engine and its backends from configuration.
// Both the server and the admin CLI start from here.
package app

import (
	"context"
	"errors"
	"fmt"

	"moodpair/backend/internal/chathub"
	"moodpair/backend/internal/clock"
	"moodpair/backend/internal/config"
	"moodpair/backend/internal/filter"
	"moodpair/backend/internal/localization"
	"moodpair/backend/internal/storage"
	"moodpair/backend/internal/storage/memory"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// App holds the wired engine and everything that has to be closed with it.
type App struct {
	Config *config.Config
	Engine *chathub.Engine
	Hub    *chathub.Hub
	Texts  *localization.Localizer

	DB    *gorm.DB
	Redis *redis.Client

	bus     *storage.RedisBroadcaster
	log     logrus.FieldLogger
	closers []func() error
}

// New connects the configured backends and builds the engine.
func New(ctx context.Context, cfg *config.Config, log logrus.FieldLogger) (*App, error) {
	a := &App{Config: cfg, log: log, Hub: chathub.NewHub(log)}
	if err := a.setupDependencies(ctx); err != nil {
		a.Close()
		return nil, err
	}

	deps, err := a.deps()
	if err != nil {
		a.Close()
		return nil, err
	}

	opts := chathub.Options{
		QueueTTL:         cfg.QueueTTL,
		SessionTTL:       cfg.SessionTTL,
		MessageRetention: cfg.MessageRetention,
		OpTimeout:        cfg.OpTimeout,
		HistoryLimit:     cfg.HistoryLimit,
		MatchPolicy:      cfg.MatchPolicy,
		Emotions:         cfg.Emotions,
		Language:         cfg.Language,
	}
	a.Engine, err = chathub.NewEngine(deps, opts)
	if err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

// setupDependencies opens PostgreSQL and Redis when the configuration asks for them.
func (a *App) setupDependencies(ctx context.Context) error {
	cfg := a.Config

	if cfg.StoreBackend == config.BackendPostgres || cfg.QueueBackend == config.BackendPostgres {
		db, err := gorm.Open(postgres.Open(cfg.DatabaseDSN), &gorm.Config{
			Logger: gormlogger.Default.LogMode(gormlogger.Warn),
		})
		if err != nil {
			return fmt.Errorf("connect postgres: %w", err)
		}
		a.DB = db
		a.closers = append(a.closers, func() error {
			sqlDB, err := db.DB()
			if err != nil {
				return err
			}
			return sqlDB.Close()
		})

		if err := storage.NewStorageService(db, nil).Migrate(); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
		a.log.Info("PostgreSQL connected, migrations complete")
	}

	if cfg.UsesRedis() {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		a.Redis = rdb
		a.closers = append(a.closers, rdb.Close)

		if err := rdb.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("connect redis: %w", err)
		}
		a.log.WithField("addr", cfg.RedisAddr).Info("Redis connected")
	}
	return nil
}

func (a *App) deps() (chathub.Deps, error) {
	cfg := a.Config

	texts, err := localization.Default()
	if err != nil {
		return chathub.Deps{}, err
	}
	a.Texts = texts

	policy := filter.Policy(cfg.FilterPolicy)
	var flt *filter.Filter
	if cfg.BannedTermsFile != "" {
		flt, err = filter.FromFile(cfg.BannedTermsFile, policy, cfg.MaxMessageLength)
	} else {
		flt, err = filter.Default(policy, cfg.MaxMessageLength)
	}
	if err != nil {
		return chathub.Deps{}, err
	}

	deps := chathub.Deps{
		Filter:  flt,
		Clock:   clock.Real{},
		Texts:   texts,
		Logger:  a.log,
		Pingers: make(map[string]storage.Pinger),
	}

	switch cfg.StoreBackend {
	case config.BackendPostgres:
		svc := storage.NewStorageService(a.DB, nil)
		deps.Sessions, deps.Messages, deps.Feedback = svc, svc, svc
		deps.Pingers["postgres"] = svc
	default:
		deps.Sessions = memory.NewSessionStore()
		deps.Messages = memory.NewMessageLog()
		deps.Feedback = memory.NewFeedbackStore()
	}

	switch cfg.QueueBackend {
	case config.BackendRedis:
		q := storage.NewRedisQueue(a.Redis, storage.DefaultRedisPrefix)
		deps.Queue = q
		deps.Pingers["redis"] = q
	case config.BackendPostgres:
		deps.Queue = storage.NewPostgresQueue(a.DB)
	default:
		deps.Queue = memory.NewQueue()
	}

	if a.Redis != nil {
		a.bus = storage.NewRedisBroadcaster(a.Redis, a.log)
		deps.Broadcaster = a.bus
	} else {
		deps.Broadcaster = chathub.NewLocalBroadcaster(a.Hub)
	}
	return deps, nil
}

// StartFanout feeds the hub from Redis Pub/Sub so that events published by
// any instance reach the clients held here. Without Redis the hub is fed
// directly and StartFanout does nothing.
func (a *App) StartFanout(ctx context.Context) error {
	if a.bus == nil {
		return nil
	}
	events, err := a.bus.Subscribe(ctx)
	if err != nil {
		return fmt.Errorf("subscribe: %w", err)
	}
	go a.Hub.Run(ctx, events)
	a.log.Info("Listening for session events on Redis")
	return nil
}

// Close disconnects every client and backend.
func (a *App) Close() error {
	a.Hub.Shutdown()

	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}

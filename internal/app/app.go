// Package app assembles the sync engine components from configuration.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/OGUN01/fitai-sub001/internal/api"
	"github.com/OGUN01/fitai-sub001/internal/backup"
	"github.com/OGUN01/fitai-sub001/internal/config"
	"github.com/OGUN01/fitai-sub001/internal/domain"
	"github.com/OGUN01/fitai-sub001/internal/events"
	"github.com/OGUN01/fitai-sub001/internal/identity"
	"github.com/OGUN01/fitai-sub001/internal/localstore"
	"github.com/OGUN01/fitai-sub001/internal/queue"
	"github.com/OGUN01/fitai-sub001/internal/remotestore"
	"github.com/OGUN01/fitai-sub001/internal/streak"
	"github.com/OGUN01/fitai-sub001/internal/syncer"
	httptransport "github.com/OGUN01/fitai-sub001/internal/transport/http"
	"github.com/OGUN01/fitai-sub001/internal/validate"
)

// App holds the wired components and the resources they own.
type App struct {
	Config    config.Config
	Logger    *zap.Logger
	Local     localstore.Store
	Lock      *localstore.Lock
	Remote    remotestore.Store
	Publisher events.Publisher
	Identity  identity.Provider
	Tokens    *identity.TokenProvider
	Queue     *queue.Queue
	Backups   *backup.Manager
	Validator *validate.Validator
	Streak    *streak.Engine
	Sync      *syncer.Orchestrator

	closers []func() error
}

// Build opens the configured stores and wires every component. Close
// releases what Build opened.
func Build(ctx context.Context, cfg config.Config, logger *zap.Logger) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	loc, err := cfg.Location()
	if err != nil {
		return nil, err
	}
	a := &App{Config: cfg, Logger: logger}

	if err := a.openLocal(cfg.LocalStore); err != nil {
		return nil, errors.Join(err, a.Close())
	}
	if err := a.openRemote(ctx, cfg.RemoteStore); err != nil {
		return nil, errors.Join(err, a.Close())
	}
	a.openPublisher(cfg)

	tokenCfg := identity.Config{Secret: cfg.JWTSecret, Issuer: cfg.JWTIssuer}
	a.Tokens = identity.NewTokenProvider(a.Local, tokenCfg)
	a.Identity = a.Tokens
	if cfg.OwnerID != "" {
		if !domain.IsCanonicalOwnerID(cfg.OwnerID) {
			return nil, errors.Join(fmt.Errorf("owner_id %q is not an account id", cfg.OwnerID), a.Close())
		}
		a.Identity = identity.Static{Owner: domain.Bound(cfg.OwnerID)}
	}

	clock := domain.SystemClock
	a.Lock = localstore.NewLock()
	a.Queue = queue.New(a.Local,
		queue.WithLogger(logger.Named("queue")),
		queue.WithRetry(cfg.QueueMaxRetries, cfg.QueueBaseDelay),
	)
	a.Backups = backup.NewManager(a.Local,
		backup.WithLogger(logger.Named("backup")),
		backup.WithRetention(cfg.BackupMaxSnapshots, cfg.BackupMaxAge),
	)
	a.Validator = validate.New(validate.WithClock(clock), validate.WithLocation(loc))
	a.Streak = streak.New(a.Local,
		streak.WithLogger(logger.Named("streak")),
		streak.WithLocation(loc),
		streak.WithRemote(a.Remote),
		streak.WithQueue(a.Queue),
		streak.WithPublisher(a.Publisher),
		streak.WithRetentionDays(cfg.StreakRetentionDays),
		streak.WithLock(a.Lock),
	)
	a.Sync = syncer.New(a.Local, a.Remote,
		syncer.WithLogger(logger.Named("sync")),
		syncer.WithBackup(a.Backups),
		syncer.WithValidator(a.Validator),
		syncer.WithQueue(a.Queue),
		syncer.WithPublisher(a.Publisher),
		syncer.WithBatchSize(cfg.SyncBatchSize),
		syncer.WithGuardTTL(cfg.SyncGuardTTL),
		syncer.WithLock(a.Lock),
	)
	return a, nil
}

func (a *App) openLocal(cfg config.LocalStoreConfig) error {
	switch cfg.Driver {
	case "memory":
		a.Local = localstore.NewMemoryStore()
	case "sqlite":
		store, err := localstore.OpenSQLite(cfg.SQLitePath)
		if err != nil {
			return err
		}
		a.Local = store
		a.closers = append(a.closers, store.Close)
	case "redis":
		store := localstore.NewRedisStore(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB, cfg.RedisPrefix)
		a.Local = store
		a.closers = append(a.closers, store.Close)
	default:
		return fmt.Errorf("unknown local store driver %q", cfg.Driver)
	}
	a.Logger.Info("local store ready", zap.String("driver", cfg.Driver))
	return nil
}

func (a *App) openRemote(ctx context.Context, cfg config.RemoteStoreConfig) error {
	switch cfg.Driver {
	case "memory":
		a.Remote = remotestore.NewMemoryStore()
	case "postgres":
		pool, err := remotestore.Connect(ctx, cfg.PostgresURL)
		if err != nil {
			return err
		}
		a.Remote = remotestore.NewPostgresStore(pool)
		a.closers = append(a.closers, func() error {
			pool.Close()
			return nil
		})
	default:
		return fmt.Errorf("unknown remote store driver %q", cfg.Driver)
	}
	a.Logger.Info("remote store ready", zap.String("driver", cfg.Driver))
	return nil
}

func (a *App) openPublisher(cfg config.Config) {
	if len(cfg.KafkaBrokers) == 0 {
		a.Publisher = events.Noop{}
		return
	}
	publisher := events.NewKafkaPublisher(cfg.KafkaBrokers, map[string]string{
		events.TypeSyncCompleted: cfg.SyncCompletedTopic,
		events.TypeStreakUpdated: cfg.StreakUpdatedTopic,
	})
	a.Publisher = publisher
	a.closers = append(a.closers, publisher.Close)
	a.Logger.Info("event publishing enabled", zap.Strings("brokers", cfg.KafkaBrokers))
}

// Handler returns the device API with metrics, bearer token binding, request
// logging and CORS applied.
func (a *App) Handler() http.Handler {
	handler := api.NewHandler(api.Dependencies{
		Sync:      a.Sync,
		Streak:    a.Streak,
		Validator: a.Validator,
		Local:     a.Local,
		Lock:      a.Lock,
		Backups:   a.Backups,
		Queue:     a.Queue,
		Identity:  a.Identity,
		Logger:    a.Logger.Named("api"),
	})
	mux := http.NewServeMux()
	handler.RegisterRoutes(mux)
	mux.Handle("/metrics", promhttp.Handler())

	authMiddleware := identity.NewMiddleware(identity.Config{Secret: a.Config.JWTSecret, Issuer: a.Config.JWTIssuer})
	logged := httptransport.RequestLogger(a.Logger.Named("http"))
	cors := httptransport.CORS(a.Config.CORSOrigin)
	return authMiddleware.Wrap(logged(cors(mux)))
}

// Serve runs the device API until ctx is cancelled, then shuts the server
// down gracefully.
func (a *App) Serve(ctx context.Context) error {
	server := httptransport.NewServer(httptransport.ServerConfig{
		Address:      a.Config.HTTPAddress,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 5 * time.Minute,
		IdleTimeout:  60 * time.Second,
	}, a.Handler(), a.Logger)

	errCh := make(chan error, 1)
	go func() {
		a.Logger.Info("fitsync device api listening", zap.String("address", a.Config.HTTPAddress))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("serve: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("graceful shutdown: %w", err)
	}
	return nil
}

// Close releases resources in reverse order of acquisition.
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}

// Package app assembles the face relay service from configuration.
// It only wires dependencies; behaviour lives in the packages it connects.
package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/MRamiBalles/stface-relay/internal/events"
	"github.com/MRamiBalles/stface-relay/internal/infra/cache"
	"github.com/MRamiBalles/stface-relay/internal/infra/storage"
	"github.com/MRamiBalles/stface-relay/internal/network"
	"github.com/MRamiBalles/stface-relay/internal/platform/config"
	"github.com/MRamiBalles/stface-relay/internal/platform/logger"
	"github.com/MRamiBalles/stface-relay/internal/platform/metrics"
	"github.com/MRamiBalles/stface-relay/internal/relay"
	"github.com/MRamiBalles/stface-relay/internal/scheduler"
)

// tickPollInterval paces TICK_EVENT pushes to WebSocket clients.
const tickPollInterval = 200 * time.Millisecond

// App is a fully wired relay service.
type App struct {
	cfg    *config.Config
	logger *logger.Logger

	Metrics   *metrics.Collector
	Relay     *relay.Relay
	TickLog   *events.TickLog
	Hub       *network.Hub
	Server    *network.Server
	Scheduler *scheduler.Scheduler

	db        *sql.DB
	ticks     *storage.SQLiteTickRepository
	redis     *cache.GoRedisClient
	publisher *cache.Publisher
}

// New builds the service. Storage is required when storage.path is set;
// Redis is optional and skipped with a warning when unreachable.
func New(ctx context.Context, cfg *config.Config, log *logger.Logger) (*App, error) {
	tuning := cfg.TuningPreset()
	a := &App{
		cfg:       cfg,
		logger:    log,
		Metrics:   metrics.New(),
		Scheduler: scheduler.New(log.With("scheduler")),
	}

	var (
		persister events.Persister
		sessions  storage.SessionRepository
	)
	if cfg.Storage.Path != "" {
		log.Info("Initializing SQLite database " + cfg.Storage.Path)
		db, err := storage.InitSQLite(cfg.Storage.Path)
		if err != nil {
			return nil, err
		}
		db.SetMaxOpenConns(tuning.DBMaxOpenConns)
		db.SetMaxIdleConns(tuning.DBMaxIdleConns)
		a.db = db
		a.ticks = storage.NewSQLiteTickRepository(db)
		sessions = storage.NewSQLiteSessionRepository(db)
		persister = storage.NewTickPersister(a.ticks, a.Metrics.RecordTickWrite)
	}

	a.TickLog = events.NewTickLog(persister, tuning.TickLogCapacity)
	a.TickLog.OnPersistError(func(err error) {
		log.Warn("Tick write failed: " + err.Error())
	})

	if cfg.Redis.Addr != "" {
		client, err := cache.NewGoRedisClient(cache.RedisConfig{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			PoolSize: tuning.RedisPoolSize,
		})
		if err != nil {
			log.Warn("Redis unavailable, state cache disabled: " + err.Error())
		} else {
			a.redis = client
			stateCache := cache.NewStateCache(client, cfg.Cache.Expiration)
			a.publisher = cache.NewPublisher(stateCache, log.With("cache"), func(error) {
				a.Metrics.RecordCacheError()
			})
		}
	}

	a.Relay = relay.New(cfg.Relay.GameID,
		relay.WithConfidenceThreshold(cfg.Relay.ConfidenceThreshold),
		relay.WithLogger(log.With("relay")),
	)
	a.Hub = network.NewHub(log.With("hub"), a.Metrics, tuning.BroadcastChannelBuffer, tuning.ClientSendBuffer, tuning.MaxClients)

	var publisher SnapshotPublisher
	if a.publisher != nil {
		publisher = a.publisher
	}
	NewRecorder(a.TickLog, a.Metrics, sessions, a.Hub, publisher, cfg.Relay.ConfidenceThreshold, log.With("recorder")).
		Attach(ctx, a.Relay)

	var history *network.HistoryHandler
	if a.ticks != nil {
		history = network.NewHistoryHandler(a.TickLog, a.ticks, sessions, log.With("history"))
	} else {
		history = network.NewHistoryHandler(a.TickLog, nil, nil, log.With("history"))
	}

	a.Server = network.NewServer(a.Relay, a.Hub, history, a.Metrics, log.With("http"), network.ServerOptions{
		AssetsDir:           cfg.Server.AssetsDir,
		PollInterval:        cfg.Server.PollInterval,
		AllowedOrigins:      cfg.Server.AllowedOrigins,
		MaxSamplesPerSecond: tuning.MaxSamplesPerSecond,
	})

	if err := a.scheduleMaintenance(); err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

func (a *App) scheduleMaintenance() error {
	if a.ticks != nil && a.cfg.History.Retention > 0 {
		if err := a.Scheduler.SchedulePrune(a.cfg.History.PruneInterval, a.cfg.History.Retention, a.ticks); err != nil {
			return err
		}
	}
	if a.publisher != nil {
		if err := a.Scheduler.ScheduleCacheRefresh(a.cfg.Cache.RefreshInterval, a.publisher); err != nil {
			return err
		}
	}
	return nil
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (a *App) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", a.cfg.Server.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", a.cfg.Server.Addr, err)
	}
	return a.Serve(ctx, ln)
}

// Serve is Run on an existing listener.
func (a *App) Serve(ctx context.Context, ln net.Listener) error {
	go a.Hub.Run(ctx)
	a.Hub.StartTickPoller(ctx, a.TickLog, tickPollInterval)
	if a.publisher != nil {
		go a.publisher.Run(ctx)
	}
	a.Scheduler.Start()
	defer a.Scheduler.Stop()

	srv := &http.Server{
		Handler:           a.Server.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		a.logger.Info("Face relay listening on " + ln.Addr().String())
		errCh <- srv.Serve(ln)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	a.logger.Info("Shutting down face relay...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("failed to shut down http server: %w", err)
	}
	return nil
}

// Close flushes pending tick writes and releases storage and cache.
func (a *App) Close() error {
	a.TickLog.Flush()

	sessionID, _ := a.Relay.Session()
	if a.db != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := storage.NewSQLiteSessionRepository(a.db).End(ctx, sessionID, time.Now()); err != nil {
			a.logger.Warn("Failed to close session " + sessionID + ": " + err.Error())
		}
	}

	var errs []error
	if a.redis != nil {
		errs = append(errs, a.redis.Close())
	}
	if a.db != nil {
		errs = append(errs, a.db.Close())
	}
	return errors.Join(errs...)
}

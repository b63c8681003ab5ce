// Package app composes the daemon from its parts and manages their
// lifecycle.
package app

import (
	"context"

	"go.uber.org/fx"
	"go.uber.org/zap"

	"wabridge/internal/bus"
	"wabridge/internal/config"
	"wabridge/internal/dispatch"
	"wabridge/internal/httpapi"
	"wabridge/internal/ingest"
	"wabridge/internal/lock"
	"wabridge/internal/logging"
	"wabridge/internal/media"
	"wabridge/internal/status"
	"wabridge/internal/store"
	"wabridge/internal/wa"
	"wabridge/internal/ws"
)

// Params carries the command-line inputs into the fx module.
type Params struct {
	ConfigPath string
}

// Module composes all providers and lifecycle hooks of the daemon.
func Module(p Params) fx.Option {
	return fx.Module("wabridge",
		fx.Supply(p),
		fx.Provide(
			provideConfig,
			provideLogger,
			provideBus,
			provideStateMachine,
			provideLock,
			provideStore,
			provideMediaStore,
			provideAdapter,
			provideIngestEngine,
			provideSender,
			provideHub,
			provideHTTPServer,
		),
		fx.Invoke(registerLifecycle),
	)
}

func provideConfig(p Params) (*config.Config, error) {
	cfg, err := config.Load(p.ConfigPath)
	if err != nil {
		return nil, err
	}
	if err := cfg.EnsureDirs(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func provideLogger(cfg *config.Config) (*zap.Logger, error) {
	return logging.New(cfg.LogPath(), cfg.SessionName)
}

func provideBus() *bus.Bus {
	return bus.New()
}

func provideStateMachine(b *bus.Bus) *status.Machine {
	return status.NewMachine(b)
}

func provideLock(cfg *config.Config, logger *zap.Logger) (*lock.Guard, error) {
	logger.Info("acquiring session lock", zap.String("session", cfg.SessionName))
	g, err := lock.Acquire(cfg.SessionDir())
	if err != nil {
		return nil, err
	}
	logger.Info("session lock acquired")
	return g, nil
}

func provideStore(lc fx.Lifecycle, cfg *config.Config, logger *zap.Logger) (*store.Store, error) {
	var backend store.Backend
	switch cfg.StoreBackend {
	case config.BackendPostgres:
		pg, err := store.NewPostgresBackend(context.Background(), cfg.DatabaseURL)
		if err != nil {
			return nil, err
		}
		backend = pg
		logger.Info("store backend ready", zap.String("backend", "postgres"))
	case config.BackendRedis:
		rd, err := store.NewRedisBackend(context.Background(), cfg.RedisAddr, cfg.RedisPassword)
		if err != nil {
			return nil, err
		}
		backend = rd
		logger.Info("store backend ready", zap.String("backend", "redis"))
	default:
		logger.Info("store backend ready", zap.String("backend", "memory"))
	}

	if backend != nil {
		lc.Append(fx.Hook{
			OnStop: func(context.Context) error { return backend.Close() },
		})
	}
	return store.New(backend, logger), nil
}

func provideMediaStore(cfg *config.Config, logger *zap.Logger) (*media.Store, error) {
	return media.New(cfg.MediaDir(), cfg.PublicURL, logger)
}

func provideAdapter(cfg *config.Config, logger *zap.Logger) (*wa.Adapter, error) {
	return wa.NewAdapter(context.Background(), cfg.SessionDBPath(), logger)
}

func provideIngestEngine(b *bus.Bus, st *store.Store, ms *media.Store, logger *zap.Logger) *ingest.Engine {
	return ingest.New(b, st, ms, logger)
}

func provideSender(adapter *wa.Adapter, st *store.Store, b *bus.Bus, logger *zap.Logger) *dispatch.Sender {
	return dispatch.New(adapter, st, b, media.Fetch, logger)
}

func provideHub(cfg *config.Config, b *bus.Bus, st *store.Store, sender *dispatch.Sender, logger *zap.Logger) *ws.Hub {
	return ws.NewHub(b, st, sender, cfg.AllowedOrigins, logger)
}

func provideHTTPServer(cfg *config.Config, st *store.Store, sender *dispatch.Sender, ms *media.Store, hub *ws.Hub, logger *zap.Logger) *httpapi.Server {
	return httpapi.New(httpapi.Options{
		Addr:           cfg.Addr,
		AllowedOrigins: cfg.AllowedOrigins,
		MediaDir:       ms.Dir(),
	}, st, sender, ms, hub, logger)
}

func registerLifecycle(
	lc fx.Lifecycle,
	cfg *config.Config,
	srv *httpapi.Server,
	g *lock.Guard,
	adapter *wa.Adapter,
	engine *ingest.Engine,
	hub *ws.Hub,
	st *store.Store,
	b *bus.Bus,
	machine *status.Machine,
	logger *zap.Logger,
) {
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			engine.Start()
			hub.Run()

			handler := wa.NewEventHandler(adapter, b, machine, logger)
			adapter.RegisterEventHandler(handler.Handle)

			// Warm the cache so the first /chats hit is served from memory.
			_ = st.Load(ctx)

			go func() {
				if err := srv.Start(); err != nil {
					logger.Error("HTTP server error", zap.Error(err))
				}
			}()

			auth := wa.NewAuthenticator(adapter, b, machine, logger)
			go func() {
				if err := auth.Start(context.Background()); err != nil {
					logger.Error("connection failed", zap.Error(err))
				}
			}()

			logger.Info("daemon started",
				zap.String("addr", cfg.Addr),
				zap.String("backend", cfg.StoreBackend))
			return nil
		},
		OnStop: func(ctx context.Context) error {
			adapter.Disconnect()
			if err := srv.Shutdown(ctx); err != nil {
				logger.Warn("HTTP shutdown error", zap.Error(err))
			}
			hub.Stop()
			engine.Stop()
			if err := g.Release(); err != nil {
				logger.Warn("error releasing lock", zap.Error(err))
			}
			logger.Info("daemon stopped")
			return nil
		},
	})
}

package daemon

import (
	"context"
	"os"

	"github.com/matheus3301/smsd/internal/address"
	"github.com/matheus3301/smsd/internal/bus"
	"github.com/matheus3301/smsd/internal/config"
	"github.com/matheus3301/smsd/internal/dedup"
	"github.com/matheus3301/smsd/internal/index"
	"github.com/matheus3301/smsd/internal/lock"
	"github.com/matheus3301/smsd/internal/logging"
	"github.com/matheus3301/smsd/internal/outbox"
	"github.com/matheus3301/smsd/internal/pipeline"
	"github.com/matheus3301/smsd/internal/profile"
	"github.com/matheus3301/smsd/internal/store"
	"github.com/matheus3301/smsd/internal/transport"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Params holds the resolved profile configuration passed to the fx module.
type Params struct {
	ProfileName string
	SocketPath  string // optional override for testing; empty = use default
}

// Module returns the fx module for the daemon, composing all providers and lifecycle hooks.
func Module(p Params) fx.Option {
	return fx.Module("daemon",
		fx.Supply(p),
		fx.Provide(
			provideLogger,
			provideConfig,
			provideBus,
			provideLock,
			provideStore,
			provideIndex,
			provideResolver,
			provideGuard,
			provideEngine,
			provideGateway,
			provideSender,
		),
		fx.Invoke(registerLifecycle),
	)
}

func provideLogger(p Params) (*zap.Logger, error) {
	return logging.New(profile.LogPath(p.ProfileName), p.ProfileName)
}

func provideConfig(logger *zap.Logger) *config.Config {
	cfg, err := config.Load(profile.ConfigPath())
	if err != nil {
		if !os.IsNotExist(err) {
			logger.Warn("config load failed, using defaults", zap.Error(err))
		}
		return config.Default()
	}
	return cfg
}

func provideBus() *bus.Bus {
	return bus.New()
}

func provideLock(p Params, logger *zap.Logger) (*lock.Lock, error) {
	if err := profile.EnsureDir(p.ProfileName); err != nil {
		return nil, err
	}
	logger.Info("acquiring profile lock", zap.String("profile", p.ProfileName))
	l, err := lock.Acquire(profile.Dir(p.ProfileName))
	if err != nil {
		return nil, err
	}
	logger.Info("profile lock acquired")
	return l, nil
}

func provideStore(p Params, logger *zap.Logger) (*store.DB, error) {
	dbPath := profile.DBPath(p.ProfileName)
	db, err := store.Open(dbPath)
	if err != nil {
		return nil, err
	}
	result, err := db.Migrate()
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	if result.Changed {
		logger.Info("migrations applied", zap.Uint("version", result.Version))
	} else {
		logger.Info("migrations up to date", zap.Uint("version", result.Version))
	}
	logger.Info("store initialized", zap.String("path", dbPath))
	return db, nil
}

func provideIndex() *index.Index {
	return index.New(nil)
}

func provideResolver(db *store.DB, logger *zap.Logger) *address.Resolver {
	return address.NewResolver(db, logger)
}

func provideGuard(db *store.DB, cfg *config.Config) *dedup.Guard {
	return dedup.NewGuard(db, cfg.DedupWindow(), cfg.Ingest.DedupScanLimit)
}

func provideEngine(db *store.DB, b *bus.Bus, r *address.Resolver, g *dedup.Guard, idx *index.Index, cfg *config.Config, logger *zap.Logger) *pipeline.Engine {
	return pipeline.NewEngine(db, b, r, g, idx, cfg, logger)
}

func provideGateway(p Params, b *bus.Bus, logger *zap.Logger) (*transport.Gateway, error) {
	socketPath := p.SocketPath
	if socketPath == "" {
		socketPath = profile.SocketPath(p.ProfileName)
	}
	return transport.NewGateway(socketPath, transport.NewHandler(b, logger), logger)
}

func provideSender(db *store.DB, gw *transport.Gateway, b *bus.Bus, idx *index.Index, cfg *config.Config, logger *zap.Logger) *outbox.Sender {
	return outbox.NewSender(db, gw, b, idx, cfg, logger)
}

func registerLifecycle(lc fx.Lifecycle, lk *lock.Lock, gw *transport.Gateway, engine *pipeline.Engine, sender *outbox.Sender, logger *zap.Logger) {
	lc.Append(fx.Hook{
		OnStart: func(_ context.Context) error {
			// Engine subscribes to transport.* bus events.
			engine.Start(context.Background())

			if err := engine.RebuildIndex(); err != nil {
				return err
			}

			// Accept radio connections in background.
			go func() {
				if err := gw.Start(); err != nil {
					logger.Error("radio gateway error", zap.Error(err))
				}
			}()

			sender.Start(context.Background())
			return nil
		},
		OnStop: func(_ context.Context) error {
			sender.Stop()
			engine.Stop()
			gw.Stop()
			if err := lk.Release(); err != nil {
				logger.Warn("error releasing lock", zap.Error(err))
			}
			logger.Info("daemon stopped")
			return nil
		},
	})
}

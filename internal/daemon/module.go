package daemon

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/matheus3301/chatsync/internal/api"
	"github.com/matheus3301/chatsync/internal/auth"
	"github.com/matheus3301/chatsync/internal/bus"
	"github.com/matheus3301/chatsync/internal/config"
	"github.com/matheus3301/chatsync/internal/lock"
	"github.com/matheus3301/chatsync/internal/logging"
	"github.com/matheus3301/chatsync/internal/metrics"
	"github.com/matheus3301/chatsync/internal/outbox"
	"github.com/matheus3301/chatsync/internal/session"
	"github.com/matheus3301/chatsync/internal/status"
	"github.com/matheus3301/chatsync/internal/store"
	intsync "github.com/matheus3301/chatsync/internal/sync"
	"github.com/matheus3301/chatsync/internal/transport"
)

// Params holds the resolved session configuration passed to the fx module.
type Params struct {
	SessionName string
	Dir         string         // optional session directory override; empty = ~/.chatsync/sessions/<name>
	SocketPath  string         // optional override for testing; empty = use default
	Config      *config.Config // optional; nil = load ~/.chatsync/config.toml
	Logger      *zap.Logger    // optional; nil = log to the session log file
}

func (p Params) layout() session.Layout {
	if p.Dir != "" {
		return session.Layout{Dir: p.Dir}
	}
	return session.For(p.SessionName)
}

func (p Params) socketPath() string {
	if p.SocketPath != "" {
		return p.SocketPath
	}
	return p.layout().Socket()
}

// Module returns the fx module for the daemon, composing all providers and lifecycle hooks.
func Module(p Params) fx.Option {
	return fx.Module("daemon",
		fx.Supply(p),
		fx.Provide(
			provideConfig,
			provideLogger,
			provideBus,
			provideStateMachine,
			provideRegistry,
			provideMetrics,
			provideLock,
			provideStore,
			provideKV,
			provideSession,
			provideQueue,
			provideConnector,
			provideEngine,
			provideService,
			NewServer,
			NewMetricsServer,
		),
		fx.Invoke(registerLifecycle),
	)
}

func provideConfig(p Params) (*config.Config, error) {
	if p.Config != nil {
		return p.Config, nil
	}
	return config.LoadOrDefault(session.ConfigPath())
}

func provideLogger(p Params, cfg *config.Config) (*zap.Logger, error) {
	if p.Logger != nil {
		return p.Logger.With(zap.String("session", p.SessionName)), nil
	}
	return logging.New(p.layout().Log(), p.SessionName, cfg.Log.Level)
}

func provideBus(m *metrics.Metrics) *bus.Bus {
	b := bus.New()
	b.OnDrop(m.BusDropped)
	return b
}

func provideStateMachine(b *bus.Bus) *status.Machine {
	return status.NewMachine(b)
}

func provideRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg
}

func provideMetrics(reg *prometheus.Registry) *metrics.Metrics {
	return metrics.New(reg)
}

func provideLock(p Params, logger *zap.Logger) (*lock.Lock, error) {
	l := p.layout()
	if err := l.Ensure(); err != nil {
		return nil, err
	}
	logger.Info("acquiring session lock", zap.String("session", p.SessionName))
	lk, err := lock.Acquire(l.Lock())
	if err != nil {
		return nil, err
	}
	logger.Info("session lock acquired")
	return lk, nil
}

// provideStore depends on the lock so the database is never opened by a
// second daemon.
func provideStore(p Params, _ *lock.Lock, logger *zap.Logger) (*store.DB, error) {
	dbPath := p.layout().DB()
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

func provideKV(db *store.DB, logger *zap.Logger, m *metrics.Metrics) *store.KV {
	return store.NewKV(db, logger, m)
}

func provideSession(cfg *config.Config, kv *store.KV, b *bus.Bus, logger *zap.Logger) *auth.Session {
	return auth.NewSession(kv, auth.NewHTTPRefresher(cfg.Server.RefreshURL), b, logger)
}

func provideQueue(m *metrics.Metrics) *outbox.Queue {
	return outbox.NewQueue(m)
}

func provideConnector(cfg *config.Config, sess *auth.Session, q *outbox.Queue, machine *status.Machine, b *bus.Bus, logger *zap.Logger, m *metrics.Metrics) *transport.Connector {
	tc := transport.Config{
		URL:          cfg.Server.SocketURL,
		BaseDelay:    cfg.Reconnect.BaseDelay(),
		MaxDelay:     cfg.Reconnect.MaxDelay(),
		MaxAttempts:  cfg.Reconnect.MaxAttempts,
		PingInterval: cfg.Reconnect.PingInterval(),
	}
	return transport.New(tc, sess, q, machine, b, logger.Named("transport"), m)
}

func provideEngine(cfg *config.Config, kv *store.KV, conn *transport.Connector, sess *auth.Session, b *bus.Bus, logger *zap.Logger, m *metrics.Metrics) (*intsync.Engine, error) {
	return intsync.NewEngine(kv, conn, sess, b, logger.Named("sync"), m, intsync.Options{
		ProcessedIDs: cfg.Sync.ProcessedIDsCapacity,
	})
}

func provideService(p Params, engine *intsync.Engine, conn *transport.Connector, sess *auth.Session, q *outbox.Queue, b *bus.Bus, logger *zap.Logger) *api.Service {
	return api.NewService(p.SessionName, engine, conn, sess, q, b, logger.Named("api"))
}

func registerLifecycle(lc fx.Lifecycle, srv *Server, ms *MetricsServer, lk *lock.Lock, db *store.DB, sess *auth.Session, conn *transport.Connector, engine *intsync.Engine, logger *zap.Logger) {
	lc.Append(fx.Hook{
		OnStart: func(_ context.Context) error {
			// The mirror must be hydrated before the first frame arrives.
			engine.Hydrate()
			conn.SetHandler(engine.HandleFrame)
			engine.Start(context.Background())

			go func() {
				if err := srv.Start(); err != nil {
					logger.Error("gRPC server error", zap.Error(err))
				}
			}()
			ms.Start()

			if sess.LoggedIn() {
				go conn.Connect(context.Background())
			} else {
				logger.Info("no credentials found, waiting for sign-in")
			}
			return nil
		},
		OnStop: func(ctx context.Context) error {
			conn.Close()
			engine.Stop()
			srv.Stop(ctx)
			ms.Stop(ctx)
			if err := db.Close(); err != nil {
				logger.Warn("error closing store", zap.Error(err))
			}
			if err := lk.Release(); err != nil {
				logger.Warn("error releasing lock", zap.Error(err))
			}
			logger.Info("daemon stopped")
			_ = logger.Sync()
			return nil
		},
	})
}

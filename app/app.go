// Package app 按配置装配号码池、事件分发器及其基础设施
package app

import (
	"context"
	stdErrors "errors"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"

	// database/sql 驱动：sqlite 与 pgx
	_ "github.com/jackc/pgx/v5/stdlib"
	_ "modernc.org/sqlite"

	"policykit/cache"
	"policykit/config"
	core "policykit/data/db"
	"policykit/data/db/basic"
	"policykit/eventing/dispatch"
	"policykit/eventing/dispatch/natsrelay"
	"policykit/logging"
	"policykit/numbering"
	"policykit/numbering/redisstore"
	"policykit/numbering/sqlstore"
	"policykit/patterns/retry"
)

// App 装配完成的运行时组件
type App struct {
	Config     config.Config
	Logger     logging.Logger
	Store      numbering.IStore
	Pool       *numbering.Pool
	Registry   *dispatch.Registry
	Dispatcher *dispatch.Dispatcher
	// Relay 未配置 NATS 时为 nil
	Relay *natsrelay.Relay

	closers []func() error
}

// Option Build 选项
type Option func(*buildOptions)

type buildOptions struct {
	logger    logging.Logger
	store     numbering.IStore
	observers []dispatch.IObserver
}

// WithLogger 使用外部日志，跳过按配置构建 zap
func WithLogger(l logging.Logger) Option {
	return func(o *buildOptions) { o.logger = l }
}

// WithStore 使用外部存储，忽略 Backend 配置
func WithStore(s numbering.IStore) Option {
	return func(o *buildOptions) { o.store = s }
}

// WithObservers 在 NATS 转发器之前注册业务观察者
func WithObservers(observers ...dispatch.IObserver) Option {
	return func(o *buildOptions) { o.observers = append(o.observers, observers...) }
}

// Build 装配 App；失败时已打开的资源会被关闭
func Build(ctx context.Context, cfg config.Config, reg prometheus.Registerer, opts ...Option) (_ *App, err error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	var o buildOptions
	for _, opt := range opts {
		opt(&o)
	}

	a := &App{Config: cfg}
	defer func() {
		if err != nil {
			_ = a.Close()
		}
	}()

	if o.logger != nil {
		a.Logger = o.logger
	} else {
		zl, zerr := logging.NewZapLogger(cfg.LogMode, logging.ParseLevel(cfg.LogLevel))
		if zerr != nil {
			return nil, fmt.Errorf("build logger: %w", zerr)
		}
		a.Logger = zl
		a.closers = append(a.closers, func() error {
			// stdout/stderr 上的 Sync 可能返回 EINVAL，忽略
			_ = zl.Sync()
			return nil
		})
	}
	a.Logger = a.Logger.WithFields(logging.String("service", cfg.ServiceName))

	store := o.store
	if store == nil {
		if store, err = a.openStore(ctx); err != nil {
			return nil, err
		}
	}
	if cfg.Pool.LedgerCacheSize > 0 {
		store = numbering.NewCachedStore(store, cache.Config{
			MaxSize: cfg.Pool.LedgerCacheSize,
			TTL:     cfg.Pool.LedgerCacheTTL,
		})
	}
	a.Store = numbering.NewTracedStore(store, otel.GetTracerProvider())

	a.Pool = numbering.NewPool(a.Store,
		numbering.WithLogger(a.Logger.WithFields(logging.Component("numbering.pool"))),
		numbering.WithMetrics(numbering.NewMetrics(reg)),
		numbering.WithReservationTTL(cfg.Pool.ReservationTTL),
		numbering.WithAddRetry(addRetryConfig(cfg.Pool)),
	)

	a.Registry = dispatch.NewRegistry()
	for _, obs := range o.observers {
		if err = a.Registry.Register(obs); err != nil {
			return nil, err
		}
	}
	if cfg.NATS.URL != "" {
		if err = a.connectRelay(); err != nil {
			return nil, err
		}
	}
	a.Dispatcher = dispatch.NewDispatcher(a.Registry,
		dispatch.WithLogger(a.Logger.WithFields(logging.Component("eventing.dispatch"))),
		dispatch.WithMetrics(dispatch.NewMetrics(reg)),
	)

	a.Logger.Info(ctx, "组件装配完成",
		logging.String("backend", string(cfg.Backend)),
		logging.Bool("nats", a.Relay != nil),
		logging.Duration("reservation_ttl", cfg.Pool.ReservationTTL))
	return a, nil
}

func addRetryConfig(p config.PoolConfig) retry.Config {
	rc := retry.DefaultConfig()
	rc.MaxAttempts = p.AddMaxAttempts
	if p.AddRetryDelay > 0 {
		rc.InitialDelay = p.AddRetryDelay
	}
	return rc
}

func (a *App) openStore(ctx context.Context) (numbering.IStore, error) {
	cfg := a.Config
	switch cfg.Backend {
	case config.BackendSQL:
		database, err := basic.New(ctx, core.DBConfig{
			Driver:          cfg.Database.Driver,
			DSN:             cfg.Database.DSN,
			MaxOpenConns:    cfg.Database.MaxOpenConns,
			MaxIdleConns:    cfg.Database.MaxIdleConns,
			ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
		})
		if err != nil {
			return nil, fmt.Errorf("open database: %w", err)
		}
		a.closers = append(a.closers, database.Close)
		store := sqlstore.New(database, sqlstore.WithLogger(a.Logger.WithFields(logging.Component("numbering.sqlstore"))))
		if cfg.Database.Migrate {
			if err := store.Migrate(ctx); err != nil {
				return nil, fmt.Errorf("migrate: %w", err)
			}
		}
		return store, nil
	case config.BackendRedis:
		client, err := redisstore.Connect(ctx, redisstore.Config{
			Addr:     cfg.Redis.Addr,
			Username: cfg.Redis.Username,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, client.Close)
		return redisstore.New(client, cfg.Redis.KeyPrefix, a.Logger.WithFields(logging.Component("numbering.redisstore"))), nil
	default:
		return numbering.NewMemoryStore(), nil
	}
}

func (a *App) connectRelay() error {
	conn, err := natsrelay.Connect(a.Config.NATS.URL, a.Config.ServiceName)
	if err != nil {
		return err
	}
	a.closers = append(a.closers, func() error { return conn.Drain() })

	var pub natsrelay.IPublisher = conn
	if a.Config.NATS.JetStream {
		js, err := conn.JetStream()
		if err != nil {
			return fmt.Errorf("jetstream: %w", err)
		}
		pub = natsrelay.JetStreamPublisher{JS: js}
	}
	a.Relay = natsrelay.New(pub, natsrelay.Config{
		SubjectPrefix: a.Config.NATS.SubjectPrefix,
		Logger:        a.Logger.WithFields(logging.Component("eventing.natsrelay")),
	})
	return a.Registry.Register(a.Relay)
}

// Close 按打开的逆序释放资源
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return stdErrors.Join(errs...)
}

// Package app builds the process-wide application context. Everything that
// holds a connection is created here once and handed to commands and the
// HTTP server explicitly.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"
	"github.com/uptrace/bun"

	"github.com/hiennguyen9874/api-base-project/internal/auth"
	"github.com/hiennguyen9874/api-base-project/internal/cache"
	"github.com/hiennguyen9874/api-base-project/internal/config"
	"github.com/hiennguyen9874/api-base-project/internal/db/bunx"
	"github.com/hiennguyen9874/api-base-project/internal/lock"
	"github.com/hiennguyen9874/api-base-project/internal/repository"
	"github.com/hiennguyen9874/api-base-project/internal/services/policy"
	"github.com/hiennguyen9874/api-base-project/internal/services/principal"
	"github.com/hiennguyen9874/api-base-project/internal/services/session"
	"github.com/hiennguyen9874/api-base-project/internal/telemetry"
)

// APIPrefix is mounted in front of every versioned route and stripped
// before policy matching.
const APIPrefix = "/api"

// App is the application context.
type App struct {
	Config *config.Config
	Logger *slog.Logger

	DB          *bun.DB
	CacheClient *redis.Client
	LockClient  *redis.Client

	Cache      *cache.Cache
	Locks      *lock.Manager
	Principals *principal.Service
	Sessions   *session.Manager
	Rules      *policy.Store
	Policy     *policy.Engine

	ServerMetrics *telemetry.ServerMetrics

	closers []func(context.Context) error
}

// Clients are the external connections New would otherwise open itself.
// Tests use it to run against SQLite and miniredis.
type Clients struct {
	DB          *bun.DB
	CacheClient *redis.Client
	LockClient  *redis.Client
}

// New opens the database and both Redis clients from cfg and wires every service.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*App, error) {
	logger = telemetry.OrDefault(logger)
	a := &App{Config: cfg, Logger: logger}

	shutdown, err := telemetry.Init(ctx, cfg.Observability, logger)
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, shutdown)

	db, err := bunx.NewDB(cfg.DatabaseURL, bunx.WithMaxConns(cfg.MaxDBConnections))
	if err != nil {
		_ = a.Close(ctx)
		return nil, fmt.Errorf("connect to database: %w", err)
	}
	a.closers = append(a.closers, func(context.Context) error { return bunx.Close(db) })

	cacheClient, err := newRedisClient(cfg.Redis.Cache)
	if err != nil {
		_ = a.Close(ctx)
		return nil, fmt.Errorf("redis cache: %w", err)
	}
	a.closers = append(a.closers, func(context.Context) error { return cacheClient.Close() })

	lockClient, err := newRedisClient(cfg.Redis.Lock)
	if err != nil {
		_ = a.Close(ctx)
		return nil, fmt.Errorf("redis lock: %w", err)
	}
	a.closers = append(a.closers, func(context.Context) error { return lockClient.Close() })

	if err := a.wire(Clients{DB: db, CacheClient: cacheClient, LockClient: lockClient}); err != nil {
		_ = a.Close(ctx)
		return nil, err
	}
	logger.Info("application initialized", "database", bunx.DetectDatabaseType(cfg.DatabaseURL))
	return a, nil
}

// NewWithClients wires an App over connections the caller owns. Close does
// not close them.
func NewWithClients(cfg *config.Config, clients Clients, logger *slog.Logger) (*App, error) {
	a := &App{Config: cfg, Logger: telemetry.OrDefault(logger)}
	if err := a.wire(clients); err != nil {
		return nil, err
	}
	return a, nil
}

func newRedisClient(ep config.RedisEndpoint) (*redis.Client, error) {
	opts, err := redis.ParseURL(ep.URL)
	if err != nil {
		return nil, err
	}
	if ep.PoolSize > 0 {
		opts.PoolSize = ep.PoolSize
	}
	return redis.NewClient(opts), nil
}

func (a *App) wire(c Clients) error {
	cfg := a.Config
	a.DB = c.DB
	a.CacheClient = c.CacheClient
	a.LockClient = c.LockClient

	dbMetrics, err := telemetry.NewDatabaseMetrics()
	if err != nil {
		return err
	}
	a.DB.AddQueryHook(bunx.NewMetricsHook(dbMetrics))

	authMetrics, err := telemetry.NewAuthMetrics()
	if err != nil {
		return err
	}
	lockMetrics, err := telemetry.NewLockMetrics()
	if err != nil {
		return err
	}
	if a.ServerMetrics, err = telemetry.NewServerMetrics(); err != nil {
		return err
	}

	a.Cache = cache.New(c.CacheClient)
	a.Locks = lock.NewManager(c.LockClient, a.Logger, lockMetrics)

	a.Rules = policy.NewStore(repository.NewBunPolicyRuleRepository(a.DB), a.Cache, cfg.Cache.RulesTTL, a.Logger)
	a.Policy, err = policy.NewEngine(a.Rules, a.Locks, policy.EngineConfig{
		ModelPath:         cfg.Casbin.ModelPath,
		APIPrefix:         APIPrefix,
		SavePolicyHold:    cfg.Lock.SavePolicyHold,
		SavePolicyAcquire: cfg.Lock.SavePolicyAcquire,
	}, a.Logger)
	if err != nil {
		return err
	}

	a.Principals = principal.NewService(repository.NewBunPrincipalRepository(a.DB), a.Cache, a.Policy,
		principal.Config{CacheTTL: cfg.Cache.PrincipalTTL, DefaultRole: cfg.Casbin.DefaultRole}, a.Logger)

	tokens, err := auth.NewTokenIssuer(auth.TokenIssuerConfig{
		AccessSecret:  cfg.Token.AccessSecret,
		RefreshSecret: cfg.Token.RefreshSecret,
		AccessTTL:     cfg.Token.AccessTTL,
		RefreshTTL:    cfg.Token.RefreshTTL,
		Issuer:        cfg.Token.Issuer,
	})
	if err != nil {
		return err
	}
	a.Sessions = session.NewManager(a.Principals, a.Cache, tokens, cfg.Token.PruneGrace, authMetrics, a.Logger)
	return nil
}

// Ping checks the database and both Redis endpoints.
func (a *App) Ping(ctx context.Context) error {
	var errs []error
	if err := a.DB.PingContext(ctx); err != nil {
		errs = append(errs, fmt.Errorf("database: %w", err))
	}
	if err := a.Cache.Ping(ctx); err != nil {
		errs = append(errs, fmt.Errorf("cache: %w", err))
	}
	if err := a.LockClient.Ping(ctx).Err(); err != nil {
		errs = append(errs, fmt.Errorf("lock store: %w: %w", lock.ErrUnavailable, err))
	}
	return errors.Join(errs...)
}

// Close releases everything New opened, last opened first.
func (a *App) Close(ctx context.Context) error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](ctx); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}

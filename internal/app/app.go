// Package app assembles the store, cache and service shared by the HTTP
// server and the background worker.
package app

import (
	"context"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"mostrador/backend/internal/cache"
	"mostrador/backend/internal/config"
	"mostrador/backend/internal/domain"
	"mostrador/backend/internal/inventory"
	"mostrador/backend/internal/logging"
	"mostrador/backend/internal/metrics"
	"mostrador/backend/internal/pricing"
	"mostrador/backend/internal/sequence"
	"mostrador/backend/internal/service"
	"mostrador/backend/internal/session"
	"mostrador/backend/internal/store"
	"mostrador/backend/internal/store/memory"
	pgstore "mostrador/backend/internal/store/postgres"
)

// Runtime holds the assembled dependencies. Close releases them in reverse
// order of acquisition.
type Runtime struct {
	Repo    store.Repository
	Service *service.Service
	Metrics *metrics.Metrics

	// RedisOpts is nil when no Redis address is configured.
	RedisOpts asynq.RedisConnOpt

	closers []func() error
	logger  *zap.Logger
}

func Build(ctx context.Context, cfg config.Config, logger *zap.Logger) (*Runtime, error) {
	logger = logging.OrNop(logger)
	rt := &Runtime{logger: logger, Metrics: metrics.New()}

	repo, err := rt.openStore(ctx, cfg)
	if err != nil {
		return nil, err
	}
	rt.Repo = repo

	opts, err := serviceOptions(cfg)
	if err != nil {
		_ = rt.Close()
		return nil, err
	}
	opts.Metrics = rt.Metrics
	opts.Logger = logger

	if cfg.RedisAddr != "" {
		redisCache := cache.NewRedisWebOrderCache(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		if err := redisCache.Ping(ctx); err != nil {
			logger.Warn("redis unavailable, using noop cache", zap.Error(err))
			_ = redisCache.Close()
		} else {
			rt.closers = append(rt.closers, redisCache.Close)
			opts.Cache = redisCache
			opts.Sequence = sequence.NewRedisGenerator(redisCache.Client())
			rt.RedisOpts = asynq.RedisClientOpt{Addr: cfg.RedisAddr, Password: cfg.RedisPassword, DB: cfg.RedisDB}
			logger.Info("cache: redis", zap.String("addr", cfg.RedisAddr))
		}
	} else {
		logger.Info("cache: noop")
	}

	rt.Service = service.New(repo, opts)
	return rt, nil
}

func (rt *Runtime) openStore(ctx context.Context, cfg config.Config) (store.Repository, error) {
	if cfg.DatabaseURL == "" {
		rt.logger.Info("repository: in-memory")
		return memory.NewSeeded(), nil
	}

	pg, err := pgstore.New(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("postgres unavailable and DATABASE_URL is set: %w", err)
	}
	rt.closers = append(rt.closers, pg.Close)
	if err := pg.Migrate(ctx); err != nil {
		_ = rt.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	if err := bootstrapAdmin(ctx, pg, cfg.BootstrapAdminPassword, rt.logger); err != nil {
		_ = rt.Close()
		return nil, err
	}
	rt.logger.Info("repository: postgres")
	return pg, nil
}

// bootstrapAdmin creates the admin account when the user table is empty.
func bootstrapAdmin(ctx context.Context, repo store.Repository, password string, logger *zap.Logger) error {
	users, err := repo.ListUsers(ctx)
	if err != nil {
		return fmt.Errorf("list users: %w", err)
	}
	if len(users) > 0 {
		return nil
	}
	if password == "" {
		logger.Warn("no users exist and BOOTSTRAP_ADMIN_PASSWORD is empty; nobody can log in")
		return nil
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return err
	}
	err = repo.CreateUser(ctx, domain.UserAccount{
		Username:  "admin",
		Password:  string(hash),
		Role:      domain.RoleAdmin,
		Active:    true,
		CreatedAt: time.Now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("create admin: %w", err)
	}
	logger.Info("bootstrap admin created")
	return nil
}

func serviceOptions(cfg config.Config) (service.Options, error) {
	threshold, err := domain.ParseAmount(cfg.WholesaleThreshold)
	if err != nil {
		return service.Options{}, fmt.Errorf("WHOLESALE_THRESHOLD: %w", err)
	}
	warn, err := decimal.NewFromString(cfg.CashWarnPercent)
	if err != nil {
		return service.Options{}, fmt.Errorf("CASH_DIFFERENCE_WARN_PCT: %w", err)
	}
	critical, err := decimal.NewFromString(cfg.CashCriticalPercent)
	if err != nil {
		return service.Options{}, fmt.Errorf("CASH_DIFFERENCE_CRITICAL_PCT: %w", err)
	}
	if warn.IsNegative() || critical.LessThan(warn) {
		return service.Options{}, fmt.Errorf("cash difference thresholds must satisfy 0 <= warn <= critical")
	}

	policy := inventory.Clamp
	if cfg.StrictAllocation {
		policy = inventory.Strict
	}
	return service.Options{
		DefaultRule: pricing.Rule{ThresholdCents: threshold, Active: cfg.WholesaleRuleActive},
		Policy:      policy,
		Thresholds:  session.Thresholds{WarnPercent: warn, CriticalPercent: critical},
		PendingTTL:  cfg.PendingCacheTTL,
	}, nil
}

// AddCloser registers a release func that runs before the ones Build added.
func (rt *Runtime) AddCloser(fn func() error) {
	rt.closers = append(rt.closers, fn)
}

func (rt *Runtime) Close() error {
	var first error
	for i := len(rt.closers) - 1; i >= 0; i-- {
		if err := rt.closers[i](); err != nil {
			rt.logger.Warn("close", zap.Error(err))
			if first == nil {
				first = err
			}
		}
	}
	rt.closers = nil
	return first
}

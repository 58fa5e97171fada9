package cmd

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/redis/go-redis/v9"

	"github.com/floodgate/floodgate/internal/config"
	"github.com/floodgate/floodgate/internal/core"
	"github.com/floodgate/floodgate/internal/core/engine"
	"github.com/floodgate/floodgate/internal/core/flood"
	"github.com/floodgate/floodgate/internal/core/redirect"
	"github.com/floodgate/floodgate/internal/core/store"
)

// services bundles the store, flood backend and repositories a command needs.
type services struct {
	cfg       *config.Config
	db        *store.Store
	redis     *redis.Client
	flood     flood.Backend
	limiter   *engine.Limiter
	redirects *redirect.Repository
}

func openServices(ctx context.Context) (*services, error) {
	cfg, err := currentConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	db, err := openStore(ctx, cfg)
	if err != nil {
		return nil, err
	}
	svc := &services{cfg: cfg, db: db}

	svc.flood, svc.redis, err = openFloodBackend(ctx, cfg, db)
	if err != nil {
		_ = svc.Close()
		return nil, err
	}

	svc.limiter, err = newLimiter(cfg, svc.flood)
	if err != nil {
		_ = svc.Close()
		return nil, err
	}

	svc.redirects, err = redirect.NewRepository(db, redirect.Options{
		PassthroughQuerystring: cfg.Redirect.PassthroughQuerystring,
		DefaultStatusCode:      cfg.Redirect.DefaultStatusCode,
	})
	if err != nil {
		_ = svc.Close()
		return nil, err
	}

	return svc, nil
}

func (s *services) Close() error {
	var errs []error
	if s.redis != nil {
		errs = append(errs, s.redis.Close())
	}
	if s.db != nil {
		errs = append(errs, s.db.Close())
	}
	return errors.Join(errs...)
}

func openStore(ctx context.Context, cfg *config.Config) (*store.Store, error) {
	db, err := store.Open(ctx, cfg.Store)
	if err != nil {
		return nil, err
	}

	if err := db.Migrate(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}

	return db, nil
}

// openFloodBackend builds the configured backend. The redis client is
// returned so callers can close and health-check it.
func openFloodBackend(ctx context.Context, cfg *config.Config, db *store.Store) (flood.Backend, *redis.Client, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Flood.Backend)) {
	case "", config.BackendDatabase:
		backend, err := flood.NewDatabaseBackend(db, nil)
		return backend, nil, err
	case config.BackendRedis:
		client, err := newRedisClient(ctx, cfg.Redis)
		if err != nil {
			return nil, nil, err
		}
		backend, err := flood.NewRedisBackend(client, cfg.Redis.KeyPrefix, nil)
		if err != nil {
			_ = client.Close()
			return nil, nil, err
		}
		return backend, client, nil
	case config.BackendMemory:
		return flood.NewMemoryBackend(nil), nil, nil
	default:
		return nil, nil, fmt.Errorf("unknown flood backend %q", cfg.Flood.Backend)
	}
}

func newRedisClient(ctx context.Context, cfg config.RedisConfig) (*redis.Client, error) {
	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	if cfg.Password != "" {
		opts.Password = cfg.Password
	}
	if cfg.DB != 0 {
		opts.DB = cfg.DB
	}
	if cfg.PoolSize > 0 {
		opts.PoolSize = cfg.PoolSize
	}

	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connect to redis at %s: %w", opts.Addr, err)
	}
	return client, nil
}

func newLimiter(cfg *config.Config, backend flood.Backend) (*engine.Limiter, error) {
	limiter, err := engine.NewLimiter(backend)
	if err != nil {
		return nil, err
	}
	limiter.BackendName = cfg.Flood.Backend
	limiter.ApplyOverrides(policyOverrides(cfg.Flood.Policies))
	limiter.ApplySafetyMargin(cfg.Flood.Margin)
	return limiter, nil
}

func policyOverrides(policies []config.FloodPolicyConfig) map[string]core.FloodPolicy {
	if len(policies) == 0 {
		return nil
	}
	overrides := make(map[string]core.FloodPolicy, len(policies))
	for _, policy := range policies {
		overrides[policy.Event] = core.FloodPolicy{
			Threshold: policy.Threshold,
			Window:    policy.Window,
		}
	}
	return overrides
}

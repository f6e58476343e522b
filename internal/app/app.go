// Package app 组装各组件，供 cmd 下的入口共用
package app

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/redis/go-redis/v9"

	"github.com/LJTian/ArticleHub/internal/aggregator"
	"github.com/LJTian/ArticleHub/internal/cache"
	"github.com/LJTian/ArticleHub/internal/collector"
	"github.com/LJTian/ArticleHub/internal/config"
	"github.com/LJTian/ArticleHub/internal/ratelimit"
	"github.com/LJTian/ArticleHub/internal/source"
	"github.com/LJTian/ArticleHub/internal/storage"
)

type App struct {
	Config     *config.Config
	Logger     *slog.Logger
	Registry   *source.Registry
	Cache      *cache.Cache
	Aggregator *aggregator.Aggregator
	// Store 未配置 POSTGRES_DSN 时为 nil
	Store *storage.Store

	redis *redis.Client
}

// New 按配置创建数据源注册表、缓存、聚合器与可选的归档存储
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*App, error) {
	reg, err := cfg.LoadSources()
	if err != nil {
		return nil, err
	}

	a := &App{Config: cfg, Logger: logger, Registry: reg}

	var backend cache.Backend
	if cfg.RedisAddr != "" {
		a.redis = redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		backend = cache.NewRedisBackend(a.redis, cache.DefaultRedisKey)
	}
	a.Cache = cache.New(backend,
		cache.WithTTL(cfg.CacheTTL),
		cache.WithCapacity(cfg.CacheCapacity),
		cache.WithLogger(logger),
	)

	limiter := ratelimit.New(ratelimit.WithLogger(logger))
	deps := collector.Deps{
		Client: newHTTPClient(),
		Logger: logger,
	}
	a.Aggregator, err = aggregator.Build(reg, limiter, deps, a.Cache,
		aggregator.WithPageDelay(cfg.PageDelay),
	)
	if err != nil {
		return nil, err
	}

	if cfg.PostgresDSN != "" {
		store, err := storage.NewStore(cfg.PostgresDSN, cfg.RedisAddr, logger)
		if err != nil {
			return nil, fmt.Errorf("init store: %w", err)
		}
		for _, src := range reg.All() {
			if _, err := store.EnsureSource(ctx, src); err != nil {
				return nil, fmt.Errorf("ensure source %s: %w", src.ID, err)
			}
		}
		a.Store = store
	}

	logger.Info("app ready",
		"sources", len(reg.All()),
		"categories", reg.Categories(),
		"archive", a.Store != nil,
	)
	return a, nil
}

// newHTTPClient 单次请求的超时由采集器按数据源的 Timeout（15~30s）通过 context 控制，
// 客户端本身不再设置更短的上限
func newHTTPClient() *http.Client {
	return &http.Client{}
}

func (a *App) Close() {
	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			a.Logger.Warn("close redis failed", "error", err)
		}
	}
	if a.Store != nil {
		if a.Store.Redis != nil {
			_ = a.Store.Redis.Close()
		}
		if sqlDB, err := a.Store.DB.DB(); err == nil {
			_ = sqlDB.Close()
		}
	}
}

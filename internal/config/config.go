package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"time"

	"github.com/LJTian/ArticleHub/internal/source"
)

type Config struct {
	AppPort string

	// PostgresDSN 为空时不启用归档
	PostgresDSN string
	// RedisAddr 为空时使用进程内缓存
	RedisAddr string

	CacheTTL      time.Duration
	CacheCapacity int

	// SourcesFile YAML 数据源配置，为空时使用内置默认源
	SourcesFile   string
	ProxyEndpoint string

	CronSpec  string
	PageDelay time.Duration
	LogFormat string

	BasicAuthUser string
	BasicAuthPass string
}

func Load() *Config {
	cfg := &Config{
		AppPort:       getEnv("APP_PORT", "9000"),
		PostgresDSN:   getEnv("POSTGRES_DSN", ""),
		RedisAddr:     getEnv("REDIS_ADDR", ""),
		CacheTTL:      getDuration("CACHE_TTL", 30*time.Minute),
		CacheCapacity: getInt("CACHE_CAPACITY", 2000),
		SourcesFile:   getEnv("SOURCES_FILE", ""),
		ProxyEndpoint: getEnv("PROXY_ENDPOINT", ""),
		CronSpec:      getEnv("CRON_SPEC", "*/30 * * * *"),
		PageDelay:     getDuration("PAGE_DELAY", time.Second),
		LogFormat:     getEnv("LOG_FORMAT", "text"),
		BasicAuthUser: getEnv("APP_BASIC_USER", ""),
		BasicAuthPass: getEnv("APP_BASIC_PASS", ""),
	}

	slog.Info("config loaded",
		"port", cfg.AppPort,
		"cron", cfg.CronSpec,
		"archive", cfg.PostgresDSN != "",
		"redis", cfg.RedisAddr != "",
		"cacheTTL", cfg.CacheTTL,
		"cacheCapacity", cfg.CacheCapacity,
	)
	return cfg
}

// LoadSources 读取数据源：配置了 SOURCES_FILE 时从 YAML 加载，否则使用内置默认源。
// GITHUB_TOKEN / PRODUCTHUNT_TOKEN 等令牌由各源的 token_env 在请求时读取。
func (c *Config) LoadSources() (*source.Registry, error) {
	if c.SourcesFile != "" {
		reg, err := source.LoadFile(c.SourcesFile)
		if err != nil {
			return nil, fmt.Errorf("load sources: %w", err)
		}
		return reg, nil
	}
	return source.NewRegistry(source.Defaults(c.ProxyEndpoint))
}

// NewLogger 按 LOG_FORMAT 选择 text / json 输出
func (c *Config) NewLogger() *slog.Logger {
	opts := &slog.HandlerOptions{Level: slog.LevelInfo}
	if c.LogFormat == "json" {
		return slog.New(slog.NewJSONHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stdout, opts))
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getDuration(key string, def time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		slog.Warn("invalid duration, using default", "key", key, "value", v, "default", def)
		return def
	}
	return d
}

func getInt(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		slog.Warn("invalid integer, using default", "key", key, "value", v, "default", def)
		return def
	}
	return n
}

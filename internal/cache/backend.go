package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/redis/go-redis/v9"

	"github.com/LJTian/ArticleHub/internal/collector"
)

// Backend 以规范 URL 为键保存缓存条目。并发写入由 Cache 串行化。
type Backend interface {
	All(ctx context.Context) ([]collector.Article, error)
	Get(ctx context.Context, key string) (collector.Article, bool, error)
	Put(ctx context.Context, entries []collector.Article) error
	Delete(ctx context.Context, keys ...string) error
	Len(ctx context.Context) (int, error)
}

// MemoryBackend 进程内 map，默认后端
type MemoryBackend struct {
	mu      sync.RWMutex
	entries map[string]collector.Article
}

func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{entries: make(map[string]collector.Article)}
}

func (m *MemoryBackend) All(_ context.Context) ([]collector.Article, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]collector.Article, 0, len(m.entries))
	for _, a := range m.entries {
		out = append(out, cloneArticle(a))
	}
	return out, nil
}

func (m *MemoryBackend) Get(_ context.Context, key string) (collector.Article, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	a, ok := m.entries[key]
	return cloneArticle(a), ok, nil
}

func (m *MemoryBackend) Put(_ context.Context, entries []collector.Article) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, a := range entries {
		m.entries[a.CanonicalKey] = cloneArticle(a)
	}
	return nil
}

func (m *MemoryBackend) Delete(_ context.Context, keys ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, k := range keys {
		delete(m.entries, k)
	}
	return nil
}

func (m *MemoryBackend) Len(_ context.Context) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.entries), nil
}

// cloneArticle 复制 Links，避免调用方修改缓存内部数据
func cloneArticle(a collector.Article) collector.Article {
	if a.Links != nil {
		a.Links = append([]string(nil), a.Links...)
	}
	return a
}

// DefaultRedisKey 存放所有条目的 Redis hash
const DefaultRedisKey = "articlehub:articles"

// RedisBackend 将条目以 JSON 存在一个 Redis hash 中，field 为规范 URL。
// 过期与淘汰仍由 Cache 按 CachedAt 判断，不依赖 Redis TTL。
type RedisBackend struct {
	client *redis.Client
	key    string
}

func NewRedisBackend(client *redis.Client, key string) *RedisBackend {
	if key == "" {
		key = DefaultRedisKey
	}
	return &RedisBackend{client: client, key: key}
}

func (r *RedisBackend) All(ctx context.Context) ([]collector.Article, error) {
	raw, err := r.client.HGetAll(ctx, r.key).Result()
	if err != nil {
		return nil, fmt.Errorf("redis hgetall: %w", err)
	}
	out := make([]collector.Article, 0, len(raw))
	for field, v := range raw {
		var a collector.Article
		if err := json.Unmarshal([]byte(v), &a); err != nil {
			return nil, fmt.Errorf("decode entry %s: %w", field, err)
		}
		out = append(out, a)
	}
	return out, nil
}

func (r *RedisBackend) Get(ctx context.Context, key string) (collector.Article, bool, error) {
	v, err := r.client.HGet(ctx, r.key, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return collector.Article{}, false, nil
	}
	if err != nil {
		return collector.Article{}, false, fmt.Errorf("redis hget: %w", err)
	}
	var a collector.Article
	if err := json.Unmarshal(v, &a); err != nil {
		return collector.Article{}, false, fmt.Errorf("decode entry %s: %w", key, err)
	}
	return a, true, nil
}

func (r *RedisBackend) Put(ctx context.Context, entries []collector.Article) error {
	if len(entries) == 0 {
		return nil
	}
	values := make(map[string]any, len(entries))
	for _, a := range entries {
		bs, err := json.Marshal(a)
		if err != nil {
			return fmt.Errorf("encode entry %s: %w", a.CanonicalKey, err)
		}
		values[a.CanonicalKey] = bs
	}
	if err := r.client.HSet(ctx, r.key, values).Err(); err != nil {
		return fmt.Errorf("redis hset: %w", err)
	}
	return nil
}

func (r *RedisBackend) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	if err := r.client.HDel(ctx, r.key, keys...).Err(); err != nil {
		return fmt.Errorf("redis hdel: %w", err)
	}
	return nil
}

func (r *RedisBackend) Len(ctx context.Context) (int, error) {
	n, err := r.client.HLen(ctx, r.key).Result()
	if err != nil {
		return 0, fmt.Errorf("redis hlen: %w", err)
	}
	return int(n), nil
}

// Package cache 是按 TTL 与容量约束的文章缓存。
//
// 条目在 now-CachedAt < ttl 时有效；读取时扫描到的失效条目会被删除；
// 每次写入后条目数不超过容量，超出时先淘汰 CachedAt 最早的条目。
// 所有修改（批量写、淘汰、读时删除）都在同一把写锁下串行执行。
package cache

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/LJTian/ArticleHub/internal/collector"
	"github.com/LJTian/ArticleHub/internal/urlnorm"
)

const (
	DefaultTTL      = 30 * time.Minute
	DefaultCapacity = 2000
)

// StorageError 后端读写失败。Cache 记录日志后降级为空结果或不写入。
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("cache %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

type Cache struct {
	backend  Backend
	ttl      time.Duration
	capacity int
	now      func() time.Time
	logger   *slog.Logger

	writeMu sync.Mutex
}

type Option func(*Cache)

func WithTTL(ttl time.Duration) Option {
	return func(c *Cache) {
		if ttl > 0 {
			c.ttl = ttl
		}
	}
}

func WithCapacity(n int) Option {
	return func(c *Cache) {
		if n > 0 {
			c.capacity = n
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(c *Cache) {
		if now != nil {
			c.now = now
		}
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(c *Cache) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// New backend 为 nil 时使用内存后端
func New(backend Backend, opts ...Option) *Cache {
	if backend == nil {
		backend = NewMemoryBackend()
	}
	c := &Cache{
		backend:  backend,
		ttl:      DefaultTTL,
		capacity: DefaultCapacity,
		now:      time.Now,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Cache) TTL() time.Duration { return c.ttl }
func (c *Cache) Capacity() int { return c.capacity }

func (c *Cache) valid(a collector.Article, now time.Time) bool {
	return !a.CachedAt.IsZero() && now.Sub(a.CachedAt) < c.ttl
}

// GetArticles 返回分类下的有效条目（category 为空返回全部），按发布时间倒序
func (c *Cache) GetArticles(ctx context.Context, category string) []collector.Article {
	all, err := c.backend.All(ctx)
	if err != nil {
		c.logError(&StorageError{Op: "read", Err: err}, category)
		return nil
	}

	now := c.now()
	var (
		out     []collector.Article
		expired []string
	)
	for _, a := range all {
		if !c.valid(a, now) {
			expired = append(expired, a.CanonicalKey)
			continue
		}
		if category != "" && !strings.EqualFold(a.Category, category) {
			continue
		}
		out = append(out, a)
	}
	if len(expired) > 0 {
		c.deleteExpired(ctx, expired)
	}

	sort.SliceStable(out, func(i, j int) bool {
		if out[i].PublishedAt.Equal(out[j].PublishedAt) {
			return out[i].CanonicalKey < out[j].CanonicalKey
		}
		return out[i].PublishedAt.After(out[j].PublishedAt)
	})
	return out
}

// deleteExpired 在写锁内复查后删除，避免误删刚被重新写入的条目
func (c *Cache) deleteExpired(ctx context.Context, keys []string) {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	now := c.now()
	stale := make([]string, 0, len(keys))
	for _, k := range keys {
		a, ok, err := c.backend.Get(ctx, k)
		if err != nil {
			c.logError(&StorageError{Op: "read", Err: err}, "")
			return
		}
		if ok && !c.valid(a, now) {
			stale = append(stale, k)
		}
	}
	if err := c.backend.Delete(ctx, stale...); err != nil {
		c.logError(&StorageError{Op: "delete", Err: err}, "")
		return
	}
	if len(stale) > 0 {
		c.logger.Debug("cache dropped expired entries", "count", len(stale))
	}
}

// SetArticles 写入一批文章：补齐规范 URL、记录 CachedAt、按键覆盖，然后按容量淘汰。
// category 非空时为未分类的文章补上分类。
func (c *Cache) SetArticles(ctx context.Context, articles []collector.Article, category string) {
	if len(articles) == 0 {
		return
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	now := c.now()
	entries := make([]collector.Article, 0, len(articles))
	for _, a := range articles {
		if a.CanonicalKey == "" {
			a.CanonicalKey = urlnorm.Key(a.URL)
		}
		if a.CanonicalKey == "" {
			continue
		}
		if a.ID == "" {
			a.ID = urlnorm.Hash(a.URL)
		}
		if a.Category == "" {
			a.Category = category
		}
		a.CachedAt = now
		entries = append(entries, a)
	}

	if err := c.backend.Put(ctx, entries); err != nil {
		c.logError(&StorageError{Op: "write", Err: err}, category)
		return
	}
	c.evictLocked(ctx)
}

// evictLocked 超出容量时删除 CachedAt 最早的条目；CachedAt 相同时先删发布时间更早的
func (c *Cache) evictLocked(ctx context.Context) {
	n, err := c.backend.Len(ctx)
	if err != nil {
		c.logError(&StorageError{Op: "len", Err: err}, "")
		return
	}
	if n <= c.capacity {
		return
	}

	all, err := c.backend.All(ctx)
	if err != nil {
		c.logError(&StorageError{Op: "read", Err: err}, "")
		return
	}
	sort.Slice(all, func(i, j int) bool {
		if !all[i].CachedAt.Equal(all[j].CachedAt) {
			return all[i].CachedAt.Before(all[j].CachedAt)
		}
		if !all[i].PublishedAt.Equal(all[j].PublishedAt) {
			return all[i].PublishedAt.Before(all[j].PublishedAt)
		}
		return all[i].CanonicalKey < all[j].CanonicalKey
	})

	over := len(all) - c.capacity
	if over <= 0 {
		return
	}
	keys := make([]string, 0, over)
	for _, a := range all[:over] {
		keys = append(keys, a.CanonicalKey)
	}
	if err := c.backend.Delete(ctx, keys...); err != nil {
		c.logError(&StorageError{Op: "evict", Err: err}, "")
		return
	}
	c.logger.Debug("cache evicted entries", "count", len(keys), "capacity", c.capacity)
}

// GetArticle 按 URL（任意变体）查找有效条目；失效条目顺带删除
func (c *Cache) GetArticle(ctx context.Context, rawURL string) (collector.Article, bool) {
	key := urlnorm.Key(rawURL)
	if key == "" {
		return collector.Article{}, false
	}
	a, ok, err := c.backend.Get(ctx, key)
	if err != nil {
		c.logError(&StorageError{Op: "read", Err: err}, "")
		return collector.Article{}, false
	}
	if !ok {
		return collector.Article{}, false
	}
	if !c.valid(a, c.now()) {
		c.deleteExpired(ctx, []string{key})
		return collector.Article{}, false
	}
	return a, true
}

func (c *Cache) HasArticle(ctx context.Context, rawURL string) bool {
	_, ok := c.GetArticle(ctx, rawURL)
	return ok
}

// Len 当前条目数（含尚未被扫描删除的失效条目）
func (c *Cache) Len(ctx context.Context) int {
	n, err := c.backend.Len(ctx)
	if err != nil {
		c.logError(&StorageError{Op: "len", Err: err}, "")
		return 0
	}
	return n
}

func (c *Cache) logError(err error, category string) {
	c.logger.Warn("cache storage error", "category", category, "error", err)
}

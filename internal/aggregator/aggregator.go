// Package aggregator 编排多个数据源的并发采集、合并去重与缓存写回。
package aggregator

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/LJTian/ArticleHub/internal/cache"
	"github.com/LJTian/ArticleHub/internal/collector"
	"github.com/LJTian/ArticleHub/internal/processor"
	"github.com/LJTian/ArticleHub/internal/ratelimit"
	"github.com/LJTian/ArticleHub/internal/source"
)

const DefaultPageDelay = time.Second

// Options 单次聚合的开关
type Options struct {
	UsePagination bool
	ExtractLinks  bool
	// ForceRefresh 跳过缓存直接采集；仍受限流门控
	ForceRefresh bool
}

// RunStats 最近一次实际采集的统计
type RunStats struct {
	Category  string        `json:"category"`
	StartedAt time.Time     `json:"startedAt"`
	Duration  time.Duration `json:"duration"`
	Sources   int           `json:"sources"`
	Succeeded int           `json:"succeeded"`
	Skipped   int           `json:"skipped"`
	Failed    int           `json:"failed"`
	Articles  int           `json:"articles"`
}

// SourceStatus 数据源配置及其限流状态
type SourceStatus struct {
	source.Config
	State     ratelimit.State `json:"state"`
	NextFetch time.Time       `json:"nextFetch"`
}

type Aggregator struct {
	registry  *source.Registry
	fetchers  map[string]collector.Fetcher
	cache     *cache.Cache
	limiter   *ratelimit.Limiter
	processor *processor.SimpleProcessor
	pageDelay time.Duration
	logger    *slog.Logger

	group singleflight.Group

	mu      sync.Mutex
	lastRun map[string]RunStats
}

type Option func(*Aggregator)

func WithLogger(logger *slog.Logger) Option {
	return func(a *Aggregator) {
		if logger != nil {
			a.logger = logger
		}
	}
}

// WithPageDelay 分页采集时页与页之间的等待
func WithPageDelay(d time.Duration) Option {
	return func(a *Aggregator) {
		if d >= 0 {
			a.pageDelay = d
		}
	}
}

// WithLimiter 用于 Sources 返回限流状态；Build 会自动设置
func WithLimiter(l *ratelimit.Limiter) Option {
	return func(a *Aggregator) {
		if l != nil {
			a.limiter = l
		}
	}
}

// New 使用已构造好的采集器（按源 ID 索引）创建聚合器
func New(registry *source.Registry, fetchers map[string]collector.Fetcher, c *cache.Cache, opts ...Option) *Aggregator {
	if c == nil {
		c = cache.New(nil)
	}
	a := &Aggregator{
		registry:  registry,
		fetchers:  fetchers,
		cache:     c,
		limiter:   ratelimit.New(),
		processor: processor.NewSimpleProcessor(),
		pageDelay: DefaultPageDelay,
		logger:    slog.Default(),
		lastRun:   make(map[string]RunStats),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Build 通过协议查找表为注册表中的每个数据源构造采集器，共享同一个限流器
func Build(registry *source.Registry, limiter *ratelimit.Limiter, deps collector.Deps, c *cache.Cache, opts ...Option) (*Aggregator, error) {
	if limiter == nil {
		limiter = ratelimit.New(ratelimit.WithLogger(deps.Logger))
	}
	fetchers := make(map[string]collector.Fetcher)
	for _, src := range registry.All() {
		f, err := collector.New(src, limiter, deps)
		if err != nil {
			return nil, fmt.Errorf("build fetcher: %w", err)
		}
		fetchers[src.ID] = f
	}
	opts = append([]Option{WithLimiter(limiter), WithLogger(deps.Logger)}, opts...)
	return New(registry, fetchers, c, opts...), nil
}

// AggregateSources 返回某个分类（为空表示全部）的文章，按发布时间倒序。
// 缓存有效时直接返回缓存；否则并发采集所有已启用的数据源，单个源失败不影响其他源。
// 从不返回错误，最坏情况返回空列表。
func (a *Aggregator) AggregateSources(ctx context.Context, category string, opts Options) []collector.Article {
	var prior []collector.Article
	if !opts.ForceRefresh {
		if cached := a.cache.GetArticles(ctx, category); len(cached) > 0 {
			a.logger.Debug("serve articles from cache", "category", category, "articles", len(cached))
			return cached
		}
	} else {
		prior = a.cache.GetArticles(ctx, category)
	}

	// 相同参数的并发请求共用一次采集；采集不随单个请求取消而中断
	key := fmt.Sprintf("%s|%t|%t|%t", strings.ToLower(category), opts.UsePagination, opts.ExtractLinks, opts.ForceRefresh)
	v, _, _ := a.group.Do(key, func() (any, error) {
		return a.collect(context.WithoutCancel(ctx), category, opts), nil
	})
	fresh := v.([]collector.Article)

	if len(prior) == 0 {
		return slices.Clone(fresh)
	}
	// 强制刷新时，因限流被跳过的源仍以缓存中的条目补齐
	merged := processor.Dedupe(append(slices.Clone(fresh), prior...))
	processor.SortByPublished(merged)
	return merged
}

func (a *Aggregator) collect(ctx context.Context, category string, opts Options) []collector.Article {
	start := time.Now()
	srcs := a.registry.Enabled(category)
	results := make([]collector.Result, len(srcs))

	var wg sync.WaitGroup
	for i, src := range srcs {
		f, ok := a.fetchers[src.ID]
		if !ok {
			a.logger.Warn("no fetcher for source", "source", src.ID)
			results[i] = collector.Result{Err: fmt.Errorf("source %s: no fetcher", src.ID)}
			continue
		}
		wg.Add(1)
		go func(i int, src source.Config, f collector.Fetcher) {
			defer wg.Done()
			defer func() {
				if r := recover(); r != nil {
					a.logger.Error("source task panicked", "source", src.ID, "panic", r)
					results[i] = collector.Result{Err: fmt.Errorf("source %s: panic: %v", src.ID, r)}
				}
			}()
			results[i] = a.fetchOne(ctx, src, f, opts)
		}(i, src, f)
	}
	wg.Wait()

	stats := RunStats{Category: category, StartedAt: start, Sources: len(srcs)}
	// 按注册表顺序展开，保证"先到先得"的结果确定
	var flat []collector.Article
	for _, res := range results {
		switch {
		case res.Err != nil:
			stats.Failed++
		case res.Skipped:
			stats.Skipped++
		default:
			stats.Succeeded++
		}
		flat = append(flat, res.Articles...)
	}

	out := a.processor.Process(flat, processor.Options{ExtractLinks: opts.ExtractLinks})
	if len(out) > 0 {
		a.cache.SetArticles(ctx, out, category)
	}

	stats.Articles = len(out)
	stats.Duration = time.Since(start)
	a.mu.Lock()
	a.lastRun[strings.ToLower(category)] = stats
	a.mu.Unlock()

	a.logger.Info("aggregate done",
		"category", category,
		"sources", stats.Sources,
		"succeeded", stats.Succeeded,
		"skipped", stats.Skipped,
		"failed", stats.Failed,
		"articles", stats.Articles,
		"duration", stats.Duration,
	)
	return out
}

func (a *Aggregator) fetchOne(ctx context.Context, src source.Config, f collector.Fetcher, opts Options) collector.Result {
	if opts.UsePagination && src.Paginated() {
		if p, ok := f.(collector.Pager); ok {
			return p.FetchPages(ctx, src.MaxPages, a.pageDelay)
		}
	}
	return f.Fetch(ctx)
}

// LastRun 返回某个分类最近一次实际采集的统计
func (a *Aggregator) LastRun(category string) (RunStats, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	st, ok := a.lastRun[strings.ToLower(category)]
	return st, ok
}

// Sources 返回分类下的数据源及其限流状态；category 为空返回全部
func (a *Aggregator) Sources(category string) []SourceStatus {
	all := a.registry.All()
	out := make([]SourceStatus, 0, len(all))
	for _, src := range all {
		if category != "" && !strings.EqualFold(src.Category, category) {
			continue
		}
		st, _ := a.limiter.Snapshot(src.ID)
		out = append(out, SourceStatus{
			Config:    src,
			State:     st,
			NextFetch: a.limiter.NextFetchTime(src.ID, src.UpdateFrequency),
		})
	}
	return out
}

// Categories 已启用数据源覆盖的分类
func (a *Aggregator) Categories() []string {
	return a.registry.Categories()
}

package collector

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/LJTian/ArticleHub/internal/ratelimit"
	"github.com/LJTian/ArticleHub/internal/source"
	"github.com/LJTian/ArticleHub/internal/urlnorm"
)

const (
	defaultTimeout = 20 * time.Second
	minTimeout     = 15 * time.Second
	maxTimeout     = 30 * time.Second

	// 源未提供发布时间时，按序号每条往前推 1 分钟，保持相对顺序
	publishedFallbackStep = time.Minute
)

// 各协议默认的单次采集上限
var defaultMaxArticles = map[source.Kind]int{
	source.KindFeed:      30,
	source.KindREST:      30,
	source.KindGraphQL:   20,
	source.KindProxyText: 20,
	source.KindHTML:      25,
}

// Deps 构造适配器所需的共享依赖
type Deps struct {
	Client *http.Client
	Logger *slog.Logger
}

// AdapterFactory 根据依赖构造某种协议的适配器
type AdapterFactory func(deps Deps) Adapter

// adapters 协议 -> 适配器的查找表
var adapters = map[source.Kind]AdapterFactory{
	source.KindFeed:      func(d Deps) Adapter { return NewFeedAdapter(d.Client) },
	source.KindREST:      func(d Deps) Adapter { return NewRESTAdapter(d.Client, d.Logger) },
	source.KindGraphQL:   func(d Deps) Adapter { return NewGraphQLAdapter(d.Client) },
	source.KindProxyText: func(d Deps) Adapter { return NewProxyTextAdapter(d.Client) },
	source.KindHTML:      func(d Deps) Adapter { return NewHTMLAdapter(d.Logger) },
}

// AdapterFor 查找协议对应的适配器
func AdapterFor(kind source.Kind, deps Deps) (Adapter, error) {
	factory, ok := adapters[kind]
	if !ok {
		return nil, fmt.Errorf("no adapter for kind %q", kind)
	}
	if deps.Client == nil {
		deps.Client = &http.Client{}
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	return factory(deps), nil
}

// SourceFetcher 在适配器之外统一处理限流门控、超时、上限、时间兜底与统计
type SourceFetcher struct {
	src     source.Config
	adapter Adapter
	limiter *ratelimit.Limiter
	now     func() time.Time
	sleep   func(ctx context.Context, d time.Duration) error
	logger  *slog.Logger

	mu         sync.Mutex
	lastDigest string
}

type Option func(*SourceFetcher)

func WithClock(now func() time.Time) Option {
	return func(f *SourceFetcher) {
		if now != nil {
			f.now = now
		}
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(f *SourceFetcher) {
		if logger != nil {
			f.logger = logger
		}
	}
}

// WithPageSleeper 替换分页之间的等待函数
func WithPageSleeper(sleep func(ctx context.Context, d time.Duration) error) Option {
	return func(f *SourceFetcher) {
		if sleep != nil {
			f.sleep = sleep
		}
	}
}

// New 通过协议查找表为数据源构造采集器
func New(src source.Config, limiter *ratelimit.Limiter, deps Deps, opts ...Option) (*SourceFetcher, error) {
	adapter, err := AdapterFor(src.Kind, deps)
	if err != nil {
		return nil, fmt.Errorf("source %s: %w", src.ID, err)
	}
	if deps.Logger != nil {
		opts = append([]Option{WithLogger(deps.Logger)}, opts...)
	}
	return NewWithAdapter(src, adapter, limiter, opts...), nil
}

// NewWithAdapter 使用指定适配器构造采集器
func NewWithAdapter(src source.Config, adapter Adapter, limiter *ratelimit.Limiter, opts ...Option) *SourceFetcher {
	if limiter == nil {
		limiter = ratelimit.New()
	}
	f := &SourceFetcher{
		src:     src,
		adapter: adapter,
		limiter: limiter,
		now:     time.Now,
		sleep:   sleepContext,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

func (f *SourceFetcher) Source() source.Config { return f.src }

// Fetch 采集一次；不满足限流间隔时直接返回空结果并标注等待时长
func (f *SourceFetcher) Fetch(ctx context.Context) Result {
	if res, ok := f.gate(); !ok {
		return res
	}
	start := f.now()
	articles, err := f.callWithThrottleRetry(ctx, func(ctx context.Context) ([]Article, error) {
		return f.adapter.FetchArticles(ctx, f.src)
	})
	return f.finish(start, articles, err)
}

// FetchPages 在单个任务内顺序取多页，页与页之间等待 delay。
// 某页条数不足 pageSize、游标为空或达到 maxPages 时停止。
func (f *SourceFetcher) FetchPages(ctx context.Context, maxPages int, delay time.Duration) Result {
	pa, ok := f.adapter.(PageAdapter)
	if !ok || maxPages <= 1 {
		return f.Fetch(ctx)
	}
	if res, ok := f.gate(); !ok {
		return res
	}

	pageSize := f.src.PageSize
	if pageSize <= 0 {
		pageSize = f.maxArticles()
	}

	start := f.now()
	var (
		all    []Article
		cursor string
	)
	for page := 0; page < maxPages; page++ {
		if page > 0 {
			if err := f.sleep(ctx, delay); err != nil {
				break
			}
		}
		var next string
		items, err := f.callWithThrottleRetry(ctx, func(ctx context.Context) ([]Article, error) {
			items, n, err := pa.FetchPage(ctx, f.src, cursor, pageSize)
			next = n
			return items, err
		})
		if err != nil {
			if page == 0 {
				return f.finish(start, nil, err)
			}
			f.logger.Warn("page fetch failed, keeping earlier pages",
				"source", f.src.ID, "page", page+1, "error", err)
			break
		}
		all = append(all, items...)
		if len(items) < pageSize || next == "" {
			break
		}
		cursor = next
	}
	return f.finishCapped(start, all, nil, pageSize*maxPages)
}

func (f *SourceFetcher) gate() (Result, bool) {
	// 检查与占位是原子的，同一个源被多个聚合同时调用时只有一个会真正发出请求
	next, ok := f.limiter.Reserve(f.src.ID, f.src.UpdateFrequency)
	if ok {
		return Result{}, true
	}
	st, _ := f.limiter.Snapshot(f.src.ID)
	wait := f.limiter.Wait(f.src.ID, f.src.UpdateFrequency)
	f.logger.Debug("source not due yet", "source", f.src.ID, "wait", wait)
	return Result{
		LastFetchTime: st.LastFetch,
		NextFetchTime: next,
		Wait:          wait,
		Skipped:       true,
	}, false
}

// callWithThrottleRetry 每次调用单独计时；遇到限流信号先退避再重试一次
func (f *SourceFetcher) callWithThrottleRetry(ctx context.Context, call func(context.Context) ([]Article, error)) ([]Article, error) {
	articles, err := f.callWithTimeout(ctx, call)
	var rle *RateLimitError
	if !errors.As(err, &rle) {
		return articles, err
	}
	if werr := f.limiter.WaitWithBackoff(ctx, f.src.ID, retryCountFor(rle.RetryAfter)); werr != nil {
		return nil, err
	}
	return f.callWithTimeout(ctx, call)
}

func (f *SourceFetcher) callWithTimeout(ctx context.Context, call func(context.Context) ([]Article, error)) ([]Article, error) {
	ctx, cancel := context.WithTimeout(ctx, f.timeout())
	defer cancel()
	return call(ctx)
}

func (f *SourceFetcher) finish(start time.Time, articles []Article, err error) Result {
	return f.finishCapped(start, articles, err, f.maxArticles())
}

func (f *SourceFetcher) finishCapped(start time.Time, articles []Article, err error, limit int) Result {
	id := f.src.ID
	freq := f.src.UpdateFrequency

	if err != nil {
		f.limiter.RecordFetch(id, start, time.Time{})
		f.limiter.RecordError(id)
		f.logger.Warn("fetch source failed", "source", id, "category", f.src.Category, "error", err)
		return Result{
			LastFetchTime: start,
			NextFetchTime: f.limiter.NextFetchTime(id, freq),
			Err:           err,
		}
	}

	if limit > 0 && len(articles) > limit {
		articles = articles[:limit]
	}
	out := make([]Article, 0, len(articles))
	for i, a := range articles {
		a.Title = strings.TrimSpace(a.Title)
		a.URL = strings.TrimSpace(a.URL)
		if a.Title == "" || a.URL == "" {
			continue
		}
		if a.PublishedAt.IsZero() {
			a.PublishedAt = start.Add(-time.Duration(i) * publishedFallbackStep)
		}
		if a.Source == "" {
			a.Source = f.src.Name
		}
		a.SourceID = id
		if a.Category == "" {
			a.Category = f.src.Category
		}
		a.CanonicalKey = urlnorm.Key(a.URL)
		if a.ID == "" {
			a.ID = urlnorm.Hash(a.URL)
		}
		out = append(out, a)
	}

	var updated time.Time
	if f.contentChanged(out) {
		updated = start
	}
	f.limiter.RecordFetch(id, start, updated)
	f.logger.Info("fetch source done", "source", id, "articles", len(out), "changed", !updated.IsZero())

	return Result{
		Articles:      out,
		LastFetchTime: start,
		NextFetchTime: f.limiter.NextFetchTime(id, freq),
	}
}

// contentChanged 用本次结果的规范 URL 摘要判断内容是否变化
func (f *SourceFetcher) contentChanged(articles []Article) bool {
	h := sha1.New()
	for _, a := range articles {
		h.Write([]byte(a.CanonicalKey))
		h.Write([]byte{'\n'})
	}
	digest := hex.EncodeToString(h.Sum(nil))

	f.mu.Lock()
	defer f.mu.Unlock()
	if digest == f.lastDigest {
		return false
	}
	f.lastDigest = digest
	return true
}

func (f *SourceFetcher) maxArticles() int {
	if f.src.MaxArticles > 0 {
		return f.src.MaxArticles
	}
	if n, ok := defaultMaxArticles[f.src.Kind]; ok {
		return n
	}
	return 20
}

func (f *SourceFetcher) timeout() time.Duration {
	d := f.src.Timeout
	if d <= 0 {
		return defaultTimeout
	}
	if d < minTimeout {
		return minTimeout
	}
	if d > maxTimeout {
		return maxTimeout
	}
	return d
}

// retryCountFor 选取不小于 Retry-After 的最小退避次数
func retryCountFor(retryAfter time.Duration) int {
	n := 0
	for ratelimit.BackoffDelay(n) < retryAfter && ratelimit.BackoffDelay(n) < ratelimit.BackoffMax {
		n++
	}
	return n
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

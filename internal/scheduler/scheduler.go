package scheduler

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/LJTian/ArticleHub/internal/aggregator"
	"github.com/LJTian/ArticleHub/internal/collector"
)

// Aggregate 定时任务依赖的聚合能力
type Aggregate interface {
	AggregateSources(ctx context.Context, category string, opts aggregator.Options) []collector.Article
	Categories() []string
}

// Archiver 可选的持久化归档
type Archiver interface {
	SaveBatch(ctx context.Context, items []collector.Article) error
}

// 单个分类一轮刷新的最长时间
const runTimeout = 5 * time.Minute

type Scheduler struct {
	cron         *cron.Cron
	agg          Aggregate
	archive      Archiver
	opts         aggregator.Options
	startupDelay time.Duration
	logger       *slog.Logger

	running sync.Mutex
}

type Option func(*Scheduler)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Scheduler) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithArchive 每轮刷新后把结果写入归档
func WithArchive(a Archiver) Option {
	return func(s *Scheduler) { s.archive = a }
}

// WithAggregateOptions 定时刷新使用的聚合选项，ForceRefresh 总是开启
func WithAggregateOptions(o aggregator.Options) Option {
	return func(s *Scheduler) { s.opts = o }
}

// WithStartupDelay 首轮刷新的延迟
func WithStartupDelay(d time.Duration) Option {
	return func(s *Scheduler) { s.startupDelay = d }
}

func New(spec string, agg Aggregate, opts ...Option) (*Scheduler, error) {
	s := &Scheduler{
		cron:         cron.New(),
		agg:          agg,
		startupDelay: 15 * time.Second,
		logger:       slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.opts.ForceRefresh = true

	if _, err := s.cron.AddFunc(spec, func() { s.RunOnce(context.Background()) }); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Scheduler) Start() {
	s.cron.Start()
	// 延迟执行首轮刷新，避免与服务启动后的首批请求争抢资源
	time.AfterFunc(s.startupDelay, func() {
		s.RunOnce(context.Background())
	})
}

// Stop 停止调度，返回的 context 在进行中的任务结束后关闭
func (s *Scheduler) Stop() context.Context {
	return s.cron.Stop()
}

// RunOnce 刷新所有分类；上一轮未结束时直接跳过
func (s *Scheduler) RunOnce(ctx context.Context) {
	if !s.running.TryLock() {
		s.logger.Warn("previous refresh still running, skip")
		return
	}
	defer s.running.Unlock()

	categories := s.agg.Categories()
	s.logger.Info("start refresh job", "categories", len(categories))

	var wg sync.WaitGroup
	for _, category := range categories {
		wg.Add(1)
		go func(category string) {
			defer wg.Done()
			ctx, cancel := context.WithTimeout(ctx, runTimeout)
			defer cancel()

			articles := s.agg.AggregateSources(ctx, category, s.opts)
			if len(articles) == 0 {
				s.logger.Info("refresh got 0 articles", "category", category)
				return
			}
			if s.archive == nil {
				return
			}
			if err := s.archive.SaveBatch(ctx, articles); err != nil {
				s.logger.Error("archive batch failed", "category", category, "error", err)
				return
			}
			// 条数 = 本轮聚合结果数量（已存在的会更新，非新增数）
			s.logger.Info("category refreshed", "category", category, "archived", len(articles))
		}(category)
	}
	wg.Wait()
	s.logger.Info("refresh job done")
}

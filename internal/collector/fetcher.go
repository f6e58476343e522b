package collector

import (
	"context"
	"time"

	"github.com/LJTian/ArticleHub/internal/source"
)

// Article 统一采集后的文章结构
type Article struct {
	// ID 优先使用源的原生 ID，没有时为规范 URL 的哈希
	ID           string    `json:"id"`
	Title        string    `json:"title"`
	URL          string    `json:"url"`
	CanonicalKey string    `json:"canonicalKey"`
	Source       string    `json:"source"`
	SourceID     string    `json:"sourceId"`
	Category     string    `json:"category"`
	Author       string    `json:"author,omitempty"`
	PublishedAt  time.Time `json:"publishedAt"`
	Excerpt      string    `json:"excerpt,omitempty"`
	Links        []string  `json:"links,omitempty"`
	Score        float64   `json:"score,omitempty"`
	// CachedAt 写入缓存的时间，未缓存时为零值
	CachedAt time.Time `json:"cachedAt,omitempty"`
}

// Result 单个数据源一次采集的结果
type Result struct {
	Articles      []Article
	LastFetchTime time.Time
	NextFetchTime time.Time
	// Wait 因限流跳过时，距离下次允许采集的时长
	Wait    time.Duration
	Skipped bool
	Err     error
}

// Fetcher 抽象每一个数据源
type Fetcher interface {
	Source() source.Config
	Fetch(ctx context.Context) Result
}

// Pager 支持按游标分页采集的数据源
type Pager interface {
	Fetcher
	FetchPages(ctx context.Context, maxPages int, delay time.Duration) Result
}

// Adapter 把某种协议的原始响应解析为文章，不关心限流与上限
type Adapter interface {
	FetchArticles(ctx context.Context, src source.Config) ([]Article, error)
}

// PageAdapter 能够按游标取单页；返回的 next 为空表示没有更多
type PageAdapter interface {
	Adapter
	FetchPage(ctx context.Context, src source.Config, cursor string, pageSize int) (articles []Article, next string, err error)
}

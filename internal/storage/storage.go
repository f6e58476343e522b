package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"gorm.io/datatypes"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/LJTian/ArticleHub/internal/collector"
	"github.com/LJTian/ArticleHub/internal/source"
	"github.com/LJTian/ArticleHub/internal/urlnorm"
)

// SourceRecord 已登记的数据源，例如 hn-frontpage / go-blog
type SourceRecord struct {
	ID       uint   `gorm:"primaryKey" json:"id"`
	Code     string `gorm:"size:64;uniqueIndex" json:"code"` // source.Config.ID
	Name     string `gorm:"size:128" json:"name"`
	Kind     string `gorm:"size:32" json:"kind"`
	Endpoint string `gorm:"size:512" json:"endpoint"`
	Category string `gorm:"size:64;index" json:"category"`
	Status   string `gorm:"size:32;index" json:"status"` // active / disabled

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

func (SourceRecord) TableName() string { return "sources" }

// ArticleRecord 归档的文章，以规范 URL 为幂等键
type ArticleRecord struct {
	ID           string `gorm:"primaryKey;size:40" json:"id"` // 规范 URL 的 sha1
	CanonicalKey string `gorm:"size:1024;uniqueIndex" json:"canonicalKey"`
	NativeID     string `gorm:"size:128" json:"nativeId"`
	Title        string `gorm:"size:512" json:"title"`
	URL          string `gorm:"size:1024" json:"url"`
	SourceID     string `gorm:"size:64;index" json:"sourceId"`
	Source       string `gorm:"size:128" json:"source"`
	Category     string `gorm:"size:64;index" json:"category"`
	Author       string `gorm:"size:128" json:"author"`
	// 摘要按 rune 截断，不超过 varchar(600)
	Excerpt       string         `gorm:"size:600" json:"excerpt"`
	PublishedAt   time.Time      `gorm:"index" json:"publishedAt"`
	PublishedDate string         `gorm:"size:10;index" json:"publishedDate"` // YYYY-MM-DD，按日期筛选
	Score         float64        `gorm:"index" json:"score"`
	Links         datatypes.JSON `gorm:"type:jsonb" json:"links"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

func (ArticleRecord) TableName() string { return "articles" }

const (
	excerptLimit = 600
	listCacheTTL = 5 * time.Minute
)

type Store struct {
	DB     *gorm.DB
	Redis  *redis.Client
	logger *slog.Logger
}

// NewStore 连接 Postgres 并迁移表结构；redisAddr 为空时不使用列表缓存
func NewStore(dsn, redisAddr string, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{})
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if err := db.AutoMigrate(&SourceRecord{}, &ArticleRecord{}); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}

	s := &Store{DB: db, logger: logger}
	if redisAddr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: redisAddr})
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		if err := rdb.Ping(ctx).Err(); err != nil {
			logger.Warn("redis ping failed", "addr", redisAddr, "error", err)
		}
		s.Redis = rdb
	}
	return s, nil
}

// EnsureSource 确保数据源已登记，已存在时同步名称、地址与状态
func (s *Store) EnsureSource(ctx context.Context, cfg source.Config) (*SourceRecord, error) {
	status := "active"
	if !cfg.Enabled {
		status = "disabled"
	}

	rec := &SourceRecord{}
	err := s.DB.WithContext(ctx).Where("code = ?", cfg.ID).First(rec).Error
	if err == nil {
		updates := map[string]any{
			"name":     cfg.Name,
			"kind":     string(cfg.Kind),
			"endpoint": cfg.Endpoint,
			"category": cfg.Category,
			"status":   status,
		}
		if err := s.DB.WithContext(ctx).Model(rec).Updates(updates).Error; err != nil {
			return nil, fmt.Errorf("update source %s: %w", cfg.ID, err)
		}
		return rec, nil
	}

	rec = &SourceRecord{
		Code:     cfg.ID,
		Name:     cfg.Name,
		Kind:     string(cfg.Kind),
		Endpoint: cfg.Endpoint,
		Category: cfg.Category,
		Status:   status,
	}
	if err := s.DB.WithContext(ctx).Create(rec).Error; err != nil {
		return nil, fmt.Errorf("create source %s: %w", cfg.ID, err)
	}
	return rec, nil
}

// 东八区，用于日期展示与筛选
var locEast8 *time.Location

func init() {
	locEast8, _ = time.LoadLocation("Asia/Shanghai")
	if locEast8 == nil {
		locEast8 = time.FixedZone("CST", 8*3600)
	}
}

// toValidUTF8 将字符串规范为合法 UTF-8，避免 PostgreSQL invalid byte sequence 错误
func toValidUTF8(s string) string {
	return strings.ToValidUTF8(s, "\uFFFD")
}

// truncateRunesDB 按 rune 数截断字符串，确保不会超过数据库字段长度（例如 varchar(600)）
func truncateRunesDB(s string, limit int) string {
	if limit <= 0 {
		return ""
	}
	s = strings.TrimSpace(s)
	if s == "" {
		return ""
	}
	rs := []rune(s)
	if len(rs) <= limit {
		return s
	}
	return string(rs[:limit])
}

// toRecord 把聚合结果转换为归档记录
func toRecord(a collector.Article) ArticleRecord {
	key := a.CanonicalKey
	if key == "" {
		key = urlnorm.Key(a.URL)
	}
	links := a.Links
	if links == nil {
		links = []string{}
	}
	rawLinks, _ := json.Marshal(links)

	return ArticleRecord{
		ID:            urlnorm.Hash(key),
		CanonicalKey:  key,
		NativeID:      truncateRunesDB(a.ID, 128),
		Title:         truncateRunesDB(toValidUTF8(a.Title), 512),
		URL:           a.URL,
		SourceID:      a.SourceID,
		Source:        a.Source,
		Category:      a.Category,
		Author:        truncateRunesDB(toValidUTF8(a.Author), 128),
		Excerpt:       truncateRunesDB(toValidUTF8(a.Excerpt), excerptLimit),
		PublishedAt:   a.PublishedAt,
		PublishedDate: a.PublishedAt.In(locEast8).Format("2006-01-02"),
		Score:         a.Score,
		Links:         datatypes.JSON(rawLinks),
	}
}

// ToArticle 把归档记录还原为文章
func (r ArticleRecord) ToArticle() collector.Article {
	var links []string
	if len(r.Links) > 0 {
		_ = json.Unmarshal(r.Links, &links)
	}
	return collector.Article{
		ID:           r.NativeID,
		Title:        r.Title,
		URL:          r.URL,
		CanonicalKey: r.CanonicalKey,
		Source:       r.Source,
		SourceID:     r.SourceID,
		Category:     r.Category,
		Author:       r.Author,
		PublishedAt:  r.PublishedAt,
		Excerpt:      r.Excerpt,
		Links:        links,
		Score:        r.Score,
	}
}

// SaveBatch 归档一批文章；以规范 URL 为幂等键，已存在时更新标题、摘要与分数
func (s *Store) SaveBatch(ctx context.Context, items []collector.Article) error {
	db := s.DB.WithContext(ctx)
	for _, it := range items {
		rec := toRecord(it)
		if rec.CanonicalKey == "" {
			continue
		}
		if err := db.Where("canonical_key = ?", rec.CanonicalKey).FirstOrCreate(&rec).Error; err != nil {
			return fmt.Errorf("save article %s: %w", rec.CanonicalKey, err)
		}
		if err := db.Model(&rec).Updates(map[string]any{
			"title":          truncateRunesDB(toValidUTF8(it.Title), 512),
			"excerpt":        truncateRunesDB(toValidUTF8(it.Excerpt), excerptLimit),
			"score":          it.Score,
			"published_at":   it.PublishedAt,
			"published_date": it.PublishedAt.In(locEast8).Format("2006-01-02"),
		}).Error; err != nil {
			s.logger.Warn("update archived article failed", "key", rec.CanonicalKey, "error", err)
		}
	}
	// 列表缓存不做通配删除，依赖短 TTL 自然过期
	return nil
}

// ListArticles 按分类与可选日期（2006-01-02）返回归档文章，按发布时间倒序，
// 结果在 Redis 中缓存 5 分钟
func (s *Store) ListArticles(ctx context.Context, category string, limit int, date string) ([]ArticleRecord, error) {
	if limit <= 0 || limit > 1000 {
		limit = 20
	}
	cacheKey := fmt.Sprintf("articles:list:%s:%d:%s", strings.ToLower(category), limit, date)

	if s.Redis != nil {
		if bs, err := s.Redis.Get(ctx, cacheKey).Bytes(); err == nil {
			var cached []ArticleRecord
			if err := json.Unmarshal(bs, &cached); err == nil {
				return cached, nil
			}
		}
	}

	db := s.DB.WithContext(ctx).Model(&ArticleRecord{})
	if category != "" {
		db = db.Where("LOWER(category) = ?", strings.ToLower(category))
	}
	if date != "" {
		db = db.Where("published_date = ?", date)
	}
	var list []ArticleRecord
	if err := db.Order("published_at DESC").Limit(limit).Find(&list).Error; err != nil {
		return nil, fmt.Errorf("list articles: %w", err)
	}

	if s.Redis != nil && len(list) > 0 {
		if bs, err := json.Marshal(list); err == nil {
			_ = s.Redis.Set(ctx, cacheKey, bs, listCacheTTL).Err()
		}
	}
	return list, nil
}

// ListPublishedDates 返回有归档数据的日期（倒序）
func (s *Store) ListPublishedDates(ctx context.Context, category string, limit int) ([]string, error) {
	if limit <= 0 || limit > 365 {
		limit = 31
	}
	db := s.DB.WithContext(ctx).Model(&ArticleRecord{}).Distinct("published_date")
	if category != "" {
		db = db.Where("LOWER(category) = ?", strings.ToLower(category))
	}
	var dates []string
	if err := db.Order("published_date DESC").Limit(limit).Pluck("published_date", &dates).Error; err != nil {
		return nil, fmt.Errorf("list dates: %w", err)
	}
	return dates, nil
}

package api

import (
	"context"
	"crypto/subtle"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/LJTian/ArticleHub/internal/aggregator"
	"github.com/LJTian/ArticleHub/internal/collector"
	"github.com/LJTian/ArticleHub/internal/storage"
)

// Articles 查询接口依赖的聚合能力
type Articles interface {
	AggregateSources(ctx context.Context, category string, opts aggregator.Options) []collector.Article
	Sources(category string) []aggregator.SourceStatus
	Categories() []string
	LastRun(category string) (aggregator.RunStats, bool)
}

// Archive 可选的归档查询
type Archive interface {
	ListArticles(ctx context.Context, category string, limit int, date string) ([]storage.ArticleRecord, error)
	ListPublishedDates(ctx context.Context, category string, limit int) ([]string, error)
}

type Server struct {
	articles Articles
	archive  Archive
	logger   *slog.Logger
}

// NewServer archive 为 nil 时 /api/v1/archive 返回 503
func NewServer(articles Articles, archive Archive, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{articles: articles, archive: archive, logger: logger}
}

func (s *Server) RegisterRoutes(r *gin.Engine) {
	r.GET("/health", s.health)

	v1 := r.Group("/api/v1")
	{
		v1.GET("/articles", s.listArticles)
		v1.GET("/sources", s.listSources)
		v1.GET("/archive", s.listArchive)
		v1.GET("/archive/dates", s.listArchiveDates)
	}
}

func (s *Server) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func queryFlag(c *gin.Context, key string) bool {
	switch c.Query(key) {
	case "1", "true", "yes":
		return true
	}
	return false
}

func (s *Server) listArticles(c *gin.Context) {
	category := c.Query("category")
	opts := aggregator.Options{
		ExtractLinks:  queryFlag(c, "links"),
		UsePagination: queryFlag(c, "paginate"),
		ForceRefresh:  queryFlag(c, "refresh"),
	}

	items := s.articles.AggregateSources(c.Request.Context(), category, opts)
	if items == nil {
		items = []collector.Article{}
	}
	c.JSON(http.StatusOK, gin.H{
		"code":    "ok",
		"message": "success",
		"data":    items,
	})
}

func (s *Server) listSources(c *gin.Context) {
	category := c.Query("category")
	data := gin.H{
		"sources":    s.articles.Sources(category),
		"categories": s.articles.Categories(),
	}
	if st, ok := s.articles.LastRun(category); ok {
		data["lastRun"] = st
	}
	c.JSON(http.StatusOK, gin.H{
		"code":    "ok",
		"message": "success",
		"data":    data,
	})
}

func (s *Server) archiveDisabled(c *gin.Context) bool {
	if s.archive != nil {
		return false
	}
	c.JSON(http.StatusServiceUnavailable, gin.H{
		"code":    "archive_disabled",
		"message": "archive is not configured",
	})
	return true
}

func queryLimit(c *gin.Context, def int) int {
	limit, err := strconv.Atoi(c.Query("limit"))
	if err != nil || limit <= 0 {
		return def
	}
	return limit
}

func (s *Server) listArchive(c *gin.Context) {
	if s.archiveDisabled(c) {
		return
	}
	limit := queryLimit(c, 20)

	records, err := s.archive.ListArticles(c.Request.Context(), c.Query("category"), limit, c.Query("date"))
	if err != nil {
		s.logger.Error("list archive failed", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{
			"code":    "internal_error",
			"message": "internal server error",
		})
		return
	}
	items := make([]collector.Article, 0, len(records))
	for _, r := range records {
		items = append(items, r.ToArticle())
	}
	c.JSON(http.StatusOK, gin.H{
		"code":    "ok",
		"message": "success",
		"data":    items,
	})
}

// listArchiveDates 返回有归档数据的日期（东八区），用于按天浏览
func (s *Server) listArchiveDates(c *gin.Context) {
	if s.archiveDisabled(c) {
		return
	}
	dates, err := s.archive.ListPublishedDates(c.Request.Context(), c.Query("category"), queryLimit(c, 30))
	if err != nil {
		s.logger.Error("list archive dates failed", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{
			"code":    "internal_error",
			"message": "internal server error",
		})
		return
	}
	if dates == nil {
		dates = []string{}
	}
	c.JSON(http.StatusOK, gin.H{
		"code":    "ok",
		"message": "success",
		"data":    dates,
	})
}

// BasicAuth 为整个站点增加一个简单的 Basic Auth 访问密码。
// /health 不做认证，便于健康检查。
func BasicAuth(user, pass string) gin.HandlerFunc {
	const realm = "Restricted"
	uBytes := []byte(user)
	pBytes := []byte(pass)

	return func(c *gin.Context) {
		if c.Request.URL.Path == "/health" {
			c.Next()
			return
		}
		u, p, ok := c.Request.BasicAuth()
		if !ok ||
			subtle.ConstantTimeCompare([]byte(u), uBytes) != 1 ||
			subtle.ConstantTimeCompare([]byte(p), pBytes) != 1 {
			c.Header("WWW-Authenticate", `Basic realm="`+realm+`"`)
			c.AbortWithStatus(http.StatusUnauthorized)
			return
		}
		c.Next()
	}
}

package proxytext

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/mmcdole/gofeed"
)

const (
	defaultMaxEntries = 20
	maxEntriesLimit   = 100
	fetchTimeout      = 20 * time.Second
)

// FeedReader 读取一个 feed 地址并返回标题与条目
type FeedReader interface {
	ReadFeed(ctx context.Context, url string, limit int) (string, []Entry, error)
}

// GofeedReader 基于 gofeed 的 FeedReader
type GofeedReader struct {
	parser *gofeed.Parser
}

func NewGofeedReader(client *http.Client) *GofeedReader {
	p := gofeed.NewParser()
	if client != nil {
		p.Client = client
	}
	p.UserAgent = "ArticleHubProxy/1.0"
	return &GofeedReader{parser: p}
}

func (r *GofeedReader) ReadFeed(ctx context.Context, url string, limit int) (string, []Entry, error) {
	ctx, cancel := context.WithTimeout(ctx, fetchTimeout)
	defer cancel()

	feed, err := r.parser.ParseURLWithContext(url, ctx)
	if err != nil {
		return "", nil, fmt.Errorf("fetch feed %s: %w", url, err)
	}
	entries := make([]Entry, 0, len(feed.Items))
	for _, it := range feed.Items {
		if len(entries) >= limit {
			break
		}
		e := Entry{Title: it.Title, Link: it.Link, Summary: it.Description}
		if it.PublishedParsed != nil {
			e.Published = *it.PublishedParsed
		} else if it.UpdatedParsed != nil {
			e.Published = *it.UpdatedParsed
		}
		entries = append(entries, e)
	}
	return feed.Title, entries, nil
}

// Server 参考实现：以 JSON-RPC 暴露 fetch_feed 工具，返回本协议格式的文本
type Server struct {
	reader FeedReader
	logger *slog.Logger
}

func NewServer(reader FeedReader, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{reader: reader, logger: logger}
}

func (s *Server) RegisterRoutes(r *gin.Engine) {
	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "protocol": "proxytext/v" + Version})
	})
	r.POST("/rpc", s.handleRPC)
}

func (s *Server) handleRPC(c *gin.Context) {
	var req Request
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusOK, Response{JSONRPC: "2.0", Error: &RPCError{Code: CodeParseError, Message: "parse error"}})
		return
	}
	if req.JSONRPC != "2.0" {
		c.JSON(http.StatusOK, Response{JSONRPC: "2.0", ID: req.ID, Error: &RPCError{Code: CodeInvalidRequest, Message: "jsonrpc must be 2.0"}})
		return
	}
	if req.Method != MethodToolsCall {
		c.JSON(http.StatusOK, Response{JSONRPC: "2.0", ID: req.ID, Error: &RPCError{Code: CodeMethodNotFound, Message: "method not found: " + req.Method}})
		return
	}

	var params ToolCallParams
	if err := json.Unmarshal(req.Params, &params); err != nil || params.Name != ToolFetchFeed || strings.TrimSpace(params.Arguments.URL) == "" {
		c.JSON(http.StatusOK, Response{JSONRPC: "2.0", ID: req.ID, Error: &RPCError{Code: CodeInvalidParams, Message: "invalid params"}})
		return
	}

	limit := params.Arguments.MaxEntries
	if limit <= 0 {
		limit = defaultMaxEntries
	}
	if limit > maxEntriesLimit {
		limit = maxEntriesLimit
	}

	title, entries, err := s.reader.ReadFeed(c.Request.Context(), params.Arguments.URL, limit)
	if err != nil {
		s.logger.Warn("proxy fetch failed", "url", params.Arguments.URL, "error", err)
		c.JSON(http.StatusOK, Response{JSONRPC: "2.0", ID: req.ID, Result: &ToolResult{
			Content: []Content{{Type: "text", Text: err.Error()}},
			IsError: true,
		}})
		return
	}

	s.logger.Info("proxy fetch done", "url", params.Arguments.URL, "entries", len(entries))
	c.JSON(http.StatusOK, Response{JSONRPC: "2.0", ID: req.ID, Result: &ToolResult{
		Content: []Content{{Type: "text", Text: Render(title, entries)}},
	}})
}

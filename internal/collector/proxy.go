package collector

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/LJTian/ArticleHub/internal/proxytext"
	"github.com/LJTian/ArticleHub/internal/source"
	"github.com/LJTian/ArticleHub/internal/urlnorm"
)

// ProxyTextAdapter 通过远程抓取代理（JSON-RPC tools/call）获取 feed，
// 响应正文为 proxytext 协议的文本。src.Endpoint 为代理地址，src.Query 为目标 feed。
type ProxyTextAdapter struct {
	client *http.Client
}

func NewProxyTextAdapter(client *http.Client) *ProxyTextAdapter {
	if client == nil {
		client = &http.Client{}
	}
	return &ProxyTextAdapter{client: client}
}

func (a *ProxyTextAdapter) FetchArticles(ctx context.Context, src source.Config) ([]Article, error) {
	if strings.TrimSpace(src.Endpoint) == "" {
		return nil, &NetworkError{Source: src.ID, Err: errors.New("proxy endpoint not configured")}
	}
	target := src.Query
	if target == "" {
		return nil, fmt.Errorf("%s: proxy source has no target feed url", src.ID)
	}
	limit := src.MaxArticles
	if limit <= 0 {
		limit = defaultMaxArticles[source.KindProxyText]
	}

	params := proxytext.ToolCallParams{
		Name:      proxytext.ToolFetchFeed,
		Arguments: proxytext.FetchFeedArgs{URL: target, MaxEntries: limit},
	}
	req := map[string]any{
		"jsonrpc": "2.0",
		"id":      uuid.NewString(),
		"method":  proxytext.MethodToolsCall,
		"params":  params,
	}

	var resp proxytext.Response
	if err := postJSON(ctx, a.client, src, src.Endpoint, req, &resp); err != nil {
		return nil, err
	}
	if resp.Error != nil {
		return nil, &NetworkError{Source: src.ID, Err: fmt.Errorf("proxy rpc error %d: %w", resp.Error.Code, resp.Error)}
	}
	if resp.Result == nil {
		return nil, &ParseError{Source: src.ID, Err: errors.New("proxy response has no result")}
	}
	text := resp.Result.Text()
	if resp.Result.IsError {
		return nil, &NetworkError{Source: src.ID, Err: fmt.Errorf("proxy tool error: %s", text)}
	}
	if v := proxytext.DetectVersion(text); v != proxytext.Version {
		return nil, &ParseError{Source: src.ID, Err: fmt.Errorf("unsupported proxytext version %q", v)}
	}

	entries := proxytext.Parse(text)
	out := make([]Article, 0, len(entries))
	for _, e := range entries {
		out = append(out, Article{
			Title:       e.Title,
			URL:         e.Link,
			PublishedAt: e.Published,
			Excerpt:     truncateRunes(stripHTML(e.Summary), feedExcerptRunes),
			Links:       urlnorm.ExtractLinks(e.Summary),
		})
	}
	return out, nil
}

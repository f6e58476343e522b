package collector

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/gocolly/colly/v2"

	"github.com/LJTian/ArticleHub/internal/source"
)

// htmlDialect 针对某个页面结构注册 colly 回调，把解析结果追加到 out
type htmlDialect func(c *colly.Collector, out *[]Article)

var htmlDialects = map[string]htmlDialect{
	"github_trending": scrapeGitHubTrending,
}

// HTMLAdapter 用 colly 抓取页面并按 Format 选择解析方式
type HTMLAdapter struct {
	logger *slog.Logger
}

func NewHTMLAdapter(logger *slog.Logger) *HTMLAdapter {
	if logger == nil {
		logger = slog.Default()
	}
	return &HTMLAdapter{logger: logger}
}

func (a *HTMLAdapter) FetchArticles(ctx context.Context, src source.Config) ([]Article, error) {
	dialect, ok := htmlDialects[src.Format]
	if !ok {
		return nil, fmt.Errorf("%s: unsupported html format %q", src.ID, src.Format)
	}
	u, err := url.Parse(src.Endpoint)
	if err != nil || u.Hostname() == "" {
		return nil, fmt.Errorf("%s: invalid endpoint %q", src.ID, src.Endpoint)
	}

	c := colly.NewCollector(
		colly.AllowedDomains(u.Hostname()),
		colly.UserAgent(userAgent),
	)
	timeout := defaultTimeout
	if deadline, ok := ctx.Deadline(); ok {
		timeout = time.Until(deadline)
		if timeout <= 0 {
			return nil, &NetworkError{Source: src.ID, Err: ctx.Err()}
		}
	}
	c.SetRequestTimeout(timeout)

	var (
		results []Article
		failure error
	)
	c.OnError(func(r *colly.Response, err error) {
		if r == nil || r.StatusCode == 0 {
			failure = &NetworkError{Source: src.ID, Err: err}
			return
		}
		resp := &http.Response{StatusCode: r.StatusCode, Header: http.Header{}}
		if r.Headers != nil {
			resp.Header = *r.Headers
		}
		if isThrottled(resp) {
			failure = &RateLimitError{
				Source:     src.ID,
				Status:     r.StatusCode,
				RetryAfter: parseRetryAfter(resp.Header.Get("Retry-After"), time.Now()),
			}
			return
		}
		failure = &NetworkError{Source: src.ID, Status: r.StatusCode, Err: err}
	})
	dialect(c, &results)

	if err := c.Visit(src.Endpoint); err != nil && failure == nil {
		failure = &NetworkError{Source: src.ID, Err: err}
	}
	if failure != nil {
		return nil, failure
	}
	if len(results) == 0 {
		a.logger.Info("html source got 0 items", "source", src.ID)
	}
	return results, nil
}

// scrapeGitHubTrending 解析 GitHub Trending 页面，仓库简介（p 标签）作为摘要
func scrapeGitHubTrending(c *colly.Collector, out *[]Article) {
	c.OnHTML("article.Box-row", func(e *colly.HTMLElement) {
		titleSel := e.DOM.Find("h2 a")
		if titleSel.Length() == 0 {
			return
		}
		href, exists := titleSel.Attr("href")
		if !exists {
			return
		}
		repoName := strings.Join(strings.Fields(titleSel.Text()), "")

		starsText := strings.TrimSpace(e.ChildText("a[href$=\"/stargazers\"]"))
		*out = append(*out, Article{
			Title:   repoName,
			URL:     e.Request.AbsoluteURL(strings.TrimSpace(href)),
			Author:  ownerFromRepo(repoName),
			Excerpt: strings.TrimSpace(e.ChildText("p")),
			Score:   float64(parseStars(starsText)),
			Links:   builtByLinks(e.DOM, e.Request),
		})
	})
}

func ownerFromRepo(repo string) string {
	if i := strings.Index(repo, "/"); i > 0 {
		return repo[:i]
	}
	return ""
}

// builtByLinks 收集 "Built by" 区域的贡献者主页
func builtByLinks(sel *goquery.Selection, req *colly.Request) []string {
	var links []string
	sel.Find("span a[data-hovercard-type=\"user\"]").Each(func(_ int, s *goquery.Selection) {
		if href, ok := s.Attr("href"); ok {
			links = append(links, req.AbsoluteURL(href))
		}
	})
	return links
}

// parseStars 将 "12.3k" 之类的文本解析为整数
func parseStars(text string) int {
	text = strings.ReplaceAll(text, ",", "")
	text = strings.TrimSpace(text)
	if text == "" {
		return 0
	}

	multiplier := 1.0
	if strings.HasSuffix(text, "k") || strings.HasSuffix(text, "K") {
		multiplier = 1000
		text = strings.TrimSuffix(strings.TrimSuffix(text, "k"), "K")
	}

	f, err := strconv.ParseFloat(strings.TrimSpace(text), 64)
	if err != nil {
		return 0
	}
	return int(f * multiplier)
}

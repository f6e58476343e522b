package collector

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/LJTian/ArticleHub/internal/source"
	"github.com/LJTian/ArticleHub/internal/urlnorm"
)

const (
	hnConcurrency  = 10
	hnDefaultItems = 30
)

// restDialect 一种 REST 接口的解析方式；page 为 nil 表示不支持分页
type restDialect struct {
	fetch func(ctx context.Context, a *RESTAdapter, src source.Config, limit int) ([]Article, error)
	page  func(ctx context.Context, a *RESTAdapter, src source.Config, cursor string, pageSize int) ([]Article, string, error)
}

// restDialects 按 source.Config.Format 查找
var restDialects = map[string]restDialect{
	"github_search": {fetch: fetchGitHubSearch},
	"reddit_listing": {
		fetch: func(ctx context.Context, a *RESTAdapter, src source.Config, limit int) ([]Article, error) {
			items, _, err := fetchRedditPage(ctx, a, src, "", limit)
			return items, err
		},
		page: fetchRedditPage,
	},
	"hackernews":        {fetch: fetchHackerNews},
	"coingecko_markets": {fetch: fetchCoinGeckoMarkets},
}

// RESTAdapter 通用 JSON REST 适配器
type RESTAdapter struct {
	client *http.Client
	logger *slog.Logger
}

func NewRESTAdapter(client *http.Client, logger *slog.Logger) *RESTAdapter {
	if client == nil {
		client = &http.Client{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &RESTAdapter{client: client, logger: logger}
}

func (a *RESTAdapter) dialect(src source.Config) (restDialect, error) {
	d, ok := restDialects[src.Format]
	if !ok {
		return restDialect{}, fmt.Errorf("%s: unsupported rest format %q", src.ID, src.Format)
	}
	return d, nil
}

func (a *RESTAdapter) FetchArticles(ctx context.Context, src source.Config) ([]Article, error) {
	d, err := a.dialect(src)
	if err != nil {
		return nil, err
	}
	return d.fetch(ctx, a, src, limitFor(src))
}

func (a *RESTAdapter) FetchPage(ctx context.Context, src source.Config, cursor string, pageSize int) ([]Article, string, error) {
	d, err := a.dialect(src)
	if err != nil {
		return nil, "", err
	}
	if d.page == nil {
		items, err := d.fetch(ctx, a, src, pageSize)
		return items, "", err
	}
	return d.page(ctx, a, src, cursor, pageSize)
}

func limitFor(src source.Config) int {
	if src.MaxArticles > 0 {
		return src.MaxArticles
	}
	return defaultMaxArticles[source.KindREST]
}

// ---------- GitHub 仓库搜索 ----------

type githubSearchResp struct {
	Items []struct {
		ID          int64  `json:"id"`
		FullName    string `json:"full_name"`
		HTMLURL     string `json:"html_url"`
		Description string `json:"description"`
		Stars       int    `json:"stargazers_count"`
		PushedAt    string `json:"pushed_at"`
		Owner       struct {
			Login string `json:"login"`
		} `json:"owner"`
	} `json:"items"`
}

func fetchGitHubSearch(ctx context.Context, a *RESTAdapter, src source.Config, limit int) ([]Article, error) {
	u := withQuery(src.Endpoint, map[string]string{"per_page": strconv.Itoa(min(limit, 100))})
	var resp githubSearchResp
	if err := getJSON(ctx, a.client, src, u, &resp); err != nil {
		return nil, err
	}

	out := make([]Article, 0, len(resp.Items))
	for _, it := range resp.Items {
		pushed, _ := time.Parse(time.RFC3339, it.PushedAt)
		out = append(out, Article{
			ID:          "github:" + strconv.FormatInt(it.ID, 10),
			Title:       it.FullName,
			URL:         it.HTMLURL,
			Author:      it.Owner.Login,
			Excerpt:     it.Description,
			PublishedAt: pushed,
			Score:       float64(it.Stars),
		})
	}
	return out, nil
}

// ---------- Reddit 列表（after 游标分页） ----------

type redditListing struct {
	Data struct {
		After    string `json:"after"`
		Children []struct {
			Data struct {
				ID         string  `json:"id"`
				Title      string  `json:"title"`
				URL        string  `json:"url"`
				Permalink  string  `json:"permalink"`
				Author     string  `json:"author"`
				CreatedUTC float64 `json:"created_utc"`
				Selftext   string  `json:"selftext"`
				Score      int     `json:"score"`
			} `json:"data"`
		} `json:"children"`
	} `json:"data"`
}

func fetchRedditPage(ctx context.Context, a *RESTAdapter, src source.Config, cursor string, pageSize int) ([]Article, string, error) {
	u := withQuery(src.Endpoint, map[string]string{
		"limit": strconv.Itoa(pageSize),
		"after": cursor,
	})
	var listing redditListing
	if err := getJSON(ctx, a.client, src, u, &listing); err != nil {
		return nil, "", err
	}

	out := make([]Article, 0, len(listing.Data.Children))
	for _, c := range listing.Data.Children {
		d := c.Data
		link := d.URL
		if link == "" && d.Permalink != "" {
			link = "https://www.reddit.com" + d.Permalink
		}
		var published time.Time
		if d.CreatedUTC > 0 {
			published = time.Unix(int64(d.CreatedUTC), 0)
		}
		out = append(out, Article{
			ID:          "reddit:" + d.ID,
			Title:       d.Title,
			URL:         link,
			Author:      d.Author,
			Excerpt:     truncateRunes(strings.TrimSpace(d.Selftext), feedExcerptRunes),
			PublishedAt: published,
			Score:       float64(d.Score),
			Links:       urlnorm.ExtractLinks(d.Selftext),
		})
	}
	return out, listing.Data.After, nil
}

// ---------- Hacker News（Firebase API） ----------

type hnItem struct {
	ID          int    `json:"id"`
	Title       string `json:"title"`
	URL         string `json:"url"`
	Score       int    `json:"score"`
	Descendants int    `json:"descendants"`
	By          string `json:"by"`
	Time        int64  `json:"time"`
	Type        string `json:"type"`
	Text        string `json:"text"`
}

func fetchHackerNews(ctx context.Context, a *RESTAdapter, src source.Config, limit int) ([]Article, error) {
	base := strings.TrimRight(src.Endpoint, "/")
	var ids []int
	if err := getJSON(ctx, a.client, src, base+"/topstories.json", &ids); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = hnDefaultItems
	}
	if len(ids) > limit {
		ids = ids[:limit]
	}

	type indexedItem struct {
		idx  int
		item hnItem
	}

	var (
		mu    sync.Mutex
		wg    sync.WaitGroup
		sem   = make(chan struct{}, hnConcurrency)
		items = make([]indexedItem, 0, len(ids))
	)

	for i, id := range ids {
		wg.Add(1)
		sem <- struct{}{}
		go func(idx, id int) {
			defer wg.Done()
			defer func() { <-sem }()

			var it hnItem
			if err := getJSON(ctx, a.client, src, fmt.Sprintf("%s/item/%d.json", base, id), &it); err != nil {
				a.logger.Debug("hackernews: fetch item failed", "id", id, "error", err)
				return
			}
			if it.Title == "" || it.Type != "story" {
				return
			}

			mu.Lock()
			items = append(items, indexedItem{idx: idx, item: it})
			mu.Unlock()
		}(i, id)
	}
	wg.Wait()

	// 按榜单排名恢复顺序
	sort.Slice(items, func(i, j int) bool { return items[i].idx < items[j].idx })

	out := make([]Article, 0, len(items))
	for _, ii := range items {
		it := ii.item
		itemURL := it.URL
		if itemURL == "" {
			itemURL = fmt.Sprintf("https://news.ycombinator.com/item?id=%d", it.ID)
		}
		var published time.Time
		if it.Time > 0 {
			published = time.Unix(it.Time, 0)
		}
		out = append(out, Article{
			ID:          "hn:" + strconv.Itoa(it.ID),
			Title:       it.Title,
			URL:         itemURL,
			Author:      it.By,
			Excerpt:     truncateRunes(stripHTML(it.Text), feedExcerptRunes),
			PublishedAt: published,
			Score:       float64(it.Score),
			Links:       urlnorm.ExtractLinks(it.Text),
		})
	}
	return out, nil
}

// ---------- CoinGecko 行情 ----------

type coinGeckoMarket struct {
	ID            string  `json:"id"`
	Symbol        string  `json:"symbol"`
	Name          string  `json:"name"`
	CurrentPrice  float64 `json:"current_price"`
	Change24h     float64 `json:"price_change_percentage_24h"`
	MarketCapRank int     `json:"market_cap_rank"`
	LastUpdated   string  `json:"last_updated"`
}

func fetchCoinGeckoMarkets(ctx context.Context, a *RESTAdapter, src source.Config, limit int) ([]Article, error) {
	u := withQuery(src.Endpoint, map[string]string{"per_page": strconv.Itoa(min(limit, 250))})
	var markets []coinGeckoMarket
	if err := getJSON(ctx, a.client, src, u, &markets); err != nil {
		return nil, err
	}

	out := make([]Article, 0, len(markets))
	for _, m := range markets {
		if m.ID == "" {
			continue
		}
		updated, _ := time.Parse(time.RFC3339, m.LastUpdated)
		out = append(out, Article{
			ID:          "coingecko:" + m.ID,
			Title:       fmt.Sprintf("%s (%s) $%.2f (%+.2f%%)", m.Name, strings.ToUpper(m.Symbol), m.CurrentPrice, m.Change24h),
			URL:         "https://www.coingecko.com/en/coins/" + m.ID,
			Excerpt:     fmt.Sprintf("Market cap rank #%d", m.MarketCapRank),
			PublishedAt: updated,
			Score:       m.Change24h,
		})
	}
	return out, nil
}

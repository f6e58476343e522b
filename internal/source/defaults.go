package source

import "time"

// Defaults 内置的数据源列表；未配置 SOURCES_FILE 时使用
func Defaults(proxyEndpoint string) []Config {
	list := []Config{
		{
			ID: "hn-frontpage", Name: "Hacker News", Kind: KindREST, Format: "hackernews",
			Endpoint: "https://hacker-news.firebaseio.com/v0", Category: "tech", Enabled: true,
			UpdateFrequency: 15 * time.Minute, MaxArticles: 30,
		},
		{
			ID: "github-trending", Name: "GitHub Trending", Kind: KindHTML, Format: "github_trending",
			Endpoint: "https://github.com/trending", Category: "code", Enabled: true,
			UpdateFrequency: time.Hour, MaxArticles: 25,
		},
		{
			ID: "github-search", Name: "GitHub Search", Kind: KindREST, Format: "github_search",
			Endpoint: "https://api.github.com/search/repositories?q=stars:>500+pushed:>2024-01-01&sort=stars&order=desc",
			Category: "code", Enabled: true, TokenEnv: "GITHUB_TOKEN",
			UpdateFrequency: time.Hour, MaxArticles: 30,
		},
		{
			ID: "reddit-programming", Name: "r/programming", Kind: KindREST, Format: "reddit_listing",
			Endpoint: "https://www.reddit.com/r/programming/hot.json", Category: "tech", Enabled: true,
			UpdateFrequency: 20 * time.Minute, MaxArticles: 50, PageSize: 25, MaxPages: 2,
		},
		{
			ID: "coingecko-markets", Name: "CoinGecko", Kind: KindREST, Format: "coingecko_markets",
			Endpoint: "https://api.coingecko.com/api/v3/coins/markets?vs_currency=usd&order=market_cap_desc",
			Category: "markets", Enabled: true, UpdateFrequency: 10 * time.Minute, MaxArticles: 20,
		},
		{
			ID: "producthunt", Name: "Product Hunt", Kind: KindGraphQL,
			Endpoint: "https://api.producthunt.com/v2/api/graphql", Category: "products",
			Enabled: true, TokenEnv: "PRODUCTHUNT_TOKEN",
			UpdateFrequency: time.Hour, MaxArticles: 20,
		},
		{
			ID: "go-blog", Name: "The Go Blog", Kind: KindFeed,
			Endpoint: "https://go.dev/blog/feed.atom", Category: "tech", Enabled: true,
			UpdateFrequency: 6 * time.Hour,
		},
		{
			ID: "coindesk", Name: "CoinDesk", Kind: KindFeed,
			Endpoint: "https://www.coindesk.com/arc/outboundfeeds/rss/", Category: "markets", Enabled: true,
			UpdateFrequency: 30 * time.Minute,
		},
	}
	if proxyEndpoint != "" {
		list = append(list, Config{
			ID: "proxy-lobsters", Name: "Lobsters (proxy)", Kind: KindProxyText,
			Endpoint: proxyEndpoint, Query: "https://lobste.rs/rss", Category: "tech",
			Enabled: true, UpdateFrequency: 30 * time.Minute, MaxArticles: 20,
		})
	}
	return list
}

package collector

import (
	"bytes"
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strings"

	"github.com/mmcdole/gofeed"
	"golang.org/x/net/html/charset"

	"github.com/LJTian/ArticleHub/internal/source"
	"github.com/LJTian/ArticleHub/internal/urlnorm"
)

const feedExcerptRunes = 300

var (
	rssItemStartRe   = regexp.MustCompile(`<item[\s>]`)
	atomEntryStartRe = regexp.MustCompile(`<entry[\s>]`)
)

const (
	rssWrapperHead = `<?xml version="1.0" encoding="UTF-8"?>` +
		`<rss version="2.0" xmlns:content="http://purl.org/rss/1.0/modules/content/"` +
		` xmlns:dc="http://purl.org/dc/elements/1.1/" xmlns:atom="http://www.w3.org/2005/Atom">` +
		`<channel><title>fragment</title>`
	rssWrapperTail  = `</channel></rss>`
	atomWrapperHead = `<?xml version="1.0" encoding="UTF-8"?><feed xmlns="http://www.w3.org/2005/Atom"><title>fragment</title>`
	atomWrapperTail = `</feed>`
)

// FeedAdapter 解析 RSS / Atom / JSON Feed
type FeedAdapter struct {
	client *http.Client
}

func NewFeedAdapter(client *http.Client) *FeedAdapter {
	if client == nil {
		client = &http.Client{}
	}
	return &FeedAdapter{client: client}
}

func (a *FeedAdapter) FetchArticles(ctx context.Context, src source.Config) ([]Article, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, src.Endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("%s: create request: %w", src.ID, err)
	}
	req.Header.Set("Accept", "application/rss+xml, application/atom+xml, application/xml;q=0.9, */*;q=0.8")
	body, err := httpDo(a.client, req, src)
	if err != nil {
		return nil, err
	}

	items, err := ParseFeedItems(body)
	if err != nil {
		return nil, &ParseError{Source: src.ID, Err: err}
	}

	out := make([]Article, 0, len(items))
	for _, it := range items {
		if art, ok := feedItemToArticle(it); ok {
			out = append(out, art)
		}
	}
	return out, nil
}

// ParseFeedItems 解析 feed 条目。整份文档格式正确时一次解析；
// 否则把每个 <item> / <entry> 切出来单独解析，坏掉的条目直接跳过。
func ParseFeedItems(body []byte) ([]*gofeed.Item, error) {
	parser := gofeed.NewParser()

	trimmed := bytes.TrimSpace(body)
	isJSON := len(trimmed) > 0 && trimmed[0] == '{'
	if isJSON || wellFormedXML(body) {
		feed, err := parser.Parse(bytes.NewReader(body))
		if err != nil {
			return nil, err
		}
		return feed.Items, nil
	}

	head, tail, fragments := rssWrapperHead, rssWrapperTail, splitEntries(body, rssItemStartRe, "</channel>")
	if len(fragments) == 0 {
		head, tail, fragments = atomWrapperHead, atomWrapperTail, splitEntries(body, atomEntryStartRe, "</feed>")
	}
	if len(fragments) == 0 {
		return nil, fmt.Errorf("malformed feed document with no recoverable entries")
	}

	items := make([]*gofeed.Item, 0, len(fragments))
	for _, frag := range fragments {
		if !wellFormedXML(frag) {
			continue
		}
		doc := make([]byte, 0, len(head)+len(frag)+len(tail))
		doc = append(doc, head...)
		doc = append(doc, frag...)
		doc = append(doc, tail...)
		feed, err := parser.Parse(bytes.NewReader(doc))
		if err != nil || len(feed.Items) == 0 {
			continue
		}
		items = append(items, feed.Items[0])
	}
	return items, nil
}

// splitEntries 按条目起始标签切分：每段从一个起始标签到下一个起始标签（或容器结束标签）为止，
// 缺少结束标签的条目只会影响它自己
func splitEntries(body []byte, startRe *regexp.Regexp, closing string) [][]byte {
	locs := startRe.FindAllIndex(body, -1)
	if len(locs) == 0 {
		return nil
	}
	end := len(body)
	if i := bytes.LastIndex(body, []byte(closing)); i > locs[len(locs)-1][0] {
		end = i
	}
	fragments := make([][]byte, 0, len(locs))
	for i, loc := range locs {
		stop := end
		if i+1 < len(locs) {
			stop = locs[i+1][0]
		}
		fragments = append(fragments, bytes.TrimSpace(body[loc[0]:stop]))
	}
	return fragments
}

// wellFormedXML 以严格模式完整扫描一遍 token，HTML 实体视为合法
func wellFormedXML(data []byte) bool {
	d := xml.NewDecoder(bytes.NewReader(data))
	d.Strict = true
	d.Entity = xml.HTMLEntity
	d.CharsetReader = charset.NewReaderLabel
	for {
		_, err := d.Token()
		if err == io.EOF {
			return true
		}
		if err != nil {
			return false
		}
	}
}

func feedItemToArticle(it *gofeed.Item) (Article, bool) {
	if it == nil {
		return Article{}, false
	}
	link := strings.TrimSpace(it.Link)
	if link == "" && len(it.Links) > 0 {
		link = strings.TrimSpace(it.Links[0])
	}
	title := strings.TrimSpace(it.Title)
	if title == "" || link == "" {
		return Article{}, false
	}

	art := Article{
		ID:    strings.TrimSpace(it.GUID),
		Title: title,
		URL:   link,
	}
	if it.PublishedParsed != nil {
		art.PublishedAt = *it.PublishedParsed
	} else if it.UpdatedParsed != nil {
		art.PublishedAt = *it.UpdatedParsed
	}
	if len(it.Authors) > 0 && it.Authors[0] != nil {
		art.Author = it.Authors[0].Name
	}

	desc := it.Description
	if desc == "" {
		desc = it.Content
	}
	art.Excerpt = truncateRunes(stripHTML(desc), feedExcerptRunes)
	art.Links = urlnorm.ExtractLinks(it.Content + "\n" + it.Description)
	return art, true
}

func stripHTML(s string) string {
	var b strings.Builder
	inTag := false
	for _, r := range s {
		switch {
		case r == '<':
			inTag = true
		case r == '>':
			inTag = false
		case !inTag:
			b.WriteRune(r)
		}
	}
	return strings.Join(strings.Fields(b.String()), " ")
}

// truncateRunes 按 rune 截断并追加省略号
func truncateRunes(s string, limit int) string {
	if limit <= 0 {
		return ""
	}
	rs := []rune(s)
	if len(rs) <= limit {
		return s
	}
	return string(rs[:limit]) + "…"
}

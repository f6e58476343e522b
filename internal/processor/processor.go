package processor

import (
	"sort"
	"strings"

	"github.com/LJTian/ArticleHub/internal/collector"
	"github.com/LJTian/ArticleHub/internal/urlnorm"
)

const excerptRunes = 300

// Options 合并阶段的可选步骤
type Options struct {
	// ExtractLinks 为 Links 为空的文章从摘要中补充外链
	ExtractLinks bool
}

// SimpleProcessor 对多个源合并后的文章做清洗、去重与排序
type SimpleProcessor struct{}

func NewSimpleProcessor() *SimpleProcessor {
	return &SimpleProcessor{}
}

// Process 依次执行：清洗 -> 去重（先到先得）-> 补充外链 -> 按发布时间倒序
func (p *SimpleProcessor) Process(items []collector.Article, opts Options) []collector.Article {
	cleaned := make([]collector.Article, 0, len(items))
	for _, it := range items {
		it.Title = strings.TrimSpace(strings.ToValidUTF8(it.Title, ""))
		it.URL = strings.TrimSpace(it.URL)
		if it.Title == "" || it.URL == "" {
			continue
		}
		it.Excerpt = truncateRunes(strings.TrimSpace(strings.ToValidUTF8(it.Excerpt, "")), excerptRunes)
		cleaned = append(cleaned, it)
	}

	out := Dedupe(cleaned)

	if opts.ExtractLinks {
		for i := range out {
			if len(out[i].Links) == 0 {
				out[i].Links = urlnorm.ExtractLinks(out[i].Excerpt)
			}
		}
	}

	SortByPublished(out)
	return out
}

// Dedupe 按规范 URL 去重，保留每个规范 URL 第一次出现的文章。
// 缺失的 CanonicalKey / ID 会被补齐。
func Dedupe(items []collector.Article) []collector.Article {
	out := make([]collector.Article, 0, len(items))
	seen := make(map[string]struct{}, len(items))

	for _, it := range items {
		key := it.CanonicalKey
		if key == "" {
			key = urlnorm.Key(it.URL)
			it.CanonicalKey = key
		}
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		if it.ID == "" {
			it.ID = urlnorm.Hash(it.URL)
		}
		out = append(out, it)
	}
	return out
}

// SortByPublished 按发布时间倒序，时间相同保持原有顺序
func SortByPublished(items []collector.Article) {
	sort.SliceStable(items, func(i, j int) bool {
		return items[i].PublishedAt.After(items[j].PublishedAt)
	})
}

func truncateRunes(s string, limit int) string {
	if limit <= 0 {
		return s
	}
	r := []rune(s)
	if len(r) <= limit {
		return s
	}
	return string(r[:limit]) + "…"
}

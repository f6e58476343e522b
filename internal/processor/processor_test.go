package processor

import (
	"strings"
	"testing"
	"time"

	"github.com/LJTian/ArticleHub/internal/collector"
)

func TestTruncateRunesHandlesChineseAndEllipsis(t *testing.T) {
	s := "你好，世界，这是一个很长的中文句子，用来测试截断逻辑。"
	out := truncateRunes(s, 5)
	if len([]rune(out)) != 6 { // 5 个字符 + 1 个省略号
		t.Fatalf("truncateRunes length = %d, want 6 (including ellipsis): %q", len([]rune(out)), out)
	}
	if !strings.HasSuffix(out, "…") {
		t.Fatalf("truncateRunes should append ellipsis: %q", out)
	}

	// limit 大于长度时不应截断
	if full := truncateRunes("短文本", 10); full != "短文本" {
		t.Fatalf("truncateRunes should keep original when under limit: %q", full)
	}
}

func TestDedupeAcrossURLVariants(t *testing.T) {
	items := []collector.Article{
		{Title: "a", URL: "https://x.com/1?utm_source=foo"},
		{Title: "b", URL: "https://www.x.com/1/"},
		{Title: "c", URL: "http://x.com/1#section"},
	}
	out := Dedupe(items)
	if len(out) != 1 {
		t.Fatalf("expected 1 article after dedupe, got %d", len(out))
	}
	if out[0].Title != "a" || out[0].CanonicalKey != "https://x.com/1" || out[0].ID == "" {
		t.Fatalf("unexpected survivor: %+v", out[0])
	}
}

func TestProcessFirstSeenWins(t *testing.T) {
	p := NewSimpleProcessor()
	// A 在前、B 在后：即使 B 的来源不同，也保留 A
	items := []collector.Article{
		{Title: "from A", URL: "https://x.com/1?utm_source=foo", Source: "A", PublishedAt: time.Unix(100, 0)},
		{Title: "from B", URL: "https://www.x.com/1/", Source: "B", PublishedAt: time.Unix(90, 0)},
	}
	out := p.Process(items, Options{})
	if len(out) != 1 {
		t.Fatalf("expected 1 article, got %d", len(out))
	}
	if out[0].Source != "A" || !out[0].PublishedAt.Equal(time.Unix(100, 0)) {
		t.Fatalf("expected source A entry to survive, got %+v", out[0])
	}
}

func TestProcessSortsAndCleans(t *testing.T) {
	p := NewSimpleProcessor()
	now := time.Now()

	items := []collector.Article{
		{Title: "  old  ", URL: "https://example.com/old", PublishedAt: now.Add(-time.Hour)},
		{Title: "", URL: "https://example.com/empty", PublishedAt: now},
		{Title: "new", URL: "https://example.com/new", PublishedAt: now,
			Excerpt: "see https://ref.example/a and [b](https://ref.example/b)"},
		{Title: "bad\xffutf8", URL: "https://example.com/bad", PublishedAt: now.Add(-2 * time.Hour)},
	}

	out := p.Process(items, Options{ExtractLinks: true})
	if len(out) != 3 {
		t.Fatalf("expected 3 articles, got %d", len(out))
	}
	if out[0].Title != "new" || out[1].Title != "old" || out[2].Title != "badutf8" {
		t.Fatalf("unexpected order or cleaning: %q %q %q", out[0].Title, out[1].Title, out[2].Title)
	}
	if len(out[0].Links) != 2 {
		t.Fatalf("expected 2 extracted links, got %v", out[0].Links)
	}

	// 未开启时不补充外链
	out = p.Process(items, Options{})
	if len(out[0].Links) != 0 {
		t.Fatalf("links should not be extracted when disabled: %v", out[0].Links)
	}
}

func TestProcessKeepsAdapterLinks(t *testing.T) {
	p := NewSimpleProcessor()
	items := []collector.Article{
		{Title: "t", URL: "https://example.com/t", Excerpt: "https://other.example/x", Links: []string{"https://keep.example/"}},
	}
	out := p.Process(items, Options{ExtractLinks: true})
	if len(out[0].Links) != 1 || out[0].Links[0] != "https://keep.example/" {
		t.Fatalf("adapter links should be kept: %v", out[0].Links)
	}
}

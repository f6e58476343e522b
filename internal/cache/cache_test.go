package cache

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/LJTian/ArticleHub/internal/collector"
)

type testClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func article(i int, category string) collector.Article {
	return collector.Article{
		Title:       fmt.Sprintf("a%d", i),
		URL:         fmt.Sprintf("https://example.com/%d", i),
		Category:    category,
		PublishedAt: time.Unix(int64(1000+i), 0),
	}
}

func TestSetArticlesIdempotent(t *testing.T) {
	clk := &testClock{t: time.Unix(10_000, 0)}
	c := New(nil, WithClock(clk.Now), WithLogger(quietLogger()))
	ctx := context.Background()

	batch := []collector.Article{article(1, "tech"), article(2, "tech"), article(3, "tech")}
	c.SetArticles(ctx, batch, "tech")
	c.SetArticles(ctx, batch, "tech")

	got := c.GetArticles(ctx, "tech")
	if len(got) != 3 {
		t.Fatalf("len = %d, want 3", len(got))
	}
	if got[0].Title != "a3" || got[2].Title != "a1" {
		t.Fatalf("expected publishedAt desc order, got %s..%s", got[0].Title, got[2].Title)
	}
	if got[0].CachedAt.IsZero() || got[0].CanonicalKey == "" {
		t.Fatalf("entry not stamped: %+v", got[0])
	}
}

func TestURLVariantsShareEntry(t *testing.T) {
	c := New(nil, WithLogger(quietLogger()))
	ctx := context.Background()
	c.SetArticles(ctx, []collector.Article{{Title: "x", URL: "https://x.com/1?utm_source=foo"}}, "tech")
	c.SetArticles(ctx, []collector.Article{{Title: "y", URL: "https://www.x.com/1/"}}, "tech")

	if n := c.Len(ctx); n != 1 {
		t.Fatalf("Len = %d, want 1", n)
	}
	a, ok := c.GetArticle(ctx, "http://x.com/1#section")
	if !ok || a.Title != "y" {
		t.Fatalf("expected last write to win, got %+v ok=%v", a, ok)
	}
}

func TestTTLBoundary(t *testing.T) {
	clk := &testClock{t: time.Unix(10_000, 0)}
	c := New(nil, WithTTL(30*time.Minute), WithClock(clk.Now), WithLogger(quietLogger()))
	ctx := context.Background()

	c.SetArticles(ctx, []collector.Article{article(1, "tech")}, "tech")

	clk.Advance(30*time.Minute - time.Millisecond)
	if got := c.GetArticles(ctx, "tech"); len(got) != 1 {
		t.Fatalf("entry should be valid just before ttl, got %d", len(got))
	}
	if !c.HasArticle(ctx, "https://example.com/1") {
		t.Fatalf("HasArticle should be true before ttl")
	}

	clk.Advance(time.Millisecond)
	if got := c.GetArticles(ctx, "tech"); len(got) != 0 {
		t.Fatalf("entry should expire at ttl, got %d", len(got))
	}
	if n := c.Len(ctx); n != 0 {
		t.Fatalf("expired entry should be deleted by read scan, Len = %d", n)
	}
}

func TestCapacityEvictsOldest(t *testing.T) {
	clk := &testClock{t: time.Unix(10_000, 0)}
	c := New(nil, WithCapacity(3), WithClock(clk.Now), WithLogger(quietLogger()))
	ctx := context.Background()

	for i := 1; i <= 5; i++ {
		c.SetArticles(ctx, []collector.Article{article(i, "tech")}, "tech")
		clk.Advance(time.Second)
		if n := c.Len(ctx); n > 3 {
			t.Fatalf("after write %d Len = %d, exceeds capacity", i, n)
		}
	}

	for i := 1; i <= 2; i++ {
		if c.HasArticle(ctx, fmt.Sprintf("https://example.com/%d", i)) {
			t.Fatalf("article %d should have been evicted", i)
		}
	}
	for i := 3; i <= 5; i++ {
		if !c.HasArticle(ctx, fmt.Sprintf("https://example.com/%d", i)) {
			t.Fatalf("article %d should survive", i)
		}
	}
}

func TestCapacityWithinSingleBatch(t *testing.T) {
	c := New(nil, WithCapacity(2), WithLogger(quietLogger()))
	ctx := context.Background()
	c.SetArticles(ctx, []collector.Article{article(1, ""), article(2, ""), article(3, "")}, "tech")

	got := c.GetArticles(ctx, "")
	if len(got) != 2 {
		t.Fatalf("len = %d, want 2", len(got))
	}
	// 同一批次 CachedAt 相同时，发布时间最早的先被淘汰
	if got[0].Title != "a3" || got[1].Title != "a2" {
		t.Fatalf("unexpected survivors: %s, %s", got[0].Title, got[1].Title)
	}
	if got[0].Category != "tech" {
		t.Fatalf("category should be filled from SetArticles, got %q", got[0].Category)
	}
}

func TestCategoryFilter(t *testing.T) {
	c := New(nil, WithLogger(quietLogger()))
	ctx := context.Background()
	c.SetArticles(ctx, []collector.Article{article(1, "tech"), article(2, "markets")}, "")

	if got := c.GetArticles(ctx, "TECH"); len(got) != 1 || got[0].Title != "a1" {
		t.Fatalf("category filter mismatch: %+v", got)
	}
	if got := c.GetArticles(ctx, ""); len(got) != 2 {
		t.Fatalf("empty category should return all, got %d", len(got))
	}
}

type failingBackend struct{}

var errBackend = errors.New("backend down")

func (failingBackend) All(context.Context) ([]collector.Article, error) { return nil, errBackend }
func (failingBackend) Get(context.Context, string) (collector.Article, bool, error) {
	return collector.Article{}, false, errBackend
}
func (failingBackend) Put(context.Context, []collector.Article) error { return errBackend }
func (failingBackend) Delete(context.Context, ...string) error { return errBackend }
func (failingBackend) Len(context.Context) (int, error) { return 0, errBackend }

func TestStorageErrorsDegrade(t *testing.T) {
	c := New(failingBackend{}, WithLogger(quietLogger()))
	ctx := context.Background()

	c.SetArticles(ctx, []collector.Article{article(1, "tech")}, "tech")
	if got := c.GetArticles(ctx, "tech"); got != nil {
		t.Fatalf("expected empty result on storage error, got %+v", got)
	}
	if c.HasArticle(ctx, "https://example.com/1") {
		t.Fatalf("HasArticle should be false on storage error")
	}

	se := &StorageError{Op: "read", Err: errBackend}
	if !errors.Is(se, errBackend) {
		t.Fatalf("StorageError should unwrap to cause")
	}
}

func TestRedisBackendUnreachableDegrades(t *testing.T) {
	rdb := redis.NewClient(&redis.Options{
		Addr:        "127.0.0.1:1",
		DialTimeout: 200 * time.Millisecond,
		MaxRetries:  -1,
	})
	defer rdb.Close()

	c := New(NewRedisBackend(rdb, ""), WithLogger(quietLogger()))
	ctx := context.Background()
	c.SetArticles(ctx, []collector.Article{article(1, "tech")}, "tech")
	if got := c.GetArticles(ctx, "tech"); len(got) != 0 {
		t.Fatalf("expected empty result from unreachable redis, got %d", len(got))
	}
}

func TestMemoryBackendCopiesLinks(t *testing.T) {
	c := New(nil, WithLogger(quietLogger()))
	ctx := context.Background()
	a := article(1, "tech")
	a.Links = []string{"https://ref.example/"}
	c.SetArticles(ctx, []collector.Article{a}, "tech")

	got, _ := c.GetArticle(ctx, a.URL)
	got.Links[0] = "mutated"
	again, _ := c.GetArticle(ctx, a.URL)
	if again.Links[0] != "https://ref.example/" {
		t.Fatalf("cache entry mutated through returned slice")
	}
}

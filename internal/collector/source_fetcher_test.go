package collector

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/LJTian/ArticleHub/internal/ratelimit"
	"github.com/LJTian/ArticleHub/internal/source"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

func newClock() *fakeClock {
	return &fakeClock{t: time.Date(2024, 1, 3, 12, 0, 0, 0, time.UTC)}
}

// stubAdapter 按调用次数依次返回预设结果
type stubAdapter struct {
	mu      sync.Mutex
	calls   int
	results [][]Article
	errs    []error
}

func (s *stubAdapter) FetchArticles(_ context.Context, _ source.Config) ([]Article, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.calls
	s.calls++
	var (
		arts []Article
		err  error
	)
	if i < len(s.results) {
		arts = s.results[i]
	}
	if i < len(s.errs) {
		err = s.errs[i]
	}
	return arts, err
}

func articlesN(n int) []Article {
	out := make([]Article, n)
	for i := range out {
		out[i] = Article{Title: fmt.Sprintf("t%d", i), URL: fmt.Sprintf("https://example.com/%d", i)}
	}
	return out
}

func TestFetchGatedByRateLimiter(t *testing.T) {
	clk := newClock()
	limiter := ratelimit.New(ratelimit.WithClock(clk.Now))
	adapter := &stubAdapter{results: [][]Article{articlesN(2), articlesN(2)}}
	src := source.Config{ID: "s", Name: "S", Kind: source.KindFeed, Category: "tech"}
	f := NewWithAdapter(src, adapter, limiter, WithClock(clk.Now))

	first := f.Fetch(context.Background())
	if first.Err != nil || len(first.Articles) != 2 {
		t.Fatalf("first fetch = %+v", first)
	}

	second := f.Fetch(context.Background())
	if !second.Skipped || len(second.Articles) != 0 {
		t.Fatalf("second fetch should be skipped: %+v", second)
	}
	if second.Wait != ratelimit.DefaultInterval {
		t.Fatalf("Wait = %v, want %v", second.Wait, ratelimit.DefaultInterval)
	}
	if adapter.calls != 1 {
		t.Fatalf("adapter called %d times, want 1", adapter.calls)
	}

	clk.Advance(ratelimit.DefaultInterval)
	if third := f.Fetch(context.Background()); third.Skipped || len(third.Articles) != 2 {
		t.Fatalf("third fetch should run: %+v", third)
	}
}

func TestFetchCapsAndFillsPublishedAt(t *testing.T) {
	clk := newClock()
	adapter := &stubAdapter{results: [][]Article{articlesN(5)}}
	src := source.Config{ID: "s", Name: "S", Kind: source.KindREST, Category: "tech", MaxArticles: 3}
	f := NewWithAdapter(src, adapter, nil, WithClock(clk.Now))

	res := f.Fetch(context.Background())
	if len(res.Articles) != 3 {
		t.Fatalf("len = %d, want 3", len(res.Articles))
	}
	for i, a := range res.Articles {
		want := clk.Now().Add(-time.Duration(i) * time.Minute)
		if !a.PublishedAt.Equal(want) {
			t.Fatalf("article %d PublishedAt = %v, want %v", i, a.PublishedAt, want)
		}
		if a.ID == "" || a.Source != "S" || a.SourceID != "s" {
			t.Fatalf("article %d not stamped: %+v", i, a)
		}
	}
}

func TestFetchErrorIsRecorded(t *testing.T) {
	clk := newClock()
	limiter := ratelimit.New(ratelimit.WithClock(clk.Now))
	adapter := &stubAdapter{errs: []error{&NetworkError{Source: "s", Err: errors.New("dial tcp: refused")}}}
	f := NewWithAdapter(source.Config{ID: "s", Kind: source.KindFeed}, adapter, limiter, WithClock(clk.Now))

	res := f.Fetch(context.Background())
	var netErr *NetworkError
	if !errors.As(res.Err, &netErr) {
		t.Fatalf("expected NetworkError, got %v", res.Err)
	}
	st, ok := limiter.Snapshot("s")
	if !ok || st.ErrorCount != 1 || st.FetchCount != 1 {
		t.Fatalf("unexpected limiter state: %+v", st)
	}
}

func TestFetchRetriesOnceAfterThrottle(t *testing.T) {
	var slept []time.Duration
	limiter := ratelimit.New(ratelimit.WithSleeper(func(_ context.Context, d time.Duration) error {
		slept = append(slept, d)
		return nil
	}))

	adapter := &stubAdapter{
		results: [][]Article{nil, articlesN(1)},
		errs:    []error{&RateLimitError{Source: "s", Status: 429, RetryAfter: 3 * time.Second}, nil},
	}
	f := NewWithAdapter(source.Config{ID: "s", Kind: source.KindREST}, adapter, limiter)
	res := f.Fetch(context.Background())
	if res.Err != nil || len(res.Articles) != 1 {
		t.Fatalf("expected success after retry: %+v", res)
	}
	if len(slept) != 1 || slept[0] != 4*time.Second {
		t.Fatalf("backoff sleeps = %v, want [4s]", slept)
	}

	// 第二次仍被限流则直接返回错误
	adapter2 := &stubAdapter{errs: []error{
		&RateLimitError{Source: "s2", Status: 429},
		&RateLimitError{Source: "s2", Status: 429},
	}}
	f2 := NewWithAdapter(source.Config{ID: "s2", Kind: source.KindREST}, adapter2, limiter)
	res2 := f2.Fetch(context.Background())
	var rle *RateLimitError
	if !errors.As(res2.Err, &rle) || adapter2.calls != 2 {
		t.Fatalf("expected RateLimitError after one retry, got %v (calls=%d)", res2.Err, adapter2.calls)
	}
}

// pagedAdapter 模拟带游标的分页源
type pagedAdapter struct {
	pages   [][]Article
	cursors []string
	seen    []string
}

func (p *pagedAdapter) FetchArticles(ctx context.Context, src source.Config) ([]Article, error) {
	items, _, err := p.FetchPage(ctx, src, "", 0)
	return items, err
}

func (p *pagedAdapter) FetchPage(_ context.Context, _ source.Config, cursor string, _ int) ([]Article, string, error) {
	p.seen = append(p.seen, cursor)
	i := len(p.seen) - 1
	if i >= len(p.pages) {
		return nil, "", nil
	}
	return p.pages[i], p.cursors[i], nil
}

func TestFetchPagesSequentialWithDelay(t *testing.T) {
	pages := [][]Article{articlesN(2), articlesN(2), articlesN(1)}
	for i := range pages {
		for j := range pages[i] {
			pages[i][j].URL = fmt.Sprintf("https://example.com/%d/%d", i, j)
		}
	}
	adapter := &pagedAdapter{pages: pages, cursors: []string{"c1", "c2", ""}}

	var delays []time.Duration
	src := source.Config{ID: "p", Kind: source.KindREST, PageSize: 2, MaxPages: 5}
	f := NewWithAdapter(src, adapter, nil, WithPageSleeper(func(_ context.Context, d time.Duration) error {
		delays = append(delays, d)
		return nil
	}))

	res := f.FetchPages(context.Background(), 5, time.Second)
	if res.Err != nil || len(res.Articles) != 5 {
		t.Fatalf("FetchPages = %d articles, err %v; want 5", len(res.Articles), res.Err)
	}
	if want := []string{"", "c1", "c2"}; fmt.Sprint(adapter.seen) != fmt.Sprint(want) {
		t.Fatalf("cursors = %v, want %v", adapter.seen, want)
	}
	if len(delays) != 2 || delays[0] != time.Second {
		t.Fatalf("delays = %v, want two 1s delays", delays)
	}

	// 达到 maxPages 时停止
	adapter2 := &pagedAdapter{pages: [][]Article{articlesN(2), articlesN(2), articlesN(2)}, cursors: []string{"a", "b", "c"}}
	f2 := NewWithAdapter(source.Config{ID: "p2", Kind: source.KindREST, PageSize: 2}, adapter2, nil,
		WithPageSleeper(func(context.Context, time.Duration) error { return nil }))
	f2.FetchPages(context.Background(), 2, time.Second)
	if len(adapter2.seen) != 2 {
		t.Fatalf("pages fetched = %d, want 2", len(adapter2.seen))
	}
}

func TestAdapterForUnknownKind(t *testing.T) {
	if _, err := AdapterFor("ftp", Deps{}); err == nil {
		t.Fatalf("expected error for unknown kind")
	}
	for _, k := range []source.Kind{source.KindFeed, source.KindREST, source.KindGraphQL, source.KindProxyText, source.KindHTML} {
		if _, err := AdapterFor(k, Deps{}); err != nil {
			t.Fatalf("AdapterFor(%s) error: %v", k, err)
		}
	}
}

func TestRetryCountFor(t *testing.T) {
	cases := []struct {
		in   time.Duration
		want int
	}{
		{0, 0},
		{time.Second, 0},
		{3 * time.Second, 2},
		{10 * time.Minute, 6},
	}
	for _, c := range cases {
		if got := retryCountFor(c.in); got != c.want {
			t.Fatalf("retryCountFor(%v) = %d, want %d", c.in, got, c.want)
		}
	}
}

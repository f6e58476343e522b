package scheduler

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sort"
	"sync"
	"testing"

	"github.com/LJTian/ArticleHub/internal/aggregator"
	"github.com/LJTian/ArticleHub/internal/collector"
)

type fakeAggregate struct {
	mu    sync.Mutex
	calls map[string]aggregator.Options
}

func (f *fakeAggregate) AggregateSources(_ context.Context, category string, opts aggregator.Options) []collector.Article {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.calls == nil {
		f.calls = make(map[string]aggregator.Options)
	}
	f.calls[category] = opts
	if category == "empty" {
		return nil
	}
	return []collector.Article{{Title: category, URL: "https://example.com/" + category}}
}

func (f *fakeAggregate) Categories() []string { return []string{"tech", "markets", "empty"} }

type fakeArchive struct {
	mu    sync.Mutex
	saved []string
	err   error
}

func (f *fakeArchive) SaveBatch(_ context.Context, items []collector.Article) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, it := range items {
		f.saved = append(f.saved, it.Title)
	}
	return f.err
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestRunOnceRefreshesAndArchivesEveryCategory(t *testing.T) {
	agg := &fakeAggregate{}
	archive := &fakeArchive{}
	s, err := New("*/30 * * * *", agg,
		WithArchive(archive),
		WithAggregateOptions(aggregator.Options{UsePagination: true}),
		WithLogger(quietLogger()),
	)
	if err != nil {
		t.Fatalf("New error: %v", err)
	}

	s.RunOnce(context.Background())

	if len(agg.calls) != 3 {
		t.Fatalf("expected 3 categories refreshed, got %d", len(agg.calls))
	}
	for category, opts := range agg.calls {
		if !opts.ForceRefresh || !opts.UsePagination {
			t.Fatalf("category %s refreshed with %+v", category, opts)
		}
	}
	sort.Strings(archive.saved)
	if len(archive.saved) != 2 || archive.saved[0] != "markets" || archive.saved[1] != "tech" {
		t.Fatalf("unexpected archived titles: %v", archive.saved)
	}
}

func TestRunOnceWithoutArchive(t *testing.T) {
	agg := &fakeAggregate{}
	s, err := New("@every 1h", agg, WithLogger(quietLogger()))
	if err != nil {
		t.Fatalf("New error: %v", err)
	}
	s.RunOnce(context.Background())
	if len(agg.calls) != 3 {
		t.Fatalf("expected 3 categories refreshed, got %d", len(agg.calls))
	}
}

func TestArchiveErrorDoesNotStopOtherCategories(t *testing.T) {
	agg := &fakeAggregate{}
	archive := &fakeArchive{err: errors.New("db down")}
	s, _ := New("@hourly", agg, WithArchive(archive), WithLogger(quietLogger()))
	s.RunOnce(context.Background())
	if len(archive.saved) != 2 {
		t.Fatalf("every non-empty category should be attempted, got %v", archive.saved)
	}
}

func TestNewRejectsBadSpec(t *testing.T) {
	if _, err := New("not a cron spec", &fakeAggregate{}); err == nil {
		t.Fatalf("expected error for invalid cron spec")
	}
}

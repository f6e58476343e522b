package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/LJTian/ArticleHub/internal/aggregator"
	"github.com/LJTian/ArticleHub/internal/collector"
	"github.com/LJTian/ArticleHub/internal/source"
	"github.com/LJTian/ArticleHub/internal/storage"
)

type fakeArticles struct {
	category string
	opts     aggregator.Options
	items    []collector.Article
}

func (f *fakeArticles) AggregateSources(_ context.Context, category string, opts aggregator.Options) []collector.Article {
	f.category, f.opts = category, opts
	return f.items
}

func (f *fakeArticles) Sources(category string) []aggregator.SourceStatus {
	return []aggregator.SourceStatus{{Config: source.Config{ID: "go-blog", Category: "tech"}}}
}

func (f *fakeArticles) Categories() []string { return []string{"tech"} }

func (f *fakeArticles) LastRun(category string) (aggregator.RunStats, bool) {
	return aggregator.RunStats{Category: category, Articles: 3}, category == "tech"
}

type fakeArchive struct {
	records []storage.ArticleRecord
	err     error
	limit   int
}

func (f *fakeArchive) ListArticles(_ context.Context, _ string, limit int, _ string) ([]storage.ArticleRecord, error) {
	f.limit = limit
	return f.records, f.err
}

func (f *fakeArchive) ListPublishedDates(_ context.Context, _ string, limit int) ([]string, error) {
	f.limit = limit
	return []string{"2024-01-04", "2024-01-03"}, f.err
}

type envelope struct {
	Code string          `json:"code"`
	Data json.RawMessage `json:"data"`
}

func newEngine(s *Server) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	s.RegisterRoutes(r)
	return r
}

func doGet(t *testing.T, r http.Handler, path string) (*httptest.ResponseRecorder, envelope) {
	t.Helper()
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	r.ServeHTTP(w, req)
	var env envelope
	if w.Body.Len() > 0 {
		_ = json.Unmarshal(w.Body.Bytes(), &env)
	}
	return w, env
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestHealth(t *testing.T) {
	r := newEngine(NewServer(&fakeArticles{}, nil, quietLogger()))
	w, _ := doGet(t, r, "/health")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
}

func TestListArticlesPassesOptions(t *testing.T) {
	arts := &fakeArticles{items: []collector.Article{{Title: "Go 1.22", URL: "https://go.dev/blog/go1.22", PublishedAt: time.Unix(100, 0)}}}
	r := newEngine(NewServer(arts, nil, quietLogger()))

	w, env := doGet(t, r, "/api/v1/articles?category=tech&links=1&paginate=true&refresh=0")
	if w.Code != http.StatusOK || env.Code != "ok" {
		t.Fatalf("status = %d, code = %q", w.Code, env.Code)
	}
	if arts.category != "tech" || !arts.opts.ExtractLinks || !arts.opts.UsePagination || arts.opts.ForceRefresh {
		t.Fatalf("unexpected call: category=%q opts=%+v", arts.category, arts.opts)
	}
	var items []collector.Article
	if err := json.Unmarshal(env.Data, &items); err != nil || len(items) != 1 || items[0].Title != "Go 1.22" {
		t.Fatalf("unexpected data: %s (%v)", env.Data, err)
	}
}

func TestListArticlesEmptyIsArray(t *testing.T) {
	r := newEngine(NewServer(&fakeArticles{}, nil, quietLogger()))
	_, env := doGet(t, r, "/api/v1/articles")
	if string(env.Data) != "[]" {
		t.Fatalf("data = %s, want []", env.Data)
	}
}

func TestListSources(t *testing.T) {
	r := newEngine(NewServer(&fakeArticles{}, nil, quietLogger()))
	_, env := doGet(t, r, "/api/v1/sources?category=tech")
	var data struct {
		Sources []struct {
			ID string `json:"id"`
		} `json:"sources"`
		LastRun *aggregator.RunStats `json:"lastRun"`
	}
	if err := json.Unmarshal(env.Data, &data); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(data.Sources) != 1 || data.Sources[0].ID != "go-blog" || data.LastRun == nil || data.LastRun.Articles != 3 {
		t.Fatalf("unexpected sources payload: %s", env.Data)
	}
}

func TestArchiveDisabledAndErrors(t *testing.T) {
	r := newEngine(NewServer(&fakeArticles{}, nil, quietLogger()))
	if w, env := doGet(t, r, "/api/v1/archive"); w.Code != http.StatusServiceUnavailable || env.Code != "archive_disabled" {
		t.Fatalf("status = %d, code = %q", w.Code, env.Code)
	}

	archive := &fakeArchive{err: errors.New("db down")}
	r = newEngine(NewServer(&fakeArticles{}, archive, quietLogger()))
	if w, _ := doGet(t, r, "/api/v1/archive?limit=abc"); w.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", w.Code)
	}
	if archive.limit != 20 {
		t.Fatalf("invalid limit should fall back to 20, got %d", archive.limit)
	}
	if w, _ := doGet(t, r, "/api/v1/archive/dates"); w.Code != http.StatusInternalServerError {
		t.Fatalf("dates status = %d, want 500", w.Code)
	}

	archive = &fakeArchive{records: []storage.ArticleRecord{{NativeID: "hn:1", Title: "t", URL: "https://t.example/", Links: []byte(`["https://l.example/"]`)}}}
	r = newEngine(NewServer(&fakeArticles{}, archive, quietLogger()))
	_, env := doGet(t, r, "/api/v1/archive?limit=5")
	var items []collector.Article
	if err := json.Unmarshal(env.Data, &items); err != nil || len(items) != 1 || items[0].ID != "hn:1" || len(items[0].Links) != 1 {
		t.Fatalf("unexpected archive data: %s (%v)", env.Data, err)
	}

	_, env = doGet(t, r, "/api/v1/archive/dates")
	var dates []string
	if err := json.Unmarshal(env.Data, &dates); err != nil || len(dates) != 2 || archive.limit != 30 {
		t.Fatalf("unexpected dates: %s (limit %d)", env.Data, archive.limit)
	}
}

func TestBasicAuth(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(BasicAuth("user", "pass"))
	NewServer(&fakeArticles{}, nil, quietLogger()).RegisterRoutes(r)

	if w, _ := doGet(t, r, "/health"); w.Code != http.StatusOK {
		t.Fatalf("/health should skip auth, got %d", w.Code)
	}
	w, _ := doGet(t, r, "/api/v1/articles")
	if w.Code != http.StatusUnauthorized || w.Header().Get("WWW-Authenticate") == "" {
		t.Fatalf("expected 401 with challenge, got %d", w.Code)
	}

	w = httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/v1/articles", nil)
	req.SetBasicAuth("user", "pass")
	r.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("valid credentials should pass, got %d", w.Code)
	}
}

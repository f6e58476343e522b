package collector

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/LJTian/ArticleHub/internal/source"
)

const (
	userAgent        = "ArticleHubBot/1.0"
	maxResponseBytes = 4 << 20 // 4MB
)

// httpDo 发出请求并按状态码归类错误：429 / 带限流头的 403 -> RateLimitError，
// 其余非 2xx 与连接错误 -> NetworkError
func httpDo(client *http.Client, req *http.Request, src source.Config) ([]byte, error) {
	if req.Header.Get("User-Agent") == "" {
		req.Header.Set("User-Agent", userAgent)
	}
	if tok := src.Token(); tok != "" && req.Header.Get("Authorization") == "" {
		req.Header.Set("Authorization", "Bearer "+tok)
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, &NetworkError{Source: src.ID, Err: err}
	}
	defer resp.Body.Close()

	if isThrottled(resp) {
		return nil, &RateLimitError{
			Source:     src.ID,
			Status:     resp.StatusCode,
			RetryAfter: parseRetryAfter(resp.Header.Get("Retry-After"), time.Now()),
		}
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &NetworkError{Source: src.ID, Status: resp.StatusCode}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, &NetworkError{Source: src.ID, Err: fmt.Errorf("read body: %w", err)}
	}
	return body, nil
}

func isThrottled(resp *http.Response) bool {
	switch resp.StatusCode {
	case http.StatusTooManyRequests:
		return true
	case http.StatusForbidden:
		return resp.Header.Get("Retry-After") != "" || resp.Header.Get("X-RateLimit-Remaining") == "0"
	}
	return false
}

func parseRetryAfter(v string, now time.Time) time.Duration {
	v = strings.TrimSpace(v)
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	if t, err := http.ParseTime(v); err == nil && t.After(now) {
		return t.Sub(now)
	}
	return 0
}

func getJSON(ctx context.Context, client *http.Client, src source.Config, rawURL string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return fmt.Errorf("%s: create request: %w", src.ID, err)
	}
	req.Header.Set("Accept", "application/json")
	body, err := httpDo(client, req, src)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(body, out); err != nil {
		return &ParseError{Source: src.ID, Err: err}
	}
	return nil
}

func postJSON(ctx context.Context, client *http.Client, src source.Config, rawURL string, payload, out any) error {
	bs, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("%s: encode request: %w", src.ID, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, rawURL, bytes.NewReader(bs))
	if err != nil {
		return fmt.Errorf("%s: create request: %w", src.ID, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	body, err := httpDo(client, req, src)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(body, out); err != nil {
		return &ParseError{Source: src.ID, Err: err}
	}
	return nil
}

// withQuery 在 endpoint 上追加 / 覆盖查询参数，空值忽略
func withQuery(endpoint string, params map[string]string) string {
	u, err := url.Parse(endpoint)
	if err != nil {
		return endpoint
	}
	q := u.Query()
	for k, v := range params {
		if v == "" {
			continue
		}
		q.Set(k, v)
	}
	u.RawQuery = q.Encode()
	return u.String()
}

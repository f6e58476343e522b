package collector

import (
	"fmt"
	"time"
)

// NetworkError 无法连接源、超时或返回了非预期的 HTTP 状态
type NetworkError struct {
	Source string
	Status int
	Err    error
}

func (e *NetworkError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("%s: unexpected status %d", e.Source, e.Status)
	}
	return fmt.Sprintf("%s: network: %v", e.Source, e.Err)
}

func (e *NetworkError) Unwrap() error { return e.Err }

// ParseError 响应格式不符合预期
type ParseError struct {
	Source string
	Err    error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("%s: parse: %v", e.Source, e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

// RateLimitError 源明确返回了限流信号
type RateLimitError struct {
	Source     string
	Status     int
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	if e.RetryAfter > 0 {
		return fmt.Sprintf("%s: rate limited (status %d, retry after %s)", e.Source, e.Status, e.RetryAfter)
	}
	return fmt.Sprintf("%s: rate limited (status %d)", e.Source, e.Status)
}

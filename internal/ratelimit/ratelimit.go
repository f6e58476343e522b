// Package ratelimit 为每个数据源维护采集 / 错误历史，计算下一次允许采集的时间。
package ratelimit

import (
	"context"
	"log/slog"
	"math"
	"sync"
	"time"
)

const (
	MinInterval     = 2 * time.Minute
	MaxInterval     = 60 * time.Minute
	DefaultInterval = 5 * time.Minute

	BackoffBase = time.Second
	BackoffMax  = 60 * time.Second

	expectedFactor = 1.2
	healthyFactor  = 0.9
	unhealthyBoost = 1.5
	emaOld         = 0.7
	emaNew         = 0.3

	healthyMinFetches = 10
	healthyMaxErrors  = 2
	historyMinFetches = 5
	highErrorRate     = 0.3
	lowErrorRate      = 0.1
)

// State 单个数据源的限流状态
type State struct {
	LastFetch   time.Time     `json:"lastFetch"`
	LastUpdate  time.Time     `json:"lastUpdate"`
	FetchCount  int           `json:"fetchCount"`
	ErrorCount  int           `json:"errorCount"`
	AvgInterval time.Duration `json:"avgInterval"`

	// Reserve 占位后、RecordFetch 之前为 true；prevFetch 为占位前的 LastFetch
	reserved  bool
	prevFetch time.Time
}

func (s *State) errorRate() float64 {
	if s.FetchCount == 0 {
		return 0
	}
	return float64(s.ErrorCount) / float64(s.FetchCount)
}

// Limiter 自适应限流器。只做建议性的门控，不持有跨源的锁。
type Limiter struct {
	mu     sync.Mutex
	states map[string]*State
	now    func() time.Time
	sleep  func(ctx context.Context, d time.Duration) error
	logger *slog.Logger
}

type Option func(*Limiter)

// WithClock 注入时钟，测试中用于模拟时间流逝
func WithClock(now func() time.Time) Option {
	return func(l *Limiter) {
		if now != nil {
			l.now = now
		}
	}
}

// WithSleeper 替换退避时使用的等待函数
func WithSleeper(sleep func(ctx context.Context, d time.Duration) error) Option {
	return func(l *Limiter) {
		if sleep != nil {
			l.sleep = sleep
		}
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(l *Limiter) {
		if logger != nil {
			l.logger = logger
		}
	}
}

func New(opts ...Option) *Limiter {
	l := &Limiter{
		states: make(map[string]*State),
		now:    time.Now,
		sleep:  sleepContext,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Interval 计算数据源两次采集之间的最小间隔。
// expected 为配置的预期更新周期，为 0 时根据历史统计推算。
func (l *Limiter) Interval(id string, expected time.Duration) time.Duration {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.intervalLocked(id, expected)
}

func (l *Limiter) intervalLocked(id string, expected time.Duration) time.Duration {
	st := l.states[id]

	if expected > 0 {
		d := float64(expected) * expectedFactor
		if st != nil && st.FetchCount >= healthyMinFetches && st.ErrorCount < healthyMaxErrors {
			d *= healthyFactor
		}
		return clamp(time.Duration(d))
	}

	if st != nil && st.FetchCount >= historyMinFetches {
		d := float64(st.AvgInterval)
		switch rate := st.errorRate(); {
		case rate > highErrorRate:
			d *= unhealthyBoost
		case rate < lowErrorRate:
			d *= healthyFactor
		}
		return clamp(time.Duration(d))
	}

	return DefaultInterval
}

// ShouldFetch 从未采集过的源总是允许；否则要求距上次采集已超过 Interval
func (l *Limiter) ShouldFetch(id string, expected time.Duration) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	st, ok := l.states[id]
	if !ok || st.LastFetch.IsZero() {
		return true
	}
	return l.now().Sub(st.LastFetch) >= l.intervalLocked(id, expected)
}

// Reserve 在同一把锁内检查并占位：允许采集时立即把 LastFetch 记为当前时间并返回 true，
// 并发的其他调用在本次采集结束前都会被拒绝；不允许时返回下一次允许采集的时间
func (l *Limiter) Reserve(id string, expected time.Duration) (time.Time, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.now()
	st := l.stateLocked(id)
	if !st.LastFetch.IsZero() {
		next := st.LastFetch.Add(l.intervalLocked(id, expected))
		if now.Before(next) {
			return next, false
		}
	}
	if !st.reserved {
		st.prevFetch = st.LastFetch
	}
	st.reserved = true
	st.LastFetch = now
	return now, true
}

// NextFetchTime 返回下一次允许采集的时间；从未采集过时返回当前时间
func (l *Limiter) NextFetchTime(id string, expected time.Duration) time.Time {
	l.mu.Lock()
	defer l.mu.Unlock()
	st, ok := l.states[id]
	if !ok || st.LastFetch.IsZero() {
		return l.now()
	}
	return st.LastFetch.Add(l.intervalLocked(id, expected))
}

// Wait 距离下一次允许采集还需等待的时长
func (l *Limiter) Wait(id string, expected time.Duration) time.Duration {
	d := l.NextFetchTime(id, expected).Sub(l.now())
	if d < 0 {
		return 0
	}
	return d
}

// RecordFetch 记录一次采集。updateTime 非零表示内容有变化。
func (l *Limiter) RecordFetch(id string, fetchTime, updateTime time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()

	st := l.stateLocked(id)
	last := st.LastFetch
	if st.reserved {
		last = st.prevFetch
		st.reserved = false
		st.prevFetch = time.Time{}
	}
	if !last.IsZero() {
		interval := fetchTime.Sub(last)
		if interval > 0 {
			if st.AvgInterval == 0 {
				st.AvgInterval = interval
			} else {
				st.AvgInterval = time.Duration(emaOld*float64(st.AvgInterval) + emaNew*float64(interval))
			}
		}
	}
	st.LastFetch = fetchTime
	if !updateTime.IsZero() {
		st.LastUpdate = updateTime
	}
	st.FetchCount++
}

// RecordError 只累计错误次数，重试时机仍由 ShouldFetch 决定
func (l *Limiter) RecordError(id string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.stateLocked(id).ErrorCount++
}

// Reset 清除某个源的历史
func (l *Limiter) Reset(id string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.states, id)
}

// Snapshot 返回状态副本
func (l *Limiter) Snapshot(id string) (State, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	st, ok := l.states[id]
	if !ok {
		return State{}, false
	}
	return *st, true
}

// BackoffDelay min(1s × 2^retry, 60s)
func BackoffDelay(retry int) time.Duration {
	if retry < 0 {
		retry = 0
	}
	delay := float64(BackoffBase) * math.Pow(2, float64(retry))
	if delay > float64(BackoffMax) {
		return BackoffMax
	}
	return time.Duration(delay)
}

// WaitWithBackoff 在源返回限流信号（403 / 429 / Retry-After）时调用，只挂起当前任务
func (l *Limiter) WaitWithBackoff(ctx context.Context, id string, retry int) error {
	delay := BackoffDelay(retry)
	l.logger.Warn("source throttled, backing off",
		"source", id,
		"retry", retry,
		"delay", delay,
	)
	return l.sleep(ctx, delay)
}

func (l *Limiter) stateLocked(id string) *State {
	st, ok := l.states[id]
	if !ok {
		st = &State{}
		l.states[id] = st
	}
	return st
}

func clamp(d time.Duration) time.Duration {
	if d < MinInterval {
		return MinInterval
	}
	if d > MaxInterval {
		return MaxInterval
	}
	return d
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

package ratelimit

import (
	"context"
	"sync"
	"time"
)

// RateLimiter 速率限制器接口
type RateLimiter interface {
	Wait(ctx context.Context) error
	Allow() bool
	GetRemaining() int
	GetResetTime() time.Time
}

// IntervalLimiter 最小间隔限速器：保证相邻两次调用之间至少间隔 minInterval。
// 上次调用时间戳（watermark）由实例自身持有并用互斥锁保护，
// 所有出站链上调用共享同一个实例，构成唯一的串行化点。
type IntervalLimiter struct {
	minInterval time.Duration
	lastCall    time.Time
	mu          sync.Mutex
}

// NewIntervalLimiter 创建最小间隔限速器
func NewIntervalLimiter(minInterval time.Duration) *IntervalLimiter {
	return &IntervalLimiter{minInterval: minInterval}
}

// Wait 阻塞直到距上次调用满足最小间隔；成功返回时已占用本次调用的时间片。
// 注意：锁在睡眠期间一直持有，并发调用方必须严格排队，
// 否则多个调用方同时读到旧 watermark 会击穿限速。
func (l *IntervalLimiter) Wait(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	elapsed := time.Since(l.lastCall)
	if wait := l.minInterval - elapsed; wait > 0 {
		t := time.NewTimer(wait)
		defer t.Stop()
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
		}
	}
	l.lastCall = time.Now()
	return nil
}

// Allow 非阻塞检查：允许则推进 watermark
func (l *IntervalLimiter) Allow() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if time.Since(l.lastCall) < l.minInterval {
		return false
	}
	l.lastCall = time.Now()
	return true
}

// GetRemaining 当前窗口剩余调用数（0 或 1）
func (l *IntervalLimiter) GetRemaining() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	if time.Since(l.lastCall) < l.minInterval {
		return 0
	}
	return 1
}

// GetResetTime 下一次允许调用的时间
func (l *IntervalLimiter) GetResetTime() time.Time {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.lastCall.Add(l.minInterval)
}

// TokenBucket 令牌桶速率限制器（用于 WebSocket 入站消息节流）
type TokenBucket struct {
	capacity   int // 桶容量
	tokens     int // 当前令牌数
	refillRate int // 每秒补充的令牌数
	lastRefill time.Time
	mu         sync.Mutex
}

// NewTokenBucket 创建新的令牌桶
func NewTokenBucket(capacity, refillRate int) *TokenBucket {
	return &TokenBucket{
		capacity:   capacity,
		tokens:     capacity,
		refillRate: refillRate,
		lastRefill: time.Now(),
	}
}

// refill 补充令牌
func (tb *TokenBucket) refill() {
	now := time.Now()
	elapsed := now.Sub(tb.lastRefill)

	tokensToAdd := int(elapsed.Seconds()) * tb.refillRate
	if tokensToAdd > 0 {
		tb.tokens = min(tb.capacity, tb.tokens+tokensToAdd)
		tb.lastRefill = now
	}
}

// Allow 检查是否允许请求
func (tb *TokenBucket) Allow() bool {
	tb.mu.Lock()
	defer tb.mu.Unlock()

	tb.refill()

	if tb.tokens > 0 {
		tb.tokens--
		return true
	}
	return false
}

// Wait 等待直到允许请求
func (tb *TokenBucket) Wait(ctx context.Context) error {
	for {
		if tb.Allow() {
			return nil
		}
		waitTime := time.Second
		if tb.refillRate > 0 {
			waitTime = time.Second / time.Duration(tb.refillRate)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(waitTime):
		}
	}
}

// GetRemaining 获取剩余令牌数
func (tb *TokenBucket) GetRemaining() int {
	tb.mu.Lock()
	defer tb.mu.Unlock()
	tb.refill()
	return tb.tokens
}

// GetResetTime 获取重置时间
func (tb *TokenBucket) GetResetTime() time.Time {
	tb.mu.Lock()
	defer tb.mu.Unlock()
	tb.refill()
	if tb.tokens < tb.capacity && tb.refillRate > 0 {
		needed := tb.capacity - tb.tokens
		seconds := float64(needed) / float64(tb.refillRate)
		return time.Now().Add(time.Duration(seconds * float64(time.Second)))
	}
	return time.Now()
}

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}

package api

import (
	"context"
	"sync"

	"golang.org/x/time/rate"
)

// Throttle はリソースごとに送信レートを制限する。
// 上限に達した場合はエラーにせず、トークンが補充されるまで待機する。
type Throttle struct {
	limit rate.Limit
	burst int

	mu       sync.RWMutex
	limiters map[string]*rate.Limiter
}

// NewThrottle はThrottleを生成する。limitが0以下の場合は制限しない。
func NewThrottle(limit rate.Limit, burst int) *Throttle {
	if burst <= 0 {
		burst = 1
	}
	return &Throttle{
		limit:    limit,
		burst:    burst,
		limiters: make(map[string]*rate.Limiter),
	}
}

// Wait はresourceへの送信が許可されるまで待機する。ctxが終了した場合はエラーを返す。
func (t *Throttle) Wait(ctx context.Context, resource string) error {
	if t.limit <= 0 {
		return nil
	}
	return t.limiter(resource).Wait(ctx)
}

// Len は管理しているリミッター数を返す。
func (t *Throttle) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.limiters)
}

func (t *Throttle) limiter(resource string) *rate.Limiter {
	t.mu.RLock()
	l, ok := t.limiters[resource]
	t.mu.RUnlock()
	if ok {
		return l
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	// ダブルチェック
	if l, ok := t.limiters[resource]; ok {
		return l
	}
	l = rate.NewLimiter(t.limit, t.burst)
	t.limiters[resource] = l
	return l
}

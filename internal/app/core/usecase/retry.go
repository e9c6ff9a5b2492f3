package usecase

import (
	"context"
	"math/rand"
	"time"
)

// RetryPolicy 條件提交失敗 (指紋不符) 時的重試策略
type RetryPolicy struct {
	// MaxAttempts 含第一次在內的最大嘗試次數
	MaxAttempts int
	// BaseBackoff 第一次重試前的等待上限，之後每次加倍
	BaseBackoff time.Duration
	// MaxBackoff 等待上限
	MaxBackoff time.Duration
}

// DefaultRetryPolicy 預設最多 5 次
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts: 5,
		BaseBackoff: 2 * time.Millisecond,
		MaxBackoff:  50 * time.Millisecond,
	}
}

func (p RetryPolicy) normalize() RetryPolicy {
	def := DefaultRetryPolicy()
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = def.MaxAttempts
	}
	if p.BaseBackoff < 0 {
		p.BaseBackoff = 0
	}
	if p.MaxBackoff < p.BaseBackoff {
		p.MaxBackoff = p.BaseBackoff
	}
	return p
}

// Backoff 第 attempt 次失敗後要等多久 (exponential + full jitter)
func (p RetryPolicy) Backoff(attempt int) time.Duration {
	if p.BaseBackoff <= 0 || attempt <= 0 {
		return 0
	}
	ceiling := p.BaseBackoff
	for i := 1; i < attempt && ceiling < p.MaxBackoff; i++ {
		ceiling *= 2
	}
	if ceiling > p.MaxBackoff {
		ceiling = p.MaxBackoff
	}
	return time.Duration(rand.Int63n(int64(ceiling) + 1))
}

// sleepContext 等待 d，ctx 結束時提早回傳
func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

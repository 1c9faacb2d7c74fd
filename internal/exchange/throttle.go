package exchange

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// SlowQueryThreshold 超过该耗时的请求会记录告警。
const SlowQueryThreshold = time.Second

// Throttle 串行化交易所请求，并保证上一请求结束后至少间隔 delay 才发出下一请求。
type Throttle struct {
	mu     sync.Mutex
	delay  time.Duration
	slow   time.Duration
	last   time.Time
	logger *zap.Logger
}

// NewThrottle 创建请求节流器。
func NewThrottle(delay time.Duration, logger *zap.Logger) *Throttle {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Throttle{
		delay:  delay,
		slow:   SlowQueryThreshold,
		logger: logger,
	}
}

// Do 在节流约束下执行 fn，等待期间响应 ctx 取消。
func (t *Throttle) Do(ctx context.Context, operation string, fn func() error) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !t.last.IsZero() && t.delay > 0 {
		if wait := t.delay - time.Since(t.last); wait > 0 {
			timer := time.NewTimer(wait)
			select {
			case <-ctx.Done():
				timer.Stop()
				return ctx.Err()
			case <-timer.C:
			}
		}
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	start := time.Now()
	err := fn()
	t.last = time.Now()

	if elapsed := t.last.Sub(start); elapsed > t.slow {
		t.logger.Warn("交易所请求耗时过长",
			zap.String("operation", operation),
			zap.Duration("latency", elapsed),
		)
	}
	return err
}

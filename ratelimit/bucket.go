package ratelimit

import (
	"context"
	"time"

	"golang.org/x/time/rate"

	"github.com/ceyewan/harvest/clog"
	"github.com/ceyewan/harvest/metrics"
)

// Bucket 全局令牌桶
//
// rate.Limiter 在每次取令牌时按流逝时间惰性补充，效果等同于每秒补充
// 容量/窗口 个令牌的后台任务，且不会超过容量。
type Bucket struct {
	limiter *rate.Limiter
	quota   Quota
	poll    time.Duration
	now     func() time.Time
	logger  clog.Logger

	acquired metrics.Counter
	waited   metrics.Histogram
}

// NewBucket 创建满桶
func NewBucket(cfg *Config, opts ...Option) (*Bucket, error) {
	if cfg == nil {
		cfg = &Config{}
	}
	cfg.setDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	opt := optionsFrom(opts)

	acquired, err := opt.meter.Counter(MetricAcquireTotal, "令牌获取次数")
	if err != nil {
		return nil, err
	}
	waited, err := opt.meter.Histogram(MetricWaitSeconds, "令牌等待耗时", metrics.WithUnit("s"))
	if err != nil {
		return nil, err
	}

	limit := cfg.Limit()
	// 容量满的桶：rate.Limiter 初始即持有 Burst 个令牌
	lim := rate.NewLimiter(rate.Limit(limit.Rate), limit.Burst)
	// 以注入时钟为基准对齐内部时间
	lim.SetLimitAt(opt.now(), rate.Limit(limit.Rate))

	opt.logger.Info("rate limiter created",
		clog.Int("hard_limit", cfg.HardLimit),
		clog.Int("buffer", cfg.Buffer),
		clog.Int("capacity", limit.Burst),
		clog.Float64("refill_per_second", limit.Rate))

	return &Bucket{
		limiter:  lim,
		quota:    cfg.Quota,
		poll:     cfg.PollInterval,
		now:      opt.now,
		logger:   opt.logger,
		acquired: acquired,
		waited:   waited,
	}, nil
}

// Acquire 阻塞轮询直到取得 1 个令牌
//
// 每隔 PollInterval 检查一次，先到先得，不保证调用方之间的公平性。
func (b *Bucket) Acquire(ctx context.Context) error {
	start := b.now()
	var ticker *time.Ticker
	for {
		if b.limiter.AllowN(b.now(), 1) {
			wait := b.now().Sub(start)
			b.acquired.Inc(ctx, metrics.L(metrics.LabelOutcome, metrics.OutcomeSuccess))
			b.waited.Record(ctx, wait.Seconds())
			if wait > time.Second {
				b.logger.Debug("token acquired after waiting", clog.Duration("wait", wait))
			}
			return nil
		}

		if ticker == nil {
			ticker = time.NewTicker(b.poll)
			defer ticker.Stop()
		}
		select {
		case <-ctx.Done():
			b.acquired.Inc(ctx, metrics.L(metrics.LabelOutcome, metrics.OutcomeError))
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// TryAcquire 非阻塞地尝试取得 1 个令牌
func (b *Bucket) TryAcquire() bool {
	return b.limiter.AllowN(b.now(), 1)
}

// Tokens 当前可用令牌数
func (b *Bucket) Tokens() float64 {
	return b.limiter.TokensAt(b.now())
}

// Capacity 桶容量
func (b *Bucket) Capacity() int {
	return b.quota.Capacity()
}

package fetcher

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/ceyewan/harvest/breaker"
	"github.com/ceyewan/harvest/cache"
	"github.com/ceyewan/harvest/clog"
	"github.com/ceyewan/harvest/metrics"
	"github.com/ceyewan/harvest/ratelimit"
	"github.com/ceyewan/harvest/record"
	"github.com/ceyewan/harvest/xerrors"
)

// Pipeline 单次抓取调用链，并发安全
type Pipeline struct {
	cfg      Config
	source   Source
	cache    cache.Cache
	breakers *breaker.Registry
	limiter  ratelimit.Limiter
	endpoint func(Query) string
	logger   clog.Logger

	requests metrics.Counter
	retries  metrics.Counter
}

// New 创建调用链，cfg 为 nil 时使用默认配置
func New(cfg *Config, source Source, opts ...Option) (*Pipeline, error) {
	if source == nil {
		return nil, ErrSourceNil
	}
	if cfg == nil {
		cfg = &Config{}
	}
	c := *cfg
	c.setDefaults()
	if err := c.validate(); err != nil {
		return nil, err
	}

	opt := options{
		logger:   clog.Discard(),
		meter:    metrics.Discard(),
		limiter:  ratelimit.Noop{},
		endpoint: DefaultEndpoint,
	}
	for _, o := range opts {
		o(&opt)
	}

	requests, err := opt.meter.Counter(MetricRequestsTotal, "抓取请求总数")
	if err != nil {
		return nil, err
	}
	retries, err := opt.meter.Counter(MetricRetriesTotal, "临时错误重试次数")
	if err != nil {
		return nil, err
	}

	return &Pipeline{
		cfg:      c,
		source:   source,
		cache:    opt.cache,
		breakers: opt.breakers,
		limiter:  opt.limiter,
		endpoint: opt.endpoint,
		logger:   opt.logger,
		requests: requests,
		retries:  retries,
	}, nil
}

// Fetch 实现 Source
func (p *Pipeline) Fetch(ctx context.Context, q Query) ([]record.Record, error) {
	if items, ok := p.lookup(ctx, q.CacheKey()); ok {
		p.requests.Inc(ctx, metrics.L(metrics.LabelOutcome, metrics.OutcomeCacheHit))
		return items, nil
	}

	items, err := p.protected(ctx, q)
	if err != nil {
		if xerrors.IsCircuitOpen(err) {
			if stale, ok := p.lookup(ctx, q.StaleKey()); ok {
				p.logger.Warn("circuit open, serving stale result",
					clog.String("partition", q.Partition),
					clog.String("since", q.Since),
					clog.String("until", q.Until),
					clog.Int("items", len(stale)))
				p.requests.Inc(ctx, metrics.L(metrics.LabelOutcome, metrics.OutcomeStale))
				return stale, nil
			}
		}
		p.requests.Inc(ctx, metrics.L(metrics.LabelOutcome, metrics.OutcomeError))
		return nil, err
	}

	p.store(ctx, q, items)
	p.requests.Inc(ctx, metrics.L(metrics.LabelOutcome, metrics.OutcomeSuccess))
	return items, nil
}

// protected 在熔断器内执行带重试的抓取；整个重试过程算作熔断器的一次调用
func (p *Pipeline) protected(ctx context.Context, q Query) ([]record.Record, error) {
	if p.breakers == nil {
		return p.retry(ctx, q)
	}
	brk, err := p.breakers.Get(ctx, p.endpoint(q))
	if err != nil {
		return nil, err
	}
	return breaker.Execute(ctx, brk, func() ([]record.Record, error) {
		return p.retry(ctx, q)
	})
}

func (p *Pipeline) retry(ctx context.Context, q Query) ([]record.Record, error) {
	exp := backoff.NewExponentialBackOff()
	exp.InitialInterval = p.cfg.RetryMinWait
	exp.MaxInterval = p.cfg.RetryMaxWait
	exp.MaxElapsedTime = 0
	policy := backoff.WithContext(backoff.WithMaxRetries(exp, uint64(p.cfg.RetryAttempts-1)), ctx)

	var items []record.Record
	op := func() error {
		if err := p.limiter.Acquire(ctx); err != nil {
			return backoff.Permanent(err)
		}
		out, err := p.source.Fetch(ctx, q)
		if err != nil {
			if xerrors.IsTransient(err) {
				return err
			}
			return backoff.Permanent(err)
		}
		items = out
		return nil
	}
	notify := func(err error, wait time.Duration) {
		p.retries.Inc(ctx)
		p.logger.Warn("transient fetch error, retrying",
			clog.String("partition", q.Partition),
			clog.String("since", q.Since),
			clog.String("until", q.Until),
			clog.Duration("wait", wait),
			clog.Error(err))
	}

	if err := backoff.RetryNotify(op, policy, notify); err != nil {
		return nil, xerrors.Wrapf(err, "fetch %s [%s, %s]", q.Partition, q.Since, q.Until)
	}
	if items == nil {
		items = []record.Record{}
	}
	return items, nil
}

func (p *Pipeline) lookup(ctx context.Context, key string) ([]record.Record, bool) {
	if p.cache == nil {
		return nil, false
	}
	var items []record.Record
	found, err := p.cache.Get(ctx, key, &items)
	if err != nil {
		p.logger.Warn("fetch cache read failed", clog.String("key", key), clog.Error(err))
		return nil, false
	}
	if !found {
		return nil, false
	}
	if items == nil {
		items = []record.Record{}
	}
	return items, true
}

// store 缓存写入失败只记录日志，不影响本次结果
func (p *Pipeline) store(ctx context.Context, q Query, items []record.Record) {
	if p.cache == nil {
		return
	}
	if err := p.cache.Set(ctx, q.CacheKey(), items, p.cfg.FreshTTL); err != nil {
		p.logger.Warn("fetch cache write failed", clog.String("key", q.CacheKey()), clog.Error(err))
	}
	if err := p.cache.Set(ctx, q.StaleKey(), items, p.cfg.StaleTTL); err != nil {
		p.logger.Warn("fetch cache write failed", clog.String("key", q.StaleKey()), clog.Error(err))
	}
}

// Package fetcher 提供单次抓取的弹性调用链。
//
// fetcher 把外部数据源包装成一条固定顺序的调用链：
//
//	新鲜缓存 → 熔断器 → 指数退避重试 → 限流令牌 → 数据源
//
// - 命中新鲜缓存时不访问上游
// - 熔断器按端点隔离，端点默认取 "fetch:<partition>"
// - 只有 xerrors.KindTransient 的错误会被重试，每次尝试前先取令牌
// - 熔断打开时回退到过期缓存，没有过期缓存才把 *breaker.OpenError 返回给调用方
//
// ## 基本使用
//
//	p, _ := fetcher.New(&fetcher.Config{RetryAttempts: 3}, source,
//	    fetcher.WithCache(c),
//	    fetcher.WithBreaker(registry),
//	    fetcher.WithLimiter(limiter),
//	    fetcher.WithLogger(logger))
//
//	items, err := p.Fetch(ctx, fetcher.Query{
//	    Partition: "ceyewan/harvest",
//	    Since:     "2024-01-01",
//	    Until:     "2024-01-07",
//	})
//
// Pipeline 自身也实现了 Source，可以直接交给 chunk.Engine 使用。
package fetcher

import (
	"context"
	"time"

	"github.com/ceyewan/harvest/record"
	"github.com/ceyewan/harvest/xerrors"
)

// ========================================
// 接口定义 (Interface Definitions)
// ========================================

// Query 一次抓取的参数，日期均为 YYYY-MM-DD
type Query struct {
	Partition string `json:"partition"`
	Since     string `json:"since"`
	Until     string `json:"until"`
	Filter    string `json:"filter,omitempty"`
}

// filterOrAll 空过滤条件在键中记为 "all"
func (q Query) filterOrAll() string {
	if q.Filter == "" {
		return "all"
	}
	return q.Filter
}

// CacheKey 新鲜结果的缓存键
func (q Query) CacheKey() string {
	return "fetch:" + q.Partition + ":" + q.Since + ":" + q.Until + ":" + q.filterOrAll()
}

// StaleKey 过期结果的缓存键，保留时间比新鲜结果长，用于熔断时降级
func (q Query) StaleKey() string {
	return "stale:" + q.CacheKey()
}

// Source 外部数据源
//
// 实现需要保证重复调用是安全的，并用 xerrors.Transient 标记可重试的错误。
type Source interface {
	Fetch(ctx context.Context, q Query) ([]record.Record, error)
}

// FetchFunc 把普通函数适配为 Source
type FetchFunc func(ctx context.Context, q Query) ([]record.Record, error)

// Fetch 实现 Source
func (f FetchFunc) Fetch(ctx context.Context, q Query) ([]record.Record, error) {
	return f(ctx, q)
}

// ========================================
// 配置定义 (Configuration)
// ========================================

// Config 调用链配置
type Config struct {
	// RetryAttempts 总尝试次数（含首次），默认 3
	RetryAttempts int `json:"retry_attempts" yaml:"retry_attempts" mapstructure:"retry_attempts"`

	// RetryMinWait 首次重试前的等待时间，默认 4s
	RetryMinWait time.Duration `json:"retry_min_wait" yaml:"retry_min_wait" mapstructure:"retry_min_wait"`

	// RetryMaxWait 单次重试等待上限，默认 10s
	RetryMaxWait time.Duration `json:"retry_max_wait" yaml:"retry_max_wait" mapstructure:"retry_max_wait"`

	// FreshTTL 新鲜缓存有效期，默认 1h
	FreshTTL time.Duration `json:"fresh_ttl" yaml:"fresh_ttl" mapstructure:"fresh_ttl"`

	// StaleTTL 过期缓存保留时间，默认 168h
	StaleTTL time.Duration `json:"stale_ttl" yaml:"stale_ttl" mapstructure:"stale_ttl"`
}

func (c *Config) setDefaults() {
	if c.RetryAttempts == 0 {
		c.RetryAttempts = 3
	}
	if c.RetryMinWait == 0 {
		c.RetryMinWait = 4 * time.Second
	}
	if c.RetryMaxWait == 0 {
		c.RetryMaxWait = 10 * time.Second
	}
	if c.FreshTTL == 0 {
		c.FreshTTL = time.Hour
	}
	if c.StaleTTL == 0 {
		c.StaleTTL = 168 * time.Hour
	}
}

func (c *Config) validate() error {
	if c.RetryAttempts < 1 {
		return xerrors.Wrapf(ErrInvalidConfig, "retry_attempts must be >= 1, got %d", c.RetryAttempts)
	}
	if c.RetryMinWait < 0 || c.RetryMaxWait < c.RetryMinWait {
		return xerrors.Wrapf(ErrInvalidConfig, "retry wait range [%s, %s] is invalid", c.RetryMinWait, c.RetryMaxWait)
	}
	if c.StaleTTL < c.FreshTTL {
		return xerrors.Wrap(ErrInvalidConfig, "stale_ttl must not be shorter than fresh_ttl")
	}
	return nil
}

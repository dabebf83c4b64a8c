package fetcher

import (
	"github.com/ceyewan/harvest/breaker"
	"github.com/ceyewan/harvest/cache"
	"github.com/ceyewan/harvest/clog"
	"github.com/ceyewan/harvest/metrics"
	"github.com/ceyewan/harvest/ratelimit"
)

// Option 组件初始化选项函数
type Option func(*options)

type options struct {
	logger   clog.Logger
	meter    metrics.Meter
	cache    cache.Cache
	breakers *breaker.Registry
	limiter  ratelimit.Limiter
	endpoint func(Query) string
}

// WithLogger 设置 Logger，内部会自动添加 namespace: "fetcher"
func WithLogger(logger clog.Logger) Option {
	return func(o *options) {
		if logger != nil {
			o.logger = logger.WithNamespace("fetcher")
		}
	}
}

// WithMeter 设置 Meter
func WithMeter(meter metrics.Meter) Option {
	return func(o *options) {
		if meter != nil {
			o.meter = meter
		}
	}
}

// WithCache 启用新鲜缓存与过期降级，不设置时每次都访问数据源
func WithCache(c cache.Cache) Option {
	return func(o *options) {
		o.cache = c
	}
}

// WithBreaker 启用按端点熔断
func WithBreaker(reg *breaker.Registry) Option {
	return func(o *options) {
		o.breakers = reg
	}
}

// WithLimiter 设置全局限流器，默认不限流
func WithLimiter(l ratelimit.Limiter) Option {
	return func(o *options) {
		if l != nil {
			o.limiter = l
		}
	}
}

// WithEndpoint 自定义熔断端点的命名方式
func WithEndpoint(fn func(Query) string) Option {
	return func(o *options) {
		if fn != nil {
			o.endpoint = fn
		}
	}
}

// DefaultEndpoint 默认端点名：每个分区一个熔断器
func DefaultEndpoint(q Query) string {
	return "fetch:" + q.Partition
}

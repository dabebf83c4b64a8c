package orchestrator

import (
	"time"

	"github.com/ceyewan/harvest/clog"
	"github.com/ceyewan/harvest/metrics"
)

// Option 组件初始化选项函数
type Option func(*options)

type options struct {
	maxWorkers int
	parallel   bool
	maxDays    int
	observers  []Observer
	logger     clog.Logger
	meter      metrics.Meter
	now        func() time.Time
}

// WithMaxWorkers 设置并行模式下的 worker 数，默认 5
func WithMaxWorkers(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.maxWorkers = n
		}
	}
}

// WithParallel 是否启用并行，默认启用
func WithParallel(enabled bool) Option {
	return func(o *options) {
		o.parallel = enabled
	}
}

// WithMaxDays 校验日期范围时使用的分片天数，默认取引擎的配置
func WithMaxDays(days int) Option {
	return func(o *options) {
		if days > 0 {
			o.maxDays = days
		}
	}
}

// WithObserver 追加观察者，可多次调用
func WithObserver(obs Observer) Option {
	return func(o *options) {
		if obs != nil {
			o.observers = append(o.observers, obs)
		}
	}
}

// WithLogger 设置 Logger，内部会自动添加 namespace: "orchestrator"
func WithLogger(logger clog.Logger) Option {
	return func(o *options) {
		if logger != nil {
			o.logger = logger.WithNamespace("orchestrator")
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

// WithClock 注入时间源，用于计算分区耗时
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		if now != nil {
			o.now = now
		}
	}
}

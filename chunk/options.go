package chunk

import (
	"context"
	"time"

	"github.com/ceyewan/harvest/clog"
	"github.com/ceyewan/harvest/metrics"
	"github.com/ceyewan/harvest/progress"
)

// Tracker 分区级进度记录，*progress.Store 实现了该接口
type Tracker interface {
	UpdatePartition(ctx context.Context, operationID, name string, status progress.Status, updates ...progress.Update) error
}

// Option 组件初始化选项函数
type Option func(*options)

type options struct {
	logger  clog.Logger
	meter   metrics.Meter
	tracker Tracker
	now     func() time.Time
}

// WithLogger 设置 Logger，内部会自动添加 namespace: "chunk"
func WithLogger(logger clog.Logger) Option {
	return func(o *options) {
		if logger != nil {
			o.logger = logger.WithNamespace("chunk")
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

// WithTracker 设置分区进度记录，FetchPartition 依赖它
func WithTracker(t Tracker) Option {
	return func(o *options) {
		o.tracker = t
	}
}

// WithClock 注入时间源
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		if now != nil {
			o.now = now
		}
	}
}

package progress

import (
	"time"

	"github.com/ceyewan/harvest/clog"
)

// Option 组件初始化选项函数
type Option func(*options)

type options struct {
	logger clog.Logger
	now    func() time.Time
}

// WithLogger 设置 Logger，内部会自动添加 namespace: "progress"
func WithLogger(logger clog.Logger) Option {
	return func(o *options) {
		if logger != nil {
			o.logger = logger.WithNamespace("progress")
		}
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

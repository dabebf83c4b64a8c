// Package ratelimit 提供进程级的全局令牌桶限流组件。
//
// ratelimit 为所有出站调用共享同一个令牌桶，用来把请求速率控制在上游
// 配额之内：
// - 容量 = 上游硬限额 - 安全余量，启动时桶是满的
// - 令牌按 容量/窗口 的速率连续补充，不在窗口边界集中重置
// - Acquire 阻塞轮询直到取得令牌，限流不会以错误的形式暴露给调用方
// - 基于 golang.org/x/time/rate 实现，不启动后台 goroutine
//
// ## 基本使用
//
//	limiter, _ := ratelimit.New(&ratelimit.Config{
//	    Enabled:   true,
//	    HardLimit: 5000,
//	    Buffer:    100,
//	    Window:    time.Hour,
//	}, ratelimit.WithLogger(logger), ratelimit.WithMeter(meter))
//
//	if err := limiter.Acquire(ctx); err != nil {
//	    return err // 只有 ctx 取消时才会返回错误
//	}
//	resp, err := client.Do(req)
package ratelimit

import (
	"context"
	"time"

	"github.com/ceyewan/harvest/clog"
	"github.com/ceyewan/harvest/metrics"
	"github.com/ceyewan/harvest/xerrors"
)

// ========================================
// 接口定义 (Interface Definitions)
// ========================================

// Limit 定义限流规则（令牌桶算法）
type Limit struct {
	Rate  float64 // 令牌生成速率（每秒生成多少个令牌）
	Burst int     // 令牌桶容量（突发最大请求数）
}

// Limiter 限流器核心接口
type Limiter interface {
	// Acquire 阻塞直到取得 1 个令牌，仅在 ctx 结束时返回错误
	Acquire(ctx context.Context) error

	// TryAcquire 尝试取得 1 个令牌（非阻塞）
	TryAcquire() bool
}

// ========================================
// 配置定义 (Configuration)
// ========================================

// Quota 上游配额
type Quota struct {
	// HardLimit 上游在一个窗口内允许的请求数
	HardLimit int `json:"hard_limit" yaml:"hard_limit" mapstructure:"hard_limit"`

	// Buffer 为其他客户端预留的余量
	Buffer int `json:"buffer" yaml:"buffer" mapstructure:"buffer"`

	// Window 配额窗口（默认：1 小时）
	Window time.Duration `json:"window" yaml:"window" mapstructure:"window"`
}

// Capacity 实际可用的桶容量
func (q Quota) Capacity() int {
	return q.HardLimit - q.Buffer
}

// Limit 将配额换算为令牌桶规则：容量即突发上限，每秒补充 容量/窗口 个令牌
func (q Quota) Limit() Limit {
	capacity := q.Capacity()
	return Limit{
		Rate:  float64(capacity) / q.Window.Seconds(),
		Burst: capacity,
	}
}

// Config 限流配置
type Config struct {
	// Enabled 为 false 时 New 返回 Noop
	Enabled bool `json:"enabled" yaml:"enabled" mapstructure:"enabled"`

	Quota `mapstructure:",squash"`

	// PollInterval Acquire 的轮询间隔（默认：100ms）
	PollInterval time.Duration `json:"poll_interval" yaml:"poll_interval" mapstructure:"poll_interval"`
}

func (c *Config) setDefaults() {
	if c.HardLimit == 0 {
		c.HardLimit = 5000
	}
	if c.Window == 0 {
		c.Window = time.Hour
	}
	if c.PollInterval == 0 {
		c.PollInterval = 100 * time.Millisecond
	}
}

func (c *Config) validate() error {
	if c.Buffer < 0 {
		return xerrors.Wrapf(ErrInvalidLimit, "buffer must be >= 0, got %d", c.Buffer)
	}
	if c.Capacity() <= 0 {
		return xerrors.Wrapf(ErrInvalidLimit, "capacity %d-%d must be positive", c.HardLimit, c.Buffer)
	}
	if c.Window < 0 || c.PollInterval < 0 {
		return xerrors.Wrap(ErrInvalidLimit, "window and poll_interval must be positive")
	}
	return nil
}

// ========================================
// 工厂函数 (Factory Functions)
// ========================================

// New 创建限流器
//
// cfg 为 nil 或 Enabled 为 false 时返回 Noop，所有调用立即放行。
func New(cfg *Config, opts ...Option) (Limiter, error) {
	if cfg == nil || !cfg.Enabled {
		return Noop{}, nil
	}
	cfg.setDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return NewBucket(cfg, opts...)
}

// Noop 不做任何限制的限流器
type Noop struct{}

func (Noop) Acquire(ctx context.Context) error { return ctx.Err() }
func (Noop) TryAcquire() bool                  { return true }

// optionsFrom 应用选项并填充默认依赖
func optionsFrom(opts []Option) options {
	opt := options{
		logger: clog.Discard(),
		meter:  metrics.Discard(),
		now:    time.Now,
	}
	for _, o := range opts {
		o(&opt)
	}
	return opt
}

// Package breaker 提供按端点隔离、状态持久化的熔断器组件。
//
// 每个端点对应一个 gobreaker.DistributedCircuitBreaker，共享状态通过 Store
// 写入 circuits 表，进程重启或多个进程共用同一个数据库时都能读到最新状态。
// OPEN 状态下调用快速失败，返回 *OpenError，可用 xerrors.IsCircuitOpen 判断。
//
//	reg, _ := breaker.New(&breaker.Config{
//		FailureThreshold: 5,
//		Cooldown:         60 * time.Second,
//	}, breaker.WithStore(store), breaker.WithLogger(logger))
//
//	brk, _ := reg.Get(ctx, "fetch:octo/api")
//	err := brk.Call(ctx, func() error {
//		return client.Do(req)
//	})
//	if xerrors.IsCircuitOpen(err) {
//		// 使用过期缓存或直接放弃该分区
//	}
//
// 状态转换：
//
//   - CLOSED：连续失败达到 FailureThreshold 后进入 OPEN
//   - OPEN：调用直接被拒绝；Cooldown 之后的首次调用先转为 HALF_OPEN 再执行
//   - HALF_OPEN：只放行一个探测调用，成功转为 CLOSED，失败回到 OPEN
package breaker

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/sony/gobreaker/v2"

	"github.com/ceyewan/harvest/clog"
	"github.com/ceyewan/harvest/metrics"
	"github.com/ceyewan/harvest/xerrors"
)

// ========================================
// 状态定义 (State Definitions)
// ========================================

// State 熔断器状态，与 gobreaker 共用同一套取值
type State = gobreaker.State

const (
	// StateClosed 闭合状态（正常）
	StateClosed = gobreaker.StateClosed
	// StateHalfOpen 半开状态（探测恢复）
	StateHalfOpen = gobreaker.StateHalfOpen
	// StateOpen 打开状态（熔断中）
	StateOpen = gobreaker.StateOpen
)

// parseState 将持久化的状态字符串还原为 State，未知值按 CLOSED 处理
func parseState(s string) State {
	switch s {
	case StateOpen.String():
		return StateOpen
	case StateHalfOpen.String():
		return StateHalfOpen
	default:
		return StateClosed
	}
}

// Snapshot 某个端点熔断器在某一时刻的完整状态
type Snapshot struct {
	Endpoint string
	State    State
	// Failures 当前代的连续失败次数，状态切换时清零
	Failures int
	// OpenedAt 进入 OPEN 的时间，非 OPEN 状态下为零值
	OpenedAt time.Time
}

// ========================================
// 配置定义 (Configuration)
// ========================================

// Config 熔断器配置
type Config struct {
	// FailureThreshold 连续失败多少次后打开熔断（默认：5）
	FailureThreshold int `json:"failure_threshold" yaml:"failure_threshold" mapstructure:"failure_threshold"`

	// Cooldown 打开状态持续时间（默认：60s）
	// 超时后的首次调用进入半开状态进行探测
	Cooldown time.Duration `json:"cooldown" yaml:"cooldown" mapstructure:"cooldown"`
}

func (c *Config) setDefaults() {
	if c.FailureThreshold == 0 {
		c.FailureThreshold = 5
	}
	if c.Cooldown == 0 {
		c.Cooldown = 60 * time.Second
	}
}

func (c *Config) validate() error {
	if c.FailureThreshold < 1 {
		return xerrors.Wrapf(ErrInvalidConfig, "failure_threshold must be >= 1, got %d", c.FailureThreshold)
	}
	if c.Cooldown < 0 {
		return xerrors.Wrapf(ErrInvalidConfig, "cooldown must be >= 0, got %s", c.Cooldown)
	}
	return nil
}

// ========================================
// 注册表 (Registry)
// ========================================

// Registry 管理端点到熔断器的映射，所有熔断器共享同一个 Store
//
// 注册表的锁只保护映射本身；调用路径上只持有单个熔断器的锁，不同端点互不竞争。
type Registry struct {
	cfg    *Config
	store  Store
	shared *sharedData
	logger clog.Logger

	stateChanges metrics.Counter
	rejects      metrics.Counter

	mu       sync.Mutex
	breakers map[string]*Breaker
}

// New 创建熔断器注册表
//
// cfg 为 nil 时使用默认配置；未指定 Store 时使用进程内存储（不跨进程持久化）。
//
//	reg, _ := breaker.New(&breaker.Config{FailureThreshold: 3},
//		breaker.WithStore(breaker.NewGormStore(database)),
//		breaker.WithMeter(meter),
//	)
func New(cfg *Config, opts ...Option) (*Registry, error) {
	if cfg == nil {
		cfg = &Config{}
	}
	cfg.setDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	opt := options{
		logger: clog.Discard(),
		meter:  metrics.Discard(),
	}
	for _, o := range opts {
		o(&opt)
	}
	if opt.store == nil {
		opt.store = NewMemoryStore()
	}

	stateChanges, err := opt.meter.Counter(MetricStateChanges, "熔断器状态变更次数")
	if err != nil {
		return nil, xerrors.Wrap(err, "create state change counter")
	}
	rejects, err := opt.meter.Counter(MetricRejectsTotal, "被熔断拒绝的调用数")
	if err != nil {
		return nil, xerrors.Wrap(err, "create reject counter")
	}

	opt.logger.Debug("circuit breaker registry created",
		clog.Int("failure_threshold", cfg.FailureThreshold),
		clog.Duration("cooldown", cfg.Cooldown))

	return &Registry{
		cfg:          cfg,
		store:        opt.store,
		shared:       newSharedData(opt.store),
		logger:       opt.logger,
		stateChanges: stateChanges,
		rejects:      rejects,
		breakers:     make(map[string]*Breaker),
	}, nil
}

// settings 端点熔断器的 gobreaker 配置：HALF_OPEN 只放行一个探测请求，CLOSED 状态不按周期清零
func (r *Registry) settings(endpoint string) gobreaker.Settings {
	threshold := uint32(r.cfg.FailureThreshold)
	return gobreaker.Settings{
		Name:        endpoint,
		MaxRequests: 1,
		Timeout:     r.cfg.Cooldown,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			r.onStateChange(name, from, to)
		},
	}
}

// Get 返回端点对应的熔断器，首次引用时从 Store 加载历史状态
func (r *Registry) Get(ctx context.Context, endpoint string) (*Breaker, error) {
	if endpoint == "" {
		return nil, ErrKeyEmpty
	}

	r.mu.Lock()
	b, ok := r.breakers[endpoint]
	if !ok {
		b = &Breaker{endpoint: endpoint, reg: r}
		r.breakers[endpoint] = b
	}
	r.mu.Unlock()

	if err := b.load(ctx); err != nil {
		return nil, err
	}
	return b, nil
}

// Call 便捷方法：取得端点熔断器并执行 fn
func (r *Registry) Call(ctx context.Context, endpoint string, fn func() error) error {
	b, err := r.Get(ctx, endpoint)
	if err != nil {
		return err
	}
	return b.Call(ctx, fn)
}

// List 返回 Store 中所有已持久化的熔断器状态，按端点名排序
func (r *Registry) List(ctx context.Context) ([]Snapshot, error) {
	snaps, err := r.store.List(ctx)
	if err != nil {
		return nil, err
	}
	sort.Slice(snaps, func(i, j int) bool { return snaps[i].Endpoint < snaps[j].Endpoint })
	return snaps, nil
}

// Execute 执行带返回值的受保护调用
//
//	items, err := breaker.Execute(ctx, brk, func() ([]record.Record, error) {
//		return source.Fetch(ctx, q)
//	})
func Execute[T any](ctx context.Context, b *Breaker, fn func() (T, error)) (T, error) {
	var out T
	err := b.Call(ctx, func() error {
		v, err := fn()
		if err != nil {
			return err
		}
		out = v
		return nil
	})
	return out, err
}

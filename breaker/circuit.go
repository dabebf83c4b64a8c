package breaker

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/sony/gobreaker/v2"

	"github.com/ceyewan/harvest/clog"
	"github.com/ceyewan/harvest/metrics"
	"github.com/ceyewan/harvest/xerrors"
)

// Breaker 单个端点的熔断器
//
// 状态机由 gobreaker.DistributedCircuitBreaker 驱动：每次调用前从 Store 注入
// 共享状态，调用后写回。同一端点的调用在进程内串行执行。
type Breaker struct {
	endpoint string
	reg      *Registry

	mu sync.Mutex
	cb *gobreaker.DistributedCircuitBreaker[any]
}

// Endpoint 返回熔断器对应的端点名
func (b *Breaker) Endpoint() string {
	return b.endpoint
}

// load 首次引用时创建 gobreaker 实例并同步 Store 中的状态；失败后下次 Get 重试
func (b *Breaker) load(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.cb != nil {
		return nil
	}

	// gobreaker 把读取失败当成"没有状态"并写入初始值，先确认 Store 可读
	if _, _, err := b.reg.store.Load(ctx, b.endpoint); err != nil {
		return err
	}

	cb, err := gobreaker.NewDistributedCircuitBreaker[any](b.reg.shared, b.reg.settings(b.endpoint))
	if err != nil {
		return xerrors.Wrapf(err, "create circuit %s", b.endpoint)
	}
	state, err := cb.State()
	if err != nil {
		return xerrors.Wrapf(err, "restore circuit %s", b.endpoint)
	}
	b.reg.logger.Debug("circuit state restored",
		clog.String("endpoint", b.endpoint),
		clog.String("state", state.String()),
		clog.Int("failures", int(cb.Counts().ConsecutiveFailures)))
	b.cb = cb
	return nil
}

func (b *Breaker) breaker() *gobreaker.DistributedCircuitBreaker[any] {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.cb
}

// Call 在熔断保护下执行 fn
//
// OPEN 状态下直接返回 *OpenError 而不调用 fn；否则执行 fn 并把结果写回 Store。
// fn 的错误原样返回，写回失败时与 fn 的错误合并返回。
func (b *Breaker) Call(ctx context.Context, fn func() error) error {
	invoked := false
	var callErr error
	_, err := b.breaker().Execute(func() (any, error) {
		invoked = true
		if callErr = fn(); callErr != nil {
			return nil, &callFailure{err: callErr}
		}
		return nil, nil
	})

	var failure *callFailure
	switch {
	case err == nil:
		return nil
	case errors.As(err, &failure):
		return failure.err
	case !invoked && (errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests)):
		b.reg.rejects.Inc(ctx)
		return &OpenError{Endpoint: b.endpoint, OpenedAt: b.Snapshot().OpenedAt}
	case !invoked:
		return xerrors.Wrapf(err, "circuit %s", b.endpoint)
	}
	b.reg.logger.Error("persist circuit state failed", clog.String("endpoint", b.endpoint), clog.Error(err))
	return xerrors.Combine(callErr, err)
}

// callFailure 区分 fn 自身的错误与写回 Store 的错误
type callFailure struct{ err error }

func (f *callFailure) Error() string { return f.err.Error() }

// State 返回本进程最近一次同步后的状态；OPEN 超过冷却期时返回 HALF_OPEN
func (b *Breaker) State() State {
	return b.Snapshot().State
}

// Snapshot 返回当前完整状态，只读取最近一次同步的结果，不触发状态转换
func (b *Breaker) Snapshot() Snapshot {
	st := b.reg.shared.lastState(b.endpoint)
	if st.State == StateOpen && st.Expiry.Before(time.Now()) {
		return Snapshot{Endpoint: b.endpoint, State: StateHalfOpen}
	}
	return snapshotOf(b.endpoint, st)
}

// Reset 强制回到 CLOSED 并清零计数，供运维手动恢复
//
// 先写 Store 再同步本地实例，写入失败时本地状态保持不变。
func (b *Breaker) Reset(ctx context.Context) error {
	mutex := sharedMutexPrefix + b.endpoint

	_ = b.reg.shared.Lock(mutex)
	prev, _, err := b.reg.store.Load(ctx, b.endpoint)
	if err == nil {
		err = b.reg.store.Save(ctx, b.endpoint, gobreaker.SharedState{
			State:      StateClosed,
			Generation: prev.Generation + 1,
			Buckets:    []gobreaker.Counts{{}},
			Start:      time.Now(),
		})
	}
	_ = b.reg.shared.Unlock(mutex)
	if err != nil {
		return err
	}

	if prev.State != StateClosed {
		b.reg.onStateChange(b.endpoint, prev.State, StateClosed)
	}
	b.reg.logger.Info("circuit reset", clog.String("endpoint", b.endpoint))
	if _, err := b.breaker().State(); err != nil {
		return xerrors.Wrapf(err, "sync circuit %s", b.endpoint)
	}
	return nil
}

// onStateChange gobreaker 状态变更回调
func (r *Registry) onStateChange(endpoint string, from, to State) {
	r.stateChanges.Inc(context.Background(),
		metrics.L(LabelFromState, from.String()),
		metrics.L(LabelToState, to.String()))
	fields := []clog.Field{
		clog.String("endpoint", endpoint),
		clog.String("from", from.String()),
		clog.String("to", to.String()),
	}
	if to == StateOpen {
		r.logger.Warn("circuit opened", fields...)
		return
	}
	r.logger.Info("circuit state changed", fields...)
}

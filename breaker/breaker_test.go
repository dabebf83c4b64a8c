package breaker

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sony/gobreaker/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ceyewan/harvest/testkit"
	"github.com/ceyewan/harvest/xerrors"
)

var (
	errBoom = errors.New("boom")
	errSave = errors.New("database is locked")
)

const cooldown = 100 * time.Millisecond

func newRegistry(t *testing.T, store Store) *Registry {
	t.Helper()
	return newRegistryWithCooldown(t, store, cooldown)
}

func newRegistryWithCooldown(t *testing.T, store Store, d time.Duration) *Registry {
	t.Helper()
	kit := testkit.NewKit(t)
	reg, err := New(&Config{FailureThreshold: 3, Cooldown: d},
		WithLogger(kit.Logger),
		WithMeter(kit.Meter),
		WithStore(store),
	)
	require.NoError(t, err)
	return reg
}

// waitCooldown 等待冷却期结束
func waitCooldown() { time.Sleep(cooldown + 50*time.Millisecond) }

// failingStore 在 failSave 打开时拒绝写入
type failingStore struct {
	Store
	failSave atomic.Bool
}

func (s *failingStore) Save(ctx context.Context, endpoint string, st gobreaker.SharedState) error {
	if s.failSave.Load() {
		return errSave
	}
	return s.Store.Save(ctx, endpoint, st)
}

func fail() error    { return errBoom }
func succeed() error { return nil }

func TestNew_Defaults(t *testing.T) {
	reg, err := New(nil)
	require.NoError(t, err)
	assert.Equal(t, 5, reg.cfg.FailureThreshold)
	assert.Equal(t, 60*time.Second, reg.cfg.Cooldown)
}

func TestNew_InvalidConfig(t *testing.T) {
	_, err := New(&Config{FailureThreshold: -1})
	require.Error(t, err)
	assert.ErrorIs(t, err, xerrors.ErrInvalidInput)
}

func TestGet_EmptyEndpoint(t *testing.T) {
	reg := newRegistry(t, nil)
	_, err := reg.Get(context.Background(), "")
	assert.ErrorIs(t, err, ErrKeyEmpty)
}

func TestGet_KeyedSingleton(t *testing.T) {
	ctx := context.Background()
	reg := newRegistry(t, nil)

	a, err := reg.Get(ctx, "commits:a")
	require.NoError(t, err)
	b, err := reg.Get(ctx, "commits:a")
	require.NoError(t, err)
	c, err := reg.Get(ctx, "commits:b")
	require.NoError(t, err)

	assert.Same(t, a, b)
	assert.NotSame(t, a, c)
}

func TestTransitionLaw(t *testing.T) {
	ctx := context.Background()
	reg := newRegistry(t, nil)
	brk, err := reg.Get(ctx, "commits:repo")
	require.NoError(t, err)

	// 阈值之前保持 CLOSED，错误原样返回
	for i := 0; i < 2; i++ {
		err := brk.Call(ctx, fail)
		assert.ErrorIs(t, err, errBoom)
		assert.Equal(t, StateClosed, brk.State())
	}

	// 第 3 次失败打开熔断
	before := time.Now()
	assert.ErrorIs(t, brk.Call(ctx, fail), errBoom)
	snap := brk.Snapshot()
	assert.Equal(t, StateOpen, snap.State)
	assert.Zero(t, snap.Failures, "counts restart with the new state")
	assert.WithinDuration(t, before, snap.OpenedAt, time.Second)

	// 冷却期内直接拒绝，不调用 fn
	called := false
	err = brk.Call(ctx, func() error {
		called = true
		return nil
	})
	assert.False(t, called)
	var openErr *OpenError
	require.ErrorAs(t, err, &openErr)
	assert.Equal(t, "commits:repo", openErr.Endpoint)
	assert.True(t, snap.OpenedAt.Equal(openErr.OpenedAt))
	assert.ErrorIs(t, err, gobreaker.ErrOpenState)
	assert.ErrorIs(t, err, xerrors.ErrCircuitOpen)
	assert.True(t, xerrors.IsCircuitOpen(err))

	// 冷却期后进入 HALF_OPEN 并放行，成功后 CLOSED
	waitCooldown()
	called = false
	err = brk.Call(ctx, func() error {
		called = true
		assert.Equal(t, StateHalfOpen, brk.State())
		assert.Equal(t, 0, brk.Snapshot().Failures)
		return nil
	})
	require.NoError(t, err)
	assert.True(t, called)
	snap = brk.Snapshot()
	assert.Equal(t, StateClosed, snap.State)
	assert.Equal(t, 0, snap.Failures)
	assert.True(t, snap.OpenedAt.IsZero())
}

func TestHalfOpenFailureReopens(t *testing.T) {
	ctx := context.Background()
	reg := newRegistry(t, nil)
	brk, err := reg.Get(ctx, "commits:repo")
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		_ = brk.Call(ctx, fail)
	}
	require.Equal(t, StateOpen, brk.State())

	firstOpen := brk.Snapshot().OpenedAt
	waitCooldown()
	assert.ErrorIs(t, brk.Call(ctx, fail), errBoom)

	snap := brk.Snapshot()
	assert.Equal(t, StateOpen, snap.State)
	assert.True(t, snap.OpenedAt.After(firstOpen))

	// 新的冷却期从再次打开的时刻算起
	assert.True(t, xerrors.IsCircuitOpen(brk.Call(ctx, succeed)))
}

func TestSuccessResetsConsecutiveFailures(t *testing.T) {
	ctx := context.Background()
	reg := newRegistry(t, nil)
	brk, err := reg.Get(ctx, "commits:repo")
	require.NoError(t, err)

	_ = brk.Call(ctx, fail)
	_ = brk.Call(ctx, fail)
	require.NoError(t, brk.Call(ctx, succeed))
	_ = brk.Call(ctx, fail)
	_ = brk.Call(ctx, fail)

	assert.Equal(t, StateClosed, brk.State())
	assert.Equal(t, 2, brk.Snapshot().Failures)
}

func TestEndpointsAreIndependent(t *testing.T) {
	ctx := context.Background()
	reg := newRegistry(t, nil)

	for i := 0; i < 3; i++ {
		_ = reg.Call(ctx, "commits:bad", fail)
	}
	require.NoError(t, reg.Call(ctx, "commits:good", succeed))

	bad, _ := reg.Get(ctx, "commits:bad")
	good, _ := reg.Get(ctx, "commits:good")
	assert.Equal(t, StateOpen, bad.State())
	assert.Equal(t, StateClosed, good.State())
}

func TestReset(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	reg := newRegistry(t, store)
	brk, err := reg.Get(ctx, "commits:repo")
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		_ = brk.Call(ctx, fail)
	}
	require.Equal(t, StateOpen, brk.State())

	require.NoError(t, brk.Reset(ctx))
	assert.Equal(t, StateClosed, brk.State())

	st, found, err := store.Load(ctx, "commits:repo")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, StateClosed, st.State)
	assert.Zero(t, st.Counts.ConsecutiveFailures)

	// 重置后立即放行
	require.NoError(t, brk.Call(ctx, succeed))
}

func TestSaveFailureIsReported(t *testing.T) {
	ctx := context.Background()
	store := &failingStore{Store: NewMemoryStore()}
	reg := newRegistry(t, store)
	brk, err := reg.Get(ctx, "commits:repo")
	require.NoError(t, err)

	_ = brk.Call(ctx, fail)
	_ = brk.Call(ctx, fail)

	store.failSave.Store(true)
	err = brk.Call(ctx, fail)
	assert.ErrorIs(t, err, errBoom)
	assert.ErrorIs(t, err, errSave)

	assert.ErrorIs(t, brk.Call(ctx, succeed), errSave)

	// 未写入的 OPEN 不生效：下一次调用以 Store 中的 CLOSED 为准
	store.failSave.Store(false)
	called := false
	require.NoError(t, brk.Call(ctx, func() error {
		called = true
		return nil
	}))
	assert.True(t, called)
}

func TestExecute(t *testing.T) {
	ctx := context.Background()
	reg := newRegistry(t, nil)
	brk, err := reg.Get(ctx, "commits:repo")
	require.NoError(t, err)

	got, err := Execute(ctx, brk, func() (int, error) { return 42, nil })
	require.NoError(t, err)
	assert.Equal(t, 42, got)

	got, err = Execute(ctx, brk, func() (int, error) { return 7, errBoom })
	assert.ErrorIs(t, err, errBoom)
	assert.Zero(t, got)
}

func TestConcurrentCalls(t *testing.T) {
	ctx := context.Background()
	reg := newRegistry(t, nil)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			endpoint := "commits:even"
			if i%2 == 1 {
				endpoint = "commits:odd"
			}
			_ = reg.Call(ctx, endpoint, succeed)
		}(i)
	}
	wg.Wait()

	snaps, err := reg.List(ctx)
	require.NoError(t, err)
	require.Len(t, snaps, 2)
	assert.Equal(t, "commits:even", snaps[0].Endpoint)
	assert.Equal(t, "commits:odd", snaps[1].Endpoint)
}

package fetcher

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ceyewan/harvest/breaker"
	"github.com/ceyewan/harvest/cache"
	"github.com/ceyewan/harvest/record"
	"github.com/ceyewan/harvest/testkit"
	"github.com/ceyewan/harvest/xerrors"
)

var q = Query{Partition: "octo/repo", Since: "2024-01-01", Until: "2024-01-07"}

// countingSource 按调用序号返回预设错误，其余调用成功
type countingSource struct {
	calls atomic.Int32
	errs  map[int32]error
	fail  error
	items []record.Record
}

func (s *countingSource) Fetch(_ context.Context, _ Query) ([]record.Record, error) {
	n := s.calls.Add(1)
	if s.fail != nil {
		return nil, s.fail
	}
	if err, ok := s.errs[n]; ok {
		return nil, err
	}
	return s.items, nil
}

type countingLimiter struct {
	acquired atomic.Int32
	err      error
}

func (l *countingLimiter) Acquire(context.Context) error {
	l.acquired.Add(1)
	return l.err
}

func (l *countingLimiter) TryAcquire() bool { return true }

func fastConfig() *Config {
	return &Config{RetryAttempts: 3, RetryMinWait: time.Millisecond, RetryMaxWait: 2 * time.Millisecond}
}

func newMemoryCache(t *testing.T) cache.Cache {
	t.Helper()
	c, err := cache.New(&cache.Config{Backend: cache.BackendMemory, Capacity: 100})
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func newPipeline(t *testing.T, src Source, opts ...Option) *Pipeline {
	t.Helper()
	kit := testkit.NewKit(t)
	opts = append([]Option{WithLogger(kit.Logger), WithMeter(kit.Meter)}, opts...)
	p, err := New(fastConfig(), src, opts...)
	require.NoError(t, err)
	return p
}

func TestNew_Validation(t *testing.T) {
	_, err := New(nil, nil)
	assert.ErrorIs(t, err, ErrSourceNil)

	src := &countingSource{}
	_, err = New(&Config{RetryAttempts: -1}, src)
	assert.ErrorIs(t, err, xerrors.ErrInvalidInput)

	_, err = New(&Config{RetryMinWait: time.Minute, RetryMaxWait: time.Second}, src)
	assert.ErrorIs(t, err, xerrors.ErrInvalidInput)

	p, err := New(nil, src)
	require.NoError(t, err)
	assert.Equal(t, 3, p.cfg.RetryAttempts)
	assert.Equal(t, 4*time.Second, p.cfg.RetryMinWait)
	assert.Equal(t, 10*time.Second, p.cfg.RetryMaxWait)
}

func TestQuery_Keys(t *testing.T) {
	assert.Equal(t, "fetch:octo/repo:2024-01-01:2024-01-07:all", q.CacheKey())
	withFilter := q
	withFilter.Filter = "alice"
	assert.Equal(t, "stale:fetch:octo/repo:2024-01-01:2024-01-07:alice", withFilter.StaleKey())
	assert.Equal(t, "fetch:octo/repo", DefaultEndpoint(q))
}

func TestFetch_TransientIsRetried(t *testing.T) {
	src := &countingSource{
		errs:  map[int32]error{1: xerrors.Transient(errors.New("timeout")), 2: xerrors.Transient(errors.New("reset"))},
		items: []record.Record{{ID: "a"}},
	}
	lim := &countingLimiter{}
	p := newPipeline(t, src, WithLimiter(lim))

	items, err := p.Fetch(context.Background(), q)
	require.NoError(t, err)
	assert.Equal(t, []record.Record{{ID: "a"}}, items)
	assert.Equal(t, int32(3), src.calls.Load())
	// 每次尝试前都要取令牌
	assert.Equal(t, int32(3), lim.acquired.Load())
}

func TestFetch_RetriesAreBounded(t *testing.T) {
	src := &countingSource{fail: xerrors.Transient(errors.New("timeout"))}
	p := newPipeline(t, src)

	_, err := p.Fetch(context.Background(), q)
	require.Error(t, err)
	assert.True(t, xerrors.IsTransient(err))
	assert.Equal(t, int32(3), src.calls.Load())
}

func TestFetch_FatalIsNotRetried(t *testing.T) {
	src := &countingSource{fail: xerrors.Fatal(errors.New("404 not found"))}
	p := newPipeline(t, src)

	_, err := p.Fetch(context.Background(), q)
	require.Error(t, err)
	assert.ErrorIs(t, err, xerrors.ErrFatal)
	assert.Equal(t, int32(1), src.calls.Load())
}

func TestFetch_LimiterErrorStopsAttempt(t *testing.T) {
	src := &countingSource{}
	lim := &countingLimiter{err: context.Canceled}
	p := newPipeline(t, src, WithLimiter(lim))

	_, err := p.Fetch(context.Background(), q)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, int32(0), src.calls.Load())
	assert.Equal(t, int32(1), lim.acquired.Load())
}

func TestFetch_EmptyResultIsNotNil(t *testing.T) {
	p := newPipeline(t, &countingSource{})
	items, err := p.Fetch(context.Background(), q)
	require.NoError(t, err)
	assert.NotNil(t, items)
	assert.Empty(t, items)
}

func TestFetch_FreshCacheSkipsSource(t *testing.T) {
	ctx := context.Background()
	src := &countingSource{items: []record.Record{{ID: "a", Timestamp: "2024-01-02T00:00:00Z"}}}
	c := newMemoryCache(t)
	p := newPipeline(t, src, WithCache(c))

	first, err := p.Fetch(ctx, q)
	require.NoError(t, err)
	second, err := p.Fetch(ctx, q)
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, int32(1), src.calls.Load())

	var stale []record.Record
	found, err := c.Get(ctx, q.StaleKey(), &stale)
	require.NoError(t, err)
	assert.True(t, found)
}

func TestFetch_CircuitOpenServesStale(t *testing.T) {
	ctx := context.Background()
	src := &countingSource{items: []record.Record{{ID: "old"}}}
	c := newMemoryCache(t)
	reg, err := breaker.New(&breaker.Config{FailureThreshold: 2, Cooldown: time.Hour})
	require.NoError(t, err)
	p := newPipeline(t, src, WithCache(c), WithBreaker(reg))

	_, err = p.Fetch(ctx, q)
	require.NoError(t, err)
	require.NoError(t, c.Delete(ctx, q.CacheKey()))

	src.fail = xerrors.Fatal(errors.New("500"))
	for i := 0; i < 2; i++ {
		_, err = p.Fetch(ctx, q)
		require.Error(t, err)
	}
	brk, err := reg.Get(ctx, DefaultEndpoint(q))
	require.NoError(t, err)
	require.Equal(t, breaker.StateOpen, brk.State())

	calls := src.calls.Load()
	items, err := p.Fetch(ctx, q)
	require.NoError(t, err)
	assert.Equal(t, []record.Record{{ID: "old"}}, items)
	assert.Equal(t, calls, src.calls.Load(), "open circuit must not reach the source")

	// 没有过期缓存的分区直接得到熔断错误
	other := Query{Partition: "octo/other", Since: q.Since, Until: q.Until}
	otherBrk, err := reg.Get(ctx, DefaultEndpoint(other))
	require.NoError(t, err)
	for i := 0; i < 2; i++ {
		_, _ = p.Fetch(ctx, other)
	}
	require.Equal(t, breaker.StateOpen, otherBrk.State())
	_, err = p.Fetch(ctx, other)
	assert.True(t, xerrors.IsCircuitOpen(err))
}

func TestFetchFunc(t *testing.T) {
	var src Source = FetchFunc(func(_ context.Context, got Query) ([]record.Record, error) {
		return []record.Record{{ID: got.Partition}}, nil
	})
	items, err := src.Fetch(context.Background(), q)
	require.NoError(t, err)
	assert.Equal(t, "octo/repo", items[0].ID)
}

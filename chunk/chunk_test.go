package chunk

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ceyewan/harvest/cache"
	"github.com/ceyewan/harvest/fetcher"
	"github.com/ceyewan/harvest/progress"
	"github.com/ceyewan/harvest/record"
	"github.com/ceyewan/harvest/testkit"
	"github.com/ceyewan/harvest/xerrors"
)

// ========================================
// 测试辅助 (Helpers)
// ========================================

// fakeSource 每个分片返回一条以分片起始日期为时间戳的记录
type fakeSource struct {
	mu      sync.Mutex
	calls   map[string]int
	failing map[string]bool
	onFetch func(q fetcher.Query)
}

func newFakeSource(failingSince ...string) *fakeSource {
	s := &fakeSource{calls: map[string]int{}, failing: map[string]bool{}}
	for _, since := range failingSince {
		s.failing[since] = true
	}
	return s
}

func (s *fakeSource) Fetch(_ context.Context, q fetcher.Query) ([]record.Record, error) {
	s.mu.Lock()
	s.calls[q.Since]++
	fail := s.failing[q.Since]
	hook := s.onFetch
	s.mu.Unlock()

	if hook != nil {
		hook(q)
	}
	if fail {
		return nil, errors.New("upstream 502 for " + q.Since)
	}
	return []record.Record{{ID: q.Partition + "@" + q.Since, Timestamp: q.Since + "T12:00:00Z"}}, nil
}

func (s *fakeSource) heal(since string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.failing, since)
}

func (s *fakeSource) count(since string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[since]
}

func (s *fakeSource) total() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, c := range s.calls {
		n += c
	}
	return n
}

func newStateCache(t *testing.T) cache.Cache {
	t.Helper()
	c, err := cache.New(&cache.Config{Backend: cache.BackendMemory, Capacity: 100})
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func newEngine(t *testing.T, src fetcher.Source, states cache.Cache, opts ...Option) *Engine {
	t.Helper()
	kit := testkit.NewKit(t)
	opts = append([]Option{WithLogger(kit.Logger), WithMeter(kit.Meter)}, opts...)
	e, err := New(&Config{MaxDays: 7}, src, states, opts...)
	require.NoError(t, err)
	return e
}

// threeChunks 2024-01-01..2024-01-21 按 7 天切成 3 片
var threeChunks = Request{Partition: "octo/repo", Since: "2024-01-01", Until: "2024-01-21"}

func ids(items []record.Record) []string {
	out := make([]string, len(items))
	for i, r := range items {
		out[i] = r.ID
	}
	return out
}

// ========================================
// 切分 (Plan)
// ========================================

func TestPlan_TwoWeeks(t *testing.T) {
	got, err := Plan("2024-01-01", "2024-01-14", 7)
	require.NoError(t, err)

	want := []Chunk{
		{Index: 0, Since: "2024-01-01", Until: "2024-01-07"},
		{Index: 1, Since: "2024-01-08", Until: "2024-01-14"},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("plan mismatch (-want +got):\n%s", diff)
	}
}

func TestPlan_ShortTailAndSingleDay(t *testing.T) {
	got, err := Plan("2024-02-25", "2024-03-02", 3)
	require.NoError(t, err)
	want := []Chunk{
		{Index: 0, Since: "2024-02-25", Until: "2024-02-27"},
		{Index: 1, Since: "2024-02-28", Until: "2024-03-01"},
		{Index: 2, Since: "2024-03-02", Until: "2024-03-02"},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("plan mismatch (-want +got):\n%s", diff)
	}

	got, err = Plan("2024-05-05", "2024-05-05", 7)
	require.NoError(t, err)
	if diff := cmp.Diff([]Chunk{{Index: 0, Since: "2024-05-05", Until: "2024-05-05"}}, got); diff != "" {
		t.Fatalf("plan mismatch (-want +got):\n%s", diff)
	}
}

func TestPlan_CoversRangeExactly(t *testing.T) {
	day := func(s string) time.Time {
		d, err := time.Parse(DateLayout, s)
		require.NoError(t, err)
		return d
	}
	base := time.Date(2023, 12, 20, 0, 0, 0, 0, time.UTC)

	for offset := 0; offset < 5; offset++ {
		for span := 0; span < 45; span++ {
			for maxDays := 1; maxDays <= 10; maxDays++ {
				since := base.AddDate(0, 0, offset)
				until := since.AddDate(0, 0, span)
				chunks, err := Plan(since.Format(DateLayout), until.Format(DateLayout), maxDays)
				require.NoError(t, err)
				require.NotEmpty(t, chunks)

				assert.Equal(t, since, day(chunks[0].Since))
				assert.Equal(t, until, day(chunks[len(chunks)-1].Until))
				for i, c := range chunks {
					assert.Equal(t, i, c.Index)
					start, end := day(c.Since), day(c.Until)
					require.False(t, start.After(end))
					assert.LessOrEqual(t, int(end.Sub(start).Hours()/24)+1, maxDays)
					if i > 0 {
						// 连续且不重叠
						assert.Equal(t, day(chunks[i-1].Until).AddDate(0, 0, 1), start)
					}
				}
			}
		}
	}
}

func TestPlan_Invalid(t *testing.T) {
	cases := []struct {
		name         string
		since, until string
		maxDays      int
	}{
		{"reversed", "2024-01-10", "2024-01-01", 7},
		{"bad since", "2024/01/01", "2024-01-10", 7},
		{"bad until", "2024-01-01", "tomorrow", 7},
		{"zero max days", "2024-01-01", "2024-01-10", 0},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Plan(tc.since, tc.until, tc.maxDays)
			assert.ErrorIs(t, err, ErrInvalidRange)
			assert.Equal(t, xerrors.KindFatal, xerrors.KindOf(err))
		})
	}
}

func TestStateKey(t *testing.T) {
	assert.Equal(t, "chunk_state:octo/repo:2024-01-01:2024-01-31:all", StateKey("octo/repo", "2024-01-01", "2024-01-31", ""))
	assert.Equal(t, "chunk_state:octo/repo:2024-01-01:2024-01-31:alice", StateKey("octo/repo", "2024-01-01", "2024-01-31", "alice"))
}

// ========================================
// 执行 (Run)
// ========================================

func TestNew_Validation(t *testing.T) {
	states := newStateCache(t)
	_, err := New(nil, nil, states)
	assert.ErrorIs(t, err, xerrors.ErrInvalidInput)
	_, err = New(nil, newFakeSource(), nil)
	assert.ErrorIs(t, err, xerrors.ErrInvalidInput)
	_, err = New(&Config{MaxDays: -1}, newFakeSource(), states)
	assert.ErrorIs(t, err, xerrors.ErrInvalidInput)

	e, err := New(nil, newFakeSource(), states)
	require.NoError(t, err)
	assert.Equal(t, 7, e.MaxDays())
}

func TestRun_AggregatesNewestFirst(t *testing.T) {
	src := newFakeSource()
	e := newEngine(t, src, newStateCache(t))

	res, err := e.Run(context.Background(), threeChunks)
	require.NoError(t, err)
	assert.Equal(t, 3, res.Total)
	assert.Equal(t, 3, res.Completed)
	assert.Zero(t, res.Failed)
	assert.Empty(t, res.Errors)
	assert.Equal(t, []string{"octo/repo@2024-01-15", "octo/repo@2024-01-08", "octo/repo@2024-01-01"}, ids(res.Items))
}

func TestRun_FailedChunkDoesNotAbortPartition(t *testing.T) {
	src := newFakeSource("2024-01-08")
	e := newEngine(t, src, newStateCache(t))

	res, err := e.Run(context.Background(), threeChunks)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Completed)
	assert.Equal(t, 1, res.Failed)
	assert.Contains(t, res.Errors[1], "upstream 502")
	assert.Equal(t, []string{"octo/repo@2024-01-15", "octo/repo@2024-01-01"}, ids(res.Items))
	// 失败之后的分片仍然被执行
	assert.Equal(t, 1, src.count("2024-01-15"))
}

func TestRun_SkipsCompletedChunks(t *testing.T) {
	ctx := context.Background()
	src := newFakeSource("2024-01-08")
	e := newEngine(t, src, newStateCache(t))

	_, err := e.Run(ctx, threeChunks)
	require.NoError(t, err)
	require.Equal(t, 3, src.total())

	src.heal("2024-01-08")
	res, err := e.Run(ctx, threeChunks)
	require.NoError(t, err)
	assert.Equal(t, 3, res.Completed)
	assert.Equal(t, 4, src.total(), "only the failed chunk is fetched again")
	assert.Equal(t, 2, src.count("2024-01-08"))

	// 全部完成后再次运行不访问数据源
	again, err := e.Run(ctx, threeChunks)
	require.NoError(t, err)
	assert.Equal(t, 4, src.total())
	assert.Equal(t, res.Items, again.Items)
}

func TestRun_PersistsEveryTransition(t *testing.T) {
	ctx := context.Background()
	states := newStateCache(t)
	src := newFakeSource()
	e := newEngine(t, src, states)

	var seen []map[int]Status
	src.onFetch = func(q fetcher.Query) {
		var st State
		found, err := states.Get(ctx, threeChunks.key(), &st)
		require.NoError(t, err)
		require.True(t, found)
		snapshot := map[int]Status{}
		for idx, cs := range st.Chunks {
			snapshot[idx] = cs.Status
		}
		seen = append(seen, snapshot)
	}

	_, err := e.Run(ctx, threeChunks)
	require.NoError(t, err)

	want := []map[int]Status{
		{0: StatusInProgress, 1: StatusPending, 2: StatusPending},
		{0: StatusCompleted, 1: StatusInProgress, 2: StatusPending},
		{0: StatusCompleted, 1: StatusCompleted, 2: StatusInProgress},
	}
	if diff := cmp.Diff(want, seen); diff != "" {
		t.Fatalf("persisted states mismatch (-want +got):\n%s", diff)
	}
}

func TestRun_SingleChunkFetchesDirectly(t *testing.T) {
	ctx := context.Background()
	src := newFakeSource()
	e := newEngine(t, src, newStateCache(t))
	req := Request{Partition: "octo/small", Since: "2024-01-01", Until: "2024-01-03"}

	res, err := e.Run(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Total)
	assert.Equal(t, []string{"octo/small@2024-01-01"}, ids(res.Items))
	assert.Equal(t, 1, src.total())

	items, found, err := e.Collect(ctx, req)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, res.Items, items)
}

func TestRun_InvalidRange(t *testing.T) {
	src := newFakeSource()
	e := newEngine(t, src, newStateCache(t))

	_, err := e.Run(context.Background(), Request{Partition: "p", Since: "2024-02-01", Until: "2024-01-01"})
	assert.ErrorIs(t, err, ErrInvalidRange)
	assert.Zero(t, src.total())
}

func TestRun_CancelledContext(t *testing.T) {
	src := newFakeSource()
	e := newEngine(t, src, newStateCache(t))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := e.Run(ctx, threeChunks)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, src.total())
}

func TestRun_StateSurvivesRestart(t *testing.T) {
	ctx := context.Background()
	cfg := testkit.NewPersistentSQLiteConfig(t)
	openStates := func() cache.Cache {
		c, err := cache.New(&cache.Config{Backend: cache.BackendSQLite, Serializer: "msgpack"},
			cache.WithDB(testkit.NewDBFrom(t, testkit.ReopenSQLite(t, cfg))))
		require.NoError(t, err)
		return c
	}

	src := newFakeSource("2024-01-15")
	first := newEngine(t, src, openStates())
	res, err := first.Run(ctx, threeChunks)
	require.NoError(t, err)
	require.Equal(t, 1, res.Failed)

	src.heal("2024-01-15")
	second := newEngine(t, src, openStates())
	res, err = second.Run(ctx, threeChunks)
	require.NoError(t, err)
	assert.Equal(t, 3, res.Completed)
	assert.Equal(t, 1, src.count("2024-01-01"))
	assert.Equal(t, 1, src.count("2024-01-08"))
	assert.Equal(t, 2, src.count("2024-01-15"))
	assert.Len(t, res.Items, 3)
}

// ========================================
// 重试与进度 (Retry & Progress)
// ========================================

func TestRetryFailed(t *testing.T) {
	ctx := context.Background()
	src := newFakeSource("2024-01-01", "2024-01-15")
	e := newEngine(t, src, newStateCache(t))

	_, err := e.RetryFailed(ctx, threeChunks)
	assert.ErrorIs(t, err, ErrStateNotFound)
	assert.ErrorIs(t, err, xerrors.ErrNotFound)

	_, err = e.Run(ctx, threeChunks)
	require.NoError(t, err)

	src.heal("2024-01-01")
	res, err := e.RetryFailed(ctx, threeChunks)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Completed)
	assert.Equal(t, 1, res.Failed)
	assert.Equal(t, 2, src.count("2024-01-01"))
	assert.Equal(t, 1, src.count("2024-01-08"), "completed chunk reused")
	assert.Equal(t, 2, src.count("2024-01-15"))

	src.heal("2024-01-15")
	res, err = e.RetryFailed(ctx, threeChunks)
	require.NoError(t, err)
	assert.Equal(t, 3, res.Completed)

	// 没有失败分片时只返回已有结果
	before := src.total()
	res, err = e.RetryFailed(ctx, threeChunks)
	require.NoError(t, err)
	assert.Equal(t, before, src.total())
	assert.Len(t, res.Items, 3)
}

func TestRetryFailed_UsesPersistedBoundaries(t *testing.T) {
	ctx := context.Background()
	states := newStateCache(t)
	src := newFakeSource("2024-01-08")
	_, err := newEngine(t, src, states).Run(ctx, threeChunks)
	require.NoError(t, err)

	// 换一个分片天数，重试仍然沿用首次切分
	src.heal("2024-01-08")
	other, err := New(&Config{MaxDays: 3}, src, states)
	require.NoError(t, err)
	res, err := other.RetryFailed(ctx, threeChunks)
	require.NoError(t, err)
	assert.Equal(t, 3, res.Total)
	assert.Equal(t, 3, res.Completed)
	assert.Equal(t, 2, src.count("2024-01-08"))
}

func TestRun_WiderMaxDaysKeepsPersistedChunks(t *testing.T) {
	ctx := context.Background()
	states := newStateCache(t)
	src := newFakeSource("2024-01-08")
	_, err := newEngine(t, src, states).Run(ctx, threeChunks)
	require.NoError(t, err)
	require.Equal(t, 3, src.total())

	// 30 天的配置下整个范围只需一片，但已有状态的 3 片边界优先
	src.heal("2024-01-08")
	wide, err := New(&Config{MaxDays: 30}, src, states)
	require.NoError(t, err)
	res, err := wide.Run(ctx, threeChunks)
	require.NoError(t, err)
	assert.Equal(t, 3, res.Total)
	assert.Equal(t, 3, res.Completed)
	assert.Equal(t, 4, src.total(), "only the failed chunk is fetched again")
	assert.Equal(t, 2, src.count("2024-01-08"))
	assert.Equal(t, 1, src.count("2024-01-01"))
}

func TestProgressOf(t *testing.T) {
	ctx := context.Background()
	src := newFakeSource("2024-01-08")
	e := newEngine(t, src, newStateCache(t))

	p, err := e.ProgressOf(ctx, threeChunks)
	require.NoError(t, err)
	assert.Equal(t, ProgressNotStarted, p.Status)

	_, err = e.Run(ctx, threeChunks)
	require.NoError(t, err)
	p, err = e.ProgressOf(ctx, threeChunks)
	require.NoError(t, err)
	assert.Equal(t, ProgressCompletedWithErrors, p.Status)
	assert.Equal(t, 3, p.Total)
	assert.Equal(t, 2, p.Completed)
	assert.Equal(t, 1, p.Failed)
	assert.Equal(t, 2, p.Items)
	assert.InDelta(t, 66.67, p.Percent, 0.01)

	src.heal("2024-01-08")
	_, err = e.RetryFailed(ctx, threeChunks)
	require.NoError(t, err)
	p, err = e.ProgressOf(ctx, threeChunks)
	require.NoError(t, err)
	assert.Equal(t, ProgressCompleted, p.Status)
	assert.InDelta(t, 100, p.Percent, 0.001)

	all := newFakeSource("2024-01-01", "2024-01-08", "2024-01-15")
	failing := newEngine(t, all, newStateCache(t))
	_, err = failing.Run(ctx, threeChunks)
	require.NoError(t, err)
	p, err = failing.ProgressOf(ctx, threeChunks)
	require.NoError(t, err)
	assert.Equal(t, ProgressFailed, p.Status)
}

// ========================================
// 分区进度 (FetchPartition)
// ========================================

func newTrackedOperation(t *testing.T, partitions ...string) (*progress.Store, string) {
	t.Helper()
	ctx := context.Background()
	store, err := progress.New(ctx, testkit.NewDB(t))
	require.NoError(t, err)
	id, err := store.CreateOperation(ctx, progress.NewOperation{
		Subject: "octo",
		Since:   threeChunks.Since,
		Until:   threeChunks.Until,
	})
	require.NoError(t, err)
	require.NoError(t, store.AddPartitions(ctx, id, partitions))
	return store, id
}

func partitionRow(t *testing.T, store *progress.Store, id, name string) progress.PartitionProgress {
	t.Helper()
	rows, err := store.Partitions(context.Background(), id)
	require.NoError(t, err)
	for _, r := range rows {
		if r.PartitionName == name {
			return r
		}
	}
	t.Fatalf("partition %s not found", name)
	return progress.PartitionProgress{}
}

func TestFetchPartition_RequiresTracker(t *testing.T) {
	e := newEngine(t, newFakeSource(), newStateCache(t))
	_, err := e.FetchPartition(context.Background(), "op", threeChunks)
	assert.ErrorIs(t, err, ErrNoTracker)
}

func TestFetchPartition_Completed(t *testing.T) {
	ctx := context.Background()
	store, id := newTrackedOperation(t, "octo/repo")
	e := newEngine(t, newFakeSource(), newStateCache(t), WithTracker(store))

	items, err := e.FetchPartition(ctx, id, threeChunks)
	require.NoError(t, err)
	assert.Len(t, items, 3)

	row := partitionRow(t, store, id, "octo/repo")
	assert.Equal(t, progress.StatusCompleted, row.Status)
	assert.Equal(t, 3, row.ChunkCount)
	assert.Equal(t, 3, row.CompletedChunks)
	assert.Equal(t, 3, row.ItemCount)
	assert.NotNil(t, row.StartedAt)
	assert.NotNil(t, row.CompletedAt)

	op, err := store.GetOperation(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, 1, op.CompletedPartitions)
	assert.Equal(t, 3, op.TotalItems)
}

func TestFetchPartition_FailedChunkFailsPartition(t *testing.T) {
	ctx := context.Background()
	store, id := newTrackedOperation(t, "octo/repo")
	src := newFakeSource("2024-01-08")
	e := newEngine(t, src, newStateCache(t), WithTracker(store))

	items, err := e.FetchPartition(ctx, id, threeChunks)
	assert.ErrorIs(t, err, ErrChunksFailed)
	assert.Nil(t, items)

	row := partitionRow(t, store, id, "octo/repo")
	assert.Equal(t, progress.StatusFailed, row.Status)
	assert.Equal(t, 1, row.RetryCount)
	assert.Equal(t, 2, row.CompletedChunks)
	assert.Contains(t, row.Error, "1 of 3 chunks failed")

	pending, err := store.Pending(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, []string{"octo/repo"}, pending)

	// 恢复时只重新抓取失败的分片
	src.heal("2024-01-08")
	items, err = e.FetchPartition(ctx, id, threeChunks)
	require.NoError(t, err)
	assert.Len(t, items, 3)
	assert.Equal(t, 4, src.total())
	assert.Equal(t, progress.StatusCompleted, partitionRow(t, store, id, "octo/repo").Status)
}

func TestFetchPartition_InvalidRangeIsRecorded(t *testing.T) {
	ctx := context.Background()
	store, id := newTrackedOperation(t, "octo/repo")
	e := newEngine(t, newFakeSource(), newStateCache(t), WithTracker(store))

	_, err := e.FetchPartition(ctx, id, Request{Partition: "octo/repo", Since: "2024-02-01", Until: "2024-01-01"})
	assert.ErrorIs(t, err, ErrInvalidRange)
	assert.Equal(t, progress.StatusFailed, partitionRow(t, store, id, "octo/repo").Status)
}

func TestFetchPartition_ChunkCountFollowsPersistedState(t *testing.T) {
	ctx := context.Background()
	store, id := newTrackedOperation(t, "octo/repo")
	states := newStateCache(t)
	src := newFakeSource("2024-01-08")

	_, err := newEngine(t, src, states, WithTracker(store)).FetchPartition(ctx, id, threeChunks)
	require.ErrorIs(t, err, ErrChunksFailed)

	src.heal("2024-01-08")
	kit := testkit.NewKit(t)
	wide, err := New(&Config{MaxDays: 30}, src, states, WithTracker(store), WithLogger(kit.Logger))
	require.NoError(t, err)
	items, err := wide.FetchPartition(ctx, id, threeChunks)
	require.NoError(t, err)
	assert.Len(t, items, 3)

	row := partitionRow(t, store, id, "octo/repo")
	assert.Equal(t, progress.StatusCompleted, row.Status)
	assert.Equal(t, 3, row.ChunkCount)
	assert.Equal(t, 3, row.CompletedChunks)
	assert.Equal(t, 4, src.total())
}

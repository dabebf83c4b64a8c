// Package chunk 把大日期范围拆成有界分片，并以分片为单位断点续传。
//
// 每个 (partition, since, until, filter) 对应一个分片状态 State，作为整体
// 写入缓存。状态在每次转换后立即持久化（而不是只在结束时），进程在任意位置
// 崩溃最多丢失正在执行的那一个分片：
//
//	pending → in_progress → completed | failed
//
// 单个分片失败不会中断分区，后续分片照常执行；下次运行跳过已完成的分片。
//
// ## 基本使用
//
//	engine, _ := chunk.New(&chunk.Config{MaxDays: 7}, pipeline, stateCache,
//	    chunk.WithTracker(progressStore),
//	    chunk.WithLogger(logger))
//
//	res, err := engine.Run(ctx, chunk.Request{
//	    Partition: "ceyewan/harvest",
//	    Since:     "2024-01-01",
//	    Until:     "2024-03-31",
//	})
//	// res.Items 已按时间倒序排列，res.Failed 为失败分片数
//
//	// 只重试失败的分片
//	res, err = engine.RetryFailed(ctx, req)
//
// 整个范围只有一个分片时直接调用数据源，不记录中间状态。
package chunk

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/ceyewan/harvest/cache"
	"github.com/ceyewan/harvest/clog"
	"github.com/ceyewan/harvest/fetcher"
	"github.com/ceyewan/harvest/metrics"
	"github.com/ceyewan/harvest/progress"
	"github.com/ceyewan/harvest/record"
	"github.com/ceyewan/harvest/xerrors"
)

// ========================================
// 配置定义 (Configuration)
// ========================================

// Config 分片引擎配置
type Config struct {
	// MaxDays 每个分片最多包含的天数，默认 7
	MaxDays int `json:"max_days" yaml:"max_days" mapstructure:"max_days"`

	// StateTTL 分片状态在缓存中的保留时间，默认 720h
	StateTTL time.Duration `json:"state_ttl" yaml:"state_ttl" mapstructure:"state_ttl"`
}

func (c *Config) setDefaults() {
	if c.MaxDays == 0 {
		c.MaxDays = 7
	}
	if c.StateTTL == 0 {
		c.StateTTL = 720 * time.Hour
	}
}

func (c *Config) validate() error {
	if c.MaxDays < 1 {
		return xerrors.Wrapf(xerrors.ErrInvalidInput, "chunk: max_days must be >= 1, got %d", c.MaxDays)
	}
	if c.StateTTL < 0 {
		return xerrors.Wrap(xerrors.ErrInvalidInput, "chunk: state_ttl must not be negative")
	}
	return nil
}

// ========================================
// 请求与结果 (Request & Result)
// ========================================

// Request 一个分区的抓取范围
type Request struct {
	Partition string
	Since     string
	Until     string
	Filter    string
}

func (r Request) key() string {
	return StateKey(r.Partition, r.Since, r.Until, r.Filter)
}

func (r Request) query(c Chunk) fetcher.Query {
	return fetcher.Query{Partition: r.Partition, Since: c.Since, Until: c.Until, Filter: r.Filter}
}

// Result 一次运行后的聚合结果
type Result struct {
	// Items 全部已完成分片的数据，按时间倒序
	Items []record.Record

	Completed int
	Failed    int
	Total     int

	// Errors 失败分片的错误信息，按分片序号索引
	Errors map[int]string
}

// firstError 序号最小的失败分片的错误
func (r Result) firstError() string {
	first := -1
	for idx := range r.Errors {
		if first < 0 || idx < first {
			first = idx
		}
	}
	if first < 0 {
		return ""
	}
	return r.Errors[first]
}

// Progress 分片进度
type Progress struct {
	// Status not_started / in_progress / completed / failed / completed_with_errors
	Status    string
	Total     int
	Completed int
	Failed    int
	Items     int
	Percent   float64
}

const (
	ProgressNotStarted          = "not_started"
	ProgressInProgress          = "in_progress"
	ProgressCompleted           = "completed"
	ProgressFailed              = "failed"
	ProgressCompletedWithErrors = "completed_with_errors"
)

// ========================================
// 引擎 (Engine)
// ========================================

// Engine 分片引擎，不同分区可以并发调用
type Engine struct {
	cfg       Config
	source    fetcher.Source
	states    cache.Cache
	tracker   Tracker
	logger    clog.Logger
	now       func() time.Time
	processed metrics.Counter
}

// New 创建分片引擎
//
// source 通常是 *fetcher.Pipeline，states 用于保存分片状态。
func New(cfg *Config, source fetcher.Source, states cache.Cache, opts ...Option) (*Engine, error) {
	if source == nil {
		return nil, xerrors.Wrap(xerrors.ErrInvalidInput, "chunk: source is nil")
	}
	if states == nil {
		return nil, xerrors.Wrap(xerrors.ErrInvalidInput, "chunk: state cache is nil")
	}
	if cfg == nil {
		cfg = &Config{}
	}
	c := *cfg
	c.setDefaults()
	if err := c.validate(); err != nil {
		return nil, err
	}

	opt := options{
		logger: clog.Discard(),
		meter:  metrics.Discard(),
		now:    time.Now,
	}
	for _, o := range opts {
		o(&opt)
	}

	processed, err := opt.meter.Counter(MetricProcessedTotal, "已处理分片数")
	if err != nil {
		return nil, err
	}

	return &Engine{
		cfg:       c,
		source:    source,
		states:    states,
		tracker:   opt.tracker,
		logger:    opt.logger,
		now:       opt.now,
		processed: processed,
	}, nil
}

// MaxDays 返回分片天数
func (e *Engine) MaxDays() int {
	return e.cfg.MaxDays
}

// Run 处理分区范围内所有未完成的分片
//
// 分片失败记录在 Result 中而不是作为错误返回；error 只表示输入无效、
// 状态无法持久化或 ctx 已结束。
func (e *Engine) Run(ctx context.Context, req Request) (Result, error) {
	chunks, err := Plan(req.Since, req.Until, e.cfg.MaxDays)
	if err != nil {
		return Result{}, err
	}
	// 已有状态时沿用持久化的边界，即使当前配置下只需要一个分片
	st, err := e.load(ctx, req)
	if err != nil {
		return Result{}, err
	}
	if st == nil && len(chunks) == 1 {
		return e.direct(ctx, req, chunks[0])
	}
	if st == nil {
		st = newState(chunks)
	} else if !sameBoundaries(st.Boundaries, chunks) {
		e.logger.Warn("persisted chunk boundaries differ from plan, keeping persisted",
			clog.String("partition", req.Partition),
			clog.Int("persisted", len(st.Boundaries)),
			clog.Int("planned", len(chunks)))
	}

	var todo []int
	for _, c := range st.Boundaries {
		if st.Chunks[c.Index].Status != StatusCompleted {
			todo = append(todo, c.Index)
		}
	}
	if skipped := len(st.Boundaries) - len(todo); skipped > 0 {
		e.logger.Info("skipping completed chunks",
			clog.String("partition", req.Partition),
			clog.Int("skipped", skipped),
			clog.Int("remaining", len(todo)))
	}

	if err := e.process(ctx, req, st, todo); err != nil {
		return e.result(st), err
	}
	return e.result(st), nil
}

// RetryFailed 只把失败的分片重置为 pending 并重新处理，其余分片复用已有结果
//
// 分片边界取自持久化的状态，没有状态时返回 ErrStateNotFound。
func (e *Engine) RetryFailed(ctx context.Context, req Request) (Result, error) {
	st, err := e.load(ctx, req)
	if err != nil {
		return Result{}, err
	}
	if st == nil {
		return Result{}, xerrors.Wrapf(ErrStateNotFound, "%s", req.key())
	}

	var failed []int
	for idx, cs := range st.Chunks {
		if cs.Status == StatusFailed {
			cs.Status = StatusPending
			cs.Error = ""
			st.Chunks[idx] = cs
			failed = append(failed, idx)
		}
	}
	if len(failed) == 0 {
		e.logger.Info("no failed chunks to retry", clog.String("partition", req.Partition))
		return e.result(st), nil
	}
	sort.Ints(failed)

	e.logger.Info("retrying failed chunks",
		clog.String("partition", req.Partition),
		clog.Int("count", len(failed)))
	if err := e.save(ctx, req.key(), st); err != nil {
		return Result{}, err
	}
	if err := e.process(ctx, req, st, failed); err != nil {
		return e.result(st), err
	}
	return e.result(st), nil
}

// ProgressOf 返回分区范围的分片进度，没有状态时为 not_started
func (e *Engine) ProgressOf(ctx context.Context, req Request) (Progress, error) {
	st, err := e.load(ctx, req)
	if err != nil {
		return Progress{}, err
	}
	if st == nil || len(st.Chunks) == 0 {
		return Progress{Status: ProgressNotStarted}, nil
	}

	p := Progress{
		Total:     len(st.Chunks),
		Completed: st.count(StatusCompleted),
		Failed:    st.count(StatusFailed),
	}
	for _, items := range st.Results {
		p.Items += len(items)
	}
	p.Percent = float64(p.Completed) / float64(p.Total) * 100

	switch {
	case p.Completed == p.Total:
		p.Status = ProgressCompleted
	case p.Failed == p.Total:
		p.Status = ProgressFailed
	case p.Completed+p.Failed == p.Total:
		p.Status = ProgressCompletedWithErrors
	default:
		p.Status = ProgressInProgress
	}
	return p, nil
}

// Collect 返回已持久化的已完成分片数据，不访问数据源
func (e *Engine) Collect(ctx context.Context, req Request) ([]record.Record, bool, error) {
	st, err := e.load(ctx, req)
	if err != nil || st == nil {
		return nil, false, err
	}
	return st.aggregate(), true, nil
}

// FetchPartition 在 Run 的基础上把分区状态写入进度存储
//
// 分区开始时记为 in_progress 并写入分片数；全部分片成功记为 completed，
// 任一分片失败记为 failed（分区留在恢复集合中）并返回 ErrChunksFailed。
func (e *Engine) FetchPartition(ctx context.Context, operationID string, req Request) ([]record.Record, error) {
	if e.tracker == nil {
		return nil, ErrNoTracker
	}
	chunks, err := Plan(req.Since, req.Until, e.cfg.MaxDays)
	if err != nil {
		return nil, e.fail(ctx, operationID, req, err)
	}
	st, err := e.load(ctx, req)
	if err != nil {
		return nil, e.fail(ctx, operationID, req, err)
	}
	count := len(chunks)
	if st != nil {
		count = len(st.Boundaries)
	}
	if err := e.tracker.UpdatePartition(ctx, operationID, req.Partition, progress.StatusInProgress,
		progress.WithChunkCount(count)); err != nil {
		return nil, err
	}

	res, err := e.Run(ctx, req)
	if err != nil {
		return nil, e.fail(ctx, operationID, req, err)
	}
	if res.Failed > 0 {
		msg := fmt.Sprintf("%d of %d chunks failed: %s", res.Failed, res.Total, res.firstError())
		err := e.tracker.UpdatePartition(ctx, operationID, req.Partition, progress.StatusFailed,
			progress.WithError(msg),
			progress.WithItemCount(len(res.Items)),
			progress.WithChunkCount(res.Total),
			progress.WithCompletedChunks(res.Completed))
		return nil, xerrors.Combine(xerrors.Wrap(ErrChunksFailed, msg), err)
	}

	if err := e.tracker.UpdatePartition(ctx, operationID, req.Partition, progress.StatusCompleted,
		progress.WithItemCount(len(res.Items)),
		progress.WithChunkCount(res.Total),
		progress.WithCompletedChunks(res.Completed)); err != nil {
		return nil, err
	}
	return res.Items, nil
}

// fail 记录分区失败，返回原始错误（记录失败时一并返回）
func (e *Engine) fail(ctx context.Context, operationID string, req Request, cause error) error {
	err := e.tracker.UpdatePartition(context.WithoutCancel(ctx), operationID, req.Partition, progress.StatusFailed,
		progress.WithError(cause.Error()))
	return xerrors.Combine(cause, err)
}

// ========================================
// 内部实现 (Internals)
// ========================================

// direct 单分片路径：直接调用数据源，只在结束时写一次状态供 Collect 与 ProgressOf 使用
func (e *Engine) direct(ctx context.Context, req Request, c Chunk) (Result, error) {
	st := newState([]Chunk{c})
	start := e.now().UTC()
	items, err := e.source.Fetch(ctx, req.query(c))
	e.finish(ctx, req, st, c.Index, start, items, err)
	if err := e.save(ctx, req.key(), st); err != nil {
		return e.result(st), err
	}
	return e.result(st), nil
}

// process 按序号顺序处理给定分片，每次转换后持久化
func (e *Engine) process(ctx context.Context, req Request, st *State, indexes []int) error {
	want := make(map[int]bool, len(indexes))
	for _, idx := range indexes {
		want[idx] = true
	}
	key := req.key()

	for _, c := range st.Boundaries {
		if !want[c.Index] {
			continue
		}
		if err := ctx.Err(); err != nil {
			return err
		}

		start := e.now().UTC()
		st.Chunks[c.Index] = ChunkState{Index: c.Index, Status: StatusInProgress, StartTime: &start}
		if err := e.save(ctx, key, st); err != nil {
			return err
		}

		e.logger.Debug("processing chunk",
			clog.String("partition", req.Partition),
			clog.Int("index", c.Index),
			clog.String("since", c.Since),
			clog.String("until", c.Until))
		items, err := e.source.Fetch(ctx, req.query(c))
		e.finish(ctx, req, st, c.Index, start, items, err)

		if err := e.save(ctx, key, st); err != nil {
			return err
		}
	}
	return nil
}

// finish 记录分片的终态
func (e *Engine) finish(ctx context.Context, req Request, st *State, idx int, start time.Time, items []record.Record, err error) {
	end := e.now().UTC()
	cs := ChunkState{Index: idx, StartTime: &start, EndTime: &end}
	if err != nil {
		cs.Status = StatusFailed
		cs.Error = err.Error()
		delete(st.Results, idx)
		e.logger.Warn("chunk failed",
			clog.String("partition", req.Partition),
			clog.Int("index", idx),
			clog.Error(err))
	} else {
		if items == nil {
			items = []record.Record{}
		}
		cs.Status = StatusCompleted
		cs.ItemCount = len(items)
		st.Results[idx] = items
	}
	st.Chunks[idx] = cs
	e.processed.Inc(ctx, metrics.L(metrics.LabelStatus, string(cs.Status)))
}

func (e *Engine) load(ctx context.Context, req Request) (*State, error) {
	var st State
	found, err := e.states.Get(ctx, req.key(), &st)
	if err != nil {
		return nil, xerrors.Wrapf(err, "load chunk state %s", req.key())
	}
	if !found {
		return nil, nil
	}
	st.normalize()
	return &st, nil
}

// save 忽略 ctx 的取消，已完成的分片必须落盘
func (e *Engine) save(ctx context.Context, key string, st *State) error {
	st.UpdatedAt = e.now().UTC()
	if err := e.states.Set(context.WithoutCancel(ctx), key, st, e.cfg.StateTTL); err != nil {
		return xerrors.Wrapf(err, "save chunk state %s", key)
	}
	return nil
}

func (e *Engine) result(st *State) Result {
	res := Result{
		Items:     st.aggregate(),
		Completed: st.count(StatusCompleted),
		Failed:    st.count(StatusFailed),
		Total:     len(st.Boundaries),
	}
	for idx, cs := range st.Chunks {
		if cs.Status == StatusFailed {
			if res.Errors == nil {
				res.Errors = make(map[int]string)
			}
			res.Errors[idx] = cs.Error
		}
	}
	return res
}

func sameBoundaries(a, b []Chunk) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// Package orchestrator 在多个分区之间调度分片引擎。
//
// orchestrator 是 harvest 的顶层入口：
// - 以 Operation 为单位登记分区，只处理进度存储中尚未完成的分区
// - 分区数大于 1 且启用并行时使用有界 worker 池（errgroup.SetLimit），否则顺序执行
// - 单个分区的失败在任务边界被捕获，记为空结果，不影响其他分区
// - 返回的结果总是包含每一个请求的分区
//
// ## 基本使用
//
//	orch, _ := orchestrator.New(progressStore, engine,
//	    orchestrator.WithMaxWorkers(5),
//	    orchestrator.WithLogger(logger),
//	    orchestrator.WithMeter(meter))
//
//	opID, results, err := orch.Start(ctx, orchestrator.Request{
//	    Subject:    "ceyewan",
//	    Partitions: []string{"octo/api", "octo/web"},
//	    Since:      "2024-01-01",
//	    Until:      "2024-03-31",
//	})
//
//	// 进程中断后，用同一个 opID 继续
//	results, err = orch.Resume(ctx, opID)
//
// ## 最终状态
//
// 最终状态由进度存储中该操作的全部分区决定，而不只是本次调用传入的分区：
//
//   - 没有待处理分区：completed
//   - 所有分区都失败：failed
//   - 其余情况保持 in_progress，error 记录失败数量，可以再次 Resume
package orchestrator

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/ceyewan/harvest/chunk"
	"github.com/ceyewan/harvest/clog"
	"github.com/ceyewan/harvest/metrics"
	"github.com/ceyewan/harvest/progress"
	"github.com/ceyewan/harvest/record"
	"github.com/ceyewan/harvest/xerrors"
)

// Engine 分区级抓取能力，*chunk.Engine 实现了该接口
type Engine interface {
	// FetchPartition 抓取一个分区并记录分区进度
	FetchPartition(ctx context.Context, operationID string, req chunk.Request) ([]record.Record, error)

	// Collect 读取已完成分区的持久化结果，不访问数据源
	Collect(ctx context.Context, req chunk.Request) ([]record.Record, bool, error)

	// MaxDays 分片天数
	MaxDays() int
}

// Request Start 的参数
type Request struct {
	Kind       string
	Subject    string
	Partitions []string
	Since      string
	Until      string
	Filter     string
	Metadata   map[string]string
}

// Orchestrator 多分区编排器
type Orchestrator struct {
	store      *progress.Store
	engine     Engine
	maxWorkers int
	parallel   bool
	maxDays    int
	observer   Observer
	logger     clog.Logger
	now        func() time.Time
}

// New 创建编排器
func New(store *progress.Store, engine Engine, opts ...Option) (*Orchestrator, error) {
	if store == nil {
		return nil, xerrors.Wrap(xerrors.ErrInvalidInput, "orchestrator: progress store is nil")
	}
	if engine == nil {
		return nil, xerrors.Wrap(xerrors.ErrInvalidInput, "orchestrator: engine is nil")
	}

	opt := options{
		maxWorkers: 5,
		parallel:   true,
		logger:     clog.Discard(),
		meter:      metrics.Discard(),
		now:        time.Now,
	}
	for _, o := range opts {
		o(&opt)
	}
	if opt.maxDays == 0 {
		opt.maxDays = engine.MaxDays()
	}

	mo, err := NewMetricsObserver(opt.meter)
	if err != nil {
		return nil, err
	}
	observers := append(Observers{NewLogObserver(opt.logger), mo}, opt.observers...)

	return &Orchestrator{
		store:      store,
		engine:     engine,
		maxWorkers: opt.maxWorkers,
		parallel:   opt.parallel,
		maxDays:    opt.maxDays,
		observer:   observers,
		logger:     opt.logger,
		now:        opt.now,
	}, nil
}

// Start 创建操作并立即编排，返回操作 ID 与结果
//
// 日期范围无效时在创建操作之前返回错误。
func (o *Orchestrator) Start(ctx context.Context, req Request) (string, map[string][]record.Record, error) {
	if _, err := chunk.Plan(req.Since, req.Until, o.maxDays); err != nil {
		return "", nil, err
	}
	id, err := o.store.CreateOperation(ctx, progress.NewOperation{
		Kind:     req.Kind,
		Subject:  req.Subject,
		Since:    req.Since,
		Until:    req.Until,
		Filter:   req.Filter,
		Metadata: req.Metadata,
	})
	if err != nil {
		return "", nil, err
	}
	results, err := o.Orchestrate(ctx, id, req.Partitions, req.Since, req.Until, req.Filter)
	return id, results, err
}

// Resume 按操作记录的日期范围继续处理，只重新处理 Pending 中的分区
func (o *Orchestrator) Resume(ctx context.Context, operationID string) (map[string][]record.Record, error) {
	op, err := o.store.GetOperation(ctx, operationID)
	if err != nil {
		return nil, err
	}
	rows, err := o.store.Partitions(ctx, operationID)
	if err != nil {
		return nil, err
	}
	names := make([]string, len(rows))
	for i, r := range rows {
		names[i] = r.PartitionName
	}
	return o.Orchestrate(ctx, operationID, names, op.Since, op.Until, op.Filter)
}

// Orchestrate 处理操作下的分区
//
// 已完成的分区从持久化的分片状态中读取结果，不会重新抓取；
// 只有输入校验、进度存储不可用这类错误会返回给调用方。
func (o *Orchestrator) Orchestrate(ctx context.Context, operationID string, partitions []string,
	since, until, filter string) (map[string][]record.Record, error) {
	chunks, err := chunk.Plan(since, until, o.maxDays)
	if err != nil {
		return nil, err
	}
	partitions = dedupe(partitions)
	ctx = clog.WithOperationID(ctx, operationID)

	op, err := o.store.GetOperation(ctx, operationID)
	if err != nil {
		return nil, err
	}
	if err := o.store.AddPartitions(ctx, operationID, partitions); err != nil {
		return nil, err
	}
	pending, err := o.store.Pending(ctx, operationID)
	if err != nil {
		return nil, err
	}
	isPending := make(map[string]bool, len(pending))
	for _, name := range pending {
		isPending[name] = true
	}

	results := make(map[string][]record.Record, len(partitions))
	var todo []string
	for _, name := range partitions {
		if isPending[name] {
			todo = append(todo, name)
			continue
		}
		results[name] = o.collect(ctx, request(name, since, until, filter))
	}

	if len(todo) == 0 {
		o.logger.InfoContext(ctx, "nothing to process", clog.Int("partitions", len(partitions)))
		if err := o.finish(ctx, operationID, op.Status); err != nil {
			return nil, err
		}
		return results, nil
	}

	if err := o.store.UpdateOperationStatus(ctx, operationID, progress.StatusInProgress); err != nil {
		return nil, err
	}
	o.logger.InfoContext(ctx, "processing partitions",
		clog.Int("pending", len(todo)),
		clog.Int("skipped", len(partitions)-len(todo)),
		clog.Int("chunks_per_partition", len(chunks)))
	o.observer.OperationStarted(ctx, operationID, len(todo))

	agg := &Aggregator{}
	var mu sync.Mutex
	task := func(name string) {
		items := o.runPartition(ctx, operationID, request(name, since, until, filter), agg)
		mu.Lock()
		results[name] = items
		mu.Unlock()
	}

	if !o.parallel || len(todo) <= 1 {
		o.logger.Debug("sequential mode", clog.Int("partitions", len(todo)))
		for _, name := range todo {
			task(name)
		}
	} else {
		workers := min(o.maxWorkers, len(todo))
		o.logger.Debug("parallel mode", clog.Int("partitions", len(todo)), clog.Int("workers", workers))
		var g errgroup.Group
		g.SetLimit(workers)
		for _, name := range todo {
			g.Go(func() error {
				task(name)
				return nil
			})
		}
		_ = g.Wait()
	}

	stats := agg.Snapshot()
	o.observer.OperationFinished(ctx, operationID, stats)
	if err := o.finish(ctx, operationID, progress.StatusInProgress); err != nil {
		return results, err
	}
	return results, nil
}

// runPartition 处理单个分区，任何错误（包括 panic）都转换为空结果
func (o *Orchestrator) runPartition(ctx context.Context, operationID string, req chunk.Request, agg *Aggregator) (items []record.Record) {
	ctx = clog.WithPartition(ctx, req.Partition)
	o.observer.PartitionStarted(ctx, operationID, req.Partition)
	start := o.now()

	var err error
	defer func() {
		if r := recover(); r != nil {
			err = xerrors.Wrapf(xerrors.ErrFatal, "panic: %v", r)
			if uerr := o.store.UpdatePartition(context.WithoutCancel(ctx), operationID, req.Partition,
				progress.StatusFailed, progress.WithError(err.Error())); uerr != nil {
				o.logger.ErrorContext(ctx, "record partition panic failed", clog.Error(uerr))
			}
		}
		if err != nil {
			items = []record.Record{}
		}
		stats := agg.Record(err)
		o.observer.PartitionFinished(ctx, operationID, Outcome{
			Partition: req.Partition,
			Items:     len(items),
			Duration:  o.now().Sub(start),
			Err:       err,
		}, stats)
	}()

	items, err = o.engine.FetchPartition(ctx, operationID, req)
	if items == nil {
		items = []record.Record{}
	}
	return items
}

// collect 读取已完成分区的结果；状态已过期或读取失败时返回空结果
func (o *Orchestrator) collect(ctx context.Context, req chunk.Request) []record.Record {
	items, found, err := o.engine.Collect(ctx, req)
	if err != nil {
		o.logger.Warn("collect completed partition failed", clog.String("partition", req.Partition), clog.Error(err))
	} else if !found {
		o.logger.Warn("completed partition has no cached result", clog.String("partition", req.Partition))
	}
	if items == nil {
		items = []record.Record{}
	}
	return items
}

// finish 根据进度存储中全部分区的状态写入操作的最终状态；current 为操作当前状态
func (o *Orchestrator) finish(ctx context.Context, operationID string, current progress.Status) error {
	ctx = context.WithoutCancel(ctx)
	pending, err := o.store.Pending(ctx, operationID)
	if err != nil {
		return err
	}
	if len(pending) == 0 {
		if current == progress.StatusCompleted {
			return nil
		}
		return o.store.UpdateOperationStatus(ctx, operationID, progress.StatusCompleted)
	}

	sum, err := o.store.Summary(ctx, operationID)
	if err != nil {
		return err
	}
	total := 0
	for _, n := range sum.Counts {
		total += n
	}
	failed := sum.Count(progress.StatusFailed)
	if failed == total {
		return o.store.UpdateOperationStatus(ctx, operationID, progress.StatusFailed,
			progress.WithError(fmt.Sprintf("all %d partitions failed", total)))
	}

	msg := fmt.Sprintf("%d of %d partitions failed", failed, total)
	if failed == 0 {
		msg = fmt.Sprintf("%d of %d partitions not processed", len(pending), total)
	}
	o.logger.WarnContext(ctx, "operation partially completed",
		clog.Int("failed", failed),
		clog.Int("pending", len(pending)),
		clog.Int("total", total))
	return o.store.UpdateOperationStatus(ctx, operationID, progress.StatusInProgress, progress.WithError(msg))
}

func request(partition, since, until, filter string) chunk.Request {
	return chunk.Request{Partition: partition, Since: since, Until: until, Filter: filter}
}

func dedupe(names []string) []string {
	out := make([]string, 0, len(names))
	seen := make(map[string]struct{}, len(names))
	for _, n := range names {
		if n == "" {
			continue
		}
		if _, ok := seen[n]; ok {
			continue
		}
		seen[n] = struct{}{}
		out = append(out, n)
	}
	return out
}

package orchestrator

import (
	"context"
	"sync"
	"time"

	"github.com/ceyewan/harvest/clog"
	"github.com/ceyewan/harvest/metrics"
)

// Stats 已结束分区的累计结果
type Stats struct {
	Completed int
	Failed    int
}

// Done 已结束的分区数
func (s Stats) Done() int {
	return s.Completed + s.Failed
}

// Aggregator 并发安全的分区结果计数器，用于实时进度展示
type Aggregator struct {
	mu    sync.Mutex
	stats Stats
}

// Record 记录一个分区的结果并返回记录后的快照
func (a *Aggregator) Record(err error) Stats {
	a.mu.Lock()
	defer a.mu.Unlock()
	if err != nil {
		a.stats.Failed++
	} else {
		a.stats.Completed++
	}
	return a.stats
}

// Snapshot 返回当前计数
func (a *Aggregator) Snapshot() Stats {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.stats
}

// Outcome 单个分区的处理结果
type Outcome struct {
	Partition string
	Items     int
	Duration  time.Duration
	Err       error
}

// Observer 编排过程的观察者，在每次状态转换时被调用
//
// 并行模式下 PartitionStarted / PartitionFinished 会在多个 goroutine 中并发调用，
// 实现需要自行保证并发安全，并且不应长时间阻塞。
type Observer interface {
	OperationStarted(ctx context.Context, operationID string, partitions int)
	PartitionStarted(ctx context.Context, operationID, partition string)
	PartitionFinished(ctx context.Context, operationID string, out Outcome, stats Stats)
	OperationFinished(ctx context.Context, operationID string, stats Stats)
}

// Observers 把事件依次分发给多个观察者
type Observers []Observer

func (os Observers) OperationStarted(ctx context.Context, operationID string, partitions int) {
	for _, o := range os {
		o.OperationStarted(ctx, operationID, partitions)
	}
}

func (os Observers) PartitionStarted(ctx context.Context, operationID, partition string) {
	for _, o := range os {
		o.PartitionStarted(ctx, operationID, partition)
	}
}

func (os Observers) PartitionFinished(ctx context.Context, operationID string, out Outcome, stats Stats) {
	for _, o := range os {
		o.PartitionFinished(ctx, operationID, out, stats)
	}
}

func (os Observers) OperationFinished(ctx context.Context, operationID string, stats Stats) {
	for _, o := range os {
		o.OperationFinished(ctx, operationID, stats)
	}
}

// ========================================
// 内置观察者 (Built-in Observers)
// ========================================

// LogObserver 把进度写入日志
type LogObserver struct {
	logger clog.Logger
	total  int
	mu     sync.Mutex
}

// NewLogObserver 创建日志观察者
func NewLogObserver(logger clog.Logger) *LogObserver {
	if logger == nil {
		logger = clog.Discard()
	}
	return &LogObserver{logger: logger}
}

func (l *LogObserver) OperationStarted(_ context.Context, operationID string, partitions int) {
	l.mu.Lock()
	l.total = partitions
	l.mu.Unlock()
	l.logger.Info("operation started",
		clog.String("operation_id", operationID),
		clog.Int("partitions", partitions))
}

func (l *LogObserver) PartitionStarted(_ context.Context, operationID, partition string) {
	l.logger.Debug("partition started",
		clog.String("operation_id", operationID),
		clog.String("partition", partition))
}

func (l *LogObserver) PartitionFinished(_ context.Context, operationID string, out Outcome, stats Stats) {
	l.mu.Lock()
	total := l.total
	l.mu.Unlock()

	fields := []clog.Field{
		clog.String("operation_id", operationID),
		clog.String("partition", out.Partition),
		clog.Int("items", out.Items),
		clog.Duration("duration", out.Duration),
		clog.Int("done", stats.Done()),
		clog.Int("total", total),
	}
	if out.Err != nil {
		l.logger.Warn("partition failed", append(fields, clog.Error(out.Err))...)
		return
	}
	l.logger.Info("partition completed", fields...)
}

func (l *LogObserver) OperationFinished(_ context.Context, operationID string, stats Stats) {
	l.logger.Info("operation finished",
		clog.String("operation_id", operationID),
		clog.Int("completed", stats.Completed),
		clog.Int("failed", stats.Failed))
}

// MetricsObserver 记录分区结果与耗时
type MetricsObserver struct {
	partitions metrics.Counter
	duration   metrics.Histogram
}

// NewMetricsObserver 创建指标观察者
func NewMetricsObserver(meter metrics.Meter) (*MetricsObserver, error) {
	partitions, err := meter.Counter(MetricPartitionsTotal, "已处理分区数")
	if err != nil {
		return nil, err
	}
	duration, err := meter.Histogram(MetricPartitionDuration, "单个分区处理耗时", metrics.WithUnit("s"))
	if err != nil {
		return nil, err
	}
	return &MetricsObserver{partitions: partitions, duration: duration}, nil
}

func (m *MetricsObserver) OperationStarted(context.Context, string, int) {}

func (m *MetricsObserver) PartitionStarted(context.Context, string, string) {}

func (m *MetricsObserver) PartitionFinished(ctx context.Context, _ string, out Outcome, _ Stats) {
	status := StatusCompleted
	if out.Err != nil {
		status = StatusFailed
	}
	m.partitions.Inc(ctx, metrics.L(metrics.LabelStatus, status))
	m.duration.Record(ctx, out.Duration.Seconds(), metrics.L(metrics.LabelStatus, status))
}

func (m *MetricsObserver) OperationFinished(context.Context, string, Stats) {}

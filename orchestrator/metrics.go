package orchestrator

const (
	// MetricPartitionsTotal 已处理分区数 (Counter)，按 status 区分
	MetricPartitionsTotal = "orchestrator_partitions_total"

	// MetricPartitionDuration 单个分区处理耗时 (Histogram)，单位秒
	MetricPartitionDuration = "orchestrator_partition_duration_seconds"

	StatusCompleted = "completed"
	StatusFailed    = "failed"
)

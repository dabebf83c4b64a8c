package chunk

const (
	// MetricProcessedTotal 已处理分片数 (Counter)，按 status 区分 completed / failed
	MetricProcessedTotal = "chunk_processed_total"
)

package ratelimit

// Metrics 指标常量定义
const (
	// MetricAcquireTotal 令牌获取次数 (Counter)，outcome 区分成功与取消
	MetricAcquireTotal = "ratelimit_acquire_total"

	// MetricWaitSeconds 获取令牌的等待耗时 (Histogram)
	MetricWaitSeconds = "ratelimit_wait_seconds"
)

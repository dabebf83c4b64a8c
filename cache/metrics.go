package cache

// Metrics 指标常量定义
const (
	// MetricRequestsTotal 缓存读取次数 (Counter)，outcome 为 hit / miss / error
	MetricRequestsTotal = "cache_requests_total"

	OutcomeHit  = "hit"
	OutcomeMiss = "miss"
)

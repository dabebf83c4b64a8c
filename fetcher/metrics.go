package fetcher

const (
	// MetricRequestsTotal 抓取请求总数 (Counter)，按 outcome 区分
	// success / error / cache_hit / stale
	MetricRequestsTotal = "fetch_requests_total"

	// MetricRetriesTotal 因临时错误发起的重试次数 (Counter)
	MetricRetriesTotal = "fetch_retries_total"
)

package metrics

const (
	// 常见的标签
	LabelService  = "service"
	LabelOutcome  = "outcome"
	LabelStatus   = "status"
	LabelState    = "state"
	LabelEndpoint = "endpoint"
	LabelMode     = "mode"
)

const (
	// 常见的结果
	OutcomeSuccess  = "success"
	OutcomeError    = "error"
	OutcomeCacheHit = "cache_hit"
	OutcomeStale    = "stale"
	OutcomeRejected = "rejected"
)

// Outcome 将错误映射为 success/error 结果标签
func Outcome(err error) string {
	if err == nil {
		return OutcomeSuccess
	}
	return OutcomeError
}

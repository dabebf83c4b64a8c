package breaker

// 指标名
const (
	MetricRejectsTotal = "breaker_rejects_total"       // Counter
	MetricStateChanges = "breaker_state_changes_total" // Counter，标签 from_state/to_state
)

// 标签
const (
	LabelFromState = "from_state"
	LabelToState   = "to_state"
)

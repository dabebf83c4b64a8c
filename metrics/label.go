package metrics

// Label 指标标签，为指标添加维度信息
//
// 标签值应保持低基数：分区名、操作 ID 这类无界取值不要作为标签。
type Label struct {
	Key   string
	Value string
}

// L 便捷构造函数
//
//	counter.Inc(ctx, metrics.L(metrics.LabelOutcome, metrics.OutcomeSuccess))
func L(key, value string) Label {
	return Label{Key: key, Value: value}
}

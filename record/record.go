// Package record 定义外部数据源返回的单条数据，以及聚合时使用的排序规则。
package record

import (
	"sort"
	"time"
)

// Record 外部数据源返回的一条数据
//
// Timestamp 保留数据源的原始字符串，解析失败不影响数据本身，只影响排序位置。
type Record struct {
	ID        string         `json:"id" msgpack:"id"`
	Timestamp string         `json:"timestamp" msgpack:"timestamp"`
	Fields    map[string]any `json:"fields,omitempty" msgpack:"fields,omitempty"`
}

var layouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	time.DateOnly,
}

// Time 解析时间戳，缺失或无法解析时 ok 为 false
func (r Record) Time() (time.Time, bool) {
	if r.Timestamp == "" {
		return time.Time{}, false
	}
	for _, layout := range layouts {
		if t, err := time.Parse(layout, r.Timestamp); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// SortNewestFirst 原地排序：有效时间戳严格按时间降序，
// 无效或缺失时间戳的记录排在最后，相同时间以及无效记录之间保持原有顺序。
func SortNewestFirst(records []Record) {
	type keyed struct {
		t  time.Time
		ok bool
	}
	keys := make([]keyed, len(records))
	for i, r := range records {
		t, ok := r.Time()
		keys[i] = keyed{t: t, ok: ok}
	}

	idx := make([]int, len(records))
	for i := range idx {
		idx[i] = i
	}
	sort.SliceStable(idx, func(a, b int) bool {
		ka, kb := keys[idx[a]], keys[idx[b]]
		switch {
		case ka.ok && kb.ok:
			return ka.t.After(kb.t)
		case ka.ok:
			return true
		default:
			return false
		}
	})

	sorted := make([]Record, len(records))
	for i, j := range idx {
		sorted[i] = records[j]
	}
	copy(records, sorted)
}

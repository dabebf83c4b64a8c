package chunk

import (
	"sort"
	"time"

	"github.com/ceyewan/harvest/record"
)

// Status 分片状态
type Status string

const (
	StatusPending    Status = "pending"
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// ChunkState 单个分片的处理状态
type ChunkState struct {
	Index     int        `json:"chunk_index" msgpack:"chunk_index"`
	Status    Status     `json:"status" msgpack:"status"`
	StartTime *time.Time `json:"start_time,omitempty" msgpack:"start_time,omitempty"`
	EndTime   *time.Time `json:"end_time,omitempty" msgpack:"end_time,omitempty"`
	ItemCount int        `json:"item_count" msgpack:"item_count"`
	Error     string     `json:"error,omitempty" msgpack:"error,omitempty"`
}

// State 一个 (partition, since, until, filter) 的全部分片状态，整体作为一个缓存值持久化
//
// Boundaries 记录首次运行时的切分结果，之后的运行和重试都以它为准。
type State struct {
	Chunks     map[int]ChunkState      `json:"chunks" msgpack:"chunks"`
	Results    map[int][]record.Record `json:"results" msgpack:"results"`
	Boundaries []Chunk                 `json:"boundaries" msgpack:"boundaries"`
	UpdatedAt  time.Time               `json:"updated_at" msgpack:"updated_at"`
}

func newState(boundaries []Chunk) *State {
	st := &State{
		Chunks:     make(map[int]ChunkState, len(boundaries)),
		Results:    make(map[int][]record.Record, len(boundaries)),
		Boundaries: boundaries,
	}
	for _, c := range boundaries {
		st.Chunks[c.Index] = ChunkState{Index: c.Index, Status: StatusPending}
	}
	return st
}

// normalize 补齐解码后可能缺失的字段
func (s *State) normalize() {
	if s.Chunks == nil {
		s.Chunks = make(map[int]ChunkState)
	}
	if s.Results == nil {
		s.Results = make(map[int][]record.Record)
	}
	for _, c := range s.Boundaries {
		if _, ok := s.Chunks[c.Index]; !ok {
			s.Chunks[c.Index] = ChunkState{Index: c.Index, Status: StatusPending}
		}
	}
}

func (s *State) count(status Status) int {
	n := 0
	for _, cs := range s.Chunks {
		if cs.Status == status {
			n++
		}
	}
	return n
}

// aggregate 合并已完成分片的结果并按时间倒序排列
func (s *State) aggregate() []record.Record {
	indexes := make([]int, 0, len(s.Results))
	for idx := range s.Results {
		if s.Chunks[idx].Status == StatusCompleted {
			indexes = append(indexes, idx)
		}
	}
	sort.Ints(indexes)

	items := []record.Record{}
	for _, idx := range indexes {
		items = append(items, s.Results[idx]...)
	}
	record.SortNewestFirst(items)
	return items
}

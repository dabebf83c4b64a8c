package progress

import "time"

// Status 操作或分区的状态
type Status string

const (
	StatusPending    Status = "pending"
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
	// StatusSkipped 仅用于分区
	StatusSkipped Status = "skipped"
)

// Terminal 是否为终态
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusSkipped
}

func (s Status) validOperation() bool {
	switch s {
	case StatusPending, StatusInProgress, StatusCompleted, StatusFailed:
		return true
	}
	return false
}

func (s Status) validPartition() bool {
	return s.validOperation() || s == StatusSkipped
}

// Operation 一次多分区抓取请求
type Operation struct {
	ID       string            `gorm:"primaryKey;size:36" json:"id"`
	Kind     string            `gorm:"size:32;not null" json:"kind"`
	Subject  string            `gorm:"size:255;not null;index:idx_operations_subject" json:"subject"`
	Since    string            `gorm:"size:10;not null" json:"since"`
	Until    string            `gorm:"size:10;not null" json:"until"`
	Filter   string            `gorm:"size:255" json:"filter,omitempty"`
	Metadata map[string]string `gorm:"serializer:json" json:"metadata,omitempty"`
	Status   Status            `gorm:"size:16;not null;index:idx_operations_status" json:"status"`

	CreatedAt   time.Time  `gorm:"not null;index:idx_operations_created" json:"created_at"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	Error       string     `gorm:"type:text" json:"error,omitempty"`

	TotalPartitions     int `gorm:"not null;default:0" json:"total_partitions"`
	CompletedPartitions int `gorm:"not null;default:0" json:"completed_partitions"`
	TotalItems          int `gorm:"not null;default:0" json:"total_items"`
}

func (Operation) TableName() string { return "operations" }

// PartitionProgress 某个操作下单个分区的进度，(operation_id, partition_name) 唯一
type PartitionProgress struct {
	ID            uint   `gorm:"primaryKey;autoIncrement" json:"-"`
	OperationID   string `gorm:"size:36;not null;uniqueIndex:idx_partition_op_name,priority:1;index:idx_partition_op_status,priority:1" json:"operation_id"`
	PartitionName string `gorm:"size:255;not null;uniqueIndex:idx_partition_op_name,priority:2" json:"partition_name"`
	Status        Status `gorm:"size:16;not null;index:idx_partition_op_status,priority:2" json:"status"`

	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`

	ItemCount       int    `gorm:"not null;default:0" json:"item_count"`
	ChunkCount      int    `gorm:"not null;default:0" json:"chunk_count"`
	CompletedChunks int    `gorm:"not null;default:0" json:"completed_chunks"`
	Error           string `gorm:"type:text" json:"error,omitempty"`
	RetryCount      int    `gorm:"not null;default:0" json:"retry_count"`
}

func (PartitionProgress) TableName() string { return "partition_progress" }

// NewOperation 创建操作的参数
type NewOperation struct {
	Kind     string
	Subject  string
	Since    string
	Until    string
	Filter   string
	Metadata map[string]string
}

// Summary 操作的聚合视图
type Summary struct {
	Operation Operation      `json:"operation"`
	Counts    map[Status]int `json:"counts"`
	// Percent 已完成（含跳过）分区占比，0-100
	Percent float64 `json:"percent"`
}

// Count 返回某个状态下的分区数
func (s *Summary) Count(status Status) int {
	return s.Counts[status]
}

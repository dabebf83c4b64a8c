package progress

// Update 状态更新时附带的可选字段
type Update func(*update)

type update struct {
	errMsg          *string
	totalPartitions *int
	totalItems      *int
	itemCount       *int
	chunkCount      *int
	completedChunks *int
}

// WithError 记录错误信息
func WithError(msg string) Update {
	return func(u *update) { u.errMsg = &msg }
}

// WithTotalPartitions 覆盖操作的分区总数
func WithTotalPartitions(n int) Update {
	return func(u *update) { u.totalPartitions = &n }
}

// WithTotalItems 覆盖操作的条目总数
func WithTotalItems(n int) Update {
	return func(u *update) { u.totalItems = &n }
}

// WithItemCount 设置分区条目数，操作的 total_items 随之重算
func WithItemCount(n int) Update {
	return func(u *update) { u.itemCount = &n }
}

// WithChunkCount 设置分区的分片总数
func WithChunkCount(n int) Update {
	return func(u *update) { u.chunkCount = &n }
}

// WithCompletedChunks 设置分区已完成的分片数
func WithCompletedChunks(n int) Update {
	return func(u *update) { u.completedChunks = &n }
}

func applyUpdates(updates []Update) update {
	var u update
	for _, fn := range updates {
		fn(&u)
	}
	return u
}

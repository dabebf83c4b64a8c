package progress

import "github.com/ceyewan/harvest/xerrors"

// 错误定义
var (
	// ErrOperationNotFound 操作不存在
	ErrOperationNotFound = xerrors.Wrap(xerrors.ErrNotFound, "progress: operation not found")

	// ErrPartitionNotFound 分区记录不存在
	ErrPartitionNotFound = xerrors.Wrap(xerrors.ErrNotFound, "progress: partition not found")

	// ErrInvalidStatus 状态取值非法
	ErrInvalidStatus = xerrors.Wrap(xerrors.ErrInvalidInput, "progress: invalid status")

	// ErrInvalidOperation 创建参数非法
	ErrInvalidOperation = xerrors.Wrap(xerrors.ErrInvalidInput, "progress: invalid operation")
)

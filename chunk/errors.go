package chunk

import "github.com/ceyewan/harvest/xerrors"

var (
	// ErrInvalidRange 日期范围或分片天数无效，属于不可重试的输入错误
	ErrInvalidRange = xerrors.Wrap(xerrors.ErrInvalidInput, "chunk: invalid range")

	// ErrStateNotFound 没有该分区范围的分片状态
	ErrStateNotFound = xerrors.Wrap(xerrors.ErrNotFound, "chunk: state not found")

	// ErrChunksFailed 分区中至少有一个分片失败
	ErrChunksFailed = xerrors.New("chunk: some chunks failed")

	// ErrNoTracker FetchPartition 需要 WithTracker
	ErrNoTracker = xerrors.Wrap(xerrors.ErrInvalidInput, "chunk: progress tracker not configured")
)

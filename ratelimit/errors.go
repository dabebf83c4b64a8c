package ratelimit

import "github.com/ceyewan/harvest/xerrors"

// 错误定义
var (
	// ErrInvalidLimit 限流规则无效
	ErrInvalidLimit = xerrors.Wrap(xerrors.ErrInvalidInput, "ratelimit: invalid limit")
)

package breaker

import (
	"fmt"
	"time"

	"github.com/sony/gobreaker/v2"

	"github.com/ceyewan/harvest/xerrors"
)

// 错误定义
var (
	// ErrInvalidConfig 配置非法
	ErrInvalidConfig = xerrors.Wrap(xerrors.ErrInvalidInput, "breaker: invalid config")

	// ErrKeyEmpty 端点名为空
	ErrKeyEmpty = xerrors.Wrap(xerrors.ErrInvalidInput, "breaker: endpoint is empty")

	// ErrOpenState 熔断器处于打开状态，与 gobreaker 共用同一个哨兵
	ErrOpenState = gobreaker.ErrOpenState
)

// OpenError 调用因熔断器打开而被拒绝
//
// 同时满足 errors.Is(err, ErrOpenState) 与 errors.Is(err, xerrors.ErrCircuitOpen)，
// 调用方据此选择使用过期数据或放弃当前分区，而不是重试。
type OpenError struct {
	Endpoint string
	OpenedAt time.Time
}

func (e *OpenError) Error() string {
	return fmt.Sprintf("circuit breaker open for endpoint %q", e.Endpoint)
}

func (e *OpenError) Is(target error) bool {
	return target == gobreaker.ErrOpenState || target == xerrors.ErrCircuitOpen
}

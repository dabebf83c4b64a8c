// Package xerrors 提供标准化错误处理工具，以及抓取链路使用的错误分类。
//
// 抓取链路上的每一层都只关心错误属于哪一类：
//   - KindTransient：超时、临时网络故障，可在单次抓取层面退避重试
//   - KindCircuitOpen：熔断器拒绝调用，调用方应回退到过期缓存或放弃该分区
//   - KindFatal：非法参数、缺失配置等编程错误，在调度任何工作之前直接返回
//
// ## 基本使用
//
//	err := xerrors.Transient(xerrors.Wrap(err, "fetch page"))
//	switch xerrors.KindOf(err) {
//	case xerrors.KindTransient:
//	    // 重试
//	case xerrors.KindCircuitOpen:
//	    // 回退
//	}
package xerrors

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrInvalidInput = errors.New("invalid input")
	ErrNotFound     = errors.New("not found")
	ErrTransient    = errors.New("transient failure")
	ErrCircuitOpen  = errors.New("circuit open")
	ErrFatal        = errors.New("fatal error")
)

// Wrap 在错误前加上 msg，err 为 nil 时返回 nil
func Wrap(err error, msg string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", msg, err)
}

func Wrapf(err error, format string, args ...any) error {
	if err == nil {
		return nil
	}
	return Wrap(err, fmt.Sprintf(format, args...))
}

// MultiError 同时携带多个错误，errors.Is/As 对每个成员生效
type MultiError struct {
	Errors []error
}

func (m *MultiError) Error() string {
	msgs := make([]string, len(m.Errors))
	for i, err := range m.Errors {
		msgs[i] = err.Error()
	}
	return strings.Join(msgs, "; ")
}

func (m *MultiError) Unwrap() []error { return m.Errors }

// Combine 丢弃 nil 后合并：没有错误返回 nil，只有一个时原样返回
func Combine(errs ...error) error {
	var kept []error
	for _, err := range errs {
		if err != nil {
			kept = append(kept, err)
		}
	}
	switch len(kept) {
	case 0:
		return nil
	case 1:
		return kept[0]
	}
	return &MultiError{Errors: kept}
}

// 各包统一从 xerrors 引用，避免同时导入 errors
var (
	New  = errors.New
	Is   = errors.Is
	As   = errors.As
	Join = errors.Join
)

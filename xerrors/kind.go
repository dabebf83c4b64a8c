package xerrors

import (
	"context"
	"errors"
	"net"
)

// Kind 错误类别
type Kind int

const (
	KindUnknown Kind = iota
	KindTransient
	KindCircuitOpen
	KindFatal
)

func (k Kind) String() string {
	switch k {
	case KindTransient:
		return "transient"
	case KindCircuitOpen:
		return "circuit_open"
	case KindFatal:
		return "fatal"
	default:
		return "unknown"
	}
}

// kindError 给任意错误打上类别标签
type kindError struct {
	kind  Kind
	cause error
}

func (e *kindError) Error() string { return e.cause.Error() }
func (e *kindError) Unwrap() error { return e.cause }

func (e *kindError) Is(target error) bool {
	switch e.kind {
	case KindTransient:
		return target == ErrTransient
	case KindFatal:
		return target == ErrFatal
	case KindCircuitOpen:
		return target == ErrCircuitOpen
	}
	return false
}

// Transient 将错误标记为可重试。
func Transient(err error) error {
	if err == nil {
		return nil
	}
	return &kindError{kind: KindTransient, cause: err}
}

// Fatal 将错误标记为不可重试。
func Fatal(err error) error {
	if err == nil {
		return nil
	}
	return &kindError{kind: KindFatal, cause: err}
}

// KindOf 沿错误链判断错误类别。
//
// 显式标签优先；其次识别超时类错误（net.Error.Timeout、context.DeadlineExceeded）
// 为 KindTransient；ErrInvalidInput 归为 KindFatal。
func KindOf(err error) Kind {
	if err == nil {
		return KindUnknown
	}
	var ke *kindError
	if errors.As(err, &ke) {
		return ke.kind
	}
	switch {
	case errors.Is(err, ErrCircuitOpen):
		return KindCircuitOpen
	case errors.Is(err, ErrTransient):
		return KindTransient
	case errors.Is(err, ErrFatal), errors.Is(err, ErrInvalidInput):
		return KindFatal
	case errors.Is(err, context.DeadlineExceeded):
		return KindTransient
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return KindTransient
	}
	return KindUnknown
}

// IsTransient 是否可重试
func IsTransient(err error) bool { return KindOf(err) == KindTransient }

// IsCircuitOpen 是否为熔断拒绝
func IsCircuitOpen(err error) bool { return KindOf(err) == KindCircuitOpen }

package config

import "github.com/ceyewan/harvest/xerrors"

// ErrValidationFailed 配置为空或校验不通过
var ErrValidationFailed = xerrors.Wrap(xerrors.ErrInvalidInput, "config validation failed")

// IsInvalidInput 配置格式错误或校验失败
func IsInvalidInput(err error) bool {
	return xerrors.Is(err, xerrors.ErrInvalidInput)
}

// WrapLoadError 加载阶段的错误统一加上 "load config" 前缀
func WrapLoadError(err error, stage string) error {
	return xerrors.Wrapf(err, "load config (%s)", stage)
}

package fetcher

import "github.com/ceyewan/harvest/xerrors"

var (
	// ErrInvalidConfig 配置无效
	ErrInvalidConfig = xerrors.Wrap(xerrors.ErrInvalidInput, "fetcher: invalid config")

	// ErrSourceNil 未提供数据源
	ErrSourceNil = xerrors.Wrap(xerrors.ErrInvalidInput, "fetcher: source is nil")
)

package connector

import "github.com/ceyewan/harvest/xerrors"

// 连接器专用的哨兵错误
var (
	ErrClientNil   = xerrors.New("connector: client is nil")
	ErrConnection  = xerrors.New("connector: connection failed")
	ErrConfig      = xerrors.Wrap(xerrors.ErrInvalidInput, "connector: invalid config")
	ErrHealthCheck = xerrors.New("connector: health check failed")
)

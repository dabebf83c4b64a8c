package db

import "github.com/ceyewan/harvest/xerrors"

var (
	// ErrMySQLConnectorRequired MySQL 连接器未提供
	ErrMySQLConnectorRequired = xerrors.Wrap(xerrors.ErrInvalidInput, "db: mysql connector is required")

	// ErrSQLiteConnectorRequired SQLite 连接器未提供
	ErrSQLiteConnectorRequired = xerrors.Wrap(xerrors.ErrInvalidInput, "db: sqlite connector is required")

	// ErrNotConnected 连接器尚未 Connect
	ErrNotConnected = xerrors.New("db: connector not connected")
)

package db

import (
	"github.com/ceyewan/harvest/clog"
	"github.com/ceyewan/harvest/connector"
)

// Option 配置 DB 实例的选项
type Option func(*options)

type options struct {
	logger          clog.Logger
	mysqlConnector  connector.MySQLConnector
	sqliteConnector connector.SQLiteConnector
	silentMode      bool
}

// WithLogger 注入日志记录器
func WithLogger(l clog.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l.WithNamespace("db")
		}
	}
}

// WithMySQLConnector 注入 MySQL 连接器
func WithMySQLConnector(conn connector.MySQLConnector) Option {
	return func(o *options) {
		o.mysqlConnector = conn
	}
}

// WithSQLiteConnector 注入 SQLite 连接器
func WithSQLiteConnector(conn connector.SQLiteConnector) Option {
	return func(o *options) {
		o.sqliteConnector = conn
	}
}

// WithSilentMode 禁用 SQL 日志输出
func WithSilentMode() Option {
	return func(o *options) {
		o.silentMode = true
	}
}

// Package connector 管理 harvest 的外部连接：SQLite（默认，进度与缓存都落在
// 同一个文件里）、MySQL（多台机器共享进度）、Redis（共享缓存）。
//
//	conn, err := connector.NewSQLite(&connector.SQLiteConfig{Path: "harvest.db"},
//		connector.WithLogger(logger))
//	if err != nil {
//		return err
//	}
//	defer conn.Close()
//	if err := conn.Connect(ctx); err != nil {
//		return err
//	}
//
// db、cache 只借用 Connector，不负责关闭；应用退出时先关组件再关 Connector。
package connector

import (
	"context"

	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"
)

// Connector 各连接器的公共行为，并发安全；Connect 与 Close 都可以重复调用
type Connector interface {
	Connect(ctx context.Context) error
	Close() error
	// HealthCheck 发一次探测请求并刷新 IsHealthy
	HealthCheck(ctx context.Context) error
	IsHealthy() bool
	Name() string
}

// TypedConnector 暴露底层客户端，Connect 之前或 Close 之后 GetClient 可能为 nil
type TypedConnector[T any] interface {
	Connector
	GetClient() T
}

type (
	RedisConnector  = TypedConnector[*redis.Client]
	MySQLConnector  = TypedConnector[*gorm.DB]
	SQLiteConnector = TypedConnector[*gorm.DB]
)

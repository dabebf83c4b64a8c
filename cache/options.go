package cache

import (
	"time"

	"github.com/ceyewan/harvest/clog"
	"github.com/ceyewan/harvest/connector"
	"github.com/ceyewan/harvest/db"
	"github.com/ceyewan/harvest/metrics"
)

// Option 缓存组件选项函数
type Option func(*options)

// options 选项结构（内部使用）
type options struct {
	logger    clog.Logger
	meter     metrics.Meter
	redisConn connector.RedisConnector
	database  db.DB
	now       func() time.Time
}

// WithLogger 注入日志记录器
// 组件内部会自动追加 Namespace: logger.WithNamespace("cache")
func WithLogger(l clog.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l.WithNamespace("cache")
		}
	}
}

// WithMeter 注入指标 Meter
func WithMeter(m metrics.Meter) Option {
	return func(o *options) {
		if m != nil {
			o.meter = m
		}
	}
}

// WithRedisConnector 注入 Redis 连接器 (仅用于 redis 后端)
func WithRedisConnector(conn connector.RedisConnector) Option {
	return func(o *options) {
		o.redisConn = conn
	}
}

// WithDB 注入数据库组件 (仅用于 sqlite 后端)
func WithDB(database db.DB) Option {
	return func(o *options) {
		o.database = database
	}
}

// WithClock 注入时间源 (sqlite 后端用它判断过期)
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		if now != nil {
			o.now = now
		}
	}
}

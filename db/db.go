// Package db 提供基于 GORM 的数据库组件。
//
// db 组件借用 connector 的连接，在其上提供：
//   - 统一的 *gorm.DB 获取方式（绑定 Context）
//   - 事务管理，fn 返回错误时整体回滚
//   - 模型迁移
//   - GORM 日志适配到 clog
//
// progress、breaker 与 sqlite 缓存后端都建立在这一层之上。
//
// ## 基本使用
//
//	sqliteConn, _ := connector.NewSQLite(&connector.SQLiteConfig{Path: "harvest.db"})
//	defer sqliteConn.Close()
//	sqliteConn.Connect(ctx)
//
//	database, _ := db.New(&db.Config{Driver: "sqlite"},
//		db.WithSQLiteConnector(sqliteConn),
//		db.WithLogger(logger),
//	)
//
//	err := database.Transaction(ctx, func(ctx context.Context, tx *gorm.DB) error {
//		return tx.Create(&row).Error
//	})
//
// ## 设计原则
//
//   - 借用模型：db 组件不负责连接的生命周期，Close 为空操作
//   - 显式依赖：通过选项显式注入连接器
package db

import (
	"context"

	"gorm.io/gorm"

	"github.com/ceyewan/harvest/clog"
	"github.com/ceyewan/harvest/xerrors"
)

// DB 定义了数据库组件的核心能力
type DB interface {
	// DB 获取绑定 ctx 的 *gorm.DB 实例
	DB(ctx context.Context) *gorm.DB

	// Transaction 执行事务操作
	// fn 中的 tx 对象仅在当前事务范围内有效
	Transaction(ctx context.Context, fn func(ctx context.Context, tx *gorm.DB) error) error

	// AutoMigrate 创建或更新表结构
	AutoMigrate(ctx context.Context, models ...any) error

	// Driver 返回驱动名称：sqlite | mysql
	Driver() string

	// Close 关闭组件
	Close() error
}

type database struct {
	client *gorm.DB
	driver string
	logger clog.Logger
}

// New 创建数据库组件实例
//
// 根据 cfg.Driver 选择对应的连接器：
//
//	database, err := db.New(&db.Config{Driver: "mysql"}, db.WithMySQLConnector(conn))
func New(cfg *Config, opts ...Option) (DB, error) {
	if cfg == nil {
		cfg = &Config{}
	}
	cfg.setDefaults()
	if err := cfg.validate(); err != nil {
		return nil, xerrors.Wrap(err, "invalid db config")
	}

	opt := options{logger: clog.Discard()}
	for _, o := range opts {
		o(&opt)
	}

	var client *gorm.DB
	switch cfg.Driver {
	case "sqlite":
		if opt.sqliteConnector == nil {
			return nil, ErrSQLiteConnectorRequired
		}
		client = opt.sqliteConnector.GetClient()
	case "mysql":
		if opt.mysqlConnector == nil {
			return nil, ErrMySQLConnectorRequired
		}
		client = opt.mysqlConnector.GetClient()
	}
	if client == nil {
		return nil, xerrors.Wrapf(ErrNotConnected, "driver %s", cfg.Driver)
	}

	client = client.Session(&gorm.Session{
		Logger: newGormLogger(opt.logger, opt.silentMode || cfg.SlowThreshold < 0, cfg.SlowThreshold),
	})

	return &database{
		client: client,
		driver: cfg.Driver,
		logger: opt.logger,
	}, nil
}

func (d *database) DB(ctx context.Context) *gorm.DB {
	return d.client.WithContext(ctx)
}

func (d *database) Transaction(ctx context.Context, fn func(ctx context.Context, tx *gorm.DB) error) error {
	return d.client.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(ctx, tx)
	})
}

func (d *database) AutoMigrate(ctx context.Context, models ...any) error {
	if err := d.client.WithContext(ctx).AutoMigrate(models...); err != nil {
		return xerrors.Wrap(err, "auto migrate")
	}
	return nil
}

func (d *database) Driver() string {
	return d.driver
}

// Close GORM 的连接由连接器管理，这里不需要额外关闭
func (d *database) Close() error {
	return nil
}

package testkit

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ceyewan/harvest/connector"
	"github.com/ceyewan/harvest/db"
)

// NewSQLiteConfig 返回独立命名的共享内存数据库配置，测试之间互不可见
func NewSQLiteConfig() *connector.SQLiteConfig {
	return &connector.SQLiteConfig{
		Name: "test-" + NewID(),
		Path: "file:" + NewID() + "?mode=memory&cache=shared",
	}
}

// NewSQLiteConnector 获取 SQLite 连接器（内存数据库），生命周期由 t.Cleanup 管理
func NewSQLiteConnector(t *testing.T) connector.SQLiteConnector {
	return connectSQLite(t, NewSQLiteConfig())
}

// NewPersistentSQLiteConfig 返回文件数据库配置，文件位于 t.TempDir()
func NewPersistentSQLiteConfig(t *testing.T) *connector.SQLiteConfig {
	return &connector.SQLiteConfig{
		Name: "test-file",
		Path: filepath.Join(t.TempDir(), "harvest.db"),
	}
}

// NewPersistentSQLiteConnector 获取持久化 SQLite 连接器，用于模拟进程重启
func NewPersistentSQLiteConnector(t *testing.T) connector.SQLiteConnector {
	return connectSQLite(t, NewPersistentSQLiteConfig(t))
}

// ReopenSQLite 在同一个文件上打开新的连接器，模拟进程重启后的视角
func ReopenSQLite(t *testing.T, cfg *connector.SQLiteConfig) connector.SQLiteConnector {
	return connectSQLite(t, &connector.SQLiteConfig{Name: cfg.Name, Path: cfg.Path})
}

// NewDB 在内存 SQLite 上构造 db.DB
func NewDB(t *testing.T) db.DB {
	return NewDBFrom(t, NewSQLiteConnector(t))
}

// NewDBFrom 在给定连接器上构造 db.DB
func NewDBFrom(t *testing.T, conn connector.SQLiteConnector) db.DB {
	database, err := db.New(&db.Config{Driver: "sqlite"},
		db.WithSQLiteConnector(conn),
		db.WithLogger(NewLogger()),
		db.WithSilentMode(),
	)
	require.NoError(t, err, "failed to create db")
	return database
}

func connectSQLite(t *testing.T, cfg *connector.SQLiteConfig) connector.SQLiteConnector {
	t.Helper()
	conn, err := connector.NewSQLite(cfg, connector.WithLogger(NewLogger()))
	require.NoError(t, err, "failed to create sqlite connector")
	require.NoError(t, conn.Connect(context.Background()), "failed to connect to sqlite")
	t.Cleanup(func() {
		_ = conn.Close()
	})
	return conn
}

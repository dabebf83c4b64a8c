package connector

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ceyewan/harvest/xerrors"
)

func TestSQLiteConnector(t *testing.T) {
	ctx := context.Background()
	conn, err := NewSQLite(&SQLiteConfig{Name: "test", Path: filepath.Join(t.TempDir(), "harvest.db")})
	require.NoError(t, err)

	assert.Nil(t, conn.GetClient())
	assert.ErrorIs(t, conn.HealthCheck(ctx), ErrClientNil)

	require.NoError(t, conn.Connect(ctx))
	require.NoError(t, conn.Connect(ctx), "Connect should be idempotent")
	require.NotNil(t, conn.GetClient())
	require.NoError(t, conn.HealthCheck(ctx))
	assert.True(t, conn.IsHealthy())
	assert.Equal(t, "test", conn.Name())

	var one int
	require.NoError(t, conn.GetClient().Raw("SELECT 1").Scan(&one).Error)
	assert.Equal(t, 1, one)

	require.NoError(t, conn.Close())
	require.NoError(t, conn.Close())
	assert.False(t, conn.IsHealthy())
	assert.Nil(t, conn.GetClient())
}

func TestConfigValidation(t *testing.T) {
	_, err := NewSQLite(&SQLiteConfig{})
	require.Error(t, err)
	assert.ErrorIs(t, err, xerrors.ErrInvalidInput)

	_, err = NewSQLite(nil)
	assert.ErrorIs(t, err, ErrConfig)

	_, err = NewMySQL(&MySQLConfig{Host: "localhost"})
	assert.ErrorIs(t, err, ErrConfig)

	cfg := &MySQLConfig{Host: "db", Username: "u", Password: "p", Database: "harvest"}
	_, err = NewMySQL(cfg)
	require.NoError(t, err)
	assert.Equal(t, 3306, cfg.Port)
	assert.Equal(t, "u:p@tcp(db:3306)/harvest?charset=utf8mb4&parseTime=True&loc=UTC", cfg.dsn())

	_, err = NewRedis(&RedisConfig{})
	assert.ErrorIs(t, err, ErrConfig)
}

func TestSQLiteDSN(t *testing.T) {
	file := &sqliteConnector{cfg: &SQLiteConfig{Path: "harvest.db"}}
	file.cfg.setDefaults()
	assert.Equal(t, "harvest.db?_busy_timeout=5000&_journal_mode=WAL", file.dsn())

	mem := &sqliteConnector{cfg: &SQLiteConfig{Path: "file::memory:?cache=shared"}}
	mem.cfg.setDefaults()
	assert.Equal(t, "file::memory:?cache=shared&_busy_timeout=5000", mem.dsn())
}

func TestRedisConnectorClosed(t *testing.T) {
	conn, err := NewRedis(&RedisConfig{Addr: "127.0.0.1:0"})
	require.NoError(t, err)
	require.NoError(t, conn.Close())
	require.NoError(t, conn.Close())
	assert.Nil(t, conn.GetClient())
	assert.ErrorIs(t, conn.HealthCheck(context.Background()), ErrClientNil)
}

package db_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/ceyewan/harvest/connector"
	"github.com/ceyewan/harvest/db"
	"github.com/ceyewan/harvest/testkit"
	"github.com/ceyewan/harvest/xerrors"
)

type testRow struct {
	ID   uint   `gorm:"primaryKey"`
	Name string `gorm:"size:100;uniqueIndex"`
}

func TestNewRequiresConnector(t *testing.T) {
	_, err := db.New(&db.Config{Driver: "sqlite"})
	assert.ErrorIs(t, err, db.ErrSQLiteConnectorRequired)

	_, err = db.New(&db.Config{Driver: "mysql"})
	assert.ErrorIs(t, err, db.ErrMySQLConnectorRequired)

	_, err = db.New(&db.Config{Driver: "postgres"})
	assert.ErrorIs(t, err, xerrors.ErrInvalidInput)

	conn, err := connector.NewSQLite(testkit.NewSQLiteConfig())
	require.NoError(t, err)
	_, err = db.New(nil, db.WithSQLiteConnector(conn))
	assert.ErrorIs(t, err, db.ErrNotConnected)
}

func TestTransaction(t *testing.T) {
	ctx := context.Background()
	database := testkit.NewDB(t)
	assert.Equal(t, "sqlite", database.Driver())
	require.NoError(t, database.AutoMigrate(ctx, &testRow{}))

	require.NoError(t, database.Transaction(ctx, func(ctx context.Context, tx *gorm.DB) error {
		return tx.Create(&testRow{Name: "a"}).Error
	}))

	boom := errors.New("boom")
	err := database.Transaction(ctx, func(ctx context.Context, tx *gorm.DB) error {
		if err := tx.Create(&testRow{Name: "b"}).Error; err != nil {
			return err
		}
		return boom
	})
	assert.ErrorIs(t, err, boom)

	var names []string
	require.NoError(t, database.DB(ctx).Model(&testRow{}).Order("name").Pluck("name", &names).Error)
	assert.Equal(t, []string{"a"}, names)
}

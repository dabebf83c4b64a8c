package cache

import (
	"context"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/ceyewan/harvest/db"
	"github.com/ceyewan/harvest/xerrors"
)

// entry cache_entries 表的行
type entry struct {
	Key       string     `gorm:"column:cache_key;primaryKey;size:255"`
	Value     []byte     `gorm:"not null"`
	ExpiresAt *time.Time `gorm:"index:idx_cache_entries_expires"`
	UpdatedAt time.Time
}

func (entry) TableName() string { return "cache_entries" }

type sqlBackend struct {
	db  db.DB
	now func() time.Time
}

func newSQLBackend(database db.DB, now func() time.Time) (*sqlBackend, error) {
	if err := database.AutoMigrate(context.Background(), &entry{}); err != nil {
		return nil, xerrors.Wrap(err, "migrate cache_entries")
	}
	return &sqlBackend{db: database, now: now}, nil
}

func (b *sqlBackend) get(ctx context.Context, key string) ([]byte, bool, error) {
	var e entry
	err := b.db.DB(ctx).
		Where("cache_key = ? AND (expires_at IS NULL OR expires_at > ?)", key, b.now().UTC()).
		Take(&e).Error
	if xerrors.Is(err, gorm.ErrRecordNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return e.Value, true, nil
}

func (b *sqlBackend) set(ctx context.Context, key string, data []byte, ttl time.Duration) error {
	e := entry{Key: key, Value: data}
	if ttl > 0 {
		t := b.now().UTC().Add(ttl)
		e.ExpiresAt = &t
	}
	return b.db.DB(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "cache_key"}},
		DoUpdates: clause.AssignmentColumns([]string{"value", "expires_at", "updated_at"}),
	}).Create(&e).Error
}

func (b *sqlBackend) delete(ctx context.Context, key string) error {
	return b.db.DB(ctx).Where("cache_key = ?", key).Delete(&entry{}).Error
}

func (b *sqlBackend) purge(ctx context.Context) (int64, error) {
	res := b.db.DB(ctx).
		Where("expires_at IS NOT NULL AND expires_at <= ?", b.now().UTC()).
		Delete(&entry{})
	return res.RowsAffected, res.Error
}

// close 连接由 db 组件的连接器管理
func (b *sqlBackend) close() error {
	return nil
}

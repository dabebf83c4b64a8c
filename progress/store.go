// Package progress 提供操作与分区进度的持久化存储。
//
// 一次多分区抓取请求对应一个 Operation，每个分区对应一行 PartitionProgress。
// 所有写操作都在单个事务中完成，进程在任意时刻崩溃后都能从存储中
// 还原出可恢复的状态：Pending 返回的正是需要重新处理的分区集合。
//
// ## 基本使用
//
//	store, _ := progress.New(ctx, database, progress.WithLogger(logger))
//
//	id, _ := store.CreateOperation(ctx, progress.NewOperation{
//		Kind: "fetch", Subject: "ceyewan", Since: "2024-01-01", Until: "2024-01-31",
//	})
//	_ = store.AddPartitions(ctx, id, []string{"octo/api", "octo/web"})
//	_ = store.UpdatePartition(ctx, id, "octo/api", progress.StatusCompleted,
//		progress.WithItemCount(42))
//
//	pending, _ := store.Pending(ctx, id) // [ceyewan/harvest]
package progress

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/ceyewan/harvest/clog"
	"github.com/ceyewan/harvest/db"
	"github.com/ceyewan/harvest/xerrors"
)

// Store 进度存储
type Store struct {
	db     db.DB
	logger clog.Logger
	now    func() time.Time
}

// New 创建进度存储并迁移 operations、partition_progress 两张表
func New(ctx context.Context, database db.DB, opts ...Option) (*Store, error) {
	if database == nil {
		return nil, xerrors.Wrap(xerrors.ErrInvalidInput, "progress: db is nil")
	}
	opt := options{logger: clog.Discard(), now: time.Now}
	for _, o := range opts {
		o(&opt)
	}

	if err := database.AutoMigrate(ctx, &Operation{}, &PartitionProgress{}); err != nil {
		return nil, xerrors.Wrap(err, "migrate progress tables")
	}
	return &Store{db: database, logger: opt.logger, now: opt.now}, nil
}

func (s *Store) timestamp() time.Time {
	return s.now().UTC()
}

// ========================================
// 操作 (Operations)
// ========================================

// CreateOperation 创建 pending 状态的操作，返回新的操作 ID
func (s *Store) CreateOperation(ctx context.Context, in NewOperation) (string, error) {
	if in.Since == "" || in.Until == "" {
		return "", xerrors.Wrap(ErrInvalidOperation, "since and until are required")
	}
	if in.Kind == "" {
		in.Kind = "fetch"
	}

	op := Operation{
		ID:        uuid.NewString(),
		Kind:      in.Kind,
		Subject:   in.Subject,
		Since:     in.Since,
		Until:     in.Until,
		Filter:    in.Filter,
		Metadata:  in.Metadata,
		Status:    StatusPending,
		CreatedAt: s.timestamp(),
	}
	err := s.db.Transaction(ctx, func(ctx context.Context, tx *gorm.DB) error {
		return tx.Create(&op).Error
	})
	if err != nil {
		return "", xerrors.Wrap(err, "create operation")
	}

	s.logger.Info("operation created",
		clog.String("operation_id", op.ID),
		clog.String("kind", op.Kind),
		clog.String("subject", op.Subject),
		clog.String("since", op.Since),
		clog.String("until", op.Until))
	return op.ID, nil
}

// UpdateOperationStatus 更新操作状态
//
// 首次进入 in_progress 时记录 started_at，进入 completed/failed 时记录 completed_at。
// 进入 completed 且未指定错误时清空之前的错误信息。
func (s *Store) UpdateOperationStatus(ctx context.Context, id string, status Status, updates ...Update) error {
	if !status.validOperation() {
		return xerrors.Wrapf(ErrInvalidStatus, "operation status %q", status)
	}
	u := applyUpdates(updates)

	err := s.db.Transaction(ctx, func(ctx context.Context, tx *gorm.DB) error {
		var op Operation
		if err := takeOperation(tx, id, &op); err != nil {
			return err
		}

		now := s.timestamp()
		fields := map[string]any{"status": status}
		switch {
		case status == StatusInProgress && op.StartedAt == nil:
			fields["started_at"] = now
		case status.Terminal():
			fields["completed_at"] = now
		}
		if u.errMsg != nil {
			fields["error"] = *u.errMsg
		} else if status == StatusCompleted {
			fields["error"] = ""
		}
		if u.totalPartitions != nil {
			fields["total_partitions"] = *u.totalPartitions
		}
		if u.totalItems != nil {
			fields["total_items"] = *u.totalItems
		}
		return tx.Model(&Operation{}).Where("id = ?", id).Updates(fields).Error
	})
	if err != nil {
		return xerrors.Wrapf(err, "update operation %s", id)
	}

	s.logger.Debug("operation status updated",
		clog.String("operation_id", id),
		clog.String("status", string(status)))
	return nil
}

// GetOperation 读取操作
func (s *Store) GetOperation(ctx context.Context, id string) (*Operation, error) {
	var op Operation
	if err := takeOperation(s.db.DB(ctx), id, &op); err != nil {
		return nil, err
	}
	return &op, nil
}

// ListRecent 按创建时间倒序列出最近的操作，subject 为空时不过滤
func (s *Store) ListRecent(ctx context.Context, limit int, subject string) ([]Operation, error) {
	if limit <= 0 {
		limit = 10
	}
	q := s.db.DB(ctx).Model(&Operation{})
	if subject != "" {
		q = q.Where("subject = ?", subject)
	}
	var ops []Operation
	if err := q.Order("created_at DESC").Order("id").Limit(limit).Find(&ops).Error; err != nil {
		return nil, xerrors.Wrap(err, "list operations")
	}
	return ops, nil
}

// CleanupOlderThan 删除创建时间早于 days 天前的终态操作及其分区记录，返回删除的操作数
func (s *Store) CleanupOlderThan(ctx context.Context, days int) (int64, error) {
	if days < 0 {
		return 0, xerrors.Wrapf(xerrors.ErrInvalidInput, "days must be >= 0, got %d", days)
	}
	cutoff := s.timestamp().Add(-time.Duration(days) * 24 * time.Hour)

	var deleted int64
	err := s.db.Transaction(ctx, func(ctx context.Context, tx *gorm.DB) error {
		var ids []string
		err := tx.Model(&Operation{}).
			Where("status IN ? AND created_at < ?", []Status{StatusCompleted, StatusFailed}, cutoff).
			Order("created_at").
			Pluck("id", &ids).Error
		if err != nil {
			return err
		}
		if len(ids) == 0 {
			return nil
		}

		if err := tx.Where("operation_id IN ?", ids).Delete(&PartitionProgress{}).Error; err != nil {
			return err
		}
		res := tx.Where("id IN ?", ids).Delete(&Operation{})
		deleted = res.RowsAffected
		return res.Error
	})
	if err != nil {
		return 0, xerrors.Wrap(err, "cleanup operations")
	}

	s.logger.Info("old operations cleaned up", clog.Int64("deleted", deleted), clog.Int("days", days))
	return deleted, nil
}

// ========================================
// 分区进度 (Partition Progress)
// ========================================

// AddPartitions 为操作登记分区，新分区为 pending
//
// 已存在的分区保持原状，total_partitions 更新为登记后的分区总数。
func (s *Store) AddPartitions(ctx context.Context, operationID string, names []string) error {
	rows := make([]PartitionProgress, 0, len(names))
	seen := make(map[string]struct{}, len(names))
	for _, name := range names {
		if name == "" {
			continue
		}
		if _, ok := seen[name]; ok {
			continue
		}
		seen[name] = struct{}{}
		rows = append(rows, PartitionProgress{
			OperationID:   operationID,
			PartitionName: name,
			Status:        StatusPending,
		})
	}

	err := s.db.Transaction(ctx, func(ctx context.Context, tx *gorm.DB) error {
		var op Operation
		if err := takeOperation(tx, operationID, &op); err != nil {
			return err
		}
		if len(rows) > 0 {
			err := tx.Clauses(clause.OnConflict{
				Columns:   []clause.Column{{Name: "operation_id"}, {Name: "partition_name"}},
				DoNothing: true,
			}).CreateInBatches(rows, 100).Error
			if err != nil {
				return err
			}
		}

		var total int64
		if err := tx.Model(&PartitionProgress{}).Where("operation_id = ?", operationID).Count(&total).Error; err != nil {
			return err
		}
		return tx.Model(&Operation{}).Where("id = ?", operationID).Update("total_partitions", total).Error
	})
	if err != nil {
		return xerrors.Wrapf(err, "add partitions to %s", operationID)
	}

	s.logger.Info("partitions added",
		clog.String("operation_id", operationID),
		clog.Int("count", len(rows)))
	return nil
}

// UpdatePartition 更新分区状态
//
//   - 从其他状态进入 failed 时 retry_count 加 1
//   - completed_partitions 按 completed + skipped 的分区数重算
//   - 指定 item_count 时 total_items 按分区求和重算
func (s *Store) UpdatePartition(ctx context.Context, operationID, name string, status Status, updates ...Update) error {
	if !status.validPartition() {
		return xerrors.Wrapf(ErrInvalidStatus, "partition status %q", status)
	}
	u := applyUpdates(updates)

	err := s.db.Transaction(ctx, func(ctx context.Context, tx *gorm.DB) error {
		var row PartitionProgress
		err := tx.Where("operation_id = ? AND partition_name = ?", operationID, name).Take(&row).Error
		if xerrors.Is(err, gorm.ErrRecordNotFound) {
			return xerrors.Wrapf(ErrPartitionNotFound, "%s/%s", operationID, name)
		}
		if err != nil {
			return err
		}

		now := s.timestamp()
		fields := map[string]any{"status": status}
		switch {
		case status == StatusInProgress:
			fields["started_at"] = now
			fields["completed_at"] = nil
		case status.Terminal():
			fields["completed_at"] = now
		}
		if status == StatusFailed && row.Status != StatusFailed {
			fields["retry_count"] = gorm.Expr("retry_count + 1")
		}
		if u.errMsg != nil {
			fields["error"] = *u.errMsg
		} else if status == StatusCompleted || status == StatusSkipped {
			fields["error"] = ""
		}
		if u.itemCount != nil {
			fields["item_count"] = *u.itemCount
		}
		if u.chunkCount != nil {
			fields["chunk_count"] = *u.chunkCount
		}
		if u.completedChunks != nil {
			fields["completed_chunks"] = *u.completedChunks
		}
		if err := tx.Model(&PartitionProgress{}).Where("id = ?", row.ID).Updates(fields).Error; err != nil {
			return err
		}

		return s.recompute(tx, operationID, u.itemCount != nil)
	})
	if err != nil {
		return xerrors.Wrapf(err, "update partition %s", name)
	}

	s.logger.Debug("partition progress updated",
		clog.String("operation_id", operationID),
		clog.String("partition", name),
		clog.String("status", string(status)))
	return nil
}

// recompute 重算操作上的派生计数
func (s *Store) recompute(tx *gorm.DB, operationID string, items bool) error {
	var done int64
	err := tx.Model(&PartitionProgress{}).
		Where("operation_id = ? AND status IN ?", operationID, []Status{StatusCompleted, StatusSkipped}).
		Count(&done).Error
	if err != nil {
		return err
	}
	fields := map[string]any{"completed_partitions": done}

	if items {
		var total int64
		err := tx.Model(&PartitionProgress{}).
			Where("operation_id = ?", operationID).
			Select("COALESCE(SUM(item_count), 0)").
			Scan(&total).Error
		if err != nil {
			return err
		}
		fields["total_items"] = total
	}
	return tx.Model(&Operation{}).Where("id = ?", operationID).Updates(fields).Error
}

// Pending 返回尚未完成的分区（pending、in_progress、failed），按名称排序
//
// 这正是恢复执行时需要重新处理的集合。
func (s *Store) Pending(ctx context.Context, operationID string) ([]string, error) {
	var names []string
	err := s.db.DB(ctx).Model(&PartitionProgress{}).
		Where("operation_id = ? AND status IN ?", operationID,
			[]Status{StatusPending, StatusInProgress, StatusFailed}).
		Order("partition_name").
		Pluck("partition_name", &names).Error
	if err != nil {
		return nil, xerrors.Wrapf(err, "pending partitions of %s", operationID)
	}
	return names, nil
}

// Partitions 返回操作下的全部分区记录，按名称排序
func (s *Store) Partitions(ctx context.Context, operationID string) ([]PartitionProgress, error) {
	var rows []PartitionProgress
	err := s.db.DB(ctx).Where("operation_id = ?", operationID).Order("partition_name").Find(&rows).Error
	if err != nil {
		return nil, xerrors.Wrapf(err, "partitions of %s", operationID)
	}
	return rows, nil
}

// Summary 返回操作及其各状态分区数
func (s *Store) Summary(ctx context.Context, operationID string) (*Summary, error) {
	op, err := s.GetOperation(ctx, operationID)
	if err != nil {
		return nil, err
	}

	var rows []struct {
		Status Status
		Count  int
	}
	err = s.db.DB(ctx).Model(&PartitionProgress{}).
		Select("status, COUNT(*) AS count").
		Where("operation_id = ?", operationID).
		Group("status").
		Scan(&rows).Error
	if err != nil {
		return nil, xerrors.Wrapf(err, "summarize %s", operationID)
	}

	sum := &Summary{Operation: *op, Counts: make(map[Status]int, len(rows))}
	for _, r := range rows {
		sum.Counts[r.Status] = r.Count
	}
	if op.TotalPartitions > 0 {
		sum.Percent = float64(op.CompletedPartitions) / float64(op.TotalPartitions) * 100
	}
	return sum, nil
}

func takeOperation(tx *gorm.DB, id string, op *Operation) error {
	err := tx.Where("id = ?", id).Take(op).Error
	if xerrors.Is(err, gorm.ErrRecordNotFound) {
		return xerrors.Wrapf(ErrOperationNotFound, "id %s", id)
	}
	return err
}

package storage

import (
	"context"
	"errors"
	"fmt"

	"savingsvault/internal/model"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// MySQLBackend 基于 gorm 的持久化后端：键值写入和 outbox 消息在同一个数据库事务内提交
type MySQLBackend struct {
	db *gorm.DB
}

func NewMySQLBackend(db *gorm.DB) *MySQLBackend {
	return &MySQLBackend{db: db}
}

func (b *MySQLBackend) Get(ctx context.Context, key string) ([]byte, error) {
	var entry model.KVEntry
	err := b.db.WithContext(ctx).Where("kv_key = ?", key).Take(&entry).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return entry.Value, nil
}

func (b *MySQLBackend) Commit(ctx context.Context, batch *Batch) error {
	return b.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, w := range batch.Writes {
			entry := &model.KVEntry{Key: w.Key, Value: w.Value}
			err := tx.Clauses(clause.OnConflict{
				Columns:   []clause.Column{{Name: "kv_key"}},
				DoUpdates: clause.AssignmentColumns([]string{"kv_value", "updated_at"}),
			}).Create(entry).Error
			if err != nil {
				return fmt.Errorf("写入键 %s 失败: %w", w.Key, err)
			}
		}

		for _, msg := range batch.Messages {
			if err := tx.Create(msg).Error; err != nil {
				return fmt.Errorf("写入消息失败: %w", err)
			}
		}
		return nil
	})
}

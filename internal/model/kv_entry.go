package model

import (
	"time"
)

// KVEntry 持久化层的键值表，一行对应一个命名空间键
type KVEntry struct {
	Key       string    `gorm:"column:kv_key;type:varchar(255);primaryKey" json:"key"`
	Value     []byte    `gorm:"column:kv_value;type:blob;not null" json:"value"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

func (KVEntry) TableName() string {
	return "kv_entry"
}

// Package model 定义了与数据库表对应的 Go 结构体。
package model

import (
	"time"

	"gorm.io/gorm"
)

// 集合状态枚举。
const (
	CollectionStatusActive   = "active"
	CollectionStatusInactive = "inactive"
	CollectionStatusArchived = "archived"
)

// Collection 定义了 collections 表的 ORM 模型。
// 一个集合是文档的命名空间，名称在未删除的集合中唯一。
type Collection struct {
	ID          string         `gorm:"type:varchar(36);primaryKey" json:"id"`
	Name        string         `gorm:"type:varchar(128);not null;index" json:"name"`
	Description string         `gorm:"type:varchar(512)" json:"description"`
	Status      string         `gorm:"type:varchar(16);not null;default:'active'" json:"status"`
	DocCount    int64          `gorm:"not null;default:0" json:"docCount"`
	ChunkCount  int64          `gorm:"not null;default:0" json:"chunkCount"`
	LastSyncAt  *time.Time     `gorm:"default:null" json:"lastSyncAt"`
	CreatedAt   time.Time      `gorm:"autoCreateTime" json:"createdAt"`
	UpdatedAt   time.Time      `gorm:"autoUpdateTime" json:"updatedAt"`
	DeletedAt   gorm.DeletedAt `gorm:"index" json:"-"`
}

// TableName 指定了此模型在数据库中对应的表名。
func (Collection) TableName() string {
	return "collections"
}

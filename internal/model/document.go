package model

import (
	"time"

	"gorm.io/plugin/soft_delete"
)

// 文档状态枚举。
const (
	DocStatusNew        = "new"
	DocStatusProcessing = "processing"
	DocStatusCompleted  = "completed"
	DocStatusFailed     = "failed"
)

// Document 定义了 documents 表的 ORM 模型。
// (collection_id, doc_key) 在未删除的文档中唯一，由数据库唯一索引保证：
// deleted_at 使用毫秒时间戳软删除，未删除的行取值 0 参与唯一性约束，
// 并发导入同一 key 时只有一条能写入。
// 原始内容存放在对象存储中，此表只保留 object_key 与内容哈希。
type Document struct {
	ID           string                `gorm:"type:varchar(36);primaryKey" json:"id"`
	CollectionID string                `gorm:"type:varchar(36);not null;uniqueIndex:idx_doc_coll_key,priority:1" json:"collectionId"`
	DocKey       string                `gorm:"type:varchar(255);not null;uniqueIndex:idx_doc_coll_key,priority:2" json:"docKey"`
	Name         string                `gorm:"type:varchar(255)" json:"name"`
	MimeType     string                `gorm:"type:varchar(128)" json:"mimeType"`
	ContentHash  string                `gorm:"type:varchar(64);not null" json:"contentHash"`
	ObjectKey    string                `gorm:"type:varchar(255);not null" json:"-"`
	Size         int64                 `gorm:"not null;default:0" json:"size"`
	Status       string                `gorm:"type:varchar(16);not null;default:'new'" json:"status"`
	ChunkCount   int                   `gorm:"not null;default:0" json:"chunkCount"`
	CreatedAt    time.Time             `gorm:"autoCreateTime" json:"createdAt"`
	UpdatedAt    time.Time             `gorm:"autoUpdateTime" json:"updatedAt"`
	DeletedAt    soft_delete.DeletedAt `gorm:"softDelete:milli;uniqueIndex:idx_doc_coll_key,priority:3" json:"-"`
}

// TableName 指定了此模型在数据库中对应的表名。
func (Document) TableName() string {
	return "documents"
}

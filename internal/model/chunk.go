package model

import "time"

// 分块的向量化/同步状态枚举，两个状态相互独立。
const (
	ChunkStatusPending    = "pending"
	ChunkStatusProcessing = "processing"
	ChunkStatusCompleted  = "completed"
	ChunkStatusFailed     = "failed"
)

// Chunk 定义了 chunks 表的 ORM 模型。
// point_id 由 doc_id 与 chunk_index 确定性派生，全局唯一；
// chunk_index 在同一文档内从 0 递增，是端到端的排序键。
// 冗余 collection_id 外键使按集合过滤时无需再经 documents 表连接。
type Chunk struct {
	ID           uint      `gorm:"primaryKey;autoIncrement" json:"id"`
	PointID      string    `gorm:"type:varchar(64);not null;uniqueIndex" json:"pointId"`
	DocID        string    `gorm:"type:varchar(36);not null;index:idx_chunk_doc_idx" json:"docId"`
	CollectionID string    `gorm:"type:varchar(36);not null;index" json:"collectionId"`
	ChunkIndex   int       `gorm:"not null;index:idx_chunk_doc_idx" json:"chunkIndex"`
	Title        string    `gorm:"type:varchar(512)" json:"title"`
	Content      string    `gorm:"type:text;not null" json:"content"`
	ContentHash  string    `gorm:"type:varchar(64)" json:"contentHash"`
	EmbedStatus  string    `gorm:"type:varchar(16);not null;default:'pending'" json:"embedStatus"`
	SyncStatus   string    `gorm:"type:varchar(16);not null;default:'pending'" json:"syncStatus"`
	CreatedAt    time.Time `gorm:"autoCreateTime" json:"createdAt"`
	UpdatedAt    time.Time `gorm:"autoUpdateTime" json:"updatedAt"`
}

// TableName 指定了此模型在数据库中对应的表名。
func (Chunk) TableName() string {
	return "chunks"
}

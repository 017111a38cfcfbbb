package repository

import (
	"docvec-go/internal/model"

	"gorm.io/gorm"
)

// ChunkRepository 定义了对 chunks 表的数据操作接口。
type ChunkRepository interface {
	BatchCreate(chunks []*model.Chunk) error
	// FindByDocID 返回文档的全部分块，按 chunk_index 升序。
	FindByDocID(docID string) ([]*model.Chunk, error)
	DeleteByDocID(docID string) error
	UpdateEmbedStatusByDoc(docID, status string) error
	UpdateSyncStatusByDoc(docID, status string) error
	CountByDocID(docID string) (int64, error)
}

type chunkRepository struct {
	db *gorm.DB
}

// NewChunkRepository 创建一个新的 ChunkRepository 实例。
func NewChunkRepository(db *gorm.DB) ChunkRepository {
	return &chunkRepository{db: db}
}

// BatchCreate 批量创建分块记录。
func (r *chunkRepository) BatchCreate(chunks []*model.Chunk) error {
	if len(chunks) == 0 {
		return nil
	}
	return r.db.CreateInBatches(chunks, 100).Error // 每100条记录一批
}

// FindByDocID 返回文档的全部分块，按 chunk_index 升序。
func (r *chunkRepository) FindByDocID(docID string) ([]*model.Chunk, error) {
	var chunks []*model.Chunk
	err := r.db.Where("doc_id = ?", docID).Order("chunk_index asc").Find(&chunks).Error
	return chunks, err
}

// DeleteByDocID 删除文档的全部分块记录。
func (r *chunkRepository) DeleteByDocID(docID string) error {
	return r.db.Where("doc_id = ?", docID).Delete(&model.Chunk{}).Error
}

// UpdateEmbedStatusByDoc 更新文档全部分块的向量化状态。
func (r *chunkRepository) UpdateEmbedStatusByDoc(docID, status string) error {
	return r.db.Model(&model.Chunk{}).Where("doc_id = ?", docID).
		Update("embed_status", status).Error
}

// UpdateSyncStatusByDoc 更新文档全部分块的同步状态。
func (r *chunkRepository) UpdateSyncStatusByDoc(docID, status string) error {
	return r.db.Model(&model.Chunk{}).Where("doc_id = ?", docID).
		Update("sync_status", status).Error
}

// CountByDocID 统计文档的分块数。
func (r *chunkRepository) CountByDocID(docID string) (int64, error) {
	var count int64
	err := r.db.Model(&model.Chunk{}).Where("doc_id = ?", docID).Count(&count).Error
	return count, err
}

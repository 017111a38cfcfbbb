package repository

import (
	"docvec-go/internal/model"

	"gorm.io/gorm"
)

// DocumentRepository 定义了对 documents 表的数据操作接口。
type DocumentRepository interface {
	Create(doc *model.Document) error
	GetByID(id string) (*model.Document, error)
	// GetByKey 按 (collectionID, docKey) 查找未删除的文档。
	GetByKey(collectionID, docKey string) (*model.Document, error)
	ListByCollection(collectionID string) ([]model.Document, error)
	Update(doc *model.Document) error
	UpdateStatus(id, status string) error
	UpdateChunkCount(id string, count int) error
}

type documentRepository struct {
	db *gorm.DB
}

// NewDocumentRepository 创建一个新的 DocumentRepository 实例。
func NewDocumentRepository(db *gorm.DB) DocumentRepository {
	return &documentRepository{db: db}
}

// Create 创建一条文档记录。
func (r *documentRepository) Create(doc *model.Document) error {
	return r.db.Create(doc).Error
}

// GetByID 根据 ID 查找文档（软删除的记录不可见）。
func (r *documentRepository) GetByID(id string) (*model.Document, error) {
	var doc model.Document
	if err := r.db.Where("id = ?", id).First(&doc).Error; err != nil {
		return nil, err
	}
	return &doc, nil
}

// GetByKey 按 (collectionID, docKey) 查找未删除的文档。
func (r *documentRepository) GetByKey(collectionID, docKey string) (*model.Document, error) {
	var doc model.Document
	err := r.db.Where("collection_id = ? AND doc_key = ?", collectionID, docKey).First(&doc).Error
	if err != nil {
		return nil, err
	}
	return &doc, nil
}

// ListByCollection 列出集合内全部未删除的文档。
func (r *documentRepository) ListByCollection(collectionID string) ([]model.Document, error) {
	var docs []model.Document
	err := r.db.Where("collection_id = ?", collectionID).Order("created_at asc").Find(&docs).Error
	return docs, err
}

// Update 保存文档记录。
func (r *documentRepository) Update(doc *model.Document) error {
	return r.db.Save(doc).Error
}

// UpdateStatus 更新指定文档的处理状态。
func (r *documentRepository) UpdateStatus(id, status string) error {
	return r.db.Model(&model.Document{}).Where("id = ?", id).Update("status", status).Error
}

// UpdateChunkCount 更新指定文档的分块数。
func (r *documentRepository) UpdateChunkCount(id string, count int) error {
	return r.db.Model(&model.Document{}).Where("id = ?", id).Update("chunk_count", count).Error
}

// Package repository 定义了与数据库进行数据交换的接口和实现。
package repository

import (
	"time"

	"docvec-go/internal/model"

	"gorm.io/gorm"
)

// CollectionRepository 定义了对 collections 表的数据操作接口。
type CollectionRepository interface {
	Create(collection *model.Collection) error
	GetByID(id string) (*model.Collection, error)
	GetByName(name string) (*model.Collection, error)
	List() ([]model.Collection, error)
	Update(collection *model.Collection) error
	// AddCounts 原子地累加文档数与分块数（可为负）。
	AddCounts(id string, docDelta, chunkDelta int64) error
	TouchLastSync(id string) error
}

type collectionRepository struct {
	db *gorm.DB
}

// NewCollectionRepository 创建一个新的 CollectionRepository 实例。
func NewCollectionRepository(db *gorm.DB) CollectionRepository {
	return &collectionRepository{db: db}
}

// Create 创建一条集合记录。
func (r *collectionRepository) Create(collection *model.Collection) error {
	return r.db.Create(collection).Error
}

// GetByID 根据 ID 查找集合（软删除的记录不可见）。
func (r *collectionRepository) GetByID(id string) (*model.Collection, error) {
	var collection model.Collection
	if err := r.db.Where("id = ?", id).First(&collection).Error; err != nil {
		return nil, err
	}
	return &collection, nil
}

// GetByName 根据名称查找集合（软删除的记录不可见）。
func (r *collectionRepository) GetByName(name string) (*model.Collection, error) {
	var collection model.Collection
	if err := r.db.Where("name = ?", name).First(&collection).Error; err != nil {
		return nil, err
	}
	return &collection, nil
}

// List 列出全部未删除的集合。
func (r *collectionRepository) List() ([]model.Collection, error) {
	var collections []model.Collection
	err := r.db.Order("created_at asc").Find(&collections).Error
	return collections, err
}

// Update 保存集合记录。
func (r *collectionRepository) Update(collection *model.Collection) error {
	return r.db.Save(collection).Error
}

// AddCounts 原子地累加文档数与分块数。
func (r *collectionRepository) AddCounts(id string, docDelta, chunkDelta int64) error {
	return r.db.Model(&model.Collection{}).Where("id = ?", id).
		Updates(map[string]interface{}{
			"doc_count":   gorm.Expr("doc_count + ?", docDelta),
			"chunk_count": gorm.Expr("chunk_count + ?", chunkDelta),
		}).Error
}

// TouchLastSync 更新集合的最近同步时间。
func (r *collectionRepository) TouchLastSync(id string) error {
	now := time.Now()
	return r.db.Model(&model.Collection{}).Where("id = ?", id).
		Update("last_sync_at", &now).Error
}

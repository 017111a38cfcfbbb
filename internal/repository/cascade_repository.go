package repository

import (
	"docvec-go/internal/model"

	"gorm.io/gorm"
)

// CascadeRepository 在单个关系型事务内执行跨表级联删除。
// 事务协调器通过它保证元数据删除的原子性：任意一步失败整体回滚。
type CascadeRepository interface {
	// DeleteCollectionCascade 删除集合的全部分块、文档、同步任务以及集合行本身。
	// 返回删除的文档数与分块数。
	DeleteCollectionCascade(collectionID string) (docs int64, chunks int64, err error)
	// DeleteDocumentCascade 删除文档的全部分块、同步任务以及文档行本身。
	// 返回删除的分块数。
	DeleteDocumentCascade(docID string) (chunks int64, err error)
}

type cascadeRepository struct {
	db *gorm.DB
}

// NewCascadeRepository 创建一个新的 CascadeRepository 实例。
func NewCascadeRepository(db *gorm.DB) CascadeRepository {
	return &cascadeRepository{db: db}
}

// DeleteCollectionCascade 在一个事务内删除集合及其所有下属记录。
func (r *cascadeRepository) DeleteCollectionCascade(collectionID string) (int64, int64, error) {
	var docs, chunks int64
	err := r.db.Transaction(func(tx *gorm.DB) error {
		// 分块（含正文）先删
		res := tx.Where("collection_id = ?", collectionID).Delete(&model.Chunk{})
		if res.Error != nil {
			return res.Error
		}
		chunks = res.RowsAffected

		// 文档的同步任务
		var docIDs []string
		if err := tx.Model(&model.Document{}).Unscoped().
			Where("collection_id = ?", collectionID).
			Pluck("id", &docIDs).Error; err != nil {
			return err
		}
		if len(docIDs) > 0 {
			if err := tx.Where("doc_id IN ?", docIDs).Delete(&model.SyncJob{}).Error; err != nil {
				return err
			}
		}

		// 文档行（物理删除）
		res = tx.Unscoped().Where("collection_id = ?", collectionID).Delete(&model.Document{})
		if res.Error != nil {
			return res.Error
		}
		docs = res.RowsAffected

		// 最后删除集合行本身（物理删除）
		return tx.Unscoped().Where("id = ?", collectionID).Delete(&model.Collection{}).Error
	})
	if err != nil {
		return 0, 0, err
	}
	return docs, chunks, nil
}

// DeleteDocumentCascade 在一个事务内删除文档及其所有下属记录。
func (r *cascadeRepository) DeleteDocumentCascade(docID string) (int64, error) {
	var chunks int64
	err := r.db.Transaction(func(tx *gorm.DB) error {
		res := tx.Where("doc_id = ?", docID).Delete(&model.Chunk{})
		if res.Error != nil {
			return res.Error
		}
		chunks = res.RowsAffected

		if err := tx.Where("doc_id = ?", docID).Delete(&model.SyncJob{}).Error; err != nil {
			return err
		}

		return tx.Unscoped().Where("id = ?", docID).Delete(&model.Document{}).Error
	})
	if err != nil {
		return 0, err
	}
	return chunks, nil
}

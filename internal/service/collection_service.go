// Package service 包含了应用的业务逻辑层。
package service

import (
	"context"
	"errors"

	"docvec-go/internal/apperr"
	"docvec-go/internal/model"
	"docvec-go/internal/repository"
	"docvec-go/internal/txn"
	"docvec-go/pkg/log"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// CollectionService 接口定义了集合管理相关的业务操作。
type CollectionService interface {
	Create(name string) (*model.Collection, error)
	Get(id string) (*model.Collection, error)
	List() ([]model.Collection, error)
	UpdateStatus(id, status string) (*model.Collection, error)
	// Delete 通过事务协调器级联删除集合及其全部文档、分块与向量点。
	Delete(ctx context.Context, id string) (*txn.DeleteResult, error)
}

type collectionService struct {
	collectionRepo repository.CollectionRepository
	docRepo        repository.DocumentRepository
	coordinator    *txn.Coordinator
}

// NewCollectionService 创建一个新的 CollectionService 实例。
func NewCollectionService(collectionRepo repository.CollectionRepository, docRepo repository.DocumentRepository, coordinator *txn.Coordinator) CollectionService {
	return &collectionService{
		collectionRepo: collectionRepo,
		docRepo:        docRepo,
		coordinator:    coordinator,
	}
}

// Create 创建一个新集合，集合名称在未删除的集合中唯一。
func (s *collectionService) Create(name string) (*model.Collection, error) {
	if name == "" {
		return nil, apperr.Validation("集合名称不能为空")
	}
	if _, err := s.collectionRepo.GetByName(name); err == nil {
		return nil, apperr.Validation("集合名称已存在: %s", name)
	} else if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}

	collection := &model.Collection{
		ID:     uuid.NewString(),
		Name:   name,
		Status: model.CollectionStatusActive,
	}
	if err := s.collectionRepo.Create(collection); err != nil {
		return nil, err
	}
	log.Infof("[CollectionService] 集合创建成功, ID: %s, Name: %s", collection.ID, name)
	return collection, nil
}

// Get 查找一个集合。
func (s *collectionService) Get(id string) (*model.Collection, error) {
	collection, err := s.collectionRepo.GetByID(id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperr.Validation("集合不存在: %s", id)
		}
		return nil, err
	}
	return collection, nil
}

// List 列出全部集合。
func (s *collectionService) List() ([]model.Collection, error) {
	return s.collectionRepo.List()
}

// UpdateStatus 更新集合状态。
func (s *collectionService) UpdateStatus(id, status string) (*model.Collection, error) {
	switch status {
	case model.CollectionStatusActive, model.CollectionStatusInactive, model.CollectionStatusArchived:
	default:
		return nil, apperr.Validation("非法的集合状态: %s", status)
	}

	collection, err := s.Get(id)
	if err != nil {
		return nil, err
	}
	collection.Status = status
	if err := s.collectionRepo.Update(collection); err != nil {
		return nil, err
	}
	return collection, nil
}

// Delete 级联删除集合。元数据删除是原子的，向量侧由协调器尽力清理。
func (s *collectionService) Delete(ctx context.Context, id string) (*txn.DeleteResult, error) {
	if _, err := s.Get(id); err != nil {
		return nil, err
	}
	result, err := s.coordinator.DeleteCollectionInTransaction(ctx, id)
	if err != nil {
		return nil, err
	}
	log.Infof("[CollectionService] 集合删除完成, ID: %s, 文档数: %d, 分块数: %d, 向量清理: %v",
		id, result.Docs, result.Chunks, result.VectorCleaned)
	return result, nil
}

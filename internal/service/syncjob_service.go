package service

import (
	"errors"

	"docvec-go/internal/apperr"
	"docvec-go/internal/model"
	"docvec-go/internal/repository"

	"gorm.io/gorm"
)

// SyncJobService 接口定义了同步任务的查询操作。
type SyncJobService interface {
	Get(id string) (*model.SyncJob, error)
	// GetLatestByDoc 返回文档最新的一条任务记录。
	GetLatestByDoc(docID string) (*model.SyncJob, error)
	List(status string, page, pageSize int) ([]model.SyncJob, int64, error)
	Stats() (*model.SyncJobStatsDTO, error)
}

type syncJobService struct {
	jobRepo repository.SyncJobRepository
}

// NewSyncJobService 创建一个新的 SyncJobService 实例。
func NewSyncJobService(jobRepo repository.SyncJobRepository) SyncJobService {
	return &syncJobService{jobRepo: jobRepo}
}

// Get 查找一个任务。
func (s *syncJobService) Get(id string) (*model.SyncJob, error) {
	job, err := s.jobRepo.GetByID(id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperr.Validation("任务不存在: %s", id)
		}
		return nil, err
	}
	return job, nil
}

// GetLatestByDoc 返回文档最新的一条任务记录。
func (s *syncJobService) GetLatestByDoc(docID string) (*model.SyncJob, error) {
	job, err := s.jobRepo.GetLatestByDocID(docID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperr.Validation("文档没有任务记录: %s", docID)
		}
		return nil, err
	}
	return job, nil
}

// List 按状态分页列出任务。
func (s *syncJobService) List(status string, page, pageSize int) ([]model.SyncJob, int64, error) {
	return s.jobRepo.ListByStatus(status, page, pageSize)
}

// Stats 返回任务的聚合统计。
func (s *syncJobService) Stats() (*model.SyncJobStatsDTO, error) {
	return s.jobRepo.Stats()
}

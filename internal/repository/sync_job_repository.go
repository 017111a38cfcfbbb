package repository

import (
	"docvec-go/internal/model"

	"gorm.io/gorm"
)

// SyncJobRepository 定义了对 sync_jobs 表的数据操作接口。
type SyncJobRepository interface {
	Create(job *model.SyncJob) error
	GetByID(id string) (*model.SyncJob, error)
	// GetLatestByDocID 返回文档最新的一条任务记录（权威状态）。
	GetLatestByDocID(docID string) (*model.SyncJob, error)
	Update(job *model.SyncJob) error
	// ListByStatus 按状态分页列出任务。status 为空时列出全部。
	ListByStatus(status string, page, pageSize int) ([]model.SyncJob, int64, error)
	// Stats 返回聚合统计：各状态数量、完成任务的平均耗时（秒）、成功率。
	Stats() (*model.SyncJobStatsDTO, error)
}

type syncJobRepository struct {
	db *gorm.DB
}

// NewSyncJobRepository 创建一个新的 SyncJobRepository 实例。
func NewSyncJobRepository(db *gorm.DB) SyncJobRepository {
	return &syncJobRepository{db: db}
}

// Create 创建一条任务记录。
func (r *syncJobRepository) Create(job *model.SyncJob) error {
	return r.db.Create(job).Error
}

// GetByID 根据 ID 查找任务。
func (r *syncJobRepository) GetByID(id string) (*model.SyncJob, error) {
	var job model.SyncJob
	if err := r.db.Where("id = ?", id).First(&job).Error; err != nil {
		return nil, err
	}
	return &job, nil
}

// GetLatestByDocID 返回文档最新的一条任务记录。
// 历史任务保留用于审计，最新一条为权威状态。
func (r *syncJobRepository) GetLatestByDocID(docID string) (*model.SyncJob, error) {
	var job model.SyncJob
	err := r.db.Where("doc_id = ?", docID).Order("created_at desc").First(&job).Error
	if err != nil {
		return nil, err
	}
	return &job, nil
}

// Update 保存任务记录。
func (r *syncJobRepository) Update(job *model.SyncJob) error {
	return r.db.Save(job).Error
}

// ListByStatus 按状态分页列出任务。
func (r *syncJobRepository) ListByStatus(status string, page, pageSize int) ([]model.SyncJob, int64, error) {
	if page <= 0 {
		page = 1
	}
	if pageSize <= 0 || pageSize > 200 {
		pageSize = 20
	}

	query := r.db.Model(&model.SyncJob{})
	if status != "" {
		query = query.Where("status = ?", status)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	var jobs []model.SyncJob
	err := query.Order("created_at desc").
		Offset((page - 1) * pageSize).Limit(pageSize).
		Find(&jobs).Error
	return jobs, total, err
}

// Stats 返回任务的聚合统计。
func (r *syncJobRepository) Stats() (*model.SyncJobStatsDTO, error) {
	stats := &model.SyncJobStatsDTO{ByStatus: make(map[string]int64)}

	type statusCount struct {
		Status string
		Cnt    int64
	}
	var rows []statusCount
	if err := r.db.Model(&model.SyncJob{}).
		Select("status, count(*) as cnt").
		Group("status").
		Scan(&rows).Error; err != nil {
		return nil, err
	}
	for _, row := range rows {
		stats.ByStatus[row.Status] = row.Cnt
		stats.Total += row.Cnt
	}

	// 完成任务的平均耗时（秒）
	var avg *float64
	if err := r.db.Model(&model.SyncJob{}).
		Where("started_at IS NOT NULL AND completed_at IS NOT NULL").
		Select("AVG(TIMESTAMPDIFF(SECOND, started_at, completed_at))").
		Scan(&avg).Error; err != nil {
		return nil, err
	}
	if avg != nil {
		stats.AvgDurationSecs = *avg
	}

	if stats.Total > 0 {
		stats.SuccessRate = float64(stats.ByStatus["synced"]) / float64(stats.Total)
	}
	return stats, nil
}

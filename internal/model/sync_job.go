package model

import "time"

// SyncJob 定义了 sync_jobs 表的 ORM 模型。
// 一条记录跟踪一个文档从分块、向量化到写入向量索引的全过程。
// 同一文档可能存在多条历史任务记录用于审计，最新一条为权威状态。
type SyncJob struct {
	ID            string     `gorm:"type:varchar(36);primaryKey" json:"id"`
	DocID         string     `gorm:"type:varchar(36);not null;index" json:"docId"`
	Status        string     `gorm:"type:varchar(16);not null;index" json:"status"`
	Retries       int        `gorm:"not null;default:0" json:"retries"`
	LastError     string     `gorm:"type:varchar(1024)" json:"lastError"`
	ErrorCategory string     `gorm:"type:varchar(32)" json:"errorCategory"`
	Progress      float64    `gorm:"not null;default:0" json:"progress"`
	LastAttemptAt *time.Time `gorm:"default:null" json:"lastAttemptAt"`
	StartedAt     *time.Time `gorm:"default:null" json:"startedAt"`
	CompletedAt   *time.Time `gorm:"default:null" json:"completedAt"`
	CreatedAt     time.Time  `gorm:"autoCreateTime" json:"createdAt"`
	UpdatedAt     time.Time  `gorm:"autoUpdateTime" json:"updatedAt"`
}

// TableName 指定了此模型在数据库中对应的表名。
func (SyncJob) TableName() string {
	return "sync_jobs"
}

package service

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"docvec-go/internal/apperr"
	"docvec-go/internal/model"
	"docvec-go/internal/repository"
	"docvec-go/internal/syncjob"
	"docvec-go/internal/txn"
	"docvec-go/pkg/database"
	"docvec-go/pkg/kafka"
	"docvec-go/pkg/log"
	"docvec-go/pkg/storage"
	"docvec-go/pkg/tasks"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// ImportResultDTO 是导入接口的返回结果。
type ImportResultDTO struct {
	Doc *model.Document `json:"doc"`
	Job *model.SyncJob  `json:"job,omitempty"`
	// Deduplicated 为 true 表示内容与既有文档一致，未触发重新索引。
	Deduplicated bool `json:"deduplicated"`
}

// DocumentService 接口定义了文档管理相关的业务操作。
type DocumentService interface {
	// ImportAndIndex 导入文档内容并投递异步索引任务。
	// 同一 (collectionID, docKey) 且内容哈希一致时直接去重返回。
	ImportAndIndex(ctx context.Context, req model.ImportRequestDTO) (*ImportResultDTO, error)
	// Resync 对既有文档重新走一遍索引管道。并发重同步由 Redis 锁拒绝。
	Resync(ctx context.Context, docID string) (*model.SyncJob, error)
	Get(id string) (*model.Document, error)
	ListByCollection(collectionID string) ([]model.Document, error)
	// Delete 通过事务协调器级联删除文档及其分块与向量点。
	Delete(ctx context.Context, id string) (*txn.DeleteResult, error)
}

type documentService struct {
	collectionRepo repository.CollectionRepository
	docRepo        repository.DocumentRepository
	jobRepo        repository.SyncJobRepository
	objectStore    storage.ObjectStore
	coordinator    *txn.Coordinator
	resyncLockTTL  time.Duration
}

// NewDocumentService 创建一个新的 DocumentService 实例。
func NewDocumentService(
	collectionRepo repository.CollectionRepository,
	docRepo repository.DocumentRepository,
	jobRepo repository.SyncJobRepository,
	objectStore storage.ObjectStore,
	coordinator *txn.Coordinator,
	resyncLockTTL time.Duration,
) DocumentService {
	if resyncLockTTL <= 0 {
		resyncLockTTL = 5 * time.Minute
	}
	return &documentService{
		collectionRepo: collectionRepo,
		docRepo:        docRepo,
		jobRepo:        jobRepo,
		objectStore:    objectStore,
		coordinator:    coordinator,
		resyncLockTTL:  resyncLockTTL,
	}
}

// ImportAndIndex 导入文档并投递索引任务。
func (s *documentService) ImportAndIndex(ctx context.Context, req model.ImportRequestDTO) (*ImportResultDTO, error) {
	if req.CollectionID == "" || req.DocKey == "" {
		return nil, apperr.Validation("collectionId 与 docKey 不能为空")
	}
	if req.Content == "" {
		return nil, apperr.Validation("文档内容不能为空")
	}
	collection, err := s.collectionRepo.GetByID(req.CollectionID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperr.Validation("集合不存在: %s", req.CollectionID)
		}
		return nil, err
	}
	if collection.Status != model.CollectionStatusActive {
		return nil, apperr.Validation("集合状态为 %s, 不接受导入", collection.Status)
	}

	sum := sha256.Sum256([]byte(req.Content))
	contentHash := hex.EncodeToString(sum[:])

	existing, err := s.docRepo.GetByKey(req.CollectionID, req.DocKey)
	if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}
	if existing != nil && existing.ContentHash == contentHash {
		// 内容未变化，直接去重返回
		log.Infof("[DocumentService] 文档内容未变化, 去重返回, DocID: %s, Hash: %s", existing.ID, contentHash)
		return &ImportResultDTO{Doc: existing, Deduplicated: true}, nil
	}

	if existing != nil {
		// 同 key 内容变化：覆盖对象存储中的内容并重新索引
		if err := s.objectStore.Put(ctx, existing.ObjectKey, []byte(req.Content)); err != nil {
			return nil, apperr.Infrastructure(err, "写入文档内容失败, DocKey: %s", req.DocKey)
		}
		existing.ContentHash = contentHash
		existing.Size = int64(len(req.Content))
		existing.Status = model.DocStatusNew
		if req.Name != "" {
			existing.Name = req.Name
		}
		if req.MimeType != "" {
			existing.MimeType = req.MimeType
		}
		if err := s.docRepo.Update(existing); err != nil {
			return nil, err
		}
		job, err := s.enqueue(existing, true)
		if err != nil {
			return nil, err
		}
		log.Infof("[DocumentService] 文档内容更新, 已投递重索引任务, DocID: %s, JobID: %s", existing.ID, job.ID)
		return &ImportResultDTO{Doc: existing, Job: job}, nil
	}

	doc := &model.Document{
		ID:           uuid.NewString(),
		CollectionID: req.CollectionID,
		DocKey:       req.DocKey,
		Name:         req.Name,
		MimeType:     req.MimeType,
		ContentHash:  contentHash,
		ObjectKey:    fmt.Sprintf("docs/%s/%s", req.CollectionID, uuid.NewString()),
		Size:         int64(len(req.Content)),
		Status:       model.DocStatusNew,
	}
	if doc.Name == "" {
		doc.Name = req.DocKey
	}
	if err := s.objectStore.Put(ctx, doc.ObjectKey, []byte(req.Content)); err != nil {
		return nil, apperr.Infrastructure(err, "写入文档内容失败, DocKey: %s", req.DocKey)
	}
	if err := s.docRepo.Create(doc); err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			// 并发导入同一 (collectionId, docKey)，唯一索引拦下后到者
			return nil, apperr.Validation("文档已存在, 请重新导入以更新内容: %s/%s", req.CollectionID, req.DocKey)
		}
		return nil, err
	}
	if err := s.collectionRepo.AddCounts(doc.CollectionID, 1, 0); err != nil {
		log.Warnf("[DocumentService] 更新集合文档计数失败, CollectionID: %s, Error: %v", doc.CollectionID, err)
	}

	job, err := s.enqueue(doc, false)
	if err != nil {
		return nil, err
	}
	log.Infof("[DocumentService] 文档导入成功, 已投递索引任务, DocID: %s, JobID: %s", doc.ID, job.ID)
	return &ImportResultDTO{Doc: doc, Job: job}, nil
}

// Resync 对既有文档重新索引。
func (s *documentService) Resync(ctx context.Context, docID string) (*model.SyncJob, error) {
	doc, err := s.Get(docID)
	if err != nil {
		return nil, err
	}

	// Redis 锁防止同一文档并发重同步。
	// 锁由消费者在任务到达终态时释放，TTL 只兜底消费者异常的情况。
	lockKey := tasks.ResyncLockKey(docID)
	ok, err := database.RDB.SetNX(ctx, lockKey, 1, s.resyncLockTTL).Result()
	if err != nil {
		return nil, apperr.Infrastructure(err, "获取重同步锁失败, DocID: %s", docID)
	}
	if !ok {
		return nil, apperr.Validation("文档正在重同步中, 请稍后再试: %s", docID)
	}

	if err := s.docRepo.UpdateStatus(doc.ID, model.DocStatusNew); err != nil {
		return nil, err
	}
	job, err := s.enqueue(doc, true)
	if err != nil {
		// 投递失败时释放锁，避免锁期内无法再次触发
		_ = database.RDB.Del(ctx, lockKey).Err()
		return nil, err
	}
	log.Infof("[DocumentService] 重同步任务已投递, DocID: %s, JobID: %s", docID, job.ID)
	return job, nil
}

// enqueue 创建同步任务记录并投递 Kafka 消息。
func (s *documentService) enqueue(doc *model.Document, resync bool) (*model.SyncJob, error) {
	job := &model.SyncJob{
		ID:     uuid.NewString(),
		DocID:  doc.ID,
		Status: syncjob.StatusNew,
	}
	if err := s.jobRepo.Create(job); err != nil {
		return nil, err
	}

	task := tasks.DocumentIndexTask{
		JobID:        job.ID,
		DocID:        doc.ID,
		CollectionID: doc.CollectionID,
		Resync:       resync,
	}
	if err := kafka.ProduceIndexTask(task); err != nil {
		return nil, apperr.Infrastructure(err, "投递索引任务失败, DocID: %s", doc.ID)
	}
	return job, nil
}

// Get 查找一个文档。
func (s *documentService) Get(id string) (*model.Document, error) {
	doc, err := s.docRepo.GetByID(id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperr.Validation("文档不存在: %s", id)
		}
		return nil, err
	}
	return doc, nil
}

// ListByCollection 列出集合内全部文档。
func (s *documentService) ListByCollection(collectionID string) ([]model.Document, error) {
	return s.docRepo.ListByCollection(collectionID)
}

// Delete 级联删除文档，并尽力清理对象存储中的原始内容。
func (s *documentService) Delete(ctx context.Context, id string) (*txn.DeleteResult, error) {
	doc, err := s.Get(id)
	if err != nil {
		return nil, err
	}
	result, err := s.coordinator.DeleteDocumentInTransaction(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := s.objectStore.Remove(ctx, doc.ObjectKey); err != nil {
		log.Warnf("[DocumentService] 删除文档原始内容失败, ObjectKey: %s, Error: %v", doc.ObjectKey, err)
	}
	if err := s.collectionRepo.AddCounts(doc.CollectionID, -1, -result.Chunks); err != nil {
		log.Warnf("[DocumentService] 更新集合计数失败, CollectionID: %s, Error: %v", doc.CollectionID, err)
	}
	log.Infof("[DocumentService] 文档删除完成, ID: %s, 分块数: %d, 向量清理: %v", id, result.Chunks, result.VectorCleaned)
	return result, nil
}

// Package pipeline 定义了文档索引的核心流程。
package pipeline

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"unicode/utf8"

	"docvec-go/internal/apperr"
	"docvec-go/internal/chunker"
	"docvec-go/internal/config"
	"docvec-go/internal/model"
	"docvec-go/internal/repository"
	"docvec-go/internal/syncjob"
	"docvec-go/pkg/embedding"
	"docvec-go/pkg/es"
	"docvec-go/pkg/log"
	"docvec-go/pkg/storage"
	"docvec-go/pkg/tasks"
)

// Processor 封装了文档索引的所有依赖和逻辑。
// 一次 Process 调用驱动一个文档走完 分块 → 向量化 → 写入向量索引 的全过程，
// 并把每个阶段的结果落到同步任务记录上。
type Processor struct {
	embeddingClient embedding.Client
	esClient        *es.Client
	objectStore     storage.ObjectStore
	chunkingCfg     config.ChunkingConfig
	embeddingCfg    config.EmbeddingConfig
	policy          syncjob.Policy
	collectionRepo  repository.CollectionRepository
	docRepo         repository.DocumentRepository
	chunkRepo       repository.ChunkRepository
	jobRepo         repository.SyncJobRepository
}

// NewProcessor 创建一个新的 Processor 实例。
func NewProcessor(
	embeddingClient embedding.Client,
	esClient *es.Client,
	objectStore storage.ObjectStore,
	chunkingCfg config.ChunkingConfig,
	embeddingCfg config.EmbeddingConfig,
	policy syncjob.Policy,
	collectionRepo repository.CollectionRepository,
	docRepo repository.DocumentRepository,
	chunkRepo repository.ChunkRepository,
	jobRepo repository.SyncJobRepository,
) *Processor {
	return &Processor{
		embeddingClient: embeddingClient,
		esClient:        esClient,
		objectStore:     objectStore,
		chunkingCfg:     chunkingCfg,
		embeddingCfg:    embeddingCfg,
		policy:          policy,
		collectionRepo:  collectionRepo,
		docRepo:         docRepo,
		chunkRepo:       chunkRepo,
		jobRepo:         jobRepo,
	}
}

// Process 是文档索引的主函数。
// 返回 nil 表示任务结束（成功、进入 dead 或不可重试失败），消费者可提交 offset；
// 返回错误表示任务可以重投。
func (p *Processor) Process(ctx context.Context, task tasks.DocumentIndexTask) error {
	log.Infof("[Processor] 开始处理文档, JobID: %s, DocID: %s, Resync: %v", task.JobID, task.DocID, task.Resync)

	job, err := p.jobRepo.GetByID(task.JobID)
	if err != nil {
		log.Errorf("[Processor] 查找同步任务失败, JobID: %s, Error: %v", task.JobID, err)
		return apperr.Validation("同步任务不存在: %s", task.JobID)
	}
	if syncjob.IsTerminal(job.Status) {
		// 重复投递的消息，直接跳过
		log.Warnf("[Processor] 任务已处于终态(%s), 跳过处理, JobID: %s", job.Status, job.ID)
		return nil
	}
	// 失败后的重投先转入 retrying
	if job.Status == syncjob.StatusFailed {
		if err := syncjob.Apply(job, syncjob.StatusRetrying, "", ""); err != nil {
			return err
		}
		if err := p.jobRepo.Update(job); err != nil {
			return err
		}
	}

	doc, err := p.docRepo.GetByID(task.DocID)
	if err != nil {
		log.Errorf("[Processor] 查找文档失败, DocID: %s, Error: %v", task.DocID, err)
		return p.fail(job, nil, "load_document", apperr.Validation("文档不存在: %s", task.DocID))
	}
	if err := p.docRepo.UpdateStatus(doc.ID, model.DocStatusProcessing); err != nil {
		return p.fail(job, doc, "mark_processing", err)
	}

	// 1. 从对象存储读取原始内容
	log.Infof("[Processor] 步骤1: 读取原始内容, ObjectKey: %s", doc.ObjectKey)
	content, err := p.objectStore.Get(ctx, doc.ObjectKey)
	if err != nil {
		return p.fail(job, doc, "load_content", err)
	}
	text := string(content)
	if text == "" {
		return p.fail(job, doc, "load_content", apperr.Validation("文档内容为空: %s", doc.ID))
	}
	log.Infof("[Processor] 步骤1: 内容读取成功, 长度: %d 字符", utf8.RuneCountInString(text))

	// 2. 文本分块
	opts := chunker.Options{
		Strategy:        p.chunkingCfg.Strategy,
		MaxChunkSize:    p.chunkingCfg.MaxChunkSize,
		Overlap:         p.chunkingCfg.Overlap,
		MaxHeadingDepth: p.chunkingCfg.MaxHeadingDepth,
		PreferHeadings:  true,
		PathLabel:       doc.Name,
	}
	pieces := chunker.Split(text, opts)
	log.Infof("[Processor] 步骤2: 文本分块完成, 共生成 %d 个分块", len(pieces))
	if len(pieces) == 0 {
		return p.fail(job, doc, "split", apperr.Validation("未生成任何文本分块: %s", doc.ID))
	}

	// 为避免重复写入导致的累计膨胀，处理前先清理该文档既有的分块与向量点（幂等）
	oldCount, err := p.chunkRepo.CountByDocID(doc.ID)
	if err != nil {
		return p.fail(job, doc, "split", err)
	}
	if oldCount > 0 {
		log.Infof("[Processor] 清理既有分块记录与向量点, DocID: %s, 旧分块数: %d", doc.ID, oldCount)
		if err := p.chunkRepo.DeleteByDocID(doc.ID); err != nil {
			return p.fail(job, doc, "split", err)
		}
		if err := p.esClient.DeleteByDoc(ctx, doc.ID); err != nil {
			return p.fail(job, doc, "split", err)
		}
	}

	chunks := make([]*model.Chunk, 0, len(pieces))
	for i, piece := range pieces {
		sum := sha256.Sum256([]byte(piece.Content))
		chunks = append(chunks, &model.Chunk{
			PointID:      fmt.Sprintf("%s_%d", doc.ID, i),
			DocID:        doc.ID,
			CollectionID: doc.CollectionID,
			ChunkIndex:   i,
			Title:        piece.TitleChain,
			Content:      piece.Content,
			ContentHash:  hex.EncodeToString(sum[:]),
			EmbedStatus:  model.ChunkStatusPending,
			SyncStatus:   model.ChunkStatusPending,
		})
	}
	if err := p.chunkRepo.BatchCreate(chunks); err != nil {
		return p.fail(job, doc, "split", err)
	}
	if err := p.advance(job, syncjob.StatusSplitOK); err != nil {
		return err
	}

	// 3. 分批向量化
	batchSize := p.embeddingCfg.BatchSize
	if batchSize <= 0 {
		batchSize = 32
	}
	log.Infof("[Processor] 步骤3: 开始向量化, 分块数: %d, 批大小: %d", len(chunks), batchSize)
	vectors := make([][]float32, 0, len(chunks))
	for start := 0; start < len(chunks); start += batchSize {
		end := start + batchSize
		if end > len(chunks) {
			end = len(chunks)
		}
		texts := make([]string, 0, end-start)
		for _, c := range chunks[start:end] {
			texts = append(texts, c.Content)
		}
		batchVectors, err := p.embeddingClient.CreateEmbeddings(ctx, texts)
		if err != nil {
			_ = p.chunkRepo.UpdateEmbedStatusByDoc(doc.ID, model.ChunkStatusFailed)
			return p.fail(job, doc, "embed", err)
		}
		vectors = append(vectors, batchVectors...)
	}
	if err := p.chunkRepo.UpdateEmbedStatusByDoc(doc.ID, model.ChunkStatusCompleted); err != nil {
		return p.fail(job, doc, "embed", err)
	}
	if err := p.advance(job, syncjob.StatusEmbedOK); err != nil {
		return err
	}

	// 4. 写入向量索引
	points := make([]model.EsPoint, 0, len(chunks))
	for i, c := range chunks {
		points = append(points, model.EsPoint{
			PointID:      c.PointID,
			DocID:        c.DocID,
			CollectionID: c.CollectionID,
			ChunkIndex:   c.ChunkIndex,
			Title:        c.Title,
			TextContent:  c.Content,
			ContentHash:  c.ContentHash,
			Vector:       vectors[i],
		})
	}
	log.Infof("[Processor] 步骤4: 写入向量索引, 点数: %d", len(points))
	if err := p.esClient.Upsert(ctx, doc.CollectionID, points); err != nil {
		_ = p.chunkRepo.UpdateSyncStatusByDoc(doc.ID, model.ChunkStatusFailed)
		return p.fail(job, doc, "sync", err)
	}
	if err := p.chunkRepo.UpdateSyncStatusByDoc(doc.ID, model.ChunkStatusCompleted); err != nil {
		return p.fail(job, doc, "sync", err)
	}

	// 5. 回写元数据计数
	if err := p.docRepo.UpdateChunkCount(doc.ID, len(chunks)); err != nil {
		return p.fail(job, doc, "finalize", err)
	}
	if err := p.docRepo.UpdateStatus(doc.ID, model.DocStatusCompleted); err != nil {
		return p.fail(job, doc, "finalize", err)
	}
	if err := p.collectionRepo.AddCounts(doc.CollectionID, 0, int64(len(chunks))-oldCount); err != nil {
		// 计数偏差不影响数据正确性，记录后继续
		log.Warnf("[Processor] 更新集合计数失败, CollectionID: %s, Error: %v", doc.CollectionID, err)
	}
	if err := p.collectionRepo.TouchLastSync(doc.CollectionID); err != nil {
		log.Warnf("[Processor] 更新集合同步时间失败, CollectionID: %s, Error: %v", doc.CollectionID, err)
	}

	if err := p.advance(job, syncjob.StatusSynced); err != nil {
		return err
	}
	log.Infof("[Processor] 文档索引成功完成, DocID: %s, 分块数: %d", doc.ID, len(chunks))
	return nil
}

// advance 将任务推进到下一阶段并持久化。
func (p *Processor) advance(job *model.SyncJob, to string) error {
	if err := syncjob.Apply(job, to, "", ""); err != nil {
		return err
	}
	return p.jobRepo.Update(job)
}

// fail 记录一次阶段失败，并依重试策略决定任务去向。
// 决策为重试时返回原错误让消息重投；为终止时返回 nil 让消费者提交 offset。
func (p *Processor) fail(job *model.SyncJob, doc *model.Document, stage string, cause error) error {
	category := apperr.KindOf(cause)
	if category == apperr.KindUnknown && apperr.IsTransient(cause) {
		category = apperr.KindTransient
	}
	log.Errorf("[Processor] 阶段 %s 失败, JobID: %s, 分类: %s, Error: %v", stage, job.ID, category, cause)

	msg := fmt.Sprintf("[%s] %v", stage, cause)
	if err := syncjob.Apply(job, syncjob.StatusFailed, msg, category); err != nil {
		log.Errorf("[Processor] 记录任务失败状态出错, JobID: %s, Error: %v", job.ID, err)
	}

	action := p.policy.NextAction(job.Retries, category)
	if action.Kind == syncjob.ActionDead {
		if err := syncjob.Apply(job, syncjob.StatusDead, "", ""); err != nil {
			log.Errorf("[Processor] 标记任务为 dead 出错, JobID: %s, Error: %v", job.ID, err)
		}
		log.Errorf("[Processor] 任务重试预算耗尽, 转入 dead, JobID: %s", job.ID)
	}
	if err := p.jobRepo.Update(job); err != nil {
		log.Errorf("[Processor] 持久化任务状态失败, JobID: %s, Error: %v", job.ID, err)
	}
	if doc != nil {
		if err := p.docRepo.UpdateStatus(doc.ID, model.DocStatusFailed); err != nil {
			log.Errorf("[Processor] 更新文档状态失败, DocID: %s, Error: %v", doc.ID, err)
		}
	}

	switch action.Kind {
	case syncjob.ActionRetry:
		return cause
	default:
		// fail / dead：不再重投
		return nil
	}
}

// Package txn 实现了跨元数据库与向量索引的删除事务协调器。
// 关系型侧在单个数据库事务内原子完成，向量索引侧在其提交后
// 尽力执行一次删除；向量侧失败只记录补偿事件，不回滚元数据。
package txn

import (
	"context"
	"sync"
	"time"

	"docvec-go/internal/apperr"
	"docvec-go/internal/repository"
	"docvec-go/pkg/log"

	"github.com/google/uuid"
)

// 事务状态。
const (
	StatusPending    = "PENDING"
	StatusActive     = "ACTIVE"
	StatusCommitted  = "COMMITTED"
	StatusRolledBack = "ROLLED_BACK"
	StatusFailed     = "FAILED"
)

// DefaultRetention 是已结束事务在内存中的默认保留时长。
const DefaultRetention = 30 * time.Minute

// Operation 是事务内记录的一步操作描述。
type Operation struct {
	Name       string    `json:"name"`
	Target     string    `json:"target"`
	RecordedAt time.Time `json:"recordedAt"`
}

// Transaction 是一次删除事务的内存上下文。
type Transaction struct {
	ID         string                 `json:"id"`
	Status     string                 `json:"status"`
	Operations []Operation            `json:"operations"`
	Metadata   map[string]interface{} `json:"metadata"`
	StartedAt  time.Time              `json:"startedAt"`
	EndedAt    *time.Time             `json:"endedAt"`
}

func (t *Transaction) terminal() bool {
	switch t.Status {
	case StatusCommitted, StatusRolledBack, StatusFailed:
		return true
	}
	return false
}

// VectorDeleter 是协调器对向量索引的最小依赖，便于测试替换。
type VectorDeleter interface {
	DeleteByDoc(ctx context.Context, docID string) error
	DeleteByCollection(ctx context.Context, collectionID string) error
}

// Coordinator 管理删除事务的生命周期。
// 事务上下文只存在于内存，进程重启后丢失，孤儿向量点由全量重建兜底。
type Coordinator struct {
	mu        sync.Mutex
	txns      map[string]*Transaction
	cascade   repository.CascadeRepository
	vectors   VectorDeleter
	retention time.Duration
}

// NewCoordinator 创建一个新的事务协调器。retention 为零时使用默认值。
func NewCoordinator(cascade repository.CascadeRepository, vectors VectorDeleter, retention time.Duration) *Coordinator {
	if retention <= 0 {
		retention = DefaultRetention
	}
	return &Coordinator{
		txns:      make(map[string]*Transaction),
		cascade:   cascade,
		vectors:   vectors,
		retention: retention,
	}
}

// Begin 开启一个新事务，初始状态为 PENDING。
func (c *Coordinator) Begin(metadata map[string]interface{}) *Transaction {
	txn := &Transaction{
		ID:        uuid.NewString(),
		Status:    StatusPending,
		Metadata:  metadata,
		StartedAt: time.Now(),
	}
	c.mu.Lock()
	c.txns[txn.ID] = txn
	c.mu.Unlock()
	return txn
}

// Get 返回事务上下文的快照副本。
func (c *Coordinator) Get(txnID string) (*Transaction, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	txn, ok := c.txns[txnID]
	if !ok {
		return nil, apperr.Validation("事务不存在: %s", txnID)
	}
	snap := *txn
	snap.Operations = append([]Operation(nil), txn.Operations...)
	return &snap, nil
}

// RecordOperation 在事务内登记一步操作。
// 首次记录会把事务从 PENDING 提升为 ACTIVE；终态事务拒绝记录。
func (c *Coordinator) RecordOperation(txnID, name, target string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	txn, ok := c.txns[txnID]
	if !ok {
		return apperr.Validation("事务不存在: %s", txnID)
	}
	if txn.terminal() {
		return apperr.Validation("事务已结束，无法记录操作: %s (status=%s)", txnID, txn.Status)
	}
	if txn.Status == StatusPending {
		txn.Status = StatusActive
	}
	txn.Operations = append(txn.Operations, Operation{
		Name:       name,
		Target:     target,
		RecordedAt: time.Now(),
	})
	return nil
}

// Commit 提交事务。只有 ACTIVE 状态的事务可以提交。
func (c *Coordinator) Commit(txnID string) error {
	return c.finish(txnID, StatusCommitted, StatusActive)
}

// Rollback 回滚事务。PENDING 或 ACTIVE 状态均可回滚。
func (c *Coordinator) Rollback(txnID string) error {
	return c.finish(txnID, StatusRolledBack, StatusPending, StatusActive)
}

// MarkFailed 将事务标记为失败。
func (c *Coordinator) MarkFailed(txnID string) error {
	return c.finish(txnID, StatusFailed, StatusPending, StatusActive)
}

func (c *Coordinator) finish(txnID, to string, allowedFrom ...string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	txn, ok := c.txns[txnID]
	if !ok {
		return apperr.Validation("事务不存在: %s", txnID)
	}
	allowed := false
	for _, from := range allowedFrom {
		if txn.Status == from {
			allowed = true
			break
		}
	}
	if !allowed {
		return apperr.Validation("非法的事务状态转移: %s -> %s (txn=%s)", txn.Status, to, txnID)
	}
	now := time.Now()
	txn.Status = to
	txn.EndedAt = &now
	return nil
}

// CleanupCompletedTransactions 清除超过保留时长的已结束事务，返回清除数量。
func (c *Coordinator) CleanupCompletedTransactions() int {
	cutoff := time.Now().Add(-c.retention)
	c.mu.Lock()
	defer c.mu.Unlock()
	removed := 0
	for id, txn := range c.txns {
		if txn.terminal() && txn.EndedAt != nil && txn.EndedAt.Before(cutoff) {
			delete(c.txns, id)
			removed++
		}
	}
	return removed
}

// StartJanitor 启动后台清理协程，定期回收过期的事务上下文。
func (c *Coordinator) StartJanitor(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if n := c.CleanupCompletedTransactions(); n > 0 {
					log.Infof("已清理 %d 个过期事务上下文", n)
				}
			}
		}
	}()
}

// DeleteResult 是一次级联删除的结果汇总。
type DeleteResult struct {
	TxnID         string `json:"txnId"`
	Docs          int64  `json:"docs"`
	Chunks        int64  `json:"chunks"`
	VectorCleaned bool   `json:"vectorCleaned"`
}

// DeleteCollectionInTransaction 删除集合及其全部下属数据。
// 元数据侧在单个数据库事务内完成；提交后对向量索引执行且仅执行
// 一次删除，失败只记录补偿事件。
func (c *Coordinator) DeleteCollectionInTransaction(ctx context.Context, collectionID string) (*DeleteResult, error) {
	txn := c.Begin(map[string]interface{}{"collection_id": collectionID})

	if err := c.RecordOperation(txn.ID, "delete_collection_cascade", collectionID); err != nil {
		return nil, err
	}
	docs, chunks, err := c.cascade.DeleteCollectionCascade(collectionID)
	if err != nil {
		_ = c.MarkFailed(txn.ID)
		return nil, apperr.Infrastructure(err, "级联删除集合失败: %s", collectionID)
	}
	if err := c.RecordOperation(txn.ID, "delete_collection_vectors", collectionID); err != nil {
		return nil, err
	}
	if err := c.Commit(txn.ID); err != nil {
		return nil, err
	}

	// 元数据已提交，向量侧尽力删除一次，不重试不回滚
	result := &DeleteResult{TxnID: txn.ID, Docs: docs, Chunks: chunks, VectorCleaned: true}
	if err := c.vectors.DeleteByCollection(ctx, collectionID); err != nil {
		result.VectorCleaned = false
		log.Errorf("向量索引删除集合分区失败，留待重建兜底: collection=%s, txn=%s, err=%v",
			collectionID, txn.ID, err)
	}
	return result, nil
}

// DeleteDocumentInTransaction 删除文档及其全部下属数据。
// 语义与 DeleteCollectionInTransaction 相同。
func (c *Coordinator) DeleteDocumentInTransaction(ctx context.Context, docID string) (*DeleteResult, error) {
	txn := c.Begin(map[string]interface{}{"doc_id": docID})

	if err := c.RecordOperation(txn.ID, "delete_document_cascade", docID); err != nil {
		return nil, err
	}
	chunks, err := c.cascade.DeleteDocumentCascade(docID)
	if err != nil {
		_ = c.MarkFailed(txn.ID)
		return nil, apperr.Infrastructure(err, "级联删除文档失败: %s", docID)
	}
	if err := c.RecordOperation(txn.ID, "delete_document_vectors", docID); err != nil {
		return nil, err
	}
	if err := c.Commit(txn.ID); err != nil {
		return nil, err
	}

	result := &DeleteResult{TxnID: txn.ID, Docs: 1, Chunks: chunks, VectorCleaned: true}
	if err := c.vectors.DeleteByDoc(ctx, docID); err != nil {
		result.VectorCleaned = false
		log.Errorf("向量索引删除文档分块失败，留待重建兜底: doc=%s, txn=%s, err=%v",
			docID, txn.ID, err)
	}
	return result, nil
}

// Package tasks defines the structure for tasks that are sent to Kafka.
package tasks

import "fmt"

// DocumentIndexTask represents the data structure for a document indexing job.
// Resync 为 true 时表示重同步：处理前需要先清理该文档既有的分块与向量点。
type DocumentIndexTask struct {
	JobID        string `json:"job_id"`
	DocID        string `json:"doc_id"`
	CollectionID string `json:"collection_id"`
	Resync       bool   `json:"resync"`
}

// AttemptsKey 返回记录文档索引失败次数的 Redis key。
// 生产与消费两侧必须使用同一格式。
func AttemptsKey(docID string) string {
	return fmt.Sprintf("sync:attempts:%s", docID)
}

// ResyncLockKey 返回文档重同步去重锁的 Redis key。
// 由 DocumentService 加锁，消费者在任务结束后释放。
func ResyncLockKey(docID string) string {
	return fmt.Sprintf("resync:lock:%s", docID)
}

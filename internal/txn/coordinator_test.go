package txn

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeCascade 记录调用并可注入错误。
type fakeCascade struct {
	collErr   error
	docErr    error
	collCalls int
	docCalls  int
}

func (f *fakeCascade) DeleteCollectionCascade(collectionID string) (int64, int64, error) {
	f.collCalls++
	if f.collErr != nil {
		return 0, 0, f.collErr
	}
	return 3, 12, nil
}

func (f *fakeCascade) DeleteDocumentCascade(docID string) (int64, error) {
	f.docCalls++
	if f.docErr != nil {
		return 0, f.docErr
	}
	return 5, nil
}

// fakeVectors 记录向量删除调用并可注入错误。
type fakeVectors struct {
	err       error
	docCalls  int
	collCalls int
}

func (f *fakeVectors) DeleteByDoc(_ context.Context, _ string) error {
	f.docCalls++
	return f.err
}

func (f *fakeVectors) DeleteByCollection(_ context.Context, _ string) error {
	f.collCalls++
	return f.err
}

func newTestCoordinator(cascade *fakeCascade, vectors *fakeVectors) *Coordinator {
	return NewCoordinator(cascade, vectors, time.Minute)
}

func TestLifecycle_BeginRecordCommit(t *testing.T) {
	c := newTestCoordinator(&fakeCascade{}, &fakeVectors{})

	txn := c.Begin(map[string]interface{}{"k": "v"})
	assert.Equal(t, StatusPending, txn.Status)

	require.NoError(t, c.RecordOperation(txn.ID, "step1", "target1"))
	got, err := c.Get(txn.ID)
	require.NoError(t, err)
	// 首次记录操作把事务提升为 ACTIVE
	assert.Equal(t, StatusActive, got.Status)
	require.Len(t, got.Operations, 1)
	assert.Equal(t, "step1", got.Operations[0].Name)

	require.NoError(t, c.Commit(txn.ID))
	got, err = c.Get(txn.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusCommitted, got.Status)
	require.NotNil(t, got.EndedAt)
}

func TestCommit_PendingIsRejected(t *testing.T) {
	c := newTestCoordinator(&fakeCascade{}, &fakeVectors{})
	txn := c.Begin(nil)
	// 未记录任何操作的事务不可提交
	assert.Error(t, c.Commit(txn.ID))
}

func TestRecordOperation_TerminalIsRejected(t *testing.T) {
	c := newTestCoordinator(&fakeCascade{}, &fakeVectors{})
	txn := c.Begin(nil)
	require.NoError(t, c.RecordOperation(txn.ID, "step1", "t"))
	require.NoError(t, c.Commit(txn.ID))

	assert.Error(t, c.RecordOperation(txn.ID, "step2", "t"))
}

func TestRollback_FromPendingAndActive(t *testing.T) {
	c := newTestCoordinator(&fakeCascade{}, &fakeVectors{})

	pending := c.Begin(nil)
	require.NoError(t, c.Rollback(pending.ID))

	active := c.Begin(nil)
	require.NoError(t, c.RecordOperation(active.ID, "step", "t"))
	require.NoError(t, c.Rollback(active.ID))

	// 已回滚的事务不可再提交
	assert.Error(t, c.Commit(active.ID))
}

func TestGet_UnknownTransaction(t *testing.T) {
	c := newTestCoordinator(&fakeCascade{}, &fakeVectors{})
	_, err := c.Get("no-such-txn")
	assert.Error(t, err)
}

func TestDeleteCollection_Success(t *testing.T) {
	cascade := &fakeCascade{}
	vectors := &fakeVectors{}
	c := newTestCoordinator(cascade, vectors)

	result, err := c.DeleteCollectionInTransaction(context.Background(), "coll-1")
	require.NoError(t, err)
	assert.Equal(t, int64(3), result.Docs)
	assert.Equal(t, int64(12), result.Chunks)
	assert.True(t, result.VectorCleaned)
	assert.Equal(t, 1, cascade.collCalls)
	assert.Equal(t, 1, vectors.collCalls)

	got, err := c.Get(result.TxnID)
	require.NoError(t, err)
	assert.Equal(t, StatusCommitted, got.Status)
	assert.Len(t, got.Operations, 2)
}

func TestDeleteCollection_MetadataFailureSkipsVectors(t *testing.T) {
	cascade := &fakeCascade{collErr: errors.New("数据库连接断开")}
	vectors := &fakeVectors{}
	c := newTestCoordinator(cascade, vectors)

	_, err := c.DeleteCollectionInTransaction(context.Background(), "coll-1")
	require.Error(t, err)
	// 元数据删除失败时绝不触碰向量索引
	assert.Equal(t, 0, vectors.collCalls)
}

func TestDeleteCollection_VectorFailureIsCompensationOnly(t *testing.T) {
	cascade := &fakeCascade{}
	vectors := &fakeVectors{err: errors.New("es 不可用")}
	c := newTestCoordinator(cascade, vectors)

	result, err := c.DeleteCollectionInTransaction(context.Background(), "coll-1")
	// 向量侧失败不使整个删除失败，也不会重试
	require.NoError(t, err)
	assert.False(t, result.VectorCleaned)
	assert.Equal(t, 1, vectors.collCalls)

	// 事务仍是已提交状态
	got, err := c.Get(result.TxnID)
	require.NoError(t, err)
	assert.Equal(t, StatusCommitted, got.Status)
}

func TestDeleteDocument_Success(t *testing.T) {
	cascade := &fakeCascade{}
	vectors := &fakeVectors{}
	c := newTestCoordinator(cascade, vectors)

	result, err := c.DeleteDocumentInTransaction(context.Background(), "doc-1")
	require.NoError(t, err)
	assert.Equal(t, int64(5), result.Chunks)
	assert.True(t, result.VectorCleaned)
	assert.Equal(t, 1, cascade.docCalls)
	assert.Equal(t, 1, vectors.docCalls)
}

func TestDeleteDocument_MetadataFailureMarksTxnFailed(t *testing.T) {
	cascade := &fakeCascade{docErr: errors.New("死锁")}
	c := newTestCoordinator(cascade, &fakeVectors{})

	_, err := c.DeleteDocumentInTransaction(context.Background(), "doc-1")
	require.Error(t, err)
}

func TestCleanupCompletedTransactions(t *testing.T) {
	c := NewCoordinator(&fakeCascade{}, &fakeVectors{}, 10*time.Millisecond)

	done := c.Begin(nil)
	require.NoError(t, c.RecordOperation(done.ID, "step", "t"))
	require.NoError(t, c.Commit(done.ID))

	open := c.Begin(nil)

	time.Sleep(30 * time.Millisecond)
	removed := c.CleanupCompletedTransactions()
	assert.Equal(t, 1, removed)

	// 已结束且过期的被清除，进行中的保留
	_, err := c.Get(done.ID)
	assert.Error(t, err)
	_, err = c.Get(open.ID)
	assert.NoError(t, err)
}

func TestCleanup_KeepsRecentTerminal(t *testing.T) {
	c := NewCoordinator(&fakeCascade{}, &fakeVectors{}, time.Hour)

	txn := c.Begin(nil)
	require.NoError(t, c.RecordOperation(txn.ID, "step", "t"))
	require.NoError(t, c.Commit(txn.ID))

	assert.Equal(t, 0, c.CleanupCompletedTransactions())
	_, err := c.Get(txn.ID)
	assert.NoError(t, err)
}

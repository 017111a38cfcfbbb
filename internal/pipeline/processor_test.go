package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	"docvec-go/internal/apperr"
	"docvec-go/internal/config"
	"docvec-go/internal/model"
	"docvec-go/internal/syncjob"
	"docvec-go/pkg/es"
	"docvec-go/pkg/tasks"

	"github.com/elastic/go-elasticsearch/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ---- 内存版依赖实现 ----

type fakeObjectStore struct {
	objects map[string][]byte
}

func (f *fakeObjectStore) Put(_ context.Context, key string, content []byte) error {
	f.objects[key] = content
	return nil
}

func (f *fakeObjectStore) Get(_ context.Context, key string) ([]byte, error) {
	content, ok := f.objects[key]
	if !ok {
		return nil, fmt.Errorf("对象不存在: %s", key)
	}
	return content, nil
}

func (f *fakeObjectStore) Remove(_ context.Context, key string) error {
	delete(f.objects, key)
	return nil
}

type fakeEmbedder struct {
	err   error
	calls int
}

func (f *fakeEmbedder) CreateEmbeddings(_ context.Context, texts []string) ([][]float32, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	vectors := make([][]float32, len(texts))
	for i := range texts {
		vectors[i] = []float32{0.1, 0.2, 0.3, 0.4}
	}
	return vectors, nil
}

type fakeCollectionRepo struct {
	chunkDelta int64
	touched    bool
}

func (f *fakeCollectionRepo) Create(*model.Collection) error               { return nil }
func (f *fakeCollectionRepo) GetByID(string) (*model.Collection, error)    { return nil, nil }
func (f *fakeCollectionRepo) GetByName(string) (*model.Collection, error)  { return nil, nil }
func (f *fakeCollectionRepo) List() ([]model.Collection, error)            { return nil, nil }
func (f *fakeCollectionRepo) Update(*model.Collection) error               { return nil }
func (f *fakeCollectionRepo) AddCounts(_ string, _, chunkDelta int64) error {
	f.chunkDelta += chunkDelta
	return nil
}
func (f *fakeCollectionRepo) TouchLastSync(string) error { f.touched = true; return nil }

type fakeDocRepo struct {
	docs map[string]*model.Document
}

func (f *fakeDocRepo) Create(doc *model.Document) error { f.docs[doc.ID] = doc; return nil }
func (f *fakeDocRepo) GetByID(id string) (*model.Document, error) {
	doc, ok := f.docs[id]
	if !ok {
		return nil, errors.New("record not found")
	}
	return doc, nil
}
func (f *fakeDocRepo) GetByKey(string, string) (*model.Document, error)    { return nil, nil }
func (f *fakeDocRepo) ListByCollection(string) ([]model.Document, error)   { return nil, nil }
func (f *fakeDocRepo) Update(doc *model.Document) error                    { f.docs[doc.ID] = doc; return nil }
func (f *fakeDocRepo) UpdateStatus(id, status string) error {
	if doc, ok := f.docs[id]; ok {
		doc.Status = status
	}
	return nil
}
func (f *fakeDocRepo) UpdateChunkCount(id string, count int) error {
	if doc, ok := f.docs[id]; ok {
		doc.ChunkCount = count
	}
	return nil
}

type fakeChunkRepo struct {
	mu     sync.Mutex
	chunks []*model.Chunk
}

func (f *fakeChunkRepo) BatchCreate(chunks []*model.Chunk) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.chunks = append(f.chunks, chunks...)
	return nil
}

func (f *fakeChunkRepo) FindByDocID(docID string) ([]*model.Chunk, error) {
	var out []*model.Chunk
	for _, c := range f.chunks {
		if c.DocID == docID {
			out = append(out, c)
		}
	}
	return out, nil
}

func (f *fakeChunkRepo) DeleteByDocID(docID string) error {
	var kept []*model.Chunk
	for _, c := range f.chunks {
		if c.DocID != docID {
			kept = append(kept, c)
		}
	}
	f.chunks = kept
	return nil
}

func (f *fakeChunkRepo) UpdateEmbedStatusByDoc(docID, status string) error {
	for _, c := range f.chunks {
		if c.DocID == docID {
			c.EmbedStatus = status
		}
	}
	return nil
}

func (f *fakeChunkRepo) UpdateSyncStatusByDoc(docID, status string) error {
	for _, c := range f.chunks {
		if c.DocID == docID {
			c.SyncStatus = status
		}
	}
	return nil
}

func (f *fakeChunkRepo) CountByDocID(docID string) (int64, error) {
	var n int64
	for _, c := range f.chunks {
		if c.DocID == docID {
			n++
		}
	}
	return n, nil
}

type fakeJobRepo struct {
	jobs map[string]*model.SyncJob
}

func (f *fakeJobRepo) Create(job *model.SyncJob) error { f.jobs[job.ID] = job; return nil }
func (f *fakeJobRepo) GetByID(id string) (*model.SyncJob, error) {
	job, ok := f.jobs[id]
	if !ok {
		return nil, errors.New("record not found")
	}
	return job, nil
}
func (f *fakeJobRepo) GetLatestByDocID(string) (*model.SyncJob, error) { return nil, nil }
func (f *fakeJobRepo) Update(job *model.SyncJob) error                 { f.jobs[job.ID] = job; return nil }
func (f *fakeJobRepo) ListByStatus(string, int, int) ([]model.SyncJob, int64, error) {
	return nil, 0, nil
}
func (f *fakeJobRepo) Stats() (*model.SyncJobStatsDTO, error) { return nil, nil }

// fakeESTransport 应答 bulk 与 delete_by_query 请求。
type fakeESTransport struct {
	mu    sync.Mutex
	paths []string
}

func (t *fakeESTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	t.mu.Lock()
	t.paths = append(t.paths, req.URL.Path)
	t.mu.Unlock()

	header := http.Header{}
	header.Set("X-Elastic-Product", "Elasticsearch")
	header.Set("Content-Type", "application/json")
	return &http.Response{
		StatusCode: http.StatusOK,
		Header:     header,
		Body:       io.NopCloser(strings.NewReader(`{"errors":false,"items":[],"deleted":0}`)),
	}, nil
}

// ---- 测试脚手架 ----

type fixture struct {
	processor   *Processor
	store       *fakeObjectStore
	embedder    *fakeEmbedder
	collections *fakeCollectionRepo
	docs        *fakeDocRepo
	chunks      *fakeChunkRepo
	jobs        *fakeJobRepo
	transport   *fakeESTransport
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	transport := &fakeESTransport{}
	esc, err := elasticsearch.NewClient(elasticsearch.Config{
		Addresses:    []string{"http://localhost:9200"},
		Transport:    transport,
		DisableRetry: true,
	})
	require.NoError(t, err)

	esClient := es.NewClient(esc, config.ElasticsearchConfig{
		IndexName:  "doc_chunks",
		Dimensions: 4,
	}, config.BatchConfig{BatchSize: 100, MaxConcurrentBatches: 1, TimeoutMinutes: 1})

	f := &fixture{
		store:       &fakeObjectStore{objects: map[string][]byte{}},
		embedder:    &fakeEmbedder{},
		collections: &fakeCollectionRepo{},
		docs:        &fakeDocRepo{docs: map[string]*model.Document{}},
		chunks:      &fakeChunkRepo{},
		jobs:        &fakeJobRepo{jobs: map[string]*model.SyncJob{}},
		transport:   transport,
	}
	f.processor = NewProcessor(
		f.embedder,
		esClient,
		f.store,
		config.ChunkingConfig{Strategy: "auto", MaxChunkSize: 1000, Overlap: 100, MaxHeadingDepth: 3},
		config.EmbeddingConfig{BatchSize: 2},
		syncjob.Policy{MaxRetries: 3, BackoffBase: time.Second, BackoffCap: time.Minute},
		f.collections,
		f.docs,
		f.chunks,
		f.jobs,
	)
	return f
}

func (f *fixture) seed(content string) tasks.DocumentIndexTask {
	doc := &model.Document{
		ID:           "doc-1",
		CollectionID: "coll-1",
		DocKey:       "guide.md",
		Name:         "guide.md",
		ObjectKey:    "docs/coll-1/doc-1",
		Status:       model.DocStatusNew,
	}
	f.docs.docs[doc.ID] = doc
	f.store.objects[doc.ObjectKey] = []byte(content)

	job := &model.SyncJob{ID: "job-1", DocID: doc.ID, Status: syncjob.StatusNew}
	f.jobs.jobs[job.ID] = job

	return tasks.DocumentIndexTask{JobID: job.ID, DocID: doc.ID, CollectionID: doc.CollectionID}
}

func markdownDoc() string {
	return "# 简介\n" + strings.Repeat("一", 200) + "\n" +
		"# 详细设计\n" + strings.Repeat("二", 1500) + "\n" +
		"# 附录\n" + strings.Repeat("三", 300)
}

// ---- 用例 ----

func TestProcess_HappyPath(t *testing.T) {
	f := newFixture(t)
	task := f.seed(markdownDoc())

	require.NoError(t, f.processor.Process(context.Background(), task))

	// 长章节被二次切分：简介 1 块 + 详细设计 2 块 + 附录 1 块
	chunks, _ := f.chunks.FindByDocID("doc-1")
	require.Len(t, chunks, 4)
	for i, c := range chunks {
		assert.Equal(t, i, c.ChunkIndex)
		assert.Equal(t, fmt.Sprintf("doc-1_%d", i), c.PointID)
		assert.Equal(t, "coll-1", c.CollectionID)
		assert.Equal(t, model.ChunkStatusCompleted, c.EmbedStatus)
		assert.Equal(t, model.ChunkStatusCompleted, c.SyncStatus)
		assert.NotEmpty(t, c.ContentHash)
	}
	assert.Contains(t, chunks[0].Title, "简介")
	assert.Contains(t, chunks[1].Title, "详细设计")

	job := f.jobs.jobs["job-1"]
	assert.Equal(t, syncjob.StatusSynced, job.Status)
	assert.Equal(t, float64(100), job.Progress)
	require.NotNil(t, job.CompletedAt)

	doc := f.docs.docs["doc-1"]
	assert.Equal(t, model.DocStatusCompleted, doc.Status)
	assert.Equal(t, 4, doc.ChunkCount)

	assert.Equal(t, int64(4), f.collections.chunkDelta)
	assert.True(t, f.collections.touched)

	// 向量化按批大小 2 分批：4 块 → 2 次调用
	assert.Equal(t, 2, f.embedder.calls)
}

func TestProcess_ResyncCleansOldState(t *testing.T) {
	f := newFixture(t)
	task := f.seed(markdownDoc())
	task.Resync = true

	// 既有的旧分块记录
	require.NoError(t, f.chunks.BatchCreate([]*model.Chunk{
		{PointID: "doc-1_0", DocID: "doc-1", CollectionID: "coll-1", ChunkIndex: 0, Content: "旧内容"},
		{PointID: "doc-1_1", DocID: "doc-1", CollectionID: "coll-1", ChunkIndex: 1, Content: "旧内容"},
	}))

	require.NoError(t, f.processor.Process(context.Background(), task))

	chunks, _ := f.chunks.FindByDocID("doc-1")
	require.Len(t, chunks, 4)
	for _, c := range chunks {
		assert.NotEqual(t, "旧内容", c.Content)
	}
	// 旧向量点通过 delete_by_query 清理
	deleted := false
	for _, p := range f.transport.paths {
		if strings.Contains(p, "_delete_by_query") {
			deleted = true
		}
	}
	assert.True(t, deleted)
	// 计数增量 = 新分块数 - 旧分块数
	assert.Equal(t, int64(2), f.collections.chunkDelta)
}

func TestProcess_EmptyContentIsValidationFailure(t *testing.T) {
	f := newFixture(t)
	task := f.seed("")

	// 不可重试 → 返回 nil 让消费者提交 offset
	require.NoError(t, f.processor.Process(context.Background(), task))

	job := f.jobs.jobs["job-1"]
	assert.Equal(t, syncjob.StatusFailed, job.Status)
	assert.Equal(t, string(apperr.KindValidation), job.ErrorCategory)
	assert.Contains(t, job.LastError, "load_content")
	assert.Equal(t, model.DocStatusFailed, f.docs.docs["doc-1"].Status)
}

func TestProcess_EmbeddingFailureIsRetried(t *testing.T) {
	f := newFixture(t)
	task := f.seed(markdownDoc())
	f.embedder.err = apperr.Transient(errors.New("timeout"), "embedding 服务超时")

	// 可重试 → 返回错误让消息重投
	err := f.processor.Process(context.Background(), task)
	require.Error(t, err)

	job := f.jobs.jobs["job-1"]
	assert.Equal(t, syncjob.StatusFailed, job.Status)
	assert.Equal(t, string(apperr.KindTransient), job.ErrorCategory)
	assert.Contains(t, job.LastError, "embed")
	assert.Equal(t, model.DocStatusFailed, f.docs.docs["doc-1"].Status)
}

func TestProcess_RetryBudgetExhaustedGoesDead(t *testing.T) {
	f := newFixture(t)
	task := f.seed(markdownDoc())
	f.embedder.err = apperr.Transient(errors.New("timeout"), "embedding 服务超时")
	f.jobs.jobs["job-1"].Retries = 3

	// 预算耗尽 → 返回 nil 终止重投
	require.NoError(t, f.processor.Process(context.Background(), task))
	assert.Equal(t, syncjob.StatusDead, f.jobs.jobs["job-1"].Status)
}

func TestProcess_RedeliveryLoopEndsInDead(t *testing.T) {
	f := newFixture(t)
	task := f.seed(markdownDoc())
	f.embedder.err = apperr.Transient(errors.New("timeout"), "embedding 服务超时")

	// 模拟消费者的重投循环：Process 返回错误则计一次失败并重投，
	// 返回 nil 则提交 offset 结束。消费者在 attempts 严格超出
	// maxRetries 时才放弃，任务必须在此之前进入终态。
	const maxRetries = 3
	var attempts int
	for delivery := 0; delivery < maxRetries+2; delivery++ {
		err := f.processor.Process(context.Background(), task)
		if err == nil {
			break
		}
		attempts++
		require.LessOrEqual(t, attempts, maxRetries, "任务应在消费者放弃重投之前结束")
	}

	job := f.jobs.jobs["job-1"]
	assert.Equal(t, syncjob.StatusDead, job.Status)
	assert.Equal(t, maxRetries, job.Retries)
	require.NotNil(t, job.CompletedAt)
	assert.Equal(t, maxRetries, attempts)
}

func TestProcess_TerminalJobIsSkipped(t *testing.T) {
	f := newFixture(t)
	task := f.seed(markdownDoc())
	f.jobs.jobs["job-1"].Status = syncjob.StatusSynced

	require.NoError(t, f.processor.Process(context.Background(), task))
	// 不触碰任何分块
	chunks, _ := f.chunks.FindByDocID("doc-1")
	assert.Empty(t, chunks)
	assert.Equal(t, 0, f.embedder.calls)
}

func TestProcess_UnknownJobIsNotRetried(t *testing.T) {
	f := newFixture(t)
	task := f.seed(markdownDoc())
	task.JobID = "no-such-job"

	err := f.processor.Process(context.Background(), task)
	require.Error(t, err)
	assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))
}

func TestProcess_FailedJobTransitionsThroughRetrying(t *testing.T) {
	f := newFixture(t)
	task := f.seed(markdownDoc())
	f.jobs.jobs["job-1"].Status = syncjob.StatusFailed

	require.NoError(t, f.processor.Process(context.Background(), task))

	job := f.jobs.jobs["job-1"]
	assert.Equal(t, syncjob.StatusSynced, job.Status)
	assert.Equal(t, 1, job.Retries)
}

package batch

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeGauge 返回固定的内存占用比例。
type fakeGauge struct{ used float64 }

func (g fakeGauge) UsedFraction() float64 { return g.used }

// spikeGauge 第一次读数返回高压力，之后恢复正常。
type spikeGauge struct{ calls int32 }

func (g *spikeGauge) UsedFraction() float64 {
	if atomic.AddInt32(&g.calls, 1) == 1 {
		return 0.95
	}
	return 0.1
}

func ints(n int) []int {
	items := make([]int, n)
	for i := range items {
		items[i] = i
	}
	return items
}

func TestExecute_SequentialPreservesOrder(t *testing.T) {
	items := ints(10)
	result, err := Execute(context.Background(), items, func(_ context.Context, group []int) ([]int, error) {
		out := make([]int, len(group))
		for i, v := range group {
			out[i] = v * 2
		}
		return out, nil
	}, Config{BatchSize: 3, MaxConcurrentBatches: 1, Gauge: fakeGauge{0.1}})

	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, result.Status)
	assert.Equal(t, 10, result.SuccessCount)
	assert.Equal(t, 0, result.FailedCount)
	require.Len(t, result.Results, 10)
	for i, v := range result.Results {
		assert.Equal(t, i*2, v)
	}
}

func TestExecute_EmptyItems(t *testing.T) {
	result, err := Execute(context.Background(), []int{}, func(_ context.Context, group []int) ([]int, error) {
		return group, nil
	}, Config{Gauge: fakeGauge{0.1}})

	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, result.Status)
	assert.Equal(t, 0, result.SuccessCount)
}

func TestExecute_NilProcessor(t *testing.T) {
	_, err := Execute[int, int](context.Background(), ints(3), nil, Config{Gauge: fakeGauge{0.1}})
	require.Error(t, err)
}

func TestExecute_BatchFailureIsIsolated(t *testing.T) {
	items := ints(9)
	result, err := Execute(context.Background(), items, func(_ context.Context, group []int) ([]int, error) {
		for _, v := range group {
			if v == 4 {
				return nil, errors.New("后端拒绝写入")
			}
		}
		return group, nil
	}, Config{BatchSize: 3, MaxConcurrentBatches: 1, Gauge: fakeGauge{0.1}})

	require.NoError(t, err)
	assert.Equal(t, StatusFailed, result.Status)
	assert.Equal(t, 6, result.SuccessCount)
	assert.Equal(t, 3, result.FailedCount)
	require.Len(t, result.Errors, 1)
	// 错误信息附带批次号与批次大小
	assert.Contains(t, result.Errors[0].Error(), "批次 2")
	assert.Contains(t, result.Errors[0].Error(), "大小 3")
}

func TestExecute_TimeoutCountsAsBatchFailure(t *testing.T) {
	items := ints(4)
	result, err := Execute(context.Background(), items, func(_ context.Context, group []int) ([]int, error) {
		if group[0] == 0 {
			time.Sleep(200 * time.Millisecond)
		}
		return group, nil
	}, Config{BatchSize: 2, MaxConcurrentBatches: 1, Timeout: 50 * time.Millisecond, Gauge: fakeGauge{0.1}})

	require.NoError(t, err)
	assert.Equal(t, StatusFailed, result.Status)
	assert.Equal(t, 2, result.FailedCount)
	assert.Equal(t, 2, result.SuccessCount)
	assert.Contains(t, result.Errors[0].Error(), "超时")
}

func TestExecute_ConcurrencyBound(t *testing.T) {
	var current, peak int64
	items := ints(20)

	result, err := Execute(context.Background(), items, func(_ context.Context, group []int) ([]int, error) {
		cur := atomic.AddInt64(&current, 1)
		for {
			p := atomic.LoadInt64(&peak)
			if cur <= p || atomic.CompareAndSwapInt64(&peak, p, cur) {
				break
			}
		}
		time.Sleep(20 * time.Millisecond)
		atomic.AddInt64(&current, -1)
		return group, nil
	}, Config{BatchSize: 2, MaxConcurrentBatches: 3, Gauge: fakeGauge{0.1}})

	require.NoError(t, err)
	assert.Equal(t, 20, result.SuccessCount)
	assert.LessOrEqual(t, atomic.LoadInt64(&peak), int64(3))
	assert.Greater(t, atomic.LoadInt64(&peak), int64(1))
}

func TestExecute_ConcurrentResultsKeepSubmissionOrder(t *testing.T) {
	items := ints(12)
	result, err := Execute(context.Background(), items, func(_ context.Context, group []int) ([]int, error) {
		// 让低序号批次完成得更晚，验证结果仍按提交顺序落槽
		if group[0] == 0 {
			time.Sleep(50 * time.Millisecond)
		}
		return group, nil
	}, Config{BatchSize: 3, MaxConcurrentBatches: 4, Gauge: fakeGauge{0.1}})

	require.NoError(t, err)
	require.Len(t, result.Results, 12)
	for i, v := range result.Results {
		assert.Equal(t, i, v)
	}
}

func TestExecute_MemoryPressureShrinksBatchSize(t *testing.T) {
	var mu sync.Mutex
	var sizes []int
	items := ints(8)

	result, err := Execute(context.Background(), items, func(_ context.Context, group []int) ([]int, error) {
		mu.Lock()
		sizes = append(sizes, len(group))
		mu.Unlock()
		return group, nil
	}, Config{BatchSize: 4, MaxConcurrentBatches: 1, Gauge: &spikeGauge{}})

	require.NoError(t, err)
	assert.Equal(t, 8, result.SuccessCount)
	// 启动时读到高内存压力，批次大小被减半后保持
	require.NotEmpty(t, sizes)
	for _, s := range sizes {
		assert.Equal(t, 2, s)
	}
}

func TestExecute_ProgressSnapshots(t *testing.T) {
	var snapshots []Progress
	items := ints(9)

	result, err := Execute(context.Background(), items, func(_ context.Context, group []int) ([]int, error) {
		return group, nil
	}, Config{
		BatchSize:            3,
		MaxConcurrentBatches: 1,
		Gauge:                fakeGauge{0.1},
		OnProgress:           func(p Progress) { snapshots = append(snapshots, p) },
	})

	require.NoError(t, err)
	require.Len(t, snapshots, 3)

	prev := 0
	for _, p := range snapshots {
		assert.Equal(t, result.OperationID, p.OperationID)
		assert.Equal(t, 9, p.TotalItems)
		assert.GreaterOrEqual(t, p.ProcessedItems, prev)
		assert.Equal(t, p.ProcessedItems, p.SuccessItems+p.FailedItems)
		prev = p.ProcessedItems
	}
	last := snapshots[len(snapshots)-1]
	assert.Equal(t, 9, last.ProcessedItems)

	assert.Equal(t, StatusCompleted, result.Final.Status)
	assert.Equal(t, 9, result.Final.ProcessedItems)
}

func TestExecute_CancelStopsScheduling(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	items := ints(10)
	calls := 0

	result, err := Execute(ctx, items, func(_ context.Context, group []int) ([]int, error) {
		calls++
		cancel()
		return group, nil
	}, Config{BatchSize: 2, MaxConcurrentBatches: 1, Gauge: fakeGauge{0.1}})

	require.NoError(t, err)
	// 第一批执行后取消，剩余条目计为失败
	assert.Equal(t, 1, calls)
	assert.Equal(t, 2, result.SuccessCount)
	assert.Equal(t, 8, result.FailedCount)
	assert.Equal(t, StatusFailed, result.Status)
}

// Package batch 提供了一个通用的并发批处理引擎。
// 它负责把条目列表切分为批次，按配置顺序或有界并发地执行，
// 隔离单个批次的失败，监控内存压力并上报进度快照。
package batch

import (
	"context"
	"fmt"
	"math"
	"time"

	"docvec-go/pkg/log"

	"github.com/google/uuid"
)

// 默认参数。
const (
	DefaultBatchSize            = 100
	DefaultMaxConcurrentBatches = 2
	DefaultTimeout              = 30 * time.Minute

	// 内存压力阈值：超过 highWatermark 时收缩批次大小，
	// 批次之间等待压力降到 lowWatermark 以下再继续。
	highWatermark = 0.80
	lowWatermark  = 0.75

	// 高压力时批次间的有界等待：每 500ms 轮询一次，最多 5s。
	pressurePollInterval = 500 * time.Millisecond
	pressureMaxWait      = 5 * time.Second
)

// 操作整体状态。
const (
	StatusRunning   = "running"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
)

// Config 是一次批处理操作的配置。
type Config struct {
	BatchSize            int
	MaxConcurrentBatches int
	Timeout              time.Duration
	Gauge                MemoryGauge
	// OnProgress 在每个批次（顺序模式）或每个并发组（并发模式）完成后
	// 收到一份不可变的进度快照。
	OnProgress func(Progress)
}

// Progress 是一次批处理操作的进度快照，按值传递，不共享可变状态。
type Progress struct {
	OperationID        string
	TotalItems         int
	ProcessedItems     int
	SuccessItems       int
	FailedItems        int
	CurrentBatch       int
	TotalBatches       int
	StartedAt          time.Time
	EstimatedRemaining time.Duration
	Status             string
	Errors             []string
}

// Result 是一次批处理操作的最终结果。
type Result[R any] struct {
	OperationID  string
	Results      []R
	SuccessCount int
	FailedCount  int
	Errors       []error
	Status       string
	Final        Progress
}

// batchOutcome 是单个批次的执行结果。
type batchOutcome[R any] struct {
	number  int
	size    int
	results []R
	err     error
}

// Execute 将 items 切分为批次并通过 processor 处理。
// 单个批次失败（含超时）只计入失败统计，不中止整个操作；
// 调用方取消 context 后不再调度新的批次，但在途批次会执行完毕。
func Execute[T, R any](ctx context.Context, items []T, processor func(context.Context, []T) ([]R, error), cfg Config) (*Result[R], error) {
	if processor == nil {
		return nil, fmt.Errorf("batch: processor 不能为空")
	}

	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultBatchSize
	}
	if cfg.MaxConcurrentBatches <= 0 {
		cfg.MaxConcurrentBatches = 1
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.Gauge == nil {
		cfg.Gauge = NewRuntimeGauge()
	}

	op := &operation[R]{
		id:        uuid.NewString(),
		total:     len(items),
		batchSize: cfg.BatchSize,
		startedAt: time.Now(),
		cfg:       cfg,
	}

	// 启动前根据内存压力协商批次大小
	op.renegotiateBatchSize()

	log.Infof("[BatchExecutor] 操作 %s 开始, 条目数: %d, 批次大小: %d, 并发上限: %d",
		op.id, op.total, op.batchSize, cfg.MaxConcurrentBatches)

	result := &Result[R]{OperationID: op.id, Status: StatusRunning}
	if op.total == 0 {
		result.Status = StatusCompleted
		result.Final = op.snapshot(StatusCompleted)
		return result, nil
	}

	var err error
	if cfg.MaxConcurrentBatches <= 1 {
		err = runSequential(ctx, items, processor, op, result)
	} else {
		err = runConcurrent(ctx, items, processor, op, result)
	}
	if err != nil {
		return nil, err
	}

	if result.FailedCount == 0 {
		result.Status = StatusCompleted
	} else {
		result.Status = StatusFailed
	}
	result.Final = op.snapshot(result.Status)

	log.Infof("[BatchExecutor] 操作 %s 结束, 成功: %d, 失败: %d, 状态: %s",
		op.id, result.SuccessCount, result.FailedCount, result.Status)
	return result, nil
}

// operation 聚合一次操作的运行时计数，仅在调度 goroutine 内更新。
type operation[R any] struct {
	id        string
	total     int
	batchSize int
	processed int
	success   int
	failed    int
	batchNum  int
	errs      []string
	startedAt time.Time
	cfg       Config
}

// renegotiateBatchSize 在内存压力超过高水位时将批次大小减半。
func (op *operation[R]) renegotiateBatchSize() {
	used := op.cfg.Gauge.UsedFraction()
	if used > highWatermark && op.batchSize > 1 {
		op.batchSize = op.batchSize / 2
		if op.batchSize < 1 {
			op.batchSize = 1
		}
		log.Warnf("[BatchExecutor] 操作 %s 内存压力 %.0f%% 超过阈值, 批次大小调整为 %d",
			op.id, used*100, op.batchSize)
	}
}

// waitForPressure 在批次之间等待内存压力降到低水位以下，等待有上界。
func (op *operation[R]) waitForPressure(ctx context.Context) {
	deadline := time.Now().Add(pressureMaxWait)
	for op.cfg.Gauge.UsedFraction() > lowWatermark {
		if time.Now().After(deadline) {
			log.Warnf("[BatchExecutor] 操作 %s 等待内存压力下降超时, 继续执行", op.id)
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(pressurePollInterval):
		}
	}
}

// record 累加一个批次的结果并做溢出防护。
func (op *operation[R]) record(out batchOutcome[R], result *Result[R]) error {
	if out.err != nil {
		op.failed += out.size
		result.FailedCount += out.size
		wrapped := fmt.Errorf("批次 %d (大小 %d) 失败: %w", out.number, out.size, out.err)
		result.Errors = append(result.Errors, wrapped)
		op.errs = append(op.errs, wrapped.Error())
	} else {
		op.success += out.size
		result.SuccessCount += out.size
		result.Results = append(result.Results, out.results...)
	}
	op.processed += out.size

	// 计数器防护：累加结果必须有限且不超过条目总数
	if op.processed < 0 || op.processed > op.total || op.success+op.failed != op.processed {
		return fmt.Errorf("batch: 操作 %s 内部计数异常 (processed=%d, success=%d, failed=%d, total=%d)",
			op.id, op.processed, op.success, op.failed, op.total)
	}
	return nil
}

// snapshot 生成当前进度的不可变快照。
func (op *operation[R]) snapshot(status string) Progress {
	p := Progress{
		OperationID:    op.id,
		TotalItems:     op.total,
		ProcessedItems: op.processed,
		SuccessItems:   op.success,
		FailedItems:    op.failed,
		CurrentBatch:   op.batchNum,
		StartedAt:      op.startedAt,
		Status:         status,
		Errors:         append([]string(nil), op.errs...),
	}
	remaining := op.total - op.processed
	p.TotalBatches = op.batchNum
	if remaining > 0 && op.batchSize > 0 {
		p.TotalBatches += (remaining + op.batchSize - 1) / op.batchSize
	}
	// 估算剩余时间：已耗时 / 已处理数，外推到剩余条目
	if op.processed > 0 && remaining > 0 {
		perItem := float64(time.Since(op.startedAt)) / float64(op.processed)
		if !math.IsInf(perItem, 0) && !math.IsNaN(perItem) {
			p.EstimatedRemaining = time.Duration(perItem * float64(remaining))
		}
	}
	return p
}

func (op *operation[R]) notify(status string) {
	if op.cfg.OnProgress != nil {
		op.cfg.OnProgress(op.snapshot(status))
	}
}

// runBatch 在超时竞争下执行一个批次。
// 超时不会取消底层调用，只是将该批次计为失败后继续。
func runBatch[T, R any](ctx context.Context, number int, items []T, processor func(context.Context, []T) ([]R, error), timeout time.Duration) batchOutcome[R] {
	done := make(chan batchOutcome[R], 1)
	go func() {
		results, err := processor(ctx, items)
		done <- batchOutcome[R]{number: number, size: len(items), results: results, err: err}
	}()

	select {
	case out := <-done:
		return out
	case <-time.After(timeout):
		return batchOutcome[R]{
			number: number,
			size:   len(items),
			err:    fmt.Errorf("批次执行超时 (%s)", timeout),
		}
	}
}

// nextBatch 从 pos 开始按当前批次大小取下一批，返回新的 pos。
func nextBatch[T any](items []T, pos, size int) ([]T, int) {
	end := pos + size
	if end > len(items) {
		end = len(items)
	}
	return items[pos:end], end
}

// markRemainingFailed 将未调度的条目计为失败（调用方取消场景）。
func markRemainingFailed[T, R any](ctx context.Context, items []T, pos int, op *operation[R], result *Result[R]) error {
	remaining := len(items) - pos
	if remaining <= 0 {
		return nil
	}
	log.Warnf("[BatchExecutor] 操作 %s 被取消, 剩余 %d 个条目不再调度", op.id, remaining)
	return op.record(batchOutcome[R]{
		number: op.batchNum + 1,
		size:   remaining,
		err:    fmt.Errorf("操作被取消, 批次未调度: %w", ctx.Err()),
	}, result)
}

// runSequential 严格按批次序号顺序执行。
func runSequential[T, R any](ctx context.Context, items []T, processor func(context.Context, []T) ([]R, error), op *operation[R], result *Result[R]) error {
	pos := 0
	for pos < len(items) {
		if ctx.Err() != nil {
			return markRemainingFailed(ctx, items, pos, op, result)
		}

		op.renegotiateBatchSize()
		var chunk []T
		chunk, pos = nextBatch(items, pos, op.batchSize)
		op.batchNum++

		out := runBatch(ctx, op.batchNum, chunk, processor, op.cfg.Timeout)
		if err := op.record(out, result); err != nil {
			return err
		}
		op.notify(StatusRunning)

		// 批次之间根据内存压力做有界等待
		if pos < len(items) {
			op.waitForPressure(ctx)
		}
	}
	return nil
}

// runConcurrent 以并发组为单位执行：组内批次同时启动，
// 整组作为一个屏障等待完成后才开始下一组。
func runConcurrent[T, R any](ctx context.Context, items []T, processor func(context.Context, []T) ([]R, error), op *operation[R], result *Result[R]) error {
	pos := 0
	for pos < len(items) {
		if ctx.Err() != nil {
			return markRemainingFailed(ctx, items, pos, op, result)
		}

		op.renegotiateBatchSize()

		// 组装本组的批次
		numbers := make([]int, 0, op.cfg.MaxConcurrentBatches)
		chunks := make([][]T, 0, op.cfg.MaxConcurrentBatches)
		for len(chunks) < op.cfg.MaxConcurrentBatches && pos < len(items) {
			var chunk []T
			chunk, pos = nextBatch(items, pos, op.batchSize)
			op.batchNum++
			numbers = append(numbers, op.batchNum)
			chunks = append(chunks, chunk)
		}

		// 屏障语义：同组批次一起启动，整组等待完成。
		// 批次可能乱序完成，结果按提交顺序落槽以保持条目顺序。
		outcomes := make([]batchOutcome[R], len(chunks))
		done := make(chan struct{})
		running := len(chunks)
		for i := range chunks {
			go func(slot int, number int, chunk []T) {
				outcomes[slot] = runBatch(ctx, number, chunk, processor, op.cfg.Timeout)
				done <- struct{}{}
			}(i, numbers[i], chunks[i])
		}
		for ; running > 0; running-- {
			<-done
		}

		for _, out := range outcomes {
			if err := op.record(out, result); err != nil {
				return err
			}
		}
		op.notify(StatusRunning)
	}
	return nil
}

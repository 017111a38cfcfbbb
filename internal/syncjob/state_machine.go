// Package syncjob 实现了同步任务的状态机与重试策略。
// 状态流转与重试决策都是纯函数，不依赖真实计时器，可独立测试。
package syncjob

import (
	"fmt"
	"time"

	"docvec-go/internal/apperr"
	"docvec-go/internal/model"
)

// 同步任务状态。正常路径 new → split_ok → embed_ok → synced；
// failed / retrying 可从任意非终态进入；dead 与 synced 为终态。
const (
	StatusNew      = "new"
	StatusSplitOK  = "split_ok"
	StatusEmbedOK  = "embed_ok"
	StatusSynced   = "synced"
	StatusFailed   = "failed"
	StatusRetrying = "retrying"
	StatusDead     = "dead"
)

// transitions 定义了合法的状态转移关系。
var transitions = map[string][]string{
	StatusNew:      {StatusSplitOK, StatusFailed, StatusDead},
	StatusSplitOK:  {StatusEmbedOK, StatusFailed, StatusDead},
	StatusEmbedOK:  {StatusSynced, StatusFailed, StatusDead},
	StatusFailed:   {StatusRetrying, StatusDead},
	StatusRetrying: {StatusSplitOK, StatusEmbedOK, StatusSynced, StatusFailed, StatusDead},
	// synced 与 dead 是终态，不允许任何转移
	StatusSynced: {},
	StatusDead:   {},
}

// progressByStatus 是各状态对应的进度百分比。
var progressByStatus = map[string]float64{
	StatusNew:      0,
	StatusSplitOK:  35,
	StatusEmbedOK:  70,
	StatusSynced:   100,
	StatusFailed:   0,
	StatusRetrying: 0,
	StatusDead:     0,
}

// IsTerminal 判断状态是否为终态。
func IsTerminal(status string) bool {
	return status == StatusSynced || status == StatusDead
}

// CanTransition 判断从 from 到 to 的转移是否合法。
func CanTransition(from, to string) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Apply 在任务记录上执行一次状态转移，并维护时间戳与重试计数。
// 非法转移返回错误，任务记录保持不变。
func Apply(job *model.SyncJob, to string, errMsg string, category apperr.Kind) error {
	if !CanTransition(job.Status, to) {
		return fmt.Errorf("非法的任务状态转移: %s -> %s (job=%s)", job.Status, to, job.ID)
	}

	now := time.Now()
	job.LastAttemptAt = &now
	if job.StartedAt == nil {
		job.StartedAt = &now
	}

	switch to {
	case StatusFailed:
		job.LastError = errMsg
		job.ErrorCategory = string(category)
	case StatusRetrying:
		job.Retries++
	case StatusSynced, StatusDead:
		job.CompletedAt = &now
	}

	job.Status = to
	if p, ok := progressByStatus[to]; ok {
		// 重试中保留已有进度，其余状态按阶段刷新
		if to != StatusRetrying && to != StatusFailed {
			job.Progress = p
		}
	}
	return nil
}

// 重试决策动作。
const (
	ActionRetry = "retry"
	ActionFail  = "fail"
	ActionDead  = "dead"
)

// Action 是一次失败后的处理决策。
type Action struct {
	Kind  string
	Delay time.Duration
}

// Policy 是重试策略配置。
type Policy struct {
	MaxRetries  int
	BackoffBase time.Duration
	BackoffCap  time.Duration
}

// DefaultPolicy 返回默认重试策略。
func DefaultPolicy() Policy {
	return Policy{
		MaxRetries:  3,
		BackoffBase: 5 * time.Second,
		BackoffCap:  5 * time.Minute,
	}
}

// NextAction 根据当前重试次数与错误分类做出重试决策。
// 校验与配置错误不重试；重试预算耗尽进入 dead；
// 瞬时与未知错误按指数退避重试。
func (p Policy) NextAction(retries int, category apperr.Kind) Action {
	switch category {
	case apperr.KindValidation, apperr.KindConfiguration:
		return Action{Kind: ActionFail}
	}
	if retries >= p.MaxRetries {
		return Action{Kind: ActionDead}
	}

	delay := p.BackoffBase
	for i := 0; i < retries; i++ {
		delay *= 2
		if delay >= p.BackoffCap {
			delay = p.BackoffCap
			break
		}
	}
	return Action{Kind: ActionRetry, Delay: delay}
}

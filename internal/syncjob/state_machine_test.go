package syncjob

import (
	"testing"
	"time"

	"docvec-go/internal/apperr"
	"docvec-go/internal/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCanTransition_HappyPath(t *testing.T) {
	assert.True(t, CanTransition(StatusNew, StatusSplitOK))
	assert.True(t, CanTransition(StatusSplitOK, StatusEmbedOK))
	assert.True(t, CanTransition(StatusEmbedOK, StatusSynced))
}

func TestCanTransition_TerminalStatesRejectAll(t *testing.T) {
	for _, terminal := range []string{StatusSynced, StatusDead} {
		for _, to := range []string{StatusNew, StatusSplitOK, StatusEmbedOK, StatusSynced, StatusFailed, StatusRetrying, StatusDead} {
			assert.False(t, CanTransition(terminal, to), "%s -> %s 不应被允许", terminal, to)
		}
	}
}

func TestCanTransition_NoStageSkipping(t *testing.T) {
	assert.False(t, CanTransition(StatusNew, StatusEmbedOK))
	assert.False(t, CanTransition(StatusNew, StatusSynced))
	assert.False(t, CanTransition(StatusSplitOK, StatusSynced))
}

func TestIsTerminal(t *testing.T) {
	assert.True(t, IsTerminal(StatusSynced))
	assert.True(t, IsTerminal(StatusDead))
	assert.False(t, IsTerminal(StatusFailed))
	assert.False(t, IsTerminal(StatusRetrying))
}

func TestApply_HappyPathTimestamps(t *testing.T) {
	job := &model.SyncJob{ID: "j1", Status: StatusNew}

	require.NoError(t, Apply(job, StatusSplitOK, "", ""))
	require.NotNil(t, job.StartedAt)
	assert.Equal(t, float64(35), job.Progress)

	require.NoError(t, Apply(job, StatusEmbedOK, "", ""))
	assert.Equal(t, float64(70), job.Progress)

	require.NoError(t, Apply(job, StatusSynced, "", ""))
	assert.Equal(t, float64(100), job.Progress)
	require.NotNil(t, job.CompletedAt)
	assert.False(t, job.CompletedAt.Before(*job.StartedAt))
}

func TestApply_IllegalTransitionLeavesJobUnchanged(t *testing.T) {
	job := &model.SyncJob{ID: "j2", Status: StatusSynced}
	err := Apply(job, StatusFailed, "boom", apperr.KindUnknown)
	require.Error(t, err)
	assert.Equal(t, StatusSynced, job.Status)
	assert.Empty(t, job.LastError)
}

func TestApply_FailureRecordsErrorAndCategory(t *testing.T) {
	job := &model.SyncJob{ID: "j3", Status: StatusNew}
	require.NoError(t, Apply(job, StatusFailed, "向量化失败", apperr.KindTransient))
	assert.Equal(t, "向量化失败", job.LastError)
	assert.Equal(t, string(apperr.KindTransient), job.ErrorCategory)
	assert.Nil(t, job.CompletedAt)
}

func TestApply_RetryingIncrementsRetries(t *testing.T) {
	job := &model.SyncJob{ID: "j4", Status: StatusNew}
	require.NoError(t, Apply(job, StatusFailed, "x", apperr.KindTransient))
	require.NoError(t, Apply(job, StatusRetrying, "", ""))
	assert.Equal(t, 1, job.Retries)
	require.NoError(t, Apply(job, StatusFailed, "y", apperr.KindTransient))
	require.NoError(t, Apply(job, StatusRetrying, "", ""))
	assert.Equal(t, 2, job.Retries)
}

func TestApply_DeadIsTerminal(t *testing.T) {
	job := &model.SyncJob{ID: "j5", Status: StatusNew}
	require.NoError(t, Apply(job, StatusFailed, "x", apperr.KindTransient))
	require.NoError(t, Apply(job, StatusDead, "", ""))
	require.NotNil(t, job.CompletedAt)
	assert.Error(t, Apply(job, StatusRetrying, "", ""))
}

func TestNextAction_ValidationNeverRetried(t *testing.T) {
	p := Policy{MaxRetries: 3, BackoffBase: time.Second, BackoffCap: time.Minute}
	assert.Equal(t, ActionFail, p.NextAction(0, apperr.KindValidation).Kind)
	assert.Equal(t, ActionFail, p.NextAction(0, apperr.KindConfiguration).Kind)
}

func TestNextAction_ExponentialBackoffWithCap(t *testing.T) {
	p := Policy{MaxRetries: 10, BackoffBase: time.Second, BackoffCap: 5 * time.Second}

	a0 := p.NextAction(0, apperr.KindTransient)
	require.Equal(t, ActionRetry, a0.Kind)
	assert.Equal(t, time.Second, a0.Delay)

	a1 := p.NextAction(1, apperr.KindTransient)
	assert.Equal(t, 2*time.Second, a1.Delay)

	a2 := p.NextAction(2, apperr.KindTransient)
	assert.Equal(t, 4*time.Second, a2.Delay)

	// 超出上限后退避时间封顶
	a5 := p.NextAction(5, apperr.KindTransient)
	assert.Equal(t, 5*time.Second, a5.Delay)
}

func TestNextAction_BudgetExhaustedGoesDead(t *testing.T) {
	p := Policy{MaxRetries: 3, BackoffBase: time.Second, BackoffCap: time.Minute}
	assert.Equal(t, ActionRetry, p.NextAction(2, apperr.KindTransient).Kind)
	assert.Equal(t, ActionDead, p.NextAction(3, apperr.KindTransient).Kind)
	assert.Equal(t, ActionDead, p.NextAction(4, apperr.KindUnknown).Kind)
}

func TestNextAction_UnknownCategoryIsRetried(t *testing.T) {
	p := DefaultPolicy()
	assert.Equal(t, ActionRetry, p.NextAction(0, apperr.KindUnknown).Kind)
	assert.Equal(t, ActionRetry, p.NextAction(0, apperr.KindInfrastructure).Kind)
}

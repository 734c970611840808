package task

import (
	"context"
	"time"

	"github.com/go-co-op/gocron/v2"

	"github.com/blues/tgs/internal/logger"
	"github.com/blues/tgs/internal/logic"
)

// Finalizer 结算投票结束的提案
type Finalizer interface {
	DueForFinalize(now time.Time) []uint64
	Finalize(ctx context.Context, id uint64) (*logic.Proposal, error)
}

// ProposalFinalizeJob 投票窗口关闭后自动结算提案
type ProposalFinalizeJob struct {
	ledger   Finalizer
	clock    logic.Clock
	interval time.Duration
}

// NewProposalFinalizeJob 创建提案结算任务
func NewProposalFinalizeJob(ledger Finalizer, clock logic.Clock, interval time.Duration) *ProposalFinalizeJob {
	if clock == nil {
		clock = logic.SystemClock{}
	}
	return &ProposalFinalizeJob{ledger: ledger, clock: clock, interval: interval}
}

// GetName 获取任务名称
func (j *ProposalFinalizeJob) GetName() string {
	return "proposal_finalizer"
}

// GetSchedule 获取调度配置
func (j *ProposalFinalizeJob) GetSchedule() gocron.JobDefinition {
	return gocron.DurationJob(j.interval)
}

// Execute 执行任务
func (j *ProposalFinalizeJob) Execute() {
	ids := j.ledger.DueForFinalize(j.clock.Now())
	if len(ids) == 0 {
		return
	}
	logger.Info("Finalizing %d proposals", len(ids))

	finalized := 0
	for _, id := range ids {
		p, err := j.ledger.Finalize(context.Background(), id)
		if err != nil {
			logger.Error("Failed to finalize proposal %d: %v", id, err)
			continue
		}
		finalized++
		logger.Info("Proposal %d finalized as %s", id, p.Status)
	}
	logger.Info("Proposal finalize task completed: %d/%d finalized", finalized, len(ids))
}

package event

import (
	"context"
	"errors"
	"time"

	"github.com/blues/tgs/internal/logger"
	"github.com/blues/tgs/internal/logic"
)

// ProposalSync 托管进展回写提案所需的账本操作
type ProposalSync interface {
	MarkMilestoneCompleted(ctx context.Context, caller string, id uint64, index int, at time.Time) (*logic.Proposal, error)
	Execute(ctx context.Context, caller string, id uint64) (*logic.Proposal, error)
}

// MilestoneCompletedProcessor 托管里程碑完成后同步提案里程碑
type MilestoneCompletedProcessor struct {
	proposals ProposalSync
	operator  string
}

func NewMilestoneCompletedProcessor(proposals ProposalSync, operator string) *MilestoneCompletedProcessor {
	return &MilestoneCompletedProcessor{proposals: proposals, operator: operator}
}

func (p *MilestoneCompletedProcessor) GetEventType() logic.RecordType {
	return logic.RecordMilestoneComplete
}

// Process 处理里程碑完成记录
func (p *MilestoneCompletedProcessor) Process(ctx context.Context, record logic.Record) error {
	_, err := p.proposals.MarkMilestoneCompleted(ctx, p.operator, record.ProposalID, record.MilestoneIndex, record.At)
	if err != nil {
		return err
	}
	logger.Info("Synced milestone %d of proposal %d", record.MilestoneIndex, record.ProposalID)
	return nil
}

// EscrowCompletedProcessor 托管全部释放后执行提案
type EscrowCompletedProcessor struct {
	proposals ProposalSync
	operator  string
}

func NewEscrowCompletedProcessor(proposals ProposalSync, operator string) *EscrowCompletedProcessor {
	return &EscrowCompletedProcessor{proposals: proposals, operator: operator}
}

func (p *EscrowCompletedProcessor) GetEventType() logic.RecordType {
	return logic.RecordEscrowCompleted
}

// Process 处理托管完成记录
func (p *EscrowCompletedProcessor) Process(ctx context.Context, record logic.Record) error {
	_, err := p.proposals.Execute(ctx, p.operator, record.ProposalID)
	if errors.Is(err, logic.ErrInvalidState) {
		// 重放时提案可能已执行
		logger.Debug("Proposal %d already executed: %v", record.ProposalID, err)
		return nil
	}
	if err != nil {
		return err
	}
	logger.Info("Proposal %d executed after escrow completion", record.ProposalID)
	return nil
}

package logic

import (
	"math/bits"
	"time"
	"unicode/utf8"
)

const (
	MaxTitleLength   = 200
	MaxSummaryLength = 1000
)

// ProposalParams 提案账本固定参数
type ProposalParams struct {
	MaxRequestedAmount uint64
	MinVotingPeriod    time.Duration
	MaxVotingPeriod    time.Duration
	AIScoreThreshold   uint8
	QuorumVotes        uint64
	MinProposerWeight  uint64
	// Operator 账本开设托管时使用的身份
	Operator string
}

// DefaultProposalParams 默认参数
func DefaultProposalParams() ProposalParams {
	return ProposalParams{
		MaxRequestedAmount: 1_000_000_000_000,
		MinVotingPeriod:    24 * time.Hour,
		MaxVotingPeriod:    30 * 24 * time.Hour,
		AIScoreThreshold:   70,
		QuorumVotes:        500,
		MinProposerWeight:  1,
		Operator:           "ledger-operator",
	}
}

// Validate 检查参数自身是否一致
func (p ProposalParams) Validate() error {
	if p.MaxRequestedAmount == 0 {
		return validationf("max_requested_amount 必须大于0")
	}
	if p.MinVotingPeriod <= 0 || p.MaxVotingPeriod < p.MinVotingPeriod {
		return validationf("投票周期范围无效: [%s, %s]", p.MinVotingPeriod, p.MaxVotingPeriod)
	}
	if p.AIScoreThreshold > 100 {
		return validationf("ai_score_threshold 必须在0-100之间")
	}
	if p.Operator == "" {
		return validationf("operator 不能为空")
	}
	return nil
}

// validateSubmit 验证提交参数，返回里程碑列表
func validateSubmit(in SubmitInput, params ProposalParams) ([]Milestone, error) {
	if in.Proposer == "" {
		return nil, validationf("提案人不能为空")
	}
	if n := utf8.RuneCountInString(in.Title); n < 1 || n > MaxTitleLength {
		return nil, validationf("标题长度必须在1-%d之间", MaxTitleLength)
	}
	if n := utf8.RuneCountInString(in.Summary); n < 1 || n > MaxSummaryLength {
		return nil, validationf("摘要长度必须在1-%d之间", MaxSummaryLength)
	}
	if in.ContentRef == "" {
		return nil, validationf("内容引用不能为空")
	}
	if in.RequestedAmount < 1 || in.RequestedAmount > params.MaxRequestedAmount {
		return nil, validationf("申请金额必须在1-%d之间", params.MaxRequestedAmount)
	}
	if in.VotingPeriod < params.MinVotingPeriod || in.VotingPeriod > params.MaxVotingPeriod {
		return nil, validationf("投票周期必须在%s-%s之间", params.MinVotingPeriod, params.MaxVotingPeriod)
	}
	if len(in.MilestoneDescriptions) == 0 {
		return nil, validationf("里程碑不能为空")
	}
	if len(in.MilestoneDescriptions) != len(in.MilestoneAmounts) {
		return nil, validationf("里程碑描述与金额数量不一致")
	}
	if in.ProposerWeight < params.MinProposerWeight {
		return nil, validationf("提案人权重不足: %d < %d", in.ProposerWeight, params.MinProposerWeight)
	}

	milestones := make([]Milestone, len(in.MilestoneAmounts))
	var sum uint64
	for i, amount := range in.MilestoneAmounts {
		if in.MilestoneDescriptions[i] == "" {
			return nil, validationf("第%d个里程碑描述不能为空", i)
		}
		if amount == 0 {
			return nil, validationf("第%d个里程碑金额必须大于0", i)
		}
		var carry uint64
		sum, carry = bits.Add64(sum, amount, 0)
		if carry != 0 {
			return nil, validationf("里程碑金额溢出")
		}
		milestones[i] = Milestone{Description: in.MilestoneDescriptions[i], Amount: amount}
	}
	if sum != in.RequestedAmount {
		return nil, validationf("里程碑金额之和 %d 不等于申请金额 %d", sum, in.RequestedAmount)
	}
	return milestones, nil
}

// validateMilestoneSpecs 验证托管预设里程碑
func validateMilestoneSpecs(specs []MilestoneSpec, count int, total uint64) error {
	if len(specs) != count {
		return validationf("预设里程碑数量 %d 与 milestoneCount %d 不一致", len(specs), count)
	}
	var sum uint64
	for i, s := range specs {
		if s.Amount == 0 {
			return validationf("第%d个里程碑金额必须大于0", i)
		}
		var carry uint64
		sum, carry = bits.Add64(sum, s.Amount, 0)
		if carry != 0 {
			return validationf("里程碑金额溢出")
		}
	}
	if sum != total {
		return validationf("里程碑金额之和 %d 不等于托管总额 %d", sum, total)
	}
	return nil
}

// checkEscrowInvariants 检查托管记录的会计不变量，失败即终止进程
func checkEscrowInvariants(e *Escrow) {
	if e.ReleasedAmount > e.TotalAmount {
		corrupted("escrow %d released %d exceeds total %d", e.ProposalID, e.ReleasedAmount, e.TotalAmount)
		return
	}
	if completed := e.CompletedAmount(); completed != e.ReleasedAmount {
		corrupted("escrow %d released %d does not match completed milestones %d", e.ProposalID, e.ReleasedAmount, completed)
		return
	}
	if configured := e.ConfiguredAmount(); configured > e.TotalAmount {
		corrupted("escrow %d configured milestones %d exceed total %d", e.ProposalID, configured, e.TotalAmount)
	}
}

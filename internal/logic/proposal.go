package logic

import (
	"time"
)

// ProposalStatus 提案状态
type ProposalStatus string

const (
	ProposalStatusPendingAIReview ProposalStatus = "pending_ai_review" // 待AI评审
	ProposalStatusVoting          ProposalStatus = "voting"            // 投票中
	ProposalStatusApproved        ProposalStatus = "approved"          // 已通过
	ProposalStatusRejectedByAI    ProposalStatus = "rejected_by_ai"    // AI否决
	ProposalStatusRejectedByDAO   ProposalStatus = "rejected_by_dao"   // 投票否决
	ProposalStatusExecuted        ProposalStatus = "executed"          // 已执行
	ProposalStatusCancelled       ProposalStatus = "cancelled"         // 已取消
)

// Terminal 是否为终态
func (s ProposalStatus) Terminal() bool {
	switch s {
	case ProposalStatusRejectedByAI, ProposalStatusRejectedByDAO, ProposalStatusExecuted, ProposalStatusCancelled:
		return true
	}
	return false
}

// Valid 是否为已知状态
func (s ProposalStatus) Valid() bool {
	switch s {
	case ProposalStatusPendingAIReview, ProposalStatusVoting, ProposalStatusApproved,
		ProposalStatusRejectedByAI, ProposalStatusRejectedByDAO, ProposalStatusExecuted, ProposalStatusCancelled:
		return true
	}
	return false
}

// MilestoneSpec 提交时的里程碑定义
type MilestoneSpec struct {
	Description string `json:"description"`
	Amount      uint64 `json:"amount"`
}

// Milestone 提案侧里程碑
type Milestone struct {
	Description string     `json:"description"`
	Amount      uint64     `json:"amount"`
	Completed   bool       `json:"completed"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// Proposal 资助提案
type Proposal struct {
	ID              uint64         `json:"id"`
	Proposer        string         `json:"proposer"`
	Title           string         `json:"title"`
	Summary         string         `json:"summary"`
	ContentRef      string         `json:"content_ref"`
	RequestedAmount uint64         `json:"requested_amount"`
	Milestones      []Milestone    `json:"milestones"`
	Status          ProposalStatus `json:"status"`
	SubmittedAt     time.Time      `json:"submitted_at"`
	VotingPeriod    time.Duration  `json:"voting_period"`

	// 投票窗口 [VotingStart, VotingEnd)
	VotingStart *time.Time `json:"voting_start,omitempty"`
	VotingEnd   *time.Time `json:"voting_end,omitempty"`
	Tally       VoteTally  `json:"tally"`

	AIScored           bool   `json:"ai_scored"`
	AIScore            uint8  `json:"ai_score"`
	AIJustificationRef string `json:"ai_justification_ref,omitempty"`

	UpdatedAt time.Time `json:"updated_at"`
	Version   uint64    `json:"version"`
}

// MilestoneSpecs 提案里程碑对应的托管定义
func (p *Proposal) MilestoneSpecs() []MilestoneSpec {
	specs := make([]MilestoneSpec, len(p.Milestones))
	for i, m := range p.Milestones {
		specs[i] = MilestoneSpec{Description: m.Description, Amount: m.Amount}
	}
	return specs
}

func (p *Proposal) clone() *Proposal {
	c := *p
	c.Milestones = make([]Milestone, len(p.Milestones))
	for i, m := range p.Milestones {
		c.Milestones[i] = m
		if m.CompletedAt != nil {
			t := *m.CompletedAt
			c.Milestones[i].CompletedAt = &t
		}
	}
	if p.VotingStart != nil {
		t := *p.VotingStart
		c.VotingStart = &t
	}
	if p.VotingEnd != nil {
		t := *p.VotingEnd
		c.VotingEnd = &t
	}
	c.Tally = p.Tally.clone()
	return &c
}

// SubmitInput 提交提案参数
type SubmitInput struct {
	Proposer              string
	Title                 string
	Summary               string
	ContentRef            string
	RequestedAmount       uint64
	VotingPeriod          time.Duration
	MilestoneDescriptions []string
	MilestoneAmounts      []uint64
	// ProposerWeight 外部提供的提案人余额/权重
	ProposerWeight uint64
}

// ProposalFilter 列表过滤条件
type ProposalFilter struct {
	Status   ProposalStatus
	Proposer string
}

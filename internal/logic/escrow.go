package logic

import (
	"time"
)

// EscrowStatus 托管状态
type EscrowStatus string

const (
	EscrowStatusActive    EscrowStatus = "active"    // 进行中
	EscrowStatusCompleted EscrowStatus = "completed" // 全部释放
	EscrowStatusCancelled EscrowStatus = "cancelled" // 已取消
)

// MilestoneState 托管里程碑状态
type MilestoneState string

const (
	MilestoneStateUnset             MilestoneState = "unset"              // 未设置
	MilestoneStateSet               MilestoneState = "set"                // 已设置，等待证明
	MilestoneStateEvidenceSubmitted MilestoneState = "evidence_submitted" // 已提交证明
	MilestoneStateCompleted         MilestoneState = "completed"          // 已释放
	MilestoneStateDisputed          MilestoneState = "disputed"           // 争议中
)

// MilestoneEscrow 托管里程碑
type MilestoneEscrow struct {
	Index         int            `json:"index"`
	Amount        uint64         `json:"amount"`
	Description   string         `json:"description"`
	State         MilestoneState `json:"state"`
	Completed     bool           `json:"completed"`
	CompletedAt   *time.Time     `json:"completed_at,omitempty"`
	EvidenceRef   string         `json:"evidence_ref,omitempty"`
	Approver      string         `json:"approver,omitempty"`
	Disputed      bool           `json:"disputed"`
	DisputeReason string         `json:"dispute_reason,omitempty"`
}

// Escrow 提案资金托管记录，以提案ID为主键
type Escrow struct {
	ProposalID      uint64            `json:"proposal_id"`
	Beneficiary     string            `json:"beneficiary"`
	TotalAmount     uint64            `json:"total_amount"`
	ReleasedAmount  uint64            `json:"released_amount"`
	RefundedAmount  uint64            `json:"refunded_amount"`
	RefundRecipient string            `json:"refund_recipient,omitempty"`
	MilestoneCount  int               `json:"milestone_count"`
	Milestones      []MilestoneEscrow `json:"milestones"`
	Status          EscrowStatus      `json:"status"`
	CancelReason    string            `json:"cancel_reason,omitempty"`
	CreatedAt       time.Time         `json:"created_at"`
	LastReleaseAt   *time.Time        `json:"last_release_at,omitempty"`
	UpdatedAt       time.Time         `json:"updated_at"`
	Version         uint64            `json:"version"`
}

// Remaining 尚未释放的金额
func (e *Escrow) Remaining() uint64 {
	return e.TotalAmount - e.ReleasedAmount
}

// ConfiguredAmount 已设置里程碑金额之和
func (e *Escrow) ConfiguredAmount() uint64 {
	var sum uint64
	for _, m := range e.Milestones {
		if m.State != MilestoneStateUnset {
			sum += m.Amount
		}
	}
	return sum
}

// CompletedAmount 已完成里程碑金额之和
func (e *Escrow) CompletedAmount() uint64 {
	var sum uint64
	for _, m := range e.Milestones {
		if m.Completed {
			sum += m.Amount
		}
	}
	return sum
}

func (e *Escrow) allCompleted() bool {
	for _, m := range e.Milestones {
		if !m.Completed {
			return false
		}
	}
	return true
}

func (e *Escrow) clone() *Escrow {
	c := *e
	c.Milestones = make([]MilestoneEscrow, len(e.Milestones))
	for i, m := range e.Milestones {
		c.Milestones[i] = m
		if m.CompletedAt != nil {
			t := *m.CompletedAt
			c.Milestones[i].CompletedAt = &t
		}
	}
	if e.LastReleaseAt != nil {
		t := *e.LastReleaseAt
		c.LastReleaseAt = &t
	}
	return &c
}

// OpenEscrowInput 开设托管参数
type OpenEscrowInput struct {
	ProposalID     uint64
	Beneficiary    string
	TotalAmount    uint64
	MilestoneCount int
	// Milestones 可选，预设全部里程碑
	Milestones []MilestoneSpec
}

// EscrowTotals 账本级汇总
type EscrowTotals struct {
	Escrowed      uint64 `json:"escrowed"`
	Released      uint64 `json:"released"`
	Refunded      uint64 `json:"refunded"`
	ActiveEscrows int64  `json:"active_escrows"`
}

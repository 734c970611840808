package model

import (
	"time"
)

// EscrowModel 托管快照，以提案ID为主键
type EscrowModel struct {
	ProposalId uint64    `json:"proposal_id" gorm:"primaryKey;autoIncrement:false"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`

	Beneficiary     string     `json:"beneficiary" gorm:"not null;index"`
	TotalAmount     uint64     `json:"total_amount" gorm:"not null"`
	ReleasedAmount  uint64     `json:"released_amount" gorm:"default:0"`
	RefundedAmount  uint64     `json:"refunded_amount" gorm:"default:0"`
	RefundRecipient string     `json:"refund_recipient"`
	MilestoneCount  int        `json:"milestone_count" gorm:"not null"`
	Status          string     `json:"status" gorm:"not null;index"` // active, completed, cancelled
	CancelReason    string     `json:"cancel_reason" gorm:"type:text"`
	OpenedAt        time.Time  `json:"opened_at" gorm:"not null"`
	LastReleaseAt   *time.Time `json:"last_release_at"`
	LedgerUpdated   time.Time  `json:"ledger_updated"`
	Version         uint64     `json:"version" gorm:"not null"`

	Milestones []MilestoneEscrowModel `json:"milestones,omitempty" gorm:"foreignKey:ProposalId;references:ProposalId"`
}

// TableName 自定义表名
func (EscrowModel) TableName() string {
	return "escrow"
}

// MilestoneEscrowModel 托管里程碑
type MilestoneEscrowModel struct {
	Id        int64     `json:"id" gorm:"primaryKey"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	ProposalId     uint64     `json:"proposal_id" gorm:"not null;uniqueIndex:idx_escrow_milestone"`
	MilestoneIndex int        `json:"milestone_index" gorm:"not null;uniqueIndex:idx_escrow_milestone"`
	Amount         uint64     `json:"amount" gorm:"default:0"`
	Description    string     `json:"description" gorm:"type:text"`
	State          string     `json:"state" gorm:"not null"` // unset, set, evidence_submitted, completed, disputed
	Completed      bool       `json:"completed" gorm:"default:false"`
	CompletedAt    *time.Time `json:"completed_at"`
	EvidenceRef    string     `json:"evidence_ref"`
	Approver       string     `json:"approver"`
	Disputed       bool       `json:"disputed" gorm:"default:false"`
	DisputeReason  string     `json:"dispute_reason" gorm:"type:text"`
}

// TableName 自定义表名
func (MilestoneEscrowModel) TableName() string {
	return "milestone_escrow"
}

// FundTransferModel 资金流水
type FundTransferModel struct {
	Id        int64     `json:"id" gorm:"primaryKey"`
	CreatedAt time.Time `json:"created_at"`

	RecordId       string    `json:"record_id" gorm:"uniqueIndex;not null"`
	ProposalId     uint64    `json:"proposal_id" gorm:"not null;index"`
	Kind           string    `json:"kind" gorm:"not null"` // lock, release, refund
	MilestoneIndex int       `json:"milestone_index"`
	Recipient      string    `json:"recipient"`
	Amount         uint64    `json:"amount" gorm:"not null"`
	OccurredAt     time.Time `json:"occurred_at" gorm:"not null"`

	// 链上确认信息，内存金库下始终为空
	TxHash      string `json:"tx_hash" gorm:"index"`
	BlockNumber uint64 `json:"block_number"`
}

// FundTransferKind 资金流水类型
type FundTransferKind string

const (
	FundTransferLock    FundTransferKind = "lock"    // 开设托管锁定
	FundTransferRelease FundTransferKind = "release" // 里程碑释放
	FundTransferRefund  FundTransferKind = "refund"  // 取消退款
)

// TableName 自定义表名
func (FundTransferModel) TableName() string {
	return "fund_transfer"
}

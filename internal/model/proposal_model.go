package model

import (
	"time"
)

// ProposalModel 提案快照
type ProposalModel struct {
	Id        uint64    `json:"id" gorm:"primaryKey;autoIncrement:false"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	Proposer        string `json:"proposer" gorm:"not null;index"`
	Title           string `json:"title" gorm:"not null"`
	Summary         string `json:"summary" gorm:"type:text"`
	ContentRef      string `json:"content_ref" gorm:"not null"`
	RequestedAmount uint64 `json:"requested_amount" gorm:"not null"`
	Status          string `json:"status" gorm:"not null;index"`

	SubmittedAt   time.Time  `json:"submitted_at" gorm:"not null"`
	VotingPeriod  int64      `json:"voting_period"` // 秒
	VotingStart   *time.Time `json:"voting_start"`
	VotingEnd     *time.Time `json:"voting_end"`
	ForVotes      uint64     `json:"for_votes" gorm:"default:0"`
	AgainstVotes  uint64     `json:"against_votes" gorm:"default:0"`
	AbstainVotes  uint64     `json:"abstain_votes" gorm:"default:0"`
	AIScored      bool       `json:"ai_scored" gorm:"default:false"`
	AIScore       uint8      `json:"ai_score"`
	AIJustifyRef  string     `json:"ai_justification_ref" gorm:"column:ai_justification_ref"`
	LedgerUpdated time.Time  `json:"ledger_updated"` // 账本内的更新时间
	Version       uint64     `json:"version" gorm:"not null"`

	Milestones []ProposalMilestoneModel `json:"milestones,omitempty" gorm:"foreignKey:ProposalId"`
	Votes      []VoteRecordModel        `json:"votes,omitempty" gorm:"foreignKey:ProposalId"`
}

// TableName 自定义表名
func (ProposalModel) TableName() string {
	return "proposal"
}

// ProposalMilestoneModel 提案里程碑
type ProposalMilestoneModel struct {
	Id        int64     `json:"id" gorm:"primaryKey"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	ProposalId     uint64     `json:"proposal_id" gorm:"not null;uniqueIndex:idx_proposal_milestone"`
	MilestoneIndex int        `json:"milestone_index" gorm:"not null;uniqueIndex:idx_proposal_milestone"`
	Description    string     `json:"description" gorm:"type:text"`
	Amount         uint64     `json:"amount" gorm:"not null"`
	Completed      bool       `json:"completed" gorm:"default:false"`
	CompletedAt    *time.Time `json:"completed_at"`
}

// TableName 自定义表名
func (ProposalMilestoneModel) TableName() string {
	return "proposal_milestone"
}

// VoteRecordModel 投票记录
type VoteRecordModel struct {
	Id        int64     `json:"id" gorm:"primaryKey"`
	CreatedAt time.Time `json:"created_at"`

	ProposalId uint64    `json:"proposal_id" gorm:"not null;uniqueIndex:idx_proposal_voter"`
	Voter      string    `json:"voter" gorm:"not null;uniqueIndex:idx_proposal_voter"`
	Choice     string    `json:"choice" gorm:"not null"` // for, against, abstain
	Weight     uint64    `json:"weight" gorm:"not null"`
	CastAt     time.Time `json:"cast_at" gorm:"not null"`
}

// TableName 自定义表名
func (VoteRecordModel) TableName() string {
	return "vote_record"
}

package logic

import (
	"time"

	"github.com/google/uuid"
)

// RecordType 审计记录类型
type RecordType string

const (
	RecordProposalSubmitted RecordType = "ProposalSubmitted"
	RecordVotingStarted     RecordType = "VotingStarted"
	RecordVoteCast          RecordType = "VoteCast"
	RecordProposalApproved  RecordType = "ProposalApproved"
	RecordProposalRejected  RecordType = "ProposalRejected"
	RecordProposalExecuted  RecordType = "ProposalExecuted"
	RecordProposalCancelled RecordType = "ProposalCancelled"
	RecordEscrowCreated     RecordType = "EscrowCreated"
	RecordMilestoneSet      RecordType = "MilestoneSet"
	RecordEvidenceSubmitted RecordType = "EvidenceSubmitted"
	RecordMilestoneComplete RecordType = "MilestoneCompleted"
	RecordMilestoneDisputed RecordType = "MilestoneDisputed"
	RecordDisputeResolved   RecordType = "DisputeResolved"
	RecordEscrowCompleted   RecordType = "EscrowCompleted"
	RecordEscrowCancelled   RecordType = "EscrowCancelled"
	RecordFundsReleased     RecordType = "FundsReleased"
	RecordFundsRefunded     RecordType = "FundsRefunded"
	RecordScoreRecorded     RecordType = "ScoreRecorded"

	RecordProposalMilestoneSynced RecordType = "ProposalMilestoneSynced"
)

// NoMilestone 与里程碑无关的记录
const NoMilestone = -1

// Record 账本产生的审计记录，携带变更后的记录快照
type Record struct {
	ID             string     `json:"id"`
	Type           RecordType `json:"type"`
	ProposalID     uint64     `json:"proposal_id"`
	Actor          string     `json:"actor"`
	MilestoneIndex int        `json:"milestone_index"`
	Amount         uint64     `json:"amount"`
	Detail         string     `json:"detail,omitempty"`
	At             time.Time  `json:"at"`

	Proposal *Proposal `json:"-"`
	Escrow   *Escrow   `json:"-"`

	// Journaled 账本已同步写入 Journal
	Journaled bool `json:"-"`
}

func newRecord(t RecordType, proposalID uint64, actor string, at time.Time) Record {
	return Record{
		ID:             uuid.NewString(),
		Type:           t,
		ProposalID:     proposalID,
		Actor:          actor,
		MilestoneIndex: NoMilestone,
		At:             at,
	}
}

func (r Record) withMilestone(index int) Record {
	r.MilestoneIndex = index
	return r
}

func (r Record) withAmount(amount uint64) Record {
	r.Amount = amount
	return r
}

func (r Record) withDetail(detail string) Record {
	r.Detail = detail
	return r
}

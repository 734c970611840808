package repository

import (
	"time"

	"github.com/pkg/errors"

	"github.com/blues/tgs/internal/logic"
	"github.com/blues/tgs/internal/model"
)

func proposalToModel(p *logic.Proposal) *model.ProposalModel {
	m := &model.ProposalModel{
		Id:              p.ID,
		Proposer:        p.Proposer,
		Title:           p.Title,
		Summary:         p.Summary,
		ContentRef:      p.ContentRef,
		RequestedAmount: p.RequestedAmount,
		Status:          string(p.Status),
		SubmittedAt:     p.SubmittedAt,
		VotingPeriod:    int64(p.VotingPeriod / time.Second),
		VotingStart:     p.VotingStart,
		VotingEnd:       p.VotingEnd,
		ForVotes:        p.Tally.For,
		AgainstVotes:    p.Tally.Against,
		AbstainVotes:    p.Tally.Abstain,
		AIScored:        p.AIScored,
		AIScore:         p.AIScore,
		AIJustifyRef:    p.AIJustificationRef,
		LedgerUpdated:   p.UpdatedAt,
		Version:         p.Version,
	}
	for i, ms := range p.Milestones {
		m.Milestones = append(m.Milestones, model.ProposalMilestoneModel{
			ProposalId:     p.ID,
			MilestoneIndex: i,
			Description:    ms.Description,
			Amount:         ms.Amount,
			Completed:      ms.Completed,
			CompletedAt:    ms.CompletedAt,
		})
	}
	for _, v := range p.Tally.Votes() {
		m.Votes = append(m.Votes, model.VoteRecordModel{
			ProposalId: p.ID,
			Voter:      v.Voter,
			Choice:     string(v.Choice),
			Weight:     v.Weight,
			CastAt:     v.CastAt,
		})
	}
	return m
}

func proposalFromModel(m *model.ProposalModel) (*logic.Proposal, error) {
	p := &logic.Proposal{
		ID:                 m.Id,
		Proposer:           m.Proposer,
		Title:              m.Title,
		Summary:            m.Summary,
		ContentRef:         m.ContentRef,
		RequestedAmount:    m.RequestedAmount,
		Status:             logic.ProposalStatus(m.Status),
		SubmittedAt:        m.SubmittedAt,
		VotingPeriod:       time.Duration(m.VotingPeriod) * time.Second,
		VotingStart:        m.VotingStart,
		VotingEnd:          m.VotingEnd,
		AIScored:           m.AIScored,
		AIScore:            m.AIScore,
		AIJustificationRef: m.AIJustifyRef,
		UpdatedAt:          m.LedgerUpdated,
		Version:            m.Version,
		Milestones:         make([]logic.Milestone, len(m.Milestones)),
	}
	for _, ms := range m.Milestones {
		if ms.MilestoneIndex < 0 || ms.MilestoneIndex >= len(m.Milestones) {
			return nil, errors.Errorf("proposal %d: milestone index %d out of range", m.Id, ms.MilestoneIndex)
		}
		p.Milestones[ms.MilestoneIndex] = logic.Milestone{
			Description: ms.Description,
			Amount:      ms.Amount,
			Completed:   ms.Completed,
			CompletedAt: ms.CompletedAt,
		}
	}

	votes := make([]logic.Vote, 0, len(m.Votes))
	for _, v := range m.Votes {
		votes = append(votes, logic.Vote{Voter: v.Voter, Choice: logic.VoteChoice(v.Choice), Weight: v.Weight, CastAt: v.CastAt})
	}
	tally, err := logic.RestoreVotes(votes)
	if err != nil {
		return nil, errors.Wrapf(err, "proposal %d votes", m.Id)
	}
	if tally.For != m.ForVotes || tally.Against != m.AgainstVotes || tally.Abstain != m.AbstainVotes {
		return nil, errors.Errorf("proposal %d: vote records do not match stored tally", m.Id)
	}
	p.Tally = tally
	return p, nil
}

func escrowToModel(e *logic.Escrow) *model.EscrowModel {
	m := &model.EscrowModel{
		ProposalId:      e.ProposalID,
		Beneficiary:     e.Beneficiary,
		TotalAmount:     e.TotalAmount,
		ReleasedAmount:  e.ReleasedAmount,
		RefundedAmount:  e.RefundedAmount,
		RefundRecipient: e.RefundRecipient,
		MilestoneCount:  e.MilestoneCount,
		Status:          string(e.Status),
		CancelReason:    e.CancelReason,
		OpenedAt:        e.CreatedAt,
		LastReleaseAt:   e.LastReleaseAt,
		LedgerUpdated:   e.UpdatedAt,
		Version:         e.Version,
	}
	for _, ms := range e.Milestones {
		m.Milestones = append(m.Milestones, model.MilestoneEscrowModel{
			ProposalId:     e.ProposalID,
			MilestoneIndex: ms.Index,
			Amount:         ms.Amount,
			Description:    ms.Description,
			State:          string(ms.State),
			Completed:      ms.Completed,
			CompletedAt:    ms.CompletedAt,
			EvidenceRef:    ms.EvidenceRef,
			Approver:       ms.Approver,
			Disputed:       ms.Disputed,
			DisputeReason:  ms.DisputeReason,
		})
	}
	return m
}

func escrowFromModel(m *model.EscrowModel) (*logic.Escrow, error) {
	if len(m.Milestones) != m.MilestoneCount {
		return nil, errors.Errorf("escrow %d: %d milestone rows, expected %d", m.ProposalId, len(m.Milestones), m.MilestoneCount)
	}
	e := &logic.Escrow{
		ProposalID:      m.ProposalId,
		Beneficiary:     m.Beneficiary,
		TotalAmount:     m.TotalAmount,
		ReleasedAmount:  m.ReleasedAmount,
		RefundedAmount:  m.RefundedAmount,
		RefundRecipient: m.RefundRecipient,
		MilestoneCount:  m.MilestoneCount,
		Milestones:      make([]logic.MilestoneEscrow, m.MilestoneCount),
		Status:          logic.EscrowStatus(m.Status),
		CancelReason:    m.CancelReason,
		CreatedAt:       m.OpenedAt,
		LastReleaseAt:   m.LastReleaseAt,
		UpdatedAt:       m.LedgerUpdated,
		Version:         m.Version,
	}
	for _, ms := range m.Milestones {
		if ms.MilestoneIndex < 0 || ms.MilestoneIndex >= m.MilestoneCount {
			return nil, errors.Errorf("escrow %d: milestone index %d out of range", m.ProposalId, ms.MilestoneIndex)
		}
		e.Milestones[ms.MilestoneIndex] = logic.MilestoneEscrow{
			Index:         ms.MilestoneIndex,
			Amount:        ms.Amount,
			Description:   ms.Description,
			State:         logic.MilestoneState(ms.State),
			Completed:     ms.Completed,
			CompletedAt:   ms.CompletedAt,
			EvidenceRef:   ms.EvidenceRef,
			Approver:      ms.Approver,
			Disputed:      ms.Disputed,
			DisputeReason: ms.DisputeReason,
		}
	}
	return e, nil
}

func eventToModel(r logic.Record) *model.EventModel {
	return &model.EventModel{
		RecordId:       r.ID,
		EventType:      string(r.Type),
		ProposalId:     r.ProposalID,
		Actor:          r.Actor,
		MilestoneIndex: r.MilestoneIndex,
		Amount:         r.Amount,
		Detail:         r.Detail,
		OccurredAt:     r.At,
	}
}

// transferFromRecord 资金相关记录对应的流水，其他记录返回 nil
func transferFromRecord(r logic.Record) *model.FundTransferModel {
	t := &model.FundTransferModel{
		RecordId:       r.ID,
		ProposalId:     r.ProposalID,
		MilestoneIndex: r.MilestoneIndex,
		Amount:         r.Amount,
		OccurredAt:     r.At,
	}
	switch r.Type {
	case logic.RecordEscrowCreated:
		t.Kind = string(model.FundTransferLock)
	case logic.RecordFundsReleased:
		t.Kind = string(model.FundTransferRelease)
		t.Recipient = r.Detail
	case logic.RecordFundsRefunded:
		t.Kind = string(model.FundTransferRefund)
		t.Recipient = r.Detail
	default:
		return nil
	}
	return t
}

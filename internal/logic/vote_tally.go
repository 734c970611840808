package logic

import (
	"math/bits"
	"sort"
	"time"
)

// VoteChoice 投票选项
type VoteChoice string

const (
	VoteFor     VoteChoice = "for"
	VoteAgainst VoteChoice = "against"
	VoteAbstain VoteChoice = "abstain"
)

// Valid 是否为合法选项
func (c VoteChoice) Valid() bool {
	return c == VoteFor || c == VoteAgainst || c == VoteAbstain
}

// Vote 单个投票人的投票
type Vote struct {
	Voter  string     `json:"voter"`
	Choice VoteChoice `json:"choice"`
	Weight uint64     `json:"weight"`
	CastAt time.Time  `json:"cast_at"`
}

// VoteTally 提案票数统计，嵌入在提案记录中
type VoteTally struct {
	For     uint64 `json:"for"`
	Against uint64 `json:"against"`
	Abstain uint64 `json:"abstain"`

	votes map[string]Vote
}

// HasVoted 投票人是否已投票
func (t *VoteTally) HasVoted(voter string) bool {
	_, ok := t.votes[voter]
	return ok
}

// Total 总票数
func (t *VoteTally) Total() uint64 {
	// Cast 已保证不溢出
	return t.For + t.Against + t.Abstain
}

// Votes 按投票时间排序的投票明细
func (t *VoteTally) Votes() []Vote {
	votes := make([]Vote, 0, len(t.votes))
	for _, v := range t.votes {
		votes = append(votes, v)
	}
	sort.Slice(votes, func(i, j int) bool {
		if votes[i].CastAt.Equal(votes[j].CastAt) {
			return votes[i].Voter < votes[j].Voter
		}
		return votes[i].CastAt.Before(votes[j].CastAt)
	})
	return votes
}

// Cast 记录一票，失败时统计不变
func (t *VoteTally) Cast(v Vote) error {
	if v.Voter == "" {
		return validationf("投票人不能为空")
	}
	if v.Weight == 0 {
		return validationf("投票权重必须大于0")
	}
	if !v.Choice.Valid() {
		return validationf("无效的投票选项: %s", v.Choice)
	}
	if t.HasVoted(v.Voter) {
		return duplicatef("投票人 %s 已经投过票", v.Voter)
	}
	if _, carry := bits.Add64(t.Total(), v.Weight, 0); carry != 0 {
		return validationf("投票权重溢出")
	}

	switch v.Choice {
	case VoteFor:
		t.For += v.Weight
	case VoteAgainst:
		t.Against += v.Weight
	case VoteAbstain:
		t.Abstain += v.Weight
	}
	if t.votes == nil {
		t.votes = make(map[string]Vote)
	}
	t.votes[v.Voter] = v
	return nil
}

// Outcome 计算法定票数与是否通过，平票不通过
func (t *VoteTally) Outcome(quorum uint64) (quorumMet bool, approved bool) {
	quorumMet = t.Total() >= quorum
	approved = quorumMet && t.For > t.Against
	return quorumMet, approved
}

func (t VoteTally) clone() VoteTally {
	c := t
	if t.votes != nil {
		c.votes = make(map[string]Vote, len(t.votes))
		for k, v := range t.votes {
			c.votes[k] = v
		}
	}
	return c
}

// RestoreVotes 从持久化的投票明细重建统计
func RestoreVotes(votes []Vote) (VoteTally, error) {
	var t VoteTally
	for _, v := range votes {
		if err := t.Cast(v); err != nil {
			return VoteTally{}, err
		}
	}
	return t, nil
}

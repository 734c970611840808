package logic

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVoteTallyAccounting(t *testing.T) {
	var tally VoteTally
	votes := []Vote{
		{Voter: "a", Choice: VoteFor, Weight: 7, CastAt: baseTime.Add(2 * time.Minute)},
		{Voter: "b", Choice: VoteAgainst, Weight: 3, CastAt: baseTime},
		{Voter: "c", Choice: VoteAbstain, Weight: 11, CastAt: baseTime.Add(time.Minute)},
	}
	var sum uint64
	for _, v := range votes {
		require.NoError(t, tally.Cast(v))
		sum += v.Weight
	}

	assert.Equal(t, sum, tally.Total())
	assert.Equal(t, uint64(7), tally.For)
	assert.Equal(t, uint64(3), tally.Against)
	assert.Equal(t, uint64(11), tally.Abstain)

	ordered := tally.Votes()
	require.Len(t, ordered, 3)
	assert.Equal(t, []string{"b", "c", "a"}, []string{ordered[0].Voter, ordered[1].Voter, ordered[2].Voter})

	requireKind(t, tally.Cast(Vote{Voter: "a", Choice: VoteAgainst, Weight: 1}), ErrDuplicate)
	assert.Equal(t, sum, tally.Total())
}

func TestVoteTallyOverflowLeavesTallyUnchanged(t *testing.T) {
	var tally VoteTally
	require.NoError(t, tally.Cast(Vote{Voter: "whale", Choice: VoteFor, Weight: ^uint64(0) - 1}))

	requireKind(t, tally.Cast(Vote{Voter: "minnow", Choice: VoteAgainst, Weight: 2}), ErrValidation)
	assert.Zero(t, tally.Against)
	assert.False(t, tally.HasVoted("minnow"))
}

func TestVoteTallyOutcome(t *testing.T) {
	cases := []struct {
		name              string
		forVotes, against uint64
		abstain           uint64
		quorum            uint64
		wantQuorum        bool
		wantApproved      bool
	}{
		{"approved", 600, 100, 0, 500, true, true},
		{"tie", 300, 300, 0, 500, true, false},
		{"abstain counts toward quorum", 10, 5, 485, 500, true, true},
		{"below quorum", 499, 0, 0, 500, false, false},
		{"against wins", 200, 400, 0, 500, true, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			tally := VoteTally{For: tc.forVotes, Against: tc.against, Abstain: tc.abstain}
			quorumMet, approved := tally.Outcome(tc.quorum)
			assert.Equal(t, tc.wantQuorum, quorumMet)
			assert.Equal(t, tc.wantApproved, approved)
		})
	}
}

func TestRestoreVotes(t *testing.T) {
	tally, err := RestoreVotes([]Vote{
		{Voter: "a", Choice: VoteFor, Weight: 5, CastAt: baseTime},
		{Voter: "b", Choice: VoteFor, Weight: 6, CastAt: baseTime},
	})
	require.NoError(t, err)
	assert.Equal(t, uint64(11), tally.For)
	assert.True(t, tally.HasVoted("b"))

	_, err = RestoreVotes([]Vote{
		{Voter: "a", Choice: VoteFor, Weight: 5},
		{Voter: "a", Choice: VoteFor, Weight: 5},
	})
	requireKind(t, err, ErrDuplicate)
}

package scoring

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/blues/tgs/internal/auth"
	"github.com/blues/tgs/internal/config"
	"github.com/blues/tgs/internal/logic"
	"github.com/blues/tgs/internal/model"
	"github.com/blues/tgs/internal/repository"
)

var now = time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)

type fixedClock struct{ t time.Time }

func (c *fixedClock) Now() time.Time { return c.t }

type fakeRecorder struct {
	calls []uint64
	err   error
}

func (f *fakeRecorder) RecordAIOutcome(_ context.Context, _ string, id uint64, score uint8, _ string) (*logic.Proposal, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.calls = append(f.calls, id)
	return &logic.Proposal{ID: id, AIScored: true, AIScore: score}, nil
}

type captured struct{ records []logic.Record }

func (c *captured) Emit(records ...logic.Record) { c.records = append(c.records, records...) }

func setup(t *testing.T) (*Gate, *fakeRecorder, *fixedClock, *captured) {
	t.Helper()
	db, err := repository.Init(config.DatabaseConfig{Driver: "sqlite", Path: filepath.Join(t.TempDir(), "scoring.db")})
	require.NoError(t, err)

	authority := auth.NewMemoryGate()
	authority.Grant("0xoracle", logic.RoleOracle)
	authority.Grant("0xadmin", logic.RoleAdmin)

	rec := &fakeRecorder{}
	clock := &fixedClock{t: now}
	emitted := &captured{}
	g := NewGate(db, authority, rec, config.ScoringConfig{Validity: time.Hour, Tolerance: 5},
		WithClock(clock), WithEmitter(emitted))
	require.NoError(t, g.Load(context.Background(), []string{"review-v1"}))
	return g, rec, clock, emitted
}

func validScore(id uint64) Score {
	return Score{
		ProposalID:       id,
		Overall:          80,
		Breakdown:        []int{78, 82, 81},
		JustificationRef: "ipfs://why",
		ModelTag:         "review-v1",
		ScoredAt:         now.Add(-10 * time.Minute),
	}
}

func TestSubmitForwardsToLedger(t *testing.T) {
	g, rec, _, emitted := setup(t)
	ctx := context.Background()

	p, err := g.Submit(ctx, "0xoracle", validScore(1))
	require.NoError(t, err)
	assert.Equal(t, uint8(80), p.AIScore)
	assert.Equal(t, []uint64{1}, rec.calls)

	require.Len(t, emitted.records, 1)
	assert.Equal(t, logic.RecordScoreRecorded, emitted.records[0].Type)
	assert.Equal(t, "review-v1", emitted.records[0].Detail)

	row, err := g.ScoreOf(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, string(model.ScoreStatusForwarded), row.Status)
	assert.Equal(t, []int{78, 82, 81}, row.Breakdown)

	_, err = g.Submit(ctx, "0xoracle", validScore(1))
	assert.ErrorIs(t, err, logic.ErrDuplicate)
}

func TestSubmitValidation(t *testing.T) {
	cases := []struct {
		name   string
		caller string
		mutate func(*Score)
		want   error
	}{
		{"not oracle", "0xadmin", func(*Score) {}, logic.ErrAuthorization},
		{"unknown model", "0xoracle", func(s *Score) { s.ModelTag = "other" }, logic.ErrValidation},
		{"overall above 100", "0xoracle", func(s *Score) { s.Overall = 101; s.Breakdown = nil }, logic.ErrValidation},
		{"breakdown out of range", "0xoracle", func(s *Score) { s.Breakdown = []int{80, 120} }, logic.ErrValidation},
		{"inconsistent breakdown", "0xoracle", func(s *Score) { s.Breakdown = []int{60, 70} }, logic.ErrValidation},
		{"stale", "0xoracle", func(s *Score) { s.ScoredAt = now.Add(-2 * time.Hour) }, logic.ErrValidation},
		{"future", "0xoracle", func(s *Score) { s.ScoredAt = now.Add(time.Minute) }, logic.ErrValidation},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			g, rec, _, _ := setup(t)
			s := validScore(1)
			tc.mutate(&s)
			_, err := g.Submit(context.Background(), tc.caller, s)
			assert.ErrorIs(t, err, tc.want)
			assert.Empty(t, rec.calls)
		})
	}
}

func TestCheckBreakdownTolerance(t *testing.T) {
	// 均值向下取整: (80+81)/2 = 80
	assert.NoError(t, checkBreakdown(85, []int{80, 81}, 5))
	assert.NoError(t, checkBreakdown(75, []int{80, 81}, 5))
	assert.Error(t, checkBreakdown(86, []int{80, 81}, 5))
	assert.Error(t, checkBreakdown(74, []int{80, 81}, 5))
	assert.NoError(t, checkBreakdown(0, nil, 5))
}

func TestLedgerRejectionDropsScore(t *testing.T) {
	g, rec, _, emitted := setup(t)
	ctx := context.Background()

	rec.err = fmt.Errorf("%w: proposal 1", logic.ErrInvalidState)
	_, err := g.Submit(ctx, "0xoracle", validScore(1))
	assert.ErrorIs(t, err, logic.ErrInvalidState)
	assert.Empty(t, emitted.records)

	_, err = g.ScoreOf(ctx, 1)
	assert.ErrorIs(t, err, logic.ErrNotFound)

	rec.err = nil
	_, err = g.Submit(ctx, "0xoracle", validScore(1))
	assert.NoError(t, err)
}

func TestModelTags(t *testing.T) {
	g, _, _, _ := setup(t)
	ctx := context.Background()

	assert.ErrorIs(t, g.AddModel(ctx, "0xoracle", "review-v2"), logic.ErrAuthorization)
	require.NoError(t, g.AddModel(ctx, "0xadmin", "review-v2"))
	assert.Equal(t, []string{"review-v1", "review-v2"}, g.Models())

	require.NoError(t, g.RemoveModel(ctx, "0xadmin", "review-v1"))
	assert.False(t, g.HasModel("review-v1"))
	assert.ErrorIs(t, g.RemoveModel(ctx, "0xadmin", "review-v1"), logic.ErrNotFound)

	// 重新加载后保持一致
	require.NoError(t, g.Load(ctx, nil))
	assert.Equal(t, []string{"review-v2"}, g.Models())
}

func TestSweep(t *testing.T) {
	g, rec, clock, _ := setup(t)
	ctx := context.Background()

	fresh := &model.AIScoreModel{ProposalId: 7, Oracle: "0xoracle", Overall: 90, ModelTag: "review-v1",
		ScoredAt: now.Add(-5 * time.Minute), Status: string(model.ScoreStatusPending)}
	old := &model.AIScoreModel{ProposalId: 8, Oracle: "0xoracle", Overall: 90, ModelTag: "review-v1",
		ScoredAt: now.Add(-90 * time.Minute), Status: string(model.ScoreStatusPending)}
	require.NoError(t, g.db.Create(fresh).Error)
	require.NoError(t, g.db.Create(old).Error)

	forwarded, expired, err := g.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, forwarded)
	assert.Equal(t, 1, expired)
	assert.Equal(t, []uint64{7}, rec.calls)

	row, err := g.ScoreOf(ctx, 8)
	require.NoError(t, err)
	assert.Equal(t, string(model.ScoreStatusExpired), row.Status)

	clock.t = now.Add(24 * time.Hour)
	forwarded, expired, err = g.Sweep(ctx)
	require.NoError(t, err)
	assert.Zero(t, forwarded)
	assert.Zero(t, expired)
}

func TestSweepReportsExpireFailure(t *testing.T) {
	g, rec, _, _ := setup(t)
	ctx := context.Background()

	row := &model.AIScoreModel{ProposalId: 9, Oracle: "0xoracle", Overall: 70, ModelTag: "review-v1",
		ScoredAt: now.Add(-5 * time.Minute), Status: string(model.ScoreStatusPending)}
	require.NoError(t, g.db.Create(row).Error)

	rec.err = fmt.Errorf("%w: proposal 9", logic.ErrNotFound)
	readOnly := errors.New("database is read-only")
	require.NoError(t, g.db.Callback().Update().Before("gorm:update").Register("test:read_only", func(tx *gorm.DB) {
		_ = tx.AddError(readOnly)
	}))

	forwarded, expired, err := g.Sweep(ctx)
	assert.ErrorIs(t, err, readOnly)
	assert.Zero(t, forwarded)
	assert.Zero(t, expired)

	require.NoError(t, g.db.Callback().Update().Remove("test:read_only"))
	stored, err := g.ScoreOf(ctx, 9)
	require.NoError(t, err)
	assert.Equal(t, string(model.ScoreStatusPending), stored.Status)
}

package logic

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

var baseTime = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

type fakeGate struct {
	mu    sync.Mutex
	roles map[string]map[Role]bool
}

func newFakeGate() *fakeGate {
	return &fakeGate{roles: make(map[string]map[Role]bool)}
}

func (g *fakeGate) grant(identity string, roles ...Role) *fakeGate {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.roles[identity] == nil {
		g.roles[identity] = make(map[Role]bool)
	}
	for _, r := range roles {
		g.roles[identity][r] = true
	}
	return g
}

func (g *fakeGate) HasCapability(identity string, role Role) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.roles[identity][role]
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type transfer struct {
	kind   string
	id     uint64
	to     string
	amount uint64
}

type fakeTreasury struct {
	mu        sync.Mutex
	available uint64
	transfers []transfer

	// failNext 下一次 Release/Refund 返回的错误
	failNext error
	// lockErr Lock 返回的错误
	lockErr error
	// hook 在转账过程中回调，用于模拟受益人回调重入
	hook func(kind string, id uint64)
}

func (t *fakeTreasury) Lock(ctx context.Context, id uint64, amount uint64) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.lockErr != nil {
		return t.lockErr
	}
	if amount > t.available {
		return wrapf(ErrInsufficientFunds, "available %d", t.available)
	}
	t.available -= amount
	t.transfers = append(t.transfers, transfer{kind: "lock", id: id, amount: amount})
	return nil
}

func (t *fakeTreasury) Release(ctx context.Context, id uint64, to string, amount uint64) error {
	return t.move("release", id, to, amount)
}

func (t *fakeTreasury) Refund(ctx context.Context, id uint64, to string, amount uint64) error {
	return t.move("refund", id, to, amount)
}

func (t *fakeTreasury) move(kind string, id uint64, to string, amount uint64) error {
	t.mu.Lock()
	hook := t.hook
	err := t.failNext
	t.failNext = nil
	t.mu.Unlock()

	if hook != nil {
		hook(kind, id)
	}
	if err != nil {
		return err
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	t.transfers = append(t.transfers, transfer{kind: kind, id: id, to: to, amount: amount})
	return nil
}

func (t *fakeTreasury) moved(kind string) []transfer {
	t.mu.Lock()
	defer t.mu.Unlock()
	var out []transfer
	for _, tr := range t.transfers {
		if tr.kind == kind {
			out = append(out, tr)
		}
	}
	return out
}

type fakeJournal struct {
	mu       sync.Mutex
	batches  [][]Record
	failNext error
}

func (j *fakeJournal) Apply(_ context.Context, records []Record) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if err := j.failNext; err != nil {
		j.failNext = nil
		return err
	}
	j.batches = append(j.batches, records)
	return nil
}

func (j *fakeJournal) fail(err error) {
	j.mu.Lock()
	j.failNext = err
	j.mu.Unlock()
}

func (j *fakeJournal) count(t RecordType) int {
	j.mu.Lock()
	defer j.mu.Unlock()
	n := 0
	for _, b := range j.batches {
		for _, r := range b {
			if r.Type == t {
				n++
			}
		}
	}
	return n
}

type recordingEmitter struct {
	mu      sync.Mutex
	records []Record
}

func (e *recordingEmitter) Emit(records ...Record) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.records = append(e.records, records...)
}

func (e *recordingEmitter) types() []RecordType {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]RecordType, 0, len(e.records))
	for _, r := range e.records {
		out = append(out, r.Type)
	}
	return out
}

func (e *recordingEmitter) count(t RecordType) int {
	n := 0
	for _, rt := range e.types() {
		if rt == t {
			n++
		}
	}
	return n
}

const (
	admin    = "0xadmin"
	oracle   = "0xoracle"
	manager  = "0xmanager"
	approver = "0xapprover"
	resolver = "0xresolver"
	alice    = "0xalice"
	sink     = "0xsink"
)

type harness struct {
	gate      *fakeGate
	clock     *fakeClock
	treasury  *fakeTreasury
	emitter   *recordingEmitter
	proposals *ProposalLedger
	escrows   *EscrowLedger
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	params := DefaultProposalParams()
	h := &harness{
		gate: newFakeGate().
			grant(admin, RoleAdmin).
			grant(oracle, RoleOracle).
			grant(manager, RoleTreasuryManager).
			grant(approver, RoleMilestoneApprover).
			grant(resolver, RoleDisputeResolver).
			grant(params.Operator, RoleTreasuryManager),
		clock:    &fakeClock{now: baseTime},
		treasury: &fakeTreasury{available: 1_000_000},
		emitter:  &recordingEmitter{},
	}

	var err error
	h.escrows, err = NewEscrowLedger(EscrowParams{TreasurySink: sink}, h.gate, h.treasury, WithClock(h.clock), WithEmitter(h.emitter))
	require.NoError(t, err)
	h.proposals, err = NewProposalLedger(params, h.gate, h.escrows, WithClock(h.clock), WithEmitter(h.emitter))
	require.NoError(t, err)

	prev := corrupted
	corrupted = func(format string, args ...interface{}) {
		t.Fatalf("ledger corruption: "+format, args...)
	}
	t.Cleanup(func() { corrupted = prev })
	return h
}

// withJournal 重建账本，记录同步写入 journal
func (h *harness) withJournal(t *testing.T) *fakeJournal {
	t.Helper()
	j := &fakeJournal{}
	var err error
	h.escrows, err = NewEscrowLedger(EscrowParams{TreasurySink: sink}, h.gate, h.treasury,
		WithClock(h.clock), WithEmitter(h.emitter), WithJournal(j))
	require.NoError(t, err)
	h.proposals, err = NewProposalLedger(DefaultProposalParams(), h.gate, h.escrows,
		WithClock(h.clock), WithEmitter(h.emitter), WithJournal(j))
	require.NoError(t, err)
	return j
}

func validSubmit() SubmitInput {
	return SubmitInput{
		Proposer:              alice,
		Title:                 "Community garden",
		Summary:               "Build a garden in three phases",
		ContentRef:            "ipfs://QmGarden",
		RequestedAmount:       300,
		VotingPeriod:          48 * time.Hour,
		MilestoneDescriptions: []string{"design", "build", "handover"},
		MilestoneAmounts:      []uint64{100, 100, 100},
		ProposerWeight:        10,
	}
}

// approvedProposal 走完评分与投票，返回已开设托管的提案
func (h *harness) approvedProposal(t *testing.T) *Proposal {
	t.Helper()
	ctx := context.Background()
	p, err := h.proposals.Submit(ctx, validSubmit())
	require.NoError(t, err)
	_, err = h.proposals.RecordAIOutcome(ctx, oracle, p.ID, 80, "ipfs://QmScore")
	require.NoError(t, err)
	_, err = h.proposals.CastVote(ctx, p.ID, "0xv1", 600, VoteFor)
	require.NoError(t, err)
	_, err = h.proposals.CastVote(ctx, p.ID, "0xv2", 100, VoteAgainst)
	require.NoError(t, err)
	h.clock.advance(48 * time.Hour)
	p, err = h.proposals.Finalize(ctx, p.ID)
	require.NoError(t, err)
	require.Equal(t, ProposalStatusApproved, p.Status)
	return p
}

// release 提交证明并审批指定里程碑
func (h *harness) release(t *testing.T, id uint64, index int) *Escrow {
	t.Helper()
	ctx := context.Background()
	_, err := h.escrows.SubmitEvidence(ctx, alice, id, index, "ipfs://QmEvidence")
	require.NoError(t, err)
	e, err := h.escrows.ApproveMilestone(ctx, approver, id, index)
	require.NoError(t, err)
	return e
}

func requireKind(t *testing.T, err error, kind error) {
	t.Helper()
	require.Error(t, err)
	require.Truef(t, errors.Is(err, kind), "expected %v, got %v", kind, err)
}

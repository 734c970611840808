package logic

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/blues/tgs/internal/logger"
)

// EscrowOpener 提案通过时开设托管
type EscrowOpener interface {
	OpenEscrow(ctx context.Context, caller string, in OpenEscrowInput) (*Escrow, error)
	Get(id uint64) (*Escrow, error)
}

type proposalEntry struct {
	mu       sync.Mutex
	p        *Proposal
	inFlight bool // 正在开设托管或写入记录
}

// ProposalLedger 提案账本，管理提案状态机
type ProposalLedger struct {
	mu      sync.RWMutex
	entries map[uint64]*proposalEntry
	nextID  uint64

	params  ProposalParams
	gate    AuthorityGate
	escrow  EscrowOpener
	clock   Clock
	emitter Emitter
	journal Journal
}

// NewProposalLedger 创建提案账本
func NewProposalLedger(params ProposalParams, gate AuthorityGate, escrow EscrowOpener, opts ...Option) (*ProposalLedger, error) {
	if err := params.Validate(); err != nil {
		return nil, err
	}
	if gate == nil || escrow == nil {
		return nil, validationf("gate 和 escrow 不能为空")
	}
	o := buildOptions(opts)
	return &ProposalLedger{
		entries: make(map[uint64]*proposalEntry),
		params:  params,
		gate:    gate,
		escrow:  escrow,
		clock:   o.clock,
		emitter: o.emitter,
		journal: o.journal,
	}, nil
}

// Params 账本参数
func (l *ProposalLedger) Params() ProposalParams {
	return l.params
}

// Submit 提交提案
func (l *ProposalLedger) Submit(ctx context.Context, in SubmitInput) (*Proposal, error) {
	now := l.clock.Now()

	milestones, err := validateSubmit(in, l.params)
	if err != nil {
		return nil, err
	}

	// 先分配ID，落盘成功后才加入账本，ID 不会复用
	l.mu.Lock()
	l.nextID++
	id := l.nextID
	l.mu.Unlock()

	p := &Proposal{
		ID:              id,
		Proposer:        in.Proposer,
		Title:           in.Title,
		Summary:         in.Summary,
		ContentRef:      in.ContentRef,
		RequestedAmount: in.RequestedAmount,
		Milestones:      milestones,
		Status:          ProposalStatusPendingAIReview,
		SubmittedAt:     now,
		VotingPeriod:    in.VotingPeriod,
		UpdatedAt:       now,
		Version:         1,
	}
	snap := p.clone()
	rec := newRecord(RecordProposalSubmitted, snap.ID, snap.Proposer, now).withAmount(snap.RequestedAmount)
	records := attachProposal([]Record{rec}, snap)
	if err := persist(ctx, l.journal, records); err != nil {
		return nil, err
	}

	l.mu.Lock()
	l.entries[p.ID] = &proposalEntry{p: p}
	l.mu.Unlock()

	logger.Info("Proposal %d submitted by %s, requested amount: %d", snap.ID, snap.Proposer, snap.RequestedAmount)
	l.emitter.Emit(records...)
	return snap.clone(), nil
}

// RecordAIOutcome 记录AI评分结果，每个提案只能调用一次
func (l *ProposalLedger) RecordAIOutcome(ctx context.Context, caller string, id uint64, score uint8, justificationRef string) (*Proposal, error) {
	now := l.clock.Now()
	if !hasAny(l.gate, caller, RoleOracle) {
		return nil, authorizationf("%s 没有评分权限", caller)
	}
	if score > 100 {
		return nil, validationf("评分必须在0-100之间")
	}

	return l.mutate(ctx, id, now, func(p *Proposal) ([]Record, error) {
		if p.Status != ProposalStatusPendingAIReview {
			return nil, invalidStatef("提案 %d 当前状态 %s 不能记录评分", p.ID, p.Status)
		}
		p.AIScored = true
		p.AIScore = score
		p.AIJustificationRef = justificationRef

		if score < l.params.AIScoreThreshold {
			p.Status = ProposalStatusRejectedByAI
			logger.Info("Proposal %d rejected by AI review, score %d < %d", p.ID, score, l.params.AIScoreThreshold)
			return []Record{
				newRecord(RecordProposalRejected, p.ID, caller, now).withAmount(uint64(score)).withDetail(string(ProposalStatusRejectedByAI)),
			}, nil
		}

		start := now
		end := now.Add(p.VotingPeriod)
		p.VotingStart = &start
		p.VotingEnd = &end
		p.Status = ProposalStatusVoting
		logger.Info("Proposal %d passed AI review with score %d, voting until %s", p.ID, score, end.Format(time.RFC3339))
		return []Record{
			newRecord(RecordVotingStarted, p.ID, caller, now).withAmount(uint64(score)).withDetail(end.Format(time.RFC3339)),
		}, nil
	})
}

// CastVote 投票
func (l *ProposalLedger) CastVote(ctx context.Context, id uint64, voter string, weight uint64, choice VoteChoice) (*Proposal, error) {
	now := l.clock.Now()

	return l.mutate(ctx, id, now, func(p *Proposal) ([]Record, error) {
		if p.Status != ProposalStatusVoting {
			return nil, invalidStatef("提案 %d 当前状态 %s 不在投票中", p.ID, p.Status)
		}
		if now.Before(*p.VotingStart) || !now.Before(*p.VotingEnd) {
			return nil, invalidStatef("提案 %d 不在投票窗口内", p.ID)
		}
		if err := p.Tally.Cast(Vote{Voter: voter, Choice: choice, Weight: weight, CastAt: now}); err != nil {
			return nil, err
		}
		return []Record{
			newRecord(RecordVoteCast, p.ID, voter, now).withAmount(weight).withDetail(string(choice)),
		}, nil
	})
}

// Finalize 投票窗口结束后计算结果，通过时开设托管
func (l *ProposalLedger) Finalize(ctx context.Context, id uint64) (*Proposal, error) {
	now := l.clock.Now()

	e, err := l.entry(id)
	if err != nil {
		return nil, err
	}

	e.mu.Lock()
	if e.inFlight {
		e.mu.Unlock()
		return nil, wrapf(ErrReentrancy, "提案 %d 有操作正在进行", id)
	}
	p := e.p
	if p.Status != ProposalStatusVoting {
		e.mu.Unlock()
		return nil, invalidStatef("提案 %d 当前状态 %s 不能结算", id, p.Status)
	}
	if now.Before(*p.VotingEnd) {
		e.mu.Unlock()
		return nil, invalidStatef("提案 %d 投票窗口尚未结束", id)
	}

	quorumMet, approved := p.Tally.Outcome(l.params.QuorumVotes)
	if !approved {
		next := p.clone()
		next.Status = ProposalStatusRejectedByDAO
		rec := newRecord(RecordProposalRejected, id, "", now).withAmount(next.Tally.Total()).withDetail(string(ProposalStatusRejectedByDAO))
		snap, err := l.commit(ctx, e, next, now, []Record{rec})
		if err != nil {
			return nil, err
		}
		logger.Info("Proposal %d rejected by vote (quorum met: %t, for %d, against %d)", id, quorumMet, snap.Tally.For, snap.Tally.Against)
		return snap, nil
	}

	// 开设托管期间释放记录锁，由 inFlight 阻止其他变更
	e.inFlight = true
	in := OpenEscrowInput{
		ProposalID:     p.ID,
		Beneficiary:    p.Proposer,
		TotalAmount:    p.RequestedAmount,
		MilestoneCount: len(p.Milestones),
		Milestones:     p.MilestoneSpecs(),
	}
	e.mu.Unlock()

	_, openErr := l.escrow.OpenEscrow(ctx, l.params.Operator, in)
	if errors.Is(openErr, ErrDuplicate) && l.adoptEscrow(in) {
		// 上次结算已开设托管但提案状态未落盘
		logger.Warn("Escrow for proposal %d already exists with matching terms, adopting it", id)
		openErr = nil
	}

	e.mu.Lock()
	if openErr != nil {
		e.inFlight = false
		e.mu.Unlock()
		logger.Error("Failed to open escrow for proposal %d: %v", id, openErr)
		return nil, openErr
	}
	next := e.p.clone()
	next.Status = ProposalStatusApproved
	rec := newRecord(RecordProposalApproved, id, "", now).withAmount(next.RequestedAmount)
	snap, err := l.commit(ctx, e, next, now, []Record{rec})
	if err != nil {
		logger.Error("Escrow for proposal %d opened but approval not persisted: %v", id, err)
		return nil, err
	}

	logger.Info("Proposal %d approved (for %d, against %d), escrow opened for %d", id, snap.Tally.For, snap.Tally.Against, snap.RequestedAmount)
	return snap, nil
}

// adoptEscrow 已存在的托管与本次开设的受益人和金额一致
func (l *ProposalLedger) adoptEscrow(in OpenEscrowInput) bool {
	existing, err := l.escrow.Get(in.ProposalID)
	if err != nil {
		return false
	}
	return existing.Beneficiary == in.Beneficiary &&
		existing.TotalAmount == in.TotalAmount &&
		existing.MilestoneCount == in.MilestoneCount
}

// Cancel 取消提案，仅提案人或管理员
func (l *ProposalLedger) Cancel(ctx context.Context, caller string, id uint64) (*Proposal, error) {
	now := l.clock.Now()

	return l.mutate(ctx, id, now, func(p *Proposal) ([]Record, error) {
		if caller == "" || (caller != p.Proposer && !hasAny(l.gate, caller, RoleAdmin)) {
			return nil, authorizationf("%s 不能取消提案 %d", caller, p.ID)
		}
		if p.Status != ProposalStatusPendingAIReview && p.Status != ProposalStatusVoting {
			return nil, invalidStatef("提案 %d 当前状态 %s 不能取消", p.ID, p.Status)
		}
		p.Status = ProposalStatusCancelled
		logger.Info("Proposal %d cancelled by %s", p.ID, caller)
		return []Record{newRecord(RecordProposalCancelled, p.ID, caller, now)}, nil
	})
}

// Execute 托管全部释放后将提案标记为已执行
func (l *ProposalLedger) Execute(ctx context.Context, caller string, id uint64) (*Proposal, error) {
	now := l.clock.Now()
	if !hasAny(l.gate, caller, RoleAdmin, RoleTreasuryManager) {
		return nil, authorizationf("%s 没有执行权限", caller)
	}

	return l.mutate(ctx, id, now, func(p *Proposal) ([]Record, error) {
		if p.Status != ProposalStatusApproved {
			return nil, invalidStatef("提案 %d 当前状态 %s 不能执行", p.ID, p.Status)
		}
		p.Status = ProposalStatusExecuted
		logger.Info("Proposal %d executed", p.ID)
		return []Record{newRecord(RecordProposalExecuted, p.ID, caller, now).withAmount(p.RequestedAmount)}, nil
	})
}

// MarkMilestoneCompleted 同步托管侧里程碑完成状态，重复调用无副作用
func (l *ProposalLedger) MarkMilestoneCompleted(ctx context.Context, caller string, id uint64, index int, at time.Time) (*Proposal, error) {
	now := l.clock.Now()
	if !hasAny(l.gate, caller, RoleAdmin, RoleTreasuryManager) {
		return nil, authorizationf("%s 没有更新里程碑的权限", caller)
	}

	return l.mutate(ctx, id, now, func(p *Proposal) ([]Record, error) {
		if index < 0 || index >= len(p.Milestones) {
			return nil, validationf("里程碑序号 %d 超出范围", index)
		}
		if p.Status != ProposalStatusApproved && p.Status != ProposalStatusExecuted {
			return nil, invalidStatef("提案 %d 当前状态 %s 没有托管", p.ID, p.Status)
		}
		m := &p.Milestones[index]
		if m.Completed {
			return nil, nil
		}
		completedAt := at
		m.Completed = true
		m.CompletedAt = &completedAt
		return []Record{
			newRecord(RecordProposalMilestoneSynced, p.ID, caller, now).withMilestone(index).withAmount(m.Amount),
		}, nil
	})
}

// Get 获取提案
func (l *ProposalLedger) Get(id uint64) (*Proposal, error) {
	e, err := l.entry(id)
	if err != nil {
		return nil, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.p.clone(), nil
}

// List 获取提案列表，按ID升序
func (l *ProposalLedger) List(filter ProposalFilter) []*Proposal {
	l.mu.RLock()
	entries := make([]*proposalEntry, 0, len(l.entries))
	for _, e := range l.entries {
		entries = append(entries, e)
	}
	l.mu.RUnlock()

	result := make([]*Proposal, 0, len(entries))
	for _, e := range entries {
		e.mu.Lock()
		p := e.p
		if (filter.Status == "" || p.Status == filter.Status) && (filter.Proposer == "" || p.Proposer == filter.Proposer) {
			result = append(result, p.clone())
		}
		e.mu.Unlock()
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result
}

// DueForFinalize 投票窗口已结束、等待结算的提案
func (l *ProposalLedger) DueForFinalize(now time.Time) []uint64 {
	var ids []uint64
	for _, p := range l.List(ProposalFilter{Status: ProposalStatusVoting}) {
		if p.VotingEnd != nil && !now.Before(*p.VotingEnd) {
			ids = append(ids, p.ID)
		}
	}
	return ids
}

// Restore 从持久化记录重建账本，任一记录无效时不做任何改动
func (l *ProposalLedger) Restore(proposals []*Proposal) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	staged := make(map[uint64]*proposalEntry, len(proposals))
	nextID := l.nextID
	for _, p := range proposals {
		if !p.Status.Valid() {
			return validationf("提案 %d 状态无效: %s", p.ID, p.Status)
		}
		if _, exists := l.entries[p.ID]; exists {
			return duplicatef("提案 %d 重复", p.ID)
		}
		if _, exists := staged[p.ID]; exists {
			return duplicatef("提案 %d 重复", p.ID)
		}
		if p.Status == ProposalStatusVoting && (p.VotingStart == nil || p.VotingEnd == nil) {
			return validationf("提案 %d 缺少投票窗口", p.ID)
		}
		staged[p.ID] = &proposalEntry{p: p.clone()}
		if p.ID > nextID {
			nextID = p.ID
		}
	}
	for id, e := range staged {
		l.entries[id] = e
	}
	l.nextID = nextID
	logger.Info("Restored %d proposals, next id %d", len(proposals), l.nextID+1)
	return nil
}

func (l *ProposalLedger) entry(id uint64) (*proposalEntry, error) {
	l.mu.RLock()
	e, ok := l.entries[id]
	l.mu.RUnlock()
	if !ok {
		return nil, notFoundf("提案 %d 不存在", id)
	}
	return e, nil
}

// mutate 在记录锁内对副本执行变更，成功后替换并发出记录
// fn 未返回记录时视为无变更
func (l *ProposalLedger) mutate(ctx context.Context, id uint64, now time.Time, fn func(p *Proposal) ([]Record, error)) (*Proposal, error) {
	e, err := l.entry(id)
	if err != nil {
		return nil, err
	}

	e.mu.Lock()
	if e.inFlight {
		e.mu.Unlock()
		return nil, wrapf(ErrReentrancy, "提案 %d 有操作正在进行", id)
	}
	next := e.p.clone()
	records, err := fn(next)
	if err != nil {
		e.mu.Unlock()
		return nil, err
	}
	if len(records) == 0 {
		current := e.p.clone()
		e.mu.Unlock()
		return current, nil
	}
	return l.commit(ctx, e, next, now, records)
}

// commit 持有记录锁时调用，记录落盘后替换快照并释放锁
// 落盘失败时保留原记录
func (l *ProposalLedger) commit(ctx context.Context, e *proposalEntry, next *Proposal, now time.Time, records []Record) (*Proposal, error) {
	next.UpdatedAt = now
	next.Version++
	snap := next.clone()
	records = attachProposal(records, snap)

	if l.journal != nil {
		// 落盘期间释放记录锁，由 inFlight 阻止其他变更
		e.inFlight = true
		e.mu.Unlock()
		err := persist(ctx, l.journal, records)
		e.mu.Lock()
		if err != nil {
			e.inFlight = false
			e.mu.Unlock()
			return nil, err
		}
	}
	e.inFlight = false
	e.p = next
	e.mu.Unlock()

	l.emitter.Emit(records...)
	return snap.clone(), nil
}

package logic

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/blues/tgs/internal/logger"
)

// EscrowParams 托管账本参数
type EscrowParams struct {
	// TreasurySink 取消托管时的退款接收方，为空时退给发起取消的管理员
	TreasurySink string
}

type escrowEntry struct {
	mu sync.Mutex
	e  *Escrow
	// inFlight 外部资金操作进行中，期间拒绝该托管的所有变更
	inFlight bool
	// opening 托管正在锁定资金，尚未生效
	opening bool
	// pending 结果未知的转账，确认前 e 保持操作前的记录
	pending *pendingTransfer
}

// pendingTransfer 已发出但未确认的转账及其记账结果
type pendingTransfer struct {
	kind    string // release, refund
	amount  uint64
	next    *Escrow
	records []Record
	settle  func()
}

// EscrowLedger 托管账本，管理资金锁定、里程碑释放与争议
type EscrowLedger struct {
	mu      sync.RWMutex
	entries map[uint64]*escrowEntry

	params   EscrowParams
	gate     AuthorityGate
	treasury Treasury
	clock    Clock
	emitter  Emitter
	journal  Journal

	// 账本级汇总
	escrowed atomic.Uint64
	released atomic.Uint64
	refunded atomic.Uint64
	active   atomic.Int64
}

// NewEscrowLedger 创建托管账本
func NewEscrowLedger(params EscrowParams, gate AuthorityGate, treasury Treasury, opts ...Option) (*EscrowLedger, error) {
	if gate == nil || treasury == nil {
		return nil, validationf("gate 和 treasury 不能为空")
	}
	o := buildOptions(opts)
	return &EscrowLedger{
		entries:  make(map[uint64]*escrowEntry),
		params:   params,
		gate:     gate,
		treasury: treasury,
		clock:    o.clock,
		emitter:  o.emitter,
		journal:  o.journal,
	}, nil
}

// OpenEscrow 为通过的提案开设托管并锁定资金，每个提案只能一次
func (l *EscrowLedger) OpenEscrow(ctx context.Context, caller string, in OpenEscrowInput) (*Escrow, error) {
	now := l.clock.Now()
	if !hasAny(l.gate, caller, RoleAdmin, RoleTreasuryManager) {
		return nil, authorizationf("%s 没有开设托管的权限", caller)
	}
	if in.Beneficiary == "" {
		return nil, validationf("受益人不能为空")
	}
	if in.TotalAmount == 0 {
		return nil, validationf("托管金额必须大于0")
	}
	if in.MilestoneCount < 1 {
		return nil, validationf("里程碑数量必须大于0")
	}
	if in.Milestones != nil {
		if err := validateMilestoneSpecs(in.Milestones, in.MilestoneCount, in.TotalAmount); err != nil {
			return nil, err
		}
	}

	escrow := &Escrow{
		ProposalID:     in.ProposalID,
		Beneficiary:    in.Beneficiary,
		TotalAmount:    in.TotalAmount,
		MilestoneCount: in.MilestoneCount,
		Milestones:     make([]MilestoneEscrow, in.MilestoneCount),
		Status:         EscrowStatusActive,
		CreatedAt:      now,
		UpdatedAt:      now,
		Version:        1,
	}
	for i := range escrow.Milestones {
		escrow.Milestones[i] = MilestoneEscrow{Index: i, State: MilestoneStateUnset}
		if in.Milestones != nil {
			escrow.Milestones[i].Amount = in.Milestones[i].Amount
			escrow.Milestones[i].Description = in.Milestones[i].Description
			escrow.Milestones[i].State = MilestoneStateSet
		}
	}

	// 先占位，防止并发重复开设
	l.mu.Lock()
	if _, exists := l.entries[in.ProposalID]; exists {
		l.mu.Unlock()
		return nil, duplicatef("提案 %d 的托管已存在", in.ProposalID)
	}
	entry := &escrowEntry{e: escrow, inFlight: true, opening: true}
	l.entries[in.ProposalID] = entry
	l.mu.Unlock()

	if err := l.treasury.Lock(ctx, in.ProposalID, in.TotalAmount); err != nil {
		l.mu.Lock()
		delete(l.entries, in.ProposalID)
		l.mu.Unlock()
		if errors.Is(err, ErrOutcomeUnknown) {
			logger.Warn("Lock of %d for escrow %d has unknown outcome, it will show as an unmatched on-chain lock if it lands", in.TotalAmount, in.ProposalID)
		}
		logger.Error("Failed to lock %d for escrow %d: %v", in.TotalAmount, in.ProposalID, err)
		return nil, lockError(err)
	}

	checkEscrowInvariants(escrow)
	snap := escrow.clone()
	records := []Record{newRecord(RecordEscrowCreated, snap.ProposalID, caller, now).withAmount(snap.TotalAmount)}
	if in.Milestones != nil {
		for i, m := range snap.Milestones {
			records = append(records, newRecord(RecordMilestoneSet, snap.ProposalID, caller, now).withMilestone(i).withAmount(m.Amount))
		}
	}
	records = attachEscrow(records, snap)
	// 资金已锁定，记录无法落盘时账本与资金不再一致
	if err := persist(context.WithoutCancel(ctx), l.journal, records); err != nil {
		corrupted("escrow %d: %d locked but records not persisted: %v", in.ProposalID, in.TotalAmount, err)
	}

	entry.mu.Lock()
	entry.inFlight = false
	entry.opening = false
	l.escrowed.Add(in.TotalAmount)
	l.active.Add(1)
	entry.mu.Unlock()

	logger.Info("Escrow %d opened for %s, total %d in %d milestones", snap.ProposalID, snap.Beneficiary, snap.TotalAmount, snap.MilestoneCount)
	l.emitter.Emit(records...)
	return snap.clone(), nil
}

// SetMilestone 设置里程碑金额与描述，每个里程碑只能设置一次
func (l *EscrowLedger) SetMilestone(ctx context.Context, caller string, id uint64, index int, amount uint64, description string) (*Escrow, error) {
	now := l.clock.Now()
	if !hasAny(l.gate, caller, RoleAdmin, RoleTreasuryManager) {
		return nil, authorizationf("%s 没有设置里程碑的权限", caller)
	}
	if amount == 0 {
		return nil, validationf("里程碑金额必须大于0")
	}

	return l.mutate(ctx, id, now, func(e *Escrow) ([]Record, error) {
		m, err := milestoneAt(e, index)
		if err != nil {
			return nil, err
		}
		if m.State != MilestoneStateUnset {
			return nil, duplicatef("托管 %d 第%d个里程碑已设置", e.ProposalID, index)
		}
		configured := e.ConfiguredAmount()
		if amount > e.TotalAmount-configured {
			return nil, validationf("里程碑金额 %d 超出托管剩余可分配金额 %d", amount, e.TotalAmount-configured)
		}
		if unsetCount(e) == 1 && configured+amount != e.TotalAmount {
			return nil, validationf("最后一个里程碑必须使金额之和等于托管总额 %d", e.TotalAmount)
		}
		m.Amount = amount
		m.Description = description
		m.State = MilestoneStateSet
		return []Record{newRecord(RecordMilestoneSet, e.ProposalID, caller, now).withMilestone(index).withAmount(amount)}, nil
	})
}

// SubmitEvidence 受益人提交里程碑完成证明
func (l *EscrowLedger) SubmitEvidence(ctx context.Context, caller string, id uint64, index int, evidenceRef string) (*Escrow, error) {
	now := l.clock.Now()
	if evidenceRef == "" {
		return nil, validationf("证明引用不能为空")
	}

	return l.mutate(ctx, id, now, func(e *Escrow) ([]Record, error) {
		if caller == "" || caller != e.Beneficiary {
			return nil, authorizationf("只有受益人可以提交证明")
		}
		m, err := milestoneAt(e, index)
		if err != nil {
			return nil, err
		}
		if m.Disputed {
			return nil, invalidStatef("托管 %d 第%d个里程碑争议中", e.ProposalID, index)
		}
		if m.State != MilestoneStateSet {
			return nil, invalidStatef("托管 %d 第%d个里程碑当前状态 %s 不能提交证明", e.ProposalID, index, m.State)
		}
		m.EvidenceRef = evidenceRef
		m.State = MilestoneStateEvidenceSubmitted
		return []Record{newRecord(RecordEvidenceSubmitted, e.ProposalID, caller, now).withMilestone(index).withDetail(evidenceRef)}, nil
	})
}

// ApproveMilestone 审批里程碑并释放资金，必须按顺序释放
func (l *EscrowLedger) ApproveMilestone(ctx context.Context, caller string, id uint64, index int) (*Escrow, error) {
	now := l.clock.Now()
	if !hasAny(l.gate, caller, RoleMilestoneApprover) {
		return nil, authorizationf("%s 没有审批里程碑的权限", caller)
	}

	return l.release(ctx, id, now, func(e *Escrow) ([]Record, error) {
		m, err := milestoneAt(e, index)
		if err != nil {
			return nil, err
		}
		if m.Disputed {
			return nil, invalidStatef("托管 %d 第%d个里程碑争议中", e.ProposalID, index)
		}
		if m.State != MilestoneStateEvidenceSubmitted {
			return nil, invalidStatef("托管 %d 第%d个里程碑当前状态 %s 不能审批", e.ProposalID, index, m.State)
		}
		return completeMilestone(e, index, caller, now)
	})
}

// DisputeMilestone 对未完成的里程碑发起争议，冻结释放
func (l *EscrowLedger) DisputeMilestone(ctx context.Context, caller string, id uint64, index int, reason string) (*Escrow, error) {
	now := l.clock.Now()
	if !hasAny(l.gate, caller, RoleMilestoneApprover) {
		return nil, authorizationf("%s 没有发起争议的权限", caller)
	}
	if reason == "" {
		return nil, validationf("争议原因不能为空")
	}

	return l.mutate(ctx, id, now, func(e *Escrow) ([]Record, error) {
		m, err := milestoneAt(e, index)
		if err != nil {
			return nil, err
		}
		if m.Completed {
			return nil, invalidStatef("托管 %d 第%d个里程碑已完成", e.ProposalID, index)
		}
		if m.Disputed {
			return nil, invalidStatef("托管 %d 第%d个里程碑已在争议中", e.ProposalID, index)
		}
		if m.State == MilestoneStateUnset {
			return nil, invalidStatef("托管 %d 第%d个里程碑尚未设置", e.ProposalID, index)
		}
		m.Disputed = true
		m.DisputeReason = reason
		m.State = MilestoneStateDisputed
		return []Record{newRecord(RecordMilestoneDisputed, e.ProposalID, caller, now).withMilestone(index).withDetail(reason)}, nil
	})
}

// ResolveDispute 仲裁争议，approve 时按审批流程释放资金，否则退回等待证明
func (l *EscrowLedger) ResolveDispute(ctx context.Context, caller string, id uint64, index int, approve bool) (*Escrow, error) {
	now := l.clock.Now()
	if !hasAny(l.gate, caller, RoleAdmin, RoleDisputeResolver) {
		return nil, authorizationf("%s 没有仲裁争议的权限", caller)
	}

	check := func(e *Escrow) (*MilestoneEscrow, error) {
		m, err := milestoneAt(e, index)
		if err != nil {
			return nil, err
		}
		if !m.Disputed {
			return nil, invalidStatef("托管 %d 第%d个里程碑不在争议中", e.ProposalID, index)
		}
		return m, nil
	}

	if !approve {
		return l.mutate(ctx, id, now, func(e *Escrow) ([]Record, error) {
			m, err := check(e)
			if err != nil {
				return nil, err
			}
			m.Disputed = false
			m.DisputeReason = ""
			m.EvidenceRef = ""
			m.State = MilestoneStateSet
			return []Record{newRecord(RecordDisputeResolved, e.ProposalID, caller, now).withMilestone(index).withDetail("rejected")}, nil
		})
	}

	return l.release(ctx, id, now, func(e *Escrow) ([]Record, error) {
		m, err := check(e)
		if err != nil {
			return nil, err
		}
		if m.EvidenceRef == "" {
			return nil, invalidStatef("托管 %d 第%d个里程碑没有证明", e.ProposalID, index)
		}
		m.Disputed = false
		m.DisputeReason = ""
		records, err := completeMilestone(e, index, caller, now)
		if err != nil {
			return nil, err
		}
		resolved := newRecord(RecordDisputeResolved, e.ProposalID, caller, now).withMilestone(index).withDetail("approved")
		return append([]Record{resolved}, records...), nil
	})
}

// CancelEscrow 取消托管，未释放金额退回
func (l *EscrowLedger) CancelEscrow(ctx context.Context, caller string, id uint64, reason string) (*Escrow, error) {
	now := l.clock.Now()
	if !hasAny(l.gate, caller, RoleAdmin) {
		return nil, authorizationf("%s 没有取消托管的权限", caller)
	}

	recipient := l.params.TreasurySink
	if recipient == "" {
		recipient = caller
	}

	var refund uint64
	apply := func(e *Escrow) ([]Record, error) {
		refund = e.Remaining()
		e.RefundedAmount = refund
		e.RefundRecipient = recipient
		e.CancelReason = reason
		e.Status = EscrowStatusCancelled
		records := []Record{newRecord(RecordEscrowCancelled, e.ProposalID, caller, now).withAmount(refund).withDetail(reason)}
		if refund > 0 {
			records = append(records, newRecord(RecordFundsRefunded, e.ProposalID, caller, now).withAmount(refund).withDetail(recipient))
		}
		return records, nil
	}
	transfer := func(ctx context.Context, e *Escrow) error {
		if refund == 0 {
			return nil
		}
		return l.treasury.Refund(ctx, e.ProposalID, recipient, refund)
	}
	settle := func() {
		l.refunded.Add(refund)
		l.active.Add(-1)
	}

	snap, err := l.withTransfer(ctx, id, now, apply, transfer, settle)
	if err != nil {
		return nil, err
	}
	logger.Info("Escrow %d cancelled by %s, refunded %d to %s", id, caller, refund, recipient)
	return snap, nil
}

// Get 获取托管
func (l *EscrowLedger) Get(id uint64) (*Escrow, error) {
	entry, err := l.entry(id)
	if err != nil {
		return nil, err
	}
	entry.mu.Lock()
	defer entry.mu.Unlock()
	return entry.e.clone(), nil
}

// GetMilestone 获取托管里程碑
func (l *EscrowLedger) GetMilestone(id uint64, index int) (*MilestoneEscrow, error) {
	e, err := l.Get(id)
	if err != nil {
		return nil, err
	}
	m, err := milestoneAt(e, index)
	if err != nil {
		return nil, err
	}
	return m, nil
}

// List 获取全部托管，按提案ID升序
func (l *EscrowLedger) List(status EscrowStatus) []*Escrow {
	l.mu.RLock()
	entries := make([]*escrowEntry, 0, len(l.entries))
	for _, entry := range l.entries {
		entries = append(entries, entry)
	}
	l.mu.RUnlock()

	result := make([]*Escrow, 0, len(entries))
	for _, entry := range entries {
		entry.mu.Lock()
		if !entry.opening && (status == "" || entry.e.Status == status) {
			result = append(result, entry.e.clone())
		}
		entry.mu.Unlock()
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ProposalID < result[j].ProposalID })
	return result
}

// Totals 账本级汇总
func (l *EscrowLedger) Totals() EscrowTotals {
	return EscrowTotals{
		Escrowed:      l.escrowed.Load(),
		Released:      l.released.Load(),
		Refunded:      l.refunded.Load(),
		ActiveEscrows: l.active.Load(),
	}
}

// Restore 从持久化记录重建账本，任一记录无效时不做任何改动
func (l *EscrowLedger) Restore(escrows []*Escrow) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	staged := make(map[uint64]*escrowEntry, len(escrows))
	for _, e := range escrows {
		if _, exists := l.entries[e.ProposalID]; exists {
			return duplicatef("托管 %d 重复", e.ProposalID)
		}
		if _, exists := staged[e.ProposalID]; exists {
			return duplicatef("托管 %d 重复", e.ProposalID)
		}
		if len(e.Milestones) != e.MilestoneCount {
			return validationf("托管 %d 里程碑数量不一致", e.ProposalID)
		}
		if e.ReleasedAmount > e.TotalAmount || e.CompletedAmount() != e.ReleasedAmount {
			return validationf("托管 %d 金额不一致", e.ProposalID)
		}
		staged[e.ProposalID] = &escrowEntry{e: e.clone()}
	}
	for id, entry := range staged {
		e := entry.e
		l.entries[id] = entry
		l.escrowed.Add(e.TotalAmount)
		l.released.Add(e.ReleasedAmount)
		l.refunded.Add(e.RefundedAmount)
		if e.Status == EscrowStatusActive {
			l.active.Add(1)
		}
	}
	logger.Info("Restored %d escrows", len(escrows))
	return nil
}

func (l *EscrowLedger) entry(id uint64) (*escrowEntry, error) {
	l.mu.RLock()
	entry, ok := l.entries[id]
	l.mu.RUnlock()
	if !ok {
		return nil, notFoundf("托管 %d 不存在", id)
	}
	entry.mu.Lock()
	opening := entry.opening
	entry.mu.Unlock()
	if opening {
		return nil, notFoundf("托管 %d 不存在", id)
	}
	return entry, nil
}

// lockEntry 获取记录锁并检查重入与状态
func (l *EscrowLedger) lockEntry(id uint64) (*escrowEntry, error) {
	entry, err := l.entry(id)
	if err != nil {
		return nil, err
	}
	entry.mu.Lock()
	if entry.inFlight {
		entry.mu.Unlock()
		return nil, wrapf(ErrReentrancy, "托管 %d 有资金操作正在进行", id)
	}
	if entry.e.Status != EscrowStatusActive {
		status := entry.e.Status
		entry.mu.Unlock()
		return nil, invalidStatef("托管 %d 当前状态 %s", id, status)
	}
	return entry, nil
}

// mutate 不涉及资金转移的变更
func (l *EscrowLedger) mutate(ctx context.Context, id uint64, now time.Time, fn func(e *Escrow) ([]Record, error)) (*Escrow, error) {
	entry, err := l.lockEntry(id)
	if err != nil {
		return nil, err
	}
	next := entry.e.clone()
	records, err := fn(next)
	if err != nil {
		entry.mu.Unlock()
		return nil, err
	}
	next.UpdatedAt = now
	next.Version++
	checkEscrowInvariants(next)
	snap := next.clone()
	records = attachEscrow(records, snap)

	if l.journal != nil {
		// 落盘期间释放记录锁，由 inFlight 阻止其他变更
		entry.inFlight = true
		entry.mu.Unlock()
		err := persist(ctx, l.journal, records)
		entry.mu.Lock()
		entry.inFlight = false
		if err != nil {
			entry.mu.Unlock()
			return nil, err
		}
	}
	entry.e = next
	entry.mu.Unlock()

	l.emitter.Emit(records...)
	return snap.clone(), nil
}

// release 完成里程碑并向受益人转账
func (l *EscrowLedger) release(ctx context.Context, id uint64, now time.Time, fn func(e *Escrow) ([]Record, error)) (*Escrow, error) {
	var amount uint64
	var beneficiary string
	var completed bool
	apply := func(e *Escrow) ([]Record, error) {
		before := e.ReleasedAmount
		records, err := fn(e)
		if err != nil {
			return nil, err
		}
		amount = e.ReleasedAmount - before
		beneficiary = e.Beneficiary
		completed = e.Status == EscrowStatusCompleted
		return records, nil
	}
	transfer := func(ctx context.Context, e *Escrow) error {
		return l.treasury.Release(ctx, e.ProposalID, beneficiary, amount)
	}
	settle := func() {
		l.released.Add(amount)
		if completed {
			l.active.Add(-1)
		}
	}

	snap, err := l.withTransfer(ctx, id, now, apply, transfer, settle)
	if err != nil {
		return nil, err
	}
	logger.Info("Escrow %d released %d to %s (%d/%d)", id, amount, beneficiary, snap.ReleasedAmount, snap.TotalAmount)
	return snap, nil
}

// withTransfer 先在副本上完成记账，再在 inFlight 保护下释放锁执行外部转账
// 转账成功前读者看到的始终是操作前的记录，失败时丢弃副本
// 结果未知时副本挂起为 pending，inFlight 保持到确认或人工处理
func (l *EscrowLedger) withTransfer(
	ctx context.Context,
	id uint64,
	now time.Time,
	apply func(e *Escrow) ([]Record, error),
	transfer func(ctx context.Context, e *Escrow) error,
	settle func(),
) (*Escrow, error) {
	entry, err := l.lockEntry(id)
	if err != nil {
		return nil, err
	}
	next := entry.e.clone()
	records, err := apply(next)
	if err != nil {
		entry.mu.Unlock()
		return nil, err
	}
	next.UpdatedAt = now
	next.Version++
	checkEscrowInvariants(next)
	entry.inFlight = true
	snap := next.clone()
	records = attachEscrow(records, snap)
	entry.mu.Unlock()

	transferErr := transfer(ctx, snap)
	if errors.Is(transferErr, ErrOutcomeUnknown) {
		kind, amount := transferOf(records)
		entry.mu.Lock()
		entry.pending = &pendingTransfer{kind: kind, amount: amount, next: next, records: records, settle: settle}
		entry.mu.Unlock()
		logger.Warn("Fund transfer for escrow %d has unknown outcome, waiting for confirmation: %v", id, transferErr)
		return nil, transferErr
	}
	if transferErr != nil {
		entry.mu.Lock()
		entry.inFlight = false
		entry.mu.Unlock()
		logger.Error("Fund transfer for escrow %d failed, bookkeeping discarded: %v", id, transferErr)
		return nil, transferError(transferErr)
	}
	return l.commitTransfer(ctx, entry, next, records, settle), nil
}

// commitTransfer 资金已转出，落盘后替换记录并结束 inFlight
func (l *EscrowLedger) commitTransfer(ctx context.Context, entry *escrowEntry, next *Escrow, records []Record, settle func()) *Escrow {
	if err := persist(context.WithoutCancel(ctx), l.journal, records); err != nil {
		corrupted("escrow %d: funds moved but records not persisted: %v", next.ProposalID, err)
	}
	entry.mu.Lock()
	entry.e = next
	entry.pending = nil
	entry.inFlight = false
	snap := next.clone()
	entry.mu.Unlock()

	settle()
	l.emitter.Emit(records...)
	return snap
}

// ResolvePending 人工处理结果未知的转账，landed 表示资金已经到账
func (l *EscrowLedger) ResolvePending(ctx context.Context, caller string, id uint64, landed bool) (*Escrow, error) {
	if !hasAny(l.gate, caller, RoleAdmin, RoleTreasuryManager) {
		return nil, authorizationf("%s 没有处理待确认转账的权限", caller)
	}
	return l.settlePending(ctx, id, landed, func(*pendingTransfer) bool { return true })
}

// ConfirmPending 链上确认的转账与待确认转账一致时完成记账
// 没有匹配的待确认转账时返回 false
func (l *EscrowLedger) ConfirmPending(ctx context.Context, id uint64, kind string, amount uint64) (bool, error) {
	_, err := l.settlePending(ctx, id, true, func(p *pendingTransfer) bool {
		return p.kind == kind && p.amount == amount
	})
	if errors.Is(err, ErrNotFound) || errors.Is(err, ErrInvalidState) {
		return false, nil
	}
	return err == nil, err
}

func (l *EscrowLedger) settlePending(ctx context.Context, id uint64, landed bool, match func(*pendingTransfer) bool) (*Escrow, error) {
	entry, err := l.entry(id)
	if err != nil {
		return nil, err
	}
	entry.mu.Lock()
	p := entry.pending
	if p == nil || !match(p) {
		entry.mu.Unlock()
		return nil, invalidStatef("托管 %d 没有待确认的转账", id)
	}
	entry.pending = nil
	if !landed {
		entry.inFlight = false
		snap := entry.e.clone()
		entry.mu.Unlock()
		logger.Warn("Pending %s of %d for escrow %d did not land, bookkeeping discarded", p.kind, p.amount, id)
		return snap, nil
	}
	entry.mu.Unlock()

	logger.Info("Pending %s of %d for escrow %d confirmed", p.kind, p.amount, id)
	return l.commitTransfer(ctx, entry, p.next, p.records, p.settle), nil
}

// PendingTransfer 托管当前待确认的转账
func (l *EscrowLedger) PendingTransfer(id uint64) (kind string, amount uint64, ok bool) {
	entry, err := l.entry(id)
	if err != nil {
		return "", 0, false
	}
	entry.mu.Lock()
	defer entry.mu.Unlock()
	if entry.pending == nil {
		return "", 0, false
	}
	return entry.pending.kind, entry.pending.amount, true
}

// transferOf 记录中的资金转移类型与金额
func transferOf(records []Record) (string, uint64) {
	for _, r := range records {
		switch r.Type {
		case RecordFundsReleased:
			return "release", r.Amount
		case RecordFundsRefunded:
			return "refund", r.Amount
		}
	}
	return "", 0
}

// completeMilestone 校验顺序与余额后完成里程碑
func completeMilestone(e *Escrow, index int, approver string, now time.Time) ([]Record, error) {
	m := &e.Milestones[index]
	if index > 0 && !e.Milestones[index-1].Completed {
		return nil, invalidStatef("托管 %d 第%d个里程碑尚未完成，不能释放第%d个", e.ProposalID, index-1, index)
	}
	if m.Amount > e.Remaining() {
		return nil, wrapf(ErrInsufficientFunds, "托管 %d 剩余 %d 不足以释放 %d", e.ProposalID, e.Remaining(), m.Amount)
	}

	completedAt := now
	m.Completed = true
	m.CompletedAt = &completedAt
	m.Approver = approver
	m.State = MilestoneStateCompleted
	e.ReleasedAmount += m.Amount
	e.LastReleaseAt = &completedAt

	records := []Record{
		newRecord(RecordMilestoneComplete, e.ProposalID, approver, now).withMilestone(index).withAmount(m.Amount),
		newRecord(RecordFundsReleased, e.ProposalID, approver, now).withMilestone(index).withAmount(m.Amount).withDetail(e.Beneficiary),
	}
	if e.allCompleted() {
		e.Status = EscrowStatusCompleted
		records = append(records, newRecord(RecordEscrowCompleted, e.ProposalID, approver, now).withAmount(e.ReleasedAmount))
	}
	return records, nil
}

func milestoneAt(e *Escrow, index int) (*MilestoneEscrow, error) {
	if index < 0 || index >= len(e.Milestones) {
		return nil, validationf("里程碑序号 %d 超出范围 [0, %d)", index, len(e.Milestones))
	}
	return &e.Milestones[index], nil
}

func unsetCount(e *Escrow) int {
	n := 0
	for _, m := range e.Milestones {
		if m.State == MilestoneStateUnset {
			n++
		}
	}
	return n
}

// lockError 已分类的错误原样返回，其余视为资金不足
func lockError(err error) error {
	if classified(err) {
		return err
	}
	return wrapf(ErrInsufficientFunds, "锁定资金失败: %v", err)
}

func transferError(err error) error {
	if classified(err) {
		return err
	}
	return fmt.Errorf("资金转账失败: %w", err)
}

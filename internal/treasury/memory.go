package treasury

import (
	"context"
	"fmt"
	"sync"

	"github.com/blues/tgs/internal/logic"
)

// MemoryTreasury 内存资金池，用于单机部署与测试
type MemoryTreasury struct {
	mu        sync.Mutex
	available uint64
	locked    map[uint64]uint64
	paid      map[string]uint64
}

func NewMemoryTreasury(initial uint64) *MemoryTreasury {
	return &MemoryTreasury{
		available: initial,
		locked:    make(map[uint64]uint64),
		paid:      make(map[string]uint64),
	}
}

// Deposit 向资金池注入资金
func (t *MemoryTreasury) Deposit(amount uint64) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.available+amount < t.available {
		return fmt.Errorf("treasury balance overflow")
	}
	t.available += amount
	return nil
}

// Lock 为提案锁定资金
func (t *MemoryTreasury) Lock(ctx context.Context, proposalID uint64, amount uint64) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.locked[proposalID]; ok {
		return fmt.Errorf("%w: funds already locked for proposal %d", logic.ErrDuplicate, proposalID)
	}
	if amount > t.available {
		return fmt.Errorf("%w: treasury has %d, need %d", logic.ErrInsufficientFunds, t.available, amount)
	}
	t.available -= amount
	t.locked[proposalID] = amount
	return nil
}

// Release 从锁定资金中支付给受益人
func (t *MemoryTreasury) Release(ctx context.Context, proposalID uint64, to string, amount uint64) error {
	return t.payout(proposalID, to, amount)
}

// Refund 将锁定资金退回
func (t *MemoryTreasury) Refund(ctx context.Context, proposalID uint64, to string, amount uint64) error {
	return t.payout(proposalID, to, amount)
}

func (t *MemoryTreasury) payout(proposalID uint64, to string, amount uint64) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	locked, ok := t.locked[proposalID]
	if !ok {
		return fmt.Errorf("no funds locked for proposal %d", proposalID)
	}
	if amount > locked {
		return fmt.Errorf("%w: proposal %d has %d locked, need %d", logic.ErrInsufficientFunds, proposalID, locked, amount)
	}
	t.locked[proposalID] = locked - amount
	t.paid[to] += amount
	return nil
}

// Stats 资金池状态
type Stats struct {
	Available uint64            `json:"available"`
	Locked    uint64            `json:"locked"`
	Paid      map[string]uint64 `json:"paid"`
}

func (t *MemoryTreasury) Stats() Stats {
	t.mu.Lock()
	defer t.mu.Unlock()
	s := Stats{Available: t.available, Paid: make(map[string]uint64, len(t.paid))}
	for _, v := range t.locked {
		s.Locked += v
	}
	for k, v := range t.paid {
		s.Paid[k] = v
	}
	return s
}

// Restore 按托管记录恢复锁定金额，已托管的总额从可用资金中扣除
func (t *MemoryTreasury) Restore(escrows []*logic.Escrow) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, e := range escrows {
		if e.TotalAmount > t.available {
			t.available = 0
		} else {
			t.available -= e.TotalAmount
		}
		if e.Status == logic.EscrowStatusActive {
			t.locked[e.ProposalID] = e.Remaining()
		} else {
			t.locked[e.ProposalID] = 0
		}
	}
}

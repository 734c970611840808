package logic

import (
	"context"
	"fmt"
	"time"
)

// Role 调用方能力
type Role string

const (
	RoleAdmin             Role = "admin"              // 管理员
	RoleOracle            Role = "oracle"             // AI评分预言机
	RoleTreasuryManager   Role = "treasury_manager"   // 资金管理
	RoleMilestoneApprover Role = "milestone_approver" // 里程碑审批
	RoleDisputeResolver   Role = "dispute_resolver"   // 争议仲裁
)

// Roles 所有已知角色
func Roles() []Role {
	return []Role{RoleAdmin, RoleOracle, RoleTreasuryManager, RoleMilestoneApprover, RoleDisputeResolver}
}

// ParseRole 解析角色字符串
func ParseRole(s string) (Role, bool) {
	for _, r := range Roles() {
		if string(r) == s {
			return r, true
		}
	}
	return "", false
}

// AuthorityGate 回答 "调用方是否持有某能力"
type AuthorityGate interface {
	HasCapability(identity string, role Role) bool
}

// Clock 账本时钟，每个操作开始时读取一次
type Clock interface {
	Now() time.Time
}

// SystemClock 系统时钟
type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now() }

// Treasury 外部资金托管
// 资金不足时返回包装 ErrInsufficientFunds 的错误，交易已发出但结果未知时返回包装 ErrOutcomeUnknown 的错误
type Treasury interface {
	Lock(ctx context.Context, proposalID uint64, amount uint64) error
	Release(ctx context.Context, proposalID uint64, to string, amount uint64) error
	Refund(ctx context.Context, proposalID uint64, to string, amount uint64) error
}

// Emitter 接收账本产生的审计记录
// 在记录锁释放之后调用
type Emitter interface {
	Emit(records ...Record)
}

// Journal 账本记录的持久化，Apply 返回后记录与快照已落盘
type Journal interface {
	Apply(ctx context.Context, records []Record) error
}

// persist 写入记录并标记为已落盘，未配置 Journal 时不做任何事
func persist(ctx context.Context, j Journal, records []Record) error {
	if j == nil || len(records) == 0 {
		return nil
	}
	if err := j.Apply(ctx, records); err != nil {
		return fmt.Errorf("写入账本记录失败: %w", err)
	}
	for i := range records {
		records[i].Journaled = true
	}
	return nil
}

type nopEmitter struct{}

func (nopEmitter) Emit(...Record) {}

func hasAny(gate AuthorityGate, identity string, roles ...Role) bool {
	if identity == "" {
		return false
	}
	for _, r := range roles {
		if gate.HasCapability(identity, r) {
			return true
		}
	}
	return false
}

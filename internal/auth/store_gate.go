package auth

import (
	"context"
	"sync/atomic"

	"github.com/pkg/errors"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/blues/tgs/internal/logger"
	"github.com/blues/tgs/internal/logic"
	"github.com/blues/tgs/internal/model"
)

// StoreGate 持久化在 role_grant 表中的角色表
// 查询走内存缓存，授权变更先写库再更新缓存
type StoreGate struct {
	db    *gorm.DB
	cache atomic.Pointer[MemoryGate]
}

func NewStoreGate(db *gorm.DB) *StoreGate {
	g := &StoreGate{db: db}
	g.cache.Store(NewMemoryGate())
	return g
}

// Load 从数据库加载全部授权
func (g *StoreGate) Load(ctx context.Context) error {
	var grants []model.RoleGrantModel
	if err := g.db.WithContext(ctx).Find(&grants).Error; err != nil {
		return errors.Wrap(err, "load role grants")
	}
	cache := NewMemoryGate()
	for _, grant := range grants {
		role, ok := logic.ParseRole(grant.Role)
		if !ok {
			logger.Warn("Skipping unknown role %s granted to %s", grant.Role, grant.Identity)
			continue
		}
		cache.Grant(grant.Identity, role)
	}
	g.cache.Store(cache)
	logger.Info("Loaded %d role grants", len(grants))
	return nil
}

// HasCapability 实现 logic.AuthorityGate
func (g *StoreGate) HasCapability(identity string, role logic.Role) bool {
	return g.cache.Load().HasCapability(identity, role)
}

// Grant 授予角色
func (g *StoreGate) Grant(ctx context.Context, grantedBy, identity string, roles ...logic.Role) error {
	if identity == "" {
		return errors.New("identity is required")
	}
	for _, r := range roles {
		grant := &model.RoleGrantModel{Identity: identity, Role: string(r), GrantedBy: grantedBy}
		err := g.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(grant).Error
		if err != nil {
			return errors.Wrapf(err, "grant %s to %s", r, identity)
		}
		g.cache.Load().Grant(identity, r)
		logger.Info("Granted role %s to %s by %s", r, identity, grantedBy)
	}
	return nil
}

// Revoke 撤销角色
func (g *StoreGate) Revoke(ctx context.Context, identity string, role logic.Role) error {
	err := g.db.WithContext(ctx).
		Where("identity = ? AND role = ?", identity, string(role)).
		Delete(&model.RoleGrantModel{}).Error
	if err != nil {
		return errors.Wrapf(err, "revoke %s from %s", role, identity)
	}
	g.cache.Load().Revoke(identity, role)
	logger.Info("Revoked role %s from %s", role, identity)
	return nil
}

// RolesOf 身份持有的角色
func (g *StoreGate) RolesOf(identity string) []logic.Role {
	return g.cache.Load().RolesOf(identity)
}

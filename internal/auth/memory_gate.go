package auth

import (
	"sort"
	"sync"

	"github.com/blues/tgs/internal/logic"
)

// MemoryGate 内存中的角色表
type MemoryGate struct {
	mu    sync.RWMutex
	roles map[string]map[logic.Role]struct{}
}

func NewMemoryGate() *MemoryGate {
	return &MemoryGate{roles: make(map[string]map[logic.Role]struct{})}
}

// HasCapability 实现 logic.AuthorityGate
func (g *MemoryGate) HasCapability(identity string, role logic.Role) bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	_, ok := g.roles[identity][role]
	return ok
}

// Grant 授予角色
func (g *MemoryGate) Grant(identity string, roles ...logic.Role) {
	g.mu.Lock()
	defer g.mu.Unlock()
	set, ok := g.roles[identity]
	if !ok {
		set = make(map[logic.Role]struct{})
		g.roles[identity] = set
	}
	for _, r := range roles {
		set[r] = struct{}{}
	}
}

// Revoke 撤销角色
func (g *MemoryGate) Revoke(identity string, role logic.Role) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.roles[identity], role)
	if len(g.roles[identity]) == 0 {
		delete(g.roles, identity)
	}
}

// RolesOf 身份持有的角色
func (g *MemoryGate) RolesOf(identity string) []logic.Role {
	g.mu.RLock()
	defer g.mu.RUnlock()
	roles := make([]logic.Role, 0, len(g.roles[identity]))
	for r := range g.roles[identity] {
		roles = append(roles, r)
	}
	sort.Slice(roles, func(i, j int) bool { return roles[i] < roles[j] })
	return roles
}

package auth

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/blues/tgs/internal/config"
	"github.com/blues/tgs/internal/logic"
	"github.com/blues/tgs/internal/repository"
)

func TestMemoryGate(t *testing.T) {
	g := NewMemoryGate()
	g.Grant("0xa", logic.RoleAdmin, logic.RoleOracle)

	assert.True(t, g.HasCapability("0xa", logic.RoleAdmin))
	assert.False(t, g.HasCapability("0xa", logic.RoleTreasuryManager))
	assert.False(t, g.HasCapability("0xb", logic.RoleAdmin))
	assert.Equal(t, []logic.Role{logic.RoleAdmin, logic.RoleOracle}, g.RolesOf("0xa"))

	g.Revoke("0xa", logic.RoleAdmin)
	assert.False(t, g.HasCapability("0xa", logic.RoleAdmin))
	g.Revoke("0xa", logic.RoleOracle)
	assert.Empty(t, g.RolesOf("0xa"))
}

func TestStoreGatePersistsGrants(t *testing.T) {
	db, err := repository.Init(config.DatabaseConfig{Driver: "sqlite", Path: filepath.Join(t.TempDir(), "auth.db")})
	require.NoError(t, err)
	ctx := context.Background()

	g := NewStoreGate(db)
	require.NoError(t, g.Grant(ctx, "bootstrap", "0xa", logic.RoleAdmin, logic.RoleDisputeResolver))
	require.NoError(t, g.Grant(ctx, "bootstrap", "0xa", logic.RoleAdmin))
	require.NoError(t, g.Grant(ctx, "bootstrap", "0xb", logic.RoleOracle))
	require.NoError(t, g.Revoke(ctx, "0xb", logic.RoleOracle))
	assert.Error(t, g.Grant(ctx, "bootstrap", "", logic.RoleAdmin))

	reloaded := NewStoreGate(db)
	require.NoError(t, reloaded.Load(ctx))
	assert.True(t, reloaded.HasCapability("0xa", logic.RoleAdmin))
	assert.True(t, reloaded.HasCapability("0xa", logic.RoleDisputeResolver))
	assert.False(t, reloaded.HasCapability("0xb", logic.RoleOracle))
}

func TestGatesSatisfyAuthorityGate(t *testing.T) {
	var _ logic.AuthorityGate = NewMemoryGate()
	var _ logic.AuthorityGate = NewStoreGate(nil)
}

package treasury

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/blues/tgs/internal/logic"
)

func TestMemoryTreasuryLifecycle(t *testing.T) {
	tr := NewMemoryTreasury(500)
	ctx := context.Background()

	require.NoError(t, tr.Lock(ctx, 1, 300))
	err := tr.Lock(ctx, 2, 300)
	assert.True(t, errors.Is(err, logic.ErrInsufficientFunds))
	assert.True(t, errors.Is(tr.Lock(ctx, 1, 10), logic.ErrDuplicate))

	require.NoError(t, tr.Release(ctx, 1, "0xalice", 100))
	require.NoError(t, tr.Refund(ctx, 1, "0xsink", 200))
	assert.True(t, errors.Is(tr.Release(ctx, 1, "0xalice", 1), logic.ErrInsufficientFunds))
	assert.Error(t, tr.Release(ctx, 9, "0xalice", 1))

	s := tr.Stats()
	assert.Equal(t, uint64(200), s.Available)
	assert.Zero(t, s.Locked)
	assert.Equal(t, uint64(100), s.Paid["0xalice"])
	assert.Equal(t, uint64(200), s.Paid["0xsink"])

	require.NoError(t, tr.Deposit(50))
	assert.Equal(t, uint64(250), tr.Stats().Available)
	assert.Error(t, tr.Deposit(^uint64(0)))
}

func TestMemoryTreasuryRestore(t *testing.T) {
	tr := NewMemoryTreasury(0)
	tr.Restore([]*logic.Escrow{
		{ProposalID: 1, TotalAmount: 300, ReleasedAmount: 100, Status: logic.EscrowStatusActive},
		{ProposalID: 2, TotalAmount: 50, Status: logic.EscrowStatusCancelled, RefundedAmount: 50},
	})
	assert.Equal(t, uint64(200), tr.Stats().Locked)
	require.NoError(t, tr.Release(context.Background(), 1, "0xalice", 200))
}

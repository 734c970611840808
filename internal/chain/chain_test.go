package chain

import (
	"context"
	"errors"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/blues/tgs/internal/logic"
)

type sentTx struct {
	method string
	args   []interface{}
}

type fakeVault struct {
	available *big.Int
	sent      []sentTx
	err       error
}

func (f *fakeVault) Available(context.Context) (*big.Int, error) {
	return f.available, nil
}

func (f *fakeVault) Send(_ context.Context, method string, args ...interface{}) (*types.Receipt, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.sent = append(f.sent, sentTx{method: method, args: args})
	return &types.Receipt{Status: types.ReceiptStatusSuccessful}, nil
}

func TestVaultABIPacksMethods(t *testing.T) {
	parsed, err := ParseVaultABI()
	require.NoError(t, err)

	to := common.HexToAddress("0x00000000000000000000000000000000000000aa")
	data, err := parsed.Pack("release", big.NewInt(7), to, big.NewInt(100))
	require.NoError(t, err)
	assert.Equal(t, parsed.Methods["release"].ID, data[:4])
	assert.Len(t, data, 4+3*32)

	_, err = parsed.Pack("lock", big.NewInt(7))
	assert.Error(t, err)
}

func TestVaultParseEvent(t *testing.T) {
	parsed, err := ParseVaultABI()
	require.NoError(t, err)
	v := &Vault{abi: parsed}

	to := common.HexToAddress("0x00000000000000000000000000000000000000bb")
	amount, err := parsed.Events["FundsReleased"].Inputs.NonIndexed().Pack(big.NewInt(250))
	require.NoError(t, err)

	got, err := v.ParseEvent(types.Log{
		Topics: []common.Hash{
			parsed.Events["FundsReleased"].ID,
			common.BigToHash(big.NewInt(3)),
			common.BytesToHash(to.Bytes()),
		},
		Data: amount,
	})
	require.NoError(t, err)
	assert.Equal(t, "FundsReleased", got["eventName"])
	assert.Equal(t, big.NewInt(3), got["proposalId"])
	assert.Equal(t, to, got["to"])
	assert.Equal(t, big.NewInt(250), got["amount"])
}

func TestTreasuryLockChecksAvailable(t *testing.T) {
	vault := &fakeVault{available: big.NewInt(100)}
	tr := newTreasury(vault)

	err := tr.Lock(context.Background(), 1, 101)
	assert.ErrorIs(t, err, logic.ErrInsufficientFunds)
	assert.Empty(t, vault.sent)

	require.NoError(t, tr.Lock(context.Background(), 1, 100))
	require.Len(t, vault.sent, 1)
	assert.Equal(t, "lock", vault.sent[0].method)
	assert.Equal(t, []interface{}{big.NewInt(1), big.NewInt(100)}, vault.sent[0].args)
}

func TestTreasuryPayout(t *testing.T) {
	vault := &fakeVault{available: big.NewInt(0)}
	tr := newTreasury(vault)
	to := "0x00000000000000000000000000000000000000cc"

	require.NoError(t, tr.Release(context.Background(), 2, to, 40))
	require.NoError(t, tr.Refund(context.Background(), 2, to, 60))
	require.Len(t, vault.sent, 2)
	assert.Equal(t, "release", vault.sent[0].method)
	assert.Equal(t, "refund", vault.sent[1].method)
	assert.Equal(t, common.HexToAddress(to), vault.sent[1].args[1])

	err := tr.Release(context.Background(), 2, "alice", 40)
	assert.ErrorIs(t, err, logic.ErrValidation)
}

func TestTreasuryPropagatesSendError(t *testing.T) {
	boom := errors.New("reverted")
	tr := newTreasury(&fakeVault{available: big.NewInt(10), err: boom})
	err := tr.Lock(context.Background(), 1, 5)
	assert.ErrorIs(t, err, boom)
}

type fakeBackend struct {
	sendErr error
	status  uint64
	block   bool // 等待回执直到超时
	waited  int
}

func (f *fakeBackend) transact(_ context.Context, method string, args ...interface{}) (*types.Transaction, error) {
	if f.sendErr != nil {
		return nil, f.sendErr
	}
	return types.NewTx(&types.LegacyTx{Nonce: 1, Data: []byte(method)}), nil
}

func (f *fakeBackend) waitMined(ctx context.Context, _ *types.Transaction) (*types.Receipt, error) {
	f.waited++
	if f.block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	return &types.Receipt{Status: f.status, BlockNumber: big.NewInt(9)}, nil
}

func TestSendAndWaitTimeoutAfterBroadcast(t *testing.T) {
	b := &fakeBackend{block: true}
	_, err := sendAndWait(context.Background(), b, 10*time.Millisecond, "release", big.NewInt(1))
	require.Error(t, err)
	assert.ErrorIs(t, err, logic.ErrOutcomeUnknown)
	assert.Equal(t, 1, b.waited)

	// 调用方取消同样视为结果未知
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = sendAndWait(ctx, b, time.Minute, "refund", big.NewInt(1))
	assert.ErrorIs(t, err, logic.ErrOutcomeUnknown)
}

func TestSendAndWaitFailures(t *testing.T) {
	boom := errors.New("insufficient gas")
	_, err := sendAndWait(context.Background(), &fakeBackend{sendErr: boom}, time.Second, "release")
	assert.ErrorIs(t, err, boom)
	assert.NotErrorIs(t, err, logic.ErrOutcomeUnknown)

	receipt, err := sendAndWait(context.Background(), &fakeBackend{status: types.ReceiptStatusFailed}, time.Second, "release")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "reverted")
	assert.NotErrorIs(t, err, logic.ErrOutcomeUnknown)
	assert.NotNil(t, receipt)

	receipt, err = sendAndWait(context.Background(), &fakeBackend{status: types.ReceiptStatusSuccessful}, time.Second, "release")
	require.NoError(t, err)
	assert.Equal(t, types.ReceiptStatusSuccessful, receipt.Status)
}

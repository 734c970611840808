package chain

import (
	"context"
	"errors"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/blues/tgs/internal/config"
	"github.com/blues/tgs/internal/model"
)

var vaultAddr = common.HexToAddress("0x00000000000000000000000000000000000000cc")

type fakeSource struct {
	head    uint64
	logs    []types.Log
	queries [][2]uint64
	failAt  uint64
}

func (f *fakeSource) BlockNumber(context.Context) (uint64, error) {
	return f.head, nil
}

func (f *fakeSource) FilterLogs(_ context.Context, q ethereum.FilterQuery) ([]types.Log, error) {
	from, to := q.FromBlock.Uint64(), q.ToBlock.Uint64()
	if f.failAt != 0 && from <= f.failAt && f.failAt <= to {
		return nil, errors.New("429 Too Many Requests")
	}
	f.queries = append(f.queries, [2]uint64{from, to})
	var out []types.Log
	for _, l := range f.logs {
		if l.BlockNumber >= from && l.BlockNumber <= to {
			out = append(out, l)
		}
	}
	return out, nil
}

type confirmation struct {
	kind       model.FundTransferKind
	proposalID uint64
	amount     uint64
	block      uint64
}

type fakeConfirmer struct {
	last      uint64
	confirmed []confirmation
	known     map[uint64]bool // 有流水的提案
}

func (f *fakeConfirmer) ConfirmTransfer(_ context.Context, kind model.FundTransferKind, proposalID, amount uint64, _ string, block uint64) (bool, error) {
	if !f.known[proposalID] {
		return false, nil
	}
	f.confirmed = append(f.confirmed, confirmation{kind, proposalID, amount, block})
	return true, nil
}

func (f *fakeConfirmer) LastConfirmedBlock(context.Context) (uint64, error) {
	return f.last, nil
}

func vaultLog(t *testing.T, event string, proposalID int64, amount int64, block uint64) types.Log {
	t.Helper()
	parsed, err := ParseVaultABI()
	require.NoError(t, err)
	data, err := parsed.Events[event].Inputs.NonIndexed().Pack(big.NewInt(amount))
	require.NoError(t, err)

	topics := []common.Hash{parsed.Events[event].ID, common.BigToHash(big.NewInt(proposalID))}
	if event != "FundsLocked" {
		topics = append(topics, common.BytesToHash(common.HexToAddress("0xbb").Bytes()))
	}
	return types.Log{
		Address:     vaultAddr,
		Topics:      topics,
		Data:        data,
		BlockNumber: block,
		TxHash:      common.BigToHash(big.NewInt(int64(block))),
	}
}

type fakeSettler struct {
	conf    *fakeConfirmer
	pending map[uint64]uint64 // 提案 -> 待定释放金额
}

func (f *fakeSettler) ConfirmPending(_ context.Context, proposalID uint64, kind string, amount uint64) (bool, error) {
	if kind != "release" || f.pending[proposalID] != amount {
		return false, nil
	}
	delete(f.pending, proposalID)
	// 提交后流水落盘
	f.conf.known[proposalID] = true
	return true, nil
}

func newTestWatcher(t *testing.T, src *fakeSource, conf *fakeConfirmer, start uint64, opts ...WatcherOption) *Watcher {
	parsed, err := ParseVaultABI()
	require.NoError(t, err)
	w := NewWatcher(src, &Vault{address: vaultAddr, abi: parsed}, conf, config.ChainConfig{StartBlock: start, BlockBatch: 10}, opts...)
	w.pause = 0
	return w
}

func TestWatcherPollConfirmsTransfers(t *testing.T) {
	src := &fakeSource{head: 25, logs: []types.Log{}}
	src.logs = append(src.logs,
		vaultLog(t, "FundsLocked", 1, 300, 4),
		vaultLog(t, "FundsReleased", 1, 100, 12),
		vaultLog(t, "FundsRefunded", 9, 50, 20),
	)
	conf := &fakeConfirmer{known: map[uint64]bool{1: true}}
	w := newTestWatcher(t, src, conf, 1)

	require.NoError(t, w.Poll(context.Background()))
	assert.Equal(t, [][2]uint64{{1, 10}, {11, 20}, {21, 25}}, src.queries)
	assert.Equal(t, []confirmation{
		{model.FundTransferLock, 1, 300, 4},
		{model.FundTransferRelease, 1, 100, 12},
	}, conf.confirmed)

	status := w.GetStatus()
	assert.Equal(t, uint64(26), status["next_block"])
	assert.Equal(t, 1, status["unmatched"])

	// 没有新区块时不再查询
	require.NoError(t, w.Poll(context.Background()))
	assert.Len(t, src.queries, 3)
}

func TestWatcherStopsAtFailedBatch(t *testing.T) {
	src := &fakeSource{head: 30, failAt: 15}
	w := newTestWatcher(t, src, &fakeConfirmer{}, 1)

	err := w.Poll(context.Background())
	require.Error(t, err)
	assert.True(t, isRateLimit(err))
	assert.Equal(t, uint64(11), w.GetStatus()["next_block"])

	backoff := w.handleError(err)
	assert.Greater(t, backoff.Seconds(), 0.0)
	assert.Equal(t, 1, w.GetStatus()["retry_count"])
}

func TestWatcherStartResumesAfterConfirmedBlock(t *testing.T) {
	src := &fakeSource{head: 100}
	w := newTestWatcher(t, src, &fakeConfirmer{last: 40}, 5)
	w.interval = 1 << 40

	require.NoError(t, w.Start(context.Background()))
	assert.Equal(t, uint64(41), w.GetStatus()["next_block"])
	w.Stop()
}

func TestWatcherSettlesPendingRelease(t *testing.T) {
	src := &fakeSource{head: 10}
	src.logs = append(src.logs,
		vaultLog(t, "FundsReleased", 3, 70, 5),
		vaultLog(t, "FundsReleased", 4, 10, 6),
	)
	conf := &fakeConfirmer{known: map[uint64]bool{}}
	settler := &fakeSettler{conf: conf, pending: map[uint64]uint64{3: 70, 4: 99}}
	w := newTestWatcher(t, src, conf, 1, WithSettler(settler))

	require.NoError(t, w.Poll(context.Background()))
	assert.Equal(t, []confirmation{{model.FundTransferRelease, 3, 70, 5}}, conf.confirmed)
	assert.Empty(t, settler.pending[3])
	// 金额不符的待定转账保持不变
	assert.Equal(t, uint64(99), settler.pending[4])
	assert.Equal(t, 1, w.GetStatus()["unmatched"])
}

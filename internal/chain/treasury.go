package chain

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/pkg/errors"

	"github.com/blues/tgs/internal/logger"
	"github.com/blues/tgs/internal/logic"
)

// vaultClient 链上托管的最小接口
type vaultClient interface {
	Available(ctx context.Context) (*big.Int, error)
	Send(ctx context.Context, method string, args ...interface{}) (*types.Receipt, error)
}

// txBackend 发送交易并等待回执
type txBackend interface {
	transact(ctx context.Context, method string, args ...interface{}) (*types.Transaction, error)
	waitMined(ctx context.Context, tx *types.Transaction) (*types.Receipt, error)
}

// Send 发送托管合约交易并等待上链
func (m *Manager) Send(ctx context.Context, method string, args ...interface{}) (*types.Receipt, error) {
	return sendAndWait(ctx, m, m.config.TxTimeout, method, args...)
}

func (m *Manager) transact(ctx context.Context, method string, args ...interface{}) (*types.Transaction, error) {
	opts, err := bind.NewKeyedTransactorWithChainID(m.key, big.NewInt(m.config.ChainId))
	if err != nil {
		return nil, errors.Wrap(err, "create transactor")
	}
	opts.Context = ctx
	return m.vault.Transact(opts, method, args...)
}

func (m *Manager) waitMined(ctx context.Context, tx *types.Transaction) (*types.Receipt, error) {
	return bind.WaitMined(ctx, m.GetClient(), tx)
}

// sendAndWait 交易广播后等待失败时返回 logic.ErrOutcomeUnknown，由事件监听确认结果
func sendAndWait(ctx context.Context, b txBackend, timeout time.Duration, method string, args ...interface{}) (*types.Receipt, error) {
	tx, err := b.transact(ctx, method, args...)
	if err != nil {
		return nil, err
	}

	if timeout <= 0 {
		timeout = 2 * time.Minute
	}
	waitCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	receipt, err := b.waitMined(waitCtx, tx)
	if err != nil {
		logger.Warn("Broadcast %s tx %s but receipt unavailable: %v", method, tx.Hash().Hex(), err)
		return nil, fmt.Errorf("%w: %s tx %s: %v", logic.ErrOutcomeUnknown, method, tx.Hash().Hex(), err)
	}
	if receipt.Status != types.ReceiptStatusSuccessful {
		return receipt, fmt.Errorf("%s tx %s reverted in block %s", method, tx.Hash().Hex(), receipt.BlockNumber)
	}
	return receipt, nil
}

// Available 托管合约中未锁定的资金
func (m *Manager) Available(ctx context.Context) (*big.Int, error) {
	return m.vault.Available(ctx)
}

// Treasury 链上托管合约实现的 logic.Treasury
type Treasury struct {
	vault vaultClient
}

func NewTreasury(m *Manager) *Treasury {
	return &Treasury{vault: m}
}

func newTreasury(v vaultClient) *Treasury {
	return &Treasury{vault: v}
}

// Lock 为提案锁定资金
func (t *Treasury) Lock(ctx context.Context, proposalID uint64, amount uint64) error {
	available, err := t.vault.Available(ctx)
	if err != nil {
		return err
	}
	need := new(big.Int).SetUint64(amount)
	if available.Cmp(need) < 0 {
		return fmt.Errorf("%w: vault has %s, need %d", logic.ErrInsufficientFunds, available, amount)
	}
	_, err = t.vault.Send(ctx, "lock", new(big.Int).SetUint64(proposalID), need)
	return err
}

// Release 向受益人支付
func (t *Treasury) Release(ctx context.Context, proposalID uint64, to string, amount uint64) error {
	return t.payout(ctx, "release", proposalID, to, amount)
}

// Refund 退回未释放资金
func (t *Treasury) Refund(ctx context.Context, proposalID uint64, to string, amount uint64) error {
	return t.payout(ctx, "refund", proposalID, to, amount)
}

func (t *Treasury) payout(ctx context.Context, method string, proposalID uint64, to string, amount uint64) error {
	if !common.IsHexAddress(to) {
		return fmt.Errorf("%w: %q is not an address", logic.ErrValidation, to)
	}
	_, err := t.vault.Send(ctx, method,
		new(big.Int).SetUint64(proposalID),
		common.HexToAddress(to),
		new(big.Int).SetUint64(amount),
	)
	return err
}

package chain

import (
	"context"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/pkg/errors"

	"github.com/blues/tgs/internal/logger"
)

// 托管合约ABI定义
const vaultABI = `[
	{"type":"function","name":"available","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"uint256"}]},
	{"type":"function","name":"lockedOf","stateMutability":"view","inputs":[{"name":"proposalId","type":"uint256"}],"outputs":[{"name":"","type":"uint256"}]},
	{"type":"function","name":"lock","stateMutability":"nonpayable","inputs":[{"name":"proposalId","type":"uint256"},{"name":"amount","type":"uint256"}],"outputs":[]},
	{"type":"function","name":"release","stateMutability":"nonpayable","inputs":[{"name":"proposalId","type":"uint256"},{"name":"to","type":"address"},{"name":"amount","type":"uint256"}],"outputs":[]},
	{"type":"function","name":"refund","stateMutability":"nonpayable","inputs":[{"name":"proposalId","type":"uint256"},{"name":"to","type":"address"},{"name":"amount","type":"uint256"}],"outputs":[]},
	{"type":"event","name":"FundsLocked","anonymous":false,"inputs":[{"indexed":true,"name":"proposalId","type":"uint256"},{"indexed":false,"name":"amount","type":"uint256"}]},
	{"type":"event","name":"FundsReleased","anonymous":false,"inputs":[{"indexed":true,"name":"proposalId","type":"uint256"},{"indexed":true,"name":"to","type":"address"},{"indexed":false,"name":"amount","type":"uint256"}]},
	{"type":"event","name":"FundsRefunded","anonymous":false,"inputs":[{"indexed":true,"name":"proposalId","type":"uint256"},{"indexed":true,"name":"to","type":"address"},{"indexed":false,"name":"amount","type":"uint256"}]}
]`

// Vault 托管合约
type Vault struct {
	address  common.Address
	abi      abi.ABI
	contract *bind.BoundContract
}

// ParseVaultABI 解析托管合约ABI
func ParseVaultABI() (abi.ABI, error) {
	parsed, err := abi.JSON(strings.NewReader(vaultABI))
	if err != nil {
		return abi.ABI{}, errors.Wrap(err, "failed to parse vault ABI")
	}
	return parsed, nil
}

// NewVault 绑定托管合约
func NewVault(address common.Address, backend bind.ContractBackend) (*Vault, error) {
	parsed, err := ParseVaultABI()
	if err != nil {
		return nil, err
	}
	return &Vault{
		address:  address,
		abi:      parsed,
		contract: bind.NewBoundContract(address, parsed, backend, backend, backend),
	}, nil
}

// GetAddress 获取合约地址
func (v *Vault) GetAddress() common.Address {
	return v.address
}

// Available 未锁定的资金
func (v *Vault) Available(ctx context.Context) (*big.Int, error) {
	var out []interface{}
	if err := v.contract.Call(&bind.CallOpts{Context: ctx}, &out, "available"); err != nil {
		return nil, errors.Wrap(err, "call available")
	}
	if len(out) != 1 {
		return nil, fmt.Errorf("unexpected available() output: %v", out)
	}
	amount, ok := out[0].(*big.Int)
	if !ok {
		return nil, fmt.Errorf("unexpected available() type %T", out[0])
	}
	return amount, nil
}

// Transact 发送合约交易
func (v *Vault) Transact(opts *bind.TransactOpts, method string, args ...interface{}) (*types.Transaction, error) {
	tx, err := v.contract.Transact(opts, method, args...)
	if err != nil {
		return nil, errors.Wrapf(err, "send %s", method)
	}
	logger.Info("Vault %s sent: tx %s", method, tx.Hash().Hex())
	return tx, nil
}

// ParseEvent 解析托管合约事件
func (v *Vault) ParseEvent(log types.Log) (map[string]interface{}, error) {
	if len(log.Topics) == 0 {
		return nil, fmt.Errorf("log without topics")
	}
	event, err := v.abi.EventByID(log.Topics[0])
	if err != nil {
		return nil, errors.Wrap(err, "unknown vault event")
	}

	result := map[string]interface{}{
		"eventName":   event.Name,
		"txHash":      log.TxHash.Hex(),
		"blockNumber": log.BlockNumber,
		"logIndex":    log.Index,
	}

	// 解析索引参数
	var indexed abi.Arguments
	for _, input := range event.Inputs {
		if input.Indexed {
			indexed = append(indexed, input)
		}
	}
	if err := abi.ParseTopicsIntoMap(result, indexed, log.Topics[1:]); err != nil {
		return nil, errors.Wrap(err, "parse indexed parameters")
	}

	// 解析非索引参数
	if len(log.Data) > 0 {
		if err := v.abi.UnpackIntoMap(result, event.Name, log.Data); err != nil {
			return nil, errors.Wrap(err, "unpack event data")
		}
	}
	return result, nil
}

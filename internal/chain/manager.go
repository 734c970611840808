package chain

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/Rican7/retry"
	"github.com/Rican7/retry/backoff"
	"github.com/Rican7/retry/strategy"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/pkg/errors"

	"github.com/blues/tgs/internal/config"
	"github.com/blues/tgs/internal/logger"
)

// Manager 单链管理器，持有链客户端与托管合约
type Manager struct {
	mu     sync.RWMutex
	client *ethclient.Client
	config config.ChainConfig
	key    *ecdsa.PrivateKey
	from   common.Address
	vault  *Vault
}

// NewManager 连接节点并初始化托管合约
func NewManager(ctx context.Context, cfg config.ChainConfig) (*Manager, error) {
	key, err := parsePrivateKey(cfg.PrivateKey)
	if err != nil {
		return nil, err
	}
	if !common.IsHexAddress(cfg.VaultAddress) {
		return nil, fmt.Errorf("invalid vault address %q", cfg.VaultAddress)
	}

	manager := &Manager{
		config: cfg,
		key:    key,
		from:   crypto.PubkeyToAddress(key.PublicKey),
	}

	// 初始化客户端
	if err := manager.initClient(ctx, cfg); err != nil {
		return nil, errors.Wrap(err, "failed to initialize client")
	}

	manager.vault, err = NewVault(common.HexToAddress(cfg.VaultAddress), manager.client)
	if err != nil {
		manager.client.Close()
		return nil, errors.Wrap(err, "failed to initialize vault")
	}

	logger.Info("Chain manager ready (chain id: %d, operator: %s, vault: %s)", cfg.ChainId, manager.from.Hex(), cfg.VaultAddress)
	return manager, nil
}

func parsePrivateKey(hexKey string) (*ecdsa.PrivateKey, error) {
	key, err := crypto.HexToECDSA(strings.TrimPrefix(hexKey, "0x"))
	if err != nil {
		return nil, errors.Wrap(err, "failed to parse private key")
	}
	return key, nil
}

// initClient 初始化客户端，连接失败时按 Fibonacci 退避重试
func (m *Manager) initClient(ctx context.Context, cfg config.ChainConfig) error {
	if cfg.RpcUrl == "" {
		return fmt.Errorf("no RPC URL configured")
	}
	attempts := cfg.DialAttempts
	if attempts == 0 {
		attempts = 1
	}

	action := func(attempt uint) error {
		logger.Info("Connecting to chain RPC %s (attempt %d)", cfg.RpcUrl, attempt+1)
		client, err := ethclient.DialContext(ctx, cfg.RpcUrl)
		if err != nil {
			return err
		}
		if err := testClientConnection(ctx, client, cfg.ChainId); err != nil {
			client.Close()
			return err
		}
		m.client = client
		return nil
	}
	if err := retry.Retry(action, strategy.Limit(attempts), strategy.Backoff(backoff.Fibonacci(time.Second))); err != nil {
		return errors.Wrapf(err, "connect to %s", cfg.RpcUrl)
	}
	return nil
}

// testClientConnection 检查节点可用且链ID匹配
func testClientConnection(ctx context.Context, client *ethclient.Client, expected int64) error {
	chainID, err := client.ChainID(ctx)
	if err != nil {
		return errors.Wrap(err, "failed to get chain id")
	}
	if chainID.Cmp(big.NewInt(expected)) != 0 {
		return fmt.Errorf("chain id mismatch: node %s, configured %d", chainID, expected)
	}
	return nil
}

// GetClient 获取客户端
func (m *Manager) GetClient() *ethclient.Client {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.client
}

// Vault 托管合约
func (m *Manager) Vault() *Vault {
	return m.vault
}

// From 发送交易的账户
func (m *Manager) From() common.Address {
	return m.from
}

// GetHealthStatus 获取健康状态
func (m *Manager) GetHealthStatus(ctx context.Context) map[string]interface{} {
	m.mu.RLock()
	defer m.mu.RUnlock()

	health := map[string]interface{}{
		"chain_id":      m.config.ChainId,
		"vault":         m.config.VaultAddress,
		"operator":      m.from.Hex(),
		"client_status": "connected",
	}
	if m.client == nil {
		health["client_status"] = "not_initialized"
	} else if block, err := m.client.BlockNumber(ctx); err != nil {
		health["client_status"] = "disconnected"
	} else {
		health["block_number"] = block
	}
	return health
}

// Close 关闭管理器
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.client != nil {
		m.client.Close()
		m.client = nil
	}
	logger.Info("Chain manager closed")
	return nil
}

package chain

import (
	"context"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/pkg/errors"

	"github.com/blues/tgs/internal/config"
	"github.com/blues/tgs/internal/logger"
	"github.com/blues/tgs/internal/model"
)

// LogSource 区块与日志来源，ethclient.Client 满足该接口
type LogSource interface {
	BlockNumber(ctx context.Context) (uint64, error)
	FilterLogs(ctx context.Context, q ethereum.FilterQuery) ([]types.Log, error)
}

// TransferConfirmer 用链上事件确认账本资金流水
type TransferConfirmer interface {
	ConfirmTransfer(ctx context.Context, kind model.FundTransferKind, proposalID, amount uint64, txHash string, block uint64) (bool, error)
	LastConfirmedBlock(ctx context.Context) (uint64, error)
}

// PendingSettler 结算结果未知的转账，链上事件到达后确认
type PendingSettler interface {
	ConfirmPending(ctx context.Context, proposalID uint64, kind string, amount uint64) (bool, error)
}

var eventKinds = map[string]model.FundTransferKind{
	"FundsLocked":   model.FundTransferLock,
	"FundsReleased": model.FundTransferRelease,
	"FundsRefunded": model.FundTransferRefund,
}

// Watcher 轮询托管合约事件并回填流水的链上确认信息
type Watcher struct {
	source    LogSource
	vault     *Vault
	confirmer TransferConfirmer
	settler   PendingSettler
	interval  time.Duration
	batch     uint64
	pause     time.Duration // 批次之间的间隔

	mu         sync.RWMutex
	next       uint64
	retryCount int
	lastError  string
	unmatched  int

	cancel context.CancelFunc
	done   chan struct{}
}

// WatcherOption Watcher 可选项
type WatcherOption func(*Watcher)

// WithSettler 未匹配的释放与退款事件先尝试确认待定转账
func WithSettler(s PendingSettler) WatcherOption {
	return func(w *Watcher) {
		w.settler = s
	}
}

// NewWatcher 创建托管合约事件监听器
func NewWatcher(source LogSource, vault *Vault, confirmer TransferConfirmer, cfg config.ChainConfig, opts ...WatcherOption) *Watcher {
	batch := cfg.BlockBatch
	if batch == 0 {
		batch = 500
	}
	interval := cfg.PollInterval
	if interval <= 0 {
		interval = time.Minute
	}
	w := &Watcher{
		source:    source,
		vault:     vault,
		confirmer: confirmer,
		interval:  interval,
		batch:     batch,
		pause:     500 * time.Millisecond,
		next:      cfg.StartBlock,
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Start 确定起始区块并启动轮询
func (w *Watcher) Start(ctx context.Context) error {
	head, err := w.source.BlockNumber(ctx)
	if err != nil {
		return errors.Wrap(err, "failed to connect to blockchain")
	}
	last, err := w.confirmer.LastConfirmedBlock(ctx)
	if err != nil {
		return err
	}

	w.mu.Lock()
	if last > 0 && last+1 > w.next {
		w.next = last + 1
	}
	start := w.next
	w.mu.Unlock()
	logger.Info("Starting vault watcher from block %d, current block %d", start, head)

	ctx, w.cancel = context.WithCancel(ctx)
	w.done = make(chan struct{})
	go w.loop(ctx)
	return nil
}

// Stop 停止轮询并等待退出
func (w *Watcher) Stop() {
	if w.cancel == nil {
		return
	}
	logger.Info("Stopping vault watcher")
	w.cancel()
	<-w.done
}

func (w *Watcher) loop(ctx context.Context) {
	defer close(w.done)
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Info("Vault watcher stopped")
			return
		case <-ticker.C:
			if err := w.Poll(ctx); err != nil {
				if ctx.Err() != nil {
					return
				}
				w.wait(ctx, w.handleError(err))
				continue
			}
			w.mu.Lock()
			w.retryCount = 0
			w.mu.Unlock()
		}
	}
}

func (w *Watcher) wait(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}

// Poll 处理从游标到当前区块之间的全部日志
func (w *Watcher) Poll(ctx context.Context) error {
	head, err := w.source.BlockNumber(ctx)
	if err != nil {
		return errors.Wrap(err, "get current block number")
	}

	w.mu.RLock()
	from := w.next
	w.mu.RUnlock()

	for from <= head {
		to := from + w.batch - 1
		if to > head {
			to = head
		}
		logs, err := w.source.FilterLogs(ctx, ethereum.FilterQuery{
			FromBlock: new(big.Int).SetUint64(from),
			ToBlock:   new(big.Int).SetUint64(to),
			Addresses: []common.Address{w.vault.GetAddress()},
		})
		if err != nil {
			if isRateLimit(err) {
				logger.Error("API rate limit hit while processing blocks %d-%d: %v", from, to, err)
			}
			return errors.Wrapf(err, "filter logs %d-%d", from, to)
		}
		if err := w.handleLogs(ctx, logs); err != nil {
			return err
		}
		logger.Debug("Processed blocks %d-%d, %d logs", from, to, len(logs))

		from = to + 1
		w.mu.Lock()
		w.next = from
		w.mu.Unlock()

		if from <= head && w.pause > 0 {
			w.wait(ctx, w.pause)
			if ctx.Err() != nil {
				return ctx.Err()
			}
		}
	}
	return nil
}

// handleLogs 存储失败时返回错误，游标不前进；无法解析的日志跳过
func (w *Watcher) handleLogs(ctx context.Context, logs []types.Log) error {
	for _, l := range logs {
		if l.Removed {
			continue
		}
		data, err := w.vault.ParseEvent(l)
		if err != nil {
			logger.Error("Error parsing vault log %s#%d: %v", l.TxHash.Hex(), l.Index, err)
			continue
		}
		name, _ := data["eventName"].(string)
		kind, ok := eventKinds[name]
		if !ok {
			continue
		}
		proposalID, ok1 := asUint64(data["proposalId"])
		amount, ok2 := asUint64(data["amount"])
		if !ok1 || !ok2 {
			logger.Warn("Vault event %s in tx %s exceeds ledger range", name, l.TxHash.Hex())
			continue
		}

		matched, err := w.confirm(ctx, kind, proposalID, amount, l)
		if err != nil {
			return errors.Wrapf(err, "confirm %s of proposal %d", kind, proposalID)
		}
		if !matched {
			w.mu.Lock()
			w.unmatched++
			w.mu.Unlock()
			logger.Warn("On-chain %s of proposal %d amount %d has no ledger transfer (tx %s)", kind, proposalID, amount, l.TxHash.Hex())
			continue
		}
		logger.Debug("Confirmed %s of proposal %d at block %d", kind, proposalID, l.BlockNumber)
	}
	return nil
}

// confirm 没有流水时若账本有待定转账，先提交再回填
func (w *Watcher) confirm(ctx context.Context, kind model.FundTransferKind, proposalID, amount uint64, l types.Log) (bool, error) {
	matched, err := w.confirmer.ConfirmTransfer(ctx, kind, proposalID, amount, l.TxHash.Hex(), l.BlockNumber)
	if err != nil || matched || w.settler == nil || kind == model.FundTransferLock {
		return matched, err
	}
	settled, err := w.settler.ConfirmPending(ctx, proposalID, string(kind), amount)
	if err != nil || !settled {
		return false, err
	}
	logger.Info("Pending %s of proposal %d settled by tx %s", kind, proposalID, l.TxHash.Hex())
	return w.confirmer.ConfirmTransfer(ctx, kind, proposalID, amount, l.TxHash.Hex(), l.BlockNumber)
}

func asUint64(v interface{}) (uint64, bool) {
	n, ok := v.(*big.Int)
	if !ok || n.Sign() < 0 || !n.IsUint64() {
		return 0, false
	}
	return n.Uint64(), true
}

// handleError 记录错误并返回退避时间
func (w *Watcher) handleError(err error) time.Duration {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.retryCount++
	w.lastError = err.Error()

	backoff := time.Duration(w.retryCount) * 10 * time.Second
	if w.retryCount > 5 {
		backoff = 5 * time.Minute
	}
	logger.Error("Vault watcher encountered error (retry %d): %v", w.retryCount, err)
	return backoff
}

func isRateLimit(err error) bool {
	return strings.Contains(err.Error(), "Too Many Requests")
}

// GetStatus 获取监听状态
func (w *Watcher) GetStatus() map[string]interface{} {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return map[string]interface{}{
		"vault":       w.vault.GetAddress().Hex(),
		"next_block":  w.next,
		"retry_count": w.retryCount,
		"last_error":  w.lastError,
		"unmatched":   w.unmatched,
		"batch_size":  w.batch,
	}
}

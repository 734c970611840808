package event

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/Rican7/retry"
	"github.com/Rican7/retry/backoff"
	"github.com/Rican7/retry/strategy"
	"github.com/panjf2000/ants/v2"
	pkgerrors "github.com/pkg/errors"

	"github.com/blues/tgs/internal/logger"
	"github.com/blues/tgs/internal/logic"
)

// Journal 持久化审计记录与快照
type Journal interface {
	Apply(ctx context.Context, records []logic.Record) error
}

// Publisher 将已持久化的记录推送到外部
type Publisher interface {
	Publish(ctx context.Context, records []logic.Record) error
}

// Dispatcher 实现 logic.Emitter
// 记录按接收顺序写入 Journal，之后交给协程池中的处理器与 Publisher
type Dispatcher struct {
	journal    Journal
	processors *ProcessorManager
	publisher  Publisher
	pool       *ants.Pool

	mu      sync.Mutex
	pending [][]logic.Record
	stopped bool
	notify  chan struct{}

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

// DispatcherOption Dispatcher 可选项
type DispatcherOption func(*Dispatcher)

// WithPublisher 指定外部推送
func WithPublisher(p Publisher) DispatcherOption {
	return func(d *Dispatcher) { d.publisher = p }
}

// NewDispatcher 创建分发器，poolSize 为处理器协程数
func NewDispatcher(journal Journal, processors *ProcessorManager, poolSize int, opts ...DispatcherOption) (*Dispatcher, error) {
	if poolSize <= 0 {
		poolSize = 8
	}
	pool, err := ants.NewPool(poolSize)
	if err != nil {
		return nil, pkgerrors.Wrap(err, "create processor pool")
	}
	if processors == nil {
		processors = NewProcessorManager()
	}

	ctx, cancel := context.WithCancel(context.Background())
	d := &Dispatcher{
		journal:    journal,
		processors: processors,
		pool:       pool,
		notify:     make(chan struct{}, 1),
		ctx:        ctx,
		cancel:     cancel,
		done:       make(chan struct{}),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d, nil
}

// Start 启动分发循环
func (d *Dispatcher) Start() {
	go d.loop()
	logger.Info("Record dispatcher started")
}

// Emit 实现 logic.Emitter，不阻塞调用方
func (d *Dispatcher) Emit(records ...logic.Record) {
	if len(records) == 0 {
		return
	}
	d.mu.Lock()
	if d.stopped {
		d.mu.Unlock()
		logger.Warn("Dispatcher stopped, dropping %d records (first %s)", len(records), records[0].Type)
		return
	}
	d.pending = append(d.pending, records)
	d.mu.Unlock()

	select {
	case d.notify <- struct{}{}:
	default:
	}
}

// Stop 处理完已接收的记录后退出
func (d *Dispatcher) Stop(timeout time.Duration) {
	d.cancel()
	select {
	case <-d.done:
	case <-time.After(timeout):
		logger.Warn("Dispatcher did not drain within %s", timeout)
	}
}

func (d *Dispatcher) loop() {
	defer close(d.done)
	for {
		select {
		case <-d.notify:
			d.drain()
		case <-d.ctx.Done():
			d.drain()
			// 等待处理器结束，它们可能继续产生记录
			if err := d.pool.ReleaseTimeout(5 * time.Second); err != nil {
				logger.Warn("Processor pool release: %v", err)
			}
			d.drainWith(d.handleBatchSync)
			d.mu.Lock()
			d.stopped = true
			d.mu.Unlock()
			d.drainWith(d.handleBatchSync)
			logger.Info("Record dispatcher stopped")
			return
		}
	}
}

func (d *Dispatcher) drain() {
	d.drainWith(d.handleBatch)
}

func (d *Dispatcher) drainWith(handle func([]logic.Record)) {
	for {
		d.mu.Lock()
		batches := d.pending
		d.pending = nil
		d.mu.Unlock()
		if len(batches) == 0 {
			return
		}
		for _, batch := range batches {
			handle(batch)
		}
	}
}

// handleBatch 写入 Journal 后异步处理
func (d *Dispatcher) handleBatch(batch []logic.Record) {
	if !d.persist(batch) {
		return
	}
	for _, r := range batch {
		record := r
		if _, ok := d.processors.GetProcessor(record.Type); !ok {
			continue
		}
		if err := d.pool.Submit(func() { d.process(record) }); err != nil {
			logger.Warn("Processor pool unavailable (%v), processing %s inline", err, record.Type)
			d.process(record)
		}
	}
	d.publish(batch)
}

// handleBatchSync 协程池关闭后同步处理
func (d *Dispatcher) handleBatchSync(batch []logic.Record) {
	if !d.persist(batch) {
		return
	}
	for _, r := range batch {
		d.process(r)
	}
	d.publish(batch)
}

// persist 只写入账本尚未同步落盘的记录
func (d *Dispatcher) persist(batch []logic.Record) bool {
	if d.journal == nil {
		return true
	}
	var rest []logic.Record
	for _, r := range batch {
		if !r.Journaled {
			rest = append(rest, r)
		}
	}
	if len(rest) == 0 {
		return true
	}
	action := func(attempt uint) error {
		return d.journal.Apply(context.Background(), rest)
	}
	err := retry.Retry(action, strategy.Limit(3), strategy.Backoff(backoff.Linear(50*time.Millisecond)))
	if err != nil {
		logger.Error("Failed to journal %d records (first %s for proposal %d): %v",
			len(rest), rest[0].Type, rest[0].ProposalID, err)
		return false
	}
	return true
}

// process 执行处理器，提案正在结算时重试
func (d *Dispatcher) process(record logic.Record) {
	var err error
	_ = retry.Retry(func(attempt uint) error {
		err = d.processors.ProcessRecord(context.Background(), record)
		if errors.Is(err, logic.ErrReentrancy) {
			return err
		}
		return nil
	}, strategy.Limit(5), strategy.Backoff(backoff.Fibonacci(20*time.Millisecond)))
	if err != nil {
		logger.Error("Processor for %s (proposal %d) failed: %v", record.Type, record.ProposalID, err)
	}
}

func (d *Dispatcher) publish(batch []logic.Record) {
	if d.publisher == nil {
		return
	}
	if err := d.publisher.Publish(context.Background(), batch); err != nil {
		logger.Warn("Failed to publish %d records: %v", len(batch), err)
	}
}

package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"gorm.io/gorm"

	"github.com/blues/tgs/internal/auth"
	"github.com/blues/tgs/internal/chain"
	"github.com/blues/tgs/internal/config"
	"github.com/blues/tgs/internal/event"
	"github.com/blues/tgs/internal/handler"
	"github.com/blues/tgs/internal/logger"
	"github.com/blues/tgs/internal/logic"
	"github.com/blues/tgs/internal/metrics"
	"github.com/blues/tgs/internal/repository"
	"github.com/blues/tgs/internal/router"
	"github.com/blues/tgs/internal/scoring"
	"github.com/blues/tgs/internal/task"
	"github.com/blues/tgs/internal/treasury"
)

func serveCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and scheduled jobs",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := setup()
			if err != nil {
				return err
			}
			defer logger.Sync()

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return serve(ctx, cfg)
		},
	}
}

// authority 按配置创建角色表并写入初始授权
// 账本操作员始终持有资金管理角色，用于投票通过后开设托管
func authority(ctx context.Context, db *gorm.DB, cfg *config.Config) (logic.AuthorityGate, error) {
	grants := make(map[string][]logic.Role, len(cfg.Auth.Grants)+1)
	for identity, names := range cfg.Auth.Grants {
		for _, name := range names {
			role, _ := logic.ParseRole(name)
			grants[identity] = append(grants[identity], role)
		}
	}
	grants[cfg.Ledger.Operator] = append(grants[cfg.Ledger.Operator], logic.RoleTreasuryManager)

	if cfg.Auth.Backend == "memory" {
		gate := auth.NewMemoryGate()
		for identity, roles := range grants {
			gate.Grant(identity, roles...)
		}
		return gate, nil
	}

	gate := auth.NewStoreGate(db)
	if err := gate.Load(ctx); err != nil {
		return nil, err
	}
	for identity, roles := range grants {
		if err := gate.Grant(ctx, "config", identity, roles...); err != nil {
			return nil, err
		}
	}
	return gate, nil
}

// custody 资金托管后端
type custody struct {
	treasury logic.Treasury
	memory   *treasury.MemoryTreasury
	chain    *chain.Manager
	watcher  *chain.Watcher
	stats    handler.BackendStats
}

func newCustody(ctx context.Context, cfg *config.Config) (*custody, error) {
	if cfg.Treasury.Backend == "chain" {
		manager, err := chain.NewManager(ctx, cfg.Chain)
		if err != nil {
			return nil, err
		}
		c := &custody{
			treasury: chain.NewTreasury(manager),
			chain:    manager,
		}
		c.stats = func(ctx context.Context) (interface{}, error) {
			available, err := manager.Available(ctx)
			if err != nil {
				return nil, err
			}
			health := manager.GetHealthStatus(ctx)
			health["available"] = available.String()
			if c.watcher != nil {
				health["watcher"] = c.watcher.GetStatus()
			}
			return health, nil
		}
		return c, nil
	}

	memory := treasury.NewMemoryTreasury(cfg.Treasury.InitialBalance)
	return &custody{
		treasury: memory,
		memory:   memory,
		stats: func(context.Context) (interface{}, error) {
			return memory.Stats(), nil
		},
	}, nil
}

func serve(ctx context.Context, cfg *config.Config) error {
	db, err := repository.Init(cfg.Database)
	if err != nil {
		return err
	}
	journal := repository.NewJournal(db)

	gate, err := authority(ctx, db, cfg)
	if err != nil {
		return err
	}

	m := metrics.New()

	// 审计记录分发
	var dispatcherOpts []event.DispatcherOption
	var publisher *event.NatsPublisher
	if cfg.Nats.Enabled {
		publisher, err = event.NewNatsPublisher(cfg.Nats, journal)
		if err != nil {
			return err
		}
		defer publisher.Close()
		dispatcherOpts = append(dispatcherOpts, event.WithPublisher(publisher))
	}
	processors := event.NewProcessorManager()
	dispatcher, err := event.NewDispatcher(journal, processors, 8, dispatcherOpts...)
	if err != nil {
		return err
	}
	emitter := m.Emitter(dispatcher)

	backend, err := newCustody(ctx, cfg)
	if err != nil {
		return err
	}
	if backend.chain != nil {
		defer backend.chain.Close()
	}

	escrows, err := logic.NewEscrowLedger(cfg.Ledger.EscrowParams(), gate, m.Treasury(backend.treasury), logic.WithEmitter(emitter), logic.WithJournal(journal))
	if err != nil {
		return err
	}
	proposals, err := logic.NewProposalLedger(cfg.Ledger.ProposalParams(), gate, escrows, logic.WithEmitter(emitter), logic.WithJournal(journal))
	if err != nil {
		return err
	}

	// 从数据库恢复账本
	storedProposals, err := journal.LoadProposals(ctx)
	if err != nil {
		return err
	}
	storedEscrows, err := journal.LoadEscrows(ctx)
	if err != nil {
		return err
	}
	if err := proposals.Restore(storedProposals); err != nil {
		return err
	}
	if err := escrows.Restore(storedEscrows); err != nil {
		return err
	}
	if backend.memory != nil {
		backend.memory.Restore(storedEscrows)
	}

	processors.RegisterProcessor(event.NewMilestoneCompletedProcessor(proposals, cfg.Ledger.Operator))
	processors.RegisterProcessor(event.NewEscrowCompletedProcessor(proposals, cfg.Ledger.Operator))
	dispatcher.Start()
	defer dispatcher.Stop(10 * time.Second)

	// 链上托管时回填资金流水的交易信息
	if backend.chain != nil {
		backend.watcher = chain.NewWatcher(backend.chain.GetClient(), backend.chain.Vault(), journal, cfg.Chain, chain.WithSettler(escrows))
		if err := backend.watcher.Start(ctx); err != nil {
			return err
		}
		defer backend.watcher.Stop()
	}

	scores := scoring.NewGate(db, gate, proposals, cfg.Scoring, scoring.WithEmitter(emitter))
	if err := scores.Load(ctx, cfg.Scoring.Models); err != nil {
		return err
	}
	m.RegisterTotals(escrows.Totals)

	// 启动定时任务
	tasks, err := task.NewManager(
		task.NewProposalFinalizeJob(proposals, nil, time.Duration(cfg.Task.Interval)*time.Second),
		task.NewScoreExpiryJob(scores, time.Duration(cfg.Task.ScoreExpiryInterval)*time.Second),
	)
	if err != nil {
		return err
	}
	if err := tasks.Start(); err != nil {
		return err
	}
	defer tasks.Stop()

	r := router.Setup(cfg.Server, cfg.Metrics, router.Handlers{
		Proposals: handler.NewProposalHandler(proposals, scores, journal),
		Escrows:   handler.NewEscrowHandler(escrows),
		Treasury:  handler.NewTreasuryHandler(escrows.Totals, backend.stats),
		Scoring:   handler.NewScoringHandler(scores),
		Metrics:   m,
	})
	srv := &http.Server{
		Addr:              ":" + cfg.Server.Port,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	// 启动服务器
	errCh := make(chan error, 1)
	go func() {
		logger.Info("Server starting on port %s", cfg.Server.Port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

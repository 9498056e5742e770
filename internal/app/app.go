package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"plays-ai/internal/ai"
	"plays-ai/internal/assess"
	"plays-ai/internal/broker"
	"plays-ai/internal/config"
	"plays-ai/internal/feature"
	"plays-ai/internal/indicator"
	"plays-ai/internal/ledger"
	"plays-ai/internal/market"
	"plays-ai/internal/order"
	"plays-ai/internal/play"
	"plays-ai/internal/replay"
	"plays-ai/internal/store"
	"plays-ai/internal/watch"
)

// App 负责组装全部组件并驱动监控主循环。
type App struct {
	cfg    *config.Config
	logger *zap.Logger

	store   *store.Store
	ledger  *ledger.Ledger
	engine  *PlayEngine
	machine *order.Machine
	replay  *replay.Engine
	server  *Server
}

// New 按配置装配应用。openai.api_key 为空时解读与评估完全走启发式路径。
func New(cfg *config.Config, logger *zap.Logger) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	st, err := store.NewSQLite(cfg.Database)
	if err != nil {
		return nil, err
	}

	led, err := ledger.NewLedger(st, logger)
	if err != nil {
		_ = st.Close()
		return nil, err
	}

	marketClient, err := market.NewClient(cfg.Market, logger)
	if err != nil {
		_ = st.Close()
		return nil, err
	}

	calculator := indicator.NewCalculator()
	observer := feature.NewObserver(marketClient, calculator, cfg.Market, logger)

	var aiClient *ai.Client
	if cfg.OpenAI.APIKey != "" {
		aiClient, err = ai.NewClient(cfg.OpenAI, logger)
		if err != nil {
			_ = st.Close()
			return nil, err
		}
	} else {
		logger.Warn("未配置模型密钥，解读与评估走启发式路径")
	}

	var primary play.Interpreter
	var appraiser assess.Appraiser
	if aiClient != nil {
		primary = play.NewProviderInterpreter(aiClient, logger)
		appraiser = aiClient
	}
	interpreter := play.NewFallbackInterpreter(
		primary,
		play.NewHeuristicInterpreter(),
		cfg.Scheduler.ProviderTimeout,
		logger,
	)

	assessor := assess.NewEngine(cfg.Risk, appraiser, cfg.Scheduler.ProviderTimeout, logger)
	machine := order.NewMachine(cfg.Risk, logger)
	watcher := watch.NewEngine(cfg.Watch, logger)

	var gateway broker.Gateway
	if cfg.Broker.Simulation {
		gateway = broker.NewSimulator(cfg.Broker.Slippage, logger)
		logger.Info("执行通道运行在模拟模式")
	} else {
		gateway, err = broker.NewLiveGateway(cfg.Broker, logger)
		if err != nil {
			_ = st.Close()
			return nil, err
		}
	}

	engine := NewPlayEngine(cfg, interpreter, observer, assessor, machine, watcher, gateway, led, logger)
	replayer := replay.NewEngine(machine, cfg.Watch.ResizeFraction, logger)
	server := NewServer(cfg.Server, engine, led, replayer, logger)

	return &App{
		cfg:     cfg,
		logger:  logger,
		store:   st,
		ledger:  led,
		engine:  engine,
		machine: machine,
		replay:  replayer,
		server:  server,
	}, nil
}

// Engine 暴露生命周期引擎，供测试与上层调用。
func (a *App) Engine() *PlayEngine {
	return a.engine
}

// Run 启动应用：先对账修复历史残留，再并行拉起 HTTP 服务与监控主循环，
// 直到上下文取消。
func (a *App) Run(ctx context.Context) error {
	fixed, err := a.ledger.Reconcile(ctx, a.machine)
	if err != nil {
		return fmt.Errorf("启动对账失败: %w", err)
	}
	if fixed > 0 {
		a.logger.Warn("启动对账修复了历史残留订单", zap.Int("fixed", fixed))
	}

	group, groupCtx := errgroup.WithContext(ctx)

	group.Go(func() error {
		return a.server.Run(groupCtx)
	})

	group.Go(func() error {
		return a.monitorLoop(groupCtx)
	})

	err = group.Wait()
	if closeErr := a.store.Close(); closeErr != nil {
		a.logger.Error("关闭存储失败", zap.Error(closeErr))
	}
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// monitorLoop 按固定节奏扫描活跃订单：自动提交已批准订单，
// 对持仓订单逐一评估，单个订单失败不影响其余订单。
func (a *App) monitorLoop(ctx context.Context) error {
	interval := a.cfg.Scheduler.LoopInterval
	if interval <= 0 {
		interval = 30 * time.Second
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	a.logger.Info("监控主循环启动", zap.Duration("interval", interval))

	for {
		select {
		case <-ctx.Done():
			a.logger.Info("监控主循环退出")
			return ctx.Err()
		case <-ticker.C:
			a.runCycle(ctx)
		}
	}
}

func (a *App) runCycle(ctx context.Context) {
	active, err := a.ledger.ActiveOrders(ctx)
	if err != nil {
		a.logger.Error("查询活跃订单失败", zap.Error(err))
		return
	}
	if len(active) == 0 {
		return
	}

	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(4)

	for _, o := range active {
		switch o.Status {
		case order.StatusApproved:
			group.Go(func() error {
				if _, err := a.engine.Submit(groupCtx, o.ID); err != nil {
					a.logger.Error("自动提交失败",
						zap.String("order_id", o.ID),
						zap.Error(err),
					)
				}
				return nil
			})
		case order.StatusFilled:
			group.Go(func() error {
				if err := a.engine.EvaluateOrder(groupCtx, o.ID); err != nil {
					a.logger.Error("监控评估失败",
						zap.String("order_id", o.ID),
						zap.Error(err),
					)
				}
				return nil
			})
		}
	}

	_ = group.Wait()
}

package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"plays-ai/internal/assess"
	"plays-ai/internal/broker"
	"plays-ai/internal/config"
	"plays-ai/internal/ledger"
	"plays-ai/internal/market"
	"plays-ai/internal/order"
	"plays-ai/internal/play"
	"plays-ai/internal/watch"
)

// Observer 抽象行情观测能力，feature.Observer 为生产实现。
type Observer interface {
	Observe(ctx context.Context, symbol string) (market.Snapshot, error)
}

// Assessor 抽象评估能力，assess.Engine 为生产实现。
type Assessor interface {
	Assess(ctx context.Context, req assess.Request) (assess.Assessment, assess.RiskProfile)
}

// Summary 为订单的表现摘要，随时可查。
type Summary struct {
	Order         *order.Order  `json:"order"`
	PnLPercent    float64       `json:"pnl_percent"`
	MaxProfit     float64       `json:"max_profit"`
	MaxDrawdown   float64       `json:"max_drawdown"`
	TimeInPlay    time.Duration `json:"time_in_play"`
	Interventions int           `json:"interventions"`
	Adaptations   int           `json:"adaptations"`
}

// PlayEngine 串起完整生命周期：解读、评估、审批、执行、监控、入账。
// 对同一订单的全部写操作经过逐单互斥锁，监控循环与人工操作不会交错。
type PlayEngine struct {
	cfg         *config.Config
	interpreter play.Interpreter
	observer    Observer
	assessor    Assessor
	machine     *order.Machine
	watcher     *watch.Engine
	gateway     broker.Gateway
	ledger      *ledger.Ledger
	logger      *zap.Logger

	locksMu sync.Mutex
	locks   map[string]*sync.Mutex
}

// NewPlayEngine 创建生命周期引擎。
func NewPlayEngine(
	cfg *config.Config,
	interpreter play.Interpreter,
	observer Observer,
	assessor Assessor,
	machine *order.Machine,
	watcher *watch.Engine,
	gateway broker.Gateway,
	led *ledger.Ledger,
	logger *zap.Logger,
) *PlayEngine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PlayEngine{
		cfg:         cfg,
		interpreter: interpreter,
		observer:    observer,
		assessor:    assessor,
		machine:     machine,
		watcher:     watcher,
		gateway:     gateway,
		ledger:      led,
		logger:      logger,
		locks:       make(map[string]*sync.Mutex),
	}
}

// lockOrder 返回该订单的互斥锁，同一ID始终拿到同一把锁。
func (e *PlayEngine) lockOrder(id string) *sync.Mutex {
	e.locksMu.Lock()
	defer e.locksMu.Unlock()

	mu, ok := e.locks[id]
	if !ok {
		mu = &sync.Mutex{}
		e.locks[id] = mu
	}
	return mu
}

// CreatePlay 把一段自由文本的交易想法推进到分析完成：
// 解读 → 观测 → 评估 → 状态机门槛判定，返回时订单处于
// approved 或 pending_approval，不会自动提交执行。
// confidence 为交易者自报的信心度，参与风险画像计算。
func (e *PlayEngine) CreatePlay(ctx context.Context, description, symbol string, quantity, confidence float64) (*order.Order, error) {
	description = strings.TrimSpace(description)
	symbol = strings.TrimSpace(symbol)
	if description == "" {
		return nil, errors.New("剧本描述不能为空")
	}
	if symbol == "" {
		return nil, errors.New("标的不能为空")
	}
	if quantity <= 0 {
		return nil, errors.New("数量必须大于0")
	}
	if confidence < 0 || confidence > 1 {
		return nil, errors.New("信心度必须位于[0,1]")
	}

	snapshot, err := e.observer.Observe(ctx, symbol)
	if err != nil {
		return nil, fmt.Errorf("获取市场观测失败: %w", err)
	}

	p, err := e.interpreter.Interpret(ctx, description, symbol)
	if err != nil {
		return nil, fmt.Errorf("解读剧本失败: %w", err)
	}

	o := order.New(p, quantity, 0, snapshot.Price)
	o.Stops = order.StopConditions{
		StopLossPct:     e.cfg.Stops.StopLossPct,
		TakeProfitPct:   e.cfg.Stops.TakeProfitPct,
		TrailingStopPct: e.cfg.Stops.TrailingStopPct,
		MaxHolding:      e.cfg.Stops.MaxHolding,
	}
	if e.cfg.Stops.ExpireAfter > 0 {
		o.Stops.ExpireAt = time.Now().UTC().Add(e.cfg.Stops.ExpireAfter)
	}

	assessment, profile := e.assessor.Assess(ctx, assess.Request{
		Play:               p,
		Snapshot:           snapshot,
		Quantity:           quantity,
		MaxLossPct:         e.cfg.Stops.StopLossPct,
		DeclaredConfidence: confidence,
	})
	o.Assessment = assessment
	o.Risk = profile
	o.Confidence = assessment.Confidence

	if err := e.machine.Transition(o, order.StatusAnalyzed); err != nil {
		return nil, err
	}
	if err := e.machine.Gate(o); err != nil {
		return nil, err
	}

	if err := e.ledger.SaveOrder(ctx, o); err != nil {
		return nil, err
	}

	e.logger.Info("剧本已创建",
		zap.String("order_id", o.ID),
		zap.String("symbol", symbol),
		zap.String("side", string(p.Side)),
		zap.String("status", string(o.Status)),
		zap.String("risk_level", string(profile.Level)),
	)
	return o, nil
}

// Approve 人工批准待审批订单。批准前刷新参考价，
// 止损冻结基于审批时的市价而不是创建时的旧价。
func (e *PlayEngine) Approve(ctx context.Context, id string) (*order.Order, error) {
	mu := e.lockOrder(id)
	mu.Lock()
	defer mu.Unlock()

	o, err := e.ledger.GetOrder(ctx, id)
	if err != nil {
		return nil, err
	}

	if snapshot, err := e.observer.Observe(ctx, o.Symbol); err == nil && snapshot.Price > 0 {
		o.ReferencePrice = snapshot.Price
	} else if err != nil {
		e.logger.Warn("审批时观测失败，沿用创建时参考价",
			zap.String("order_id", id),
			zap.Error(err),
		)
	}

	if err := e.machine.Approve(o); err != nil {
		return nil, err
	}
	if err := e.ledger.SaveOrder(ctx, o); err != nil {
		return nil, err
	}
	return o, nil
}

// Reject 拒绝订单并记录原因。
func (e *PlayEngine) Reject(ctx context.Context, id, reason string) (*order.Order, error) {
	mu := e.lockOrder(id)
	mu.Lock()
	defer mu.Unlock()

	o, err := e.ledger.GetOrder(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := e.machine.Reject(o, reason); err != nil {
		return nil, err
	}
	if err := e.ledger.SaveOrder(ctx, o); err != nil {
		return nil, err
	}
	return o, nil
}

// Submit 把已批准的订单送往执行通道。执行端拒绝时订单进入 rejected；
// 通道报错时不落盘，账本停留在 approved，由下一轮调度重试。
func (e *PlayEngine) Submit(ctx context.Context, id string) (*order.Order, error) {
	mu := e.lockOrder(id)
	mu.Lock()
	defer mu.Unlock()

	o, err := e.ledger.GetOrder(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := e.machine.Transition(o, order.StatusSubmitted); err != nil {
		return nil, err
	}

	result, err := e.gateway.Place(ctx, broker.Request{
		Symbol:         o.Symbol,
		Side:           o.Side,
		Quantity:       o.Quantity,
		ReferencePrice: o.ReferencePrice,
	})
	if err != nil {
		// submitted 只在通道应答后才落盘，账本保持 approved 等待重试。
		e.logger.Warn("执行通道报错，订单留待下一轮重试",
			zap.String("order_id", id),
			zap.Error(err),
		)
		return nil, fmt.Errorf("提交执行失败: %w", err)
	}

	if !result.Accepted {
		if err := e.machine.Reject(o, "执行端拒绝: "+result.Reason); err != nil {
			return nil, err
		}
	} else {
		if err := e.machine.Transition(o, order.StatusFilled); err != nil {
			return nil, err
		}
		o.BrokerOrderID = result.BrokerOrderID
		o.FillPrice = result.FillPrice
		o.FilledAt = time.Now().UTC()
	}

	if err := e.ledger.SaveOrder(ctx, o); err != nil {
		return nil, err
	}
	return o, nil
}

// EvaluateOrder 对单个持仓订单跑一轮监控：观测、决策、落地、入账。
// 快照过期时跳过本轮，不产生任何写入。
func (e *PlayEngine) EvaluateOrder(ctx context.Context, id string) error {
	mu := e.lockOrder(id)
	mu.Lock()
	defer mu.Unlock()

	o, err := e.ledger.GetOrder(ctx, id)
	if err != nil {
		return err
	}
	if o.Status != order.StatusFilled {
		return nil
	}

	snapshot, err := e.observer.Observe(ctx, o.Symbol)
	if err != nil {
		e.logger.Warn("监控观测失败，跳过本轮",
			zap.String("order_id", id),
			zap.Error(err),
		)
		return nil
	}

	now := time.Now().UTC()
	decision, err := e.watcher.Evaluate(o, snapshot, now)
	if err != nil {
		if errors.Is(err, market.ErrStaleSnapshot) {
			e.logger.Warn("快照已过期，跳过本轮监控",
				zap.String("order_id", id),
				zap.Time("snapshot_time", snapshot.Timestamp),
			)
			return nil
		}
		return err
	}

	return e.applyDecision(ctx, o, decision)
}

// ManualIntervene 人工平仓，与自动监控走同一条落地与入账路径。
func (e *PlayEngine) ManualIntervene(ctx context.Context, id, reason string) (*order.Order, error) {
	mu := e.lockOrder(id)
	mu.Lock()
	defer mu.Unlock()

	o, err := e.ledger.GetOrder(ctx, id)
	if err != nil {
		return nil, err
	}
	if o.Status != order.StatusFilled {
		return nil, order.ErrOrderNotFilled
	}

	price := o.ReferencePrice
	if snapshot, err := e.observer.Observe(ctx, o.Symbol); err == nil && snapshot.Price > 0 {
		price = snapshot.Price
	} else if err != nil {
		e.logger.Warn("人工干预时观测失败，使用参考价",
			zap.String("order_id", id),
			zap.Error(err),
		)
	}

	if reason == "" {
		reason = "人工平仓"
	}
	decision := watch.Decision{
		Type:      watch.DecisionIntervene,
		Kind:      watch.KindManual,
		Action:    watch.ActionExitPosition,
		Reason:    reason,
		Price:     price,
		Timestamp: time.Now().UTC(),
	}

	if err := e.applyDecision(ctx, o, decision); err != nil {
		return nil, err
	}
	return o, nil
}

// applyDecision 是自动监控、人工干预与对账之外所有决策的唯一落地入口。
func (e *PlayEngine) applyDecision(ctx context.Context, o *order.Order, d watch.Decision) error {
	quantityBefore := o.Quantity
	if err := watch.Apply(e.machine, o, d, e.cfg.Watch.ResizeFraction); err != nil {
		return err
	}

	switch d.Type {
	case watch.DecisionNone:
		return e.ledger.AppendSample(ctx, o, d.Price, d.Timestamp)
	case watch.DecisionIntervene:
		return e.ledger.ApplyIntervention(ctx, o, d)
	case watch.DecisionAdapt:
		return e.ledger.ApplyAdaptation(ctx, o, d, quantityBefore)
	default:
		return fmt.Errorf("未知决策类型: %s", d.Type)
	}
}

// GetOrder 读取订单。
func (e *PlayEngine) GetOrder(ctx context.Context, id string) (*order.Order, error) {
	return e.ledger.GetOrder(ctx, id)
}

// OrderHistory 读取订单的完整流水。
func (e *PlayEngine) OrderHistory(ctx context.Context, id string) (ledger.History, error) {
	return e.ledger.OrderHistory(ctx, id)
}

// OrderSummary 汇总订单表现。
func (e *PlayEngine) OrderSummary(ctx context.Context, id string) (Summary, error) {
	o, err := e.ledger.GetOrder(ctx, id)
	if err != nil {
		return Summary{}, err
	}
	h, err := e.ledger.OrderHistory(ctx, id)
	if err != nil {
		return Summary{}, err
	}

	s := Summary{
		Order:         o,
		MaxProfit:     o.PeakProfit,
		MaxDrawdown:   o.MaxDrawdown,
		Interventions: len(h.Interventions),
		Adaptations:   len(h.Adaptations),
	}

	if o.RealizedPnL != nil && o.FillPrice > 0 && o.Quantity > 0 {
		s.PnLPercent = *o.RealizedPnL / (o.FillPrice * o.Quantity)
	}
	if !o.FilledAt.IsZero() {
		end := time.Now().UTC()
		if !o.ClosedAt.IsZero() {
			end = o.ClosedAt
		}
		s.TimeInPlay = end.Sub(o.FilledAt)
	}

	return s, nil
}

// Statistics 返回账本汇总统计。
func (e *PlayEngine) Statistics(ctx context.Context) (ledger.Statistics, error) {
	return e.ledger.Statistics(ctx)
}

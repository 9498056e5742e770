package watch

import (
	"fmt"
	"time"

	"go.uber.org/zap"

	"plays-ai/internal/config"
	"plays-ai/internal/market"
	"plays-ai/internal/order"
	"plays-ai/internal/play"
)

// rule 是一条监控规则：谓词命中即产出决策。
type rule struct {
	kind     Kind
	evaluate func(ctx evalContext) (bool, string)
	decision DecisionType
	action   Action
}

// evalContext 汇总一次评估需要的全部输入，规则只读不写。
type evalContext struct {
	order      *order.Order
	snapshot   market.Snapshot
	now        time.Time
	unrealized float64
	cfg        config.WatchConfig
}

// Engine 按固定优先级顺序评估持仓订单，首条命中的规则即为结论。
// 规则顺序即优先级：离场类规则永远先于顺势调整类规则。
type Engine struct {
	cfg    config.WatchConfig
	rules  []rule
	logger *zap.Logger
}

// NewEngine 创建监控引擎。
func NewEngine(cfg config.WatchConfig, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}

	e := &Engine{cfg: cfg, logger: logger}
	e.rules = []rule{
		{kind: KindStopLossHit, evaluate: e.stopLossHit, decision: DecisionIntervene, action: ActionExitPosition},
		{kind: KindTakeProfitHit, evaluate: e.takeProfitHit, decision: DecisionIntervene, action: ActionExitPosition},
		{kind: KindTimeout, evaluate: e.timedOut, decision: DecisionIntervene, action: ActionExitPosition},
		{kind: KindMarketConditionChange, evaluate: e.drawdownBreached, decision: DecisionIntervene, action: ActionReducePosition},
		{kind: KindVolumeAnomaly, evaluate: e.volumeCollapsed, decision: DecisionIntervene, action: ActionMonitorClosely},
		{kind: KindPositiveMomentum, evaluate: e.positiveMomentum, decision: DecisionAdapt, action: ActionIncreasePosition},
		{kind: KindNegativeMomentum, evaluate: e.negativeMomentum, decision: DecisionAdapt, action: ActionDecreasePosition},
	}
	return e
}

// Evaluate 评估一个持仓订单。快照过期时返回 market.ErrStaleSnapshot，
// 本轮不产出任何决策，宁可什么都不做也不用旧数据行动。
func (e *Engine) Evaluate(o *order.Order, snap market.Snapshot, now time.Time) (Decision, error) {
	if o.Status != order.StatusFilled {
		return Decision{}, order.ErrOrderNotFilled
	}
	if snap.IsStale(now, e.cfg.Freshness) {
		return Decision{}, fmt.Errorf("%w: %s 观测时间 %s", market.ErrStaleSnapshot, o.Symbol, snap.Timestamp.Format(time.RFC3339))
	}

	ctx := evalContext{
		order:      o,
		snapshot:   snap,
		now:        now,
		unrealized: o.UnrealizedReturn(snap.Price),
		cfg:        e.cfg,
	}

	for _, r := range e.rules {
		hit, reason := r.evaluate(ctx)
		if !hit {
			continue
		}
		e.logger.Info("监控规则命中",
			zap.String("order_id", o.ID),
			zap.String("kind", string(r.kind)),
			zap.String("action", string(r.action)),
			zap.String("reason", reason),
		)
		return Decision{
			Type:      r.decision,
			Kind:      r.kind,
			Action:    r.action,
			Reason:    reason,
			Price:     snap.Price,
			Timestamp: now,
		}, nil
	}

	return Decision{
		Type:      DecisionNone,
		Price:     snap.Price,
		Timestamp: now,
	}, nil
}

// effectiveStopLoss 返回当前生效的止损价：固定止损与从峰值回落的
// 跟踪止损取更紧的一条。
func effectiveStopLoss(o *order.Order) float64 {
	stop := o.Stops.StopLossPrice
	if o.Stops.TrailingStopPct <= 0 || o.FillPrice <= 0 || o.PeakProfit <= 0 {
		return stop
	}

	if o.Side == play.SideShort {
		trough := o.FillPrice * (1 - o.PeakProfit)
		trailing := trough * (1 + o.Stops.TrailingStopPct)
		if stop <= 0 || trailing < stop {
			return trailing
		}
		return stop
	}

	peak := o.FillPrice * (1 + o.PeakProfit)
	trailing := peak * (1 - o.Stops.TrailingStopPct)
	if trailing > stop {
		return trailing
	}
	return stop
}

func (e *Engine) stopLossHit(ctx evalContext) (bool, string) {
	stop := effectiveStopLoss(ctx.order)
	if stop <= 0 {
		return false, ""
	}
	price := ctx.snapshot.Price
	if ctx.order.Side == play.SideShort {
		if price >= stop {
			return true, fmt.Sprintf("价格 %.4f 触及空头止损 %.4f", price, stop)
		}
		return false, ""
	}
	if price <= stop {
		return true, fmt.Sprintf("价格 %.4f 触及止损 %.4f", price, stop)
	}
	return false, ""
}

func (e *Engine) takeProfitHit(ctx evalContext) (bool, string) {
	target := ctx.order.Stops.TakeProfitPrice
	if target <= 0 {
		return false, ""
	}
	price := ctx.snapshot.Price
	if ctx.order.Side == play.SideShort {
		if price <= target {
			return true, fmt.Sprintf("价格 %.4f 触及空头止盈 %.4f", price, target)
		}
		return false, ""
	}
	if price >= target {
		return true, fmt.Sprintf("价格 %.4f 触及止盈 %.4f", price, target)
	}
	return false, ""
}

func (e *Engine) timedOut(ctx evalContext) (bool, string) {
	stops := ctx.order.Stops
	if !stops.ExpireAt.IsZero() && !ctx.now.Before(stops.ExpireAt) {
		return true, fmt.Sprintf("订单已到期 (%s)", stops.ExpireAt.Format(time.RFC3339))
	}
	if stops.MaxHolding > 0 && !ctx.order.FilledAt.IsZero() {
		held := ctx.now.Sub(ctx.order.FilledAt)
		if held >= stops.MaxHolding {
			return true, fmt.Sprintf("持仓时长 %s 超过上限 %s", held.Round(time.Minute), stops.MaxHolding)
		}
	}
	return false, ""
}

func (e *Engine) drawdownBreached(ctx evalContext) (bool, string) {
	drawdown := ctx.order.PeakProfit - ctx.unrealized
	if ctx.cfg.DrawdownLimit > 0 && drawdown >= ctx.cfg.DrawdownLimit {
		return true, fmt.Sprintf("自峰值回撤 %.2f%% 超过阈值 %.2f%%", drawdown*100, ctx.cfg.DrawdownLimit*100)
	}
	return false, ""
}

func (e *Engine) volumeCollapsed(ctx evalContext) (bool, string) {
	ratio := ctx.snapshot.VolumeRatio()
	if ratio > 0 && ratio <= ctx.cfg.VolumeFloor {
		return true, fmt.Sprintf("成交量比率 %.2f 低于下限 %.2f", ratio, ctx.cfg.VolumeFloor)
	}
	return false, ""
}

func (e *Engine) positiveMomentum(ctx evalContext) (bool, string) {
	if ctx.unrealized >= ctx.cfg.MomentumGain && ctx.snapshot.VolumeRatio() >= 1 {
		return true, fmt.Sprintf("浮盈 %.2f%% 且成交量未萎缩，动能向好", ctx.unrealized*100)
	}
	return false, ""
}

func (e *Engine) negativeMomentum(ctx evalContext) (bool, string) {
	if ctx.unrealized <= -ctx.cfg.MomentumLoss {
		return true, fmt.Sprintf("浮亏 %.2f%%，动能转弱", -ctx.unrealized*100)
	}
	return false, ""
}

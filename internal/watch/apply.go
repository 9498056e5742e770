package watch

import (
	"fmt"

	"plays-ai/internal/order"
	"plays-ai/internal/play"
)

// Apply 把一条决策落到订单上。实时监控、人工干预与历史重放共用此入口，
// 保证三条路径的语义完全一致。
func Apply(m *order.Machine, o *order.Order, d Decision, resizeFraction float64) error {
	switch d.Type {
	case DecisionNone:
		o.ObserveReturn(o.UnrealizedReturn(d.Price))
		return nil

	case DecisionIntervene:
		return applyIntervention(m, o, d, resizeFraction)

	case DecisionAdapt:
		return applyAdaptation(o, d, resizeFraction)

	default:
		return fmt.Errorf("未知决策类型: %s", d.Type)
	}
}

func applyIntervention(m *order.Machine, o *order.Order, d Decision, resizeFraction float64) error {
	switch d.Action {
	case ActionExitPosition:
		return m.Close(o, realizedPnL(o, d.Price), d.Reason, d.Price)

	case ActionReducePosition:
		o.ObserveReturn(o.UnrealizedReturn(d.Price))
		o.Quantity *= 1 - resizeFraction
		return nil

	case ActionMonitorClosely:
		o.ObserveReturn(o.UnrealizedReturn(d.Price))
		return nil

	default:
		return fmt.Errorf("干预动作不支持: %s", d.Action)
	}
}

func applyAdaptation(o *order.Order, d Decision, resizeFraction float64) error {
	o.ObserveReturn(o.UnrealizedReturn(d.Price))

	switch d.Action {
	case ActionIncreasePosition:
		o.Quantity *= 1 + resizeFraction
		return nil

	case ActionDecreasePosition:
		o.Quantity *= 1 - resizeFraction
		return nil

	default:
		return fmt.Errorf("调整动作不支持: %s", d.Action)
	}
}

// realizedPnL 按离场价计算落定盈亏（做空取反）。
func realizedPnL(o *order.Order, exitPrice float64) float64 {
	if o.FillPrice <= 0 || exitPrice <= 0 {
		return 0
	}
	pnl := (exitPrice - o.FillPrice) * o.Quantity
	if o.Side == play.SideShort {
		pnl = -pnl
	}
	return pnl
}

package replay

import (
	"context"
	"fmt"
	"math"
	"sort"

	"go.uber.org/zap"

	"plays-ai/internal/ledger"
	"plays-ai/internal/order"
	"plays-ai/internal/watch"
)

// Source 提供重放所需的订单与流水，*ledger.Ledger 天然满足。
type Source interface {
	GetOrder(ctx context.Context, id string) (*order.Order, error)
	OrderHistory(ctx context.Context, orderID string) (ledger.History, error)
}

// Report 为一次重放审计的结论。
type Report struct {
	OrderID    string   `json:"order_id"`
	Steps      int      `json:"steps"`
	Consistent bool     `json:"consistent"`
	Mismatches []string `json:"mismatches,omitempty"`
}

// Engine 把账本里的决策流水按时间顺序重放到订单副本上，
// 用与实时监控完全相同的落地逻辑重建终态，再与存档对比。
// 重放结果与存档不一致说明流水或落地逻辑被破坏过。
type Engine struct {
	machine        *order.Machine
	resizeFraction float64
	logger         *zap.Logger
}

// NewEngine 创建重放引擎，resizeFraction 必须与实时监控使用的值一致。
func NewEngine(machine *order.Machine, resizeFraction float64, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{
		machine:        machine,
		resizeFraction: resizeFraction,
		logger:         logger,
	}
}

// Verify 重放指定订单的完整流水并核对终态。
func (e *Engine) Verify(ctx context.Context, src Source, orderID string) (Report, error) {
	report := Report{OrderID: orderID}

	stored, err := src.GetOrder(ctx, orderID)
	if err != nil {
		return report, err
	}
	history, err := src.OrderHistory(ctx, orderID)
	if err != nil {
		return report, err
	}

	decisions := flatten(history)
	report.Steps = len(decisions)

	replayed := rewind(stored, history, e.resizeFraction)
	for i, d := range decisions {
		if err := watch.Apply(e.machine, replayed, d, e.resizeFraction); err != nil {
			return report, fmt.Errorf("重放第%d步失败 (%s): %w", i+1, d.Kind, err)
		}
	}

	report.Mismatches = compare(stored, replayed)
	report.Consistent = len(report.Mismatches) == 0

	if report.Consistent {
		e.logger.Info("重放审计通过",
			zap.String("order_id", orderID),
			zap.Int("steps", report.Steps),
		)
	} else {
		e.logger.Warn("重放审计发现不一致",
			zap.String("order_id", orderID),
			zap.Strings("mismatches", report.Mismatches),
		)
	}

	return report, nil
}

// flatten 把三类流水合并为按时间升序的决策序列。
func flatten(h ledger.History) []watch.Decision {
	decisions := make([]watch.Decision, 0, len(h.Interventions)+len(h.Adaptations)+len(h.Samples))

	for _, rec := range h.Samples {
		decisions = append(decisions, watch.Decision{
			Type:      watch.DecisionNone,
			Price:     rec.Price,
			Timestamp: rec.Timestamp,
		})
	}
	for _, rec := range h.Adaptations {
		decisions = append(decisions, watch.Decision{
			Type:      watch.DecisionAdapt,
			Kind:      rec.Kind,
			Action:    rec.Action,
			Reason:    rec.Reason,
			Price:     rec.Price,
			Timestamp: rec.Timestamp,
		})
	}
	for _, rec := range h.Interventions {
		decisions = append(decisions, watch.Decision{
			Type:      watch.DecisionIntervene,
			Kind:      rec.Kind,
			Action:    rec.Action,
			Reason:    rec.Reason,
			Price:     rec.Price,
			Timestamp: rec.Timestamp,
		})
	}

	sort.SliceStable(decisions, func(i, j int) bool {
		return decisions[i].Timestamp.Before(decisions[j].Timestamp)
	})
	return decisions
}

// rewind 构造订单刚成交时的副本：沿流水倒推初始仓位数量，
// 清空重放过程会重建的字段。
func rewind(stored *order.Order, h ledger.History, resizeFraction float64) *order.Order {
	o := stored.Clone()

	// 沿时间倒序撤销每一次仓位变化：调整流水自带调整前数量作为锚点，
	// 减仓干预按固定比例反推。
	type qtyEvent struct {
		at        int64
		anchor    bool
		anchorQty float64
	}
	events := make([]qtyEvent, 0, len(h.Interventions)+len(h.Adaptations))
	for _, rec := range h.Interventions {
		if rec.Action == watch.ActionReducePosition {
			events = append(events, qtyEvent{at: rec.Timestamp.UnixNano()})
		}
	}
	for _, rec := range h.Adaptations {
		events = append(events, qtyEvent{at: rec.Timestamp.UnixNano(), anchor: true, anchorQty: rec.QuantityBefore})
	}
	sort.Slice(events, func(i, j int) bool { return events[i].at > events[j].at })

	quantity := stored.Quantity
	for _, ev := range events {
		if ev.anchor {
			quantity = ev.anchorQty
		} else if resizeFraction > 0 && resizeFraction < 1 {
			quantity /= 1 - resizeFraction
		}
	}

	o.Quantity = quantity
	o.Status = order.StatusFilled
	o.PeakProfit = 0
	o.MaxDrawdown = 0
	o.RealizedPnL = nil
	o.CloseReason = ""
	o.ClosedAt = stored.CreatedAt // 占位，重放关闭时会被覆盖
	return o
}

func compare(stored, replayed *order.Order) []string {
	var mismatches []string

	if stored.Status != replayed.Status {
		mismatches = append(mismatches, fmt.Sprintf("状态不一致: 存档 %s, 重放 %s", stored.Status, replayed.Status))
	}
	if math.Abs(stored.Quantity-replayed.Quantity) > 1e-9 {
		mismatches = append(mismatches, fmt.Sprintf("数量不一致: 存档 %.6f, 重放 %.6f", stored.Quantity, replayed.Quantity))
	}

	switch {
	case stored.RealizedPnL == nil && replayed.RealizedPnL == nil:
	case stored.RealizedPnL == nil || replayed.RealizedPnL == nil:
		mismatches = append(mismatches, "盈亏落定状态不一致")
	case math.Abs(*stored.RealizedPnL-*replayed.RealizedPnL) > 1e-6:
		mismatches = append(mismatches, fmt.Sprintf("盈亏不一致: 存档 %.6f, 重放 %.6f", *stored.RealizedPnL, *replayed.RealizedPnL))
	}

	if math.Abs(stored.PeakProfit-replayed.PeakProfit) > 1e-9 {
		mismatches = append(mismatches, fmt.Sprintf("峰值浮盈不一致: 存档 %.6f, 重放 %.6f", stored.PeakProfit, replayed.PeakProfit))
	}
	if math.Abs(stored.MaxDrawdown-replayed.MaxDrawdown) > 1e-9 {
		mismatches = append(mismatches, fmt.Sprintf("最大回撤不一致: 存档 %.6f, 重放 %.6f", stored.MaxDrawdown, replayed.MaxDrawdown))
	}

	return mismatches
}

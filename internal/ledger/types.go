package ledger

import (
	"errors"
	"time"

	"plays-ai/internal/watch"
)

// ErrOrderNotFound 表示账本中不存在该订单。
var ErrOrderNotFound = errors.New("订单不存在")

// InterventionRecord 为一条干预流水，只追加、永不修改。
type InterventionRecord struct {
	ID        int64        `json:"id"`
	OrderID   string       `json:"order_id"`
	Kind      watch.Kind   `json:"kind"`
	Action    watch.Action `json:"action"`
	Reason    string       `json:"reason"`
	Price     float64      `json:"price"`
	Timestamp time.Time    `json:"timestamp"`
}

// AdaptationRecord 为一条顺势调整流水，记录调整前后的仓位数量。
type AdaptationRecord struct {
	ID             int64        `json:"id"`
	OrderID        string       `json:"order_id"`
	Kind           watch.Kind   `json:"kind"`
	Action         watch.Action `json:"action"`
	Reason         string       `json:"reason"`
	Price          float64      `json:"price"`
	QuantityBefore float64      `json:"quantity_before"`
	QuantityAfter  float64      `json:"quantity_after"`
	Timestamp      time.Time    `json:"timestamp"`
}

// PerformanceSample 为一次无动作监控的表现采样。
type PerformanceSample struct {
	ID               int64     `json:"id"`
	OrderID          string    `json:"order_id"`
	Price            float64   `json:"price"`
	UnrealizedReturn float64   `json:"unrealized_return"`
	PeakProfit       float64   `json:"peak_profit"`
	MaxDrawdown      float64   `json:"max_drawdown"`
	Timestamp        time.Time `json:"timestamp"`
}

// History 汇总一个订单的完整生命周期轨迹。
type History struct {
	Interventions []InterventionRecord `json:"interventions"`
	Adaptations   []AdaptationRecord   `json:"adaptations"`
	Samples       []PerformanceSample  `json:"samples"`
}

// Statistics 为账本的汇总统计，全部在读取时计算，不落盘。
type Statistics struct {
	TotalOrders      int           `json:"total_orders"`
	ActiveOrders     int           `json:"active_orders"`
	ClosedOrders     int           `json:"closed_orders"`
	RejectedOrders   int           `json:"rejected_orders"`
	ProfitableOrders int           `json:"profitable_orders"`
	SuccessRate      float64       `json:"success_rate"`
	TotalPnL         float64       `json:"total_pnl"`
	AveragePnL       float64       `json:"average_pnl"`
	AverageHolding   time.Duration `json:"average_holding"`
}

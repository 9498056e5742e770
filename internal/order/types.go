package order

import (
	"time"

	"github.com/google/uuid"

	"plays-ai/internal/assess"
	"plays-ai/internal/play"
)

// Status 表示订单生命周期状态。
type Status string

const (
	StatusPendingAnalysis Status = "pending_analysis"
	StatusAnalyzed        Status = "analyzed"
	StatusPendingApproval Status = "pending_approval"
	StatusApproved        Status = "approved"
	StatusSubmitted       Status = "submitted"
	StatusFilled          Status = "filled"
	// StatusIntervened 是通往 closed 的审计标记，不是终态。
	StatusIntervened Status = "intervened"
	StatusClosed     Status = "closed"
	StatusRejected   Status = "rejected"
)

// IsTerminal 判断状态是否为终态，终态之后拒绝任何迁移。
func (s Status) IsTerminal() bool {
	return s == StatusClosed || s == StatusRejected
}

// StopConditions 为订单的离场契约。
// 百分比形式在审批时解析为绝对价格并冻结，此后绝对价格为唯一权威。
type StopConditions struct {
	StopLossPrice   float64       `json:"stop_loss_price"`
	StopLossPct     float64       `json:"stop_loss_pct"`
	TakeProfitPrice float64       `json:"take_profit_price"`
	TakeProfitPct   float64       `json:"take_profit_pct"`
	TrailingStopPct float64       `json:"trailing_stop_pct"`
	ExpireAt        time.Time     `json:"expire_at"`
	MaxHolding      time.Duration `json:"max_holding"`
	Resolved        bool          `json:"resolved"`
}

// Resolve 以审批时价格把百分比界限换算为绝对价格并冻结，重复调用无效果。
func (s *StopConditions) Resolve(side play.Side, price float64) {
	if s.Resolved || price <= 0 {
		return
	}

	if s.StopLossPrice <= 0 && s.StopLossPct > 0 {
		if side == play.SideShort {
			s.StopLossPrice = price * (1 + s.StopLossPct)
		} else {
			s.StopLossPrice = price * (1 - s.StopLossPct)
		}
	}

	if s.TakeProfitPrice <= 0 && s.TakeProfitPct > 0 {
		if side == play.SideShort {
			s.TakeProfitPrice = price * (1 - s.TakeProfitPct)
		} else {
			s.TakeProfitPrice = price * (1 + s.TakeProfitPct)
		}
	}

	s.Resolved = true
}

// Order 是引擎端到端追踪的单位：剧本 + 评估 + 风险画像 + 离场契约 + 状态。
type Order struct {
	ID         string             `json:"id"`
	Symbol     string             `json:"symbol"`
	Side       play.Side          `json:"side"`
	Quantity   float64            `json:"quantity"`
	Play       play.Play          `json:"play"`
	Assessment assess.Assessment  `json:"assessment"`
	Risk       assess.RiskProfile `json:"risk"`
	Stops      StopConditions     `json:"stops"`
	Status     Status             `json:"status"`
	Confidence float64            `json:"confidence"`

	// ReferencePrice 记录分析时的市价，审批环节行情不可用时用作冻结止损的兜底价格。
	ReferencePrice float64 `json:"reference_price"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	BrokerOrderID string    `json:"broker_order_id,omitempty"`
	FillPrice     float64   `json:"fill_price,omitempty"`
	FilledAt      time.Time `json:"filled_at,omitzero"`

	// PeakProfit / MaxDrawdown 以成本价为基准的比例值，随监控推进单调更新。
	PeakProfit  float64 `json:"peak_profit"`
	MaxDrawdown float64 `json:"max_drawdown"`

	RealizedPnL *float64  `json:"realized_pnl,omitempty"`
	ClosedAt    time.Time `json:"closed_at,omitzero"`
	CloseReason string    `json:"close_reason,omitempty"`
}

// New 从剧本构造处于 pending_analysis 状态的新订单。
func New(p play.Play, quantity, confidence, referencePrice float64) *Order {
	now := time.Now().UTC()
	return &Order{
		ID:             uuid.NewString(),
		Symbol:         p.Symbol,
		Side:           p.Side,
		Quantity:       quantity,
		Play:           p,
		Status:         StatusPendingAnalysis,
		Confidence:     confidence,
		ReferencePrice: referencePrice,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
}

// Notional 返回按参考价计算的名义金额。
func (o *Order) Notional(price float64) float64 {
	if price <= 0 {
		price = o.ReferencePrice
	}
	return o.Quantity * price
}

// UnrealizedReturn 计算相对成本价的浮动收益率（做空取反）。
func (o *Order) UnrealizedReturn(price float64) float64 {
	if o.FillPrice <= 0 || price <= 0 {
		return 0
	}
	r := (price - o.FillPrice) / o.FillPrice
	if o.Side == play.SideShort {
		r = -r
	}
	return r
}

// ObserveReturn 用最新浮动收益率推进峰值与最大回撤。
func (o *Order) ObserveReturn(r float64) {
	if r > o.PeakProfit {
		o.PeakProfit = r
	}
	if drawdown := o.PeakProfit - r; drawdown > o.MaxDrawdown {
		o.MaxDrawdown = drawdown
	}
}

// Clone 返回订单的深拷贝，供重放与并发读取使用。
func (o *Order) Clone() *Order {
	dup := *o
	if o.RealizedPnL != nil {
		v := *o.RealizedPnL
		dup.RealizedPnL = &v
	}
	dup.Play.Tags = append([]string(nil), o.Play.Tags...)
	dup.Assessment.Strengths = append([]string(nil), o.Assessment.Strengths...)
	dup.Assessment.Weaknesses = append([]string(nil), o.Assessment.Weaknesses...)
	dup.Assessment.Opportunities = append([]string(nil), o.Assessment.Opportunities...)
	dup.Assessment.Threats = append([]string(nil), o.Assessment.Threats...)
	return &dup
}

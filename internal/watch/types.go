package watch

import "time"

// DecisionType 区分监控产出的决策类别。
type DecisionType string

const (
	// DecisionNone 表示无需动作，仅记录一次表现采样。
	DecisionNone DecisionType = "none"
	// DecisionIntervene 表示防御性动作，通常意味着离场或减仓。
	DecisionIntervene DecisionType = "intervene"
	// DecisionAdapt 表示顺势调整，不改变订单状态。
	DecisionAdapt DecisionType = "adapt"
)

// Kind 标识触发决策的具体规则。
type Kind string

const (
	KindStopLossHit           Kind = "stop_loss_hit"
	KindTakeProfitHit         Kind = "take_profit_hit"
	KindTimeout               Kind = "timeout"
	KindMarketConditionChange Kind = "market_condition_change"
	KindVolumeAnomaly         Kind = "volume_anomaly"
	KindPositiveMomentum      Kind = "positive_momentum"
	KindNegativeMomentum      Kind = "negative_momentum"
	KindManual                Kind = "manual"
)

// Action 描述决策对应的仓位动作。
type Action string

const (
	ActionExitPosition     Action = "exit_position"
	ActionReducePosition   Action = "reduce_position"
	ActionMonitorClosely   Action = "monitor_closely"
	ActionIncreasePosition Action = "increase_position"
	ActionDecreasePosition Action = "decrease_position"
)

// Decision 为一次监控评估的结论，Price 记录决策时刻的市价。
type Decision struct {
	Type      DecisionType `json:"type"`
	Kind      Kind         `json:"kind"`
	Action    Action       `json:"action"`
	Reason    string       `json:"reason"`
	Price     float64      `json:"price"`
	Timestamp time.Time    `json:"timestamp"`
}

// IsActionable 判断该决策是否需要落到订单上。
func (d Decision) IsActionable() bool {
	return d.Type == DecisionIntervene || d.Type == DecisionAdapt
}

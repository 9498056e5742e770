package order

import (
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"plays-ai/internal/config"
)

// ErrOrderNotFilled 表示操作要求订单处于持仓状态。
var ErrOrderNotFilled = errors.New("订单不在持仓状态")

// InvalidTransitionError 表示订单状态迁移违反约束。
type InvalidTransitionError struct {
	OrderID string
	From    Status
	To      Status
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("非法状态迁移 [%s]: %s -> %s", e.OrderID, e.From, e.To)
}

// transitions 是唯一的迁移权威表：不在表内的迁移一律拒绝。
// intervened 只能通往 closed，保证干预记录不会悬空。
var transitions = map[Status][]Status{
	StatusPendingAnalysis: {StatusAnalyzed, StatusRejected},
	StatusAnalyzed:        {StatusPendingApproval, StatusApproved, StatusRejected},
	StatusPendingApproval: {StatusApproved, StatusRejected},
	StatusApproved:        {StatusSubmitted, StatusRejected},
	StatusSubmitted:       {StatusFilled, StatusRejected},
	StatusFilled:          {StatusIntervened, StatusClosed},
	StatusIntervened:      {StatusClosed},
	StatusClosed:          {},
	StatusRejected:        {},
}

// CanTransition 判断迁移是否合法。
func CanTransition(from, to Status) bool {
	for _, allowed := range transitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

// Machine 驱动订单状态机，封装迁移校验与审批门槛。
type Machine struct {
	cfg    config.RiskConfig
	logger *zap.Logger
}

// NewMachine 创建状态机。
func NewMachine(cfg config.RiskConfig, logger *zap.Logger) *Machine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Machine{cfg: cfg, logger: logger}
}

// Transition 把订单迁移到目标状态，非法迁移返回 InvalidTransitionError 且不修改订单。
func (m *Machine) Transition(o *Order, to Status) error {
	if !CanTransition(o.Status, to) {
		return &InvalidTransitionError{OrderID: o.ID, From: o.Status, To: to}
	}

	from := o.Status
	o.Status = to
	o.UpdatedAt = time.Now().UTC()

	m.logger.Info("订单状态迁移",
		zap.String("order_id", o.ID),
		zap.String("from", string(from)),
		zap.String("to", string(to)),
	)
	return nil
}

// Gate 在分析完成后决定去向：任一门槛触发则进入 pending_approval，
// 全部通过则直接 approved 并冻结止损价格。
func (m *Machine) Gate(o *Order) error {
	needsApproval, reasons := m.gateReasons(o)

	if needsApproval {
		if err := m.Transition(o, StatusPendingApproval); err != nil {
			return err
		}
		m.logger.Info("订单进入待审批队列",
			zap.String("order_id", o.ID),
			zap.Strings("reasons", reasons),
		)
		return nil
	}

	if err := m.Transition(o, StatusApproved); err != nil {
		return err
	}
	o.Stops.Resolve(o.Side, o.ReferencePrice)
	return nil
}

// Approve 批准待审批订单并冻结止损价格。
func (m *Machine) Approve(o *Order) error {
	if err := m.Transition(o, StatusApproved); err != nil {
		return err
	}
	o.Stops.Resolve(o.Side, o.ReferencePrice)
	return nil
}

// Reject 拒绝订单并记录原因。
func (m *Machine) Reject(o *Order, reason string) error {
	if err := m.Transition(o, StatusRejected); err != nil {
		return err
	}
	o.CloseReason = reason
	return nil
}

// Close 关闭订单并落定盈亏。持仓中的订单先经过 intervened 再到 closed。
func (m *Machine) Close(o *Order, pnl float64, reason string, exitPrice float64) error {
	if o.Status == StatusFilled {
		if err := m.Transition(o, StatusIntervened); err != nil {
			return err
		}
	}
	if err := m.Transition(o, StatusClosed); err != nil {
		return err
	}
	o.RealizedPnL = &pnl
	o.ClosedAt = time.Now().UTC()
	o.CloseReason = reason
	m.logger.Info("订单已关闭",
		zap.String("order_id", o.ID),
		zap.Float64("realized_pnl", pnl),
		zap.Float64("exit_price", exitPrice),
		zap.String("reason", reason),
	)
	return nil
}

func (m *Machine) gateReasons(o *Order) (bool, []string) {
	reasons := make([]string, 0, 3)

	if o.Risk.Level.RequiresApproval() {
		reasons = append(reasons, fmt.Sprintf("风险等级 %s 需人工审批", o.Risk.Level))
	}
	if notional := o.Notional(o.ReferencePrice); m.cfg.MaxNotional > 0 && notional > m.cfg.MaxNotional {
		reasons = append(reasons, fmt.Sprintf("名义金额 %.2f 超过上限 %.2f", notional, m.cfg.MaxNotional))
	}
	if o.Confidence < m.cfg.MinConfidence {
		reasons = append(reasons, fmt.Sprintf("信心度 %.2f 低于门槛 %.2f", o.Confidence, m.cfg.MinConfidence))
	}

	return len(reasons) > 0, reasons
}

package broker

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"plays-ai/internal/play"
)

// Simulator 在本地撮合订单：按参考价加滑点立即成交。
// 用于离线验证完整生命周期，不触碰任何真实资金。
type Simulator struct {
	slippage float64
	logger   *zap.Logger
}

// NewSimulator 创建模拟执行通道，slippage 为单边滑点比例。
func NewSimulator(slippage float64, logger *zap.Logger) *Simulator {
	if logger == nil {
		logger = zap.NewNop()
	}
	if slippage < 0 {
		slippage = 0
	}
	return &Simulator{slippage: slippage, logger: logger}
}

// Place 立即按参考价成交，做多向上滑点、做空向下滑点。
func (s *Simulator) Place(ctx context.Context, req Request) (Result, error) {
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}
	if req.Quantity <= 0 {
		return Result{Accepted: false, Reason: "数量必须大于0"}, nil
	}
	if req.ReferencePrice <= 0 {
		return Result{Accepted: false, Reason: "模拟撮合需要参考价格"}, nil
	}

	fill := req.ReferencePrice * (1 + s.slippage)
	if req.Side == play.SideShort {
		fill = req.ReferencePrice * (1 - s.slippage)
	}

	result := Result{
		Accepted:      true,
		BrokerOrderID: fmt.Sprintf("sim-%s", uuid.NewString()),
		FillPrice:     fill,
	}

	s.logger.Info("模拟撮合成交",
		zap.String("symbol", req.Symbol),
		zap.String("side", string(req.Side)),
		zap.Float64("quantity", req.Quantity),
		zap.Float64("fill_price", fill),
	)

	return result, nil
}

var _ Gateway = (*Simulator)(nil)
var _ Gateway = (*LiveGateway)(nil)

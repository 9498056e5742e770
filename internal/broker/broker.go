package broker

import (
	"context"
	"errors"
	"fmt"

	ccxt "github.com/ccxt/ccxt/go/v4"
	"go.uber.org/zap"

	"plays-ai/internal/config"
	"plays-ai/internal/play"
)

// ErrOrderRejected 表示执行端明确拒绝了订单。
var ErrOrderRejected = errors.New("执行端拒绝订单")

// Request 为一次下单请求。ReferencePrice 仅用于模拟撮合与日志，
// 真实通道下市价单不携带价格。
type Request struct {
	Symbol         string
	Side           play.Side
	Quantity       float64
	ReferencePrice float64
}

// Result 为执行端回执。Accepted 为 false 时 Reason 说明拒绝原因。
type Result struct {
	Accepted      bool
	BrokerOrderID string
	FillPrice     float64
	Reason        string
}

// Gateway 抽象订单执行通道，真实交易所与模拟器实现同一接口。
type Gateway interface {
	Place(ctx context.Context, req Request) (Result, error)
}

// LiveGateway 通过 ccxt 向交易所提交市价单。
type LiveGateway struct {
	cfg      config.BrokerConfig
	logger   *zap.Logger
	exchange *ccxt.Binanceusdm
}

// NewLiveGateway 构造真实执行通道。
func NewLiveGateway(cfg config.BrokerConfig, logger *zap.Logger) (*LiveGateway, error) {
	if cfg.APIKey == "" || cfg.APISecret == "" {
		return nil, errors.New("broker.api_key / broker.api_secret 不能为空")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	userConfig := map[string]interface{}{
		"apiKey":          cfg.APIKey,
		"secret":          cfg.APISecret,
		"enableRateLimit": true,
		"options": map[string]interface{}{
			"defaultType": "future",
		},
	}
	if cfg.APIPass != "" {
		userConfig["password"] = cfg.APIPass
	}

	ex := ccxt.NewBinanceusdm(userConfig)
	if cfg.UseSandbox {
		ex.SetSandboxMode(true)
	}

	return &LiveGateway{
		cfg:      cfg,
		logger:   logger,
		exchange: ex,
	}, nil
}

// Place 以市价单提交订单，返回交易所单号与成交均价。
func (g *LiveGateway) Place(ctx context.Context, req Request) (Result, error) {
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}
	if req.Quantity <= 0 {
		return Result{Accepted: false, Reason: "数量必须大于0"}, nil
	}

	side := "buy"
	if req.Side == play.SideShort {
		side = "sell"
	}

	placed, err := g.exchange.CreateOrder(req.Symbol, "market", side, req.Quantity)
	if err != nil {
		var ccxtErr *ccxt.Error
		if errors.As(err, &ccxtErr) {
			switch ccxtErr.Type {
			case ccxt.InsufficientFundsErrType, ccxt.InvalidOrderErrType:
				g.logger.Warn("交易所拒绝订单",
					zap.String("symbol", req.Symbol),
					zap.Error(err),
				)
				return Result{Accepted: false, Reason: ccxtErr.Message}, nil
			}
		}
		return Result{}, fmt.Errorf("提交订单失败 (%s): %w", req.Symbol, err)
	}

	result := Result{Accepted: true}
	if placed.Id != nil {
		result.BrokerOrderID = *placed.Id
	}
	if placed.Average != nil && *placed.Average > 0 {
		result.FillPrice = *placed.Average
	} else if placed.Price != nil {
		result.FillPrice = *placed.Price
	}
	if result.FillPrice <= 0 {
		result.FillPrice = req.ReferencePrice
	}

	g.logger.Info("订单已提交交易所",
		zap.String("symbol", req.Symbol),
		zap.String("side", side),
		zap.Float64("quantity", req.Quantity),
		zap.String("broker_order_id", result.BrokerOrderID),
		zap.Float64("fill_price", result.FillPrice),
	)

	return result, nil
}

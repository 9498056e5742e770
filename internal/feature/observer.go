package feature

import (
	"context"
	"fmt"
	"math"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"plays-ai/internal/config"
	"plays-ai/internal/indicator"
	"plays-ai/internal/market"
)

// Observer 将行情K线与最新成交聚合为一次市场观测。
type Observer struct {
	client *market.Client
	calc   *indicator.Calculator
	cfg    config.MarketConfig
	logger *zap.Logger
}

// NewObserver 创建市场观测器。
func NewObserver(client *market.Client, calc *indicator.Calculator, cfg config.MarketConfig, logger *zap.Logger) *Observer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Observer{
		client: client,
		calc:   calc,
		cfg:    cfg,
		logger: logger,
	}
}

// Observe 拉取标的行情并生成快照，K线与最新成交并行获取。
func (o *Observer) Observe(ctx context.Context, symbol string) (market.Snapshot, error) {
	var (
		candles   []market.Candle
		lastPrice float64
		tradeTime time.Time
	)

	group, groupCtx := errgroup.WithContext(ctx)

	group.Go(func() error {
		data, err := o.client.FetchCandles(groupCtx, symbol, o.cfg.Timeframe, int64(o.cfg.CandleLimit))
		if err != nil {
			return err
		}
		candles = data
		return nil
	})

	group.Go(func() error {
		price, ts, err := o.client.FetchLastTrade(groupCtx, symbol)
		if err != nil {
			return err
		}
		lastPrice = price
		tradeTime = ts
		return nil
	})

	if err := group.Wait(); err != nil {
		return market.Snapshot{}, fmt.Errorf("拉取行情失败 (%s): %w", symbol, err)
	}

	result, err := o.calc.Compute(candles)
	if err != nil {
		return market.Snapshot{}, fmt.Errorf("计算观测指标失败 (%s): %w", symbol, err)
	}

	price := lastPrice
	if price <= 0 && !math.IsNaN(result.Close) {
		price = result.Close
	}
	if tradeTime.IsZero() {
		tradeTime = time.Now().UTC()
	}

	snapshot := market.Snapshot{
		Symbol:     symbol,
		Price:      price,
		Volume:     result.VolumeCurrent,
		AvgVolume:  result.VolumeAvg20,
		Volatility: result.ATRRelative,
		Trend:      result.Trend,
		Timestamp:  tradeTime,
	}

	o.logger.Debug("生成市场观测",
		zap.String("symbol", symbol),
		zap.Float64("price", snapshot.Price),
		zap.Float64("volatility", snapshot.Volatility),
		zap.String("trend", string(snapshot.Trend)),
	)

	return snapshot, nil
}

package indicator

import (
	"math"
	"testing"
	"time"

	"plays-ai/internal/market"
)

func makeCandles(n int, start float64, step float64) []market.Candle {
	candles := make([]market.Candle, 0, n)
	base := time.Now().UTC().Add(-time.Duration(n) * time.Hour)
	price := start
	for i := 0; i < n; i++ {
		candles = append(candles, market.Candle{
			Timestamp: base.Add(time.Duration(i) * time.Hour),
			Open:      price,
			High:      price + 1,
			Low:       price - 1,
			Close:     price + step,
			Volume:    1000,
		})
		price += step
	}
	return candles
}

func TestComputeRejectsShortSeries(t *testing.T) {
	c := NewCalculator()

	_, err := c.Compute(makeCandles(10, 100, 0))
	if err == nil {
		t.Fatal("K线不足时应返回错误")
	}
}

func TestComputeUptrend(t *testing.T) {
	c := NewCalculator()

	// 持续上涨的序列，收盘价必然高于20日均线。
	result, err := c.Compute(makeCandles(40, 100, 1))
	if err != nil {
		t.Fatal(err)
	}

	if result.Trend != market.TrendUp {
		t.Fatalf("上涨序列趋势应为 up，得到 %s", result.Trend)
	}
	if result.Close <= result.SMA20 {
		t.Fatalf("收盘价应高于均线: close=%.2f sma=%.2f", result.Close, result.SMA20)
	}
	if result.ATRRelative <= 0 {
		t.Fatalf("相对ATR应为正，得到 %.6f", result.ATRRelative)
	}
	if math.Abs(result.VolumeRatio-1) > 1e-9 {
		t.Fatalf("均匀成交量比率应为1，得到 %.4f", result.VolumeRatio)
	}
}

func TestComputeDowntrendAndFlat(t *testing.T) {
	c := NewCalculator()

	down, err := c.Compute(makeCandles(40, 200, -1))
	if err != nil {
		t.Fatal(err)
	}
	if down.Trend != market.TrendDown {
		t.Fatalf("下跌序列趋势应为 down，得到 %s", down.Trend)
	}

	flat, err := c.Compute(makeCandles(40, 100, 0))
	if err != nil {
		t.Fatal(err)
	}
	if flat.Trend != market.TrendFlat {
		t.Fatalf("横盘序列趋势应为 flat，得到 %s", flat.Trend)
	}
}

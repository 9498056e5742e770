package indicator

import (
	"fmt"
	"math"

	talib "github.com/markcheno/go-talib"

	"plays-ai/internal/market"
)

// Result 为一次指标计算的汇总，为市场观测提供派生字段。
type Result struct {
	Close         float64
	PreviousClose float64
	SMA20         float64
	ATRAbsolute   float64
	ATRRelative   float64
	VolumeCurrent float64
	VolumeAvg20   float64
	VolumeRatio   float64
	Trend         market.Trend
}

// Calculator 提供技术指标计算。
type Calculator struct{}

// NewCalculator 创建 Calculator。
func NewCalculator() *Calculator {
	return &Calculator{}
}

const minCandles = 21

// Compute 依据给定K线计算观测所需的指标。
func (c *Calculator) Compute(candles []market.Candle) (Result, error) {
	if len(candles) < minCandles {
		return Result{}, fmt.Errorf("计算指标失败: K线数量不足 (%d < %d)", len(candles), minCandles)
	}

	series := NewSeries(candles)
	closePrices := series.Close

	sma20 := talib.Sma(closePrices, 20)
	atr := talib.Atr(series.High, series.Low, closePrices, 14)

	lastClose := Last(closePrices)
	prevClose := Prev(closePrices)
	lastSMA := Last(sma20)
	atrAbs := Last(atr)
	atrRel := SafeDivide(atrAbs, lastClose)

	volumeAvg20 := average(SliceTail(series.Volume, 20))
	volumeCurrent := Last(series.Volume)
	volumeRatio := SafeDivide(volumeCurrent, volumeAvg20)

	trend := market.TrendFlat
	if !math.IsNaN(lastSMA) && lastSMA > 0 {
		// 价格偏离20日均线超过0.1%才认定方向，避免噪音来回翻转。
		switch {
		case lastClose > lastSMA*1.001:
			trend = market.TrendUp
		case lastClose < lastSMA*0.999:
			trend = market.TrendDown
		}
	}

	return Result{
		Close:         lastClose,
		PreviousClose: prevClose,
		SMA20:         lastSMA,
		ATRAbsolute:   atrAbs,
		ATRRelative:   atrRel,
		VolumeCurrent: volumeCurrent,
		VolumeAvg20:   volumeAvg20,
		VolumeRatio:   volumeRatio,
		Trend:         trend,
	}, nil
}

func average(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sum := 0.0
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}

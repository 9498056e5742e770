package market

import "time"

// Candle 代表单根K线。
type Candle struct {
	Timestamp time.Time
	Open      float64
	High      float64
	Low       float64
	Close     float64
	Volume    float64
}

// Trend 表示观测到的趋势方向。
type Trend string

const (
	TrendUp   Trend = "up"
	TrendDown Trend = "down"
	TrendFlat Trend = "flat"
)

// Snapshot 为一次市场观测：最新价、量能与派生指标。
// 监控引擎的每次评估都以一份 Snapshot 为输入。
type Snapshot struct {
	Symbol     string    `json:"symbol"`
	Price      float64   `json:"price"`
	Volume     float64   `json:"volume"`
	AvgVolume  float64   `json:"avg_volume"`
	Volatility float64   `json:"volatility"`
	Trend      Trend     `json:"trend"`
	Timestamp  time.Time `json:"timestamp"`
}

// VolumeRatio 返回量比（当前量/均量），均量缺失时返回 0。
func (s Snapshot) VolumeRatio() float64 {
	if s.AvgVolume <= 0 {
		return 0
	}
	return s.Volume / s.AvgVolume
}

// IsStale 判断观测是否超过允许的新鲜度窗口。
func (s Snapshot) IsStale(now time.Time, freshness time.Duration) bool {
	if freshness <= 0 {
		return false
	}
	if s.Timestamp.IsZero() {
		return true
	}
	return now.Sub(s.Timestamp) > freshness
}

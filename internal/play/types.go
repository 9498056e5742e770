package play

import (
	"strings"
	"time"
)

// Side 表示剧本方向。
type Side string

const (
	SideLong  Side = "long"
	SideShort Side = "short"
)

// ParseSide 将任意大小写的方向字符串规范化，无法识别时返回 false。
func ParseSide(value string) (Side, bool) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "long", "buy":
		return SideLong, true
	case "short", "sell":
		return SideShort, true
	default:
		return "", false
	}
}

// Timeframe 表示剧本的时间跨度分类。
type Timeframe string

const (
	TimeframeIntraday Timeframe = "intraday"
	TimeframeSwing    Timeframe = "swing"
	TimeframePosition Timeframe = "position"
	TimeframeLongterm Timeframe = "longterm"
)

// ParseTimeframe 规范化时间跨度，无法识别时返回 false。
func ParseTimeframe(value string) (Timeframe, bool) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "intraday":
		return TimeframeIntraday, true
	case "swing":
		return TimeframeSwing, true
	case "position":
		return TimeframePosition, true
	case "longterm", "long_term":
		return TimeframeLongterm, true
	default:
		return "", false
	}
}

// DefaultPriority 为解读缺少优先级信号时的中位默认值。
const DefaultPriority = 5

// Play 表示一份结构化的交易剧本，创建后不可变；
// 重新解读会生成新的 Play 而不是修改旧对象。
type Play struct {
	ID        string    `json:"id"`
	Symbol    string    `json:"symbol"`
	Side      Side      `json:"side"`
	Thesis    string    `json:"thesis"`
	Catalyst  string    `json:"catalyst"`
	Timeframe Timeframe `json:"timeframe"`
	Priority  int       `json:"priority"`
	Tags      []string  `json:"tags"`
	EntryPlan string    `json:"entry_plan"`
	ExitPlan  string    `json:"exit_plan"`
	CreatedAt time.Time `json:"created_at"`
}

package ai

import (
	"errors"
	"fmt"
	"strings"
)

var (
	validSides = map[string]struct{}{
		"LONG":  {},
		"SHORT": {},
	}
	validTimeframes = map[string]struct{}{
		"INTRADAY": {},
		"SWING":    {},
		"POSITION": {},
		"LONGTERM": {},
	}
)

// InterpretRequest 为一次剧本解读的输入。
type InterpretRequest struct {
	Description string
	Symbol      string
}

// Interpretation 表示大模型对交易剧本文本的结构化解读。
type Interpretation struct {
	Side      string   `json:"side"`
	Timeframe string   `json:"timeframe"`
	Priority  int      `json:"priority"`
	Thesis    string   `json:"thesis"`
	Catalysts []string `json:"catalysts"`
	Risks     []string `json:"risks"`
	Tags      []string `json:"tags"`
	EntryPlan string   `json:"entry_plan"`
	ExitPlan  string   `json:"exit_plan"`
}

// Validate 校验解读字段合法性。
func (i Interpretation) Validate() error {
	side := strings.ToUpper(strings.TrimSpace(i.Side))
	if side == "" {
		return errors.New("side 不能为空")
	}
	if _, ok := validSides[side]; !ok {
		return fmt.Errorf("side 字段取值非法: %s", i.Side)
	}

	timeframe := strings.ToUpper(strings.TrimSpace(i.Timeframe))
	if timeframe == "" {
		return errors.New("timeframe 不能为空")
	}
	if _, ok := validTimeframes[timeframe]; !ok {
		return fmt.Errorf("timeframe 字段取值非法: %s", i.Timeframe)
	}

	if i.Priority < 1 || i.Priority > 10 {
		return fmt.Errorf("priority 必须位于[1,10]，当前为 %d", i.Priority)
	}
	if strings.TrimSpace(i.Thesis) == "" {
		return errors.New("thesis 不能为空")
	}
	if len(i.Tags) == 0 {
		return errors.New("tags 至少包含一个标签")
	}

	return nil
}

// AppraiseRequest 为一次定性评估的输入。
type AppraiseRequest struct {
	Symbol      string
	Side        string
	Thesis      string
	Catalyst    string
	Timeframe   string
	Priority    int
	Tags        []string
	Price       float64
	Volatility  float64
	VolumeRatio float64
	Trend       string
}

// Appraisal 表示大模型给出的优劣势评估。
type Appraisal struct {
	Strengths     []string `json:"strengths"`
	Weaknesses    []string `json:"weaknesses"`
	Opportunities []string `json:"opportunities"`
	Threats       []string `json:"threats"`
	Confidence    float64  `json:"confidence"`
}

// Validate 校验评估字段合法性。
func (a Appraisal) Validate() error {
	total := len(a.Strengths) + len(a.Weaknesses) + len(a.Opportunities) + len(a.Threats)
	if total == 0 {
		return errors.New("评估结果不能四项全空")
	}
	if a.Confidence < 0 || a.Confidence > 1 {
		return fmt.Errorf("confidence 必须在 [0,1] 区间，目前为 %f", a.Confidence)
	}
	return nil
}

package play

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"plays-ai/internal/ai"
)

// Interpreter 将自由文本的交易想法解读为结构化剧本。
// 两条实现路径（模型与启发式）必须产出形状完全一致的 Play。
type Interpreter interface {
	Interpret(ctx context.Context, description, symbol string) (Play, error)
}

// ProviderInterpreter 通过大模型解读剧本。
type ProviderInterpreter struct {
	client *ai.Client
	logger *zap.Logger
}

// NewProviderInterpreter 创建模型解读器。
func NewProviderInterpreter(client *ai.Client, logger *zap.Logger) *ProviderInterpreter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ProviderInterpreter{client: client, logger: logger}
}

// Interpret 调用模型获取结构化解读，输出非法时返回错误交由上层回退。
func (p *ProviderInterpreter) Interpret(ctx context.Context, description, symbol string) (Play, error) {
	interp, err := p.client.InterpretPlay(ctx, ai.InterpretRequest{
		Description: description,
		Symbol:      symbol,
	})
	if err != nil {
		return Play{}, err
	}

	side, ok := ParseSide(interp.Side)
	if !ok {
		side = SideLong
	}
	timeframe, ok := ParseTimeframe(interp.Timeframe)
	if !ok {
		timeframe = TimeframeSwing
	}

	thesis := strings.TrimSpace(interp.Thesis)
	if thesis == "" {
		thesis = strings.TrimSpace(description)
	}

	return Play{
		ID:        uuid.NewString(),
		Symbol:    symbol,
		Side:      side,
		Thesis:    thesis,
		Catalyst:  strings.Join(interp.Catalysts, "; "),
		Timeframe: timeframe,
		Priority:  interp.Priority,
		Tags:      normalizeTags(interp.Tags),
		EntryPlan: strings.TrimSpace(interp.EntryPlan),
		ExitPlan:  strings.TrimSpace(interp.ExitPlan),
		CreatedAt: time.Now().UTC(),
	}, nil
}

// HeuristicInterpreter 基于关键词的确定性解读器，永不失败。
type HeuristicInterpreter struct{}

// NewHeuristicInterpreter 创建启发式解读器。
func NewHeuristicInterpreter() *HeuristicInterpreter {
	return &HeuristicInterpreter{}
}

var (
	longKeywords  = []string{"buy", "long", "call", "bullish", "accumulate", "upside", "做多", "买入"}
	shortKeywords = []string{"sell", "short", "put", "bearish", "fade", "downside", "做空", "卖出"}

	timeframeKeywords = []struct {
		keywords  []string
		timeframe Timeframe
	}{
		{[]string{"today", "intraday", "scalp", "day trade", "日内"}, TimeframeIntraday},
		{[]string{"year", "long term", "long-term", "长线"}, TimeframeLongterm},
		{[]string{"month", "quarter", "position trade", "中线"}, TimeframePosition},
		{[]string{"week", "swing", "days", "波段"}, TimeframeSwing},
	}

	// tagVocabulary 为固定的标签词表，检测到关键词即打上对应标签。
	tagVocabulary = []struct {
		keyword string
		tag     string
	}{
		{"breakout", "breakout"},
		{"earnings", "earnings"},
		{"momentum", "momentum"},
		{"reversal", "reversal"},
		{"oversold", "oversold"},
		{"overbought", "overbought"},
		{"squeeze", "squeeze"},
		{"dip", "dip"},
		{"news", "news"},
		{"trend", "trend"},
		{"support", "support"},
		{"resistance", "resistance"},
	}

	catalystKeywords = []string{"earnings", "fed", "cpi", "launch", "upgrade", "downgrade", "halving", "merger", "guidance"}
)

// Interpret 从关键词推断方向、跨度与标签，缺少信号时落到安全默认值。
func (h *HeuristicInterpreter) Interpret(_ context.Context, description, symbol string) (Play, error) {
	text := strings.ToLower(description)

	side := SideLong
	if keywordScore(text, shortKeywords) > keywordScore(text, longKeywords) {
		side = SideShort
	}

	timeframe := TimeframeSwing
	for _, entry := range timeframeKeywords {
		if keywordScore(text, entry.keywords) > 0 {
			timeframe = entry.timeframe
			break
		}
	}

	tags := make([]string, 0, 4)
	for _, entry := range tagVocabulary {
		if strings.Contains(text, entry.keyword) {
			tags = append(tags, entry.tag)
		}
	}
	if len(tags) == 0 {
		tags = append(tags, "discretionary")
	}

	catalysts := make([]string, 0, 2)
	for _, keyword := range catalystKeywords {
		if strings.Contains(text, keyword) {
			catalysts = append(catalysts, keyword)
		}
	}

	priority := DefaultPriority
	switch {
	case strings.Contains(text, "high conviction") || strings.Contains(text, "strong"):
		priority = 7
	case strings.Contains(text, "speculative") || strings.Contains(text, "lotto"):
		priority = 3
	}

	entryPlan := "按市价建仓"
	if strings.Contains(text, "pullback") || strings.Contains(text, "dip") {
		entryPlan = "等待回调后分批建仓"
	}
	exitPlan := "按预设止损/止盈离场"
	if strings.Contains(text, "trail") {
		exitPlan = "使用移动止损跟随趋势离场"
	}

	return Play{
		ID:        uuid.NewString(),
		Symbol:    symbol,
		Side:      side,
		Thesis:    strings.TrimSpace(description),
		Catalyst:  strings.Join(catalysts, "; "),
		Timeframe: timeframe,
		Priority:  priority,
		Tags:      tags,
		EntryPlan: entryPlan,
		ExitPlan:  exitPlan,
		CreatedAt: time.Now().UTC(),
	}, nil
}

// FallbackInterpreter 优先走模型路径，失败或超时后退回启发式路径。
// 只要回退路径可用，Interpret 永不返回错误。
type FallbackInterpreter struct {
	primary  Interpreter
	fallback Interpreter
	timeout  time.Duration
	logger   *zap.Logger
}

// NewFallbackInterpreter 组合两条解读路径。primary 可以为 nil，此时直接走回退路径。
func NewFallbackInterpreter(primary, fallback Interpreter, timeout time.Duration, logger *zap.Logger) *FallbackInterpreter {
	if logger == nil {
		logger = zap.NewNop()
	}
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &FallbackInterpreter{
		primary:  primary,
		fallback: fallback,
		timeout:  timeout,
		logger:   logger,
	}
}

// Interpret 实现 Interpreter。
func (f *FallbackInterpreter) Interpret(ctx context.Context, description, symbol string) (Play, error) {
	if f.primary != nil {
		callCtx, cancel := context.WithTimeout(ctx, f.timeout)
		p, err := f.primary.Interpret(callCtx, description, symbol)
		cancel()
		if err == nil {
			return p, nil
		}
		f.logger.Warn("模型解读失败，回退到启发式路径",
			zap.String("symbol", symbol),
			zap.Error(err),
		)
	}

	return f.fallback.Interpret(ctx, description, symbol)
}

func keywordScore(text string, keywords []string) int {
	score := 0
	for _, keyword := range keywords {
		if strings.Contains(text, keyword) {
			score++
		}
	}
	return score
}

func normalizeTags(tags []string) []string {
	out := make([]string, 0, len(tags))
	seen := make(map[string]struct{}, len(tags))
	for _, tag := range tags {
		t := strings.ToLower(strings.TrimSpace(tag))
		if t == "" {
			continue
		}
		if _, ok := seen[t]; ok {
			continue
		}
		seen[t] = struct{}{}
		out = append(out, t)
	}
	if len(out) == 0 {
		out = append(out, "discretionary")
	}
	return out
}

var (
	_ Interpreter = (*ProviderInterpreter)(nil)
	_ Interpreter = (*HeuristicInterpreter)(nil)
	_ Interpreter = (*FallbackInterpreter)(nil)
)

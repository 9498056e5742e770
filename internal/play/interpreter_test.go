package play

import (
	"context"
	"errors"
	"testing"
)

func TestHeuristicInterpretSideAndTimeframe(t *testing.T) {
	h := NewHeuristicInterpreter()
	ctx := context.Background()

	cases := []struct {
		name          string
		description   string
		wantSide      Side
		wantTimeframe Timeframe
	}{
		{"明确做多", "buy the breakout, strong momentum this week", SideLong, TimeframeSwing},
		{"明确做空", "fade this pump, bearish into earnings today", SideShort, TimeframeIntraday},
		{"中文做空", "财报不及预期，做空反弹", SideShort, TimeframeSwing},
		{"长线持有", "accumulate for the year, long term hold", SideLong, TimeframeLongterm},
		{"无信号默认", "interesting setup forming", SideLong, TimeframeSwing},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			p, err := h.Interpret(ctx, tc.description, "BTC/USDT:USDT")
			if err != nil {
				t.Fatal(err)
			}
			if p.Side != tc.wantSide {
				t.Fatalf("方向应为 %s，得到 %s", tc.wantSide, p.Side)
			}
			if p.Timeframe != tc.wantTimeframe {
				t.Fatalf("跨度应为 %s，得到 %s", tc.wantTimeframe, p.Timeframe)
			}
		})
	}
}

func TestHeuristicInterpretTagsAndPriority(t *testing.T) {
	h := NewHeuristicInterpreter()
	ctx := context.Background()

	p, err := h.Interpret(ctx, "high conviction breakout above resistance, momentum building", "ETH/USDT:USDT")
	if err != nil {
		t.Fatal(err)
	}
	if p.Priority != 7 {
		t.Fatalf("高信念剧本优先级应为7，得到 %d", p.Priority)
	}

	wantTags := map[string]bool{"breakout": true, "momentum": true, "resistance": true}
	for _, tag := range p.Tags {
		if !wantTags[tag] {
			t.Fatalf("出现词表之外的标签: %s", tag)
		}
		delete(wantTags, tag)
	}
	if len(wantTags) != 0 {
		t.Fatalf("缺少标签: %v", wantTags)
	}

	// 无任何关键词时打默认标签。
	p, err = h.Interpret(ctx, "something is up", "ETH/USDT:USDT")
	if err != nil {
		t.Fatal(err)
	}
	if len(p.Tags) != 1 || p.Tags[0] != "discretionary" {
		t.Fatalf("默认标签应为 discretionary，得到 %v", p.Tags)
	}
	if p.Priority != DefaultPriority {
		t.Fatalf("默认优先级应为%d，得到 %d", DefaultPriority, p.Priority)
	}
}

type failingInterpreter struct{}

func (failingInterpreter) Interpret(context.Context, string, string) (Play, error) {
	return Play{}, errors.New("模型不可用")
}

// 模型路径失败时回退产物必须与模型产物形状一致：方向、跨度、标签齐全。
func TestFallbackInterpreterOnProviderFailure(t *testing.T) {
	f := NewFallbackInterpreter(failingInterpreter{}, NewHeuristicInterpreter(), 0, nil)

	p, err := f.Interpret(context.Background(), "buy the dip on strong support", "BTC/USDT:USDT")
	if err != nil {
		t.Fatalf("回退路径可用时不应返回错误: %v", err)
	}
	if p.Side == "" || p.Timeframe == "" {
		t.Fatalf("回退产物字段不完整: %+v", p)
	}
	if len(p.Tags) == 0 {
		t.Fatal("回退产物应至少有一个标签")
	}
	if p.ID == "" || p.Symbol != "BTC/USDT:USDT" {
		t.Fatalf("回退产物标识不完整: %+v", p)
	}
	if p.Thesis == "" {
		t.Fatal("回退产物应保留原始论点")
	}
}

func TestFallbackInterpreterWithoutPrimary(t *testing.T) {
	f := NewFallbackInterpreter(nil, NewHeuristicInterpreter(), 0, nil)

	p, err := f.Interpret(context.Background(), "short the bounce", "SOL/USDT:USDT")
	if err != nil {
		t.Fatal(err)
	}
	if p.Side != SideShort {
		t.Fatalf("方向应为 short，得到 %s", p.Side)
	}
}

func TestParseSide(t *testing.T) {
	cases := []struct {
		input string
		want  Side
		ok    bool
	}{
		{"LONG", SideLong, true},
		{" Buy ", SideLong, true},
		{"short", SideShort, true},
		{"sell", SideShort, true},
		{"hold", "", false},
	}
	for _, tc := range cases {
		got, ok := ParseSide(tc.input)
		if got != tc.want || ok != tc.ok {
			t.Fatalf("ParseSide(%q) = (%s, %v), 期望 (%s, %v)", tc.input, got, ok, tc.want, tc.ok)
		}
	}
}

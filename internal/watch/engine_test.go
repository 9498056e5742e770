package watch

import (
	"errors"
	"math"
	"testing"
	"time"

	"plays-ai/internal/config"
	"plays-ai/internal/market"
	"plays-ai/internal/order"
	"plays-ai/internal/play"
)

func testWatchConfig() config.WatchConfig {
	return config.WatchConfig{
		DrawdownLimit:  0.15,
		VolumeFloor:    0.50,
		MomentumGain:   0.05,
		MomentumLoss:   0.03,
		ResizeFraction: 0.25,
		Freshness:      2 * time.Minute,
	}
}

func filledOrder(side play.Side, fillPrice float64) *order.Order {
	o := order.New(play.Play{
		ID:        "play-1",
		Symbol:    "BTC/USDT:USDT",
		Side:      side,
		Thesis:    "测试剧本",
		Timeframe: play.TimeframeSwing,
		Priority:  5,
		Tags:      []string{"breakout"},
	}, 2, 0.8, fillPrice)
	o.Status = order.StatusFilled
	o.FillPrice = fillPrice
	o.FilledAt = time.Now().UTC().Add(-time.Hour)
	return o
}

func snapshotAt(price float64, ts time.Time) market.Snapshot {
	return market.Snapshot{
		Symbol:    "BTC/USDT:USDT",
		Price:     price,
		Volume:    1000,
		AvgVolume: 1000,
		Trend:     market.TrendUp,
		Timestamp: ts,
	}
}

func TestEvaluateStopLossHit(t *testing.T) {
	e := NewEngine(testWatchConfig(), nil)
	now := time.Now().UTC()

	o := filledOrder(play.SideLong, 100)
	o.Stops = order.StopConditions{StopLossPrice: 95, TakeProfitPrice: 110, Resolved: true}

	d, err := e.Evaluate(o, snapshotAt(94, now), now)
	if err != nil {
		t.Fatal(err)
	}
	if d.Kind != KindStopLossHit {
		t.Fatalf("期望 stop_loss_hit，得到 %s", d.Kind)
	}
	if d.Action != ActionExitPosition {
		t.Fatalf("止损应触发离场，得到 %s", d.Action)
	}
}

func TestEvaluateStopLossBeatsTimeout(t *testing.T) {
	e := NewEngine(testWatchConfig(), nil)
	now := time.Now().UTC()

	// 止损与到期同时满足，止损优先级更高。
	o := filledOrder(play.SideLong, 100)
	o.Stops = order.StopConditions{
		StopLossPrice: 95,
		ExpireAt:      now.Add(-time.Minute),
		Resolved:      true,
	}

	d, err := e.Evaluate(o, snapshotAt(94, now), now)
	if err != nil {
		t.Fatal(err)
	}
	if d.Kind != KindStopLossHit {
		t.Fatalf("止损应先于到期命中，得到 %s", d.Kind)
	}
}

func TestEvaluateTrailingStopTightens(t *testing.T) {
	e := NewEngine(testWatchConfig(), nil)
	now := time.Now().UTC()

	o := filledOrder(play.SideLong, 100)
	o.Stops = order.StopConditions{StopLossPrice: 95, TrailingStopPct: 0.05, Resolved: true}
	o.ObserveReturn(0.10) // 峰值价 110，跟踪止损抬升到 104.5

	d, err := e.Evaluate(o, snapshotAt(104, now), now)
	if err != nil {
		t.Fatal(err)
	}
	if d.Kind != KindStopLossHit {
		t.Fatalf("跟踪止损应命中，得到 %s", d.Kind)
	}
}

func TestEvaluateTakeProfitShortSide(t *testing.T) {
	e := NewEngine(testWatchConfig(), nil)
	now := time.Now().UTC()

	o := filledOrder(play.SideShort, 100)
	o.Stops = order.StopConditions{StopLossPrice: 105, TakeProfitPrice: 90, Resolved: true}

	d, err := e.Evaluate(o, snapshotAt(89, now), now)
	if err != nil {
		t.Fatal(err)
	}
	if d.Kind != KindTakeProfitHit {
		t.Fatalf("期望 take_profit_hit，得到 %s", d.Kind)
	}
}

func TestEvaluateTimeoutByMaxHolding(t *testing.T) {
	e := NewEngine(testWatchConfig(), nil)
	now := time.Now().UTC()

	o := filledOrder(play.SideLong, 100)
	o.Stops = order.StopConditions{MaxHolding: 30 * time.Minute, Resolved: true}

	d, err := e.Evaluate(o, snapshotAt(101, now), now)
	if err != nil {
		t.Fatal(err)
	}
	if d.Kind != KindTimeout {
		t.Fatalf("期望 timeout，得到 %s", d.Kind)
	}
}

func TestEvaluateDrawdownTriggersReduce(t *testing.T) {
	e := NewEngine(testWatchConfig(), nil)
	now := time.Now().UTC()

	o := filledOrder(play.SideLong, 100)
	o.ObserveReturn(0.20) // 峰值浮盈20%，当前浮盈2%，回撤18%

	d, err := e.Evaluate(o, snapshotAt(102, now), now)
	if err != nil {
		t.Fatal(err)
	}
	if d.Kind != KindMarketConditionChange {
		t.Fatalf("期望 market_condition_change，得到 %s", d.Kind)
	}
	if d.Action != ActionReducePosition {
		t.Fatalf("回撤超限应减仓，得到 %s", d.Action)
	}
}

func TestEvaluateVolumeAnomaly(t *testing.T) {
	e := NewEngine(testWatchConfig(), nil)
	now := time.Now().UTC()

	o := filledOrder(play.SideLong, 100)
	snap := snapshotAt(101, now)
	snap.Volume = 400
	snap.AvgVolume = 1000

	d, err := e.Evaluate(o, snap, now)
	if err != nil {
		t.Fatal(err)
	}
	if d.Kind != KindVolumeAnomaly {
		t.Fatalf("期望 volume_anomaly，得到 %s", d.Kind)
	}
	if d.Action != ActionMonitorClosely {
		t.Fatalf("成交量异常应密切观察，得到 %s", d.Action)
	}
}

func TestEvaluatePositiveMomentumAdapts(t *testing.T) {
	e := NewEngine(testWatchConfig(), nil)
	now := time.Now().UTC()

	o := filledOrder(play.SideLong, 100)
	snap := snapshotAt(106, now)
	snap.Volume = 1500

	d, err := e.Evaluate(o, snap, now)
	if err != nil {
		t.Fatal(err)
	}
	if d.Type != DecisionAdapt || d.Kind != KindPositiveMomentum {
		t.Fatalf("期望顺势加仓决策，得到 %s/%s", d.Type, d.Kind)
	}

	m := order.NewMachine(config.RiskConfig{CapitalBase: 100000, MaxNotional: 50000}, nil)
	if err := Apply(m, o, d, 0.25); err != nil {
		t.Fatal(err)
	}
	if math.Abs(o.Quantity-2.5) > 1e-9 {
		t.Fatalf("加仓后数量应为2.5，得到 %.4f", o.Quantity)
	}
	if o.Status != order.StatusFilled {
		t.Fatalf("顺势调整不应改变状态，当前 %s", o.Status)
	}
}

func TestEvaluateNegativeMomentumAdapts(t *testing.T) {
	e := NewEngine(testWatchConfig(), nil)
	now := time.Now().UTC()

	// 浮亏3.5%：未触及止损95，峰值浮盈8%下回撤11.5%未超限，
	// 成交量正常，应落到逆势减仓规则。
	o := filledOrder(play.SideLong, 100)
	o.Stops = order.StopConditions{StopLossPrice: 95, Resolved: true}
	o.ObserveReturn(0.08)

	d, err := e.Evaluate(o, snapshotAt(96.5, now), now)
	if err != nil {
		t.Fatal(err)
	}
	if d.Type != DecisionAdapt || d.Kind != KindNegativeMomentum {
		t.Fatalf("期望逆势减仓决策，得到 %s/%s", d.Type, d.Kind)
	}
	if d.Action != ActionDecreasePosition {
		t.Fatalf("动能转弱应减仓，得到 %s", d.Action)
	}

	m := order.NewMachine(config.RiskConfig{CapitalBase: 100000, MaxNotional: 50000}, nil)
	if err := Apply(m, o, d, 0.25); err != nil {
		t.Fatal(err)
	}
	if math.Abs(o.Quantity-1.5) > 1e-9 {
		t.Fatalf("减仓后数量应为1.5，得到 %.4f", o.Quantity)
	}
	if o.Status != order.StatusFilled {
		t.Fatalf("顺势调整不应改变状态，当前 %s", o.Status)
	}
}

func TestEvaluateStaleSnapshotSkips(t *testing.T) {
	e := NewEngine(testWatchConfig(), nil)
	now := time.Now().UTC()

	o := filledOrder(play.SideLong, 100)
	stale := snapshotAt(94, now.Add(-10*time.Minute))

	_, err := e.Evaluate(o, stale, now)
	if !errors.Is(err, market.ErrStaleSnapshot) {
		t.Fatalf("期望 ErrStaleSnapshot，得到 %v", err)
	}
	if o.Status != order.StatusFilled {
		t.Fatal("过期快照不应改变订单")
	}
}

func TestEvaluateNoneSamples(t *testing.T) {
	e := NewEngine(testWatchConfig(), nil)
	now := time.Now().UTC()

	o := filledOrder(play.SideLong, 100)
	d, err := e.Evaluate(o, snapshotAt(101, now), now)
	if err != nil {
		t.Fatal(err)
	}
	if d.Type != DecisionNone {
		t.Fatalf("期望 none，得到 %s", d.Type)
	}

	m := order.NewMachine(config.RiskConfig{CapitalBase: 100000, MaxNotional: 50000}, nil)
	if err := Apply(m, o, d, 0.25); err != nil {
		t.Fatal(err)
	}
	if math.Abs(o.PeakProfit-0.01) > 1e-9 {
		t.Fatalf("采样应推进峰值浮盈，得到 %.4f", o.PeakProfit)
	}
}

func TestApplyExitClosesWithPnL(t *testing.T) {
	m := order.NewMachine(config.RiskConfig{CapitalBase: 100000, MaxNotional: 50000}, nil)

	o := filledOrder(play.SideLong, 100)
	d := Decision{
		Type:      DecisionIntervene,
		Kind:      KindStopLossHit,
		Action:    ActionExitPosition,
		Reason:    "止损触发",
		Price:     94,
		Timestamp: time.Now().UTC(),
	}

	if err := Apply(m, o, d, 0.25); err != nil {
		t.Fatal(err)
	}
	if o.Status != order.StatusClosed {
		t.Fatalf("离场后应为 closed，得到 %s", o.Status)
	}
	if o.RealizedPnL == nil || math.Abs(*o.RealizedPnL+12) > 1e-9 {
		t.Fatalf("多头离场盈亏应为-12，得到 %v", o.RealizedPnL)
	}
}

func TestApplyReduceKeepsStatus(t *testing.T) {
	m := order.NewMachine(config.RiskConfig{CapitalBase: 100000, MaxNotional: 50000}, nil)

	o := filledOrder(play.SideLong, 100)
	d := Decision{
		Type:   DecisionIntervene,
		Kind:   KindMarketConditionChange,
		Action: ActionReducePosition,
		Price:  98,
	}

	if err := Apply(m, o, d, 0.25); err != nil {
		t.Fatal(err)
	}
	if math.Abs(o.Quantity-1.5) > 1e-9 {
		t.Fatalf("减仓后数量应为1.5，得到 %.4f", o.Quantity)
	}
	if o.Status != order.StatusFilled {
		t.Fatalf("减仓不应改变状态，当前 %s", o.Status)
	}
}

package app

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"plays-ai/internal/assess"
	"plays-ai/internal/broker"
	"plays-ai/internal/config"
	"plays-ai/internal/ledger"
	"plays-ai/internal/market"
	"plays-ai/internal/order"
	"plays-ai/internal/play"
	"plays-ai/internal/store"
	"plays-ai/internal/watch"
)

type stubObserver struct {
	snap market.Snapshot
	err  error
}

func (s *stubObserver) Observe(_ context.Context, symbol string) (market.Snapshot, error) {
	if s.err != nil {
		return market.Snapshot{}, s.err
	}
	snap := s.snap
	snap.Symbol = symbol
	return snap, nil
}

func testConfig() *config.Config {
	return &config.Config{
		Risk: config.RiskConfig{
			CapitalBase:       100000,
			MaxNotional:       50000,
			MinConfidence:     0.35,
			VolatilityCeiling: 0.08,
		},
		Watch: config.WatchConfig{
			DrawdownLimit:  0.15,
			VolumeFloor:    0.50,
			MomentumGain:   0.05,
			MomentumLoss:   0.03,
			ResizeFraction: 0.25,
			Freshness:      2 * time.Minute,
		},
		Stops: config.StopConfig{
			StopLossPct:   0.05,
			TakeProfitPct: 0.10,
			MaxHolding:    72 * time.Hour,
		},
		Scheduler: config.SchedulerConfig{
			LoopInterval:    30 * time.Second,
			ProviderTimeout: 15 * time.Second,
		},
	}
}

func freshSnapshot(price float64) market.Snapshot {
	return market.Snapshot{
		Price:      price,
		Volume:     1000,
		AvgVolume:  1000,
		Volatility: 0.02,
		Trend:      market.TrendUp,
		Timestamp:  time.Now().UTC(),
	}
}

func newTestEngine(t *testing.T, observer Observer) *PlayEngine {
	t.Helper()
	return newTestEngineWith(t, testConfig(), observer, broker.NewSimulator(0, nil))
}

func newTestEngineWith(t *testing.T, cfg *config.Config, observer Observer, gateway broker.Gateway) *PlayEngine {
	t.Helper()

	st, err := store.NewSQLite(config.DatabaseConfig{InMemory: true, MaxOpenConns: 1})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = st.Close() })

	led, err := ledger.NewLedger(st, nil)
	if err != nil {
		t.Fatal(err)
	}

	interpreter := play.NewFallbackInterpreter(nil, play.NewHeuristicInterpreter(), time.Second, nil)
	assessor := assess.NewEngine(cfg.Risk, nil, time.Second, nil)
	machine := order.NewMachine(cfg.Risk, nil)
	watcher := watch.NewEngine(cfg.Watch, nil)

	return NewPlayEngine(cfg, interpreter, observer, assessor, machine, watcher, gateway, led, nil)
}

// flakyGateway 前 fails 次调用报通道错误，之后转交给内层网关。
type flakyGateway struct {
	inner broker.Gateway
	fails int
	calls int
}

func (g *flakyGateway) Place(ctx context.Context, req broker.Request) (broker.Result, error) {
	g.calls++
	if g.calls <= g.fails {
		return broker.Result{}, errors.New("通道超时")
	}
	return g.inner.Place(ctx, req)
}

func TestCreatePlayLowRiskAutoApproved(t *testing.T) {
	observer := &stubObserver{snap: freshSnapshot(100)}
	e := newTestEngine(t, observer)
	ctx := context.Background()

	o, err := e.CreatePlay(ctx, "strong breakout above resistance, buy the trend", "BTC/USDT:USDT", 1, 0.8)
	if err != nil {
		t.Fatal(err)
	}
	if o.Status != order.StatusApproved {
		t.Fatalf("低风险订单应直接批准，得到 %s", o.Status)
	}
	if o.Play.Side != play.SideLong {
		t.Fatalf("解读方向应为 long，得到 %s", o.Play.Side)
	}
	if !o.Stops.Resolved {
		t.Fatal("批准时应冻结止损")
	}
	if math.Abs(o.Stops.StopLossPrice-95) > 1e-9 {
		t.Fatalf("止损价应为95，得到 %.4f", o.Stops.StopLossPrice)
	}

	// 订单应已落盘。
	got, err := e.GetOrder(ctx, o.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != order.StatusApproved {
		t.Fatalf("落盘状态不符: %s", got.Status)
	}
}

func TestCreatePlayOversizedNeedsApproval(t *testing.T) {
	observer := &stubObserver{snap: freshSnapshot(100)}
	e := newTestEngine(t, observer)
	ctx := context.Background()

	// 名义金额 60000 超过 max_notional 50000。
	o, err := e.CreatePlay(ctx, "buy the breakout", "BTC/USDT:USDT", 600, 0.8)
	if err != nil {
		t.Fatal(err)
	}
	if o.Status != order.StatusPendingApproval {
		t.Fatalf("超额订单应送审，得到 %s", o.Status)
	}
	if o.Stops.Resolved {
		t.Fatal("送审订单不应冻结止损")
	}

	approved, err := e.Approve(ctx, o.ID)
	if err != nil {
		t.Fatal(err)
	}
	if approved.Status != order.StatusApproved {
		t.Fatalf("审批后应为 approved，得到 %s", approved.Status)
	}
	if !approved.Stops.Resolved {
		t.Fatal("审批通过时应冻结止损")
	}
}

func TestSubmitFillsThroughSimulator(t *testing.T) {
	observer := &stubObserver{snap: freshSnapshot(100)}
	e := newTestEngine(t, observer)
	ctx := context.Background()

	o, err := e.CreatePlay(ctx, "buy the dip", "BTC/USDT:USDT", 1, 0.8)
	if err != nil {
		t.Fatal(err)
	}

	filled, err := e.Submit(ctx, o.ID)
	if err != nil {
		t.Fatal(err)
	}
	if filled.Status != order.StatusFilled {
		t.Fatalf("模拟提交后应为 filled，得到 %s", filled.Status)
	}
	if filled.FillPrice != 100 {
		t.Fatalf("零滑点成交价应为100，得到 %.4f", filled.FillPrice)
	}
	if filled.BrokerOrderID == "" {
		t.Fatal("成交后应记录执行单号")
	}
}

func TestSubmitGatewayErrorKeepsApprovedForRetry(t *testing.T) {
	observer := &stubObserver{snap: freshSnapshot(100)}
	gw := &flakyGateway{inner: broker.NewSimulator(0, nil), fails: 1}
	e := newTestEngineWith(t, testConfig(), observer, gw)
	ctx := context.Background()

	o, err := e.CreatePlay(ctx, "buy the breakout", "BTC/USDT:USDT", 1, 0.8)
	if err != nil {
		t.Fatal(err)
	}

	if _, err := e.Submit(ctx, o.ID); err == nil {
		t.Fatal("通道报错时提交应返回错误")
	}

	// 账本应停留在 approved，下一轮调度可以直接重试。
	got, err := e.GetOrder(ctx, o.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != order.StatusApproved {
		t.Fatalf("通道报错后账本应保持 approved，得到 %s", got.Status)
	}

	filled, err := e.Submit(ctx, o.ID)
	if err != nil {
		t.Fatal(err)
	}
	if filled.Status != order.StatusFilled {
		t.Fatalf("重试提交应成交，得到 %s", filled.Status)
	}
}

func TestApproveRefreshesReferencePrice(t *testing.T) {
	observer := &stubObserver{snap: freshSnapshot(100)}
	e := newTestEngine(t, observer)
	ctx := context.Background()

	// 名义金额超限送审。
	o, err := e.CreatePlay(ctx, "buy the breakout", "BTC/USDT:USDT", 600, 0.8)
	if err != nil {
		t.Fatal(err)
	}
	if o.Status != order.StatusPendingApproval {
		t.Fatalf("超额订单应送审，得到 %s", o.Status)
	}

	// 审批前价格从100走到110，冻结应基于审批时价。
	observer.snap = freshSnapshot(110)
	approved, err := e.Approve(ctx, o.ID)
	if err != nil {
		t.Fatal(err)
	}
	if math.Abs(approved.ReferencePrice-110) > 1e-9 {
		t.Fatalf("审批应刷新参考价到110，得到 %.4f", approved.ReferencePrice)
	}
	if math.Abs(approved.Stops.StopLossPrice-104.5) > 1e-9 {
		t.Fatalf("止损应按审批时价冻结为104.5，得到 %.4f", approved.Stops.StopLossPrice)
	}
}

func TestCreatePlaySetsAbsoluteExpiry(t *testing.T) {
	cfg := testConfig()
	cfg.Stops.ExpireAfter = 48 * time.Hour

	observer := &stubObserver{snap: freshSnapshot(100)}
	e := newTestEngineWith(t, cfg, observer, broker.NewSimulator(0, nil))
	ctx := context.Background()

	o, err := e.CreatePlay(ctx, "buy the breakout", "BTC/USDT:USDT", 1, 0.8)
	if err != nil {
		t.Fatal(err)
	}
	if o.Stops.ExpireAt.IsZero() {
		t.Fatal("配置了 expire_after 时应带上绝对到期时间")
	}
	want := time.Now().UTC().Add(48 * time.Hour)
	if diff := o.Stops.ExpireAt.Sub(want); diff < -time.Minute || diff > time.Minute {
		t.Fatalf("到期时间偏差过大: %s", o.Stops.ExpireAt)
	}
}

func TestEvaluateOrderStopLossClosesAndLedgers(t *testing.T) {
	observer := &stubObserver{snap: freshSnapshot(100)}
	e := newTestEngine(t, observer)
	ctx := context.Background()

	o, err := e.CreatePlay(ctx, "buy the breakout", "BTC/USDT:USDT", 1, 0.8)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := e.Submit(ctx, o.ID); err != nil {
		t.Fatal(err)
	}

	// 价格跌破止损。
	observer.snap = freshSnapshot(94)
	if err := e.EvaluateOrder(ctx, o.ID); err != nil {
		t.Fatal(err)
	}

	got, err := e.GetOrder(ctx, o.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != order.StatusClosed {
		t.Fatalf("止损触发后应为 closed，得到 %s", got.Status)
	}
	if got.RealizedPnL == nil || math.Abs(*got.RealizedPnL+6) > 1e-9 {
		t.Fatalf("盈亏应为-6，得到 %v", got.RealizedPnL)
	}

	h, err := e.OrderHistory(ctx, o.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(h.Interventions) != 1 || h.Interventions[0].Kind != watch.KindStopLossHit {
		t.Fatalf("应有一条止损干预流水: %+v", h.Interventions)
	}
}

func TestEvaluateOrderStaleSnapshotSkips(t *testing.T) {
	observer := &stubObserver{snap: freshSnapshot(100)}
	e := newTestEngine(t, observer)
	ctx := context.Background()

	o, err := e.CreatePlay(ctx, "buy the breakout", "BTC/USDT:USDT", 1, 0.8)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := e.Submit(ctx, o.ID); err != nil {
		t.Fatal(err)
	}

	stale := freshSnapshot(94)
	stale.Timestamp = time.Now().UTC().Add(-10 * time.Minute)
	observer.snap = stale

	if err := e.EvaluateOrder(ctx, o.ID); err != nil {
		t.Fatal(err)
	}

	got, err := e.GetOrder(ctx, o.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != order.StatusFilled {
		t.Fatalf("过期快照不应触发动作，得到 %s", got.Status)
	}
}

func TestManualInterveneSharesApplyPath(t *testing.T) {
	observer := &stubObserver{snap: freshSnapshot(100)}
	e := newTestEngine(t, observer)
	ctx := context.Background()

	o, err := e.CreatePlay(ctx, "buy the breakout", "BTC/USDT:USDT", 1, 0.8)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := e.Submit(ctx, o.ID); err != nil {
		t.Fatal(err)
	}

	observer.snap = freshSnapshot(103)
	closed, err := e.ManualIntervene(ctx, o.ID, "提前锁定利润")
	if err != nil {
		t.Fatal(err)
	}
	if closed.Status != order.StatusClosed {
		t.Fatalf("人工平仓后应为 closed，得到 %s", closed.Status)
	}
	if closed.RealizedPnL == nil || math.Abs(*closed.RealizedPnL-3) > 1e-9 {
		t.Fatalf("盈亏应为3，得到 %v", closed.RealizedPnL)
	}

	h, err := e.OrderHistory(ctx, o.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(h.Interventions) != 1 || h.Interventions[0].Kind != watch.KindManual {
		t.Fatalf("人工干预应与自动干预入同一账本: %+v", h.Interventions)
	}

	// 已关闭的订单不可再次干预。
	if _, err := e.ManualIntervene(ctx, o.ID, "重复操作"); err == nil {
		t.Fatal("终态订单不应接受干预")
	}
}

func TestOrderSummary(t *testing.T) {
	observer := &stubObserver{snap: freshSnapshot(100)}
	e := newTestEngine(t, observer)
	ctx := context.Background()

	o, err := e.CreatePlay(ctx, "buy the breakout", "BTC/USDT:USDT", 1, 0.8)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := e.Submit(ctx, o.ID); err != nil {
		t.Fatal(err)
	}

	observer.snap = freshSnapshot(94)
	if err := e.EvaluateOrder(ctx, o.ID); err != nil {
		t.Fatal(err)
	}

	summary, err := e.OrderSummary(ctx, o.ID)
	if err != nil {
		t.Fatal(err)
	}
	if math.Abs(summary.PnLPercent+0.06) > 1e-9 {
		t.Fatalf("收益率应为-6%%，得到 %.4f", summary.PnLPercent)
	}
	if summary.Interventions != 1 {
		t.Fatalf("干预计数应为1，得到 %d", summary.Interventions)
	}
	if summary.TimeInPlay <= 0 {
		t.Fatalf("持仓时长应为正，得到 %s", summary.TimeInPlay)
	}
}

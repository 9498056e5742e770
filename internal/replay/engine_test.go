package replay

import (
	"context"
	"testing"
	"time"

	"plays-ai/internal/config"
	"plays-ai/internal/ledger"
	"plays-ai/internal/order"
	"plays-ai/internal/play"
	"plays-ai/internal/store"
	"plays-ai/internal/watch"
)

func newTestLedger(t *testing.T) *ledger.Ledger {
	t.Helper()

	st, err := store.NewSQLite(config.DatabaseConfig{InMemory: true, MaxOpenConns: 1})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = st.Close() })

	l, err := ledger.NewLedger(st, nil)
	if err != nil {
		t.Fatal(err)
	}
	return l
}

func testMachine() *order.Machine {
	return order.NewMachine(config.RiskConfig{
		CapitalBase:   100000,
		MaxNotional:   50000,
		MinConfidence: 0.35,
	}, nil)
}

func newFilledOrder() *order.Order {
	o := order.New(play.Play{
		ID:        "play-1",
		Symbol:    "BTC/USDT:USDT",
		Side:      play.SideLong,
		Thesis:    "突破回踩确认",
		Timeframe: play.TimeframeSwing,
		Priority:  5,
		Tags:      []string{"breakout"},
	}, 2, 0.8, 100)
	o.Status = order.StatusFilled
	o.FillPrice = 100
	o.FilledAt = time.Now().UTC().Add(-3 * time.Hour)
	return o
}

// 走完一段完整生命周期：采样、加仓、止损离场，重放应与存档完全一致。
func TestVerifyConsistentLifecycle(t *testing.T) {
	l := newTestLedger(t)
	m := testMachine()
	ctx := context.Background()
	base := time.Now().UTC().Add(-time.Hour)

	o := newFilledOrder()
	if err := l.SaveOrder(ctx, o); err != nil {
		t.Fatal(err)
	}

	steps := []watch.Decision{
		{Type: watch.DecisionNone, Price: 103, Timestamp: base},
		{
			Type: watch.DecisionAdapt, Kind: watch.KindPositiveMomentum,
			Action: watch.ActionIncreasePosition, Reason: "动能向好",
			Price: 106, Timestamp: base.Add(10 * time.Minute),
		},
		{Type: watch.DecisionNone, Price: 104, Timestamp: base.Add(20 * time.Minute)},
		{
			Type: watch.DecisionIntervene, Kind: watch.KindStopLossHit,
			Action: watch.ActionExitPosition, Reason: "价格触及止损",
			Price: 95, Timestamp: base.Add(30 * time.Minute),
		},
	}

	for _, d := range steps {
		before := o.Quantity
		if err := watch.Apply(m, o, d, 0.25); err != nil {
			t.Fatal(err)
		}
		switch d.Type {
		case watch.DecisionNone:
			if err := l.AppendSample(ctx, o, d.Price, d.Timestamp); err != nil {
				t.Fatal(err)
			}
		case watch.DecisionAdapt:
			if err := l.ApplyAdaptation(ctx, o, d, before); err != nil {
				t.Fatal(err)
			}
		case watch.DecisionIntervene:
			if err := l.ApplyIntervention(ctx, o, d); err != nil {
				t.Fatal(err)
			}
		}
	}

	e := NewEngine(testMachine(), 0.25, nil)
	report, err := e.Verify(ctx, l, o.ID)
	if err != nil {
		t.Fatal(err)
	}
	if report.Steps != len(steps) {
		t.Fatalf("重放步数应为%d，得到 %d", len(steps), report.Steps)
	}
	if !report.Consistent {
		t.Fatalf("重放应与存档一致，差异: %v", report.Mismatches)
	}
}

func TestVerifyDetectsTamperedQuantity(t *testing.T) {
	l := newTestLedger(t)
	m := testMachine()
	ctx := context.Background()
	base := time.Now().UTC().Add(-time.Hour)

	o := newFilledOrder()
	if err := l.SaveOrder(ctx, o); err != nil {
		t.Fatal(err)
	}

	d := watch.Decision{
		Type: watch.DecisionAdapt, Kind: watch.KindNegativeMomentum,
		Action: watch.ActionDecreasePosition, Reason: "动能转弱",
		Price: 97, Timestamp: base,
	}
	before := o.Quantity
	if err := watch.Apply(m, o, d, 0.25); err != nil {
		t.Fatal(err)
	}
	if err := l.ApplyAdaptation(ctx, o, d, before); err != nil {
		t.Fatal(err)
	}

	// 绕过账本正常路径篡改存档数量。
	o.Quantity = 9
	if err := l.SaveOrder(ctx, o); err != nil {
		t.Fatal(err)
	}

	e := NewEngine(testMachine(), 0.25, nil)
	report, err := e.Verify(ctx, l, o.ID)
	if err != nil {
		t.Fatal(err)
	}
	if report.Consistent {
		t.Fatal("篡改后的存档不应通过重放审计")
	}
}

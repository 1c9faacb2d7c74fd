package monitor

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"ladderbot/internal/config"
	"ladderbot/internal/execution"
	"ladderbot/internal/ladder"
	"ladderbot/internal/ledger"
	"ladderbot/internal/market"
	"ladderbot/internal/store"
)

func newTestService(t *testing.T) *Service {
	t.Helper()
	st, err := store.NewSQLite(config.DatabaseConfig{InMemory: true, MaxOpenConns: 1})
	if err != nil {
		t.Fatalf("NewSQLite returned error: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })

	svc, err := NewService(st, nil)
	if err != nil {
		t.Fatalf("NewService returned error: %v", err)
	}
	return svc
}

func TestServiceRecordAndList(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	svc.RecordCycle(ctx, CyclePayload{CycleID: "c1", Markets: 2, Placed: 5, Duration: time.Second})
	svc.RecordSkip(ctx, "c1", "XETHZUSD", market.SideSell, errors.New("余额不足"))
	svc.RecordError(ctx, "市场处理失败", errors.New("boom"), map[string]interface{}{"pair": "XETHZUSD"})
	svc.RecordBalances(ctx, "c1", map[string]ledger.Balance{"USD": {Total: 100, Unencumbered: 60}})

	all, err := svc.ListEvents(ctx, "", 10)
	if err != nil {
		t.Fatalf("ListEvents returned error: %v", err)
	}
	if len(all) != 4 {
		t.Fatalf("expected 4 events, got %d", len(all))
	}
	if all[0].Type != EventBalanceSummary {
		t.Fatalf("events should be newest first, got %s", all[0].Type)
	}

	skips, err := svc.ListEvents(ctx, EventGuardSkip, 10)
	if err != nil {
		t.Fatalf("ListEvents returned error: %v", err)
	}
	if len(skips) != 1 {
		t.Fatalf("expected 1 skip event, got %d", len(skips))
	}
	var payload GuardSkipPayload
	if err := json.Unmarshal(skips[0].Payload.(json.RawMessage), &payload); err != nil {
		t.Fatalf("decode payload: %v", err)
	}
	if payload.Pair != "XETHZUSD" || payload.Side != "sell" || payload.Reason != "余额不足" {
		t.Fatalf("unexpected payload %+v", payload)
	}
}

func TestServicePlacementTotals(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	orders := []ladder.Order{{Pair: "XETHZUSD", Rung: 1, Side: market.SideSell, Price: 2000, Volume: 1}}
	svc.RecordPlacement(ctx, "c1", market.SideSell, orders, execution.Result{Pair: "XETHZUSD", Expected: 3, Placed: 3})
	svc.RecordPlacement(ctx, "c1", market.SideBuy, orders, execution.Result{Pair: "XETHZUSD", Expected: 3, Placed: 2})
	svc.RecordPlacement(ctx, "c1", market.SideBuy, orders, execution.Result{Pair: "XXBTZUSD", Expected: 1, Placed: 1})

	totals, err := svc.PlacementTotals(ctx, 100)
	if err != nil {
		t.Fatalf("PlacementTotals returned error: %v", err)
	}
	if len(totals) != 2 {
		t.Fatalf("expected 2 pairs, got %+v", totals)
	}
	eth := totals[0]
	if eth.Pair != "XETHZUSD" || eth.Sell != 3 || eth.Buy != 2 || eth.Expected != 6 || eth.Placed != 5 {
		t.Fatalf("unexpected totals %+v", eth)
	}
	if totals[1].Pair != "XXBTZUSD" || totals[1].Buy != 1 {
		t.Fatalf("unexpected totals %+v", totals[1])
	}
}

func TestMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)

	m.ObserveCycle(2*time.Second, true)
	m.MarketOutcome("XETHZUSD", OutcomeSkipped)
	m.Orders("XETHZUSD", "sell", 3, 1)
	m.SetBalance("USD", ledger.Balance{Total: 100, Unencumbered: 40})

	if got := testutil.ToFloat64(m.cycleAborts); got != 1 {
		t.Fatalf("expected 1 aborted cycle, got %f", got)
	}
	if got := testutil.ToFloat64(m.marketOutcomes.WithLabelValues("XETHZUSD", OutcomeSkipped)); got != 1 {
		t.Fatalf("expected skip outcome recorded, got %f", got)
	}
	if got := testutil.ToFloat64(m.ordersPlaced.WithLabelValues("XETHZUSD", "sell")); got != 3 {
		t.Fatalf("expected 3 placed, got %f", got)
	}
	if got := testutil.ToFloat64(m.balances.WithLabelValues("USD", "unencumbered")); got != 40 {
		t.Fatalf("expected unencumbered gauge 40, got %f", got)
	}

	var nilMetrics *Metrics
	nilMetrics.Orders("XETHZUSD", "buy", 1, 1)
}

package app

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"testing"
	"time"

	"ladderbot/internal/config"
	"ladderbot/internal/exchange"
	"ladderbot/internal/execution"
	"ladderbot/internal/ladder"
	"ladderbot/internal/ledger"
	"ladderbot/internal/market"
	"ladderbot/internal/monitor"
)

type fakeAdapter struct {
	mu sync.Mutex

	caps       exchange.Capabilities
	pairs      []market.AssetPair
	balances   map[string]float64
	openOrders []exchange.OpenOrder
	tickers    map[string]market.Ticker
	candles    []market.OHLC

	balanceErr error
	panicPair  string

	calls      int
	ohlcLimits []int
	ohlcSpans  []time.Duration
	submitted  map[string][]ladder.Order
	cancelled  []string
}

func newFakeAdapter() *fakeAdapter {
	return &fakeAdapter{
		caps: exchange.Capabilities{TimeInForce: ladder.TimeInForceGTD, NativeClose: true, BatchSize: 15},
		pairs: []market.AssetPair{
			{Exchange: "kraken", ID: "XETHZUSD", Symbol: "ETH/USD", Altname: "ETHUSD", Base: "XETH", Quote: "ZUSD", PriceDecimals: 2, VolumeDecimals: 8},
			{Exchange: "kraken", ID: "XXBTZUSD", Symbol: "BTC/USD", Altname: "XBTUSD", Base: "XXBT", Quote: "ZUSD", PriceDecimals: 1, VolumeDecimals: 8},
		},
		balances: map[string]float64{"ZUSD": 1000, "XETH": 0, "XXBT": 0},
		tickers: map[string]market.Ticker{
			"XETHZUSD": {Pair: "XETHZUSD", Ask: 101, Bid: 100, High: 110, Low: 90, VWAP: 100, Vol: 500, Count: 100},
			"XXBTZUSD": {Pair: "XXBTZUSD", Ask: 1010, Bid: 1000, High: 1100, Low: 900, VWAP: 1000, Vol: 50, Count: 40},
		},
		submitted: make(map[string][]ladder.Order),
	}
}

func (f *fakeAdapter) Name() string { return "fake" }

func (f *fakeAdapter) Capabilities() exchange.Capabilities { return f.caps }

func (f *fakeAdapter) FetchAssetPairs(context.Context) ([]market.AssetPair, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return f.pairs, nil
}

func (f *fakeAdapter) FetchBalances(context.Context) (map[string]float64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.balanceErr != nil {
		return nil, f.balanceErr
	}
	out := make(map[string]float64, len(f.balances))
	for k, v := range f.balances {
		out[k] = v
	}
	return out, nil
}

func (f *fakeAdapter) FetchOpenOrders(context.Context, []string) ([]exchange.OpenOrder, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return append([]exchange.OpenOrder(nil), f.openOrders...), nil
}

func (f *fakeAdapter) FetchTicker(_ context.Context, pair market.AssetPair) (market.Ticker, error) {
	f.mu.Lock()
	f.calls++
	panicPair := f.panicPair
	t, ok := f.tickers[pair.ID]
	f.mu.Unlock()
	if pair.ID == panicPair {
		panic("ticker decode")
	}
	if !ok {
		return market.Ticker{}, fmt.Errorf("no ticker for %s", pair.ID)
	}
	return t, nil
}

func (f *fakeAdapter) FetchOHLC(_ context.Context, _ market.AssetPair, interval time.Duration, limit int) ([]market.OHLC, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.ohlcLimits = append(f.ohlcLimits, limit)
	f.ohlcSpans = append(f.ohlcSpans, interval)
	return f.candles, nil
}

func (f *fakeAdapter) SubmitOrders(_ context.Context, pair market.AssetPair, orders []ladder.Order) (exchange.SubmitResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	var res exchange.SubmitResult
	for _, o := range orders {
		f.submitted[pair.ID] = append(f.submitted[pair.ID], o)
		res.IDs = append(res.IDs, fmt.Sprintf("%s-%s-%d", pair.ID, o.Side, o.Rung))
	}
	return res, nil
}

func (f *fakeAdapter) CancelAllOpen(_ context.Context, pair market.AssetPair) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.cancelled = append(f.cancelled, pair.ID)
	kept := f.openOrders[:0]
	for _, o := range f.openOrders {
		if o.Pair != pair.ID {
			kept = append(kept, o)
		}
	}
	f.openOrders = kept
	return nil
}

type recordingJournal struct {
	cycles     []monitor.CyclePayload
	skips      []monitor.GuardSkipPayload
	placements []execution.Result
	balances   []map[string]ledger.Balance
	errors     []string
}

func (j *recordingJournal) RecordCycle(_ context.Context, payload monitor.CyclePayload) {
	j.cycles = append(j.cycles, payload)
}

func (j *recordingJournal) RecordSkip(_ context.Context, cycleID, pair string, side market.Side, reason error) {
	j.skips = append(j.skips, monitor.GuardSkipPayload{CycleID: cycleID, Pair: pair, Side: string(side), Reason: reason.Error()})
}

func (j *recordingJournal) RecordPlacement(_ context.Context, _ string, _ market.Side, _ []ladder.Order, result execution.Result) {
	j.placements = append(j.placements, result)
}

func (j *recordingJournal) RecordBalances(_ context.Context, _ string, balances map[string]ledger.Balance) {
	j.balances = append(j.balances, balances)
}

func (j *recordingJournal) RecordError(_ context.Context, msg string, _ error, _ map[string]interface{}) {
	j.errors = append(j.errors, msg)
}

func buyOnly(pair string, volPercent float64) config.MarketConfig {
	return config.MarketConfig{
		Pair:      pair,
		Reference: config.ReferenceConservative,
		Min:       map[string]float64{},
		Sell:      config.SideConfig{MinBalance: config.DefaultSellMinBalance},
		Buy:       config.SideConfig{OrderCount: 1, VolPercent: volPercent, ResellBumpPercent: 1},
	}
}

func testConfig(markets ...config.MarketConfig) *config.Config {
	return &config.Config{
		App:      config.AppConfig{Environment: "test"},
		Exchange: config.ExchangeConfig{Name: "kraken"},
		Trading: config.TradingConfig{
			FeePercent:    0.26,
			OrderLifespan: 15 * time.Minute,
			Markets:       markets,
		},
		Scheduler: config.SchedulerConfig{SummaryMinTotal: 0.0001},
	}
}

func newTestScheduler(t *testing.T, cfg *config.Config, adapter *fakeAdapter, loader ConfigLoader) (*Scheduler, *recordingJournal) {
	t.Helper()
	j := &recordingJournal{}
	s, err := NewScheduler(cfg, SchedulerDeps{Adapter: adapter, Journal: j, Loader: loader})
	if err != nil {
		t.Fatalf("NewScheduler returned error: %v", err)
	}
	s.newID = func() string { return "cycle-1" }
	return s, j
}

func approxEqual(a, b float64) bool {
	return math.Abs(a-b) < 1e-9
}

func TestSchedulerCycle_EncumbersAcrossMarkets(t *testing.T) {
	adapter := newFakeAdapter()
	s, j := newTestScheduler(t, testConfig(buyOnly("XETHZUSD", 50), buyOnly("XBTUSD", 100)), adapter, nil)

	if err := s.Cycle(context.Background()); err != nil {
		t.Fatalf("Cycle returned error: %v", err)
	}

	eth := adapter.submitted["XETHZUSD"]
	if len(eth) != 1 || eth[0].Price != 90 || !approxEqual(eth[0].Volume, 5) {
		t.Fatalf("unexpected ETH orders %+v", eth)
	}
	if eth[0].Close == nil || eth[0].Close.Price != 90.9 {
		t.Fatalf("expected close leg at 90.9, got %+v", eth[0].Close)
	}

	// 第一个市场占用 5×90=450 ZUSD，第二个市场只剩 550 可用。
	btc := adapter.submitted["XXBTZUSD"]
	if len(btc) != 1 || !approxEqual(btc[0].Volume, 0.55) {
		t.Fatalf("expected BTC volume 0.55 after encumbrance, got %+v", btc)
	}

	if len(j.cycles) != 1 || j.cycles[0].Placed != 2 || j.cycles[0].Failed != 0 || j.cycles[0].Aborted != "" {
		t.Fatalf("unexpected cycle payload %+v", j.cycles)
	}
	if len(j.placements) != 2 || j.placements[0].Placed != 1 {
		t.Fatalf("unexpected placements %+v", j.placements)
	}
}

func TestSchedulerCycle_GuardFailureSkipsMarket(t *testing.T) {
	adapter := newFakeAdapter()
	adapter.caps = exchange.Capabilities{TimeInForce: ladder.TimeInForceGTC, NeedsCancel: true, BatchSize: 1, OpenOrdersPerPair: true}
	adapter.openOrders = []exchange.OpenOrder{
		{ID: "old-1", Pair: "XETHZUSD", Side: market.SideBuy, Remaining: 5, LimitPrice: 100},
	}
	m := buyOnly("XETHZUSD", 50)
	m.Min = map[string]float64{"vol": 1000}
	s, j := newTestScheduler(t, testConfig(m, buyOnly("XXBTZUSD", 100)), adapter, nil)

	if err := s.Cycle(context.Background()); err != nil {
		t.Fatalf("Cycle returned error: %v", err)
	}
	if _, ok := adapter.submitted["XETHZUSD"]; ok {
		t.Fatalf("guard failure must not submit orders, got %+v", adapter.submitted["XETHZUSD"])
	}
	for _, pair := range adapter.cancelled {
		if pair == "XETHZUSD" {
			t.Fatalf("skipped market must keep its resting orders, cancelled %+v", adapter.cancelled)
		}
	}
	if len(adapter.openOrders) != 1 || adapter.openOrders[0].ID != "old-1" {
		t.Fatalf("resting order should survive, got %+v", adapter.openOrders)
	}
	// 挂单仍占用 500 ZUSD，第二个市场只剩 500 可用。
	btc := adapter.submitted["XXBTZUSD"]
	if len(btc) != 1 || !approxEqual(btc[0].Volume, 0.5) {
		t.Fatalf("expected BTC volume 0.5 with ETH order still encumbered, got %+v", btc)
	}
	if len(j.skips) != 1 || j.skips[0].Side != "" || j.skips[0].Pair != "XETHZUSD" {
		t.Fatalf("unexpected skips %+v", j.skips)
	}
	if j.cycles[0].Skipped != 1 || j.cycles[0].Placed != 1 {
		t.Fatalf("unexpected cycle payload %+v", j.cycles[0])
	}
}

func TestSchedulerCycle_InsufficientSellStillPlacesBuy(t *testing.T) {
	adapter := newFakeAdapter()
	m := buyOnly("XETHZUSD", 50)
	m.Sell = config.SideConfig{OrderCount: 2, VolPercent: 50, PcntBumpA: 1, MinBalance: config.DefaultSellMinBalance}
	s, j := newTestScheduler(t, testConfig(m), adapter, nil)

	if err := s.Cycle(context.Background()); err != nil {
		t.Fatalf("Cycle returned error: %v", err)
	}

	orders := adapter.submitted["XETHZUSD"]
	if len(orders) != 1 || orders[0].Side != market.SideBuy {
		t.Fatalf("expected only the buy ladder, got %+v", orders)
	}
	if len(j.skips) != 1 || j.skips[0].Side != "sell" {
		t.Fatalf("expected sell side skip, got %+v", j.skips)
	}
	if j.cycles[0].Placed != 1 {
		t.Fatalf("market should count as placed, got %+v", j.cycles[0])
	}
}

func TestSchedulerCycle_ConfigReloadFailureAborts(t *testing.T) {
	adapter := newFakeAdapter()
	cfg := testConfig(buyOnly("XETHZUSD", 50))
	loader := func() (*config.Config, error) { return nil, errors.New("yaml: line 3") }
	s, j := newTestScheduler(t, cfg, adapter, loader)

	if err := s.Cycle(context.Background()); err == nil {
		t.Fatalf("expected reload error")
	}
	if adapter.calls != 0 {
		t.Fatalf("no exchange calls expected, got %d", adapter.calls)
	}
	if s.Config() != cfg {
		t.Fatalf("previous config should stay in effect")
	}
	if len(j.errors) != 1 {
		t.Fatalf("expected reload error to be journaled, got %+v", j.errors)
	}
}

func TestSchedulerCycle_ConfigReloadApplies(t *testing.T) {
	adapter := newFakeAdapter()
	next := testConfig(buyOnly("XBTUSD", 100))
	s, _ := newTestScheduler(t, testConfig(buyOnly("XETHZUSD", 50)), adapter, func() (*config.Config, error) { return next, nil })

	if err := s.Cycle(context.Background()); err != nil {
		t.Fatalf("Cycle returned error: %v", err)
	}
	if _, ok := adapter.submitted["XETHZUSD"]; ok {
		t.Fatalf("old market should not be processed")
	}
	if len(adapter.submitted["XXBTZUSD"]) != 1 {
		t.Fatalf("reloaded market should be processed, got %+v", adapter.submitted)
	}
}

func TestSchedulerCycle_BalanceErrorAborts(t *testing.T) {
	adapter := newFakeAdapter()
	adapter.balanceErr = errors.New("EService:Unavailable")
	s, j := newTestScheduler(t, testConfig(buyOnly("XETHZUSD", 50)), adapter, nil)

	if err := s.Cycle(context.Background()); err == nil {
		t.Fatalf("expected cycle to abort")
	}
	if len(adapter.submitted) != 0 {
		t.Fatalf("aborted cycle must not submit orders")
	}
	if len(j.cycles) != 1 || j.cycles[0].Aborted == "" {
		t.Fatalf("expected aborted cycle payload, got %+v", j.cycles)
	}
}

func TestSchedulerCycle_PanicIsolatedToMarket(t *testing.T) {
	adapter := newFakeAdapter()
	adapter.panicPair = "XETHZUSD"
	s, j := newTestScheduler(t, testConfig(buyOnly("XETHZUSD", 50), buyOnly("XXBTZUSD", 100)), adapter, nil)

	if err := s.Cycle(context.Background()); err != nil {
		t.Fatalf("Cycle returned error: %v", err)
	}
	if len(adapter.submitted["XXBTZUSD"]) != 1 {
		t.Fatalf("second market should still be placed, got %+v", adapter.submitted)
	}
	// 第一个市场未下单，第二个市场可使用全部 1000 ZUSD。
	if v := adapter.submitted["XXBTZUSD"][0].Volume; !approxEqual(v, 1) {
		t.Fatalf("expected full volume 1, got %f", v)
	}
	if j.cycles[0].Failed != 1 || j.cycles[0].Placed != 1 {
		t.Fatalf("unexpected cycle payload %+v", j.cycles[0])
	}
}

func TestSchedulerCycle_CancelReleasesEncumbrance(t *testing.T) {
	adapter := newFakeAdapter()
	adapter.caps = exchange.Capabilities{TimeInForce: ladder.TimeInForceGTC, NeedsCancel: true, BatchSize: 10, OpenOrdersPerPair: true}
	adapter.openOrders = []exchange.OpenOrder{
		{ID: "old-1", Pair: "XETHZUSD", Side: market.SideBuy, Remaining: 5, LimitPrice: 100},
	}
	s, _ := newTestScheduler(t, testConfig(buyOnly("XETHZUSD", 50)), adapter, nil)

	if err := s.Cycle(context.Background()); err != nil {
		t.Fatalf("Cycle returned error: %v", err)
	}
	if len(adapter.cancelled) != 1 || adapter.cancelled[0] != "XETHZUSD" {
		t.Fatalf("expected cancel for XETHZUSD, got %+v", adapter.cancelled)
	}
	orders := adapter.submitted["XETHZUSD"]
	if len(orders) != 1 || !approxEqual(orders[0].Volume, 5) {
		t.Fatalf("cancelled order should release 500 ZUSD, got %+v", orders)
	}
	if orders[0].TimeInForce != ladder.TimeInForceGTC {
		t.Fatalf("expected GTC orders, got %s", orders[0].TimeInForce)
	}
}

func TestSchedulerCycle_OpenOrdersEncumberBeforeBuild(t *testing.T) {
	adapter := newFakeAdapter()
	adapter.openOrders = []exchange.OpenOrder{
		{ID: "old-1", Pair: "ETHUSD", Side: market.SideBuy, Remaining: 5, LimitPrice: 100},
		{ID: "stray", Pair: "DOGEUSD", Side: market.SideBuy, Remaining: 1, LimitPrice: 1},
	}
	s, _ := newTestScheduler(t, testConfig(buyOnly("XETHZUSD", 50)), adapter, nil)

	if err := s.Cycle(context.Background()); err != nil {
		t.Fatalf("Cycle returned error: %v", err)
	}
	orders := adapter.submitted["XETHZUSD"]
	if len(orders) != 1 || !approxEqual(orders[0].Volume, 2.5) {
		t.Fatalf("expected volume 2.5 from 500 unencumbered ZUSD, got %+v", orders)
	}
}

func TestSchedulerCycle_FetchesOHLCForGuards(t *testing.T) {
	adapter := newFakeAdapter()
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	adapter.candles = []market.OHLC{
		{Time: base, Open: 1, High: 2, Low: 1, Close: 2, VWAP: 1.5, Vol: 3, Count: 5},
		{Time: base.Add(15 * time.Minute), Open: 2, High: 3, Low: 2, Close: 3, VWAP: 2.5, Vol: 1, Count: 2},
		{Time: base.Add(30 * time.Minute), Open: 3, High: 4, Low: 3, Close: 4, VWAP: 3.5, Vol: 1, Count: 2},
	}
	m := buyOnly("XETHZUSD", 50)
	m.Min = map[string]float64{"ohlc_vol": 2, "ohlc_count": 4}
	s, j := newTestScheduler(t, testConfig(m), adapter, nil)

	if err := s.Cycle(context.Background()); err != nil {
		t.Fatalf("Cycle returned error: %v", err)
	}
	if len(adapter.ohlcLimits) != 1 || adapter.ohlcLimits[0] != 2 || adapter.ohlcSpans[0] != 15*time.Minute {
		t.Fatalf("unexpected OHLC request limits=%v spans=%v", adapter.ohlcLimits, adapter.ohlcSpans)
	}
	// 只合并最后两根K线：vol=2, count=4。
	if len(j.skips) != 0 || len(adapter.submitted["XETHZUSD"]) != 1 {
		t.Fatalf("guards should pass on the merged candle, skips=%+v", j.skips)
	}
}

func TestSchedulerCycle_BalanceSummarySkipsDust(t *testing.T) {
	adapter := newFakeAdapter()
	adapter.balances["XXDG"] = 0.00001
	s, j := newTestScheduler(t, testConfig(buyOnly("XETHZUSD", 50)), adapter, nil)

	if err := s.Cycle(context.Background()); err != nil {
		t.Fatalf("Cycle returned error: %v", err)
	}
	if len(j.balances) != 1 {
		t.Fatalf("expected one balance summary, got %d", len(j.balances))
	}
	summary := j.balances[0]
	if _, ok := summary["XXDG"]; ok {
		t.Fatalf("dust balance should be omitted: %+v", summary)
	}
	if bal, ok := summary["ZUSD"]; !ok || bal.Total != 1000 {
		t.Fatalf("expected ZUSD in summary, got %+v", summary)
	}
}

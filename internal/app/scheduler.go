package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"ladderbot/internal/config"
	"ladderbot/internal/exchange"
	"ladderbot/internal/execution"
	"ladderbot/internal/indicator"
	"ladderbot/internal/ladder"
	"ladderbot/internal/ledger"
	"ladderbot/internal/market"
	"ladderbot/internal/monitor"
)

// ConfigLoader 在每轮开始时重新读取配置。
type ConfigLoader func() (*config.Config, error)

type journal interface {
	RecordCycle(ctx context.Context, payload monitor.CyclePayload)
	RecordSkip(ctx context.Context, cycleID, pair string, side market.Side, reason error)
	RecordPlacement(ctx context.Context, cycleID string, side market.Side, orders []ladder.Order, result execution.Result)
	RecordBalances(ctx context.Context, cycleID string, balances map[string]ledger.Balance)
	RecordError(ctx context.Context, msg string, err error, ctxMap map[string]interface{})
}

// Scheduler 驱动单轮调度：刷新全局状态、逐个市场铺设阶梯、汇总余额。
type Scheduler struct {
	adapter    exchange.Adapter
	placer     execution.Placer
	journal    journal
	metrics    *monitor.Metrics
	volatility *indicator.Calculator
	loader     ConfigLoader
	logger     *zap.Logger

	cfg   *config.Config
	newID func() string
}

// SchedulerDeps 为调度器的依赖集合，Journal、Metrics、Loader 可为空。
type SchedulerDeps struct {
	Adapter exchange.Adapter
	Placer  execution.Placer
	Journal journal
	Metrics *monitor.Metrics
	Loader  ConfigLoader
	Logger  *zap.Logger
}

// NewScheduler 创建调度器。
func NewScheduler(cfg *config.Config, deps SchedulerDeps) (*Scheduler, error) {
	if cfg == nil {
		return nil, errors.New("app: 配置不能为空")
	}
	if deps.Adapter == nil {
		return nil, errors.New("app: 交易所适配器不能为空")
	}
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	placer := deps.Placer
	if placer == nil {
		placer = execution.NewGateway(deps.Adapter, logger.Named("gateway"))
	}
	j := deps.Journal
	if j == nil {
		j = nopJournal{}
	}

	return &Scheduler{
		adapter:    deps.Adapter,
		placer:     placer,
		journal:    j,
		metrics:    deps.Metrics,
		volatility: indicator.NewCalculator(indicator.DefaultPeriod),
		loader:     deps.Loader,
		logger:     logger,
		cfg:        cfg,
		newID:      func() string { return uuid.New().String() },
	}, nil
}

// Config 返回当前生效的配置。
func (s *Scheduler) Config() *config.Config {
	return s.cfg
}

type cycleStats struct {
	placed  int
	skipped int
	failed  int
}

type cycleState struct {
	id       string
	cfg      *config.Config
	logger   *zap.Logger
	caps     exchange.Capabilities
	engine   *ladder.Engine
	registry *market.Registry
	ledger   *ledger.Ledger

	totals     map[string]float64
	openOrders []exchange.OpenOrder
	placed     []ledger.Encumbrance
	stats      cycleStats
}

// Cycle 执行一轮调度。全局步骤失败时中止本轮并返回错误，单个市场失败只记录不中止。
func (s *Scheduler) Cycle(ctx context.Context) error {
	start := time.Now()

	if s.loader != nil {
		cfg, err := s.loader()
		if err != nil {
			s.logger.Error("重新加载配置失败，沿用上一份配置并跳过本轮", zap.Error(err))
			s.journal.RecordError(ctx, "重新加载配置失败", err, nil)
			s.metrics.ObserveCycle(time.Since(start), true)
			return fmt.Errorf("app: 重新加载配置失败: %w", err)
		}
		s.cfg = cfg
	}

	st := s.newCycleState()
	st.logger.Info("开始新一轮调度", zap.Int("markets", len(st.cfg.Trading.Markets)))

	if err := s.refresh(ctx, st, true); err != nil {
		return s.abort(ctx, st, start, "刷新交易对、余额或挂单失败", err)
	}

	for _, m := range st.cfg.Trading.Markets {
		if ctx.Err() != nil {
			break
		}
		outcome, err := s.safeProcessMarket(ctx, st, m)
		switch outcome {
		case monitor.OutcomePlaced:
			st.stats.placed++
		case monitor.OutcomeSkipped:
			st.stats.skipped++
		}
		if err != nil {
			st.stats.failed++
			outcome = monitor.OutcomeFailed
			st.logger.Error("市场处理失败", zap.String("pair", m.Pair), zap.Error(err))
			s.journal.RecordError(ctx, "市场处理失败", err, map[string]interface{}{"pair": m.Pair, "cycle_id": st.id})
		}
		s.metrics.MarketOutcome(m.Pair, outcome)
	}

	if err := ctx.Err(); err != nil {
		return err
	}

	if err := s.refresh(ctx, st, false); err != nil {
		return s.abort(ctx, st, start, "轮末刷新余额失败", err)
	}
	s.reportSummary(ctx, st)

	elapsed := time.Since(start)
	s.metrics.ObserveCycle(elapsed, false)
	s.journal.RecordCycle(ctx, monitor.CyclePayload{
		CycleID:  st.id,
		Markets:  len(st.cfg.Trading.Markets),
		Placed:   st.stats.placed,
		Skipped:  st.stats.skipped,
		Failed:   st.stats.failed,
		Duration: elapsed,
	})
	st.logger.Info("本轮调度完成",
		zap.Int("placed", st.stats.placed),
		zap.Int("skipped", st.stats.skipped),
		zap.Int("failed", st.stats.failed),
		zap.Duration("elapsed", elapsed),
	)
	return nil
}

func (s *Scheduler) newCycleState() *cycleState {
	id := s.newID()
	caps := s.adapter.Capabilities()
	logger := s.logger.With(zap.String("cycle_id", id))
	return &cycleState{
		id:     id,
		cfg:    s.cfg,
		logger: logger,
		caps:   caps,
		engine: ladder.NewEngine(ladder.Options{
			TimeInForce:   caps.TimeInForce,
			OrderLifespan: s.cfg.Trading.OrderLifespan,
		}, logger.Named("ladder")),
		ledger: ledger.New(logger.Named("ledger")),
	}
}

func (s *Scheduler) abort(ctx context.Context, st *cycleState, start time.Time, msg string, err error) error {
	st.logger.Error(msg, zap.Error(err))
	s.journal.RecordError(ctx, msg, err, map[string]interface{}{"cycle_id": st.id})
	s.metrics.ObserveCycle(time.Since(start), true)
	s.journal.RecordCycle(ctx, monitor.CyclePayload{
		CycleID:  st.id,
		Markets:  len(st.cfg.Trading.Markets),
		Placed:   st.stats.placed,
		Skipped:  st.stats.skipped,
		Failed:   st.stats.failed,
		Duration: time.Since(start),
		Aborted:  err.Error(),
	})
	return fmt.Errorf("app: %s: %w", msg, err)
}

// refresh 并发拉取交易对与余额，随后按交易对查询挂单，并串行写入账本。
func (s *Scheduler) refresh(ctx context.Context, st *cycleState, withPairs bool) error {
	var (
		pairs    []market.AssetPair
		balances map[string]float64
	)

	group, groupCtx := errgroup.WithContext(ctx)
	if withPairs {
		group.Go(func() error {
			data, err := s.adapter.FetchAssetPairs(groupCtx)
			if err != nil {
				return err
			}
			pairs = data
			return nil
		})
	}
	group.Go(func() error {
		data, err := s.adapter.FetchBalances(groupCtx)
		if err != nil {
			return err
		}
		balances = data
		return nil
	})
	if err := group.Wait(); err != nil {
		return err
	}

	if withPairs {
		st.registry = market.NewRegistry(pairs)
		st.logger.Debug("交易对已刷新", zap.Int("count", st.registry.Len()))
	}

	openOrders, err := s.adapter.FetchOpenOrders(ctx, s.configuredPairIDs(st))
	if err != nil {
		return err
	}

	st.totals = balances
	st.openOrders = openOrders
	st.placed = nil
	s.rebuildLedger(st)

	for _, o := range openOrders {
		st.logger.Debug("在途挂单",
			zap.Time("opened_at", o.OpenedAt),
			zap.String("order_id", o.ID),
			zap.String("description", o.Description),
		)
	}
	return nil
}

func (s *Scheduler) configuredPairIDs(st *cycleState) []string {
	ids := make([]string, 0, len(st.cfg.Trading.Markets))
	for _, m := range st.cfg.Trading.Markets {
		pair, err := st.registry.Resolve(m.Pair)
		if err != nil {
			st.logger.Warn("配置的交易对不存在，跳过挂单查询", zap.String("pair", m.Pair))
			continue
		}
		ids = append(ids, pair.ID)
	}
	return ids
}

// rebuildLedger 以轮初余额重建账本，并重新计入在途挂单与本轮已提交的订单。
func (s *Scheduler) rebuildLedger(st *cycleState) {
	st.ledger.Refresh(st.totals)

	for _, o := range st.openOrders {
		enc := ledger.Encumbrance{Pair: o.Pair, Side: o.Side, Remaining: o.Remaining, Price: o.LimitPrice}
		if err := st.ledger.EncumberOrder(st.registry, enc); err != nil {
			st.logger.Warn("挂单无法计入账本", zap.String("order_id", o.ID), zap.String("pair", o.Pair), zap.Error(err))
		}
	}
	for _, enc := range st.placed {
		if err := st.ledger.EncumberOrder(st.registry, enc); err != nil {
			st.logger.Warn("新订单无法计入账本", zap.String("pair", enc.Pair), zap.Error(err))
		}
	}
}

func (s *Scheduler) safeProcessMarket(ctx context.Context, st *cycleState, m config.MarketConfig) (outcome string, err error) {
	defer func() {
		if r := recover(); r != nil {
			st.logger.Error("市场处理发生 panic",
				zap.String("pair", m.Pair),
				zap.Any("panic", r),
				zap.Stack("stack"),
			)
			outcome = ""
			err = fmt.Errorf("app: 处理 %s 时发生 panic: %v", m.Pair, r)
		}
	}()
	return s.processMarket(ctx, st, m)
}

func (s *Scheduler) processMarket(ctx context.Context, st *cycleState, m config.MarketConfig) (string, error) {
	pair, err := st.registry.Resolve(m.Pair)
	if err != nil {
		return "", err
	}
	logger := st.logger.With(zap.String("pair", pair.ID))

	ticker, err := s.snapshot(ctx, st, m, pair)
	if err != nil {
		return "", err
	}
	logger.Info("行情快照", zap.String("ticker", ticker.Describe()))
	if ticker.OHLC != nil {
		logger.Info("合并K线", zap.String("ohlc", ticker.OHLC.Describe()), zap.Float64("natr", ticker.NATR))
	}

	if err := st.engine.CheckGuards(pair.ID, m, ticker); err != nil {
		if ladder.IsSkippable(err) {
			logger.Warn("行情未达阈值，跳过该市场", zap.Error(err))
			s.journal.RecordSkip(ctx, st.id, pair.ID, "", err)
			return monitor.OutcomeSkipped, nil
		}
		return "", err
	}

	// 仅在确定要重新挂单后撤单，跳过的市场保留原有挂单
	if st.caps.NeedsCancel {
		if err := s.adapter.CancelAllOpen(ctx, pair); err != nil {
			return "", err
		}
		s.releasePair(st, pair.ID)
	}

	var (
		placedAny bool
		failures  error
	)
	for _, side := range []market.Side{market.SideSell, market.SideBuy} {
		orders, err := st.engine.Build(side, m, pair, ticker, st.ledger)
		if err != nil {
			if ladder.IsSkippable(err) {
				logger.Warn("跳过单边阶梯", zap.String("side", string(side)), zap.Error(err))
				s.journal.RecordSkip(ctx, st.id, pair.ID, side, err)
				continue
			}
			return "", err
		}
		if len(orders) == 0 {
			continue
		}

		for _, order := range orders {
			summary := ladder.Summarize(pair, order, st.cfg.Trading.FeePercent)
			logger.Info("阶梯订单", append([]zap.Field{zap.Int("rung", order.Rung)}, summary.Fields()...)...)
		}

		result, err := s.placer.Place(ctx, pair, orders)
		s.notePlaced(st, pair, orders)
		s.journal.RecordPlacement(ctx, st.id, side, orders, result)
		s.metrics.Orders(pair.ID, string(side), result.Placed, len(orders)-result.Placed)
		if result.Placed > 0 {
			placedAny = true
		}
		if err != nil {
			var placementErr *execution.OrderPlacementError
			if !errors.As(err, &placementErr) {
				return "", err
			}
			failures = err
		}
	}

	if failures != nil {
		return "", failures
	}
	if !placedAny {
		return monitor.OutcomeSkipped, nil
	}
	return monitor.OutcomePlaced, nil
}

// snapshot 获取行情，阈值引用K线字段时补充合并K线与 NATR。
func (s *Scheduler) snapshot(ctx context.Context, st *cycleState, m config.MarketConfig, pair market.AssetPair) (market.Ticker, error) {
	ticker, err := s.adapter.FetchTicker(ctx, pair)
	if err != nil {
		return market.Ticker{}, err
	}
	if !market.NeedsOHLC(m.Min) {
		return ticker, nil
	}

	_, wantNATR := m.Min["natr"]
	limit := 2
	if wantNATR {
		limit = s.volatility.MinCandles() * 2
	}

	candles, err := s.adapter.FetchOHLC(ctx, pair, st.cfg.Trading.OrderLifespan, limit)
	if err != nil {
		return market.Ticker{}, err
	}

	tail := candles
	if len(tail) > 2 {
		tail = tail[len(tail)-2:]
	}
	if merged, ok := market.MergeAll(tail); ok {
		ticker.OHLC = &merged
	}

	if wantNATR {
		result, err := s.volatility.Compute(pair.ID, candles)
		if err != nil {
			return market.Ticker{}, err
		}
		ticker.NATR = result.NATR
	}
	return ticker, nil
}

// notePlaced 将本轮提交的订单计入账本，提交失败的订单同样计入，避免后续市场重复使用同一余额。
func (s *Scheduler) notePlaced(st *cycleState, pair market.AssetPair, orders []ladder.Order) {
	for _, order := range orders {
		enc := ledger.Encumbrance{Pair: pair.ID, Side: order.Side, Remaining: order.Volume, Price: order.Price}
		st.placed = append(st.placed, enc)
		if err := st.ledger.EncumberOrder(st.registry, enc); err != nil {
			st.logger.Warn("新订单无法计入账本", zap.String("pair", pair.ID), zap.Error(err))
		}
	}
}

// releasePair 撤单后从账本中释放该交易对旧挂单的占用。
func (s *Scheduler) releasePair(st *cycleState, pairID string) {
	remaining := st.openOrders[:0]
	for _, o := range st.openOrders {
		if p, err := st.registry.Resolve(o.Pair); err == nil && p.ID == pairID {
			continue
		}
		remaining = append(remaining, o)
	}
	st.openOrders = remaining
	s.rebuildLedger(st)
}

// reportSummary 输出轮末余额并更新余额指标，忽略总额过小的资产。
func (s *Scheduler) reportSummary(ctx context.Context, st *cycleState) {
	minTotal := st.cfg.Scheduler.SummaryMinTotal
	reported := make(map[string]ledger.Balance)
	for _, asset := range st.ledger.Assets() {
		bal, err := st.ledger.Get(asset)
		if err != nil || bal.Total < minTotal {
			continue
		}
		pct := 0.0
		if bal.Total != 0 {
			pct = bal.Unencumbered / bal.Total * 100
		}
		st.logger.Info("资产余额",
			zap.String("asset", asset),
			zap.String("balance", fmt.Sprintf("%.8f (%.8f, %.2f%%)", bal.Total, bal.Unencumbered, pct)),
		)
		s.metrics.SetBalance(asset, bal)
		reported[asset] = bal
	}
	s.journal.RecordBalances(ctx, st.id, reported)
}

type nopJournal struct{}

func (nopJournal) RecordCycle(context.Context, monitor.CyclePayload) {}

func (nopJournal) RecordSkip(context.Context, string, string, market.Side, error) {}

func (nopJournal) RecordPlacement(context.Context, string, market.Side, []ladder.Order, execution.Result) {
}

func (nopJournal) RecordBalances(context.Context, string, map[string]ledger.Balance) {}

func (nopJournal) RecordError(context.Context, string, error, map[string]interface{}) {}

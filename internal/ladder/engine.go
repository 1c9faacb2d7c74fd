package ladder

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"time"

	"go.uber.org/zap"

	"ladderbot/internal/config"
	"ladderbot/internal/ledger"
	"ladderbot/internal/market"
)

// BalanceReader 为引擎读取未占用余额的最小接口。
type BalanceReader interface {
	Get(asset string) (ledger.Balance, error)
}

// Options 控制引擎生成订单的公共属性。
type Options struct {
	TimeInForce   string
	OrderLifespan time.Duration
}

// Engine 根据市场配置、行情快照与可用余额计算阶梯挂单。
type Engine struct {
	opts   Options
	logger *zap.Logger
}

// NewEngine 创建阶梯引擎。
func NewEngine(opts Options, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.TimeInForce == "" {
		opts.TimeInForce = TimeInForceGTD
	}
	return &Engine{
		opts:   opts,
		logger: logger,
	}
}

// VolumeTotal 返回 Σ_{i=1..n} sqrt(i)。
func VolumeTotal(n int) float64 {
	total := 0.0
	for i := 1; i <= n; i++ {
		total += math.Sqrt(float64(i))
	}
	return total
}

// BumpPercent 返回第 n 档相对参考价的偏移百分比 a·n²+c。
func BumpPercent(a, c float64, n int) float64 {
	return a*float64(n*n) + c
}

// SellReference 返回卖单参考价。
func SellReference(t market.Ticker, mode string) float64 {
	if mode == config.ReferenceMinimal {
		return t.High
	}
	return maxPositive(t.Ask, t.VWAP, t.High)
}

// BuyReference 返回买单参考价。
func BuyReference(t market.Ticker, mode string) float64 {
	if mode == config.ReferenceMinimal {
		return t.Low
	}
	return minPositive(t.Bid, t.VWAP, t.Low)
}

// CheckGuards 校验行情是否满足市场配置的全部最小阈值。
func (e *Engine) CheckGuards(pair string, m config.MarketConfig, t market.Ticker) error {
	names := make([]string, 0, len(m.Min))
	for name := range m.Min {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		minVal := m.Min[name]
		val, ok := t.Field(name)
		if !ok {
			return fmt.Errorf("ladder: %s 行情缺少阈值字段 %q", pair, name)
		}
		if val < minVal {
			return &GuardThresholdNotMetError{Pair: pair, Field: name, Value: val, Min: minVal}
		}
	}
	return nil
}

// Build 计算指定方向的阶梯挂单，order_count 为 0 时返回空。
func (e *Engine) Build(side market.Side, m config.MarketConfig, pair market.AssetPair, t market.Ticker, balances BalanceReader) ([]Order, error) {
	switch side {
	case market.SideSell:
		return e.BuildSell(m, pair, t, balances)
	case market.SideBuy:
		return e.BuildBuy(m, pair, t, balances)
	default:
		return nil, fmt.Errorf("ladder: 未知方向 %q", side)
	}
}

// BuildSell 以基础资产余额铺设卖单阶梯，价格随档位二次上移。
func (e *Engine) BuildSell(m config.MarketConfig, pair market.AssetPair, t market.Ticker, balances BalanceReader) ([]Order, error) {
	cfg := m.Sell
	if cfg.OrderCount <= 0 {
		return nil, nil
	}

	logger := e.logger.With(zap.String("pair", pair.ID), zap.String("side", string(market.SideSell)))

	bal, err := balances.Get(pair.Base)
	if err != nil {
		return nil, err
	}
	if bal.Unencumbered < cfg.MinBalance {
		return nil, &InsufficientBalanceError{
			Pair:      pair.ID,
			Side:      market.SideSell,
			Asset:     pair.Base,
			Available: bal.Unencumbered,
			Required:  cfg.MinBalance,
		}
	}

	reference := SellReference(t, m.Reference)
	if reference <= 0 || math.IsInf(reference, 0) || math.IsNaN(reference) {
		return nil, fmt.Errorf("ladder: %s 卖单参考价无效: %f", pair.ID, reference)
	}

	volTotal := VolumeTotal(cfg.OrderCount)
	volMul := bal.Unencumbered * cfg.VolPercent / 100 / volTotal

	logger.Info("计算卖单阶梯",
		zap.Int("order_count", cfg.OrderCount),
		zap.Float64("vol_total", volTotal),
		zap.Float64("balance", bal.Total),
		zap.Float64("unencumbered", bal.Unencumbered),
		zap.String("asset", pair.Base),
		zap.Float64("vol_percent", cfg.VolPercent),
		zap.Float64("vol_mul", volMul),
		zap.Float64("reference", reference),
	)

	orders := make([]Order, 0, cfg.OrderCount)
	for n := 1; n <= cfg.OrderCount; n++ {
		bump := BumpPercent(cfg.PcntBumpA, cfg.PcntBumpC, n)
		price := pair.RoundPrice(reference * (1 + bump/100))
		closePrice := pair.RoundPrice(price * (1 - cfg.RebuyBumpPercent/100))
		volume := pair.RoundVolume(volMul * math.Sqrt(float64(n)))

		if volume <= 0 {
			logger.Warn("跳过数量为0的卖单", zap.Int("rung", n), zap.Float64("price", price))
			continue
		}

		orders = append(orders, e.newOrder(pair, n, market.SideSell, price, volume, closePrice))
	}

	return orders, nil
}

// BuildBuy 以计价资产余额（或固定金额）铺设买单阶梯，价格随档位二次下移。
func (e *Engine) BuildBuy(m config.MarketConfig, pair market.AssetPair, t market.Ticker, balances BalanceReader) ([]Order, error) {
	cfg := m.Buy
	if cfg.OrderCount <= 0 {
		return nil, nil
	}

	logger := e.logger.With(zap.String("pair", pair.ID), zap.String("side", string(market.SideBuy)))

	bal, err := balances.Get(pair.Quote)
	if err != nil {
		return nil, err
	}
	// 买单默认不设余额下限，仅在显式配置 min_balance 时校验。
	if cfg.MinBalance > 0 && bal.Unencumbered < cfg.MinBalance {
		return nil, &InsufficientBalanceError{
			Pair:      pair.ID,
			Side:      market.SideBuy,
			Asset:     pair.Quote,
			Available: bal.Unencumbered,
			Required:  cfg.MinBalance,
		}
	}

	reference := BuyReference(t, m.Reference)
	if reference <= 0 || math.IsInf(reference, 0) || math.IsNaN(reference) {
		return nil, fmt.Errorf("ladder: %s 买单参考价无效: %f", pair.ID, reference)
	}

	var baseAmount float64
	if cfg.Amount > 0 {
		if cfg.Amount > bal.Unencumbered {
			return nil, &InsufficientBalanceError{
				Pair:      pair.ID,
				Side:      market.SideBuy,
				Asset:     pair.Quote,
				Available: bal.Unencumbered,
				Required:  cfg.Amount,
			}
		}
		baseAmount = cfg.Amount / reference
	} else {
		conversion := t.Bid
		if conversion <= 0 {
			conversion = reference
		}
		baseAmount = bal.Unencumbered / conversion * cfg.VolPercent / 100
	}

	volTotal := VolumeTotal(cfg.OrderCount)
	volMul := baseAmount / volTotal

	logger.Info("计算买单阶梯",
		zap.Int("order_count", cfg.OrderCount),
		zap.Float64("vol_total", volTotal),
		zap.Float64("balance", bal.Total),
		zap.Float64("unencumbered", bal.Unencumbered),
		zap.String("asset", pair.Quote),
		zap.Float64("amount", cfg.Amount),
		zap.Float64("vol_percent", cfg.VolPercent),
		zap.Float64("amount_base", baseAmount),
		zap.Float64("vol_mul", volMul),
		zap.Float64("reference", reference),
	)

	orders := make([]Order, 0, cfg.OrderCount)
	for n := 1; n <= cfg.OrderCount; n++ {
		bump := BumpPercent(cfg.PcntBumpA, cfg.PcntBumpC, n)
		price := pair.RoundPrice(reference * (1 - bump/100))
		if price <= 0 {
			logger.Warn("跳过价格非正的买单", zap.Int("rung", n), zap.Float64("price", price))
			continue
		}
		closePrice := pair.RoundPrice(price * (1 + cfg.ResellBumpPercent/100))
		volume := pair.RoundVolume(volMul * math.Sqrt(float64(n)))

		if volume <= 0 {
			logger.Warn("跳过数量为0的买单", zap.Int("rung", n), zap.Float64("price", price))
			continue
		}

		orders = append(orders, e.newOrder(pair, n, market.SideBuy, price, volume, closePrice))
	}

	return orders, nil
}

func (e *Engine) newOrder(pair market.AssetPair, rung int, side market.Side, price, volume, closePrice float64) Order {
	return Order{
		Pair:        pair.ID,
		Rung:        rung,
		Side:        side,
		OrderType:   OrderTypeLimit,
		Price:       price,
		Volume:      volume,
		TimeInForce: e.opts.TimeInForce,
		Expire:      e.opts.OrderLifespan,
		Close: &CloseOrder{
			Side:      side.Opposite(),
			OrderType: OrderTypeLimit,
			Price:     closePrice,
		},
	}
}

// IsSkippable 判断错误是否属于预期的运行状态（阈值未达或余额不足），此类错误仅跳过当前市场或方向。
func IsSkippable(err error) bool {
	var guard *GuardThresholdNotMetError
	var insufficient *InsufficientBalanceError
	return errors.As(err, &guard) || errors.As(err, &insufficient)
}

func maxPositive(values ...float64) float64 {
	result := 0.0
	for _, v := range values {
		if v > 0 && !math.IsInf(v, 0) && v > result {
			result = v
		}
	}
	return result
}

func minPositive(values ...float64) float64 {
	result := 0.0
	for _, v := range values {
		if v <= 0 || math.IsInf(v, 0) || math.IsNaN(v) {
			continue
		}
		if result == 0 || v < result {
			result = v
		}
	}
	return result
}

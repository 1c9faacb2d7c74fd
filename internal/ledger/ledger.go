package ledger

import (
	"fmt"
	"sort"

	"go.uber.org/zap"

	"ladderbot/internal/market"
)

// UnknownAssetError 表示账本中不存在该资产。
type UnknownAssetError struct {
	Asset string
}

func (e *UnknownAssetError) Error() string {
	return fmt.Sprintf("ledger: 未知资产 %q", e.Asset)
}

// Balance 记录单个资产的总额与未占用余额。
type Balance struct {
	Total        float64 `json:"total"`
	Unencumbered float64 `json:"unencumbered"`
}

// Encumbrance 描述一笔挂单占用的资产与数量。
type Encumbrance struct {
	Pair      string
	Side      market.Side
	Remaining float64
	Price     float64
}

// Ledger 维护每轮的余额账本。
// 每轮由调度器单独创建并串行修改，不做并发保护。
type Ledger struct {
	balances map[string]*Balance
	logger   *zap.Logger
}

// New 创建空账本。
func New(logger *zap.Logger) *Ledger {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Ledger{
		balances: make(map[string]*Balance),
		logger:   logger,
	}
}

// Refresh 以交易所返回的总额重置账本，未占用余额等于总额。
func (l *Ledger) Refresh(totals map[string]float64) {
	l.balances = make(map[string]*Balance, len(totals))
	for asset, total := range totals {
		l.balances[asset] = &Balance{Total: total, Unencumbered: total}
	}
}

// Encumber 从资产的未占用余额中扣减 amount。
// 扣减超过剩余额度时余额饱和为 0，并记录超出部分。
func (l *Ledger) Encumber(asset string, amount float64) error {
	bal, ok := l.balances[asset]
	if !ok {
		return &UnknownAssetError{Asset: asset}
	}

	next := bal.Unencumbered - amount
	if next < 0 {
		l.logger.Warn("挂单占用超过可用余额，已按 0 处理",
			zap.String("asset", asset),
			zap.Float64("amount", amount),
			zap.Float64("unencumbered", bal.Unencumbered),
			zap.Float64("overshoot", -next),
		)
		next = 0
	}
	bal.Unencumbered = next

	l.logger.Debug("占用余额",
		zap.String("asset", asset),
		zap.Float64("amount", amount),
		zap.Float64("unencumbered", bal.Unencumbered),
	)
	return nil
}

// EncumberOrder 按挂单方向折算占用：买单占用计价资产 remaining×price，卖单占用基础资产 remaining。
func (l *Ledger) EncumberOrder(registry *market.Registry, order Encumbrance) error {
	pair, err := registry.Resolve(order.Pair)
	if err != nil {
		return err
	}

	side, _ := market.ParseSide(string(order.Side))
	switch side {
	case market.SideBuy:
		amount := order.Remaining * order.Price
		l.logger.Debug("买单占用计价资产",
			zap.String("pair", pair.ID),
			zap.String("asset", pair.Quote),
			zap.Float64("amount", amount),
		)
		return l.Encumber(pair.Quote, amount)
	case market.SideSell:
		l.logger.Debug("卖单占用基础资产",
			zap.String("pair", pair.ID),
			zap.String("asset", pair.Base),
			zap.Float64("amount", order.Remaining),
		)
		return l.Encumber(pair.Base, order.Remaining)
	default:
		return fmt.Errorf("ledger: 未知挂单方向 %q", order.Side)
	}
}

// Get 返回资产余额。
func (l *Ledger) Get(asset string) (Balance, error) {
	bal, ok := l.balances[asset]
	if !ok {
		return Balance{}, &UnknownAssetError{Asset: asset}
	}
	return *bal, nil
}

// Assets 返回排序后的资产列表。
func (l *Ledger) Assets() []string {
	assets := make([]string, 0, len(l.balances))
	for asset := range l.balances {
		assets = append(assets, asset)
	}
	sort.Strings(assets)
	return assets
}

// Snapshot 返回账本的只读副本。
func (l *Ledger) Snapshot() map[string]Balance {
	out := make(map[string]Balance, len(l.balances))
	for asset, bal := range l.balances {
		out[asset] = *bal
	}
	return out
}

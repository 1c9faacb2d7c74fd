package exchange

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"ladderbot/internal/ladder"
	"ladderbot/internal/market"
)

type paperOrder struct {
	order     OpenOrder
	expiresAt time.Time
}

// Paper 为模拟盘适配器：行情与余额读取真实交易所，订单仅保存在内存中。
type Paper struct {
	source Adapter
	logger *zap.Logger
	now    func() time.Time

	mu     sync.Mutex
	orders map[string][]paperOrder
}

// NewPaper 包装只读数据源创建模拟适配器。
func NewPaper(source Adapter, logger *zap.Logger) *Paper {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Paper{
		source: source,
		logger: logger.With(zap.String("exchange", "paper")),
		now:    func() time.Time { return time.Now().UTC() },
		orders: make(map[string][]paperOrder),
	}
}

// Name 返回适配器名称。
func (p *Paper) Name() string {
	return "paper"
}

// Capabilities 沿用数据源的能力描述。
func (p *Paper) Capabilities() Capabilities {
	return p.source.Capabilities()
}

// FetchAssetPairs 透传至数据源。
func (p *Paper) FetchAssetPairs(ctx context.Context) ([]market.AssetPair, error) {
	return p.source.FetchAssetPairs(ctx)
}

// FetchBalances 透传至数据源。
func (p *Paper) FetchBalances(ctx context.Context) (map[string]float64, error) {
	return p.source.FetchBalances(ctx)
}

// FetchOpenOrders 合并交易所挂单与尚未到期的模拟挂单。
func (p *Paper) FetchOpenOrders(ctx context.Context, pairs []string) ([]OpenOrder, error) {
	orders, err := p.source.FetchOpenOrders(ctx, pairs)
	if err != nil {
		return nil, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	now := p.now()
	keys := make([]string, 0, len(p.orders))
	for key := range p.orders {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	for _, key := range keys {
		live := p.orders[key][:0]
		for _, item := range p.orders[key] {
			if !item.expiresAt.IsZero() && !now.Before(item.expiresAt) {
				continue
			}
			live = append(live, item)
			orders = append(orders, item.order)
		}
		if len(live) == 0 {
			delete(p.orders, key)
			continue
		}
		p.orders[key] = live
	}
	return orders, nil
}

// FetchTicker 透传至数据源。
func (p *Paper) FetchTicker(ctx context.Context, pair market.AssetPair) (market.Ticker, error) {
	return p.source.FetchTicker(ctx, pair)
}

// FetchOHLC 透传至数据源。
func (p *Paper) FetchOHLC(ctx context.Context, pair market.AssetPair, interval time.Duration, limit int) ([]market.OHLC, error) {
	return p.source.FetchOHLC(ctx, pair, interval, limit)
}

// SubmitOrders 记录模拟挂单并分配订单号。
func (p *Paper) SubmitOrders(ctx context.Context, pair market.AssetPair, orders []ladder.Order) (SubmitResult, error) {
	if err := ctx.Err(); err != nil {
		return SubmitResult{}, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	now := p.now()
	result := SubmitResult{IDs: make([]string, 0, len(orders))}
	for _, order := range orders {
		id := uuid.New().String()
		item := paperOrder{
			order: OpenOrder{
				ID:          id,
				Pair:        pair.ID,
				Side:        order.Side,
				Remaining:   order.Volume,
				LimitPrice:  order.Price,
				OpenedAt:    now,
				Description: string(order.Side) + " " + pair.FormatVolume(order.Volume) + " " + pair.ID + " @ limit " + pair.FormatPrice(order.Price),
			},
		}
		if order.TimeInForce == ladder.TimeInForceGTD && order.Expire > 0 {
			item.expiresAt = now.Add(order.Expire)
		}
		p.orders[pair.ID] = append(p.orders[pair.ID], item)
		result.IDs = append(result.IDs, id)

		p.logger.Info("模拟挂单",
			zap.String("pair", pair.ID),
			zap.String("side", string(order.Side)),
			zap.Int("rung", order.Rung),
			zap.String("price", pair.FormatPrice(order.Price)),
			zap.String("volume", pair.FormatVolume(order.Volume)),
			zap.String("order_id", id),
		)
	}
	return result, nil
}

// CancelAllOpen 清空交易对的模拟挂单。
func (p *Paper) CancelAllOpen(ctx context.Context, pair market.AssetPair) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.orders, pair.ID)
	return nil
}

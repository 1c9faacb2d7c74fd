package exchange

import (
	"context"
	"fmt"
	"time"

	"ladderbot/internal/ladder"
	"ladderbot/internal/market"
)

// Capabilities 描述交易所在下单方式上的差异，由调度器与网关按数据处理。
type Capabilities struct {
	// TimeInForce 为开仓单的有效期类型（GTD 或 GTC）。
	TimeInForce string
	// NeedsCancel 表示重新铺单前需要显式撤销旧挂单。
	NeedsCancel bool
	// NativeClose 表示平仓腿可随开仓单一起提交。
	NativeClose bool
	// BatchSize 为单次提交的最大订单数。
	BatchSize int
	// OpenOrdersPerPair 表示挂单列表需要逐个交易对查询。
	OpenOrdersPerPair bool
}

// OpenOrder 为交易所返回的在途挂单。
type OpenOrder struct {
	ID          string
	Pair        string
	Side        market.Side
	Remaining   float64
	LimitPrice  float64
	OpenedAt    time.Time
	Description string
}

// OrderError 记录单笔订单提交失败的原因。
type OrderError struct {
	Rung int
	Side market.Side
	Leg  string
	Err  error
}

func (e *OrderError) Error() string {
	return fmt.Sprintf("exchange: %s 第%d档%s提交失败: %v", e.Side, e.Rung, e.Leg, e.Err)
}

func (e *OrderError) Unwrap() error {
	return e.Err
}

// SubmitResult 为一次批量提交的结果。
type SubmitResult struct {
	IDs    []string
	Failed []error
}

// Placed 返回成功提交的开仓单数量。
func (r SubmitResult) Placed() int {
	return len(r.IDs)
}

// Adapter 抽象交易所访问，实现包括 kraken、gate 以及模拟盘。
type Adapter interface {
	Name() string
	Capabilities() Capabilities
	FetchAssetPairs(ctx context.Context) ([]market.AssetPair, error)
	FetchBalances(ctx context.Context) (map[string]float64, error)
	FetchOpenOrders(ctx context.Context, pairs []string) ([]OpenOrder, error)
	FetchTicker(ctx context.Context, pair market.AssetPair) (market.Ticker, error)
	FetchOHLC(ctx context.Context, pair market.AssetPair, interval time.Duration, limit int) ([]market.OHLC, error)
	SubmitOrders(ctx context.Context, pair market.AssetPair, orders []ladder.Order) (SubmitResult, error)
	CancelAllOpen(ctx context.Context, pair market.AssetPair) error
}

package execution

import (
	"context"

	"ladderbot/internal/ladder"
	"ladderbot/internal/market"
)

// Placer 抽象下单网关，便于调度器替换为测试实现。
type Placer interface {
	Place(ctx context.Context, pair market.AssetPair, orders []ladder.Order) (Result, error)
}

var _ Placer = (*Gateway)(nil)

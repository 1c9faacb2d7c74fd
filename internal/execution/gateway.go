package execution

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"ladderbot/internal/exchange"
	"ladderbot/internal/ladder"
	"ladderbot/internal/market"
)

type orderSubmitter interface {
	Capabilities() exchange.Capabilities
	SubmitOrders(ctx context.Context, pair market.AssetPair, orders []ladder.Order) (exchange.SubmitResult, error)
}

// Gateway 将阶梯订单按批次提交至交易所并汇总结果。
type Gateway struct {
	client orderSubmitter
	logger *zap.Logger
}

// NewGateway 创建下单网关。
func NewGateway(client orderSubmitter, logger *zap.Logger) *Gateway {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Gateway{
		client: client,
		logger: logger,
	}
}

// Place 分批提交订单，任一订单失败时返回 OrderPlacementError，已提交的订单不会回滚。
func (g *Gateway) Place(ctx context.Context, pair market.AssetPair, orders []ladder.Order) (Result, error) {
	result := Result{
		Pair:          pair.ID,
		Expected:      len(orders),
		ExecutionTime: time.Now().UTC(),
	}
	if len(orders) == 0 {
		return result, nil
	}

	batch := g.client.Capabilities().BatchSize
	if batch <= 0 {
		batch = len(orders)
	}

	var errs error
	for start := 0; start < len(orders); start += batch {
		end := start + batch
		if end > len(orders) {
			end = len(orders)
		}
		chunk := orders[start:end]

		submitted, err := g.client.SubmitOrders(ctx, pair, chunk)
		result.IDs = append(result.IDs, submitted.IDs...)
		for _, failed := range submitted.Failed {
			errs = multierr.Append(errs, failed)
		}
		if err != nil {
			errs = multierr.Append(errs, fmt.Errorf("提交第 %d-%d 笔订单中断: %w", start+1, end, err))
			break
		}
	}
	result.Placed = len(result.IDs)

	g.logger.Info("订单提交完成",
		zap.String("pair", pair.ID),
		zap.Int("placed", result.Placed),
		zap.Int("expected", result.Expected),
		zap.Strings("order_ids", result.IDs),
	)

	if result.Placed < result.Expected {
		g.logger.Warn("部分订单未能提交",
			zap.String("pair", pair.ID),
			zap.Int("placed", result.Placed),
			zap.Int("expected", result.Expected),
		)
	}

	if errs != nil {
		for _, err := range multierr.Errors(errs) {
			g.logger.Error("订单提交失败", zap.String("pair", pair.ID), zap.Error(err))
		}
		return result, &OrderPlacementError{
			Pair:     pair.ID,
			Expected: result.Expected,
			Placed:   result.Placed,
			Err:      errs,
		}
	}
	return result, nil
}

package exchange

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	ccxt "github.com/ccxt/ccxt/go/v4"
	"go.uber.org/zap"

	"ladderbot/internal/config"
	"ladderbot/internal/ladder"
	"ladderbot/internal/market"
)

const (
	legOpen  = "开仓"
	legClose = "平仓"
)

type marketClient interface {
	LoadMarkets(params ...interface{}) (map[string]ccxt.MarketInterface, error)
	FetchBalance(params ...interface{}) (ccxt.Balances, error)
	FetchTicker(symbol string, options ...ccxt.FetchTickerOptions) (ccxt.Ticker, error)
	FetchOHLCV(symbol string, options ...ccxt.FetchOHLCVOptions) ([]ccxt.OHLCV, error)
	FetchOpenOrders(options ...ccxt.FetchOpenOrdersOptions) ([]ccxt.Order, error)
}

type orderClient interface {
	CreateOrder(symbol string, typeVar string, side string, amount float64, options ...ccxt.CreateOrderOptions) (ccxt.Order, error)
	CreateOrders(orders []ccxt.OrderRequest, options ...ccxt.CreateOrdersOptions) ([]ccxt.Order, error)
	CancelAllOrders(options ...ccxt.CancelAllOrdersOptions) ([]ccxt.Order, error)
}

type exchangeClient interface {
	marketClient
	orderClient
}

// Client 基于 ccxt 访问交易所，所有请求经过节流，只读查询带重试。
type Client struct {
	cfg      config.ExchangeConfig
	profile  profile
	logger   *zap.Logger
	exchange exchangeClient
	throttle *Throttle

	marketsMu sync.Mutex
	symbols   map[string]string
}

// New 按配置创建交易所适配器，模拟盘或交易所不支持校验模式时返回模拟适配器。
func New(cfg config.ExchangeConfig, logger *zap.Logger) (Adapter, error) {
	client, err := NewClient(cfg, logger)
	if err != nil {
		return nil, err
	}
	if cfg.Credentials.Empty() {
		client.logger.Warn("未配置 API 密钥，余额与挂单查询将失败")
	}
	if cfg.Simulation || (cfg.ValidateOnly && !client.profile.nativeValidate) {
		return NewPaper(client, client.logger), nil
	}
	return client, nil
}

// NewClient 构造 ccxt 客户端。
func NewClient(cfg config.ExchangeConfig, logger *zap.Logger) (*Client, error) {
	prof, err := lookupProfile(cfg.Name)
	if err != nil {
		return nil, err
	}

	userConfig := map[string]interface{}{
		"enableRateLimit": true,
	}
	if cfg.Timeout > 0 {
		userConfig["timeout"] = cfg.Timeout.Milliseconds()
	}
	if cfg.Credentials.APIKey != "" {
		userConfig["apiKey"] = cfg.Credentials.APIKey
	}
	if cfg.Credentials.APISecret != "" {
		userConfig["secret"] = cfg.Credentials.APISecret
	}
	if cfg.Credentials.APIPass != "" {
		userConfig["password"] = cfg.Credentials.APIPass
	}

	return newClientWith(cfg, prof, prof.connect(userConfig, cfg.UseSandbox), logger), nil
}

func newClientWith(cfg config.ExchangeConfig, prof profile, ex exchangeClient, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.With(zap.String("exchange", prof.name))
	return &Client{
		cfg:      cfg,
		profile:  prof,
		logger:   logger,
		exchange: ex,
		throttle: NewThrottle(cfg.InterRequestDelay, logger),
		symbols:  make(map[string]string),
	}
}

// Name 返回交易所名称。
func (c *Client) Name() string {
	return c.profile.name
}

// Capabilities 返回交易所能力描述。
func (c *Client) Capabilities() Capabilities {
	return c.profile.caps
}

// FetchAssetPairs 加载全部现货交易对及精度。
func (c *Client) FetchAssetPairs(ctx context.Context) ([]market.AssetPair, error) {
	var raw map[string]ccxt.MarketInterface
	err := c.callWithRetry(ctx, "load_markets", func() error {
		markets, err := c.exchange.LoadMarkets()
		if err != nil {
			return err
		}
		raw = markets
		return nil
	})
	if err != nil {
		return nil, err
	}

	keys := make([]string, 0, len(raw))
	for key := range raw {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	pairs := make([]market.AssetPair, 0, len(raw))
	symbols := make(map[string]string, len(raw))
	for _, key := range keys {
		pair, ok := convertMarket(c.profile.name, raw[key])
		if !ok {
			continue
		}
		pairs = append(pairs, pair)
		symbols[pair.ID] = pair.Symbol
	}

	c.marketsMu.Lock()
	c.symbols = symbols
	c.marketsMu.Unlock()

	c.logger.Debug("已加载交易对", zap.Int("count", len(pairs)))
	return pairs, nil
}

// FetchBalances 返回各资产总额。
func (c *Client) FetchBalances(ctx context.Context) (map[string]float64, error) {
	var raw ccxt.Balances
	err := c.callWithRetry(ctx, "fetch_balance", func() error {
		balances, err := c.exchange.FetchBalance()
		if err != nil {
			return err
		}
		raw = balances
		return nil
	})
	if err != nil {
		return nil, err
	}
	return convertBalances(raw), nil
}

// FetchOpenOrders 返回在途挂单，按交易所能力一次性或逐个交易对查询。
func (c *Client) FetchOpenOrders(ctx context.Context, pairs []string) ([]OpenOrder, error) {
	if !c.profile.caps.OpenOrdersPerPair {
		return c.fetchOpenOrders(ctx, "")
	}

	var orders []OpenOrder
	for _, pair := range pairs {
		items, err := c.fetchOpenOrders(ctx, c.symbolFor(pair))
		if err != nil {
			return nil, err
		}
		orders = append(orders, items...)
	}
	return orders, nil
}

func (c *Client) fetchOpenOrders(ctx context.Context, symbol string) ([]OpenOrder, error) {
	var raw []ccxt.Order
	err := c.callWithRetry(ctx, "fetch_open_orders", func() error {
		var opts []ccxt.FetchOpenOrdersOptions
		if symbol != "" {
			opts = append(opts, ccxt.WithFetchOpenOrdersSymbol(symbol))
		}
		result, err := c.exchange.FetchOpenOrders(opts...)
		if err != nil {
			return err
		}
		raw = result
		return nil
	})
	if err != nil {
		return nil, err
	}

	orders := make([]OpenOrder, 0, len(raw))
	for _, item := range raw {
		order, ok := convertOpenOrder(item)
		if !ok {
			c.logger.Warn("忽略无法识别方向的挂单", zap.String("order_id", derefString(item.Id)))
			continue
		}
		orders = append(orders, order)
	}
	return orders, nil
}

// FetchTicker 获取交易对行情快照。
func (c *Client) FetchTicker(ctx context.Context, pair market.AssetPair) (market.Ticker, error) {
	var raw ccxt.Ticker
	err := c.callWithRetry(ctx, "fetch_ticker", func() error {
		ticker, err := c.exchange.FetchTicker(pair.Symbol)
		if err != nil {
			return err
		}
		raw = ticker
		return nil
	})
	if err != nil {
		return market.Ticker{}, err
	}
	return convertTicker(pair, raw), nil
}

// FetchOHLC 获取指定周期的K线。
func (c *Client) FetchOHLC(ctx context.Context, pair market.AssetPair, interval time.Duration, limit int) ([]market.OHLC, error) {
	tf, err := timeframe(interval)
	if err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = 1
	}

	var raw []ccxt.OHLCV
	err = c.callWithRetry(ctx, "fetch_ohlcv_"+tf, func() error {
		result, err := c.exchange.FetchOHLCV(
			pair.Symbol,
			ccxt.WithFetchOHLCVTimeframe(tf),
			ccxt.WithFetchOHLCVLimit(int64(limit)),
		)
		if err != nil {
			return err
		}
		raw = result
		return nil
	})
	if err != nil {
		return nil, err
	}
	return convertOHLCV(raw), nil
}

// SubmitOrders 提交一批订单，单笔失败不影响其余订单，下单不做重试。
// 平仓腿随开仓单提交的交易所走批量接口，其余交易所逐笔提交并单独挂出平仓条件单。
func (c *Client) SubmitOrders(ctx context.Context, pair market.AssetPair, orders []ladder.Order) (SubmitResult, error) {
	if c.profile.caps.NativeClose && c.profile.caps.BatchSize > 1 && len(orders) > 1 {
		return c.submitBatch(ctx, pair, orders)
	}

	var result SubmitResult
	for _, order := range orders {
		if err := ctx.Err(); err != nil {
			return result, err
		}

		id, err := c.submitOpen(ctx, pair, order)
		if err != nil {
			if isContextError(err) {
				return result, err
			}
			result.Failed = append(result.Failed, &OrderError{Rung: order.Rung, Side: order.Side, Leg: legOpen, Err: err})
			continue
		}
		result.IDs = append(result.IDs, id)

		if c.profile.caps.NativeClose || c.profile.closeParams == nil || order.Close == nil {
			continue
		}
		if err := c.submitClose(ctx, pair, order); err != nil {
			result.Failed = append(result.Failed, &OrderError{Rung: order.Rung, Side: order.Close.Side, Leg: legClose, Err: err})
		}
	}
	return result, nil
}

// submitBatch 通过一次批量请求提交整批订单，整批被拒时每笔订单都记为失败。
func (c *Client) submitBatch(ctx context.Context, pair market.AssetPair, orders []ladder.Order) (SubmitResult, error) {
	var result SubmitResult
	if err := ctx.Err(); err != nil {
		return result, err
	}

	requests := make([]ccxt.OrderRequest, 0, len(orders))
	for _, order := range orders {
		symbol := pair.Symbol
		orderType := order.OrderType
		side := string(order.Side)
		amount := order.Volume
		price := order.Price
		requests = append(requests, ccxt.OrderRequest{
			Symbol: &symbol,
			Type:   &orderType,
			Side:   &side,
			Amount: &amount,
			Price:  &price,
			Params: c.profile.orderParams(pair, order, false),
		})
	}
	var options []ccxt.CreateOrdersOptions
	if c.cfg.ValidateOnly {
		options = append(options, ccxt.WithCreateOrdersParams(map[string]interface{}{"validate": true}))
	}

	var placed []ccxt.Order
	err := c.throttle.Do(ctx, "create_orders", func() error {
		res, err := c.exchange.CreateOrders(requests, options...)
		if err != nil {
			return err
		}
		placed = res
		return nil
	})
	if err != nil {
		normalized, _ := classifyError(err)
		if isContextError(normalized) {
			return result, normalized
		}
		for _, order := range orders {
			result.Failed = append(result.Failed, &OrderError{Rung: order.Rung, Side: order.Side, Leg: legOpen, Err: normalized})
		}
		return result, nil
	}

	for i, order := range orders {
		var id string
		if i < len(placed) {
			id = derefString(placed[i].Id)
		}
		// 校验模式下交易所不分配订单号
		if id == "" && !c.cfg.ValidateOnly {
			result.Failed = append(result.Failed, &OrderError{Rung: order.Rung, Side: order.Side, Leg: legOpen, Err: errMissingOrderID})
			continue
		}
		result.IDs = append(result.IDs, id)
	}
	c.logger.Debug("批量订单已提交",
		zap.String("pair", pair.ID),
		zap.Int("count", len(orders)),
		zap.Int("placed", result.Placed()),
		zap.Bool("validate", c.cfg.ValidateOnly),
	)
	return result, nil
}

func isContextError(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

func (c *Client) submitOpen(ctx context.Context, pair market.AssetPair, order ladder.Order) (string, error) {
	params := c.profile.orderParams(pair, order, c.cfg.ValidateOnly)

	var placed ccxt.Order
	err := c.throttle.Do(ctx, "create_order", func() error {
		res, err := c.exchange.CreateOrder(
			pair.Symbol,
			order.OrderType,
			string(order.Side),
			order.Volume,
			ccxt.WithCreateOrderPrice(order.Price),
			ccxt.WithCreateOrderParams(params),
		)
		if err != nil {
			return err
		}
		placed = res
		return nil
	})
	if err != nil {
		normalized, _ := classifyError(err)
		return "", normalized
	}

	id := derefString(placed.Id)
	c.logger.Debug("订单已提交",
		zap.String("pair", pair.ID),
		zap.String("side", string(order.Side)),
		zap.Int("rung", order.Rung),
		zap.String("price", pair.FormatPrice(order.Price)),
		zap.String("volume", pair.FormatVolume(order.Volume)),
		zap.String("order_id", id),
		zap.Bool("validate", c.cfg.ValidateOnly),
	)
	return id, nil
}

func (c *Client) submitClose(ctx context.Context, pair market.AssetPair, order ladder.Order) error {
	trigger, params := c.profile.closeParams(pair, order)
	return c.throttle.Do(ctx, "create_trigger_order", func() error {
		_, err := c.exchange.CreateOrder(
			pair.Symbol,
			order.Close.OrderType,
			string(order.Close.Side),
			order.Volume,
			ccxt.WithCreateOrderPrice(order.Close.Price),
			ccxt.WithCreateOrderParams(params),
		)
		if err != nil {
			return fmt.Errorf("触发价 %s: %w", pair.FormatPrice(trigger), err)
		}
		return nil
	})
}

// CancelAllOpen 撤销交易对的全部挂单，不做重试。平仓腿为条件单的交易所还会撤销条件单。
func (c *Client) CancelAllOpen(ctx context.Context, pair market.AssetPair) error {
	count, err := c.cancelAll(ctx, "cancel_all_orders", ccxt.WithCancelAllOrdersSymbol(pair.Symbol))
	if err != nil {
		return fmt.Errorf("exchange: 撤销 %s 挂单失败: %w", pair.ID, err)
	}
	if c.profile.cancelTriggers {
		triggered, err := c.cancelAll(ctx, "cancel_all_trigger_orders",
			ccxt.WithCancelAllOrdersSymbol(pair.Symbol),
			ccxt.WithCancelAllOrdersParams(map[string]interface{}{"trigger": true}),
		)
		if err != nil {
			return fmt.Errorf("exchange: 撤销 %s 条件单失败: %w", pair.ID, err)
		}
		count += triggered
	}
	c.logger.Info("已撤销挂单", zap.String("pair", pair.ID), zap.Int("count", count))
	return nil
}

func (c *Client) cancelAll(ctx context.Context, operation string, options ...ccxt.CancelAllOrdersOptions) (int, error) {
	var cancelled []ccxt.Order
	err := c.throttle.Do(ctx, operation, func() error {
		res, err := c.exchange.CancelAllOrders(options...)
		if err != nil {
			return err
		}
		cancelled = res
		return nil
	})
	if err != nil {
		normalized, _ := classifyError(err)
		return 0, normalized
	}
	return len(cancelled), nil
}

func (c *Client) symbolFor(pairID string) string {
	c.marketsMu.Lock()
	defer c.marketsMu.Unlock()
	if symbol, ok := c.symbols[pairID]; ok && symbol != "" {
		return symbol
	}
	return pairID
}

func (c *Client) callWithRetry(ctx context.Context, operation string, fn func() error) error {
	attempt := 0
	delay := c.cfg.Retry.MinDelay
	if delay <= 0 {
		delay = 500 * time.Millisecond
	}
	maxDelay := c.cfg.Retry.MaxDelay
	if maxDelay <= 0 {
		maxDelay = 5 * time.Second
	}
	maxAttempts := c.cfg.Retry.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = 1
	}

	for {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}

		attempt++
		start := time.Now()
		err := c.throttle.Do(ctx, operation, fn)
		duration := time.Since(start)
		if err == nil {
			if attempt > 1 {
				c.logger.Info("交易所调用重试后成功",
					zap.String("operation", operation),
					zap.Int("attempts", attempt),
					zap.Duration("latency", duration),
				)
			}
			return nil
		}

		normalizedErr, retry := classifyError(err)

		if errors.Is(normalizedErr, context.Canceled) || errors.Is(normalizedErr, context.DeadlineExceeded) {
			return normalizedErr
		}

		if errors.Is(normalizedErr, ErrMaintenance) {
			c.logger.Warn("交易所维护中",
				zap.String("operation", operation),
				zap.Error(normalizedErr),
			)
			return &QueryError{Op: operation, Err: normalizedErr}
		}

		if !retry || attempt >= maxAttempts {
			c.logger.Error("交易所调用失败",
				zap.String("operation", operation),
				zap.Int("attempts", attempt),
				zap.Duration("latency", duration),
				zap.Error(normalizedErr),
			)
			return &QueryError{Op: operation, Err: normalizedErr}
		}

		wait := delay
		if wait > maxDelay {
			wait = maxDelay
		}

		c.logger.Warn("交易所调用失败，等待重试",
			zap.String("operation", operation),
			zap.Int("attempt", attempt),
			zap.Duration("wait", wait),
			zap.Error(normalizedErr),
		)

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}

		delay *= 2
		if delay > maxDelay {
			delay = maxDelay
		}
	}
}

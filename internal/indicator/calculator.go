package indicator

import (
	"fmt"
	"math"
	"sync"

	talib "github.com/markcheno/go-talib"

	"ladderbot/internal/market"
)

// DefaultPeriod 为 ATR/NATR 的默认周期。
const DefaultPeriod = 14

// Result 为一次波动率计算的汇总。
type Result struct {
	Pair   string
	Series Series
	ATR    float64
	NATR   float64
	Close  float64
}

type cacheEntry struct {
	key    string
	result Result
}

// Calculator 计算用于阈值过滤的波动率指标，并按交易对缓存最近一次结果。
type Calculator struct {
	period int

	mu    sync.Mutex
	cache map[string]cacheEntry
}

// NewCalculator 创建 Calculator，period 非正时使用默认周期。
func NewCalculator(period int) *Calculator {
	if period <= 0 {
		period = DefaultPeriod
	}
	return &Calculator{
		period: period,
		cache:  make(map[string]cacheEntry),
	}
}

// Period 返回指标周期。
func (c *Calculator) Period() int {
	return c.period
}

// MinCandles 返回计算所需的最少K线数量。
func (c *Calculator) MinCandles() int {
	return c.period + 1
}

// Compute 依据K线计算 ATR 与 NATR（百分比）。
func (c *Calculator) Compute(pair string, candles []market.OHLC) (Result, error) {
	if len(candles) < c.MinCandles() {
		return Result{}, fmt.Errorf("indicator: %s K线数量不足，需要 %d 根，实际 %d 根", pair, c.MinCandles(), len(candles))
	}

	series := NewSeries(candles)
	cacheKey := fmt.Sprintf("%d:%d", series.Len(), series.Timestamps[len(series.Timestamps)-1].Unix())

	c.mu.Lock()
	if entry, ok := c.cache[pair]; ok && entry.key == cacheKey {
		c.mu.Unlock()
		return entry.result, nil
	}
	c.mu.Unlock()

	atr := Last(talib.Atr(series.High, series.Low, series.Close, c.period))
	natr := Last(talib.Natr(series.High, series.Low, series.Close, c.period))
	if math.IsNaN(natr) || math.IsInf(natr, 0) {
		natr = 100 * SafeDivide(atr, Last(series.Close))
	}

	result := Result{
		Pair:   pair,
		Series: series,
		ATR:    atr,
		NATR:   natr,
		Close:  Last(series.Close),
	}

	c.mu.Lock()
	c.cache[pair] = cacheEntry{key: cacheKey, result: result}
	c.mu.Unlock()

	return result, nil
}

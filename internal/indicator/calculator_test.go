package indicator

import (
	"math"
	"testing"
	"time"

	"ladderbot/internal/market"
)

func flatCandles(n int) []market.OHLC {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	candles := make([]market.OHLC, 0, n)
	for i := 0; i < n; i++ {
		candles = append(candles, market.OHLC{
			Time:  start.Add(time.Duration(i) * 15 * time.Minute),
			Open:  100,
			High:  101,
			Low:   99,
			Close: 100,
			Vol:   10,
		})
	}
	return candles
}

func TestCalculatorCompute_NATR(t *testing.T) {
	calc := NewCalculator(14)
	result, err := calc.Compute("XETHZUSD", flatCandles(40))
	if err != nil {
		t.Fatalf("Compute returned error: %v", err)
	}
	if math.Abs(result.ATR-2) > 1e-9 {
		t.Fatalf("expected ATR 2, got %f", result.ATR)
	}
	if math.Abs(result.NATR-2) > 1e-9 {
		t.Fatalf("expected NATR 2%%, got %f", result.NATR)
	}
	if result.Close != 100 || result.Series.Len() != 40 {
		t.Fatalf("unexpected result %+v", result)
	}
}

func TestCalculatorCompute_RequiresEnoughCandles(t *testing.T) {
	calc := NewCalculator(0)
	if calc.Period() != DefaultPeriod {
		t.Fatalf("expected default period, got %d", calc.Period())
	}
	if _, err := calc.Compute("XETHZUSD", flatCandles(DefaultPeriod)); err == nil {
		t.Fatalf("expected error for too few candles")
	}
}

func TestCalculatorCompute_UsesCache(t *testing.T) {
	calc := NewCalculator(5)
	candles := flatCandles(10)
	first, err := calc.Compute("XETHZUSD", candles)
	if err != nil {
		t.Fatalf("Compute returned error: %v", err)
	}

	candles[len(candles)-1].High = 200
	second, err := calc.Compute("XETHZUSD", candles)
	if err != nil {
		t.Fatalf("Compute returned error: %v", err)
	}
	if second.NATR != first.NATR {
		t.Fatalf("identical window should hit cache")
	}

	candles = append(candles, market.OHLC{Time: candles[len(candles)-1].Time.Add(15 * time.Minute), High: 101, Low: 99, Close: 100})
	third, err := calc.Compute("XETHZUSD", candles)
	if err != nil {
		t.Fatalf("Compute returned error: %v", err)
	}
	if third.Series.Len() != 11 {
		t.Fatalf("new candle should invalidate cache")
	}
}

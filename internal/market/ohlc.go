package market

import (
	"fmt"
	"math"
	"time"
)

// OHLC 为单根K线。
type OHLC struct {
	Time  time.Time `json:"time"`
	Open  float64   `json:"open"`
	High  float64   `json:"high"`
	Low   float64   `json:"low"`
	Close float64   `json:"close"`
	VWAP  float64   `json:"vwap"`
	Vol   float64   `json:"vol"`
	Count int64     `json:"count"`
}

// Merge 合并两根K线：取较早者的开盘价、较晚者的收盘价，
// 高低价取极值，VWAP 按成交量加权。
func (o OHLC) Merge(other OHLC) OHLC {
	first, second := o, other
	if second.Time.Before(first.Time) {
		first, second = second, first
	}

	vol := first.Vol + second.Vol
	vwap := math.Inf(1)
	if vol > 0 {
		vwap = (first.VWAP*first.Vol + second.VWAP*second.Vol) / vol
	}

	return OHLC{
		Time:  first.Time,
		Open:  first.Open,
		High:  math.Max(first.High, second.High),
		Low:   math.Min(first.Low, second.Low),
		Close: second.Close,
		VWAP:  vwap,
		Vol:   vol,
		Count: first.Count + second.Count,
	}
}

// MergeAll 依次合并多根K线，空输入返回 false。
func MergeAll(candles []OHLC) (OHLC, bool) {
	if len(candles) == 0 {
		return OHLC{}, false
	}
	merged := candles[0]
	for _, c := range candles[1:] {
		merged = merged.Merge(c)
	}
	return merged, true
}

// Describe 返回单行K线摘要。
func (o OHLC) Describe() string {
	return fmt.Sprintf("%s open=%.3f high=%.3f low=%.3f close=%.3f vwap=%.3f count=%d vol=%.2f",
		o.Time.UTC().Format("2006-01-02 15:04:05"), o.Open, o.High, o.Low, o.Close, o.VWAP, o.Count, o.Vol)
}

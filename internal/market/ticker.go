package market

import (
	"fmt"
	"sort"
	"time"
)

// Ticker 为某一时刻交易对的价格快照。
type Ticker struct {
	Pair      string    `json:"pair"`
	Ask       float64   `json:"ask"`
	Bid       float64   `json:"bid"`
	High      float64   `json:"high"`
	Low       float64   `json:"low"`
	VWAP      float64   `json:"vwap"`
	Open      float64   `json:"open"`
	Close     float64   `json:"close"`
	Vol       float64   `json:"vol"`
	Count     int64     `json:"count"`
	Timestamp time.Time `json:"timestamp"`

	// OHLC 为最近两个订单周期合并后的K线，未拉取时为空。
	OHLC *OHLC `json:"ohlc,omitempty"`
	// NATR 为归一化 ATR（百分比），未计算时为 0。
	NATR float64 `json:"natr,omitempty"`
}

// Field 按名称返回可用于阈值校验的字段值。
func (t Ticker) Field(name string) (float64, bool) {
	switch name {
	case "ask":
		return t.Ask, true
	case "bid":
		return t.Bid, true
	case "high":
		return t.High, true
	case "low":
		return t.Low, true
	case "vwap":
		return t.VWAP, true
	case "open":
		return t.Open, true
	case "close":
		return t.Close, true
	case "vol":
		return t.Vol, true
	case "count":
		return float64(t.Count), true
	case "natr":
		return t.NATR, true
	}

	if t.OHLC == nil {
		return 0, false
	}
	switch name {
	case "ohlc_high":
		return t.OHLC.High, true
	case "ohlc_low":
		return t.OHLC.Low, true
	case "ohlc_vwap":
		return t.OHLC.VWAP, true
	case "ohlc_vol":
		return t.OHLC.Vol, true
	case "ohlc_count":
		return float64(t.OHLC.Count), true
	}
	return 0, false
}

// NeedsOHLC 判断阈值配置是否引用了K线派生字段。
func NeedsOHLC(thresholds map[string]float64) bool {
	for name := range thresholds {
		switch name {
		case "ohlc_high", "ohlc_low", "ohlc_vwap", "ohlc_vol", "ohlc_count", "natr":
			return true
		}
	}
	return false
}

// GuardFields 返回阈值配置中允许出现的全部字段名。
func GuardFields() []string {
	fields := []string{
		"ask", "bid", "high", "low", "vwap", "open", "close", "vol", "count",
		"natr", "ohlc_high", "ohlc_low", "ohlc_vwap", "ohlc_vol", "ohlc_count",
	}
	sort.Strings(fields)
	return fields
}

// Describe 返回单行行情摘要，便于日志输出。
func (t Ticker) Describe() string {
	return fmt.Sprintf("ask=%.3f bid=%.3f open=%.3f high=%.3f low=%.3f close=%.3f vwap=%.3f count=%d vol=%.2f",
		t.Ask, t.Bid, t.Open, t.High, t.Low, t.Close, t.VWAP, t.Count, t.Vol)
}

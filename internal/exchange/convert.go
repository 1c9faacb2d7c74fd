package exchange

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	ccxt "github.com/ccxt/ccxt/go/v4"

	"ladderbot/internal/market"
)

func convertMarket(exchangeName string, m ccxt.MarketInterface) (market.AssetPair, bool) {
	if m.Spot != nil && !*m.Spot {
		return market.AssetPair{}, false
	}
	if m.Active != nil && !*m.Active {
		return market.AssetPair{}, false
	}

	pair := market.AssetPair{
		Exchange: exchangeName,
		ID:       derefString(m.Id),
		Symbol:   derefString(m.Symbol),
		Base:     derefString(m.BaseCurrency),
		Quote:    derefString(m.QuoteCurrency),
	}
	if pair.ID == "" {
		pair.ID = pair.Symbol
	}
	if pair.ID == "" || pair.Base == "" || pair.Quote == "" {
		return market.AssetPair{}, false
	}

	if m.Info != nil {
		if alt, ok := m.Info["altname"].(string); ok {
			pair.Altname = strings.TrimSpace(alt)
		}
	}

	switch {
	case m.Precision.Price != nil:
		pair.PriceDecimals = market.DecimalsFromPrecision(*m.Precision.Price)
	case m.Info != nil:
		pair.PriceDecimals = int(parseNumeric(m.Info["pair_decimals"]))
	}
	switch {
	case m.Precision.Amount != nil:
		pair.VolumeDecimals = market.DecimalsFromPrecision(*m.Precision.Amount)
	case m.Info != nil:
		pair.VolumeDecimals = int(parseNumeric(m.Info["lot_decimals"]))
	}

	return pair, true
}

func convertBalances(raw ccxt.Balances) map[string]float64 {
	balances := make(map[string]float64, len(raw.Total))
	for asset, total := range raw.Total {
		if total == nil {
			continue
		}
		balances[asset] = *total
	}
	return balances
}

func convertTicker(pair market.AssetPair, raw ccxt.Ticker) market.Ticker {
	t := market.Ticker{
		Pair:  pair.ID,
		Ask:   derefFloat(raw.Ask),
		Bid:   derefFloat(raw.Bid),
		High:  derefFloat(raw.High),
		Low:   derefFloat(raw.Low),
		VWAP:  derefFloat(raw.Vwap),
		Open:  derefFloat(raw.Open),
		Close: derefFloat(raw.Close),
		Vol:   derefFloat(raw.BaseVolume),
	}
	if t.Close == 0 {
		t.Close = derefFloat(raw.Last)
	}
	if raw.Timestamp != nil {
		t.Timestamp = time.UnixMilli(*raw.Timestamp).UTC()
	} else {
		t.Timestamp = time.Now().UTC()
	}
	// kraken 的 t 字段为 [今日, 24小时] 成交笔数
	if raw.Info != nil {
		if counts, ok := raw.Info["t"].([]interface{}); ok && len(counts) > 0 {
			t.Count = int64(parseNumeric(counts[len(counts)-1]))
		}
	}
	return t
}

func convertOHLCV(items []ccxt.OHLCV) []market.OHLC {
	candles := make([]market.OHLC, 0, len(items))
	for _, item := range items {
		candle := market.OHLC{
			Time:  time.UnixMilli(item.Timestamp).UTC(),
			Open:  item.Open,
			High:  item.High,
			Low:   item.Low,
			Close: item.Close,
			Vol:   item.Volume,
		}
		// ccxt 的K线不含成交均价，以典型价格近似
		candle.VWAP = (item.High + item.Low + item.Close) / 3
		candles = append(candles, candle)
	}
	return candles
}

func convertOpenOrder(raw ccxt.Order) (OpenOrder, bool) {
	side, ok := market.ParseSide(derefString(raw.Side))
	if !ok {
		return OpenOrder{}, false
	}

	order := OpenOrder{
		ID:         derefString(raw.Id),
		Pair:       derefString(raw.Symbol),
		Side:       side,
		Remaining:  derefFloat(raw.Remaining),
		LimitPrice: derefFloat(raw.Price),
	}
	if raw.Remaining == nil {
		order.Remaining = derefFloat(raw.Amount) - derefFloat(raw.Filled)
	}
	if raw.Timestamp != nil {
		order.OpenedAt = time.UnixMilli(*raw.Timestamp).UTC()
	}
	order.Description = fmt.Sprintf("%s %s @ %s %s",
		side,
		strconv.FormatFloat(order.Remaining, 'f', -1, 64),
		derefString(raw.Type),
		strconv.FormatFloat(order.LimitPrice, 'f', -1, 64),
	)
	return order, true
}

func timeframe(interval time.Duration) (string, error) {
	switch interval {
	case time.Minute:
		return "1m", nil
	case 5 * time.Minute:
		return "5m", nil
	case 15 * time.Minute:
		return "15m", nil
	case 30 * time.Minute:
		return "30m", nil
	case time.Hour:
		return "1h", nil
	case 4 * time.Hour:
		return "4h", nil
	case 24 * time.Hour:
		return "1d", nil
	default:
		return "", fmt.Errorf("exchange: 不支持的K线周期 %s", interval)
	}
}

func derefFloat(v *float64) float64 {
	if v == nil {
		return 0
	}
	return *v
}

func derefString(v *string) string {
	if v == nil {
		return ""
	}
	return *v
}

func parseNumeric(value interface{}) float64 {
	switch v := value.(type) {
	case nil:
		return 0
	case float64:
		return v
	case *float64:
		if v != nil {
			return *v
		}
	case float32:
		return float64(v)
	case int:
		return float64(v)
	case int64:
		return float64(v)
	case int32:
		return float64(v)
	case string:
		s := strings.TrimSpace(v)
		if s == "" {
			return 0
		}
		if f, err := strconv.ParseFloat(s, 64); err == nil {
			return f
		}
	case fmt.Stringer:
		if f, err := strconv.ParseFloat(strings.TrimSpace(v.String()), 64); err == nil {
			return f
		}
	}
	return 0
}

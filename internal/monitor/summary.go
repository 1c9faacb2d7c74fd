package monitor

import (
	"context"
	"fmt"
	"sort"

	"github.com/valyala/fastjson"
)

// PairTotals 为单个交易对最近若干次下单的累计数量。
type PairTotals struct {
	Pair     string `json:"pair"`
	Buy      int    `json:"buy"`
	Sell     int    `json:"sell"`
	Expected int    `json:"expected"`
	Placed   int    `json:"placed"`
}

// PlacementTotals 汇总最近 limit 条下单事件，按交易对排序返回。
func (s *Service) PlacementTotals(ctx context.Context, limit int) ([]PairTotals, error) {
	rows, err := s.queryPayloads(ctx, EventPlacement, limit)
	if err != nil {
		return nil, err
	}

	var parser fastjson.Parser
	totals := make(map[string]*PairTotals)
	for _, row := range rows {
		v, err := parser.Parse(row.payload)
		if err != nil {
			return nil, fmt.Errorf("monitor: 解析下单事件失败: %w", err)
		}

		pair := string(v.GetStringBytes("pair"))
		entry, ok := totals[pair]
		if !ok {
			entry = &PairTotals{Pair: pair}
			totals[pair] = entry
		}

		placed := v.GetInt("placed")
		entry.Expected += v.GetInt("expected")
		entry.Placed += placed
		switch string(v.GetStringBytes("side")) {
		case "buy":
			entry.Buy += placed
		case "sell":
			entry.Sell += placed
		}
	}

	pairs := make([]string, 0, len(totals))
	for pair := range totals {
		pairs = append(pairs, pair)
	}
	sort.Strings(pairs)

	result := make([]PairTotals, 0, len(pairs))
	for _, pair := range pairs {
		result = append(result, *totals[pair])
	}
	return result, nil
}

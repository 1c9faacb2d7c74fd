package ladder

import (
	"go.uber.org/zap"

	"ladderbot/internal/market"
)

// TradeSummary 为一档挂单开平两腿的成本、手续费与利润估算。
type TradeSummary struct {
	Side       market.Side
	Volume     float64
	Base       string
	Quote      string
	OpenPrice  float64
	OpenCost   float64
	OpenFee    float64
	HasClose   bool
	CloseSide  market.Side
	ClosePrice float64
	CloseCost  float64
	CloseFee   float64
	// GrossProfit 与 NetProfit 以计价资产计。
	GrossProfit     float64
	NetProfit       float64
	GrossPercent    float64
	NetPercent      float64
	FeeSharePercent float64
}

// Summarize 按手续费率估算订单的开平仓收益。
func Summarize(pair market.AssetPair, order Order, feePercent float64) TradeSummary {
	s := TradeSummary{
		Side:      order.Side,
		Volume:    order.Volume,
		Base:      pair.Base,
		Quote:     pair.Quote,
		OpenPrice: order.Price,
		OpenCost:  order.Volume * order.Price,
	}
	s.OpenFee = s.OpenCost * feePercent / 100

	if order.Close == nil {
		return s
	}

	s.HasClose = true
	s.CloseSide = order.Close.Side
	s.ClosePrice = order.Close.Price
	s.CloseCost = order.Volume * order.Close.Price
	s.CloseFee = s.CloseCost * feePercent / 100

	s.GrossProfit = s.CloseCost - s.OpenCost
	if order.Side == market.SideSell {
		s.GrossProfit = -s.GrossProfit
	}
	s.NetProfit = s.GrossProfit - s.OpenFee - s.CloseFee

	if s.CloseCost != 0 {
		s.GrossPercent = s.GrossProfit * 100 / s.CloseCost
	}
	if s.OpenCost != 0 {
		s.NetPercent = s.NetProfit * 100 / s.OpenCost
	}
	if s.GrossProfit != 0 {
		s.FeeSharePercent = 100 - s.NetProfit*100/s.GrossProfit
	}
	return s
}

// Fields 返回用于结构化日志的字段。
func (s TradeSummary) Fields() []zap.Field {
	fields := []zap.Field{
		zap.String("side", string(s.Side)),
		zap.Float64("volume", s.Volume),
		zap.String("base", s.Base),
		zap.Float64("open_price", s.OpenPrice),
		zap.Float64("open_cost", s.OpenCost),
		zap.String("quote", s.Quote),
		zap.Float64("open_fee", s.OpenFee),
	}
	if !s.HasClose {
		return fields
	}
	return append(fields,
		zap.String("close_side", string(s.CloseSide)),
		zap.Float64("close_price", s.ClosePrice),
		zap.Float64("close_cost", s.CloseCost),
		zap.Float64("close_fee", s.CloseFee),
		zap.Float64("gross_profit", s.GrossProfit),
		zap.Float64("gross_percent", s.GrossPercent),
		zap.Float64("net_profit", s.NetProfit),
		zap.Float64("net_percent", s.NetPercent),
		zap.Float64("fee_share_percent", s.FeeSharePercent),
	)
}

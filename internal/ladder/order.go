package ladder

import (
	"time"

	"ladderbot/internal/market"
)

const (
	// OrderTypeLimit 为阶梯使用的限价单。
	OrderTypeLimit = "limit"

	// TimeInForceGTD 订单到期自动撤销。
	TimeInForceGTD = "GTD"
	// TimeInForceGTC 订单需显式撤销。
	TimeInForceGTC = "GTC"
)

// CloseOrder 为成交后用于平仓的反向限价单。
type CloseOrder struct {
	Side      market.Side `json:"side"`
	OrderType string      `json:"order_type"`
	Price     float64     `json:"price"`
}

// Order 为引擎计算出的一档挂单，创建后不再修改。
type Order struct {
	Pair        string        `json:"pair"`
	Rung        int           `json:"rung"`
	Side        market.Side   `json:"side"`
	OrderType   string        `json:"order_type"`
	Price       float64       `json:"price"`
	Volume      float64       `json:"volume"`
	TimeInForce string        `json:"time_in_force"`
	Expire      time.Duration `json:"expire"`
	Close       *CloseOrder   `json:"close,omitempty"`
}

// Cost 返回以计价资产计的下单金额。
func (o Order) Cost() float64 {
	return o.Price * o.Volume
}

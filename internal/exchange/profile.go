package exchange

import (
	"fmt"
	"strconv"
	"strings"

	ccxt "github.com/ccxt/ccxt/go/v4"

	"ladderbot/internal/ladder"
	"ladderbot/internal/market"
)

const (
	krakenBatchSize = 15
	gateBatchSize   = 10
)

// profile 汇总单个交易所的连接方式、能力与下单参数。
type profile struct {
	name           string
	caps           Capabilities
	nativeValidate bool
	cancelTriggers bool
	connect        func(userConfig map[string]interface{}, sandbox bool) exchangeClient
	orderParams    func(pair market.AssetPair, order ladder.Order, validate bool) map[string]interface{}
	closeParams    func(pair market.AssetPair, order ladder.Order) (float64, map[string]interface{})
}

func lookupProfile(name string) (profile, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "kraken":
		return krakenProfile(), nil
	case "gate", "gateio":
		return gateProfile(), nil
	default:
		return profile{}, fmt.Errorf("exchange: 不支持的交易所 %q", name)
	}
}

func krakenProfile() profile {
	return profile{
		name: "kraken",
		caps: Capabilities{
			TimeInForce: ladder.TimeInForceGTD,
			NativeClose: true,
			BatchSize:   krakenBatchSize,
		},
		nativeValidate: true,
		connect: func(userConfig map[string]interface{}, sandbox bool) exchangeClient {
			ex := ccxt.NewKraken(userConfig)
			if sandbox {
				ex.SetSandboxMode(true)
			}
			return ex
		},
		orderParams: krakenOrderParams,
	}
}

func gateProfile() profile {
	return profile{
		name: "gate",
		caps: Capabilities{
			TimeInForce:       ladder.TimeInForceGTC,
			NeedsCancel:       true,
			BatchSize:         gateBatchSize,
			OpenOrdersPerPair: true,
		},
		cancelTriggers: true,
		connect: func(userConfig map[string]interface{}, sandbox bool) exchangeClient {
			ex := ccxt.NewGate(userConfig)
			if sandbox {
				ex.SetSandboxMode(true)
			}
			return ex
		},
		orderParams: gateOrderParams,
		closeParams: gateCloseParams,
	}
}

// krakenOrderParams 生成带有到期时间与联动平仓单的 kraken 参数。
func krakenOrderParams(pair market.AssetPair, order ladder.Order, validate bool) map[string]interface{} {
	params := map[string]interface{}{
		"timeInForce": order.TimeInForce,
		"stptype":     "cancel-newest",
		"oflags":      "fciq",
	}
	if order.TimeInForce == ladder.TimeInForceGTD && order.Expire > 0 {
		params["expiretm"] = "+" + strconv.Itoa(int(order.Expire.Seconds()))
	}
	if order.Close != nil {
		params["close[ordertype]"] = order.Close.OrderType
		params["close[price]"] = pair.FormatPrice(order.Close.Price)
	}
	if validate {
		params["validate"] = true
	}
	return params
}

func gateOrderParams(_ market.AssetPair, order ladder.Order, _ bool) map[string]interface{} {
	return map[string]interface{}{
		"timeInForce": order.TimeInForce,
	}
}

// gateCloseParams 返回平仓条件单的触发价与参数：卖单成交后价格上穿一档触发买回，买单反之。
func gateCloseParams(pair market.AssetPair, order ladder.Order) (float64, map[string]interface{}) {
	trigger := pair.IncPrice(order.Price)
	rule := ">="
	if order.Side == market.SideBuy {
		trigger = pair.DecPrice(order.Price)
		rule = "<="
	}
	return trigger, map[string]interface{}{
		"triggerPrice": pair.FormatPrice(trigger),
		"rule":         rule,
		"timeInForce":  ladder.TimeInForceGTC,
	}
}

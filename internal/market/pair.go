package market

import (
	"fmt"
	"math"
	"strings"

	"github.com/shopspring/decimal"
)

// AssetPair 描述一个可交易市场的元数据。
type AssetPair struct {
	Exchange       string `json:"exchange"`
	ID             string `json:"id"`
	Symbol         string `json:"symbol"`
	Altname        string `json:"altname,omitempty"`
	Base           string `json:"base"`
	Quote          string `json:"quote"`
	PriceDecimals  int    `json:"price_decimals"`
	VolumeDecimals int    `json:"volume_decimals"`
}

// Aliases 返回除规范 ID 以外可用于查找该交易对的名称。
func (p AssetPair) Aliases() []string {
	aliases := make([]string, 0, 2)
	for _, name := range []string{p.Altname, p.Symbol} {
		name = strings.TrimSpace(name)
		if name == "" || name == p.ID {
			continue
		}
		aliases = append(aliases, name)
	}
	return aliases
}

// RoundPrice 按价格精度取整（银行家舍入）。
func (p AssetPair) RoundPrice(price float64) float64 {
	return roundPlaces(price, p.PriceDecimals)
}

// RoundVolume 按数量精度取整（银行家舍入）。
func (p AssetPair) RoundVolume(volume float64) float64 {
	return roundPlaces(volume, p.VolumeDecimals)
}

// IncPrice 将价格上调一个最小价格单位。
func (p AssetPair) IncPrice(price float64) float64 {
	return p.RoundPrice(price + tick(p.PriceDecimals))
}

// DecPrice 将价格下调一个最小价格单位。
func (p AssetPair) DecPrice(price float64) float64 {
	return p.RoundPrice(price - tick(p.PriceDecimals))
}

// FormatPrice 返回固定小数位的价格字符串，用于下单请求。
func (p AssetPair) FormatPrice(price float64) string {
	return formatPlaces(price, p.PriceDecimals)
}

// FormatVolume 返回固定小数位的数量字符串，用于下单请求。
func (p AssetPair) FormatVolume(volume float64) string {
	return formatPlaces(volume, p.VolumeDecimals)
}

func (p AssetPair) String() string {
	return fmt.Sprintf("%s(%s/%s)", p.ID, p.Base, p.Quote)
}

func roundPlaces(value float64, places int) float64 {
	if math.IsNaN(value) || math.IsInf(value, 0) {
		return value
	}
	if places < 0 {
		places = 0
	}
	rounded, _ := decimal.NewFromFloat(value).RoundBank(int32(places)).Float64()
	return rounded
}

func formatPlaces(value float64, places int) string {
	if math.IsNaN(value) || math.IsInf(value, 0) {
		return fmt.Sprintf("%v", value)
	}
	if places < 0 {
		places = 0
	}
	return decimal.NewFromFloat(value).StringFixedBank(int32(places))
}

func tick(places int) float64 {
	if places < 0 {
		places = 0
	}
	return math.Pow(10, -float64(places))
}

// DecimalsFromPrecision 将交易所返回的精度统一为小数位数。
// 精度既可能是小数位数（如 8），也可能是最小变动单位（如 0.001）。
func DecimalsFromPrecision(precision float64) int {
	switch {
	case math.IsNaN(precision) || precision <= 0:
		return 0
	case precision >= 1:
		return int(math.Round(precision))
	default:
		return int(math.Round(-math.Log10(precision)))
	}
}

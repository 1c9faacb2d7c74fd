package market

import "strings"

// Side 表示买卖方向。
type Side string

const (
	SideBuy  Side = "buy"
	SideSell Side = "sell"
)

// Opposite 返回相反方向。
func (s Side) Opposite() Side {
	if s == SideBuy {
		return SideSell
	}
	return SideBuy
}

// ParseSide 不区分大小写地解析方向，无法识别时返回 false。
func ParseSide(value string) (Side, bool) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "buy":
		return SideBuy, true
	case "sell":
		return SideSell, true
	default:
		return "", false
	}
}

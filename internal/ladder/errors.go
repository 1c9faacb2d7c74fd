package ladder

import (
	"fmt"

	"ladderbot/internal/market"
)

// GuardThresholdNotMetError 表示行情字段低于配置的最小值，本轮跳过该市场。
type GuardThresholdNotMetError struct {
	Pair  string
	Field string
	Value float64
	Min   float64
}

func (e *GuardThresholdNotMetError) Error() string {
	return fmt.Sprintf("ladder: %s 不满足挂单条件 %s=%f, min=%f", e.Pair, e.Field, e.Value, e.Min)
}

// InsufficientBalanceError 表示未占用余额不足以铺设该方向的阶梯。
type InsufficientBalanceError struct {
	Pair      string
	Side      market.Side
	Asset     string
	Available float64
	Required  float64
}

func (e *InsufficientBalanceError) Error() string {
	return fmt.Sprintf("ladder: %s 未占用 %s 不足以挂 %s 单: %f < %f",
		e.Pair, e.Asset, e.Side, e.Available, e.Required)
}

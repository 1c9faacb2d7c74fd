package monitor

import (
	"time"

	"ladderbot/internal/ladder"
	"ladderbot/internal/ledger"
)

// EventType 表示监控事件类型。
type EventType string

const (
	EventCycle          EventType = "cycle"
	EventGuardSkip      EventType = "guard_skip"
	EventPlacement      EventType = "placement"
	EventBalanceSummary EventType = "balance_summary"
	EventError          EventType = "error"
)

// Event 封装通用监控事件。
type Event struct {
	Type      EventType   `json:"type"`
	Timestamp time.Time   `json:"timestamp"`
	Payload   interface{} `json:"payload"`
}

// CyclePayload 记录一轮调度的汇总。
type CyclePayload struct {
	CycleID  string        `json:"cycle_id"`
	Markets  int           `json:"markets"`
	Placed   int           `json:"placed"`
	Skipped  int           `json:"skipped"`
	Failed   int           `json:"failed"`
	Duration time.Duration `json:"duration"`
	Aborted  string        `json:"aborted,omitempty"`
}

// GuardSkipPayload 记录因阈值或余额不足而跳过的市场或方向。
type GuardSkipPayload struct {
	CycleID string `json:"cycle_id"`
	Pair    string `json:"pair"`
	Side    string `json:"side,omitempty"`
	Reason  string `json:"reason"`
}

// PlacementPayload 记录一次阶梯下单。
type PlacementPayload struct {
	CycleID  string         `json:"cycle_id"`
	Pair     string         `json:"pair"`
	Side     string         `json:"side"`
	Expected int            `json:"expected"`
	Placed   int            `json:"placed"`
	IDs      []string       `json:"ids,omitempty"`
	Orders   []ladder.Order `json:"orders"`
}

// BalanceSummaryPayload 记录轮末余额。
type BalanceSummaryPayload struct {
	CycleID  string                    `json:"cycle_id"`
	Balances map[string]ledger.Balance `json:"balances"`
}

// ErrorPayload 记录异常。
type ErrorPayload struct {
	Message string                 `json:"message"`
	Error   string                 `json:"error"`
	Context map[string]interface{} `json:"context,omitempty"`
}

package execution

import (
	"fmt"
	"time"
)

// Result 为一次下单的结果摘要。
type Result struct {
	Pair          string
	Expected      int
	Placed        int
	IDs           []string
	ExecutionTime time.Time
}

// OrderPlacementError 表示部分或全部订单提交失败，Err 聚合了逐笔错误。
type OrderPlacementError struct {
	Pair     string
	Expected int
	Placed   int
	Err      error
}

func (e *OrderPlacementError) Error() string {
	return fmt.Sprintf("execution: %s 仅提交 %d/%d 笔订单: %v", e.Pair, e.Placed, e.Expected, e.Err)
}

func (e *OrderPlacementError) Unwrap() error {
	return e.Err
}

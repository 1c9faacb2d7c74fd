package monitor

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	"ladderbot/internal/execution"
	"ladderbot/internal/ladder"
	"ladderbot/internal/ledger"
	"ladderbot/internal/market"
	"ladderbot/internal/store"
)

// Service 负责持久化监控事件。
type Service struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewService 初始化监控服务，创建所需表结构。
func NewService(store *store.Store, logger *zap.Logger) (*Service, error) {
	if store == nil {
		return nil, fmt.Errorf("monitor: store 不能为空")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	s := &Service{
		db:     store.DB(),
		logger: logger,
	}

	if err := s.initSchema(); err != nil {
		return nil, err
	}

	return s, nil
}

func (s *Service) initSchema() error {
	stmt := `
CREATE TABLE IF NOT EXISTS monitor_events (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	event_type TEXT NOT NULL,
	payload TEXT NOT NULL,
	created_at TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_monitor_events_type ON monitor_events(event_type);
`
	if _, err := s.db.Exec(stmt); err != nil {
		return fmt.Errorf("monitor: 初始化表失败: %w", err)
	}
	return nil
}

// Record 写入单个事件。
func (s *Service) Record(ctx context.Context, event Event) error {
	payload, err := json.Marshal(event.Payload)
	if err != nil {
		return fmt.Errorf("monitor: 序列化事件失败: %w", err)
	}

	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO monitor_events (event_type, payload, created_at) VALUES (?, ?, ?)`,
		string(event.Type), string(payload), event.Timestamp.Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("monitor: 写入事件失败: %w", err)
	}

	return nil
}

func (s *Service) record(ctx context.Context, typ EventType, payload interface{}, what string) {
	if err := s.Record(ctx, Event{
		Type:      typ,
		Timestamp: time.Now().UTC(),
		Payload:   payload,
	}); err != nil {
		s.logger.Warn("记录"+what+"事件失败", zap.Error(err))
	}
}

// RecordCycle 记录一轮调度汇总。
func (s *Service) RecordCycle(ctx context.Context, payload CyclePayload) {
	s.record(ctx, EventCycle, payload, "调度")
}

// RecordSkip 记录被跳过的市场或方向。
func (s *Service) RecordSkip(ctx context.Context, cycleID, pair string, side market.Side, reason error) {
	s.record(ctx, EventGuardSkip, GuardSkipPayload{
		CycleID: cycleID,
		Pair:    pair,
		Side:    string(side),
		Reason:  reason.Error(),
	}, "跳过")
}

// RecordPlacement 记录阶梯下单结果。
func (s *Service) RecordPlacement(ctx context.Context, cycleID string, side market.Side, orders []ladder.Order, result execution.Result) {
	s.record(ctx, EventPlacement, PlacementPayload{
		CycleID:  cycleID,
		Pair:     result.Pair,
		Side:     string(side),
		Expected: result.Expected,
		Placed:   result.Placed,
		IDs:      result.IDs,
		Orders:   orders,
	}, "下单")
}

// RecordBalances 记录轮末余额。
func (s *Service) RecordBalances(ctx context.Context, cycleID string, balances map[string]ledger.Balance) {
	s.record(ctx, EventBalanceSummary, BalanceSummaryPayload{CycleID: cycleID, Balances: balances}, "余额")
}

// RecordError 记录异常。
func (s *Service) RecordError(ctx context.Context, msg string, err error, ctxMap map[string]interface{}) {
	payload := ErrorPayload{
		Message: msg,
		Error:   err.Error(),
		Context: ctxMap,
	}
	s.record(ctx, EventError, payload, "异常")
}

// ListEvents 按类型检索最近事件。
func (s *Service) ListEvents(ctx context.Context, eventType EventType, limit int) ([]Event, error) {
	rows, err := s.queryPayloads(ctx, eventType, limit)
	if err != nil {
		return nil, err
	}

	events := make([]Event, 0, len(rows))
	for _, row := range rows {
		events = append(events, Event{
			Type:      row.typ,
			Timestamp: row.created,
			Payload:   json.RawMessage(row.payload),
		})
	}
	return events, nil
}

type eventRow struct {
	typ     EventType
	payload string
	created time.Time
}

func (s *Service) queryPayloads(ctx context.Context, eventType EventType, limit int) ([]eventRow, error) {
	if limit <= 0 {
		limit = 100
	}

	query := `SELECT event_type, payload, created_at FROM monitor_events`
	args := make([]interface{}, 0, 2)
	if eventType != "" {
		query += ` WHERE event_type = ?`
		args = append(args, string(eventType))
	}
	query += ` ORDER BY id DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("monitor: 查询事件失败: %w", err)
	}
	defer rows.Close()

	result := make([]eventRow, 0, limit)
	for rows.Next() {
		var (
			typ     string
			payload string
			created string
		)
		if scanErr := rows.Scan(&typ, &payload, &created); scanErr != nil {
			return nil, fmt.Errorf("monitor: 解析事件失败: %w", scanErr)
		}

		ts, parseErr := time.Parse(time.RFC3339Nano, created)
		if parseErr != nil {
			ts = time.Now().UTC()
		}

		result = append(result, eventRow{typ: EventType(typ), payload: payload, created: ts})
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("monitor: 读取事件失败: %w", err)
	}

	return result, nil
}

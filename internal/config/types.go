package config

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"go.uber.org/multierr"
)

const (
	// ReferenceConservative 卖单取 max(ask, vwap, high)，买单取 min(bid, vwap, low)。
	ReferenceConservative = "conservative"
	// ReferenceMinimal 卖单仅取 24h 最高价，买单仅取 24h 最低价。
	ReferenceMinimal = "minimal"
)

// Config 聚合了系统运行所需的全部配置项。
type Config struct {
	App       AppConfig       `mapstructure:"app"`
	Exchange  ExchangeConfig  `mapstructure:"exchange"`
	Trading   TradingConfig   `mapstructure:"trading"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Monitor   MonitorConfig   `mapstructure:"monitor"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
}

// AppConfig 控制应用级参数。
type AppConfig struct {
	Environment string `mapstructure:"environment"`
}

// ExchangeConfig 描述交易所连接信息。
type ExchangeConfig struct {
	Name              string        `mapstructure:"name"`
	UseSandbox        bool          `mapstructure:"use_sandbox"`
	ValidateOnly      bool          `mapstructure:"validate_only"`
	Simulation        bool          `mapstructure:"simulation"`
	InterRequestDelay time.Duration `mapstructure:"inter_request_delay"`
	Timeout           time.Duration `mapstructure:"timeout"`
	Retry             RetryConfig   `mapstructure:"retry"`
	Credentials       Credentials   `mapstructure:"-"`
}

// RetryConfig 控制只读查询的重试。
type RetryConfig struct {
	MaxAttempts int           `mapstructure:"max_attempts"`
	MinDelay    time.Duration `mapstructure:"min_delay"`
	MaxDelay    time.Duration `mapstructure:"max_delay"`
}

// TradingConfig 为阶梯挂单参数。
type TradingConfig struct {
	FeePercent    float64        `mapstructure:"fee_percent"`
	OrderLifespan time.Duration  `mapstructure:"order_lifespan"`
	Markets       []MarketConfig `mapstructure:"markets"`
}

// MarketConfig 为单个市场的阶梯配置。
type MarketConfig struct {
	Pair      string             `mapstructure:"pair"`
	Reference string             `mapstructure:"reference"`
	Min       map[string]float64 `mapstructure:"min"`
	Sell      SideConfig         `mapstructure:"sell"`
	Buy       SideConfig         `mapstructure:"buy"`
}

// SideConfig 为单边阶梯参数。
type SideConfig struct {
	OrderCount        int     `mapstructure:"order_count"`
	VolPercent        float64 `mapstructure:"vol_percent"`
	Amount            float64 `mapstructure:"amount"`
	PcntBumpA         float64 `mapstructure:"pcnt_bump_a"`
	PcntBumpC         float64 `mapstructure:"pcnt_bump_c"`
	RebuyBumpPercent  float64 `mapstructure:"rebuy_bump_percent"`
	ResellBumpPercent float64 `mapstructure:"resell_bump_percent"`
	MinBalance        float64 `mapstructure:"min_balance"`
}

// DatabaseConfig 管理数据库连接。
type DatabaseConfig struct {
	Path            string        `mapstructure:"path"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	InMemory        bool          `mapstructure:"in_memory"`
}

// MonitorConfig 控制监控接口。
type MonitorConfig struct {
	Enabled bool `mapstructure:"enabled"`
	Port    int  `mapstructure:"port"`
}

// LoggingConfig 控制日志输出。
type LoggingConfig struct {
	Level            string   `mapstructure:"level"`
	Encoding         string   `mapstructure:"encoding"`
	Development      bool     `mapstructure:"development"`
	OutputPaths      []string `mapstructure:"output_paths"`
	ErrorOutputPaths []string `mapstructure:"error_output_paths"`
}

// SchedulerConfig 控制主循环节奏。
type SchedulerConfig struct {
	LoopInterval    time.Duration `mapstructure:"loop_interval"`
	SummaryMinTotal float64       `mapstructure:"summary_min_total"`
}

// Interval 返回两轮之间的休眠时长，未配置时与订单存活时长一致。
func (c *Config) Interval() time.Duration {
	if c.Scheduler.LoopInterval > 0 {
		return c.Scheduler.LoopInterval
	}
	return c.Trading.OrderLifespan
}

// Validate 对配置进行基本校验。
func (c *Config) Validate() error {
	var err error

	if c.App.Environment == "" {
		err = multierr.Append(err, errors.New("app.environment 不能为空"))
	}
	switch strings.ToLower(c.Exchange.Name) {
	case "kraken", "gate", "gateio":
	case "":
		err = multierr.Append(err, errors.New("exchange.name 不能为空"))
	default:
		err = multierr.Append(err, fmt.Errorf("exchange.name 不支持: %s", c.Exchange.Name))
	}
	if c.Exchange.InterRequestDelay < 0 {
		err = multierr.Append(err, errors.New("exchange.inter_request_delay 不能为负"))
	}
	if c.Exchange.Timeout <= 0 {
		err = multierr.Append(err, errors.New("exchange.timeout 必须大于0"))
	}
	if c.Exchange.Retry.MaxAttempts <= 0 {
		err = multierr.Append(err, errors.New("exchange.retry.max_attempts 必须大于0"))
	}
	if c.Exchange.Retry.MinDelay <= 0 || c.Exchange.Retry.MaxDelay <= 0 {
		err = multierr.Append(err, errors.New("exchange.retry.delay 必须为正"))
	}
	if c.Exchange.Retry.MinDelay > c.Exchange.Retry.MaxDelay {
		err = multierr.Append(err, errors.New("exchange.retry.min_delay 不能大于 max_delay"))
	}
	if c.Trading.FeePercent < 0 || c.Trading.FeePercent >= 100 {
		err = multierr.Append(err, errors.New("trading.fee_percent 应位于[0,100)"))
	}
	if c.Trading.OrderLifespan < time.Minute {
		err = multierr.Append(err, errors.New("trading.order_lifespan 不能小于1分钟"))
	}
	if len(c.Trading.Markets) == 0 {
		err = multierr.Append(err, errors.New("trading.markets 至少包含一个市场"))
	}
	for i, m := range c.Trading.Markets {
		err = multierr.Append(err, m.validate(i))
	}
	if c.Database.Path == "" && !c.Database.InMemory {
		err = multierr.Append(err, errors.New("database.path 不能为空"))
	}
	if c.Database.MaxOpenConns <= 0 {
		err = multierr.Append(err, errors.New("database.max_open_conns 必须大于0"))
	}
	if c.Database.MaxIdleConns < 0 {
		err = multierr.Append(err, errors.New("database.max_idle_conns 不能为负"))
	}
	if c.Database.ConnMaxLifetime < 0 {
		err = multierr.Append(err, errors.New("database.conn_max_lifetime 不能为负"))
	}
	if c.Monitor.Enabled && (c.Monitor.Port <= 0 || c.Monitor.Port > 65535) {
		err = multierr.Append(err, errors.New("monitor.port 必须位于(0,65535]"))
	}
	if c.Logging.Level == "" {
		err = multierr.Append(err, errors.New("logging.level 不能为空"))
	}
	if c.Logging.Encoding == "" {
		err = multierr.Append(err, errors.New("logging.encoding 不能为空"))
	}
	if len(c.Logging.OutputPaths) == 0 {
		err = multierr.Append(err, errors.New("logging.output_paths 至少包含一个输出目标"))
	}
	if len(c.Logging.ErrorOutputPaths) == 0 {
		err = multierr.Append(err, errors.New("logging.error_output_paths 至少包含一个输出目标"))
	}
	if c.Scheduler.LoopInterval < 0 {
		err = multierr.Append(err, errors.New("scheduler.loop_interval 不能为负"))
	}
	if c.Scheduler.SummaryMinTotal < 0 {
		err = multierr.Append(err, errors.New("scheduler.summary_min_total 不能为负"))
	}

	if err != nil {
		return fmt.Errorf("配置校验失败: %w", err)
	}

	return nil
}

var guardFields = map[string]struct{}{
	"ask": {}, "bid": {}, "high": {}, "low": {}, "vwap": {}, "open": {}, "close": {},
	"vol": {}, "count": {}, "natr": {},
	"ohlc_high": {}, "ohlc_low": {}, "ohlc_vwap": {}, "ohlc_vol": {}, "ohlc_count": {},
}

func (m MarketConfig) validate(idx int) error {
	var err error
	prefix := fmt.Sprintf("trading.markets[%d]", idx)

	if strings.TrimSpace(m.Pair) == "" {
		err = multierr.Append(err, fmt.Errorf("%s.pair 不能为空", prefix))
	} else {
		prefix = fmt.Sprintf("trading.markets[%s]", m.Pair)
	}
	switch m.Reference {
	case "", ReferenceConservative, ReferenceMinimal:
	default:
		err = multierr.Append(err, fmt.Errorf("%s.reference 不支持: %s", prefix, m.Reference))
	}

	names := make([]string, 0, len(m.Min))
	for name := range m.Min {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if _, ok := guardFields[name]; !ok {
			err = multierr.Append(err, fmt.Errorf("%s.min 包含未知字段 %q", prefix, name))
		}
	}

	err = multierr.Append(err, m.Sell.validate(prefix+".sell", false))
	err = multierr.Append(err, m.Buy.validate(prefix+".buy", true))
	return err
}

func (s SideConfig) validate(prefix string, allowAmount bool) error {
	var err error
	if s.OrderCount < 0 {
		err = multierr.Append(err, fmt.Errorf("%s.order_count 不能为负", prefix))
	}
	if s.OrderCount == 0 {
		return err
	}
	if s.Amount < 0 {
		err = multierr.Append(err, fmt.Errorf("%s.amount 不能为负", prefix))
	}
	if s.Amount > 0 && !allowAmount {
		err = multierr.Append(err, fmt.Errorf("%s.amount 仅适用于买单", prefix))
	}
	if s.Amount == 0 && (s.VolPercent <= 0 || s.VolPercent > 100) {
		err = multierr.Append(err, fmt.Errorf("%s.vol_percent 必须位于(0,100]", prefix))
	}
	if s.PcntBumpA < 0 {
		err = multierr.Append(err, fmt.Errorf("%s.pcnt_bump_a 不能为负", prefix))
	}
	if s.RebuyBumpPercent < 0 || s.RebuyBumpPercent >= 100 {
		err = multierr.Append(err, fmt.Errorf("%s.rebuy_bump_percent 应位于[0,100)", prefix))
	}
	if s.ResellBumpPercent < 0 {
		err = multierr.Append(err, fmt.Errorf("%s.resell_bump_percent 不能为负", prefix))
	}
	if s.MinBalance < 0 {
		err = multierr.Append(err, fmt.Errorf("%s.min_balance 不能为负", prefix))
	}
	return err
}

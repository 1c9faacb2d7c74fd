package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"

	"ladderbot/internal/config"
	"ladderbot/internal/exchange"
	"ladderbot/internal/execution"
	"ladderbot/internal/monitor"
	"ladderbot/internal/store"
)

// App 聚合核心依赖并驱动系统生命周期。
type App struct {
	cfg    *config.Config
	loader ConfigLoader
	logger *zap.Logger
	store  *store.Store
}

// New 创建 App 实例。loader 在每轮开始时调用，用于热加载阶梯参数。
func New(cfg *config.Config, loader ConfigLoader, logger *zap.Logger, store *store.Store) *App {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &App{
		cfg:    cfg,
		loader: loader,
		logger: logger,
		store:  store,
	}
}

// Run 立即执行第一轮，之后每轮结束后按配置的间隔休眠，直到 ctx 取消。
func (a *App) Run(ctx context.Context) error {
	a.logger.Info("阶梯挂单系统已初始化",
		zap.String("environment", a.cfg.App.Environment),
		zap.String("exchange", a.cfg.Exchange.Name),
		zap.Bool("validate_only", a.cfg.Exchange.ValidateOnly),
		zap.Bool("simulation", a.cfg.Exchange.Simulation),
		zap.Int("markets", len(a.cfg.Trading.Markets)),
	)

	adapter, err := exchange.New(a.cfg.Exchange, a.logger.Named("exchange"))
	if err != nil {
		return fmt.Errorf("初始化交易所客户端失败: %w", err)
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := monitor.NewMetrics(registry)

	deps := SchedulerDeps{
		Adapter: adapter,
		Placer:  execution.NewGateway(adapter, a.logger.Named("gateway")),
		Metrics: metrics,
		Loader:  a.loader,
		Logger:  a.logger.Named("scheduler"),
	}

	if a.store != nil {
		svc, err := monitor.NewService(a.store, a.logger.Named("monitor"))
		if err != nil {
			return fmt.Errorf("初始化监控服务失败: %w", err)
		}
		deps.Journal = svc
		if a.cfg.Monitor.Enabled {
			if err := startMonitorServer(ctx, svc, registry, a.cfg.Monitor.Port, a.logger.Named("monitor")); err != nil {
				return err
			}
		}
	}

	sched, err := NewScheduler(a.cfg, deps)
	if err != nil {
		return err
	}

	return a.loop(ctx, sched)
}

func (a *App) loop(ctx context.Context, sched *Scheduler) error {
	for {
		if err := sched.Cycle(ctx); err != nil && ctx.Err() == nil {
			a.logger.Error("本轮调度中止", zap.Error(err))
		}

		wait := sched.Config().Interval()
		a.logger.Info("等待下一轮", zap.Duration("interval", wait))

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			if err := ctx.Err(); err != nil && !errors.Is(err, context.Canceled) {
				return fmt.Errorf("系统异常退出: %w", err)
			}
			a.logger.Info("系统收到退出信号，正在停止")
			return nil
		case <-timer.C:
		}
	}
}

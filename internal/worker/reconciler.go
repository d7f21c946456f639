package worker

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/stockpilot/internal/config"
	"github.com/stockpilot/internal/constants"
	"github.com/stockpilot/internal/logger"
	"github.com/stockpilot/internal/metrics"
	"github.com/stockpilot/internal/provider"

	"github.com/robfig/cron/v3"
)

// ErrUnknownTask 对账任务不存在
var ErrUnknownTask = errors.New("unknown reconcile task")

type reconcileTask struct {
	name     string
	schedule string
	run      func(ctx context.Context) (interface{}, error)
}

// Reconciler 定时对账与补偿调度
type Reconciler struct {
	cron    *cron.Cron
	tasks   []reconcileTask
	index   map[string]int
	baseCtx context.Context
	done    chan struct{}
}

// NewReconciler 按配置注册对账任务，空 cron 表达式的任务只能手动触发
func NewReconciler(c *provider.Container) (*Reconciler, error) {
	if c == nil {
		return nil, errors.New("container is nil")
	}
	cronLogger := logger.NewCronLogger()
	r := &Reconciler{
		cron: cron.New(
			cron.WithLogger(cronLogger),
			cron.WithChain(cron.Recover(cronLogger), cron.SkipIfStillRunning(cronLogger)),
		),
		index:   make(map[string]int),
		baseCtx: context.Background(),
		done:    make(chan struct{}),
	}
	r.tasks = buildReconcileTasks(c, c.Config.Reconcile)
	for i, task := range r.tasks {
		r.index[task.name] = i
		spec := strings.TrimSpace(task.schedule)
		if spec == "" {
			continue
		}
		name := task.name
		if _, err := r.cron.AddFunc(spec, func() {
			_, _ = r.RunTask(r.baseCtx, name)
		}); err != nil {
			return nil, fmt.Errorf("register reconcile task %s: %w", name, err)
		}
	}
	return r, nil
}

func buildReconcileTasks(c *provider.Container, cfg config.ReconcileConfig) []reconcileTask {
	return []reconcileTask{
		{
			name:     constants.ReconcileTaskCleanExpiredLocks,
			schedule: cfg.CleanExpiredLocks,
			run: func(ctx context.Context) (interface{}, error) {
				released, err := c.StockService.CleanExpiredLocks(ctx)
				return map[string]int{"released": released}, err
			},
		},
		{
			name:     constants.ReconcileTaskUnpaidOrders,
			schedule: cfg.UnpaidOrders,
			run: func(ctx context.Context) (interface{}, error) {
				return c.CompensationService.CompensateUnpaidOrders(ctx)
			},
		},
		{
			name:     constants.ReconcileTaskPaidUndeducted,
			schedule: cfg.PaidUndeductedOrders,
			run: func(ctx context.Context) (interface{}, error) {
				return c.CompensationService.CompensatePaidUndeducted(ctx)
			},
		},
		{
			name:     constants.ReconcileTaskProcessUnsyncedLogs,
			schedule: cfg.UnsyncedLogs,
			run: func(ctx context.Context) (interface{}, error) {
				processed, err := c.StockSyncService.ProcessUnsyncedLogs(ctx)
				return map[string]int{"processed": processed}, err
			},
		},
		{
			name:     constants.ReconcileTaskFullSync,
			schedule: cfg.FullSync,
			run: func(ctx context.Context) (interface{}, error) {
				return c.StockSyncService.SyncAll(ctx)
			},
		},
		{
			name:     constants.ReconcileTaskTimeoutOrders,
			schedule: cfg.TimeoutOrders,
			run: func(ctx context.Context) (interface{}, error) {
				canceled, err := c.OrderService.HandleTimeoutOrders(ctx)
				return map[string]int{"canceled": canceled}, err
			},
		},
		{
			name:     constants.ReconcileTaskConsistencyCheck,
			schedule: cfg.ConsistencyCheck,
			run: func(ctx context.Context) (interface{}, error) {
				items, err := c.StockSyncService.CheckConsistency(ctx)
				if err == nil && len(items) > 0 {
					logger.Warnw("reconcile_consistency_mismatch", "count", len(items))
				}
				return items, err
			},
		},
	}
}

// TaskNames 返回全部任务名称
func (r *Reconciler) TaskNames() []string {
	names := make([]string, 0, len(r.tasks))
	for _, task := range r.tasks {
		names = append(names, task.name)
	}
	return names
}

// RunTask 立即执行一次指定任务
func (r *Reconciler) RunTask(ctx context.Context, name string) (interface{}, error) {
	idx, ok := r.index[name]
	if !ok {
		return nil, ErrUnknownTask
	}
	task := r.tasks[idx]
	started := time.Now()
	result, err := task.run(ctx)
	metrics.ObserveReconcile(task.name, started)
	if err != nil {
		logger.Warnw("reconcile_task_failed", "task", task.name, "duration_ms", time.Since(started).Milliseconds(), "error", err)
		return result, err
	}
	logger.Infow("reconcile_task_done", "task", task.name, "duration_ms", time.Since(started).Milliseconds())
	return result, nil
}

// Name 服务名称
func (r *Reconciler) Name() string {
	return "reconciler"
}

// Start 启动调度，阻塞至 ctx 结束
func (r *Reconciler) Start(ctx context.Context) error {
	r.baseCtx = ctx
	r.cron.Start()
	logger.Infow("reconciler_started", "entries", len(r.cron.Entries()))
	<-ctx.Done()
	<-r.cron.Stop().Done()
	close(r.done)
	return nil
}

// Stop 等待正在执行的任务结束
func (r *Reconciler) Stop(ctx context.Context) error {
	select {
	case <-r.done:
	case <-ctx.Done():
		return ctx.Err()
	}
	return nil
}

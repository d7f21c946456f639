package app

import (
	"errors"

	"github.com/stockpilot/internal/config"
	"github.com/stockpilot/internal/logger"
	"github.com/stockpilot/internal/provider"
	"github.com/stockpilot/internal/router"
	"github.com/stockpilot/internal/worker"
)

// BuildRunner 构建服务运行器
func BuildRunner(cfg *config.Config, mode string) (*Runner, error) {
	if cfg == nil {
		return nil, errors.New("config is nil")
	}
	if mode != ModeAll && mode != ModeAPI && mode != ModeWorker {
		return nil, errors.New("unknown mode: " + mode)
	}

	container := provider.NewContainer(cfg)
	reconciler, err := worker.NewReconciler(container)
	if err != nil {
		return nil, err
	}

	// 进程内通知与事件发布在任何模式下都需要消费
	services := []Service{container.LocalNotifier}
	if container.KafkaPublisher != nil {
		services = append(services, container.KafkaPublisher)
	}

	// 初始化 HTTP 服务
	if mode == ModeAll || mode == ModeAPI {
		engine := router.SetupRouter(cfg, container, reconciler)
		addr := cfg.Server.Host + ":" + cfg.Server.Port
		services = append(services, NewHTTPService(addr, engine))
	}

	// 初始化 Worker 服务
	if mode == ModeAll || mode == ModeWorker {
		if container.QueueClient.Enabled() {
			consumer := worker.NewConsumer(container)
			workerService, err := worker.NewService(&cfg.Queue, consumer)
			if err != nil {
				return nil, err
			}
			services = append(services, workerService)
		} else {
			logger.Warnw("app_worker_queue_disabled", "mode", mode)
		}
		if cfg.Reconcile.Enabled {
			services = append(services, reconciler)
		} else {
			logger.Warnw("app_reconciler_disabled", "mode", mode)
		}
	}

	return NewRunner(services...), nil
}

// Run 应用启动入口
func Run(opts Options) error {
	opts = normalizeOptions(opts)
	if opts.Config == nil {
		return errors.New("config is nil")
	}

	runner, err := BuildRunner(opts.Config, opts.Mode)
	if err != nil {
		return err
	}

	addr := opts.Config.Server.Host + ":" + opts.Config.Server.Port
	opts.Logger.Infow("app_start", "addr", addr, "mode", opts.Mode)
	return RunWithOptions(runner, opts)
}

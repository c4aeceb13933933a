package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"go.uber.org/zap"

	"github.com/qs3c/entitlement_server/config"
	"github.com/qs3c/entitlement_server/internal/app"
	"github.com/qs3c/entitlement_server/internal/pkg/cron"
	"github.com/qs3c/entitlement_server/internal/pkg/email"
	"github.com/qs3c/entitlement_server/internal/pkg/logger"
	"github.com/qs3c/entitlement_server/internal/pkg/pubsub"
	"github.com/qs3c/entitlement_server/internal/worker"
)

func main() {
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "config.yaml"
	}

	// 加载配置
	cfg, err := config.Load(configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	zl, err := logger.New(cfg.Log)
	if err != nil {
		log.Fatalf("Cannot initialize logger: %v", err)
	}
	defer zl.Sync()

	// 监听退出信号
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg, zl)
	if err != nil {
		zl.Fatal("Cannot initialize application", zap.Error(err))
	}
	defer a.Close()

	// 到期降级定时任务
	sweeper, err := cron.NewService(a.Entitlements, cfg.Sweep.Schedule, zl)
	if err != nil {
		zl.Fatal("Cannot schedule lapse sweep", zap.Error(err))
	}
	sweeper.Start()
	defer sweeper.Stop()

	// 通知任务处理器
	processor := worker.NewProcessor(a.Users, a.Settings, a.Plans, email.NewService(&cfg.Email), a.Notifications, zl)
	consumer := worker.NewConsumer(a.Notifications, processor, zl)

	var wg sync.WaitGroup

	// 生命周期事件审计日志
	wg.Add(1)
	go func() {
		defer wg.Done()
		err := pubsub.NewSubscriber(a.Redis).Subscribe(ctx, func(evt *pubsub.LifecycleEvent) {
			zl.Info("lifecycle event",
				zap.String("subscription_id", evt.SubscriptionID),
				zap.String("action", evt.Action),
				zap.String("from", evt.FromStatus),
				zap.String("to", evt.ToStatus),
				zap.Int64("actor_id", evt.ActorID),
				zap.Int64("version", evt.Version),
			)
		})
		if err != nil && ctx.Err() == nil {
			zl.Error("lifecycle subscription stopped", zap.Error(err))
		}
	}()

	zl.Info("Worker started",
		zap.Int("max_workers", cfg.Queue.MaxWorkers),
		zap.String("queue", a.Notifications.Name()),
		zap.String("sweep_schedule", cfg.Sweep.Schedule),
	)
	consumer.Run(ctx, cfg.Queue.MaxWorkers)

	wg.Wait()
	zl.Info("Worker shutdown complete")
}

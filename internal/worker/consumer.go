package worker

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/qs3c/entitlement_server/internal/pkg/queue"
)

// Source 阻塞读取任务
type Source interface {
	Pop(ctx context.Context, timeout time.Duration) (*queue.NotificationJob, error)
}

// Handler 处理单个任务
type Handler interface {
	Process(ctx context.Context, job *queue.NotificationJob) error
}

// Consumer 启动固定数量的 worker 循环消费队列
type Consumer struct {
	source     Source
	handler    Handler
	logger     *zap.Logger
	popTimeout time.Duration
	errBackoff time.Duration
}

func NewConsumer(source Source, handler Handler, logger *zap.Logger) *Consumer {
	return &Consumer{
		source:     source,
		handler:    handler,
		logger:     logger,
		popTimeout: 5 * time.Second,
		errBackoff: time.Second,
	}
}

// Run 阻塞直到 ctx 结束且所有 worker 退出
func (c *Consumer) Run(ctx context.Context, workers int) {
	if workers < 1 {
		workers = 1
	}

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()
			c.loop(ctx, workerID)
		}(i)
	}
	wg.Wait()
}

func (c *Consumer) loop(ctx context.Context, workerID int) {
	log := c.logger.With(zap.Int("worker", workerID))
	for {
		select {
		case <-ctx.Done():
			log.Info("worker shutting down")
			return
		default:
		}

		job, err := c.source.Pop(ctx, c.popTimeout)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			log.Warn("failed to pop job", zap.Error(err))
			select {
			case <-ctx.Done():
				return
			case <-time.After(c.errBackoff):
			}
			continue
		}
		if job == nil {
			continue // 超时，继续等待
		}

		if err := c.handler.Process(ctx, job); err != nil {
			log.Warn("job failed",
				zap.String("action", job.Action),
				zap.String("subscription_id", job.SubscriptionID),
				zap.Error(err),
			)
		}
	}
}

package cron

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// Sweeper 到期权益清理
type Sweeper interface {
	SweepLapsed(ctx context.Context) (int64, error)
}

type Service struct {
	cron    *cron.Cron
	sweeper Sweeper
	logger  *zap.Logger
	timeout time.Duration

	mu      sync.Mutex
	lastRun time.Time
}

// NewService schedule 使用标准 cron 表达式或 @every 描述符
func NewService(sweeper Sweeper, schedule string, logger *zap.Logger) (*Service, error) {
	cl := cronLogger{logger.Sugar()}
	s := &Service{
		cron: cron.New(cron.WithChain(
			cron.Recover(cl),
			cron.SkipIfStillRunning(cl),
		)),
		sweeper: sweeper,
		logger:  logger,
		timeout: 5 * time.Minute,
	}

	if _, err := s.cron.AddFunc(schedule, s.runSweep); err != nil {
		return nil, errors.Wrapf(err, "invalid sweep schedule %q", schedule)
	}
	return s, nil
}

// Start 启动定时任务
func (s *Service) Start() {
	s.cron.Start()
	s.logger.Info("cron service started", zap.Int("jobs", len(s.cron.Entries())))
}

// Stop 停止调度并等待运行中的任务结束
func (s *Service) Stop() {
	<-s.cron.Stop().Done()
	s.logger.Info("cron service stopped")
}

// RunNow 立即执行一次清理（用于测试或手动触发）
func (s *Service) RunNow(ctx context.Context) (int64, error) {
	n, err := s.sweeper.SweepLapsed(ctx)
	if err == nil {
		s.mu.Lock()
		s.lastRun = time.Now()
		s.mu.Unlock()
	}
	return n, err
}

// LastRun 最近一次成功执行的时间
func (s *Service) LastRun() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastRun
}

func (s *Service) runSweep() {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()

	n, err := s.RunNow(ctx)
	if err != nil {
		s.logger.Error("lapse sweep failed", zap.Error(err))
		return
	}
	s.logger.Debug("lapse sweep finished", zap.Int64("downgraded", n))
}

// cronLogger 把 cron 内部日志接到 zap
type cronLogger struct {
	l *zap.SugaredLogger
}

func (c cronLogger) Info(msg string, keysAndValues ...interface{}) {
	c.l.Debugw(msg, keysAndValues...)
}

func (c cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	c.l.Errorw(msg, append(keysAndValues, "error", err)...)
}

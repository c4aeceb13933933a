package worker

import (
	"context"
	"errors"

	pkgerrors "github.com/pkg/errors"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/qs3c/entitlement_server/internal/model"
	"github.com/qs3c/entitlement_server/internal/pkg/email"
	"github.com/qs3c/entitlement_server/internal/pkg/queue"
	"github.com/qs3c/entitlement_server/internal/repository"
	"github.com/qs3c/entitlement_server/internal/service"
)

// MaxAttempts 单个通知最多投递次数
const MaxAttempts = 3

// Mailer 发送邮件
type Mailer interface {
	Send(msg *email.Message) error
}

// JobQueue 失败重投
type JobQueue interface {
	Push(ctx context.Context, job *queue.NotificationJob) error
}

// Processor 通知任务处理器
type Processor struct {
	userRepo *repository.UserRepository
	settings *service.SettingService
	plans    *service.PlanService
	mailer   Mailer
	retry    JobQueue
	logger   *zap.Logger
}

// NewProcessor 创建任务处理器
func NewProcessor(
	userRepo *repository.UserRepository,
	settings *service.SettingService,
	plans *service.PlanService,
	mailer Mailer,
	retry JobQueue,
	logger *zap.Logger,
) *Processor {
	return &Processor{
		userRepo: userRepo,
		settings: settings,
		plans:    plans,
		mailer:   mailer,
		retry:    retry,
		logger:   logger,
	}
}

// Process 处理一条通知。发送失败时在次数上限内重新入队
func (p *Processor) Process(ctx context.Context, job *queue.NotificationJob) error {
	enabled, err := p.settings.GetBool(ctx, model.SettingNotificationsEnabled)
	if err != nil {
		return pkgerrors.Wrap(err, "failed to read notification setting")
	}
	if !enabled {
		p.logger.Debug("notifications disabled, dropping job",
			zap.String("action", job.Action),
			zap.String("subscription_id", job.SubscriptionID),
		)
		return nil
	}

	user, err := p.userRepo.GetByID(ctx, job.UserID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			p.logger.Warn("notification for unknown user dropped", zap.Int64("user_id", job.UserID))
			return nil
		}
		return p.requeue(ctx, job, pkgerrors.Wrap(err, "failed to load user"))
	}

	msg, err := email.Compose(user.Email, email.Notification{
		Kind:         job.Action,
		PlanName:     p.plans.Name(job.PlanID),
		PeriodEnd:    job.PeriodEnd,
		RefundAmount: job.RefundAmount,
		Currency:     job.Currency,
	})
	if err != nil {
		// 无法渲染的任务重试也不会成功
		return pkgerrors.Wrap(err, "failed to compose notification")
	}

	if err := p.mailer.Send(msg); err != nil {
		return p.requeue(ctx, job, pkgerrors.Wrap(err, "failed to send notification"))
	}

	p.logger.Info("notification sent",
		zap.String("action", job.Action),
		zap.String("subscription_id", job.SubscriptionID),
		zap.Int64("user_id", job.UserID),
	)
	return nil
}

func (p *Processor) requeue(ctx context.Context, job *queue.NotificationJob, cause error) error {
	job.Attempts++
	if job.Attempts >= MaxAttempts {
		p.logger.Error("notification dropped after max attempts",
			zap.String("subscription_id", job.SubscriptionID),
			zap.Int("attempts", job.Attempts),
			zap.Error(cause),
		)
		return cause
	}
	if err := p.retry.Push(ctx, job); err != nil {
		p.logger.Error("failed to requeue notification", zap.Error(err))
	}
	return cause
}

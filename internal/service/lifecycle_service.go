package service

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/qs3c/entitlement_server/internal/model"
	"github.com/qs3c/entitlement_server/internal/model/dto"
	"github.com/qs3c/entitlement_server/internal/pkg/apperr"
	"github.com/qs3c/entitlement_server/internal/pkg/email"
	"github.com/qs3c/entitlement_server/internal/pkg/metrics"
	"github.com/qs3c/entitlement_server/internal/pkg/payment"
	"github.com/qs3c/entitlement_server/internal/pkg/pubsub"
	"github.com/qs3c/entitlement_server/internal/pkg/queue"
	"github.com/qs3c/entitlement_server/internal/repository"
)

// LifecyclePublisher 提交后广播生命周期事件
type LifecyclePublisher interface {
	PublishLifecycle(ctx context.Context, evt *pubsub.LifecycleEvent) error
}

// NotificationQueue 提交后投递通知任务
type NotificationQueue interface {
	Push(ctx context.Context, job *queue.NotificationJob) error
}

type LifecycleOption func(*LifecycleService)

func WithPublisher(p LifecyclePublisher) LifecycleOption {
	return func(s *LifecycleService) { s.publisher = p }
}

func WithNotifications(q NotificationQueue) LifecycleOption {
	return func(s *LifecycleService) { s.notifications = q }
}

func WithMetrics(m *metrics.Metrics) LifecycleOption {
	return func(s *LifecycleService) { s.metrics = m }
}

// WithSerializable 以 SERIALIZABLE 隔离级别运行事务
func WithSerializable() LifecycleOption {
	return func(s *LifecycleService) {
		s.txOpts = &sql.TxOptions{Isolation: sql.LevelSerializable}
	}
}

func WithClock(now func() time.Time) LifecycleOption {
	return func(s *LifecycleService) { s.now = now }
}

// LifecycleService 订阅的取消、恢复与退款。
//
// 每个操作在一个事务内完成：锁行读取、校验、调用支付方、按版本号写回。
// 支付方调用失败时事务回滚，本地状态不变。
type LifecycleService struct {
	db         *gorm.DB
	subRepo    *repository.SubscriptionRepository
	refundRepo *repository.RefundRepository
	eventRepo  *repository.EventRepository
	userRepo   *repository.UserRepository
	plans      *PlanService
	settings   *SettingService
	processor  payment.Processor
	logger     *zap.Logger

	publisher     LifecyclePublisher
	notifications NotificationQueue
	metrics       *metrics.Metrics
	txOpts        *sql.TxOptions
	now           func() time.Time
}

func NewLifecycleService(
	db *gorm.DB,
	subRepo *repository.SubscriptionRepository,
	refundRepo *repository.RefundRepository,
	eventRepo *repository.EventRepository,
	userRepo *repository.UserRepository,
	plans *PlanService,
	settings *SettingService,
	processor payment.Processor,
	logger *zap.Logger,
	opts ...LifecycleOption,
) *LifecycleService {
	s := &LifecycleService{
		db:         db,
		subRepo:    subRepo,
		refundRepo: refundRepo,
		eventRepo:  eventRepo,
		userRepo:   userRepo,
		plans:      plans,
		settings:   settings,
		processor:  processor,
		logger:     logger,
		now:        func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// transition 一次已提交的状态变更，用于提交后的副作用
type transition struct {
	action string
	sub    model.Subscription
	from   model.SubscriptionStatus
	actor  *model.Actor
	refund *model.Refund
}

// Cancel 取消订阅：立即置为 CANCELED 并标记周期末终止，权益保留到当前周期结束
func (s *LifecycleService) Cancel(ctx context.Context, id string, actor *model.Actor) (*dto.SubscriptionInfo, error) {
	start := time.Now()
	info, err := s.cancel(ctx, id, actor)
	s.observe(model.ActionCancel, err, start)
	return info, err
}

func (s *LifecycleService) cancel(ctx context.Context, id string, actor *model.Actor) (*dto.SubscriptionInfo, error) {
	if err := authorize(actor); err != nil {
		return nil, err
	}

	now := s.now()
	var t *transition
	var processorDone, wasPendingCancel bool
	var ref payment.SubscriptionRef

	err := s.inTx(ctx, func(tx *gorm.DB) error {
		sub, err := s.lock(ctx, tx, id, actor)
		if err != nil {
			return err
		}
		if sub.Status == model.StatusCanceled {
			return ErrAlreadyCanceled
		}

		ref = refOf(sub)
		wasPendingCancel = sub.CancelAtPeriodEnd
		if err := s.processor.Cancel(ctx, ref); err != nil {
			return processorError("cancel", err)
		}
		processorDone = true

		from := sub.Status
		sub.Status = model.StatusCanceled
		sub.CancelAtPeriodEnd = true
		if err := s.save(ctx, tx, sub, now); err != nil {
			return err
		}
		if err := s.appendEvent(ctx, tx, sub, model.ActionCancel, from, actor, now, ""); err != nil {
			return err
		}

		t = &transition{action: model.ActionCancel, sub: *sub, from: from, actor: actor}
		return nil
	})
	if err != nil {
		// 原本已在周期末取消时支付方状态未变，无需回滚
		if processorDone && !wasPendingCancel {
			s.compensate(ctx, "cancel", ref, s.processor.Resume)
		}
		return nil, s.logFailure(model.ActionCancel, id, actor, err)
	}

	s.afterCommit(ctx, t)
	return dto.NewSubscriptionInfo(&t.sub, s.plans.Name(t.sub.PlanID), now), nil
}

// Reactivate 恢复订阅并开启新的计费周期
func (s *LifecycleService) Reactivate(ctx context.Context, id string, actor *model.Actor) (*dto.SubscriptionInfo, error) {
	start := time.Now()
	info, err := s.reactivate(ctx, id, actor)
	s.observe(model.ActionReactivate, err, start)
	return info, err
}

func (s *LifecycleService) reactivate(ctx context.Context, id string, actor *model.Actor) (*dto.SubscriptionInfo, error) {
	if err := authorize(actor); err != nil {
		return nil, err
	}

	now := s.now()
	var t *transition
	var processorDone, wasPendingCancel bool
	var ref payment.SubscriptionRef

	err := s.inTx(ctx, func(tx *gorm.DB) error {
		sub, err := s.lock(ctx, tx, id, actor)
		if err != nil {
			return err
		}
		if sub.Status == model.StatusActive && !sub.CancelAtPeriodEnd {
			return ErrAlreadyActive
		}
		plan, err := s.plan(sub)
		if err != nil {
			return err
		}

		ref = refOf(sub)
		wasPendingCancel = sub.CancelAtPeriodEnd
		if err := s.processor.Resume(ctx, ref); err != nil {
			return processorError("resume", err)
		}
		processorDone = true

		from := sub.Status
		prevEnd := sub.CurrentPeriodEnd
		end := plan.Cycle.Next(now)
		if !end.After(prevEnd) {
			end = plan.Cycle.Next(prevEnd)
		}
		sub.Status = model.StatusActive
		sub.CancelAtPeriodEnd = false
		sub.CurrentPeriodStart = now
		sub.CurrentPeriodEnd = end

		if err := s.save(ctx, tx, sub, now); err != nil {
			return err
		}
		if err := s.userRepo.WithTx(tx).UpdateEntitlement(ctx, sub.UserID, plan.ID, &end); err != nil {
			return apperr.Internal("failed to restore entitlement", err)
		}
		if err := s.appendEvent(ctx, tx, sub, model.ActionReactivate, from, actor, now, ""); err != nil {
			return err
		}

		t = &transition{action: model.ActionReactivate, sub: *sub, from: from, actor: actor}
		return nil
	})
	if err != nil {
		if processorDone && wasPendingCancel {
			s.compensate(ctx, "resume", ref, s.processor.Cancel)
		}
		return nil, s.logFailure(model.ActionReactivate, id, actor, err)
	}

	s.afterCommit(ctx, t)
	return dto.NewSubscriptionInfo(&t.sub, s.plans.Name(t.sub.PlanID), now), nil
}

// RefundInput 退款参数，金额单位为分
type RefundInput struct {
	Amount         int64
	Reason         string
	IdempotencyKey string
}

// Refund 管理员退款。金额达到套餐最大可退金额时强制取消订阅。
// 带幂等键的重复请求直接返回已记录的退款，不再调用支付方。
func (s *LifecycleService) Refund(ctx context.Context, id string, in RefundInput, actor *model.Actor) (*dto.RefundResult, error) {
	start := time.Now()
	res, err := s.refund(ctx, id, in, actor)
	s.observe(model.ActionRefund, err, start)
	return res, err
}

func (s *LifecycleService) refund(ctx context.Context, id string, in RefundInput, actor *model.Actor) (*dto.RefundResult, error) {
	if err := requireAdmin(actor); err != nil {
		return nil, err
	}
	if in.Amount <= 0 {
		return nil, ErrInvalidAmount
	}
	reason := strings.TrimSpace(in.Reason)
	if !dto.ValidRefundReason(reason) {
		return nil, ErrInvalidReason
	}
	key := strings.TrimSpace(in.IdempotencyKey)
	if len(key) > 100 {
		return nil, apperr.InvalidArgument("idempotency key must be at most 100 characters")
	}

	enabled, err := s.settings.GetBool(ctx, model.SettingRefundsEnabled)
	if err != nil {
		return nil, err
	}

	now := s.now()
	var t *transition
	var replay *dto.RefundResult

	err = s.inTx(ctx, func(tx *gorm.DB) error {
		sub, err := s.lock(ctx, tx, id, actor)
		if err != nil {
			return err
		}

		refunds := s.refundRepo.WithTx(tx)
		if key != "" {
			prev, err := refunds.GetByIdempotencyKey(ctx, key)
			switch {
			case err == nil:
				if prev.SubscriptionID != sub.ID || prev.Amount != in.Amount || prev.Reason != reason {
					return ErrIdempotencyKeyReused
				}
				replay = &dto.RefundResult{
					Subscription: dto.NewSubscriptionInfo(sub, s.plans.Name(sub.PlanID), now),
					Refund:       dto.NewRefundInfo(prev),
					Replayed:     true,
				}
				return nil
			case !errors.Is(err, gorm.ErrRecordNotFound):
				return apperr.Internal("failed to look up idempotency key", err)
			}
		}

		plan, err := s.plan(sub)
		if err != nil {
			return err
		}
		if in.Amount > plan.MaxRefundable {
			return ErrAmountExceedsMax
		}
		if !enabled {
			return ErrRefundsDisabled
		}
		refunded, err := refunds.SumBySubscription(ctx, sub.ID)
		if err != nil {
			return apperr.Internal("failed to sum previous refunds", err)
		}
		if refunded+in.Amount > plan.MaxRefundable {
			return ErrRefundTotalExceeded
		}

		forced := in.Amount >= plan.MaxRefundable
		processorRefundID, err := s.processor.Refund(ctx, refOf(sub), payment.RefundParams{
			Amount:             in.Amount,
			Currency:           plan.Currency,
			Reason:             reason,
			IdempotencyKey:     key,
			CancelSubscription: forced && sub.Status != model.StatusCanceled,
		})
		if err != nil {
			return processorError("refund", err)
		}

		record := &model.Refund{
			ID:                uuid.NewString(),
			SubscriptionID:    sub.ID,
			UserID:            sub.UserID,
			Amount:            in.Amount,
			Currency:          plan.Currency,
			Reason:            reason,
			ProcessedBy:       actor.UserID,
			ProcessorRefundID: processorRefundID,
			ForcedCancel:      forced,
			CreatedAt:         now,
		}
		if key != "" {
			record.IdempotencyKey = &key
		}
		if err := refunds.Create(ctx, record); err != nil {
			// 支付方已退款，本地记录失败需要人工对账
			s.logger.Error("refund issued but not recorded",
				zap.String("subscription_id", sub.ID),
				zap.String("processor_refund_id", processorRefundID),
				zap.Int64("amount", in.Amount),
				zap.Error(err),
			)
			return apperr.Internal("failed to record refund", err)
		}

		from := sub.Status
		if forced {
			sub.Status = model.StatusCanceled
			sub.CancelAtPeriodEnd = true
		}
		if err := s.save(ctx, tx, sub, now); err != nil {
			return err
		}
		detail := "amount=" + email.FormatAmount(in.Amount, plan.Currency)
		if err := s.appendEvent(ctx, tx, sub, model.ActionRefund, from, actor, now, detail); err != nil {
			return err
		}

		t = &transition{action: model.ActionRefund, sub: *sub, from: from, actor: actor, refund: record}
		return nil
	})
	if err != nil {
		return nil, s.logFailure(model.ActionRefund, id, actor, err)
	}
	if replay != nil {
		s.logger.Info("refund replayed",
			zap.String("subscription_id", id),
			zap.String("refund_id", replay.Refund.ID),
		)
		return replay, nil
	}

	s.afterCommit(ctx, t)
	return &dto.RefundResult{
		Subscription: dto.NewSubscriptionInfo(&t.sub, s.plans.Name(t.sub.PlanID), now),
		Refund:       dto.NewRefundInfo(t.refund),
	}, nil
}

func (s *LifecycleService) inTx(ctx context.Context, fn func(tx *gorm.DB) error) error {
	if s.txOpts != nil {
		return s.db.WithContext(ctx).Transaction(fn, s.txOpts)
	}
	return s.db.WithContext(ctx).Transaction(fn)
}

// lock 非管理员只能看到自己的订阅，不存在与无权访问都返回 NotFound
func (s *LifecycleService) lock(ctx context.Context, tx *gorm.DB, id string, actor *model.Actor) (*model.Subscription, error) {
	var owner *int64
	if !actor.IsAdmin() {
		owner = &actor.UserID
	}
	sub, err := s.subRepo.WithTx(tx).GetForUpdate(ctx, id, owner)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrSubscriptionNotFound
		}
		return nil, apperr.Internal("failed to load subscription", err)
	}
	return sub, nil
}

func (s *LifecycleService) plan(sub *model.Subscription) (*Plan, error) {
	plan, ok := s.plans.Get(sub.PlanID)
	if !ok {
		return nil, apperr.Internal("plan "+sub.PlanID+" is not configured", nil)
	}
	return plan, nil
}

func (s *LifecycleService) save(ctx context.Context, tx *gorm.DB, sub *model.Subscription, now time.Time) error {
	if err := s.subRepo.WithTx(tx).SaveState(ctx, sub, now); err != nil {
		if errors.Is(err, repository.ErrVersionConflict) {
			return ErrConcurrentUpdate
		}
		return apperr.Internal("failed to save subscription", err)
	}
	return nil
}

func (s *LifecycleService) appendEvent(ctx context.Context, tx *gorm.DB, sub *model.Subscription, action string, from model.SubscriptionStatus, actor *model.Actor, now time.Time, detail string) error {
	evt := &model.SubscriptionEvent{
		SubscriptionID: sub.ID,
		Action:         action,
		FromStatus:     from,
		ToStatus:       sub.Status,
		ActorID:        actor.UserID,
		ActorRole:      actor.Role,
		Detail:         detail,
		CreatedAt:      now,
	}
	if err := s.eventRepo.WithTx(tx).Create(ctx, evt); err != nil {
		return apperr.Internal("failed to record lifecycle event", err)
	}
	return nil
}

// compensate 支付方已执行但本地提交失败时尽力回滚支付方状态
func (s *LifecycleService) compensate(ctx context.Context, op string, ref payment.SubscriptionRef, undo func(context.Context, payment.SubscriptionRef) error) {
	if err := undo(context.WithoutCancel(ctx), ref); err != nil {
		s.logger.Error("failed to undo processor call after local failure",
			zap.String("op", op),
			zap.String("processor_subscription_id", ref.SubscriptionID),
			zap.Error(err),
		)
	}
}

// afterCommit 事务提交后的事件、通知与日志，失败只记录不回滚
func (s *LifecycleService) afterCommit(ctx context.Context, t *transition) {
	ctx = context.WithoutCancel(ctx)

	fields := []zap.Field{
		zap.String("action", t.action),
		zap.String("subscription_id", t.sub.ID),
		zap.String("from", string(t.from)),
		zap.String("to", string(t.sub.Status)),
		zap.Int64("actor_id", t.actor.UserID),
		zap.Int64("version", t.sub.Version),
	}
	if t.refund != nil {
		fields = append(fields, zap.Int64("amount", t.refund.Amount), zap.Bool("forced_cancel", t.refund.ForcedCancel))
		if s.metrics != nil {
			s.metrics.AddRefunded(t.refund.Currency, t.refund.Amount)
		}
	}
	s.logger.Info("subscription lifecycle transition", fields...)

	if s.publisher != nil {
		evt := &pubsub.LifecycleEvent{
			SubscriptionID: t.sub.ID,
			UserID:         t.sub.UserID,
			Action:         t.action,
			FromStatus:     string(t.from),
			ToStatus:       string(t.sub.Status),
			ActorID:        t.actor.UserID,
			Version:        t.sub.Version,
			OccurredAt:     t.sub.UpdatedAt,
		}
		if t.refund != nil {
			evt.RefundAmount = t.refund.Amount
		}
		if err := s.publisher.PublishLifecycle(ctx, evt); err != nil {
			s.logger.Warn("failed to publish lifecycle event", zap.String("subscription_id", t.sub.ID), zap.Error(err))
		}
	}

	if s.notifications != nil {
		job := &queue.NotificationJob{
			Action:         t.action,
			SubscriptionID: t.sub.ID,
			UserID:         t.sub.UserID,
			PlanID:         t.sub.PlanID,
			PeriodEnd:      t.sub.CurrentPeriodEnd,
		}
		if t.refund != nil {
			job.RefundAmount = t.refund.Amount
			job.Currency = t.refund.Currency
		}
		if err := s.notifications.Push(ctx, job); err != nil {
			s.logger.Warn("failed to enqueue notification", zap.String("subscription_id", t.sub.ID), zap.Error(err))
		}
	}
}

func (s *LifecycleService) logFailure(action, id string, actor *model.Actor, err error) error {
	if apperr.KindOf(err) == apperr.KindInternal {
		var actorID int64
		if actor != nil {
			actorID = actor.UserID
		}
		s.logger.Error("subscription lifecycle operation failed",
			zap.String("action", action),
			zap.String("subscription_id", id),
			zap.Int64("actor_id", actorID),
			zap.Error(err),
		)
	}
	return err
}

func (s *LifecycleService) observe(action string, err error, start time.Time) {
	if s.metrics == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = string(apperr.KindOf(err))
	}
	s.metrics.ObserveLifecycle(action, outcome, time.Since(start))
}

func refOf(sub *model.Subscription) payment.SubscriptionRef {
	return payment.SubscriptionRef{
		CustomerID:     sub.ProcessorCustomerID,
		SubscriptionID: sub.ProcessorSubscriptionID,
	}
}

// processorError 支付方失败统一归为 Internal；未绑定支付记录属于状态错误
func processorError(op string, err error) error {
	if errors.Is(err, payment.ErrNotBound) {
		return ErrNotRefundable
	}
	return apperr.Internal("payment processor "+op+" failed", err)
}

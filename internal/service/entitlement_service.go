package service

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/qs3c/entitlement_server/internal/model"
	"github.com/qs3c/entitlement_server/internal/pkg/apperr"
	"github.com/qs3c/entitlement_server/internal/pkg/metrics"
	"github.com/qs3c/entitlement_server/internal/pkg/queue"
	"github.com/qs3c/entitlement_server/internal/repository"
)

const sweepBatchSize = 100

// EntitlementService 权益判定与到期降级
type EntitlementService struct {
	subRepo       *repository.SubscriptionRepository
	userRepo      *repository.UserRepository
	notifications NotificationQueue
	metrics       *metrics.Metrics
	logger        *zap.Logger
	now           func() time.Time
}

func NewEntitlementService(
	subRepo *repository.SubscriptionRepository,
	userRepo *repository.UserRepository,
	notifications NotificationQueue,
	m *metrics.Metrics,
	logger *zap.Logger,
) *EntitlementService {
	return &EntitlementService{
		subRepo:       subRepo,
		userRepo:      userRepo,
		notifications: notifications,
		metrics:       m,
		logger:        logger,
		now:           func() time.Time { return time.Now().UTC() },
	}
}

// HasAccess 用户当前是否享有付费权益
func (s *EntitlementService) HasAccess(ctx context.Context, userID int64) (bool, error) {
	sub, err := s.subRepo.GetByUserID(ctx, userID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return false, nil
		}
		return false, apperr.Internal("failed to load subscription", err)
	}
	return sub.Entitled(s.now()), nil
}

// SweepLapsed 把已取消且周期结束的用户降级为 free，返回降级人数
func (s *EntitlementService) SweepLapsed(ctx context.Context) (int64, error) {
	now := s.now()
	var total int64

	for {
		subs, err := s.subRepo.ListLapsed(ctx, now, sweepBatchSize)
		if err != nil {
			return total, apperr.Internal("failed to list lapsed subscriptions", err)
		}
		if len(subs) == 0 {
			break
		}

		var n int64
		for i := range subs {
			ok, err := s.userRepo.DowngradeLapsed(ctx, subs[i].UserID, now)
			if err != nil {
				return total, apperr.Internal("failed to downgrade user", err)
			}
			if !ok {
				// 读取后已被重新激活
				continue
			}
			n++
			s.notifyLapsed(ctx, &subs[i])
		}
		total += n

		if len(subs) < sweepBatchSize || n == 0 {
			break
		}
	}

	if total > 0 {
		s.logger.Info("lapsed entitlements downgraded", zap.Int64("count", total))
	}
	if s.metrics != nil {
		s.metrics.AddDowngraded(total)
	}
	return total, nil
}

func (s *EntitlementService) notifyLapsed(ctx context.Context, sub *model.Subscription) {
	if s.notifications == nil {
		return
	}
	err := s.notifications.Push(ctx, &queue.NotificationJob{
		Action:         "lapsed",
		SubscriptionID: sub.ID,
		UserID:         sub.UserID,
		PlanID:         sub.PlanID,
		PeriodEnd:      sub.CurrentPeriodEnd,
	})
	if err != nil {
		s.logger.Warn("failed to enqueue lapse notification", zap.String("subscription_id", sub.ID), zap.Error(err))
	}
}

package service

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	"github.com/qs3c/entitlement_server/internal/model"
	"github.com/qs3c/entitlement_server/internal/model/dto"
	"github.com/qs3c/entitlement_server/internal/pkg/apperr"
	"github.com/qs3c/entitlement_server/internal/repository"
)

// SubscriptionService 订阅只读查询
type SubscriptionService struct {
	subRepo    *repository.SubscriptionRepository
	refundRepo *repository.RefundRepository
	eventRepo  *repository.EventRepository
	plans      *PlanService
	now        func() time.Time
}

func NewSubscriptionService(
	subRepo *repository.SubscriptionRepository,
	refundRepo *repository.RefundRepository,
	eventRepo *repository.EventRepository,
	plans *PlanService,
) *SubscriptionService {
	return &SubscriptionService{
		subRepo:    subRepo,
		refundRepo: refundRepo,
		eventRepo:  eventRepo,
		plans:      plans,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// Get 本人或管理员可见，其他人得到 NotFound
func (s *SubscriptionService) Get(ctx context.Context, id string, actor *model.Actor) (*dto.SubscriptionInfo, error) {
	sub, err := s.visible(ctx, id, actor)
	if err != nil {
		return nil, err
	}
	return s.info(sub), nil
}

// GetMine 当前用户的订阅
func (s *SubscriptionService) GetMine(ctx context.Context, actor *model.Actor) (*dto.SubscriptionInfo, error) {
	if err := authorize(actor); err != nil {
		return nil, err
	}
	sub, err := s.subRepo.GetByUserID(ctx, actor.UserID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrSubscriptionNotFound
		}
		return nil, apperr.Internal("failed to load subscription", err)
	}
	return s.info(sub), nil
}

// List 管理端分页列表
func (s *SubscriptionService) List(ctx context.Context, actor *model.Actor, req *dto.ListSubscriptionsRequest) ([]*dto.SubscriptionInfo, int64, error) {
	if err := requireAdmin(actor); err != nil {
		return nil, 0, err
	}
	status := model.SubscriptionStatus(req.Status)
	if status != "" && !status.Valid() {
		return nil, 0, apperr.InvalidArgument("unknown status")
	}

	subs, total, err := s.subRepo.List(ctx, repository.SubscriptionFilter{
		Status:   status,
		UserID:   req.UserID,
		PlanID:   req.PlanID,
		Page:     req.Page,
		PageSize: req.PageSize,
	})
	if err != nil {
		return nil, 0, apperr.Internal("failed to list subscriptions", err)
	}

	out := make([]*dto.SubscriptionInfo, 0, len(subs))
	for i := range subs {
		out = append(out, s.info(&subs[i]))
	}
	return out, total, nil
}

// ListRefunds 退款记录仅管理员可见
func (s *SubscriptionService) ListRefunds(ctx context.Context, id string, actor *model.Actor) ([]*dto.RefundInfo, error) {
	if err := requireAdmin(actor); err != nil {
		return nil, err
	}
	if _, err := s.visible(ctx, id, actor); err != nil {
		return nil, err
	}

	refunds, err := s.refundRepo.ListBySubscription(ctx, id)
	if err != nil {
		return nil, apperr.Internal("failed to list refunds", err)
	}
	out := make([]*dto.RefundInfo, 0, len(refunds))
	for i := range refunds {
		out = append(out, dto.NewRefundInfo(&refunds[i]))
	}
	return out, nil
}

// ListEvents 生命周期历史，最新的在前
func (s *SubscriptionService) ListEvents(ctx context.Context, id string, actor *model.Actor, limit int) ([]*dto.EventInfo, error) {
	if _, err := s.visible(ctx, id, actor); err != nil {
		return nil, err
	}

	events, err := s.eventRepo.ListBySubscription(ctx, id, limit)
	if err != nil {
		return nil, apperr.Internal("failed to list events", err)
	}
	out := make([]*dto.EventInfo, 0, len(events))
	for i := range events {
		out = append(out, dto.NewEventInfo(&events[i]))
	}
	return out, nil
}

func (s *SubscriptionService) visible(ctx context.Context, id string, actor *model.Actor) (*model.Subscription, error) {
	if err := authorize(actor); err != nil {
		return nil, err
	}
	sub, err := s.subRepo.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrSubscriptionNotFound
		}
		return nil, apperr.Internal("failed to load subscription", err)
	}
	if !actor.CanAccess(sub.UserID) {
		return nil, ErrSubscriptionNotFound
	}
	return sub, nil
}

func (s *SubscriptionService) info(sub *model.Subscription) *dto.SubscriptionInfo {
	return dto.NewSubscriptionInfo(sub, s.plans.Name(sub.PlanID), s.now())
}

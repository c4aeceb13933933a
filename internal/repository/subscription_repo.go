package repository

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/qs3c/entitlement_server/internal/model"
)

// ErrVersionConflict 乐观锁版本不匹配，记录已被并发修改
var ErrVersionConflict = errors.New("subscription was modified concurrently")

// SubscriptionFilter 列表筛选条件
type SubscriptionFilter struct {
	Status   model.SubscriptionStatus
	UserID   int64
	PlanID   string
	Page     int
	PageSize int
}

type SubscriptionRepository struct {
	db *gorm.DB
}

func NewSubscriptionRepository(db *gorm.DB) *SubscriptionRepository {
	return &SubscriptionRepository{db: db}
}

// WithTx 返回绑定到事务的仓储
func (r *SubscriptionRepository) WithTx(tx *gorm.DB) *SubscriptionRepository {
	return &SubscriptionRepository{db: tx}
}

func (r *SubscriptionRepository) Create(ctx context.Context, sub *model.Subscription) error {
	if sub.Version == 0 {
		sub.Version = 1
	}
	return r.db.WithContext(ctx).Create(sub).Error
}

func (r *SubscriptionRepository) GetByID(ctx context.Context, id string) (*model.Subscription, error) {
	var sub model.Subscription
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&sub).Error
	if err != nil {
		return nil, err
	}
	return &sub, nil
}

func (r *SubscriptionRepository) GetByUserID(ctx context.Context, userID int64) (*model.Subscription, error) {
	var sub model.Subscription
	err := r.db.WithContext(ctx).Where("user_id = ?", userID).First(&sub).Error
	if err != nil {
		return nil, err
	}
	return &sub, nil
}

// GetForUpdate 在事务内加行锁读取订阅；ownerID 非 nil 时附加属主条件
// SQLite 不支持行锁，驱动会忽略该子句
func (r *SubscriptionRepository) GetForUpdate(ctx context.Context, id string, ownerID *int64) (*model.Subscription, error) {
	query := r.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("id = ?", id)
	if ownerID != nil {
		query = query.Where("user_id = ?", *ownerID)
	}

	var sub model.Subscription
	if err := query.First(&sub).Error; err != nil {
		return nil, err
	}
	return &sub, nil
}

// SaveState 按期望版本写回状态字段，成功后 sub.Version 递增
func (r *SubscriptionRepository) SaveState(ctx context.Context, sub *model.Subscription, now time.Time) error {
	expected := sub.Version
	res := r.db.WithContext(ctx).Model(&model.Subscription{}).
		Where("id = ? AND version = ?", sub.ID, expected).
		Updates(map[string]interface{}{
			"status":               sub.Status,
			"cancel_at_period_end": sub.CancelAtPeriodEnd,
			"current_period_start": sub.CurrentPeriodStart,
			"current_period_end":   sub.CurrentPeriodEnd,
			"version":              expected + 1,
			"updated_at":           now,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrVersionConflict
	}

	sub.Version = expected + 1
	sub.UpdatedAt = now
	return nil
}

// List 按条件分页查询
func (r *SubscriptionRepository) List(ctx context.Context, f SubscriptionFilter) ([]model.Subscription, int64, error) {
	query := r.db.WithContext(ctx).Model(&model.Subscription{})
	if f.Status != "" {
		query = query.Where("status = ?", f.Status)
	}
	if f.UserID > 0 {
		query = query.Where("user_id = ?", f.UserID)
	}
	if f.PlanID != "" {
		query = query.Where("plan_id = ?", f.PlanID)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	page, pageSize := normalizePage(f.Page, f.PageSize)

	var subs []model.Subscription
	err := query.Order("updated_at DESC").
		Offset((page - 1) * pageSize).
		Limit(pageSize).
		Find(&subs).Error
	if err != nil {
		return nil, 0, err
	}

	return subs, total, nil
}

// ListLapsed 查询已取消、周期已结束且用户仍持有付费权益的订阅
func (r *SubscriptionRepository) ListLapsed(ctx context.Context, now time.Time, limit int) ([]model.Subscription, error) {
	var subs []model.Subscription
	err := r.db.WithContext(ctx).
		Model(&model.Subscription{}).
		Joins("JOIN users ON users.id = subscriptions.user_id").
		Where("subscriptions.status = ?", model.StatusCanceled).
		Where("subscriptions.current_period_end <= ?", now).
		Where("users.entitlement_level <> ?", model.EntitlementFree).
		Order("subscriptions.current_period_end ASC").
		Limit(limit).
		Find(&subs).Error
	return subs, err
}

func normalizePage(page, pageSize int) (int, int) {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = 20
	}
	if pageSize > 100 {
		pageSize = 100
	}
	return page, pageSize
}

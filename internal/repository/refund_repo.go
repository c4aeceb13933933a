package repository

import (
	"context"

	"gorm.io/gorm"

	"github.com/qs3c/entitlement_server/internal/model"
)

type RefundRepository struct {
	db *gorm.DB
}

func NewRefundRepository(db *gorm.DB) *RefundRepository {
	return &RefundRepository{db: db}
}

// WithTx 返回绑定到事务的仓储
func (r *RefundRepository) WithTx(tx *gorm.DB) *RefundRepository {
	return &RefundRepository{db: tx}
}

func (r *RefundRepository) Create(ctx context.Context, refund *model.Refund) error {
	return r.db.WithContext(ctx).Create(refund).Error
}

func (r *RefundRepository) GetByIdempotencyKey(ctx context.Context, key string) (*model.Refund, error) {
	var refund model.Refund
	err := r.db.WithContext(ctx).Where("idempotency_key = ?", key).First(&refund).Error
	if err != nil {
		return nil, err
	}
	return &refund, nil
}

func (r *RefundRepository) ListBySubscription(ctx context.Context, subscriptionID string) ([]model.Refund, error) {
	var refunds []model.Refund
	err := r.db.WithContext(ctx).
		Where("subscription_id = ?", subscriptionID).
		Order("created_at DESC").
		Find(&refunds).Error
	return refunds, err
}

// SumBySubscription 累计退款金额
func (r *RefundRepository) SumBySubscription(ctx context.Context, subscriptionID string) (int64, error) {
	var total int64
	err := r.db.WithContext(ctx).Model(&model.Refund{}).
		Where("subscription_id = ?", subscriptionID).
		Select("COALESCE(SUM(amount), 0)").
		Scan(&total).Error
	return total, err
}

package repository

import (
	"context"

	"gorm.io/gorm"

	"github.com/qs3c/entitlement_server/internal/model"
)

type EventRepository struct {
	db *gorm.DB
}

func NewEventRepository(db *gorm.DB) *EventRepository {
	return &EventRepository{db: db}
}

// WithTx 返回绑定到事务的仓储
func (r *EventRepository) WithTx(tx *gorm.DB) *EventRepository {
	return &EventRepository{db: tx}
}

func (r *EventRepository) Create(ctx context.Context, event *model.SubscriptionEvent) error {
	return r.db.WithContext(ctx).Create(event).Error
}

func (r *EventRepository) ListBySubscription(ctx context.Context, subscriptionID string, limit int) ([]model.SubscriptionEvent, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	var events []model.SubscriptionEvent
	err := r.db.WithContext(ctx).
		Where("subscription_id = ?", subscriptionID).
		Order("id DESC").
		Limit(limit).
		Find(&events).Error
	return events, err
}

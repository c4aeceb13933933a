package model

import (
	"time"
)

// 生命周期动作
const (
	ActionCancel     = "cancel"
	ActionReactivate = "reactivate"
	ActionRefund     = "refund"
)

type SubscriptionEvent struct {
	ID             int64              `gorm:"primaryKey" json:"id"`
	SubscriptionID string             `gorm:"size:36;not null;index" json:"subscription_id"`
	Action         string             `gorm:"size:20;not null" json:"action"`
	FromStatus     SubscriptionStatus `gorm:"size:20;not null" json:"from_status"`
	ToStatus       SubscriptionStatus `gorm:"size:20;not null" json:"to_status"`
	ActorID        int64              `gorm:"not null" json:"actor_id"`
	ActorRole      Role               `gorm:"size:20;not null" json:"actor_role"`
	Detail         string             `gorm:"size:500" json:"detail,omitempty"`
	CreatedAt      time.Time          `gorm:"index" json:"created_at"`
}

func (SubscriptionEvent) TableName() string {
	return "subscription_events"
}

package model

import (
	"time"
)

// Refund 退款审计记录，写入后不再修改
type Refund struct {
	ID                string    `gorm:"primaryKey;size:36" json:"id"`
	SubscriptionID    string    `gorm:"size:36;not null;index" json:"subscription_id"`
	UserID            int64     `gorm:"not null;index" json:"user_id"`
	Amount            int64     `gorm:"not null" json:"amount"`
	Currency          string    `gorm:"size:10;not null" json:"currency"`
	Reason            string    `gorm:"type:text" json:"reason"`
	ProcessedBy       int64     `gorm:"not null" json:"processed_by"`
	ProcessorRefundID string    `gorm:"size:100" json:"processor_refund_id,omitempty"`
	IdempotencyKey    *string   `gorm:"size:100;uniqueIndex" json:"-"`
	ForcedCancel      bool      `gorm:"not null;default:false" json:"forced_cancel"`
	CreatedAt         time.Time `json:"created_at"`
}

func (Refund) TableName() string {
	return "refunds"
}

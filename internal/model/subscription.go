package model

import (
	"time"
)

// SubscriptionStatus 订阅状态
type SubscriptionStatus string

const (
	StatusActive   SubscriptionStatus = "ACTIVE"
	StatusCanceled SubscriptionStatus = "CANCELED"
	StatusPastDue  SubscriptionStatus = "PAST_DUE"
)

// Valid reports whether s is a known status.
func (s SubscriptionStatus) Valid() bool {
	switch s {
	case StatusActive, StatusCanceled, StatusPastDue:
		return true
	}
	return false
}

type Subscription struct {
	ID                      string             `gorm:"primaryKey;size:36" json:"id"`
	UserID                  int64              `gorm:"not null;uniqueIndex" json:"user_id"`
	PlanID                  string             `gorm:"size:50;not null;index" json:"plan_id"`
	Status                  SubscriptionStatus `gorm:"size:20;not null;index" json:"status"`
	CancelAtPeriodEnd       bool               `gorm:"not null;default:false" json:"cancel_at_period_end"`
	CurrentPeriodStart      time.Time          `gorm:"not null" json:"current_period_start"`
	CurrentPeriodEnd        time.Time          `gorm:"not null;index" json:"current_period_end"`
	ProcessorCustomerID     string             `gorm:"size:100" json:"-"`
	ProcessorSubscriptionID string             `gorm:"size:100" json:"-"`
	Version                 int64              `gorm:"not null;default:1" json:"version"`
	CreatedAt               time.Time          `json:"created_at"`
	UpdatedAt               time.Time          `json:"updated_at"`
}

func (Subscription) TableName() string {
	return "subscriptions"
}

// Lapsed 已取消且当前周期已结束
func (s *Subscription) Lapsed(now time.Time) bool {
	return s.Status == StatusCanceled && !now.Before(s.CurrentPeriodEnd)
}

// Entitled 是否仍享有付费权益：取消后保留到周期结束，欠费立即失去
func (s *Subscription) Entitled(now time.Time) bool {
	return s.Status != StatusPastDue && now.Before(s.CurrentPeriodEnd)
}

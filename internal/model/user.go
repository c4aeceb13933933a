package model

import (
	"time"
)

// EntitlementFree 无付费权益时的等级
const EntitlementFree = "free"

type User struct {
	ID                   int64      `gorm:"primaryKey" json:"id"`
	Email                string     `gorm:"size:100;uniqueIndex;not null" json:"email"`
	Role                 Role       `gorm:"size:20;not null;default:member" json:"role"`
	EntitlementLevel     string     `gorm:"size:50;not null;default:free" json:"entitlement_level"`
	EntitlementExpiresAt *time.Time `json:"entitlement_expires_at,omitempty"`
	CreatedAt            time.Time  `json:"created_at"`
	UpdatedAt            time.Time  `json:"updated_at"`
}

func (User) TableName() string {
	return "users"
}

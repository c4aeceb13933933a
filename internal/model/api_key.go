package model

import (
	"time"
)

type APIKey struct {
	ID         int64      `gorm:"primaryKey" json:"id"`
	Name       string     `gorm:"size:100;not null" json:"name"`
	Prefix     string     `gorm:"size:16;not null;uniqueIndex" json:"prefix"`
	Hash       string     `gorm:"size:255;not null" json:"-"`
	OwnerID    int64      `gorm:"not null;index" json:"owner_id"`
	Role       Role       `gorm:"size:20;not null" json:"role"`
	RevokedAt  *time.Time `json:"revoked_at,omitempty"`
	LastUsedAt *time.Time `json:"last_used_at,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
}

func (APIKey) TableName() string {
	return "api_keys"
}

// Active 未吊销
func (k *APIKey) Active() bool {
	return k.RevokedAt == nil
}

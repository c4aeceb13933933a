package model

import (
	"time"
)

// 已知设置项
const (
	SettingRefundsEnabled       = "refunds_enabled"
	SettingNotificationsEnabled = "notifications_enabled"
)

type Setting struct {
	Key       string    `gorm:"primaryKey;column:setting_key;size:100" json:"key"`
	Value     string    `gorm:"type:text" json:"value"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (Setting) TableName() string {
	return "settings"
}

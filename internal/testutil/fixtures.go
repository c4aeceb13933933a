package testutil

import (
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/qs3c/entitlement_server/internal/model"
)

var seq int64

// TestUser 创建测试用户
func TestUser(t *testing.T, db *gorm.DB, opts ...func(*model.User)) *model.User {
	t.Helper()

	user := &model.User{
		Email:            fmt.Sprintf("test_%d@example.com", atomic.AddInt64(&seq, 1)),
		Role:             model.RoleMember,
		EntitlementLevel: model.EntitlementFree,
	}

	for _, opt := range opts {
		opt(user)
	}

	if err := db.Create(user).Error; err != nil {
		t.Fatalf("Failed to create test user: %v", err)
	}

	return user
}

// TestAdmin 创建管理员
func TestAdmin(t *testing.T, db *gorm.DB) *model.User {
	t.Helper()
	return TestUser(t, db, WithRole(model.RoleAdmin))
}

// WithEmail 设置邮箱
func WithEmail(email string) func(*model.User) {
	return func(u *model.User) {
		u.Email = email
	}
}

// WithRole 设置角色
func WithRole(role model.Role) func(*model.User) {
	return func(u *model.User) {
		u.Role = role
	}
}

// WithEntitlement 设置权益等级
func WithEntitlement(level string, expiresAt *time.Time) func(*model.User) {
	return func(u *model.User) {
		u.EntitlementLevel = level
		u.EntitlementExpiresAt = expiresAt
	}
}

// TestSubscription 创建测试订阅，默认 ACTIVE、月付、周期从现在开始
func TestSubscription(t *testing.T, db *gorm.DB, userID int64, opts ...func(*model.Subscription)) *model.Subscription {
	t.Helper()

	now := time.Now().UTC()
	sub := &model.Subscription{
		ID:                      uuid.NewString(),
		UserID:                  userID,
		PlanID:                  "pro_monthly",
		Status:                  model.StatusActive,
		CurrentPeriodStart:      now,
		CurrentPeriodEnd:        now.AddDate(0, 1, 0),
		ProcessorCustomerID:     "cus_test",
		ProcessorSubscriptionID: "sub_test_" + uuid.NewString()[:8],
		Version:                 1,
	}

	for _, opt := range opts {
		opt(sub)
	}

	if err := db.Create(sub).Error; err != nil {
		t.Fatalf("Failed to create test subscription: %v", err)
	}

	return sub
}

// WithPlan 设置套餐
func WithPlan(planID string) func(*model.Subscription) {
	return func(s *model.Subscription) {
		s.PlanID = planID
	}
}

// WithStatus 设置状态，CANCELED 时同时设置 cancel_at_period_end
func WithStatus(status model.SubscriptionStatus) func(*model.Subscription) {
	return func(s *model.Subscription) {
		s.Status = status
		if status == model.StatusCanceled {
			s.CancelAtPeriodEnd = true
		}
	}
}

// WithCancelAtPeriodEnd 设置周期末取消
func WithCancelAtPeriodEnd(v bool) func(*model.Subscription) {
	return func(s *model.Subscription) {
		s.CancelAtPeriodEnd = v
	}
}

// WithPeriod 设置当前计费周期
func WithPeriod(start, end time.Time) func(*model.Subscription) {
	return func(s *model.Subscription) {
		s.CurrentPeriodStart = start
		s.CurrentPeriodEnd = end
	}
}

// TestRefund 创建测试退款记录
func TestRefund(t *testing.T, db *gorm.DB, sub *model.Subscription, amount int64, processedBy int64) *model.Refund {
	t.Helper()

	refund := &model.Refund{
		ID:             uuid.NewString(),
		SubscriptionID: sub.ID,
		UserID:         sub.UserID,
		Amount:         amount,
		Currency:       "usd",
		Reason:         "test refund",
		ProcessedBy:    processedBy,
	}

	if err := db.Create(refund).Error; err != nil {
		t.Fatalf("Failed to create test refund: %v", err)
	}

	return refund
}

package dto

import (
	"strings"
	"time"
	"unicode"

	"github.com/qs3c/entitlement_server/internal/model"
)

// RefundRequest 退款请求
type RefundRequest struct {
	Amount int64  `json:"amount" binding:"required"`
	Reason string `json:"reason" binding:"required,refund_reason"`
}

// SubscriptionInfo 返回给前端的订阅投影
type SubscriptionInfo struct {
	ID                 string `json:"id"`
	UserID             int64  `json:"user_id"`
	PlanID             string `json:"plan_id"`
	PlanName           string `json:"plan_name,omitempty"`
	Status             string `json:"status"`
	CancelAtPeriodEnd  bool   `json:"cancel_at_period_end"`
	CurrentPeriodStart string `json:"current_period_start"`
	CurrentPeriodEnd   string `json:"current_period_end"`
	Entitled           bool   `json:"entitled"`
	UpdatedAt          string `json:"updated_at"`
}

// RefundInfo 退款记录
type RefundInfo struct {
	ID                string `json:"id"`
	SubscriptionID    string `json:"subscription_id"`
	Amount            int64  `json:"amount"`
	Currency          string `json:"currency"`
	Reason            string `json:"reason"`
	ProcessedBy       int64  `json:"processed_by"`
	ProcessorRefundID string `json:"processor_refund_id,omitempty"`
	ForcedCancel      bool   `json:"forced_cancel"`
	CreatedAt         string `json:"created_at"`
}

// RefundResult 退款接口的返回数据
type RefundResult struct {
	Subscription *SubscriptionInfo `json:"subscription"`
	Refund       *RefundInfo       `json:"refund"`
	Replayed     bool              `json:"replayed,omitempty"`
}

// EventInfo 生命周期事件
type EventInfo struct {
	ID         int64  `json:"id"`
	Action     string `json:"action"`
	FromStatus string `json:"from_status"`
	ToStatus   string `json:"to_status"`
	ActorID    int64  `json:"actor_id"`
	ActorRole  string `json:"actor_role"`
	Detail     string `json:"detail,omitempty"`
	CreatedAt  string `json:"created_at"`
}

// ListSubscriptionsRequest 管理端订阅列表筛选条件
type ListSubscriptionsRequest struct {
	Status   string `form:"status" binding:"omitempty,oneof=ACTIVE CANCELED PAST_DUE"`
	UserID   int64  `form:"user_id" binding:"omitempty,min=1"`
	PlanID   string `form:"plan_id" binding:"omitempty,max=50"`
	Page     int    `form:"page" binding:"omitempty,min=1"`
	PageSize int    `form:"page_size" binding:"omitempty,min=1,max=100"`
}

// PlanInfo 套餐信息
type PlanInfo struct {
	ID            string `json:"id"`
	Name          string `json:"name"`
	Price         int64  `json:"price"`
	Currency      string `json:"currency"`
	BillingCycle  string `json:"billing_cycle"`
	MaxRefundable int64  `json:"max_refundable"`
}

// ValidRefundReason 退款原因去掉首尾空白后 3-500 字符，且不含控制字符
func ValidRefundReason(reason string) bool {
	reason = strings.TrimSpace(reason)
	n := len([]rune(reason))
	if n < 3 || n > 500 {
		return false
	}
	for _, r := range reason {
		if unicode.IsControl(r) {
			return false
		}
	}
	return true
}

func NewSubscriptionInfo(sub *model.Subscription, planName string, now time.Time) *SubscriptionInfo {
	return &SubscriptionInfo{
		ID:                 sub.ID,
		UserID:             sub.UserID,
		PlanID:             sub.PlanID,
		PlanName:           planName,
		Status:             string(sub.Status),
		CancelAtPeriodEnd:  sub.CancelAtPeriodEnd,
		CurrentPeriodStart: sub.CurrentPeriodStart.UTC().Format(time.RFC3339),
		CurrentPeriodEnd:   sub.CurrentPeriodEnd.UTC().Format(time.RFC3339),
		Entitled:           sub.Entitled(now),
		UpdatedAt:          sub.UpdatedAt.UTC().Format(time.RFC3339),
	}
}

func NewRefundInfo(r *model.Refund) *RefundInfo {
	return &RefundInfo{
		ID:                r.ID,
		SubscriptionID:    r.SubscriptionID,
		Amount:            r.Amount,
		Currency:          r.Currency,
		Reason:            r.Reason,
		ProcessedBy:       r.ProcessedBy,
		ProcessorRefundID: r.ProcessorRefundID,
		ForcedCancel:      r.ForcedCancel,
		CreatedAt:         r.CreatedAt.UTC().Format(time.RFC3339),
	}
}

func NewEventInfo(e *model.SubscriptionEvent) *EventInfo {
	return &EventInfo{
		ID:         e.ID,
		Action:     e.Action,
		FromStatus: string(e.FromStatus),
		ToStatus:   string(e.ToStatus),
		ActorID:    e.ActorID,
		ActorRole:  string(e.ActorRole),
		Detail:     e.Detail,
		CreatedAt:  e.CreatedAt.UTC().Format(time.RFC3339),
	}
}

// ListEventsRequest 事件历史查询
type ListEventsRequest struct {
	Limit int `form:"limit" binding:"omitempty,min=1,max=200"`
}

// Package payment talks to the payment provider that owns the money side of a
// subscription. Every lifecycle operation calls the provider before the local
// state is committed.
package payment

import (
	"context"
	"errors"
)

var (
	// ErrNotBound 订阅没有关联的支付方订阅/付款记录
	ErrNotBound = errors.New("subscription is not bound to a payment provider")
	// ErrUnavailable 熔断器打开，暂不调用支付方
	ErrUnavailable = errors.New("payment provider temporarily unavailable")
)

// SubscriptionRef 支付方侧的订阅标识
type SubscriptionRef struct {
	CustomerID     string
	SubscriptionID string
}

// RefundParams 退款参数，金额单位为分
type RefundParams struct {
	Amount             int64
	Currency           string
	Reason             string
	IdempotencyKey     string
	CancelSubscription bool
}

// Processor 支付方客户端
type Processor interface {
	// Cancel 在支付方标记周期末取消
	Cancel(ctx context.Context, ref SubscriptionRef) error
	// Resume 撤销周期末取消
	Resume(ctx context.Context, ref SubscriptionRef) error
	// Refund 退款，返回支付方退款单号
	Refund(ctx context.Context, ref SubscriptionRef, params RefundParams) (string, error)
}
